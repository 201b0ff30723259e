/*
   Copyright The Soci Snapshotter Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/awslabs/cldc-inflater/compression"
	"github.com/containerd/errdefs"
	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	data := []byte{0x4b, 0x4c, 0x4a, 0x06, 0x00}
	createdAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	entries := []*Entry{
		{
			Name:             "java/lang/Object.class",
			Method:           compression.Deflate,
			Location:         "/opt/jdk/lib/classes.jar",
			Offset:           4096,
			CompressedSize:   1200,
			UncompressedSize: 1900,
			CRC32:            0xdeadbeef,
			Digest:           digest.FromString("object"),
			CreatedAt:        createdAt,
		},
		{
			Name:             "rom/abc",
			Method:           compression.Deflate,
			CompressedSize:   int64(len(data)),
			UncompressedSize: 3,
			Resident:         true,
			Data:             data,
			Digest:           digest.FromBytes(data),
			CreatedAt:        createdAt,
		},
		{
			Name:             "META-INF/MANIFEST.MF",
			Method:           compression.Stored,
			Location:         "/opt/jdk/lib/classes.jar",
			CompressedSize:   0,
			UncompressedSize: 0,
			CreatedAt:        createdAt,
		},
	}
	for _, e := range entries {
		require.NoError(t, db.Put(ctx, e))
	}
	for _, want := range entries {
		got, err := db.Get(ctx, want.Name)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestPutDefaultsCreatedAt(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	e := &Entry{Name: "a", Method: compression.Stored, Location: "/x"}
	require.NoError(t, db.Put(ctx, e))
	got, err := db.Get(ctx, "a")
	require.NoError(t, err)
	require.False(t, got.CreatedAt.IsZero())
	require.True(t, got.CreatedAt.Equal(e.CreatedAt))
}

func TestPutRejects(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	require.NoError(t, db.Put(ctx, &Entry{Name: "dup", Method: compression.Deflate, Location: "/x"}))

	tests := []struct {
		name  string
		entry *Entry
		check func(error) bool
	}{
		{"nil entry", nil, errdefs.IsInvalidArgument},
		{"no name", &Entry{Method: compression.Deflate, Location: "/x"}, errdefs.IsInvalidArgument},
		{"unknown method", &Entry{Name: "m", Method: "bzip2", Location: "/x"}, errdefs.IsInvalidArgument},
		{"negative size", &Entry{Name: "n", Method: compression.Deflate, Location: "/x", CompressedSize: -1}, errdefs.IsInvalidArgument},
		{"no location", &Entry{Name: "l", Method: compression.Deflate}, errdefs.IsInvalidArgument},
		{"resident size", &Entry{Name: "r", Method: compression.Deflate, Resident: true, Data: []byte{1}, CompressedSize: 2}, errdefs.IsInvalidArgument},
		{"bad digest", &Entry{Name: "d", Method: compression.Deflate, Location: "/x", Digest: "sha256:nope"}, errdefs.IsInvalidArgument},
		{"duplicate", &Entry{Name: "dup", Method: compression.Stored, Location: "/y"}, errdefs.IsAlreadyExists},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := db.Put(ctx, tc.entry)
			require.Error(t, err)
			require.True(t, tc.check(err), "unexpected error class: %v", err)
		})
	}
}

func TestGetRemoveNotFound(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	_, err := db.Get(ctx, "missing")
	require.True(t, errdefs.IsNotFound(err), "empty catalog: %v", err)

	require.NoError(t, db.Put(ctx, &Entry{Name: "present", Method: compression.Deflate, Location: "/x"}))
	_, err = db.Get(ctx, "missing")
	require.True(t, errdefs.IsNotFound(err), "missing entry: %v", err)

	require.NoError(t, db.Remove(ctx, "present"))
	_, err = db.Get(ctx, "present")
	require.True(t, errdefs.IsNotFound(err), "removed entry: %v", err)
	require.True(t, errdefs.IsNotFound(db.Remove(ctx, "present")))
}

func TestWalk(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	var names []string
	require.NoError(t, db.Walk(ctx, func(e *Entry) error {
		names = append(names, e.Name)
		return nil
	}))
	require.Empty(t, names)

	for _, name := range []string{"c", "a", "b"} {
		require.NoError(t, db.Put(ctx, &Entry{Name: name, Method: compression.Deflate, Location: "/x"}))
	}
	require.NoError(t, db.Walk(ctx, func(e *Entry) error {
		names = append(names, e.Name)
		return nil
	}))
	require.Equal(t, []string{"a", "b", "c"}, names)

	stop := errdefs.ErrAborted
	err := db.Walk(ctx, func(e *Entry) error { return stop })
	require.ErrorIs(t, err, stop)
}
