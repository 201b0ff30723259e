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

package compression

import (
	"bytes"
	"errors"
	"hash/crc32"
	"io"
	"testing"
	"time"

	"github.com/awslabs/cldc-inflater/compression/inflate"
	"github.com/awslabs/cldc-inflater/util/testutil"
	"github.com/containerd/errdefs"
)

func TestNewExtractor(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		method      string
		expectError bool
	}{
		{method: Deflate},
		{method: Stored},
		{method: "unknown", expectError: true},
		{method: "zstd", expectError: true},
	}
	for _, tc := range testCases {
		_, err := NewExtractor(tc.method, nil)
		if tc.expectError != (err != nil) {
			t.Fatalf("method %q: expectError=%v, got %v", tc.method, tc.expectError, err)
		}
		if err != nil && !errdefs.IsNotImplemented(err) {
			t.Fatalf("method %q: unexpected error class: %v", tc.method, err)
		}
	}
}

func TestExtract(t *testing.T) {
	t.Parallel()
	r := testutil.NewTestRand(t)
	data := r.CompressibleData(80000)
	crc := crc32.ChecksumIEEE(data)
	deflated := testutil.Deflate(t, data, testutil.DefaultCompression)

	testCases := []struct {
		name   string
		method string
		src    Source
	}{
		{
			name:   "deflate from reader",
			method: Deflate,
			src:    Source{Reader: bytes.NewReader(deflated), CompressedSize: Offset(len(deflated)), UncompressedSize: Offset(len(data)), CRC32: crc},
		},
		{
			name:   "deflate resident",
			method: Deflate,
			src:    Source{Data: deflated, CompressedSize: Offset(len(deflated)), UncompressedSize: Offset(len(data))},
		},
		{
			name:   "stored from reader",
			method: Stored,
			src:    Source{Reader: bytes.NewReader(data), CompressedSize: Offset(len(data)), UncompressedSize: Offset(len(data)), CRC32: crc},
		},
		{
			name:   "stored resident",
			method: Stored,
			src:    Source{Data: data, CompressedSize: Offset(len(data)), UncompressedSize: Offset(len(data))},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e, err := NewExtractor(tc.method, nil, inflate.WithInputChunkSize(1000))
			if err != nil {
				t.Fatal(err)
			}
			got, err := e.Extract(tc.src)
			if err != nil {
				t.Fatalf("failed to extract: %v", err)
			}
			if !bytes.Equal(got, data) {
				t.Fatal("extracted data differs")
			}
		})
	}
}

func TestStream(t *testing.T) {
	t.Parallel()
	r := testutil.NewTestRand(t)
	data := r.CompressibleData(120000)
	crc := crc32.ChecksumIEEE(data)
	deflated := testutil.Deflate(t, data, testutil.BestCompression)

	testCases := []struct {
		name   string
		method string
		src    Source
	}{
		{
			name:   "deflate unknown size",
			method: Deflate,
			src:    Source{Reader: bytes.NewReader(deflated), CompressedSize: Offset(len(deflated)), UncompressedSize: -1, CRC32: crc},
		},
		{
			name:   "deflate resident",
			method: Deflate,
			src:    Source{Data: deflated, CompressedSize: Offset(len(deflated)), UncompressedSize: Offset(len(data))},
		},
		{
			name:   "stored from reader",
			method: Stored,
			src:    Source{Reader: bytes.NewReader(data), CompressedSize: Offset(len(data)), UncompressedSize: Offset(len(data)), CRC32: crc},
		},
		{
			name:   "stored resident",
			method: Stored,
			src:    Source{Data: data, CompressedSize: Offset(len(data)), UncompressedSize: Offset(len(data))},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e, err := NewExtractor(tc.method, nil)
			if err != nil {
				t.Fatal(err)
			}
			rc, err := e.Stream(tc.src)
			if err != nil {
				t.Fatal(err)
			}
			defer rc.Close()
			got, err := io.ReadAll(rc)
			if err != nil {
				t.Fatalf("failed to stream: %v", err)
			}
			if !bytes.Equal(got, data) {
				t.Fatal("streamed data differs")
			}
		})
	}
}

func TestStoredChecks(t *testing.T) {
	t.Parallel()
	data := []byte("class file bytes")
	crc := crc32.ChecksumIEEE(data)
	e, err := NewExtractor(Stored, nil)
	if err != nil {
		t.Fatal(err)
	}

	testCases := []struct {
		name string
		src  Source
		kind inflate.Kind
	}{
		{
			name: "sizes disagree",
			src:  Source{Reader: bytes.NewReader(data), CompressedSize: Offset(len(data)), UncompressedSize: 3, CRC32: crc},
			kind: inflate.SizeMismatch,
		},
		{
			name: "bad checksum",
			src:  Source{Reader: bytes.NewReader(data), CompressedSize: Offset(len(data)), UncompressedSize: Offset(len(data)), CRC32: crc + 1},
			kind: inflate.ChecksumMismatch,
		},
		{
			name: "short reader",
			src:  Source{Reader: bytes.NewReader(data[:4]), CompressedSize: Offset(len(data)), UncompressedSize: Offset(len(data)), CRC32: crc},
			kind: inflate.TruncatedInput,
		},
		{
			name: "resident size",
			src:  Source{Data: data[:4], CompressedSize: Offset(len(data)), UncompressedSize: Offset(len(data))},
			kind: inflate.SizeMismatch,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.Extract(tc.src)
			if inflate.KindOf(err) != tc.kind {
				t.Fatalf("extract: got %v, want kind %q", err, tc.kind)
			}
		})
	}

	rc, err := e.Stream(Source{Reader: bytes.NewReader(data), CompressedSize: Offset(len(data)), UncompressedSize: Offset(len(data)), CRC32: crc + 1})
	if err != nil {
		t.Fatal(err)
	}
	_, err = io.ReadAll(rc)
	if !errors.Is(err, inflate.ErrChecksumMismatch) {
		t.Fatalf("stream with a bad checksum: got %v", err)
	}
}

func TestSessionObserver(t *testing.T) {
	t.Parallel()
	r := testutil.NewTestRand(t)
	data := r.CompressibleData(5000)
	deflated := testutil.Deflate(t, data, testutil.BestSpeed)
	src := func() Source {
		return Source{Reader: bytes.NewReader(deflated), CompressedSize: Offset(len(deflated)),
			UncompressedSize: Offset(len(data)), CRC32: crc32.ChecksumIEEE(data)}
	}

	type observation struct {
		mode string
		st   inflate.Stats
		err  error
	}
	var seen []observation
	observe := func(mode string, st inflate.Stats, _ time.Time, err error) {
		seen = append(seen, observation{mode, st, err})
	}
	e, err := NewExtractor(Deflate, observe)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Extract(src()); err != nil {
		t.Fatal(err)
	}
	rc, err := e.Stream(src())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.Copy(io.Discard, rc); err != nil {
		t.Fatal(err)
	}
	rc.Close()
	rc.Close()

	if len(seen) != 2 {
		t.Fatalf("observed %d sessions, want 2", len(seen))
	}
	for i, mode := range []string{ModeOneShot, ModeIncremental} {
		o := seen[i]
		if o.mode != mode || o.err != nil {
			t.Fatalf("session %d: mode %q, err %v", i, o.mode, o.err)
		}
		if o.st.TotalOut != int64(len(data)) || o.st.CompressedConsumed != int64(len(deflated)) {
			t.Fatalf("session %d: unexpected stats %+v", i, o.st)
		}
	}
}
