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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/awslabs/cldc-inflater/compression"
	"github.com/awslabs/cldc-inflater/util/dbutil"
	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/opencontainers/go-digest"
	bolt "go.etcd.io/bbolt"
)

// DB is a bolt-db based catalog of compressed resources. It records where
// each resource's compressed bytes live and how to decode them, in the
// following schema.
//
// - resources
//   - name: <string>                : bucket for each resource keyed by its name.
//   - method: <string>              : compression method ("deflate" or "stored").
//   - location: <string>            : archive file holding the bytes, empty for resident resources.
//   - offset: <varint>              : offset of the compressed bytes in the archive file.
//   - compressed_size: <varint>     : size of the compressed bytes.
//   - uncompressed_size: <varint>   : size of the decoded resource.
//   - crc32: <uint32>               : CRC-32 of the decoded resource.
//   - resident: <byte>              : 1 if the compressed bytes are stored inline.
//   - data: <bytes>                 : the compressed bytes of a resident resource.
//   - digest: <string>              : digest of the compressed bytes.
//   - created_at: <time>            : when the entry was added.
type DB struct {
	db *bolt.DB
}

// Entry describes one resource.
type Entry struct {
	Name             string
	Method           string
	Location         string
	Offset           int64
	CompressedSize   int64
	UncompressedSize int64
	CRC32            uint32
	// Resident resources live in the catalog itself, like classes in a ROM
	// image. Their Data is read in place and carries no usable CRC-32.
	Resident  bool
	Data      []byte
	Digest    digest.Digest
	CreatedAt time.Time
}

// WalkFn is called for every entry of the catalog.
type WalkFn func(*Entry) error

var (
	bucketKeyResources        = []byte("resources")
	bucketKeyMethod           = []byte("method")
	bucketKeyLocation         = []byte("location")
	bucketKeyOffset           = []byte("offset")
	bucketKeyCompressedSize   = []byte("compressed_size")
	bucketKeyUncompressedSize = []byte("uncompressed_size")
	bucketKeyCRC32            = []byte("crc32")
	bucketKeyResident         = []byte("resident")
	bucketKeyData             = []byte("data")
	bucketKeyDigest           = []byte("digest")
	bucketKeyCreatedAt        = []byte("created_at")

	errResourcesBucketNotFound = fmt.Errorf("resources bucket not found: %w", errdefs.ErrNotFound)
)

// Open opens the catalog at path, creating it if needed.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}
	database, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog %q: %w", path, err)
	}
	return &DB{db: database}, nil
}

// Close closes the catalog.
func (db *DB) Close() error {
	return db.db.Close()
}

// Put adds a new entry. Names are unique: adding a name that is already in
// the catalog fails with errdefs.ErrAlreadyExists.
func (db *DB) Put(ctx context.Context, entry *Entry) error {
	if err := validate(entry); err != nil {
		return err
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	err := db.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucketKeyResources)
		if err != nil {
			return err
		}
		if bucket.Bucket([]byte(entry.Name)) != nil {
			return fmt.Errorf("resource %q: %w", entry.Name, errdefs.ErrAlreadyExists)
		}
		return putEntry(bucket, entry)
	})
	if err != nil {
		return err
	}
	log.G(ctx).WithField("resource", entry.Name).WithField("method", entry.Method).Debug("added resource to catalog")
	return nil
}

// Get returns the entry called name, or an error wrapping
// errdefs.ErrNotFound.
func (db *DB) Get(ctx context.Context, name string) (*Entry, error) {
	var entry *Entry
	err := db.db.View(func(tx *bolt.Tx) error {
		bucket, err := getResourcesBucket(tx)
		if err != nil {
			return err
		}
		entryBkt := bucket.Bucket([]byte(name))
		if entryBkt == nil {
			return fmt.Errorf("couldn't retrieve resource %s, %w", name, errdefs.ErrNotFound)
		}
		entry, err = loadEntry(entryBkt, name)
		return err
	})
	return entry, err
}

// Remove deletes the entry called name.
func (db *DB) Remove(ctx context.Context, name string) error {
	err := db.db.Update(func(tx *bolt.Tx) error {
		bucket, err := getResourcesBucket(tx)
		if err != nil {
			return err
		}
		if bucket.Bucket([]byte(name)) == nil {
			return fmt.Errorf("couldn't remove resource %s, %w", name, errdefs.ErrNotFound)
		}
		return bucket.DeleteBucket([]byte(name))
	})
	if err != nil {
		return err
	}
	log.G(ctx).WithField("resource", name).Debug("removed resource from catalog")
	return nil
}

// Walk calls walkFn for every entry in name order. An empty catalog is
// not an error.
func (db *DB) Walk(ctx context.Context, walkFn WalkFn) error {
	err := db.db.View(func(tx *bolt.Tx) error {
		bucket, err := getResourcesBucket(tx)
		if err != nil {
			return err
		}
		return bucket.ForEachBucket(func(k []byte) error {
			entry, err := loadEntry(bucket.Bucket(k), string(k))
			if err != nil {
				return err
			}
			return walkFn(entry)
		})
	})
	if errors.Is(err, errResourcesBucketNotFound) {
		return nil
	}
	return err
}

func validate(e *Entry) error {
	if e == nil {
		return fmt.Errorf("no entry to write: %w", errdefs.ErrInvalidArgument)
	}
	if e.Name == "" {
		return fmt.Errorf("resource name is empty: %w", errdefs.ErrInvalidArgument)
	}
	switch e.Method {
	case compression.Deflate, compression.Stored:
	default:
		return fmt.Errorf("resource %q: unknown compression method %q: %w", e.Name, e.Method, errdefs.ErrInvalidArgument)
	}
	if e.CompressedSize < 0 || e.UncompressedSize < 0 || e.Offset < 0 {
		return fmt.Errorf("resource %q: negative size or offset: %w", e.Name, errdefs.ErrInvalidArgument)
	}
	if e.Resident {
		if int64(len(e.Data)) != e.CompressedSize {
			return fmt.Errorf("resource %q: %d resident bytes, compressed size %d: %w", e.Name, len(e.Data), e.CompressedSize, errdefs.ErrInvalidArgument)
		}
	} else if e.Location == "" {
		return fmt.Errorf("resource %q: no location for a non-resident resource: %w", e.Name, errdefs.ErrInvalidArgument)
	}
	if e.Digest != "" {
		if err := e.Digest.Validate(); err != nil {
			return fmt.Errorf("resource %q: %w: %w", e.Name, err, errdefs.ErrInvalidArgument)
		}
	}
	return nil
}

func getResourcesBucket(tx *bolt.Tx) (*bolt.Bucket, error) {
	resources := tx.Bucket(bucketKeyResources)
	if resources == nil {
		return nil, errResourcesBucketNotFound
	}
	return resources, nil
}

func loadEntry(entryBkt *bolt.Bucket, name string) (*Entry, error) {
	e := Entry{Name: name}
	var err error
	for _, field := range []struct {
		key []byte
		dst *int64
	}{
		{bucketKeyOffset, &e.Offset},
		{bucketKeyCompressedSize, &e.CompressedSize},
		{bucketKeyUncompressedSize, &e.UncompressedSize},
	} {
		if *field.dst, err = dbutil.DecodeInt(entryBkt.Get(field.key)); err != nil {
			return nil, fmt.Errorf("resource %q: bad %s: %w", name, field.key, err)
		}
	}
	if e.CRC32, err = dbutil.DecodeUint32(entryBkt.Get(bucketKeyCRC32)); err != nil {
		return nil, fmt.Errorf("resource %q: bad crc32: %w", name, err)
	}

	createdAtBytes := entryBkt.Get(bucketKeyCreatedAt)
	if createdAtBytes != nil {
		if err := e.CreatedAt.UnmarshalBinary(createdAtBytes); err != nil {
			return nil, fmt.Errorf("cannot unmarshal CreatedAt time: %w", err)
		}
	}
	e.Method = string(entryBkt.Get(bucketKeyMethod))
	e.Location = string(entryBkt.Get(bucketKeyLocation))
	resident := entryBkt.Get(bucketKeyResident)
	e.Resident = len(resident) == 1 && resident[0] == 1
	e.Digest = digest.Digest(entryBkt.Get(bucketKeyDigest))
	if e.Resident {
		// Values are only valid for the life of the transaction.
		e.Data = append([]byte(nil), entryBkt.Get(bucketKeyData)...)
	}
	return &e, nil
}

type keyValue struct {
	key []byte
	val []byte
}

func putEntry(resources *bolt.Bucket, e *Entry) error {
	entryBkt, err := resources.CreateBucket([]byte(e.Name))
	if err != nil {
		return err
	}

	createdAt, err := e.CreatedAt.MarshalBinary()
	if err != nil {
		return err
	}
	updates := []keyValue{
		{bucketKeyMethod, []byte(e.Method)},
		{bucketKeyLocation, []byte(e.Location)},
		{bucketKeyCRC32, dbutil.EncodeUint32(e.CRC32)},
		{bucketKeyDigest, []byte(e.Digest)},
		{bucketKeyCreatedAt, createdAt},
	}
	for _, v := range []struct {
		key []byte
		val int64
	}{
		{bucketKeyOffset, e.Offset},
		{bucketKeyCompressedSize, e.CompressedSize},
		{bucketKeyUncompressedSize, e.UncompressedSize},
	} {
		enc, err := dbutil.EncodeInt(v.val)
		if err != nil {
			return err
		}
		updates = append(updates, keyValue{v.key, enc})
	}
	if e.Resident {
		updates = append(updates, keyValue{bucketKeyResident, []byte{1}}, keyValue{bucketKeyData, e.Data})
	}

	for _, update := range updates {
		if err := entryBkt.Put(update.key, update.val); err != nil {
			return err
		}
	}
	return nil
}
