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
	"fmt"
	"hash/crc32"
	"io"
	"time"

	"github.com/awslabs/cldc-inflater/compression/inflate"
	"github.com/containerd/errdefs"
)

// Source describes one compressed resource. Exactly one of Reader and Data
// is set: Reader streams the compressed bytes from an archive file, Data
// holds them in memory for a ROM-resident resource. Resident data carries
// no checksum, so CRC32 is only checked for Reader sources.
type Source struct {
	Reader           io.Reader
	Data             []byte
	CompressedSize   Offset
	UncompressedSize Offset
	CRC32            uint32
}

func (src Source) resident() bool { return src.Reader == nil }

// Extractor decodes resources stored with one compression method.
// Different methods implement this interface, so there is a deflate
// extractor and a stored extractor.
type Extractor interface {
	// Extract decodes the whole resource into a buffer of exactly
	// UncompressedSize bytes.
	Extract(src Source) ([]byte, error)
	// Stream returns a reader over the decoded resource that holds only a
	// bounded window of output in memory. A negative UncompressedSize means
	// the size is unknown.
	Stream(src Source) (io.ReadCloser, error)
}

// Session modes reported to a SessionObserver.
const (
	ModeOneShot     = "one_shot"
	ModeIncremental = "incremental"
)

// SessionObserver is told about every finished DEFLATE session: its mode,
// its work counters, when it started and the error it ended with, if any.
type SessionObserver func(mode string, st inflate.Stats, start time.Time, err error)

// NewExtractor returns an Extractor for a specific compression method.
// observe may be nil. The options configure the DEFLATE sessions the
// extractor opens.
func NewExtractor(method string, observe SessionObserver, opts ...inflate.Option) (Extractor, error) {
	switch method {
	case Deflate:
		if observe == nil {
			observe = func(string, inflate.Stats, time.Time, error) {}
		}
		return &deflateExtractor{observe: observe, opts: opts}, nil
	case Stored:
		return storedExtractor{}, nil
	default:
		return nil, fmt.Errorf("unexpected compression method %q: %w", method, errdefs.ErrNotImplemented)
	}
}

type deflateExtractor struct {
	observe SessionObserver
	opts    []inflate.Option
}

func (e *deflateExtractor) open(src Source, incremental bool) (*inflate.Session, error) {
	if src.resident() {
		return inflate.OpenResident(src.Data, int64(src.UncompressedSize), incremental, e.opts...)
	}
	return inflate.Open(src.Reader, int64(src.CompressedSize), int64(src.UncompressedSize), src.CRC32, incremental, e.opts...)
}

func (e *deflateExtractor) Extract(src Source) ([]byte, error) {
	start := time.Now()
	s, err := e.open(src, false)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	out, err := s.DecodeCompletely()
	e.observe(ModeOneShot, s.Stats(), start, err)
	return out, err
}

func (e *deflateExtractor) Stream(src Source) (io.ReadCloser, error) {
	start := time.Now()
	s, err := e.open(src, true)
	if err != nil {
		return nil, err
	}
	return &sessionReader{Session: s, start: start, observe: e.observe}, nil
}

// sessionReader adapts an incremental session to io.ReadCloser and reports
// it to the observer when closed.
type sessionReader struct {
	*inflate.Session
	start   time.Time
	observe SessionObserver
	err     error
}

func (r *sessionReader) Read(p []byte) (int, error) {
	n, err := r.Session.Read(p)
	if err != nil && err != io.EOF {
		r.err = err
	}
	return n, err
}

func (r *sessionReader) Close() error {
	st := r.Stats()
	r.Session.Close()
	if r.observe != nil {
		r.observe(ModeIncremental, st, r.start, r.err)
		r.observe = nil
	}
	return nil
}

type storedExtractor struct{}

func checkStoredSizes(src Source) error {
	if src.CompressedSize != src.UncompressedSize {
		return &inflate.Error{Kind: inflate.SizeMismatch,
			Err: fmt.Errorf("stored resource of %d bytes declares %d uncompressed bytes", src.CompressedSize, src.UncompressedSize)}
	}
	if src.resident() && Offset(len(src.Data)) != src.UncompressedSize {
		return &inflate.Error{Kind: inflate.SizeMismatch,
			Err: fmt.Errorf("resident data holds %d bytes, expected %d", len(src.Data), src.UncompressedSize)}
	}
	return nil
}

func (storedExtractor) Extract(src Source) ([]byte, error) {
	if err := checkStoredSizes(src); err != nil {
		return nil, err
	}
	if src.resident() {
		return append([]byte(nil), src.Data...), nil
	}
	buf := make([]byte, src.UncompressedSize)
	n, err := io.ReadFull(src.Reader, buf)
	if err != nil {
		return nil, &inflate.Error{Kind: inflate.TruncatedInput, Offset: int64(n), Err: err}
	}
	if sum := crc32.ChecksumIEEE(buf); sum != src.CRC32 {
		return nil, &inflate.Error{Kind: inflate.ChecksumMismatch, Offset: int64(n),
			Err: fmt.Errorf("got %#08x, expected %#08x", sum, src.CRC32)}
	}
	return buf, nil
}

func (storedExtractor) Stream(src Source) (io.ReadCloser, error) {
	if err := checkStoredSizes(src); err != nil {
		return nil, err
	}
	if src.resident() {
		return io.NopCloser(bytes.NewReader(src.Data)), nil
	}
	return &checkedReader{
		r:    io.LimitReader(src.Reader, int64(src.CompressedSize)),
		size: int64(src.CompressedSize),
		want: src.CRC32,
	}, nil
}

// checkedReader passes stored bytes through and checks their size and
// CRC-32 at the end.
type checkedReader struct {
	r    io.Reader
	size int64
	n    int64
	crc  uint32
	want uint32
}

func (c *checkedReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.crc = crc32.Update(c.crc, crc32.IEEETable, p[:n])
	c.n += int64(n)
	if err == io.EOF {
		if c.n != c.size {
			return n, &inflate.Error{Kind: inflate.TruncatedInput, Offset: c.n, Err: io.ErrUnexpectedEOF}
		}
		if c.crc != c.want {
			return n, &inflate.Error{Kind: inflate.ChecksumMismatch, Offset: c.n,
				Err: fmt.Errorf("got %#08x, expected %#08x", c.crc, c.want)}
		}
	}
	return n, err
}

func (c *checkedReader) Close() error { return nil }
