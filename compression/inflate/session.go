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

// Package inflate implements a resumable DEFLATE (RFC 1951) decoder that
// works inside caller-supplied, replaceable buffers.
//
// A Session decodes one compressed stream either in one shot, into an
// output buffer reserved for the whole uncompressed size, or incrementally
// through a bounded output window that is recycled while keeping the last
// 32 KiB of history. Decoding advances in bounded steps; between steps the
// session holds only offsets into its buffers, so the Allocator is free to
// hand out new buffers and reclaim old ones.
package inflate

import (
	"fmt"
	"hash/crc32"
	"io"

	"github.com/containerd/errdefs"
)

const (
	// DefaultInputChunkSize is how many compressed bytes a refill reads
	// from the byte source.
	DefaultInputChunkSize = 4 << 10
	// DefaultOutputLimit is the output buffer capacity of an incremental
	// session.
	DefaultOutputLimit = 2 * DictionarySize
	// DefaultStepQuantum bounds the output a single Step produces.
	DefaultStepQuantum = 16 << 10

	// minOutputSlack is the least room an incremental output buffer keeps
	// beyond the preserved history.
	minOutputSlack = 1 << 10
)

// Status is the outcome of a Step.
type Status int

const (
	// More means the stream is not finished; call Step (or Read) again.
	More Status = iota
	// Complete means the final block has been decoded.
	Complete
	// Failed means the step returned an error; the session is unusable.
	Failed
	// OutputFull means an incremental session's output window holds only
	// undelivered bytes. Step makes no progress until Read or Discard
	// consumes them.
	OutputFull
)

func (s Status) String() string {
	switch s {
	case More:
		return "more"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	case OutputFull:
		return "output full"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

type options struct {
	alloc     Allocator
	chunk     int
	outLimit  int
	quickBits int
	quantum   int
}

// Option configures a Session.
type Option func(*options)

// WithAllocator sets the allocator for input and output buffers.
func WithAllocator(a Allocator) Option {
	return func(o *options) { o.alloc = a }
}

// WithInputChunkSize sets how many compressed bytes each refill reads.
func WithInputChunkSize(n int) Option {
	return func(o *options) { o.chunk = n }
}

// WithOutputLimit sets the output buffer capacity of incremental sessions.
// Values too small to hold the 32 KiB window plus working room are raised.
func WithOutputLimit(n int) Option {
	return func(o *options) { o.outLimit = n }
}

// WithQuickBits pins the main-table width of dynamic Huffman tables.
// Zero selects the smallest table footprint.
func WithQuickBits(n int) Option {
	return func(o *options) { o.quickBits = n }
}

// WithStepQuantum bounds the output bytes produced by one Step.
func WithStepQuantum(n int) Option {
	return func(o *options) { o.quantum = n }
}

// Session is the decoding state of one compressed stream. A Session is not
// safe for concurrent use.
type Session struct {
	src       io.Reader // nil when the whole stream is resident
	totalSize int64
	remaining int64 // compressed bytes not yet read from src
	loaded    int64 // compressed bytes moved into input buffers so far

	in    []byte
	ownIn bool
	cur   bitCursor

	out       []byte
	outOff    int // next byte of out to write
	outDumped int // out[:outDumped] has been delivered by Read
	outLimit  int

	blk blockDecoder

	uncompressedSize int64 // -1 if unknown
	expectedCRC      uint32
	verifyCRC        bool
	crc              uint32 // running CRC-32 of delivered output
	incremental      bool

	alloc     Allocator
	chunk     int
	quickBits int
	quantum   int

	stats  Stats
	err    error
	closed bool
}

// Open starts decoding compressedSize bytes of DEFLATE data read from src.
// A one-shot session needs uncompressedSize to reserve its output buffer;
// an incremental session accepts -1 for an unknown size. The decoded output
// is checked against expectedCRC.
func Open(src io.Reader, compressedSize, uncompressedSize int64, expectedCRC uint32, incremental bool, opts ...Option) (*Session, error) {
	if src == nil {
		return nil, fmt.Errorf("inflate: nil byte source: %w", errdefs.ErrInvalidArgument)
	}
	if compressedSize < 0 {
		return nil, fmt.Errorf("inflate: invalid compressed size %d: %w", compressedSize, errdefs.ErrInvalidArgument)
	}
	s, err := newSession(uncompressedSize, incremental, opts)
	if err != nil {
		return nil, err
	}
	s.src = src
	s.totalSize = compressedSize
	s.remaining = compressedSize
	s.ownIn = true
	s.expectedCRC = expectedCRC
	s.verifyCRC = true
	return s, nil
}

// OpenResident starts decoding DEFLATE data that is already fully in
// memory, such as a resource embedded in a ROM image. The data is read in
// place and never released to the allocator. Resident data carries no
// checksum, so none is verified.
func OpenResident(data []byte, uncompressedSize int64, incremental bool, opts ...Option) (*Session, error) {
	s, err := newSession(uncompressedSize, incremental, opts)
	if err != nil {
		return nil, err
	}
	s.in = data
	s.totalSize = int64(len(data))
	s.loaded = int64(len(data))
	return s, nil
}

func newSession(uncompressedSize int64, incremental bool, opts []Option) (*Session, error) {
	o := options{
		alloc:    HeapAllocator{},
		chunk:    DefaultInputChunkSize,
		outLimit: DefaultOutputLimit,
		quantum:  DefaultStepQuantum,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.alloc == nil {
		o.alloc = HeapAllocator{}
	}
	if o.chunk <= 0 {
		o.chunk = DefaultInputChunkSize
	}
	if o.quantum <= 0 {
		o.quantum = DefaultStepQuantum
	}
	if uncompressedSize < 0 {
		if !incremental {
			return nil, fmt.Errorf("inflate: one-shot decoding needs the uncompressed size: %w", errdefs.ErrInvalidArgument)
		}
		uncompressedSize = -1
	}

	s := &Session{
		uncompressedSize: uncompressedSize,
		incremental:      incremental,
		alloc:            o.alloc,
		chunk:            o.chunk,
		quickBits:        o.quickBits,
		quantum:          o.quantum,
	}
	if incremental {
		s.outLimit = o.outLimit
		if s.outLimit < DictionarySize+minOutputSlack {
			s.outLimit = DictionarySize + minOutputSlack
		}
	} else {
		s.outLimit = int(uncompressedSize)
	}
	return s, nil
}

// Step advances decoding by one bounded unit of work: a block header, or
// up to the step quantum of block payload, or the rest of the current
// block. It returns Complete once the final block has been decoded. Errors
// are terminal; every later call returns the same error.
//
// In incremental mode Step reports OutputFull without progress while the
// output window is full of bytes not yet delivered by Read or Discard. Once
// they are consumed the next Step recycles the window.
func (s *Session) Step() (Status, error) {
	if s.closed {
		return Failed, ErrClosed
	}
	if s.err != nil {
		return Failed, s.err
	}
	if s.blk.state == stateDone {
		return Complete, nil
	}
	if !s.prepareOutput() {
		return OutputFull, nil
	}
	if err := s.decodeStep(); err != nil {
		s.err = err
		return Failed, err
	}
	if s.blk.state == stateDone {
		return Complete, nil
	}
	return More, nil
}

// prepareOutput makes sure there is an output buffer with room to write.
// It returns false if the incremental window is full of undelivered bytes.
func (s *Session) prepareOutput() bool {
	if s.out == nil {
		s.out = s.alloc.Allocate(s.outLimit)
		s.stats.OutputAllocations++
		return true
	}
	if !s.incremental || s.outOff < len(s.out) {
		return true
	}
	if s.outDumped < s.outOff {
		return false
	}
	s.recycleOutput()
	return true
}

// recycleOutput replaces a full output buffer with a fresh one of the same
// capacity that starts with the last DictionarySize bytes of history.
func (s *Session) recycleOutput() {
	keep := DictionarySize
	if keep > s.outOff {
		keep = s.outOff
	}
	buf := s.alloc.Allocate(len(s.out))
	s.stats.OutputAllocations++
	copy(buf, s.out[s.outOff-keep:s.outOff])
	s.alloc.Release(s.out)
	s.out = buf
	s.outOff = keep
	s.outDumped = keep
}

// Read delivers decoded bytes, stepping the decoder as needed. It returns
// io.EOF once the stream is complete and fully delivered, and the session's
// error once decoding has failed.
func (s *Session) Read(p []byte) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	total := 0
	for total < len(p) {
		if s.outDumped < s.outOff {
			n := copy(p[total:], s.out[s.outDumped:s.outOff])
			s.crc = crc32.Update(s.crc, crc32.IEEETable, p[total:total+n])
			s.outDumped += n
			total += n
			continue
		}
		if s.err != nil || s.blk.state == stateDone {
			break
		}
		if _, err := s.Step(); err != nil {
			break
		}
	}
	if total > 0 {
		return total, nil
	}
	if s.err != nil {
		return 0, s.err
	}
	if len(p) == 0 {
		return 0, nil
	}
	if err := s.verify(s.crc); err != nil {
		s.err = err
		return 0, err
	}
	return 0, io.EOF
}

// Discard consumes up to n decoded bytes without copying them out and
// returns the number consumed. Discarded bytes still count towards the
// checksum that Read verifies at the end of the stream.
func (s *Session) Discard(n int) int {
	if s.closed || n <= 0 {
		return 0
	}
	n = min(n, s.outOff-s.outDumped)
	s.crc = crc32.Update(s.crc, crc32.IEEETable, s.out[s.outDumped:s.outDumped+n])
	s.outDumped += n
	return n
}

// DecodeCompletely decodes the whole stream into an output buffer reserved
// for the declared uncompressed size and verifies its CRC-32 when the data
// came from a byte source. The returned slice is owned by the caller; the
// session keeps no reference to it.
func (s *Session) DecodeCompletely() ([]byte, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.incremental {
		return nil, fmt.Errorf("inflate: one-shot decode of an incremental session: %w", errdefs.ErrFailedPrecondition)
	}
	for {
		st, err := s.Step()
		if err != nil {
			return nil, err
		}
		if st == Complete {
			break
		}
	}
	out := s.out[:s.outOff]
	var sum uint32
	if s.verifyCRC {
		sum = crc32.ChecksumIEEE(out)
	}
	if err := s.verify(sum); err != nil {
		s.err = err
		return nil, err
	}
	s.out, s.outOff, s.outDumped = nil, 0, 0
	return out, nil
}

// verify checks a finished stream against the declared size and, for byte
// source sessions, the expected checksum.
func (s *Session) verify(sum uint32) error {
	if s.uncompressedSize >= 0 && s.stats.TotalOut != s.uncompressedSize {
		return s.fail(SizeMismatch, fmt.Errorf("decoded %d bytes, expected %d", s.stats.TotalOut, s.uncompressedSize))
	}
	if s.verifyCRC && sum != s.expectedCRC {
		return s.fail(ChecksumMismatch, fmt.Errorf("got %#08x, expected %#08x", sum, s.expectedCRC))
	}
	return nil
}

// Close releases the session's buffers. The session cannot be used
// afterwards.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.stats.CompressedConsumed = s.CompressedConsumed()
	s.closed = true
	if s.ownIn && s.in != nil {
		s.alloc.Release(s.in)
	}
	if s.out != nil {
		s.alloc.Release(s.out)
	}
	s.in, s.out = nil, nil
	s.blk = blockDecoder{state: s.blk.state}
}

// Incremental reports whether the session decodes through a bounded,
// recycled output window.
func (s *Session) Incremental() bool { return s.incremental }

// Buffered returns the number of decoded bytes Read has not delivered yet.
func (s *Session) Buffered() int { return s.outOff - s.outDumped }

// TotalOut returns the number of uncompressed bytes produced so far.
func (s *Session) TotalOut() int64 { return s.stats.TotalOut }

// CompressedConsumed returns the number of compressed bytes decoded so far,
// not counting input that is buffered but unused.
func (s *Session) CompressedConsumed() int64 {
	if s.closed {
		return s.stats.CompressedConsumed
	}
	return s.loaded - int64(s.cur.unread(len(s.in))) - int64(s.cur.available()/8)
}

// Stats returns counters describing the session's work so far.
func (s *Session) Stats() Stats {
	st := s.stats
	st.CompressedConsumed = s.CompressedConsumed()
	return st
}

// fail builds a decode error at the current compressed offset.
func (s *Session) fail(kind Kind, cause error) error {
	return &Error{Kind: kind, Offset: s.CompressedConsumed(), Err: cause}
}

// fill buffers at least n bits if the stream still holds them, refilling
// the input buffer from the byte source as needed. Running out of input is
// not an error here; callers check available bits.
func (s *Session) fill(n uint) error {
	for !s.cur.ensure(s.in, n) {
		if s.remaining == 0 {
			return nil
		}
		if err := s.refill(); err != nil {
			return err
		}
	}
	return nil
}

// refill replaces the input buffer with a fresh one holding the unread
// tail of the old buffer followed by the next chunk from the byte source.
// No slice of the old buffer is used once it has been released.
func (s *Session) refill() error {
	tail := s.cur.unread(len(s.in))
	n := int64(s.chunk)
	if n > s.remaining {
		n = s.remaining
	}
	buf := s.alloc.Allocate(tail + int(n))
	s.stats.InputAllocations++
	copy(buf, s.in[len(s.in)-tail:])
	if s.in != nil {
		s.alloc.Release(s.in)
	}
	s.in = buf
	s.cur.rebase()

	got, err := io.ReadFull(s.src, buf[tail:])
	s.remaining -= int64(got)
	s.loaded += int64(got)
	s.in = buf[:tail+got]
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		s.remaining = 0
		return s.fail(TruncatedInput, err)
	}
	return nil
}

// bits consumes and returns the next n (<= 32) bits.
func (s *Session) bits(n uint) (uint32, error) {
	if err := s.fill(n); err != nil {
		return 0, err
	}
	if s.cur.available() < n {
		return 0, s.fail(TruncatedInput, nil)
	}
	v := s.cur.peek(n)
	s.cur.advance(n)
	return v, nil
}

// decodeSymbol consumes one symbol of t. An undecodable code is reported
// as bad, or as TruncatedInput if the stream ended inside it.
func (s *Session) decodeSymbol(t *HuffmanTable, bad Kind) (int, error) {
	if err := s.fill(t.maxLen); err != nil {
		return 0, err
	}
	if sym, ok := t.decode(&s.cur); ok {
		return sym, nil
	}
	if !t.Empty() && s.cur.available() < t.maxLen {
		return 0, s.fail(TruncatedInput, nil)
	}
	return 0, s.fail(bad, nil)
}

// writable returns the free space in the output buffer.
func (s *Session) writable() int {
	return len(s.out) - s.outOff
}
