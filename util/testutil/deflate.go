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

package testutil

import (
	"bytes"
	"encoding/binary"
	"math/bits"
	"testing"

	"github.com/klauspost/compress/flate"
)

// Compression levels accepted by Deflate, re-exported so tests need not
// import the encoder.
const (
	NoCompression      = flate.NoCompression
	BestSpeed          = flate.BestSpeed
	BestCompression    = flate.BestCompression
	DefaultCompression = flate.DefaultCompression
	HuffmanOnly        = flate.HuffmanOnly
)

// Deflate compresses data into a raw DEFLATE stream with the reference
// encoder.
func Deflate(t testing.TB, data []byte, level int) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, level)
	if err != nil {
		t.Fatalf("failed to create deflate writer: %v", err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("failed to deflate: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close deflate writer: %v", err)
	}
	return buf.Bytes()
}

// StoredBlocks encodes data as a sequence of stored blocks of at most
// blockSize bytes each. Empty data yields a single empty final block.
func StoredBlocks(data []byte, blockSize int) []byte {
	if blockSize <= 0 || blockSize > 0xffff {
		blockSize = 0xffff
	}
	var buf bytes.Buffer
	for {
		n := min(len(data), blockSize)
		final := byte(0)
		if n == len(data) {
			final = 1
		}
		buf.WriteByte(final)
		var hdr [4]byte
		binary.LittleEndian.PutUint16(hdr[0:], uint16(n))
		binary.LittleEndian.PutUint16(hdr[2:], ^uint16(n))
		buf.Write(hdr[:])
		buf.Write(data[:n])
		data = data[n:]
		if final == 1 {
			return buf.Bytes()
		}
	}
}

// BitWriter builds DEFLATE bit streams by hand, for inputs no encoder
// would produce.
type BitWriter struct {
	buf []byte
	acc uint64
	n   uint
}

// WriteBits appends the low n bits of v, least significant bit first, the
// way DEFLATE packs header fields and extra bits.
func (w *BitWriter) WriteBits(v uint32, n uint) {
	w.acc |= uint64(v&(1<<n-1)) << w.n
	w.n += n
	for w.n >= 8 {
		w.buf = append(w.buf, byte(w.acc))
		w.acc >>= 8
		w.n -= 8
	}
}

// WriteCode appends an n-bit Huffman code, most significant bit first.
func (w *BitWriter) WriteCode(code uint32, n uint) {
	w.WriteBits(bits.Reverse32(code)>>(32-n), n)
}

// WriteFixedLiteral appends the fixed-Huffman code of literal/length
// symbol sym (0..287).
func (w *BitWriter) WriteFixedLiteral(sym int) {
	switch {
	case sym < 144:
		w.WriteCode(uint32(0x30+sym), 8)
	case sym < 256:
		w.WriteCode(uint32(0x190+sym-144), 9)
	case sym < 280:
		w.WriteCode(uint32(sym-256), 7)
	default:
		w.WriteCode(uint32(0xc0+sym-280), 8)
	}
}

// WriteFixedDistance appends the fixed-Huffman code of distance symbol sym
// (0..31).
func (w *BitWriter) WriteFixedDistance(sym int) {
	w.WriteCode(uint32(sym), 5)
}

// Align pads with zero bits to the next byte boundary.
func (w *BitWriter) Align() {
	if w.n > 0 {
		w.WriteBits(0, 8-w.n)
	}
}

// Bytes returns the stream written so far, zero padding the last byte.
func (w *BitWriter) Bytes() []byte {
	out := append([]byte(nil), w.buf...)
	if w.n > 0 {
		out = append(out, byte(w.acc))
	}
	return out
}
