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

package inflate

import "math/bits"

// bitCursor reads a byte buffer least-significant-bit first.
//
// The cursor keeps only an offset into the buffer, never the buffer
// itself: callers pass the session's current input buffer to ensure, so a
// buffer replaced by a refill is never read through a stale reference.
type bitCursor struct {
	pos int    // next byte of the buffer not yet loaded into acc
	acc uint64 // buffered bits; the next bit to consume is bit 0
	n   uint   // number of valid bits in acc
}

// ensure loads bytes from buf until at least want (<= 56) bits are
// buffered. It reports false if buf ran out first; bits loaded so far stay buffered.
func (c *bitCursor) ensure(buf []byte, want uint) bool {
	for c.n < want {
		if c.pos >= len(buf) {
			return false
		}
		c.acc |= uint64(buf[c.pos]) << c.n
		c.pos++
		c.n += 8
	}
	return true
}

// peek returns the next n (<= 32) buffered bits without consuming them.
// Bits beyond the buffered count read as zero.
func (c *bitCursor) peek(n uint) uint32 {
	return uint32(c.acc & (1<<n - 1))
}

// advance consumes n buffered bits.
func (c *bitCursor) advance(n uint) {
	c.acc >>= n
	c.n -= n
}

// alignToByte drops the bits left over from a partially consumed byte.
func (c *bitCursor) alignToByte() {
	c.advance(c.n & 7)
}

// available returns the number of buffered bits.
func (c *bitCursor) available() uint {
	return c.n
}

// unread returns how many bytes of a buffer of length size have not been
// loaded into the accumulator yet.
func (c *bitCursor) unread(size int) int {
	return size - c.pos
}

// rebase moves the cursor to the start of a fresh buffer whose head holds
// the unread tail of the previous one.
func (c *bitCursor) rebase() {
	c.pos = 0
}

// reverseBits reverses the low length bits of code. Canonical Huffman
// codes are assigned most-significant-bit first but arrive in the stream
// least-significant-bit first.
func reverseBits(code uint32, length uint) uint32 {
	return bits.Reverse32(code) >> (32 - length)
}
