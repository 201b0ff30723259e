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

type entryKind uint8

const (
	// entryInvalid marks a slot no code maps to. Incomplete codes leave
	// such slots behind.
	entryInvalid entryKind = iota
	// entryDirect holds a decoded symbol and its code length.
	entryDirect
	// entryIndirect points at an overflow subtable for codes longer than
	// the quick width.
	entryIndirect
)

type tableEntry struct {
	kind   entryKind
	length uint8  // code length, direct entries only
	value  uint16 // symbol (direct) or subtable index (indirect)
}

// HuffmanTable decodes one canonical Huffman alphabet. The low quickBits
// bits of the input index the main table directly; codes longer than that
// continue into a subtable selected by their quickBits-bit prefix and
// indexed by the following maxLen-quickBits bits.
//
// A HuffmanTable is immutable once built and safe to share.
type HuffmanTable struct {
	quickBits  uint
	maxLen     uint
	main       []tableEntry
	sub        [][]tableEntry
	incomplete bool
}

// NewHuffmanTable builds the decode table for an alphabet given the code
// length of every symbol (0 for unused symbols).
//
// quickBits sets the width of the main table. Zero or less picks the width
// that minimises the total number of table entries; larger values are
// clamped to the longest code length.
//
// A set of all-zero lengths is legal and yields a table that decodes
// nothing. Over-subscribed lengths fail with OversubscribedCode. Incomplete
// codes are accepted; their unused bit patterns decode as invalid.
func NewHuffmanTable(lengths []uint8, quickBits int) (*HuffmanTable, error) {
	var count [maxCodeLen + 1]int
	var maxLen uint
	for _, l := range lengths {
		if l > maxCodeLen {
			return nil, &Error{Kind: OversubscribedCode}
		}
		count[l]++
		if uint(l) > maxLen {
			maxLen = uint(l)
		}
	}
	if maxLen == 0 {
		return &HuffmanTable{}, nil
	}

	left := 1
	for l := 1; l <= int(maxLen); l++ {
		left <<= 1
		left -= count[l]
		if left < 0 {
			return nil, &Error{Kind: OversubscribedCode}
		}
	}

	// First code of every length, in canonical order.
	var next [maxCodeLen + 1]uint32
	code := uint32(0)
	count[0] = 0
	for l := 1; l <= int(maxLen); l++ {
		code = (code + uint32(count[l-1])) << 1
		next[l] = code
	}

	// Codes in stream (bit-reversed) order, by symbol.
	codes := make([]uint32, len(lengths))
	for sym, l := range lengths {
		if l == 0 {
			continue
		}
		codes[sym] = reverseBits(next[l], uint(l))
		next[l]++
	}

	var q uint
	switch {
	case quickBits <= 0:
		q = bestQuickBits(lengths, codes, maxLen)
	case uint(quickBits) > maxLen:
		q = maxLen
	default:
		q = uint(quickBits)
	}

	t := &HuffmanTable{
		quickBits:  q,
		maxLen:     maxLen,
		main:       make([]tableEntry, 1<<q),
		incomplete: left > 0,
	}
	subBits := maxLen - q
	for sym, l := range lengths {
		if l == 0 {
			continue
		}
		n := uint(l)
		entry := tableEntry{kind: entryDirect, length: l, value: uint16(sym)}
		rev := codes[sym]
		if n <= q {
			for i := rev; i < uint32(len(t.main)); i += 1 << n {
				t.main[i] = entry
			}
			continue
		}
		prefix := rev & (1<<q - 1)
		link := t.main[prefix]
		if link.kind != entryIndirect {
			link = tableEntry{kind: entryIndirect, value: uint16(len(t.sub))}
			t.main[prefix] = link
			t.sub = append(t.sub, make([]tableEntry, 1<<subBits))
		}
		sub := t.sub[link.value]
		for i := rev >> q; i < uint32(len(sub)); i += 1 << (n - q) {
			sub[i] = entry
		}
	}
	return t, nil
}

// bestQuickBits returns the main-table width in 1..maxLen that minimises
// the main table plus all subtables, preferring the wider table on ties.
func bestQuickBits(lengths []uint8, codes []uint32, maxLen uint) uint {
	best, bestSize := maxLen, 1<<maxLen
	seen := make([]bool, 1<<maxLen)
	for q := maxLen - 1; q >= 1; q-- {
		mask := uint32(1<<q - 1)
		prefixes := 0
		for i := range seen[:1<<q] {
			seen[i] = false
		}
		for sym, l := range lengths {
			if uint(l) <= q {
				continue
			}
			p := codes[sym] & mask
			if !seen[p] {
				seen[p] = true
				prefixes++
			}
		}
		size := 1<<q + prefixes<<(maxLen-q)
		if size < bestSize {
			best, bestSize = q, size
		}
	}
	return best
}

// QuickBits returns the width of the main table.
func (t *HuffmanTable) QuickBits() int { return int(t.quickBits) }

// MaxCodeLen returns the longest code length in the alphabet, or zero for
// an empty alphabet.
func (t *HuffmanTable) MaxCodeLen() int { return int(t.maxLen) }

// Subtables returns the number of overflow subtables.
func (t *HuffmanTable) Subtables() int { return len(t.sub) }

// Entries returns the total number of table slots, main and overflow.
func (t *HuffmanTable) Entries() int {
	n := len(t.main)
	for _, s := range t.sub {
		n += len(s)
	}
	return n
}

// Incomplete reports whether the code lengths leave part of the code space
// unused.
func (t *HuffmanTable) Incomplete() bool { return t.incomplete }

// Empty reports whether the alphabet has no codes at all.
func (t *HuffmanTable) Empty() bool { return t.maxLen == 0 }

// lookup resolves the entry addressed by v, the next input bits in stream
// order. Bits past the end of the input must be zero.
func (t *HuffmanTable) lookup(v uint32) tableEntry {
	e := t.main[v&(1<<t.quickBits-1)]
	if e.kind == entryIndirect {
		e = t.sub[e.value][(v>>t.quickBits)&(1<<(t.maxLen-t.quickBits)-1)]
	}
	return e
}

// decode consumes one symbol from c. It returns false without consuming
// anything if the buffered bits do not hold a complete valid code.
func (t *HuffmanTable) decode(c *bitCursor) (int, bool) {
	if t.maxLen == 0 {
		return 0, false
	}
	e := t.lookup(c.peek(t.maxLen))
	if e.kind != entryDirect || uint(e.length) > c.available() {
		return 0, false
	}
	c.advance(uint(e.length))
	return int(e.value), true
}
