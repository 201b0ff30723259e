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

import (
	"errors"
	"sort"
	"testing"

	"github.com/awslabs/cldc-inflater/util/testutil"
)

// canonicalCodes assigns codes in (length, symbol) order, most significant
// bit first.
func canonicalCodes(lengths []uint8) []uint32 {
	type symLen struct {
		sym int
		l   uint8
	}
	var order []symLen
	for s, l := range lengths {
		if l > 0 {
			order = append(order, symLen{s, l})
		}
	}
	sort.SliceStable(order, func(i, j int) bool { return order[i].l < order[j].l })

	codes := make([]uint32, len(lengths))
	var code uint32
	var prev uint8
	for i, e := range order {
		if i > 0 {
			code++
		}
		code <<= e.l - prev
		prev = e.l
		codes[e.sym] = code
	}
	return codes
}

// checkDecodesAll encodes every coded symbol of lengths in the order given
// by seq and checks that t decodes them back.
func checkDecodesAll(t *testing.T, tbl *HuffmanTable, lengths []uint8, seq []int) {
	t.Helper()
	codes := canonicalCodes(lengths)
	var w testutil.BitWriter
	for _, sym := range seq {
		w.WriteCode(codes[sym], uint(lengths[sym]))
	}
	buf := w.Bytes()

	var c bitCursor
	for i, want := range seq {
		c.ensure(buf, maxCodeLen)
		before := c.available()
		got, ok := tbl.decode(&c)
		if !ok {
			t.Fatalf("symbol %d (#%d in sequence) did not decode", want, i)
		}
		if got != want {
			t.Fatalf("decoded symbol %d, want %d (#%d in sequence)", got, want, i)
		}
		if used := before - c.available(); used != uint(lengths[want]) {
			t.Fatalf("symbol %d consumed %d bits, want %d", want, used, lengths[want])
		}
	}
}

func codedSymbols(lengths []uint8) []int {
	var seq []int
	for s, l := range lengths {
		if l > 0 {
			seq = append(seq, s)
		}
	}
	return seq
}

func TestHuffmanTableRFCExample(t *testing.T) {
	// RFC 1951 section 3.2.2: lengths (3, 3, 3, 3, 3, 2, 4, 4) give
	// A=010 B=011 C=100 D=101 E=110 F=00 G=1110 H=1111.
	lengths := []uint8{3, 3, 3, 3, 3, 2, 4, 4}
	want := []uint32{0b010, 0b011, 0b100, 0b101, 0b110, 0b00, 0b1110, 0b1111}
	codes := canonicalCodes(lengths)
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("canonical code of %c = %b, want %b", 'A'+i, codes[i], want[i])
		}
	}
	for _, q := range []int{0, 1, 2, 3, 4} {
		tbl, err := NewHuffmanTable(lengths, q)
		if err != nil {
			t.Fatalf("quickBits %d: %v", q, err)
		}
		checkDecodesAll(t, tbl, lengths, []int{7, 5, 0, 6, 4, 1, 3, 2, 5, 5})
	}
}

func TestHuffmanTableCanonicalConformance(t *testing.T) {
	// A complete code using every length from 1 to 15.
	complete := make([]uint8, 16)
	for i := 0; i < 15; i++ {
		complete[i] = uint8(i + 1)
	}
	complete[15] = 15

	r := testutil.NewTestRand(t)
	sparse := make([]uint8, maxNumLit)
	for i := range sparse {
		if r.IntN(4) != 0 {
			sparse[i] = uint8(9 + r.IntN(7))
		}
	}

	lit, _ := fixedLengths()

	testCases := []struct {
		name    string
		lengths []uint8
	}{
		{"lengths 1 to 15", complete},
		{"sparse long codes", sparse},
		{"fixed literal", lit},
		{"single code", []uint8{0, 0, 1}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			seq := codedSymbols(tc.lengths)
			for i := len(seq) - 1; i >= 0; i-- {
				seq = append(seq, seq[i])
			}
			for _, q := range []int{0, 1, 5, 9, 15, 20} {
				tbl, err := NewHuffmanTable(tc.lengths, q)
				if err != nil {
					t.Fatalf("quickBits %d: %v", q, err)
				}
				checkDecodesAll(t, tbl, tc.lengths, seq)
			}
		})
	}
}

func TestHuffmanTableSubtables(t *testing.T) {
	lengths := make([]uint8, 16)
	for i := 0; i < 15; i++ {
		lengths[i] = uint8(i + 1)
	}
	lengths[15] = 15

	tbl, err := NewHuffmanTable(lengths, 9)
	if err != nil {
		t.Fatal(err)
	}
	if tbl.QuickBits() != 9 || tbl.MaxCodeLen() != 15 {
		t.Fatalf("quickBits %d, maxLen %d; want 9, 15", tbl.QuickBits(), tbl.MaxCodeLen())
	}
	// Codes longer than 9 bits all share the prefix 111111111.
	if tbl.Subtables() != 1 {
		t.Fatalf("got %d subtables, want 1", tbl.Subtables())
	}
	if got, want := tbl.Entries(), 1<<9+1<<6; got != want {
		t.Fatalf("got %d entries, want %d", got, want)
	}

	clamped, err := NewHuffmanTable(lengths, 20)
	if err != nil {
		t.Fatal(err)
	}
	if clamped.QuickBits() != 15 || clamped.Subtables() != 0 {
		t.Fatalf("clamped table has quickBits %d and %d subtables", clamped.QuickBits(), clamped.Subtables())
	}
}

func TestHuffmanTableSmallestFootprint(t *testing.T) {
	r := testutil.NewTestRand(t)
	sparse := make([]uint8, maxNumLit)
	for i := range sparse {
		sparse[i] = uint8(9 + r.IntN(7))
	}
	lit, dist := fixedLengths()

	for _, lengths := range [][]uint8{sparse, lit, dist, {1, 2, 3, 4, 5, 6, 7, 7}} {
		auto, err := NewHuffmanTable(lengths, 0)
		if err != nil {
			t.Fatal(err)
		}
		bestQ, bestEntries := 0, 0
		for q := 1; q <= auto.MaxCodeLen(); q++ {
			tbl, err := NewHuffmanTable(lengths, q)
			if err != nil {
				t.Fatal(err)
			}
			if bestQ == 0 || tbl.Entries() <= bestEntries {
				bestQ, bestEntries = q, tbl.Entries()
			}
		}
		if auto.QuickBits() != bestQ || auto.Entries() != bestEntries {
			t.Fatalf("auto table: quickBits %d with %d entries; smallest is quickBits %d with %d entries",
				auto.QuickBits(), auto.Entries(), bestQ, bestEntries)
		}
	}
}

func TestHuffmanTableEmpty(t *testing.T) {
	tbl, err := NewHuffmanTable(make([]uint8, 30), 0)
	if err != nil {
		t.Fatalf("all-zero lengths rejected: %v", err)
	}
	if !tbl.Empty() {
		t.Fatal("table of all-zero lengths is not empty")
	}
	c := bitCursor{acc: 0xffff, n: 16}
	if _, ok := tbl.decode(&c); ok {
		t.Fatal("empty table decoded a symbol")
	}
	if c.available() != 16 {
		t.Fatal("failed decode consumed bits")
	}
}

func TestHuffmanTableIncompleteCode(t *testing.T) {
	// One code of length 1: bit 0 is symbol 0, bit 1 is unused.
	tbl, err := NewHuffmanTable([]uint8{1}, 0)
	if err != nil {
		t.Fatal(err)
	}
	c := bitCursor{acc: 0b10, n: 2}
	if sym, ok := tbl.decode(&c); !ok || sym != 0 {
		t.Fatalf("decode = %d, %v; want 0, true", sym, ok)
	}
	if _, ok := tbl.decode(&c); ok {
		t.Fatal("unused code decoded")
	}
	if c.available() != 1 {
		t.Fatalf("available = %d, want 1", c.available())
	}
	if !tbl.Incomplete() {
		t.Fatal("single 1-bit code not reported incomplete")
	}
	full, err := NewHuffmanTable([]uint8{1, 2, 2}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if full.Incomplete() {
		t.Fatal("complete code reported incomplete")
	}
}

func TestHuffmanTableOversubscribed(t *testing.T) {
	testCases := []struct {
		name    string
		lengths []uint8
	}{
		{"three 1-bit codes", []uint8{1, 1, 1}},
		{"five 2-bit codes", []uint8{2, 2, 2, 2, 2}},
		{"length past 15", []uint8{1, 16}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewHuffmanTable(tc.lengths, 0)
			if !errors.Is(err, ErrOversubscribedCode) {
				t.Fatalf("got %v, want an over-subscribed code error", err)
			}
		})
	}
}

func TestFixedTables(t *testing.T) {
	lit, dist := fixedTables()
	if lit.QuickBits() != 9 || lit.Subtables() != 0 {
		t.Fatalf("fixed literal table: quickBits %d, %d subtables", lit.QuickBits(), lit.Subtables())
	}
	if dist.QuickBits() != 5 || dist.Entries() != numFixedDist {
		t.Fatalf("fixed distance table: quickBits %d, %d entries", dist.QuickBits(), dist.Entries())
	}
	if lit.Incomplete() || dist.Incomplete() {
		t.Fatal("fixed codes reported incomplete")
	}
	l2, d2 := fixedTables()
	if l2 != lit || d2 != dist {
		t.Fatal("fixed tables rebuilt")
	}
}
