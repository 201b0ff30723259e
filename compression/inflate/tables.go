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

import "sync"

const (
	// DictionarySize is the largest back-reference distance a DEFLATE
	// stream may use. Incremental sessions keep this much output history
	// when they recycle the output buffer.
	DictionarySize = 1 << 15

	maxCodeLen     = 15
	maxNumLit      = 286
	numFixedLit    = 288
	maxNumDist     = 30
	numFixedDist   = 32
	numCodeLengths = 19
	endBlockMarker = 256

	// Worst case bits needed to decode one length/distance pair:
	// 15 (code) + 5 (extra) + 15 (code) + 13 (extra).
	maxPairBits = 48
)

// codeLengthOrder is the order in which the code-length alphabet's own
// 3-bit lengths are transmitted in a dynamic block header.
var codeLengthOrder = [numCodeLengths]int{16, 17, 18, 0, 8, 7, 9, 6, 10, 5, 11, 4, 12, 3, 13, 2, 14, 1, 15}

// Base match lengths and extra bit counts for length symbols 257..285.
var lengthBase = [29]uint16{
	3, 4, 5, 6, 7, 8, 9, 10, 11, 13, 15, 17, 19, 23, 27, 31,
	35, 43, 51, 59, 67, 83, 99, 115, 131, 163, 195, 227, 258,
}

var lengthExtra = [29]uint8{
	0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 2, 2, 2, 2,
	3, 3, 3, 3, 4, 4, 4, 4, 5, 5, 5, 5, 0,
}

// Base distances and extra bit counts for distance symbols 0..29.
var distBase = [maxNumDist]uint16{
	1, 2, 3, 4, 5, 7, 9, 13, 17, 25, 33, 49, 65, 97, 129, 193,
	257, 385, 513, 769, 1025, 1537, 2049, 3073, 4097, 6145, 8193, 12289, 16385, 24577,
}

var distExtra = [maxNumDist]uint8{
	0, 0, 0, 0, 1, 1, 2, 2, 3, 3, 4, 4, 5, 5, 6, 6,
	7, 7, 8, 8, 9, 9, 10, 10, 11, 11, 12, 12, 13, 13,
}

var (
	fixedOnce     sync.Once
	fixedLitTable *HuffmanTable
	fixedDstTable *HuffmanTable
)

// fixedLengths returns the code lengths of the fixed-Huffman alphabets
// (RFC 1951 section 3.2.6).
func fixedLengths() (lit, dist []uint8) {
	lit = make([]uint8, numFixedLit)
	for i := range lit {
		switch {
		case i < 144:
			lit[i] = 8
		case i < 256:
			lit[i] = 9
		case i < 280:
			lit[i] = 7
		default:
			lit[i] = 8
		}
	}
	dist = make([]uint8, numFixedDist)
	for i := range dist {
		dist[i] = 5
	}
	return lit, dist
}

// fixedTables returns the shared literal/length and distance tables of a
// fixed-Huffman block. Their main tables span the longest code, so every
// fixed symbol resolves in a single lookup.
func fixedTables() (*HuffmanTable, *HuffmanTable) {
	fixedOnce.Do(func() {
		lit, dist := fixedLengths()
		var err error
		if fixedLitTable, err = NewHuffmanTable(lit, 9); err != nil {
			panic("inflate: fixed literal table: " + err.Error())
		}
		if fixedDstTable, err = NewHuffmanTable(dist, 5); err != nil {
			panic("inflate: fixed distance table: " + err.Error())
		}
	})
	return fixedLitTable, fixedDstTable
}
