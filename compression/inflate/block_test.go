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
	"bytes"
	stdflate "compress/flate"
	"errors"
	"io"
	"testing"

	"github.com/awslabs/cldc-inflater/util/testutil"
	"github.com/containerd/errdefs"
	"github.com/google/go-cmp/cmp"
)

func fixedHeader(w *testutil.BitWriter) {
	w.WriteBits(1, 1) // BFINAL
	w.WriteBits(1, 2) // BTYPE fixed
}

// dynamicHeader writes a final dynamic block header whose code-length
// alphabet gives the listed symbols the listed 3-bit lengths.
func dynamicHeader(w *testutil.BitWriter, hlit, hdist int, clens map[int]uint32) {
	w.WriteBits(1, 1)
	w.WriteBits(2, 2)
	last := 3
	for i, sym := range codeLengthOrder {
		if _, ok := clens[sym]; ok && i > last {
			last = i
		}
	}
	w.WriteBits(uint32(hlit), 5)
	w.WriteBits(uint32(hdist), 5)
	w.WriteBits(uint32(last+1-4), 4)
	for _, sym := range codeLengthOrder[:last+1] {
		w.WriteBits(clens[sym], 3)
	}
}

func craft(f func(w *testutil.BitWriter)) []byte {
	var w testutil.BitWriter
	f(&w)
	// Trailing zero bytes keep truncation out of the way.
	return append(w.Bytes(), 0, 0, 0, 0)
}

func TestMalformedStreams(t *testing.T) {
	testCases := []struct {
		name   string
		stream []byte
		usize  int64
		kind   Kind
	}{
		{
			name:   "reserved block type",
			stream: []byte{0x07},
			kind:   InvalidBlockType,
		},
		{
			name:   "stored length check",
			stream: []byte{0x01, 0x05, 0x00, 0x00, 0x00, 'h', 'e', 'l', 'l', 'o'},
			kind:   BadLengthField,
		},
		{
			name: "literal symbol 286",
			stream: craft(func(w *testutil.BitWriter) {
				fixedHeader(w)
				w.WriteFixedLiteral(286)
			}),
			kind: InvalidLiteralOrLength,
		},
		{
			name: "distance symbol 30",
			stream: craft(func(w *testutil.BitWriter) {
				fixedHeader(w)
				w.WriteFixedLiteral('a')
				w.WriteFixedLiteral(257)
				w.WriteFixedDistance(30)
			}),
			kind: BadDistanceCode,
		},
		{
			name: "distance before first byte",
			stream: craft(func(w *testutil.BitWriter) {
				fixedHeader(w)
				w.WriteFixedLiteral('a')
				w.WriteFixedLiteral(257)
				w.WriteFixedDistance(1) // distance 2
			}),
			kind: CopyUnderflow,
		},
		{
			name: "match with no output",
			stream: craft(func(w *testutil.BitWriter) {
				fixedHeader(w)
				w.WriteFixedLiteral(257)
				w.WriteFixedDistance(0)
			}),
			kind: CopyUnderflow,
		},
		{
			name: "repeat with no previous length",
			stream: craft(func(w *testutil.BitWriter) {
				dynamicHeader(w, 0, 0, map[int]uint32{0: 1, 16: 1})
				w.WriteCode(1, 1) // symbol 16
			}),
			kind: BadRepeatCode,
		},
		{
			name: "repeat past the end",
			stream: craft(func(w *testutil.BitWriter) {
				dynamicHeader(w, 0, 0, map[int]uint32{0: 1, 18: 1})
				w.WriteCode(1, 1) // symbol 18
				w.WriteBits(127, 7)
				w.WriteCode(1, 1)
				w.WriteBits(127, 7)
			}),
			kind: BadRepeatCode,
		},
		{
			name: "empty code length alphabet",
			stream: craft(func(w *testutil.BitWriter) {
				dynamicHeader(w, 0, 0, nil)
			}),
			kind: BadCodeLengthCode,
		},
		{
			name: "over-subscribed code length alphabet",
			stream: craft(func(w *testutil.BitWriter) {
				dynamicHeader(w, 0, 0, map[int]uint32{16: 1, 17: 1, 18: 1})
			}),
			kind: OversubscribedCode,
		},
		{
			name: "too many literal codes",
			stream: craft(func(w *testutil.BitWriter) {
				dynamicHeader(w, 30, 0, map[int]uint32{0: 1, 1: 1})
			}),
			kind: InvalidLiteralOrLength,
		},
		{
			name: "too many distance codes",
			stream: craft(func(w *testutil.BitWriter) {
				dynamicHeader(w, 0, 30, map[int]uint32{0: 1, 1: 1})
			}),
			kind: BadDistanceCode,
		},
		{
			name: "no end of block code",
			stream: craft(func(w *testutil.BitWriter) {
				dynamicHeader(w, 0, 0, map[int]uint32{0: 1, 1: 1})
				// Symbol 0 is code 0, symbol 1 is code 1.
				w.WriteCode(1, 1)
				for i := 0; i < 256; i++ {
					w.WriteCode(0, 1)
				}
				w.WriteCode(1, 1)
			}),
			kind: InvalidLiteralOrLength,
		},
		{
			name:   "missing final block",
			stream: []byte{0x00, 0x01, 0x00, 0xfe, 0xff, 'x'},
			kind:   TruncatedInput,
		},
		{
			name:   "stream cut inside a block",
			stream: abcStream[:2],
			kind:   TruncatedInput,
		},
		{
			name:   "stored block cut short",
			stream: []byte{0x01, 0x05, 0x00, 0xfa, 0xff, 'h', 'e'},
			kind:   TruncatedInput,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			usize := tc.usize
			if usize == 0 {
				usize = 1 << 10
			}
			for _, incremental := range []bool{false, true} {
				s, err := Open(bytes.NewReader(tc.stream), int64(len(tc.stream)), usize, 0, incremental, WithInputChunkSize(2))
				if err != nil {
					t.Fatal(err)
				}
				var derr error
				if incremental {
					_, derr = io.ReadAll(s)
				} else {
					_, derr = s.DecodeCompletely()
				}
				s.Close()
				if KindOf(derr) != tc.kind {
					t.Fatalf("incremental=%v: got %v, want kind %q", incremental, derr, tc.kind)
				}
				if !errdefs.IsDataLoss(derr) {
					t.Fatalf("%v is not classified as data loss", derr)
				}
				var e *Error
				if !errors.As(derr, &e) || e.Offset < 0 || e.Offset > int64(len(tc.stream)) {
					t.Fatalf("error offset out of range: %v", derr)
				}
			}
		})
	}
}

func TestStoredBlocks(t *testing.T) {
	r := testutil.NewTestRand(t)
	data := r.RandomByteData(10000)
	comp := testutil.StoredBlocks(data, 999)

	s, err := OpenResident(comp, int64(len(data)), false)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.DecodeCompletely()
	if err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("stored data did not pass through unchanged")
	}
	if want := (len(data) + 998) / 999; s.Stats().Blocks != want {
		t.Fatalf("decoded %d blocks, want %d", s.Stats().Blocks, want)
	}
}

func TestStoredBlockAfterHuffmanBits(t *testing.T) {
	// A fixed block ending mid-byte followed by a stored block: the stored
	// header starts at the next byte boundary.
	var w testutil.BitWriter
	w.WriteBits(0, 1)
	w.WriteBits(1, 2)
	w.WriteFixedLiteral('x')
	w.WriteFixedLiteral(256)
	w.WriteBits(1, 1)
	w.WriteBits(0, 2)
	w.Align()
	w.WriteBits(3, 16)
	w.WriteBits(^uint32(3), 16)
	for _, b := range []byte("yz!") {
		w.WriteBits(uint32(b), 8)
	}
	comp := w.Bytes()

	s, err := OpenResident(comp, 4, false)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.DecodeCompletely()
	if err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if diff := cmp.Diff("xyz!", string(got)); diff != "" {
		t.Fatalf("unexpected output (-want +got):\n%s", diff)
	}
	if s.Stats().Blocks != 2 {
		t.Fatalf("decoded %d blocks, want 2", s.Stats().Blocks)
	}
}

func TestEmptyStoredBlock(t *testing.T) {
	comp := testutil.StoredBlocks(nil, 0)
	if !bytes.Equal(comp, []byte{0x01, 0x00, 0x00, 0xff, 0xff}) {
		t.Fatalf("unexpected empty stored block %x", comp)
	}
	s, err := OpenResident(comp, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.DecodeCompletely()
	if err != nil || len(got) != 0 {
		t.Fatalf("decode = %q, %v", got, err)
	}
}

// incompleteDistanceStream is "aa" in a dynamic block whose only distance
// code has length 2, leaving three quarters of the code space unused.
func incompleteDistanceStream() []byte {
	var w testutil.BitWriter
	// Code-length codes, all 2 bits: 0=00, 1=01, 2=10, 18=11.
	dynamicHeader(&w, 0, 0, map[int]uint32{0: 2, 1: 2, 2: 2, 18: 2})
	w.WriteCode(3, 2) // 97 zeros
	w.WriteBits(97-11, 7)
	w.WriteCode(1, 2) // 'a': length 1
	w.WriteCode(3, 2) // 138 zeros
	w.WriteBits(127, 7)
	w.WriteCode(3, 2) // 20 zeros
	w.WriteBits(20-11, 7)
	w.WriteCode(1, 2) // end of block: length 1
	w.WriteCode(2, 2) // distance 0: length 2
	w.WriteCode(0, 1) // 'a'
	w.WriteCode(0, 1) // 'a'
	w.WriteCode(1, 1) // end of block
	return w.Bytes()
}

func TestIncompleteDistanceCode(t *testing.T) {
	comp := incompleteDistanceStream()
	s, err := OpenResident(comp, 2, false)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, err := s.DecodeCompletely()
	if err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if string(got) != "aa" {
		t.Fatalf("got %q, want %q", got, "aa")
	}
	if n := s.Stats().IncompleteCodes; n != 1 {
		t.Fatalf("counted %d incomplete codes, want 1", n)
	}

	// The standard library only accepts the single 1-bit incomplete code.
	if _, err := io.ReadAll(stdflate.NewReader(bytes.NewReader(comp))); err == nil {
		t.Fatal("standard library accepted an incomplete 2-bit distance code")
	}
}
