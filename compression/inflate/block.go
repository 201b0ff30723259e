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
	"fmt"
)

type blockState int

const (
	stateHeader blockState = iota
	stateStored
	stateFixed
	stateDynamic
	stateDone
)

func (b blockState) String() string {
	switch b {
	case stateHeader:
		return "awaiting block header"
	case stateStored:
		return "stored"
	case stateFixed:
		return "fixed huffman"
	case stateDynamic:
		return "dynamic huffman"
	case stateDone:
		return "done"
	}
	return fmt.Sprintf("blockState(%d)", int(b))
}

// blockDecoder is the state of the block being decoded.
type blockDecoder struct {
	state blockState
	last  bool

	// Tables of the current Huffman block. Dynamic tables live only until
	// the block ends.
	lit, dist *HuffmanTable

	storedLeft int // stored bytes still to copy
	copyLen    int // back-reference bytes still to copy
	copyDist   int
}

// decodeStep runs one quantum of the block state machine.
func (s *Session) decodeStep() error {
	switch s.blk.state {
	case stateHeader:
		return s.readBlockHeader()
	case stateStored:
		return s.storedBlock()
	case stateFixed, stateDynamic:
		return s.huffmanBlock()
	}
	return nil
}

// endBlock returns to the header state, or finishes the stream after the
// last block.
func (s *Session) endBlock() {
	s.stats.Blocks++
	s.blk.lit, s.blk.dist = nil, nil
	if s.blk.last {
		s.blk.state = stateDone
		return
	}
	s.blk.state = stateHeader
}

func (s *Session) readBlockHeader() error {
	v, err := s.bits(3)
	if err != nil {
		return err
	}
	s.blk.last = v&1 == 1
	switch v >> 1 {
	case 0:
		s.cur.alignToByte()
		v, err := s.bits(32)
		if err != nil {
			return err
		}
		n, nn := v&0xffff, v>>16
		if n^nn != 0xffff {
			return s.fail(BadLengthField, fmt.Errorf("LEN %#04x, NLEN %#04x", n, nn))
		}
		s.blk.storedLeft = int(n)
		s.blk.state = stateStored
		if n == 0 {
			s.endBlock()
		}
	case 1:
		s.blk.lit, s.blk.dist = fixedTables()
		s.blk.state = stateFixed
	case 2:
		if err := s.readDynamicTables(); err != nil {
			return err
		}
		s.blk.state = stateDynamic
	default:
		return s.fail(InvalidBlockType, nil)
	}
	return nil
}

// readDynamicTables decodes the code-length alphabet and, through it, the
// literal/length and distance tables of a dynamic block.
func (s *Session) readDynamicTables() error {
	v, err := s.bits(5 + 5 + 4)
	if err != nil {
		return err
	}
	nlit := int(v&0x1f) + 257
	ndist := int(v>>5&0x1f) + 1
	nclen := int(v>>10) + 4
	if nlit > maxNumLit {
		return s.fail(InvalidLiteralOrLength, fmt.Errorf("%d literal/length codes", nlit))
	}
	if ndist > maxNumDist {
		return s.fail(BadDistanceCode, fmt.Errorf("%d distance codes", ndist))
	}

	var clens [numCodeLengths]uint8
	for i := 0; i < nclen; i++ {
		l, err := s.bits(3)
		if err != nil {
			return err
		}
		clens[codeLengthOrder[i]] = uint8(l)
	}
	clTable, err := NewHuffmanTable(clens[:], s.quickBits)
	if err != nil {
		return s.fail(OversubscribedCode, errors.New("code length alphabet"))
	}
	s.countIncomplete(clTable)

	lengths := make([]uint8, nlit+ndist)
	for i := 0; i < len(lengths); {
		sym, err := s.decodeSymbol(clTable, BadCodeLengthCode)
		if err != nil {
			return err
		}
		if sym < 16 {
			lengths[i] = uint8(sym)
			i++
			continue
		}
		var rep int
		var fill uint8
		switch sym {
		case 16:
			if i == 0 {
				return s.fail(BadRepeatCode, errors.New("repeat with no previous length"))
			}
			fill = lengths[i-1]
			x, err := s.bits(2)
			if err != nil {
				return err
			}
			rep = 3 + int(x)
		case 17:
			x, err := s.bits(3)
			if err != nil {
				return err
			}
			rep = 3 + int(x)
		case 18:
			x, err := s.bits(7)
			if err != nil {
				return err
			}
			rep = 11 + int(x)
		default:
			return s.fail(BadCodeLengthCode, fmt.Errorf("symbol %d", sym))
		}
		if i+rep > len(lengths) {
			return s.fail(BadRepeatCode, fmt.Errorf("repeat of %d overruns %d lengths", rep, len(lengths)))
		}
		for end := i + rep; i < end; i++ {
			lengths[i] = fill
		}
	}

	if lengths[endBlockMarker] == 0 {
		return s.fail(InvalidLiteralOrLength, errors.New("no code for end of block"))
	}
	lit, err := NewHuffmanTable(lengths[:nlit], s.quickBits)
	if err != nil {
		return s.fail(OversubscribedCode, errors.New("literal/length alphabet"))
	}
	dist, err := NewHuffmanTable(lengths[nlit:], s.quickBits)
	if err != nil {
		return s.fail(OversubscribedCode, errors.New("distance alphabet"))
	}
	s.countIncomplete(lit)
	s.countIncomplete(dist)
	s.blk.lit, s.blk.dist = lit, dist
	return nil
}

func (s *Session) countIncomplete(t *HuffmanTable) {
	if t.Incomplete() {
		s.stats.IncompleteCodes++
	}
}

// storedBlock copies stored bytes verbatim, first from whole bytes left in
// the bit accumulator and then straight from the input buffer.
func (s *Session) storedBlock() error {
	budget := s.quantum
	for s.blk.storedLeft > 0 && budget > 0 {
		space := s.writable()
		if space == 0 {
			if s.incremental {
				return nil
			}
			return s.fail(OutputOverflow, nil)
		}
		n := min(s.blk.storedLeft, space, budget)
		if s.cur.available() >= 8 {
			for ; n > 0 && s.cur.available() >= 8; n-- {
				s.out[s.outOff] = byte(s.cur.peek(8))
				s.cur.advance(8)
				s.outOff++
				s.blk.storedLeft--
				budget--
				s.stats.TotalOut++
			}
			continue
		}
		avail := s.cur.unread(len(s.in))
		if avail == 0 {
			if s.remaining == 0 {
				return s.fail(TruncatedInput, fmt.Errorf("%d stored bytes missing", s.blk.storedLeft))
			}
			if err := s.refill(); err != nil {
				return err
			}
			continue
		}
		n = min(n, avail)
		copy(s.out[s.outOff:s.outOff+n], s.in[s.cur.pos:s.cur.pos+n])
		s.cur.pos += n
		s.outOff += n
		s.blk.storedLeft -= n
		budget -= n
		s.stats.TotalOut += int64(n)
	}
	if s.blk.storedLeft == 0 {
		s.endBlock()
	}
	return nil
}

// huffmanBlock runs the LZ77 symbol loop of a fixed or dynamic block until
// the block ends, the output is full or the quantum is spent.
func (s *Session) huffmanBlock() error {
	budget := s.quantum
	for budget > 0 {
		if s.blk.copyLen > 0 {
			if s.writable() == 0 {
				return nil
			}
			budget -= s.copyMatch(budget)
			continue
		}
		if s.incremental && s.writable() == 0 {
			return nil
		}

		// Buffer a whole length/distance pair.
		if err := s.fill(maxPairBits); err != nil {
			return err
		}
		sym, err := s.decodeSymbol(s.blk.lit, InvalidLiteralOrLength)
		if err != nil {
			return err
		}
		switch {
		case sym < endBlockMarker:
			if s.writable() == 0 {
				return s.fail(OutputOverflow, nil)
			}
			s.out[s.outOff] = byte(sym)
			s.outOff++
			s.stats.TotalOut++
			budget--
		case sym == endBlockMarker:
			s.endBlock()
			return nil
		case sym < maxNumLit:
			if err := s.readMatch(sym); err != nil {
				return err
			}
			if !s.incremental && s.blk.copyLen > s.writable() {
				return s.fail(OutputOverflow, fmt.Errorf("match of %d bytes with %d bytes free", s.blk.copyLen, s.writable()))
			}
		default:
			return s.fail(InvalidLiteralOrLength, fmt.Errorf("symbol %d", sym))
		}
	}
	return nil
}

// readMatch decodes the length extra bits and the distance that follow
// length symbol sym and records them as the pending copy.
func (s *Session) readMatch(sym int) error {
	idx := sym - 257
	length := int(lengthBase[idx])
	if n := uint(lengthExtra[idx]); n > 0 {
		x, err := s.bits(n)
		if err != nil {
			return err
		}
		length += int(x)
	}

	dsym, err := s.decodeSymbol(s.blk.dist, BadDistanceCode)
	if err != nil {
		return err
	}
	if dsym >= maxNumDist {
		return s.fail(BadDistanceCode, fmt.Errorf("symbol %d", dsym))
	}
	dist := int(distBase[dsym])
	if n := uint(distExtra[dsym]); n > 0 {
		x, err := s.bits(n)
		if err != nil {
			return err
		}
		dist += int(x)
	}
	if dist > s.outOff {
		return s.fail(CopyUnderflow, fmt.Errorf("distance %d with %d bytes of history", dist, s.outOff))
	}
	s.blk.copyLen, s.blk.copyDist = length, dist
	return nil
}

// copyMatch copies up to limit bytes of the pending back-reference and
// returns the number copied. Overlapping copies (length > distance) go
// byte by byte so the repeated pattern is reproduced.
func (s *Session) copyMatch(limit int) int {
	n := min(s.blk.copyLen, s.writable(), limit)
	dst := s.outOff
	src := dst - s.blk.copyDist
	if n <= s.blk.copyDist {
		copy(s.out[dst:dst+n], s.out[src:src+n])
	} else {
		out := s.out
		for i := 0; i < n; i++ {
			out[dst+i] = out[src+i]
		}
	}
	s.outOff += n
	s.blk.copyLen -= n
	s.stats.TotalOut += int64(n)
	return n
}
