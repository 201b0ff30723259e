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

package ioutils

import (
	"io"
)

// PositionTrackerReader is an `io.Reader` that tracks the current read position
// in an underlying stream. A reader made by NewSectionTrackerReader reads one
// byte range of the stream and reports positions relative to the whole stream.
type PositionTrackerReader struct {
	r   io.Reader
	pos int64
	end int64 // -1 if unbounded
}

// NewPositionTrackerReader creates a new PositionTrackerReader with the initial position
// set to 0.
func NewPositionTrackerReader(r io.Reader) *PositionTrackerReader {
	return &PositionTrackerReader{r, 0, -1}
}

// NewSectionTrackerReader creates a PositionTrackerReader over the n bytes of
// ra starting at off. The initial position is off.
func NewSectionTrackerReader(ra io.ReaderAt, off, n int64) *PositionTrackerReader {
	return NewRangeTrackerReader(io.NewSectionReader(ra, off, n), off, n)
}

// NewRangeTrackerReader creates a PositionTrackerReader over r, which
// already yields the n bytes of a stream starting at off.
func NewRangeTrackerReader(r io.Reader, off, n int64) *PositionTrackerReader {
	return &PositionTrackerReader{r, off, off + n}
}

// Read reads from the PositionTrackerReader into the provided byte slice.
// The number position of the PositionTrackerReader is updated based on the
// number of bytes read
func (p *PositionTrackerReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.pos += int64(n)
	return n, err
}

// CurrentPos is the current position of the PositionTrackerReader
func (p *PositionTrackerReader) CurrentPos() int64 {
	return p.pos
}

// Remaining is the number of bytes left in the section, or -1 for a reader
// with no section.
func (p *PositionTrackerReader) Remaining() int64 {
	if p.end < 0 {
		return -1
	}
	return p.end - p.pos
}
