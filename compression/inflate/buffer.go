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

// Allocator supplies the session's input and output buffers.
//
// Allocate returns a zero-filled buffer of exactly size bytes. A session
// never resizes a buffer in place: it allocates a replacement, copies what
// it needs and hands the old buffer to Release. After Release the session
// holds no reference to the old buffer, so an allocator may reuse or
// scribble over it, and any allocation may move or collect unrelated
// memory.
type Allocator interface {
	Allocate(size int) []byte
	Release(buf []byte)
}

// HeapAllocator allocates from the Go heap and leaves released buffers to
// the garbage collector.
type HeapAllocator struct{}

// Allocate implements Allocator.
func (HeapAllocator) Allocate(size int) []byte { return make([]byte, size) }

// Release implements Allocator.
func (HeapAllocator) Release([]byte) {}

// Stats counts the work a session has done.
type Stats struct {
	// InputAllocations is the number of input buffers allocated by refills.
	InputAllocations int
	// OutputAllocations is the number of output buffers allocated,
	// including recycled windows.
	OutputAllocations int
	// CompressedConsumed is the number of compressed bytes decoded.
	CompressedConsumed int64
	// TotalOut is the number of uncompressed bytes produced.
	TotalOut int64
	// Blocks is the number of DEFLATE blocks completed.
	Blocks int
	// IncompleteCodes is the number of dynamic block alphabets, code
	// length alphabets included, whose code lengths leave codes unused.
	IncompleteCodes int
}
