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

package compression

// Offset holds compressed and uncompressed sizes and offsets.
type Offset int64

// Compression methods a resource may be stored with.
const (
	// Deflate is a raw DEFLATE (RFC 1951) stream.
	Deflate = "deflate"
	// Stored is uncompressed data.
	Stored = "stored"
)
