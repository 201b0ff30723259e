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

package config

// Config (root) defaults
const (
	defaultMetricsNetwork = "tcp"
)

// InflateConfig defaults
const (
	// defaultInputChunkSize is how many compressed bytes each input refill reads.
	defaultInputChunkSize = 4 << 10

	// defaultOutputLimit is the output window of a streamed resource. It must
	// hold the 32 KiB DEFLATE history plus working room.
	defaultOutputLimit = 64 << 10

	// defaultStepQuantum bounds the output produced by one decode step.
	defaultStepQuantum = 16 << 10

	// defaultIncrementalThreshold is the uncompressed size above which
	// resources are always streamed instead of decoded in one shot.
	defaultIncrementalThreshold = 8 << 20
)

// LoaderConfig defaults
const (
	// defaultMaxConcurrency is the maximum number of resources preloaded at once.
	defaultMaxConcurrency = 8
)

// LoaderConfig.HTTP defaults
const (
	defaultDialTimeoutMsec           = 3000
	defaultResponseHeaderTimeoutMsec = 3000
	defaultRequestTimeoutMsec        = 30_000

	// defaults based on a target total retry time of at least 5s. 30*((2^8)-1)>5000
	defaultMaxRetries  = 8
	defaultMinWaitMsec = 30
	defaultMaxWaitMsec = 300_000
)
