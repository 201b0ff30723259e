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

import "fmt"

// LoaderConfig configures how resources are located and loaded.
type LoaderConfig struct {
	// MaxConcurrency is the maximum number of resources preloaded at once.
	// Zero or less means unbounded.
	MaxConcurrency int64 `toml:"max_concurrency"`

	// VerifyResidentDigest checks ROM-resident compressed bytes against the
	// digest recorded in the catalog before decoding them. Resident data has
	// no CRC-32, so this is its only integrity check.
	VerifyResidentDigest bool `toml:"verify_resident_digest"`

	// HTTP configures the client that fetches byte ranges of archives
	// located at http:// or https:// URLs.
	HTTP RetryableHTTPClientConfig `toml:"http"`
}

// RetryConfig represents the settings for retries in a retryable http client.
type RetryConfig struct {
	// MaxRetries is the maximum number of retries before giving up on a retryable request.
	// This does not include the initial request so the total number of attempts will be MaxRetries + 1.
	MaxRetries int `toml:"max_retries"`
	// MinWait is the minimum wait time between attempts. The actual wait time is governed by the BackoffStrategy,
	// but the wait time will never be shorter than this duration.
	MinWaitMsec int64 `toml:"min_wait_msec"`
	// MaxWait is the maximum wait time between attempts. The actual wait time is governed by the BackoffStrategy,
	// but the wait time will never be longer than this duration.
	MaxWaitMsec int64 `toml:"max_wait_msec"`
}

// TimeoutConfig represents the settings for timeout at various points in a request lifecycle in a retryable http client.
type TimeoutConfig struct {
	// DialTimeout is the maximum duration that connection can take before a request attempt is timed out.
	DialTimeoutMsec int64 `toml:"dial_timeout_msec"`
	// ResponseHeaderTimeout is the maximum duration waiting for response headers before a request attempt is timed out.
	ResponseHeaderTimeoutMsec int64 `toml:"response_header_timeout_msec"`
	// RequestTimeout is the maximum duration before the entire request attempt is timed out. This starts when the
	// client starts the connection attempt and ends when the entire response body is read.
	RequestTimeoutMsec int64 `toml:"request_timeout_msec"`
}

// RetryableHTTPClientConfig is the complete config for a retryable http client
type RetryableHTTPClientConfig struct {
	TimeoutConfig
	RetryConfig
}

func defaultLoaderConfig(cfg *Config) error {
	cfg.LoaderConfig = LoaderConfig{
		MaxConcurrency: defaultMaxConcurrency,
	}
	return nil
}

func parseLoaderConfig(cfg *Config) error {
	hc := &cfg.LoaderConfig.HTTP
	if hc.DialTimeoutMsec == 0 {
		hc.DialTimeoutMsec = defaultDialTimeoutMsec
	}
	if hc.ResponseHeaderTimeoutMsec == 0 {
		hc.ResponseHeaderTimeoutMsec = defaultResponseHeaderTimeoutMsec
	}
	if hc.RequestTimeoutMsec == 0 {
		hc.RequestTimeoutMsec = defaultRequestTimeoutMsec
	}
	if hc.MaxRetries == 0 {
		hc.MaxRetries = defaultMaxRetries
	}
	if hc.MinWaitMsec == 0 {
		hc.MinWaitMsec = defaultMinWaitMsec
	}
	if hc.MaxWaitMsec == 0 {
		hc.MaxWaitMsec = defaultMaxWaitMsec
	}
	if hc.MinWaitMsec > hc.MaxWaitMsec {
		return fmt.Errorf("loader.http.min_wait_msec (%d) exceeds max_wait_msec (%d)", hc.MinWaitMsec, hc.MaxWaitMsec)
	}
	return nil
}

