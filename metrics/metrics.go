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

package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/awslabs/cldc-inflater/compression/inflate"
	gometrics "github.com/docker/go-metrics"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	// SessionCountKey is the key for decode session count metrics.
	SessionCountKey = "sessions_total"

	// BytesKey is the key for compressed and uncompressed byte count metrics.
	BytesKey = "bytes_total"

	// BufferAllocationsKey is the key for buffer allocation count metrics.
	BufferAllocationsKey = "buffer_allocations_total"

	// DecodeLatencyKeyMicroseconds is the key for decode latency metrics in microseconds.
	DecodeLatencyKeyMicroseconds = "decode_duration_microseconds"

	// ResourceLoadKey is the key of the resource load timer.
	ResourceLoadKey = "resource_load"

	namespace = "cldc"
	subsystem = "inflate"
)

// Label values.
const (
	ResultOK = "ok"

	DirectionCompressed   = "compressed"
	DirectionUncompressed = "uncompressed"

	BufferInput  = "input"
	BufferOutput = "output"
)

var (
	latencyBucketsMicroseconds = []float64{1, 4, 16, 64, 256, 1024, 4096, 16384, 65536, 262144, 1048576} // in microseconds

	// sessionCount counts finished decode sessions by mode and result. The
	// result is "ok" or the kind of decode failure.
	sessionCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      SessionCountKey,
			Help:      "The count of finished decode sessions. Broken down by decode mode and result.",
		},
		[]string{"mode", "result"},
	)

	bytesCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      BytesKey,
			Help:      "The number of bytes decoded. Broken down by direction.",
		},
		[]string{"direction"},
	)

	bufferAllocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      BufferAllocationsKey,
			Help:      "The number of session buffers allocated. Broken down by buffer.",
		},
		[]string{"buffer"},
	)

	decodeLatencyMicroseconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      DecodeLatencyKeyMicroseconds,
			Help:      "Latency in microseconds of decode sessions. Broken down by decode mode.",
			Buckets:   latencyBucketsMicroseconds,
		},
		[]string{"mode"},
	)

	ns           = gometrics.NewNamespace(namespace, subsystem, nil)
	resourceLoad = ns.NewLabeledTimer(ResourceLoadKey, "Time to load a resource from the catalog, decode included.", "method")
)

var register sync.Once

// sinceInMicroseconds gets the time since the specified start in microseconds.
// The division is made to have the microseconds value as floating point number, since the native method
// .Microseconds() returns an integer value and you can lose precision for sub-microsecond values.
func sinceInMicroseconds(start time.Time) float64 {
	return float64(time.Since(start).Nanoseconds()) / float64(time.Microsecond/time.Nanosecond)
}

// Register registers metrics. This is always called only once.
func Register() {
	register.Do(func() {
		prometheus.MustRegister(sessionCount)
		prometheus.MustRegister(bytesCount)
		prometheus.MustRegister(bufferAllocations)
		prometheus.MustRegister(decodeLatencyMicroseconds)
		gometrics.Register(ns)
	})
}

// Handler serves the registered metrics.
func Handler() http.Handler {
	return gometrics.Handler()
}

// Result returns the result label of a finished session.
func Result(err error) string {
	if err == nil {
		return ResultOK
	}
	if k := inflate.KindOf(err); k != 0 {
		return k.String()
	}
	return "error"
}

// ObserveSession records a finished decode session: its result, the bytes
// it moved, the buffers it allocated and how long it took since start. It
// is a compression.SessionObserver.
func ObserveSession(mode string, st inflate.Stats, start time.Time, err error) {
	sessionCount.WithLabelValues(mode, Result(err)).Inc()
	bytesCount.WithLabelValues(DirectionCompressed).Add(float64(st.CompressedConsumed))
	bytesCount.WithLabelValues(DirectionUncompressed).Add(float64(st.TotalOut))
	bufferAllocations.WithLabelValues(BufferInput).Add(float64(st.InputAllocations))
	bufferAllocations.WithLabelValues(BufferOutput).Add(float64(st.OutputAllocations))
	decodeLatencyMicroseconds.WithLabelValues(mode).Observe(sinceInMicroseconds(start))
}

// MeasureResourceLoad records the time since start spent loading a
// resource stored with method.
func MeasureResourceLoad(method string, start time.Time) {
	resourceLoad.WithValues(method).UpdateSince(start)
}
