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

// Package resource loads compressed resources named in a catalog, from
// archive files or from bytes resident in the catalog itself.
package resource

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/awslabs/cldc-inflater/catalog"
	"github.com/awslabs/cldc-inflater/compression"
	"github.com/awslabs/cldc-inflater/compression/inflate"
	"github.com/awslabs/cldc-inflater/config"
	"github.com/awslabs/cldc-inflater/metrics"
	"github.com/awslabs/cldc-inflater/tracing"
	httputil "github.com/awslabs/cldc-inflater/util/http"
	"github.com/awslabs/cldc-inflater/util/ioutils"
	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Catalog looks up resources by name.
type Catalog interface {
	Get(ctx context.Context, name string) (*catalog.Entry, error)
}

// Option configures a Loader.
type Option func(*Loader)

// WithAllocator sets the allocator for decode session buffers.
func WithAllocator(a inflate.Allocator) Option {
	return func(l *Loader) { l.alloc = a }
}

// WithSessionObserver replaces the observer told about every finished
// decode session. The default records Prometheus metrics.
func WithSessionObserver(o compression.SessionObserver) Option {
	return func(l *Loader) { l.observe = o }
}

// WithHTTPClient sets the client used for archives at http(s) locations.
// The default retries according to the loader's HTTP configuration.
func WithHTTPClient(c *http.Client) Option {
	return func(l *Loader) { l.client = c }
}

// Loader loads resources listed in a catalog.
type Loader struct {
	cfg     config.Config
	catalog Catalog
	alloc   inflate.Allocator
	observe compression.SessionObserver
	client  *http.Client
}

// NewLoader returns a Loader reading entries from cat.
func NewLoader(cfg *config.Config, cat Catalog, opts ...Option) *Loader {
	l := &Loader{
		cfg:     *cfg,
		catalog: cat,
		alloc:   inflate.HeapAllocator{},
		observe: metrics.ObserveSession,
	}
	for _, o := range opts {
		o(l)
	}
	if l.client == nil {
		l.client = httputil.NewRetryableClient(cfg.HTTP)
	}
	return l
}

func (l *Loader) extractor(method string) (compression.Extractor, error) {
	opts := append(l.cfg.SessionOptions(), inflate.WithAllocator(l.alloc))
	return compression.NewExtractor(method, l.observe, opts...)
}

// openSource resolves an entry to the compressed bytes it names. The
// returned closer releases the archive file or response body, if any.
func (l *Loader) openSource(ctx context.Context, e *catalog.Entry) (compression.Source, *ioutils.PositionTrackerReader, io.Closer, error) {
	src := compression.Source{
		CompressedSize:   compression.Offset(e.CompressedSize),
		UncompressedSize: compression.Offset(e.UncompressedSize),
		CRC32:            e.CRC32,
	}
	if e.Resident {
		if l.cfg.VerifyResidentDigest && e.Digest != "" {
			if err := e.Digest.Validate(); err != nil {
				return src, nil, nil, fmt.Errorf("invalid digest for resident resource: %w", err)
			}
			v := e.Digest.Verifier()
			v.Write(e.Data)
			if !v.Verified() {
				return src, nil, nil, fmt.Errorf("resident bytes do not match digest %s: %w", e.Digest, errdefs.ErrDataLoss)
			}
			log.G(ctx).Trace("verified resident resource digest")
		}
		src.Data = e.Data
		return src, nil, io.NopCloser(nil), nil
	}

	if httputil.IsRemote(e.Location) {
		body, err := httputil.FetchRange(ctx, l.client, e.Location, e.Offset, e.CompressedSize)
		if err != nil {
			return src, nil, nil, err
		}
		r := ioutils.NewRangeTrackerReader(body, e.Offset, e.CompressedSize)
		src.Reader = r
		return src, r, body, nil
	}

	f, err := os.Open(e.Location)
	if err != nil {
		return src, nil, nil, fmt.Errorf("failed to open archive: %w", err)
	}
	r := ioutils.NewSectionTrackerReader(f, e.Offset, e.CompressedSize)
	src.Reader = r
	return src, r, f, nil
}

func withLoadLogger(ctx context.Context, name string) context.Context {
	return log.WithLogger(ctx, log.G(ctx).WithFields(logrus.Fields{
		"resource": name,
		"load_id":  xid.New().String(),
	}))
}

// Load decodes the resource called name in full. Resources larger than the
// configured incremental threshold are decoded through a bounded output
// window.
func (l *Loader) Load(ctx context.Context, name string) ([]byte, error) {
	ctx, span := tracing.Start(withLoadLogger(ctx, name), "resource.Load", attribute.String("resource.name", name))
	data, err := l.load(ctx, name)
	tracing.End(span, err)
	return data, err
}

func (l *Loader) load(ctx context.Context, name string) ([]byte, error) {
	start := time.Now()

	e, err := l.catalog.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load resource %q: %w", name, err)
	}
	defer metrics.MeasureResourceLoad(e.Method, start)

	src, pos, closer, err := l.openSource(ctx, e)
	if err != nil {
		log.G(ctx).WithError(err).Error("failed to open resource")
		return nil, fmt.Errorf("failed to load resource %q: %w", name, err)
	}
	defer closer.Close()

	ex, err := l.extractor(e.Method)
	if err != nil {
		return nil, fmt.Errorf("failed to load resource %q: %w", name, err)
	}

	var data []byte
	mode := compression.ModeOneShot
	if e.UncompressedSize > l.cfg.IncrementalThreshold {
		mode = compression.ModeIncremental
		data, err = readStream(ex, src, e.UncompressedSize)
	} else {
		data, err = ex.Extract(src)
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("resource.method", e.Method),
		attribute.String("resource.mode", mode),
		attribute.Bool("resource.resident", e.Resident),
	)
	if err != nil {
		entry := log.G(ctx).WithError(err).WithField("mode", mode)
		if pos != nil {
			entry = entry.WithField("archive_offset", pos.CurrentPos())
		}
		entry.Error("failed to decode resource")
		return nil, fmt.Errorf("failed to load resource %q: %w", name, err)
	}
	log.G(ctx).WithFields(logrus.Fields{
		"mode":              mode,
		"method":            e.Method,
		"compressed_size":   e.CompressedSize,
		"uncompressed_size": len(data),
		"resident":          e.Resident,
	}).Debug("loaded resource")
	return data, nil
}

func readStream(ex compression.Extractor, src compression.Source, size int64) ([]byte, error) {
	rc, err := ex.Stream(src)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var buf bytes.Buffer
	buf.Grow(int(size))
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Open returns a reader streaming the decoded resource called name through
// a bounded output window. The caller must close it.
func (l *Loader) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	ctx, span := tracing.Start(withLoadLogger(ctx, name), "resource.Open", attribute.String("resource.name", name))
	rc, err := l.open(ctx, name)
	tracing.End(span, err)
	return rc, err
}

func (l *Loader) open(ctx context.Context, name string) (io.ReadCloser, error) {
	e, err := l.catalog.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to open resource %q: %w", name, err)
	}
	src, _, closer, err := l.openSource(ctx, e)
	if err != nil {
		log.G(ctx).WithError(err).Error("failed to open resource")
		return nil, fmt.Errorf("failed to open resource %q: %w", name, err)
	}
	ex, err := l.extractor(e.Method)
	if err != nil {
		closer.Close()
		return nil, fmt.Errorf("failed to open resource %q: %w", name, err)
	}
	rc, err := ex.Stream(src)
	if err != nil {
		closer.Close()
		return nil, fmt.Errorf("failed to open resource %q: %w", name, err)
	}
	log.G(ctx).WithField("method", e.Method).Debug("streaming resource")
	return &streamCloser{ReadCloser: rc, closer: closer}, nil
}

type streamCloser struct {
	io.ReadCloser
	closer io.Closer
}

func (s *streamCloser) Close() error {
	err := s.ReadCloser.Close()
	if cerr := s.closer.Close(); err == nil {
		err = cerr
	}
	return err
}

// Preload loads every named resource, at most the configured number at a
// time, and returns them by name. The first failure cancels the rest.
func (l *Loader) Preload(ctx context.Context, names []string) (map[string][]byte, error) {
	var (
		mu  sync.Mutex
		out = make(map[string][]byte, len(names))
	)
	eg, egCtx := errgroup.WithContext(ctx)
	if l.cfg.MaxConcurrency > 0 {
		eg.SetLimit(int(l.cfg.MaxConcurrency))
	}
	for _, name := range names {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			data, err := l.Load(egCtx, name)
			if err != nil {
				return err
			}
			mu.Lock()
			out[name] = data
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	log.G(ctx).WithField("count", len(out)).Debug("preloaded resources")
	return out, nil
}
