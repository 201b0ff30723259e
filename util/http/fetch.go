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

package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/containerd/errdefs"
)

// IsRemote reports whether location names an archive served over HTTP.
func IsRemote(location string) bool {
	return strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://")
}

type rangeBody struct {
	io.Reader
	io.Closer
}

// FetchRange returns a reader over n bytes at off of the archive at
// location. Servers that ignore the Range header are tolerated by skipping
// the leading bytes of the full response.
func FetchRange(ctx context.Context, client *http.Client, location string, off, n int64) (io.ReadCloser, error) {
	redacted := RedactHTTPQueryValuesFromString(location)
	if off < 0 || n < 0 {
		return nil, fmt.Errorf("invalid range %d+%d of %s: %w", off, n, redacted, errdefs.ErrInvalidArgument)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid archive url %s: %w", redacted, errdefs.ErrInvalidArgument)
	}
	if n == 0 {
		// An empty range has no Range header form.
		return io.NopCloser(strings.NewReader("")), nil
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", off, off+n-1))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch archive range: %w", RedactHTTPQueryValuesFromError(err))
	}
	switch resp.StatusCode {
	case http.StatusPartialContent:
		var start int64
		if _, err := fmt.Sscanf(resp.Header.Get("Content-Range"), "bytes %d-", &start); err != nil || start != off {
			Drain(resp.Body)
			return nil, fmt.Errorf("GET %s: unexpected Content-Range %q for offset %d", redacted, resp.Header.Get("Content-Range"), off)
		}
		return rangeBody{io.LimitReader(resp.Body, n), resp.Body}, nil
	case http.StatusOK:
		if _, err := io.CopyN(io.Discard, resp.Body, off); err != nil {
			Drain(resp.Body)
			return nil, fmt.Errorf("GET %s: archive shorter than offset %d: %w", redacted, off, err)
		}
		return rangeBody{io.LimitReader(resp.Body, n), resp.Body}, nil
	}

	Drain(resp.Body)
	statusErr := fmt.Errorf("GET %s: %s", redacted, resp.Status)
	switch resp.StatusCode {
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %w", statusErr, errdefs.ErrNotFound)
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, fmt.Errorf("%w: %w", statusErr, errdefs.ErrPermissionDenied)
	case http.StatusRequestedRangeNotSatisfiable:
		return nil, fmt.Errorf("%w: %w", statusErr, errdefs.ErrOutOfRange)
	}
	return nil, fmt.Errorf("%w: %w", statusErr, errdefs.ErrUnavailable)
}
