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
	"errors"
	"io"
	"net/url"
)

// RedactHTTPQueryValuesFromError redacts query values in the URL of a
// *url.Error, so presigned archive URLs do not leak their tokens into logs.
// Other errors are returned unchanged.
func RedactHTTPQueryValuesFromError(err error) error {
	var urlErr *url.Error

	if err != nil && errors.As(err, &urlErr) {
		u, urlParseErr := url.Parse(urlErr.URL)
		if urlParseErr == nil {
			RedactHTTPQueryValuesFromURL(u)
			urlErr.URL = u.Redacted()
			return urlErr
		}
	}

	return err
}

// RedactHTTPQueryValuesFromURL redacts HTTP query values from a URL.
func RedactHTTPQueryValuesFromURL(u *url.URL) {
	if u != nil {
		if query := u.Query(); len(query) > 0 {
			for k := range query {
				query.Set(k, "redacted")
			}
			u.RawQuery = query.Encode()
		}
	}
}

// RedactHTTPQueryValuesFromString redacts HTTP query values and user
// credentials from a URL string. Strings that do not parse are returned
// unchanged.
func RedactHTTPQueryValuesFromString(s string) string {
	u, err := url.Parse(s)
	if err != nil {
		return s
	}
	RedactHTTPQueryValuesFromURL(u)
	return u.Redacted()
}

// Drain tries to read and close the response body so the connection can be reused.
// Since it consumes the response body, this should only be used when the
// response body is no longer needed.
func Drain(body io.ReadCloser) {
	defer body.Close()

	// Bodies bigger than this are cheaper to drop with the connection.
	const responseReadLimit = int64(4096)
	_, _ = io.Copy(io.Discard, io.LimitReader(body, responseReadLimit))
}
