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

	"github.com/containerd/errdefs"
)

// Kind classifies a decode failure. Every kind is terminal for the session
// that reported it.
type Kind int

const (
	// InvalidBlockType is reported for the reserved block type 11.
	InvalidBlockType Kind = iota + 1
	// BadLengthField is reported when a stored block's LEN and NLEN are not
	// one's complements of each other.
	BadLengthField
	// BadRepeatCode is reported for a repeat code with nothing to repeat or
	// a repeat running past the end of the code length list.
	BadRepeatCode
	// BadCodeLengthCode is reported when the code-length alphabet yields a
	// symbol outside 0..18.
	BadCodeLengthCode
	// InvalidLiteralOrLength is reported for a literal/length symbol outside
	// 0..285.
	InvalidLiteralOrLength
	// BadDistanceCode is reported for a distance symbol outside 0..29.
	BadDistanceCode
	// CopyUnderflow is reported when a back-reference reaches before the
	// first byte of output.
	CopyUnderflow
	// OutputOverflow is reported when a one-shot session produces more than
	// its reserved output.
	OutputOverflow
	// TruncatedInput is reported when the compressed input ends, or the
	// byte source fails, before the final block is complete.
	TruncatedInput
	// OversubscribedCode is reported when a set of code lengths describes
	// more codes than the code space holds.
	OversubscribedCode
	// ChecksumMismatch is reported when decoded output does not match the
	// expected CRC-32.
	ChecksumMismatch
	// SizeMismatch is reported when the stream ends with a different amount
	// of output than the caller declared.
	SizeMismatch
)

var kindNames = map[Kind]string{
	InvalidBlockType:       "invalid block type",
	BadLengthField:         "stored block length check failed",
	BadRepeatCode:          "bad repeat code",
	BadCodeLengthCode:      "bad code length code",
	InvalidLiteralOrLength: "invalid literal/length code",
	BadDistanceCode:        "bad distance code",
	CopyUnderflow:          "distance too far back",
	OutputOverflow:         "output buffer overflow",
	TruncatedInput:         "unexpected end of compressed data",
	OversubscribedCode:     "over-subscribed code lengths",
	ChecksumMismatch:       "checksum mismatch",
	SizeMismatch:           "uncompressed size mismatch",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("unknown error kind %d", int(k))
}

// Error is a decode failure. Offset is the compressed byte offset the
// decoder had reached when the failure was detected.
type Error struct {
	Kind   Kind
	Offset int64
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("inflate: %s at compressed offset %d", e.Kind, e.Offset)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause, if any, and classifies every decode
// failure as errdefs.ErrDataLoss.
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{errdefs.ErrDataLoss, e.Err}
	}
	return []error{errdefs.ErrDataLoss}
}

// Is matches another *Error of the same kind, so the sentinels below work
// with errors.Is regardless of offset.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrInvalidBlockType       = &Error{Kind: InvalidBlockType}
	ErrBadLengthField         = &Error{Kind: BadLengthField}
	ErrBadRepeatCode          = &Error{Kind: BadRepeatCode}
	ErrBadCodeLengthCode      = &Error{Kind: BadCodeLengthCode}
	ErrInvalidLiteralOrLength = &Error{Kind: InvalidLiteralOrLength}
	ErrBadDistanceCode        = &Error{Kind: BadDistanceCode}
	ErrCopyUnderflow          = &Error{Kind: CopyUnderflow}
	ErrOutputOverflow         = &Error{Kind: OutputOverflow}
	ErrTruncatedInput         = &Error{Kind: TruncatedInput}
	ErrOversubscribedCode     = &Error{Kind: OversubscribedCode}
	ErrChecksumMismatch       = &Error{Kind: ChecksumMismatch}
	ErrSizeMismatch           = &Error{Kind: SizeMismatch}
)

// ErrClosed is returned by a session used after Close.
var ErrClosed = fmt.Errorf("inflate: session closed: %w", errdefs.ErrFailedPrecondition)

// KindOf returns the kind of a decode failure anywhere in err's chain, or
// zero if err is not one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
