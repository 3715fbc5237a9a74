// Copyright 2019 Canonical Ltd.
// Licensed under the LGPLv3 with static-linking exception.
// See LICENCE file for details.

package kmyth

import (
	"fmt"

	"golang.org/x/xerrors"
)

// Kind classifies an error raised by the core, per spec.md section 7.
type Kind int

const (
	// KindInvalidInput covers wrong-length nonces, empty curves, and
	// unrecognized hash algorithms. Caller-fixable.
	KindInvalidInput Kind = iota
	// KindTpmError is a non-retryable TPM response code.
	KindTpmError
	// KindTpmRetry is a retry-class response code. Session.Exchange returns
	// it once its bounded attempts are used up; StartSession and the policy
	// commands return it on the first retry-class code, without retrying.
	KindTpmRetry
	// KindAuthVerificationFailed is a response HMAC mismatch.
	KindAuthVerificationFailed
	// KindPolicyNotSatisfied means neither branch of a policy-OR applies,
	// or PCR state does not match a simple policy.
	KindPolicyNotSatisfied
	// KindTransportTimeout is returned when the context ends during a retry
	// back-off.
	KindTransportTimeout
	// KindTransportFailure is any error returned by Transport.Send,
	// timeouts included; they are not classified further.
	KindTransportFailure
	// KindKdfConfiguration means HKDF output was too short for the
	// requested key lengths. Program error, fatal.
	KindKdfConfiguration
	// KindInternal is an invariant violation, e.g. exchange on a closed
	// session.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid input"
	case KindTpmError:
		return "TPM error"
	case KindTpmRetry:
		return "TPM retry exhausted"
	case KindAuthVerificationFailed:
		return "authorization verification failed"
	case KindPolicyNotSatisfied:
		return "policy not satisfied"
	case KindTransportTimeout:
		return "transport timeout"
	case KindTransportFailure:
		return "transport failure"
	case KindKdfConfiguration:
		return "KDF configuration error"
	case KindInternal:
		return "internal error"
	default:
		return "unknown error"
	}
}

// Error is the error type produced by the exported functions in this
// package; Unseal may instead return a *multierror.Error that aggregates
// an *Error with a failure from closing its session. The Code field carries the raw TPM response code for
// KindTpmError/KindTpmRetry; it is zero otherwise.
type Error struct {
	Kind    Kind
	Code    ResponseCode
	Attempt int
	msg     string
	err     error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindTpmError:
		return fmt.Sprintf("%s: response code 0x%08x: %s", e.Kind, e.Code, e.msg)
	case KindTpmRetry:
		return fmt.Sprintf("%s: response code 0x%08x exhausted after %d attempts", e.Kind, e.Code, e.Attempt)
	default:
		if e.msg == "" {
			return e.Kind.String()
		}
		return fmt.Sprintf("%s: %s", e.Kind, e.msg)
	}
}

func (e *Error) Unwrap() error {
	return e.err
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

func wrapError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, msg: msg, err: err}
}

func invalidInputf(format string, args ...interface{}) *Error {
	return newError(KindInvalidInput, fmt.Sprintf(format, args...))
}

func internalf(format string, args ...interface{}) *Error {
	return newError(KindInternal, fmt.Sprintf(format, args...))
}

// IsKind reports whether err is a *Error of the given kind, unwrapping
// through any wrapping in the chain.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return xerrors.As(err, &e) && e.Kind == kind
}

// tpmError wraps a non-success response code for the given command as the
// appropriate *Error, classifying retry-class codes separately so callers
// can drive the bounded-retry loop in retry.go.
func tpmError(command CommandCode, rc ResponseCode) *Error {
	if isRetryClass(rc) {
		return &Error{Kind: KindTpmRetry, Code: rc}
	}
	return &Error{Kind: KindTpmError, Code: rc, msg: fmt.Sprintf("command 0x%08x", uint32(command))}
}

// Response-code format bit layout, TPM 2.0 Part 2 section 6.6. Grounded on
// the teacher's DecodeResponseCode, which implements the same format-0 /
// format-1 split.
const (
	rcFormatMask       ResponseCode = 1 << 7
	rcFmt0VersionMask  ResponseCode = 1 << 8
	rcFmt0SeverityMask ResponseCode = 1 << 11
)

// Retry-class format-0 response codes (TPM 2.0 Part 2 table 17): these
// indicate transient conditions the caller may retry, per spec.md section
// 4.6 "Failure semantics".
const (
	rcRetry   ResponseCode = 0x922
	rcYielded ResponseCode = 0x908
	rcTesting ResponseCode = 0x90a
)

func isRetryClass(rc ResponseCode) bool {
	switch rc {
	case rcRetry, rcYielded, rcTesting:
		return true
	default:
		return false
	}
}

// isWarningClass reports whether rc is a format-0 warning (severity bit
// set but not one of the specific retry-class codes above). Per spec.md
// section 4.6, warning-class codes that indicate transient object-load
// pressure are not retried at this layer.
func isWarningClass(rc ResponseCode) bool {
	if rc&rcFormatMask != 0 {
		return false
	}
	return rc&rcFmt0VersionMask != 0 && rc&rcFmt0SeverityMask != 0 && !isRetryClass(rc)
}
