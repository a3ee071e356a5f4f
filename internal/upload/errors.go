// Package upload implements the resilient invoice-upload orchestrator:
// pre-flight validation, adaptive retry with backoff and jitter, post-upload
// verification, cleanup on failure, and per-upload metrics.
package upload

import (
	"errors"
	"fmt"
	"strings"

	"github.com/D3MONSAUSAGE/teamtegrate-ingest/internal/storage"
)

// Kind classifies an upload failure. Retry decisions switch on the kind,
// never on error message text.
type Kind int

const (
	// KindTransient covers network and server failures that may succeed on
	// retry. It is the fallback classification for unrecognized errors.
	KindTransient Kind = iota
	// KindValidation is a pre-flight size or type rejection.
	KindValidation
	// KindUnauthorized is an authentication failure.
	KindUnauthorized
	// KindForbidden is an authorization failure.
	KindForbidden
	// KindQuotaExceeded is a storage quota or payload-size rejection.
	KindQuotaExceeded
	// KindInvalidInput is a malformed-request rejection.
	KindInvalidInput
	// KindNetworkUnavailable is a failed pre-flight health check.
	KindNetworkUnavailable
	// KindVerificationFailed means the object was written but failed
	// post-upload verification.
	KindVerificationFailed
	// KindCanceled means the caller canceled the upload.
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindInvalidInput:
		return "invalid_input"
	case KindNetworkUnavailable:
		return "network_unavailable"
	case KindVerificationFailed:
		return "verification_failed"
	case KindCanceled:
		return "canceled"
	case KindTransient:
		return "transient"
	default:
		return "transient"
	}
}

// Retryable reports whether a failure of this kind may succeed on a later
// attempt. Validation, auth, quota, and syntax failures recur identically on
// every attempt, so retrying them only wastes the budget.
func (k Kind) Retryable() bool {
	switch k {
	case KindTransient, KindVerificationFailed:
		return true
	case KindValidation, KindUnauthorized, KindForbidden, KindQuotaExceeded,
		KindInvalidInput, KindNetworkUnavailable, KindCanceled:
		return false
	default:
		return true
	}
}

// Error is a tagged upload failure carrying the classification kind and the
// attempt index that produced it.
type Error struct {
	Kind    Kind
	Attempt int
	Message string
	Err     error // underlying cause, for errors.Is/As
}

func (e *Error) Error() string {
	return fmt.Sprintf("upload: %s (attempt %d): %s", e.Kind, e.Attempt, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// nonRetryableFragments is the legacy substring fallback for errors that
// arrive untyped from collaborators. Matching is case-insensitive and in
// declaration order, so a message containing several fragments always
// classifies as the first listed.
var nonRetryableFragments = []struct {
	fragment string
	kind     Kind
}{
	{"file too large", KindValidation},
	{"invalid file type", KindValidation},
	{"unauthorized", KindUnauthorized},
	{"forbidden", KindForbidden},
	{"quota exceeded", KindQuotaExceeded},
	{"invalid input syntax", KindInvalidInput},
}

// classify maps an error to a Kind. Typed errors (upload.Error, storage
// sentinels) are classified by tag; anything else falls back to the
// substring scan, defaulting to transient.
func classify(err error) Kind {
	var uerr *Error
	if errors.As(err, &uerr) {
		return uerr.Kind
	}

	switch {
	case errors.Is(err, storage.ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, storage.ErrForbidden):
		return KindForbidden
	case errors.Is(err, storage.ErrQuotaExceeded):
		return KindQuotaExceeded
	case errors.Is(err, storage.ErrInvalidInput):
		return KindInvalidInput
	}

	msg := strings.ToLower(err.Error())
	for _, nf := range nonRetryableFragments {
		if strings.Contains(msg, nf.fragment) {
			return nf.kind
		}
	}

	return KindTransient
}

// retryable reports whether the error may succeed on a later attempt.
func retryable(err error) bool {
	return classify(err).Retryable()
}
