package webhook

import "errors"

// Verification errors provide stable identities for error classification.
// All of them must map to an HTTP 400 without dispatching the event.
var (
	ErrInvalidConfiguration = errors.New("invalid webhook configuration")
	ErrMalformedHeader      = errors.New("malformed webhook signature header")
	ErrSignatureInvalid     = errors.New("webhook signature mismatch")
	ErrTimestampTooOld      = errors.New("webhook signature timestamp too old")
	ErrTimestampInFuture    = errors.New("webhook signature timestamp in the future")
)

// IsSignatureInvalid reports whether err is any verification failure,
// regardless of whether the digest or the timestamp window caused it.
func IsSignatureInvalid(err error) bool {
	return errors.Is(err, ErrMalformedHeader) ||
		errors.Is(err, ErrSignatureInvalid) ||
		errors.Is(err, ErrTimestampTooOld) ||
		errors.Is(err, ErrTimestampInFuture)
}
