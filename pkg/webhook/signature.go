package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultTolerance is the maximum accepted age of a signed payload.
	// Five minutes matches what Stripe enforces by default and leaves room
	// for reasonable clock skew between the processor and this service.
	DefaultTolerance = 5 * time.Minute

	// futureSkew bounds how far ahead of local time a timestamp may be.
	// Small skew is expected between hosts; anything beyond it is a forgery
	// or a badly broken clock, and both warrant rejection.
	futureSkew = time.Minute

	schemePrefix = "v1"
)

// Signature is the parsed content of a signature header.
type Signature struct {
	Timestamp time.Time
	// Digests holds every v1 digest present in the header. Processors send
	// multiple digests while a webhook secret is being rotated; verification
	// succeeds if any one of them matches.
	Digests []string
}

// ParseSignatureHeader parses a "t=<unix>,v1=<hex>[,v1=<hex>...]" header.
// Elements with unknown prefixes are ignored for forward compatibility.
func ParseSignatureHeader(header string) (Signature, error) {
	var sig Signature

	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			return Signature{}, fmt.Errorf("%w: element %q", ErrMalformedHeader, part)
		}

		switch key {
		case "t":
			ts, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return Signature{}, fmt.Errorf("%w: invalid timestamp %q", ErrMalformedHeader, value)
			}
			sig.Timestamp = time.Unix(ts, 0)
		case schemePrefix:
			sig.Digests = append(sig.Digests, value)
		}
	}

	if sig.Timestamp.IsZero() || len(sig.Digests) == 0 {
		return Signature{}, fmt.Errorf("%w: missing timestamp or digest", ErrMalformedHeader)
	}

	return sig, nil
}

// Verify authenticates payload against the signature header.
// The payload must be the exact raw bytes received on the wire.
// A non-positive tolerance falls back to DefaultTolerance.
func Verify(secret string, payload []byte, header string, tolerance time.Duration) error {
	if secret == "" {
		return fmt.Errorf("%w: secret is required", ErrInvalidConfiguration)
	}
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrSignatureInvalid)
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}

	sig, err := ParseSignatureHeader(header)
	if err != nil {
		return err
	}

	age := time.Since(sig.Timestamp)
	if age > tolerance {
		return fmt.Errorf("%w: signed %v ago", ErrTimestampTooOld, age.Truncate(time.Second))
	}
	if age < -futureSkew {
		return ErrTimestampInFuture
	}

	expected := computeDigest(secret, payload, sig.Timestamp)
	for _, digest := range sig.Digests {
		if hmac.Equal([]byte(expected), []byte(digest)) {
			return nil
		}
	}

	return ErrSignatureInvalid
}

// Sign produces a signature header for payload as of the given time.
func Sign(secret string, payload []byte, at time.Time) string {
	return fmt.Sprintf("t=%d,%s=%s", at.Unix(), schemePrefix, computeDigest(secret, payload, at))
}

// computeDigest returns HMAC-SHA256(secret, "<unix>.<payload>") hex-encoded.
func computeDigest(secret string, payload []byte, at time.Time) string {
	h := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(h, "%d.", at.Unix())
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
