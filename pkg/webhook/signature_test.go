package webhook_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyflow/studyflow/pkg/webhook"
)

func TestParseSignatureHeader(t *testing.T) {
	t.Parallel()

	t.Run("valid header", func(t *testing.T) {
		t.Parallel()

		sig, err := webhook.ParseSignatureHeader("t=1700000000,v1=abcdef0123456789")
		require.NoError(t, err)
		assert.Equal(t, time.Unix(1700000000, 0), sig.Timestamp)
		assert.Equal(t, []string{"abcdef0123456789"}, sig.Digests)
	})

	t.Run("multiple digests during secret rotation", func(t *testing.T) {
		t.Parallel()

		sig, err := webhook.ParseSignatureHeader("t=1700000000,v1=old,v1=new")
		require.NoError(t, err)
		assert.Len(t, sig.Digests, 2)
	})

	t.Run("unknown elements ignored", func(t *testing.T) {
		t.Parallel()

		sig, err := webhook.ParseSignatureHeader("t=1700000000,v0=legacy,v1=digest")
		require.NoError(t, err)
		assert.Equal(t, []string{"digest"}, sig.Digests)
	})

	tests := []struct {
		name   string
		header string
	}{
		{name: "empty header", header: ""},
		{name: "missing timestamp", header: "v1=digest"},
		{name: "missing digest", header: "t=1700000000"},
		{name: "non-numeric timestamp", header: "t=abc,v1=digest"},
		{name: "element without equals", header: "t=1700000000,v1digest"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := webhook.ParseSignatureHeader(tt.header)
			assert.ErrorIs(t, err, webhook.ErrMalformedHeader)
		})
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()

	const secret = "whsec_test_secret"
	payload := []byte(`{"id":"evt_123","type":"invoice.paid"}`)

	t.Run("sign and verify round trip", func(t *testing.T) {
		t.Parallel()

		header := webhook.Sign(secret, payload, time.Now())
		assert.NoError(t, webhook.Verify(secret, payload, header, webhook.DefaultTolerance))
	})

	t.Run("verification binds to exact bytes", func(t *testing.T) {
		t.Parallel()

		header := webhook.Sign(secret, payload, time.Now())
		tampered := []byte(`{"id":"evt_123","type":"invoice.paid"} `)
		assert.ErrorIs(t, webhook.Verify(secret, tampered, header, webhook.DefaultTolerance), webhook.ErrSignatureInvalid)
	})

	t.Run("wrong secret rejected", func(t *testing.T) {
		t.Parallel()

		header := webhook.Sign("whsec_other", payload, time.Now())
		assert.ErrorIs(t, webhook.Verify(secret, payload, header, webhook.DefaultTolerance), webhook.ErrSignatureInvalid)
	})

	t.Run("stale timestamp rejected", func(t *testing.T) {
		t.Parallel()

		header := webhook.Sign(secret, payload, time.Now().Add(-10*time.Minute))
		assert.ErrorIs(t, webhook.Verify(secret, payload, header, webhook.DefaultTolerance), webhook.ErrTimestampTooOld)
	})

	t.Run("future timestamp rejected", func(t *testing.T) {
		t.Parallel()

		header := webhook.Sign(secret, payload, time.Now().Add(10*time.Minute))
		assert.ErrorIs(t, webhook.Verify(secret, payload, header, webhook.DefaultTolerance), webhook.ErrTimestampInFuture)
	})

	t.Run("small clock skew tolerated", func(t *testing.T) {
		t.Parallel()

		header := webhook.Sign(secret, payload, time.Now().Add(30*time.Second))
		assert.NoError(t, webhook.Verify(secret, payload, header, webhook.DefaultTolerance))
	})

	t.Run("rotated secret accepted via second digest", func(t *testing.T) {
		t.Parallel()

		now := time.Now()
		oldHeader := webhook.Sign("whsec_retired", payload, now)
		newHeader := webhook.Sign(secret, payload, now)
		// Combine both digests under one timestamp, as processors do mid-rotation.
		combined := fmt.Sprintf("%s,%s", oldHeader, newHeader[len("t=0000000000,"):])
		assert.NoError(t, webhook.Verify(secret, payload, combined, webhook.DefaultTolerance))
	})

	t.Run("missing secret is a configuration error", func(t *testing.T) {
		t.Parallel()

		header := webhook.Sign(secret, payload, time.Now())
		assert.ErrorIs(t, webhook.Verify("", payload, header, 0), webhook.ErrInvalidConfiguration)
	})

	t.Run("empty payload rejected", func(t *testing.T) {
		t.Parallel()

		header := webhook.Sign(secret, payload, time.Now())
		assert.ErrorIs(t, webhook.Verify(secret, nil, header, 0), webhook.ErrSignatureInvalid)
	})
}

func TestIsSignatureInvalid(t *testing.T) {
	t.Parallel()

	assert.True(t, webhook.IsSignatureInvalid(webhook.ErrSignatureInvalid))
	assert.True(t, webhook.IsSignatureInvalid(webhook.ErrMalformedHeader))
	assert.True(t, webhook.IsSignatureInvalid(webhook.ErrTimestampTooOld))
	assert.True(t, webhook.IsSignatureInvalid(webhook.ErrTimestampInFuture))
	assert.False(t, webhook.IsSignatureInvalid(webhook.ErrInvalidConfiguration))
	assert.False(t, webhook.IsSignatureInvalid(nil))
}
