package billing_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyflow/studyflow/pkg/billing"
)

func TestDecodeEvent(t *testing.T) {
	t.Parallel()

	t.Run("subscription event", func(t *testing.T) {
		t.Parallel()

		payload := []byte(`{
			"id": "evt_1",
			"type": "customer.subscription.updated",
			"created": 1767225600,
			"data": {"object": {
				"id": "sub_1",
				"customer": "cus_1",
				"status": "active",
				"cancel_at_period_end": true,
				"current_period_start": 1767225600,
				"current_period_end": 1769904000,
				"trial_end": 1768435200,
				"items": {"data": [{"price": {"id": "price_pro_monthly_sandbox"}}]},
				"metadata": {"user_id": "6d2f9db1-0b42-4f2a-9f2e-0b1f6a1d2c3e"}
			}}
		}`)

		event, err := billing.DecodeEvent(payload)
		require.NoError(t, err)
		assert.Equal(t, "evt_1", event.ID)
		assert.Equal(t, billing.KindSubscriptionUpdated, event.Kind)
		assert.Equal(t, time.Unix(1767225600, 0).UTC(), event.CreatedAt)

		obj, err := event.Subscription()
		require.NoError(t, err)
		snap := obj.Snapshot()
		assert.Equal(t, "sub_1", snap.ID)
		assert.Equal(t, "cus_1", snap.CustomerID)
		assert.Equal(t, "active", snap.ProcessorStatus)
		assert.True(t, snap.CancelAtPeriodEnd)
		assert.Equal(t, "price_pro_monthly_sandbox", snap.PriceID)
		require.NotNil(t, snap.TrialEnd)
		assert.Nil(t, snap.TrialStart)
		assert.Equal(t, uuid.MustParse("6d2f9db1-0b42-4f2a-9f2e-0b1f6a1d2c3e"), snap.UserID)
	})

	t.Run("unknown type maps to KindUnknown", func(t *testing.T) {
		t.Parallel()

		event, err := billing.DecodeEvent([]byte(`{"id":"evt_2","type":"price.updated","created":1,"data":{"object":{}}}`))
		require.NoError(t, err)
		assert.Equal(t, billing.KindUnknown, event.Kind)
	})

	t.Run("missing envelope fields", func(t *testing.T) {
		t.Parallel()

		_, err := billing.DecodeEvent([]byte(`{"created":1}`))
		assert.ErrorIs(t, err, billing.ErrMalformedEvent)

		_, err = billing.DecodeEvent([]byte(`not json`))
		assert.ErrorIs(t, err, billing.ErrMalformedEvent)
	})

	t.Run("checkout object user id", func(t *testing.T) {
		t.Parallel()

		event, err := billing.DecodeEvent([]byte(`{
			"id": "evt_3",
			"type": "checkout.session.completed",
			"created": 1,
			"data": {"object": {"id": "cs_1", "metadata": {"user_id": "garbage"}}}
		}`))
		require.NoError(t, err)

		obj, err := event.CheckoutSession()
		require.NoError(t, err)
		_, err = obj.UserID()
		assert.ErrorIs(t, err, billing.ErrMalformedEvent)
	})

	t.Run("invoice object", func(t *testing.T) {
		t.Parallel()

		event, err := billing.DecodeEvent([]byte(`{
			"id": "evt_4",
			"type": "invoice.paid",
			"created": 1,
			"data": {"object": {
				"id": "in_1",
				"subscription": "sub_1",
				"amount_paid": 1999,
				"currency": "usd"
			}}
		}`))
		require.NoError(t, err)
		assert.Equal(t, billing.KindInvoicePaid, event.Kind)

		obj, err := event.Invoice()
		require.NoError(t, err)
		assert.Equal(t, int64(1999), obj.AmountPaid)

		// Decoding the same payload as the wrong shape must not panic; the
		// id check catches an empty object.
		_, err = event.Subscription()
		require.NoError(t, err) // invoice has an id field too
	})
}
