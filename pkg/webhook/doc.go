// Package webhook authenticates inbound webhook deliveries from the payment
// processor.
//
// Signatures follow the scheme used by Stripe and most modern webhook
// providers: the signature header carries a unix timestamp and one or more
// HMAC-SHA256 digests computed over "timestamp.rawBody". Verification must
// run on the exact bytes received, before any JSON decoding, and rejects
// deliveries whose timestamp falls outside the tolerance window to block
// replay of captured payloads.
//
// # Basic Usage
//
//	payload, _ := io.ReadAll(r.Body)
//	header := r.Header.Get("Stripe-Signature")
//	if err := webhook.Verify(secret, payload, header, webhook.DefaultTolerance); err != nil {
//	    // respond 400, do not dispatch
//	}
//
// Sign produces a header that Verify accepts. It exists for tests and local
// replay tooling; the processor signs real deliveries on its side.
package webhook
