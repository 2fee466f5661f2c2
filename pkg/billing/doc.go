// Package billing synchronizes local subscription state with the external
// payment processor.
//
// The processor is the source of truth for billing status. This package
// mirrors it locally through two inputs that may interleave arbitrarily:
//
//   - asynchronous webhook events, delivered at least once and possibly out
//     of order, applied by the reconciler under idempotency and stale-event
//     guards;
//   - synchronous user actions (checkout, cancel, resume, portal) where the
//     processor call is the commit point and local state is written only
//     after it succeeds.
//
// The package also hosts the usage-limit enforcer, which gates creation of
// quota-bound resources against the effective plan, and the processor client
// abstraction with its Stripe implementation.
//
// Persistence is document-oriented: one subscription record per user,
// append-only payment ledger entries, and a write-only activity log.
package billing
