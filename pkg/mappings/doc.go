// Package mappings persists the two identifier-space mappings deskbridge
// maintains: identity-provider organizations to support platform accounts, and
// identity-provider users to support platform users.
//
// # Store
//
// SQLStore keeps one row per external ID with store-level uniqueness; a lost
// insert race is resolved by refetching the winning row, so concurrent
// identical webhook deliveries converge on a single mapping.
//
// # Bounded-retry lookups
//
// Webhook delivery carries no ordering guarantee, so a membership event can
// arrive before its organization's mapping is visible. ResolveWithRetry wraps
// any lookup with the shared retry policy (20 attempts, 1s apart by default)
// and is used by both the event reconciler and the SSO redirector.
//
// # Caching
//
// CachedStore adds an LRU L1 and optional Redis L2 in front of the store.
// Not-found results are never cached so retried lookups always reach the
// database.
package mappings
