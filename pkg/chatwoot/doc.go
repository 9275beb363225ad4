// Package chatwoot is a stateless client for the Chatwoot platform API:
// account and user provisioning, account-user links, and one-time login URL
// issuance. Every non-2xx response surfaces as *APIError; callers do not
// distinguish remote error subtypes.
package chatwoot
