// Package webhooks receives identity provider event deliveries.
//
// Deliveries are authenticated with an HMAC-SHA256 signature over the
// delivery ID, timestamp and raw payload, carried in svix-style headers.
// The signing secret can be a static value or a watched file that reloads
// on rotation. Verified payloads are decoded by pkg/events and handed to
// the reconciler; the HTTP status reported back to the provider controls
// its redelivery behavior (2xx acknowledges, 5xx requests a retry).
package webhooks
