// Package events decodes verified identity provider webhook payloads into
// tagged event variants and reconciles them against the mapping store and the
// support platform.
//
// Events arrive with no ordering guarantee. The only race the reconciler waits
// out is organization-creation propagation: a membership event may be
// delivered before the organization's mapping is visible, so that one lookup
// uses the bounded-retry policy from pkg/mappings. Every other miss is either
// ignored (member removal, organization deletion for unknown organizations) or
// resolved synchronously (lazy user provisioning).
package events
