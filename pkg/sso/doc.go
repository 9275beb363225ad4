// Package sso bridges identity provider sessions into support platform
// logins.
//
// An authenticated caller hits the login endpoint, their session identifies
// the external user and active organization, and both are resolved to
// platform mappings with a bounded retry so recently provisioned callers are
// not bounced. The platform then issues a short-lived login URL and the
// caller is redirected into their account.
package sso
