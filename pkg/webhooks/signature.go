package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Signature headers required on every webhook delivery
const (
	HeaderID        = "svix-id"
	HeaderTimestamp = "svix-timestamp"
	HeaderSignature = "svix-signature"
)

// secretPrefix is the provider's shared-secret encoding prefix
const secretPrefix = "whsec_"

// ErrInvalidSignature is returned when no candidate signature matches
var ErrInvalidSignature = errors.New("webhook signature mismatch")

// Verifier validates provider webhook signatures using the shared secret
type Verifier struct {
	secrets   SecretSource
	tolerance time.Duration
}

// NewVerifier creates a signature verifier. tolerance bounds the accepted
// clock skew on the timestamp header; zero disables the check.
func NewVerifier(secrets SecretSource, tolerance time.Duration) *Verifier {
	return &Verifier{
		secrets:   secrets,
		tolerance: tolerance,
	}
}

// Verify checks the three signature headers against the payload. The signed
// content is "<id>.<timestamp>.<payload>" and the signature header carries
// space-separated "v1,<base64 hmac>" entries, any one of which may match
// (the provider sends multiple during secret rotation).
func (v *Verifier) Verify(id, timestamp, signature string, payload []byte) error {
	if id == "" || timestamp == "" || signature == "" {
		return fmt.Errorf("missing signature headers")
	}

	if v.tolerance > 0 {
		ts, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid timestamp header: %w", err)
		}
		age := time.Since(time.Unix(ts, 0))
		if age > v.tolerance || age < -v.tolerance {
			return fmt.Errorf("timestamp outside tolerance window")
		}
	}

	key, err := decodeSecret(v.secrets.Secret())
	if err != nil {
		return err
	}

	expected := sign(key, id, timestamp, payload)
	for _, candidate := range strings.Fields(signature) {
		version, sig, found := strings.Cut(candidate, ",")
		if !found || version != "v1" {
			continue
		}
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// decodeSecret strips the whsec_ prefix and base64-decodes the key material
func decodeSecret(secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, secretPrefix))
	if err != nil {
		return nil, fmt.Errorf("invalid webhook secret: %w", err)
	}
	return key, nil
}

// sign generates the base64 HMAC-SHA256 signature over id.timestamp.payload
func sign(key []byte, id, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(id))
	mac.Write([]byte("."))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
