package billing

import (
	"context"
	"encoding/base64"
	"strings"

	"iap-entitlement-api/internal/model"
)

// placeholderKeyMarker appears in the sample key shipped with project templates.
const placeholderKeyMarker = "CONSTRUCT_YOUR"

// PayloadVerifier checks the developer payload of a completed purchase.
// A false result keeps the purchase out of the inventory.
type PayloadVerifier interface {
	VerifyDeveloperPayload(p model.Purchase) bool
}

// VerifierFunc adapts a function to PayloadVerifier.
type VerifierFunc func(p model.Purchase) bool

// VerifyDeveloperPayload calls f(p).
func (f VerifierFunc) VerifyDeveloperPayload(p model.Purchase) bool { return f(p) }

// AcceptAllPayloads is the default verifier. Payload authenticity is expected to be
// checked by a server that knows which payload belongs to which user.
var AcceptAllPayloads PayloadVerifier = VerifierFunc(func(model.Purchase) bool { return true })

// KeySource provides the public key used to verify receipts.
type KeySource interface {
	VerificationKey(ctx context.Context) (string, error)
}

// StaticKey is a KeySource returning a fixed key.
type StaticKey string

// VerificationKey returns the key.
func (k StaticKey) VerificationKey(context.Context) (string, error) {
	return string(k), nil
}

// ValidateKey reports a configuration error for keys that cannot be used.
func ValidateKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrConfiguration
	}
	if strings.Contains(key, placeholderKeyMarker) {
		return configurationError("Please configure your app's public key.")
	}
	if _, err := base64.StdEncoding.DecodeString(key); err != nil {
		return configurationError("billing verification key is not valid base64")
	}
	return nil
}
