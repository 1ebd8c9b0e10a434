package service

import (
	"context"
	"errors"
	"fmt"

	"iap-entitlement-api/internal/billing"
	"iap-entitlement-api/internal/repository"
)

// Key names looked up in the key store, in order.
const (
	KeyNameParam = "billing_key_param"
	KeyNameKey   = "billing_key"
)

// KeyResolver resolves the verification key: the configured parameter key first,
// then the configured key, then the key store entries of the package.
type KeyResolver struct {
	PackageName string
	ParamKey    string
	Key         string
	Store       repository.KeyRepository
}

// VerificationKey returns the first key found, or "" when none is configured.
func (r *KeyResolver) VerificationKey(ctx context.Context) (string, error) {
	if r.ParamKey != "" {
		return r.ParamKey, nil
	}
	if r.Key != "" {
		return r.Key, nil
	}
	if r.Store == nil {
		return "", nil
	}

	for _, name := range []string{KeyNameParam, KeyNameKey} {
		key, err := r.Store.GetVerificationKey(ctx, r.PackageName, name)
		if errors.Is(err, repository.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to resolve %s: %w", name, err)
		}
		return key, nil
	}
	return "", nil
}

var _ billing.KeySource = (*KeyResolver)(nil)
