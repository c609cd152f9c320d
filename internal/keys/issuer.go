package keys

import (
	"context"
	"time"

	"github.com/fantasbr/hookline/internal/models"
)

// Store is the slice of persistence the issuer needs.
type Store interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
}

type Issuer struct {
	store Store
}

func NewIssuer(store Store) *Issuer {
	return &Issuer{store: store}
}

// CreateKey mints a new API key and persists its hash and prefix. The
// plaintext is returned exactly once; no stored field allows recovering it.
// Wildcard vs specific permissions are not reconciled here — that is the
// caller's responsibility.
func (i *Issuer) CreateKey(ctx context.Context, name string, permissions []string, expiresInDays int) (*models.APIKey, string, error) {
	if name == "" {
		return nil, "", &models.ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if len(permissions) == 0 {
		return nil, "", &models.ValidationError{Field: "permissions", Reason: "must not be empty"}
	}

	plaintext, hash, prefix, err := NewKey()
	if err != nil {
		return nil, "", err
	}

	key := &models.APIKey{
		ID:          models.NewID("key"),
		Name:        name,
		KeyHash:     hash,
		KeyPrefix:   prefix,
		Permissions: permissions,
		CreatedAt:   time.Now().UTC(),
	}
	if expiresInDays > 0 {
		exp := key.CreatedAt.Add(time.Duration(expiresInDays) * 24 * time.Hour)
		key.ExpiresAt = &exp
	}

	if err := i.store.CreateAPIKey(ctx, key); err != nil {
		return nil, "", err
	}
	return key, plaintext, nil
}
