package keys

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fantasbr/hookline/internal/models"
)

type fakeStore struct {
	created []*models.APIKey
}

func (f *fakeStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	f.created = append(f.created, key)
	return nil
}

func TestNewKey(t *testing.T) {
	plaintext, hash, prefix, err := NewKey()
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(plaintext, "hk_live_"))
	require.Equal(t, HashKey(plaintext), hash)
	require.True(t, strings.HasPrefix(plaintext, strings.TrimSuffix(prefix, "...")))
	require.Less(t, len(prefix), len(plaintext)/2)

	// Two calls never collide.
	other, _, _, err := NewKey()
	require.NoError(t, err)
	require.NotEqual(t, plaintext, other)
}

func TestNewWebhookSecret(t *testing.T) {
	secret, err := NewWebhookSecret()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(secret, "whsec_"))
	require.Len(t, secret, len("whsec_")+64)

	other, err := NewWebhookSecret()
	require.NoError(t, err)
	require.NotEqual(t, secret, other)
}

func TestCreateKeyStoresOnlyHashAndPrefix(t *testing.T) {
	store := &fakeStore{}
	issuer := NewIssuer(store)

	key, plaintext, err := issuer.CreateKey(context.Background(), "ci", []string{"events:publish"}, 0)
	require.NoError(t, err)
	require.Len(t, store.created, 1)

	// Nothing persisted lets you recover the plaintext.
	require.NotEqual(t, plaintext, key.KeyHash)
	require.NotContains(t, key.KeyHash, plaintext)
	require.NotEqual(t, plaintext, key.KeyPrefix)
	require.Equal(t, HashKey(plaintext), key.KeyHash)
	require.Nil(t, key.ExpiresAt)
}

func TestCreateKeyExpiry(t *testing.T) {
	issuer := NewIssuer(&fakeStore{})

	key, _, err := issuer.CreateKey(context.Background(), "temp", []string{models.PermissionAll}, 7)
	require.NoError(t, err)
	require.NotNil(t, key.ExpiresAt)
	require.Equal(t, key.CreatedAt.AddDate(0, 0, 7), *key.ExpiresAt)
}

func TestCreateKeyValidation(t *testing.T) {
	issuer := NewIssuer(&fakeStore{})

	_, _, err := issuer.CreateKey(context.Background(), "", []string{"*"}, 0)
	require.True(t, models.IsValidation(err))

	_, _, err = issuer.CreateKey(context.Background(), "x", nil, 0)
	require.True(t, models.IsValidation(err))
}
