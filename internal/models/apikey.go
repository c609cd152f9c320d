package models

import "time"

// PermissionAll is the wildcard capability granting every permission.
// The storage layer does not stop callers from mixing it with specific
// permissions; the UI treats them as mutually exclusive.
const PermissionAll = "*"

// APIKey is a stored credential record. Only the sha256 hash and a short
// display prefix persist; the plaintext key is returned once at creation.
type APIKey struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	KeyHash     string     `json:"-"`
	KeyPrefix   string     `json:"key_prefix"`
	Permissions []string   `json:"permissions"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// HasPermission reports whether the key grants the given capability,
// either directly or via the wildcard.
func (k *APIKey) HasPermission(perm string) bool {
	for _, p := range k.Permissions {
		if p == PermissionAll || p == perm {
			return true
		}
	}
	return false
}

// Usable reports whether the key is neither revoked nor expired at t.
func (k *APIKey) Usable(t time.Time) bool {
	if k.RevokedAt != nil {
		return false
	}
	if k.ExpiresAt != nil && t.After(*k.ExpiresAt) {
		return false
	}
	return true
}
