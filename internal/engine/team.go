package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"combinados/internal/domain"
	"combinados/internal/repo"
)

// GrantRole gives a user an app role. Admin only.
func (e Engine) GrantRole(ctx context.Context, actorID string, actorRoles []string, userID, role string) error {
	if !hasRole(actorRoles, domain.RoleAdmin) {
		return AuthorizationError{Reason: "role ADMIN required"}
	}
	if !domain.ValidRole(role) {
		return ValidationError{Field: "role", Reason: fmt.Sprintf("unknown role %s", role)}
	}
	return e.Repo.GrantRole(ctx, userID, role)
}

// RevokeRole removes a role. Admins cannot revoke their own ADMIN role, so a
// workspace always keeps at least the acting admin.
func (e Engine) RevokeRole(ctx context.Context, actorID string, actorRoles []string, userID, role string) error {
	if !hasRole(actorRoles, domain.RoleAdmin) {
		return AuthorizationError{Reason: "role ADMIN required"}
	}
	if !domain.ValidRole(role) {
		return ValidationError{Field: "role", Reason: fmt.Sprintf("unknown role %s", role)}
	}
	if userID == actorID && role == domain.RoleAdmin {
		return ConflictError{Reason: "cannot revoke your own ADMIN role"}
	}
	return e.Repo.RevokeRole(ctx, userID, role)
}

// MintAPIKey creates a new API key for the user and returns the plaintext
// once; only the hash is stored.
func (e Engine) MintAPIKey(ctx context.Context, userID, name string) (string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	key := "cmb_" + hex.EncodeToString(raw)
	id := uuid.New().String()
	err := e.Repo.InsertAPIKey(ctx, nil, domain.APIKey{
		ID:        id,
		UserID:    userID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(key),
		CreatedAt: e.nowRFC(),
	})
	if err != nil {
		return "", "", err
	}
	return id, key, nil
}
