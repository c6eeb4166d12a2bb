// Package auth authenticates API callers and scopes them to tenants.
package auth

import (
	"context"
	"time"
)

// Role represents what a key may do.
type Role string

const (
	// RoleAdmin may manage rules and read everything in its tenants.
	RoleAdmin Role = "admin"
	// RoleIngest may only publish events.
	RoleIngest Role = "ingest"
	// RoleReadOnly may read rules, history and inbox but change nothing.
	RoleReadOnly Role = "read-only"
)

// IsValid returns true if the role is a known valid role.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleIngest, RoleReadOnly:
		return true
	default:
		return false
	}
}

// Identity represents an authenticated caller.
type Identity struct {
	// ID is the unique identifier for this identity.
	ID string
	// Name is the display name for this identity.
	Name string
	// Roles are the roles assigned to this identity.
	Roles []Role
	// Tenants lists the tenants the identity may act on. Empty means all.
	Tenants []string
}

// HasRole returns true if the identity has the specified role.
func (i *Identity) HasRole(role Role) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasAnyRole returns true if the identity has any of the specified roles.
func (i *Identity) HasAnyRole(roles ...Role) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

// CanAccessTenant reports whether the identity is scoped to tenantID.
func (i *Identity) CanAccessTenant(tenantID string) bool {
	if len(i.Tenants) == 0 {
		return true
	}
	for _, t := range i.Tenants {
		if t == tenantID {
			return true
		}
	}
	return false
}

// DefaultTenant returns the identity's tenant when it is scoped to exactly
// one, or "".
func (i *Identity) DefaultTenant() string {
	if len(i.Tenants) == 1 {
		return i.Tenants[0]
	}
	return ""
}

// APIKey represents a configured API key.
type APIKey struct {
	// Key is the hashed key value (Argon2id PHC format or SHA-256 hex).
	Key string
	// Identity is what the key authenticates as.
	Identity Identity
	// ExpiresAt is when the key expires (nil = never expires).
	ExpiresAt *time.Time
	// Revoked indicates if the key has been revoked.
	Revoked bool
}

// IsExpired returns true if the API key has expired.
// A key with nil ExpiresAt never expires.
func (k *APIKey) IsExpired() bool {
	if k.ExpiresAt == nil {
		return false
	}
	return time.Now().UTC().After(*k.ExpiresAt)
}

type identityKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity stored by WithIdentity, or nil.
func IdentityFrom(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
