package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// KeyScopeType discriminates the closed set of key scopes.
type KeyScopeType string

const (
	ScopeTypeAdmin     KeyScopeType = "admin"
	ScopeTypeNamespace KeyScopeType = "namespace"
)

// KeyScope is the authorization boundary of an API key: either global admin
// or bound to a single namespace code. It is a closed tagged variant; every
// scope-dependent decision must switch on Type.
type KeyScope struct {
	Type      KeyScopeType
	Namespace string
}

// AdminScope returns the global admin scope.
func AdminScope() KeyScope {
	return KeyScope{Type: ScopeTypeAdmin}
}

// NamespaceScope returns a scope bound to the given namespace code.
func NamespaceScope(code string) KeyScope {
	return KeyScope{Type: ScopeTypeNamespace, Namespace: code}
}

// IsAdmin returns true for the global admin scope.
func (s KeyScope) IsAdmin() bool {
	return s.Type == ScopeTypeAdmin
}

// Validate checks the scope variant is well formed.
func (s KeyScope) Validate() error {
	switch s.Type {
	case ScopeTypeAdmin:
		if s.Namespace != "" {
			return fmt.Errorf("admin scope must not carry a namespace")
		}
		return nil
	case ScopeTypeNamespace:
		if s.Namespace == "" {
			return fmt.Errorf("namespace scope requires a namespace code")
		}
		return nil
	default:
		return fmt.Errorf("unknown scope type %q", s.Type)
	}
}

// scopeJSON is the wire form: {"type":"admin"} or
// {"type":"namespace","namespace":"namespace:alpha"}.
type scopeJSON struct {
	Type      KeyScopeType `json:"type"`
	Namespace string       `json:"namespace,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (s KeyScope) MarshalJSON() ([]byte, error) {
	return json.Marshal(scopeJSON{Type: s.Type, Namespace: s.Namespace})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *KeyScope) UnmarshalJSON(data []byte) error {
	var raw scopeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Type = raw.Type
	s.Namespace = raw.Namespace
	return s.Validate()
}

// ApiKey represents a stored API key. The raw secret is never persisted;
// only its keyed hash and a short display prefix are kept. Keys are never
// deleted: revocation is the terminal state, retained for audit lineage.
type ApiKey struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	TokenHash   string     `json:"-" db:"token_hash"`
	TokenPrefix string     `json:"token_prefix" db:"token_prefix"`
	Scope       KeyScope   `json:"scope"`
	RateLimit   int        `json:"rate_limit" db:"rate_limit"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	Revoked     bool       `json:"revoked" db:"revoked"`
	RotatedFrom *uuid.UUID `json:"rotated_from,omitempty" db:"rotated_from"`
	RotatedAt   *time.Time `json:"rotated_at,omitempty" db:"rotated_at"`
}

// TableName returns the table name for the ApiKey model
func (ApiKey) TableName() string {
	return "api_keys"
}

// NewApiKey creates a new ApiKey instance with revoked=false.
func NewApiKey(tokenHash, tokenPrefix string, scope KeyScope, rateLimit int, expiresAt *time.Time) *ApiKey {
	return &ApiKey{
		ID:          uuid.New(),
		TokenHash:   tokenHash,
		TokenPrefix: tokenPrefix,
		Scope:       scope,
		RateLimit:   rateLimit,
		CreatedAt:   time.Now().UTC(),
		ExpiresAt:   expiresAt,
	}
}

// WithLineage links this key to the revoked predecessor it replaces.
func (k *ApiKey) WithLineage(previous uuid.UUID, rotatedAt time.Time) *ApiKey {
	k.RotatedFrom = &previous
	k.RotatedAt = &rotatedAt
	return k
}

// IsExpired reports whether the key has an expiry in the past.
func (k *ApiKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(now)
}
