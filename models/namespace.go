package models

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// namespaceCodeRe matches stable external namespace identifiers such as
// "namespace:alpha" or "team-blue".
var namespaceCodeRe = regexp.MustCompile(`^[a-z0-9][a-z0-9:_-]*$`)

// Namespace is a tenant boundary referenced by scope strings and policy
// claims. Keys reference namespaces by code, never by foreign key, so
// namespaces can be provisioned independently of the keys that name them.
type Namespace struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Code        string    `json:"code" db:"code"`
	DisplayName string    `json:"display_name" db:"display_name"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Namespace model
func (Namespace) TableName() string {
	return "namespaces"
}

// NewNamespace creates a new Namespace instance
func NewNamespace(code, displayName string) *Namespace {
	now := time.Now().UTC()
	return &Namespace{
		ID:          uuid.New(),
		Code:        code,
		DisplayName: displayName,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ValidateNamespaceCode checks a namespace code is well formed.
func ValidateNamespaceCode(code string) error {
	if !namespaceCodeRe.MatchString(code) {
		return fmt.Errorf("invalid namespace code %q", code)
	}
	return nil
}
