package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Claim names resolvable inside an RLS expression.
const (
	ClaimNamespace = "namespace"
	ClaimSubject   = "subject"
)

// EqExpr compares a row column against a caller claim.
type EqExpr struct {
	Column string `json:"column"`
	Claim  string `json:"claim"`
}

// Expr is a recursive boolean predicate over a row and a caller's claims.
// Exactly one branch must be set; the JSON form mirrors the stored policy
// expressions: {"eq":{"column":...,"claim":...}}, {"and":[...]},
// {"or":[...]}, {"not":{...}}.
type Expr struct {
	Eq  *EqExpr `json:"eq,omitempty"`
	And []Expr  `json:"and,omitempty"`
	Or  []Expr  `json:"or,omitempty"`
	Not *Expr   `json:"not,omitempty"`
}

// Validate checks that exactly one branch of the expression tree is set,
// recursively.
func (e Expr) Validate() error {
	set := 0
	if e.Eq != nil {
		set++
	}
	if len(e.And) > 0 {
		set++
	}
	if len(e.Or) > 0 {
		set++
	}
	if e.Not != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("policy expression must set exactly one of eq/and/or/not, got %d", set)
	}

	if e.Eq != nil {
		if e.Eq.Column == "" || e.Eq.Claim == "" {
			return fmt.Errorf("eq expression requires column and claim")
		}
		return nil
	}
	for _, sub := range e.And {
		if err := sub.Validate(); err != nil {
			return err
		}
	}
	for _, sub := range e.Or {
		if err := sub.Validate(); err != nil {
			return err
		}
	}
	if e.Not != nil {
		return e.Not.Validate()
	}
	return nil
}

// RlsPolicy is a per-table row predicate. Policies are unique per
// (table_name, policy_name). Restrictive policies (the default) are
// AND-combined; a policy that declares itself permissive joins the
// OR-combined set instead.
type RlsPolicy struct {
	ID         uuid.UUID `json:"id" db:"id"`
	TableName  string    `json:"table_name" db:"table_name"`
	PolicyName string    `json:"policy_name" db:"policy_name"`
	Expression Expr      `json:"expression" db:"expression"`
	Permissive bool      `json:"permissive" db:"permissive"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// NewRlsPolicy creates a new restrictive RlsPolicy instance
func NewRlsPolicy(table, name string, expression Expr) *RlsPolicy {
	now := time.Now().UTC()
	return &RlsPolicy{
		ID:         uuid.New(),
		TableName:  table,
		PolicyName: name,
		Expression: expression,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
