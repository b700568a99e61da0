// Package rls evaluates row-level-security policies against caller claims.
// Decisions fail closed: any unresolvable claim, missing column, or storage
// error denies access.
package rls

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sandboxlabs/keygate/models"
	"github.com/sandboxlabs/keygate/repositories"
	"github.com/sandboxlabs/keygate/services"
)

// Claims is the identity a policy expression resolves against. Derived
// from the authenticated key, never supplied by the caller.
type Claims struct {
	Admin     bool
	Namespace string
	Subject   string
}

// ClaimsForKey derives policy claims from an authenticated API key.
func ClaimsForKey(key *models.ApiKey) Claims {
	claims := Claims{Subject: key.ID.String()}
	switch key.Scope.Type {
	case models.ScopeTypeAdmin:
		claims.Admin = true
	case models.ScopeTypeNamespace:
		claims.Namespace = key.Scope.Namespace
	}
	return claims
}

// namespaceColumns maps protected tables to the column carrying their
// namespace. The implicit default policy compares this column against the
// caller's namespace claim; tables absent from the map deny non-admin
// access outright, before stored policies are consulted.
var namespaceColumns = map[string]string{
	"api_keys":     "scope_namespace",
	"audit_events": "namespace",
}

// Engine combines stored policies with the implicit namespace policy.
// Restrictive policies are AND-combined, permissive policies OR-combined,
// and the implicit namespace policy always applies to non-admin callers.
type Engine struct {
	policies repositories.PolicyRepository
	logger   *zap.Logger
}

// NewEngine creates a new policy engine
func NewEngine(policies repositories.PolicyRepository, logger *zap.Logger) *Engine {
	return &Engine{
		policies: policies,
		logger:   logger,
	}
}

// Allow decides whether claims may access one row of table. Admin claims
// bypass all policies. Everything else must pass the implicit namespace
// policy, every stored restrictive policy, and at least one permissive
// policy when any exist.
func (e *Engine) Allow(ctx context.Context, table string, claims Claims, row map[string]interface{}) error {
	if claims.Admin {
		return nil
	}

	if !e.namespaceAllows(table, claims, row) {
		return denied(table, "")
	}

	stored, err := e.policies.GetByTable(ctx, table)
	if err != nil {
		e.logger.Error("policy lookup failed, denying",
			zap.String("table", table),
			zap.Error(err))
		return services.WrapError(services.ErrorTypePolicyDenied, "policy lookup failed", err)
	}

	var permissive []*models.RlsPolicy
	for _, policy := range stored {
		if policy.Permissive {
			permissive = append(permissive, policy)
			continue
		}
		ok, err := e.evaluate(policy.Expression, claims, row)
		if err != nil || !ok {
			e.logDenial(table, policy.PolicyName, claims, err)
			return denied(table, policy.PolicyName)
		}
	}

	if len(permissive) > 0 {
		granted := false
		for _, policy := range permissive {
			ok, err := e.evaluate(policy.Expression, claims, row)
			if err != nil {
				e.logDenial(table, policy.PolicyName, claims, err)
				continue
			}
			if ok {
				granted = true
				break
			}
		}
		if !granted {
			return denied(table, "")
		}
	}

	return nil
}

// FilterNamespace returns the namespace a listing must be restricted to,
// nil for admin claims that may see everything.
func (e *Engine) FilterNamespace(claims Claims) (*string, error) {
	if claims.Admin {
		return nil, nil
	}
	if claims.Namespace == "" {
		return nil, services.NewDomainError(services.ErrorTypePolicyDenied,
			"caller has no namespace claim", nil)
	}
	ns := claims.Namespace
	return &ns, nil
}

// namespaceAllows applies the implicit default policy: the row's namespace
// column must equal the caller's namespace claim. Rows with a NULL
// namespace column are visible only to admins.
func (e *Engine) namespaceAllows(table string, claims Claims, row map[string]interface{}) bool {
	column, ok := namespaceColumns[table]
	if !ok {
		return false
	}
	if claims.Namespace == "" {
		return false
	}
	value, ok := rowString(row[column])
	if !ok {
		return false
	}
	return value == claims.Namespace
}

// evaluate walks the expression tree. Unknown claims and missing columns
// are errors, which callers treat as denial.
func (e *Engine) evaluate(expr models.Expr, claims Claims, row map[string]interface{}) (bool, error) {
	switch {
	case expr.Eq != nil:
		claimValue, err := resolveClaim(expr.Eq.Claim, claims)
		if err != nil {
			return false, err
		}
		rowValue, ok := rowString(row[expr.Eq.Column])
		if !ok {
			return false, fmt.Errorf("row has no value for column %q", expr.Eq.Column)
		}
		return rowValue == claimValue, nil

	case len(expr.And) > 0:
		for _, sub := range expr.And {
			ok, err := e.evaluate(sub, claims, row)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	case len(expr.Or) > 0:
		for _, sub := range expr.Or {
			ok, err := e.evaluate(sub, claims, row)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case expr.Not != nil:
		ok, err := e.evaluate(*expr.Not, claims, row)
		if err != nil {
			return false, err
		}
		return !ok, nil

	default:
		return false, fmt.Errorf("empty policy expression")
	}
}

func (e *Engine) logDenial(table, policy string, claims Claims, err error) {
	e.logger.Debug("policy denied row access",
		zap.String("table", table),
		zap.String("policy", policy),
		zap.String("subject", claims.Subject),
		zap.Error(err))
}

// denied builds a fresh denial error so detail maps are not shared across
// callers.
func denied(table, policy string) error {
	err := services.NewDomainError(services.ErrorTypePolicyDenied, "row access denied by policy", nil).
		WithDetail("table", table)
	if policy != "" {
		err = err.WithDetail("policy", policy)
	}
	return err
}

func resolveClaim(name string, claims Claims) (string, error) {
	switch name {
	case models.ClaimNamespace:
		return claims.Namespace, nil
	case models.ClaimSubject:
		return claims.Subject, nil
	default:
		return "", fmt.Errorf("unknown claim %q", name)
	}
}

func rowString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case *string:
		if v == nil {
			return "", false
		}
		return *v, true
	default:
		return "", false
	}
}
