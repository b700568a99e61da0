// Package namespace provisions and lists tenant namespaces.
package namespace

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/sandboxlabs/keygate/models"
	"github.com/sandboxlabs/keygate/repositories"
	"github.com/sandboxlabs/keygate/services"
)

// Recorder appends events to the audit ledger.
type Recorder interface {
	Record(ctx context.Context, event *models.AuditEvent) error
}

// Service provisions namespaces. Namespaces are referenced by code from
// key scopes and policy claims and are never deleted.
type Service struct {
	repo     repositories.NamespaceRepository
	recorder Recorder
	logger   *zap.Logger
}

// NewService creates a new namespace service
func NewService(repo repositories.NamespaceRepository, recorder Recorder, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		recorder: recorder,
		logger:   logger,
	}
}

// Create provisions a namespace with a unique code.
func (s *Service) Create(ctx context.Context, code, displayName string) (*models.Namespace, error) {
	if err := models.ValidateNamespaceCode(code); err != nil {
		return nil, services.WrapError(services.ErrorTypeValidation, err.Error(), err)
	}
	if displayName == "" {
		displayName = code
	}

	existing, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, services.WrapInternal("failed to check namespace code", err)
	}
	if existing != nil {
		return nil, services.NewDomainError(services.ErrorTypeConflict,
			"namespace code already exists", nil).WithDetail("code", code)
	}

	ns := models.NewNamespace(code, displayName)
	if err := s.repo.Insert(ctx, ns); err != nil {
		return nil, services.WrapInternal("failed to create namespace", err)
	}

	payload, err := json.Marshal(map[string]string{
		"code":         ns.Code,
		"display_name": ns.DisplayName,
	})
	if err == nil {
		event := models.NewAuditEvent(models.EventNamespaceCreated, payload).WithNamespace(ns.Code)
		if err := s.recorder.Record(ctx, event); err != nil {
			s.logger.Error("failed to record namespace creation", zap.Error(err))
		}
	}

	s.logger.Info("namespace created", zap.String("code", code))
	return ns, nil
}

// Get returns one namespace by code.
func (s *Service) Get(ctx context.Context, code string) (*models.Namespace, error) {
	ns, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, services.WrapInternal("failed to look up namespace", err)
	}
	if ns == nil {
		return nil, services.ErrNamespaceNotFound
	}
	return ns, nil
}

// List returns all namespaces.
func (s *Service) List(ctx context.Context) ([]*models.Namespace, error) {
	namespaces, err := s.repo.List(ctx)
	if err != nil {
		return nil, services.WrapInternal("failed to list namespaces", err)
	}
	return namespaces, nil
}
