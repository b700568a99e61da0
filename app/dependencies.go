package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sandboxlabs/keygate/config"
	"github.com/sandboxlabs/keygate/handlers"
	"github.com/sandboxlabs/keygate/middleware"
	"github.com/sandboxlabs/keygate/repositories"
	"github.com/sandboxlabs/keygate/repositories/sqlstore"
	"github.com/sandboxlabs/keygate/services/audit"
	"github.com/sandboxlabs/keygate/services/issuer"
	"github.com/sandboxlabs/keygate/services/namespace"
	"github.com/sandboxlabs/keygate/services/rls"
	"github.com/sandboxlabs/keygate/services/rotation"
	"github.com/sandboxlabs/keygate/services/signing"
	"github.com/sandboxlabs/keygate/services/webhook"
)

// Dependencies holds all daemon dependencies. This is the central wiring
// point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *sqlstore.DB
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *sqlstore.RepositoryFactory

	// Repositories
	Repos     *repositories.Repositories
	TxManager repositories.TransactionManager

	// Services
	Signer       *signing.Signer
	PolicyEngine *rls.Engine
	Audit        *audit.Service
	Issuer       *issuer.Service
	Rotation     *rotation.Service
	Dispatcher   *webhook.Dispatcher
	Receiver     *webhook.Receiver
	Namespaces   *namespace.Service
	Policies     *rls.Manager

	// HTTP layer
	AuthMiddleware *middleware.AuthMiddleware
	KeysHandler    *handlers.KeysHandler
	AuditHandler   *handlers.AuditHandler
	PolicyHandler  *handlers.PolicyHandler
	NSHandler      *handlers.NamespaceHandler
	HealthHandler  *handlers.HealthHandler
}

// NewDependencies creates and wires up all daemon dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps.initRepositories()
	deps.initServices(cfg)
	deps.initHTTP(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the database connection and factory
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := sqlstore.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if err := d.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if err := factory.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))

	return nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	d.Repos = d.RepoFactory.NewRepositories()
	d.TxManager = d.RepoFactory.GetTransactionManager()
	d.Logger.Info("repositories initialized")
}

// initServices wires the service layer. The audit service is built first
// because nearly everything else records into the ledger.
func (d *Dependencies) initServices(cfg *config.Config) {
	d.Signer = signing.NewSigner(cfg.Security.SigningKey)
	d.PolicyEngine = rls.NewEngine(d.Repos.Policies, d.Logger)
	d.Audit = audit.NewService(d.Repos.AuditEvents, d.Signer, d.PolicyEngine, d.Logger)

	d.Issuer = issuer.NewService(
		d.Repos.Keys,
		d.Repos.Namespaces,
		d.Audit,
		d.PolicyEngine,
		cfg.Security,
		d.Logger,
	)
	d.Rotation = rotation.NewService(
		d.TxManager,
		d.Repos.Keys,
		d.Repos.RotationEvents,
		d.Issuer,
		d.Audit,
		d.Signer,
		cfg.Security,
		d.Logger,
	)
	d.Dispatcher = webhook.NewDispatcher(d.Repos.RotationEvents, cfg.Webhook, d.Logger)
	d.Receiver = webhook.NewReceiver(d.Repos.Keys, d.Signer, d.Logger)
	d.Namespaces = namespace.NewService(d.Repos.Namespaces, d.Audit, d.Logger)
	d.Policies = rls.NewManager(d.Repos.Policies, d.Audit, d.Logger)

	d.Logger.Info("services initialized")
}

// initHTTP wires middleware and handlers
func (d *Dependencies) initHTTP(cfg *config.Config) {
	d.AuthMiddleware = middleware.NewAuthMiddleware(d.Issuer, cfg.Security.OperatorJWTSecret, d.Logger)
	d.KeysHandler = handlers.NewKeysHandler(d.Issuer, d.Rotation, d.Receiver, d.Logger)
	d.AuditHandler = handlers.NewAuditHandler(d.Audit, d.Logger)
	d.PolicyHandler = handlers.NewPolicyHandler(d.Policies, d.Logger)
	d.NSHandler = handlers.NewNamespaceHandler(d.Namespaces, d.Logger)
	d.HealthHandler = handlers.NewHealthHandler(d.DB.DB, d.Dispatcher, d.Logger)
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
