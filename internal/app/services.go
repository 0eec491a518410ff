package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tapoctl/internal/config"
	"github.com/dokzlo13/tapoctl/internal/db"
	"github.com/dokzlo13/tapoctl/internal/eventbus"
	"github.com/dokzlo13/tapoctl/internal/ledger"
	"github.com/dokzlo13/tapoctl/internal/orchestrator"
	"github.com/dokzlo13/tapoctl/internal/session"
	"github.com/dokzlo13/tapoctl/internal/tapo/rpc"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB         // nil when the ledger is disabled
	Ledger *ledger.Ledger // nil when the ledger is disabled
	Bus    *eventbus.Bus

	// Device stack
	Transport    *rpc.Client
	Sessions     *session.Manager
	Orchestrator *orchestrator.Orchestrator

	// High-level services
	History *HistoryService
	Health  *HealthService
	Control *ControlService
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database and ledger
	if cfg.Ledger.IsEnabled() {
		database, err := db.Open(cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		s.DB = database
		s.Ledger = ledger.New(database.DB)
	}

	// Initialize event bus
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	// Initialize device stack
	s.Transport = rpc.NewClient(cfg.Session.Timeout.Duration())
	s.Sessions = session.NewManager(s.Transport, session.Config{
		Timeout:      cfg.Session.Timeout.Duration(),
		RateLimitRPS: cfg.Session.GetRateLimitRPS(),
		MaxInFlight:  cfg.Session.MaxInFlight,
	})
	s.Orchestrator = orchestrator.New(s.Sessions,
		orchestrator.WithPublisher(s.Bus),
		orchestrator.WithKindVerification(cfg.VerifyKind),
	)

	// Record every command lifecycle step
	s.History = NewHistoryService(cfg, s.Ledger)
	s.History.Subscribe(s.Bus)

	// Initialize health service
	s.Health = NewHealthService(cfg, s.Sessions)

	// Initialize control API
	var history HistorySource
	if s.Ledger != nil {
		history = s.Ledger
	}
	s.Control = NewControlService(cfg, s.Orchestrator, history)

	return s, nil
}

// Start starts all background services.
func (s *Services) Start(ctx context.Context) {
	s.History.Start(ctx)
	s.Health.Start(ctx)
	s.Control.Start(ctx)
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	s.Close()
	return nil
}

// Close releases all resources. The bus is drained before the database
// closes so pending ledger writes land.
func (s *Services) Close() {
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
		s.Bus.Close(ctx)
		cancel()
	}
	if s.Transport != nil {
		s.Transport.Close()
	}
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close database")
		}
	}
}
