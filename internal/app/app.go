package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tapoctl/internal/config"
	"github.com/dokzlo13/tapoctl/internal/orchestrator"
	"github.com/dokzlo13/tapoctl/internal/tapo"
)

// Environment variables consulted for ad-hoc targets without credentials.
const (
	EnvUsername = "TAPO_USERNAME"
	EnvPassword = "TAPO_PASSWORD"
)

// App is the main application container that manages all services and their lifecycle.
type App struct {
	cfg      *config.Config
	services *Services
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a new App instance with all services initialized but not started.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:      cfg,
		services: services,
	}, nil
}

// Services returns the service container.
func (a *App) Services() *Services {
	return a.services
}

// Start starts the long-running services (control API, health, ledger cleanup).
// The provided context is used for cancellation.
func (a *App) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	a.services.Start(a.ctx)

	log.Info().Int("devices", len(a.cfg.Devices)).Msg("tapoctl started")
	return nil
}

// Stop gracefully shuts down all services.
func (a *App) Stop() error {
	log.Debug().Msg("Shutting down...")

	if a.cancel != nil {
		a.cancel()
	}

	if a.services != nil {
		return a.services.Stop()
	}

	return nil
}

// Wait blocks until the application context is cancelled.
func (a *App) Wait() {
	if a.ctx != nil {
		<-a.ctx.Done()
	}
}

// Selector selects a device by configured name, or ad hoc by address and kind.
type Selector struct {
	Device   string
	Address  string
	Kind     string
	Username string
	Password string
	Child    string
	ChildID  string
}

// ResolveTarget turns a device selection into an orchestrator target.
func (a *App) ResolveTarget(sel Selector) (orchestrator.Target, error) {
	switch {
	case sel.Device != "" && sel.Address != "":
		return orchestrator.Target{}, &tapo.ConfigurationError{Field: "device", Reason: "give a device name or an address, not both"}

	case sel.Device != "":
		d, ok := a.cfg.Device(sel.Device)
		if !ok {
			return orchestrator.Target{}, &tapo.ConfigurationError{Field: "device", Reason: "unknown device " + sel.Device}
		}
		return orchestrator.Target{
			Name:            d.Name,
			Endpoint:        d.Endpoint(),
			Credentials:     d.Credentials(),
			Child:           sel.Child,
			ChildID:         sel.ChildID,
			StrictNicknames: d.StrictNicknames,
		}, nil

	case sel.Address != "":
		kind, err := tapo.ParseKind(sel.Kind)
		if err != nil {
			return orchestrator.Target{}, err
		}
		creds := tapo.Credentials{Username: sel.Username, Secret: sel.Password}
		if creds.Username == "" {
			creds.Username = os.Getenv(EnvUsername)
		}
		if creds.Secret == "" {
			creds.Secret = os.Getenv(EnvPassword)
		}
		return orchestrator.Target{
			Endpoint:    tapo.Endpoint{Address: sel.Address, Kind: kind},
			Credentials: creds,
			Child:       sel.Child,
			ChildID:     sel.ChildID,
		}, nil
	}

	return orchestrator.Target{}, &tapo.ConfigurationError{Field: "device", Reason: "a device name or an address is required"}
}

// Run resolves the selection and executes one intent against it.
func (a *App) Run(ctx context.Context, intent orchestrator.Intent, sel Selector) (orchestrator.Result, error) {
	t, err := a.ResolveTarget(sel)
	if err != nil {
		return orchestrator.Result{}, err
	}
	return a.services.Orchestrator.Run(ctx, intent, t)
}

// SignalContext creates a context that is cancelled when SIGINT or SIGTERM is received.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
