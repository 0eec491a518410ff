package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tapoctl/internal/api"
	"github.com/dokzlo13/tapoctl/internal/config"
)

// HistorySource is the read side of the command ledger.
type HistorySource = api.History

// ControlService wraps the control HTTP server.
type ControlService struct {
	cfg    *config.Config
	server *api.Server
}

// NewControlService creates a new ControlService. history may be nil.
func NewControlService(cfg *config.Config, runner api.Runner, history HistorySource) *ControlService {
	return &ControlService{
		cfg:    cfg,
		server: api.NewServer(cfg.Server.Addr(), runner, cfg.Devices, history),
	}
}

// Start begins the control server.
func (s *ControlService) Start(ctx context.Context) {
	go func() {
		if err := s.server.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
			log.Error().Err(err).Msg("Control server error")
		}
	}()
}
