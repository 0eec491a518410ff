package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tapoctl/internal/config"
	"github.com/dokzlo13/tapoctl/internal/eventbus"
	"github.com/dokzlo13/tapoctl/internal/ledger"
)

// HistoryService writes command events to the ledger and enforces retention.
type HistoryService struct {
	cfg    *config.Config
	ledger *ledger.Ledger
}

// NewHistoryService creates a new HistoryService. A nil ledger disables it.
func NewHistoryService(cfg *config.Config, l *ledger.Ledger) *HistoryService {
	return &HistoryService{cfg: cfg, ledger: l}
}

// Subscribe records command lifecycle events from bus.
func (s *HistoryService) Subscribe(bus *eventbus.Bus) {
	if s.ledger == nil {
		return
	}

	bus.Subscribe(func(ev eventbus.Event) {
		if err := s.ledger.Record(ev); err != nil {
			log.Error().Err(err).Str("command_id", ev.CommandID).Msg("Failed to record command event")
		}
	}, eventbus.EventCommandStarted, eventbus.EventCommandCompleted, eventbus.EventCommandFailed)
}

// Start begins periodic ledger cleanup.
func (s *HistoryService) Start(ctx context.Context) {
	if s.ledger == nil {
		log.Debug().Msg("Command ledger disabled")
		return
	}
	go s.runCleanup(ctx)
}

// runCleanup periodically removes old ledger entries.
func (s *HistoryService) runCleanup(ctx context.Context) {
	retention := time.Duration(s.cfg.Ledger.RetentionDays) * 24 * time.Hour
	interval := s.cfg.Ledger.CleanupInterval.Duration()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.ledger.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
			} else if deleted > 0 {
				log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
			}
		}
	}
}
