package infra

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/scroll_mon/internal/domain"
)

// StoreScheduler implements domain.ActivityScheduler by persisting the
// schedule. The background ActivityMonitor picks it up from the store.
type StoreScheduler struct {
	store  domain.Store
	logger *zap.Logger
}

// NewStoreScheduler creates a scheduler over the shared store.
func NewStoreScheduler(store domain.Store, logger *zap.Logger) *StoreScheduler {
	return &StoreScheduler{store: store, logger: logger}
}

// StartMonitoring validates and persists the schedule, replacing any previous one.
func (s *StoreScheduler) StartMonitoring(schedule domain.ActivitySchedule) error {
	ev, ok := schedule.Event(domain.ThresholdEventName)
	if !ok {
		return errors.New("schedule has no threshold event")
	}
	if ev.ThresholdMinutes <= 0 {
		return fmt.Errorf("invalid threshold %d minutes", ev.ThresholdMinutes)
	}
	if ev.Selection.IsEmpty() {
		return errors.New("threshold event has an empty selection")
	}

	if err := s.store.SaveSchedule(schedule); err != nil {
		return fmt.Errorf("failed to persist schedule: %w", err)
	}
	s.logger.Debug("activity schedule registered",
		zap.String("name", schedule.Name),
		zap.Int("threshold_minutes", ev.ThresholdMinutes))
	return nil
}

// StopMonitoring removes the persisted schedule.
func (s *StoreScheduler) StopMonitoring() error {
	if err := s.store.ClearSchedule(); err != nil {
		return fmt.Errorf("failed to clear schedule: %w", err)
	}
	s.logger.Debug("activity schedule cleared")
	return nil
}

// Ensure StoreScheduler implements domain.ActivityScheduler.
var _ domain.ActivityScheduler = (*StoreScheduler)(nil)
