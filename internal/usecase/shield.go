// Package usecase contains application business logic.
package usecase

import (
	"context"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/scroll_mon/internal/domain"
	"github.com/eliteGoblin/focusd/scroll_mon/internal/policy"
)

// Shield implements domain.ShieldGateway by terminating processes that
// belong to the shielded selection. Apply kills once immediately; the
// background monitor keeps calling Enforce while the shield is up.
type Shield struct {
	processManager domain.ProcessManager
	expander       policy.Expander
	logger         *zap.Logger
	selfPID        int

	mu         sync.Mutex
	active     bool
	selection  domain.Selection
	lastResult *domain.ShieldResult
}

// NewShield creates a process shield.
func NewShield(pm domain.ProcessManager, expander policy.Expander, logger *zap.Logger) *Shield {
	return &Shield{
		processManager: pm,
		expander:       expander,
		logger:         logger,
		selfPID:        os.Getpid(),
	}
}

// ApplyShield raises the shield over sel. Calling it again replaces the selection.
func (s *Shield) ApplyShield(sel domain.Selection) error {
	s.mu.Lock()
	wasActive := s.active
	s.active = true
	s.selection = sel
	s.mu.Unlock()

	if !wasActive {
		s.logger.Info("shield applied", zap.Int("selection_size", sel.Count()))
	}
	s.enforce(context.Background(), sel)
	return nil
}

// RemoveShield lowers the shield.
func (s *Shield) RemoveShield() error {
	s.mu.Lock()
	wasActive := s.active
	s.active = false
	s.selection = domain.Selection{}
	s.mu.Unlock()

	if wasActive {
		s.logger.Info("shield removed")
	}
	return nil
}

// IsShieldActive reports whether this process currently holds the shield up.
func (s *Shield) IsShieldActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// LastResult returns the most recent enforcement pass, if any.
func (s *Shield) LastResult() *domain.ShieldResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResult
}

// Enforce runs one enforcement pass if the shield is up.
// It returns nil when the shield is down.
func (s *Shield) Enforce(ctx context.Context) *domain.ShieldResult {
	s.mu.Lock()
	active, sel := s.active, s.selection
	s.mu.Unlock()

	if !active {
		return nil
	}
	return s.enforce(ctx, sel)
}

func (s *Shield) enforce(ctx context.Context, sel domain.Selection) *domain.ShieldResult {
	start := time.Now()
	exp := s.expander.Expand(sel)

	result := &domain.ShieldResult{
		Patterns:     exp.Patterns,
		KilledPIDs:   make([]int, 0),
		SkippedItems: exp.Unenforceable,
		Errors:       make([]error, 0),
		ExecutedAt:   start,
	}

	for _, item := range exp.Unenforceable {
		s.logger.Debug("selection item cannot be shielded at process level",
			zap.String("item", item))
	}

	// Kill matching processes
	for _, pattern := range exp.Patterns {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, ctx.Err())
			break
		}

		pids, err := s.processManager.FindByName(pattern)
		if err != nil {
			s.logger.Warn("failed to find processes",
				zap.String("pattern", pattern),
				zap.Error(err))
			result.Errors = append(result.Errors, err)
			continue
		}

		for _, pid := range pids {
			if pid == s.selfPID {
				continue
			}
			if err := s.processManager.Kill(pid); err != nil {
				s.logger.Warn("failed to kill process",
					zap.Int("pid", pid),
					zap.Error(err))
				result.Errors = append(result.Errors, err)
			} else {
				s.logger.Info("killed shielded process",
					zap.Int("pid", pid),
					zap.String("pattern", pattern))
				result.KilledPIDs = append(result.KilledPIDs, pid)
			}
		}
	}

	result.DurationMs = time.Since(start).Milliseconds()

	s.mu.Lock()
	s.lastResult = result
	s.mu.Unlock()
	return result
}

// Ensure Shield implements domain.ShieldGateway.
var _ domain.ShieldGateway = (*Shield)(nil)
