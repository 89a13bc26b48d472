package infra

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/scroll_mon/internal/domain"
	"github.com/eliteGoblin/focusd/scroll_mon/internal/policy"
)

// DefaultSampleInterval is how often the monitor looks for running apps.
const DefaultSampleInterval = 15 * time.Second

// ActivityHandler receives named activity events.
type ActivityHandler func(eventName string)

// ActivityMonitorConfig configures an ActivityMonitor.
type ActivityMonitorConfig struct {
	SampleInterval time.Duration
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// ActivityMonitor is the usage tracker behind the persisted activity
// schedule. It samples the process table, accumulates time spent in the
// selected apps within the daily interval and emits the threshold event
// once the configured minutes accrue. Usage starts over after each firing
// and at every interval boundary.
type ActivityMonitor struct {
	store          domain.Store
	expander       policy.Expander
	processManager domain.ProcessManager
	handler        ActivityHandler
	logger         *zap.Logger
	clock          func() time.Time
	sampleInterval time.Duration
	selfPID        int

	scheduler gocron.Scheduler

	mu            sync.Mutex
	usage         time.Duration
	lastSample    time.Time
	scheduleStamp time.Time
}

// NewActivityMonitor creates a monitor. Call Start to begin sampling.
func NewActivityMonitor(store domain.Store, expander policy.Expander, pm domain.ProcessManager,
	handler ActivityHandler, cfg ActivityMonitorConfig, logger *zap.Logger) *ActivityMonitor {
	interval := cfg.SampleInterval
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &ActivityMonitor{
		store:          store,
		expander:       expander,
		processManager: pm,
		handler:        handler,
		logger:         logger,
		clock:          clock,
		sampleInterval: interval,
		selfPID:        os.Getpid(),
	}
}

// Start schedules the interval boundary and sampling jobs.
func (m *ActivityMonitor) Start() error {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.Local))
	if err != nil {
		return fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	_, err = s.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(0, 0, 0))),
		gocron.NewTask(m.IntervalBoundary),
		gocron.WithName("interval-boundary"),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to create interval job: %w", err)
	}

	_, err = s.NewJob(
		gocron.DurationJob(m.sampleInterval),
		gocron.NewTask(m.Sample),
		gocron.WithName("usage-sample"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to create sampling job: %w", err)
	}

	m.scheduler = s
	s.Start()
	m.logger.Info("activity monitor started", zap.Duration("sample_interval", m.sampleInterval))
	return nil
}

// Stop shuts the jobs down.
func (m *ActivityMonitor) Stop() error {
	if m.scheduler == nil {
		return nil
	}
	m.logger.Info("activity monitor stopping")
	return m.scheduler.Shutdown()
}

// Usage returns the time accumulated in the current interval.
func (m *ActivityMonitor) Usage() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage
}

// IntervalBoundary closes the previous daily interval and opens the next.
func (m *ActivityMonitor) IntervalBoundary() {
	if _, ok := m.store.LoadSchedule(); !ok {
		return
	}

	m.mu.Lock()
	m.usage = 0
	m.mu.Unlock()

	m.emit(domain.IntervalEndEventName)
	m.emit(domain.IntervalStartEventName)
}

// Sample takes one usage reading.
func (m *ActivityMonitor) Sample() {
	now := m.clock()
	schedule, ok := m.store.LoadSchedule()

	m.mu.Lock()
	if !ok {
		m.usage = 0
		m.lastSample = time.Time{}
		m.scheduleStamp = time.Time{}
		m.mu.Unlock()
		return
	}

	// A newly registered schedule starts from zero
	if !schedule.CreatedAt.Equal(m.scheduleStamp) {
		m.scheduleStamp = schedule.CreatedAt
		m.usage = 0
		m.lastSample = time.Time{}
	}

	// Covers a missed midnight job (sleep, late start)
	if !m.lastSample.IsZero() && !domain.SameDay(m.lastSample, now) {
		m.usage = 0
		m.lastSample = time.Time{}
	}

	elapsed := time.Duration(0)
	if !m.lastSample.IsZero() {
		elapsed = now.Sub(m.lastSample)
		// Long gaps mean the machine slept; count at most two intervals
		if elapsed > 2*m.sampleInterval {
			elapsed = 2 * m.sampleInterval
		}
		if elapsed < 0 {
			elapsed = 0
		}
	}
	m.lastSample = now
	m.mu.Unlock()

	event, ok := schedule.Event(domain.ThresholdEventName)
	if !ok {
		return
	}

	if !m.selectionRunning(event.Selection) {
		return
	}

	threshold := time.Duration(event.ThresholdMinutes) * time.Minute

	m.mu.Lock()
	m.usage += elapsed
	fire := m.usage >= threshold
	if fire {
		m.usage = 0
	}
	m.mu.Unlock()

	if fire {
		m.logger.Info("usage threshold reached", zap.Duration("threshold", threshold))
		m.emit(domain.ThresholdEventName)
	}
}

func (m *ActivityMonitor) selectionRunning(sel domain.Selection) bool {
	for _, pattern := range m.expander.Expand(sel).Patterns {
		pids, err := m.processManager.FindByName(pattern)
		if err != nil {
			m.logger.Debug("failed to find processes", zap.String("pattern", pattern), zap.Error(err))
			continue
		}
		for _, pid := range pids {
			if pid != m.selfPID {
				return true
			}
		}
	}
	return false
}

func (m *ActivityMonitor) emit(name string) {
	if m.handler != nil {
		m.handler(name)
	}
}
