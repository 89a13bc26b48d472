package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/scroll_mon/internal/domain"
)

// DefaultTickInterval is how often Run reconciles the clocks.
const DefaultTickInterval = time.Second

var (
	// errPersist marks a transition that holds in memory but was not written.
	errPersist = errors.New("failed to persist runtime state")

	errOverrideNotAllowed = errors.New("override not allowed")
)

// Recorder receives metrics hooks. A nil Recorder is allowed.
type Recorder interface {
	Transition(from, to domain.State)
	Override(granted bool)
	ShieldActive(active bool)
}

// Snapshot is what observers see after every change and every tick.
type Snapshot struct {
	At                 time.Time
	Settings           domain.Settings
	Runtime            domain.RuntimeState
	OverridesRemaining int
	CooldownRemaining  time.Duration
	OverrideRemaining  time.Duration
	ShieldActive       bool
}

// StateManagerDeps wires a StateManager. Authorizer, Notifier and Recorder are optional.
type StateManagerDeps struct {
	Store      domain.Store
	Shield     domain.ShieldGateway
	Scheduler  domain.ActivityScheduler
	Authorizer domain.Authorizer
	Notifier   domain.Notifier
	Recorder   Recorder

	// Clock defaults to time.Now.
	Clock func() time.Time
	// TickInterval defaults to DefaultTickInterval.
	TickInterval time.Duration
}

type notification struct {
	title string
	body  string
}

// StateManager is the per-process orchestrator. It keeps an in-memory
// mirror of settings and runtime state, drives the shield from state
// changes and writes everything through the store. Processes never share
// memory; they meet only in the store, so every command reloads first.
type StateManager struct {
	store      domain.Store
	shield     domain.ShieldGateway
	scheduler  domain.ActivityScheduler
	authorizer domain.Authorizer
	notifier   domain.Notifier
	recorder   Recorder
	clock      func() time.Time
	tick       time.Duration
	logger     *zap.Logger

	mu        sync.Mutex
	settings  domain.Settings
	runtime   domain.RuntimeState
	pending   []notification
	observers map[int]func(Snapshot)
	nextObsID int
}

// NewStateManager creates a StateManager and loads the mirror from the store.
// It does not touch the shield; call SyncShield to force it to match.
func NewStateManager(deps StateManagerDeps, logger *zap.Logger) *StateManager {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	tick := deps.TickInterval
	if tick <= 0 {
		tick = DefaultTickInterval
	}

	m := &StateManager{
		store:      deps.Store,
		shield:     deps.Shield,
		scheduler:  deps.Scheduler,
		authorizer: deps.Authorizer,
		notifier:   deps.Notifier,
		recorder:   deps.Recorder,
		clock:      clock,
		tick:       tick,
		logger:     logger,
		observers:  make(map[int]func(Snapshot)),
	}
	m.settings = m.store.LoadSettings()
	m.runtime = m.store.LoadRuntimeState()
	return m
}

// Run calls Tick every tick interval until ctx is done.
func (m *StateManager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	m.logger.Info("state manager running", zap.Duration("tick_interval", m.tick))

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("state manager stopping")
			return ctx.Err()
		case <-ticker.C:
			m.Tick()
		}
	}
}

// Tick reconciles the mirror against the clock. Expired clocks are logged,
// the shield follows the new state and the result is persisted asynchronously.
func (m *StateManager) Tick() {
	m.mu.Lock()
	prev := m.runtime
	m.reconcileLocked(m.clock())
	m.afterTransitionLocked(prev)
	m.mu.Unlock()

	m.flush()
}

// Refresh reloads both values from the store. Another process may have changed them.
func (m *StateManager) Refresh() {
	m.mu.Lock()
	m.reloadLocked(m.clock())
	m.mu.Unlock()

	m.flush()
}

// SyncShield forces the shield to match the current state.
func (m *StateManager) SyncShield() {
	m.mu.Lock()
	m.reloadLocked(m.clock())
	if m.runtime.CurrentState.Shielded() {
		m.applyShieldLocked()
	} else {
		m.removeShieldLocked()
	}
	m.mu.Unlock()
}

// StartMonitoring validates the selection, registers the daily schedule and
// enters monitoring.
func (m *StateManager) StartMonitoring() error {
	m.mu.Lock()
	now := m.clock()
	m.reloadLocked(now)
	err := m.startMonitoringLocked(now, domain.EventMonitoringStarted)
	m.mu.Unlock()

	m.flush()
	return err
}

// startMonitoringLocked leaves the state untouched on any failure.
// An empty logAs skips the audit entry.
func (m *StateManager) startMonitoringLocked(now time.Time, logAs domain.EventType) error {
	if m.settings.MonitoredSelection.IsEmpty() {
		return domain.ErrNoAppsSelected
	}
	if m.authorizer != nil {
		if err := m.authorizer.Authorized(); err != nil {
			if errors.Is(err, domain.ErrNotAuthorized) {
				return err
			}
			return fmt.Errorf("%w: %w", domain.ErrNotAuthorized, err)
		}
	}
	if err := m.scheduler.StartMonitoring(domain.NewDailySchedule(m.settings, now)); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrMonitoringFailed, err)
	}

	prev := m.runtime
	_ = m.commitLocked(now, func(rt *domain.RuntimeState) error {
		rt.StartMonitoring()
		return nil
	})
	m.afterTransitionLocked(prev)

	if logAs != "" {
		m.logEventLocked(logAs, nil, nil)
	}
	m.logger.Info("monitoring started",
		zap.Int("selection_size", m.settings.MonitoredSelection.Count()),
		zap.Int("threshold_minutes", m.settings.ThresholdMinutes))
	return nil
}

// StopMonitoring cancels the schedule, lowers the shield and deactivates.
func (m *StateManager) StopMonitoring() error {
	m.mu.Lock()
	now := m.clock()
	m.reloadLocked(now)

	if err := m.scheduler.StopMonitoring(); err != nil {
		m.logger.Warn("failed to cancel activity schedule", zap.Error(err))
	}

	prev := m.runtime
	err := m.commitLocked(now, func(rt *domain.RuntimeState) error {
		rt.Stop()
		return nil
	})
	m.afterTransitionLocked(prev)
	m.removeShieldLocked()
	m.logEventLocked(domain.EventMonitoringStopped, nil, nil)
	m.mu.Unlock()

	m.flush()
	return err
}

// PauseMonitoring parks monitoring. Only allowed while monitoring.
func (m *StateManager) PauseMonitoring() error {
	m.mu.Lock()
	now := m.clock()
	m.reloadLocked(now)

	prev := m.runtime
	err := m.commitLocked(now, func(rt *domain.RuntimeState) error {
		return rt.Pause()
	})
	if err != nil && !errors.Is(err, errPersist) {
		m.mu.Unlock()
		m.flush()
		return err
	}
	if err := m.scheduler.StopMonitoring(); err != nil {
		m.logger.Warn("failed to cancel activity schedule", zap.Error(err))
	}
	m.afterTransitionLocked(prev)
	m.removeShieldLocked()
	m.logEventLocked(domain.EventMonitoringPaused, nil, nil)
	m.mu.Unlock()

	m.flush()
	return err
}

// ResumeMonitoring returns from paused. The selection is re-validated, so
// the state stays paused if monitoring cannot start.
func (m *StateManager) ResumeMonitoring() error {
	m.mu.Lock()
	now := m.clock()
	m.reloadLocked(now)

	if m.runtime.CurrentState != domain.StatePaused {
		err := fmt.Errorf("%w: resume from %s", domain.ErrInvalidTransition, m.runtime.CurrentState)
		m.mu.Unlock()
		m.flush()
		return err
	}
	err := m.startMonitoringLocked(now, domain.EventMonitoringResumed)
	m.mu.Unlock()

	m.flush()
	return err
}

// TriggerCooldown handles a threshold signal. Signals that arrive outside
// monitoring (duplicates, stale deliveries) are ignored and reported as false.
func (m *StateManager) TriggerCooldown() bool {
	m.mu.Lock()
	now := m.clock()
	m.reloadLocked(now)

	minutes := m.settings.CooldownMinutes
	prev := m.runtime
	ignored := m.runtime.CurrentState != domain.StateMonitoring
	if !ignored {
		err := m.commitLocked(now, func(rt *domain.RuntimeState) error {
			return rt.TriggerCooldown(now, minutes)
		})
		ignored = err != nil && !errors.Is(err, errPersist)
	}
	if ignored {
		m.logger.Info("ignoring threshold signal",
			zap.String("state", string(m.runtime.CurrentState)))
		m.mu.Unlock()
		m.flush()
		return false
	}
	m.afterTransitionLocked(prev)

	d := time.Duration(minutes) * time.Minute
	m.logEventLocked(domain.EventCooldownStarted, nil, &d)
	m.pending = append(m.pending, notification{
		title: "Time for a break",
		body:  fmt.Sprintf("Your apps are shielded for %d minutes.", minutes),
	})
	m.logger.Info("cooldown started", zap.Duration("duration", d))
	m.mu.Unlock()

	m.flush()
	return true
}

// UseOverride grants a temporary override of a running cooldown.
// Denial changes nothing and writes no audit entry.
func (m *StateManager) UseOverride() bool {
	m.mu.Lock()
	now := m.clock()
	m.reloadLocked(now)

	minutes := m.settings.OverrideMinutes
	prev := m.runtime
	granted := canOverride(m.settings, m.runtime)
	if granted {
		err := m.commitLocked(now, func(rt *domain.RuntimeState) error {
			if !canOverride(m.settings, *rt) {
				return errOverrideNotAllowed
			}
			return rt.UseOverride(now, minutes)
		})
		granted = err == nil || errors.Is(err, errPersist)
	}

	if !granted {
		m.logger.Info("override denied",
			zap.String("state", string(m.runtime.CurrentState)),
			zap.Bool("soft_mode", m.settings.SoftModeEnabled),
			zap.Int("used_today", m.runtime.OverridesUsedToday),
			zap.Int("per_day", m.settings.OverridesPerDay))
		if m.recorder != nil {
			m.recorder.Override(false)
		}
		m.mu.Unlock()
		m.flush()
		return false
	}
	m.afterTransitionLocked(prev)

	d := time.Duration(minutes) * time.Minute
	m.logEventLocked(domain.EventOverrideUsed, nil, &d)
	if m.recorder != nil {
		m.recorder.Override(true)
	}
	m.logger.Info("override granted",
		zap.Duration("duration", d),
		zap.Int("used_today", m.runtime.OverridesUsedToday))
	m.mu.Unlock()

	m.flush()
	return true
}

func canOverride(s domain.Settings, rt domain.RuntimeState) bool {
	return s.SoftModeEnabled &&
		rt.OverridesUsedToday < s.OverridesPerDay &&
		rt.CurrentState == domain.StateCooldownActive
}

// OverridesRemaining is today's remaining override quota.
func (m *StateManager) OverridesRemaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloadLocked(m.clock())
	return m.runtime.OverridesRemaining(m.settings.OverridesPerDay)
}

// Settings returns the current settings.
func (m *StateManager) Settings() domain.Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloadLocked(m.clock())
	return m.settings
}

// RuntimeState returns the current, reconciled runtime state.
func (m *StateManager) RuntimeState() domain.RuntimeState {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloadLocked(m.clock())
	return m.runtime
}

// UpdateSettings validates and persists new settings. While monitoring the
// schedule is re-registered; a failure there is logged and the previous
// schedule stays in place.
func (m *StateManager) UpdateSettings(s domain.Settings) error {
	s = s.Validate()

	m.mu.Lock()
	now := m.clock()
	m.reloadLocked(now)

	if err := m.store.SaveSettings(s); err != nil {
		m.mu.Unlock()
		m.flush()
		return fmt.Errorf("failed to save settings: %w", err)
	}
	m.settings = s
	m.logEventLocked(domain.EventSettingsChanged, nil, nil)

	switch m.runtime.CurrentState {
	case domain.StateMonitoring:
		if err := m.startMonitoringLocked(now, ""); err != nil {
			m.logger.Warn("failed to restart monitoring after settings change", zap.Error(err))
		}
	case domain.StateCooldownActive:
		m.applyShieldLocked()
	}
	m.mu.Unlock()

	m.flush()
	return nil
}

// HandleActivityEvent receives a named signal from the activity monitor.
func (m *StateManager) HandleActivityEvent(name string) {
	switch name {
	case domain.ThresholdEventName:
		m.mu.Lock()
		m.logEventLocked(domain.EventThresholdReached, nil, nil)
		m.mu.Unlock()
		m.TriggerCooldown()
	case domain.IntervalStartEventName:
		m.mu.Lock()
		m.logEventLocked(domain.EventIntervalStarted, nil, nil)
		m.mu.Unlock()
	case domain.IntervalEndEventName:
		m.mu.Lock()
		m.logEventLocked(domain.EventIntervalEnded, nil, nil)
		m.mu.Unlock()
	default:
		m.logger.Debug("unknown activity event", zap.String("event", name))
	}
}

// MarkError parks the machine in the error state until monitoring is restarted.
func (m *StateManager) MarkError(cause error) {
	m.mu.Lock()
	now := m.clock()
	m.reloadLocked(now)

	prev := m.runtime
	_ = m.commitLocked(now, func(rt *domain.RuntimeState) error {
		rt.Fail()
		return nil
	})
	m.afterTransitionLocked(prev)
	m.removeShieldLocked()

	details := cause.Error()
	m.logEventLocked(domain.EventError, &details, nil)
	m.logger.Error("monitoring failed", zap.Error(cause))
	m.mu.Unlock()

	m.flush()
}

// Reset wipes the store and returns to first-launch defaults.
func (m *StateManager) Reset() error {
	m.mu.Lock()
	if err := m.scheduler.StopMonitoring(); err != nil {
		m.logger.Warn("failed to cancel activity schedule", zap.Error(err))
	}
	err := m.store.ClearAll()
	prev := m.runtime
	m.settings = domain.DefaultSettings()
	m.runtime = domain.InitialRuntimeState(m.clock())
	m.afterTransitionLocked(prev)
	m.removeShieldLocked()
	m.logger.Info("state reset")
	m.mu.Unlock()

	m.flush()
	if err != nil {
		return fmt.Errorf("failed to clear store: %w", err)
	}
	return nil
}

// Subscribe registers fn for snapshots. The returned func unsubscribes.
func (m *StateManager) Subscribe(fn func(Snapshot)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextObsID
	m.nextObsID++
	m.observers[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.observers, id)
	}
}

// Snapshot returns the current view without reloading.
func (m *StateManager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(m.clock())
}

// Stats summarises today's event log.
func (m *StateManager) Stats() domain.DailyStats {
	return m.store.LoadEventLog().Stats(m.clock())
}

func (m *StateManager) snapshotLocked(now time.Time) Snapshot {
	return Snapshot{
		At:                 now,
		Settings:           m.settings,
		Runtime:            m.runtime,
		OverridesRemaining: m.runtime.OverridesRemaining(m.settings.OverridesPerDay),
		CooldownRemaining:  m.runtime.CooldownRemaining(now),
		OverrideRemaining:  m.runtime.OverrideRemaining(now),
		ShieldActive:       m.shield.IsShieldActive(),
	}
}

// reloadLocked replaces the mirror with the stored values and reconciles.
// A selection changed elsewhere while shielded re-applies the shield.
func (m *StateManager) reloadLocked(now time.Time) {
	prev, prevSel := m.runtime, m.settings.MonitoredSelection
	m.settings = m.store.LoadSettings()
	m.runtime = m.store.LoadRuntimeState()
	m.reconcileLocked(now)
	m.afterTransitionLocked(prev)

	if prev.CurrentState.Shielded() && m.runtime.CurrentState.Shielded() &&
		!prevSel.Equal(m.settings.MonitoredSelection) {
		m.applyShieldLocked()
	}
}

// reconcileLocked applies clock expiry and the daily reset, logs what expired
// and queues the write. It reports whether the state changed.
func (m *StateManager) reconcileLocked(now time.Time) bool {
	before := m.runtime.CurrentState
	if !m.runtime.Reconcile(now) {
		return false
	}
	after := m.runtime.CurrentState

	switch {
	case before == domain.StateCooldownActive && after == domain.StateMonitoring:
		m.logEventLocked(domain.EventCooldownEnded, nil, nil)
		m.pending = append(m.pending, notification{title: "Break over", body: "Your apps are available again."})
	case before == domain.StateOverrideActive && after == domain.StateCooldownActive:
		m.logEventLocked(domain.EventOverrideEnded, nil, nil)
	case before == domain.StateOverrideActive && after == domain.StateMonitoring:
		m.logEventLocked(domain.EventOverrideEnded, nil, nil)
		m.logEventLocked(domain.EventCooldownEnded, nil, nil)
	}

	m.store.SaveRuntimeStateAsync(m.runtime)
	return before != after
}

// afterTransitionLocked records the transition and drives the shield when
// the shielded-ness of the state changed.
func (m *StateManager) afterTransitionLocked(prev domain.RuntimeState) {
	from, to := prev.CurrentState, m.runtime.CurrentState
	if from == to {
		return
	}
	if m.recorder != nil && from != "" {
		m.recorder.Transition(from, to)
	}
	m.logger.Debug("state transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)))

	if from.Shielded() == to.Shielded() {
		return
	}
	if to.Shielded() {
		m.applyShieldLocked()
	} else {
		m.removeShieldLocked()
	}
}

func (m *StateManager) applyShieldLocked() {
	if err := m.shield.ApplyShield(m.settings.MonitoredSelection); err != nil {
		m.logger.Warn("failed to apply shield", zap.Error(err))
		return
	}
	if m.recorder != nil {
		m.recorder.ShieldActive(true)
	}
}

func (m *StateManager) removeShieldLocked() {
	if err := m.shield.RemoveShield(); err != nil {
		m.logger.Warn("failed to remove shield", zap.Error(err))
		return
	}
	if m.recorder != nil {
		m.recorder.ShieldActive(false)
	}
}

// commitLocked applies fn to the stored runtime state in one queued
// read-modify-write and adopts the result as the mirror. An error from fn is
// returned as is and leaves the mirror untouched. When only the write fails
// the transition still applies to the mirror and errPersist is returned.
func (m *StateManager) commitLocked(now time.Time, fn func(*domain.RuntimeState) error) error {
	var fnErr error
	rt, err := m.store.UpdateRuntimeState(func(rt *domain.RuntimeState) {
		rt.Reconcile(now)
		fnErr = fn(rt)
	})
	if fnErr != nil {
		return fnErr
	}
	if err != nil {
		next := m.runtime
		if ferr := fn(&next); ferr != nil {
			return ferr
		}
		m.runtime = next
		m.logger.Warn("failed to persist runtime state", zap.Error(err))
		return fmt.Errorf("%w: %w", errPersist, err)
	}
	m.runtime = rt
	return nil
}

func (m *StateManager) logEventLocked(t domain.EventType, details *string, d *time.Duration) {
	if err := m.store.LogEvent(t, details, d); err != nil {
		m.logger.Warn("failed to append event", zap.String("event", string(t)), zap.Error(err))
	}
}

// flush publishes a snapshot and sends queued notifications. Called without the lock.
func (m *StateManager) flush() {
	m.mu.Lock()
	snap := m.snapshotLocked(m.clock())
	observers := make([]func(Snapshot), 0, len(m.observers))
	for _, fn := range m.observers {
		observers = append(observers, fn)
	}
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
	if m.notifier == nil {
		return
	}
	for _, n := range pending {
		m.notifier.Notify(context.Background(), n.title, n.body)
	}
}
