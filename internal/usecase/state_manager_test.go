package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/scroll_mon/internal/domain"
)

// fakeClock is a settable clock shared by the manager and the store
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(h, m int) *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 12, h, m, 0, 0, time.Local)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(h, m, s int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	y, mo, d := c.now.Date()
	c.now = time.Date(y, mo, d, h, m, s, 0, time.Local)
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// memStore implements domain.Store in memory for testing
type memStore struct {
	mu        sync.Mutex
	clock     func() time.Time
	settings  *domain.Settings
	runtime   *domain.RuntimeState
	log       domain.EventLog
	schedule  *domain.ActivitySchedule
	saveErr   error
	clearErrs int
	updates   int
}

func newMemStore(clock func() time.Time) *memStore {
	return &memStore{clock: clock}
}

func (s *memStore) LoadSettings() domain.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		return domain.DefaultSettings()
	}
	return *s.settings
}

func (s *memStore) SaveSettings(v domain.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	v = v.Validate()
	s.settings = &v
	return nil
}

func (s *memStore) LoadRuntimeState() domain.RuntimeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runtime == nil {
		return domain.InitialRuntimeState(s.clock())
	}
	return *s.runtime
}

func (s *memStore) SaveRuntimeState(v domain.RuntimeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.runtime = &v
	return nil
}

func (s *memStore) SaveRuntimeStateAsync(v domain.RuntimeState) {
	_ = s.SaveRuntimeState(v)
}

func (s *memStore) UpdateRuntimeState(fn func(*domain.RuntimeState)) (domain.RuntimeState, error) {
	s.mu.Lock()
	s.updates++
	s.mu.Unlock()
	v := s.LoadRuntimeState()
	fn(&v)
	return v, s.SaveRuntimeState(v)
}

func (s *memStore) LogEvent(t domain.EventType, details *string, d *time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Append(domain.NewEventLogEntry(s.clock(), t, details, d))
	return nil
}

func (s *memStore) LoadEventLog() domain.EventLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.EventLog{Entries: append([]domain.EventLogEntry(nil), s.log.Entries...)}
}

func (s *memStore) LoadSchedule() (domain.ActivitySchedule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedule == nil {
		return domain.ActivitySchedule{}, false
	}
	return *s.schedule, true
}

func (s *memStore) SaveSchedule(a domain.ActivitySchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedule = &a
	return nil
}

func (s *memStore) ClearSchedule() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedule = nil
	return nil
}

func (s *memStore) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings, s.runtime, s.schedule = nil, nil, nil
	s.log = domain.EventLog{}
	s.clearErrs++
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) eventTypes() []domain.EventType {
	var out []domain.EventType
	for _, e := range s.LoadEventLog().Entries {
		out = append(out, e.EventType)
	}
	return out
}

// fakeShield implements domain.ShieldGateway for testing
type fakeShield struct {
	mu       sync.Mutex
	active   bool
	applied  []domain.Selection
	removals int
}

func (f *fakeShield) ApplyShield(sel domain.Selection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = true
	f.applied = append(f.applied, sel)
	return nil
}

func (f *fakeShield) RemoveShield() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = false
	f.removals++
	return nil
}

func (f *fakeShield) IsShieldActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// fakeScheduler implements domain.ActivityScheduler for testing
type fakeScheduler struct {
	startErr  error
	schedules []domain.ActivitySchedule
	stops     int
}

func (f *fakeScheduler) StartMonitoring(a domain.ActivitySchedule) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.schedules = append(f.schedules, a)
	return nil
}

func (f *fakeScheduler) StopMonitoring() error {
	f.stops++
	return nil
}

type fakeAuthorizer struct{ err error }

func (f fakeAuthorizer) Authorized() error { return f.err }

type fakeNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (f *fakeNotifier) Notify(_ context.Context, title, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles = append(f.titles, title)
}

type fakeRecorder struct {
	transitions []string
	granted     int
	denied      int
}

func (f *fakeRecorder) Transition(from, to domain.State) {
	f.transitions = append(f.transitions, string(from)+"->"+string(to))
}

func (f *fakeRecorder) Override(granted bool) {
	if granted {
		f.granted++
	} else {
		f.denied++
	}
}

func (f *fakeRecorder) ShieldActive(bool) {}

type testEnv struct {
	clock     *fakeClock
	store     *memStore
	shield    *fakeShield
	scheduler *fakeScheduler
	notifier  *fakeNotifier
	recorder  *fakeRecorder
	sm        *StateManager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := newFakeClock(10, 0)
	env := &testEnv{
		clock:     clock,
		store:     newMemStore(clock.Now),
		shield:    &fakeShield{},
		scheduler: &fakeScheduler{},
		notifier:  &fakeNotifier{},
		recorder:  &fakeRecorder{},
	}
	env.sm = env.newManager(env.shield)
	return env
}

func (e *testEnv) newManager(shield domain.ShieldGateway) *StateManager {
	return NewStateManager(StateManagerDeps{
		Store:      e.store,
		Shield:     shield,
		Scheduler:  e.scheduler,
		Authorizer: fakeAuthorizer{},
		Notifier:   e.notifier,
		Recorder:   e.recorder,
		Clock:      e.clock.Now,
	}, zap.NewNop())
}

func (e *testEnv) selectApps(t *testing.T) {
	t.Helper()
	s := domain.DefaultSettings()
	s.MonitoredSelection = domain.Selection{Applications: []string{"TikTok"}}
	require.NoError(t, e.store.SaveSettings(s))
}

func (e *testEnv) startMonitoring(t *testing.T) {
	t.Helper()
	e.selectApps(t)
	require.NoError(t, e.sm.StartMonitoring())
}

func TestStartMonitoring_Errors(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name      string
		selectApp bool
		authErr   error
		schedErr  error
		want      error
	}{
		{name: "empty selection", want: domain.ErrNoAppsSelected},
		{name: "not authorized", selectApp: true, authErr: cause, want: domain.ErrNotAuthorized},
		{name: "scheduler rejects", selectApp: true, schedErr: cause, want: domain.ErrMonitoringFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.scheduler.startErr = tt.schedErr
			if tt.selectApp {
				env.selectApps(t)
			}
			sm := NewStateManager(StateManagerDeps{
				Store:      env.store,
				Shield:     env.shield,
				Scheduler:  env.scheduler,
				Authorizer: fakeAuthorizer{err: tt.authErr},
				Clock:      env.clock.Now,
			}, zap.NewNop())

			err := sm.StartMonitoring()

			require.ErrorIs(t, err, tt.want)
			if tt.selectApp {
				assert.ErrorIs(t, err, cause)
			}
			assert.Equal(t, domain.StateInactive, sm.RuntimeState().CurrentState)
			assert.Empty(t, env.store.eventTypes())
		})
	}
}

func TestStartMonitoring_Success(t *testing.T) {
	env := newTestEnv(t)
	env.startMonitoring(t)

	rt := env.sm.RuntimeState()
	assert.Equal(t, domain.StateMonitoring, rt.CurrentState)
	assert.Equal(t, domain.NoTimer, rt.Timer.Kind)

	require.Len(t, env.scheduler.schedules, 1)
	ev, ok := env.scheduler.schedules[0].Event(domain.ThresholdEventName)
	require.True(t, ok)
	assert.Equal(t, 15, ev.ThresholdMinutes)
	assert.Equal(t, []domain.EventType{domain.EventMonitoringStarted}, env.store.eventTypes())
}

func TestCooldownScenario(t *testing.T) {
	env := newTestEnv(t)
	env.startMonitoring(t)

	require.True(t, env.sm.TriggerCooldown())

	rt := env.sm.RuntimeState()
	assert.Equal(t, domain.StateCooldownActive, rt.CurrentState)
	require.NotNil(t, rt.CooldownEndTime())
	assert.Equal(t, env.clock.Now().Add(5*time.Minute), *rt.CooldownEndTime())
	assert.True(t, env.shield.IsShieldActive())
	assert.Equal(t, []string{"Time for a break"}, env.notifier.titles)

	entries := env.store.LoadEventLog().Entries
	last := entries[len(entries)-1]
	assert.Equal(t, domain.EventCooldownStarted, last.EventType)
	require.NotNil(t, last.Duration)
	assert.Equal(t, 5*time.Minute, *last.Duration)

	env.clock.Set(10, 4, 59)
	env.sm.Tick()
	assert.Equal(t, domain.StateCooldownActive, env.sm.Snapshot().Runtime.CurrentState)

	env.clock.Set(10, 5, 0)
	env.sm.Tick()
	assert.Equal(t, domain.StateMonitoring, env.sm.Snapshot().Runtime.CurrentState)
	assert.False(t, env.shield.IsShieldActive())
	assert.Equal(t, domain.EventCooldownEnded, env.store.eventTypes()[len(env.store.eventTypes())-1])

	stored := env.store.LoadRuntimeState()
	assert.Equal(t, domain.StateMonitoring, stored.CurrentState)
}

func TestOverrideScenario(t *testing.T) {
	env := newTestEnv(t)
	env.startMonitoring(t)
	require.True(t, env.sm.TriggerCooldown())

	env.clock.Set(10, 1, 0)
	require.True(t, env.sm.UseOverride())

	rt := env.sm.RuntimeState()
	assert.Equal(t, domain.StateOverrideActive, rt.CurrentState)
	assert.Equal(t, 1, rt.OverridesUsedToday)
	assert.Equal(t, 2, env.sm.OverridesRemaining())
	require.NotNil(t, rt.OverrideEndTime())
	assert.Equal(t, 3, rt.OverrideEndTime().Minute())
	require.NotNil(t, rt.CooldownEndTime())
	assert.Equal(t, 5, rt.CooldownEndTime().Minute())
	assert.False(t, env.shield.IsShieldActive())

	env.clock.Set(10, 3, 0)
	env.sm.Tick()
	assert.Equal(t, domain.StateCooldownActive, env.sm.Snapshot().Runtime.CurrentState)
	assert.True(t, env.shield.IsShieldActive())

	env.clock.Set(10, 5, 0)
	env.sm.Tick()
	assert.Equal(t, domain.StateMonitoring, env.sm.Snapshot().Runtime.CurrentState)
	assert.False(t, env.shield.IsShieldActive())

	assert.Equal(t, []domain.EventType{
		domain.EventMonitoringStarted,
		domain.EventCooldownStarted,
		domain.EventOverrideUsed,
		domain.EventOverrideEnded,
		domain.EventCooldownEnded,
	}, env.store.eventTypes())
	assert.Equal(t, 1, env.recorder.granted)
}

func TestOverrideOutlivesCooldown(t *testing.T) {
	env := newTestEnv(t)
	env.selectApps(t)
	s := env.store.LoadSettings()
	s.CooldownMinutes = 1
	s.OverrideMinutes = 2
	require.NoError(t, env.store.SaveSettings(s))
	require.NoError(t, env.sm.StartMonitoring())

	require.True(t, env.sm.TriggerCooldown())
	env.clock.Set(10, 0, 30)
	require.True(t, env.sm.UseOverride())

	env.clock.Set(10, 3, 0)
	env.sm.Tick()

	assert.Equal(t, domain.StateMonitoring, env.sm.Snapshot().Runtime.CurrentState)
	assert.False(t, env.shield.IsShieldActive())
	types := env.store.eventTypes()
	assert.Equal(t, []domain.EventType{domain.EventOverrideEnded, domain.EventCooldownEnded}, types[len(types)-2:])
}

func TestUseOverride_Denied(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, env *testEnv)
	}{
		{
			name: "not in cooldown",
			setup: func(t *testing.T, env *testEnv) {
				env.startMonitoring(t)
			},
		},
		{
			name: "soft mode disabled",
			setup: func(t *testing.T, env *testEnv) {
				env.startMonitoring(t)
				s := env.store.LoadSettings()
				s.SoftModeEnabled = false
				require.NoError(t, env.store.SaveSettings(s))
				require.True(t, env.sm.TriggerCooldown())
			},
		},
		{
			name: "quota exhausted",
			setup: func(t *testing.T, env *testEnv) {
				env.startMonitoring(t)
				require.True(t, env.sm.TriggerCooldown())
				_, err := env.store.UpdateRuntimeState(func(rt *domain.RuntimeState) {
					rt.OverridesUsedToday = 3
				})
				require.NoError(t, err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			tt.setup(t, env)

			before := env.store.LoadRuntimeState()
			logLen := env.store.LoadEventLog().Len()

			assert.False(t, env.sm.UseOverride())
			assert.Equal(t, before, env.store.LoadRuntimeState())
			assert.Equal(t, logLen, env.store.LoadEventLog().Len())
			assert.Equal(t, 1, env.recorder.denied)
		})
	}
}

func TestUseOverride_DailyReset(t *testing.T) {
	env := newTestEnv(t)
	env.startMonitoring(t)
	require.True(t, env.sm.TriggerCooldown())
	_, err := env.store.UpdateRuntimeState(func(rt *domain.RuntimeState) {
		rt.OverridesUsedToday = 3
	})
	require.NoError(t, err)
	assert.False(t, env.sm.UseOverride())

	// Next day, with a fresh cooldown
	env.clock.Advance(24 * time.Hour)
	env.sm.Tick()
	assert.Equal(t, 3, env.sm.OverridesRemaining())
	require.True(t, env.sm.TriggerCooldown())
	assert.True(t, env.sm.UseOverride())
	assert.Equal(t, 1, env.sm.RuntimeState().OverridesUsedToday)
}

func TestTriggerCooldown_IgnoredOutsideMonitoring(t *testing.T) {
	env := newTestEnv(t)

	assert.False(t, env.sm.TriggerCooldown(), "inactive")

	env.startMonitoring(t)
	require.True(t, env.sm.TriggerCooldown())
	end := env.sm.RuntimeState().CooldownEndTime()

	env.clock.Set(10, 2, 0)
	assert.False(t, env.sm.TriggerCooldown(), "duplicate signal")
	assert.Equal(t, end, env.sm.RuntimeState().CooldownEndTime())
}

func TestPauseResume(t *testing.T) {
	env := newTestEnv(t)

	assert.ErrorIs(t, env.sm.PauseMonitoring(), domain.ErrInvalidTransition)
	assert.ErrorIs(t, env.sm.ResumeMonitoring(), domain.ErrInvalidTransition)

	env.startMonitoring(t)
	require.NoError(t, env.sm.PauseMonitoring())
	assert.Equal(t, domain.StatePaused, env.sm.RuntimeState().CurrentState)
	assert.Equal(t, 1, env.scheduler.stops)

	require.NoError(t, env.sm.ResumeMonitoring())
	assert.Equal(t, domain.StateMonitoring, env.sm.RuntimeState().CurrentState)
	assert.Len(t, env.scheduler.schedules, 2)

	assert.Equal(t, []domain.EventType{
		domain.EventMonitoringStarted,
		domain.EventMonitoringPaused,
		domain.EventMonitoringResumed,
	}, env.store.eventTypes())
}

func TestResume_RevalidatesSelection(t *testing.T) {
	env := newTestEnv(t)
	env.startMonitoring(t)
	require.NoError(t, env.sm.PauseMonitoring())

	require.NoError(t, env.store.SaveSettings(domain.DefaultSettings()))

	assert.ErrorIs(t, env.sm.ResumeMonitoring(), domain.ErrNoAppsSelected)
	assert.Equal(t, domain.StatePaused, env.sm.RuntimeState().CurrentState)
}

func TestStopMonitoring(t *testing.T) {
	env := newTestEnv(t)
	env.startMonitoring(t)
	require.True(t, env.sm.TriggerCooldown())

	require.NoError(t, env.sm.StopMonitoring())

	rt := env.sm.RuntimeState()
	assert.Equal(t, domain.StateInactive, rt.CurrentState)
	assert.Nil(t, rt.CooldownEndTime())
	assert.Nil(t, rt.OverrideEndTime())
	assert.False(t, env.shield.IsShieldActive())
	assert.Equal(t, 1, env.scheduler.stops)
}

func TestUpdateSettings(t *testing.T) {
	t.Run("clamps and persists", func(t *testing.T) {
		env := newTestEnv(t)
		s := domain.DefaultSettings()
		s.ThresholdMinutes = 999

		require.NoError(t, env.sm.UpdateSettings(s))

		assert.Equal(t, 60, env.sm.Settings().ThresholdMinutes)
		assert.Equal(t, []domain.EventType{domain.EventSettingsChanged}, env.store.eventTypes())
		assert.Empty(t, env.scheduler.schedules)
	})

	t.Run("restarts monitoring", func(t *testing.T) {
		env := newTestEnv(t)
		env.startMonitoring(t)
		s := env.sm.Settings()
		s.ThresholdMinutes = 30

		require.NoError(t, env.sm.UpdateSettings(s))

		require.Len(t, env.scheduler.schedules, 2)
		ev, _ := env.scheduler.schedules[1].Event(domain.ThresholdEventName)
		assert.Equal(t, 30, ev.ThresholdMinutes)
	})

	t.Run("restart failure is swallowed", func(t *testing.T) {
		env := newTestEnv(t)
		env.startMonitoring(t)

		require.NoError(t, env.sm.UpdateSettings(domain.DefaultSettings()))

		assert.Equal(t, domain.StateMonitoring, env.sm.RuntimeState().CurrentState)
		assert.Len(t, env.scheduler.schedules, 1)
	})

	t.Run("save failure is returned", func(t *testing.T) {
		env := newTestEnv(t)
		env.store.saveErr = errors.New("disk full")

		assert.Error(t, env.sm.UpdateSettings(domain.DefaultSettings()))
	})
}

func TestRefresh_FollowsOtherProcess(t *testing.T) {
	env := newTestEnv(t)
	env.startMonitoring(t)

	// A second manager over the same store stands in for another process
	otherShield := &fakeShield{}
	other := env.newManager(otherShield)
	require.True(t, other.TriggerCooldown())
	assert.True(t, otherShield.IsShieldActive())

	assert.False(t, env.shield.IsShieldActive())
	env.sm.Refresh()
	assert.Equal(t, domain.StateCooldownActive, env.sm.Snapshot().Runtime.CurrentState)
	assert.True(t, env.shield.IsShieldActive())

	require.True(t, other.UseOverride())
	env.sm.Refresh()
	assert.False(t, env.shield.IsShieldActive())
}

func TestRefresh_ReappliesShieldWhenSelectionChanges(t *testing.T) {
	env := newTestEnv(t)
	env.startMonitoring(t)

	backgroundShield := &fakeShield{}
	background := env.newManager(backgroundShield)
	require.True(t, background.TriggerCooldown())
	require.Len(t, backgroundShield.applied, 1)

	s := env.sm.Settings()
	s.MonitoredSelection = domain.Selection{Applications: []string{"Instagram"}}
	require.NoError(t, env.sm.UpdateSettings(s))

	background.Refresh()
	require.Len(t, backgroundShield.applied, 2)
	assert.Equal(t, []string{"Instagram"}, backgroundShield.applied[1].Applications)
	assert.True(t, backgroundShield.IsShieldActive())

	// Threshold-only changes keep the current shield.
	s.ThresholdMinutes = 30
	require.NoError(t, env.sm.UpdateSettings(s))
	background.Refresh()
	background.Tick()
	assert.Len(t, backgroundShield.applied, 2)
}

func TestRefresh_SelectionChangeOutsideCooldownLeavesShieldDown(t *testing.T) {
	env := newTestEnv(t)
	env.startMonitoring(t)

	backgroundShield := &fakeShield{}
	background := env.newManager(backgroundShield)

	s := env.sm.Settings()
	s.MonitoredSelection = domain.Selection{Applications: []string{"Instagram"}}
	require.NoError(t, env.sm.UpdateSettings(s))

	background.Refresh()
	assert.Empty(t, backgroundShield.applied)
}

func TestDeniedOperations_StillDeliverExpiryNotifications(t *testing.T) {
	tests := []struct {
		name string
		op   func(t *testing.T, sm *StateManager)
	}{
		{name: "override", op: func(t *testing.T, sm *StateManager) { assert.False(t, sm.UseOverride()) }},
		{name: "resume", op: func(t *testing.T, sm *StateManager) { assert.Error(t, sm.ResumeMonitoring()) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.startMonitoring(t)
			require.True(t, env.sm.TriggerCooldown())

			var snaps []Snapshot
			env.sm.Subscribe(func(s Snapshot) { snaps = append(snaps, s) })

			// The cooldown ends unobserved; the next call finds out on reload.
			env.clock.Advance(6 * time.Minute)
			tt.op(t, env.sm)

			assert.Contains(t, env.notifier.titles, "Break over")
			require.NotEmpty(t, snaps)
		})
	}
}

func TestDeniedOverride_AfterExpiry(t *testing.T) {
	env := newTestEnv(t)
	env.startMonitoring(t)
	require.True(t, env.sm.TriggerCooldown())

	var snaps []Snapshot
	env.sm.Subscribe(func(s Snapshot) { snaps = append(snaps, s) })

	env.clock.Advance(6 * time.Minute)
	assert.False(t, env.sm.UseOverride())

	assert.Equal(t, []string{"Time for a break", "Break over"}, env.notifier.titles)
	require.Len(t, snaps, 1)
	assert.Equal(t, domain.StateMonitoring, snaps[0].Runtime.CurrentState)
}

func TestStartMonitoring_NotAuthorizedIsWrappedOnce(t *testing.T) {
	env := newTestEnv(t)
	env.selectApps(t)
	sm := NewStateManager(StateManagerDeps{
		Store:      env.store,
		Shield:     env.shield,
		Scheduler:  env.scheduler,
		Authorizer: fakeAuthorizer{err: fmt.Errorf("%w: only 1 process visible", domain.ErrNotAuthorized)},
		Clock:      env.clock.Now,
	}, zap.NewNop())

	err := sm.StartMonitoring()
	require.ErrorIs(t, err, domain.ErrNotAuthorized)
	assert.Equal(t, 1, strings.Count(err.Error(), domain.ErrNotAuthorized.Error()), err.Error())
}

func TestTransitions_GoThroughStoreUpdate(t *testing.T) {
	env := newTestEnv(t)
	env.startMonitoring(t)
	assert.Equal(t, 1, env.store.updates)

	require.True(t, env.sm.TriggerCooldown())
	require.True(t, env.sm.UseOverride())
	require.NoError(t, env.sm.StopMonitoring())
	assert.Equal(t, 4, env.store.updates)

	// A duplicate signal never reaches the store.
	assert.False(t, env.sm.TriggerCooldown())
	assert.Equal(t, 4, env.store.updates)
}

func TestTransitions_SurviveWriteFailure(t *testing.T) {
	env := newTestEnv(t)
	env.startMonitoring(t)

	env.store.saveErr = errors.New("disk full")
	assert.True(t, env.sm.TriggerCooldown())
	assert.Equal(t, domain.StateCooldownActive, env.sm.Snapshot().Runtime.CurrentState)
	assert.True(t, env.shield.IsShieldActive())

	err := env.sm.StopMonitoring()
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, domain.StateInactive, env.sm.Snapshot().Runtime.CurrentState)
}

func TestHandleActivityEvent(t *testing.T) {
	env := newTestEnv(t)
	env.startMonitoring(t)

	env.sm.HandleActivityEvent(domain.IntervalStartEventName)
	env.sm.HandleActivityEvent(domain.ThresholdEventName)
	env.sm.HandleActivityEvent("bogus")

	assert.Equal(t, []domain.EventType{
		domain.EventMonitoringStarted,
		domain.EventIntervalStarted,
		domain.EventThresholdReached,
		domain.EventCooldownStarted,
	}, env.store.eventTypes())

	stats := env.sm.Stats()
	assert.Equal(t, 1, stats.Cooldowns)
	assert.Equal(t, 1, stats.ThresholdsReached)
}

func TestMarkError(t *testing.T) {
	env := newTestEnv(t)
	env.startMonitoring(t)
	require.True(t, env.sm.TriggerCooldown())

	env.sm.MarkError(errors.New("tracker crashed"))

	assert.Equal(t, domain.StateError, env.sm.RuntimeState().CurrentState)
	assert.False(t, env.shield.IsShieldActive())
	entries := env.store.LoadEventLog().Entries
	last := entries[len(entries)-1]
	assert.Equal(t, domain.EventError, last.EventType)
	require.NotNil(t, last.Details)
	assert.Equal(t, "tracker crashed", *last.Details)
}

func TestReset(t *testing.T) {
	env := newTestEnv(t)
	env.startMonitoring(t)
	require.True(t, env.sm.TriggerCooldown())

	require.NoError(t, env.sm.Reset())

	snap := env.sm.Snapshot()
	assert.Equal(t, domain.StateInactive, snap.Runtime.CurrentState)
	assert.Equal(t, domain.DefaultSettings(), snap.Settings)
	assert.False(t, env.shield.IsShieldActive())
	assert.Equal(t, 1, env.store.clearErrs)
	assert.Empty(t, env.store.eventTypes())
}

func TestSubscribe(t *testing.T) {
	env := newTestEnv(t)
	var got []domain.State
	unsubscribe := env.sm.Subscribe(func(s Snapshot) {
		got = append(got, s.Runtime.CurrentState)
	})

	env.startMonitoring(t)
	require.True(t, env.sm.TriggerCooldown())
	unsubscribe()
	env.sm.Tick()

	assert.Equal(t, []domain.State{domain.StateMonitoring, domain.StateCooldownActive}, got)
}

func TestSyncShield(t *testing.T) {
	env := newTestEnv(t)
	env.startMonitoring(t)
	require.True(t, env.sm.TriggerCooldown())

	// A freshly started process adopts the stored state
	shield := &fakeShield{}
	fresh := env.newManager(shield)
	assert.False(t, shield.IsShieldActive())
	fresh.SyncShield()
	assert.True(t, shield.IsShieldActive())
}

func TestRun_StopsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	sm := NewStateManager(StateManagerDeps{
		Store:        env.store,
		Shield:       env.shield,
		Scheduler:    env.scheduler,
		Clock:        env.clock.Now,
		TickInterval: 5 * time.Millisecond,
	}, zap.NewNop())

	ticks := make(chan struct{}, 1)
	sm.Subscribe(func(Snapshot) {
		select {
		case ticks <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sm.Run(ctx) }()

	select {
	case <-ticks:
	case <-time.After(time.Second):
		t.Fatal("no tick observed")
	}
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}

// Ensure fakes implement interfaces
var (
	_ domain.Store             = (*memStore)(nil)
	_ domain.ShieldGateway     = (*fakeShield)(nil)
	_ domain.ActivityScheduler = (*fakeScheduler)(nil)
	_ domain.Notifier          = (*fakeNotifier)(nil)
	_ Recorder                 = (*fakeRecorder)(nil)
)
