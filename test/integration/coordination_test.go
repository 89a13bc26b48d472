//go:build integration

package integration

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/scroll_mon/internal/domain"
	"github.com/eliteGoblin/focusd/scroll_mon/internal/infra"
	"github.com/eliteGoblin/focusd/scroll_mon/internal/usecase"
)

// sharedClock is the wall clock both simulated processes agree on.
type sharedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *sharedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *sharedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingShield stands in for the OS-level shield.
type recordingShield struct {
	mu        sync.Mutex
	active    bool
	selection domain.Selection
}

func (s *recordingShield) ApplyShield(sel domain.Selection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
	s.selection = sel
	return nil
}

func (s *recordingShield) Selection() domain.Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection
}

func (s *recordingShield) RemoveShield() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	return nil
}

func (s *recordingShield) IsShieldActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

type allowAll struct{}

func (allowAll) Authorized() error { return nil }

// process is one simulated scrollmon process: its own store handle, its own
// shield and its own StateManager over the shared data directory.
type process struct {
	store   *infra.Store
	shield  *recordingShield
	manager *usecase.StateManager
}

func startProcess(dataDir string, clock *sharedClock) *process {
	logger := zap.NewNop()
	store, err := infra.OpenStore(infra.BackendFile, dataDir, nil, logger, infra.WithStoreClock(clock.Now))
	Expect(err).NotTo(HaveOccurred())

	p := &process{store: store, shield: &recordingShield{}}
	p.manager = usecase.NewStateManager(usecase.StateManagerDeps{
		Store:      store,
		Shield:     p.shield,
		Scheduler:  infra.NewStoreScheduler(store, logger),
		Authorizer: allowAll{},
		Clock:      clock.Now,
	}, logger)
	DeferCleanup(func() { _ = store.Close() })
	return p
}

func (p *process) state() domain.State {
	return p.manager.RuntimeState().CurrentState
}

var _ = Describe("Cross-process coordination", func() {
	var (
		dataDir    string
		clock      *sharedClock
		foreground *process
		background *process
	)

	BeforeEach(func() {
		dataDir = GinkgoT().TempDir()
		clock = &sharedClock{now: time.Date(2024, 6, 12, 10, 0, 0, 0, time.Local)}
		foreground = startProcess(dataDir, clock)
		background = startProcess(dataDir, clock)

		s := domain.DefaultSettings()
		s.MonitoredSelection = domain.Selection{Applications: []string{"TikTok"}}
		Expect(foreground.manager.UpdateSettings(s)).To(Succeed())
		Expect(foreground.manager.StartMonitoring()).To(Succeed())
	})

	Describe("starting monitoring", func() {
		It("is visible to the background process after a refresh", func() {
			background.manager.Refresh()
			Expect(background.manager.Snapshot().Runtime.CurrentState).To(Equal(domain.StateMonitoring))

			schedule, ok := background.store.LoadSchedule()
			Expect(ok).To(BeTrue())
			event, ok := schedule.Event(domain.ThresholdEventName)
			Expect(ok).To(BeTrue())
			Expect(event.ThresholdMinutes).To(Equal(15))
		})

		It("reaches the background process through the store watcher", func() {
			Expect(foreground.manager.StopMonitoring()).To(Succeed())
			background.manager.Refresh()
			Expect(background.manager.Snapshot().Runtime.CurrentState).To(Equal(domain.StateInactive))

			watcher, err := infra.NewStoreWatcher(background.store, background.manager.Refresh, 20*time.Millisecond, zap.NewNop())
			Expect(err).NotTo(HaveOccurred())
			ctx, cancel := context.WithCancel(context.Background())
			DeferCleanup(cancel)
			go func() { _ = watcher.Run(ctx) }()

			// Give the watcher time to register before writing.
			time.Sleep(50 * time.Millisecond)
			Expect(foreground.manager.StartMonitoring()).To(Succeed())

			Eventually(func() domain.State {
				return background.manager.Snapshot().Runtime.CurrentState
			}, 2*time.Second, 10*time.Millisecond).Should(Equal(domain.StateMonitoring))
		})
	})

	Describe("a cooldown started in the background", func() {
		BeforeEach(func() {
			background.manager.Refresh()
			background.manager.HandleActivityEvent(domain.ThresholdEventName)
		})

		It("raises the background shield and is seen by the foreground", func() {
			Expect(background.shield.IsShieldActive()).To(BeTrue())
			Expect(foreground.state()).To(Equal(domain.StateCooldownActive))
			Expect(foreground.manager.Snapshot().CooldownRemaining).To(Equal(5 * time.Minute))
		})

		It("can be interrupted by an override from the foreground", func() {
			Expect(foreground.manager.UseOverride()).To(BeTrue())

			background.manager.Refresh()
			Expect(background.manager.Snapshot().Runtime.CurrentState).To(Equal(domain.StateOverrideActive))
			Expect(background.shield.IsShieldActive()).To(BeFalse())

			By("resuming the suspended cooldown when the override expires")
			clock.Advance(2*time.Minute + time.Second)
			background.manager.Tick()
			Expect(background.manager.Snapshot().Runtime.CurrentState).To(Equal(domain.StateCooldownActive))
			Expect(background.shield.IsShieldActive()).To(BeTrue())
			Expect(foreground.state()).To(Equal(domain.StateCooldownActive))

			By("returning to monitoring when the original cooldown ends")
			clock.Advance(3 * time.Minute)
			background.manager.Tick()
			Expect(background.manager.Snapshot().Runtime.CurrentState).To(Equal(domain.StateMonitoring))
			Expect(background.shield.IsShieldActive()).To(BeFalse())
			Expect(foreground.state()).To(Equal(domain.StateMonitoring))

			Eventually(func() []domain.EventType {
				var types []domain.EventType
				for _, e := range foreground.store.LoadEventLog().Entries {
					types = append(types, e.EventType)
				}
				return types
			}).Should(ContainElements(
				domain.EventThresholdReached,
				domain.EventCooldownStarted,
				domain.EventOverrideUsed,
				domain.EventOverrideEnded,
				domain.EventCooldownEnded,
			))
		})

		It("shares the override quota between processes", func() {
			s := foreground.manager.Settings()
			s.OverridesPerDay = 1
			Expect(foreground.manager.UpdateSettings(s)).To(Succeed())

			Expect(foreground.manager.UseOverride()).To(BeTrue())
			clock.Advance(2*time.Minute + time.Second)

			third := startProcess(dataDir, clock)
			Expect(third.state()).To(Equal(domain.StateCooldownActive))
			Expect(third.manager.OverridesRemaining()).To(Equal(0))
			Expect(third.manager.UseOverride()).To(BeFalse())
			Expect(background.manager.UseOverride()).To(BeFalse())

			By("restoring the quota on the next local day")
			clock.Advance(24 * time.Hour)
			Expect(foreground.manager.OverridesRemaining()).To(Equal(1))
			Expect(foreground.state()).To(Equal(domain.StateMonitoring))
		})

		It("moves the background shield to a selection changed in the foreground", func() {
			Expect(background.shield.Selection().Applications).To(Equal([]string{"TikTok"}))

			s := foreground.manager.Settings()
			s.MonitoredSelection = domain.Selection{Applications: []string{"Instagram"}}
			Expect(foreground.manager.UpdateSettings(s)).To(Succeed())

			background.manager.Refresh()
			Expect(background.shield.IsShieldActive()).To(BeTrue())
			Expect(background.shield.Selection().Applications).To(Equal([]string{"Instagram"}))
		})

		It("ignores a duplicate threshold signal", func() {
			foreground.manager.HandleActivityEvent(domain.ThresholdEventName)
			Expect(foreground.state()).To(Equal(domain.StateCooldownActive))
			Expect(foreground.manager.Stats().Cooldowns).To(Equal(1))
			Expect(foreground.manager.Stats().ThresholdsReached).To(Equal(2))
		})
	})

	Describe("stopping from the foreground", func() {
		It("lowers the background shield on the next refresh", func() {
			background.manager.Refresh()
			background.manager.HandleActivityEvent(domain.ThresholdEventName)
			Expect(background.shield.IsShieldActive()).To(BeTrue())

			Expect(foreground.manager.StopMonitoring()).To(Succeed())
			background.manager.Refresh()
			Expect(background.shield.IsShieldActive()).To(BeFalse())

			_, ok := background.store.LoadSchedule()
			Expect(ok).To(BeFalse())
		})
	})
})
