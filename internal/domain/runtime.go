package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// State is the operational state of an installation.
//
// Transitions:
//
//	any            -> monitoring     StartMonitoring
//	monitoring     -> cooldownActive TriggerCooldown
//	cooldownActive -> overrideActive UseOverride
//	cooldownActive -> monitoring     EndCooldown (cooldown expired)
//	overrideActive -> cooldownActive EndOverride (override expired, cooldown still live)
//	overrideActive -> monitoring     EndCooldown (both expired)
//	monitoring     -> paused         Pause
//	paused         -> monitoring     Resume
//	any            -> inactive       Stop
//	any            -> error          Fail
//
// Anything else is rejected with ErrInvalidTransition.
type State string

const (
	StateInactive       State = "inactive"
	StateMonitoring     State = "monitoring"
	StateCooldownActive State = "cooldownActive"
	StateOverrideActive State = "overrideActive"
	StatePaused         State = "paused"
	StateError          State = "error"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateInactive, StateMonitoring, StateCooldownActive, StateOverrideActive, StatePaused, StateError:
		return true
	}
	return false
}

// Shielded reports whether apps should be blocked in this state.
func (s State) Shielded() bool {
	return s == StateCooldownActive
}

// TimerKind tags which clock, if any, is running.
type TimerKind int

const (
	NoTimer TimerKind = iota
	CooldownTimer
	OverrideTimer
)

func (k TimerKind) String() string {
	switch k {
	case CooldownTimer:
		return "cooldown"
	case OverrideTimer:
		return "override"
	default:
		return "none"
	}
}

// Timer is the single live clock of a RuntimeState.
// An OverrideTimer carries the cooldown end it suspended so the cooldown
// can resume once the override runs out.
type Timer struct {
	Kind                 TimerKind
	End                  time.Time
	SuspendedCooldownEnd *time.Time
}

// NewCooldownTimer returns a running cooldown clock.
func NewCooldownTimer(end time.Time) Timer {
	return Timer{Kind: CooldownTimer, End: end}
}

// NewOverrideTimer returns a running override clock. suspended may be nil.
func NewOverrideTimer(end time.Time, suspended *time.Time) Timer {
	t := Timer{Kind: OverrideTimer, End: end}
	if suspended != nil {
		s := *suspended
		t.SuspendedCooldownEnd = &s
	}
	return t
}

// RuntimeState is the per-installation state machine. It is a plain value:
// all methods mutate memory only, persistence belongs to the caller.
type RuntimeState struct {
	CurrentState       State
	Timer              Timer
	OverridesUsedToday int
	LastResetDate      time.Time
}

// InitialRuntimeState is the first-launch state.
func InitialRuntimeState(now time.Time) RuntimeState {
	return RuntimeState{
		CurrentState:  StateInactive,
		LastResetDate: now,
	}
}

// CooldownEndTime returns the cooldown end, including one suspended by an override.
func (s RuntimeState) CooldownEndTime() *time.Time {
	switch s.Timer.Kind {
	case CooldownTimer:
		end := s.Timer.End
		return &end
	case OverrideTimer:
		if s.Timer.SuspendedCooldownEnd != nil {
			end := *s.Timer.SuspendedCooldownEnd
			return &end
		}
	}
	return nil
}

// OverrideEndTime returns the override end, or nil if no override is running.
func (s RuntimeState) OverrideEndTime() *time.Time {
	if s.Timer.Kind != OverrideTimer {
		return nil
	}
	end := s.Timer.End
	return &end
}

// CooldownRemaining is the time left on the cooldown clock, zero if none.
func (s RuntimeState) CooldownRemaining(now time.Time) time.Duration {
	end := s.CooldownEndTime()
	if end == nil || !now.Before(*end) {
		return 0
	}
	return end.Sub(now)
}

// OverrideRemaining is the time left on the override clock, zero if none.
func (s RuntimeState) OverrideRemaining(now time.Time) time.Duration {
	end := s.OverrideEndTime()
	if end == nil || !now.Before(*end) {
		return 0
	}
	return end.Sub(now)
}

// OverridesRemaining is max(0, perDay - used). Usage above a lowered quota is kept.
func (s RuntimeState) OverridesRemaining(perDay int) int {
	if r := perDay - s.OverridesUsedToday; r > 0 {
		return r
	}
	return 0
}

func (s *RuntimeState) invalid(op string) error {
	return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, op, s.CurrentState)
}

// StartMonitoring enters monitoring from any state and clears both clocks.
func (s *RuntimeState) StartMonitoring() {
	s.CurrentState = StateMonitoring
	s.Timer = Timer{}
}

// TriggerCooldown starts a cooldown of the given length.
func (s *RuntimeState) TriggerCooldown(now time.Time, minutes int) error {
	if s.CurrentState != StateMonitoring {
		return s.invalid("triggerCooldown")
	}
	s.CurrentState = StateCooldownActive
	s.Timer = NewCooldownTimer(now.Add(time.Duration(minutes) * time.Minute))
	return nil
}

// UseOverride suspends the running cooldown and counts one override.
func (s *RuntimeState) UseOverride(now time.Time, minutes int) error {
	if s.CurrentState != StateCooldownActive {
		return s.invalid("useOverride")
	}
	suspended := s.CooldownEndTime()
	s.CurrentState = StateOverrideActive
	s.Timer = NewOverrideTimer(now.Add(time.Duration(minutes)*time.Minute), suspended)
	s.OverridesUsedToday++
	return nil
}

// EndCooldown returns to monitoring from a cooldown or an override.
func (s *RuntimeState) EndCooldown() error {
	if s.CurrentState != StateCooldownActive && s.CurrentState != StateOverrideActive {
		return s.invalid("endCooldown")
	}
	s.CurrentState = StateMonitoring
	s.Timer = Timer{}
	return nil
}

// EndOverride resumes the suspended cooldown.
func (s *RuntimeState) EndOverride() error {
	if s.CurrentState != StateOverrideActive || s.Timer.SuspendedCooldownEnd == nil {
		return s.invalid("endOverride")
	}
	s.CurrentState = StateCooldownActive
	s.Timer = NewCooldownTimer(*s.Timer.SuspendedCooldownEnd)
	return nil
}

// Pause parks monitoring without touching the clocks.
func (s *RuntimeState) Pause() error {
	if s.CurrentState != StateMonitoring {
		return s.invalid("pause")
	}
	s.CurrentState = StatePaused
	return nil
}

// Resume returns from paused to monitoring.
func (s *RuntimeState) Resume() error {
	if s.CurrentState != StatePaused {
		return s.invalid("resume")
	}
	s.CurrentState = StateMonitoring
	s.Timer = Timer{}
	return nil
}

// Stop deactivates monitoring from any state.
func (s *RuntimeState) Stop() {
	s.CurrentState = StateInactive
	s.Timer = Timer{}
}

// Fail parks the machine in the error state until a manual restart.
func (s *RuntimeState) Fail() {
	s.CurrentState = StateError
	s.Timer = Timer{}
}

// ResetDailyIfNeeded zeroes the override counter on the first call of a new local day.
func (s *RuntimeState) ResetDailyIfNeeded(now time.Time) bool {
	if SameDay(s.LastResetDate, now) {
		return false
	}
	s.OverridesUsedToday = 0
	s.LastResetDate = now
	return true
}

// Reconcile re-derives the current state from the stored clocks and now.
// It is idempotent and never has side effects outside the value.
// The return value reports whether anything changed.
func (s *RuntimeState) Reconcile(now time.Time) bool {
	changed := s.ResetDailyIfNeeded(now)

	switch s.CurrentState {
	case StateCooldownActive:
		if s.Timer.Kind != CooldownTimer || !now.Before(s.Timer.End) {
			_ = s.EndCooldown()
			changed = true
		}
	case StateOverrideActive:
		if s.Timer.Kind != OverrideTimer || !now.Before(s.Timer.End) {
			if cd := s.Timer.SuspendedCooldownEnd; s.Timer.Kind == OverrideTimer && cd != nil && now.Before(*cd) {
				_ = s.EndOverride()
			} else {
				_ = s.EndCooldown()
			}
			changed = true
		}
	}
	return changed
}

// SameDay reports whether a and b fall on the same calendar day in b's location.
func SameDay(a, b time.Time) bool {
	if a.IsZero() {
		return false
	}
	a = a.In(b.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// StartOfDay returns local midnight of t's day.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

type runtimeStateJSON struct {
	CurrentState       State      `json:"currentState"`
	CooldownEndTime    *time.Time `json:"cooldownEndTime,omitempty"`
	OverrideEndTime    *time.Time `json:"overrideEndTime,omitempty"`
	OverridesUsedToday int        `json:"overridesUsedToday"`
	LastResetDate      time.Time  `json:"lastResetDate"`
}

// MarshalJSON writes the flat snapshot shared with every process.
func (s RuntimeState) MarshalJSON() ([]byte, error) {
	return json.Marshal(runtimeStateJSON{
		CurrentState:       s.CurrentState,
		CooldownEndTime:    s.CooldownEndTime(),
		OverrideEndTime:    s.OverrideEndTime(),
		OverridesUsedToday: s.OverridesUsedToday,
		LastResetDate:      s.LastResetDate,
	})
}

// UnmarshalJSON rebuilds the timer variant from a flat snapshot, repairing
// snapshots whose state has no matching clock.
func (s *RuntimeState) UnmarshalJSON(data []byte) error {
	var raw runtimeStateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if !raw.CurrentState.Valid() {
		return fmt.Errorf("unknown state %q", raw.CurrentState)
	}

	out := RuntimeState{
		CurrentState:       raw.CurrentState,
		OverridesUsedToday: raw.OverridesUsedToday,
		LastResetDate:      raw.LastResetDate,
	}
	if out.OverridesUsedToday < 0 {
		out.OverridesUsedToday = 0
	}

	switch raw.CurrentState {
	case StateCooldownActive:
		if raw.CooldownEndTime == nil {
			out.CurrentState = StateMonitoring
			break
		}
		out.Timer = NewCooldownTimer(*raw.CooldownEndTime)
	case StateOverrideActive:
		switch {
		case raw.OverrideEndTime != nil:
			out.Timer = NewOverrideTimer(*raw.OverrideEndTime, raw.CooldownEndTime)
		case raw.CooldownEndTime != nil:
			out.CurrentState = StateCooldownActive
			out.Timer = NewCooldownTimer(*raw.CooldownEndTime)
		default:
			out.CurrentState = StateMonitoring
		}
	}

	*s = out
	return nil
}
