// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no infrastructure dependencies.
package domain

import "time"

// DaemonRole identifies the type of daemon process.
type DaemonRole string

const (
	RoleMonitor DaemonRole = "monitor"
)

// Daemon represents a running background monitor process.
type Daemon struct {
	PID        int
	Role       DaemonRole
	Name       string
	StartedAt  time.Time
	AppVersion string
}

// RegistryEntry lets the foreground commands find the background monitor.
// Persisted to a hidden file for cross-process communication.
type RegistryEntry struct {
	Version       int    `json:"version"`
	MonitorPID    int    `json:"monitor_pid"`
	MonitorName   string `json:"monitor_name"`
	StartedAt     int64  `json:"started_at"`
	LastHeartbeat int64  `json:"last_heartbeat"`
	Mode          string `json:"mode,omitempty"` // "user" or "system"
	AppVersion    string `json:"app_version,omitempty"`
}

// Well-known names of the activity schedule and its threshold event.
const (
	ScheduleDaily          = "daily"
	ThresholdEventName     = "threshold"
	IntervalStartEventName = "intervalStart"
	IntervalEndEventName   = "intervalEnd"
)

// ClockTime is a wall-clock time of day.
type ClockTime struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// ActivityEvent is a named usage threshold inside a schedule.
type ActivityEvent struct {
	Name             string    `json:"name"`
	ThresholdMinutes int       `json:"thresholdMinutes"`
	Selection        Selection `json:"selection"`
}

// ActivitySchedule is what the foreground hands to the external usage tracker:
// a repeating daily window with one threshold event.
type ActivitySchedule struct {
	Name          string          `json:"name"`
	IntervalStart ClockTime       `json:"intervalStart"`
	IntervalEnd   ClockTime       `json:"intervalEnd"`
	Repeats       bool            `json:"repeats"`
	Events        []ActivityEvent `json:"events"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// NewDailySchedule builds the full-day schedule for the given settings.
func NewDailySchedule(s Settings, now time.Time) ActivitySchedule {
	return ActivitySchedule{
		Name:          ScheduleDaily,
		IntervalStart: ClockTime{Hour: 0, Minute: 0},
		IntervalEnd:   ClockTime{Hour: 23, Minute: 59},
		Repeats:       true,
		Events: []ActivityEvent{{
			Name:             ThresholdEventName,
			ThresholdMinutes: s.ThresholdMinutes,
			Selection:        s.MonitoredSelection,
		}},
		CreatedAt: now,
	}
}

// Event returns the named event of the schedule.
func (a ActivitySchedule) Event(name string) (ActivityEvent, bool) {
	for _, e := range a.Events {
		if e.Name == name {
			return e, true
		}
	}
	return ActivityEvent{}, false
}

// ShieldResult captures what a single shield enforcement pass did.
type ShieldResult struct {
	Patterns     []string
	KilledPIDs   []int
	SkippedItems []string // Selection entries the shield cannot enforce (e.g. web domains)
	Errors       []error
	ExecutedAt   time.Time
	DurationMs   int64
}
