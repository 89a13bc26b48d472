package domain

import (
	"time"

	"github.com/google/uuid"
)

// MaxEventLogEntries bounds the audit trail; the oldest entries go first.
const MaxEventLogEntries = 500

// EventType names an audit event.
type EventType string

const (
	EventMonitoringStarted EventType = "monitoringStarted"
	EventMonitoringStopped EventType = "monitoringStopped"
	EventMonitoringPaused  EventType = "monitoringPaused"
	EventMonitoringResumed EventType = "monitoringResumed"
	EventCooldownStarted   EventType = "cooldownStarted"
	EventCooldownEnded     EventType = "cooldownEnded"
	EventOverrideUsed      EventType = "overrideUsed"
	EventOverrideEnded     EventType = "overrideEnded"
	EventSettingsChanged   EventType = "settingsChanged"
	EventThresholdReached  EventType = "thresholdReached"
	EventIntervalStarted   EventType = "intervalStarted"
	EventIntervalEnded     EventType = "intervalEnded"
	EventError             EventType = "error"
)

// EventLogEntry is one immutable audit record.
type EventLogEntry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	EventType EventType      `json:"eventType"`
	Details   *string        `json:"details,omitempty"`
	Duration  *time.Duration `json:"duration,omitempty"`
}

// NewEventLogEntry stamps a new entry with a fresh id.
func NewEventLogEntry(now time.Time, eventType EventType, details *string, duration *time.Duration) EventLogEntry {
	e := EventLogEntry{
		ID:        uuid.NewString(),
		Timestamp: now,
		EventType: eventType,
	}
	if details != nil {
		d := *details
		e.Details = &d
	}
	if duration != nil {
		d := *duration
		e.Duration = &d
	}
	return e
}

// EventLog is the time-ordered, bounded audit trail.
type EventLog struct {
	Entries []EventLogEntry `json:"entries"`
}

// Append adds an entry and trims the log to the most recent MaxEventLogEntries.
func (l *EventLog) Append(e EventLogEntry) {
	l.Entries = append(l.Entries, e)
	if over := len(l.Entries) - MaxEventLogEntries; over > 0 {
		trimmed := make([]EventLogEntry, MaxEventLogEntries)
		copy(trimmed, l.Entries[over:])
		l.Entries = trimmed
	}
}

// Len returns the number of entries.
func (l EventLog) Len() int { return len(l.Entries) }

// Since returns entries at or after start, in log order.
func (l EventLog) Since(start time.Time) []EventLogEntry {
	var out []EventLogEntry
	for _, e := range l.Entries {
		if !e.Timestamp.Before(start) {
			out = append(out, e)
		}
	}
	return out
}

// Today returns the entries of now's local calendar day.
func (l EventLog) Today(now time.Time) []EventLogEntry {
	return l.Since(StartOfDay(now))
}

// LastWeek returns the entries of the trailing seven local days, today included.
func (l EventLog) LastWeek(now time.Time) []EventLogEntry {
	return l.Since(StartOfDay(now).AddDate(0, 0, -6))
}

// CountToday counts today's entries of one type.
func (l EventLog) CountToday(now time.Time, t EventType) int {
	n := 0
	for _, e := range l.Today(now) {
		if e.EventType == t {
			n++
		}
	}
	return n
}

// DailyStats backs the dashboard counters.
type DailyStats struct {
	Cooldowns         int           `json:"cooldowns"`
	OverridesUsed     int           `json:"overridesUsed"`
	ThresholdsReached int           `json:"thresholdsReached"`
	ShieldedTime      time.Duration `json:"shieldedTime"`
}

// Stats summarises today's entries.
func (l EventLog) Stats(now time.Time) DailyStats {
	var s DailyStats
	for _, e := range l.Today(now) {
		switch e.EventType {
		case EventCooldownStarted:
			s.Cooldowns++
			if e.Duration != nil {
				s.ShieldedTime += *e.Duration
			}
		case EventOverrideUsed:
			s.OverridesUsed++
		case EventThresholdReached:
			s.ThresholdsReached++
		}
	}
	return s
}
