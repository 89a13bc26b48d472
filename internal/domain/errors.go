package domain

import "errors"

var (
	// ErrNoAppsSelected means the monitored selection is empty.
	ErrNoAppsSelected = errors.New("no apps selected for monitoring")

	// ErrNotAuthorized means usage visibility has not been granted on this machine.
	ErrNotAuthorized = errors.New("not authorized to observe app usage")

	// ErrMonitoringFailed means the activity scheduler rejected the schedule.
	ErrMonitoringFailed = errors.New("monitoring failed")

	// ErrInvalidTransition means the operation is not allowed from the current state.
	ErrInvalidTransition = errors.New("invalid state transition")
)
