package infra

import (
	"fmt"

	"github.com/eliteGoblin/focusd/scroll_mon/internal/domain"
)

// ProcessAuthorizer implements domain.Authorizer. Usage can only be observed
// if the process table can be enumerated and shows more than this process.
type ProcessAuthorizer struct {
	processManager domain.ProcessManager
}

// NewProcessAuthorizer creates an authorizer over the process manager.
func NewProcessAuthorizer(pm domain.ProcessManager) *ProcessAuthorizer {
	return &ProcessAuthorizer{processManager: pm}
}

// Authorized returns domain.ErrNotAuthorized when processes are not visible.
func (a *ProcessAuthorizer) Authorized() error {
	n, err := a.processManager.Count()
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrNotAuthorized, err)
	}
	if n <= 1 {
		return fmt.Errorf("%w: only %d process visible", domain.ErrNotAuthorized, n)
	}
	return nil
}

// Ensure ProcessAuthorizer implements domain.Authorizer.
var _ domain.Authorizer = (*ProcessAuthorizer)(nil)
