package services

import (
	"errors"
	"fmt"
)

// Sentinel errors for the reconciliation and withdrawal flows. Handlers map
// these to structured HTTP responses; none of them leaks raw SQL errors.
var (
	ErrUnknownIntent       = errors.New("unknown deposit intent")
	ErrIntentNotPending    = errors.New("deposit intent not pending")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAccountNotFound     = errors.New("account not found")
)

// RolloverIncompleteError blocks a withdrawal and carries how much wagering
// is still owed, so the frontend can show actionable progress instead of a
// bare rejection.
type RolloverIncompleteError struct {
	Required  int64
	Progress  int64
	Remaining int64
}

func (e *RolloverIncompleteError) Error() string {
	return fmt.Sprintf("rollover incomplete: R$%d.%02d remaining", e.Remaining/100, e.Remaining%100)
}
