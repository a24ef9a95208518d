package domain

import (
	"errors"
	"fmt"
)

// ErrDuplicateMessage marks an append that hit an existing message id.
var ErrDuplicateMessage = errors.New("duplicate message")

// DuplicateError carries the ticket the existing message belongs to.
type DuplicateError struct {
	MessageID string
	TicketID  string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("message %s already stored on ticket %s", e.MessageID, e.TicketID)
}

func (e *DuplicateError) Is(target error) bool {
	return target == ErrDuplicateMessage
}

// ErrClaimLost is returned when another invocation owns the ticket's batch.
var ErrClaimLost = errors.New("debounce claim held by another invocation")
