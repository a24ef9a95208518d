package error

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// StorageError wraps a datastore failure. It is transient: callers may retry it.
type StorageError struct {
	Op  string
	Err error
}

func NewStorageError(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) ErrCode() string { return "STORAGE_UNAVAILABLE" }

func (e *StorageError) StatusCode() int { return http.StatusServiceUnavailable }

// TransientError marks an upstream call (LLM, gateway, speech) that failed after
// the retry budget was spent.
type TransientError struct {
	Upstream string
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s unavailable after %d attempt(s): %v", e.Upstream, e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) ErrCode() string { return "UPSTREAM_UNAVAILABLE" }

func (e *TransientError) StatusCode() int { return http.StatusBadGateway }

// FatalReason names a configuration condition that aborts an assistant invocation.
type FatalReason string

const (
	ReasonNoActiveAssistant   FatalReason = "NO_ACTIVE_ASSISTANT"
	ReasonNoAICredentials     FatalReason = "NO_AI_CREDENTIALS"
	ReasonNoConnectedInstance FatalReason = "NO_CONNECTED_INSTANCE"
	ReasonNoContent           FatalReason = "NO_CONTENT"
	ReasonEmptyResponse       FatalReason = "EMPTY_RESPONSE"
)

// FatalError is a non-retryable invocation failure. Several reasons may be
// reported at once when configuration resolution finds more than one gap.
type FatalError struct {
	Reasons []FatalReason
	Detail  string
}

func NewFatalError(detail string, reasons ...FatalReason) *FatalError {
	return &FatalError{Reasons: reasons, Detail: detail}
}

func (e *FatalError) Error() string {
	codes := make([]string, len(e.Reasons))
	for i, r := range e.Reasons {
		codes[i] = string(r)
	}
	if e.Detail == "" {
		return "fatal: " + strings.Join(codes, ",")
	}
	return fmt.Sprintf("fatal: %s: %s", strings.Join(codes, ","), e.Detail)
}

func (e *FatalError) ErrCode() string {
	if len(e.Reasons) == 1 {
		return string(e.Reasons[0])
	}
	return "FATAL_CONFIGURATION"
}

func (e *FatalError) StatusCode() int { return http.StatusUnprocessableEntity }

// Has reports whether the error carries the given reason.
func (e *FatalError) Has(reason FatalReason) bool {
	for _, r := range e.Reasons {
		if r == reason {
			return true
		}
	}
	return false
}

func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

func IsTransient(err error) bool {
	var se *StorageError
	if errors.As(err, &se) {
		return true
	}
	var te *TransientError
	return errors.As(err, &te)
}

func IsUnknownTenant(err error) bool {
	var ut UnknownTenantError
	return errors.As(err, &ut)
}
