package error

import (
	"errors"
	"net/http"
)

// GenericError is implemented by every error that knows how to present itself over HTTP.
type GenericError interface {
	Error() string
	ErrCode() string
	StatusCode() int
}

type ValidationError string

func (err ValidationError) Error() string {
	return string(err)
}

func (err ValidationError) ErrCode() string {
	return "VALIDATION_ERROR"
}

func (err ValidationError) StatusCode() int {
	return http.StatusBadRequest
}

type InternalServerError string

func (err InternalServerError) Error() string {
	return string(err)
}

func (err InternalServerError) ErrCode() string {
	return "INTERNAL_SERVER_ERROR"
}

func (err InternalServerError) StatusCode() int {
	return http.StatusInternalServerError
}

// InvalidPayloadError is returned when a webhook body cannot be mapped to a message.
type InvalidPayloadError string

func (err InvalidPayloadError) Error() string {
	return string(err)
}

func (err InvalidPayloadError) ErrCode() string {
	return "INVALID_PAYLOAD"
}

func (err InvalidPayloadError) StatusCode() int {
	return http.StatusBadRequest
}

// UnknownTenantError means the instance or client referenced by a payload does not exist.
// It is never retried.
type UnknownTenantError string

func (err UnknownTenantError) Error() string {
	return string(err)
}

func (err UnknownTenantError) ErrCode() string {
	return "UNKNOWN_TENANT"
}

func (err UnknownTenantError) StatusCode() int {
	return http.StatusBadRequest
}

// AsGeneric extracts the first GenericError in the chain.
func AsGeneric(err error) (GenericError, bool) {
	if err == nil {
		return nil, false
	}
	var ge GenericError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}
