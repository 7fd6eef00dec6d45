package app

import (
	"errors"
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func errAuthRequired() *DomainError {
	return &DomainError{
		Status:  http.StatusUnauthorized,
		Code:    "AUTH_REQUIRED",
		Message: "Please sign in first.",
	}
}

func errNotFound(what string) *DomainError {
	return &DomainError{
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: what + " not found",
	}
}

func errValidation(message string) *DomainError {
	return &DomainError{
		Status:  http.StatusBadRequest,
		Code:    "VALIDATION_FAILED",
		Message: message,
	}
}

func errStoreUnavailable() *DomainError {
	return &DomainError{
		Status:  http.StatusServiceUnavailable,
		Code:    "STORE_UNAVAILABLE",
		Message: "The comment store is unavailable, please try again.",
	}
}

// AsDomainError unwraps err into the user-visible taxonomy, if it is one.
func AsDomainError(err error) (*DomainError, bool) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr, true
	}
	return nil, false
}
