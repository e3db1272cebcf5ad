package app

import (
	"fmt"
	"net/http"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

const (
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeUnauthenticated     = "UNAUTHENTICATED"
	CodeForbidden           = "FORBIDDEN"
	CodeNotFound            = "NOT_FOUND"
	CodeConflict            = "CONFLICT"
	CodeRateLimited         = "RATE_LIMITED"
	CodeServerError         = "SERVER_ERROR"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
)

func errInvalidRequest(message string, details any) *DomainError {
	return domainError(http.StatusBadRequest, CodeInvalidRequest, message, details)
}

func errUnauthenticated() *DomainError {
	return domainError(http.StatusUnauthorized, CodeUnauthenticated, "Unauthorized", nil)
}

func errForbidden(message string) *DomainError {
	return domainError(http.StatusForbidden, CodeForbidden, message, nil)
}

func errNotFound(message string) *DomainError {
	return domainError(http.StatusNotFound, CodeNotFound, message, nil)
}

func errConflict(message string, details any) *DomainError {
	return domainError(http.StatusConflict, CodeConflict, message, details)
}

func errRateLimited() *DomainError {
	return domainError(http.StatusTooManyRequests, CodeRateLimited, "Too many requests", nil)
}

func errUpstream(message string) *DomainError {
	return domainError(http.StatusBadGateway, CodeUpstreamUnavailable, message, nil)
}
