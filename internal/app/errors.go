package app

import (
	"fmt"
	"net/http"

	"customerportal/api/internal/review"
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

func reviewDomainError(err *review.Error) *DomainError {
	switch err.Kind {
	case review.KindUnauthenticated:
		return domainError(http.StatusUnauthorized, "UNAUTHORIZED", err.Message, nil)
	case review.KindUnauthorized:
		return domainError(http.StatusForbidden, "FORBIDDEN", err.Message, nil)
	case review.KindPrecondition:
		return domainError(http.StatusConflict, "PRECONDITION_FAILED", err.Message, map[string]any{"reason": err.Message})
	case review.KindValidation:
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Message, nil)
	case review.KindNotFound:
		return domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	case review.KindConflict:
		return domainError(http.StatusConflict, "CONFLICT", err.Message, nil)
	default:
		return domainError(http.StatusBadGateway, "BACKEND_ERROR", err.Message, nil)
	}
}
