package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Light-houseAI/lighthouse-journey-canvas-sub001/internal/store"
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

// asDomainError converts store validation failures into a 422 and wraps
// everything else with op.
func asDomainError(op string, err error) error {
	var verr *store.ValidationError
	if errors.As(err, &verr) {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", verr.Error(), map[string]any{
			"field":  verr.Field,
			"reason": verr.Reason,
		})
	}
	return fmt.Errorf("%s: %w", op, err)
}

func badFilter(err error) error {
	return domainError(http.StatusBadRequest, "BAD_FILTER", err.Error(), nil)
}

func forbidden(message string) error {
	return domainError(http.StatusForbidden, "FORBIDDEN", message, nil)
}

func notFound(message string) error {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}
