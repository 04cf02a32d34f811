package app

import (
	"fmt"
	"net/http"
)

// DomainError is a failure the HTTP layer can report as-is. Status and Code
// end up in the error envelope, Details is passed through untouched so the
// assessment client can show per-field validation problems.
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

// validationError rejects a partial update or evidence payload. Clients keep
// their optimistic value, so the message must stand on its own in the log.
func validationError(code, message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, code, message, details)
}

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

// errForbidden is returned when the caller's role lacks the rbac action.
var errForbidden = domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
