package app

import "fmt"

// DomainError is an error that already knows how to render over HTTP: the
// status to send plus the stable machine-readable code clients switch on
// (UNAUTHENTICATED, FORBIDDEN, NOT_FOUND, VALIDATION_ERROR, ...). mapError
// passes it through untouched and classifies every other error itself.
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
	return &DomainError{Status: status, Code: code, Message: message, Details: details}
}
