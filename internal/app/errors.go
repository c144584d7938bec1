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

func validationFailed(details any) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_FAILED", "Validation failed", details)
}

func badRequest(code, message string) *DomainError {
	return domainError(http.StatusBadRequest, code, message, nil)
}

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

var (
	errSubmissionNotFound = notFound("Submission not found")
	errToolNotFound       = notFound("Tool not found")
	errArticleNotFound    = notFound("Article not found")
	errUserNotFound       = notFound("User not found")
	errToolExists         = badRequest("SLUG_CONFLICT", "A tool with this name already exists")
	errArticleExists      = badRequest("SLUG_CONFLICT", "An article with this title already exists")
	errInvalidIDs         = badRequest("INVALID_IDS", "Invalid IDs provided")
)
