package app

import (
	"errors"
	"fmt"
	"net/http"

	"lexicon/api/internal/apperr"
	"lexicon/api/internal/auth"
	"lexicon/api/internal/store"
)

// DomainError is an error with a fixed HTTP rendering. Handlers return it for
// request problems that have no apperr kind.
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

var kindStatus = []struct {
	kind   error
	status int
	code   string
}{
	{apperr.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{apperr.ErrInvalidReference, http.StatusUnprocessableEntity, "INVALID_REFERENCE"},
	{apperr.ErrValidationFailed, http.StatusUnprocessableEntity, "VALIDATION_ERROR"},
	{apperr.ErrInsufficientApprovals, http.StatusConflict, "INSUFFICIENT_APPROVALS"},
	{apperr.ErrAssetMigrationFailed, http.StatusBadGateway, "ASSET_MIGRATION_FAILED"},
	{apperr.ErrAlreadyMerged, http.StatusConflict, "ALREADY_MERGED"},
	{apperr.ErrVersionConflict, http.StatusConflict, "VERSION_CONFLICT"},
	{apperr.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	for _, k := range kindStatus {
		if errors.Is(err, k.kind) {
			var appErr *apperr.Error
			if errors.As(err, &appErr) {
				details = appErr.Details
			}
			return k.status, k.code, apperr.Message(err), details
		}
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, store.ErrConflict) {
		return http.StatusConflict, "VERSION_CONFLICT", "Suggestion changed concurrently", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrMissingToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
