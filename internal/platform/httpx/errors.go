// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	status, title := classify(err)
	if status == http.StatusInternalServerError {
		Problem(w, status, title, "")
		return
	}
	problem := ProblemDetail{Title: title, Status: status, Detail: err.Error()}
	if de, ok := shared.AsDomainError(err); ok && len(de.Details) > 0 {
		problem.Details = de.Details
	}
	JSON(w, status, problem)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound, "Not Found"
	case errors.Is(err, shared.ErrValidation):
		return http.StatusBadRequest, "Validation Failed"
	case errors.Is(err, shared.ErrConfiguration):
		return http.StatusUnprocessableEntity, "Configuration Error"
	case errors.Is(err, shared.ErrCurrencyMismatch):
		return http.StatusUnprocessableEntity, "Currency Mismatch"
	case errors.Is(err, shared.ErrInsufficientStock):
		return http.StatusUnprocessableEntity, "Insufficient Stock"
	case errors.Is(err, shared.ErrOverReturn):
		return http.StatusUnprocessableEntity, "Over Return"
	case errors.Is(err, shared.ErrBalanceIntegrity):
		return http.StatusUnprocessableEntity, "Balance Integrity"
	case errors.Is(err, shared.ErrPartialAllocation):
		return http.StatusUnprocessableEntity, "Partially Allocated"
	case errors.Is(err, shared.ErrImmutableDocument):
		return http.StatusConflict, "Immutable Document"
	case errors.Is(err, shared.ErrDocumentLocked):
		return http.StatusConflict, "Document Locked"
	case errors.Is(err, shared.ErrIdempotencyConflict):
		return http.StatusConflict, "Duplicate Request"
	default:
		return http.StatusInternalServerError, "Internal Error"
	}
}
