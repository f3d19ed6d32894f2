package shared

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks malformed or inconsistent input.
	ErrValidation = errors.New("validation failed")
	// ErrConfiguration marks a missing or misconfigured account on a product or partner.
	ErrConfiguration = errors.New("configuration error")
	// ErrCurrencyMismatch marks an account whose currency differs from the transaction currency.
	ErrCurrencyMismatch = errors.New("currency mismatch")
	// ErrInsufficientStock marks an operation that would drive stock below zero.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrOverReturn marks a return or adjustment above the eligible quantity.
	ErrOverReturn = errors.New("over return")
	// ErrBalanceIntegrity marks unbalanced bookings or paid amounts above due.
	ErrBalanceIntegrity = errors.New("balance integrity violation")
	// ErrImmutableDocument marks edits of documents with settled payments or dependent children.
	ErrImmutableDocument = errors.New("immutable document")
	// ErrPartialAllocation marks a bulk payment that left an unused amount.
	ErrPartialAllocation = errors.New("partially allocated")
	// ErrDocumentLocked marks a document held by another writer.
	ErrDocumentLocked = errors.New("document locked")
)

// DomainError carries a kind sentinel with a readable message and structured details.
type DomainError struct {
	Kind    error
	Message string
	Details map[string]any
}

func (e *DomainError) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Message
}

// Unwrap exposes the kind so errors.Is works against the sentinels above.
func (e *DomainError) Unwrap() error { return e.Kind }

// WithDetail attaches a structured detail and returns the same error.
func (e *DomainError) WithDetail(key string, value any) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// AsDomainError extracts a DomainError from the chain.
func AsDomainError(err error) (*DomainError, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

var printer = message.NewPrinter(language.English)

func newError(kind error, format string, args ...any) *DomainError {
	return &DomainError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Amount renders a decimal with two places and grouped thousands.
func Amount(d decimal.Decimal) string {
	return printer.Sprintf("%.2f", d.InexactFloat64())
}

// Validation builds an ErrValidation error.
func Validation(format string, args ...any) *DomainError {
	return newError(ErrValidation, format, args...)
}

// NotFound builds an ErrNotFound error for an entity.
func NotFound(entity string, id any) *DomainError {
	return newError(ErrNotFound, "%s %v not found", entity, id).WithDetail("entity", entity).WithDetail("id", id)
}

// Configuration builds an ErrConfiguration error.
func Configuration(format string, args ...any) *DomainError {
	return newError(ErrConfiguration, format, args...)
}

// CurrencyMismatch names the subject and both currencies.
func CurrencyMismatch(subject, expected, actual string) *DomainError {
	return newError(ErrCurrencyMismatch, "Currency mismatch for %s: expected %s, got %s", subject, expected, actual).
		WithDetail("subject", subject).
		WithDetail("expected", expected).
		WithDetail("actual", actual)
}

// InsufficientStock reports the product, the stock on hand and the requested decrease.
func InsufficientStock(product string, available, requested decimal.Decimal) *DomainError {
	return newError(ErrInsufficientStock, "Insufficient stock for %s: available %s, requested %s",
		product, Amount(available), Amount(requested)).
		WithDetail("product", product).
		WithDetail("available", available.StringFixed(2)).
		WithDetail("requested", requested.StringFixed(2))
}

// OverReturn reports already returned, available and original quantities.
func OverReturn(product string, returned, available, original decimal.Decimal) *DomainError {
	return newError(ErrOverReturn, "Cannot return more than available for %s. Already Returned: %s, Available: %s, Original: %s",
		product, Amount(returned), Amount(available), Amount(original)).
		WithDetail("product", product).
		WithDetail("already_returned", returned.StringFixed(2)).
		WithDetail("available", available.StringFixed(2)).
		WithDetail("original", original.StringFixed(2))
}

// BalanceIntegrity builds an ErrBalanceIntegrity error.
func BalanceIntegrity(format string, args ...any) *DomainError {
	return newError(ErrBalanceIntegrity, format, args...)
}

// ImmutableDocument builds an ErrImmutableDocument error.
func ImmutableDocument(format string, args ...any) *DomainError {
	return newError(ErrImmutableDocument, format, args...)
}

// PartialAllocation reports the amount a bulk payment could not apply.
func PartialAllocation(unused decimal.Decimal) *DomainError {
	return newError(ErrPartialAllocation, "Bulk payment processed partially. Unused amount remaining: %s", Amount(unused)).
		WithDetail("unused", unused.StringFixed(2))
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

var kindNames = []struct {
	kind error
	name string
}{
	{ErrNotFound, "not_found"},
	{ErrValidation, "validation"},
	{ErrConfiguration, "configuration"},
	{ErrCurrencyMismatch, "currency_mismatch"},
	{ErrInsufficientStock, "insufficient_stock"},
	{ErrOverReturn, "over_return"},
	{ErrBalanceIntegrity, "balance_integrity"},
	{ErrImmutableDocument, "immutable_document"},
	{ErrPartialAllocation, "partial_allocation"},
	{ErrDocumentLocked, "document_locked"},
	{ErrIdempotencyConflict, "idempotency_conflict"},
}

// KindName returns a metric-friendly label for the kind of err, "internal" when it has none.
func KindName(err error) string {
	for _, k := range kindNames {
		if errors.Is(err, k.kind) {
			return k.name
		}
	}
	return "internal"
}
