package errors

import "net/http"

// Code is the stable machine-readable error identifier returned to clients.
type Code string

// Generic codes.
const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"
)

// Billing codes.
const (
	CodeShopNotFound           Code = "SHOP_NOT_FOUND"
	CodeSubscriptionNotFound   Code = "SUBSCRIPTION_NOT_FOUND"
	CodePaymentNotFound        Code = "PAYMENT_NOT_FOUND"
	CodeInvalidPlan            Code = "INVALID_PLAN"
	CodeInvalidDates           Code = "INVALID_DATES"
	CodeMissingParameters      Code = "MISSING_PARAMETERS"
	CodeSubscriptionIDMismatch Code = "SUBSCRIPTION_ID_MISMATCH"
	CodeAlreadyTerminated      Code = "ALREADY_TERMINATED"
	CodeDuplicateStatusUpdate  Code = "DUPLICATE_STATUS_UPDATE"
	CodeInsufficientCredits    Code = "INSUFFICIENT_CREDITS"
	CodeTransactionFailed      Code = "TRANSACTION_FAILED"
	CodeNotificationFailed     Code = "NOTIFICATION_DELIVERY_FAILED"
)

// Metadata describes how a code surfaces over HTTP.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

// client errors expose their details to the caller.
func client(status int, msg string) Metadata {
	return Metadata{HTTPStatus: status, PublicMessage: msg, DetailsAllowed: true}
}

func opaque(status int, msg string) Metadata {
	return Metadata{HTTPStatus: status, PublicMessage: msg}
}

func (m Metadata) retryable() Metadata {
	m.Retryable = true
	return m
}

var metadataByCode = map[Code]Metadata{
	CodeValidation:    client(http.StatusBadRequest, "validation failed"),
	CodeNotFound:      opaque(http.StatusNotFound, "resource not found"),
	CodeConflict:      opaque(http.StatusConflict, "conflict detected"),
	CodeStateConflict: client(http.StatusUnprocessableEntity, "state transition disallowed"),
	CodeIdempotency:   client(http.StatusConflict, "idempotency key reused"),
	CodeInternal:      opaque(http.StatusInternalServerError, "internal server error").retryable(),
	CodeDependency:    client(http.StatusServiceUnavailable, "dependency unavailable").retryable(),

	CodeShopNotFound:           opaque(http.StatusNotFound, "shop not found"),
	CodeSubscriptionNotFound:   opaque(http.StatusNotFound, "subscription not found"),
	CodePaymentNotFound:        opaque(http.StatusNotFound, "payment not found"),
	CodeInvalidPlan:            client(http.StatusBadRequest, "invalid plan"),
	CodeInvalidDates:           client(http.StatusBadRequest, "start date must not be after end date"),
	CodeMissingParameters:      client(http.StatusBadRequest, "missing required parameters"),
	CodeSubscriptionIDMismatch: client(http.StatusConflict, "subscription reference mismatch"),
	CodeAlreadyTerminated:      client(http.StatusUnprocessableEntity, "subscription already terminated"),
	CodeDuplicateStatusUpdate:  client(http.StatusConflict, "status already updated recently"),
	CodeInsufficientCredits:    client(http.StatusPaymentRequired, "insufficient credits"),
	CodeTransactionFailed:      opaque(http.StatusServiceUnavailable, "transaction failed").retryable(),
	CodeNotificationFailed:     client(http.StatusFailedDependency, "changes saved but notification email failed"),
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// Status is the HTTP status err maps to.
func Status(err error) int {
	return MetadataFor(CodeOf(err)).HTTPStatus
}
