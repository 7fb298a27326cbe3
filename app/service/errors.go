package service

import "errors"

var (
	ErrUnauthenticated       = errors.New("unauthenticated")
	ErrNoItems               = errors.New("no items provided")
	ErrInvalidEmail          = errors.New("valid email required")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrGatewayNotConfigured  = errors.New("payment gateway not configured")
	ErrInvoiceCreationFailed = errors.New("failed to create payment invoice")
	ErrOrderPersistFailed    = errors.New("failed to record orders")

	ErrSecretNotConfigured = errors.New("ipn secret not configured")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrInvalidPayload      = errors.New("invalid payload")
	ErrMissingPaymentID    = errors.New("no invoice/order id")
	ErrStoreUpdateFailed   = errors.New("order store update failed")

	ErrActivationNotConfigured = errors.New("activation webhook url not configured")
)
