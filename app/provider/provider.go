package provider

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrNotConfigured     = errors.New("payment gateway not configured")
	ErrSignatureMissing  = errors.New("notification signature missing")
	ErrSignatureMismatch = errors.New("notification signature mismatch")
	ErrMalformedPayload  = errors.New("notification payload malformed")
	ErrMissingIdentifier = errors.New("notification has no invoice or order id")
	ErrInvoiceRejected   = errors.New("gateway rejected invoice")
	ErrInvoiceIncomplete = errors.New("gateway invoice response incomplete")
)

type InvoiceInput struct {
	PriceAmount      decimal.Decimal
	PriceCurrency    string
	PayCurrency      string
	OrderDescription string
	IPNCallbackURL   string
	SuccessURL       string
	CancelURL        string
}

type Invoice struct {
	ID         string
	InvoiceURL string
}

// Notification is a verified gateway status change. PaymentID is the value
// orders were stamped with at checkout.
type Notification struct {
	PaymentID     string
	GatewayStatus string
	Status        string
}

type Provider interface {
	CreateInvoice(ctx context.Context, input *InvoiceInput) (*Invoice, error)
	VerifyAndParseNotification(ctx context.Context, payload []byte, signature string) (*Notification, error)
}
