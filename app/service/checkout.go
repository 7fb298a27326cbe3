package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-checkout/app/entity"
	"github.com/vibast-solutions/ms-go-checkout/app/factory"
	"github.com/vibast-solutions/ms-go-checkout/app/provider"
	"github.com/vibast-solutions/ms-go-checkout/app/types"
	"github.com/vibast-solutions/ms-go-checkout/config"
)

const (
	maxInstructionsLength = 2000
	priceCurrency         = "usd"
	payCurrency           = "btc"
	webhookPath           = "/webhooks/nowpayments"
)

type createInvoiceRequest interface {
	GetUserID() string
	GetEmail() string
	GetInstructions() string
	GetOrigin() string
	GetItems() []types.CheckoutItem
}

type orderWriter interface {
	CreateBatch(ctx context.Context, orders []*entity.Order) error
}

type invoiceCreator interface {
	CreateInvoice(ctx context.Context, input *provider.InvoiceInput) (*provider.Invoice, error)
}

type CheckoutResult struct {
	PaymentID  string
	PaymentURL string
	Orders     []*entity.Order
}

type CheckoutService struct {
	orders        orderWriter
	gateway       invoiceCreator
	checkoutCfg   config.CheckoutConfig
	publicBaseURL string
	logger        logrus.FieldLogger
}

func NewCheckoutService(
	orders orderWriter,
	gateway invoiceCreator,
	checkoutCfg config.CheckoutConfig,
	publicBaseURL string,
) *CheckoutService {
	if !checkoutCfg.MaxTotal.IsPositive() {
		checkoutCfg.MaxTotal = decimal.NewFromInt(100000)
	}

	return &CheckoutService{
		orders:        orders,
		gateway:       gateway,
		checkoutCfg:   checkoutCfg,
		publicBaseURL: strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"),
		logger:        factory.NewModuleLogger("checkout_service"),
	}
}

// CreateInvoice issues one gateway invoice for the whole cart and records a
// pending order per item under the invoice id. No order is written unless the
// gateway returned an invoice.
func (s *CheckoutService) CreateInvoice(ctx context.Context, req createInvoiceRequest) (*CheckoutResult, error) {
	userID := strings.TrimSpace(req.GetUserID())
	if userID == "" {
		return nil, ErrUnauthenticated
	}

	items := req.GetItems()
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	email := strings.TrimSpace(req.GetEmail())
	if !strings.Contains(email, "@") {
		return nil, ErrInvalidEmail
	}

	total := decimal.Zero
	names := make([]string, 0, len(items))
	for _, item := range items {
		total = total.Add(item.Price)
		names = append(names, item.Name)
	}
	if !total.IsPositive() || total.GreaterThan(s.checkoutCfg.MaxTotal) {
		return nil, ErrInvalidAmount
	}

	origin := strings.TrimRight(strings.TrimSpace(req.GetOrigin()), "/")
	invoice, err := s.gateway.CreateInvoice(ctx, &provider.InvoiceInput{
		PriceAmount:      total,
		PriceCurrency:    priceCurrency,
		PayCurrency:      payCurrency,
		OrderDescription: "Order: " + strings.Join(names, ", "),
		IPNCallbackURL:   s.publicBaseURL + webhookPath,
		SuccessURL:       origin + "/dashboard",
		CancelURL:        origin + "/cart",
	})
	if err != nil {
		if errors.Is(err, provider.ErrNotConfigured) {
			return nil, ErrGatewayNotConfigured
		}
		s.logger.WithError(err).WithField("user_id", userID).Error("invoice creation failed")
		return nil, fmt.Errorf("%w: %v", ErrInvoiceCreationFailed, err)
	}

	now := time.Now().UTC()
	instructions := normalizeInstructions(req.GetInstructions())
	orders := make([]*entity.Order, 0, len(items))
	for _, item := range items {
		orders = append(orders, &entity.Order{
			ID:            uuid.NewString(),
			UserID:        userID,
			ServiceID:     item.ID,
			BTCAddress:    normalizeOptionalString(derefString(item.BTCAddress)),
			BTCAmount:     nonZeroDecimal(item.BTCPrice),
			Status:        entity.OrderStatusPending,
			PaymentStatus: entity.OrderStatusPending,
			PaymentID:     invoice.ID,
			CustomerEmail: email,
			Instructions:  instructions,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}

	if err := s.orders.CreateBatch(ctx, orders); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"payment_id":     invoice.ID,
			"user_id":        userID,
			"orphan_invoice": true,
		}).Error("orders not recorded for issued invoice")
		return nil, fmt.Errorf("%w: %v", ErrOrderPersistFailed, err)
	}

	return &CheckoutResult{
		PaymentID:  invoice.ID,
		PaymentURL: invoice.InvoiceURL,
		Orders:     orders,
	}, nil
}

func normalizeInstructions(v string) *string {
	trimmed := normalizeOptionalString(v)
	if trimmed == nil {
		return nil
	}
	runes := []rune(*trimmed)
	if len(runes) > maxInstructionsLength {
		capped := string(runes[:maxInstructionsLength])
		return &capped
	}
	return trimmed
}

func nonZeroDecimal(v *decimal.Decimal) *decimal.Decimal {
	if v == nil || v.IsZero() {
		return nil
	}
	d := *v
	return &d
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func normalizeOptionalString(v string) *string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	return value[:max]
}

func keepFirstErr(current error, candidate error) error {
	if current != nil {
		return current
	}
	return candidate
}
