package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-checkout/app/auth"
	"github.com/vibast-solutions/ms-go-checkout/app/entity"
	"github.com/vibast-solutions/ms-go-checkout/app/provider"
	"github.com/vibast-solutions/ms-go-checkout/app/repository"
	"github.com/vibast-solutions/ms-go-checkout/app/service"
	"github.com/vibast-solutions/ms-go-checkout/app/types"
	"github.com/vibast-solutions/ms-go-checkout/config"
)

const testIPNSecret = "ipn-secret"

type controllerOrderRepo struct {
	createBatchFn          func(ctx context.Context, orders []*entity.Order) error
	findFirstByPaymentIDFn func(ctx context.Context, paymentID string) (*entity.Order, error)
	listByPaymentIDFn      func(ctx context.Context, paymentID string) ([]*entity.Order, error)
	applyPaymentStatusFn   func(ctx context.Context, update *repository.PaymentStatusUpdate) (int64, error)
}

func (r *controllerOrderRepo) CreateBatch(ctx context.Context, orders []*entity.Order) error {
	if r.createBatchFn != nil {
		return r.createBatchFn(ctx, orders)
	}
	return nil
}

func (r *controllerOrderRepo) FindFirstByPaymentID(ctx context.Context, paymentID string) (*entity.Order, error) {
	if r.findFirstByPaymentIDFn != nil {
		return r.findFirstByPaymentIDFn(ctx, paymentID)
	}
	return nil, nil
}

func (r *controllerOrderRepo) ListByPaymentID(ctx context.Context, paymentID string) ([]*entity.Order, error) {
	if r.listByPaymentIDFn != nil {
		return r.listByPaymentIDFn(ctx, paymentID)
	}
	return []*entity.Order{}, nil
}

func (r *controllerOrderRepo) ApplyPaymentStatus(ctx context.Context, update *repository.PaymentStatusUpdate) (int64, error) {
	if r.applyPaymentStatusFn != nil {
		return r.applyPaymentStatusFn(ctx, update)
	}
	return 0, nil
}

type controllerSettlementRepo struct {
	findByPaymentIDFn func(ctx context.Context, paymentID string) (*entity.Settlement, error)
}

func (r *controllerSettlementRepo) FindByPaymentID(ctx context.Context, paymentID string) (*entity.Settlement, error) {
	if r.findByPaymentIDFn != nil {
		return r.findByPaymentIDFn(ctx, paymentID)
	}
	return nil, nil
}

type controllerGateway struct {
	createInvoiceFn func(ctx context.Context, input *provider.InvoiceInput) (*provider.Invoice, error)
}

func (g *controllerGateway) CreateInvoice(ctx context.Context, input *provider.InvoiceInput) (*provider.Invoice, error) {
	if g.createInvoiceFn != nil {
		return g.createInvoiceFn(ctx, input)
	}
	return &provider.Invoice{ID: "4522625843", InvoiceURL: "https://nowpayments.io/payment/?iid=4522625843"}, nil
}

func newCheckoutController(repo *controllerOrderRepo, gateway *controllerGateway) *CheckoutController {
	svc := service.NewCheckoutService(repo, gateway, config.CheckoutConfig{MaxTotal: decimal.NewFromInt(100000)}, "https://api.shop.example")
	return NewCheckoutController(svc)
}

func newWebhookController(repo *controllerOrderRepo, secret string) *WebhookController {
	verifier := provider.NewNOWPaymentsProvider(provider.NOWPaymentsConfig{IPNSecret: secret})
	return NewWebhookController(service.NewReconcileService(repo, verifier))
}

func newCheckoutContext(body string, identity *auth.Identity) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/payments/invoice", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderOrigin, "https://shop.example")
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	if identity != nil {
		auth.WithIdentity(ctx, identity)
	}
	return ctx, rec
}

func newWebhookContext(t *testing.T, body string, sign bool) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/nowpayments", strings.NewReader(body))
	if sign {
		sig, err := provider.SignNotification(testIPNSecret, []byte(body))
		if err != nil {
			// bodies that cannot be canonicalized still carry some signature
			sig = strings.Repeat("ab", 64)
		}
		req.Header.Set(types.NotificationSignatureHeader, sig)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp types.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v (%s)", err, rec.Body.String())
	}
	return resp.Error
}

const validCheckoutBody = `{"items":[{"id":"svc-a","name":"VPS","price":10,"btc_price":0.0002,"btc_address":"bc1qa"},{"id":"svc-b","name":"Backup","price":5}],"email":"buyer@x.com","instructions":"ssh key attached"}`

func TestCreateInvoiceSuccess(t *testing.T) {
	var stored []*entity.Order
	repo := &controllerOrderRepo{
		createBatchFn: func(_ context.Context, orders []*entity.Order) error {
			stored = orders
			return nil
		},
	}
	var gatewayInput *provider.InvoiceInput
	gateway := &controllerGateway{
		createInvoiceFn: func(_ context.Context, input *provider.InvoiceInput) (*provider.Invoice, error) {
			gatewayInput = input
			return &provider.Invoice{ID: "4522625843", InvoiceURL: "https://nowpayments.io/payment/?iid=4522625843"}, nil
		},
	}
	ctrl := newCheckoutController(repo, gateway)

	ctx, rec := newCheckoutContext(validCheckoutBody, &auth.Identity{UserID: "user-1"})
	if err := ctrl.CreateInvoice(ctx); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp types.CreateInvoiceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.PaymentID != "4522625843" || resp.PaymentURL != "https://nowpayments.io/payment/?iid=4522625843" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if len(stored) != 2 || stored[0].UserID != "user-1" || stored[1].PaymentID != "4522625843" {
		t.Fatalf("unexpected stored orders: %+v", stored)
	}
	if gatewayInput == nil || gatewayInput.SuccessURL != "https://shop.example/dashboard" {
		t.Fatalf("unexpected gateway input: %+v", gatewayInput)
	}
}

func TestCreateInvoiceRequiresIdentity(t *testing.T) {
	ctrl := newCheckoutController(&controllerOrderRepo{}, &controllerGateway{})

	ctx, rec := newCheckoutContext(validCheckoutBody, nil)
	if err := ctrl.CreateInvoice(ctx); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusUnauthorized || decodeError(t, rec) != "Unauthorized" {
		t.Fatalf("expected 401 Unauthorized, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCreateInvoiceErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		body       string
		gatewayErr error
		persistErr error
		wantCode   int
		wantError  string
	}{
		{"malformed json", `{"items":`, nil, nil, http.StatusBadRequest, "invalid request body"},
		{"items wrong type", `{"items":"svc-a","email":"buyer@x.com"}`, nil, nil, http.StatusBadRequest, "invalid request body"},
		{"empty items", `{"items":[],"email":"buyer@x.com"}`, nil, nil, http.StatusBadRequest, "No items provided"},
		{"missing items", `{"email":"buyer@x.com"}`, nil, nil, http.StatusBadRequest, "No items provided"},
		{"bad email", `{"items":[{"id":"a","name":"A","price":1}],"email":"nope"}`, nil, nil, http.StatusBadRequest, "Valid email required"},
		{"zero total", `{"items":[{"id":"a","name":"A","price":0}],"email":"buyer@x.com"}`, nil, nil, http.StatusBadRequest, "Invalid amount"},
		{"above max", `{"items":[{"id":"a","name":"A","price":100001}],"email":"buyer@x.com"}`, nil, nil, http.StatusBadRequest, "Invalid amount"},
		{"btc price too precise", `{"items":[{"id":"a","name":"A","price":1,"btc_price":"0.000000015"}],"email":"buyer@x.com"}`, nil, nil, http.StatusBadRequest, "items[0].btc_price supports at most 8 decimal places"},
		{"gateway not configured", validCheckoutBody, provider.ErrNotConfigured, nil, http.StatusInternalServerError, "Payment gateway not configured"},
		{"gateway rejected", validCheckoutBody, provider.ErrInvoiceRejected, nil, http.StatusInternalServerError, "Failed to create payment invoice"},
		{"persist failed", validCheckoutBody, nil, errors.New("connection reset"), http.StatusInternalServerError, "Failed to record orders"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gatewayCalled := false
			gateway := &controllerGateway{
				createInvoiceFn: func(context.Context, *provider.InvoiceInput) (*provider.Invoice, error) {
					gatewayCalled = true
					if tc.gatewayErr != nil {
						return nil, tc.gatewayErr
					}
					return &provider.Invoice{ID: "1", InvoiceURL: "https://nowpayments.io/payment/?iid=1"}, nil
				},
			}
			repo := &controllerOrderRepo{
				createBatchFn: func(context.Context, []*entity.Order) error { return tc.persistErr },
			}
			ctrl := newCheckoutController(repo, gateway)

			ctx, rec := newCheckoutContext(tc.body, &auth.Identity{UserID: "user-1"})
			if err := ctrl.CreateInvoice(ctx); err != nil {
				t.Fatalf("handler returned error: %v", err)
			}
			if rec.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d: %s", tc.wantCode, rec.Code, rec.Body.String())
			}
			if got := decodeError(t, rec); got != tc.wantError {
				t.Fatalf("expected %q, got %q", tc.wantError, got)
			}
			if tc.wantCode == http.StatusBadRequest && gatewayCalled {
				t.Fatal("gateway must not be called for a rejected request")
			}
		})
	}
}

func TestHandleNOWPaymentsSettles(t *testing.T) {
	var update *repository.PaymentStatusUpdate
	repo := &controllerOrderRepo{
		findFirstByPaymentIDFn: func(_ context.Context, paymentID string) (*entity.Order, error) {
			return &entity.Order{ID: "a", UserID: "user-1", PaymentID: paymentID, PaymentStatus: entity.OrderStatusConfirming}, nil
		},
		applyPaymentStatusFn: func(_ context.Context, u *repository.PaymentStatusUpdate) (int64, error) {
			update = u
			return 2, nil
		},
	}
	ctrl := newWebhookController(repo, testIPNSecret)

	ctx, rec := newWebhookContext(t, `{"payment_status":"finished","invoice_id":4522625843}`, true)
	if err := ctrl.HandleNOWPayments(ctx); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("expected 200 OK, got %d: %s", rec.Code, rec.Body.String())
	}
	if update == nil || update.PaymentID != "4522625843" || update.PaymentStatus != entity.OrderStatusPaid {
		t.Fatalf("unexpected update: %+v", update)
	}
	if update.ConfirmedAt == nil || update.Settlement == nil || update.Settlement.UserID != "user-1" {
		t.Fatalf("expected confirmed_at and settlement on paid update: %+v", update)
	}
}

func TestHandleNOWPaymentsAlreadyPaidIsAcknowledged(t *testing.T) {
	applied := false
	repo := &controllerOrderRepo{
		findFirstByPaymentIDFn: func(_ context.Context, paymentID string) (*entity.Order, error) {
			return &entity.Order{ID: "a", PaymentID: paymentID, PaymentStatus: entity.OrderStatusPaid}, nil
		},
		applyPaymentStatusFn: func(context.Context, *repository.PaymentStatusUpdate) (int64, error) {
			applied = true
			return 0, nil
		},
	}
	ctrl := newWebhookController(repo, testIPNSecret)

	ctx, rec := newWebhookContext(t, `{"payment_status":"refunded","invoice_id":"42"}`, true)
	if err := ctrl.HandleNOWPayments(ctx); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusOK || applied {
		t.Fatalf("expected 200 without update, got %d (applied=%v)", rec.Code, applied)
	}
}

func TestHandleNOWPaymentsErrorMapping(t *testing.T) {
	cases := []struct {
		name     string
		secret   string
		body     string
		sign     bool
		applyErr error
		wantCode int
		wantBody string
	}{
		{"secret missing", "", `{"payment_status":"finished","invoice_id":"42"}`, true, nil, http.StatusInternalServerError, "Server misconfigured"},
		{"unsigned", testIPNSecret, `{"payment_status":"finished","invoice_id":"42"}`, false, nil, http.StatusForbidden, "Invalid signature"},
		{"not json", testIPNSecret, `not json`, true, nil, http.StatusBadRequest, "Invalid payload"},
		{"array body", testIPNSecret, `[1,2]`, true, nil, http.StatusBadRequest, "Invalid payload"},
		{"no identifier", testIPNSecret, `{"payment_status":"finished"}`, true, nil, http.StatusBadRequest, "No invoice/order ID"},
		{"store failure", testIPNSecret, `{"payment_status":"finished","order_id":"42"}`, true, errors.New("deadlock"), http.StatusInternalServerError, "DB update failed"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &controllerOrderRepo{
				findFirstByPaymentIDFn: func(_ context.Context, paymentID string) (*entity.Order, error) {
					return &entity.Order{ID: "a", PaymentID: paymentID, PaymentStatus: entity.OrderStatusPending}, nil
				},
				applyPaymentStatusFn: func(context.Context, *repository.PaymentStatusUpdate) (int64, error) {
					return 1, tc.applyErr
				},
			}
			ctrl := newWebhookController(repo, tc.secret)

			ctx, rec := newWebhookContext(t, tc.body, tc.sign)
			if err := ctrl.HandleNOWPayments(ctx); err != nil {
				t.Fatalf("handler returned error: %v", err)
			}
			if rec.Code != tc.wantCode || rec.Body.String() != tc.wantBody {
				t.Fatalf("expected %d %q, got %d %q", tc.wantCode, tc.wantBody, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestListOrders(t *testing.T) {
	repo := &controllerOrderRepo{
		listByPaymentIDFn: func(_ context.Context, paymentID string) ([]*entity.Order, error) {
			return []*entity.Order{
				{ID: "a", PaymentID: paymentID, Status: entity.OrderStatusPaid, PaymentStatus: entity.OrderStatusPaid},
				{ID: "b", PaymentID: paymentID, Status: entity.OrderStatusPaid, PaymentStatus: entity.OrderStatusPaid},
			}, nil
		},
	}
	nextAt := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)
	lastErr := "activation service returned 502"
	settlements := &controllerSettlementRepo{
		findByPaymentIDFn: func(_ context.Context, paymentID string) (*entity.Settlement, error) {
			return &entity.Settlement{
				PaymentID:        paymentID,
				OrderCount:       2,
				DeliveryStatus:   entity.DeliveryPending,
				DeliveryAttempts: 1,
				DeliveryNextAt:   &nextAt,
				DeliveryLastErr:  &lastErr,
				CreatedAt:        nextAt.Add(-time.Minute),
			}, nil
		},
	}
	ctrl := NewOrderController(service.NewOrderService(repo, settlements))

	e := echo.New()
	rec := httptest.NewRecorder()
	ctx := e.NewContext(httptest.NewRequest(http.MethodGet, "/internal/orders?payment_id=42", nil), rec)
	if err := ctrl.ListOrders(ctx); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp types.ListOrdersResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Orders) != 2 || resp.Orders[0].PaymentID != "42" || resp.Orders[1].Status != entity.OrderStatusPaid {
		t.Fatalf("unexpected orders: %+v", resp.Orders)
	}
	if resp.Settlement == nil || resp.Settlement.DeliveryStatus != "pending" || resp.Settlement.DeliveryAttempts != 1 {
		t.Fatalf("unexpected settlement: %+v", resp.Settlement)
	}
	if resp.Settlement.DeliveryNextAt == nil || *resp.Settlement.DeliveryNextAt != "2026-03-01T10:05:00Z" {
		t.Fatalf("unexpected delivery_next_at: %v", resp.Settlement.DeliveryNextAt)
	}
	if resp.Settlement.DeliveryLastError == nil || *resp.Settlement.DeliveryLastError != lastErr {
		t.Fatalf("unexpected delivery_last_error: %v", resp.Settlement.DeliveryLastError)
	}
}

func TestListOrdersWithoutSettlement(t *testing.T) {
	repo := &controllerOrderRepo{
		listByPaymentIDFn: func(_ context.Context, paymentID string) ([]*entity.Order, error) {
			return []*entity.Order{{ID: "a", PaymentID: paymentID, Status: entity.OrderStatusPending, PaymentStatus: entity.OrderStatusPending}}, nil
		},
	}
	ctrl := NewOrderController(service.NewOrderService(repo, &controllerSettlementRepo{}))

	rec := httptest.NewRecorder()
	ctx := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/internal/orders?payment_id=42", nil), rec)
	if err := ctrl.ListOrders(ctx); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"settlement":null`) {
		t.Fatalf("expected null settlement, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestListOrdersValidationAndFailure(t *testing.T) {
	repo := &controllerOrderRepo{
		listByPaymentIDFn: func(context.Context, string) ([]*entity.Order, error) {
			return nil, errors.New("timeout")
		},
	}
	ctrl := NewOrderController(service.NewOrderService(repo, &controllerSettlementRepo{}))
	e := echo.New()

	rec := httptest.NewRecorder()
	if err := ctrl.ListOrders(e.NewContext(httptest.NewRequest(http.MethodGet, "/internal/orders", nil), rec)); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	if err := ctrl.ListOrders(e.NewContext(httptest.NewRequest(http.MethodGet, "/internal/orders?payment_id=42", nil), rec)); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	ctrl := NewOrderController(service.NewOrderService(&controllerOrderRepo{}, &controllerSettlementRepo{}))
	rec := httptest.NewRecorder()
	ctx := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), rec)

	if err := ctrl.Health(ctx); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("unexpected health response: %d %s", rec.Code, rec.Body.String())
	}
}
