package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/buger/jsonparser"
)

const maxLoggedBody = 2048

type NOWPaymentsConfig struct {
	APIURL      string
	APIKey      string
	IPNSecret   string
	HTTPTimeout time.Duration
}

type NOWPaymentsProvider struct {
	cfg    NOWPaymentsConfig
	client *http.Client
}

func NewNOWPaymentsProvider(cfg NOWPaymentsConfig) *NOWPaymentsProvider {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	cfg.APIURL = strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/")
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.nowpayments.io"
	}

	return &NOWPaymentsProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

type invoiceRequest struct {
	PriceAmount      json.Number `json:"price_amount"`
	PriceCurrency    string      `json:"price_currency"`
	PayCurrency      string      `json:"pay_currency"`
	IPNCallbackURL   string      `json:"ipn_callback_url"`
	OrderDescription string      `json:"order_description"`
	SuccessURL       string      `json:"success_url"`
	CancelURL        string      `json:"cancel_url"`
}

func (p *NOWPaymentsProvider) CreateInvoice(ctx context.Context, input *InvoiceInput) (*Invoice, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return nil, ErrNotConfigured
	}

	payload, err := json.Marshal(&invoiceRequest{
		PriceAmount:      json.Number(input.PriceAmount.String()),
		PriceCurrency:    input.PriceCurrency,
		PayCurrency:      input.PayCurrency,
		IPNCallbackURL:   input.IPNCallbackURL,
		OrderDescription: input.OrderDescription,
		SuccessURL:       input.SuccessURL,
		CancelURL:        input.CancelURL,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.APIURL+"/v1/invoice", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status=%d body=%s", ErrInvoiceRejected, resp.StatusCode, truncateBody(body))
	}

	invoiceID, ok := scalarString(body, "id")
	if !ok {
		return nil, fmt.Errorf("%w: id missing body=%s", ErrInvoiceIncomplete, truncateBody(body))
	}
	invoiceURL, _ := scalarString(body, "invoice_url")

	return &Invoice{ID: invoiceID, InvoiceURL: invoiceURL}, nil
}

func (p *NOWPaymentsProvider) VerifyAndParseNotification(_ context.Context, payload []byte, signature string) (*Notification, error) {
	if strings.TrimSpace(p.cfg.IPNSecret) == "" {
		return nil, ErrNotConfigured
	}
	signature = strings.ToLower(strings.TrimSpace(signature))
	if signature == "" {
		return nil, ErrSignatureMissing
	}

	root, err := parseNotificationObject(payload)
	if err != nil {
		return nil, err
	}

	var canonical bytes.Buffer
	writeNode(&canonical, root, true)
	if !verifySignature(canonical.Bytes(), signature, p.cfg.IPNSecret) {
		return nil, ErrSignatureMismatch
	}

	paymentID, ok := identifierField(root, "invoice_id")
	if !ok {
		paymentID, ok = identifierField(root, "order_id")
	}
	if !ok {
		return nil, ErrMissingIdentifier
	}

	notification := &Notification{PaymentID: paymentID}
	if node, present := root.fields.Get("payment_status"); present && node.kind == jsonparser.String {
		notification.GatewayStatus = node.str
	}
	notification.Status = MapStatus(notification.GatewayStatus)

	return notification, nil
}

// SignNotification returns the lowercase hex HMAC-SHA512 the gateway sends in
// x-nowpayments-sig for payload.
func SignNotification(secret string, payload []byte) (string, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(computeHMAC(canonical, secret)), nil
}

func verifySignature(canonical []byte, signature string, secret string) bool {
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(provided, computeHMAC(canonical, secret))
}

func computeHMAC(canonical []byte, secret string) []byte {
	mac := hmac.New(sha512.New, []byte(secret))
	_, _ = mac.Write(canonical)
	return mac.Sum(nil)
}

// identifierField reads a field that is usable as a payment id: a non-empty
// string or a non-zero finite number rendered the way JavaScript prints it.
func identifierField(root *jsonNode, name string) (string, bool) {
	node, ok := root.fields.Get(name)
	if !ok {
		return "", false
	}
	switch node.kind {
	case jsonparser.String:
		if node.str == "" {
			return "", false
		}
		return node.str, true
	case jsonparser.Number:
		if node.num == 0 || math.IsInf(node.num, 0) || math.IsNaN(node.num) {
			return "", false
		}
		return formatNumber(node.num), true
	default:
		return "", false
	}
}

func scalarString(body []byte, key string) (string, bool) {
	value, dataType, _, err := jsonparser.Get(body, key)
	if err != nil {
		return "", false
	}
	switch dataType {
	case jsonparser.String:
		s, err := jsonparser.ParseString(value)
		if err != nil || strings.TrimSpace(s) == "" {
			return "", false
		}
		return s, true
	case jsonparser.Number:
		f, err := strconv.ParseFloat(string(value), 64)
		if err != nil {
			return "", false
		}
		return formatNumber(f), true
	default:
		return "", false
	}
}

func truncateBody(body []byte) string {
	if len(body) <= maxLoggedBody {
		return string(body)
	}
	return string(body[:maxLoggedBody])
}
