package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/xeipuuv/gojsonschema"
)

const createInvoiceSchema = `{
	"type": "object",
	"properties": {
		"items": {
			"type": ["array", "null"],
			"items": {
				"type": "object",
				"properties": {
					"id": {"type": "string"},
					"name": {"type": "string"},
					"price": {"type": "number"},
					"btc_price": {"type": ["number", "string", "null"]},
					"btc_address": {"type": ["string", "null"]}
				},
				"required": ["id", "name", "price"]
			}
		},
		"email": {"type": ["string", "null"]},
		"instructions": {"type": ["string", "null"]}
	}
}`

// btcPriceScale matches the btc_amount NUMERIC(18,8) column.
const btcPriceScale = 8

var createInvoiceSchemaLoader = gojsonschema.NewStringLoader(createInvoiceSchema)

type CheckoutItem struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Price      decimal.Decimal  `json:"price"`
	BTCPrice   *decimal.Decimal `json:"btc_price,omitempty"`
	BTCAddress *string          `json:"btc_address,omitempty"`
}

type CreateInvoiceRequest struct {
	Items        []CheckoutItem `json:"items"`
	Email        string         `json:"email"`
	Instructions string         `json:"instructions"`

	UserID string `json:"-"`
	Origin string `json:"-"`
}

type CreateInvoiceResponse struct {
	PaymentURL string `json:"payment_url"`
	PaymentID  string `json:"payment_id"`
}

func NewCreateInvoiceRequestFromContext(ctx echo.Context) (*CreateInvoiceRequest, error) {
	body, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return nil, err
	}
	if err := validateJSONSchema(createInvoiceSchemaLoader, body); err != nil {
		return nil, err
	}

	var req CreateInvoiceRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}

	for i := range req.Items {
		req.Items[i].ID = strings.TrimSpace(req.Items[i].ID)
		req.Items[i].Name = strings.TrimSpace(req.Items[i].Name)
		if req.Items[i].BTCAddress != nil {
			address := strings.TrimSpace(*req.Items[i].BTCAddress)
			req.Items[i].BTCAddress = &address
		}
	}
	req.Email = strings.TrimSpace(req.Email)
	req.Origin = strings.TrimRight(strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderOrigin)), "/")

	return &req, nil
}

func (r *CreateInvoiceRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return errors.New("user_id is required")
	}
	for i, item := range r.Items {
		if item.ID == "" {
			return fmt.Errorf("items[%d].id is required", i)
		}
		if item.BTCPrice != nil && !item.BTCPrice.Equal(item.BTCPrice.Truncate(btcPriceScale)) {
			return fmt.Errorf("items[%d].btc_price supports at most %d decimal places", i, btcPriceScale)
		}
	}
	return nil
}

func (r *CreateInvoiceRequest) GetUserID() string { return r.UserID }
func (r *CreateInvoiceRequest) GetEmail() string { return r.Email }
func (r *CreateInvoiceRequest) GetInstructions() string { return r.Instructions }
func (r *CreateInvoiceRequest) GetOrigin() string { return r.Origin }
func (r *CreateInvoiceRequest) GetItems() []CheckoutItem { return r.Items }

func validateJSONSchema(schemaLoader gojsonschema.JSONLoader, body []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		var sb strings.Builder
		for _, e := range result.Errors() {
			sb.WriteString(e.String())
			sb.WriteString("; ")
		}
		return fmt.Errorf("request does not conform to schema: %s", sb.String())
	}
	return nil
}
