package types

import (
	"io"
	"strings"

	"github.com/labstack/echo/v4"
)

const NotificationSignatureHeader = "x-nowpayments-sig"

// PaymentNotificationRequest carries the IPN body undecoded; the signature is
// checked against these exact bytes.
type PaymentNotificationRequest struct {
	Signature string
	Payload   []byte
}

func NewPaymentNotificationRequestFromContext(ctx echo.Context) (*PaymentNotificationRequest, error) {
	rawBody, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return nil, err
	}

	return &PaymentNotificationRequest{
		Signature: strings.TrimSpace(ctx.Request().Header.Get(NotificationSignatureHeader)),
		Payload:   rawBody,
	}, nil
}

func (r *PaymentNotificationRequest) GetSignature() string { return r.Signature }
func (r *PaymentNotificationRequest) GetPayload() []byte { return r.Payload }
