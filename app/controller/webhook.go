package controller

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-checkout/app/factory"
	"github.com/vibast-solutions/ms-go-checkout/app/service"
	"github.com/vibast-solutions/ms-go-checkout/app/types"
)

// WebhookController answers the gateway in plain text; the gateway only looks
// at the status code.
type WebhookController struct {
	reconcileService *service.ReconcileService
	logger           logrus.FieldLogger
}

func NewWebhookController(reconcileService *service.ReconcileService) *WebhookController {
	return &WebhookController{
		reconcileService: reconcileService,
		logger:           factory.NewModuleLogger("webhook-controller"),
	}
}

func (c *WebhookController) HandleNOWPayments(ctx echo.Context) error {
	l := factory.LoggerWithContext(c.logger, ctx)

	req, err := types.NewPaymentNotificationRequestFromContext(ctx)
	if err != nil {
		l.WithError(err).Warn("IPN body could not be read")
		return ctx.String(http.StatusBadRequest, "Invalid payload")
	}

	_, err = c.reconcileService.HandleNotification(ctx.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSecretNotConfigured):
			l.Error("IPN secret not configured")
			return ctx.String(http.StatusInternalServerError, "Server misconfigured")
		case errors.Is(err, service.ErrInvalidSignature):
			l.WithError(err).Warn("Invalid IPN signature")
			return ctx.String(http.StatusForbidden, "Invalid signature")
		case errors.Is(err, service.ErrInvalidPayload):
			return ctx.String(http.StatusBadRequest, "Invalid payload")
		case errors.Is(err, service.ErrMissingPaymentID):
			return ctx.String(http.StatusBadRequest, "No invoice/order ID")
		case errors.Is(err, service.ErrStoreUpdateFailed):
			l.WithError(err).Error("Failed to update orders")
			return ctx.String(http.StatusInternalServerError, "DB update failed")
		default:
			l.WithError(err).Error("Webhook error")
			return ctx.String(http.StatusInternalServerError, "Internal error")
		}
	}

	return ctx.String(http.StatusOK, "OK")
}
