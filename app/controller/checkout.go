package controller

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-checkout/app/auth"
	"github.com/vibast-solutions/ms-go-checkout/app/factory"
	"github.com/vibast-solutions/ms-go-checkout/app/service"
	"github.com/vibast-solutions/ms-go-checkout/app/types"
)

type CheckoutController struct {
	checkoutService *service.CheckoutService
	logger          logrus.FieldLogger
}

func NewCheckoutController(checkoutService *service.CheckoutService) *CheckoutController {
	return &CheckoutController{
		checkoutService: checkoutService,
		logger:          factory.NewModuleLogger("checkout-controller"),
	}
}

func (c *CheckoutController) CreateInvoice(ctx echo.Context) error {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return writeError(ctx, http.StatusUnauthorized, "Unauthorized")
	}

	req, err := types.NewCreateInvoiceRequestFromContext(ctx)
	if err != nil {
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Debug("Checkout body rejected")
		return writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	req.UserID = identity.UserID
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	result, err := c.checkoutService.CreateInvoice(ctx.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnauthenticated):
			return writeError(ctx, http.StatusUnauthorized, "Unauthorized")
		case errors.Is(err, service.ErrNoItems):
			return writeError(ctx, http.StatusBadRequest, "No items provided")
		case errors.Is(err, service.ErrInvalidEmail):
			return writeError(ctx, http.StatusBadRequest, "Valid email required")
		case errors.Is(err, service.ErrInvalidAmount):
			return writeError(ctx, http.StatusBadRequest, "Invalid amount")
		case errors.Is(err, service.ErrGatewayNotConfigured):
			factory.LoggerWithContext(c.logger, ctx).Error("NOWPayments API key is not configured")
			return writeError(ctx, http.StatusInternalServerError, "Payment gateway not configured")
		case errors.Is(err, service.ErrInvoiceCreationFailed):
			return writeError(ctx, http.StatusInternalServerError, "Failed to create payment invoice")
		case errors.Is(err, service.ErrOrderPersistFailed):
			return writeError(ctx, http.StatusInternalServerError, "Failed to record orders")
		default:
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Create invoice failed")
			return writeError(ctx, http.StatusInternalServerError, "Internal server error")
		}
	}

	return ctx.JSON(http.StatusOK, &types.CreateInvoiceResponse{
		PaymentURL: result.PaymentURL,
		PaymentID:  result.PaymentID,
	})
}

func writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Error: message})
}
