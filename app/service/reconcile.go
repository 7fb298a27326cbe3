package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-checkout/app/entity"
	"github.com/vibast-solutions/ms-go-checkout/app/factory"
	"github.com/vibast-solutions/ms-go-checkout/app/provider"
	"github.com/vibast-solutions/ms-go-checkout/app/repository"
)

type paymentNotificationRequest interface {
	GetSignature() string
	GetPayload() []byte
}

type notificationVerifier interface {
	VerifyAndParseNotification(ctx context.Context, payload []byte, signature string) (*provider.Notification, error)
}

type orderReconciler interface {
	FindFirstByPaymentID(ctx context.Context, paymentID string) (*entity.Order, error)
	ApplyPaymentStatus(ctx context.Context, update *repository.PaymentStatusUpdate) (int64, error)
}

type ReconcileResult struct {
	PaymentID      string
	Status         string
	AlreadySettled bool
	UpdatedOrders  int64
}

type ReconcileService struct {
	orders   orderReconciler
	verifier notificationVerifier
	logger   logrus.FieldLogger
	now      func() time.Time
}

func NewReconcileService(orders orderReconciler, verifier notificationVerifier) *ReconcileService {
	return &ReconcileService{
		orders:   orders,
		verifier: verifier,
		logger:   factory.NewModuleLogger("reconcile_service"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// HandleNotification applies one verified gateway notification to every order
// of its payment. Replays and notifications for unknown payments succeed
// without side effects; a paid payment is never moved again.
func (s *ReconcileService) HandleNotification(ctx context.Context, req paymentNotificationRequest) (*ReconcileResult, error) {
	payload := req.GetPayload()
	notification, err := s.verifier.VerifyAndParseNotification(ctx, payload, req.GetSignature())
	if err != nil {
		return nil, classifyNotificationError(err)
	}

	s.logger.WithFields(logrus.Fields{
		"payment_id":     notification.PaymentID,
		"gateway_status": notification.GatewayStatus,
		"payload":        string(payload),
	}).Info("ipn received")

	result := &ReconcileResult{PaymentID: notification.PaymentID, Status: notification.Status}

	existing, err := s.orders.FindFirstByPaymentID(ctx, notification.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUpdateFailed, err)
	}
	if existing.IsPaid() {
		s.logger.WithField("payment_id", notification.PaymentID).Info("payment already settled, skipping")
		result.AlreadySettled = true
		return result, nil
	}

	now := s.now()
	update := &repository.PaymentStatusUpdate{
		PaymentID:     notification.PaymentID,
		PaymentStatus: notification.Status,
		Status:        notification.Status,
		UpdatedAt:     now,
	}
	if notification.Status == entity.OrderStatusPaid {
		update.ConfirmedAt = &now
		update.Settlement = newSettlement(notification.PaymentID, existing, now)
	}

	affected, err := s.orders.ApplyPaymentStatus(ctx, update)
	if err != nil {
		s.logger.WithError(err).WithField("payment_id", notification.PaymentID).Error("order update failed")
		return nil, fmt.Errorf("%w: %v", ErrStoreUpdateFailed, err)
	}
	result.UpdatedOrders = affected

	fields := logrus.Fields{"payment_id": notification.PaymentID, "status": notification.Status, "orders": affected}
	switch {
	case affected == 0:
		s.logger.WithFields(fields).Warn("no orders updated for notification")
	case notification.Status == entity.OrderStatusPaid:
		s.logger.WithFields(fields).Info("payment settled, activation queued")
	default:
		s.logger.WithFields(fields).Info("orders updated")
	}

	return result, nil
}

func newSettlement(paymentID string, existing *entity.Order, now time.Time) *entity.Settlement {
	settlement := &entity.Settlement{
		PaymentID:      paymentID,
		DeliveryStatus: entity.DeliveryPending,
		DeliveryNextAt: &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if existing != nil {
		settlement.UserID = existing.UserID
	}
	return settlement
}

func classifyNotificationError(err error) error {
	switch {
	case errors.Is(err, provider.ErrNotConfigured):
		return ErrSecretNotConfigured
	case errors.Is(err, provider.ErrSignatureMissing), errors.Is(err, provider.ErrSignatureMismatch):
		return ErrInvalidSignature
	case errors.Is(err, provider.ErrMalformedPayload):
		return ErrInvalidPayload
	case errors.Is(err, provider.ErrMissingIdentifier):
		return ErrMissingPaymentID
	default:
		return err
	}
}
