package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-checkout/app/entity"
	"github.com/vibast-solutions/ms-go-checkout/app/factory"
	"github.com/vibast-solutions/ms-go-checkout/app/mapper"
	"github.com/vibast-solutions/ms-go-checkout/config"
)

const defaultBatchSize = int32(100)

type jobOrderRepository interface {
	ListStalePendingPaymentIDs(ctx context.Context, cutoff time.Time, limit int32) ([]string, error)
	ExpirePending(ctx context.Context, paymentID string, now time.Time) (int64, error)
	ListByPaymentID(ctx context.Context, paymentID string) ([]*entity.Order, error)
}

type settlementRepository interface {
	ListDueDispatch(ctx context.Context, now time.Time, limit int32) ([]*entity.Settlement, error)
	Update(ctx context.Context, settlement *entity.Settlement) error
}

type JobService struct {
	orders         jobOrderRepository
	settlements    settlementRepository
	ordersCfg      config.OrdersConfig
	appAPIKey      string
	activationHTTP *http.Client
	logger         logrus.FieldLogger
}

func NewJobService(
	orders jobOrderRepository,
	settlements settlementRepository,
	ordersCfg config.OrdersConfig,
	appAPIKey string,
) *JobService {
	timeout := ordersCfg.ActivationHTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &JobService{
		orders:         orders,
		settlements:    settlements,
		ordersCfg:      ordersCfg,
		appAPIKey:      strings.TrimSpace(appAPIKey),
		activationHTTP: &http.Client{Timeout: timeout},
		logger:         factory.NewModuleLogger("job_service"),
	}
}

// RunExpirePendingBatch expires payments whose orders stayed pending past the
// configured timeout. Orders that moved on in the meantime are left alone.
func (s *JobService) RunExpirePendingBatch(ctx context.Context) error {
	now := time.Now().UTC()
	cutoff := now.Add(-s.pendingTimeout())
	paymentIDs, err := s.orders.ListStalePendingPaymentIDs(ctx, cutoff, s.batchSize())
	if err != nil {
		return err
	}

	var firstErr error
	for _, paymentID := range paymentIDs {
		affected, err := s.orders.ExpirePending(ctx, paymentID, now)
		if err != nil {
			firstErr = keepFirstErr(firstErr, err)
			continue
		}
		if affected > 0 {
			s.logger.WithFields(logrus.Fields{"payment_id": paymentID, "orders": affected}).Info("pending orders expired")
		}
	}

	return firstErr
}

func (s *JobService) RunDispatchActivationsBatch(ctx context.Context) error {
	webhookURL := strings.TrimSpace(s.ordersCfg.ActivationWebhookURL)
	if webhookURL == "" {
		return ErrActivationNotConfigured
	}

	now := time.Now().UTC()
	items, err := s.settlements.ListDueDispatch(ctx, now, s.batchSize())
	if err != nil {
		return err
	}

	var firstErr error
	for _, settlement := range items {
		if settlement == nil {
			continue
		}
		if err := s.dispatchActivation(ctx, webhookURL, settlement, now); err != nil {
			firstErr = keepFirstErr(firstErr, err)
		}
	}

	return firstErr
}

func (s *JobService) dispatchActivation(ctx context.Context, webhookURL string, settlement *entity.Settlement, now time.Time) error {
	orders, err := s.orders.ListByPaymentID(ctx, settlement.PaymentID)
	if err != nil {
		return err
	}

	body, err := json.Marshal(mapper.SettlementToActivationRequest(settlement, orders))
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return s.recordDispatchFailure(ctx, settlement, now, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if s.appAPIKey != "" {
		req.Header.Set("X-API-Key", s.appAPIKey)
	}

	resp, err := s.activationHTTP.Do(req)
	if err != nil {
		return s.recordDispatchFailure(ctx, settlement, now, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return s.recordDispatchFailure(ctx, settlement, now, fmt.Errorf("activation endpoint returned status=%d", resp.StatusCode))
	}

	settlement.DeliveryStatus = entity.DeliverySuccess
	settlement.DeliveryAttempts++
	settlement.DeliveryNextAt = nil
	settlement.DeliveryLastErr = nil
	settlement.UpdatedAt = now

	if err := s.settlements.Update(ctx, settlement); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"payment_id": settlement.PaymentID,
		"orders":     settlement.OrderCount,
	}).Info("activation dispatched")

	return nil
}

func (s *JobService) recordDispatchFailure(ctx context.Context, settlement *entity.Settlement, now time.Time, dispatchErr error) error {
	settlement.DeliveryAttempts++
	trimmed := truncate(dispatchErr.Error(), 1024)
	settlement.DeliveryLastErr = &trimmed

	maxAttempts := s.ordersCfg.ActivationMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	if settlement.DeliveryAttempts >= maxAttempts {
		settlement.DeliveryStatus = entity.DeliveryFailed
		settlement.DeliveryNextAt = nil
	} else {
		retryInterval := s.ordersCfg.ActivationRetryInterval
		if retryInterval <= 0 {
			retryInterval = 5 * time.Minute
		}
		next := now.Add(retryInterval)
		settlement.DeliveryStatus = entity.DeliveryPending
		settlement.DeliveryNextAt = &next
	}
	settlement.UpdatedAt = now

	if err := s.settlements.Update(ctx, settlement); err != nil {
		return err
	}

	s.logger.WithError(dispatchErr).WithFields(logrus.Fields{
		"payment_id": settlement.PaymentID,
		"attempts":   settlement.DeliveryAttempts,
	}).Warn("activation dispatch failed")

	return dispatchErr
}

func (s *JobService) pendingTimeout() time.Duration {
	if s.ordersCfg.PendingTimeout > 0 {
		return s.ordersCfg.PendingTimeout
	}
	return 24 * time.Hour
}

func (s *JobService) batchSize() int32 {
	if s.ordersCfg.JobBatchSize > 0 {
		return s.ordersCfg.JobBatchSize
	}
	return defaultBatchSize
}
