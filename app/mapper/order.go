package mapper

import (
	"time"

	"github.com/vibast-solutions/ms-go-checkout/app/entity"
	"github.com/vibast-solutions/ms-go-checkout/app/types"
)

func OrderToResponse(item *entity.Order) *types.OrderResponse {
	if item == nil {
		return nil
	}

	resp := &types.OrderResponse{
		ID:                 item.ID,
		UserID:             item.UserID,
		ServiceID:          item.ServiceID,
		BTCAddress:         cloneString(item.BTCAddress),
		Status:             item.Status,
		PaymentStatus:      item.PaymentStatus,
		PaymentID:          item.PaymentID,
		CustomerEmail:      item.CustomerEmail,
		Instructions:       cloneString(item.Instructions),
		CreatedAt:          item.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:          item.UpdatedAt.UTC().Format(time.RFC3339),
		PaymentConfirmedAt: formatOptionalTime(item.PaymentConfirmedAt),
	}
	if item.BTCAmount != nil {
		amount := item.BTCAmount.String()
		resp.BTCAmount = &amount
	}

	return resp
}

func OrdersToResponse(items []*entity.Order) []*types.OrderResponse {
	result := make([]*types.OrderResponse, 0, len(items))
	for _, item := range items {
		result = append(result, OrderToResponse(item))
	}
	return result
}

func SettlementToActivationRequest(settlement *entity.Settlement, orders []*entity.Order) *types.ActivationRequest {
	return &types.ActivationRequest{
		PaymentID:  settlement.PaymentID,
		UserID:     settlement.UserID,
		OrderCount: settlement.OrderCount,
		Orders:     OrdersToResponse(orders),
	}
}

func SettlementToResponse(settlement *entity.Settlement) *types.SettlementResponse {
	if settlement == nil {
		return nil
	}

	return &types.SettlementResponse{
		DeliveryStatus:    deliveryStatusName(settlement.DeliveryStatus),
		DeliveryAttempts:  settlement.DeliveryAttempts,
		DeliveryNextAt:    formatOptionalTime(settlement.DeliveryNextAt),
		DeliveryLastError: cloneString(settlement.DeliveryLastErr),
		CreatedAt:         settlement.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func deliveryStatusName(status int32) string {
	switch status {
	case entity.DeliveryNone:
		return "none"
	case entity.DeliveryPending:
		return "pending"
	case entity.DeliverySuccess:
		return "success"
	case entity.DeliveryFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

func formatOptionalTime(v *time.Time) *string {
	if v == nil {
		return nil
	}
	s := v.UTC().Format(time.RFC3339)
	return &s
}
