package provider

import "github.com/vibast-solutions/ms-go-checkout/app/entity"

// MapStatus translates a gateway payment_status into the order vocabulary.
// Unknown values, including "waiting", leave the order pending.
func MapStatus(gatewayStatus string) string {
	switch gatewayStatus {
	case "finished", "confirmed":
		return entity.OrderStatusPaid
	case "confirming", "sending", "partially_paid":
		return entity.OrderStatusConfirming
	case "failed":
		return entity.OrderStatusFailed
	case "refunded":
		return entity.OrderStatusRefunded
	case "expired":
		return entity.OrderStatusExpired
	default:
		return entity.OrderStatusPending
	}
}
