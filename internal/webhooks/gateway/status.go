package gateway

import (
	"strings"

	"github.com/lumenworks/studiobook-backend/pkg/enums"
)

// statusMap is the fixed translation from gateway-native status vocabulary to
// the internal payment vocabulary. Anything unlisted stays pending.
var statusMap = map[string]enums.PaymentStatus{
	"PAID":      enums.PaymentStatusPaid,
	"SETTLED":   enums.PaymentStatusPaid,
	"COMPLETED": enums.PaymentStatusPaid,
	"EXPIRED":   enums.PaymentStatusFailed,
	"CANCELLED": enums.PaymentStatusFailed,
	"FAILED":    enums.PaymentStatusFailed,
}

// NormalizeStatus maps the gateway's status string to the internal vocabulary.
func NormalizeStatus(raw string) enums.PaymentStatus {
	if mapped, ok := statusMap[strings.ToUpper(strings.TrimSpace(raw))]; ok {
		return mapped
	}
	return enums.PaymentStatusPending
}
