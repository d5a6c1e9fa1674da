package integration

import (
	"time"

	"github.com/stockline-erp/stockline/internal/transfers"
)

// WebhookPayload is the wire shape delivered to external consumers.
type WebhookPayload struct {
	Event      string               `json:"event"`
	TransferID int64                `json:"transfer_id"`
	Code       string               `json:"code"`
	SourceShop int64                `json:"source_shop_id"`
	DestShop   int64                `json:"destination_shop_id"`
	ActorID    int64                `json:"actor_id"`
	OccurredAt time.Time            `json:"occurred_at"`
	Movements  []transfers.Movement `json:"movements"`
}

func mapEvent(event transfers.Event) WebhookPayload {
	return WebhookPayload{
		Event:      string(event.Type),
		TransferID: event.TransferID,
		Code:       event.Code,
		SourceShop: event.SourceShopID,
		DestShop:   event.DestinationShopID,
		ActorID:    event.ActorID,
		OccurredAt: event.At,
		Movements:  event.Movements,
	}
}
