package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WebhookEvent is the append-only audit record of a gateway notification.
// EventID carries the gateway's event id; the unique index makes redelivery
// of the same physical notification a no-op against the store.
type WebhookEvent struct {
	ID              string     `json:"id" gorm:"primaryKey;type:uuid"`
	EventID         string     `json:"event_id" gorm:"not null;uniqueIndex"`
	EventType       string     `json:"event_type" gorm:"not null"`
	Payload         JSON       `json:"payload" gorm:"type:jsonb"`
	PaymentIntentID *string    `json:"payment_intent_id" gorm:"index"`
	Processed       bool       `json:"processed" gorm:"not null;default:false"`
	ProcessedAt     *time.Time `json:"processed_at"`
	CreatedAt       time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

func (e *WebhookEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

type EventKind int

const (
	EventKindUnknown EventKind = iota
	EventKindOrderApproved
	EventKindOrderCompleted
	EventKindOrderFailed
	EventKindOrderCancelled
)

// GatewayEvent is the decoded shape of an inbound gateway notification.
// Unknown event types decode fine and map to EventKindUnknown; they are
// stored for audit and produce no state transition.
type GatewayEvent struct {
	ID         string               `json:"id"`
	EventType  string               `json:"event_type"`
	CreateTime time.Time            `json:"create_time"`
	Resource   GatewayEventResource `json:"resource"`
}

type GatewayEventResource struct {
	OrderID       string `json:"order_id"`
	TransactionID string `json:"transaction_id"`
	PayerID       string `json:"payer_id"`
	Reason        string `json:"reason"`
}

func (e *GatewayEvent) Kind() EventKind {
	switch e.EventType {
	case "ORDER.APPROVED", "CHECKOUT.ORDER.APPROVED":
		return EventKindOrderApproved
	case "ORDER.COMPLETED", "PAYMENT.CAPTURE.COMPLETED":
		return EventKindOrderCompleted
	case "ORDER.FAILED", "PAYMENT.CAPTURE.DENIED":
		return EventKindOrderFailed
	case "ORDER.CANCELLED":
		return EventKindOrderCancelled
	}
	return EventKindUnknown
}

func ParseGatewayEvent(payload []byte) (*GatewayEvent, error) {
	var event GatewayEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}
	return &event, nil
}
