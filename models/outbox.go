package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/emberpeak/countflow_backend/config"
	"github.com/emberpeak/countflow_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PubSubMessageRecord is the transactional outbox row for confirmed
// inventory updates. It is written inside the submit transaction; the
// dispatcher publishes to Pub/Sub after commit and records the outcome
// on the row.
type PubSubMessageRecord struct {
	ID               int        `gorm:"primary_key;index:idx_outbox_dispatch,priority:3" json:"id"`
	StoreId          int        `gorm:"not null;index" json:"store_id"`
	SessionId        int        `gorm:"not null;index" json:"session_id"`
	Signature        string     `gorm:"size:64;not null" json:"signature"`
	Payload          []byte     `gorm:"type:blob" json:"payload"`
	ConfirmedAt      time.Time  `gorm:"not null" json:"confirmed_at"`
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// ConfirmedLine is one counted quantity inside the outbox payload.
type ConfirmedLine struct {
	VariationId string `json:"variation_id"`
	Sku         string `json:"sku"`
	CountedQty  string `json:"counted_qty"`
}

// EnqueueInventoryUpdate writes the outbox record inside the caller's DB
// transaction but does NOT publish. Publishing is performed asynchronously
// by the outbox dispatcher after commit.
func EnqueueInventoryUpdate(ctx context.Context, tx *gorm.DB, storeId int, sessionId int, signature string, lines []ConfirmedLine, confirmedAt time.Time) error {
	payload, err := json.Marshal(lines)
	if err != nil {
		return err
	}
	record := PubSubMessageRecord{
		StoreId:       storeId,
		SessionId:     sessionId,
		Signature:     signature,
		Payload:       payload,
		ConfirmedAt:   confirmedAt,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	return tx.Create(&record).Error
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func ConvertToInventoryUpdateMessage(record PubSubMessageRecord) config.InventoryUpdateMessage {
	return config.InventoryUpdateMessage{
		ID:            record.ID,
		StoreId:       record.StoreId,
		SessionId:     record.SessionId,
		Signature:     record.Signature,
		Lines:         json.RawMessage(record.Payload),
		ConfirmedAt:   record.ConfirmedAt,
		CorrelationId: record.CorrelationId,
	}
}
