package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/emberpeak/countflow_backend/config"
	"github.com/emberpeak/countflow_backend/utils"
	"gorm.io/gorm"
)

// AuditLog is append-only. Actor, client ip and correlation id come from the
// request context carried on the transaction, so a row written inside a
// workflow transaction commits or rolls back with the business change.
type AuditLog struct {
	ID            int             `gorm:"primary_key" json:"id"`
	Action        string          `gorm:"size:60;not null;index" json:"action"`
	StoreId       *int            `gorm:"index" json:"store_id"`
	SessionId     *int            `gorm:"index" json:"session_id"`
	PrincipalId   *int            `gorm:"index" json:"principal_id"`
	PrincipalRole string          `gorm:"size:20" json:"principal_role"`
	ClientIp      string          `gorm:"size:45" json:"client_ip"`
	CorrelationId string          `gorm:"size:64;index" json:"correlation_id"`
	Detail        json.RawMessage `gorm:"type:json" json:"detail"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
}

// RecordSessionAudit writes one audit row tied to a count session. The
// session reference is a detachable column so purged sessions leave the
// audit trail intact.
func RecordSessionAudit(tx *gorm.DB, action string, storeId int, sessionId int, detail map[string]interface{}) error {
	return recordAudit(tx, action, &storeId, &sessionId, detail)
}

// RecordAudit writes one audit row inside the given transaction.
func RecordAudit(tx *gorm.DB, action string, storeId *int, detail map[string]interface{}) error {
	return recordAudit(tx, action, storeId, nil, detail)
}

func recordAudit(tx *gorm.DB, action string, storeId *int, sessionId *int, detail map[string]interface{}) error {
	ctx := tx.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}

	row := AuditLog{Action: action, StoreId: storeId, SessionId: sessionId}
	if principalId, ok := utils.GetPrincipalIdFromContext(ctx); ok {
		row.PrincipalId = &principalId
	}
	if role, ok := utils.GetPrincipalRoleFromContext(ctx); ok {
		row.PrincipalRole = role
	}
	if ip, ok := utils.GetClientIpFromContext(ctx); ok {
		row.ClientIp = ip
	}
	if correlationId, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		row.CorrelationId = correlationId
	}
	if detail != nil {
		payload, err := json.Marshal(detail)
		if err != nil {
			return err
		}
		row.Detail = payload
	}
	return tx.Create(&row).Error
}

type AuditQuery struct {
	StoreId *int
	Action  string
	Since   *time.Time
	Limit   int
}

func ListAuditLogs(ctx context.Context, query AuditQuery) ([]*AuditLog, error) {
	limit := query.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	db := config.GetDB().WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit)
	if query.StoreId != nil {
		db = db.Where("store_id = ?", *query.StoreId)
	}
	if query.Action != "" {
		db = db.Where("action = ?", query.Action)
	}
	if query.Since != nil {
		db = db.Where("created_at >= ?", *query.Since)
	}
	var rows []*AuditLog
	if err := db.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
