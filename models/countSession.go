package models

import (
	"time"

	"github.com/emberpeak/countflow_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CountSession is one blind count for one store. DraftGuard mirrors StoreId
// while the session is in DRAFT and is set to NULL on submit; the unique
// index on it is what enforces a single open draft per store even under
// concurrent generation.
type CountSession struct {
	ID                 int            `gorm:"primary_key" json:"id"`
	StoreId            int            `gorm:"not null;index" json:"store_id"`
	Status             SessionStatus  `gorm:"size:20;not null;default:'DRAFT';index" json:"status"`
	DraftGuard         *int           `gorm:"uniqueIndex" json:"-"`
	CountGroupId       *int           `json:"count_group_id"`
	ForcedCountId      *int           `json:"forced_count_id"`
	EmployeeName       string         `gorm:"size:100;not null" json:"employee_name"`
	IncludesRecount    bool           `gorm:"not null;default:false" json:"includes_recount"`
	GeneratedAt        time.Time      `gorm:"autoCreateTime" json:"generated_at"`
	GeneratedBy        int            `gorm:"not null" json:"generated_by"`
	DraftSavedAt       *time.Time     `json:"draft_saved_at"`
	InventoryFetchedAt *time.Time     `json:"inventory_fetched_at"`
	SubmittedAt        *time.Time     `json:"submitted_at"`
	SubmittedBy        *int           `json:"submitted_by"`
	VarianceSignature  string         `gorm:"size:64" json:"variance_signature"`
	StableVariance     bool           `gorm:"not null;default:false" json:"stable_variance"`
	Lines              []SnapshotLine `gorm:"foreignKey:SessionId" json:"lines,omitempty"`
	CreatedAt          time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// SnapshotLine is one countable variation inside a session. ExpectedQty
// holds the on-hand captured at generation and is overwritten with the
// fresh submit-time fetch, so after submit it is the value variance was
// computed against. Counted fields are upserted while the session is DRAFT.
type SnapshotLine struct {
	ID                   int                 `gorm:"primary_key" json:"id"`
	SessionId            int                 `gorm:"not null;index:idx_session_variation,unique" json:"session_id"`
	VariationId          string              `gorm:"size:100;not null;index:idx_session_variation,unique" json:"variation_id"`
	Sku                  string              `gorm:"size:100" json:"sku"`
	ItemName             string              `gorm:"size:255;not null" json:"item_name"`
	VariationName        string              `gorm:"size:255" json:"variation_name"`
	SectionType          SnapshotSectionType `gorm:"size:20;not null" json:"section_type"`
	CampaignId           *int                `gorm:"index" json:"campaign_id"`
	SectionLabel         string              `gorm:"size:255" json:"section_label"`
	Position             int                 `gorm:"not null;default:0" json:"position"`
	SourceCatalogVersion string              `gorm:"size:100" json:"source_catalog_version"`
	ExpectedQty          decimal.Decimal     `gorm:"type:decimal(14,3);not null;default:0" json:"expected_qty"`
	CountedQty           *decimal.Decimal    `gorm:"type:decimal(14,3)" json:"counted_qty"`
	CountedBy            *int                `json:"counted_by"`
	CountedAt            *time.Time          `json:"counted_at"`
}

func GetCountSession(tx *gorm.DB, sessionId int) (*CountSession, error) {
	var session CountSession
	if err := tx.Where("id = ?", sessionId).First(&session).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &session, nil
}

// GetCountSessionWithLines loads the session and its lines in section order.
func GetCountSessionWithLines(tx *gorm.DB, sessionId int) (*CountSession, error) {
	var session CountSession
	err := tx.Where("id = ?", sessionId).
		Preload("Lines", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC, id ASC")
		}).
		First(&session).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &session, nil
}

// GetDraftForStore returns the store's open draft or ErrorRecordNotFound.
func GetDraftForStore(tx *gorm.DB, storeId int) (*CountSession, error) {
	var session CountSession
	err := tx.Where("store_id = ? AND status = ?", storeId, SessionStatusDraft).
		First(&session).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &session, nil
}

// ListSessionsForStore returns recent sessions, newest first.
func ListSessionsForStore(tx *gorm.DB, storeId int, limit int) ([]*CountSession, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var sessions []*CountSession
	err := tx.Where("store_id = ?", storeId).
		Order("generated_at DESC, id DESC").
		Limit(limit).
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}
