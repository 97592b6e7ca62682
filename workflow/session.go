package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/emberpeak/countflow_backend/config"
	"github.com/emberpeak/countflow_backend/models"
	"github.com/emberpeak/countflow_backend/snapshot"
	"github.com/emberpeak/countflow_backend/utils"
	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func isDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

// GenerateCountSession opens a blind count draft for the store. The
// operation is idempotent per store: while a draft is open, repeated calls
// return it instead of creating a second one. Works on the snapshot
// provider selected at startup.
func GenerateCountSession(ctx context.Context, storeId int, employeeName string) (*models.CountSession, error) {
	if err := models.AssertStoreScope(ctx, storeId); err != nil {
		return nil, err
	}
	if _, err := models.GetStore(ctx, storeId); err != nil {
		return nil, err
	}

	redisLock := acquireRedisStoreLock(ctx, storeId)
	defer releaseRedisStoreLock(ctx, redisLock)

	db := config.GetDB().WithContext(ctx)
	provider := snapshot.GetProvider()
	var session *models.CountSession
	err := db.Transaction(func(tx *gorm.DB) error {
		// Serialize per store across instances.
		if err := AcquireStoreCountLock(tx, storeId); err != nil {
			return err
		}
		defer ReleaseStoreCountLock(tx, storeId)

		if existing, err := models.GetDraftForStore(tx, storeId); err == nil {
			session = existing
			return nil
		}

		selection, err := ResolveGroupForStore(tx, storeId)
		if err != nil {
			return err
		}
		campaigns, err := models.ActiveCampaignsForGroup(tx, selection.GroupId)
		if err != nil {
			return err
		}
		if len(campaigns) == 0 {
			return utils.ErrorNothingToCount
		}

		type catalogEntry struct {
			item     snapshot.CountItem
			campaign *models.Campaign
		}
		var ordered []catalogEntry
		seen := map[string]bool{}
		for _, campaign := range campaigns {
			items, err := provider.ListCountItems(ctx, storeId, campaign.ID)
			if err != nil {
				return err
			}
			for _, item := range items {
				if seen[item.VariationId] {
					continue
				}
				seen[item.VariationId] = true
				ordered = append(ordered, catalogEntry{item: item, campaign: campaign})
			}
		}

		recountItems, err := activeRecountItems(tx, storeId)
		if err != nil {
			return err
		}
		recountIds := make(map[string]bool, len(recountItems))
		for _, item := range recountItems {
			recountIds[item.VariationId] = true
		}

		variationIds := make([]string, 0, len(ordered)+len(recountItems))
		for _, entry := range ordered {
			if !recountIds[entry.item.VariationId] {
				variationIds = append(variationIds, entry.item.VariationId)
			}
		}
		for _, item := range recountItems {
			variationIds = append(variationIds, item.VariationId)
		}
		if len(variationIds) == 0 {
			return utils.ErrorNothingToCount
		}

		onHand, err := provider.FetchCurrentOnHand(ctx, storeId, variationIds)
		if err != nil {
			return err
		}

		principalId, _ := utils.GetPrincipalIdFromContext(ctx)
		guard := storeId
		session = &models.CountSession{
			StoreId:         storeId,
			Status:          models.SessionStatusDraft,
			DraftGuard:      &guard,
			CountGroupId:    &selection.GroupId,
			ForcedCountId:   selection.ForcedCountId,
			EmployeeName:    employeeName,
			IncludesRecount: len(recountItems) > 0,
			GeneratedBy:     principalId,
		}
		if err := tx.Create(session).Error; err != nil {
			return err
		}

		position := 0
		for _, entry := range ordered {
			if recountIds[entry.item.VariationId] {
				continue
			}
			campaignId := entry.campaign.ID
			line := models.SnapshotLine{
				SessionId:            session.ID,
				VariationId:          entry.item.VariationId,
				Sku:                  entry.item.Sku,
				ItemName:             entry.item.ItemName,
				VariationName:        entry.item.VariationName,
				SectionType:          models.SnapshotSectionCategory,
				CampaignId:           &campaignId,
				SectionLabel:         entry.campaign.DisplayLabel(),
				Position:             position,
				SourceCatalogVersion: entry.item.SourceCatalogVersion,
				ExpectedQty:          onHand[entry.item.VariationId],
			}
			if err := tx.Create(&line).Error; err != nil {
				return err
			}
			position++
		}
		for _, item := range recountItems {
			line := models.SnapshotLine{
				SessionId:            session.ID,
				VariationId:          item.VariationId,
				Sku:                  item.Sku,
				ItemName:             item.ItemName,
				VariationName:        item.VariationName,
				SectionType:          models.SnapshotSectionRecount,
				SectionLabel:         "Recount",
				Position:             position,
				SourceCatalogVersion: "recount-queue",
				ExpectedQty:          onHand[item.VariationId],
			}
			if err := tx.Create(&line).Error; err != nil {
				return err
			}
			position++
		}

		if selection.ForcedCountId != nil {
			if err := models.ConsumeForcedCount(tx, *selection.ForcedCountId, session.ID); err != nil {
				return err
			}
		}

		return models.RecordSessionAudit(tx, models.AuditActionSessionGenerated, storeId, session.ID, map[string]interface{}{
			"count_group_id":  selection.GroupId,
			"forced_count_id": selection.ForcedCountId,
			"line_count":      position,
			"employee_name":   employeeName,
		})
	})
	if err != nil {
		// A concurrent generate beat us to the draft guard; serve its draft.
		if isDuplicateKey(err) {
			if existing, derr := models.GetDraftForStore(db, storeId); derr == nil {
				return models.GetCountSessionWithLines(db, existing.ID)
			}
		}
		return nil, err
	}
	return models.GetCountSessionWithLines(db, session.ID)
}

// activeRecountItems returns the carried-over variance set when the store's
// recount loop is open, otherwise nothing.
func activeRecountItems(tx *gorm.DB, storeId int) ([]*models.StoreRecountItem, error) {
	state, err := models.GetRecountState(tx, storeId)
	if err != nil {
		return nil, err
	}
	if state == nil || state.IsActive == nil || !*state.IsActive {
		return nil, nil
	}
	return models.GetRecountItems(tx, storeId)
}

func editableSessionGuard(session *models.CountSession) error {
	if session.Status != models.SessionStatusDraft {
		return utils.ErrorInvalidState
	}
	return nil
}

// applyQuantities upserts counted quantities onto the session's lines.
// Unknown variation ids are ignored; negative quantities are rejected.
func applyQuantities(tx *gorm.DB, sessionId int, principalId int, quantities map[string]decimal.Decimal) error {
	for _, qty := range quantities {
		if qty.IsNegative() {
			return utils.ErrorInvalidState
		}
	}
	now := time.Now().UTC()
	for variationId, qty := range quantities {
		q := qty
		tx2 := tx.Model(&models.SnapshotLine{}).
			Where("session_id = ? AND variation_id = ?", sessionId, variationId).
			Updates(map[string]interface{}{
				"counted_qty": q,
				"counted_by":  principalId,
				"counted_at":  now,
			})
		if tx2.Error != nil {
			return tx2.Error
		}
	}
	return nil
}

// SaveDraft stores partial counts on an open session. Store principals
// never see expected quantities; the count stays blind until submit.
func SaveDraft(ctx context.Context, sessionId int, quantities map[string]decimal.Decimal) (*models.CountSession, error) {
	db := config.GetDB().WithContext(ctx)

	var session *models.CountSession
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		session, err = models.GetCountSession(tx, sessionId)
		if err != nil {
			return err
		}
		if err := models.AssertStoreScope(ctx, session.StoreId); err != nil {
			return err
		}
		if err := editableSessionGuard(session); err != nil {
			return err
		}

		principalId, _ := utils.GetPrincipalIdFromContext(ctx)
		if err := applyQuantities(tx, sessionId, principalId, quantities); err != nil {
			return err
		}

		// Draft saves are high frequency and non-terminal; no audit row
		// here. The HTTP layer records one per request.
		now := time.Now().UTC()
		if err := tx.Model(session).Update("draft_saved_at", now).Error; err != nil {
			return err
		}
		session.DraftSavedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// SubmitSession finalizes the count: remaining quantities are applied,
// fresh on-hand is fetched for variance, the recount loop advances, and the
// session locks as SUBMITTED. Everything including the audit row and a
// possible confirmed inventory update commits atomically; an unreachable
// snapshot provider rolls the whole submit back.
func SubmitSession(ctx context.Context, sessionId int, quantities map[string]decimal.Decimal) (*models.CountSession, []VarianceRow, RecountOutcome, error) {
	db := config.GetDB().WithContext(ctx)
	provider := snapshot.GetProvider()

	var (
		session *models.CountSession
		rows    []VarianceRow
		outcome RecountOutcome
	)

	peek, err := models.GetCountSession(db, sessionId)
	if err != nil {
		return nil, nil, outcome, err
	}
	if err := models.AssertStoreScope(ctx, peek.StoreId); err != nil {
		return nil, nil, outcome, err
	}

	redisLock := acquireRedisStoreLock(ctx, peek.StoreId)
	defer releaseRedisStoreLock(ctx, redisLock)

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := AcquireStoreCountLock(tx, peek.StoreId); err != nil {
			return err
		}
		defer ReleaseStoreCountLock(tx, peek.StoreId)

		var err error
		session, err = models.GetCountSession(tx, sessionId)
		if err != nil {
			return err
		}
		if err := editableSessionGuard(session); err != nil {
			return err
		}

		principalId, _ := utils.GetPrincipalIdFromContext(ctx)
		if err := applyQuantities(tx, sessionId, principalId, quantities); err != nil {
			return err
		}

		var lines []models.SnapshotLine
		if err := tx.Where("session_id = ?", sessionId).
			Order("position ASC, id ASC").Find(&lines).Error; err != nil {
			return err
		}

		variationIds := make([]string, len(lines))
		for i, line := range lines {
			variationIds[i] = line.VariationId
		}
		onHand, err := provider.FetchCurrentOnHand(ctx, session.StoreId, variationIds)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		rows = rows[:0]
		var nonZero []VarianceRow
		for i := range lines {
			expected := onHand[lines[i].VariationId]
			if err := tx.Model(&models.SnapshotLine{}).
				Where("id = ?", lines[i].ID).
				Update("expected_qty", expected).Error; err != nil {
				return err
			}

			counted, variance := LineVariance(lines[i].CountedQty, expected)
			row := VarianceRow{
				VariationId:   lines[i].VariationId,
				Sku:           lines[i].Sku,
				ItemName:      lines[i].ItemName,
				VariationName: lines[i].VariationName,
				SectionType:   string(lines[i].SectionType),
				ExpectedQty:   expected,
				CountedQty:    counted,
				Variance:      variance,
			}
			rows = append(rows, row)
			if !row.Variance.IsZero() {
				nonZero = append(nonZero, row)
			}
		}

		outcome, err = applyRecountState(tx, session.StoreId, session.ID, nonZero)
		if err != nil {
			return err
		}

		updates := map[string]interface{}{
			"status":               models.SessionStatusSubmitted,
			"draft_guard":          nil,
			"submitted_at":         now,
			"submitted_by":         principalId,
			"inventory_fetched_at": now,
			"variance_signature":   outcome.Signature,
			"stable_variance":      outcome.Stable,
		}
		if err := tx.Model(session).Updates(updates).Error; err != nil {
			return err
		}

		if outcome.Confirmed {
			confirmed := make([]models.ConfirmedLine, 0, len(rows))
			for _, row := range rows {
				confirmed = append(confirmed, models.ConfirmedLine{
					VariationId: row.VariationId,
					Sku:         row.Sku,
					CountedQty:  row.CountedQty.StringFixed(3),
				})
			}
			if err := models.EnqueueInventoryUpdate(ctx, tx, session.StoreId, session.ID, outcome.Signature, confirmed, now); err != nil {
				return err
			}
			if err := models.RecordSessionAudit(tx, models.AuditActionInventoryUpdateConfirmed, session.StoreId, session.ID, map[string]interface{}{
				"signature": outcome.Signature,
				"rounds":    outcome.Rounds,
			}); err != nil {
				return err
			}
		}

		return models.RecordSessionAudit(tx, models.AuditActionSessionSubmitted, session.StoreId, session.ID, map[string]interface{}{
			"signature":       outcome.Signature,
			"stable_variance": outcome.Stable,
			"rounds":          outcome.Rounds,
			"line_count":      len(rows),
		})
	})
	if err != nil {
		return nil, nil, RecountOutcome{}, err
	}

	session, err = models.GetCountSession(db, sessionId)
	if err != nil {
		return nil, nil, RecountOutcome{}, err
	}
	return session, rows, outcome, nil
}

// UnlockSession reopens a submitted session for correction. Admin roles
// only. Submission metadata is cleared; the store's recount state is left
// exactly as the submit wrote it, the next submit recomputes everything.
func UnlockSession(ctx context.Context, sessionId int, reason string) (*models.CountSession, error) {
	role, _ := utils.GetPrincipalRoleFromContext(ctx)
	if !models.PrincipalRole(role).IsAdmin() {
		return nil, utils.ErrorForbidden
	}

	db := config.GetDB().WithContext(ctx)
	var session *models.CountSession
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		session, err = models.GetCountSession(tx, sessionId)
		if err != nil {
			return err
		}
		if session.Status != models.SessionStatusSubmitted {
			return utils.ErrorInvalidState
		}

		guard := session.StoreId
		updates := map[string]interface{}{
			"status":               models.SessionStatusDraft,
			"draft_guard":          guard,
			"submitted_at":         nil,
			"submitted_by":         nil,
			"inventory_fetched_at": nil,
			"variance_signature":   "",
			"stable_variance":      false,
		}
		if err := tx.Model(session).Updates(updates).Error; err != nil {
			return err
		}

		return models.RecordSessionAudit(tx, models.AuditActionSessionUnlocked, session.StoreId, session.ID, map[string]interface{}{
			"reason": reason,
		})
	})
	if err != nil {
		// The store already has another open draft; unlocking would create
		// a second one.
		if isDuplicateKey(err) {
			return nil, utils.ErrorConflict
		}
		return nil, err
	}
	return models.GetCountSession(db, sessionId)
}

// PurgeSessions hard-deletes sessions and their lines. Forced-count and
// audit references are detached first so history survives the purge.
func PurgeSessions(ctx context.Context, sessionIds []int) (int, error) {
	role, _ := utils.GetPrincipalRoleFromContext(ctx)
	if !models.PrincipalRole(role).IsAdmin() {
		return 0, utils.ErrorForbidden
	}

	unique := map[int]bool{}
	for _, id := range sessionIds {
		if id > 0 {
			unique[id] = true
		}
	}
	if len(unique) == 0 {
		return 0, nil
	}
	ids := make([]int, 0, len(unique))
	for id := range unique {
		ids = append(ids, id)
	}

	db := config.GetDB().WithContext(ctx)
	purged := 0
	err := db.Transaction(func(tx *gorm.DB) error {
		var existing []int
		if err := tx.Model(&models.CountSession{}).
			Where("id IN ?", ids).Pluck("id", &existing).Error; err != nil {
			return err
		}
		if len(existing) == 0 {
			return nil
		}

		if err := tx.Model(&models.StoreForcedCount{}).
			Where("session_id IN ?", existing).
			Update("session_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.AuditLog{}).
			Where("session_id IN ?", existing).
			Update("session_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Where("session_id IN ?", existing).Delete(&models.SnapshotLine{}).Error; err != nil {
			return err
		}
		if err := tx.Where("id IN ?", existing).Delete(&models.CountSession{}).Error; err != nil {
			return err
		}
		purged = len(existing)

		return models.RecordAudit(tx, models.AuditActionSessionsPurged, nil, map[string]interface{}{
			"session_ids": existing,
		})
	})
	if err != nil {
		return 0, err
	}
	return purged, nil
}

// StoreSessionLine is the store-facing view of a line: no expected
// quantity, no variance. Keeping counts blind is the whole point.
type StoreSessionLine struct {
	VariationId   string           `json:"variation_id"`
	Sku           string           `json:"sku"`
	ItemName      string           `json:"item_name"`
	VariationName string           `json:"variation_name"`
	SectionType   string           `json:"section_type"`
	SectionLabel  string           `json:"section_label"`
	CountedQty    *decimal.Decimal `json:"counted_qty"`
}

func GetStoreSessionLines(ctx context.Context, sessionId int) (*models.CountSession, []StoreSessionLine, error) {
	db := config.GetDB().WithContext(ctx)
	session, err := models.GetCountSessionWithLines(db, sessionId)
	if err != nil {
		return nil, nil, err
	}
	if err := models.AssertStoreScope(ctx, session.StoreId); err != nil {
		return nil, nil, err
	}

	lines := make([]StoreSessionLine, 0, len(session.Lines))
	for _, line := range session.Lines {
		lines = append(lines, StoreSessionLine{
			VariationId:   line.VariationId,
			Sku:           line.Sku,
			ItemName:      line.ItemName,
			VariationName: line.VariationName,
			SectionType:   string(line.SectionType),
			SectionLabel:  line.SectionLabel,
			CountedQty:    line.CountedQty,
		})
	}
	return session, lines, nil
}

// GetManagementVarianceLines computes the full variance view from the
// stored expected and counted quantities. Management only.
func GetManagementVarianceLines(ctx context.Context, sessionId int) (*models.CountSession, []VarianceRow, error) {
	role, _ := utils.GetPrincipalRoleFromContext(ctx)
	if !models.PrincipalRole(role).IsManagement() {
		return nil, nil, utils.ErrorForbidden
	}

	db := config.GetDB().WithContext(ctx)
	session, err := models.GetCountSessionWithLines(db, sessionId)
	if err != nil {
		return nil, nil, err
	}

	rows := make([]VarianceRow, 0, len(session.Lines))
	for _, line := range session.Lines {
		counted, variance := LineVariance(line.CountedQty, line.ExpectedQty)
		rows = append(rows, VarianceRow{
			VariationId:   line.VariationId,
			Sku:           line.Sku,
			ItemName:      line.ItemName,
			VariationName: line.VariationName,
			SectionType:   string(line.SectionType),
			ExpectedQty:   line.ExpectedQty,
			CountedQty:    counted,
			Variance:      variance,
		})
	}
	return session, rows, nil
}
