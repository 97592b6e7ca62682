package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/emberpeak/countflow_backend/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// VarianceRow is one session line with its computed variance. Uncounted
// lines count as zero, so missing entries still produce a full shrink
// variance against the expected on-hand.
type VarianceRow struct {
	VariationId   string          `json:"variation_id"`
	Sku           string          `json:"sku"`
	ItemName      string          `json:"item_name"`
	VariationName string          `json:"variation_name"`
	SectionType   string          `json:"section_type"`
	ExpectedQty   decimal.Decimal `json:"expected_qty"`
	CountedQty    decimal.Decimal `json:"counted_qty"`
	Variance      decimal.Decimal `json:"variance"`
}

// LineVariance applies the blind-count policy to one line: an uncounted
// line (nil quantity) counts as zero, and variance is counted minus
// expected, so shortage comes out negative.
func LineVariance(counted *decimal.Decimal, expected decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	c := decimal.Zero
	if counted != nil {
		c = *counted
	}
	return c, c.Sub(expected)
}

// VarianceSignature hashes the non-zero variance set into an
// order-independent fingerprint. Variances are quantized to three decimal
// places so float noise cannot break signature equality between rounds.
func VarianceSignature(rows []VarianceRow) string {
	normalized := make([]string, 0, len(rows))
	for _, row := range rows {
		normalized = append(normalized, row.VariationId+"|"+row.Variance.StringFixed(3))
	}
	sort.Strings(normalized)
	sum := sha256.Sum256([]byte(strings.Join(normalized, ";")))
	return hex.EncodeToString(sum[:])
}

// RecountOutcome describes what a submit did to the store's recount loop.
type RecountOutcome struct {
	Stable    bool   `json:"stable"`
	Signature string `json:"signature"`
	Rounds    int    `json:"rounds"`
	// Confirmed is set when the variance stabilized and the counted
	// quantities should flow downstream as an inventory update.
	Confirmed bool `json:"confirmed"`
}

// recountDecision is the pure state transition for one submit:
//   - no variance resolves the loop immediately
//   - first variance opens the loop
//   - a repeat of the previous signature closes it as stable
//   - a different signature keeps the loop open for another round
func recountDecision(wasActive bool, previousSignature string, rounds int, signature string, hasVariance bool) RecountOutcome {
	if !hasVariance {
		return RecountOutcome{}
	}
	if !wasActive {
		return RecountOutcome{Signature: signature, Rounds: 1}
	}
	if previousSignature == signature {
		return RecountOutcome{Stable: true, Signature: signature, Rounds: rounds + 1, Confirmed: true}
	}
	return RecountOutcome{Signature: signature, Rounds: rounds + 1}
}

// applyRecountState persists the recount transition inside the caller's
// transaction. Non-zero variance rows become the carried-over item set for
// the next round unless the loop resolved.
func applyRecountState(tx *gorm.DB, storeId int, sessionId int, nonZeroRows []VarianceRow) (RecountOutcome, error) {
	state, err := models.GetRecountState(tx, storeId)
	if err != nil {
		return RecountOutcome{}, err
	}
	wasActive := false
	previousSignature := ""
	rounds := 0
	if state != nil {
		wasActive = state.IsActive != nil && *state.IsActive
		previousSignature = state.Signature
		rounds = state.Rounds
	}

	signature := ""
	if len(nonZeroRows) > 0 {
		signature = VarianceSignature(nonZeroRows)
	}
	outcome := recountDecision(wasActive, previousSignature, rounds, signature, len(nonZeroRows) > 0)

	if len(nonZeroRows) == 0 {
		if err := models.ClearRecountState(tx, storeId, sessionId); err != nil {
			return RecountOutcome{}, err
		}
		return outcome, nil
	}

	active := !outcome.Stable
	if err := tx.Save(&models.StoreRecountState{
		StoreId:       storeId,
		IsActive:      &active,
		Signature:     outcome.Signature,
		Rounds:        outcome.Rounds,
		LastSessionId: &sessionId,
	}).Error; err != nil {
		return RecountOutcome{}, err
	}
	if outcome.Stable {
		// Loop resolved: state keeps its final signature and round count
		// but the carried item set is gone.
		return outcome, tx.Where("store_id = ?", storeId).Delete(&models.StoreRecountItem{}).Error
	}

	items := make([]*models.StoreRecountItem, 0, len(nonZeroRows))
	for _, row := range nonZeroRows {
		items = append(items, &models.StoreRecountItem{
			VariationId:   row.VariationId,
			Sku:           row.Sku,
			ItemName:      row.ItemName,
			VariationName: row.VariationName,
			Variance:      row.Variance,
		})
	}
	if err := models.ReplaceRecountItems(tx, storeId, items); err != nil {
		return RecountOutcome{}, err
	}
	return outcome, nil
}
