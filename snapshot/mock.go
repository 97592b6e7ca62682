package snapshot

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

type mockVariation struct {
	variationId   string
	sku           string
	itemName      string
	variationName string
}

// MockProvider serves a fixed coffee catalog and deterministic on-hand
// values derived from the variation id. It needs no network and is the
// default provider for development and tests.
type MockProvider struct {
	catalogByCategory map[string][]mockVariation
}

func NewMockProvider() *MockProvider {
	return &MockProvider{
		catalogByCategory: map[string][]mockVariation{
			"LATTE": {
				{"VAR-001", "SKU-1001", "Erupted Latte", "12oz"},
				{"VAR-002", "SKU-1002", "Erupted Latte", "16oz"},
				{"VAR-007", "SKU-1007", "Lava Vanilla Latte", "12oz"},
			},
			"COLD_BREW": {
				{"VAR-003", "SKU-1003", "Volcanic Cold Brew", "12oz"},
				{"VAR-004", "SKU-1004", "Volcanic Cold Brew", "16oz"},
				{"VAR-008", "SKU-1008", "Magma Nitro Brew", "16oz"},
			},
			"MOCHA": {
				{"VAR-005", "SKU-1005", "Ash Mocha", "12oz"},
				{"VAR-006", "SKU-1006", "Ash Mocha", "16oz"},
				{"VAR-009", "SKU-1009", "Pyro Dark Mocha", "16oz"},
			},
			"ESPRESSO": {
				{"VAR-010", "SKU-1010", "Core Espresso", "Single Shot"},
				{"VAR-011", "SKU-1011", "Core Espresso", "Double Shot"},
				{"VAR-012", "SKU-1012", "Ember Americano", "16oz"},
			},
		},
	}
}

func (p *MockProvider) campaignKey(campaignId int) string {
	keys := make([]string, 0, len(p.catalogByCategory))
	for key := range p.catalogByCategory {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	idx := (campaignId - 1) % len(keys)
	if idx < 0 {
		idx += len(keys)
	}
	return keys[idx]
}

func (p *MockProvider) ListCountItems(ctx context.Context, storeId int, campaignId int) ([]CountItem, error) {
	campaignKey := p.campaignKey(campaignId)
	base := p.catalogByCategory[campaignKey]
	items := make([]CountItem, 0, len(base))
	for _, v := range base {
		items = append(items, CountItem{
			VariationId:          v.variationId,
			Sku:                  v.sku,
			ItemName:             v.itemName,
			VariationName:        v.variationName,
			SourceCatalogVersion: fmt.Sprintf("mock-%s-campaign-%d", campaignKey, campaignId),
		})
	}
	return items, nil
}

// FetchCurrentOnHand derives a stable quantity from the variation id
// checksum plus a small per-store offset.
func (p *MockProvider) FetchCurrentOnHand(ctx context.Context, storeId int, variationIds []string) (map[string]decimal.Decimal, error) {
	values := make(map[string]decimal.Decimal, len(variationIds))
	for _, variationId := range variationIds {
		checksum := 0
		for _, char := range variationId {
			checksum += int(char)
		}
		base := (checksum % 11) + 4
		storeOffset := storeId % 3
		values[variationId] = decimal.NewFromInt(int64(base + storeOffset))
	}
	return values, nil
}
