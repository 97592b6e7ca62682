package snapshot

import (
	"context"

	"github.com/shopspring/decimal"
)

// CountItem is one countable variation delivered by a provider for a
// campaign. SourceCatalogVersion identifies the upstream catalog snapshot
// the listing came from.
type CountItem struct {
	VariationId          string
	Sku                  string
	ItemName             string
	VariationName        string
	SourceCatalogVersion string
}

// Provider abstracts the upstream system of record. ListCountItems resolves
// a campaign's countable variations; FetchCurrentOnHand returns the live
// on-hand per variation id, defaulting absent ids to zero. Failures reaching
// the upstream wrap utils.ErrorUpstreamUnavailable so callers can map them
// to a retryable response.
type Provider interface {
	ListCountItems(ctx context.Context, storeId int, campaignId int) ([]CountItem, error)
	FetchCurrentOnHand(ctx context.Context, storeId int, variationIds []string) (map[string]decimal.Decimal, error)
}
