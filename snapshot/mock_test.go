package snapshot

import (
	"context"
	"testing"
)

func TestMockProvider_ListCountItems_Deterministic(t *testing.T) {
	p := NewMockProvider()
	ctx := context.Background()

	first, err := p.ListCountItems(ctx, 1, 3)
	if err != nil {
		t.Fatalf("ListCountItems: %v", err)
	}
	second, err := p.ListCountItems(ctx, 1, 3)
	if err != nil {
		t.Fatalf("ListCountItems: %v", err)
	}
	if len(first) == 0 {
		t.Fatalf("mock catalog must not be empty")
	}
	if len(first) != len(second) {
		t.Fatalf("repeated listings differ in length: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("repeated listings differ at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestMockProvider_ListCountItems_CampaignsMapToDistinctSlices(t *testing.T) {
	p := NewMockProvider()
	ctx := context.Background()

	a, err := p.ListCountItems(ctx, 1, 1)
	if err != nil {
		t.Fatalf("ListCountItems: %v", err)
	}
	b, err := p.ListCountItems(ctx, 1, 2)
	if err != nil {
		t.Fatalf("ListCountItems: %v", err)
	}
	if a[0].VariationId == b[0].VariationId {
		t.Fatalf("adjacent campaigns must map to different catalog slices")
	}
}

func TestMockProvider_FetchCurrentOnHand_StableAndStoreScoped(t *testing.T) {
	p := NewMockProvider()
	ctx := context.Background()
	ids := []string{"VAR-001", "VAR-002", "VAR-012"}

	first, err := p.FetchCurrentOnHand(ctx, 1, ids)
	if err != nil {
		t.Fatalf("FetchCurrentOnHand: %v", err)
	}
	second, err := p.FetchCurrentOnHand(ctx, 1, ids)
	if err != nil {
		t.Fatalf("FetchCurrentOnHand: %v", err)
	}
	for _, id := range ids {
		if !first[id].Equal(second[id]) {
			t.Fatalf("on-hand for %s changed between fetches: %s vs %s", id, first[id], second[id])
		}
		if first[id].IsNegative() || first[id].IsZero() {
			t.Fatalf("mock on-hand for %s must be positive, got %s", id, first[id])
		}
	}

	// Different stores see slightly different quantities so variance paths
	// can be exercised without fixtures.
	otherStore, err := p.FetchCurrentOnHand(ctx, 2, ids)
	if err != nil {
		t.Fatalf("FetchCurrentOnHand: %v", err)
	}
	if otherStore["VAR-001"].Equal(first["VAR-001"]) {
		t.Fatalf("store offset must change the mock on-hand")
	}
}
