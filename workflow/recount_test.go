package workflow

import (
	"testing"

	"github.com/shopspring/decimal"
)

// NOTE: These tests are intentionally DB-free. They validate the recount
// convergence semantics: signatures are order-independent and quantized,
// and the loop resolves only when two consecutive rounds agree.

func varianceRow(variationId string, variance string) VarianceRow {
	return VarianceRow{
		VariationId: variationId,
		Variance:    decimal.RequireFromString(variance),
	}
}

func TestLineVariance_SignConvention(t *testing.T) {
	seven := decimal.NewFromInt(7)
	twelve := decimal.NewFromInt(12)
	ten := decimal.NewFromInt(10)

	counted, variance := LineVariance(&seven, ten)
	if !counted.Equal(seven) || !variance.Equal(decimal.NewFromInt(-3)) {
		t.Fatalf("counted 7 of 10 = (%s, %s), want (7, -3)", counted, variance)
	}

	counted, variance = LineVariance(&twelve, ten)
	if !counted.Equal(twelve) || !variance.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("counted 12 of 10 = (%s, %s), want (12, 2)", counted, variance)
	}
}

func TestLineVariance_UncountedIsZero(t *testing.T) {
	ten := decimal.NewFromInt(10)

	counted, variance := LineVariance(nil, ten)
	if !counted.IsZero() {
		t.Fatalf("uncounted line counted = %s, want 0", counted)
	}
	if !variance.Equal(decimal.NewFromInt(-10)) {
		t.Fatalf("uncounted line variance = %s, want the full shortage -10", variance)
	}

	counted, variance = LineVariance(nil, decimal.Zero)
	if !counted.IsZero() || !variance.IsZero() {
		t.Fatalf("uncounted line with zero on hand = (%s, %s), want (0, 0)", counted, variance)
	}
}

func TestVarianceSignature_OrderIndependent(t *testing.T) {
	a := []VarianceRow{
		varianceRow("VAR-001", "-2"),
		varianceRow("VAR-003", "1.5"),
		varianceRow("VAR-002", "-0.25"),
	}
	b := []VarianceRow{
		varianceRow("VAR-002", "-0.25"),
		varianceRow("VAR-001", "-2"),
		varianceRow("VAR-003", "1.5"),
	}

	if VarianceSignature(a) != VarianceSignature(b) {
		t.Fatalf("signature must not depend on row order")
	}
}

func TestVarianceSignature_QuantizedToThreeDecimals(t *testing.T) {
	a := []VarianceRow{varianceRow("VAR-001", "-2.0004")}
	b := []VarianceRow{varianceRow("VAR-001", "-2.0001")}
	c := []VarianceRow{varianceRow("VAR-001", "-2.001")}

	if VarianceSignature(a) != VarianceSignature(b) {
		t.Fatalf("sub-milli noise must not change the signature")
	}
	if VarianceSignature(a) == VarianceSignature(c) {
		t.Fatalf("a real third-decimal difference must change the signature")
	}
}

func TestVarianceSignature_DifferentSetsDiffer(t *testing.T) {
	a := []VarianceRow{varianceRow("VAR-001", "-2")}
	b := []VarianceRow{varianceRow("VAR-002", "-2")}
	if VarianceSignature(a) == VarianceSignature(b) {
		t.Fatalf("signatures of different variance sets must differ")
	}
}

func TestRecountDecision(t *testing.T) {
	tests := []struct {
		name              string
		wasActive         bool
		previousSignature string
		rounds            int
		signature         string
		hasVariance       bool
		want              RecountOutcome
	}{
		{
			name: "no variance resolves immediately",
			want: RecountOutcome{},
		},
		{
			name:        "no variance clears an active loop",
			wasActive:   true,
			rounds:      3,
			hasVariance: false,
			want:        RecountOutcome{},
		},
		{
			name:        "first variance opens the loop",
			signature:   "sig-a",
			hasVariance: true,
			want:        RecountOutcome{Signature: "sig-a", Rounds: 1},
		},
		{
			name:              "repeated signature closes stable and confirms",
			wasActive:         true,
			previousSignature: "sig-a",
			rounds:            1,
			signature:         "sig-a",
			hasVariance:       true,
			want:              RecountOutcome{Stable: true, Signature: "sig-a", Rounds: 2, Confirmed: true},
		},
		{
			name:              "changed signature keeps the loop open",
			wasActive:         true,
			previousSignature: "sig-a",
			rounds:            2,
			signature:         "sig-b",
			hasVariance:       true,
			want:              RecountOutcome{Signature: "sig-b", Rounds: 3},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := recountDecision(tc.wasActive, tc.previousSignature, tc.rounds, tc.signature, tc.hasVariance)
			if got != tc.want {
				t.Fatalf("recountDecision = %+v, want %+v", got, tc.want)
			}
		})
	}
}
