package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func weightEntries(weights ...string) []*WeightEntry {
	entries := make([]*WeightEntry, 0, len(weights))
	for i, w := range weights {
		entries = append(entries, &WeightEntry{
			StandardId: i + 1,
			Weight:     decimal.RequireFromString(w),
		})
	}
	return entries
}

func TestValidateWeightSum(t *testing.T) {
	tests := []struct {
		name    string
		entries []*WeightEntry
		wantErr bool
	}{
		{"exact 100", weightEntries("60", "40"), false},
		{"thirds within tolerance", weightEntries("33.33", "33.33", "33.34"), false},
		{"off by tolerance boundary", weightEntries("50", "50.01"), false},
		{"sums to 99", weightEntries("60", "39"), true},
		{"sums to 101", weightEntries("60", "41"), true},
		{"negative weight", weightEntries("110", "-10"), true},
		{"single full weight", weightEntries("100"), false},
		{"zero weight allowed", weightEntries("100", "0"), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := validateWeightSum(tc.entries)
			if tc.wantErr && err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestSectionProgressOf(t *testing.T) {
	final := decimal.RequireFromString("75.5")
	weight := &StandardWeight{
		StandardId:        3,
		Weight:            decimal.RequireFromString("40"),
		CalculatedScore:   &final,
		TotalControls:     8,
		EvaluatedControls: 3,
	}
	standard := &Standard{ID: 3, Code: "A.5", Name: "Organizational controls"}

	row := sectionProgressOf(weight, standard)
	if row.Code != "A.5" || row.Name != "Organizational controls" {
		t.Fatalf("row identity = %s/%s, want A.5/Organizational controls", row.Code, row.Name)
	}
	if row.FinalScore == nil || !row.FinalScore.Equal(final) {
		t.Fatalf("final score = %v, want 75.5", row.FinalScore)
	}
	if !row.ProgressPct.Equal(decimal.RequireFromString("37.5")) {
		t.Fatalf("progress = %s, want 37.5", row.ProgressPct.String())
	}
}

func TestSectionProgressOfEmptySection(t *testing.T) {
	weight := &StandardWeight{StandardId: 7, Weight: decimal.RequireFromString("10")}

	row := sectionProgressOf(weight, nil)
	if !row.ProgressPct.IsZero() {
		t.Fatalf("progress of empty section = %s, want 0", row.ProgressPct.String())
	}
	if row.FinalScore != nil {
		t.Fatal("final score of unscored section should be nil")
	}
}
