package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestComputeLeafScore(t *testing.T) {
	tests := []struct {
		name     string
		expected int
		obtained int
		want     string
	}{
		{"below expected", 5, 3, "60"},
		{"meets expected", 4, 4, "100"},
		{"over-achievement is not capped", 3, 5, "166.67"},
		{"rounds to two places", 3, 1, "33.33"},
		{"zero obtained", 5, 0, "0"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := computeLeafScore(tc.expected, tc.obtained)
			if !got.Equal(decimal.RequireFromString(tc.want)) {
				t.Fatalf("computeLeafScore(%d, %d) = %s, want %s", tc.expected, tc.obtained, got.String(), tc.want)
			}
		})
	}
}

func TestDeriveComplianceStatus(t *testing.T) {
	d := func(s string) *decimal.Decimal {
		v := decimal.RequireFromString(s)
		return &v
	}

	tests := []struct {
		name  string
		score *decimal.Decimal
		want  ComplianceStatus
	}{
		{"nil score", nil, ComplianceStatusPending},
		{"exactly 100", d("100"), ComplianceStatusCompliant},
		{"above 100", d("150"), ComplianceStatusCompliant},
		{"just under 100", d("99.99"), ComplianceStatusPartial},
		{"barely positive", d("0.01"), ComplianceStatusPartial},
		{"zero", d("0"), ComplianceStatusNonCompliant},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := deriveComplianceStatus(tc.score); got != tc.want {
				t.Fatalf("deriveComplianceStatus = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestNewEvaluationValidate(t *testing.T) {
	leaf := true
	branch := false
	audit := &Audit{ID: 1, FrameworkId: 1, CurrentStatus: AuditStatusInProgress}
	ranks := map[int]int{10: 1, 11: 2, 12: 3}

	input := &NewEvaluation{AuditId: 1, StandardId: 2, ExpectedLevelId: 12}

	std := &Standard{ID: 2, FrameworkId: 1, IsAuditable: &leaf}
	if err := input.validate(nil, "biz-1", audit, std, ranks); err != nil {
		t.Fatalf("valid input rejected: %v", err)
	}

	completed := &Audit{ID: 1, FrameworkId: 1, CurrentStatus: AuditStatusCompleted}
	if err := input.validate(nil, "biz-1", completed, std, ranks); err == nil {
		t.Fatal("completed audit should reject evaluations")
	}

	section := &Standard{ID: 2, FrameworkId: 1, IsAuditable: &branch}
	if err := input.validate(nil, "biz-1", audit, section, ranks); err == nil {
		t.Fatal("non-leaf standard should reject evaluations")
	}

	foreign := &Standard{ID: 2, FrameworkId: 9, IsAuditable: &leaf}
	if err := input.validate(nil, "biz-1", audit, foreign, ranks); err == nil {
		t.Fatal("standard outside the audit's framework should be rejected")
	}

	badLevel := &NewEvaluation{AuditId: 1, StandardId: 2, ExpectedLevelId: 99}
	if err := badLevel.validate(nil, "biz-1", audit, std, ranks); err == nil {
		t.Fatal("unknown expected level should be rejected")
	}

	obtained := 99
	badObtained := &NewEvaluation{AuditId: 1, StandardId: 2, ExpectedLevelId: 12, ObtainedLevelId: &obtained}
	if err := badObtained.validate(nil, "biz-1", audit, std, ranks); err == nil {
		t.Fatal("unknown obtained level should be rejected")
	}
}
