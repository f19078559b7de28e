package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestEvenWeightSplit(t *testing.T) {
	for _, n := range []int{1, 2, 3, 6, 7, 11} {
		weights := evenWeightSplit(n)
		if len(weights) != n {
			t.Fatalf("split(%d) returned %d weights", n, len(weights))
		}
		sum := decimal.Zero
		for _, w := range weights {
			if w.IsNegative() {
				t.Fatalf("split(%d) produced negative weight %s", n, w.String())
			}
			sum = sum.Add(w)
		}
		if !sum.Equal(decimal.NewFromInt(100)) {
			t.Fatalf("split(%d) sums to %s, want exactly 100", n, sum.String())
		}
	}
}

func TestEvenWeightSplitRemainderOnFirst(t *testing.T) {
	weights := evenWeightSplit(3)
	if !weights[1].Equal(decimal.RequireFromString("33.33")) || !weights[2].Equal(decimal.RequireFromString("33.33")) {
		t.Fatalf("tail weights = %s, %s, want 33.33 each", weights[1].String(), weights[2].String())
	}
	if !weights[0].Equal(decimal.RequireFromString("33.34")) {
		t.Fatalf("first weight = %s, want 33.34 (carries the rounding remainder)", weights[0].String())
	}
}

func TestAuditStatusTransitions(t *testing.T) {
	tests := []struct {
		from AuditStatus
		to   AuditStatus
		ok   bool
	}{
		{AuditStatusDraft, AuditStatusInProgress, true},
		{AuditStatusDraft, AuditStatusCancelled, true},
		{AuditStatusDraft, AuditStatusCompleted, false},
		{AuditStatusInProgress, AuditStatusInReview, true},
		{AuditStatusInProgress, AuditStatusCompleted, false},
		{AuditStatusInReview, AuditStatusCompleted, true},
		{AuditStatusInReview, AuditStatusInProgress, true},
		{AuditStatusInReview, AuditStatusDraft, false},
		{AuditStatusCompleted, AuditStatusInProgress, false},
		{AuditStatusCancelled, AuditStatusDraft, false},
	}
	for _, tc := range tests {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.ok {
			t.Fatalf("CanTransitionTo(%s -> %s) = %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestCanSubmitEvaluations(t *testing.T) {
	allowed := map[AuditStatus]bool{
		AuditStatusDraft:      true,
		AuditStatusInProgress: true,
		AuditStatusInReview:   false,
		AuditStatusCompleted:  false,
		AuditStatusCancelled:  false,
	}
	for status, want := range allowed {
		if got := status.CanSubmitEvaluations(); got != want {
			t.Fatalf("CanSubmitEvaluations(%s) = %v, want %v", status, got, want)
		}
	}
}
