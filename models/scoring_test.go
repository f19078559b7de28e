package models

import (
	"strconv"
	"testing"

	"github.com/shopspring/decimal"
)

func newTestStandard(id int, parentId *int, leaf bool) *Standard {
	return &Standard{
		ID:          id,
		BusinessId:  "biz-1",
		FrameworkId: 1,
		ParentId:    parentId,
		Code:        "STD-" + strconv.Itoa(id),
		Name:        "Standard",
		IsAuditable: &leaf,
	}
}

func newTestEvaluation(standardId int, score string, status ComplianceStatus) *Evaluation {
	ev := &Evaluation{
		BusinessId:       "biz-1",
		AuditId:          1,
		StandardId:       standardId,
		ComplianceStatus: status,
	}
	if score != "" {
		s := decimal.RequireFromString(score)
		ev.Score = &s
	}
	return ev
}

func intPtr(v int) *int { return &v }

// section 1
//   leaf 2
//   branch 3
//     leaf 4
//     leaf 5
func testHierarchy() []*Standard {
	return []*Standard{
		newTestStandard(1, nil, false),
		newTestStandard(2, intPtr(1), true),
		newTestStandard(3, intPtr(1), false),
		newTestStandard(4, intPtr(3), true),
		newTestStandard(5, intPtr(3), true),
	}
}

func TestScoreOfLeaf(t *testing.T) {
	ix := newScoringIndex(testHierarchy(), []*Evaluation{
		newTestEvaluation(2, "60", ComplianceStatusPartial),
	})

	got := ix.scoreOf(2)
	if got == nil || !got.Equal(decimal.RequireFromString("60")) {
		t.Fatalf("leaf score = %v, want 60", got)
	}
	if ix.scoreOf(4) != nil {
		t.Fatal("unevaluated leaf should have nil score")
	}
}

func TestScoreOfBranchExcludesUnevaluated(t *testing.T) {
	// leaf 5 has no evaluation: branch 3 averages only leaf 4,
	// section 1 averages leaf 2 and branch 3.
	ix := newScoringIndex(testHierarchy(), []*Evaluation{
		newTestEvaluation(2, "60", ComplianceStatusPartial),
		newTestEvaluation(4, "100", ComplianceStatusCompliant),
	})

	branch := ix.scoreOf(3)
	if branch == nil || !branch.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("branch score = %v, want 100", branch)
	}
	section := ix.scoreOf(1)
	if section == nil || !section.Equal(decimal.RequireFromString("80")) {
		t.Fatalf("section score = %v, want 80", section)
	}
}

func TestScoreOfBranchRounding(t *testing.T) {
	ix := newScoringIndex(testHierarchy(), []*Evaluation{
		newTestEvaluation(4, "33.33", ComplianceStatusPartial),
		newTestEvaluation(5, "66.67", ComplianceStatusPartial),
	})

	branch := ix.scoreOf(3)
	if branch == nil || !branch.Equal(decimal.RequireFromString("50")) {
		t.Fatalf("branch score = %v, want 50", branch)
	}
}

func TestScoreOfNoEvaluations(t *testing.T) {
	ix := newScoringIndex(testHierarchy(), nil)

	if got := ix.scoreOf(1); got != nil {
		t.Fatalf("section with no evaluated descendants = %v, want nil", got)
	}
	if got := ix.scoreOf(3); got != nil {
		t.Fatalf("branch with no evaluated descendants = %v, want nil", got)
	}
}

func TestScoreOfMemoized(t *testing.T) {
	ix := newScoringIndex(testHierarchy(), []*Evaluation{
		newTestEvaluation(2, "60", ComplianceStatusPartial),
	})

	first := ix.scoreOf(1)
	second := ix.scoreOf(1)
	if first != second {
		t.Fatal("repeated scoreOf should return the memoized result")
	}
	if _, ok := ix.memo[3]; !ok {
		t.Fatal("intermediate branch should be memoized after the walk")
	}
}

func TestScoreOfOverAchievement(t *testing.T) {
	ix := newScoringIndex(testHierarchy(), []*Evaluation{
		newTestEvaluation(2, "166.67", ComplianceStatusCompliant),
	})

	got := ix.scoreOf(1)
	if got == nil || !got.Equal(decimal.RequireFromString("166.67")) {
		t.Fatalf("section score = %v, want 166.67 (scores are not capped)", got)
	}
}

func TestScoreOfUnknownStandard(t *testing.T) {
	ix := newScoringIndex(testHierarchy(), nil)
	if got := ix.scoreOf(999); got != nil {
		t.Fatalf("unknown standard = %v, want nil", got)
	}
}

func TestCountLeaves(t *testing.T) {
	ix := newScoringIndex(testHierarchy(), []*Evaluation{
		newTestEvaluation(2, "60", ComplianceStatusPartial),
		newTestEvaluation(4, "", ComplianceStatusNotApplicable),
	})

	total, evaluated := ix.countLeaves(1)
	if total != 3 {
		t.Fatalf("total leaves = %d, want 3", total)
	}
	// NA counts as evaluated even without a score; leaf 5 does not.
	if evaluated != 2 {
		t.Fatalf("evaluated leaves = %d, want 2", evaluated)
	}
}

func TestComplianceCounts(t *testing.T) {
	ix := newScoringIndex(testHierarchy(), []*Evaluation{
		newTestEvaluation(2, "100", ComplianceStatusCompliant),
		newTestEvaluation(4, "", ComplianceStatusNotApplicable),
		newTestEvaluation(5, "40", ComplianceStatusPartial),
	})

	evaluated, compliant := ix.complianceCounts()
	if evaluated != 3 {
		t.Fatalf("evaluated = %d, want 3", evaluated)
	}
	// COMPLIANT and NOT_APPLICABLE count toward the rate, PARTIAL does not.
	if compliant != 2 {
		t.Fatalf("compliant = %d, want 2", compliant)
	}
}

func TestFinalScorePrefersManual(t *testing.T) {
	calculated := decimal.RequireFromString("72.5")
	manual := decimal.RequireFromString("80")

	w := &StandardWeight{CalculatedScore: &calculated}
	if got := w.FinalScore(); got == nil || !got.Equal(calculated) {
		t.Fatalf("final score = %v, want calculated 72.5", got)
	}

	w.ManualScore = &manual
	if got := w.FinalScore(); got == nil || !got.Equal(manual) {
		t.Fatalf("final score = %v, want manual 80", got)
	}

	empty := &StandardWeight{}
	if empty.FinalScore() != nil {
		t.Fatal("final score with neither manual nor calculated should be nil")
	}
}

func TestWeightedTotalScore(t *testing.T) {
	d := func(s string) *decimal.Decimal {
		v := decimal.RequireFromString(s)
		return &v
	}

	weights := []*StandardWeight{
		{Weight: decimal.RequireFromString("60"), CalculatedScore: d("80")},
		{Weight: decimal.RequireFromString("40"), CalculatedScore: d("50")},
	}
	got := weightedTotalScore(weights)
	if got == nil || !got.Equal(decimal.RequireFromString("68")) {
		t.Fatalf("weighted total = %v, want 68", got)
	}
}

func TestWeightedTotalScoreExcludesNullSections(t *testing.T) {
	score := decimal.RequireFromString("90")
	weights := []*StandardWeight{
		{Weight: decimal.RequireFromString("60"), CalculatedScore: &score},
		{Weight: decimal.RequireFromString("40")}, // no score yet
	}

	// Section without a score drops out of numerator AND denominator:
	// total is 90, not 54.
	got := weightedTotalScore(weights)
	if got == nil || !got.Equal(score) {
		t.Fatalf("weighted total = %v, want 90", got)
	}
}

func TestWeightedTotalScoreAllNull(t *testing.T) {
	weights := []*StandardWeight{
		{Weight: decimal.RequireFromString("60")},
		{Weight: decimal.RequireFromString("40")},
	}
	if got := weightedTotalScore(weights); got != nil {
		t.Fatalf("weighted total = %v, want nil when no section has a score", got)
	}
}

func TestFlatAuditTotal(t *testing.T) {
	// section A (weight 60): leaves scoring 100 and 60 -> 80
	// section B (weight 40): leaf scoring 80 -> 80
	// audit total: (80x60 + 80x40) / 100 = 80
	standards := []*Standard{
		newTestStandard(1, nil, false),
		newTestStandard(2, intPtr(1), true),
		newTestStandard(3, intPtr(1), true),
		newTestStandard(4, nil, false),
		newTestStandard(5, intPtr(4), true),
	}
	ix := newScoringIndex(standards, []*Evaluation{
		newTestEvaluation(2, "100", ComplianceStatusCompliant),
		newTestEvaluation(3, "60", ComplianceStatusPartial),
		newTestEvaluation(5, "80", ComplianceStatusPartial),
	})

	scoreA := ix.scoreOf(1)
	scoreB := ix.scoreOf(4)
	if scoreA == nil || !scoreA.Equal(decimal.RequireFromString("80")) {
		t.Fatalf("section A = %v, want 80", scoreA)
	}
	if scoreB == nil || !scoreB.Equal(decimal.RequireFromString("80")) {
		t.Fatalf("section B = %v, want 80", scoreB)
	}

	total := weightedTotalScore([]*StandardWeight{
		{StandardId: 1, Weight: decimal.RequireFromString("60"), CalculatedScore: scoreA},
		{StandardId: 4, Weight: decimal.RequireFromString("40"), CalculatedScore: scoreB},
	})
	if total == nil || !total.Equal(decimal.RequireFromString("80")) {
		t.Fatalf("audit total = %v, want 80", total)
	}
}

func TestMultilevelSectionScore(t *testing.T) {
	// section A: leaf A1 scores 100; branch A2 has leaves scoring 50 and 100.
	// A2 = 75, A = avg(100, 75) = 87.5
	ix := newScoringIndex(testHierarchy(), []*Evaluation{
		newTestEvaluation(2, "100", ComplianceStatusCompliant),
		newTestEvaluation(4, "50", ComplianceStatusPartial),
		newTestEvaluation(5, "100", ComplianceStatusCompliant),
	})

	branch := ix.scoreOf(3)
	if branch == nil || !branch.Equal(decimal.RequireFromString("75")) {
		t.Fatalf("branch = %v, want 75", branch)
	}
	section := ix.scoreOf(1)
	if section == nil || !section.Equal(decimal.RequireFromString("87.5")) {
		t.Fatalf("section = %v, want 87.5", section)
	}
}

func TestWeightedTotalScoreManualOverride(t *testing.T) {
	calculated := decimal.RequireFromString("40")
	manual := decimal.RequireFromString("100")
	weights := []*StandardWeight{
		{Weight: decimal.RequireFromString("50"), CalculatedScore: &calculated, ManualScore: &manual},
		{Weight: decimal.RequireFromString("50"), CalculatedScore: &calculated},
	}

	got := weightedTotalScore(weights)
	if got == nil || !got.Equal(decimal.RequireFromString("70")) {
		t.Fatalf("weighted total = %v, want 70 (manual score wins for its section)", got)
	}
}
