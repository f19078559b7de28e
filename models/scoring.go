package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/audits_backend/config"
	"bitbucket.org/mmdatafocus/audits_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// scoringIndex is a pre-loaded, in-memory view of one audit's control
// hierarchy and evaluations. It is built once per recalculation pass and
// traversed without further storage round-trips. scoreOf results are memoized
// for the lifetime of the index, so shared sub-branches are computed once no
// matter how many top-level sections are refreshed in the pass.
type scoringIndex struct {
	standards   map[int]*Standard
	children    map[int][]*Standard
	evaluations map[int]*Evaluation
	memo        map[int]*decimal.Decimal
}

func newScoringIndex(standards []*Standard, evaluations []*Evaluation) *scoringIndex {
	ix := &scoringIndex{
		standards:   make(map[int]*Standard, len(standards)),
		children:    make(map[int][]*Standard),
		evaluations: make(map[int]*Evaluation, len(evaluations)),
		memo:        make(map[int]*decimal.Decimal),
	}
	for _, standard := range standards {
		ix.standards[standard.ID] = standard
		if standard.ParentId != nil {
			ix.children[*standard.ParentId] = append(ix.children[*standard.ParentId], standard)
		}
	}
	for _, evaluation := range evaluations {
		ix.evaluations[evaluation.StandardId] = evaluation
	}
	return ix
}

func (std *Standard) isLeaf() bool {
	return std.IsAuditable != nil && *std.IsAuditable
}

// scoreOf derives the score of one standard.
//
// A leaf contributes its evaluation score when one exists. A branch's score is
// the arithmetic mean of its children's non-null scores. Unevaluated children
// are excluded from the average rather than scored as zero, so a partially
// evaluated audit still reports a meaningful section score. Returns nil when
// the node has no evaluated descendants at all.
func (ix *scoringIndex) scoreOf(standardId int) *decimal.Decimal {
	if cached, ok := ix.memo[standardId]; ok {
		return cached
	}

	standard := ix.standards[standardId]
	if standard == nil {
		return nil
	}

	var result *decimal.Decimal
	if standard.isLeaf() {
		if evaluation := ix.evaluations[standardId]; evaluation != nil && evaluation.Score != nil {
			score := *evaluation.Score
			result = &score
		}
	} else {
		sum := decimal.Zero
		count := 0
		for _, child := range ix.children[standardId] {
			if childScore := ix.scoreOf(child.ID); childScore != nil {
				sum = sum.Add(*childScore)
				count++
			}
		}
		if count > 0 {
			avg := sum.Div(decimal.NewFromInt(int64(count))).Round(2)
			result = &avg
		}
	}

	ix.memo[standardId] = result
	return result
}

// a leaf counts as evaluated once it has a score or an explicit NA verdict
func (ev *Evaluation) isEvaluated() bool {
	return ev != nil && (ev.Score != nil || ev.ComplianceStatus == ComplianceStatusNotApplicable)
}

// countLeaves walks the subtree under standardId and returns the number of
// auditable leaves and how many of them have been evaluated.
func (ix *scoringIndex) countLeaves(standardId int) (total int, evaluated int) {
	standard := ix.standards[standardId]
	if standard == nil {
		return 0, 0
	}
	if standard.isLeaf() {
		total = 1
		if ix.evaluations[standardId].isEvaluated() {
			evaluated = 1
		}
		return total, evaluated
	}
	for _, child := range ix.children[standardId] {
		childTotal, childEvaluated := ix.countLeaves(child.ID)
		total += childTotal
		evaluated += childEvaluated
	}
	return total, evaluated
}

// complianceCounts tallies all auditable leaves of the hierarchy:
// evaluated leaves and leaves counting toward the compliance rate.
func (ix *scoringIndex) complianceCounts() (evaluated int, compliant int) {
	for id, standard := range ix.standards {
		if !standard.isLeaf() {
			continue
		}
		evaluation := ix.evaluations[id]
		if !evaluation.isEvaluated() {
			continue
		}
		evaluated++
		if evaluation.ComplianceStatus == ComplianceStatusCompliant ||
			evaluation.ComplianceStatus == ComplianceStatusNotApplicable {
			compliant++
		}
	}
	return evaluated, compliant
}

// FinalScore is the auditor override when present, the engine-derived score
// otherwise.
func (w *StandardWeight) FinalScore() *decimal.Decimal {
	if w.ManualScore != nil {
		return w.ManualScore
	}
	return w.CalculatedScore
}

// weightedTotalScore computes sum(finalScore_i x weight_i) / sum(weight_i)
// over rows whose finalScore is non-null. Sections with no assessable progress
// drop out of both numerator and denominator. Returns nil when every row is
// null.
func weightedTotalScore(weights []*StandardWeight) *decimal.Decimal {
	numerator := decimal.Zero
	denominator := decimal.Zero
	for _, weight := range weights {
		final := weight.FinalScore()
		if final == nil {
			continue
		}
		numerator = numerator.Add(final.Mul(weight.Weight))
		denominator = denominator.Add(weight.Weight)
	}
	if denominator.IsZero() {
		return nil
	}
	total := numerator.Div(denominator).Round(2)
	return &total
}

// advisory lock serializing the read-recompute-write chain per audit.
// GET_LOCK is connection-scoped, so this must be called on the same *gorm.DB
// that runs the recalculation transaction.
func acquireAuditScoringLock(tx *gorm.DB, auditId int) error {
	lockName := fmt.Sprintf("auditscoring:%d", auditId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return utils.ErrorRecalcInProgress
	}
	return nil
}

func releaseAuditScoringLock(tx *gorm.DB, auditId int) {
	lockName := fmt.Sprintf("auditscoring:%d", auditId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}

// runLockedScoringTx runs fn inside one transaction while holding the audit's
// advisory lock. GET_LOCK is session-scoped and survives COMMIT, so the
// release must run on the live transaction connection before it ends; the
// deferred release inside the closure fires before gorm commits or rolls back.
func runLockedScoringTx(ctx context.Context, db *gorm.DB, auditId int, fn func(tx *gorm.DB) error) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := acquireAuditScoringLock(tx.WithContext(ctx), auditId); err != nil {
			return err
		}
		defer releaseAuditScoringLock(tx.WithContext(ctx), auditId)

		return fn(tx)
	})
}

// recalculateAuditScoresTx refreshes every top-level StandardWeight row and
// the audit aggregate inside the caller's transaction. The caller must hold
// the audit scoring lock on the same connection. The audit struct is updated
// in place with the refreshed aggregate values.
func recalculateAuditScoresTx(ctx context.Context, tx *gorm.DB, audit *Audit) error {
	// one load per pass: hierarchy from the template cache, evaluations and
	// weight rows through the transaction so uncommitted writes are visible
	standards, err := ListStandards(ctx, audit.BusinessId, audit.FrameworkId)
	if err != nil {
		return err
	}
	var evaluations []*Evaluation
	if err := tx.WithContext(ctx).Where("audit_id = ?", audit.ID).Find(&evaluations).Error; err != nil {
		return err
	}
	var weights []*StandardWeight
	if err := tx.WithContext(ctx).Where("audit_id = ?", audit.ID).Order("standard_id").Find(&weights).Error; err != nil {
		return err
	}

	ix := newScoringIndex(standards, evaluations)

	for _, weight := range weights {
		calculated := ix.scoreOf(weight.StandardId)
		_, evaluated := ix.countLeaves(weight.StandardId)

		weight.CalculatedScore = calculated
		weight.EvaluatedControls = evaluated
		if err := tx.WithContext(ctx).Model(&StandardWeight{}).
			Where("id = ?", weight.ID).
			Updates(map[string]interface{}{
				"CalculatedScore":   calculated,
				"EvaluatedControls": evaluated,
			}).Error; err != nil {
			return err
		}
	}

	totalScore := weightedTotalScore(weights)
	evaluated, compliant := ix.complianceCounts()

	complianceRate := decimal.Zero
	if evaluated > 0 {
		complianceRate = decimal.NewFromInt(int64(compliant)).
			Div(decimal.NewFromInt(int64(evaluated))).
			Mul(decimal.NewFromInt(100)).Round(2)
	}

	audit.TotalScore = totalScore
	audit.ComplianceRate = complianceRate
	audit.EvaluatedControls = evaluated
	if err := tx.WithContext(ctx).Model(&Audit{}).
		Where("id = ?", audit.ID).
		Updates(map[string]interface{}{
			"TotalScore":        totalScore,
			"ComplianceRate":    complianceRate,
			"EvaluatedControls": evaluated,
		}).Error; err != nil {
		return err
	}

	return nil
}

// RecalculateAuditScores re-derives every section score and the audit
// aggregate from current evaluations. Also callable standalone, e.g. after
// hierarchy edits (StandardWeight.total_controls stays fixed from weight
// creation; only evaluated counts and scores are refreshed).
func RecalculateAuditScores(ctx context.Context, auditId int) (*Audit, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	audit, err := utils.FetchModel[Audit](ctx, businessId, auditId)
	if err != nil {
		return nil, err
	}

	lock, err := utils.ObtainAuditLock(ctx, auditId)
	if err != nil {
		return nil, err
	}
	defer utils.ReleaseAuditLock(ctx, lock)

	db := config.GetDB()
	err = runLockedScoringTx(ctx, db, auditId, func(tx *gorm.DB) error {
		if err := recalculateAuditScoresTx(ctx, tx, audit); err != nil {
			return err
		}
		return queueScoreRecord(ctx, tx, audit, time.Now().UTC())
	})
	if err != nil {
		return nil, err
	}

	return audit, nil
}
