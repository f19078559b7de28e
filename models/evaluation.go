package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/audits_backend/config"
	"bitbucket.org/mmdatafocus/audits_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Evaluation is the recorded assessment of one leaf control within one audit.
// Unique per (audit_id, standard_id); created on first assessment, mutated on
// every re-assessment, never deleted while the audit exists.
type Evaluation struct {
	ID               int              `gorm:"primary_key" json:"id"`
	BusinessId       string           `gorm:"index;not null" json:"business_id" binding:"required"`
	AuditId          int              `gorm:"uniqueIndex:unq_audit_standard;not null" json:"audit_id" binding:"required"`
	StandardId       int              `gorm:"uniqueIndex:unq_audit_standard;not null" json:"standard_id" binding:"required"`
	ExpectedLevelId  int              `gorm:"not null" json:"expected_level_id" binding:"required"`
	ObtainedLevelId  *int             `json:"obtained_level_id"`
	TargetLevelId    *int             `json:"target_level_id"`
	Score            *decimal.Decimal `gorm:"type:decimal(20,4)" json:"score"`
	Gap              *int             `json:"gap"`
	ComplianceStatus ComplianceStatus `gorm:"size:20;not null;default:'PENDING'" json:"compliance_status"`
	Evidence         string           `gorm:"type:text" json:"evidence"`
	Observations     string           `gorm:"type:text" json:"observations"`
	Recommendations  string           `gorm:"type:text" json:"recommendations"`
	ActionPlan       string           `gorm:"type:text" json:"action_plan"`
	EvaluatedBy      string           `gorm:"size:255" json:"evaluated_by"`
	EvaluatedAt      time.Time        `json:"evaluated_at"`
	CreatedAt        time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewEvaluation struct {
	AuditId          int               `json:"audit_id" binding:"required"`
	StandardId       int               `json:"standard_id" binding:"required"`
	ExpectedLevelId  int               `json:"expected_level_id" binding:"required"`
	ObtainedLevelId  *int              `json:"obtained_level_id"`
	TargetLevelId    *int              `json:"target_level_id"`
	StatusOverride   *ComplianceStatus `json:"status_override"`
	Evidence         string            `json:"evidence"`
	Observations     string            `json:"observations"`
	Recommendations  string            `json:"recommendations"`
	ActionPlan       string            `json:"action_plan"`
}

// computeLeafScore returns (obtained / expected) x 100 rounded to 2 places.
// Deliberately not capped at 100: exceeding the expected maturity is
// representable as over-achievement.
func computeLeafScore(expectedRank, obtainedRank int) decimal.Decimal {
	return decimal.NewFromInt(int64(obtainedRank)).
		Div(decimal.NewFromInt(int64(expectedRank))).
		Mul(decimal.NewFromInt(100)).Round(2)
}

// deriveComplianceStatus buckets a leaf score:
// score >= 100 COMPLIANT, 0 < score < 100 PARTIAL, score == 0 NON_COMPLIANT,
// no obtained level yet PENDING.
func deriveComplianceStatus(score *decimal.Decimal) ComplianceStatus {
	if score == nil {
		return ComplianceStatusPending
	}
	hundred := decimal.NewFromInt(100)
	switch {
	case score.GreaterThanOrEqual(hundred):
		return ComplianceStatusCompliant
	case score.IsPositive():
		return ComplianceStatusPartial
	default:
		return ComplianceStatusNonCompliant
	}
}

func (input *NewEvaluation) validate(ctx context.Context, businessId string, audit *Audit, standard *Standard, ranks map[int]int) error {
	if !audit.CurrentStatus.CanSubmitEvaluations() {
		return errors.New("evaluations can only be submitted while the audit is draft or in progress")
	}
	if standard.FrameworkId != audit.FrameworkId {
		return errors.New("standard does not belong to the audit's framework")
	}
	if !standard.isLeaf() {
		return errors.New("only leaf controls can be evaluated")
	}
	if _, ok := ranks[input.ExpectedLevelId]; !ok {
		return errors.New("expected maturity level not found")
	}
	if input.ObtainedLevelId != nil {
		if _, ok := ranks[*input.ObtainedLevelId]; !ok {
			return errors.New("obtained maturity level not found")
		}
	}
	if input.TargetLevelId != nil {
		if _, ok := ranks[*input.TargetLevelId]; !ok {
			return errors.New("target maturity level not found")
		}
	}
	return nil
}

// SubmitEvaluation upserts the (audit, standard) evaluation, derives its
// score, gap and compliance status, then re-derives the owning section score
// and the audit aggregate — one atomic unit of work; any failure rolls back
// the whole chain leaving prior scores intact.
func SubmitEvaluation(ctx context.Context, input *NewEvaluation) (*Evaluation, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	audit, err := utils.FetchModel[Audit](ctx, businessId, input.AuditId)
	if err != nil {
		return nil, errors.New("audit not found")
	}
	standard, err := utils.FetchModel[Standard](ctx, businessId, input.StandardId)
	if err != nil {
		return nil, errors.New("standard not found")
	}
	ranks, err := getMaturityRankMap(ctx, businessId, audit.FrameworkId)
	if err != nil {
		return nil, err
	}

	if err := input.validate(ctx, businessId, audit, standard, ranks); err != nil {
		return nil, err
	}

	// derive score, gap and status before any write
	var score *decimal.Decimal
	var gap *int
	var status ComplianceStatus

	notApplicable := input.StatusOverride != nil && *input.StatusOverride == ComplianceStatusNotApplicable
	if notApplicable {
		// explicit NA bypasses scoring entirely
		status = ComplianceStatusNotApplicable
	} else {
		if input.ObtainedLevelId != nil {
			s := computeLeafScore(ranks[input.ExpectedLevelId], ranks[*input.ObtainedLevelId])
			score = &s
			if input.TargetLevelId != nil {
				g := ranks[*input.TargetLevelId] - ranks[*input.ObtainedLevelId]
				gap = &g
			}
		}
		if input.StatusOverride != nil {
			status = *input.StatusOverride
		} else {
			status = deriveComplianceStatus(score)
		}
	}

	userName, _ := utils.GetUserNameFromContext(ctx)

	// cross-instance guard; the advisory lock below is the real boundary
	lock, err := utils.ObtainAuditLock(ctx, input.AuditId)
	if err != nil {
		return nil, err
	}
	defer utils.ReleaseAuditLock(ctx, lock)

	db := config.GetDB()
	var evaluation Evaluation
	err = runLockedScoringTx(ctx, db, input.AuditId, func(tx *gorm.DB) error {
		// upsert by (audit_id, standard_id); duplicate submissions mutate the
		// existing record instead of surfacing a conflict
		err := tx.WithContext(ctx).
			Where("audit_id = ? AND standard_id = ?", input.AuditId, input.StandardId).
			First(&evaluation).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		evaluatedAt := time.Now().UTC()
		if evaluation.ID == 0 {
			evaluation = Evaluation{
				BusinessId:       businessId,
				AuditId:          input.AuditId,
				StandardId:       input.StandardId,
				ExpectedLevelId:  input.ExpectedLevelId,
				ObtainedLevelId:  input.ObtainedLevelId,
				TargetLevelId:    input.TargetLevelId,
				Score:            score,
				Gap:              gap,
				ComplianceStatus: status,
				Evidence:         input.Evidence,
				Observations:     input.Observations,
				Recommendations:  input.Recommendations,
				ActionPlan:       input.ActionPlan,
				EvaluatedBy:      userName,
				EvaluatedAt:      evaluatedAt,
			}
			if err := tx.WithContext(ctx).Create(&evaluation).Error; err != nil {
				return err
			}
		} else {
			evaluation.ExpectedLevelId = input.ExpectedLevelId
			evaluation.ObtainedLevelId = input.ObtainedLevelId
			evaluation.TargetLevelId = input.TargetLevelId
			evaluation.Score = score
			evaluation.Gap = gap
			evaluation.ComplianceStatus = status
			evaluation.Evidence = input.Evidence
			evaluation.Observations = input.Observations
			evaluation.Recommendations = input.Recommendations
			evaluation.ActionPlan = input.ActionPlan
			evaluation.EvaluatedBy = userName
			evaluation.EvaluatedAt = evaluatedAt
			if err := tx.WithContext(ctx).Model(&evaluation).Updates(map[string]interface{}{
				"ExpectedLevelId":  evaluation.ExpectedLevelId,
				"ObtainedLevelId":  evaluation.ObtainedLevelId,
				"TargetLevelId":    evaluation.TargetLevelId,
				"Score":            evaluation.Score,
				"Gap":              evaluation.Gap,
				"ComplianceStatus": evaluation.ComplianceStatus,
				"Evidence":         evaluation.Evidence,
				"Observations":     evaluation.Observations,
				"Recommendations":  evaluation.Recommendations,
				"ActionPlan":       evaluation.ActionPlan,
				"EvaluatedBy":      evaluation.EvaluatedBy,
				"EvaluatedAt":      evaluation.EvaluatedAt,
			}).Error; err != nil {
				return err
			}
		}

		// leaf write done; walk the derived scores up to the audit aggregate
		if err := recalculateAuditScoresTx(ctx, tx, audit); err != nil {
			return err
		}
		return queueScoreRecord(ctx, tx, audit, evaluatedAt)
	})
	if err != nil {
		return nil, err
	}

	return &evaluation, nil
}

// ListEvaluations returns all evaluations of one audit.
func ListEvaluations(ctx context.Context, auditId int) ([]*Evaluation, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := utils.ValidateResourceId[Audit](ctx, businessId, auditId); err != nil {
		return nil, errors.New("audit not found")
	}

	db := config.GetDB()
	var evaluations []*Evaluation
	if err := db.WithContext(ctx).
		Where("business_id = ? AND audit_id = ?", businessId, auditId).
		Order("standard_id").
		Find(&evaluations).Error; err != nil {
		return nil, err
	}
	return evaluations, nil
}
