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

// StandardWeight holds the configured weight and derived score of one
// top-level section within one audit. Unique per (audit_id, standard_id).
type StandardWeight struct {
	ID                       int              `gorm:"primary_key" json:"id"`
	BusinessId               string           `gorm:"index;not null" json:"business_id" binding:"required"`
	AuditId                  int              `gorm:"uniqueIndex:unq_audit_section;not null" json:"audit_id" binding:"required"`
	StandardId               int              `gorm:"uniqueIndex:unq_audit_section;not null" json:"standard_id" binding:"required"`
	Weight                   decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"weight"`
	CalculatedScore          *decimal.Decimal `gorm:"type:decimal(20,4)" json:"calculated_score"`
	ManualScore              *decimal.Decimal `gorm:"type:decimal(20,4)" json:"manual_score"`
	ManualScoreJustification string           `gorm:"type:text" json:"manual_score_justification"`
	TotalControls            int              `gorm:"not null;default:0" json:"total_controls"`
	EvaluatedControls        int              `gorm:"not null;default:0" json:"evaluated_controls"`
	CreatedAt                time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type WeightEntry struct {
	StandardId int             `json:"standard_id" binding:"required"`
	Weight     decimal.Decimal `json:"weight"`
}

var weightSumTolerance = decimal.NewFromFloat(0.01)

// validateWeightSum requires the entries to sum to 100 within 0.01.
func validateWeightSum(entries []*WeightEntry) error {
	sum := decimal.Zero
	for _, entry := range entries {
		if entry.Weight.IsNegative() {
			return errors.New("weight cannot be negative")
		}
		sum = sum.Add(entry.Weight)
	}
	if sum.Sub(decimal.NewFromInt(100)).Abs().GreaterThan(weightSumTolerance) {
		return errors.New("weights must sum to 100, got " + sum.String())
	}
	return nil
}

// SetWeights replaces the weight configuration of an audit in bulk. Validation
// happens before any write: a bad entry set leaves prior weights unchanged.
func SetWeights(ctx context.Context, auditId int, entries []*WeightEntry) ([]*StandardWeight, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	audit, err := utils.FetchModel[Audit](ctx, businessId, auditId)
	if err != nil {
		return nil, errors.New("audit not found")
	}
	if len(entries) == 0 {
		return nil, errors.New("at least one weight entry is required")
	}
	if err := validateWeightSum(entries); err != nil {
		return nil, err
	}

	// every entry must point at a top-level section of the audit's framework
	standardIds := make([]int, 0, len(entries))
	for _, entry := range entries {
		standardIds = append(standardIds, entry.StandardId)
	}
	if err := utils.MassValidateResourceIds(ctx, []utils.ValidationRule[int]{
		{
			Model:   Standard{},
			Ids:     standardIds,
			Message: "weights can only be configured on top-level sections",
			Filter: utils.Filter{
				Cond:   "parent_id IS NULL AND framework_id = ? AND business_id = ?",
				Values: []interface{}{audit.FrameworkId, businessId},
			},
		},
	}); err != nil {
		return nil, err
	}

	if len(utils.UniqueSlice(standardIds)) != len(standardIds) {
		return nil, errors.New("duplicate standard in weight entries")
	}

	standards, err := ListStandards(ctx, businessId, audit.FrameworkId)
	if err != nil {
		return nil, err
	}
	sectionCount := 0
	for _, standard := range standards {
		if standard.ParentId == nil {
			sectionCount++
		}
	}
	// the 100-sum invariant only holds if every section is covered
	if len(entries) != sectionCount {
		return nil, errors.New("weight entries must cover every top-level section")
	}
	ix := newScoringIndex(standards, nil)

	// weight replacement mutates the same rows the engine reads; serialize
	// against concurrent evaluation submissions
	lock, err := utils.ObtainAuditLock(ctx, auditId)
	if err != nil {
		return nil, err
	}
	defer utils.ReleaseAuditLock(ctx, lock)

	db := config.GetDB()
	err = runLockedScoringTx(ctx, db, auditId, func(tx *gorm.DB) error {
		for _, entry := range entries {
			var existing StandardWeight
			err := tx.WithContext(ctx).
				Where("audit_id = ? AND standard_id = ?", auditId, entry.StandardId).
				First(&existing).Error
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}

			if existing.ID == 0 {
				// total_controls is counted once at creation and not re-derived
				// when the hierarchy changes later
				totalControls, _ := ix.countLeaves(entry.StandardId)
				record := StandardWeight{
					BusinessId:    businessId,
					AuditId:       auditId,
					StandardId:    entry.StandardId,
					Weight:        entry.Weight,
					TotalControls: totalControls,
				}
				if err := tx.WithContext(ctx).Create(&record).Error; err != nil {
					return err
				}
			} else {
				if err := tx.WithContext(ctx).Model(&existing).Updates(map[string]interface{}{
					"Weight": entry.Weight,
				}).Error; err != nil {
					return err
				}
			}
		}

		// weights feed the weighted total; refresh the aggregate in the same unit
		if err := recalculateAuditScoresTx(ctx, tx, audit); err != nil {
			return err
		}
		return queueScoreRecord(ctx, tx, audit, time.Now().UTC())
	})
	if err != nil {
		return nil, err
	}

	var weights []*StandardWeight
	if err := db.WithContext(ctx).
		Where("business_id = ? AND audit_id = ?", businessId, auditId).
		Order("standard_id").
		Find(&weights).Error; err != nil {
		return nil, err
	}
	return weights, nil
}

type NewManualScore struct {
	ManualScore   *decimal.Decimal `json:"manual_score"`
	Justification string           `json:"justification"`
}

// SetManualScore records (or clears, when manualScore is nil) an auditor
// override for one section. finalScore = manualScore ?? calculatedScore.
func SetManualScore(ctx context.Context, auditId int, standardId int, input *NewManualScore) (*StandardWeight, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	audit, err := utils.FetchModel[Audit](ctx, businessId, auditId)
	if err != nil {
		return nil, errors.New("audit not found")
	}
	if input.ManualScore != nil && input.Justification == "" {
		return nil, errors.New("justification is required when setting a manual score")
	}
	if input.ManualScore != nil && input.ManualScore.IsNegative() {
		return nil, errors.New("manual score cannot be negative")
	}

	lock, err := utils.ObtainAuditLock(ctx, auditId)
	if err != nil {
		return nil, err
	}
	defer utils.ReleaseAuditLock(ctx, lock)

	db := config.GetDB()
	var weight StandardWeight
	err = runLockedScoringTx(ctx, db, auditId, func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).
			Where("business_id = ? AND audit_id = ? AND standard_id = ?", businessId, auditId, standardId).
			First(&weight).Error; err != nil {
			return errors.New("standard weight not found")
		}

		justification := input.Justification
		if input.ManualScore == nil {
			justification = ""
		}
		if err := tx.WithContext(ctx).Model(&weight).Updates(map[string]interface{}{
			"ManualScore":              input.ManualScore,
			"ManualScoreJustification": justification,
		}).Error; err != nil {
			return err
		}
		weight.ManualScore = input.ManualScore
		weight.ManualScoreJustification = justification

		if err := recalculateAuditScoresTx(ctx, tx, audit); err != nil {
			return err
		}
		return queueScoreRecord(ctx, tx, audit, time.Now().UTC())
	})
	if err != nil {
		return nil, err
	}

	return &weight, nil
}

// SectionProgress is the per-section progress view of one audit.
type SectionProgress struct {
	StandardId        int              `json:"standard_id"`
	Code              string           `json:"code"`
	Name              string           `json:"name"`
	Weight            decimal.Decimal  `json:"weight"`
	FinalScore        *decimal.Decimal `json:"final_score"`
	EvaluatedControls int              `json:"evaluated_controls"`
	TotalControls     int              `json:"total_controls"`
	ProgressPct       decimal.Decimal  `json:"progress_pct"`
}

func sectionProgressOf(weight *StandardWeight, standard *Standard) *SectionProgress {
	progress := decimal.Zero
	if weight.TotalControls > 0 {
		progress = decimal.NewFromInt(int64(weight.EvaluatedControls)).
			Div(decimal.NewFromInt(int64(weight.TotalControls))).
			Mul(decimal.NewFromInt(100)).Round(2)
	}
	row := &SectionProgress{
		StandardId:        weight.StandardId,
		Weight:            weight.Weight,
		FinalScore:        weight.FinalScore(),
		EvaluatedControls: weight.EvaluatedControls,
		TotalControls:     weight.TotalControls,
		ProgressPct:       progress,
	}
	if standard != nil {
		row.Code = standard.Code
		row.Name = standard.Name
	}
	return row
}

// GetSectionProgress reports weight, final score and evaluation progress for
// every top-level section of an audit.
func GetSectionProgress(ctx context.Context, auditId int) ([]*SectionProgress, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	audit, err := utils.FetchModel[Audit](ctx, businessId, auditId)
	if err != nil {
		return nil, errors.New("audit not found")
	}
	standards, err := ListStandards(ctx, businessId, audit.FrameworkId)
	if err != nil {
		return nil, err
	}
	standardsById := make(map[int]*Standard, len(standards))
	for _, standard := range standards {
		standardsById[standard.ID] = standard
	}

	db := config.GetDB()
	var weights []*StandardWeight
	if err := db.WithContext(ctx).
		Where("business_id = ? AND audit_id = ?", businessId, auditId).
		Order("standard_id").
		Find(&weights).Error; err != nil {
		return nil, err
	}

	rows := make([]*SectionProgress, 0, len(weights))
	for _, weight := range weights {
		rows = append(rows, sectionProgressOf(weight, standardsById[weight.StandardId]))
	}
	return rows, nil
}
