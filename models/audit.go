package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/audits_backend/config"
	"bitbucket.org/mmdatafocus/audits_backend/utils"
	"github.com/shopspring/decimal"
)

// Audit is one assessment of an organization against a framework. The summary
// fields (total_score, compliance_rate, control counts) are engine-derived and
// refreshed after every mutation; current_status is workflow state, orthogonal
// to scoring.
type Audit struct {
	ID                int              `gorm:"primary_key" json:"id"`
	BusinessId        string           `gorm:"index;not null" json:"business_id" binding:"required"`
	FrameworkId       int              `gorm:"index;not null" json:"framework_id" binding:"required"`
	Name              string           `gorm:"size:255;not null" json:"name" binding:"required"`
	StartDate         time.Time        `gorm:"not null" json:"start_date" binding:"required"`
	EndDate           time.Time        `gorm:"not null" json:"end_date" binding:"required"`
	CurrentStatus     AuditStatus      `gorm:"size:20;not null;default:'draft'" json:"current_status"`
	TotalScore        *decimal.Decimal `gorm:"type:decimal(20,4)" json:"total_score"`
	ComplianceRate    decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"compliance_rate"`
	TotalControls     int              `gorm:"not null;default:0" json:"total_controls"`
	EvaluatedControls int              `gorm:"not null;default:0" json:"evaluated_controls"`
	CreatedAt         time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewAudit struct {
	FrameworkId int       `json:"framework_id" binding:"required"`
	Name        string    `json:"name" binding:"required"`
	StartDate   time.Time `json:"start_date" binding:"required"`
	EndDate     time.Time `json:"end_date" binding:"required"`
}

func (input *NewAudit) validate(ctx context.Context, businessId string) error {
	if err := utils.ValidateResourceId[AuditFramework](ctx, businessId, input.FrameworkId); err != nil {
		return errors.New("framework not found")
	}
	if !input.EndDate.After(input.StartDate) {
		return errors.New("end date must be after start date")
	}
	return nil
}

// evenWeightSplit spreads 100 across n sections; the remainder after rounding
// lands on the first section so the sum is exactly 100.
func evenWeightSplit(n int) []decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	share := hundred.Div(decimal.NewFromInt(int64(n))).Round(2)
	weights := make([]decimal.Decimal, n)
	rest := hundred
	for i := 1; i < n; i++ {
		weights[i] = share
		rest = rest.Sub(share)
	}
	weights[0] = rest
	return weights
}

// CreateAudit snapshots the framework's leaf count and seeds one StandardWeight
// row per top-level section with an even default split.
func CreateAudit(ctx context.Context, input *NewAudit) (*Audit, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId); err != nil {
		return nil, err
	}

	standards, err := ListStandards(ctx, businessId, input.FrameworkId)
	if err != nil {
		return nil, err
	}
	var sections []*Standard
	totalControls := 0
	for _, standard := range standards {
		if standard.ParentId == nil {
			sections = append(sections, standard)
		}
		if standard.isLeaf() {
			totalControls++
		}
	}
	if len(sections) == 0 {
		return nil, errors.New("framework has no top-level sections")
	}

	ix := newScoringIndex(standards, nil)
	split := evenWeightSplit(len(sections))

	audit := Audit{
		BusinessId:    businessId,
		FrameworkId:   input.FrameworkId,
		Name:          input.Name,
		StartDate:     input.StartDate,
		EndDate:       input.EndDate,
		CurrentStatus: AuditStatusDraft,
		TotalControls: totalControls,
	}

	db := config.GetDB()
	tx := db.Begin()

	if err := tx.WithContext(ctx).Create(&audit).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	for i, section := range sections {
		sectionControls, _ := ix.countLeaves(section.ID)
		weight := StandardWeight{
			BusinessId:    businessId,
			AuditId:       audit.ID,
			StandardId:    section.ID,
			Weight:        split[i],
			TotalControls: sectionControls,
		}
		if err := tx.WithContext(ctx).Create(&weight).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	return &audit, nil
}

type NewAuditStatus struct {
	Status AuditStatus `json:"status" binding:"required"`
}

// UpdateAuditStatus applies a workflow transition. The scoring engine never
// changes status; this is the only path.
func UpdateAuditStatus(ctx context.Context, id int, input *NewAuditStatus) (*Audit, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	audit, err := utils.FetchModel[Audit](ctx, businessId, id)
	if err != nil {
		return nil, err
	}
	if !audit.CurrentStatus.CanTransitionTo(input.Status) {
		return nil, errors.New("cannot transition audit from " + string(audit.CurrentStatus) + " to " + string(input.Status))
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(&audit).Updates(map[string]interface{}{
		"CurrentStatus": input.Status,
	}).Error; err != nil {
		return nil, err
	}
	audit.CurrentStatus = input.Status

	return audit, nil
}

func GetAudit(ctx context.Context, id int) (*Audit, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	audit, err := utils.FetchModel[Audit](ctx, businessId, id)
	if err != nil {
		return nil, err
	}
	return audit, nil
}
