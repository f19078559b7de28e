package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/audits_backend/config"
	"bitbucket.org/mmdatafocus/audits_backend/utils"
)

// AuditFramework is a control-catalog template (e.g. an ISO-style catalog).
// Audits reference a framework and read its standards + maturity levels.
type AuditFramework struct {
	ID          int       `gorm:"primary_key" json:"id"`
	BusinessId  string    `gorm:"index;not null" json:"business_id" binding:"required"`
	Name        string    `gorm:"size:255;not null" json:"name" binding:"required"`
	Description string    `gorm:"type:text" json:"description"`
	IsActive    *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewAuditFramework struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

func (input *NewAuditFramework) validate(ctx context.Context, businessId string, id int) error {
	if err := utils.ValidateUnique[AuditFramework](ctx, businessId, "name", input.Name, id); err != nil {
		return err
	}
	return nil
}

func CreateAuditFramework(ctx context.Context, input *NewAuditFramework) (*AuditFramework, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId, 0); err != nil {
		return nil, err
	}

	db := config.GetDB()
	framework := AuditFramework{
		BusinessId:  businessId,
		Name:        input.Name,
		Description: input.Description,
		IsActive:    utils.NewTrue(),
	}
	if err := db.WithContext(ctx).Create(&framework).Error; err != nil {
		return nil, err
	}

	return &framework, nil
}

func GetAuditFramework(ctx context.Context, id int) (*AuditFramework, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	framework, err := utils.FetchModel[AuditFramework](ctx, businessId, id)
	if err != nil {
		return nil, err
	}
	return framework, nil
}
