package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/audits_backend/config"
	"bitbucket.org/mmdatafocus/audits_backend/utils"
)

// Standard is one node of a framework's control hierarchy.
// ParentId = nil marks a top-level section; only top-level sections carry a
// StandardWeight. IsAuditable marks a leaf control, the only kind that can be
// evaluated directly.
type Standard struct {
	ID          int       `gorm:"primary_key" json:"id"`
	BusinessId  string    `gorm:"index;not null" json:"business_id" binding:"required"`
	FrameworkId int       `gorm:"index;not null" json:"framework_id" binding:"required"`
	ParentId    *int      `gorm:"index" json:"parent_id"`
	Code        string    `gorm:"size:50;not null" json:"code" binding:"required"`
	Name        string    `gorm:"size:255;not null" json:"name" binding:"required"`
	Description string    `gorm:"type:text" json:"description"`
	IsAuditable *bool     `gorm:"not null;default:false" json:"is_auditable"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewStandard struct {
	FrameworkId int    `json:"framework_id" binding:"required"`
	ParentId    *int   `json:"parent_id"`
	Code        string `json:"code" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	IsAuditable *bool  `json:"is_auditable" binding:"required"`
}

func (input *NewStandard) validate(ctx context.Context, businessId string) error {
	if err := utils.ValidateResourceId[AuditFramework](ctx, businessId, input.FrameworkId); err != nil {
		return errors.New("framework not found")
	}
	if input.ParentId != nil {
		count, err := utils.ResourceCountWhere[Standard](ctx, businessId, "id = ? AND framework_id = ?", *input.ParentId, input.FrameworkId)
		if err != nil {
			return err
		}
		if count == 0 {
			return errors.New("parent standard not found")
		}
	}
	count, err := utils.ResourceCountWhere[Standard](ctx, businessId, "framework_id = ? AND code = ?", input.FrameworkId, input.Code)
	if err != nil {
		return err
	}
	if count > 0 {
		return errors.New("duplicate code")
	}
	return nil
}

func CreateStandard(ctx context.Context, input *NewStandard) (*Standard, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId); err != nil {
		return nil, err
	}

	isAuditable := input.IsAuditable != nil && *input.IsAuditable

	db := config.GetDB()
	standard := Standard{
		BusinessId:  businessId,
		FrameworkId: input.FrameworkId,
		ParentId:    input.ParentId,
		Code:        input.Code,
		Name:        input.Name,
		Description: input.Description,
		IsAuditable: &isAuditable,
	}
	if err := db.WithContext(ctx).Create(&standard).Error; err != nil {
		return nil, err
	}

	// template changed; cached hierarchy is stale
	if err := utils.RemoveRedisList[Standard](standardsCacheScope(businessId, input.FrameworkId)); err != nil {
		return nil, err
	}

	return &standard, nil
}

// cache keys carry the business id so one tenant's hierarchy can never be
// served to another tenant asking for the same framework id
func standardsCacheScope(businessId string, frameworkId int) string {
	return businessId + ":" + fmt.Sprint(frameworkId)
}

func GetStandard(ctx context.Context, id int) (*Standard, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	standard, err := utils.FetchModel[Standard](ctx, businessId, id)
	if err != nil {
		return nil, err
	}
	return standard, nil
}

// ListStandards returns the full control hierarchy of one framework,
// redis or db, cache result.
func ListStandards(ctx context.Context, businessId string, frameworkId int) ([]*Standard, error) {
	scope := standardsCacheScope(businessId, frameworkId)

	results, err := utils.RetrieveRedisList[Standard](scope)
	if err != nil {
		return nil, err
	}
	if results == nil {
		db := config.GetDB()
		if err := db.WithContext(ctx).
			Where("business_id = ? AND framework_id = ?", businessId, frameworkId).
			Order("id").
			Find(&results).Error; err != nil {
			return nil, err
		}

		if err := utils.StoreRedisList[Standard](results, scope); err != nil {
			return nil, err
		}
	}

	return results, nil
}
