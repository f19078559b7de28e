package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/audits_backend/config"
	"bitbucket.org/mmdatafocus/audits_backend/utils"
)

// MaturityLevel is one rank of a framework's ordered maturity scale.
// Rank is a positive integer, strictly ordered within the framework.
type MaturityLevel struct {
	ID          int       `gorm:"primary_key" json:"id"`
	BusinessId  string    `gorm:"index;not null" json:"business_id" binding:"required"`
	FrameworkId int       `gorm:"index;not null" json:"framework_id" binding:"required"`
	Name        string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Rank        int       `gorm:"not null" json:"rank" binding:"required"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewMaturityLevel struct {
	FrameworkId int    `json:"framework_id" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Rank        int    `json:"rank" binding:"required"`
}

func (input *NewMaturityLevel) validate(ctx context.Context, businessId string) error {
	if input.Rank <= 0 {
		return errors.New("rank must be a positive integer")
	}
	if err := utils.ValidateResourceId[AuditFramework](ctx, businessId, input.FrameworkId); err != nil {
		return errors.New("framework not found")
	}
	count, err := utils.ResourceCountWhere[MaturityLevel](ctx, businessId, "framework_id = ? AND rank = ?", input.FrameworkId, input.Rank)
	if err != nil {
		return err
	}
	if count > 0 {
		return errors.New("duplicate rank")
	}
	return nil
}

func CreateMaturityLevel(ctx context.Context, input *NewMaturityLevel) (*MaturityLevel, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId); err != nil {
		return nil, err
	}

	db := config.GetDB()
	level := MaturityLevel{
		BusinessId:  businessId,
		FrameworkId: input.FrameworkId,
		Name:        input.Name,
		Rank:        input.Rank,
	}
	if err := db.WithContext(ctx).Create(&level).Error; err != nil {
		return nil, err
	}

	if err := config.RemoveRedisKey(maturityRankMapKey(businessId, input.FrameworkId)); err != nil {
		return nil, err
	}

	return &level, nil
}

// key is business-scoped for the same reason as standardsCacheScope
func maturityRankMapKey(businessId string, frameworkId int) string {
	return "maturityRankMap:" + businessId + ":" + fmt.Sprint(frameworkId)
}

// getMaturityRankMap retrieves levelId => rank for a framework, redis or db.
func getMaturityRankMap(ctx context.Context, businessId string, frameworkId int) (map[int]int, error) {
	ranks := make(map[int]int, 0) // levelId => rank
	redisKey := maturityRankMapKey(businessId, frameworkId)
	exists, err := config.GetRedisObject(redisKey, &ranks)
	if err != nil {
		return nil, err
	}
	if !exists {
		db := config.GetDB()
		var levels []*MaturityLevel
		if err := db.WithContext(ctx).
			Where("business_id = ? AND framework_id = ?", businessId, frameworkId).
			Find(&levels).Error; err != nil {
			return nil, err
		}

		for _, level := range levels {
			ranks[level.ID] = level.Rank
		}
		if err := config.SetRedisObject(redisKey, &ranks, 0); err != nil {
			return nil, err
		}
	}
	return ranks, nil
}
