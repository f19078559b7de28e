package models

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/audits_backend/config"
	"bitbucket.org/mmdatafocus/audits_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AuditScoreRecord implements the transactional outbox for score-change
// events: the row is written inside the caller's DB transaction but is NOT
// published to Pub/Sub. Publishing is performed asynchronously by the outbox
// dispatcher after commit.
type AuditScoreRecord struct {
	ID               int                 `gorm:"primary_key" json:"id"`
	BusinessId       string              `gorm:"index;not null" json:"business_id"`
	AuditId          int                 `gorm:"index;not null" json:"audit_id"`
	TotalScore       *decimal.Decimal    `gorm:"type:decimal(20,4)" json:"total_score"`
	RecalculatedAt   time.Time           `gorm:"not null" json:"recalculated_at"`
	PublishStatus    OutboxPublishStatus `gorm:"size:20;not null;default:'PENDING'" json:"publish_status"`
	PublishAttempts  int                 `gorm:"not null;default:0" json:"publish_attempts"`
	LastPublishError *string             `gorm:"type:text" json:"last_publish_error"`
	PublishedAt      *time.Time          `json:"published_at"`
	CorrelationId    string              `gorm:"size:64" json:"correlation_id"`
	CreatedAt        time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

// queueScoreRecord writes the outbox row inside the caller's transaction.
func queueScoreRecord(ctx context.Context, tx *gorm.DB, audit *Audit, recalculatedAt time.Time) error {
	record := AuditScoreRecord{
		BusinessId:     audit.BusinessId,
		AuditId:        audit.ID,
		TotalScore:     audit.TotalScore,
		RecalculatedAt: recalculatedAt,
		PublishStatus:  OutboxPublishStatusPending,
		CorrelationId:  correlationIdFromContextOrNew(ctx),
	}
	return tx.WithContext(ctx).Create(&record).Error
}

// FetchPendingScoreRecords returns the oldest unpublished rows, bounded.
func FetchPendingScoreRecords(ctx context.Context, limit int) ([]*AuditScoreRecord, error) {
	db := config.GetDB()
	var records []*AuditScoreRecord
	if err := db.WithContext(ctx).
		Where("publish_status IN ?", []OutboxPublishStatus{OutboxPublishStatusPending, OutboxPublishStatusFailed}).
		Order("id").
		Limit(limit).
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// MarkScoreRecordPublished stamps a row as sent.
func MarkScoreRecordPublished(ctx context.Context, id int) error {
	db := config.GetDB()
	now := time.Now().UTC()
	return db.WithContext(ctx).Model(&AuditScoreRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"PublishStatus": OutboxPublishStatusSent,
			"PublishedAt":   &now,
		}).Error
}

// CountScoreRecordsByStatus reports outbox backlog per publish status.
func CountScoreRecordsByStatus(ctx context.Context) (map[OutboxPublishStatus]int64, error) {
	db := config.GetDB()
	var rows []struct {
		PublishStatus OutboxPublishStatus
		Total         int64
	}
	if err := db.WithContext(ctx).Model(&AuditScoreRecord{}).
		Select("publish_status, COUNT(*) AS total").
		Group("publish_status").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[OutboxPublishStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.PublishStatus] = row.Total
	}
	return counts, nil
}

// MarkScoreRecordFailed bumps the attempt counter; rows past maxAttempts are
// dead-lettered and skipped by the dispatcher.
func MarkScoreRecordFailed(ctx context.Context, record *AuditScoreRecord, publishErr error, maxAttempts int) error {
	db := config.GetDB()
	attempts := record.PublishAttempts + 1
	status := OutboxPublishStatusFailed
	if attempts >= maxAttempts {
		status = OutboxPublishStatusDead
	}
	msg := publishErr.Error()
	return db.WithContext(ctx).Model(&AuditScoreRecord{}).
		Where("id = ?", record.ID).
		Updates(map[string]interface{}{
			"PublishStatus":    status,
			"PublishAttempts":  attempts,
			"LastPublishError": &msg,
		}).Error
}
