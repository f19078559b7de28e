package workflow

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/audits_backend/config"
	"bitbucket.org/mmdatafocus/audits_backend/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// OutboxDispatcher publishes committed AuditScoreRecord rows to Pub/Sub.
// Publishing happens strictly AFTER the scoring transaction commits; a crash
// between commit and publish means the row stays PENDING and is retried.
type OutboxDispatcher struct {
	DB           *gorm.DB
	Logger       *logrus.Logger
	DispatcherID string

	BatchSize    int
	PollInterval time.Duration
	MaxAttempts  int
}

func NewOutboxDispatcher(db *gorm.DB, logger *logrus.Logger) *OutboxDispatcher {
	return &OutboxDispatcher{
		DB:           db,
		Logger:       logger,
		DispatcherID: uuid.NewString(),
		BatchSize:    50,
		PollInterval: 500 * time.Millisecond,
		MaxAttempts:  20,
	}
}

func (d *OutboxDispatcher) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.dispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

func (d *OutboxDispatcher) dispatchOnce(ctx context.Context) {
	if d.DB == nil {
		return
	}

	records, err := models.FetchPendingScoreRecords(ctx, d.BatchSize)
	if err != nil {
		d.Logger.WithFields(logrus.Fields{
			"field":         "outboxDispatcher",
			"dispatcher_id": d.DispatcherID,
		}).Error("failed to fetch pending score records: " + err.Error())
		return
	}

	for _, record := range records {
		totalScore := ""
		if record.TotalScore != nil {
			totalScore = record.TotalScore.String()
		}
		msg := config.PubSubMessage{
			ID:             record.ID,
			BusinessId:     record.BusinessId,
			AuditId:        record.AuditId,
			RecalculatedAt: record.RecalculatedAt,
			TotalScore:     totalScore,
			CorrelationId:  record.CorrelationId,
		}

		publishCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		_, pubErr := config.PublishScoreEventWithResult(publishCtx, msg)
		cancel()

		if pubErr != nil {
			d.Logger.WithFields(logrus.Fields{
				"field":          "outboxDispatcher",
				"dispatcher_id":  d.DispatcherID,
				"record_id":      record.ID,
				"audit_id":       record.AuditId,
				"business_id":    record.BusinessId,
				"correlation_id": record.CorrelationId,
			}).Error("failed to publish score record: " + pubErr.Error())
			if err := models.MarkScoreRecordFailed(ctx, record, pubErr, d.MaxAttempts); err != nil {
				d.Logger.WithFields(logrus.Fields{
					"field":     "outboxDispatcher",
					"record_id": record.ID,
				}).Error("failed to mark score record failed: " + err.Error())
			}
			continue
		}

		if err := models.MarkScoreRecordPublished(ctx, record.ID); err != nil {
			// Row stays PENDING and the event may publish again; consumers
			// must treat score events as idempotent snapshots.
			d.Logger.WithFields(logrus.Fields{
				"field":     "outboxDispatcher",
				"record_id": record.ID,
			}).Error("failed to mark score record published: " + err.Error())
		}
	}
}
