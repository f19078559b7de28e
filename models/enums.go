package models

import "errors"

type ComplianceStatus string

const (
	ComplianceStatusPending       ComplianceStatus = "PENDING"
	ComplianceStatusPartial       ComplianceStatus = "PARTIAL"
	ComplianceStatusCompliant     ComplianceStatus = "COMPLIANT"
	ComplianceStatusNonCompliant  ComplianceStatus = "NON_COMPLIANT"
	ComplianceStatusNotApplicable ComplianceStatus = "NOT_APPLICABLE"
)

func (s *ComplianceStatus) UnmarshalJSON(b []byte) error {
	str := string(b)
	if len(str) >= 2 && str[0] == '"' {
		str = str[1 : len(str)-1]
	}
	switch str {
	case "PENDING":
		*s = ComplianceStatusPending
	case "PARTIAL":
		*s = ComplianceStatusPartial
	case "COMPLIANT":
		*s = ComplianceStatusCompliant
	case "NON_COMPLIANT":
		*s = ComplianceStatusNonCompliant
	case "NOT_APPLICABLE":
		*s = ComplianceStatusNotApplicable
	default:
		return errors.New("invalid compliance status")
	}
	return nil
}

type AuditStatus string

const (
	AuditStatusDraft      AuditStatus = "draft"
	AuditStatusInProgress AuditStatus = "in_progress"
	AuditStatusInReview   AuditStatus = "in_review"
	AuditStatusCompleted  AuditStatus = "completed"
	AuditStatusCancelled  AuditStatus = "cancelled"
)

func (s *AuditStatus) UnmarshalJSON(b []byte) error {
	str := string(b)
	if len(str) >= 2 && str[0] == '"' {
		str = str[1 : len(str)-1]
	}
	switch str {
	case "draft":
		*s = AuditStatusDraft
	case "in_progress":
		*s = AuditStatusInProgress
	case "in_review":
		*s = AuditStatusInReview
	case "completed":
		*s = AuditStatusCompleted
	case "cancelled":
		*s = AuditStatusCancelled
	default:
		return errors.New("invalid audit status")
	}
	return nil
}

// CanSubmitEvaluations gates evaluation writes on workflow status.
// The scoring engine never transitions status itself.
func (s AuditStatus) CanSubmitEvaluations() bool {
	return s == AuditStatusDraft || s == AuditStatusInProgress
}

// legal transitions: draft -> in_progress -> in_review -> completed
// cancelled is reachable from any non-terminal status,
// in_review may fall back to in_progress
func (s AuditStatus) CanTransitionTo(next AuditStatus) bool {
	switch s {
	case AuditStatusDraft:
		return next == AuditStatusInProgress || next == AuditStatusCancelled
	case AuditStatusInProgress:
		return next == AuditStatusInReview || next == AuditStatusCancelled
	case AuditStatusInReview:
		return next == AuditStatusInProgress || next == AuditStatusCompleted || next == AuditStatusCancelled
	default:
		return false
	}
}

type OutboxPublishStatus string

const (
	OutboxPublishStatusPending OutboxPublishStatus = "PENDING"
	OutboxPublishStatusSent    OutboxPublishStatus = "SENT"
	OutboxPublishStatusFailed  OutboxPublishStatus = "FAILED"
	OutboxPublishStatusDead    OutboxPublishStatus = "DEAD"
)
