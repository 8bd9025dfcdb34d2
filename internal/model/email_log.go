package model

import "time"

// EmailLogStatus tracks a single delivery attempt.
type EmailLogStatus string

const (
	EmailLogPending EmailLogStatus = "PENDING"
	EmailLogQueued  EmailLogStatus = "QUEUED"
	EmailLogSent    EmailLogStatus = "SENT"
	EmailLogFailed  EmailLogStatus = "FAILED"
)

// EmailLog is the authoritative record of one delivery attempt. Its row
// is the idempotency key: a redelivered job checks this row's status
// before doing anything else.
type EmailLog struct {
	ID              int64          `json:"id"`
	CampaignID      int64          `json:"campaignId"`
	RecipientID     int64          `json:"recipientId"`
	SmtpAccountID   int64          `json:"smtpAccountId"`
	Status          EmailLogStatus `json:"status"`
	SubjectSnapshot string         `json:"subjectSnapshot"`
	SentAt          *time.Time     `json:"sentAt,omitempty"`
	FailedAt        *time.Time     `json:"failedAt,omitempty"`
	ErrorMessage    *string        `json:"errorMessage,omitempty"`
	MessageID       *string        `json:"messageId,omitempty"`
	BounceReason    *string        `json:"bounceReason,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// DailyQuota is the per (SmtpAccount, date) send counter.
type DailyQuota struct {
	ID            int64     `json:"id"`
	SmtpAccountID int64     `json:"smtpAccountId"`
	Date          time.Time `json:"date"`
	SentCount     int       `json:"sentCount"`
}
