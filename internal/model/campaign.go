package model

import "time"

// CampaignStatus is the campaign lifecycle state.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "DRAFT"
	CampaignScheduled CampaignStatus = "SCHEDULED"
	CampaignRunning   CampaignStatus = "RUNNING"
	CampaignPaused    CampaignStatus = "PAUSED"
	CampaignCompleted CampaignStatus = "COMPLETED"
	CampaignFailed    CampaignStatus = "FAILED"
	CampaignCancelled CampaignStatus = "CANCELLED"
)

// IsTerminal reports whether the status admits no further transitions.
func (s CampaignStatus) IsTerminal() bool {
	switch s {
	case CampaignCompleted, CampaignFailed, CampaignCancelled:
		return true
	default:
		return false
	}
}

// CampaignSettings tunes pacing for a single campaign.
type CampaignSettings struct {
	DelayBetweenEmails time.Duration `json:"delayBetweenEmails"`
	BatchSizeMin       int           `json:"batchSizeMin"`
	BatchSizeMax       int           `json:"batchSizeMax"`
	BatchDelay         time.Duration `json:"batchDelay"`
	MaxRetriesPerEmail int           `json:"maxRetriesPerEmail"`
}

// Campaign is a scheduled send of one template to a recipient set through
// one or more SmtpAccounts.
type Campaign struct {
	ID              int64            `json:"id"`
	UUID            string           `json:"uuid"`
	UserID          int64            `json:"userId"`
	Name            string           `json:"name"`
	TemplateID      int64            `json:"templateId"`
	SmtpAccountIDs  []int64          `json:"smtpAccountIds"`
	Status          CampaignStatus   `json:"status"`
	ScheduledAt     *time.Time       `json:"scheduledAt,omitempty"`
	StartedAt       *time.Time       `json:"startedAt,omitempty"`
	CompletedAt     *time.Time       `json:"completedAt,omitempty"`
	PausedAt        *time.Time       `json:"pausedAt,omitempty"`
	TotalRecipients int              `json:"totalRecipients"`
	SentCount       int              `json:"sentCount"`
	FailedCount     int              `json:"failedCount"`
	BounceCount     int              `json:"bounceCount"`
	BounceRate      float64          `json:"bounceRate"`
	Settings        CampaignSettings `json:"settings"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

// AttemptsMade is the number of recipients that have reached a terminal
// per-attempt state, used for the attempts>=10 auto-pause gate.
func (c *Campaign) AttemptsMade() int {
	return c.SentCount + c.FailedCount
}

// RecomputeBounceRate applies the spec's exact formula, rounded to 2 decimals.
func (c *Campaign) RecomputeBounceRate() {
	denom := c.SentCount + c.FailedCount
	if denom < 1 {
		denom = 1
	}
	rate := float64(c.BounceCount) / float64(denom) * 100
	c.BounceRate = roundTo2(rate)
}

func roundTo2(v float64) float64 {
	const scale = 100
	if v >= 0 {
		return float64(int64(v*scale+0.5)) / scale
	}
	return float64(int64(v*scale-0.5)) / scale
}
