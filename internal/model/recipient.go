package model

import "time"

// RecipientStatus tracks one recipient's progress through delivery.
type RecipientStatus string

const (
	RecipientPending RecipientStatus = "PENDING"
	RecipientQueued  RecipientStatus = "QUEUED"
	RecipientSent    RecipientStatus = "SENT"
	RecipientFailed  RecipientStatus = "FAILED"
	RecipientBounced RecipientStatus = "BOUNCED"
)

// CampaignRecipient is one row in a campaign's audience.
type CampaignRecipient struct {
	ID                    int64             `json:"id"`
	CampaignID            int64             `json:"campaignId"`
	Email                 string            `json:"email"`
	FirstName             *string           `json:"firstName,omitempty"`
	LastName              *string           `json:"lastName,omitempty"`
	Vars                  map[string]string `json:"vars,omitempty"`
	Status                RecipientStatus   `json:"status"`
	SentAt                *time.Time        `json:"sentAt,omitempty"`
	FailedReason          *string           `json:"failedReason,omitempty"`
	AssignedSmtpAccountID *int64            `json:"assignedSmtpAccountId,omitempty"`
	ClaimSeq              *int64            `json:"claimSeq,omitempty"`
}

// FullName renders the trimmed concatenation of first and last name.
func (r *CampaignRecipient) FullName() string {
	first, last := "", ""
	if r.FirstName != nil {
		first = *r.FirstName
	}
	if r.LastName != nil {
		last = *r.LastName
	}
	return trimJoin(first, last)
}

func trimJoin(first, last string) string {
	switch {
	case first == "" && last == "":
		return ""
	case first == "":
		return last
	case last == "":
		return first
	default:
		return first + " " + last
	}
}
