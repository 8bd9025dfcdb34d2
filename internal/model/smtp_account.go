package model

import "time"

// ProviderKind selects which transport backs an SmtpAccount.
type ProviderKind string

const (
	ProviderSMTP ProviderKind = "smtp"
	ProviderSES  ProviderKind = "ses"
)

// SmtpAccount is a credentialed sending identity owned by a user.
// Password is stored encrypted; the plaintext never touches this struct
// outside of create/update commands.
type SmtpAccount struct {
	ID                int64        `json:"id"`
	UUID              string       `json:"uuid"`
	UserID            int64        `json:"userId"`
	Name              string       `json:"name"`
	Provider          ProviderKind `json:"provider"`
	Host              string       `json:"host,omitempty"`
	Port              int          `json:"port,omitempty"`
	Secure            bool         `json:"secure"`
	Username          string       `json:"username,omitempty"`
	EncryptedPassword string       `json:"-"`
	AWSRegion         string       `json:"awsRegion,omitempty"`
	FromName          string       `json:"fromName"`
	FromEmail         string       `json:"fromEmail"`
	DailyQuota        int          `json:"dailyQuota"`
	MinDelaySeconds   int          `json:"minDelaySeconds"`
	MaxDelaySeconds   int          `json:"maxDelaySeconds"`
	Active            bool         `json:"active"`
	LastUsedAt        *time.Time   `json:"lastUsedAt,omitempty"`
	CreatedAt         time.Time    `json:"createdAt"`
	UpdatedAt         time.Time    `json:"updatedAt"`
}
