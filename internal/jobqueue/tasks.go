package jobqueue

import "encoding/json"

// Task type constants. Every payload carries just enough to re-load its
// row from the Store; asynq is the delivery mechanism, the row is the
// source of truth.
const (
	TypeCampaignTick = "campaign:tick"
	TypeEmailSend    = "email:send"
)

// CampaignTickPayload drives one scheduler tick for a campaign.
type CampaignTickPayload struct {
	CampaignID int64 `json:"campaignId"`
}

// EmailSendPayload drives one sender attempt for a queued EmailLog.
type EmailSendPayload struct {
	EmailLogID int64 `json:"emailLogId"`
	CampaignID int64 `json:"campaignId"`
	Attempt    int   `json:"attempt"`
}

func (p *CampaignTickPayload) marshal() ([]byte, error) { return json.Marshal(p) }
func (p *EmailSendPayload) marshal() ([]byte, error)    { return json.Marshal(p) }

// UnmarshalCampaignTickPayload deserializes a campaign:tick task payload.
func UnmarshalCampaignTickPayload(data []byte) (*CampaignTickPayload, error) {
	var p CampaignTickPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UnmarshalEmailSendPayload deserializes an email:send task payload.
func UnmarshalEmailSendPayload(data []byte) (*EmailSendPayload, error) {
	var p EmailSendPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
