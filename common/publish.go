package common

import "time"

// Publish result status values
const (
	PublishStatusSuccess = "success"
	PublishStatusError   = "error"
)

// PublishResult is the outcome for one publish target
type PublishResult struct {
	Platform string  `json:"platform"`
	PageName *string `json:"page_name"`
	PageID   *string `json:"page_id,omitempty"`
	// Status is either "success" or "error"
	Status  string `json:"status"`
	Message string `json:"message"`
}

// PublishLogRecord is the durable record of one publish call
type PublishLogRecord struct {
	Type       string          `json:"type"`
	CampaignID *string         `json:"campaign_id,omitempty"`
	Results    []PublishResult `json:"results"`
	CreatedAt  time.Time       `json:"created_at"`
}
