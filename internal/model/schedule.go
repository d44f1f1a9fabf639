package model

import "time"

// ScanSchedule is a recurring pipeline run for one campaign
type ScanSchedule struct {
	ID          string          `json:"id"`
	Campaign    CampaignContext `json:"campaign"`
	Expression  string          `json:"expression"`
	LastRunTime *time.Time      `json:"last_run_time,omitempty"`
	NextRunTime *time.Time      `json:"next_run_time,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
