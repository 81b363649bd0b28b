package models

import "time"

// RunRequest asks for an out-of-schedule ingestion of one account.
type RunRequest struct {
	ID         string    `json:"id"`
	AccountID  string    `json:"account_id"`
	FullYear   bool      `json:"full_year"`
	RetryCount int       `json:"retry_count"`
	LastError  string    `json:"last_error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
