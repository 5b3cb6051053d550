package models

import "time"

// SyncRequest asks the synchronization collaborator to process a date range.
type SyncRequest struct {
	RequestID string    `json:"requestId"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
}

type SyncResult struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
	Processed int    `json:"processed"`
	Message   string `json:"message,omitempty"`
}
