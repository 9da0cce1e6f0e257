package model

import "time"

// StatusMessage travels on the status stream. Count is the expected number of
// events and is fixed when the batch is submitted; CurrentCount is nil until a
// reconciliation pass fills it in.
type StatusMessage struct {
	SubmittedAt  time.Time `json:"submitted_at"`
	CurrentCount *int      `json:"current_count,omitempty"`
	IngestionID  string    `json:"ingestion_id"`
	TraceID      string    `json:"trace_id,omitempty"`
	Count        int       `json:"count"`
	Attempt      int       `json:"attempt"`
}

// WithCurrentCount returns a copy carrying the observed count. The receiver is
// left untouched.
func (m StatusMessage) WithCurrentCount(observed int) StatusMessage {
	m.CurrentCount = &observed
	return m
}

// Observed returns the observed count, or 0 before the first pass.
func (m StatusMessage) Observed() int {
	if m.CurrentCount == nil {
		return 0
	}
	return *m.CurrentCount
}

// Next returns the message to republish for another pass.
func (m StatusMessage) Next() StatusMessage {
	m.Attempt++
	return m
}
