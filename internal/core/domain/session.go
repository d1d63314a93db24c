package domain

import "time"

// Checkpoint records the last delivered position of a logical stream so a
// restarted consumer can seed its resumption strategy.
type Checkpoint struct {
	StreamID    string    `json:"stream_id"`
	Sequence    uint64    `json:"sequence"`
	ResumeToken string    `json:"resume_token,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Session summarizes one finished proxy session for the journal.
type Session struct {
	ID         string
	Stream     string
	Method     string
	Attempts   int
	Delivered  uint64
	Code       int
	Note       string
	StartedAt  time.Time
	FinishedAt time.Time
}
