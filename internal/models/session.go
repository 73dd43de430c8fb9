package models

import "time"

// SessionStatus represents the lifecycle state of a display session.
type SessionStatus string

const (
	SessionStatusActive SessionStatus = "active"
	SessionStatusClosed SessionStatus = "closed"
)

// DisplaySession describes an operator's set of open displays.
type DisplaySession struct {
	ID           string        `json:"id"`
	Line         string        `json:"line"`
	Status       SessionStatus `json:"status"`
	Displays     []string      `json:"displays"`
	CreatedAt    time.Time     `json:"createdAt"`
	LastAccessed time.Time     `json:"lastAccessed"`
}
