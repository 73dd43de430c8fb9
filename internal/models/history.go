package models

import "time"

// TimeRange represents a time window.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window. Zero bounds are open.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && t.After(r.End) {
		return false
	}
	return true
}

// HistoryQuery selects archived updates of one channel.
type HistoryQuery struct {
	Address string    `json:"address"`
	Range   TimeRange `json:"range"`
	Limit   int       `json:"limit"`
}

// HistoryResult is the answer to a HistoryQuery, oldest first.
type HistoryResult struct {
	Address string         `json:"address"`
	Entries []ChannelValue `json:"entries"`
	Total   int            `json:"total"`
}
