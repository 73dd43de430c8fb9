// Package storage archives channel updates for the history view.
package storage

import (
	"context"
	"time"

	"github.com/pcdshub/pmps-ui/internal/models"
)

// DefaultQueryLimit caps history queries that do not set a limit.
const DefaultQueryLimit = 1000

// Archive persists channel updates.
type Archive interface {
	Record(ctx context.Context, values []models.ChannelValue) error
	Query(ctx context.Context, q models.HistoryQuery) (*models.HistoryResult, error)
	Prune(ctx context.Context, before time.Time) (int, error)
	Close() error
}

func queryLimit(limit int) int {
	if limit <= 0 || limit > DefaultQueryLimit {
		return DefaultQueryLimit
	}
	return limit
}
