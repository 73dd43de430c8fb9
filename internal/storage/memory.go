package storage

import (
	"context"
	"sync"
	"time"

	"github.com/pcdshub/pmps-ui/internal/models"
)

// MemoryArchive keeps the most recent updates of each channel in memory.
type MemoryArchive struct {
	mu       sync.RWMutex
	perAddr  int
	channels map[string][]models.ChannelValue
}

// NewMemoryArchive keeps at most perAddress updates per channel.
func NewMemoryArchive(perAddress int) *MemoryArchive {
	if perAddress <= 0 {
		perAddress = DefaultQueryLimit
	}
	return &MemoryArchive{
		perAddr:  perAddress,
		channels: make(map[string][]models.ChannelValue),
	}
}

// Record implements Archive.
func (m *MemoryArchive) Record(_ context.Context, values []models.ChannelValue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range values {
		list := append(m.channels[v.Address], v)
		if len(list) > m.perAddr {
			list = list[len(list)-m.perAddr:]
		}
		m.channels[v.Address] = list
	}
	return nil
}

// Query implements Archive. The newest Limit matches are returned oldest
// first.
func (m *MemoryArchive) Query(_ context.Context, q models.HistoryQuery) (*models.HistoryResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []models.ChannelValue
	for _, v := range m.channels[q.Address] {
		if q.Range.Contains(v.Timestamp) {
			matched = append(matched, v)
		}
	}
	total := len(matched)
	if limit := queryLimit(q.Limit); len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	entries := make([]models.ChannelValue, len(matched))
	copy(entries, matched)
	return &models.HistoryResult{Address: q.Address, Entries: entries, Total: total}, nil
}

// Prune implements Archive.
func (m *MemoryArchive) Prune(_ context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for addr, list := range m.channels {
		keep := list[:0]
		for _, v := range list {
			if v.Timestamp.Before(before) {
				removed++
				continue
			}
			keep = append(keep, v)
		}
		if len(keep) == 0 {
			delete(m.channels, addr)
		} else {
			m.channels[addr] = keep
		}
	}
	return removed, nil
}

// Close implements Archive.
func (m *MemoryArchive) Close() error {
	return nil
}
