// archive_test.go - Tests for the channel history archives
package storage

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pcdshub/pmps-ui/internal/models"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func sample(addr string, offset int, value any) models.ChannelValue {
	return models.ChannelValue{
		Address:   addr,
		Value:     value,
		Timestamp: base.Add(time.Duration(offset) * time.Second),
		Connected: true,
	}
}

func archives(t *testing.T) map[string]Archive {
	t.Helper()
	duck, err := NewDuckArchive(filepath.Join(t.TempDir(), "history.duckdb"), DuckOptions{}, nil)
	if err != nil {
		t.Fatalf("Failed to create DuckArchive: %v", err)
	}
	t.Cleanup(func() { duck.Close() })
	return map[string]Archive{
		"memory": NewMemoryArchive(100),
		"duckdb": duck,
	}
}

func TestArchiveRecordAndQuery(t *testing.T) {
	for name, archive := range archives(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			values := []models.ChannelValue{
				sample("ca://RATE", 0, 120.0),
				sample("ca://RATE", 1, int64(10)),
				sample("ca://MODE", 1, "NC"),
				sample("ca://RATE", 2, true),
				sample("ca://RANGES", 3, []float64{100, 200}),
			}
			if err := archive.Record(ctx, values); err != nil {
				t.Fatalf("Record failed: %v", err)
			}

			res, err := archive.Query(ctx, models.HistoryQuery{Address: "ca://RATE"})
			if err != nil {
				t.Fatalf("Query failed: %v", err)
			}
			if res.Total != 3 || len(res.Entries) != 3 {
				t.Fatalf("Expected 3 entries, got total=%d len=%d", res.Total, len(res.Entries))
			}
			if res.Entries[0].Value != 120.0 {
				t.Errorf("Expected oldest value 120, got %v", res.Entries[0].Value)
			}
			if res.Entries[1].Value != int64(10) {
				t.Errorf("Expected int64 10, got %#v", res.Entries[1].Value)
			}
			if res.Entries[2].Value != true {
				t.Errorf("Expected bool true, got %#v", res.Entries[2].Value)
			}
			if !res.Entries[0].Timestamp.Equal(base) {
				t.Errorf("Expected timestamp %v, got %v", base, res.Entries[0].Timestamp)
			}

			arr, err := archive.Query(ctx, models.HistoryQuery{Address: "ca://RANGES"})
			if err != nil {
				t.Fatalf("Query failed: %v", err)
			}
			got, ok := arr.Entries[0].Value.([]float64)
			if !ok || len(got) != 2 || got[1] != 200 {
				t.Errorf("Expected array value, got %#v", arr.Entries[0].Value)
			}
		})
	}
}

func TestArchiveQueryRangeAndLimit(t *testing.T) {
	for name, archive := range archives(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var values []models.ChannelValue
			for i := 0; i < 10; i++ {
				values = append(values, sample("ca://X", i, float64(i)))
			}
			if err := archive.Record(ctx, values); err != nil {
				t.Fatalf("Record failed: %v", err)
			}

			res, err := archive.Query(ctx, models.HistoryQuery{
				Address: "ca://X",
				Range:   models.TimeRange{Start: base.Add(2 * time.Second), End: base.Add(7 * time.Second)},
				Limit:   3,
			})
			if err != nil {
				t.Fatalf("Query failed: %v", err)
			}
			if res.Total != 6 {
				t.Errorf("Expected 6 matches in range, got %d", res.Total)
			}
			if len(res.Entries) != 3 {
				t.Fatalf("Expected limit of 3, got %d", len(res.Entries))
			}
			// newest three, oldest first
			for i, want := range []float64{5, 6, 7} {
				if res.Entries[i].Value != want {
					t.Errorf("Entry %d: expected %v, got %v", i, want, res.Entries[i].Value)
				}
			}
		})
	}
}

func TestArchivePrune(t *testing.T) {
	for name, archive := range archives(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			values := []models.ChannelValue{sample("ca://X", 0, 1.0), sample("ca://X", 10, 2.0)}
			if err := archive.Record(ctx, values); err != nil {
				t.Fatalf("Record failed: %v", err)
			}
			n, err := archive.Prune(ctx, base.Add(5*time.Second))
			if err != nil {
				t.Fatalf("Prune failed: %v", err)
			}
			if n != 1 {
				t.Errorf("Expected 1 pruned row, got %d", n)
			}
			res, _ := archive.Query(ctx, models.HistoryQuery{Address: "ca://X"})
			if res.Total != 1 {
				t.Errorf("Expected 1 remaining row, got %d", res.Total)
			}
		})
	}
}

func TestMemoryArchiveCapacity(t *testing.T) {
	archive := NewMemoryArchive(2)
	ctx := context.Background()
	_ = archive.Record(ctx, []models.ChannelValue{sample("ca://X", 0, 1.0), sample("ca://X", 1, 2.0), sample("ca://X", 2, 3.0)})
	res, _ := archive.Query(ctx, models.HistoryQuery{Address: "ca://X"})
	if len(res.Entries) != 2 || res.Entries[0].Value != 2.0 {
		t.Errorf("Expected the two newest entries, got %v", res.Entries)
	}
}

type countingDrops struct {
	mu sync.Mutex
	n  int
}

func (c *countingDrops) ArchiveDrop() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func TestRecorderFlushesOnShutdown(t *testing.T) {
	archive := NewMemoryArchive(100)
	rec := NewRecorder(archive, 100, time.Hour, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rec.Run(ctx)
		close(done)
	}()

	for i := 0; i < 5; i++ {
		rec.Tap(sample("ca://X", i, float64(i)))
	}
	cancel()
	<-done

	res, _ := archive.Query(context.Background(), models.HistoryQuery{Address: "ca://X"})
	if res.Total != 5 {
		t.Errorf("Expected 5 recorded entries, got %d", res.Total)
	}
}

func TestRecorderDropsWhenFull(t *testing.T) {
	drops := &countingDrops{}
	rec := NewRecorder(NewMemoryArchive(10), 1, time.Hour, drops, nil)
	// capacity is batchSize*8 and Run is not started
	for i := 0; i < 10; i++ {
		rec.Tap(sample("ca://X", i, 1.0))
	}
	drops.mu.Lock()
	defer drops.mu.Unlock()
	if drops.n != 2 {
		t.Errorf("Expected 2 dropped updates, got %d", drops.n)
	}
}
