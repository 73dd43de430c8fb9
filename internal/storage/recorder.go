package storage

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/pcdshub/pmps-ui/internal/models"
)

// DropHook is told about every update the recorder could not queue.
type DropHook interface {
	ArchiveDrop()
}

// Recorder moves channel updates from the bus to an Archive on its own
// goroutine, batching writes by size and age.
type Recorder struct {
	archive   Archive
	log       hclog.Logger
	in        chan models.ChannelValue
	batchSize int
	flush     time.Duration
	drops     DropHook
}

// NewRecorder creates a recorder. Run must be started for updates to be
// written.
func NewRecorder(archive Archive, batchSize int, flush time.Duration, drops DropHook, logger hclog.Logger) *Recorder {
	if batchSize <= 0 {
		batchSize = 256
	}
	if flush <= 0 {
		flush = 500 * time.Millisecond
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Recorder{
		archive:   archive,
		log:       logger.Named("recorder"),
		in:        make(chan models.ChannelValue, batchSize*8),
		batchSize: batchSize,
		flush:     flush,
		drops:     drops,
	}
}

// Tap queues an update without blocking. It has the shape of a bus tap.
func (r *Recorder) Tap(v models.ChannelValue) {
	select {
	case r.in <- v:
	default:
		if r.drops != nil {
			r.drops.ArchiveDrop()
		}
	}
}

// Run writes batches until ctx is cancelled, then flushes what is queued.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.flush)
	defer ticker.Stop()

	batch := make([]models.ChannelValue, 0, r.batchSize)
	write := func() {
		if len(batch) == 0 {
			return
		}
		wctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.archive.Record(wctx, batch); err != nil {
			r.log.Error("failed to record history batch", "size", len(batch), "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case v := <-r.in:
					batch = append(batch, v)
				default:
					write()
					return nil
				}
			}
		case v := <-r.in:
			batch = append(batch, v)
			if len(batch) >= r.batchSize {
				write()
			}
		case <-ticker.C:
			write()
		}
	}
}

// Retain prunes the archive on an interval, keeping the last keep of
// history. It returns when ctx is cancelled.
func Retain(ctx context.Context, archive Archive, keep, every time.Duration, logger hclog.Logger) {
	if keep <= 0 || every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := archive.Prune(ctx, time.Now().Add(-keep))
			if err != nil {
				logger.Warn("history prune failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Debug("history pruned", "rows", n)
			}
		}
	}
}
