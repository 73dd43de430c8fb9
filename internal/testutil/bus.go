// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pcdshub/pmps-ui/internal/channel"
	"github.com/pcdshub/pmps-ui/internal/models"
)

// SyncTimeout bounds SyncBus.
const SyncTimeout = 5 * time.Second

// StartBus runs a bus until the test ends.
func StartBus(t testing.TB) *channel.Bus {
	t.Helper()
	bus := channel.NewBus(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = bus.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return bus
}

// SyncBus waits until the bus has drained its queue.
func SyncBus(t testing.TB, bus *channel.Bus) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), SyncTimeout)
	defer cancel()
	require.NoError(t, bus.Sync(ctx))
}

// SampleLine is a small LFE-like line with one fast fault PLC and one
// preemptive request pool.
func SampleLine() *models.LineConfig {
	return &models.LineConfig{
		Name:              "LFE",
		LineArbiterPrefix: "PMPS:LFE:",
		ArbiterTimePV:     "PMPS:LFE:ARB:TIME",
		FastFaults: []models.FastFaultGroup{{
			Name:     "Motion",
			Prefix:   "PLC:LFE:MOTION:",
			FFOStart: 1,
			FFOEnd:   2,
			FFStart:  1,
			FFEnd:    2,
		}},
		PreemptiveRequests: []models.PreemptiveGroup{{
			Prefix:          "PMPS:LFE:",
			ArbiterInstance: "Arbiter:01",
			PoolStart:       1,
			PoolEnd:         3,
		}},
	}
}
