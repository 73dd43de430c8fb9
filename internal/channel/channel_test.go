package channel

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcdshub/pmps-ui/internal/models"
)

type recorder struct {
	mu          sync.Mutex
	values      []any
	connections []bool
	severities  []models.Severity
}

func (r *recorder) OnValue(_ string, v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, v)
}

func (r *recorder) OnConnection(_ string, c bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections = append(r.connections, c)
}

func (r *recorder) OnSeverity(_ string, s models.Severity) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.severities = append(r.severities, s)
}

func (r *recorder) Values() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]any(nil), r.values...)
}

func (r *recorder) Connections() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.connections...)
}

func startBus(t *testing.T) *Bus {
	t.Helper()
	bus := NewBus(nil)
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

func syncBus(t *testing.T, bus *Bus) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, bus.Sync(ctx))
}

func TestParseAddress(t *testing.T) {
	t.Run("channel access", func(t *testing.T) {
		a, err := ParseAddress("ca://PMPS:LFE:BeamParamCntl:ReqBP:Rate")
		require.NoError(t, err)
		assert.Equal(t, SchemeCA, a.Scheme)
		assert.Equal(t, "PMPS:LFE:BeamParamCntl:ReqBP:Rate", a.Name)
		assert.Equal(t, "ca://PMPS:LFE:BeamParamCntl:ReqBP:Rate", a.Key())
	})

	t.Run("bare name", func(t *testing.T) {
		a, err := ParseAddress("PLC:HEARTBEAT")
		require.NoError(t, err)
		assert.Equal(t, SchemeCA, a.Scheme)
	})

	t.Run("local with options", func(t *testing.T) {
		a, err := ParseAddress("loc://trans_set?type=float&init=1&precision=2")
		require.NoError(t, err)
		assert.Equal(t, SchemeLocal, a.Scheme)
		assert.Equal(t, "trans_set", a.Name)
		assert.Equal(t, "float", a.Type)
		assert.Equal(t, "1", a.Init)
		assert.True(t, a.HasInit)
		assert.Equal(t, 2, a.Precision)
		assert.Equal(t, "loc://trans_set", a.Key())
	})

	t.Run("errors", func(t *testing.T) {
		for _, raw := range []string{"pva://X", "ca://", "loc://?type=int", "loc://x?precision=abc"} {
			_, err := ParseAddress(raw)
			assert.ErrorIs(t, err, ErrBadAddress, raw)
		}
	})
}

func TestExpand(t *testing.T) {
	got := Expand("ca://${P}FFO:${FFO}:FF:${FF}:Info:InUse_RBV", map[string]string{"P": "PLC:LFE:", "FFO": "01", "FF": "001"})
	assert.Equal(t, "ca://PLC:LFE:FFO:01:FF:001:Info:InUse_RBV", got)
}

func TestCoerce(t *testing.T) {
	v, err := Coerce("float", "1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	v, err = Coerce("int", 3.7)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	v, err = Coerce("str", "Both")
	require.NoError(t, err)
	assert.Equal(t, "Both", v)

	_, err = Coerce("float", "abc")
	assert.Error(t, err)
	_, err = Coerce("quaternion", 1)
	assert.Error(t, err)
}

func TestLocalInitAndPut(t *testing.T) {
	bus := startBus(t)
	rec := &recorder{}
	_, err := bus.Subscribe("loc://selected_mode?type=str&init=Both", rec)
	require.NoError(t, err)
	syncBus(t, bus)
	assert.Equal(t, []any{"Both"}, rec.Values())
	assert.Equal(t, []bool{true}, rec.Connections())

	require.NoError(t, bus.Put("loc://selected_mode", "NC"))
	syncBus(t, bus)
	assert.Equal(t, []any{"Both", "NC"}, rec.Values())

	got, ok := bus.Get("loc://selected_mode")
	require.True(t, ok)
	assert.Equal(t, "NC", got.Value)
}

func TestLocalLateInit(t *testing.T) {
	bus := startBus(t)
	early := &recorder{}
	_, err := bus.Subscribe("loc://selected_mode", early)
	require.NoError(t, err)
	syncBus(t, bus)
	assert.Empty(t, early.Values())

	late := &recorder{}
	_, err = bus.Subscribe("loc://selected_mode?type=str&init=Both", late)
	require.NoError(t, err)
	syncBus(t, bus)
	assert.Equal(t, []any{"Both"}, early.Values())
	assert.Equal(t, []any{"Both"}, late.Values())
}

func TestLocalTypeCoercion(t *testing.T) {
	bus := startBus(t)
	rec := &recorder{}
	_, err := bus.Subscribe("loc://trans_set?type=float&init=1&precision=2", rec)
	require.NoError(t, err)
	require.NoError(t, bus.Put("loc://trans_set", "0.5"))
	require.NoError(t, bus.Put("loc://trans_set", "junk"))
	syncBus(t, bus)
	assert.Equal(t, []any{1.0, 0.5}, rec.Values())
}

func TestSubscribeReplaysCache(t *testing.T) {
	bus := startBus(t)
	require.NoError(t, bus.SetConnection("ca://X", true))
	require.NoError(t, bus.SetSeverity("ca://X", models.SeverityMajor))
	require.NoError(t, bus.Update("ca://X", int64(7)))

	rec := &recorder{}
	_, err := bus.Subscribe("ca://X", rec)
	require.NoError(t, err)
	syncBus(t, bus)

	assert.Equal(t, []bool{true}, rec.Connections())
	assert.Equal(t, []models.Severity{models.SeverityMajor}, rec.severities)
	assert.Equal(t, []any{int64(7)}, rec.Values())
}

func TestLoopbackGateway(t *testing.T) {
	bus := startBus(t)
	gw := NewLoopback(bus)
	gw.Seed("RATE", 10.0)

	rec := &recorder{}
	cancel, err := bus.Subscribe("ca://RATE", rec)
	require.NoError(t, err)
	syncBus(t, bus)
	assert.True(t, gw.Monitored("RATE"))
	assert.Equal(t, []bool{false, true}, rec.Connections())
	assert.Equal(t, []any{10.0}, rec.Values())

	require.NoError(t, bus.Put("ca://RATE", 0))
	syncBus(t, bus)
	assert.Equal(t, []any{10.0, 0}, rec.Values())
	assert.Equal(t, []Write{{Name: "RATE", Value: 0}}, gw.Writes())

	cancel()
	cancel()
	syncBus(t, bus)
	assert.False(t, gw.Monitored("RATE"))
	assert.Equal(t, int64(0), bus.SubscriptionCount())

	require.NoError(t, bus.Put("ca://RATE", 1))
	syncBus(t, bus)
	assert.Len(t, rec.Values(), 2)
}

func TestEnumsReplayAndFanOut(t *testing.T) {
	bus := startBus(t)
	gw := NewLoopback(bus)
	gw.SeedEnums("MODE", []string{"NC", "SC"})
	gw.Seed("MODE", int64(1))

	var early [][]string
	_, err := bus.Subscribe("ca://MODE", Funcs{Enums: func(e []string) { early = append(early, e) }})
	require.NoError(t, err)
	syncBus(t, bus)
	assert.Equal(t, [][]string{{"NC", "SC"}}, early)

	// listeners without OnEnums still subscribe fine
	rec := &recorder{}
	_, err = bus.Subscribe("ca://MODE", rec)
	require.NoError(t, err)

	var late [][]string
	_, err = bus.Subscribe("ca://MODE", Funcs{Enums: func(e []string) { late = append(late, e) }})
	require.NoError(t, err)
	gw.SeedEnums("MODE", []string{"Off", "NC", "SC"})
	syncBus(t, bus)

	assert.Equal(t, [][]string{{"NC", "SC"}, {"Off", "NC", "SC"}}, early)
	assert.Equal(t, [][]string{{"NC", "SC"}, {"Off", "NC", "SC"}}, late)
	assert.Equal(t, []any{int64(1)}, rec.Values())
	got, ok := bus.Get("ca://MODE")
	require.True(t, ok)
	assert.Equal(t, []string{"Off", "NC", "SC"}, got.Enums)
}

func TestPutWithoutGateway(t *testing.T) {
	bus := startBus(t)
	err := bus.Put("ca://X", 1)
	assert.ErrorIs(t, err, ErrNoGateway)
}

func TestCallbacksNeverOverlap(t *testing.T) {
	bus := startBus(t)
	var active, overlaps, calls atomic.Int32
	l := Funcs{Value: func(any) {
		if active.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(time.Microsecond)
		calls.Add(1)
		active.Add(-1)
	}}
	for i := 0; i < 5; i++ {
		_, err := bus.Subscribe(fmt.Sprintf("ca://PV%d", i), l)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = bus.Update(fmt.Sprintf("ca://PV%d", (w+i)%5), i)
			}
		}(w)
	}
	wg.Wait()
	syncBus(t, bus)

	assert.Equal(t, int32(0), overlaps.Load())
	assert.Equal(t, int32(400), calls.Load())
}

func TestTapsAndSnapshot(t *testing.T) {
	bus := startBus(t)
	var mu sync.Mutex
	var seen []models.ChannelValue
	bus.OnUpdate(func(v models.ChannelValue) {
		mu.Lock()
		seen = append(seen, v)
		mu.Unlock()
	})
	require.NoError(t, bus.Update("ca://B", 2.0))
	require.NoError(t, bus.Update("ca://A", 1.0))
	syncBus(t, bus)

	mu.Lock()
	assert.Len(t, seen, 2)
	mu.Unlock()
	snap := bus.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "ca://A", snap[0].Address)
	assert.Equal(t, "ca://B", snap[1].Address)
}

func TestPanickingCallbackDoesNotStopBus(t *testing.T) {
	bus := startBus(t)
	bus.Do(func() { panic("boom") })
	ran := make(chan struct{})
	bus.Do(func() { close(ran) })
	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("bus stopped after panic")
	}
}

func TestQueueBacklogWarning(t *testing.T) {
	var buf bytes.Buffer
	bus := NewBus(hclog.New(&hclog.LoggerOptions{Output: &buf, Level: hclog.Warn}))
	bus.SetQueueWarning(4)

	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Update("ca://FLOOD", i))
	}
	assert.Equal(t, 10, bus.Pending())
	assert.Equal(t, 1, strings.Count(buf.String(), "channel queue backlog"))

	// draining to half the depth re-arms the warning
	for bus.Pending() > 2 {
		_, ok := bus.pop()
		require.True(t, ok)
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, bus.Update("ca://FLOOD", i))
	}
	assert.Equal(t, 2, strings.Count(buf.String(), "channel queue backlog"))
}
