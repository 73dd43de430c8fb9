// Package channel is the in-process channel bus. Displays subscribe to
// "ca://" and "loc://" addresses and receive value, connection and
// severity callbacks from a single dispatcher goroutine, so at most one
// callback runs at a time.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/pcdshub/pmps-ui/internal/models"
)

// ErrNoGateway is returned when a Channel Access write has nowhere to go.
var ErrNoGateway = errors.New("no channel access gateway attached")

// DefaultQueueWarning is the queue depth at which the bus logs a backlog
// warning.
const DefaultQueueWarning = 10000

// Listener receives channel callbacks on the bus goroutine.
type Listener interface {
	OnValue(addr string, value any)
	OnConnection(addr string, connected bool)
	OnSeverity(addr string, severity models.Severity)
}

// EnumListener is implemented by listeners that want the state strings of
// enumerated channels. They are replayed on subscribe like values.
type EnumListener interface {
	OnEnums(addr string, enums []string)
}

// Funcs adapts plain functions to Listener. Nil fields are skipped.
type Funcs struct {
	Value      func(value any)
	Connection func(connected bool)
	Severity   func(severity models.Severity)
	Enums      func(enums []string)
}

func (f Funcs) OnValue(_ string, value any) {
	if f.Value != nil {
		f.Value(value)
	}
}

func (f Funcs) OnConnection(_ string, connected bool) {
	if f.Connection != nil {
		f.Connection(connected)
	}
}

func (f Funcs) OnSeverity(_ string, severity models.Severity) {
	if f.Severity != nil {
		f.Severity(severity)
	}
}

func (f Funcs) OnEnums(_ string, enums []string) {
	if f.Enums != nil {
		f.Enums(enums)
	}
}

// Gateway connects the bus to the control system. Monitor and Put are
// called from the bus goroutine and must not block.
type Gateway interface {
	Monitor(name string)
	Unmonitor(name string)
	Put(name string, value any) error
}

// Tap observes every state change after it is applied. Taps run on the bus
// goroutine and must hand slow work off elsewhere.
type Tap func(models.ChannelValue)

type subscription struct {
	id       uint64
	listener Listener
}

type entry struct {
	addr        Address
	state       models.ChannelValue
	hasValue    bool
	hasSeverity bool
	subs        []subscription
}

// Bus serializes channel traffic onto one goroutine.
type Bus struct {
	log hclog.Logger

	mu        sync.Mutex
	queue     []func()
	wake      chan struct{}
	queueWarn int
	warned    bool

	gwMu    sync.RWMutex
	gateway Gateway
	taps    []Tap

	snapMu   sync.RWMutex
	snapshot map[string]models.ChannelValue

	// owned by the dispatcher goroutine
	entries map[string]*entry

	nextID        atomic.Uint64
	subscriptions atomic.Int64
	now           func() time.Time
}

// NewBus creates a bus. Nothing is dispatched until Run is called.
func NewBus(logger hclog.Logger) *Bus {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Bus{
		log:       logger.Named("bus"),
		wake:      make(chan struct{}, 1),
		queueWarn: DefaultQueueWarning,
		snapshot:  make(map[string]models.ChannelValue),
		entries:   make(map[string]*entry),
		now:       time.Now,
	}
}

// Run dispatches queued work until ctx is cancelled.
func (b *Bus) Run(ctx context.Context) error {
	b.log.Debug("dispatcher started")
	defer b.log.Debug("dispatcher stopped")
	for {
		fn, ok := b.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-b.wake:
			}
			continue
		}
		b.invoke(fn)
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (b *Bus) pop() (func(), bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return nil, false
	}
	fn := b.queue[0]
	b.queue[0] = nil
	b.queue = b.queue[1:]
	if b.warned && len(b.queue) <= b.queueWarn/2 {
		b.warned = false
	}
	return fn, true
}

func (b *Bus) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("channel callback panicked", "panic", r)
		}
	}()
	fn()
}

func (b *Bus) post(fn func()) {
	b.mu.Lock()
	b.queue = append(b.queue, fn)
	depth := len(b.queue)
	warn := b.queueWarn > 0 && !b.warned && depth >= b.queueWarn
	if warn {
		b.warned = true
	}
	b.mu.Unlock()
	if warn {
		b.log.Warn("channel queue backlog, callbacks are falling behind", "pending", depth)
	}
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// SetQueueWarning sets the backlog warning depth. Zero disables it. The
// warning fires again once the queue has drained to half the depth.
func (b *Bus) SetQueueWarning(depth int) {
	b.mu.Lock()
	b.queueWarn = depth
	b.warned = false
	b.mu.Unlock()
}

// Pending returns the number of queued callbacks.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Do runs fn on the bus goroutine.
func (b *Bus) Do(fn func()) {
	b.post(fn)
}

// Sync blocks until every queued callback, including work queued by those
// callbacks, has run.
func (b *Bus) Sync(ctx context.Context) error {
	for {
		done := make(chan bool, 1)
		b.post(func() {
			b.mu.Lock()
			idle := len(b.queue) == 0
			b.mu.Unlock()
			done <- idle
		})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case idle := <-done:
			if idle {
				return nil
			}
		}
	}
}

// SetGateway attaches the control system side. Channels that already have
// subscribers are monitored on the new gateway.
func (b *Bus) SetGateway(g Gateway) {
	b.gwMu.Lock()
	b.gateway = g
	b.gwMu.Unlock()
	b.post(func() {
		if g == nil {
			return
		}
		for _, e := range b.entries {
			if e.addr.Scheme == SchemeCA && len(e.subs) > 0 {
				g.Monitor(e.addr.Name)
			}
		}
	})
}

func (b *Bus) currentGateway() Gateway {
	b.gwMu.RLock()
	defer b.gwMu.RUnlock()
	return b.gateway
}

// OnUpdate registers a tap.
func (b *Bus) OnUpdate(tap Tap) {
	b.gwMu.Lock()
	b.taps = append(b.taps, tap)
	b.gwMu.Unlock()
}

// Subscribe registers l for addr and returns a func that removes it. The
// cached connection, severity and value are replayed to l first.
func (b *Bus) Subscribe(addr string, l Listener) (func(), error) {
	a, err := ParseAddress(addr)
	if err != nil {
		return nil, err
	}
	id := b.nextID.Add(1)
	b.post(func() { b.attach(a, id, l) })

	var once sync.Once
	return func() {
		once.Do(func() { b.post(func() { b.detach(a.Key(), id) }) })
	}, nil
}

// SubscriptionCount returns the number of live subscriptions.
func (b *Bus) SubscriptionCount() int64 {
	return b.subscriptions.Load()
}

func (b *Bus) attach(a Address, id uint64, l Listener) {
	e := b.lookup(a)
	e.subs = append(e.subs, subscription{id: id, listener: l})
	b.subscriptions.Add(1)
	if a.Scheme == SchemeCA && len(e.subs) == 1 {
		if g := b.currentGateway(); g != nil {
			g.Monitor(a.Name)
		}
	}

	key := a.Key()
	l.OnConnection(key, e.state.Connected)
	if e.hasSeverity {
		l.OnSeverity(key, e.state.Severity)
	}
	if el, ok := l.(EnumListener); ok && e.state.Enums != nil {
		el.OnEnums(key, e.state.Enums)
	}
	if e.hasValue {
		l.OnValue(key, e.state.Value)
	}
}

func (b *Bus) detach(key string, id uint64) {
	e, ok := b.entries[key]
	if !ok {
		return
	}
	for i, s := range e.subs {
		if s.id == id {
			e.subs = append(e.subs[:i], e.subs[i+1:]...)
			b.subscriptions.Add(-1)
			break
		}
	}
	if len(e.subs) == 0 && e.addr.Scheme == SchemeCA {
		if g := b.currentGateway(); g != nil {
			g.Unmonitor(e.addr.Name)
		}
	}
}

// lookup returns the entry for a, creating it on first use. Local
// channels are connected from birth and take their initial value from the
// first address that declares one.
func (b *Bus) lookup(a Address) *entry {
	key := a.Key()
	e, ok := b.entries[key]
	if !ok {
		e = &entry{addr: a, state: models.ChannelValue{Address: key}}
		b.entries[key] = e
		if a.Scheme == SchemeLocal {
			e.state.Connected = true
			e.state.Timestamp = b.now()
			if a.HasInit {
				v, err := Coerce(a.Type, a.Init)
				if err != nil {
					b.log.Warn("bad local channel init value", "address", key, "error", err)
				} else {
					e.state.Value = v
					e.hasValue = true
				}
			}
			b.publish(e)
		}
		return e
	}
	if a.Scheme != SchemeLocal {
		return e
	}
	if e.addr.Type == "" && a.Type != "" {
		e.addr.Type = a.Type
	}
	if !e.hasValue && a.HasInit {
		if v, err := Coerce(e.addr.Type, a.Init); err == nil {
			e.state.Value = v
			e.hasValue = true
			b.publish(e)
			for _, s := range e.snapshotSubs() {
				s.listener.OnValue(key, v)
			}
		}
	}
	return e
}

// publish stores the snapshot and runs taps.
func (b *Bus) publish(e *entry) {
	b.snapMu.Lock()
	b.snapshot[e.state.Address] = e.state
	b.snapMu.Unlock()

	b.gwMu.RLock()
	taps := b.taps
	b.gwMu.RUnlock()
	for _, tap := range taps {
		tap(e.state)
	}
}

// Update delivers a new value for addr. Gateways call this for every
// monitor event; the value is fanned out to all subscribers.
func (b *Bus) Update(addr string, value any) error {
	a, err := ParseAddress(addr)
	if err != nil {
		return err
	}
	b.post(func() {
		e := b.lookup(a)
		if a.Scheme == SchemeLocal {
			v, err := Coerce(e.addr.Type, value)
			if err != nil {
				b.log.Warn("dropping local channel write", "address", a.Key(), "error", err)
				return
			}
			value = v
		}
		e.state.Value = value
		e.state.Timestamp = b.now()
		e.hasValue = true
		b.publish(e)
		for _, s := range e.snapshotSubs() {
			s.listener.OnValue(a.Key(), value)
		}
	})
	return nil
}

// SetConnection delivers a connection change for addr.
func (b *Bus) SetConnection(addr string, connected bool) error {
	a, err := ParseAddress(addr)
	if err != nil {
		return err
	}
	b.post(func() {
		e := b.lookup(a)
		e.state.Connected = connected
		e.state.Timestamp = b.now()
		b.publish(e)
		for _, s := range e.snapshotSubs() {
			s.listener.OnConnection(a.Key(), connected)
		}
	})
	return nil
}

// SetSeverity delivers an alarm severity change for addr.
func (b *Bus) SetSeverity(addr string, severity models.Severity) error {
	a, err := ParseAddress(addr)
	if err != nil {
		return err
	}
	b.post(func() {
		e := b.lookup(a)
		e.state.Severity = severity
		e.hasSeverity = true
		b.publish(e)
		for _, s := range e.snapshotSubs() {
			s.listener.OnSeverity(a.Key(), severity)
		}
	})
	return nil
}

// SetEnums delivers the state strings of an enumerated channel.
func (b *Bus) SetEnums(addr string, enums []string) error {
	a, err := ParseAddress(addr)
	if err != nil {
		return err
	}
	enums = append([]string{}, enums...)
	b.post(func() {
		e := b.lookup(a)
		e.state.Enums = enums
		b.publish(e)
		for _, s := range e.snapshotSubs() {
			if el, ok := s.listener.(EnumListener); ok {
				el.OnEnums(a.Key(), enums)
			}
		}
	})
	return nil
}

// Put writes value to addr. Local channels are updated in process; Channel
// Access writes are handed to the gateway, which reports the new value back
// through Update once the IOC accepts it.
func (b *Bus) Put(addr string, value any) error {
	a, err := ParseAddress(addr)
	if err != nil {
		return err
	}
	if a.Scheme == SchemeLocal {
		return b.Update(addr, value)
	}
	g := b.currentGateway()
	if g == nil {
		return fmt.Errorf("put %s: %w", a.Key(), ErrNoGateway)
	}
	if err := g.Put(a.Name, value); err != nil {
		return fmt.Errorf("put %s: %w", a.Key(), err)
	}
	return nil
}

// Get returns the last known state of addr.
func (b *Bus) Get(addr string) (models.ChannelValue, bool) {
	a, err := ParseAddress(addr)
	if err != nil {
		return models.ChannelValue{}, false
	}
	b.snapMu.RLock()
	defer b.snapMu.RUnlock()
	v, ok := b.snapshot[a.Key()]
	return v, ok
}

// Snapshot returns the last known state of every channel, sorted by address.
func (b *Bus) Snapshot() []models.ChannelValue {
	b.snapMu.RLock()
	out := make([]models.ChannelValue, 0, len(b.snapshot))
	for _, v := range b.snapshot {
		out = append(out, v)
	}
	b.snapMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// snapshotSubs copies the subscriber list so callbacks may unsubscribe.
func (e *entry) snapshotSubs() []subscription {
	out := make([]subscription, len(e.subs))
	copy(out, e.subs)
	return out
}
