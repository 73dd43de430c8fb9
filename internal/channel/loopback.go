package channel

import (
	"sync"
)

// Loopback is a soft IOC gateway. Every monitored name connects at once
// and writes are echoed back as updates, which is enough to drive the
// displays without a control system.
type Loopback struct {
	bus *Bus

	mu        sync.Mutex
	values    map[string]any
	enums     map[string][]string
	monitored map[string]bool
	puts      []Write
}

// Write records a Put seen by the loopback gateway.
type Write struct {
	Name  string
	Value any
}

// NewLoopback creates a loopback gateway and attaches it to bus.
func NewLoopback(bus *Bus) *Loopback {
	l := &Loopback{
		bus:       bus,
		values:    make(map[string]any),
		enums:     make(map[string][]string),
		monitored: make(map[string]bool),
	}
	bus.SetGateway(l)
	return l
}

// Seed sets the value a name reports, pushing it immediately if the name
// is monitored.
func (l *Loopback) Seed(name string, value any) {
	l.mu.Lock()
	l.values[name] = value
	monitored := l.monitored[name]
	l.mu.Unlock()
	if monitored {
		_ = l.bus.Update(CA(name), value)
	}
}

// SeedEnums sets the state strings a name reports.
func (l *Loopback) SeedEnums(name string, enums []string) {
	l.mu.Lock()
	l.enums[name] = enums
	monitored := l.monitored[name]
	l.mu.Unlock()
	if monitored {
		_ = l.bus.SetEnums(CA(name), enums)
	}
}

// Monitor implements Gateway.
func (l *Loopback) Monitor(name string) {
	l.mu.Lock()
	l.monitored[name] = true
	value, ok := l.values[name]
	enums := l.enums[name]
	l.mu.Unlock()

	_ = l.bus.SetConnection(CA(name), true)
	if enums != nil {
		_ = l.bus.SetEnums(CA(name), enums)
	}
	if ok {
		_ = l.bus.Update(CA(name), value)
	}
}

// Unmonitor implements Gateway.
func (l *Loopback) Unmonitor(name string) {
	l.mu.Lock()
	delete(l.monitored, name)
	l.mu.Unlock()
}

// Put implements Gateway.
func (l *Loopback) Put(name string, value any) error {
	l.mu.Lock()
	l.values[name] = value
	l.puts = append(l.puts, Write{Name: name, Value: value})
	l.mu.Unlock()
	return l.bus.Update(CA(name), value)
}

// Writes returns every Put in order.
func (l *Loopback) Writes() []Write {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Write, len(l.puts))
	copy(out, l.puts)
	return out
}

// Monitored reports whether name currently has subscribers.
func (l *Loopback) Monitored(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.monitored[name]
}
