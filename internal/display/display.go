// Package display holds the headless operator displays. Each display owns a
// View and mutates it only from channel bus callbacks or from actions run
// on the bus goroutine, so display state needs no locking of its own.
package display

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/pcdshub/pmps-ui/internal/beamclass"
	"github.com/pcdshub/pmps-ui/internal/channel"
	"github.com/pcdshub/pmps-ui/internal/models"
)

// Display names.
const (
	NameSummary            = "summary"
	NameLineBeamParameters = "line_beam_parameters"
	NameArbiterOutputs     = "arbiter_outputs"
	NameFastFaults         = "fast_faults"
	NamePreemptiveRequests = "preemptive_requests"
	NamePLCStatus          = "plc_ioc_status"
	NameBeamClassTable     = "beamclass_table"
)

// Action types.
const (
	ActionCheck        = "check"
	ActionSelect       = "select"
	ActionZeroRate     = "zeroRate"
	ActionApply        = "apply"
	ActionTransmission = "transmission"
	ActionSort         = "sort"
	ActionFilter       = "filter"
)

var (
	ErrUnknownDisplay = errors.New("unknown display")
	ErrUnknownAction  = errors.New("unsupported action")
	ErrUnknownWidget  = errors.New("unknown widget")
	ErrBadIndex       = errors.New("index out of range")
)

// Action is an operator interaction with a widget.
type Action struct {
	Type       string  `json:"type"`
	Widget     string  `json:"widget,omitempty"`
	Checked    bool    `json:"checked,omitempty"`
	Index      int     `json:"index,omitempty"`
	Value      float64 `json:"value,omitempty"`
	Text       string  `json:"text,omitempty"`
	Descending bool    `json:"descending,omitempty"`
}

// Display is one operator screen.
type Display interface {
	Name() string
	View() *View
	// Apply runs on the bus goroutine.
	Apply(a Action) error
	Close()
}

// Options carries what every display is built from.
type Options struct {
	Bus    *channel.Bus
	Table  *beamclass.Table
	Line   *models.LineConfig
	Logger hclog.Logger

	// LocalScope prefixes loc:// names so sessions do not share local
	// channels.
	LocalScope string

	// RetryInterval paces the zero-rate apply check. Defaults to 100ms.
	RetryInterval time.Duration

	// Now is the client clock used for the arbiter clock delta.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = hclog.NewNullLogger()
	}
	if o.Table == nil {
		o.Table = beamclass.Default()
	}
	if o.Line == nil {
		o.Line = &models.LineConfig{}
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 100 * time.Millisecond
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Names lists the displays New can build, in tab order.
func Names() []string {
	return []string{
		NameSummary,
		NameFastFaults,
		NamePreemptiveRequests,
		NameArbiterOutputs,
		NameLineBeamParameters,
		NamePLCStatus,
		NameBeamClassTable,
	}
}

// New builds the named display.
func New(name string, opts Options) (Display, error) {
	switch name {
	case NameSummary:
		return NewSummary(opts), nil
	case NameLineBeamParameters:
		return NewLineBeamParameters(opts), nil
	case NameArbiterOutputs:
		return NewArbiterOutputs(opts), nil
	case NameFastFaults:
		return NewFastFaults(opts), nil
	case NamePreemptiveRequests:
		return NewPreemptiveRequests(opts), nil
	case NamePLCStatus:
		return NewPLCStatus(opts), nil
	case NameBeamClassTable:
		return NewBeamClassTable(opts), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownDisplay, name)
}

// Open builds the named display on the bus goroutine so that no channel
// callback can run before construction finishes.
func Open(ctx context.Context, name string, opts Options) (Display, error) {
	if opts.Bus == nil {
		return nil, errors.New("display: options carry no bus")
	}
	type result struct {
		d   Display
		err error
	}
	done := make(chan result, 1)
	opts.Bus.Do(func() {
		d, err := New(name, opts)
		done <- result{d, err}
	})
	select {
	case <-ctx.Done():
		// the display may still be built later; close it once it is
		go func() {
			if r := <-done; r.d != nil {
				r.d.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-done:
		return r.d, r.err
	}
}

// Dispatch runs a.Apply on the bus goroutine and waits for the result.
func Dispatch(ctx context.Context, bus *channel.Bus, d Display, a Action) error {
	done := make(chan error, 1)
	bus.Do(func() { done <- d.Apply(a) })
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// base is the plumbing shared by all displays.
type base struct {
	name  string
	opts  Options
	bus   *channel.Bus
	table *beamclass.Table
	line  *models.LineConfig
	log   hclog.Logger
	view  *View

	ctx     context.Context
	cancel  context.CancelFunc
	cancels []func()
}

func newBase(name string, opts Options) base {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return base{
		name:   name,
		opts:   opts,
		bus:    opts.Bus,
		table:  opts.Table,
		line:   opts.Line,
		log:    opts.Logger.Named(name),
		view:   NewView(name),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (b *base) Name() string { return b.name }

func (b *base) View() *View { return b.view }

// Close drops every subscription and stops background work.
func (b *base) Close() {
	b.cancel()
	for _, c := range b.cancels {
		c()
	}
	b.cancels = nil
}

func (b *base) subscribe(addr string, l channel.Listener) {
	cancel, err := b.bus.Subscribe(addr, l)
	if err != nil {
		b.log.Warn("subscribe failed", "address", addr, "error", err)
		return
	}
	b.cancels = append(b.cancels, cancel)
}

func (b *base) onValue(addr string, fn func(value any)) {
	b.subscribe(addr, channel.Funcs{Value: fn})
}

// put writes to a channel, surfacing failures to the operator.
func (b *base) put(addr string, value any) {
	if err := b.bus.Put(addr, value); err != nil {
		b.log.Warn("write failed", "address", addr, "error", err)
		b.view.Notify(err.Error())
	}
}

// local builds a session-scoped loc:// address.
func (b *base) local(name string, query url.Values) string {
	addr := "loc://" + b.opts.LocalScope + name
	if len(query) > 0 {
		addr += "?" + query.Encode()
	}
	return addr
}

func (b *base) arbiter() string {
	return b.line.LineArbiterPrefix
}

// setBeamClassLabel shows a beam class number with its description and the
// row tooltip.
func (b *base) setBeamClassLabel(id string, index int) {
	text := b.table.LabelText(strconv.Itoa(index))
	tip := b.table.TooltipOrEmpty(index)
	b.view.Update(id, func(w *models.WidgetState) {
		w.Text = text
		w.Tooltip = tip
	})
}

// zeroFill pads n with zeros to one more digit than end has.
func zeroFill(n, end int) string {
	width := len(strconv.Itoa(end)) + 1
	s := strconv.Itoa(n)
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}

// indexedWidget parses ids like "bit12" or "bit3_2" into their number.
func indexedWidget(id, prefix, suffix string) (int, bool) {
	if !strings.HasPrefix(id, prefix) || !strings.HasSuffix(id, suffix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(id, prefix), suffix))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
