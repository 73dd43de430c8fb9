package display

import (
	"sort"
	"sync"

	"github.com/pcdshub/pmps-ui/internal/models"
)

// maxMessages bounds the operator message log kept per view.
const maxMessages = 20

// View holds the render state of one display. Displays mutate it from bus
// callbacks; HTTP and WebSocket readers take snapshots.
type View struct {
	name string

	mu       sync.RWMutex
	version  uint64
	widgets  map[string]models.WidgetState
	tables   map[string][]models.TableRow
	messages []string

	watchMu  sync.Mutex
	watchers map[int]chan struct{}
	nextID   int
}

// NewView creates an empty view for the named display.
func NewView(name string) *View {
	return &View{
		name:     name,
		widgets:  make(map[string]models.WidgetState),
		tables:   make(map[string][]models.TableRow),
		watchers: make(map[int]chan struct{}),
	}
}

// Name returns the display name.
func (v *View) Name() string {
	return v.name
}

// Widget returns the state of a widget. Unknown widgets read as visible
// and enabled with no content.
func (v *View) Widget(id string) models.WidgetState {
	v.mu.RLock()
	defer v.mu.RUnlock()
	w, ok := v.widgets[id]
	if !ok {
		return newWidget(id)
	}
	return w
}

// Update applies fn to a widget and notifies watchers.
func (v *View) Update(id string, fn func(w *models.WidgetState)) {
	v.mu.Lock()
	w, ok := v.widgets[id]
	if !ok {
		w = newWidget(id)
	}
	fn(&w)
	v.widgets[id] = w
	v.version++
	v.mu.Unlock()
	v.notify()
}

func (v *View) SetText(id, text string) {
	v.Update(id, func(w *models.WidgetState) { w.Text = text })
}

func (v *View) SetTooltip(id, tooltip string) {
	v.Update(id, func(w *models.WidgetState) { w.Tooltip = tooltip })
}

func (v *View) SetVisible(id string, visible bool) {
	v.Update(id, func(w *models.WidgetState) { w.Visible = visible })
}

func (v *View) SetEnabled(id string, enabled bool) {
	v.Update(id, func(w *models.WidgetState) { w.Enabled = enabled })
}

func (v *View) SetColor(id, color string) {
	v.Update(id, func(w *models.WidgetState) { w.Color = color })
}

func (v *View) SetChecked(id string, checked bool) {
	v.Update(id, func(w *models.WidgetState) { w.Checked = checked })
}

func (v *View) SetCurrentIndex(id string, index int) {
	v.Update(id, func(w *models.WidgetState) { w.CurrentIndex = index })
}

func (v *View) SetItems(id string, items []string) {
	cp := append([]string(nil), items...)
	v.Update(id, func(w *models.WidgetState) { w.Items = cp })
}

// SetTable replaces the rows of a table widget.
func (v *View) SetTable(name string, rows []models.TableRow) {
	v.mu.Lock()
	v.tables[name] = rows
	v.version++
	v.mu.Unlock()
	v.notify()
}

// Table returns a copy of a table's rows in display order.
func (v *View) Table(name string) []models.TableRow {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return copyRows(v.tables[name])
}

// Notify appends an operator-facing message, such as a failed action.
func (v *View) Notify(message string) {
	v.mu.Lock()
	v.messages = append(v.messages, message)
	if len(v.messages) > maxMessages {
		v.messages = v.messages[len(v.messages)-maxMessages:]
	}
	v.version++
	v.mu.Unlock()
	v.notify()
}

// Messages returns the operator messages, oldest first.
func (v *View) Messages() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]string(nil), v.messages...)
}

// Version increases on every change.
func (v *View) Version() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.version
}

// Snapshot copies the whole view.
func (v *View) Snapshot() models.ViewSnapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	snap := models.ViewSnapshot{
		Display:  v.name,
		Version:  v.version,
		Widgets:  make(map[string]models.WidgetState, len(v.widgets)),
		Tables:   make(map[string][]models.TableRow, len(v.tables)),
		Messages: append([]string(nil), v.messages...),
	}
	for id, w := range v.widgets {
		w.Items = append([]string(nil), w.Items...)
		snap.Widgets[id] = w
	}
	for name, rows := range v.tables {
		snap.Tables[name] = copyRows(rows)
	}
	return snap
}

// WidgetIDs returns the ids of all widgets, sorted.
func (v *View) WidgetIDs() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	ids := make([]string, 0, len(v.widgets))
	for id := range v.widgets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Watch returns a channel that receives a signal after changes. Signals
// coalesce, so a slow reader sees one pending signal for many changes.
// The returned func stops the watch.
func (v *View) Watch() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	v.watchMu.Lock()
	id := v.nextID
	v.nextID++
	v.watchers[id] = ch
	v.watchMu.Unlock()
	return ch, func() {
		v.watchMu.Lock()
		delete(v.watchers, id)
		v.watchMu.Unlock()
	}
}

func (v *View) notify() {
	v.watchMu.Lock()
	defer v.watchMu.Unlock()
	for _, ch := range v.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func newWidget(id string) models.WidgetState {
	return models.WidgetState{ID: id, Visible: true, Enabled: true}
}

func copyRows(rows []models.TableRow) []models.TableRow {
	if rows == nil {
		return nil
	}
	out := make([]models.TableRow, len(rows))
	for i, r := range rows {
		cells := make(map[string]any, len(r.Cells))
		for k, c := range r.Cells {
			cells[k] = c
		}
		out[i] = models.TableRow{Key: r.Key, Visible: r.Visible, Cells: cells}
	}
	return out
}
