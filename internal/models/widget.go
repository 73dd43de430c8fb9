package models

// Colors used by display widgets.
const (
	ColorDefault = ""
	ColorBlack   = "black"
	ColorRed     = "red"
	ColorGreen   = "green"
	ColorYellow  = "yellow"
	ColorGray    = "gray"
)

// WidgetState is the render state of one widget of a display.
type WidgetState struct {
	ID           string   `json:"id" msgpack:"id"`
	Text         string   `json:"text,omitempty" msgpack:"text,omitempty"`
	Tooltip      string   `json:"tooltip,omitempty" msgpack:"tooltip,omitempty"`
	Visible      bool     `json:"visible" msgpack:"visible"`
	Enabled      bool     `json:"enabled" msgpack:"enabled"`
	Color        string   `json:"color,omitempty" msgpack:"color,omitempty"`
	Checked      bool     `json:"checked" msgpack:"checked"`
	CurrentIndex int      `json:"currentIndex" msgpack:"currentIndex"`
	Items        []string `json:"items,omitempty" msgpack:"items,omitempty"`
}

// TableRow is one row of a dynamically populated table widget.
type TableRow struct {
	Key     string         `json:"key" msgpack:"key"`
	Visible bool           `json:"visible" msgpack:"visible"`
	Cells   map[string]any `json:"cells" msgpack:"cells"`
}

// ViewSnapshot is a point-in-time copy of a display's widgets.
type ViewSnapshot struct {
	Display  string                 `json:"display" msgpack:"display"`
	Version  uint64                 `json:"version" msgpack:"version"`
	Widgets  map[string]WidgetState `json:"widgets" msgpack:"widgets"`
	Tables   map[string][]TableRow  `json:"tables,omitempty" msgpack:"tables,omitempty"`
	Messages []string               `json:"messages,omitempty" msgpack:"messages,omitempty"`
}
