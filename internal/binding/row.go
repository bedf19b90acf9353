package binding

import (
	"fmt"

	"macrod/internal/evdev"
)

// DefaultLayer is the layer every table starts in on load.
const DefaultLayer = "default"

// EventKind selects how a row's event value is compared against input.
type EventKind int

const (
	// KeyDown matches a key press by kernel key name (KEY_A, ...).
	KeyDown EventKind = iota
	// ScanDown matches a key press by raw scan code, for keys the
	// kernel has no name for.
	ScanDown
)

// String returns the wire form of the event kind.
func (k EventKind) String() string {
	switch k {
	case KeyDown:
		return "keydown"
	case ScanDown:
		return "scandown"
	default:
		return "unknown"
	}
}

// ParseEventKind parses the wire form of an event kind.
func ParseEventKind(s string) (EventKind, error) {
	switch s {
	case "keydown":
		return KeyDown, nil
	case "scandown":
		return ScanDown, nil
	default:
		return 0, fmt.Errorf("unknown event kind: %q", s)
	}
}

// TriggerKind selects what firing a row does.
type TriggerKind int

const (
	// TriggerPhrase invokes the sink in phrase mode.
	TriggerPhrase TriggerKind = iota
	// TriggerScript invokes the sink in script mode.
	TriggerScript
	// TriggerFolder invokes the sink in folder-popup mode.
	TriggerFolder
	// TriggerAssignLayer switches the owning table's active layer.
	TriggerAssignLayer
)

// String returns the wire form of the trigger kind.
func (k TriggerKind) String() string {
	switch k {
	case TriggerPhrase:
		return "phrase"
	case TriggerScript:
		return "script"
	case TriggerFolder:
		return "folder"
	case TriggerAssignLayer:
		return "assign_layer"
	default:
		return "unknown"
	}
}

// ParseTriggerKind parses the wire form of a trigger kind.
func ParseTriggerKind(s string) (TriggerKind, error) {
	switch s {
	case "phrase":
		return TriggerPhrase, nil
	case "script":
		return TriggerScript, nil
	case "folder":
		return TriggerFolder, nil
	case "assign_layer":
		return TriggerAssignLayer, nil
	default:
		return 0, fmt.Errorf("unknown trigger kind: %q", s)
	}
}

// Row is one declarative rule: an (event pattern, layer) pair and the
// trigger it fires. Rows are exclusively owned by one Table.
type Row struct {
	Layer        string
	EventKind    EventKind
	EventValue   string
	TriggerKind  TriggerKind
	TriggerValue string
}

// Matches reports whether the event satisfies this row's pattern.
// Only key press transitions qualify; releases, autorepeat, and
// non-key events (pointer, axis, LED) never match.
func (r *Row) Matches(ev evdev.Event) bool {
	if !ev.IsKeyDown() {
		return false
	}
	switch r.EventKind {
	case KeyDown:
		name, ok := evdev.KeyName(ev.Code)
		return ok && name == r.EventValue
	case ScanDown:
		return evdev.ScanValue(ev.Code) == r.EventValue
	default:
		return false
	}
}

// Outcome classifies what happened when a row fired.
type Outcome int

const (
	// OutcomeInvoked means the sink process was started; its exit
	// status is deliberately not surfaced.
	OutcomeInvoked Outcome = iota
	// OutcomeStartFailed means the sink invocation could not start.
	// The dispatch loop continues regardless.
	OutcomeStartFailed
	// OutcomeLayerChanged means the row switched the table's active layer.
	OutcomeLayerChanged
)

// String returns a short label for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeInvoked:
		return "invoked"
	case OutcomeStartFailed:
		return "start_failed"
	case OutcomeLayerChanged:
		return "layer_changed"
	default:
		return "unknown"
	}
}

// Fired records one row firing, for the observability hook.
type Fired struct {
	Row     *Row
	Outcome Outcome
	Err     error
}

// fire performs the row's trigger against its owning table. Sink
// failures are captured in the result, never returned as errors.
func (r *Row) fire(t *Table, sink TriggerSink) Fired {
	if r.TriggerKind == TriggerAssignLayer {
		t.ActiveLayer = r.TriggerValue
		return Fired{Row: r, Outcome: OutcomeLayerChanged}
	}
	if sink == nil {
		return Fired{Row: r, Outcome: OutcomeStartFailed, Err: fmt.Errorf("no trigger sink configured")}
	}
	if err := sink.Trigger(r.TriggerKind, r.TriggerValue); err != nil {
		return Fired{Row: r, Outcome: OutcomeStartFailed, Err: err}
	}
	return Fired{Row: r, Outcome: OutcomeInvoked}
}

// Clone returns a copy of the row.
func (r *Row) Clone() *Row {
	c := *r
	return &c
}

// Equal reports field-for-field equality.
func (r *Row) Equal(other *Row) bool {
	return r.Layer == other.Layer &&
		r.EventKind == other.EventKind &&
		r.EventValue == other.EventValue &&
		r.TriggerKind == other.TriggerKind &&
		r.TriggerValue == other.TriggerValue
}

// String renders the row for operator display.
func (r *Row) String() string {
	return fmt.Sprintf("(layer) %s / (event) %s %s / (trigger) %s %s",
		r.Layer, r.EventKind, r.EventValue, r.TriggerKind, r.TriggerValue)
}
