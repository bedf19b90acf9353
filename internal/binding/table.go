package binding

import "macrod/internal/evdev"

// Table owns a device identity, an ordered row sequence, and the current
// active layer. Row order is semantically significant: it is the firing
// order for rows in the same layer matching the same event, and it is
// preserved across save and load.
type Table struct {
	Identity    Identity
	DisplayName string
	ActiveLayer string
	Rows        []*Row

	// editBackup holds the pre-edit row sequence while an edit session
	// is open, so cancel restores it.
	editBackup []*Row
}

// NewTable creates an empty table in the default layer.
func NewTable() *Table {
	return &Table{
		DisplayName: "new-device",
		ActiveLayer: DefaultLayer,
	}
}

// ResetLayer returns the table to the default layer. Called on every
// load or create; the active layer is session state, never persisted.
func (t *Table) ResetLayer() {
	t.ActiveLayer = DefaultLayer
}

// EventMatch scans rows in stored order and fires every row whose layer
// equals the active layer at the moment that row is evaluated and whose
// pattern matches the event. An assign_layer row mutates the active
// layer immediately, so later rows in the same scan are evaluated
// against the new layer: one event can switch layers and then trigger a
// layer-specific action in a single pass. All matching rows fire; there
// is no first-match cutoff.
func (t *Table) EventMatch(ev evdev.Event, sink TriggerSink) []Fired {
	var fired []Fired
	for _, r := range t.Rows {
		if r.Layer != t.ActiveLayer {
			continue
		}
		if !r.Matches(ev) {
			continue
		}
		fired = append(fired, r.fire(t, sink))
	}
	return fired
}

// AddRow appends a row to the table's ordered sequence.
func (t *Table) AddRow(r *Row) {
	t.Rows = append(t.Rows, r)
}

// RemoveRow deletes the row at index i, preserving order.
func (t *Table) RemoveRow(i int) {
	if i < 0 || i >= len(t.Rows) {
		return
	}
	t.Rows = append(t.Rows[:i], t.Rows[i+1:]...)
}

// BeginEdit snapshots the row sequence for a possible rollback.
func (t *Table) BeginEdit() {
	t.editBackup = make([]*Row, len(t.Rows))
	for i, r := range t.Rows {
		t.editBackup[i] = r.Clone()
	}
}

// CommitEdit keeps the edited rows and drops the snapshot.
func (t *Table) CommitEdit() {
	t.editBackup = nil
}

// RollbackEdit restores the pre-edit row sequence.
func (t *Table) RollbackEdit() {
	if t.editBackup == nil {
		return
	}
	t.Rows = t.editBackup
	t.editBackup = nil
}

// Equal reports structural equality: identity, display name, and the
// full row sequence in order. Active layer is excluded; it is reset on
// load by definition.
func (t *Table) Equal(other *Table) bool {
	if !t.Identity.Equal(other.Identity) {
		return false
	}
	if t.DisplayName != other.DisplayName {
		return false
	}
	if len(t.Rows) != len(other.Rows) {
		return false
	}
	for i := range t.Rows {
		if !t.Rows[i].Equal(other.Rows[i]) {
			return false
		}
	}
	return true
}
