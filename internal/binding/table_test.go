package binding

import (
	"errors"
	"fmt"
	"testing"

	"macrod/internal/evdev"
)

// recordingSink captures trigger invocations in order.
type recordingSink struct {
	calls []string
	err   error
}

func (s *recordingSink) Trigger(kind TriggerKind, title string) error {
	s.calls = append(s.calls, fmt.Sprintf("%s:%s", kind, title))
	return s.err
}

func keyDown(name string) evdev.Event {
	code, ok := evdev.KeyCode(name)
	if !ok {
		panic("unknown key in test: " + name)
	}
	return evdev.Event{Type: evdev.EvKey, Code: code, Value: evdev.KeyPress}
}

func phraseRow(layer, key, title string) *Row {
	return &Row{Layer: layer, EventKind: KeyDown, EventValue: key, TriggerKind: TriggerPhrase, TriggerValue: title}
}

func TestEventMatchFiresAllMatchingRows(t *testing.T) {
	tbl := NewTable()
	tbl.AddRow(phraseRow("default", "KEY_A", "first"))
	tbl.AddRow(phraseRow("default", "KEY_B", "wrong key"))
	tbl.AddRow(phraseRow("default", "KEY_A", "second"))

	sink := &recordingSink{}
	fired := tbl.EventMatch(keyDown("KEY_A"), sink)

	if len(fired) != 2 {
		t.Fatalf("fired %d rows, want 2", len(fired))
	}
	// No first-match cutoff, and stored order is firing order.
	if sink.calls[0] != "phrase:first" || sink.calls[1] != "phrase:second" {
		t.Errorf("fired in order %v", sink.calls)
	}
}

func TestEventMatchOnlyActiveLayerFires(t *testing.T) {
	tbl := NewTable()
	tbl.AddRow(phraseRow("default", "KEY_A", "default action"))
	tbl.AddRow(phraseRow("gaming", "KEY_A", "gaming action"))

	sink := &recordingSink{}
	fired := tbl.EventMatch(keyDown("KEY_A"), sink)

	if len(fired) != 1 || sink.calls[0] != "phrase:default action" {
		t.Fatalf("fired %v, want only the default layer row", sink.calls)
	}

	tbl.ActiveLayer = "gaming"
	sink.calls = nil
	tbl.EventMatch(keyDown("KEY_A"), sink)
	if len(sink.calls) != 1 || sink.calls[0] != "phrase:gaming action" {
		t.Fatalf("fired %v, want only the gaming layer row", sink.calls)
	}
}

func TestEventMatchMidScanLayerSwitch(t *testing.T) {
	// A single key press can switch the layer and then fire a row from
	// the new layer: the layer check happens per row at evaluation
	// time, not once per event.
	tbl := NewTable()
	tbl.AddRow(&Row{Layer: "default", EventKind: KeyDown, EventValue: "KEY_A",
		TriggerKind: TriggerAssignLayer, TriggerValue: "work"})
	tbl.AddRow(phraseRow("work", "KEY_A", "work greeting"))

	sink := &recordingSink{}
	fired := tbl.EventMatch(keyDown("KEY_A"), sink)

	if len(fired) != 2 {
		t.Fatalf("fired %d rows, want 2", len(fired))
	}
	if fired[0].Outcome != OutcomeLayerChanged {
		t.Errorf("first outcome %v, want layer change", fired[0].Outcome)
	}
	if fired[1].Outcome != OutcomeInvoked {
		t.Errorf("second outcome %v, want invoked", fired[1].Outcome)
	}
	if len(sink.calls) != 1 || sink.calls[0] != "phrase:work greeting" {
		t.Errorf("sink calls %v", sink.calls)
	}
	if tbl.ActiveLayer != "work" {
		t.Errorf("active layer %q after scan, want work", tbl.ActiveLayer)
	}
}

func TestEventMatchLayerSwitchDoesNotRevisitEarlierRows(t *testing.T) {
	// Rows before the switch stay evaluated against the old layer.
	tbl := NewTable()
	tbl.AddRow(phraseRow("work", "KEY_A", "earlier work row"))
	tbl.AddRow(&Row{Layer: "default", EventKind: KeyDown, EventValue: "KEY_A",
		TriggerKind: TriggerAssignLayer, TriggerValue: "work"})

	sink := &recordingSink{}
	fired := tbl.EventMatch(keyDown("KEY_A"), sink)

	if len(fired) != 1 || fired[0].Outcome != OutcomeLayerChanged {
		t.Fatalf("fired %d rows (%v), want just the layer switch", len(fired), sink.calls)
	}
}

func TestEventMatchSinkFailureIsCapturedNotFatal(t *testing.T) {
	tbl := NewTable()
	tbl.AddRow(phraseRow("default", "KEY_A", "broken"))
	tbl.AddRow(phraseRow("default", "KEY_A", "still fires"))

	sink := &recordingSink{err: errors.New("exec: not found")}
	fired := tbl.EventMatch(keyDown("KEY_A"), sink)

	if len(fired) != 2 {
		t.Fatalf("fired %d rows, want 2", len(fired))
	}
	for _, f := range fired {
		if f.Outcome != OutcomeStartFailed {
			t.Errorf("outcome %v, want start_failed", f.Outcome)
		}
		if f.Err == nil {
			t.Error("start failure carried no error")
		}
	}
}

func TestEventMatchIgnoresReleaseAndRepeat(t *testing.T) {
	tbl := NewTable()
	tbl.AddRow(phraseRow("default", "KEY_A", "pressed"))

	code, _ := evdev.KeyCode("KEY_A")
	sink := &recordingSink{}

	release := evdev.Event{Type: evdev.EvKey, Code: code, Value: evdev.KeyRelease}
	repeat := evdev.Event{Type: evdev.EvKey, Code: code, Value: evdev.KeyRepeat}
	axis := evdev.Event{Type: evdev.EvRel, Code: code, Value: evdev.KeyPress}

	for _, ev := range []evdev.Event{release, repeat, axis} {
		if fired := tbl.EventMatch(ev, sink); len(fired) != 0 {
			t.Errorf("event %+v fired %d rows", ev, len(fired))
		}
	}
}

func TestResetLayer(t *testing.T) {
	tbl := NewTable()
	tbl.ActiveLayer = "work"
	tbl.ResetLayer()
	if tbl.ActiveLayer != DefaultLayer {
		t.Errorf("active layer %q, want %q", tbl.ActiveLayer, DefaultLayer)
	}
}

func TestEditSessionRollback(t *testing.T) {
	tbl := NewTable()
	tbl.AddRow(phraseRow("default", "KEY_A", "keep me"))

	tbl.BeginEdit()
	tbl.AddRow(phraseRow("default", "KEY_B", "scratch"))
	tbl.RemoveRow(0)
	tbl.RollbackEdit()

	if len(tbl.Rows) != 1 || tbl.Rows[0].TriggerValue != "keep me" {
		t.Fatalf("rollback left rows %v", tbl.Rows)
	}
}

func TestEditSessionCommit(t *testing.T) {
	tbl := NewTable()
	tbl.AddRow(phraseRow("default", "KEY_A", "original"))

	tbl.BeginEdit()
	tbl.AddRow(phraseRow("default", "KEY_B", "added"))
	tbl.CommitEdit()

	// Rollback after commit is a no-op.
	tbl.RollbackEdit()
	if len(tbl.Rows) != 2 {
		t.Fatalf("commit kept %d rows, want 2", len(tbl.Rows))
	}
}

func TestTableEqualIgnoresActiveLayer(t *testing.T) {
	a := NewTable()
	a.DisplayName = "pad"
	a.AddRow(phraseRow("default", "KEY_A", "x"))

	b := NewTable()
	b.DisplayName = "pad"
	b.AddRow(phraseRow("default", "KEY_A", "x"))
	b.ActiveLayer = "work"

	if !a.Equal(b) {
		t.Error("tables differing only in active layer should be equal")
	}

	b.Rows[0].TriggerValue = "y"
	if a.Equal(b) {
		t.Error("tables with different rows compared equal")
	}
}
