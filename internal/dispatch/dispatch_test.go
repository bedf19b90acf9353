package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"macrod/internal/binding"
	"macrod/internal/evdev"
)

// fakeDev is a scripted input device. ReadOne pops queued events; once
// the queue is empty it returns finalErr, simulating an unplug, which
// lets Run wind down without wall-clock timeouts.
type fakeDev struct {
	mu sync.Mutex

	path string
	name string
	phys string

	events   []evdev.Event
	finalErr error

	grabbed   bool
	ungrabbed bool
	drained   bool
	failGrab  bool
}

func (d *fakeDev) Path() string { return d.path }
func (d *fakeDev) Name() string { return d.name }
func (d *fakeDev) Phys() string { return d.phys }

func (d *fakeDev) Grab() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failGrab {
		return errors.New("grab refused")
	}
	d.grabbed = true
	return nil
}

func (d *fakeDev) Ungrab() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ungrabbed = true
	return nil
}

// Drain marks the pre-grab flush without consuming the scripted queue;
// the queue stands in for events arriving after the grab.
func (d *fakeDev) Drain() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drained = true
}

func (d *fakeDev) ReadOne() (evdev.Event, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.events) > 0 {
		ev := d.events[0]
		d.events = d.events[1:]
		return ev, true, nil
	}
	if d.finalErr != nil {
		return evdev.Event{}, false, d.finalErr
	}
	return evdev.Event{}, false, nil
}

type recordingSink struct {
	mu    sync.Mutex
	calls []string
}

func (s *recordingSink) Trigger(kind binding.TriggerKind, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, fmt.Sprintf("%s:%s", kind, title))
	return nil
}

func (s *recordingSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func keyDown(name string) evdev.Event {
	code, ok := evdev.KeyCode(name)
	if !ok {
		panic("unknown key in test: " + name)
	}
	return evdev.Event{Type: evdev.EvKey, Code: code, Value: evdev.KeyPress}
}

func keyUp(name string) evdev.Event {
	ev := keyDown(name)
	ev.Value = evdev.KeyRelease
	return ev
}

func padDevice(events ...evdev.Event) *fakeDev {
	return &fakeDev{
		path:     "/dev/input/event7",
		name:     "Macro Pad",
		phys:     "usb1/1-2/input0",
		events:   events,
		finalErr: io.EOF,
	}
}

func padTable(rows ...*binding.Row) *binding.Table {
	t := binding.NewTable()
	t.DisplayName = "pad"
	t.Identity = binding.Identity{
		Mode: binding.MatchBoth,
		Name: "Macro Pad",
		Phys: "usb1/1-2/input0",
	}
	for _, r := range rows {
		t.AddRow(r)
	}
	return t
}

func TestRunFiresMatchingBindings(t *testing.T) {
	dev := padDevice(
		keyDown("KEY_F13"),
		keyUp("KEY_F13"),
		keyDown("KEY_F14"),
	)
	tbl := padTable(
		&binding.Row{Layer: "default", EventKind: binding.KeyDown, EventValue: "KEY_F13",
			TriggerKind: binding.TriggerPhrase, TriggerValue: "greeting"},
		&binding.Row{Layer: "default", EventKind: binding.KeyDown, EventValue: "KEY_F14",
			TriggerKind: binding.TriggerScript, TriggerValue: "build"},
	)

	sink := &recordingSink{}
	d := &Dispatcher{
		Tables:       []*binding.Table{tbl},
		Devices:      []Device{dev},
		Sink:         sink,
		PollInterval: time.Millisecond,
	}

	err := d.Run(context.Background())
	if !errors.Is(err, ErrNoDevices) {
		t.Fatalf("Run returned %v, want ErrNoDevices after the device went away", err)
	}

	want := []string{"phrase:greeting", "script:build"}
	got := sink.snapshot()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("sink calls %v, want %v", got, want)
	}

	if !dev.drained {
		t.Error("device was not drained before dispatch")
	}
	if !dev.grabbed {
		t.Error("device was not grabbed")
	}
	if !dev.ungrabbed {
		t.Error("grab was not released on exit")
	}
}

func TestRunLayerSwitchAcrossEvents(t *testing.T) {
	dev := padDevice(
		keyDown("KEY_F13"), // switches to "work"
		keyDown("KEY_F13"), // now fires the work binding
	)
	tbl := padTable(
		&binding.Row{Layer: "default", EventKind: binding.KeyDown, EventValue: "KEY_F13",
			TriggerKind: binding.TriggerAssignLayer, TriggerValue: "work"},
		&binding.Row{Layer: "work", EventKind: binding.KeyDown, EventValue: "KEY_F13",
			TriggerKind: binding.TriggerPhrase, TriggerValue: "work greeting"},
	)

	sink := &recordingSink{}
	var outcomes []binding.Outcome
	d := &Dispatcher{
		Tables:       []*binding.Table{tbl},
		Devices:      []Device{dev},
		Sink:         sink,
		PollInterval: time.Millisecond,
		OnFired: func(device string, f binding.Fired) {
			outcomes = append(outcomes, f.Outcome)
		},
	}

	d.Run(context.Background())

	// First press: layer switch, then the work row fires in the same
	// scan. Second press: only the work row.
	wantOutcomes := []binding.Outcome{
		binding.OutcomeLayerChanged, binding.OutcomeInvoked, binding.OutcomeInvoked,
	}
	if len(outcomes) != len(wantOutcomes) {
		t.Fatalf("outcomes %v, want %v", outcomes, wantOutcomes)
	}
	for i := range outcomes {
		if outcomes[i] != wantOutcomes[i] {
			t.Fatalf("outcomes %v, want %v", outcomes, wantOutcomes)
		}
	}
}

func TestRunNoResolvedDevices(t *testing.T) {
	dev := padDevice()
	tbl := padTable()
	tbl.Identity.Phys = "usb9/9-9/input9"

	d := &Dispatcher{
		Tables:  []*binding.Table{tbl},
		Devices: []Device{dev},
	}

	if err := d.Run(context.Background()); !errors.Is(err, ErrNoDevices) {
		t.Fatalf("Run returned %v, want ErrNoDevices", err)
	}
	if dev.grabbed {
		t.Error("unresolved device was grabbed")
	}
}

func TestRunResetsLayerOnStart(t *testing.T) {
	tbl := padTable()
	tbl.ActiveLayer = "leftover from last run"

	d := &Dispatcher{
		Tables:  []*binding.Table{tbl},
		Devices: []Device{padDevice()},
	}
	d.Run(context.Background())

	if tbl.ActiveLayer != binding.DefaultLayer {
		t.Errorf("active layer %q at start of run, want %q", tbl.ActiveLayer, binding.DefaultLayer)
	}
}

func TestRunSurvivesGrabFailure(t *testing.T) {
	dev := padDevice(keyDown("KEY_F13"))
	dev.failGrab = true

	tbl := padTable(&binding.Row{Layer: "default", EventKind: binding.KeyDown,
		EventValue: "KEY_F13", TriggerKind: binding.TriggerPhrase, TriggerValue: "greeting"})

	sink := &recordingSink{}
	d := &Dispatcher{
		Tables:  []*binding.Table{tbl},
		Devices: []Device{dev},
		Sink:    sink,
	}
	d.Run(context.Background())

	// Pass-through mode: events still dispatch even without the grab.
	if got := sink.snapshot(); len(got) != 1 {
		t.Errorf("sink calls %v, want one firing", got)
	}
}

func TestRunContextCancel(t *testing.T) {
	// No finalErr: the device idles forever and only cancellation ends
	// the run.
	dev := &fakeDev{path: "/dev/input/event7", name: "Macro Pad", phys: "usb1/1-2/input0"}
	tbl := padTable()

	d := &Dispatcher{
		Tables:       []*binding.Table{tbl},
		Devices:      []Device{dev},
		PollInterval: time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	dev.mu.Lock()
	defer dev.mu.Unlock()
	if !dev.ungrabbed {
		t.Error("grab was not released after cancellation")
	}
}

func TestRunTwoTablesOneDevice(t *testing.T) {
	dev := padDevice(keyDown("KEY_F13"))

	a := padTable(&binding.Row{Layer: "default", EventKind: binding.KeyDown,
		EventValue: "KEY_F13", TriggerKind: binding.TriggerPhrase, TriggerValue: "from a"})
	b := padTable(&binding.Row{Layer: "default", EventKind: binding.KeyDown,
		EventValue: "KEY_F13", TriggerKind: binding.TriggerPhrase, TriggerValue: "from b"})
	b.DisplayName = "pad-2"

	sink := &recordingSink{}
	d := &Dispatcher{
		Tables:  []*binding.Table{a, b},
		Devices: []Device{dev},
		Sink:    sink,
	}
	d.Run(context.Background())

	got := sink.snapshot()
	if len(got) != 2 || got[0] != "phrase:from a" || got[1] != "phrase:from b" {
		t.Errorf("sink calls %v, want both tables to fire in config order", got)
	}
}

func TestCaptureKeyIdentifiesDevice(t *testing.T) {
	quiet := &fakeDev{path: "/dev/input/event3", name: "Internal Keyboard", phys: "isa0060/serio0/input0"}
	pad := &fakeDev{
		path: "/dev/input/event7", name: "Macro Pad", phys: "usb1/1-2/input0",
		events: []evdev.Event{keyUp("KEY_A"), keyDown("KEY_F13")},
	}

	i, ev, err := CaptureKey(context.Background(), []Device{quiet, pad}, 0, time.Millisecond, nil)
	if err != nil {
		t.Fatalf("CaptureKey: %v", err)
	}
	if i != 1 {
		t.Errorf("captured from device %d, want 1", i)
	}
	if name, _ := evdev.KeyName(ev.Code); name != "KEY_F13" {
		t.Errorf("captured %s, want KEY_F13", name)
	}

	// The release before the press must be skipped, and every device
	// grabbed and released around the capture.
	for _, d := range []*fakeDev{quiet, pad} {
		if !d.drained || !d.grabbed || !d.ungrabbed {
			t.Errorf("%s: drained=%v grabbed=%v ungrabbed=%v",
				d.path, d.drained, d.grabbed, d.ungrabbed)
		}
	}
}

func TestCaptureKeyHonorsCancellation(t *testing.T) {
	silent := &fakeDev{path: "/dev/input/event3", name: "Quiet", phys: "x"}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := CaptureKey(ctx, []Device{silent}, 0, time.Millisecond, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("CaptureKey returned %v, want deadline exceeded", err)
	}
	if !silent.ungrabbed {
		t.Error("grab not released after timeout")
	}
}
