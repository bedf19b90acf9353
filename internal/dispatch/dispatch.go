// Package dispatch runs the event loop: it resolves binding tables onto
// live input devices, grabs them, and routes key events through the
// matching engine until the context is cancelled.
package dispatch

import (
	"context"
	"errors"
	"time"

	"macrod/internal/binding"
	"macrod/internal/evdev"
	"macrod/internal/logging"
)

// Device is the input handle the dispatcher drives. *evdev.Device
// satisfies it; tests substitute scripted fakes.
type Device interface {
	Path() string
	Name() string
	Phys() string
	Grab() error
	Ungrab() error
	Drain()
	ReadOne() (evdev.Event, bool, error)
}

// ErrNoDevices means no configured device could be resolved against the
// current session, so there is nothing to dispatch.
var ErrNoDevices = errors.New("no configured device is present")

// route pairs one resolved device with the tables bound to it.
type route struct {
	dev    Device
	tables []*binding.Table
	dead   bool
}

// Dispatcher owns one run-loop invocation. It borrows the devices; the
// session that opened them closes them.
type Dispatcher struct {
	Tables  []*binding.Table
	Devices []Device
	Sink    binding.TriggerSink
	Log     *logging.Logger

	// PollInterval is the idle delay between polling passes.
	PollInterval time.Duration

	// SettleDelay runs before draining so the keystrokes that started
	// the loop (typically the Enter that picked a menu item) are not
	// matched as macro input.
	SettleDelay time.Duration

	// OnFired observes every row firing. Optional; used for history,
	// notifications, and anything else that wants the outcome.
	OnFired func(device string, f binding.Fired)
}

// Run resolves tables onto devices, grabs the resolved devices, and
// dispatches events until ctx is cancelled. Grabs are always released
// before returning; device handles stay open for the owner to close.
func (d *Dispatcher) Run(ctx context.Context) error {
	log := d.Log
	if log == nil {
		log = logging.Default()
	}
	log = log.WithComponent("dispatch")

	routes := d.resolve(log)
	if len(routes) == 0 {
		return ErrNoDevices
	}

	if !sleepCtx(ctx, d.SettleDelay) {
		return ctx.Err()
	}

	for _, rt := range routes {
		rt.dev.Drain()
		if err := rt.dev.Grab(); err != nil {
			log.Warn("could not grab device, events will pass through", "path", rt.dev.Path(), "error", err)
		}
	}
	defer func() {
		for _, rt := range routes {
			if err := rt.dev.Ungrab(); err != nil {
				log.Debug("ungrab failed", "path", rt.dev.Path(), "error", err)
			}
		}
	}()

	log.Info("dispatching", "devices", len(routes), "tables", len(d.Tables))

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		busy := false
		alive := 0
		for _, rt := range routes {
			if rt.dead {
				continue
			}
			alive++
			for {
				ev, ok, err := rt.dev.ReadOne()
				if err != nil {
					// The device went away mid-session. Keep serving
					// the others.
					log.Warn("device stopped responding", "path", rt.dev.Path(), "error", err)
					rt.dead = true
					break
				}
				if !ok {
					break
				}
				busy = true
				d.handle(log, rt, ev)
			}
		}

		if alive == 0 {
			return ErrNoDevices
		}
		if !busy {
			if !sleepCtx(ctx, d.PollInterval) {
				return ctx.Err()
			}
		}
	}
}

// resolve matches every table's identity against the device list.
// Tables whose device is absent are skipped with a log entry; several
// tables may resolve to the same device.
func (d *Dispatcher) resolve(log *logging.Logger) []*route {
	candidates := make([]binding.Candidate, len(d.Devices))
	for i, dev := range d.Devices {
		candidates[i] = dev
	}

	byDevice := make(map[int]*route)
	var routes []*route
	for _, t := range d.Tables {
		t.ResetLayer()
		i, ok := t.Identity.Resolve(candidates)
		if !ok {
			log.Warn("configured device not present, skipping",
				"table", t.DisplayName, "identity", t.Identity.String())
			continue
		}
		rt, seen := byDevice[i]
		if !seen {
			rt = &route{dev: d.Devices[i]}
			byDevice[i] = rt
			routes = append(routes, rt)
		}
		rt.tables = append(rt.tables, t)
		log.Info("resolved device", "table", t.DisplayName, "path", d.Devices[i].Path())
	}
	return routes
}

// handle feeds one event through every table bound to the device.
func (d *Dispatcher) handle(log *logging.Logger, rt *route, ev evdev.Event) {
	if !ev.IsKeyDown() {
		return
	}
	for _, t := range rt.tables {
		for _, f := range t.EventMatch(ev, d.Sink) {
			switch f.Outcome {
			case binding.OutcomeLayerChanged:
				log.Info("layer changed", "table", t.DisplayName, "layer", t.ActiveLayer)
			case binding.OutcomeStartFailed:
				log.Error("trigger did not start", "table", t.DisplayName,
					"trigger", f.Row.TriggerValue, "error", f.Err)
			default:
				log.Info("trigger fired", "table", t.DisplayName,
					"kind", f.Row.TriggerKind.String(), "trigger", f.Row.TriggerValue)
			}
			if d.OnFired != nil {
				d.OnFired(rt.dev.Name(), f)
			}
		}
	}
}

// sleepCtx sleeps for dur unless the context ends first; it reports
// whether the context is still live.
func sleepCtx(ctx context.Context, dur time.Duration) bool {
	if dur <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
