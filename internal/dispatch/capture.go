package dispatch

import (
	"context"
	"time"

	"macrod/internal/evdev"
	"macrod/internal/logging"
)

// CaptureKey waits for the next key press across all devices and
// reports which device produced it. Used by the setup wizard both to
// detect which device the user wants to configure and to record a key
// for a new binding.
//
// Every device is drained and grabbed first so the press is swallowed
// instead of reaching the rest of the desktop, then released before
// returning. The settle delay keeps the Enter that invoked the wizard
// from being captured as the answer.
func CaptureKey(ctx context.Context, devices []Device, settle, poll time.Duration, log *logging.Logger) (int, evdev.Event, error) {
	if log == nil {
		log = logging.Default()
	}
	log = log.WithComponent("capture")

	if !sleepCtx(ctx, settle) {
		return 0, evdev.Event{}, ctx.Err()
	}

	for _, d := range devices {
		d.Drain()
		if err := d.Grab(); err != nil {
			log.Debug("grab failed during capture", "path", d.Path(), "error", err)
		}
	}
	defer func() {
		for _, d := range devices {
			if err := d.Ungrab(); err != nil {
				log.Debug("ungrab failed after capture", "path", d.Path(), "error", err)
			}
		}
	}()

	for {
		if ctx.Err() != nil {
			return 0, evdev.Event{}, ctx.Err()
		}
		for i, d := range devices {
			for {
				ev, ok, err := d.ReadOne()
				if err != nil || !ok {
					break
				}
				if ev.IsKeyDown() {
					return i, ev, nil
				}
			}
		}
		if !sleepCtx(ctx, poll) {
			return 0, evdev.Event{}, ctx.Err()
		}
	}
}
