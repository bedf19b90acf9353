// macrod - per-device keyboard macro daemon
//
//	macrod              Open the interactive menu
//	macrod run          Load configs and dispatch until signalled
//	macrod list         Print configured devices and bindings
//	macrod devices      Print currently attached input devices
//	macrod history      Print recent trigger history
//	macrod version      Print the version
//
// Bindings live as one file per device under the devices directory and
// are matched against whichever input node the device enumerates as
// this session, so configs survive replugs and reboots.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"macrod/internal/binding"
	"macrod/internal/config"
	"macrod/internal/dispatch"
	"macrod/internal/evdev"
	"macrod/internal/logging"
	"macrod/internal/notify"
	"macrod/internal/store"
)

// Version is the release version, overridden at build time.
var Version = "dev"

const banner = `
  ┌┬┐┌─┐┌─┐┬─┐┌─┐┌┬┐
  │││├─┤│  ├┬┘│ │ ││
  ┴ ┴┴ ┴└─┘┴└─└─┘─┴┘`

func main() {
	cmd := "menu"
	args := os.Args[1:]
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "menu":
		cmdMenu(args)
	case "run":
		cmdRun(args)
	case "list":
		cmdList(args)
	case "devices":
		cmdDevices(args)
	case "history":
		cmdHistory(args)
	case "version", "-v", "--version":
		fmt.Println("macrod", Version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`macrod - per-device keyboard macro daemon

USAGE:
    macrod [command] [options]

COMMANDS:
    menu                Interactive configuration menu (default)
    run                 Dispatch macros until SIGINT/SIGTERM
    list                Print configured devices and their bindings
    devices             Print input devices attached right now
    history             Print recent trigger history
    version             Print the version
    help                Show this help message

OPTIONS:
    -config <path>      Configuration file (default: ~/.config/macrod/config.toml)

Bindings fire an external automation program (autokey-run by default)
with a phrase, script, or folder title, or switch the device's active
layer. Devices are grabbed exclusively while dispatching, so bound keys
never reach the rest of the desktop.

Run 'macrod' with no arguments to configure devices interactively.`)
}

// app bundles everything a command needs after startup.
type app struct {
	cfg      *config.Config
	log      *logging.Logger
	store    *store.Store
	history  *store.History
	notifier *notify.Notifier

	tables []*binding.Table

	// pendingDelete names device configs removed in the menu; the files
	// stay on disk until the next save commits the removal.
	pendingDelete map[string]bool

	closeOnce sync.Once
}

// configFlag parses the shared -config flag from a command's arguments.
func configFlag(name string, args []string) *config.Config {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	path := fs.String("config", "", "configuration file path")
	fs.Parse(args)

	cfg, err := config.Load(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "macrod: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// newApp loads configuration and opens every long-lived resource.
func newApp(name string, args []string) *app {
	cfg := configFlag(name, args)

	level, _ := logging.ParseLevel(cfg.Logging.Level)
	format, _ := logging.ParseFormat(cfg.Logging.Format)
	log, err := logging.New(&logging.Config{
		Level:     level,
		Format:    format,
		Output:    cfg.Logging.Output,
		FilePath:  cfg.Logging.FilePath,
		Component: "macrod",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "macrod: set up logging: %v\n", err)
		os.Exit(1)
	}
	logging.SetDefault(log)

	a := &app{
		cfg:           cfg,
		log:           log,
		store:         store.New(cfg.Devices.Dir, log),
		pendingDelete: make(map[string]bool),
	}

	if cfg.History.Enabled {
		h, err := store.OpenHistory(cfg.History.Path)
		if err != nil {
			log.Warn("trigger history disabled", "error", err)
		} else {
			a.history = h
		}
	}

	a.notifier = notify.New(cfg.Notify.Enabled, log)

	tables, err := a.store.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "macrod: load device configs: %v\n", err)
		os.Exit(1)
	}
	a.tables = tables

	return a
}

// close releases app resources in reverse open order, exactly once.
func (a *app) close() {
	a.closeOnce.Do(func() {
		a.notifier.Close()
		if a.history != nil {
			a.history.Close()
		}
		a.log.Close()
	})
}

// fatal closes the app and exits with an error message.
func (a *app) fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "macrod: "+format+"\n", args...)
	a.close()
	os.Exit(1)
}

// save writes every table and commits pending deletions.
func (a *app) save() error {
	for _, t := range a.tables {
		if err := a.store.RoundtripCheck(t); err != nil {
			return err
		}
	}
	return a.store.Save(a.tables, a.pendingDelete)
}

// onFired is the dispatcher's observability hook: history row,
// desktop notification, whichever is enabled.
func (a *app) onFired(device string, f binding.Fired) {
	if a.history != nil {
		rec := &store.TriggerRecord{
			Device:       device,
			Layer:        f.Row.Layer,
			EventKind:    f.Row.EventKind.String(),
			EventValue:   f.Row.EventValue,
			TriggerKind:  f.Row.TriggerKind.String(),
			TriggerValue: f.Row.TriggerValue,
			Outcome:      f.Outcome.String(),
		}
		if f.Err != nil {
			rec.Error = f.Err.Error()
		}
		if err := a.history.Record(rec); err != nil {
			a.log.Warn("could not record trigger history", "error", err)
		}
	}

	switch f.Outcome {
	case binding.OutcomeLayerChanged:
		a.notifier.LayerChanged(device, f.Row.TriggerValue)
	case binding.OutcomeStartFailed:
		a.notifier.TriggerFailed(device, f.Row.TriggerValue, f.Err)
	}
}

// dispatchOnce opens a device session and runs the dispatcher until the
// context ends. The hotplug watcher only logs; configs re-resolve on the
// next run.
func (a *app) dispatchOnce(ctx context.Context) error {
	session, err := evdev.OpenSession(a.log)
	if err != nil {
		return err
	}
	defer session.Close()

	watcher := evdev.NewWatcher(a.log)
	err = watcher.Start(func(ev evdev.HotplugEvent) {
		if ev.Connected {
			a.log.Info("input device connected", "path", ev.Path)
		} else {
			a.log.Info("input device removed", "path", ev.Path)
		}
	})
	if err != nil {
		a.log.Debug("hotplug watching unavailable", "error", err)
	} else {
		defer watcher.Stop()
	}

	devices := make([]dispatch.Device, 0, len(session.Devices()))
	for _, d := range session.Devices() {
		devices = append(devices, d)
	}

	d := &dispatch.Dispatcher{
		Tables:       a.tables,
		Devices:      devices,
		Sink:         binding.NewExecSink(a.cfg.Trigger.Command, a.cfg.TriggerTimeout()),
		Log:          a.log,
		PollInterval: a.cfg.PollInterval(),
		SettleDelay:  a.cfg.SettleDelay(),
		OnFired:      a.onFired,
	}
	return d.Run(ctx)
}

func cmdMenu(args []string) {
	a := newApp("menu", args)
	defer a.close()

	NewMenu(a).Run()
}

func cmdRun(args []string) {
	a := newApp("run", args)
	defer a.close()

	if len(a.tables) == 0 {
		a.fatal("no device configs; run 'macrod' to add one")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.log.Info("starting", "version", Version, "devices_dir", a.cfg.Devices.Dir)
	if err := a.dispatchOnce(ctx); err != nil && ctx.Err() == nil {
		a.fatal("%v", err)
	}
	a.log.Info("stopped")
}

func cmdList(args []string) {
	a := newApp("list", args)
	defer a.close()

	if len(a.tables) == 0 {
		fmt.Println("No device configs. Run 'macrod' to add one.")
		return
	}
	for _, t := range a.tables {
		fmt.Printf("%s\n  %s\n", t.DisplayName, t.Identity)
		for _, r := range t.Rows {
			fmt.Printf("    %s\n", r)
		}
	}
}

func cmdDevices(args []string) {
	a := newApp("devices", args)
	defer a.close()

	session, err := evdev.OpenSession(a.log)
	if err != nil {
		a.fatal("%v", err)
	}
	defer session.Close()

	for _, d := range session.Devices() {
		fmt.Printf("%-22s %-40q %s\n", d.Path(), d.Name(), d.Phys())
	}
}

func cmdHistory(args []string) {
	a := newApp("history", args)
	defer a.close()

	if a.history == nil {
		a.fatal("trigger history is disabled")
	}

	records, err := a.history.Recent(25)
	if err != nil {
		a.fatal("%v", err)
	}
	for _, r := range records {
		line := fmt.Sprintf("%s  %-12s  %s %s -> %s %q  %s",
			r.Time.Format("2006-01-02 15:04:05"), r.Outcome,
			r.EventKind, r.EventValue, r.TriggerKind, r.TriggerValue, r.Device)
		if r.Error != "" {
			line += "  (" + r.Error + ")"
		}
		fmt.Println(line)
	}
}
