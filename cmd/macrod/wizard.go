package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"macrod/internal/binding"
	"macrod/internal/dispatch"
	"macrod/internal/evdev"
)

// captureTimeout bounds how long a wizard waits for a key press.
const captureTimeout = 30 * time.Second

// openWizardSession opens a short-lived device session for the menu.
func openWizardSession(a *app) (*evdev.Session, error) {
	session, err := evdev.OpenSession(a.log)
	if err != nil {
		return nil, err
	}
	if len(session.Devices()) == 0 {
		session.Close()
		return nil, errors.New("no readable input devices (is the user in the 'input' group?)")
	}
	return session, nil
}

// addDeviceWizard detects a device by key press and builds its config.
// Returns (nil, nil) when the user cancels.
func (m *Menu) addDeviceWizard() (*binding.Table, error) {
	a := m.app

	session, err := openWizardSession(a)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	fmt.Println(colorDim + " All input devices will be grabbed briefly; the detection key" + colorReset)
	fmt.Println(colorDim + " press is swallowed and reaches nothing else." + colorReset)
	fmt.Println()
	fmt.Println(colorBold + " Press any key on the device you want to configure..." + colorReset)
	fmt.Println()

	devices := make([]dispatch.Device, 0, len(session.Devices()))
	for _, d := range session.Devices() {
		devices = append(devices, d)
	}

	ctx, cancel := context.WithTimeout(context.Background(), captureTimeout)
	defer cancel()

	i, ev, err := dispatch.CaptureKey(ctx, devices, a.cfg.SettleDelay(), a.cfg.PollInterval(), a.log)
	if err != nil {
		return nil, errors.New("no key press detected")
	}
	dev := session.Devices()[i]

	fmt.Printf(" Detected: %s%q%s\n", colorGreen, dev.Name(), colorReset)
	fmt.Printf("   path:    %s%s%s\n", colorDim, dev.Path(), colorReset)
	fmt.Printf("   address: %s%s%s\n", colorDim, dev.Phys(), colorReset)
	if name, ok := evdev.KeyName(ev.Code); ok {
		fmt.Printf("   key:     %s%s%s\n", colorDim, name, colorReset)
	}
	fmt.Println()

	if !m.confirm("Configure this device?") {
		return nil, nil
	}

	fmt.Println()
	fmt.Println(" How should this device be recognized in future sessions?")
	fmt.Println(colorCyan + " [1]" + colorReset + " name   Device name + local address segment (survives port moves)")
	fmt.Println(colorCyan + " [2]" + colorReset + " phys   Full physical address (pins one port)")
	fmt.Println(colorCyan + " [3]" + colorReset + " both   Name and full address must match")
	fmt.Println()

	mode := binding.MatchNameAndLocalAddress
	switch m.prompt("Match mode [1]") {
	case "2":
		mode = binding.MatchFullAddress
	case "3":
		mode = binding.MatchBoth
	}

	t := binding.NewTable()
	t.Identity = binding.NewIdentity(mode, dev)

	fallback := configName(dev.Name())
	name := m.prompt(fmt.Sprintf("Config name [%s]", fallback))
	if name == "" {
		name = fallback
	}
	t.DisplayName = name

	return t, nil
}

// captureBindingWizard records a key press on the table's device and
// attaches a trigger to it. Returns nil on cancel.
func (m *Menu) captureBindingWizard(t *binding.Table) *binding.Row {
	a := m.app

	session, err := openWizardSession(a)
	if err != nil {
		m.printError(err.Error())
		m.waitForEnter()
		return nil
	}
	defer session.Close()

	candidates := make([]binding.Candidate, 0, len(session.Devices()))
	for _, d := range session.Devices() {
		candidates = append(candidates, d)
	}
	i, ok := t.Identity.Resolve(candidates)
	if !ok {
		m.printError("This device is not attached right now.")
		m.waitForEnter()
		return nil
	}
	dev := session.Devices()[i]

	fmt.Println()
	fmt.Println(colorBold + " Press the key to bind..." + colorReset)
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), captureTimeout)
	defer cancel()

	_, ev, err := dispatch.CaptureKey(ctx, []dispatch.Device{dev}, a.cfg.SettleDelay(), a.cfg.PollInterval(), a.log)
	if err != nil {
		m.printError("No key press detected.")
		m.waitForEnter()
		return nil
	}

	row := &binding.Row{Layer: binding.DefaultLayer}
	if name, ok := evdev.KeyName(ev.Code); ok {
		row.EventKind = binding.KeyDown
		row.EventValue = name
		fmt.Printf(" Captured %s%s%s\n", colorGreen, name, colorReset)
	} else {
		// Keys the kernel has no name for are bound by raw scan code.
		row.EventKind = binding.ScanDown
		row.EventValue = evdev.ScanValue(ev.Code)
		fmt.Printf(" Captured unnamed key, scan code %s%s%s\n", colorGreen, row.EventValue, colorReset)
	}
	fmt.Println()

	if !m.fillTrigger(row) {
		return nil
	}
	return row
}

// typeBindingWizard builds a binding from typed answers, for keys that
// are awkward to capture or for devices not attached right now.
func (m *Menu) typeBindingWizard() *binding.Row {
	fmt.Println()

	row := &binding.Row{}

	fmt.Println(colorCyan + " [1]" + colorReset + " keydown    Match by kernel key name (KEY_A, KEY_F13, ...)")
	fmt.Println(colorCyan + " [2]" + colorReset + " scandown   Match by raw scan code")
	fmt.Println()
	switch m.prompt("Event kind [1]") {
	case "2", "scandown":
		row.EventKind = binding.ScanDown
	default:
		row.EventKind = binding.KeyDown
	}

	value := m.prompt("Event value (Enter to cancel)")
	if value == "" {
		return nil
	}
	if row.EventKind == binding.KeyDown {
		value = strings.ToUpper(value)
		if !strings.HasPrefix(value, "KEY_") {
			value = "KEY_" + value
		}
		if _, ok := evdev.KeyCode(value); !ok {
			m.printError("Unknown key name: " + value)
			m.waitForEnter()
			return nil
		}
	}
	row.EventValue = value
	row.Layer = binding.DefaultLayer

	if !m.fillTrigger(row) {
		return nil
	}
	return row
}

// fillTrigger prompts for the layer and trigger half of a binding.
func (m *Menu) fillTrigger(row *binding.Row) bool {
	if layer := m.prompt(fmt.Sprintf("Layer [%s]", binding.DefaultLayer)); layer != "" {
		row.Layer = layer
	} else if row.Layer == "" {
		row.Layer = binding.DefaultLayer
	}

	fmt.Println()
	fmt.Println(colorCyan + " [1]" + colorReset + " phrase        Type a stored phrase")
	fmt.Println(colorCyan + " [2]" + colorReset + " script        Run a stored script")
	fmt.Println(colorCyan + " [3]" + colorReset + " folder        Pop up a folder of phrases")
	fmt.Println(colorCyan + " [4]" + colorReset + " assign_layer  Switch this device's active layer")
	fmt.Println()

	switch m.prompt("Trigger kind [1]") {
	case "2", "script":
		row.TriggerKind = binding.TriggerScript
	case "3", "folder":
		row.TriggerKind = binding.TriggerFolder
	case "4", "assign_layer":
		row.TriggerKind = binding.TriggerAssignLayer
	default:
		row.TriggerKind = binding.TriggerPhrase
	}

	label := "Title"
	if row.TriggerKind == binding.TriggerAssignLayer {
		label = "Layer to switch to"
	}
	value := m.prompt(label + " (Enter to cancel)")
	if value == "" {
		return false
	}
	row.TriggerValue = value
	return true
}

// configName derives a filesystem-friendly default config name from a
// device name.
func configName(device string) string {
	name := strings.ToLower(strings.TrimSpace(device))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_':
			return r
		case r == ' ':
			return '-'
		default:
			return -1
		}
	}, name)
	name = strings.Trim(name, "-_")
	if name == "" {
		name = "new-device"
	}
	return name
}
