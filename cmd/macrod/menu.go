package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"macrod/internal/binding"
)

// Menu colors and formatting (ANSI escape codes)
const (
	colorReset  = "\033[0m"
	colorBold   = "\033[1m"
	colorDim    = "\033[2m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorRed    = "\033[31m"
)

const menuRule = "─────────────────────────────────────────────"

// Menu is the interactive configuration loop.
type Menu struct {
	app    *app
	reader *bufio.Reader

	// dirty tracks unsaved edits for the quit prompt.
	dirty bool
}

// NewMenu creates the interactive menu over a started app.
func NewMenu(a *app) *Menu {
	return &Menu{
		app:    a,
		reader: bufio.NewReader(os.Stdin),
	}
}

// Run drives the menu until the user quits.
func (m *Menu) Run() {
	for {
		m.clearScreen()
		m.printHeader()
		m.printStatus()
		m.printMainMenu()

		choice := m.prompt("Select an option")

		switch strings.ToLower(strings.TrimSpace(choice)) {
		case "1", "run":
			m.runDispatch()
		case "2", "add":
			m.runAddDevice()
		case "3", "edit":
			m.runEditDevice()
		case "4", "remove":
			m.runRemoveDevice()
		case "5", "history":
			m.runHistory()
		case "6", "devices":
			m.runDevices()
		case "s", "save":
			m.runSave()
		case "q", "quit":
			if m.runSaveAndQuit() {
				return
			}
		case "x", "discard":
			if m.runQuitWithoutSaving() {
				return
			}
		case "h", "help", "?":
			m.showHelp()
		default:
			m.printError("Invalid option. Press Enter to continue...")
			m.waitForEnter()
		}
	}
}

// clearScreen clears the terminal (works on most terminals)
func (m *Menu) clearScreen() {
	fmt.Print("\033[H\033[2J")
}

// printHeader displays the banner and title
func (m *Menu) printHeader() {
	fmt.Println(colorCyan + banner + colorReset)
	fmt.Println(colorBold + "  Per-Device Keyboard Macro Daemon" + colorReset)
	fmt.Println(colorDim + "  Version " + Version + colorReset)
	fmt.Println()
}

// printStatus displays the current configuration state
func (m *Menu) printStatus() {
	a := m.app

	fmt.Println(colorBold + menuRule + colorReset)
	fmt.Println(colorBold + " CONFIGURED DEVICES" + colorReset)
	fmt.Println(colorBold + menuRule + colorReset)

	if len(a.tables) == 0 {
		fmt.Println(colorYellow + " No devices configured - use 'Add Device' first" + colorReset)
	} else {
		for i, t := range a.tables {
			fmt.Printf(" %s[%d]%s %s %s(%d bindings)%s\n",
				colorCyan, i+1, colorReset, t.DisplayName, colorDim, len(t.Rows), colorReset)
			fmt.Printf("     %s%s%s\n", colorDim, t.Identity, colorReset)
		}
	}
	if len(a.pendingDelete) > 0 {
		names := make([]string, 0, len(a.pendingDelete))
		for n := range a.pendingDelete {
			names = append(names, n)
		}
		fmt.Printf(" %s⚠ pending deletion on save: %s%s\n",
			colorYellow, strings.Join(names, ", "), colorReset)
	}
	if m.dirty {
		fmt.Println(colorYellow + " ⚠ unsaved changes" + colorReset)
	}
	// Continuous self-test of the persistence path: every menu pass
	// proves each table still survives a write/read round trip.
	for _, t := range a.tables {
		if err := a.store.RoundtripCheck(t); err != nil {
			fmt.Printf(" %s✗ %v%s\n", colorRed, err, colorReset)
		}
	}

	fmt.Println(colorBold + menuRule + colorReset)
	fmt.Println()
}

// printMainMenu displays the main menu options
func (m *Menu) printMainMenu() {
	fmt.Println(colorBold + " MAIN MENU" + colorReset)
	fmt.Println()
	fmt.Println(colorCyan + " [1]" + colorReset + " Run               Save and dispatch macros (Ctrl-C returns)")
	fmt.Println(colorCyan + " [2]" + colorReset + " Add Device        Detect a device and create its config")
	fmt.Println(colorCyan + " [3]" + colorReset + " Edit Device       Add, remove, or change bindings  →")
	fmt.Println(colorCyan + " [4]" + colorReset + " Remove Device     Delete a device config on next save")
	fmt.Println(colorCyan + " [5]" + colorReset + " History           View recent fired triggers")
	fmt.Println(colorCyan + " [6]" + colorReset + " Devices           List attached input devices")
	fmt.Println()
	fmt.Println(colorDim + " [S] Save    [Q] Save and quit    [X] Quit without saving    [H] Help" + colorReset)
	fmt.Println()
}

// runDispatch saves everything, then hands the terminal to the run loop
// until the user interrupts it.
func (m *Menu) runDispatch() {
	m.clearScreen()
	m.printHeader()
	fmt.Println(colorBold + " RUN" + colorReset)
	fmt.Println(colorBold + menuRule + colorReset)
	fmt.Println()

	if len(m.app.tables) == 0 {
		m.printError("No devices configured.")
		m.waitForEnter()
		return
	}

	if err := m.app.save(); err != nil {
		m.printError("Save failed: " + err.Error())
		m.waitForEnter()
		return
	}
	m.dirty = false

	fmt.Println(colorDim + " Devices are grabbed exclusively while running." + colorReset)
	fmt.Println(colorDim + " Press Ctrl-C to stop and return to the menu." + colorReset)
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := m.app.dispatchOnce(ctx)
	stop()

	fmt.Println()
	if err != nil && ctx.Err() == nil {
		m.printError(err.Error())
	} else {
		m.printSuccess("Dispatch stopped.")
	}
	m.waitForEnter()
}

// runAddDevice walks the detection wizard and appends the new table.
func (m *Menu) runAddDevice() {
	m.clearScreen()
	m.printHeader()
	fmt.Println(colorBold + " ADD DEVICE" + colorReset)
	fmt.Println(colorBold + menuRule + colorReset)
	fmt.Println()

	t, err := m.addDeviceWizard()
	if err != nil {
		m.printError(err.Error())
		m.waitForEnter()
		return
	}
	if t == nil {
		return
	}

	m.app.tables = append(m.app.tables, t)
	m.dirty = true
	m.printSuccess("Added " + t.DisplayName + ".")
	m.waitForEnter()
}

// pickTable prompts for one of the configured tables; -1 means cancel.
func (m *Menu) pickTable(verb string) int {
	if len(m.app.tables) == 0 {
		m.printError("No devices configured.")
		m.waitForEnter()
		return -1
	}
	for i, t := range m.app.tables {
		fmt.Printf(" %s[%d]%s %s\n", colorCyan, i+1, colorReset, t.DisplayName)
	}
	fmt.Println()

	choice := m.prompt("Device to " + verb + " (Enter to cancel)")
	if choice == "" {
		return -1
	}
	i, err := strconv.Atoi(choice)
	if err != nil || i < 1 || i > len(m.app.tables) {
		m.printError("No such device.")
		m.waitForEnter()
		return -1
	}
	return i - 1
}

// runEditDevice opens the binding editor for one table. Edits are
// buffered: leaving with Back keeps them, Cancel restores the snapshot.
func (m *Menu) runEditDevice() {
	m.clearScreen()
	m.printHeader()
	fmt.Println(colorBold + " EDIT DEVICE" + colorReset)
	fmt.Println(colorBold + menuRule + colorReset)
	fmt.Println()

	i := m.pickTable("edit")
	if i < 0 {
		return
	}
	t := m.app.tables[i]
	t.BeginEdit()

	for {
		m.clearScreen()
		m.printHeader()
		fmt.Println(colorBold + " EDIT: " + t.DisplayName + colorReset)
		fmt.Println(colorBold + menuRule + colorReset)
		fmt.Println(" " + colorDim + t.Identity.String() + colorReset)
		fmt.Println()

		if len(t.Rows) == 0 {
			fmt.Println(colorDim + " (no bindings yet)" + colorReset)
		}
		for j, r := range t.Rows {
			fmt.Printf(" %s[%d]%s %s\n", colorCyan, j+1, colorReset, r)
		}
		fmt.Println()
		fmt.Println(colorCyan + " [1]" + colorReset + " Capture Binding   Press a key on the device to bind it")
		fmt.Println(colorCyan + " [2]" + colorReset + " Type Binding      Enter a binding by hand")
		fmt.Println(colorCyan + " [3]" + colorReset + " Remove Binding    Delete one binding")
		fmt.Println(colorCyan + " [4]" + colorReset + " Rename            Change the config's display name")
		fmt.Println()
		fmt.Println(colorDim + " [B] Back (keep edits)    [C] Cancel (discard edits)" + colorReset)
		fmt.Println()

		choice := m.prompt("Select an option")

		switch strings.ToLower(strings.TrimSpace(choice)) {
		case "1", "capture":
			if row := m.captureBindingWizard(t); row != nil {
				t.AddRow(row)
			}
		case "2", "type":
			if row := m.typeBindingWizard(); row != nil {
				t.AddRow(row)
			}
		case "3", "remove":
			m.removeBinding(t)
		case "4", "rename":
			if name := m.prompt("New display name"); name != "" {
				t.DisplayName = name
			}
		case "b", "back":
			t.CommitEdit()
			m.dirty = true
			return
		case "c", "cancel":
			t.RollbackEdit()
			return
		default:
			m.printError("Invalid option.")
			m.waitForEnter()
		}
	}
}

// removeBinding deletes one row by its listed number.
func (m *Menu) removeBinding(t *binding.Table) {
	if len(t.Rows) == 0 {
		m.printError("No bindings to remove.")
		m.waitForEnter()
		return
	}
	choice := m.prompt("Binding to remove (Enter to cancel)")
	if choice == "" {
		return
	}
	j, err := strconv.Atoi(choice)
	if err != nil || j < 1 || j > len(t.Rows) {
		m.printError("No such binding.")
		m.waitForEnter()
		return
	}
	t.RemoveRow(j - 1)
}

// runRemoveDevice drops a table and schedules its file for deletion.
func (m *Menu) runRemoveDevice() {
	m.clearScreen()
	m.printHeader()
	fmt.Println(colorBold + " REMOVE DEVICE" + colorReset)
	fmt.Println(colorBold + menuRule + colorReset)
	fmt.Println()

	i := m.pickTable("remove")
	if i < 0 {
		return
	}
	t := m.app.tables[i]

	if !m.confirm("Remove " + t.DisplayName + " and delete its config on next save?") {
		return
	}

	m.app.tables = append(m.app.tables[:i], m.app.tables[i+1:]...)
	m.app.pendingDelete[t.DisplayName] = true
	m.dirty = true
	m.printSuccess("Removed. The file is deleted when you save.")
	m.waitForEnter()
}

// runHistory prints the recent trigger history.
func (m *Menu) runHistory() {
	m.clearScreen()
	m.printHeader()
	fmt.Println(colorBold + " TRIGGER HISTORY" + colorReset)
	fmt.Println(colorBold + menuRule + colorReset)
	fmt.Println()

	if m.app.history == nil {
		m.printError("Trigger history is disabled in the configuration.")
		m.waitForEnter()
		return
	}

	records, err := m.app.history.Recent(20)
	if err != nil {
		m.printError(err.Error())
		m.waitForEnter()
		return
	}
	if len(records) == 0 {
		fmt.Println(colorDim + " (no triggers recorded yet)" + colorReset)
	}
	for _, r := range records {
		mark := colorGreen + "✓" + colorReset
		if r.Outcome != "invoked" {
			mark = colorYellow + "•" + colorReset
		}
		if r.Error != "" {
			mark = colorRed + "✗" + colorReset
		}
		fmt.Printf(" %s %s  %s %s → %s %q  %s%s%s\n",
			mark, r.Time.Format("01-02 15:04:05"),
			r.EventKind, r.EventValue, r.TriggerKind, r.TriggerValue,
			colorDim, r.Device, colorReset)
		if r.Error != "" {
			fmt.Printf("     %s%s%s\n", colorRed, r.Error, colorReset)
		}
	}

	if counts, err := m.app.history.CountByDevice(); err == nil && len(counts) > 0 {
		fmt.Println()
		fmt.Println(colorBold + " totals" + colorReset)
		for dev, n := range counts {
			fmt.Printf("   %-30s %d\n", dev, n)
		}
	}

	fmt.Println()
	m.waitForEnter()
}

// runDevices lists input devices attached right now.
func (m *Menu) runDevices() {
	m.clearScreen()
	m.printHeader()
	fmt.Println(colorBold + " ATTACHED INPUT DEVICES" + colorReset)
	fmt.Println(colorBold + menuRule + colorReset)
	fmt.Println()

	session, err := openWizardSession(m.app)
	if err != nil {
		m.printError(err.Error())
		m.waitForEnter()
		return
	}
	defer session.Close()

	if len(session.Devices()) == 0 {
		fmt.Println(colorYellow + " No readable devices. Are you in the 'input' group?" + colorReset)
	}
	for _, d := range session.Devices() {
		fmt.Printf(" %s%-20s%s %q\n", colorCyan, d.Path(), colorReset, d.Name())
		fmt.Printf("   %s%s%s\n", colorDim, d.Phys(), colorReset)
	}

	fmt.Println()
	m.waitForEnter()
}

// runSave persists everything without leaving the menu.
func (m *Menu) runSave() {
	if err := m.app.save(); err != nil {
		m.printError("Save failed: " + err.Error())
		m.waitForEnter()
		return
	}
	m.dirty = false
	m.printSuccess("Saved.")
	m.waitForEnter()
}

// runSaveAndQuit saves and reports whether the menu should exit.
func (m *Menu) runSaveAndQuit() bool {
	if err := m.app.save(); err != nil {
		m.printError("Save failed: " + err.Error())
		m.waitForEnter()
		return false
	}
	m.printGoodbye()
	return true
}

// runQuitWithoutSaving confirms before discarding unsaved edits.
func (m *Menu) runQuitWithoutSaving() bool {
	if m.dirty && !m.confirm("Discard unsaved changes?") {
		return false
	}
	m.printGoodbye()
	return true
}

// showHelp displays detailed help information
func (m *Menu) showHelp() {
	m.clearScreen()
	m.printHeader()

	fmt.Println(colorBold + menuRule + colorReset)
	fmt.Println(colorBold + " HELP" + colorReset)
	fmt.Println(colorBold + menuRule + colorReset)
	fmt.Println()

	fmt.Println(colorBold + " WHAT IS MACROD?" + colorReset)
	fmt.Println(colorDim + " macrod turns a spare keyboard or macro pad into a bank of")
	fmt.Println(" triggers. While running, bound devices are grabbed exclusively:" + colorReset)
	fmt.Println(colorDim + " their keys fire phrases, scripts, or folder popups instead of")
	fmt.Println(" typing into the focused window." + colorReset)
	fmt.Println()

	fmt.Println(colorBold + " BASIC WORKFLOW:" + colorReset)
	fmt.Println()
	fmt.Println("   1. " + colorCyan + "Add Device" + colorReset + "   →  Press a key on the device to detect it")
	fmt.Println("   2. " + colorCyan + "Edit Device" + colorReset + "  →  Capture keys and attach triggers")
	fmt.Println("   3. " + colorCyan + "Run" + colorReset + "          →  Dispatch until Ctrl-C")
	fmt.Println()

	fmt.Println(colorBold + " LAYERS:" + colorReset)
	fmt.Println(colorDim + " Every binding belongs to a layer; only the active layer's")
	fmt.Println(" bindings fire. An assign_layer binding switches the active layer," + colorReset)
	fmt.Println(colorDim + " so one key can repurpose the whole device. Devices always start")
	fmt.Println(" in the 'default' layer." + colorReset)
	fmt.Println()

	fmt.Println(colorBold + " TRIGGERS:" + colorReset)
	fmt.Println()
	fmt.Println("   " + colorCyan + "phrase" + colorReset + "        →  " + m.app.cfg.Trigger.Command + " -p <title>")
	fmt.Println("   " + colorCyan + "script" + colorReset + "        →  " + m.app.cfg.Trigger.Command + " -s <title>")
	fmt.Println("   " + colorCyan + "folder" + colorReset + "        →  " + m.app.cfg.Trigger.Command + " -f <title>")
	fmt.Println("   " + colorCyan + "assign_layer" + colorReset + "  →  switch this device's active layer")
	fmt.Println()

	fmt.Println(colorBold + " FILES:" + colorReset)
	fmt.Println()
	fmt.Println("   " + colorDim + "configs:  " + m.app.cfg.Devices.Dir + colorReset)
	fmt.Println("   " + colorDim + "history:  " + m.app.cfg.History.Path + colorReset)
	fmt.Println()

	m.waitForEnter()
}

// Helper methods

func (m *Menu) prompt(label string) string {
	fmt.Print(colorCyan + " " + label + ": " + colorReset)
	input, _ := m.reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func (m *Menu) confirm(message string) bool {
	fmt.Print(colorCyan + " " + message + " [y/N]: " + colorReset)
	input, _ := m.reader.ReadString('\n')
	input = strings.ToLower(strings.TrimSpace(input))
	return input == "y" || input == "yes"
}

func (m *Menu) waitForEnter() {
	fmt.Print(colorDim + " Press Enter to continue..." + colorReset)
	m.reader.ReadString('\n')
}

func (m *Menu) printError(message string) {
	fmt.Println()
	fmt.Println(colorRed + " ✗ " + message + colorReset)
	fmt.Println()
}

func (m *Menu) printSuccess(message string) {
	fmt.Println(colorGreen + " ✓ " + message + colorReset)
}

func (m *Menu) printGoodbye() {
	fmt.Println()
	fmt.Println(colorDim + " Goodbye!" + colorReset)
	fmt.Println()
}
