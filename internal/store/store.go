// Package store persists binding tables as one comma-delimited file per
// device and records fired triggers in a history database.
//
// The device format is deliberately tabular so large binding sets can be
// edited in a spreadsheet:
//
//	device,<version>,<name|phys|both>,<name>,<address>
//	binding,<layer>,<keydown|scandown>,<value>,<phrase|script|folder|assign_layer>,<title>
package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"macrod/internal/binding"
	"macrod/internal/logging"
)

// FileExt is the extension of per-device config files. Files with other
// extensions in the devices directory are ignored.
const FileExt = ".csv"

// Row tags. Unrecognized leading tokens are skipped so future row kinds
// stay forward-compatible.
const (
	tagDevice  = "device"
	tagBinding = "binding"
)

// Store manages the on-disk collection of per-device config files.
type Store struct {
	dir string
	log *logging.Logger
}

// New creates a store over the given devices directory.
func New(dir string, log *logging.Logger) *Store {
	if log == nil {
		log = logging.Default()
	}
	return &Store{dir: dir, log: log.WithComponent("store")}
}

// Dir returns the devices directory.
func (s *Store) Dir() string { return s.dir }

// EnsureDir creates the devices directory if needed.
func (s *Store) EnsureDir() error {
	return os.MkdirAll(s.dir, 0o755)
}

// fileFor returns the path for a display name.
func (s *Store) fileFor(name string) string {
	return filepath.Join(s.dir, name+FileExt)
}

// Load reads every config file in the devices directory, one table per
// file, in name order. A file that fails to parse is skipped with a log
// entry; it never aborts loading the rest.
func (s *Store) Load() ([]*binding.Table, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read devices directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), FileExt) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var tables []*binding.Table
	for _, name := range names {
		path := filepath.Join(s.dir, name)
		t, err := ReadFile(path)
		if err != nil {
			s.log.Warn("skipping malformed device config", "path", path, "error", err)
			continue
		}
		s.log.Info("loaded device config", "path", path, "bindings", len(t.Rows))
		tables = append(tables, t)
	}
	return tables, nil
}

// Save writes every table, then deletes files still pending deletion.
//
// Display-name collisions within the batch are renamed with the lowest
// unused -2, -3, ... suffix, considering both in-batch and on-disk
// names. A pending deletion whose name gets (re)written in this batch is
// rescued from the pending set first; deletions run only after all
// writes, so a rename reusing a name slated for deletion is not lost.
func (s *Store) Save(tables []*binding.Table, pending map[string]bool) error {
	if err := s.EnsureDir(); err != nil {
		return fmt.Errorf("create devices directory: %w", err)
	}

	onDisk := s.existingNames()
	batch := make(map[string]bool, len(tables))

	for _, t := range tables {
		name := t.DisplayName
		if batch[name] {
			taken := make(map[string]bool, len(batch)+len(onDisk))
			for n := range batch {
				taken[n] = true
			}
			for n := range onDisk {
				taken[n] = true
			}
			name = Disambiguate(name, taken)
			t.DisplayName = name
		}
		delete(pending, name)

		path := s.fileFor(name)
		if err := WriteFile(path, t); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		s.log.Info("wrote device config", "path", path)
		batch[name] = true
		onDisk[name] = true
	}

	for name := range pending {
		path := s.fileFor(name)
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Warn("could not delete device config", "path", path, "error", err)
			continue
		}
		s.log.Info("deleted device config", "path", path)
		delete(pending, name)
	}
	return nil
}

// existingNames lists display names already present on disk.
func (s *Store) existingNames() map[string]bool {
	names := make(map[string]bool)
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return names
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), FileExt) {
			continue
		}
		names[strings.TrimSuffix(e.Name(), FileExt)] = true
	}
	return names
}

// Disambiguate returns want if free, otherwise want with the lowest
// integer suffix >= 2 not among the taken names.
func Disambiguate(want string, taken map[string]bool) string {
	if !taken[want] {
		return want
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d", want, n)
		if !taken[candidate] {
			return candidate
		}
	}
}

// RoundtripCheck writes the table to a scratch file, reads it back, and
// verifies structural equality. It runs continuously during a session as
// a self-test of the persistence path, not only under `go test`.
func (s *Store) RoundtripCheck(t *binding.Table) error {
	f, err := os.CreateTemp("", "macrod-roundtrip-*"+FileExt)
	if err != nil {
		return fmt.Errorf("create scratch file: %w", err)
	}
	path := f.Name()
	f.Close()
	defer os.Remove(path)

	if err := WriteFile(path, t); err != nil {
		return err
	}
	back, err := ReadFile(path)
	if err != nil {
		return err
	}
	// The scratch file's stem is not the table's name.
	back.DisplayName = t.DisplayName
	if !t.Equal(back) {
		return fmt.Errorf("table %q did not survive a write/read round trip", t.DisplayName)
	}
	return nil
}

// ReadFile parses one device config file into a table. The table's
// display name is the file stem and its active layer starts at default.
func ReadFile(path string) (*binding.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	t := binding.NewTable()
	t.DisplayName = strings.TrimSuffix(filepath.Base(path), FileExt)

	deviceSeen := false
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	for _, rec := range records {
		if len(rec) == 0 {
			continue
		}
		switch rec[0] {
		case tagDevice:
			if deviceSeen {
				return nil, fmt.Errorf("%s: more than one device row", path)
			}
			id, err := parseIdentityRow(rec)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			t.Identity = id
			deviceSeen = true
		case tagBinding:
			row, err := parseBindingRow(rec)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			t.AddRow(row)
		default:
			// Unknown row kind: ignored for forward compatibility.
		}
	}

	if !deviceSeen {
		return nil, fmt.Errorf("%s: no device row", path)
	}
	return t, nil
}

// WriteFile serializes a table: the device row first, then every binding
// row in firing order. Overwrites any existing file.
func WriteFile(path string, t *binding.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(identityRow(t.Identity)); err != nil {
		return err
	}
	for _, row := range t.Rows {
		if err := w.Write(bindingRow(row)); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// parseIdentityRow decodes a device row. A row handed here with any
// other leading tag rejects the file.
func parseIdentityRow(rec []string) (binding.Identity, error) {
	if rec[0] != tagDevice {
		return binding.Identity{}, fmt.Errorf("expected a device row, got %q", rec[0])
	}
	if len(rec) != 5 {
		return binding.Identity{}, fmt.Errorf("device row has %d fields, want 5", len(rec))
	}
	mode, err := binding.ParseMatchMode(rec[2])
	if err != nil {
		return binding.Identity{}, err
	}
	return binding.Identity{
		Version: rec[1],
		Mode:    mode,
		Name:    rec[3],
		Phys:    rec[4],
	}, nil
}

// identityRow encodes a device row.
func identityRow(id binding.Identity) []string {
	version := id.Version
	if version == "" {
		version = binding.FormatVersion
	}
	return []string{tagDevice, version, id.Mode.String(), id.Name, id.Phys}
}

// parseBindingRow decodes a binding row.
func parseBindingRow(rec []string) (*binding.Row, error) {
	if len(rec) != 6 {
		return nil, fmt.Errorf("binding row has %d fields, want 6", len(rec))
	}
	eventKind, err := binding.ParseEventKind(rec[2])
	if err != nil {
		return nil, err
	}
	triggerKind, err := binding.ParseTriggerKind(rec[4])
	if err != nil {
		return nil, err
	}
	return &binding.Row{
		Layer:        rec[1],
		EventKind:    eventKind,
		EventValue:   rec[3],
		TriggerKind:  triggerKind,
		TriggerValue: rec[5],
	}, nil
}

// bindingRow encodes a binding row.
func bindingRow(r *binding.Row) []string {
	return []string{tagBinding, r.Layer, r.EventKind.String(), r.EventValue, r.TriggerKind.String(), r.TriggerValue}
}
