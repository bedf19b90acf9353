// Package binding implements the macrod binding engine: device identity
// resolution, layered event matching, and trigger firing.
package binding

import (
	"fmt"
	"strings"
)

// FormatVersion identifies the persisted descriptor format.
const FormatVersion = "version-1"

// MatchMode selects how a persisted identity is compared against live
// devices. Devices can expose several addresses under one name; in
// practice only one address matters, and these modes let the user pick
// how much of it to pin.
type MatchMode int

const (
	// MatchNameAndLocalAddress compares the device name plus the last
	// path segment of the physical address.
	MatchNameAndLocalAddress MatchMode = iota
	// MatchFullAddress compares the complete physical address only.
	MatchFullAddress
	// MatchBoth compares name and complete physical address.
	MatchBoth
)

// String returns the wire form of the match mode.
func (m MatchMode) String() string {
	switch m {
	case MatchNameAndLocalAddress:
		return "name"
	case MatchFullAddress:
		return "phys"
	case MatchBoth:
		return "both"
	default:
		return "unknown"
	}
}

// ParseMatchMode parses the wire form of a match mode.
func ParseMatchMode(s string) (MatchMode, error) {
	switch s {
	case "name":
		return MatchNameAndLocalAddress, nil
	case "phys":
		return MatchFullAddress, nil
	case "both":
		return MatchBoth, nil
	default:
		return 0, fmt.Errorf("unknown match mode: %q", s)
	}
}

// Candidate is a live device the identity can be matched against.
type Candidate interface {
	Name() string
	Phys() string
}

// Identity re-locates a specific physical device among freshly enumerated
// candidates. The address is always stored in full, even when only its
// last segment is used for matching.
type Identity struct {
	Version string
	Mode    MatchMode
	Name    string
	Phys    string
}

// NewIdentity captures an identity from a live device.
func NewIdentity(mode MatchMode, dev Candidate) Identity {
	return Identity{
		Version: FormatVersion,
		Mode:    mode,
		Name:    dev.Name(),
		Phys:    dev.Phys(),
	}
}

// localSegment returns the last path segment of a physical address.
func localSegment(phys string) string {
	parts := strings.Split(phys, "/")
	return parts[len(parts)-1]
}

// Resolve scans candidates in enumeration order and returns the index of
// the first match. ok is false when the device is not present this
// session; callers treat that as non-fatal and skip the table.
func (id Identity) Resolve(candidates []Candidate) (int, bool) {
	switch id.Mode {
	case MatchNameAndLocalAddress:
		local := localSegment(id.Phys)
		for i, c := range candidates {
			if c.Name() == id.Name && strings.HasSuffix(c.Phys(), local) {
				return i, true
			}
		}
	case MatchFullAddress:
		for i, c := range candidates {
			if c.Phys() == id.Phys {
				return i, true
			}
		}
	case MatchBoth:
		for i, c := range candidates {
			if c.Name() == id.Name && c.Phys() == id.Phys {
				return i, true
			}
		}
	}
	return 0, false
}

// Equal reports value equality over match mode, name, and address.
// Used by the persistence round-trip check.
func (id Identity) Equal(other Identity) bool {
	return id.Mode == other.Mode && id.Name == other.Name && id.Phys == other.Phys
}

// String renders the identity for operator display.
func (id Identity) String() string {
	return fmt.Sprintf("%s [%s] %s", id.Name, id.Mode, id.Phys)
}
