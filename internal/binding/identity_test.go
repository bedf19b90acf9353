package binding

import "testing"

type fakeDevice struct {
	name string
	phys string
}

func (f fakeDevice) Name() string { return f.name }
func (f fakeDevice) Phys() string { return f.phys }

func candidates(devs ...fakeDevice) []Candidate {
	out := make([]Candidate, len(devs))
	for i, d := range devs {
		out[i] = d
	}
	return out
}

func TestResolveNameMatchesLocalAddressSegment(t *testing.T) {
	// Captured on one boot, resolved on another where the kernel path
	// prefix changed but the local segment survived.
	id := Identity{
		Mode: MatchNameAndLocalAddress,
		Name: "Macro Pad",
		Phys: "usb-0000:00:14.0-2/input0",
	}

	devs := candidates(
		fakeDevice{name: "Macro Pad", phys: "usb-0000:00:14.0-3/input0"},
		fakeDevice{name: "Macro Pad", phys: "usb-0000:03:00.1-2/input0"},
	)

	i, ok := id.Resolve(devs)
	if !ok {
		t.Fatal("identity did not resolve")
	}
	if i != 0 {
		t.Errorf("resolved index %d, want 0 (first suffix match wins)", i)
	}
}

func TestResolveNameRequiresBothNameAndSuffix(t *testing.T) {
	id := Identity{
		Mode: MatchNameAndLocalAddress,
		Name: "Macro Pad",
		Phys: "usb1/1-2/input0",
	}

	devs := candidates(
		fakeDevice{name: "Other Keyboard", phys: "usb1/1-2/input0"},
		fakeDevice{name: "Macro Pad", phys: "usb1/1-3/input1"},
	)

	if _, ok := id.Resolve(devs); ok {
		t.Error("resolved despite no candidate matching name and suffix together")
	}
}

func TestResolveFullAddressIgnoresName(t *testing.T) {
	id := Identity{
		Mode: MatchFullAddress,
		Name: "Macro Pad",
		Phys: "usb1/1-2/input0",
	}

	devs := candidates(
		fakeDevice{name: "Renamed After Firmware Update", phys: "usb1/1-2/input0"},
	)

	i, ok := id.Resolve(devs)
	if !ok || i != 0 {
		t.Errorf("Resolve = (%d, %v), want (0, true)", i, ok)
	}
}

func TestResolveBothRejectsPartialMatch(t *testing.T) {
	id := Identity{
		Mode: MatchBoth,
		Name: "Macro Pad",
		Phys: "usb1/1-2/input0",
	}

	devs := candidates(
		fakeDevice{name: "Macro Pad", phys: "usb1/1-9/input0"},
		fakeDevice{name: "Not The Pad", phys: "usb1/1-2/input0"},
	)

	if _, ok := id.Resolve(devs); ok {
		t.Error("both mode resolved with only one field matching")
	}
}

func TestResolveFirstMatchWins(t *testing.T) {
	id := Identity{
		Mode: MatchBoth,
		Name: "Macro Pad",
		Phys: "usb1/1-2/input0",
	}

	// Two identical devices: enumeration order breaks the tie.
	devs := candidates(
		fakeDevice{name: "Macro Pad", phys: "usb1/1-2/input0"},
		fakeDevice{name: "Macro Pad", phys: "usb1/1-2/input0"},
	)

	i, ok := id.Resolve(devs)
	if !ok || i != 0 {
		t.Errorf("Resolve = (%d, %v), want (0, true)", i, ok)
	}
}

func TestResolveEmptyCandidates(t *testing.T) {
	id := Identity{Mode: MatchFullAddress, Phys: "usb1/1-2/input0"}
	if _, ok := id.Resolve(nil); ok {
		t.Error("resolved against no candidates")
	}
}

func TestNewIdentityCapturesFullAddress(t *testing.T) {
	dev := fakeDevice{name: "Macro Pad", phys: "usb-0000:00:14.0-2/input0"}
	id := NewIdentity(MatchNameAndLocalAddress, dev)

	if id.Version != FormatVersion {
		t.Errorf("version %q, want %q", id.Version, FormatVersion)
	}
	// The full address is stored even when only the last segment is
	// compared, so the mode can be changed later without recapturing.
	if id.Phys != dev.phys {
		t.Errorf("phys %q, want %q", id.Phys, dev.phys)
	}
}

func TestIdentityEqualIgnoresVersion(t *testing.T) {
	a := Identity{Version: "version-1", Mode: MatchBoth, Name: "x", Phys: "y"}
	b := Identity{Version: "", Mode: MatchBoth, Name: "x", Phys: "y"}
	if !a.Equal(b) {
		t.Error("identities differing only in version should be equal")
	}
}

func TestParseMatchModeRoundTrip(t *testing.T) {
	for _, mode := range []MatchMode{MatchNameAndLocalAddress, MatchFullAddress, MatchBoth} {
		parsed, err := ParseMatchMode(mode.String())
		if err != nil {
			t.Fatalf("ParseMatchMode(%q): %v", mode.String(), err)
		}
		if parsed != mode {
			t.Errorf("round trip of %v gave %v", mode, parsed)
		}
	}
	if _, err := ParseMatchMode("serial"); err == nil {
		t.Error("unknown mode did not error")
	}
}
