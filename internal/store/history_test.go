package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHistory(t *testing.T) *History {
	t.Helper()
	h, err := OpenHistory(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

func record(device, value, outcome string) *TriggerRecord {
	return &TriggerRecord{
		Device:       device,
		Layer:        "default",
		EventKind:    "keydown",
		EventValue:   "KEY_F13",
		TriggerKind:  "phrase",
		TriggerValue: value,
		Outcome:      outcome,
	}
}

func TestHistoryRecordAssignsID(t *testing.T) {
	h := newTestHistory(t)

	r := record("pad", "greeting", "invoked")
	require.NoError(t, h.Record(r))
	assert.NotZero(t, r.ID)
	assert.False(t, r.Time.IsZero(), "zero time is filled with now")
}

func TestHistoryRecentNewestFirst(t *testing.T) {
	h := newTestHistory(t)

	base := time.Now().Add(-time.Minute)
	for i, v := range []string{"first", "second", "third"} {
		r := record("pad", v, "invoked")
		r.Time = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, h.Record(r))
	}

	got, err := h.Recent(2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "third", got[0].TriggerValue)
	assert.Equal(t, "second", got[1].TriggerValue)
}

func TestHistoryRecentPreservesError(t *testing.T) {
	h := newTestHistory(t)

	r := record("pad", "broken", "start_failed")
	r.Error = "start autokey-run: executable file not found"
	require.NoError(t, h.Record(r))

	ok := record("pad", "fine", "invoked")
	require.NoError(t, h.Record(ok))

	got, err := h.Recent(10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	byValue := map[string]TriggerRecord{}
	for _, g := range got {
		byValue[g.TriggerValue] = g
	}
	assert.Contains(t, byValue["broken"].Error, "not found")
	assert.Empty(t, byValue["fine"].Error)
}

func TestHistoryCountByDevice(t *testing.T) {
	h := newTestHistory(t)

	require.NoError(t, h.Record(record("pad", "a", "invoked")))
	require.NoError(t, h.Record(record("pad", "b", "invoked")))
	require.NoError(t, h.Record(record("numpad", "c", "layer_changed")))

	counts, err := h.CountByDevice()
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["pad"])
	assert.Equal(t, int64(1), counts["numpad"])
}

func TestHistoryReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	h, err := OpenHistory(path)
	require.NoError(t, err)
	require.NoError(t, h.Record(record("pad", "persists", "invoked")))
	require.NoError(t, h.Close())

	h2, err := OpenHistory(path)
	require.NoError(t, err)
	defer h2.Close()

	got, err := h2.Recent(10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "persists", got[0].TriggerValue)
}
