package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiklabs/aik/internal/agent/memory"
	"github.com/aiklabs/aik/internal/agent/plan"
)

func TestNewSessionID_Sortable(t *testing.T) {
	a := NewSessionID()
	time.Sleep(1100 * time.Millisecond)
	b := NewSessionID()
	assert.Less(t, a, b, "later sessions must sort after earlier ones")
	assert.Len(t, a, len("20060102T150405Z")+1+8)
}

func TestStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aik.db")
	store, err := Open(path)
	require.NoError(t, err)
	defer store.Close()

	id := NewSessionID()
	require.NoError(t, store.CreateSession(id, "open Notepad and type Hello"))

	rec := &memory.StepRecord{
		Step:          1,
		WindowTitle:   "Notepad",
		ProcessPath:   `C:\Windows\notepad.exe`,
		ModelResponse: `{"actions":[{"type":"type_text","text":"Hello"}]}`,
		Planned:       []plan.Action{{Type: plan.ActionTypeText, Text: "Hello"}},
		Executed: []memory.ActionResult{
			{Action: plan.Action{Type: plan.ActionTypeText, Text: "Hello"}, Success: true},
		},
		Outcome: memory.OutcomeSuccess,
		Details: "typed greeting",
	}
	require.NoError(t, store.AppendStep(id, rec))
	require.NoError(t, store.AppendStep(id, &memory.StepRecord{
		Step: 2, WindowTitle: "Notepad", Outcome: memory.OutcomeStopped,
	}))

	steps, err := store.Steps(id)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, 1, steps[0].Step)
	assert.Equal(t, "success", steps[0].Outcome)
	assert.Equal(t, "typed greeting", steps[0].Details)
	assert.Equal(t, 2, steps[1].Step)

	sessions, err := store.ListSessions(0)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, id, sessions[0].ID)
	assert.Equal(t, "open Notepad and type Hello", sessions[0].Goal)
	assert.Equal(t, 2, sessions[0].Steps)
}

func TestReopenAppendsWithoutClobbering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aik.db")

	store, err := Open(path)
	require.NoError(t, err)
	first := NewSessionID()
	require.NoError(t, store.CreateSession(first, "first run"))
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer store.Close()
	second := NewSessionID()
	require.NoError(t, store.CreateSession(second, "second run"))

	sessions, err := store.ListSessions(0)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
}

func TestCorruptDatabaseQuarantined(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aik.db")
	require.NoError(t, os.WriteFile(path, []byte("this is not a sqlite database at all"), 0644))

	store, err := Open(path)
	require.NoError(t, err, "a corrupt database must be quarantined, not fatal")
	defer store.Close()

	require.NoError(t, store.CreateSession(NewSessionID(), "fresh start"))

	// The corrupt original survives under a .corrupt suffix.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	found := false
	for _, e := range entries {
		if e.Name() != "aik.db" && filepath.Ext(e.Name()) != ".db" &&
			len(e.Name()) > len("aik.db.corrupt") && e.Name()[:len("aik.db.corrupt")] == "aik.db.corrupt" {
			found = true
		}
	}
	assert.True(t, found, "quarantined file should remain in the directory")
}

func TestNilStoreIsDisabled(t *testing.T) {
	var store *Store
	assert.NoError(t, store.CreateSession("id", "goal"))
	assert.NoError(t, store.AppendStep("id", &memory.StepRecord{Step: 1}))
	assert.NoError(t, store.Close())

	steps, err := store.Steps("id")
	assert.NoError(t, err)
	assert.Nil(t, steps)
}
