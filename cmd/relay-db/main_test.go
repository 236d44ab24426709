package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agsys/relay-controller/internal/storage"
)

// useJournal points the CLI at a fresh journal holding a few events
func useJournal(t *testing.T) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")

	db, err := storage.Open(path)
	require.NoError(t, err)
	base := time.Date(2024, 3, 4, 6, 0, 0, 0, time.UTC)
	for _, e := range []*storage.RelayEvent{
		{RelayID: "21", PrevState: "Off", NewState: "On", Source: "schedule", Timestamp: base},
		{RelayID: "LED", PrevState: "Off", NewState: "On", Source: "manual", Timestamp: base.Add(time.Minute)},
		{RelayID: "21", PrevState: "On", NewState: "Off", Source: "schedule", Timestamp: base.Add(12 * time.Hour)},
	} {
		_, err := db.InsertRelayEvent(e)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	prevPath, prevLimit := dbPath, limit
	dbPath, limit = path, 20
	t.Cleanup(func() { dbPath, limit = prevPath, prevLimit })
}

func newTestCmd() (*cobra.Command, *bytes.Buffer) {
	out := &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(out)
	return cmd, out
}

func TestShowEvents(t *testing.T) {
	useJournal(t)

	cmd, out := newTestCmd()
	require.NoError(t, showEvents(cmd, []string{"21"}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "RELAY"))
	assert.Contains(t, lines[2], "Off")
	assert.Contains(t, lines[2], "03-04 18:00:00")
	assert.NotContains(t, out.String(), "LED")
}

func TestExecuteQuery(t *testing.T) {
	useJournal(t)

	cmd, out := newTestCmd()
	require.NoError(t, executeQuery(cmd, []string{"select relay_id, count(*) AS n from relay_events group by relay_id order by relay_id"}))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, []string{"relay_id", "n"}, strings.Fields(lines[0]))
	assert.Equal(t, []string{"21", "2"}, strings.Fields(lines[2]))
	assert.Equal(t, []string{"LED", "1"}, strings.Fields(lines[3]))
}

func TestExecuteQueryRejectsWrites(t *testing.T) {
	useJournal(t)

	for _, q := range []string{
		"DELETE FROM relay_events",
		"  drop table relay_events",
		"PRAGMA journal_mode=DELETE",
	} {
		cmd, out := newTestCmd()
		err := executeQuery(cmd, []string{q})
		require.Error(t, err, q)
		assert.Contains(t, err.Error(), "only SELECT")
		assert.Empty(t, out.String())
	}

	cmd, _ := newTestCmd()
	require.NoError(t, executeQuery(cmd, []string{"SELECT COUNT(*) FROM relay_events"}))
}

func TestShowStatsMissingJournal(t *testing.T) {
	prev := dbPath
	dbPath = filepath.Join(t.TempDir(), "missing.db")
	t.Cleanup(func() { dbPath = prev })

	cmd, _ := newTestCmd()
	assert.Error(t, showStats(cmd, nil))
}
