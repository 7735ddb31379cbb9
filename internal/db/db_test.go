package db

import (
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *log.Logger {
	t.Helper()
	return log.New(io.Discard, "", 0)
}

func TestInitCreatesSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "fleet.db")
	pair, err := Init(dbPath)
	require.NoError(t, err)
	defer pair.Close()

	for _, table := range []string{"players", "player_changes", "commands", "albums", "media", "artwork", "search_words", "system_status"} {
		var name string
		err := pair.Reader().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
	}
}

func TestChangeSequenceIsMonotonic(t *testing.T) {
	pair, err := InitMemory()
	require.NoError(t, err)
	defer pair.Close()

	res, err := pair.Writer().Exec(
		"INSERT INTO players (uuid, name, full_name, address) VALUES (?, ?, ?, ?)",
		"RINCON_AAA", "kitchen", "Kitchen", "192.168.1.20",
	)
	require.NoError(t, err)
	playerID, err := res.LastInsertId()
	require.NoError(t, err)

	var prev int64
	for _, field := range []string{"volume", "mute", "playing"} {
		r, err := pair.Writer().Exec(
			"INSERT INTO player_changes (player_id, field, value) VALUES (?, ?, ?)",
			playerID, field, "1",
		)
		require.NoError(t, err)
		seq, err := r.LastInsertId()
		require.NoError(t, err)
		require.Greater(t, seq, prev)
		prev = seq
	}
}

func TestPruneChangesRemovesOldRecords(t *testing.T) {
	pair, err := InitMemory()
	require.NoError(t, err)
	defer pair.Close()

	res, err := pair.Writer().Exec(
		"INSERT INTO players (uuid, name, full_name, address) VALUES (?, ?, ?, ?)",
		"RINCON_AAA", "kitchen", "Kitchen", "192.168.1.20",
	)
	require.NoError(t, err)
	playerID, _ := res.LastInsertId()

	_, err = pair.Writer().Exec(
		"INSERT INTO player_changes (player_id, field, value, changed_at) VALUES (?, 'volume', '10', datetime('now', '-48 hours'))",
		playerID,
	)
	require.NoError(t, err)
	_, err = pair.Writer().Exec(
		"INSERT INTO player_changes (player_id, field, value) VALUES (?, 'volume', '20')",
		playerID,
	)
	require.NoError(t, err)

	hk := NewHousekeeper(pair, 24*time.Hour, testLogger(t))
	require.NoError(t, hk.PruneChanges())

	var count int
	require.NoError(t, pair.Reader().QueryRow("SELECT COUNT(*) FROM player_changes").Scan(&count))
	require.Equal(t, 1, count)
}
