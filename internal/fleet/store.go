package fleet

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/colmturner/sonos-fleet-go/internal/db"
)

// Change is one appended change record. Seq is the global ordering
// handle clients resume from. A zero PlayerID marks a system-wide
// record not tied to any player.
type Change struct {
	Seq      int64  `json:"seq"`
	PlayerID int64  `json:"playerId,omitempty"`
	Field    string `json:"field"`
	Value    string `json:"value"`
	At       string `json:"at"`
}

// Command is one queued external command for a player.
type Command struct {
	ID       string
	PlayerID int64
	Name     string
	Args     []string
}

// Store persists player snapshots, the change log and the external
// command inbox.
type Store interface {
	SavePlayer(p *Player) error
	DeletePlayer(uuid string) error
	AppendChange(playerID int64, field, value string) (int64, error)
	ChangesSince(seq int64) ([]Change, error)
	LastSeq() (int64, error)
	InsertCommand(cmd Command) error
	PendingCommands() ([]Command, error)
	DeleteCommand(id string) error
}

// SQLStore implements Store on the shared database pair.
type SQLStore struct {
	pair *db.DBPair
}

func NewSQLStore(pair *db.DBPair) *SQLStore {
	return &SQLStore{pair: pair}
}

// SavePlayer upserts a player snapshot by UUID and backfills p.ID.
func (s *SQLStore) SavePlayer(p *Player) error {
	var current sql.NullString
	if p.CurrentURL != nil {
		current = sql.NullString{String: *p.CurrentURL, Valid: true}
	}
	var queueJSON sql.NullString
	if p.QueueURLs != nil {
		data, err := json.Marshal(p.QueueURLs)
		if err != nil {
			return fmt.Errorf("marshal queue: %w", err)
		}
		queueJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.pair.Writer().Exec(`
		INSERT INTO players (uuid, name, full_name, address, leader_uuid, volume, mute, playing, play_mode, current_url, current_metadata, queue_json, listening, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(uuid) DO UPDATE SET
		  name = excluded.name, full_name = excluded.full_name, address = excluded.address,
		  leader_uuid = excluded.leader_uuid, volume = excluded.volume, mute = excluded.mute,
		  playing = excluded.playing, play_mode = excluded.play_mode,
		  current_url = excluded.current_url, current_metadata = excluded.current_metadata,
		  queue_json = excluded.queue_json, listening = excluded.listening,
		  updated_at = excluded.updated_at`,
		p.UUID, p.Name, p.FullName, p.Address, p.LeaderUUID,
		p.Volume, boolInt(p.Mute), boolInt(p.Playing), p.PlayMode,
		current, p.CurrentMetadata, queueJSON, boolInt(p.Listening), db.NowISO(),
	)
	if err != nil {
		return fmt.Errorf("save player %s: %w", p.UUID, err)
	}

	if p.ID == 0 {
		err = s.pair.Writer().QueryRow("SELECT id FROM players WHERE uuid = ?", p.UUID).Scan(&p.ID)
		if err != nil {
			return fmt.Errorf("lookup player id %s: %w", p.UUID, err)
		}
	}
	return nil
}

func (s *SQLStore) DeletePlayer(uuid string) error {
	_, err := s.pair.Writer().Exec("DELETE FROM players WHERE uuid = ?", uuid)
	return err
}

// AppendChange writes one change record. playerID zero stores NULL,
// marking a system-wide record.
func (s *SQLStore) AppendChange(playerID int64, field, value string) (int64, error) {
	var pid sql.NullInt64
	if playerID != 0 {
		pid = sql.NullInt64{Int64: playerID, Valid: true}
	}
	res, err := s.pair.Writer().Exec(
		"INSERT INTO player_changes (player_id, field, value) VALUES (?, ?, ?)",
		pid, field, value,
	)
	if err != nil {
		return 0, fmt.Errorf("append change: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLStore) ChangesSince(seq int64) ([]Change, error) {
	rows, err := s.pair.Reader().Query(
		"SELECT seq, player_id, field, value, changed_at FROM player_changes WHERE seq > ? ORDER BY seq",
		seq,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []Change
	for rows.Next() {
		var c Change
		var pid sql.NullInt64
		var value sql.NullString
		if err := rows.Scan(&c.Seq, &pid, &c.Field, &value, &c.At); err != nil {
			return nil, err
		}
		c.PlayerID = pid.Int64
		c.Value = value.String
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

func (s *SQLStore) LastSeq() (int64, error) {
	var seq sql.NullInt64
	err := s.pair.Reader().QueryRow("SELECT MAX(seq) FROM player_changes").Scan(&seq)
	if err != nil {
		return 0, err
	}
	return seq.Int64, nil
}

func (s *SQLStore) InsertCommand(cmd Command) error {
	args, err := json.Marshal(cmd.Args)
	if err != nil {
		return fmt.Errorf("marshal args: %w", err)
	}
	_, err = s.pair.Writer().Exec(
		"INSERT INTO commands (id, player_id, name, args_json) VALUES (?, ?, ?, ?)",
		cmd.ID, cmd.PlayerID, cmd.Name, string(args),
	)
	if err != nil {
		return fmt.Errorf("insert command: %w", err)
	}
	return nil
}

// PendingCommands returns all queued commands in insertion order.
func (s *SQLStore) PendingCommands() ([]Command, error) {
	rows, err := s.pair.Reader().Query(
		"SELECT id, player_id, name, args_json FROM commands ORDER BY created_at, id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []Command
	for rows.Next() {
		var cmd Command
		var argsJSON string
		if err := rows.Scan(&cmd.ID, &cmd.PlayerID, &cmd.Name, &argsJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(argsJSON), &cmd.Args); err != nil {
			return nil, fmt.Errorf("unmarshal args of %s: %w", cmd.ID, err)
		}
		cmds = append(cmds, cmd)
	}
	return cmds, rows.Err()
}

func (s *SQLStore) DeleteCommand(id string) error {
	_, err := s.pair.Writer().Exec("DELETE FROM commands WHERE id = ?", id)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
