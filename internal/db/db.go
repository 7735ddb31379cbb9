package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var memSeq atomic.Int64

// DBPair holds separate read and write connections for optimal SQLite concurrency.
// With WAL mode, readers don't block writers and vice versa.
// Using separate pools allows concurrent reads while serializing writes.
type DBPair struct {
	reader *sql.DB // Multiple connections for concurrent reads
	writer *sql.DB // Single connection for serialized writes
}

// Reader returns the read-only database connection pool.
func (p *DBPair) Reader() *sql.DB { return p.reader }

// Writer returns the read-write database connection pool.
func (p *DBPair) Writer() *sql.DB { return p.writer }

// Close closes both database connections.
func (p *DBPair) Close() error {
	var errs []error
	if err := p.reader.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close reader: %w", err))
	}
	if err := p.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close writer: %w", err))
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Init opens the SQLite database with separate reader and writer pools
// and applies the schema.
func Init(dbPath string) (*DBPair, error) {
	if dbPath == "" {
		return nil, errors.New("db path is required")
	}

	if err := ensureDir(dbPath); err != nil {
		return nil, err
	}

	// Writer: single connection, handles all writes.
	writerConnStr := fmt.Sprintf("%s?_journal=WAL&_busy_timeout=5000&cache=shared&mode=rwc", dbPath)
	writer, err := sql.Open("sqlite3", writerConnStr)
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	writer.SetMaxOpenConns(1) // SQLite serializes writes anyway
	writer.SetMaxIdleConns(1)
	writer.SetConnMaxLifetime(time.Hour)

	if _, err := writer.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		writer.Close()
		return nil, fmt.Errorf("set WAL: %w", err)
	}
	if _, err := writer.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		writer.Close()
		return nil, fmt.Errorf("set foreign_keys: %w", err)
	}

	readerConnStr := fmt.Sprintf("%s?_journal=WAL&_busy_timeout=5000&cache=shared&mode=ro", dbPath)
	reader, err := sql.Open("sqlite3", readerConnStr)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("open reader: %w", err)
	}
	reader.SetMaxOpenConns(4)
	reader.SetMaxIdleConns(2)
	reader.SetConnMaxLifetime(time.Hour)

	if _, err := writer.Exec(schemaSQL); err != nil {
		reader.Close()
		writer.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := runMigrations(writer); err != nil {
		reader.Close()
		writer.Close()
		return nil, err
	}

	return &DBPair{reader: reader, writer: writer}, nil
}

// InitMemory opens a private in-memory database sharing one connection
// for reads and writes. Intended for tests.
func InitMemory() (*DBPair, error) {
	name := fmt.Sprintf("file:mem%d?mode=memory&cache=shared&_busy_timeout=5000", memSeq.Add(1))
	conn, err := sql.Open("sqlite3", name)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if _, err := conn.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set foreign_keys: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if err := runMigrations(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return &DBPair{reader: conn, writer: conn}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

func runMigrations(db *sql.DB) error {
	playersColumns, err := tableColumns(db, "players")
	if err != nil {
		return err
	}

	if !playersColumns["model"] {
		if _, err := db.Exec("ALTER TABLE players ADD COLUMN model TEXT"); err != nil {
			return fmt.Errorf("add players.model: %w", err)
		}
	}

	mediaColumns, err := tableColumns(db, "media")
	if err != nil {
		return err
	}

	if !mediaColumns["genre"] {
		if _, err := db.Exec("ALTER TABLE media ADD COLUMN genre TEXT"); err != nil {
			return fmt.Errorf("add media.genre: %w", err)
		}
	}

	if err := rebuildChangeLog(db); err != nil {
		return err
	}

	return nil
}

// rebuildChangeLog detaches an existing change log from the players
// table. Early schemas cascaded deletes from players into the log,
// which silently erased the history clients resume from; the log must
// outlive its players.
func rebuildChangeLog(db *sql.DB) error {
	var ddl string
	err := db.QueryRow(
		"SELECT sql FROM sqlite_master WHERE type = 'table' AND name = 'player_changes'",
	).Scan(&ddl)
	if err != nil {
		return fmt.Errorf("inspect player_changes: %w", err)
	}
	if !strings.Contains(ddl, "FOREIGN KEY") {
		return nil
	}

	stmts := []string{
		`CREATE TABLE player_changes_rebuilt (
		  seq INTEGER PRIMARY KEY AUTOINCREMENT,
		  player_id INTEGER,
		  field TEXT NOT NULL,
		  value TEXT,
		  changed_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`INSERT INTO player_changes_rebuilt (seq, player_id, field, value, changed_at)
		  SELECT seq, player_id, field, value, changed_at FROM player_changes`,
		"DROP TABLE player_changes",
		"ALTER TABLE player_changes_rebuilt RENAME TO player_changes",
		"CREATE INDEX IF NOT EXISTS idx_player_changes_player ON player_changes(player_id, seq)",
		"CREATE INDEX IF NOT EXISTS idx_player_changes_at ON player_changes(changed_at)",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("rebuild player_changes: %w", err)
		}
	}
	return nil
}

func tableColumns(db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull, pk int
		var defaultVal sql.NullString
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return nil, err
		}
		columns[name] = true
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return columns, nil
}

// NowISO returns the current UTC time in the format used throughout the
// database.
func NowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z07:00")
}
