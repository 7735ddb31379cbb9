package db

const schemaSQL = `
-- ===========================================================================
-- PLAYERS (fleet state snapshots)
-- ===========================================================================

CREATE TABLE IF NOT EXISTS players (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  uuid TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL,
  full_name TEXT NOT NULL,
  address TEXT NOT NULL,
  leader_uuid TEXT,
  volume INTEGER,
  mute INTEGER,
  playing INTEGER NOT NULL DEFAULT 0,
  play_mode TEXT,
  current_url TEXT,
  current_metadata TEXT,
  queue_json TEXT,
  listening INTEGER NOT NULL DEFAULT 0,
  updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_players_name ON players(name);

-- Append-only change log. seq is the global ordering handle clients
-- resume from. Rows outlive their player on purpose, so there is no
-- foreign key; a NULL player_id marks a system-wide record.
CREATE TABLE IF NOT EXISTS player_changes (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  player_id INTEGER,
  field TEXT NOT NULL,
  value TEXT,
  changed_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_player_changes_player ON player_changes(player_id, seq);
CREATE INDEX IF NOT EXISTS idx_player_changes_at ON player_changes(changed_at);

-- External command inbox, drained in insertion order per player.
CREATE TABLE IF NOT EXISTS commands (
  id TEXT PRIMARY KEY,
  player_id INTEGER NOT NULL,
  name TEXT NOT NULL,
  args_json TEXT NOT NULL DEFAULT '[]',
  created_at TEXT NOT NULL DEFAULT (datetime('now')),
  FOREIGN KEY (player_id) REFERENCES players(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_commands_player ON commands(player_id, created_at);

-- ===========================================================================
-- MEDIA LIBRARY
-- ===========================================================================

CREATE TABLE IF NOT EXISTS albums (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  dir TEXT NOT NULL UNIQUE,
  hash TEXT NOT NULL,
  title TEXT,
  artist TEXT,
  genre TEXT,
  year INTEGER
);

CREATE TABLE IF NOT EXISTS media (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  url TEXT NOT NULL UNIQUE,
  kind TEXT NOT NULL,
  title TEXT,
  artist TEXT,
  album_id INTEGER,
  track_no INTEGER,
  artwork_id INTEGER,
  FOREIGN KEY (album_id) REFERENCES albums(id) ON DELETE CASCADE,
  FOREIGN KEY (artwork_id) REFERENCES artwork(id)
);

CREATE INDEX IF NOT EXISTS idx_media_album ON media(album_id, track_no);
CREATE INDEX IF NOT EXISTS idx_media_kind ON media(kind);

CREATE TABLE IF NOT EXISTS artwork (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  hash TEXT NOT NULL UNIQUE,
  image BLOB NOT NULL
);

-- Inverted word index over album title and artist.
CREATE TABLE IF NOT EXISTS search_words (
  word TEXT NOT NULL,
  album_id INTEGER NOT NULL,
  PRIMARY KEY (word, album_id),
  FOREIGN KEY (album_id) REFERENCES albums(id) ON DELETE CASCADE
) WITHOUT ROWID;

-- ===========================================================================
-- SYSTEM STATUS
-- ===========================================================================

CREATE TABLE IF NOT EXISTS system_status (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

INSERT OR IGNORE INTO system_status (key, value) VALUES
  ('started_at', ''),
  ('last_rescan', ''),
  ('listeners', '0');
`
