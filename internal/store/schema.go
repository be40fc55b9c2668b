package store

// Schema v1 - run journal
const schemaV1 = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
  version INTEGER PRIMARY KEY,
  applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- One row per invocation that planned or executed work
CREATE TABLE IF NOT EXISTS runs (
  id TEXT PRIMARY KEY,
  command TEXT NOT NULL,
  started_at DATETIME NOT NULL,
  finished_at DATETIME,
  dry_run INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL DEFAULT 'running',
  transfers INTEGER NOT NULL DEFAULT 0,
  renames INTEGER NOT NULL DEFAULT 0,
  prunes INTEGER NOT NULL DEFAULT 0,
  warnings INTEGER NOT NULL DEFAULT 0,
  failures INTEGER NOT NULL DEFAULT 0,
  bytes_written INTEGER NOT NULL DEFAULT 0,
  error TEXT
);

-- Every operation is recorded as pending before it is attempted
CREATE TABLE IF NOT EXISTS operations (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
  backend TEXT NOT NULL,
  kind TEXT NOT NULL,
  song INTEGER,
  src TEXT,
  dest TEXT,
  status TEXT NOT NULL DEFAULT 'pending',
  bytes_written INTEGER NOT NULL DEFAULT 0,
  error TEXT,
  started_at DATETIME NOT NULL,
  finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_operations_run ON operations(run_id);
CREATE INDEX IF NOT EXISTS idx_operations_status ON operations(status);
`

// Schema v2 - content hash cache for check
const schemaV2 = `
CREATE TABLE IF NOT EXISTS hash_cache (
  path TEXT PRIMARY KEY,
  file_key TEXT NOT NULL,
  hash TEXT NOT NULL,
  checked_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
`
