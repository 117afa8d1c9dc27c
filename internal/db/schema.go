package db

// SchemaVersion is the current database schema version
const SchemaVersion = 2

const schema = `
-- Session store: one row per workout session, tombstoned on delete
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    external_workout_id TEXT DEFAULT '',
    start_time DATETIME NOT NULL,
    end_time DATETIME,
    duration_override INTEGER,
    room_temp INTEGER,
    session_type TEXT DEFAULT '',
    notes TEXT DEFAULT '',
    narrative TEXT DEFAULT '',
    effort_rating TEXT NOT NULL DEFAULT 'none',
    source INTEGER NOT NULL DEFAULT 4,
    avg_hr REAL NOT NULL DEFAULT 0,
    max_hr REAL NOT NULL DEFAULT 0,
    calories REAL NOT NULL DEFAULT 0,
    related_ids TEXT NOT NULL DEFAULT '[]',
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    sync_state TEXT NOT NULL DEFAULT 'pending',
    last_sync_error TEXT DEFAULT '',
    deleted_at DATETIME
);

-- At most one live session per external workout id
CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_external
    ON sessions(external_workout_id)
    WHERE external_workout_id != '' AND deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_sessions_deleted ON sessions(deleted_at);
CREATE INDEX IF NOT EXISTS idx_sessions_sync ON sessions(sync_state);
CREATE INDEX IF NOT EXISTS idx_sessions_start ON sessions(start_time);

-- Rolling per-bucket heart rate baselines
CREATE TABLE IF NOT EXISTS baselines (
    bucket TEXT PRIMARY KEY,
    avg_hr REAL NOT NULL DEFAULT 0,
    session_count INTEGER NOT NULL DEFAULT 0,
    updated_at DATETIME NOT NULL,
    sync_state TEXT NOT NULL DEFAULT 'pending',
    last_sync_error TEXT DEFAULT ''
);

-- Durable outbox: pending mutations awaiting propagation, oldest first.
-- The unique index coalesces re-enqueues of the same logical mutation.
CREATE TABLE IF NOT EXISTS outbox (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    record_type TEXT NOT NULL,
    record_id TEXT NOT NULL,
    op TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    last_error TEXT DEFAULT ''
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_outbox_coalesce ON outbox(record_type, record_id, op);

-- Observation ledger: every raw external workout ever surfaced by the
-- biometric subsystem, with the resolver's claim/dismiss decision.
CREATE TABLE IF NOT EXISTS observations (
    external_id TEXT PRIMARY KEY,
    start_time DATETIME NOT NULL,
    end_time DATETIME NOT NULL,
    source INTEGER NOT NULL DEFAULT 4,
    avg_hr REAL NOT NULL DEFAULT 0,
    max_hr REAL NOT NULL DEFAULT 0,
    calories REAL NOT NULL DEFAULT 0,
    room_temp INTEGER,
    observed_at DATETIME NOT NULL,
    claimed_by TEXT DEFAULT '',
    dismissed INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_observations_window ON observations(start_time, end_time);

-- Sync cursor, single row
CREATE TABLE IF NOT EXISTS sync_state (
    device_id TEXT NOT NULL,
    last_pulled_seq INTEGER NOT NULL DEFAULT 0,
    last_sync_at DATETIME,
    sync_disabled INTEGER NOT NULL DEFAULT 0
);

-- Schema info table for version tracking
CREATE TABLE IF NOT EXISTS schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

// Migration defines a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the list of all database migrations in order
var migrations = []Migration{
	// Version 1 is the initial schema - no migration needed
	{
		Version:     2,
		Description: "Index outbox by record for per-record drain order checks",
		SQL: `
CREATE INDEX IF NOT EXISTS idx_outbox_record ON outbox(record_type, record_id, id);
`,
	},
}
