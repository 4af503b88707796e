// ABOUTME: SQLite schema definition and initialization.
// ABOUTME: One table per entity; sync_logs and conflict_resolutions are insert-only.
package storage

// initSchema creates or updates the database schema.
func (d *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS metrics (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		device_id TEXT NOT NULL,
		metric_type TEXT NOT NULL,
		value REAL NOT NULL,
		unit TEXT NOT NULL,
		occurred_at TEXT NOT NULL,
		bucket_start TEXT NOT NULL,
		source TEXT NOT NULL,
		confidence REAL NOT NULL,
		recorded_at TEXT NOT NULL,
		synced_at TEXT NOT NULL,
		contributions TEXT NOT NULL DEFAULT '[]',
		notes TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS devices (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		vendor TEXT NOT NULL,
		external_id TEXT NOT NULL,
		name TEXT NOT NULL,
		status TEXT NOT NULL,
		status_reason TEXT,
		capabilities TEXT NOT NULL DEFAULT '[]',
		token TEXT,
		battery_level INTEGER,
		last_sync_at TEXT,
		consecutive_failures INTEGER NOT NULL DEFAULT 0,
		needs_attention INTEGER NOT NULL DEFAULT 0,
		sync_state TEXT NOT NULL,
		settings TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		deleted_at TEXT
	);

	CREATE TABLE IF NOT EXISTS sync_schedules (
		device_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		cadence_ms INTEGER NOT NULL,
		next_sync_at TEXT NOT NULL,
		backoff_ms INTEGER NOT NULL DEFAULT 0,
		last_run_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (device_id) REFERENCES devices(id)
	);

	CREATE TABLE IF NOT EXISTS sync_logs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		device_id TEXT NOT NULL,
		trigger TEXT NOT NULL,
		status TEXT NOT NULL,
		records_processed INTEGER NOT NULL,
		records_added INTEGER NOT NULL,
		records_updated INTEGER NOT NULL,
		records_failed INTEGER NOT NULL,
		conflicts_detected INTEGER NOT NULL,
		attempts INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		errors TEXT NOT NULL DEFAULT '[]',
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		prev_hash TEXT NOT NULL,
		hash TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conflict_resolutions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		metric_type TEXT NOT NULL,
		bucket_start TEXT NOT NULL,
		canonical_id TEXT NOT NULL,
		type TEXT NOT NULL,
		policy TEXT NOT NULL,
		resolved_by TEXT NOT NULL,
		payload TEXT NOT NULL,
		supersedes_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS correlation_analyses (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		window_start TEXT NOT NULL,
		window_end TEXT NOT NULL,
		score REAL NOT NULL,
		confidence REAL NOT NULL,
		sample_size INTEGER NOT NULL,
		low_confidence INTEGER NOT NULL,
		insights TEXT NOT NULL DEFAULT '[]',
		recommendations TEXT NOT NULL DEFAULT '[]',
		series TEXT NOT NULL DEFAULT '[]',
		computed_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_metrics_bucket ON metrics(user_id, metric_type, bucket_start);
	CREATE INDEX IF NOT EXISTS idx_metrics_user_occurred ON metrics(user_id, occurred_at DESC);
	CREATE INDEX IF NOT EXISTS idx_devices_user ON devices(user_id);
	CREATE INDEX IF NOT EXISTS idx_schedules_next ON sync_schedules(next_sync_at);
	CREATE INDEX IF NOT EXISTS idx_sync_logs_device ON sync_logs(device_id, id DESC);
	CREATE INDEX IF NOT EXISTS idx_conflicts_user ON conflict_resolutions(user_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_correlations_key ON correlation_analyses(user_id, type, window_start, window_end, computed_at DESC);

	CREATE TRIGGER IF NOT EXISTS sync_logs_no_update BEFORE UPDATE ON sync_logs
	BEGIN SELECT RAISE(ABORT, 'sync_logs is append-only'); END;
	CREATE TRIGGER IF NOT EXISTS sync_logs_no_delete BEFORE DELETE ON sync_logs
	BEGIN SELECT RAISE(ABORT, 'sync_logs is append-only'); END;
	CREATE TRIGGER IF NOT EXISTS conflicts_no_update BEFORE UPDATE ON conflict_resolutions
	BEGIN SELECT RAISE(ABORT, 'conflict_resolutions is append-only'); END;
	CREATE TRIGGER IF NOT EXISTS conflicts_no_delete BEFORE DELETE ON conflict_resolutions
	BEGIN SELECT RAISE(ABORT, 'conflict_resolutions is append-only'); END;
	`

	_, err := d.db.Exec(schema)
	return err
}
