package db

const schemaSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS windows (
    id TEXT PRIMARY KEY,
    start_time INTEGER NOT NULL,
    price_to_beat REAL,
    price_source TEXT,
    outcome TEXT NOT NULL DEFAULT '',
    first_seen_at TEXT NOT NULL DEFAULT (datetime('now')),
    resolved_at TEXT
);

CREATE TABLE IF NOT EXISTS readings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    window_id TEXT NOT NULL REFERENCES windows(id),
    ts INTEGER NOT NULL,
    time_to_close_ms INTEGER NOT NULL,
    ask_up REAL NOT NULL,
    ask_down REAL NOT NULL,
    up_imbalance REAL NOT NULL,
    down_imbalance REAL NOT NULL,
    signal TEXT NOT NULL DEFAULT '',
    strength TEXT NOT NULL DEFAULT '',
    trend TEXT NOT NULL DEFAULT ''
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_readings_window_ts ON readings(window_id, ts);

CREATE TABLE IF NOT EXISTS correlation_reports (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    resolved_windows INTEGER NOT NULL,
    graded_windows INTEGER NOT NULL,
    skipped_windows INTEGER NOT NULL,
    signal_correct INTEGER NOT NULL,
    signal_wrong INTEGER NOT NULL,
    strong_correct INTEGER NOT NULL,
    strong_wrong INTEGER NOT NULL,
    trend_correct INTEGER NOT NULL,
    trend_wrong INTEGER NOT NULL,
    no_trend_windows INTEGER NOT NULL,
    recommendation TEXT NOT NULL,
    strong_note TEXT NOT NULL DEFAULT '',
    generated_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`
