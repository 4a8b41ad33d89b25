package database

// Schema contains all SQL statements for creating tables and indexes
const Schema = `
-- Activities table: canonical, deduplicated activities
CREATE TABLE IF NOT EXISTS activities (
    id TEXT PRIMARY KEY,  -- UUID

    name TEXT NOT NULL DEFAULT '',
    start_time INTEGER NOT NULL,  -- epoch ms
    timezone TEXT NOT NULL DEFAULT 'UTC',
    distance REAL NOT NULL DEFAULT 0,  -- meters
    duration REAL NOT NULL DEFAULT 0,  -- seconds
    manufacturer TEXT NOT NULL DEFAULT '',
    location_name TEXT NOT NULL DEFAULT '',
    location_country TEXT NOT NULL DEFAULT '',
    start_latitude REAL,
    start_longitude REAL,
    activity_type TEXT NOT NULL DEFAULT 'OTHER',
    activity_subtype TEXT NOT NULL DEFAULT '',
    notes TEXT NOT NULL DEFAULT '',
    is_event BOOLEAN NOT NULL DEFAULT 0,

    -- Metadata
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Provider activities table: raw per-provider records
CREATE TABLE IF NOT EXISTS provider_activities (
    provider TEXT NOT NULL,
    provider_activity_id TEXT NOT NULL,
    timestamp INTEGER NOT NULL,  -- epoch ms
    original BOOLEAN NOT NULL DEFAULT 0,
    raw_json TEXT,
    created_at INTEGER NOT NULL,

    PRIMARY KEY (provider, provider_activity_id)
);

-- Activity connections: canonical activity <-> provider activity
CREATE TABLE IF NOT EXISTS activity_connections (
    activity_id TEXT NOT NULL,
    provider TEXT NOT NULL,
    provider_activity_id TEXT NOT NULL,
    created_at INTEGER NOT NULL,

    PRIMARY KEY (provider, provider_activity_id),
    FOREIGN KEY (activity_id) REFERENCES activities(id) ON DELETE CASCADE,
    FOREIGN KEY (provider, provider_activity_id) REFERENCES provider_activities(provider, provider_activity_id) ON DELETE CASCADE
);

-- Gears table: canonical gear items
CREATE TABLE IF NOT EXISTS gears (
    id TEXT PRIMARY KEY,  -- UUID

    name TEXT NOT NULL DEFAULT '',
    code TEXT NOT NULL DEFAULT '',  -- human-assigned dedup key
    brand TEXT NOT NULL DEFAULT '',
    gear_type TEXT NOT NULL DEFAULT 'OTHER',
    date_begin TEXT,  -- YYYY-MM-DD
    date_end TEXT,    -- YYYY-MM-DD
    maximum_distance REAL,  -- meters

    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Provider gears table: raw per-provider gear records
CREATE TABLE IF NOT EXISTS provider_gears (
    provider TEXT NOT NULL,
    provider_gear_id TEXT NOT NULL,
    raw_json TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,

    PRIMARY KEY (provider, provider_gear_id)
);

-- Gear connections: canonical gear <-> provider gear
CREATE TABLE IF NOT EXISTS gear_connections (
    gear_id TEXT NOT NULL,
    provider TEXT NOT NULL,
    provider_gear_id TEXT NOT NULL,
    created_at INTEGER NOT NULL,

    PRIMARY KEY (provider, provider_gear_id),
    FOREIGN KEY (gear_id) REFERENCES gears(id) ON DELETE CASCADE,
    FOREIGN KEY (provider, provider_gear_id) REFERENCES provider_gears(provider, provider_gear_id) ON DELETE CASCADE
);

-- Activity gears: canonical activity <-> canonical gear
CREATE TABLE IF NOT EXISTS activity_gears (
    activity_id TEXT NOT NULL,
    gear_id TEXT NOT NULL,
    created_at INTEGER NOT NULL,

    PRIMARY KEY (activity_id, gear_id),
    FOREIGN KEY (activity_id) REFERENCES activities(id) ON DELETE CASCADE,
    FOREIGN KEY (gear_id) REFERENCES gears(id) ON DELETE CASCADE
);

-- Cache records: provider responses keyed by (provider, kind, id)
CREATE TABLE IF NOT EXISTS cache_records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    provider TEXT NOT NULL,
    kind TEXT NOT NULL,
    resource_id TEXT NOT NULL,
    value BLOB NOT NULL,
    created_at INTEGER NOT NULL  -- epoch ms
);

-- Sync runs: one row per completed or failed sync call
CREATE TABLE IF NOT EXISTS sync_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    provider TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    finished_at INTEGER NOT NULL,
    checkpoint TEXT,
    fetched INTEGER NOT NULL DEFAULT 0,
    processed INTEGER NOT NULL DEFAULT 0,
    skipped INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0,
    error TEXT
);

-- Indexes for activities table
CREATE INDEX IF NOT EXISTS idx_activities_start_time ON activities(start_time DESC);

-- Indexes for provider tables
CREATE INDEX IF NOT EXISTS idx_provider_activities_timestamp ON provider_activities(provider, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_activity_connections_activity ON activity_connections(activity_id);
CREATE INDEX IF NOT EXISTS idx_gear_connections_gear ON gear_connections(gear_id);
CREATE INDEX IF NOT EXISTS idx_activity_gears_gear ON activity_gears(gear_id);

-- Gear code is the fallback merge key, unique when assigned
CREATE UNIQUE INDEX IF NOT EXISTS idx_gears_code ON gears(code) WHERE code != '';

-- Cache lookups read the newest record for a key
CREATE INDEX IF NOT EXISTS idx_cache_records_key ON cache_records(provider, kind, resource_id, created_at DESC);

CREATE INDEX IF NOT EXISTS idx_sync_runs_provider ON sync_runs(provider, started_at DESC);
`
