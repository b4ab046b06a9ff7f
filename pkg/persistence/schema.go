package persistence

// sqliteSchema creates the orchestrator tables. Task parameters and results
// are stored as JSON text; task position preserves the plan's insertion
// order, which carries no scheduling meaning.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS missions (
    mission_id TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    status     TEXT NOT NULL DEFAULT 'pending',
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS mission_tasks (
    mission_id   TEXT NOT NULL REFERENCES missions(mission_id),
    task_id      TEXT NOT NULL,
    position     INTEGER NOT NULL,
    agent        TEXT NOT NULL,
    action       TEXT NOT NULL,
    parameters   TEXT,
    status       TEXT NOT NULL DEFAULT 'pending',
    result       TEXT,
    started_at   DATETIME,
    completed_at DATETIME,
    PRIMARY KEY (mission_id, task_id)
);
CREATE INDEX IF NOT EXISTS idx_mission_tasks_mission ON mission_tasks(mission_id);

CREATE TABLE IF NOT EXISTS monitor_records (
    mission_id          TEXT PRIMARY KEY,
    task_id             TEXT NOT NULL DEFAULT '',
    target_value        INTEGER NOT NULL,
    state               TEXT NOT NULL DEFAULT 'monitoring',
    last_observed_value INTEGER,
    retry_count         INTEGER NOT NULL DEFAULT 0,
    start_time          DATETIME NOT NULL,
    expiry              DATETIME NOT NULL
);
`

// postgresSchema mirrors the sqlite layout with native types.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS missions (
    mission_id TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    status     TEXT NOT NULL DEFAULT 'pending',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS mission_tasks (
    mission_id   TEXT NOT NULL REFERENCES missions(mission_id),
    task_id      TEXT NOT NULL,
    position     INTEGER NOT NULL,
    agent        TEXT NOT NULL,
    action       TEXT NOT NULL,
    parameters   JSONB,
    status       TEXT NOT NULL DEFAULT 'pending',
    result       JSONB,
    started_at   TIMESTAMPTZ,
    completed_at TIMESTAMPTZ,
    PRIMARY KEY (mission_id, task_id)
);
CREATE INDEX IF NOT EXISTS idx_mission_tasks_mission ON mission_tasks(mission_id);

CREATE TABLE IF NOT EXISTS monitor_records (
    mission_id          TEXT PRIMARY KEY,
    task_id             TEXT NOT NULL DEFAULT '',
    target_value        INTEGER NOT NULL,
    state               TEXT NOT NULL DEFAULT 'monitoring',
    last_observed_value INTEGER,
    retry_count         INTEGER NOT NULL DEFAULT 0,
    start_time          TIMESTAMPTZ NOT NULL,
    expiry              TIMESTAMPTZ NOT NULL
);
`
