package history

const schemaSQL = `
CREATE TABLE IF NOT EXISTS call_outcomes (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    call_id      TEXT,
    recorded_at  INTEGER NOT NULL,
    success      INTEGER NOT NULL,
    error        TEXT,
    provider     TEXT NOT NULL,
    model        TEXT,
    cost         REAL NOT NULL DEFAULT 0,
    tokens       INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_call_outcomes_recorded ON call_outcomes(recorded_at);
`
