package postgres

const schema = `
-- Key-value records, same layout as the SQLite backend
CREATE TABLE IF NOT EXISTS kv (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_kv_key_prefix ON kv (key text_pattern_ops);
CREATE INDEX IF NOT EXISTS idx_kv_updated_at ON kv (updated_at);
`
