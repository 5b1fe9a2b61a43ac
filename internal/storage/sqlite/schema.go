package sqlite

const schema = `
-- Key-value records. Keys are colon-delimited (user:{id}, project:{uid}:{pid},
-- feed:{pid}:{iid}, feed_ext:{pid}:{externalId}, last_scan:{pid}, event:{pid}:{eid})
CREATE TABLE IF NOT EXISTS kv (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_kv_updated_at ON kv(updated_at);
`
