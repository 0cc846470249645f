package sqlstore

import (
	"fmt"
	"strconv"
	"strings"
)

type dialect struct {
	name   string
	driver string
	// Column types substituted into schemaTemplate.
	identity  string
	timestamp string
}

var (
	sqliteDialect = dialect{
		name:      "sqlite",
		driver:    "sqlite3",
		identity:  "INTEGER PRIMARY KEY AUTOINCREMENT",
		timestamp: "TIMESTAMP",
	}
	postgresDialect = dialect{
		name:      "postgres",
		driver:    "postgres",
		identity:  "BIGSERIAL PRIMARY KEY",
		timestamp: "TIMESTAMPTZ",
	}
)

// rebind rewrites '?' placeholders into the dialect's form.
func (d dialect) rebind(query string) string {
	if d.name != postgresDialect.name {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d dialect) schema() string {
	return fmt.Sprintf(schemaTemplate,
		d.timestamp, d.timestamp, // chat_states
		d.identity, d.timestamp, // messages
		d.timestamp,             // kv_entries
		d.timestamp,             // contexts
		d.identity, d.timestamp, // attachments
	)
}

// parseDSN picks the dialect from the URL scheme and returns the driver DSN.
//
//	sqlite://path/to/file.db  -> sqlite3, "path/to/file.db"
//	postgres://user@host/db   -> postgres, unchanged
func parseDSN(dsn string) (dialect, string, error) {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dialect{}, "", fmt.Errorf("invalid database url %q: missing scheme", dsn)
	}
	switch strings.ToLower(scheme) {
	case "sqlite", "sqlite3", "file":
		if rest == "" {
			return dialect{}, "", fmt.Errorf("invalid database url %q: missing path", dsn)
		}
		return sqliteDialect, rest, nil
	case "postgres", "postgresql":
		return postgresDialect, dsn, nil
	default:
		return dialect{}, "", fmt.Errorf("unsupported database scheme %q", scheme)
	}
}

const schemaTemplate = `
CREATE TABLE IF NOT EXISTS chat_states (
	chat_id BIGINT PRIMARY KEY,
	current_node_id INTEGER NOT NULL,
	iteration INTEGER NOT NULL DEFAULT 0,
	terminated BOOLEAN NOT NULL DEFAULT FALSE,
	created_at %s NOT NULL,
	updated_at %s NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id %s,
	chat_id BIGINT NOT NULL,
	platform_message_id BIGINT NOT NULL,
	direction TEXT NOT NULL,
	body TEXT NOT NULL,
	node_id INTEGER NOT NULL,
	iteration INTEGER NOT NULL,
	created_at %s NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, id);

CREATE TABLE IF NOT EXISTS kv_entries (
	chat_id BIGINT NOT NULL,
	node_id INTEGER NOT NULL,
	key TEXT NOT NULL,
	iteration INTEGER NOT NULL,
	value TEXT NOT NULL,
	attempt_no INTEGER NOT NULL,
	created_at %s NOT NULL,
	PRIMARY KEY (chat_id, node_id, key, iteration)
);

CREATE TABLE IF NOT EXISTS contexts (
	chat_id BIGINT PRIMARY KEY,
	value TEXT NOT NULL,
	version INTEGER NOT NULL,
	updated_at %s NOT NULL
);

CREATE TABLE IF NOT EXISTS attachments (
	id %s,
	chat_id BIGINT NOT NULL,
	node_id INTEGER NOT NULL,
	platform_file_id TEXT NOT NULL,
	storage_url TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	size_bytes BIGINT NOT NULL,
	created_at %s NOT NULL
);
`
