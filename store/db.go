// Package store owns the single shared relational database that is the
// coordination primitive between center nodes (spec §1 Non-goals, §5): no
// consensus, no metadata replication -- every center reads and writes the
// same SQLite file (or, in a multi-host deployment, the same network-
// reachable database behind the same database/sql driver).
//
// Grounded on github.com/mattn/go-sqlite3, the driver used by
// openshift-hypershift/jira-agent-dashboard in the retrieval pack.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS nodes (
  node_id TEXT PRIMARY KEY,
  node_type TEXT NOT NULL,
  token_hash TEXT NOT NULL,
  access_mode TEXT NOT NULL DEFAULT 'unset',
  internal_ip TEXT,
  internal_port INTEGER,
  public_ip TEXT,
  public_port INTEGER,
  subdomain TEXT,
  capabilities TEXT NOT NULL DEFAULT '{}',
  metadata TEXT NOT NULL DEFAULT '{}',
  connectivity_status TEXT NOT NULL DEFAULT 'unknown',
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  last_seen INTEGER
);
CREATE TABLE IF NOT EXISTS node_pods (
  node_id TEXT NOT NULL,
  base_url_prefix TEXT NOT NULL,
  PRIMARY KEY (node_id, base_url_prefix)
);
CREATE TABLE IF NOT EXISTS pods (
  pod_id TEXT PRIMARY KEY,
  account_id TEXT NOT NULL,
  base_url TEXT NOT NULL UNIQUE,
  node_id TEXT,
  migration_status TEXT,
  migration_target_node TEXT,
  migration_progress INTEGER
);
CREATE INDEX IF NOT EXISTS idx_pods_base_url ON pods(base_url);
CREATE INDEX IF NOT EXISTS idx_node_pods_prefix ON node_pods(base_url_prefix);
`

// Open opens (creating if absent) the SQLite database at path in WAL mode
// and applies the schema. The pool is capped at one connection, so every
// statement, reads included, runs one at a time.
func Open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // sqlite3 driver: single-writer discipline
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// OpenMemory opens an in-memory database, used by tests and by nodes that
// do not need to persist registry/directory state across restarts.
func OpenMemory() (*sql.DB, error) {
	db, err := sql.Open("sqlite3", "file::memory:?cache=shared&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
