package store

import (
	"database/sql"
	"fmt"

	"aicore/internal/logging"
)

// Migration adds a column that older databases lack.
type Migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations lists columns added after the first schema.
var pendingMigrations = []Migration{
	// Cache accounting, added with provider context caching.
	{"sessions", "cached_tokens", "INTEGER DEFAULT 0"},
	// Free-form label shown by the sessions listing.
	{"sessions", "title", "TEXT DEFAULT ''"},
}

// RunMigrations applies missing columns. It is idempotent.
func RunMigrations(db *sql.DB) error {
	timer := logging.StartTimer(logging.CategoryStore, "RunMigrations")
	defer timer.Stop()

	applied := 0
	for _, m := range pendingMigrations {
		if !tableExists(db, m.Table) {
			logging.StoreDebug("table missing, skipping migration: %s.%s", m.Table, m.Column)
			continue
		}
		if columnExists(db, m.Table, m.Column) {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(stmt); err != nil {
			logging.StoreError("migration failed: %s.%s: %v", m.Table, m.Column, err)
			return fmt.Errorf("add %s.%s: %w", m.Table, m.Column, err)
		}
		applied++
	}
	if applied > 0 {
		logging.Store("applied %d schema migrations", applied)
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		logging.StoreDebug("PRAGMA table_info(%s) failed: %v", table, err)
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

func tableExists(db *sql.DB, table string) bool {
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count); err != nil {
		logging.StoreDebug("table existence check failed for %s: %v", table, err)
		return false
	}
	return count > 0
}
