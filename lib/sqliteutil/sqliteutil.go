package sqliteutil

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

// driverFor picks the database/sql driver from the shape of the dsn, remote
// libsql (turso) urls go through the libsql client, everything else is a
// local sqlite file (or ":memory:").
func driverFor(dsn string) string {
	for _, prefix := range []string{"libsql://", "http://", "https://", "wss://", "ws://"} {
		if strings.HasPrefix(dsn, prefix) {
			return "libsql"
		}
	}
	return "sqlite"
}

// OpenDB opens the database at dsn and applies schema to it.
func OpenDB(schema, dsn string) (*sql.DB, error) {
	if dsn == "" {
		dsn = ":memory:"
	}
	driver := driverFor(dsn)

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	switch {
	case dsn == ":memory:":
		// every new connection to :memory: is a fresh database
		db.SetMaxOpenConns(1)
	case driver == "sqlite":
		// sqlite serializes writers, see https://stackoverflow.com/questions/35804884/sqlite-concurrent-writing-performance
		db.SetMaxOpenConns(1)
		_, err = db.Exec("PRAGMA journal_mode=WAL")
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("enable wal: %w", err)
		}
	}
	_, err = db.Exec(schema)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}
