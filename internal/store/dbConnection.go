package store

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"

	"github.com/jmoiron/sqlx"
)

var (
	dbConnOnce     sync.Once
	dbConnInstance *DBConnection
)

// DBConnection wraps the single sqlx handle shared by every repository.
type DBConnection struct {
	DB *sqlx.DB
}

// Connect opens the gateway's sqlite3 database at path and runs pending
// migrations. It is safe to call multiple times; only the first call does
// any work. Durability across power loss is configured here: WAL journaling
// plus a full fsync on every commit, so a crash mid-write cannot corrupt the
// queue.
func Connect(path string) (*DBConnection, error) {
	var err error
	dbConnOnce.Do(func() {
		sql.Register("sqlite3WithHooks", sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, &queryHooks{}))

		dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_synchronous=FULL", path)
		var dbHandle *sqlx.DB
		dbHandle, err = sqlx.Open("sqlite3WithHooks", dsn)
		if err != nil {
			return
		}

		// sqlite3 does not support concurrent writers; a single connection
		// serializes all access instead of waiting on lock contention.
		dbHandle.SetMaxOpenConns(1)

		if err = dbHandle.Ping(); err != nil {
			return
		}

		if err = runMigrations(dbHandle.DB); err != nil {
			return
		}

		dbConnInstance = &DBConnection{DB: dbHandle}
	})

	if err != nil {
		return nil, err
	}
	if dbConnInstance == nil {
		return nil, fmt.Errorf("store: connection not initialized")
	}
	return dbConnInstance, nil
}

// GetConnection returns the process-wide connection established by Connect.
func GetConnection() *DBConnection {
	return dbConnInstance
}
