package store

import (
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
)

var (
	storeOnce     sync.Once
	storeInstance *Store
)

// Store is the single entry point every component uses to read or write
// durable state. It is safe for concurrent use by multiple goroutines; each
// exported method is its own transaction (or a single statement where a
// transaction would be superfluous).
type Store struct {
	DB        *sqlx.DB
	stmtCache *sq.StmtCache
	mu        sync.Mutex
}

// Open establishes (once per process) the connection at path and returns the
// shared Store instance.
func Open(path string) (*Store, error) {
	var err error
	storeOnce.Do(func() {
		var conn *DBConnection
		conn, err = Connect(path)
		if err != nil {
			return
		}
		storeInstance = &Store{
			DB:        conn.DB,
			stmtCache: sq.NewStmtCache(conn.DB),
		}
	})
	if err != nil {
		return nil, err
	}
	return storeInstance, nil
}

// Get returns the Store opened by a prior call to Open.
func Get() *Store {
	return storeInstance
}
