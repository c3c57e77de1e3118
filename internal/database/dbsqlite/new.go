// Package dbsqlite is the sqlite engine of the coin store.
package dbsqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/setavenger/coindb/internal/logging"
	_ "modernc.org/sqlite" // driver
)

// FileName is the database file inside the engine directory.
const FileName = "coins.sqlite"

func dsn(file string) string {
	return "file:" + file +
		"?_txlock=immediate" + // BEGIN IMMEDIATE-style txns
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(FULL)" +
		"&_pragma=busy_timeout(5000)"
}

// readDSN opens query only connections whose transactions start deferred,
// under WAL they read a snapshot without taking the write lock.
func readDSN(file string) string {
	return "file:" + file +
		"?_txlock=deferred" +
		"&_pragma=query_only(1)" +
		"&_pragma=busy_timeout(5000)"
}

// numReadConns bounds the reader pool of a file database.
const numReadConns = 8

// OpenDB opens (and migrates) the sqlite database in dir.
func OpenDB(dir string) (*sql.DB, error) {
	return open(dsn(filepath.Join(dir, FileName)))
}

func open(dataSource string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dataSource)
	if err != nil {
		return nil, err
	}

	// one connection: a single writer and no SQLITE_BUSY between our own statements
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		logging.L.Err(err).Msg("failed to create sqlite schema")
		return nil, errors.Wrap(err, "create schema")
	}
	return db, nil
}

func openReader(file string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", readDSN(file))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(numReadConns)
	db.SetMaxIdleConns(numReadConns)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "open sqlite reader")
	}
	return db, nil
}

// OpenStore opens or creates the store in dir. Reads get their own
// connection pool next to the single writer connection.
func OpenStore(dir string) (*Store, error) {
	db, err := OpenDB(dir)
	if err != nil {
		return nil, err
	}
	read, err := openReader(filepath.Join(dir, FileName))
	if err != nil {
		db.Close()
		return nil, err
	}
	s := NewStore(db)
	s.Read = read
	return s, nil
}

// OpenMemStore returns a store on a private in-memory database. A private
// memory database lives on one connection, reads share it with the writer.
func OpenMemStore() (*Store, error) {
	db, err := open("file::memory:?_txlock=immediate")
	if err != nil {
		return nil, err
	}
	return NewStore(db), nil
}

const schemaSQL = `
-- Single row: the block the coin set reflects
CREATE TABLE IF NOT EXISTS tip (
  id         INTEGER PRIMARY KEY CHECK (id = 0),
  block_hash BLOB    NOT NULL,
  height     INTEGER NOT NULL
) STRICT;

-- Live coins. A missing row is a spent or unknown output.
CREATE TABLE IF NOT EXISTS coins (
  txid     BLOB    NOT NULL,
  vout     INTEGER NOT NULL,
  height   INTEGER NOT NULL,
  coinbase INTEGER NOT NULL,
  amount   INTEGER NOT NULL, -- sats
  script   BLOB    NOT NULL,

  PRIMARY KEY (txid, vout)
) STRICT, WITHOUT ROWID;

-- Undo record of the block at height
CREATE TABLE IF NOT EXISTS rewind (
  height INTEGER PRIMARY KEY,
  data   BLOB    NOT NULL
) STRICT;

CREATE TABLE IF NOT EXISTS stake (
  block_hash BLOB PRIMARY KEY,
  stake      BLOB NOT NULL
) STRICT, WITHOUT ROWID;
`
