// Package dbpebble is the pebble engine of the coin store.
package dbpebble

import (
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/pkg/errors"
	"github.com/setavenger/coindb/internal/logging"
)

func options() *pebble.Options {
	opts := (&pebble.Options{}).EnsureDefaults()
	opts.Cache = pebble.NewCache(64 << 20)
	opts.BytesPerSync = 1 << 20 // smoother background flushes (1 MiB)
	opts.MaxConcurrentCompactions = func() int { return 4 }
	return opts
}

// OpenDB opens the pebble instance at path.
func OpenDB(path string) (*pebble.DB, error) {
	opts := options()
	db, err := pebble.Open(path, opts)
	opts.Cache.Unref()
	if err != nil {
		logging.L.Err(err).Str("path", path).Msg("error opening pebble db")
		return nil, errors.Wrapf(err, "open pebble at %s", path)
	}
	return db, nil
}

// OpenStore opens or creates the store at path.
func OpenStore(path string) (*Store, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	return NewStore(db), nil
}

// OpenMemStore returns a store on an in-memory filesystem.
func OpenMemStore() (*Store, error) {
	opts := options()
	opts.FS = vfs.NewMem()
	db, err := pebble.Open("", opts)
	opts.Cache.Unref()
	if err != nil {
		return nil, err
	}
	return NewStore(db), nil
}
