package dbpebble

import (
	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
	"github.com/setavenger/coindb/internal/database"
	"github.com/setavenger/coindb/internal/logging"
	"github.com/setavenger/coindb/internal/types"
)

// extractKeyValue serialises a pair under the given table prefix.
func extractKeyValue(prefix byte, pair types.Pair) ([]byte, []byte, error) {
	key, err := pair.SerialiseKey()
	if err != nil {
		logging.L.Err(err).Msg("error serialising key")
		return nil, nil, err
	}
	value, err := pair.SerialiseData()
	if err != nil {
		logging.L.Err(err).Msg("error serialising data")
		return nil, nil, err
	}
	return append([]byte{prefix}, key...), value, nil
}

// retrieve decodes the value at key into pair. pebble owns the returned
// slice until the closer runs, so the decode happens before Close.
func retrieve(r pebble.Reader, key []byte, pair types.Pair) (found bool, err error) {
	val, closer, err := r.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		logging.L.Err(err).Msg("error reading key")
		return false, err
	}
	defer closer.Close()

	if err = pair.DeSerialiseKey(key[1:]); err != nil {
		logging.L.Err(err).Hex("key", key).Msg("error deserialising key")
		return false, err
	}
	if err = pair.DeSerialiseData(val); err != nil {
		logging.L.Err(err).Hex("key", key).Msg("error deserialising data")
		return false, err
	}
	return true, nil
}

func has(r pebble.Reader, key []byte) (bool, error) {
	_, closer, err := r.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, closer.Close()
}

func readTip(r pebble.Reader) (*types.HashHeightPair, error) {
	val, closer, err := r.Get(database.KeyTip())
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, database.ErrNotInitialized
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return types.DeserialiseHashHeightPair(val)
}
