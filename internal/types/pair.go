package types

import "github.com/pkg/errors"

// Pair is a record that knows its own storage key and value encoding.
// Keys are returned without any table prefix, the store adds that.
type Pair interface {
	SerialiseKey() ([]byte, error) // in case it fails we can abort
	SerialiseData() ([]byte, error)
	DeSerialiseKey([]byte) error  // needs to be implemented with pointer method in order to insert data into struct
	DeSerialiseData([]byte) error // needs to be implemented with pointer method in order to insert data into struct
}

type PairFactory func() Pair

// ErrSerialization is wrapped by every decode failure of a stored record.
var ErrSerialization = errors.New("malformed stored record")

func serializationErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrSerialization, format, args...)
}
