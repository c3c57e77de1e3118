package database

import (
	"github.com/pkg/errors"
	"github.com/setavenger/coindb/internal/types"
)

var (
	// ErrTipMismatch is returned when SaveChanges is called with a stale oldTip.
	ErrTipMismatch = errors.New("coin store tip does not match the expected previous tip")

	// ErrNoRewindData is returned by Rewind when no undo record exists for the tip.
	ErrNoRewindData = errors.New("no rewind data for the current tip")

	// ErrOverwrite is returned when an insert targets a live key that was not
	// deleted first.
	ErrOverwrite = errors.New("insert would overwrite a live coin")

	// ErrNotInitialized is returned when the tip is read before Initialize.
	ErrNotInitialized = errors.New("coin store is not initialized")

	// ErrInvalidBatch is returned when the rewind records of a batch do not
	// line up with the tip transition.
	ErrInvalidBatch = errors.New("invalid change batch")

	// ErrSerialization is the decode failure of a stored record.
	ErrSerialization = types.ErrSerialization
)

// CheckTip validates the oldTip of a SaveChanges call against the current tip.
func CheckTip(current, oldTip *types.HashHeightPair) error {
	if !current.Equal(oldTip) {
		return errors.Wrapf(ErrTipMismatch, "current %s, expected %s", current, oldTip)
	}
	return nil
}

func errorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalidBatch, format, args...)
}
