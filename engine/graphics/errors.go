package graphics

import (
	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/prism/engine/core"
)

func errImmutableUpdate(label string) error {
	return errors.Mark(errors.Newf("buffer %q is immutable and cannot be updated", label), core.ErrUsage)
}

func errOutOfRange(label string, offset, size, capacity uint64) error {
	return errors.Mark(errors.Newf("buffer %q update [%d, %d) exceeds size %d", label, offset, offset+size, capacity), core.ErrUsage)
}

// NativeError wraps a backend creation failure so callers can match it.
func NativeError(err error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), core.ErrNativeCreation)
}
