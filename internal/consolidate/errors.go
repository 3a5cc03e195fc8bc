package consolidate

import (
	"errors"

	"github.com/untoldecay/fieldmerge/internal/resolver"
	"github.com/untoldecay/fieldmerge/internal/state"
)

// ErrorKind groups service errors for transport layers.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindInvalid
	KindNotFound
	KindIncompatible
	KindRunning
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalid:
		return "invalid"
	case KindNotFound:
		return "not_found"
	case KindIncompatible:
		return "incompatible"
	case KindRunning:
		return "running"
	default:
		return "internal"
	}
}

// Classify maps an error returned by Service to its kind. For incompatible
// pairs the IncompatibleError is returned too.
func Classify(err error) (ErrorKind, *IncompatibleError) {
	var incompatible *IncompatibleError
	switch {
	case errors.As(err, &incompatible):
		return KindIncompatible, incompatible
	case errors.Is(err, resolver.ErrFieldNotFound), errors.Is(err, state.ErrNotFound):
		return KindNotFound, nil
	case errors.Is(err, ErrMigrationRunning):
		return KindRunning, nil
	case errors.Is(err, ErrInvalidPair):
		return KindInvalid, nil
	default:
		return KindInternal, nil
	}
}
