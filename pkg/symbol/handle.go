package symbol

import (
	"errors"

	"go.uber.org/atomic"
)

var (
	ErrMoved    = errors.New("symbol record ownership already transferred")
	ErrReleased = errors.New("symbol record already released")
)

const (
	handleOwned int32 = iota
	handleMoved
	handleReleased
)

// Handle carries exclusive ownership of one Record across an API boundary.
// Ownership leaves the handle exactly once, either by Take or by Release.
// A handle that was never taken still owns its record, so a consumer that
// fails before calling Take leaves the record with the caller.
type Handle struct {
	rec   Record
	state atomic.Int32
}

func NewHandle(r Record) *Handle {
	return &Handle{rec: r}
}

// Valid reports whether the handle still owns its record.
func (h *Handle) Valid() bool {
	return h != nil && h.state.Load() == handleOwned
}

// Peek returns the owned record without transferring it.
func (h *Handle) Peek() (Record, bool) {
	if !h.Valid() {
		return Record{}, false
	}
	return h.rec, true
}

// Take moves the record out of the handle.
func (h *Handle) Take() (Record, error) {
	if h == nil {
		return Record{}, ErrMoved
	}
	if !h.state.CompareAndSwap(handleOwned, handleMoved) {
		return Record{}, h.stateErr()
	}
	return h.rec, nil
}

// Release disposes of a record that was never taken. It reports whether
// this call disposed of it.
func (h *Handle) Release() bool {
	if h == nil {
		return false
	}
	return h.state.CompareAndSwap(handleOwned, handleReleased)
}

func (h *Handle) stateErr() error {
	if h.state.Load() == handleReleased {
		return ErrReleased
	}
	return ErrMoved
}
