package program

import (
	"runtime"

	"go.uber.org/atomic"

	"github.com/grafana/symbridge/pkg/classify"
	"github.com/grafana/symbridge/pkg/symbol"
)

// Symbol is a symbol resolved by a Program. It owns its record and holds a
// reference on the Program until Release is called or the Symbol is garbage
// collected, whichever happens first.
//
// Symbols are only created by Program lookups and must be used through the
// returned pointer. A copied Symbol would share the record without holding a
// reference of its own.
type Symbol struct {
	noCopy  noCopy
	own     *ownership
	cleanup runtime.Cleanup
}

// noCopy makes go vet's copylocks check report Symbol values being copied.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// ownership is the state released when the Symbol goes away. It must not
// point back to the Symbol, or the cleanup would keep it reachable.
type ownership struct {
	rec      atomic.Pointer[symbol.Record]
	owner    atomic.Pointer[Program]
	bindings classify.Constructor
	kinds    classify.Constructor
}

func newSymbol() (*Symbol, error) {
	return new(Symbol), nil
}

// wrap moves the record out of h into a new Symbol referencing owner.
// On failure h keeps its record and owner's reference count is unchanged.
func wrap(h *symbol.Handle, owner *Program) (*Symbol, error) {
	s, err := owner.alloc()
	if err != nil {
		return nil, err
	}
	if err := owner.acquire(); err != nil {
		return nil, err
	}
	rec, err := h.Take()
	if err != nil {
		owner.release()
		return nil, err
	}
	own := &ownership{
		bindings: owner.bindings,
		kinds:    owner.kinds,
	}
	own.rec.Store(&rec)
	own.owner.Store(owner)
	s.own = own
	s.cleanup = runtime.AddCleanup(s, (*ownership).release, own)
	owner.metrics.LiveSymbols.Inc()
	return s, nil
}

// release drops the record, then the program reference. Only the first call
// does anything.
func (o *ownership) release() {
	if o.rec.Swap(nil) == nil {
		return
	}
	owner := o.owner.Swap(nil)
	if owner == nil {
		return
	}
	owner.metrics.LiveSymbols.Dec()
	owner.release()
}

// Release disposes of the record and drops the Program reference. It is
// safe to call more than once. The Symbol must not be used afterwards.
func (s *Symbol) Release() {
	if s == nil || s.own == nil {
		return
	}
	s.cleanup.Stop()
	s.own.release()
}

// Released reports whether Release has been called.
func (s *Symbol) Released() bool {
	return s.own == nil || s.own.rec.Load() == nil
}

func (s *Symbol) record() symbol.Record {
	if s.own == nil {
		panic("program: use of a Symbol not obtained from a Program")
	}
	rec := s.own.rec.Load()
	if rec == nil {
		panic("program: use of a released Symbol")
	}
	return *rec
}

// Record returns a copy of the symbol record.
func (s *Symbol) Record() symbol.Record {
	return s.record()
}

func (s *Symbol) Name() string {
	return s.record().Name()
}

func (s *Symbol) Address() uint64 {
	return s.record().Address()
}

func (s *Symbol) Size() uint64 {
	return s.record().Size()
}

// Binding returns the binding as a member of the program's binding class.
// Errors from the class are returned unchanged.
func (s *Symbol) Binding() (classify.Value, error) {
	rec := s.record()
	return s.own.bindings.Construct(uint64(rec.Binding()))
}

// Kind returns the kind as a member of the program's kind class.
// Errors from the class are returned unchanged.
func (s *Symbol) Kind() (classify.Value, error) {
	rec := s.record()
	return s.own.kinds.Construct(uint64(rec.Kind()))
}

// Program returns the owning program, nil once the Symbol is released.
func (s *Symbol) Program() *Program {
	if s.own == nil {
		return nil
	}
	return s.own.owner.Load()
}
