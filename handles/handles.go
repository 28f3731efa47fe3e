// Package handles implements the registry through which native code refers
// to managed objects.
//
// Native code never holds a *heap.Object across a point where the collector
// may run. It holds a Handle instead: a generation-tagged index into an
// arena of slots. Every live slot is reported to the collector as a root, so
// the referenced object survives, and the slot always tracks the object's
// current location. A handle belongs to the frame that created it; popping
// the frame bumps the generation of each of its slots, so a stale handle is
// detected rather than silently aliasing a newer object.
package handles

import (
	"errors"
	"fmt"
	"sync"

	"github.com/chazu/jitbridge/heap"
)

// Handle is an opaque, collector-safe reference to a managed object. The low
// 32 bits hold the slot index plus one, the high 32 bits the slot generation.
type Handle uint64

// Null is the handle of the managed null value.
const Null Handle = 0

var (
	ErrInvalidHandle = errors.New("invalid handle")
	ErrNullHandle    = errors.New("null handle")
)

func makeHandle(index, gen uint32) Handle {
	return Handle(uint64(gen)<<32 | uint64(index+1))
}

func (h Handle) index() uint32 { return uint32(h) - 1 }
func (h Handle) gen() uint32   { return uint32(h >> 32) }

// String renders the handle for diagnostics.
func (h Handle) String() string {
	if h == Null {
		return "handle(null)"
	}
	return fmt.Sprintf("handle(%d#%d)", h.index(), h.gen())
}

type slot struct {
	obj    *heap.Object
	gen    uint32
	live   bool
	global bool
}

// Registry is the handle arena shared by all threads. Individual handles are
// scoped to one thread's frame and must not be passed between threads.
type Registry struct {
	mu    sync.Mutex
	slots []slot
	free  []uint32
	live  int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) alloc(obj *heap.Object, global bool) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	var idx uint32
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		idx = uint32(len(r.slots))
		r.slots = append(r.slots, slot{gen: 1})
	}
	s := &r.slots[idx]
	s.obj = obj
	s.live = true
	s.global = global
	r.live++
	return makeHandle(idx, s.gen)
}

func (r *Registry) release(h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.lookup(h)
	if s == nil {
		return false
	}
	idx := h.index()
	s.obj = nil
	s.live = false
	s.global = false
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	r.free = append(r.free, idx)
	r.live--
	return true
}

// lookup returns the live slot named by h, or nil. Caller holds r.mu.
func (r *Registry) lookup(h Handle) *slot {
	idx := h.index()
	if h == Null || int(idx) >= len(r.slots) {
		return nil
	}
	s := &r.slots[idx]
	if !s.live || s.gen != h.gen() {
		return nil
	}
	return s
}

// Resolve returns the object h refers to. The null handle resolves to nil.
// A handle whose frame has exited, or that never existed, fails with
// ErrInvalidHandle.
func (r *Registry) Resolve(h Handle) (*heap.Object, error) {
	if h == Null {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.lookup(h)
	if s == nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHandle, h)
	}
	return s.obj, nil
}

// ResolveNonNull is Resolve, additionally failing with ErrNullHandle when
// the referenced object is null.
func (r *Registry) ResolveNonNull(h Handle) (*heap.Object, error) {
	obj, err := r.Resolve(h)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, ErrNullHandle
	}
	return obj, nil
}

// Valid reports whether h currently names a live slot. Null is valid.
func (r *Registry) Valid(h Handle) bool {
	if h == Null {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookup(h) != nil
}

// Live returns the number of live handles, frame-scoped and global.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.live
}

// VisitRoots reports every object referenced by a live handle. It makes the
// registry a heap.RootSource.
func (r *Registry) VisitRoots(visit func(*heap.Object)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.slots {
		if r.slots[i].live && r.slots[i].obj != nil {
			visit(r.slots[i].obj)
		}
	}
}

// ---------------------------------------------------------------------------
// Global handles
// ---------------------------------------------------------------------------

// CreateGlobal registers obj for the lifetime of the process (or until
// DestroyGlobal). Null yields the null handle.
func (r *Registry) CreateGlobal(obj *heap.Object) Handle {
	if obj == nil {
		return Null
	}
	return r.alloc(obj, true)
}

// DestroyGlobal releases a global handle. Destroying a frame-scoped or
// stale handle fails with ErrInvalidHandle.
func (r *Registry) DestroyGlobal(h Handle) error {
	if h == Null {
		return nil
	}
	r.mu.Lock()
	s := r.lookup(h)
	global := s != nil && s.global
	r.mu.Unlock()
	if !global || !r.release(h) {
		return fmt.Errorf("%w: %v is not a global handle", ErrInvalidHandle, h)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Frames
// ---------------------------------------------------------------------------

// Frame scopes the handles created during one native call. It is used by a
// single thread.
type Frame struct {
	r       *Registry
	owner   string
	handles []Handle
	popped  bool
}

// PushFrame opens a handle scope on behalf of owner (a thread name, used in
// diagnostics).
func (r *Registry) PushFrame(owner string) *Frame {
	return &Frame{r: r, owner: owner}
}

// Owner returns the name the frame was pushed for.
func (f *Frame) Owner() string { return f.owner }

// Len returns the number of handles created in the frame.
func (f *Frame) Len() int { return len(f.handles) }

// Create registers obj and returns a handle valid until the frame is popped.
// Null yields the null handle. Creating in a popped frame panics.
func (f *Frame) Create(obj *heap.Object) Handle {
	if f.popped {
		panic(fmt.Sprintf("handles: Create in popped frame of %s", f.owner))
	}
	if obj == nil {
		return Null
	}
	h := f.r.alloc(obj, false)
	f.handles = append(f.handles, h)
	return h
}

// Pop invalidates every handle created in the frame. Popping twice is a
// no-op.
func (f *Frame) Pop() {
	if f.popped {
		return
	}
	f.popped = true
	for _, h := range f.handles {
		f.r.release(h)
	}
	f.handles = nil
}
