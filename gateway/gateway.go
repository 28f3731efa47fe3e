// Package gateway implements the entry points compiled code calls into the
// VM: allocation, monitors, write barriers, exception dispatch, identity
// hashes, diagnostics and deoptimization. Each entry point has a typed Go
// method and a slot in the ABI-stable stub table served by Dispatch.
//
// Object arguments and results are handles created in the calling thread's
// current frame. Recoverable failures leave a pending exception on the
// thread and return handles.Null; protocol violations abort the process.
package gateway

import (
	"io"
	"os"
	"sync"

	"github.com/chazu/jitbridge/abi"
	"github.com/chazu/jitbridge/bridge"
	"github.com/chazu/jitbridge/handles"
	"github.com/chazu/jitbridge/heap"
)

// Config configures a Gateway.
type Config struct {
	// Code is the code cache consulted for exception handlers. A new empty
	// cache is created when nil.
	Code *CodeCache
	// Log receives output of the log entry points. Defaults to stdout.
	Log io.Writer
}

// Gateway serves compiled code's calls into the VM for one bridge context.
type Gateway struct {
	ctx  *bridge.Context
	code *CodeCache

	logMu sync.Mutex
	log   io.Writer

	threads sync.Map // *bridge.Thread -> *threadState
}

// threadState is the gateway's per-thread bookkeeping, dropped when the
// thread detaches.
type threadState struct {
	mu sync.Mutex
	// deferred is the pending card mark for the thread's most recent
	// allocation, flushed by NewStorePreBarrier.
	deferred *heap.Object
	locks    map[uint64]*heap.LockRecord
}

func (g *Gateway) state(t *bridge.Thread) *threadState {
	if st, ok := g.threads.Load(t); ok {
		return st.(*threadState)
	}
	st, _ := g.threads.LoadOrStore(t, &threadState{locks: make(map[uint64]*heap.LockRecord)})
	return st.(*threadState)
}

// New creates a gateway for c.
func New(c *bridge.Context, cfg Config) *Gateway {
	code := cfg.Code
	if code == nil {
		code = NewCodeCache()
	}
	log := cfg.Log
	if log == nil {
		log = os.Stdout
	}
	g := &Gateway{ctx: c, code: code, log: log}
	c.OnDetach(func(t *bridge.Thread) { g.threads.Delete(t) })
	return g
}

// Context returns the bridge context the gateway serves.
func (g *Gateway) Context() *bridge.Context { return g.ctx }

// Code returns the gateway's code cache.
func (g *Gateway) Code() *CodeCache { return g.code }

// enter transitions t into the VM for the duration of an entry point.
func enter(t *bridge.Thread) func() {
	t.Enter()
	return t.Leave
}

// resolve dereferences a handle argument. A stale or unknown handle means
// compiled code passed garbage, which is fatal.
func (g *Gateway) resolve(t *bridge.Thread, h handles.Handle, what string) *heap.Object {
	obj, err := t.Resolve(h)
	if err != nil {
		g.ctx.Fatalf("%s: %v", what, err)
		return nil
	}
	return obj
}

func (g *Gateway) result(t *bridge.Thread, obj *heap.Object) handles.Handle {
	if obj == nil {
		return handles.Null
	}
	st := g.state(t)
	st.mu.Lock()
	st.deferred = obj
	st.mu.Unlock()
	return t.NewHandle(obj)
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// NewInstance allocates a zero-initialized instance of cls.
func (g *Gateway) NewInstance(t *bridge.Thread, cls *heap.Class) handles.Handle {
	defer enter(t)()
	return g.result(t, g.newInstance(t, cls))
}

func (g *Gateway) newInstance(t *bridge.Thread, cls *heap.Class) *heap.Object {
	if cls == nil {
		g.ctx.Throw(t, bridge.NullPointerExceptionClass, "")
		return nil
	}
	if !cls.IsInstantiable() {
		g.ctx.Throw(t, bridge.InstantiationExceptionClass, "%s", cls.Name)
		return nil
	}
	obj, err := g.ctx.Heap.Allocate(t.Mutator(), cls)
	if err != nil {
		g.ctx.ThrowOutOfMemory(t)
		return nil
	}
	return obj
}

// NewArray allocates an array of the array class arrayClass. A negative
// length raises NegativeArraySizeException without allocating.
func (g *Gateway) NewArray(t *bridge.Thread, arrayClass *heap.Class, length int32) handles.Handle {
	defer enter(t)()
	return g.result(t, g.newArray(t, arrayClass, length))
}

func (g *Gateway) newArray(t *bridge.Thread, arrayClass *heap.Class, length int32) *heap.Object {
	switch {
	case arrayClass == nil:
		g.ctx.Throw(t, bridge.NullPointerExceptionClass, "")
		return nil
	case !arrayClass.IsArray():
		g.ctx.Throw(t, bridge.IllegalArgumentClass, "not an array class: %s", arrayClass.Name)
		return nil
	case length < 0:
		g.ctx.Throw(t, bridge.NegativeArraySizeClass, "%d", length)
		return nil
	}
	obj, err := g.ctx.Heap.AllocateArray(t.Mutator(), arrayClass, int(length))
	if err != nil {
		g.ctx.ThrowOutOfMemory(t)
		return nil
	}
	return obj
}

// NewMultiArray allocates a multi-dimensional array. dims gives the length
// of each dimension, outermost first; trailing dimensions of arrayClass not
// covered by dims are left null.
func (g *Gateway) NewMultiArray(t *bridge.Thread, arrayClass *heap.Class, dims []int32) handles.Handle {
	defer enter(t)()
	if len(dims) == 0 {
		g.ctx.Throw(t, bridge.IllegalArgumentClass, "no dimensions")
		return handles.Null
	}
	for _, d := range dims {
		if d < 0 {
			g.ctx.Throw(t, bridge.NegativeArraySizeClass, "%d", d)
			return handles.Null
		}
	}

	// Partially built arrays are kept alive by a scratch frame while the
	// inner dimensions allocate.
	t.PushFrame()
	obj := g.newMultiArray(t, arrayClass, dims)
	t.PopFrame()
	return g.result(t, obj)
}

func (g *Gateway) newMultiArray(t *bridge.Thread, arrayClass *heap.Class, dims []int32) *heap.Object {
	outer := g.newArray(t, arrayClass, dims[0])
	if outer == nil || len(dims) == 1 {
		return outer
	}
	t.NewHandle(outer)
	inner := arrayClass.Elem
	if inner == nil || !inner.IsArray() {
		g.ctx.Throw(t, bridge.IllegalArgumentClass, "%s has fewer than %d dimensions", arrayClass.Name, len(dims))
		return nil
	}
	for i := 0; i < int(dims[0]); i++ {
		sub := g.newMultiArray(t, inner, dims[1:])
		if sub == nil {
			return nil
		}
		outer.SetRef(i, sub)
	}
	return outer
}

// DynamicNewArray allocates an array whose element type is given by a class
// mirror, as reflective array creation does.
func (g *Gateway) DynamicNewArray(t *bridge.Thread, elementMirror handles.Handle, length int32) handles.Handle {
	defer enter(t)()
	elem := heap.ClassOfMirror(g.resolve(t, elementMirror, "dynamic_new_array"))
	switch {
	case elem == nil:
		g.ctx.Throw(t, bridge.NullPointerExceptionClass, "")
		return handles.Null
	case elem == g.ctx.Heap.PrimitiveClass(abi.Void):
		g.ctx.Throw(t, bridge.IllegalArgumentClass, "void array")
		return handles.Null
	}
	return g.result(t, g.newArray(t, elem.ArrayClass(), length))
}

// DynamicNewInstance allocates an instance of the class a mirror stands for.
// Abstract classes, interfaces, arrays and primitives raise
// InstantiationException.
func (g *Gateway) DynamicNewInstance(t *bridge.Thread, mirror handles.Handle) handles.Handle {
	defer enter(t)()
	cls := heap.ClassOfMirror(g.resolve(t, mirror, "dynamic_new_instance"))
	return g.result(t, g.newInstance(t, cls))
}

// ---------------------------------------------------------------------------
// Monitors
// ---------------------------------------------------------------------------

// MonitorEnter locks obj for t, recording it in rec. It may block, outside
// the VM, until the owner releases the monitor.
func (g *Gateway) MonitorEnter(t *bridge.Thread, obj handles.Handle, rec *heap.LockRecord) {
	defer enter(t)()
	o := g.resolve(t, obj, "monitorenter")
	if err := g.ctx.Heap.MonitorEnter(t.Mutator(), o, rec); err != nil {
		g.ctx.Fatalf("monitorenter on %s: %v", o, err)
		return
	}
	g.ctx.Tracer.Printf(5, "%s: monitorenter %s", t.Name, o)
}

// MonitorExit releases the lock rec took on obj. An exit that does not
// match a prior enter is fatal.
func (g *Gateway) MonitorExit(t *bridge.Thread, obj handles.Handle, rec *heap.LockRecord) {
	defer enter(t)()
	o := g.resolve(t, obj, "monitorexit")
	if err := g.ctx.Heap.MonitorExit(t.Mutator(), o, rec); err != nil {
		g.ctx.Fatalf("monitorexit on %s: %v", o, err)
		return
	}
	g.ctx.Tracer.Printf(5, "%s: monitorexit %s", t.Name, o)
}

// ---------------------------------------------------------------------------
// Barriers
// ---------------------------------------------------------------------------

// WriteBarrierPre runs the pre barrier for a reference store whose old
// value is obj.
func (g *Gateway) WriteBarrierPre(t *bridge.Thread, obj handles.Handle) {
	g.ctx.Heap.WriteBarrierPre(g.resolve(t, obj, "write_barrier_pre"))
}

// WriteBarrierPost dirties card after a reference store. A card outside the
// heap is a compiler bug and fatal.
func (g *Gateway) WriteBarrierPost(t *bridge.Thread, card uintptr) {
	if err := g.ctx.Heap.WriteBarrierPost(card); err != nil {
		g.ctx.Fatalf("write_barrier_post: %v", err)
	}
}

// NewStorePreBarrier flushes the card mark deferred by t's most recent
// allocation, before compiled code stores into the new object without
// barriers.
func (g *Gateway) NewStorePreBarrier(t *bridge.Thread) {
	st := g.state(t)
	st.mu.Lock()
	obj := st.deferred
	st.deferred = nil
	st.mu.Unlock()
	if obj == nil || !g.ctx.Heap.Contains(obj) {
		return
	}
	if err := g.ctx.Heap.WriteBarrierPost(g.ctx.Heap.CardFor(obj)); err != nil {
		g.ctx.Fatalf("new_store_pre_barrier: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Object queries
// ---------------------------------------------------------------------------

// IdentityHashCode returns obj's identity hash, stable across collections.
// The null handle hashes to 0.
func (g *Gateway) IdentityHashCode(t *bridge.Thread, obj handles.Handle) int32 {
	defer enter(t)()
	o := g.resolve(t, obj, "identity_hash_code")
	if o == nil {
		return 0
	}
	return g.ctx.Heap.IdentityHash(o)
}

// ValidateObject checks that parent is live and child is null or live. It
// only inspects the heap when verification is enabled and reports true
// otherwise.
func (g *Gateway) ValidateObject(t *bridge.Thread, parent, child handles.Handle) bool {
	if !g.ctx.VerifyHeap() {
		return true
	}
	p, err := t.Resolve(parent)
	if err != nil {
		return false
	}
	c, err := t.Resolve(child)
	if err != nil {
		return false
	}
	ok := g.ctx.Heap.Verify(p, c)
	if !ok {
		g.ctx.Tracer.Printf(1, "validate_object failed: parent %s child %s", p, c)
	}
	return ok
}

// ThreadIsInterrupted reports the interrupt flag of the thread a
// java.lang.Thread object stands for, clearing it if clear is set.
func (g *Gateway) ThreadIsInterrupted(t *bridge.Thread, thread handles.Handle, clear bool) bool {
	defer enter(t)()
	target := bridge.ThreadOf(g.resolve(t, thread, "thread_is_interrupted"))
	if target == nil {
		return false
	}
	return target.IsInterrupted(clear)
}
