package bridge

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chazu/jitbridge/handles"
	"github.com/chazu/jitbridge/heap"
)

// CompiledFrame is an activation of compiled code on a thread's stack.
type CompiledFrame struct {
	Method      string
	PC          uintptr
	Deoptimized bool
	DeoptReason int32
}

// Thread is a native or compiled thread attached to the bridge. It owns the
// pending exception slot, the handle frames created on its behalf and its
// safepoint mutator. A Thread is used by one goroutine at a time; only the
// interrupt flag may be touched from elsewhere.
type Thread struct {
	ID   int64
	Name string

	ctx *Context
	mut *heap.Mutator

	mu          sync.Mutex
	pending     *heap.Object
	frames      []*handles.Frame
	compiled    []*CompiledFrame
	exceptionPC uintptr
	handlerPC   uintptr

	interrupted atomic.Bool
	object      handles.Handle
}

// AttachThread registers a new thread with the bridge and gives it a base
// handle frame and a java.lang.Thread object.
func (c *Context) AttachThread(name string) (*Thread, error) {
	t := &Thread{
		ID:   c.nextThreadID.Add(1),
		Name: name,
		ctx:  c,
		mut:  c.Heap.NewMutator(),
	}
	t.frames = []*handles.Frame{c.Handles.PushFrame(name)}

	// Stay inside the VM until the thread object has its global handle.
	t.mut.Enter()
	obj, err := c.Heap.Allocate(t.mut, c.Heap.Classes.Lookup(ThreadClass))
	if err != nil {
		t.mut.Leave()
		return nil, fmt.Errorf("attach %s: %w", name, err)
	}
	obj.Native = t
	t.object = c.Handles.CreateGlobal(obj)
	t.mut.Leave()

	c.threadsMu.Lock()
	c.threads[t.ID] = t
	c.threadsMu.Unlock()
	c.Tracer.Printf(2, "attached thread %s (id %d)", name, t.ID)
	return t, nil
}

// Detach releases the thread's frames, removes it from the bridge and runs
// the OnDetach hooks.
func (t *Thread) Detach() {
	t.mu.Lock()
	frames := t.frames
	t.frames = nil
	t.pending = nil
	t.mu.Unlock()
	for i := len(frames) - 1; i >= 0; i-- {
		frames[i].Pop()
	}
	t.ctx.Handles.DestroyGlobal(t.object)

	t.ctx.threadsMu.Lock()
	delete(t.ctx.threads, t.ID)
	hooks := t.ctx.onDetach
	t.ctx.threadsMu.Unlock()
	for _, fn := range hooks {
		fn(t)
	}
}

// OnDetach registers fn to run after each thread detaches, so components
// keeping per-thread state can drop it.
func (c *Context) OnDetach(fn func(*Thread)) {
	c.threadsMu.Lock()
	defer c.threadsMu.Unlock()
	c.onDetach = append(c.onDetach, fn)
}

// ThreadOf returns the Thread a java.lang.Thread object stands for.
func ThreadOf(obj *heap.Object) *Thread {
	if obj == nil {
		return nil
	}
	t, _ := obj.Native.(*Thread)
	return t
}

// Object returns the thread's java.lang.Thread object.
func (t *Thread) Object() *heap.Object {
	obj, _ := t.ctx.Handles.Resolve(t.object)
	return obj
}

func (t *Thread) mutator() *heap.Mutator {
	if t == nil {
		return nil
	}
	return t.mut
}

// Mutator returns the thread's safepoint mutator.
func (t *Thread) Mutator() *heap.Mutator { return t.mut }

// Enter transitions the thread into the VM; calls nest.
func (t *Thread) Enter() { t.mut.Enter() }

// Leave undoes one Enter.
func (t *Thread) Leave() { t.mut.Leave() }

// Block runs fn with the thread outside the VM.
func (t *Thread) Block(fn func()) { t.mut.Block(fn) }

// ---------------------------------------------------------------------------
// Pending exception slot
// ---------------------------------------------------------------------------

// HasPendingException reports whether an exception is pending.
func (t *Thread) HasPendingException() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending != nil
}

// PendingException returns the pending exception, or nil.
func (t *Thread) PendingException() *heap.Object {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// SetPendingException installs exc, replacing any earlier one.
func (t *Thread) SetPendingException(exc *heap.Object) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = exc
}

// ClearPendingException empties the slot and returns what it held.
func (t *Thread) ClearPendingException() *heap.Object {
	t.mu.Lock()
	defer t.mu.Unlock()
	exc := t.pending
	t.pending = nil
	return exc
}

// ---------------------------------------------------------------------------
// Handle frames
// ---------------------------------------------------------------------------

// PushFrame opens a handle scope.
func (t *Thread) PushFrame() *handles.Frame {
	f := t.ctx.Handles.PushFrame(t.Name)
	t.mu.Lock()
	t.frames = append(t.frames, f)
	t.mu.Unlock()
	return f
}

// PopFrame closes the innermost handle scope, invalidating its handles. The
// base frame cannot be popped.
func (t *Thread) PopFrame() {
	t.mu.Lock()
	if len(t.frames) <= 1 {
		t.mu.Unlock()
		t.ctx.Fatalf("thread %s: handle frame underflow", t.Name)
		return
	}
	f := t.frames[len(t.frames)-1]
	t.frames = t.frames[:len(t.frames)-1]
	t.mu.Unlock()
	f.Pop()
}

// FrameDepth returns the number of open handle frames.
func (t *Thread) FrameDepth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.frames)
}

// NewHandle registers obj in the innermost frame.
func (t *Thread) NewHandle(obj *heap.Object) handles.Handle {
	t.mu.Lock()
	f := t.frames[len(t.frames)-1]
	t.mu.Unlock()
	return f.Create(obj)
}

// Resolve dereferences a handle.
func (t *Thread) Resolve(h handles.Handle) (*heap.Object, error) {
	return t.ctx.Handles.Resolve(h)
}

// ---------------------------------------------------------------------------
// Interrupts, exception pc and compiled frames
// ---------------------------------------------------------------------------

// Interrupt sets the interrupt flag. Safe from any goroutine.
func (t *Thread) Interrupt() { t.interrupted.Store(true) }

// IsInterrupted reports the interrupt flag, clearing it if clear is set.
func (t *Thread) IsInterrupted(clear bool) bool {
	if clear {
		return t.interrupted.Swap(false)
	}
	return t.interrupted.Load()
}

// SetExceptionPC records the pc at which the pending exception was raised.
func (t *Thread) SetExceptionPC(pc uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exceptionPC = pc
}

// ExceptionPC returns the pc recorded by SetExceptionPC.
func (t *Thread) ExceptionPC() uintptr {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exceptionPC
}

// SetHandlerPC records the handler chosen for the pending exception.
func (t *Thread) SetHandlerPC(pc uintptr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlerPC = pc
}

// HandlerPC returns the pc recorded by SetHandlerPC.
func (t *Thread) HandlerPC() uintptr {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handlerPC
}

// PushCompiledFrame records entry into compiled code for method.
func (t *Thread) PushCompiledFrame(method string, pc uintptr) *CompiledFrame {
	f := &CompiledFrame{Method: method, PC: pc}
	t.mu.Lock()
	t.compiled = append(t.compiled, f)
	t.mu.Unlock()
	return f
}

// PopCompiledFrame records the return from the innermost compiled frame.
func (t *Thread) PopCompiledFrame() *CompiledFrame {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.compiled)
	if n == 0 {
		return nil
	}
	f := t.compiled[n-1]
	t.compiled = t.compiled[:n-1]
	return f
}

// TopCompiledFrame returns the innermost compiled frame, or nil.
func (t *Thread) TopCompiledFrame() *CompiledFrame {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.compiled) == 0 {
		return nil
	}
	return t.compiled[len(t.compiled)-1]
}

// StackTrace returns the compiled frames, innermost first.
func (t *Thread) StackTrace() []string {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	trace := make([]string, 0, len(t.compiled))
	for i := len(t.compiled) - 1; i >= 0; i-- {
		trace = append(trace, t.compiled[i].Method)
	}
	return trace
}

func (t *Thread) visitRoots(visit func(*heap.Object)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending != nil {
		visit(t.pending)
	}
}
