package bridge

import (
	"sort"
	"sync"

	"github.com/chazu/jitbridge/heap"
)

// StaticMethod implements a static managed method. It reports a thrown
// exception by setting t's pending exception and returning Pending.
type StaticMethod func(c *Context, t *Thread, args []any) Result[any]

type staticKey struct {
	class     string
	method    string
	signature string
}

// StaticTable maps class, method name and signature to implementations.
type StaticTable struct {
	mu      sync.RWMutex
	methods map[staticKey]StaticMethod
}

// NewStaticTable creates an empty table.
func NewStaticTable() *StaticTable {
	return &StaticTable{methods: make(map[staticKey]StaticMethod)}
}

// Register installs fn, replacing any earlier implementation.
func (st *StaticTable) Register(class, method, signature string, fn StaticMethod) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.methods[staticKey{class, method, signature}] = fn
}

// Lookup returns the implementation, or nil.
func (st *StaticTable) Lookup(class, method, signature string) StaticMethod {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.methods[staticKey{class, method, signature}]
}

// Names returns "Class.method signature" for every entry, sorted.
func (st *StaticTable) Names() []string {
	st.mu.RLock()
	names := make([]string, 0, len(st.methods))
	for k := range st.methods {
		names = append(names, k.class+"."+k.method+k.signature)
	}
	st.mu.RUnlock()
	sort.Strings(names)
	return names
}

// CallStatic calls a static managed method by class, name and signature.
// The call runs inside the VM in a fresh handle frame. An object result is
// also registered in the caller's frame, so it stays rooted after return.
// Calling with an exception already pending is a protocol violation. An
// unresolvable class or method leaves NoClassDefFoundError or
// NoSuchMethodError pending.
func (c *Context) CallStatic(t *Thread, class, method, signature string, args ...any) Result[any] {
	if exc := t.PendingException(); exc != nil {
		c.Fatalf("call to %s.%s%s with pending exception %s", class, method, signature, describe(exc))
		return Pending[any]()
	}
	if c.ResolveOrFail(t, class).IsPending() {
		return Pending[any]()
	}
	fn := c.Statics.Lookup(class, method, signature)
	if fn == nil {
		c.Throw(t, NoSuchMethodErrorClass, "%s.%s%s", class, method, signature)
		return Pending[any]()
	}

	t.Enter()
	defer t.Leave()

	c.Tracer.Printf(3, "calling %s.%s%s", class, method, signature)
	res := c.callInFrame(t, fn, args)
	if !res.IsPending() && t.HasPendingException() {
		return Pending[any]()
	}
	if res.IsPending() {
		c.Tracer.Printf(3, "%s.%s threw %s", class, method, describe(t.PendingException()))
		return res
	}
	// Still inside the VM: root an object result in the caller's frame
	// before the collector can run again.
	if obj, ok := res.Get().(*heap.Object); ok && obj != nil {
		t.NewHandle(obj)
	}
	return res
}

func (c *Context) callInFrame(t *Thread, fn StaticMethod, args []any) Result[any] {
	t.PushFrame()
	defer t.PopFrame()
	return fn(c, t, args)
}
