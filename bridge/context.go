// Package bridge is the process-scoped runtime bridge between the VM core
// and compiled code: the initialization state machine for the compiler
// runtime, attached threads and their pending exceptions, the exception and
// abort policy, and the primitive for calling static managed methods.
package bridge

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chazu/jitbridge/handles"
	"github.com/chazu/jitbridge/heap"
	"github.com/chazu/jitbridge/options"
	"github.com/chazu/jitbridge/services"
	"github.com/chazu/jitbridge/trace"
)

// Managed classes and entry points the bridge calls.
const (
	JVMCIClass               = "jdk.vm.ci.runtime.JVMCI"
	HotSpotJVMCIRuntimeClass = "jdk.vm.ci.hotspot.HotSpotJVMCIRuntime"
	OptionsParserClass       = "jdk.vm.ci.options.OptionsParser"

	RuntimeSignature    = "(Ljdk.vm.ci.options.Snapshot;)Ljdk.vm.ci.hotspot.HotSpotJVMCIRuntime;"
	ShutdownSignature   = "()V"
	PrintFlagsSignature = "()V"
	StackTraceSignature = "(Ljava.lang.Throwable;)V"
	GetRuntimeSignature = "()Ljdk.vm.ci.runtime.JVMCIRuntime;"
)

// DefaultNamespace is the service namespace scanned when none is configured.
const DefaultNamespace = "jdk.vm.ci"

const defaultHeapCapacity = 1 << 20

var (
	ErrNotInitialized = errors.New("runtime not initialized")
	ErrShutDown       = errors.New("runtime shut down")
)

// State is the lifecycle state of the runtime instance.
type State int32

const (
	Uninitialized State = iota
	Initializing
	Initialized
	ShutDown
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Initializing:
		return "Initializing"
	case Initialized:
		return "Initialized"
	case ShutDown:
		return "ShutDown"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Config configures a Context. Zero values select defaults.
type Config struct {
	// Heap is used as-is when set; otherwise a heap of HeapCapacity words
	// is created.
	Heap         *heap.Heap
	HeapCapacity int
	VerifyHeap   bool
	GCInterval   time.Duration

	Options   *options.Pipeline
	Namespace string

	TraceLevel  int
	TraceWriter io.Writer

	// Diagnostics receives abort output and printed stack traces.
	Diagnostics io.Writer
	// DumpDir receives diagnostic dumps; empty disables them.
	DumpDir string

	Aborter Aborter
	Exiter  Exiter
}

// Context is the single process-scoped bridge object. Every entry point
// receives it explicitly.
type Context struct {
	Heap     *heap.Heap
	Handles  *handles.Registry
	Services *services.Resolver
	Options  *options.Pipeline
	Tracer   *trace.Tracer
	Statics  *StaticTable

	diag      io.Writer
	dumpDir   string
	verify    bool
	aborter   Aborter
	exiter    Exiter
	collector *heap.BackgroundCollector

	mu             sync.Mutex
	state          State
	initDone       chan struct{}
	bootThread     *Thread
	instance       handles.Handle
	bootstraps     int
	shutdownCalled bool
	flagsChecked   bool

	trivial atomic.Pointer[[]string]

	loaderMu       sync.Mutex
	loaderReady    bool
	loaderBoot     func(*Context) error
	requiredLoaded []string

	threadsMu    sync.Mutex
	threads      map[int64]*Thread
	nextThreadID atomic.Int64
	onDetach     []func(*Thread)

	oom handles.Handle
}

// New creates a bridge context.
func New(cfg Config) (*Context, error) {
	h := cfg.Heap
	if h == nil {
		capacity := cfg.HeapCapacity
		if capacity <= 0 {
			capacity = defaultHeapCapacity
		}
		h = heap.New(capacity)
	}
	pipeline := cfg.Options
	if pipeline == nil {
		pipeline = options.NewPipeline()
	}
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}
	diag := cfg.Diagnostics
	if diag == nil {
		diag = os.Stderr
	}
	aborter := cfg.Aborter
	if aborter == nil {
		aborter = ProcessAborter{}
	}
	exiter := cfg.Exiter
	if exiter == nil {
		exiter = ProcessExiter{}
	}

	c := &Context{
		Heap:     h,
		Handles:  handles.NewRegistry(),
		Services: services.NewResolver(namespace),
		Options:  pipeline,
		Tracer:   trace.NewTracer(cfg.TraceLevel, cfg.TraceWriter),
		Statics:  NewStaticTable(),
		diag:     diag,
		dumpDir:  cfg.DumpDir,
		verify:   cfg.VerifyHeap,
		aborter:  aborter,
		exiter:   exiter,
		threads:  make(map[int64]*Thread),
	}
	h.AddRoots(c.Handles)
	h.AddRoots(heap.RootFunc(c.visitThreadRoots))
	defineThrowables(h)

	oom, err := h.Allocate(nil, h.Classes.Lookup(OutOfMemoryErrorClass))
	if err != nil {
		return nil, fmt.Errorf("preallocating OutOfMemoryError: %w", err)
	}
	oom.Native = &Throwable{Message: "Java heap space"}
	c.oom = c.Handles.CreateGlobal(oom)

	if cfg.GCInterval > 0 {
		c.collector = heap.NewBackgroundCollector(h, cfg.GCInterval)
		c.collector.Start()
	}
	return c, nil
}

func (c *Context) visitThreadRoots(visit func(*heap.Object)) {
	c.threadsMu.Lock()
	defer c.threadsMu.Unlock()
	for _, t := range c.threads {
		t.visitRoots(visit)
	}
}

// Diagnostics returns the stream abort output is written to.
func (c *Context) Diagnostics() io.Writer { return c.diag }

// VerifyHeap reports whether heap verification is enabled.
func (c *Context) VerifyHeap() bool { return c.verify }

// State returns the current lifecycle state.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Bootstraps returns how many times the runtime bootstrap has run.
func (c *Context) Bootstraps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bootstraps
}

// ---------------------------------------------------------------------------
// Initialization
// ---------------------------------------------------------------------------

// Initialize brings the runtime instance up, running the managed bootstrap
// exactly once. Concurrent callers wait, outside the VM, for the thread
// doing the bootstrap and then observe the same instance. An exception
// escaping the bootstrap aborts the process, as does a nested Initialize on
// the bootstrapping thread itself.
func (c *Context) Initialize(t *Thread) Result[*heap.Object] {
	for {
		c.mu.Lock()
		switch c.state {
		case Initialized:
			h := c.instance
			c.mu.Unlock()
			obj, _ := c.Handles.Resolve(h)
			return Ok(obj)
		case ShutDown:
			c.mu.Unlock()
			c.Throw(t, IllegalStateClass, "JVMCI runtime has been shut down")
			return Pending[*heap.Object]()
		case Initializing:
			if c.bootThread == t {
				c.mu.Unlock()
				c.Fatalf("recursive initialization of the JVMCI runtime on %s", t.Name)
				return Pending[*heap.Object]()
			}
			done := c.initDone
			c.mu.Unlock()
			t.Block(func() { <-done })
			continue
		}
		c.state = Initializing
		c.initDone = make(chan struct{})
		c.bootThread = t
		c.mu.Unlock()
		return c.bootstrap(t)
	}
}

func (c *Context) bootstrap(t *Thread) Result[*heap.Object] {
	completed := false
	defer func() {
		if completed {
			return
		}
		// Only reachable when the aborter returns (tests): let a later
		// caller retry.
		c.mu.Lock()
		c.state = Uninitialized
		c.bootThread = nil
		close(c.initDone)
		c.mu.Unlock()
	}()

	c.Tracer.Printf(1, "initializing JVMCI runtime on %s", t.Name)
	c.EnsureClassLoaderReady()

	snap, err := c.Options.Handoff()
	if err != nil {
		c.Fatalf("option handoff during bootstrap: %v", err)
		return Pending[*heap.Object]()
	}
	c.Tracer.Printf(2, "compiler selection %q, %d option(s), %d trivial prefix(es)",
		snap.Compiler, len(snap.Options), len(snap.TrivialPrefixes))
	prefixes := append([]string(nil), snap.TrivialPrefixes...)
	c.trivial.Store(&prefixes)

	res := c.CallStatic(t, HotSpotJVMCIRuntimeClass, "runtime", RuntimeSignature, snap)
	if res.IsPending() {
		c.abortHere(t, 0)
		return Pending[*heap.Object]()
	}
	obj, ok := res.Get().(*heap.Object)
	if !ok || obj == nil {
		c.Fatalf("%s.runtime returned %T, want a runtime object", HotSpotJVMCIRuntimeClass, res.Get())
		return Pending[*heap.Object]()
	}
	global := c.Handles.CreateGlobal(obj)

	c.mu.Lock()
	c.instance = global
	c.state = Initialized
	c.bootThread = nil
	c.bootstraps++
	close(c.initDone)
	c.mu.Unlock()
	completed = true

	c.Tracer.Printf(1, "JVMCI runtime initialized: %s", obj)
	return Ok(obj)
}

// GetRuntime returns the runtime instance, initializing it on first use.
func (c *Context) GetRuntime(t *Thread) Result[*heap.Object] {
	return c.Initialize(t)
}

// IsInitialized reports whether the runtime instance exists.
func (c *Context) IsInitialized() bool {
	return c.State() == Initialized
}

// MaybePrintFlagsAndExit checks, at most once, whether PrintFlags or
// ShowFlags was requested. Either one initializes the runtime and prints the
// option help. PrintFlags then exits the process with status 0; ShowFlags
// returns false and startup continues. It also returns false when no help
// was requested (or on later calls).
func (c *Context) MaybePrintFlagsAndExit(t *Thread) bool {
	c.mu.Lock()
	checked := c.flagsChecked
	c.flagsChecked = true
	c.mu.Unlock()
	if checked {
		return false
	}
	exit := c.Options.PrintFlagsRequested()
	if !exit && !c.Options.ShowFlagsRequested() {
		return false
	}

	Require(c, t, c.Initialize(t))
	Require(c, t, c.CallStatic(t, OptionsParserClass, "printFlags", PrintFlagsSignature))
	if !exit {
		return false
	}
	c.exiter.Exit(0)
	return true
}

// Shutdown runs the managed shutdown hook and moves to ShutDown. It is only
// valid once initialized; a second call is a no-op.
func (c *Context) Shutdown(t *Thread) error {
	c.mu.Lock()
	switch {
	case c.state == ShutDown || c.shutdownCalled:
		c.mu.Unlock()
		return nil
	case c.state != Initialized:
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: shutdown in state %v", ErrNotInitialized, state)
	}
	c.shutdownCalled = true
	instance := c.instance
	c.mu.Unlock()

	c.Tracer.Printf(1, "shutting down JVMCI runtime")
	obj, _ := c.Handles.Resolve(instance)
	if res := c.CallStatic(t, HotSpotJVMCIRuntimeClass, "shutdown", ShutdownSignature, obj); res.IsPending() {
		c.abortHere(t, 0)
	}

	c.mu.Lock()
	c.state = ShutDown
	c.mu.Unlock()

	if c.collector != nil {
		c.collector.Stop()
	}
	return nil
}

// ShutdownCalled reports whether Shutdown has started.
func (c *Context) ShutdownCalled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdownCalled
}

// ---------------------------------------------------------------------------
// Trivial methods
// ---------------------------------------------------------------------------

// TreatAsTrivial reports whether a method, named by its qualified name
// ("java.util.List.add", slashes accepted), matches a trivial prefix. It
// always returns false before initialization.
func (c *Context) TreatAsTrivial(method string) bool {
	prefixes := c.trivial.Load()
	if prefixes == nil {
		return false
	}
	name := strings.ReplaceAll(method, "/", ".")
	for _, prefix := range *prefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// TrivialPrefixes returns the frozen prefix set, or nil before
// initialization.
func (c *Context) TrivialPrefixes() []string {
	prefixes := c.trivial.Load()
	if prefixes == nil {
		return nil
	}
	return append([]string(nil), (*prefixes)...)
}
