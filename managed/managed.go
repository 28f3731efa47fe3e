// Package managed is the in-process managed side of the bridge: the JVMCI
// classes, their static entry points, and the compiler-factory and
// option-descriptor services the runtime bootstrap consults.
package managed

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/chazu/jitbridge/bridge"
	"github.com/chazu/jitbridge/heap"
	"github.com/chazu/jitbridge/options"
	"github.com/chazu/jitbridge/services"
	"github.com/chazu/jitbridge/trace"
)

// Service interfaces and the runtime interface class.
const (
	CompilerFactoryService   = "jdk.vm.ci.runtime.JVMCICompilerFactory"
	OptionDescriptorsService = "jdk.vm.ci.options.OptionDescriptors"
	JVMCIRuntimeInterface    = "jdk.vm.ci.runtime.JVMCIRuntime"
)

// NullCompilerName selects the fallback compiler that compiles nothing.
const NullCompilerName = "null"

// Compiler is a compiler instance produced by a factory.
type Compiler interface {
	Name() string
}

// CompilerFactory is the JVMCICompilerFactory service.
type CompilerFactory interface {
	CompilerName() string
	CreateCompiler(rt *Runtime) (Compiler, error)
}

// Shutdowner is implemented by compilers that release resources when the
// runtime shuts down.
type Shutdowner interface {
	Shutdown() error
}

type nullCompiler struct{}

func (nullCompiler) Name() string { return NullCompilerName }

// Runtime is the payload of the HotSpotJVMCIRuntime instance.
type Runtime struct {
	ID       uuid.UUID
	Created  time.Time
	Compiler Compiler

	// CompilerName is the name the compiler was selected by.
	CompilerName string

	values      map[string]any
	descriptors map[string]OptionDescriptor
	shutdown    bool
}

// RuntimeOf returns the Runtime carried by a runtime instance object.
func RuntimeOf(obj *heap.Object) *Runtime {
	if obj == nil {
		return nil
	}
	rt, _ := obj.Native.(*Runtime)
	return rt
}

// Option returns the effective value of an option: the configured value,
// or the descriptor default.
func (rt *Runtime) Option(name string) (any, bool) {
	if v, ok := rt.values[name]; ok {
		return v, true
	}
	if d, ok := rt.descriptors[name]; ok {
		return d.Default, true
	}
	return nil, false
}

// IntOption returns an integer option, or 0.
func (rt *Runtime) IntOption(name string) int64 {
	v, _ := rt.Option(name)
	n, _ := v.(int64)
	return n
}

// BoolOption returns a boolean option, or false.
func (rt *Runtime) BoolOption(name string) bool {
	v, _ := rt.Option(name)
	b, _ := v.(bool)
	return b
}

// IsShutdown reports whether the shutdown hook has run.
func (rt *Runtime) IsShutdown() bool { return rt.shutdown }

func (rt *Runtime) String() string {
	return fmt.Sprintf("HotSpotJVMCIRuntime[%s compiler=%s]", rt.ID, rt.CompilerName)
}

// ---------------------------------------------------------------------------
// Installation
// ---------------------------------------------------------------------------

type installer struct {
	out       io.Writer
	providers []services.Provider
}

// Option configures Install.
type Option func(*installer)

// WithOutput sets where printFlags writes option help. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(in *installer) { in.out = w }
}

// WithCompilerFactory registers a compiler factory provider class.
func WithCompilerFactory(class string, newFactory func() (CompilerFactory, error)) Option {
	return func(in *installer) {
		in.providers = append(in.providers, services.Provider{
			Service: CompilerFactoryService,
			Class:   class,
			New:     func() (any, error) { return newFactory() },
		})
	}
}

// WithOptionDescriptors registers an option descriptor provider class.
func WithOptionDescriptors(class string, descriptors ...OptionDescriptor) Option {
	return func(in *installer) {
		in.providers = append(in.providers, services.Provider{
			Service: OptionDescriptorsService,
			Class:   class,
			New:     func() (any, error) { return Descriptors(descriptors), nil },
		})
	}
}

// Install makes the managed side available to c: the class-loader
// bootstrap that defines the JVMCI classes, their static entry points and
// the service providers.
func Install(c *bridge.Context, opts ...Option) error {
	in := &installer{out: os.Stdout}
	in.providers = append(in.providers, services.Provider{
		Service: OptionDescriptorsService,
		Class:   builtinOptionsClass,
		New:     func() (any, error) { return Descriptors(builtinOptions), nil },
	})
	for _, opt := range opts {
		opt(in)
	}

	c.Services.DeclareService(CompilerFactoryService)
	c.Services.DeclareService(OptionDescriptorsService)
	for _, p := range in.providers {
		if err := c.Services.Register(p); err != nil {
			return fmt.Errorf("install managed side: %w", err)
		}
	}

	c.SetClassLoader(defineClasses, bridge.JVMCIClass, bridge.HotSpotJVMCIRuntimeClass, bridge.OptionsParserClass)
	in.registerRuntimeStatics(c)
	in.registerOptionStatics(c)
	c.Statics.Register(bridge.ThrowableClass, "printStackTrace", bridge.StackTraceSignature, printStackTrace)
	return nil
}

func defineClasses(c *bridge.Context) error {
	h := c.Heap
	iface := h.DefineClass(&heap.Class{Name: JVMCIRuntimeInterface, Kind: heap.KindInterface})
	h.DefineClass(&heap.Class{Name: CompilerFactoryService, Kind: heap.KindInterface})
	h.DefineClass(&heap.Class{Name: OptionDescriptorsService, Kind: heap.KindInterface})
	h.DefineClass(&heap.Class{Name: bridge.JVMCIClass, Kind: heap.KindAbstract})
	h.DefineClass(&heap.Class{Name: bridge.HotSpotJVMCIRuntimeClass, Interfaces: []*heap.Class{iface}})
	h.DefineClass(&heap.Class{Name: bridge.OptionsParserClass, Kind: heap.KindAbstract})
	return nil
}

// ---------------------------------------------------------------------------
// Runtime entry points
// ---------------------------------------------------------------------------

func (in *installer) registerRuntimeStatics(c *bridge.Context) {
	c.Statics.Register(bridge.JVMCIClass, "getRuntime", bridge.GetRuntimeSignature,
		func(c *bridge.Context, t *bridge.Thread, args []any) bridge.Result[any] {
			return bridge.Then(c.GetRuntime(t), func(obj *heap.Object) bridge.Result[any] {
				return bridge.Ok[any](obj)
			})
		})

	c.Statics.Register(bridge.HotSpotJVMCIRuntimeClass, "runtime", bridge.RuntimeSignature, bootstrapRuntime)

	c.Statics.Register(bridge.HotSpotJVMCIRuntimeClass, "shutdown", bridge.ShutdownSignature,
		func(c *bridge.Context, t *bridge.Thread, args []any) bridge.Result[any] {
			obj, _ := args[0].(*heap.Object)
			rt := RuntimeOf(obj)
			if rt == nil {
				c.ThrowError(t, "shutdown called on %v", obj)
				return bridge.Pending[any]()
			}
			if rt.shutdown {
				return bridge.Ok[any](nil)
			}
			rt.shutdown = true
			if s, ok := rt.Compiler.(Shutdowner); ok {
				if err := s.Shutdown(); err != nil {
					c.ThrowError(t, "compiler %s shutdown: %v", rt.CompilerName, err)
					return bridge.Pending[any]()
				}
			}
			c.Tracer.Printf(2, "runtime %s shut down", rt.ID)
			return bridge.Ok[any](nil)
		})
}

// bootstrapRuntime constructs the runtime instance from the option
// snapshot: option records are validated against the descriptors, then a
// compiler is created by the selected factory.
func bootstrapRuntime(c *bridge.Context, t *bridge.Thread, args []any) bridge.Result[any] {
	snap, ok := args[0].(*options.Snapshot)
	if !ok {
		c.ThrowError(t, "runtime bootstrap expects an option snapshot, got %T", args[0])
		return bridge.Pending[any]()
	}

	rt := &Runtime{
		ID:          uuid.New(),
		Created:     time.Now(),
		values:      make(map[string]any),
		descriptors: collectDescriptors(c),
	}
	for _, rec := range snap.Options {
		d, ok := rt.descriptors[rec.Key]
		if !ok {
			c.ThrowError(t, "Could not find option jvmci.option.%s", rec.Key)
			return bridge.Pending[any]()
		}
		v, err := d.Parse(rec.Value)
		if err != nil {
			c.ThrowError(t, "Invalid value for option %s: %v", rec.Key, err)
			return bridge.Pending[any]()
		}
		rt.values[rec.Key] = v
	}

	factory := selectFactory(c, t, snap)
	if t.HasPendingException() {
		return bridge.Pending[any]()
	}
	if factory == nil {
		rt.Compiler = nullCompiler{}
		rt.CompilerName = NullCompilerName
	} else {
		compiler, err := factory.CreateCompiler(rt)
		if err != nil {
			c.ThrowError(t, "creating compiler %s: %v", factory.CompilerName(), err)
			return bridge.Pending[any]()
		}
		rt.Compiler = compiler
		rt.CompilerName = factory.CompilerName()
	}

	obj, err := c.Heap.Allocate(t.Mutator(), c.ResolveOrNull(bridge.HotSpotJVMCIRuntimeClass))
	if err != nil {
		c.ThrowOutOfMemory(t)
		return bridge.Pending[any]()
	}
	obj.Native = rt
	c.Tracer.Printf(2, "created %s", rt)
	return bridge.Ok[any](obj)
}

// selectFactory picks the factory named by the snapshot, or the first one
// in class order. nil means the null compiler.
func selectFactory(c *bridge.Context, t *bridge.Thread, snap *options.Snapshot) CompilerFactory {
	impls, err := c.Services.GetServiceImpls(CompilerFactoryService)
	if err != nil {
		trace.Logger().Warningf("compiler factories: %v", err)
	}
	var factories []CompilerFactory
	for _, impl := range impls {
		if f, ok := impl.(CompilerFactory); ok {
			factories = append(factories, f)
		}
	}

	if !snap.HasCompiler {
		if len(factories) == 0 {
			return nil
		}
		return factories[0]
	}
	if snap.Compiler == NullCompilerName {
		return nil
	}
	for _, f := range factories {
		if f.CompilerName() == snap.Compiler {
			return f
		}
	}
	c.ThrowError(t, "JVMCI compiler '%s' not found", snap.Compiler)
	return nil
}

func printStackTrace(c *bridge.Context, t *bridge.Thread, args []any) bridge.Result[any] {
	exc, _ := args[0].(*heap.Object)
	if exc == nil {
		c.Throw(t, bridge.NullPointerExceptionClass, "printStackTrace on null")
		return bridge.Pending[any]()
	}
	fmt.Fprint(c.Diagnostics(), bridge.FormatThrowable(exc))
	return bridge.Ok[any](nil)
}
