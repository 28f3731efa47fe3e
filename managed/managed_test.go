package managed

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/chazu/jitbridge/bridge"
	"github.com/chazu/jitbridge/heap"
	"github.com/chazu/jitbridge/options"
)

type testFactory struct {
	name    string
	mu      sync.Mutex
	created int
}

func (f *testFactory) CompilerName() string { return f.name }

func (f *testFactory) CreateCompiler(rt *Runtime) (Compiler, error) {
	f.mu.Lock()
	f.created++
	f.mu.Unlock()
	return &testCompiler{name: f.name, threshold: rt.IntOption("Threshold")}, nil
}

type testCompiler struct {
	name      string
	threshold int64
	shutdowns int
}

func (c *testCompiler) Name() string { return c.name }

func (c *testCompiler) Shutdown() error {
	c.shutdowns++
	return nil
}

type aborted struct{}

func newContext(t *testing.T, p *options.Pipeline, opts ...Option) (*bridge.Context, *bytes.Buffer) {
	t.Helper()
	diag := &bytes.Buffer{}
	c, err := bridge.New(bridge.Config{
		HeapCapacity: 1 << 16,
		Options:      p,
		Diagnostics:  diag,
		Aborter:      bridge.AborterFunc(func(bool) { panic(aborted{}) }),
		Exiter:       bridge.ExiterFunc(func(int) {}),
	})
	if err != nil {
		t.Fatalf("bridge.New: %v", err)
	}
	if err := Install(c, opts...); err != nil {
		t.Fatalf("Install: %v", err)
	}
	return c, diag
}

func attach(t *testing.T, c *bridge.Context) *bridge.Thread {
	t.Helper()
	th, err := c.AttachThread("main")
	if err != nil {
		t.Fatalf("AttachThread: %v", err)
	}
	return th
}

func mustAbort(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(aborted); !ok {
				panic(r)
			}
			return
		}
		t.Fatal("expected an abort")
	}()
	fn()
}

func pipelineWith(t *testing.T, compiler string, props ...options.Property) *options.Pipeline {
	t.Helper()
	p := options.NewPipeline()
	if compiler != "" {
		if err := p.SaveCompilerSelection(compiler); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := p.SaveOptions(props); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestEndToEnd(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "trivial.txt"), []byte("# trivial\njava.util.\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfgText := `
[compiler]
name = "X"

[paths]
trivial-prefixes = "trivial.txt"

[properties]
"jvmci.option.Threshold" = "100"
`
	if err := os.WriteFile(filepath.Join(dir, options.ConfigFile), []byte(cfgText), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := options.LoadConfig(filepath.Join(dir, options.ConfigFile))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	p := options.NewPipeline()
	if err := cfg.Apply(p); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	x := &testFactory{name: "X"}
	c, _ := newContext(t, p,
		WithCompilerFactory("jdk.vm.ci.test.XCompilerFactory", func() (CompilerFactory, error) { return x, nil }),
		WithCompilerFactory("jdk.vm.ci.test.ACompilerFactory", func() (CompilerFactory, error) { return &testFactory{name: "A"}, nil }),
	)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			th, err := c.AttachThread("compiler")
			if err != nil {
				return err
			}
			defer th.Detach()
			if c.Initialize(th).IsPending() {
				return errors.New("initialize failed")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if c.Bootstraps() != 1 || x.created != 1 {
		t.Fatalf("bootstraps %d, compilers created %d; want 1 each", c.Bootstraps(), x.created)
	}

	if !c.TreatAsTrivial("java.util.List.add") {
		t.Error("java.util.List.add is not trivial")
	}
	if c.TreatAsTrivial("java.lang.String.length") {
		t.Error("java.lang.String.length is trivial")
	}

	th := attach(t, c)
	first := c.GetRuntime(th).Get()
	second := c.GetRuntime(th).Get()
	if first == nil || first != second {
		t.Fatalf("GetRuntime returned %v then %v", first, second)
	}
	rt := RuntimeOf(first)
	if rt.CompilerName != "X" || rt.IntOption("Threshold") != 100 {
		t.Errorf("runtime = %s, Threshold %d", rt, rt.IntOption("Threshold"))
	}
	compiler := rt.Compiler.(*testCompiler)
	if compiler.threshold != 100 {
		t.Errorf("compiler saw Threshold %d", compiler.threshold)
	}

	if err := c.Shutdown(th); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := c.Shutdown(th); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if !rt.IsShutdown() || compiler.shutdowns != 1 {
		t.Errorf("shutdown ran %d times", compiler.shutdowns)
	}
}

func TestGetRuntimeStatic(t *testing.T) {
	c, _ := newContext(t, options.NewPipeline())
	th := attach(t, c)
	c.EnsureClassLoaderReady()

	res := c.CallStatic(th, bridge.JVMCIClass, "getRuntime", bridge.GetRuntimeSignature)
	obj, ok := res.Get().(*heap.Object)
	if res.IsPending() || !ok {
		t.Fatalf("getRuntime = %v", res.Get())
	}
	if obj != c.GetRuntime(th).Get() {
		t.Error("getRuntime and GetRuntime disagree")
	}
	if !obj.Class().IsSubclassOf(c.ResolveOrNull(JVMCIRuntimeInterface)) {
		t.Errorf("%s does not implement %s", obj.Class().Name, JVMCIRuntimeInterface)
	}
	if RuntimeOf(obj).CompilerName != NullCompilerName {
		t.Errorf("compiler = %q, want the null compiler", RuntimeOf(obj).CompilerName)
	}
}

func TestFactorySelection(t *testing.T) {
	tests := []struct {
		name     string
		compiler string
		want     string
	}{
		{"first in class order", "", "A"},
		{"by name", "B", "B"},
		{"null compiler", NullCompilerName, NullCompilerName},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newContext(t, pipelineWith(t, tt.compiler),
				WithCompilerFactory("jdk.vm.ci.test.BFactory", func() (CompilerFactory, error) { return &testFactory{name: "B"}, nil }),
				WithCompilerFactory("jdk.vm.ci.test.AFactory", func() (CompilerFactory, error) { return &testFactory{name: "A"}, nil }),
				WithCompilerFactory("org.example.ZFactory", func() (CompilerFactory, error) { return &testFactory{name: "Z"}, nil }),
			)
			th := attach(t, c)
			rt := RuntimeOf(c.Initialize(th).Get())
			if rt.CompilerName != tt.want || rt.Compiler.Name() != tt.want {
				t.Errorf("selected %q (%q), want %q", rt.CompilerName, rt.Compiler.Name(), tt.want)
			}
		})
	}
}

func TestBootstrapFailuresAbort(t *testing.T) {
	tests := []struct {
		name     string
		pipeline func(t *testing.T) *options.Pipeline
		want     string
	}{
		{
			name:     "unknown compiler",
			pipeline: func(t *testing.T) *options.Pipeline { return pipelineWith(t, "Z") },
			want:     "JVMCI compiler 'Z' not found",
		},
		{
			name: "unknown option",
			pipeline: func(t *testing.T) *options.Pipeline {
				return pipelineWith(t, "", options.Property{Key: "jvmci.option.Bogus", Value: "1"})
			},
			want: "Could not find option jvmci.option.Bogus",
		},
		{
			name: "bad option value",
			pipeline: func(t *testing.T) *options.Pipeline {
				return pipelineWith(t, "", options.Property{Key: "jvmci.option.Threshold", Value: "lots"})
			},
			want: "Invalid value for option Threshold",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, diag := newContext(t, tt.pipeline(t))
			th := attach(t, c)
			mustAbort(t, func() { c.Initialize(th) })
			out := diag.String()
			if !strings.Contains(out, "Uncaught exception at") || !strings.Contains(out, bridge.JVMCIErrorClass+": "+tt.want) {
				t.Errorf("diagnostics:\n%s", out)
			}
		})
	}
}

func TestPrintFlags(t *testing.T) {
	p := pipelineWith(t, "", options.Property{Key: "jvmci.option.PrintFlags", Value: "true"},
		options.Property{Key: "jvmci.option.Threshold", Value: "7"})
	out := &bytes.Buffer{}
	c, _ := newContext(t, p,
		WithOutput(out),
		WithOptionDescriptors("jdk.vm.ci.test.Options", OptionDescriptor{Name: "Extra", Type: TypeString, Default: "none", Help: "An extra option."}),
	)
	th := attach(t, c)

	if !c.MaybePrintFlagsAndExit(th) {
		t.Fatal("flags were not printed")
	}
	text := out.String()
	if !strings.HasPrefix(text, "[List of JVMCI options]\n") {
		t.Errorf("missing header:\n%s", text)
	}
	for _, want := range []string{"Threshold", ":= 7", "Extra", "none", "An extra option.", "PrintFlags"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
	if strings.Index(text, "Extra") > strings.Index(text, "Threshold") {
		t.Error("options not sorted by name")
	}
}

func TestPrintStackTraceStatic(t *testing.T) {
	c, diag := newContext(t, options.NewPipeline())
	th := attach(t, c)
	exc := c.NewThrowable(th, bridge.IllegalStateClass, "broken")

	if c.CallStatic(th, bridge.ThrowableClass, "printStackTrace", bridge.StackTraceSignature, exc).IsPending() {
		t.Fatal("printStackTrace threw")
	}
	if diag.String() != "java.lang.IllegalStateException: broken\n" {
		t.Errorf("diagnostics = %q", diag.String())
	}
}

func TestInstallRejectsDuplicateProvider(t *testing.T) {
	c, err := bridge.New(bridge.Config{HeapCapacity: 1 << 12})
	if err != nil {
		t.Fatal(err)
	}
	f := func() (CompilerFactory, error) { return &testFactory{name: "X"}, nil }
	err = Install(c, WithCompilerFactory("jdk.vm.ci.test.X", f), WithCompilerFactory("jdk.vm.ci.test.X", f))
	if err == nil {
		t.Fatal("duplicate provider class accepted")
	}
}
