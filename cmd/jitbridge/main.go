// jitbridge CLI - boots the compiler bridge, reports the runtime it selects
// and answers trivial-method queries.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/chazu/jitbridge/bridge"
	"github.com/chazu/jitbridge/gateway"
	"github.com/chazu/jitbridge/heap"
	"github.com/chazu/jitbridge/managed"
	"github.com/chazu/jitbridge/options"
	"github.com/chazu/jitbridge/trace"

	_ "github.com/tliron/commonlog/simple"
)

// properties collects repeated -D key=value flags.
type properties []options.Property

func (p *properties) String() string {
	parts := make([]string, len(*p))
	for i, prop := range *p {
		parts[i] = prop.Key + "=" + prop.Value
	}
	return strings.Join(parts, ",")
}

func (p *properties) Set(s string) error {
	key, value, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	*p = append(*p, options.Property{Key: key, Value: value})
	return nil
}

func main() {
	configPath := flag.String("config", "", "Path to bridge.toml (default: search upward from the working directory)")
	home := flag.String("home", "", "Home directory whose lib/jvmci holds *.properties files")
	compiler := flag.String("compiler", "", "Compiler to select (overrides configuration)")
	traceLevel := flag.Int("trace", -1, "Bridge trace level 0-5 (default: from configuration)")
	verbosity := flag.Int("v", 0, "Log verbosity")
	strict := flag.Bool("strict", false, "Fail when the configuration directory is unreadable")
	listStubs := flag.Bool("stubs", false, "List the compiled-code entry points and exit")
	dumpDir := flag.String("dump-dir", "", "Directory for diagnostic dumps written on abort")
	var props properties
	flag.Var(&props, "D", "Set a property key=value (repeatable)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: jitbridge [options] [methods...]\n\n")
		fmt.Fprintf(os.Stderr, "Initializes the compiler runtime and reports whether each method is trivial.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  jitbridge -D jvmci.option.Threshold=100       # Boot with an option\n")
		fmt.Fprintf(os.Stderr, "  jitbridge -D jvmci.option.PrintFlags=true     # Print option help\n")
		fmt.Fprintf(os.Stderr, "  jitbridge java.lang.Math.abs                  # Query the trivial list\n")
		fmt.Fprintf(os.Stderr, "  jitbridge -stubs                              # List entry points\n")
	}
	flag.Parse()

	trace.Configure(*verbosity)

	if *listStubs {
		for _, s := range gateway.Stubs() {
			fmt.Printf("%3d  %s\n", s.ID, s.Signature())
		}
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *home != "" {
		cfg.Paths.Home = *home
	}
	if *strict {
		cfg.Paths.Strict = true
	}
	if *traceLevel >= 0 {
		cfg.Compiler.TraceLevel = *traceLevel
	}

	pipeline := options.NewPipeline()
	if err := cfg.Apply(pipeline); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := pipeline.SaveProperties(props); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *compiler != "" {
		if err := pipeline.SaveCompilerSelection(*compiler); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	for _, w := range pipeline.Warnings() {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}

	capacity := cfg.Heap.Capacity
	if capacity <= 0 {
		capacity = options.DefaultHeapCapacity
	}
	c, err := bridge.New(bridge.Config{
		HeapCapacity: capacity,
		VerifyHeap:   cfg.Heap.Verify,
		GCInterval:   cfg.Heap.GCInterval,
		Options:      pipeline,
		TraceLevel:   cfg.Compiler.TraceLevel,
		DumpDir:      *dumpDir,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := managed.Install(c); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	t, err := c.AttachThread("main")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer t.Detach()

	c.MaybePrintFlagsAndExit(t)

	c.EnsureClassLoaderReady()
	obj := bridge.Require(c, t, c.CallStatic(t, bridge.JVMCIClass, "getRuntime", bridge.GetRuntimeSignature))
	if rt := managed.RuntimeOf(obj.(*heap.Object)); rt != nil {
		fmt.Printf("runtime %s (compiler %s, %d classes)\n", rt.ID, rt.Compiler.Name(), c.Heap.Classes.Len())
	}

	for _, method := range flag.Args() {
		fmt.Printf("%s trivial=%v\n", method, c.TreatAsTrivial(method))
	}

	if err := c.Shutdown(t); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the configuration named on the command line, or the
// nearest bridge.toml above the working directory, or an empty one.
func loadConfig(path string) (*options.Config, error) {
	if path != "" {
		return options.LoadConfig(path)
	}
	cfg, err := options.FindConfig(".")
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = &options.Config{}
	}
	return cfg, nil
}
