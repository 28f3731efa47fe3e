package bridge

import (
	"path/filepath"
	"runtime"
	"strings"

	"github.com/chazu/jitbridge/abi"
	"github.com/chazu/jitbridge/heap"
)

// SetClassLoader installs the class-loader bootstrap run by
// EnsureClassLoaderReady, and the classes it must make available.
func (c *Context) SetClassLoader(boot func(*Context) error, required ...string) {
	c.loaderMu.Lock()
	defer c.loaderMu.Unlock()
	c.loaderBoot = boot
	c.requiredLoaded = append([]string(nil), required...)
}

// EnsureClassLoaderReady runs the class-loader bootstrap once. A missing or
// failing bootstrap, or a required class it did not provide, aborts.
func (c *Context) EnsureClassLoaderReady() {
	c.loaderMu.Lock()
	defer c.loaderMu.Unlock()
	if c.loaderReady {
		return
	}
	if c.State() == ShutDown {
		c.Fatalf("class loader requested after shutdown")
		return
	}
	if c.loaderBoot == nil {
		c.Fatalf("JVMCI class loader bootstrap is not installed")
		return
	}
	c.Tracer.Printf(2, "bootstrapping JVMCI class loader")
	if err := c.loaderBoot(c); err != nil {
		c.Fatalf("JVMCI class loader bootstrap failed: %v", err)
		return
	}
	for _, name := range c.requiredLoaded {
		if c.LoadRequiredClass(name) == nil {
			return
		}
	}
	c.loaderReady = true
}

// ClassLoaderReady reports whether the class loader has been bootstrapped.
func (c *Context) ClassLoaderReady() bool {
	c.loaderMu.Lock()
	defer c.loaderMu.Unlock()
	return c.loaderReady
}

// binaryName converts "java/lang/String" and "Ljava/lang/String;" to
// "java.lang.String". Array names are left alone.
func binaryName(name string) string {
	if strings.HasPrefix(name, "L") && strings.HasSuffix(name, ";") {
		name = name[1 : len(name)-1]
	}
	if strings.HasPrefix(name, "[") {
		return name
	}
	return strings.ReplaceAll(name, "/", ".")
}

// ResolveOrNull looks a class up by name, returning nil if it is unknown.
func (c *Context) ResolveOrNull(name string) *heap.Class {
	return c.Heap.Classes.Lookup(binaryName(name))
}

// ResolveOrFail is ResolveOrNull leaving NoClassDefFoundError pending for
// an unknown class.
func (c *Context) ResolveOrFail(t *Thread, name string) Result[*heap.Class] {
	cls := c.ResolveOrNull(name)
	if cls == nil {
		c.Throw(t, NoClassDefFoundErrorClass, "%s", binaryName(name))
		return Pending[*heap.Class]()
	}
	return Ok(cls)
}

// LoadRequiredClass resolves a class the bridge cannot run without,
// aborting if it is missing.
func (c *Context) LoadRequiredClass(name string) *heap.Class {
	cls := c.ResolveOrNull(name)
	if cls == nil {
		c.Fatalf("Could not load required class %s", binaryName(name))
	}
	return cls
}

// KindToBasicType maps a JVMCI kind character to a basic type, raising a
// JVMCIError for an unknown kind.
func (c *Context) KindToBasicType(t *Thread, ch abi.Jchar) Result[abi.BasicType] {
	bt, err := abi.KindToBasicType(ch)
	if err != nil {
		c.ThrowError(t, "unexpected Kind: %c", rune(ch))
		return Pending[abi.BasicType]()
	}
	return Ok(bt)
}

// ThrowError is FthrowError with the caller's file and line.
func (c *Context) ThrowError(t *Thread, format string, args ...any) {
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		file = "?"
	}
	c.FthrowError(t, filepath.Base(file), line, format, args...)
}
