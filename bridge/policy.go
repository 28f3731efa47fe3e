package bridge

import (
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/google/uuid"

	"github.com/chazu/jitbridge/heap"
	"github.com/chazu/jitbridge/trace"
)

// ---------------------------------------------------------------------------
// Exception/abort policy
// ---------------------------------------------------------------------------

// Contract is what a caller promises about exceptions raised by a managed
// call it makes.
type Contract uint8

const (
	// Propagate leaves a pending exception for the caller to handle.
	Propagate Contract = iota
	// MustNotFail aborts the process if an exception is pending.
	MustNotFail
)

func (k Contract) String() string {
	if k == MustNotFail {
		return "must-not-fail"
	}
	return "propagate"
}

// Aborter terminates the process. Abort does not return in production;
// test aborters may.
type Aborter interface {
	Abort(dumpCore bool)
}

// AborterFunc adapts a function to Aborter.
type AborterFunc func(dumpCore bool)

// Abort implements Aborter.
func (f AborterFunc) Abort(dumpCore bool) { f(dumpCore) }

// Exiter ends the process normally.
type Exiter interface {
	Exit(code int)
}

// ExiterFunc adapts a function to Exiter.
type ExiterFunc func(code int)

// Exit implements Exiter.
func (f ExiterFunc) Exit(code int) { f(code) }

// Check inspects t's pending exception after a managed call. It reports
// whether an exception is pending; under MustNotFail a pending exception
// aborts the process instead.
func (c *Context) Check(t *Thread, contract Contract) bool {
	if !t.HasPendingException() {
		return false
	}
	if contract == MustNotFail {
		c.abortHere(t, 1)
	}
	return true
}

// Require returns r's value, aborting the process if the call left an
// exception pending.
func Require[T any](c *Context, t *Thread, r Result[T]) T {
	if r.IsPending() || t.HasPendingException() {
		c.abortHere(t, 1)
	}
	return r.Get()
}

// abortHere aborts on t's pending exception, naming the caller skip frames
// above it as the place the exception escaped.
func (c *Context) abortHere(t *Thread, skip int) {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		file, line = "?", 0
	}
	msg := fmt.Sprintf("Uncaught exception at %s:%d", filepath.Base(file), line)
	c.AbortOnPendingException(t, t.PendingException(), msg, false)
}

// AbortOnPendingException prints message, then exc's class, message and
// managed stack trace, optionally writes a diagnostic dump, and aborts.
func (c *Context) AbortOnPendingException(t *Thread, exc *heap.Object, message string, dumpCore bool) {
	t.ClearPendingException()
	if message != "" {
		fmt.Fprintln(c.diag, message)
	}
	trace.Logger().Criticalf("%s: %s", message, describe(exc))
	c.printStackTrace(t, exc)
	if dumpCore {
		c.writeDump(t, message, exc)
	}
	c.aborter.Abort(dumpCore)
}

func describe(exc *heap.Object) string {
	if exc == nil {
		return "<no exception>"
	}
	if msg := ExceptionMessage(exc); msg != "" {
		return exc.Class().Name + ": " + msg
	}
	return exc.Class().Name
}

// printStackTrace calls Throwable.printStackTrace on exc. If the managed
// method is unavailable or itself throws, the trace is rendered natively.
func (c *Context) printStackTrace(t *Thread, exc *heap.Object) {
	if exc == nil {
		return
	}
	res := c.CallStatic(t, ThrowableClass, "printStackTrace", StackTraceSignature, exc)
	if res.IsPending() {
		t.ClearPendingException()
		fmt.Fprint(c.diag, FormatThrowable(exc))
	}
}

// FthrowError installs a JVMCIError carrying file and line as t's pending
// exception and returns; the caller's contract decides what happens next.
func (c *Context) FthrowError(t *Thread, file string, line int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	exc := c.NewThrowable(t, JVMCIErrorClass, msg)
	if th := ThrowableOf(exc); th != nil && exc != c.preallocatedOOM() {
		th.File = file
		th.Line = line
	}
	c.Tracer.Printf(2, "JVMCIError at %s:%d: %s", file, line, msg)
	t.SetPendingException(exc)
}

// Fatalf reports a protocol violation and aborts with a diagnostic dump.
func (c *Context) Fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(c.diag, "fatal error: %s\n", msg)
	trace.Logger().Critical("fatal error: " + msg)
	c.writeDump(nil, msg, nil)
	c.aborter.Abort(true)
}

func (c *Context) writeDump(t *Thread, message string, exc *heap.Object) {
	if c.dumpDir == "" {
		return
	}
	d := &Dump{
		ID:           uuid.NewString(),
		Message:      message,
		HeapUsed:     c.Heap.Used(),
		HeapCapacity: c.Heap.Capacity(),
		Collections:  c.Heap.Collections(),
	}
	d.stamp()
	if t != nil {
		d.Thread = t.Name
	}
	if exc != nil {
		d.ExceptionClass = exc.Class().Name
		d.ExceptionMessage = ExceptionMessage(exc)
		if th := ThrowableOf(exc); th != nil {
			d.Stack = th.Stack
		}
	}
	path, err := WriteDump(c.dumpDir, d)
	if err != nil {
		trace.Logger().Errorf("cannot write diagnostic dump: %v", err)
		return
	}
	fmt.Fprintf(c.diag, "diagnostic dump written to %s\n", path)
}
