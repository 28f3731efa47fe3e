package bridge

import (
	"fmt"
	"strings"

	"github.com/chazu/jitbridge/heap"
)

// Well-known throwable classes.
const (
	ThrowableClass              = "java.lang.Throwable"
	ExceptionClass              = "java.lang.Exception"
	ErrorClass                  = "java.lang.Error"
	RuntimeExceptionClass       = "java.lang.RuntimeException"
	OutOfMemoryErrorClass       = "java.lang.OutOfMemoryError"
	InternalErrorClass          = "java.lang.InternalError"
	NoClassDefFoundErrorClass   = "java.lang.NoClassDefFoundError"
	NoSuchMethodErrorClass      = "java.lang.NoSuchMethodError"
	NullPointerExceptionClass   = "java.lang.NullPointerException"
	NegativeArraySizeClass      = "java.lang.NegativeArraySizeException"
	InstantiationExceptionClass = "java.lang.InstantiationException"
	IllegalArgumentClass        = "java.lang.IllegalArgumentException"
	IllegalStateClass           = "java.lang.IllegalStateException"
	IllegalMonitorStateClass    = "java.lang.IllegalMonitorStateException"
	ArrayIndexOutOfBoundsClass  = "java.lang.ArrayIndexOutOfBoundsException"
	JVMCIErrorClass             = "jdk.vm.ci.common.JVMCIError"
	ThreadClass                 = "java.lang.Thread"
)

// Throwable is the native payload of a managed exception object. The cause
// lives in the object's single reference slot so the collector sees it.
type Throwable struct {
	Message string
	File    string
	Line    int
	Stack   []string
}

// throwableHierarchy lists each throwable class with its superclass, parents
// first.
var throwableHierarchy = [][2]string{
	{ThrowableClass, heap.ObjectClassName},
	{ExceptionClass, ThrowableClass},
	{ErrorClass, ThrowableClass},
	{RuntimeExceptionClass, ExceptionClass},
	{InstantiationExceptionClass, ExceptionClass},
	{OutOfMemoryErrorClass, ErrorClass},
	{InternalErrorClass, ErrorClass},
	{NoClassDefFoundErrorClass, ErrorClass},
	{NoSuchMethodErrorClass, ErrorClass},
	{JVMCIErrorClass, ErrorClass},
	{NullPointerExceptionClass, RuntimeExceptionClass},
	{NegativeArraySizeClass, RuntimeExceptionClass},
	{IllegalArgumentClass, RuntimeExceptionClass},
	{IllegalStateClass, RuntimeExceptionClass},
	{IllegalMonitorStateClass, RuntimeExceptionClass},
	{ArrayIndexOutOfBoundsClass, RuntimeExceptionClass},
}

func defineThrowables(h *heap.Heap) {
	for _, pair := range throwableHierarchy {
		super := h.Classes.Lookup(pair[1])
		h.DefineClass(&heap.Class{Name: pair[0], Super: super, RefFields: 1})
	}
	h.DefineClass(&heap.Class{Name: ThreadClass})
}

// ThrowableOf returns the payload of a managed exception, or nil.
func ThrowableOf(obj *heap.Object) *Throwable {
	if obj == nil {
		return nil
	}
	th, _ := obj.Native.(*Throwable)
	return th
}

// Cause returns the exception's cause, or nil.
func Cause(obj *heap.Object) *heap.Object {
	if obj == nil || obj.NumRefs() == 0 {
		return nil
	}
	return obj.Ref(0)
}

// ExceptionMessage returns the exception's message.
func ExceptionMessage(obj *heap.Object) string {
	if th := ThrowableOf(obj); th != nil {
		return th.Message
	}
	return ""
}

// FormatThrowable renders an exception and its causes the way a managed
// stack trace prints.
func FormatThrowable(obj *heap.Object) string {
	var b strings.Builder
	for depth := 0; obj != nil && depth < 16; depth++ {
		if depth > 0 {
			b.WriteString("Caused by: ")
		}
		b.WriteString(obj.Class().Name)
		th := ThrowableOf(obj)
		if th != nil && th.Message != "" {
			fmt.Fprintf(&b, ": %s", th.Message)
		}
		b.WriteByte('\n')
		if th != nil {
			for _, frame := range th.Stack {
				fmt.Fprintf(&b, "\tat %s\n", frame)
			}
			if th.File != "" {
				fmt.Fprintf(&b, "\tat <native> (%s:%d)\n", th.File, th.Line)
			}
		}
		obj = Cause(obj)
	}
	return b.String()
}

// NewThrowable allocates an exception of the named class. If the class is
// unknown an InternalError is created instead; if the heap is exhausted the
// preallocated OutOfMemoryError is returned.
func (c *Context) NewThrowable(t *Thread, className, message string) *heap.Object {
	cls := c.Heap.Classes.Lookup(className)
	if cls == nil {
		message = fmt.Sprintf("unknown exception class %s: %s", className, message)
		cls = c.Heap.Classes.Lookup(InternalErrorClass)
	}
	obj, err := c.Heap.Allocate(t.mutator(), cls)
	if err != nil {
		return c.preallocatedOOM()
	}
	obj.Native = &Throwable{Message: message, Stack: t.StackTrace()}
	return obj
}

// Throw installs a new exception of the named class as t's pending exception.
func (c *Context) Throw(t *Thread, className, format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	t.SetPendingException(c.NewThrowable(t, className, msg))
}

// ThrowOutOfMemory installs the preallocated OutOfMemoryError.
func (c *Context) ThrowOutOfMemory(t *Thread) {
	t.SetPendingException(c.preallocatedOOM())
}

func (c *Context) preallocatedOOM() *heap.Object {
	obj, _ := c.Handles.Resolve(c.oom)
	return obj
}
