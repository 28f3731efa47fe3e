package gateway

import (
	"github.com/chazu/jitbridge/bridge"
	"github.com/chazu/jitbridge/handles"
)

// NoHandler is returned by ExceptionHandlerForPC when the frame has no
// handler for the pending exception and must unwind further.
const NoHandler uintptr = 0

// ExceptionHandlerForPC returns the handler for t's pending exception at
// t's exception pc, recording it as the thread's handler pc. It returns
// NoHandler when no table entry covering the pc catches the exception.
func (g *Gateway) ExceptionHandlerForPC(t *bridge.Thread) uintptr {
	exc := t.PendingException()
	pc := t.ExceptionPC()
	if exc == nil {
		g.ctx.Fatalf("exception_handler_for_pc at %#x without a pending exception", pc)
		return NoHandler
	}

	handler := NoHandler
	if blob := g.code.Lookup(pc); blob != nil {
		handler = blob.HandlerFor(pc, exc.Class())
		g.ctx.Tracer.Printf(3, "%s: %s at %#x in %s -> handler %#x",
			t.Name, exc.Class().Name, pc, blob.Method, handler)
	} else {
		g.ctx.Tracer.Printf(3, "%s: %s at %#x outside compiled code", t.Name, exc.Class().Name, pc)
	}
	t.SetHandlerPC(handler)
	return handler
}

// CreateNullException installs a NullPointerException as t's pending
// exception.
func (g *Gateway) CreateNullException(t *bridge.Thread) {
	defer enter(t)()
	g.ctx.Throw(t, bridge.NullPointerExceptionClass, "")
}

// CreateOutOfBoundsException installs an ArrayIndexOutOfBoundsException
// for index as t's pending exception.
func (g *Gateway) CreateOutOfBoundsException(t *bridge.Thread, index int32) {
	defer enter(t)()
	g.ctx.Throw(t, bridge.ArrayIndexOutOfBoundsClass, "Index %d out of bounds", index)
}

// LoadAndClearException removes t's pending exception and returns a handle
// to it, or the null handle if none was pending.
func (g *Gateway) LoadAndClearException(t *bridge.Thread) handles.Handle {
	exc := t.PendingException()
	if exc == nil {
		return handles.Null
	}
	// The handle roots the exception before the pending slot stops doing so.
	h := t.NewHandle(exc)
	t.ClearPendingException()
	return h
}

// ---------------------------------------------------------------------------
// Deoptimization
// ---------------------------------------------------------------------------

// Deoptimize marks t's innermost compiled frame for deoptimization with
// reason. The frame continues in the interpreter when it next returns.
func (g *Gateway) Deoptimize(t *bridge.Thread, reason int32) {
	defer enter(t)()
	f := t.TopCompiledFrame()
	if f == nil {
		g.ctx.Fatalf("deoptimize without a compiled frame on %s", t.Name)
		return
	}
	f.Deoptimized = true
	f.DeoptReason = reason
	g.ctx.Tracer.Printf(2, "%s: deoptimizing %s at %#x (reason %d)", t.Name, f.Method, f.PC, reason)
}

// TestDeoptimizeCallInt deoptimizes the calling compiled frame and returns
// value unchanged. Compiler tests use it to check that a value survives
// deoptimization across a call.
func (g *Gateway) TestDeoptimizeCallInt(t *bridge.Thread, value int32) int32 {
	g.Deoptimize(t, DeoptReasonTest)
	return value
}

// Deoptimization reasons.
const (
	DeoptReasonNone int32 = iota
	DeoptReasonNullCheck
	DeoptReasonRangeCheck
	DeoptReasonClassCheck
	DeoptReasonUnreached
	DeoptReasonTest
)
