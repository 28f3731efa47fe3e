package gateway

import (
	"errors"
	"fmt"
	"strings"

	"github.com/chazu/jitbridge/abi"
	"github.com/chazu/jitbridge/bridge"
	"github.com/chazu/jitbridge/handles"
	"github.com/chazu/jitbridge/heap"
)

// StubID identifies an entry point in the stub table. The numbering is part
// of the ABI shared with the compiler: append only.
type StubID uint16

const (
	StubNewInstance StubID = iota
	StubNewArray
	StubNewMultiArray
	StubDynamicNewArray
	StubDynamicNewInstance
	StubMonitorEnter
	StubMonitorExit
	StubWriteBarrierPre
	StubWriteBarrierPost
	StubNewStorePreBarrier
	StubExceptionHandlerForPC
	StubIdentityHashCode
	StubValidateObject
	StubThreadIsInterrupted
	StubVMMessage
	StubVMError
	StubCreateNullException
	StubCreateOutOfBoundsException
	StubLoadAndClearException
	StubLogPrintf
	StubLogPrimitive
	StubLogObject
	StubDeoptimize
	StubTestDeoptimizeCallInt

	numStubs
)

var (
	ErrUnknownStub = errors.New("unknown stub")
	ErrArity       = errors.New("wrong number of stub arguments")
)

// Stub describes the calling convention of one entry point. Every argument
// and the result travel as one 64-bit word: object references as handles,
// classes as handles to their mirrors, booleans as 0 or 1, narrower
// integers sign-extended.
type Stub struct {
	ID     StubID
	Name   string
	Params []abi.BasicType
	Result abi.BasicType
}

// Signature renders the stub as "name(IJL)V" using descriptor characters.
func (s Stub) Signature() string {
	var b strings.Builder
	b.WriteString(s.Name)
	b.WriteByte('(')
	for _, p := range s.Params {
		b.WriteByte(p.DescriptorChar())
	}
	b.WriteByte(')')
	b.WriteByte(s.Result.DescriptorChar())
	return b.String()
}

type stubFunc func(g *Gateway, t *bridge.Thread, args []uint64) uint64

type stubEntry struct {
	Stub
	call stubFunc
}

func sig(params ...abi.BasicType) []abi.BasicType { return params }

const (
	tObj  = abi.Object
	tInt  = abi.Int
	tLong = abi.Long
	tBool = abi.Boolean
	tChar = abi.Char
	tVoid = abi.Void
)

var stubTable = [numStubs]stubEntry{
	StubNewInstance: {Stub{Name: "new_instance", Params: sig(tObj), Result: tObj},
		func(g *Gateway, t *bridge.Thread, a []uint64) uint64 {
			return uint64(g.NewInstance(t, g.classArg(t, a[0])))
		}},
	StubNewArray: {Stub{Name: "new_array", Params: sig(tObj, tInt), Result: tObj},
		func(g *Gateway, t *bridge.Thread, a []uint64) uint64 {
			return uint64(g.NewArray(t, g.classArg(t, a[0]), int32(a[1])))
		}},
	StubNewMultiArray: {Stub{Name: "new_multi_array", Params: sig(tObj, tObj), Result: tObj},
		func(g *Gateway, t *bridge.Thread, a []uint64) uint64 {
			dims, ok := g.dimsArg(t, a[1])
			if !ok {
				return uint64(handles.Null)
			}
			return uint64(g.NewMultiArray(t, g.classArg(t, a[0]), dims))
		}},
	StubDynamicNewArray: {Stub{Name: "dynamic_new_array", Params: sig(tObj, tInt), Result: tObj},
		func(g *Gateway, t *bridge.Thread, a []uint64) uint64 {
			return uint64(g.DynamicNewArray(t, handles.Handle(a[0]), int32(a[1])))
		}},
	StubDynamicNewInstance: {Stub{Name: "dynamic_new_instance", Params: sig(tObj), Result: tObj},
		func(g *Gateway, t *bridge.Thread, a []uint64) uint64 {
			return uint64(g.DynamicNewInstance(t, handles.Handle(a[0])))
		}},
	StubMonitorEnter: {Stub{Name: "monitorenter", Params: sig(tObj, tLong), Result: tVoid},
		func(g *Gateway, t *bridge.Thread, a []uint64) uint64 {
			g.MonitorEnter(t, handles.Handle(a[0]), g.LockRecord(t, a[1]))
			return 0
		}},
	StubMonitorExit: {Stub{Name: "monitorexit", Params: sig(tObj, tLong), Result: tVoid},
		func(g *Gateway, t *bridge.Thread, a []uint64) uint64 {
			g.MonitorExit(t, handles.Handle(a[0]), g.LockRecord(t, a[1]))
			return 0
		}},
	StubWriteBarrierPre: {Stub{Name: "write_barrier_pre", Params: sig(tObj), Result: tVoid},
		func(g *Gateway, t *bridge.Thread, a []uint64) uint64 {
			g.WriteBarrierPre(t, handles.Handle(a[0]))
			return 0
		}},
	StubWriteBarrierPost: {Stub{Name: "write_barrier_post", Params: sig(tLong), Result: tVoid},
		func(g *Gateway, t *bridge.Thread, a []uint64) uint64 {
			g.WriteBarrierPost(t, uintptr(a[0]))
			return 0
		}},
	StubNewStorePreBarrier: {Stub{Name: "new_store_pre_barrier", Params: sig(), Result: tVoid},
		func(g *Gateway, t *bridge.Thread, a []uint64) uint64 {
			g.NewStorePreBarrier(t)
			return 0
		}},
	StubExceptionHandlerForPC: {Stub{Name: "exception_handler_for_pc", Params: sig(), Result: tLong},
		func(g *Gateway, t *bridge.Thread, a []uint64) uint64 {
			return uint64(g.ExceptionHandlerForPC(t))
		}},
	StubIdentityHashCode: {Stub{Name: "identity_hash_code", Params: sig(tObj), Result: tInt},
		func(g *Gateway, t *bridge.Thread, a []uint64) uint64 {
			return fromInt(g.IdentityHashCode(t, handles.Handle(a[0])))
		}},
	StubValidateObject: {Stub{Name: "validate_object", Params: sig(tObj, tObj), Result: tBool},
		func(g *Gateway, t *bridge.Thread, a []uint64) uint64 {
			return fromBool(g.ValidateObject(t, handles.Handle(a[0]), handles.Handle(a[1])))
		}},
	StubThreadIsInterrupted: {Stub{Name: "thread_is_interrupted", Params: sig(tObj, tBool), Result: tBool},
		func(g *Gateway, t *bridge.Thread, a []uint64) uint64 {
			return fromBool(g.ThreadIsInterrupted(t, handles.Handle(a[0]), a[1] != 0))
		}},
	StubVMMessage: {Stub{Name: "vm_message", Params: sig(tBool, tObj, tLong, tLong, tLong), Result: tVoid},
		func(g *Gateway, t *bridge.Thread, a []uint64) uint64 {
			g.VMMessage(t, a[0] != 0, g.stringArg(t, a[1]), int64(a[2]), int64(a[3]), int64(a[4]))
			return 0
		}},
	StubVMError: {Stub{Name: "vm_error", Params: sig(tObj, tObj, tLong), Result: tVoid},
		func(g *Gateway, t *bridge.Thread, a []uint64) uint64 {
			g.VMError(t, g.stringArg(t, a[0]), g.stringArg(t, a[1]), int64(a[2]))
			return 0
		}},
	StubCreateNullException: {Stub{Name: "create_null_exception", Params: sig(), Result: tVoid},
		func(g *Gateway, t *bridge.Thread, a []uint64) uint64 {
			g.CreateNullException(t)
			return 0
		}},
	StubCreateOutOfBoundsException: {Stub{Name: "create_out_of_bounds_exception", Params: sig(tInt), Result: tVoid},
		func(g *Gateway, t *bridge.Thread, a []uint64) uint64 {
			g.CreateOutOfBoundsException(t, int32(a[0]))
			return 0
		}},
	StubLoadAndClearException: {Stub{Name: "load_and_clear_exception", Params: sig(), Result: tObj},
		func(g *Gateway, t *bridge.Thread, a []uint64) uint64 {
			return uint64(g.LoadAndClearException(t))
		}},
	StubLogPrintf: {Stub{Name: "log_printf", Params: sig(tObj, tLong, tLong, tLong), Result: tVoid},
		func(g *Gateway, t *bridge.Thread, a []uint64) uint64 {
			g.LogPrintf(t, g.stringArg(t, a[0]), int64(a[1]), int64(a[2]), int64(a[3]))
			return 0
		}},
	StubLogPrimitive: {Stub{Name: "log_primitive", Params: sig(tChar, tLong, tBool), Result: tVoid},
		func(g *Gateway, t *bridge.Thread, a []uint64) uint64 {
			g.LogPrimitive(t, abi.Jchar(a[0]), int64(a[1]), a[2] != 0)
			return 0
		}},
	StubLogObject: {Stub{Name: "log_object", Params: sig(tObj, tBool, tBool), Result: tVoid},
		func(g *Gateway, t *bridge.Thread, a []uint64) uint64 {
			g.LogObject(t, handles.Handle(a[0]), a[1] != 0, a[2] != 0)
			return 0
		}},
	StubDeoptimize: {Stub{Name: "deoptimize", Params: sig(tInt), Result: tVoid},
		func(g *Gateway, t *bridge.Thread, a []uint64) uint64 {
			g.Deoptimize(t, int32(a[0]))
			return 0
		}},
	StubTestDeoptimizeCallInt: {Stub{Name: "test_deoptimize_call_int", Params: sig(tInt), Result: tInt},
		func(g *Gateway, t *bridge.Thread, a []uint64) uint64 {
			return fromInt(g.TestDeoptimizeCallInt(t, int32(a[0])))
		}},
}

func init() {
	for i := range stubTable {
		stubTable[i].ID = StubID(i)
	}
}

func fromInt(v int32) uint64 { return uint64(int64(v)) }

func fromBool(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// Stubs returns the stub table descriptors in ID order.
func Stubs() []Stub {
	out := make([]Stub, len(stubTable))
	for i, e := range stubTable {
		out[i] = e.Stub
	}
	return out
}

// LookupStub finds a stub by name.
func LookupStub(name string) (Stub, bool) {
	for _, e := range stubTable {
		if e.Name == name {
			return e.Stub, true
		}
	}
	return Stub{}, false
}

// Dispatch calls stub id on behalf of compiled code running on t. args
// holds one word per parameter.
func (g *Gateway) Dispatch(t *bridge.Thread, id StubID, args []uint64) (uint64, error) {
	if id >= numStubs {
		return 0, fmt.Errorf("%w: %d", ErrUnknownStub, id)
	}
	e := &stubTable[id]
	if len(args) != len(e.Params) {
		return 0, fmt.Errorf("%w: %s takes %d, got %d", ErrArity, e.Name, len(e.Params), len(args))
	}
	g.ctx.Tracer.Printf(4, "%s: stub %s", t.Name, e.Signature())
	return e.call(g, t, args), nil
}

// ---------------------------------------------------------------------------
// Argument decoding
// ---------------------------------------------------------------------------

// LockRecord returns t's lock record for a frame slot, creating it on first
// use. Compiled code names lock records by slot so an enter and its exit
// share one.
func (g *Gateway) LockRecord(t *bridge.Thread, slot uint64) *heap.LockRecord {
	st := g.state(t)
	st.mu.Lock()
	defer st.mu.Unlock()
	rec, ok := st.locks[slot]
	if !ok {
		rec = &heap.LockRecord{}
		st.locks[slot] = rec
	}
	return rec
}

// classArg decodes a handle to a class mirror.
func (g *Gateway) classArg(t *bridge.Thread, word uint64) *heap.Class {
	return heap.ClassOfMirror(g.resolve(t, handles.Handle(word), "class argument"))
}

// stringArg decodes a handle to a managed string; null decodes to "". Its
// callers are log and message sinks, so a bad handle degrades to a marker
// instead of aborting.
func (g *Gateway) stringArg(t *bridge.Thread, word uint64) string {
	h := handles.Handle(word)
	obj, err := t.Resolve(h)
	if err != nil {
		return fmt.Sprintf("<invalid handle %#x>", word)
	}
	s, _ := heap.StringValue(obj)
	return s
}

// dimsArg decodes a handle to an int[] of dimension lengths. Anything but an
// int[] leaves IllegalArgumentException pending and reports false.
func (g *Gateway) dimsArg(t *bridge.Thread, word uint64) ([]int32, bool) {
	arr := g.resolve(t, handles.Handle(word), "dimensions argument")
	if arr == nil {
		return nil, true
	}
	if arr.Class().ElementBasicType() != abi.Int {
		defer enter(t)()
		g.ctx.Throw(t, bridge.IllegalArgumentClass, "dimensions must be int[], got %s", arr.Class().Name)
		return nil, false
	}
	dims := make([]int32, arr.Len())
	for i := range dims {
		dims[i] = int32(arr.Prim(i))
	}
	return dims, true
}
