package gateway

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/chazu/jitbridge/abi"
	"github.com/chazu/jitbridge/bridge"
	"github.com/chazu/jitbridge/handles"
	"github.com/chazu/jitbridge/heap"
)

func TestStubTable(t *testing.T) {
	stubs := Stubs()
	if len(stubs) != int(numStubs) {
		t.Fatalf("%d stubs, want %d", len(stubs), numStubs)
	}
	seen := make(map[string]bool)
	for i, s := range stubs {
		if s.ID != StubID(i) {
			t.Errorf("stub %s has ID %d at index %d", s.Name, s.ID, i)
		}
		if s.Name == "" || seen[s.Name] {
			t.Errorf("stub %d: empty or duplicate name %q", i, s.Name)
		}
		seen[s.Name] = true
		if stubTable[i].call == nil {
			t.Errorf("stub %s has no implementation", s.Name)
		}
		got, ok := LookupStub(s.Name)
		if !ok || got.ID != s.ID {
			t.Errorf("LookupStub(%q) = %v, %v", s.Name, got, ok)
		}
	}
	if _, ok := LookupStub("no_such_stub"); ok {
		t.Error("LookupStub found an unknown name")
	}
}

func TestStubSignature(t *testing.T) {
	tests := []struct {
		id   StubID
		want string
	}{
		{StubNewArray, "new_array(LI)L"},
		{StubMonitorEnter, "monitorenter(LJ)V"},
		{StubExceptionHandlerForPC, "exception_handler_for_pc()J"},
		{StubThreadIsInterrupted, "thread_is_interrupted(LZ)Z"},
		{StubLogPrimitive, "log_primitive(CJZ)V"},
		{StubTestDeoptimizeCallInt, "test_deoptimize_call_int(I)I"},
	}
	for _, tt := range tests {
		if got := Stubs()[tt.id].Signature(); got != tt.want {
			t.Errorf("Signature() = %q, want %q", got, tt.want)
		}
	}
}

func TestDispatchErrors(t *testing.T) {
	f := newFixture(t, bridge.Config{})
	if _, err := f.g.Dispatch(f.th, numStubs, nil); !errors.Is(err, ErrUnknownStub) {
		t.Errorf("unknown stub: %v", err)
	}
	if _, err := f.g.Dispatch(f.th, StubNewArray, []uint64{0}); !errors.Is(err, ErrArity) {
		t.Errorf("short arguments: %v", err)
	}
	if _, err := f.g.Dispatch(f.th, StubNewStorePreBarrier, []uint64{1}); !errors.Is(err, ErrArity) {
		t.Errorf("extra arguments: %v", err)
	}
}

func TestDispatchAllocation(t *testing.T) {
	f := newFixture(t, bridge.Config{})
	intArray := f.c.Heap.PrimitiveClass(abi.Int).ArrayClass()
	mirror := uint64(f.th.NewHandle(intArray.Mirror()))

	word, err := f.g.Dispatch(f.th, StubNewArray, []uint64{mirror, 6})
	if err != nil {
		t.Fatal(err)
	}
	arr := f.obj(t, handles.Handle(word))
	if arr.Class() != intArray || arr.Len() != 6 {
		t.Errorf("new_array = %v len %d", arr, arr.Len())
	}

	// Negative lengths arrive sign-extended.
	word, _ = f.g.Dispatch(f.th, StubNewArray, []uint64{mirror, uint64(0xFFFFFFFF)})
	if handles.Handle(word) != handles.Null {
		t.Error("negative length allocated")
	}
	f.expectPending(t, bridge.NegativeArraySizeClass)

	dims := f.obj(t, f.g.NewArray(f.th, intArray, 2))
	dims.SetPrim(0, 2)
	dims.SetPrim(1, 5)
	matrix := uint64(f.th.NewHandle(intArray.ArrayClass().Mirror()))
	word, _ = f.g.Dispatch(f.th, StubNewMultiArray, []uint64{matrix, uint64(f.th.NewHandle(dims))})
	outer := f.obj(t, handles.Handle(word))
	if outer.Len() != 2 || outer.Ref(1).Len() != 5 {
		t.Errorf("new_multi_array shape = %d x %d", outer.Len(), outer.Ref(1).Len())
	}

	word, _ = f.g.Dispatch(f.th, StubIdentityHashCode, []uint64{uint64(f.th.NewHandle(arr))})
	if int32(word) != f.c.Heap.IdentityHash(arr) || int64(word) < 0 {
		t.Errorf("identity_hash_code = %#x", word)
	}
}

func TestDispatchMonitorsBySlot(t *testing.T) {
	f := newFixture(t, bridge.Config{})
	h := f.g.NewInstance(f.th, f.c.Heap.ObjectClass)
	obj := f.obj(t, h)

	if _, err := f.g.Dispatch(f.th, StubMonitorEnter, []uint64{uint64(h), 8}); err != nil {
		t.Fatal(err)
	}
	if f.g.LockRecord(f.th, 8).Object != obj {
		t.Error("slot 8 does not record the locked object")
	}
	mustAbort(t, func() { f.g.Dispatch(f.th, StubMonitorExit, []uint64{uint64(h), 16}) })
	if _, err := f.g.Dispatch(f.th, StubMonitorExit, []uint64{uint64(h), 8}); err != nil {
		t.Fatal(err)
	}
	if f.c.Heap.LockCount(obj) != 0 {
		t.Errorf("lock count = %d after exit", f.c.Heap.LockCount(obj))
	}
}

func TestDispatchLogging(t *testing.T) {
	f := newFixture(t, bridge.Config{})
	format, err := f.c.Heap.NewString(f.th.Mutator(), "pc=%x depth=%d\n")
	if err != nil {
		t.Fatal(err)
	}
	fh := uint64(f.th.NewHandle(format))

	if _, err := f.g.Dispatch(f.th, StubLogPrintf, []uint64{fh, 0xbeef, 3, 0}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.g.Dispatch(f.th, StubLogPrimitive, []uint64{'J', uint64(1<<63 - 1), 1}); err != nil {
		t.Fatal(err)
	}
	want := "pc=beef depth=3\n9223372036854775807\n"
	if f.log.String() != want {
		t.Errorf("log = %q, want %q", f.log.String(), want)
	}

	mustAbort(t, func() { f.g.Dispatch(f.th, StubVMError, []uint64{0, fh, 1}) })
	if !strings.Contains(f.diag.String(), "vm_error") {
		t.Errorf("diagnostics = %q", f.diag.String())
	}
}

func TestDispatchStaleFormatHandle(t *testing.T) {
	f := newFixture(t, bridge.Config{})
	f.th.PushFrame()
	format, err := f.c.Heap.NewString(f.th.Mutator(), "pc=%x")
	if err != nil {
		t.Fatal(err)
	}
	stale := uint64(f.th.NewHandle(format))
	f.th.PopFrame()

	if _, err := f.g.Dispatch(f.th, StubLogPrintf, []uint64{stale, 1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.g.Dispatch(f.th, StubVMMessage, []uint64{0, stale, 1, 2, 3}); err != nil {
		t.Fatal(err)
	}
	want := fmt.Sprintf("<invalid handle %#x>", stale)
	if got := f.log.String(); strings.Count(got, want) != 2 {
		t.Errorf("log = %q, want two %q markers", got, want)
	}
	if strings.Contains(f.diag.String(), "string argument") {
		t.Errorf("stale format handle was fatal: %q", f.diag.String())
	}
}

func TestDispatchMultiArrayRejectsNonIntDims(t *testing.T) {
	f := newFixture(t, bridge.Config{})
	intArray := f.c.Heap.PrimitiveClass(abi.Int).ArrayClass()
	matrix := uint64(f.th.NewHandle(intArray.ArrayClass().Mirror()))

	tests := []*heap.Class{
		f.c.Heap.ObjectClass.ArrayClass(),
		f.c.Heap.PrimitiveClass(abi.Long).ArrayClass(),
	}
	for _, ac := range tests {
		dims := f.g.NewArray(f.th, ac, 2)
		word, err := f.g.Dispatch(f.th, StubNewMultiArray, []uint64{matrix, uint64(dims)})
		if err != nil {
			t.Fatal(err)
		}
		if handles.Handle(word) != handles.Null {
			t.Errorf("%s dimensions allocated an array", ac.Name)
		}
		f.expectPending(t, bridge.IllegalArgumentClass)
	}
}

func TestDispatchExceptions(t *testing.T) {
	f := newFixture(t, bridge.Config{})
	if _, err := f.g.Dispatch(f.th, StubCreateOutOfBoundsException, []uint64{uint64(0xFFFFFFFF)}); err != nil {
		t.Fatal(err)
	}
	word, _ := f.g.Dispatch(f.th, StubLoadAndClearException, nil)
	exc := f.obj(t, handles.Handle(word))
	if bridge.ExceptionMessage(exc) != "Index -1 out of bounds" {
		t.Errorf("message = %q", bridge.ExceptionMessage(exc))
	}

	f.th.PushCompiledFrame("demo.Main.run", 0x40)
	word, _ = f.g.Dispatch(f.th, StubTestDeoptimizeCallInt, []uint64{uint64(0xFFFFFFF9)})
	if int64(word) != -7 {
		t.Errorf("test_deoptimize_call_int = %d", int64(word))
	}
	if !f.th.TopCompiledFrame().Deoptimized {
		t.Error("frame not deoptimized")
	}
}

func TestDetachDropsThreadState(t *testing.T) {
	f := newFixture(t, bridge.Config{})
	worker, err := f.c.AttachThread("worker")
	if err != nil {
		t.Fatal(err)
	}
	h := f.g.NewInstance(worker, f.c.Heap.ObjectClass)
	if _, err := f.g.Dispatch(worker, StubMonitorEnter, []uint64{uint64(h), 4}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.g.Dispatch(worker, StubMonitorExit, []uint64{uint64(h), 4}); err != nil {
		t.Fatal(err)
	}
	f.g.NewInstance(f.th, f.c.Heap.ObjectClass)
	if _, ok := f.g.threads.Load(worker); !ok {
		t.Fatal("no state recorded for worker")
	}

	worker.Detach()
	if _, ok := f.g.threads.Load(worker); ok {
		t.Error("worker state kept after detach")
	}
	if _, ok := f.g.threads.Load(f.th); !ok {
		t.Error("detaching worker dropped another thread's state")
	}
}
