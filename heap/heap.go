package heap

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chazu/jitbridge/abi"
)

// Well-known class names bootstrapped by every heap.
const (
	ObjectClassName = "java.lang.Object"
	StringClassName = "java.lang.String"
	ClassClassName  = "java.lang.Class"
)

// headerWords is the per-object overhead; arrays add one word for the length.
const headerWords = 2

// heapBase is the address of the first heap word.
const heapBase uintptr = 0x10000

var (
	ErrOutOfMemory         = errors.New("out of memory")
	ErrNegativeArraySize   = errors.New("negative array size")
	ErrNotInstantiable     = errors.New("class is not instantiable")
	ErrNotArrayClass       = errors.New("not an array class")
	ErrNullClass           = errors.New("null class")
	ErrIllegalMonitorState = errors.New("illegal monitor state")
	ErrCardOutOfRange      = errors.New("card outside heap")
)

// RootSource reports objects that must survive a collection.
type RootSource interface {
	VisitRoots(visit func(*Object))
}

// RootFunc adapts a function to RootSource.
type RootFunc func(visit func(*Object))

// VisitRoots implements RootSource.
func (f RootFunc) VisitRoots(visit func(*Object)) { f(visit) }

// CollectStats holds statistics from a single collection.
type CollectStats struct {
	Live      int
	Freed     int
	WordsUsed int
	Duration  time.Duration
	Timestamp time.Time
}

// Heap is the managed object heap: allocation against a fixed word budget,
// a stop-the-world compacting collector, identity hashes, barrier state and
// object monitors.
type Heap struct {
	Classes *ClassTable

	ObjectClass *Class
	StringClass *Class
	ClassClass  *Class

	// gate is held shared by mutators inside the VM and exclusively by the
	// collector. See Mutator.
	gate sync.RWMutex

	mu        sync.Mutex
	capacity  int
	used      int
	objects   []*Object
	mirrors   []*Object
	roots     []RootSource
	nextAddr  uintptr
	hashSeed  uint32
	collected uint64

	barriers barrierState
}

// New creates a heap with room for capacity words and bootstraps the core
// and primitive classes.
func New(capacity int) *Heap {
	h := &Heap{
		Classes:  NewClassTable(),
		capacity: capacity,
		nextAddr: heapBase,
		hashSeed: 0x2545F491,
	}
	h.barriers.init(capacity)

	h.ObjectClass = h.DefineClass(&Class{Name: ObjectClassName})
	h.StringClass = h.DefineClass(&Class{Name: StringClassName, Super: h.ObjectClass})
	h.ClassClass = h.DefineClass(&Class{Name: ClassClassName, Super: h.ObjectClass})

	for _, bt := range []abi.BasicType{abi.Boolean, abi.Char, abi.Float, abi.Double, abi.Byte, abi.Short, abi.Int, abi.Long, abi.Void} {
		h.DefineClass(&Class{Name: bt.String(), Kind: KindPrimitive, Basic: bt})
	}
	return h
}

// DefineClass registers c with the heap's class table. Classes without an
// explicit superclass (other than java.lang.Object itself) extend Object.
func (h *Heap) DefineClass(c *Class) *Class {
	if c.Super == nil && h.ObjectClass != nil && c.Kind != KindPrimitive && c.Kind != KindInterface {
		c.Super = h.ObjectClass
	}
	if c.Kind != KindPrimitive && c.Kind != KindArray {
		c.Basic = abi.Object
	}
	c.heapOwner = h
	h.Classes.Register(c)
	return c
}

// PrimitiveClass returns the class for a primitive basic type.
func (h *Heap) PrimitiveClass(bt abi.BasicType) *Class {
	return h.Classes.Lookup(bt.String())
}

// AddRoots registers an additional root source consulted by every collection.
func (h *Heap) AddRoots(src RootSource) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.roots = append(h.roots, src)
}

// Capacity returns the heap size in words.
func (h *Heap) Capacity() int { return h.capacity }

// Used returns the number of words currently allocated.
func (h *Heap) Used() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.used
}

// LiveObjects returns the number of objects currently allocated.
func (h *Heap) LiveObjects() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.objects)
}

// Collections returns the number of collections performed.
func (h *Heap) Collections() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.collected
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// Allocate creates a zero-initialized instance of c.
func (h *Heap) Allocate(m *Mutator, c *Class) (*Object, error) {
	if c == nil {
		return nil, ErrNullClass
	}
	if !c.IsInstantiable() {
		return nil, fmt.Errorf("%w: %s", ErrNotInstantiable, c.Name)
	}
	obj := &Object{
		class: c,
		size:  headerWords + c.RefFields + c.PrimFields,
		refs:  make([]*Object, c.RefFields),
		prims: make([]int64, c.PrimFields),
	}
	if err := h.place(m, obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// AllocateArray creates a zero-initialized array of the array class ac.
func (h *Heap) AllocateArray(m *Mutator, ac *Class, length int) (*Object, error) {
	if ac == nil {
		return nil, ErrNullClass
	}
	if !ac.IsArray() {
		return nil, fmt.Errorf("%w: %s", ErrNotArrayClass, ac.Name)
	}
	if length < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegativeArraySize, length)
	}
	elem := ac.ElementBasicType()
	obj := &Object{class: ac, length: length}
	if elem == abi.Object {
		obj.refs = make([]*Object, length)
		obj.size = headerWords + 1 + length
	} else {
		obj.prims = make([]int64, length)
		obj.size = headerWords + 1 + length*elem.Words()
	}
	if err := h.place(m, obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// NewString allocates a managed string holding s.
func (h *Heap) NewString(m *Mutator, s string) (*Object, error) {
	obj := &Object{class: h.StringClass, size: headerWords + 1 + len(s)/abi.WordSize, Native: s}
	if err := h.place(m, obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// place reserves space for obj, collecting once if the heap is full.
func (h *Heap) place(m *Mutator, obj *Object) error {
	m.poll()
	if h.tryPlace(obj) {
		return nil
	}
	m.collect(h)
	if h.tryPlace(obj) {
		return nil
	}
	return fmt.Errorf("%w: %d words requested, %d of %d in use", ErrOutOfMemory, obj.size, h.Used(), h.capacity)
}

func (h *Heap) tryPlace(obj *Object) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.used+obj.size > h.capacity {
		return false
	}
	obj.addr = h.nextAddr
	h.nextAddr += uintptr(obj.size * abi.WordSize)
	h.used += obj.size
	h.objects = append(h.objects, obj)
	return true
}

// newMirror creates the java.lang.Class instance for c. Mirrors are not
// charged against the capacity.
func (h *Heap) newMirror(c *Class) *Object {
	h.mu.Lock()
	defer h.mu.Unlock()
	mirror := &Object{class: h.ClassClass, size: 0, Native: c}
	h.mirrors = append(h.mirrors, mirror)
	return mirror
}

// Contains reports whether obj is a live object of this heap.
func (h *Heap) Contains(obj *Object) bool {
	if obj == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if obj.dead {
		return false
	}
	if obj.class == h.ClassClass && ClassOfMirror(obj) != nil {
		return true
	}
	return obj.addr >= heapBase && obj.addr < h.nextAddr
}

// ---------------------------------------------------------------------------
// Collection
// ---------------------------------------------------------------------------

// Collect performs a stop-the-world mark/compact collection. It waits for
// every mutator to leave the VM. Survivors are slid down to the bottom of
// the heap, so their addresses change; identity hashes do not.
func (h *Heap) Collect() CollectStats {
	h.gate.Lock()
	defer h.gate.Unlock()
	return h.collectLocked()
}

func (h *Heap) collectLocked() CollectStats {
	start := time.Now()

	h.mu.Lock()
	sources := append([]RootSource(nil), h.roots...)
	h.mu.Unlock()

	marked := make(map[*Object]struct{})
	var stack []*Object
	push := func(o *Object) {
		if o == nil || o.dead {
			return
		}
		if _, ok := marked[o]; ok {
			return
		}
		marked[o] = struct{}{}
		stack = append(stack, o)
	}
	for _, src := range sources {
		src.VisitRoots(push)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, m := range h.mirrors {
		push(m)
	}
	for _, o := range h.barriers.satb {
		push(o)
	}
	for len(stack) > 0 {
		o := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, r := range o.refs {
			push(r)
		}
	}

	survivors := h.objects[:0]
	addr := heapBase
	used := 0
	freed := 0
	for _, o := range h.objects {
		if _, ok := marked[o]; !ok {
			o.dead = true
			o.refs = nil
			o.prims = nil
			freed++
			continue
		}
		o.addr = addr
		addr += uintptr(o.size * abi.WordSize)
		used += o.size
		survivors = append(survivors, o)
	}
	for i := len(survivors); i < len(h.objects); i++ {
		h.objects[i] = nil
	}
	h.objects = survivors
	h.nextAddr = addr
	h.used = used
	h.collected++
	h.barriers.clearCards()

	return CollectStats{
		Live:      len(survivors),
		Freed:     freed,
		WordsUsed: used,
		Duration:  time.Since(start),
		Timestamp: start,
	}
}

// ---------------------------------------------------------------------------
// Identity hash and verification
// ---------------------------------------------------------------------------

// IdentityHash returns obj's identity hash, assigning one on first use.
// The hash lives in the object header and so survives relocation.
func (h *Heap) IdentityHash(obj *Object) int32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if obj.hash != 0 {
		return obj.hash
	}
	// Marsaglia xor-shift; zero is reserved for "no hash yet".
	for obj.hash == 0 {
		x := h.hashSeed
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		h.hashSeed = x
		obj.hash = int32(x & 0x7FFFFFFF)
	}
	return obj.hash
}

// Verify checks that parent is a live object and that child is either null
// or a live object of this heap.
func (h *Heap) Verify(parent, child *Object) bool {
	if !h.Contains(parent) {
		return false
	}
	return child == nil || h.Contains(child)
}
