package heap

import (
	"sort"
	"sync"

	"github.com/chazu/jitbridge/abi"
)

// ---------------------------------------------------------------------------
// Class: heap-side class metadata
// ---------------------------------------------------------------------------

// ClassKind distinguishes how a class may be used by allocation entry points.
type ClassKind uint8

const (
	KindInstance ClassKind = iota
	KindAbstract
	KindInterface
	KindArray
	KindPrimitive
)

// Class describes the shape of a family of objects.
type Class struct {
	Name       string
	Super      *Class
	Interfaces []*Class
	Kind       ClassKind

	// RefFields and PrimFields give the instance layout for non-array classes.
	RefFields  int
	PrimFields int

	// Elem is the component class of an array class.
	Elem *Class

	// Basic is the value kind of a primitive class, or abi.Object otherwise.
	Basic abi.BasicType

	mu        sync.Mutex
	arrayOf   *Class
	mirror    *Object
	heapOwner *Heap
}

// IsArray reports whether c describes arrays.
func (c *Class) IsArray() bool { return c.Kind == KindArray }

// IsPrimitive reports whether c is one of the primitive type classes.
func (c *Class) IsPrimitive() bool { return c.Kind == KindPrimitive }

// IsInstantiable reports whether NewInstance-style allocation is legal for c.
func (c *Class) IsInstantiable() bool { return c.Kind == KindInstance }

// IsSubclassOf reports whether c is other, a subclass of other, or
// implements other (directly or through a superclass).
func (c *Class) IsSubclassOf(other *Class) bool {
	if other == nil {
		return false
	}
	for k := c; k != nil; k = k.Super {
		if k == other {
			return true
		}
		for _, iface := range k.Interfaces {
			if iface.IsSubclassOf(other) {
				return true
			}
		}
	}
	return false
}

// ElementBasicType returns the basic type stored in arrays of this class.
func (c *Class) ElementBasicType() abi.BasicType {
	if c.Elem == nil {
		return abi.Illegal
	}
	if c.Elem.IsPrimitive() {
		return c.Elem.Basic
	}
	return abi.Object
}

// ArrayClass returns the array class whose elements are c, creating and
// registering it on first use.
func (c *Class) ArrayClass() *Class {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.arrayOf != nil {
		return c.arrayOf
	}
	ac := &Class{
		Name:  "[" + c.descriptor(),
		Super: nil,
		Kind:  KindArray,
		Elem:  c,
		Basic: abi.Array,
	}
	if c.heapOwner != nil {
		ac.Super = c.heapOwner.ObjectClass
		c.heapOwner.Classes.Register(ac)
		ac.heapOwner = c.heapOwner
	}
	c.arrayOf = ac
	return ac
}

// descriptor returns the type descriptor of c, e.g. "I" or "Ljava.lang.String;".
func (c *Class) descriptor() string {
	switch c.Kind {
	case KindPrimitive:
		return string(c.Basic.DescriptorChar())
	case KindArray:
		return c.Name
	default:
		return "L" + c.Name + ";"
	}
}

// Mirror returns the object representing c to managed code (its
// java.lang.Class instance). Mirrors live outside the allocation budget
// and are always reachable.
func (c *Class) Mirror() *Object {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mirror == nil && c.heapOwner != nil {
		c.mirror = c.heapOwner.newMirror(c)
	}
	return c.mirror
}

// ClassOfMirror returns the class a mirror object stands for, or nil if obj
// is not a mirror.
func ClassOfMirror(obj *Object) *Class {
	if obj == nil {
		return nil
	}
	c, _ := obj.Native.(*Class)
	return c
}

// ---------------------------------------------------------------------------
// ClassTable: thread-safe registry of classes by name
// ---------------------------------------------------------------------------

// ClassTable manages registered classes by name.
type ClassTable struct {
	mu      sync.RWMutex
	classes map[string]*Class
}

// NewClassTable creates a new empty class table.
func NewClassTable() *ClassTable {
	return &ClassTable{
		classes: make(map[string]*Class),
	}
}

// Register adds a class to the table.
// Returns the previous class with this name, or nil.
func (ct *ClassTable) Register(c *Class) *Class {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	old := ct.classes[c.Name]
	ct.classes[c.Name] = c
	return old
}

// Lookup finds a class by name.
func (ct *ClassTable) Lookup(name string) *Class {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.classes[name]
}

// Has returns true if a class with this name is registered.
func (ct *ClassTable) Has(name string) bool {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	_, ok := ct.classes[name]
	return ok
}

// All returns all registered classes sorted by name.
func (ct *ClassTable) All() []*Class {
	ct.mu.RLock()
	result := make([]*Class, 0, len(ct.classes))
	for _, c := range ct.classes {
		result = append(result, c)
	}
	ct.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Len returns the number of registered classes.
func (ct *ClassTable) Len() int {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return len(ct.classes)
}
