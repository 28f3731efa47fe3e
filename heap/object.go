package heap

import (
	"fmt"
)

// Object represents a heap-allocated managed object.
//
// Reference fields (and reference array elements) live in refs; primitive
// fields (and primitive array elements) live in prims. The address is the
// object's current location and changes when the collector compacts; code
// outside the heap must never cache it across a safepoint.
type Object struct {
	class  *Class
	addr   uintptr
	size   int
	hash   int32
	length int

	refs  []*Object
	prims []int64

	monitor *Monitor
	dead    bool

	// Native carries VM-internal payload: string text, the class a mirror
	// stands for, throwable data, runtime state.
	Native any
}

// Class returns the object's class.
func (o *Object) Class() *Class { return o.class }

// Addr returns the current address of the object.
func (o *Object) Addr() uintptr { return o.addr }

// Size returns the number of heap words the object occupies.
func (o *Object) Size() int { return o.size }

// IsArray reports whether the object is an array.
func (o *Object) IsArray() bool { return o.class.IsArray() }

// Len returns the array length, or 0 for non-arrays.
func (o *Object) Len() int { return o.length }

// Ref returns reference slot i.
// Panics if index is out of range.
func (o *Object) Ref(i int) *Object {
	if i < 0 || i >= len(o.refs) {
		panic(fmt.Sprintf("Object.Ref: index %d out of range [0,%d)", i, len(o.refs)))
	}
	return o.refs[i]
}

// SetRef stores v into reference slot i without any barrier. Compiled code
// brackets such stores with the gateway's pre/post barrier entry points.
func (o *Object) SetRef(i int, v *Object) {
	if i < 0 || i >= len(o.refs) {
		panic(fmt.Sprintf("Object.SetRef: index %d out of range [0,%d)", i, len(o.refs)))
	}
	o.refs[i] = v
}

// NumRefs returns the number of reference slots.
func (o *Object) NumRefs() int { return len(o.refs) }

// Prim returns primitive slot i.
func (o *Object) Prim(i int) int64 {
	if i < 0 || i >= len(o.prims) {
		panic(fmt.Sprintf("Object.Prim: index %d out of range [0,%d)", i, len(o.prims)))
	}
	return o.prims[i]
}

// SetPrim stores v into primitive slot i.
func (o *Object) SetPrim(i int, v int64) {
	if i < 0 || i >= len(o.prims) {
		panic(fmt.Sprintf("Object.SetPrim: index %d out of range [0,%d)", i, len(o.prims)))
	}
	o.prims[i] = v
}

// NumPrims returns the number of primitive slots.
func (o *Object) NumPrims() int { return len(o.prims) }

// String renders the object the way diagnostic output prints non-string
// objects: class name followed by the current address.
func (o *Object) String() string {
	if o == nil {
		return "null"
	}
	return fmt.Sprintf("%s@%#x", o.class.Name, o.addr)
}

// StringValue returns the text of a managed string, and false if o is not one.
func StringValue(o *Object) (string, bool) {
	if o == nil {
		return "", false
	}
	s, ok := o.Native.(string)
	if !ok || o.class == nil || o.class.Name != StringClassName {
		return "", false
	}
	return s, true
}
