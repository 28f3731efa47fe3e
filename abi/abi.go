// Package abi fixes the primitive types that cross the boundary between
// compiled code and the bridge. The widths are part of the stub calling
// contract and must not change for a given compiler version.
package abi

import (
	"errors"
	"fmt"
)

// Fixed-width primitive types as seen by compiled code.
type (
	Jboolean = uint8
	Jbyte    = int8
	Jchar    = uint16
	Jshort   = int16
	Jint     = int32
	Jlong    = int64
	Jfloat   = float32
	Jdouble  = float64
)

// BasicType enumerates the value kinds the VM distinguishes.
type BasicType uint8

const (
	Illegal BasicType = iota
	Boolean
	Char
	Float
	Double
	Byte
	Short
	Int
	Long
	Object
	Array
	Void
)

var basicTypeNames = [...]string{
	Illegal: "illegal",
	Boolean: "boolean",
	Char:    "char",
	Float:   "float",
	Double:  "double",
	Byte:    "byte",
	Short:   "short",
	Int:     "int",
	Long:    "long",
	Object:  "object",
	Array:   "array",
	Void:    "void",
}

func (t BasicType) String() string {
	if int(t) < len(basicTypeNames) {
		return basicTypeNames[t]
	}
	return fmt.Sprintf("BasicType(%d)", uint8(t))
}

// IsPrimitive reports whether values of t are stored unboxed.
func (t BasicType) IsPrimitive() bool {
	return t >= Boolean && t <= Long
}

// Words returns the number of heap words one element of t occupies.
func (t BasicType) Words() int {
	switch t {
	case Long, Double:
		return 2 / (WordSize / 4)
	case Void, Illegal:
		return 0
	default:
		return 1
	}
}

// ErrUnexpectedKind is returned by KindToBasicType for unknown kind characters.
var ErrUnexpectedKind = errors.New("unexpected kind")

// KindToBasicType maps the single-character kind codes used by the compiler's
// type system onto basic types.
func KindToBasicType(ch Jchar) (BasicType, error) {
	switch ch {
	case 'z':
		return Boolean, nil
	case 'b':
		return Byte, nil
	case 's':
		return Short, nil
	case 'c':
		return Char, nil
	case 'i':
		return Int, nil
	case 'f':
		return Float, nil
	case 'j':
		return Long, nil
	case 'd':
		return Double, nil
	case 'a':
		return Object, nil
	case 'v':
		return Void, nil
	case '-':
		return Illegal, nil
	}
	return Illegal, fmt.Errorf("%w: %c", ErrUnexpectedKind, rune(ch))
}

// DescriptorChar returns the type-descriptor character of t ('I' for int,
// 'L' for objects) as used by log_primitive style entry points.
func (t BasicType) DescriptorChar() byte {
	switch t {
	case Boolean:
		return 'Z'
	case Byte:
		return 'B'
	case Short:
		return 'S'
	case Char:
		return 'C'
	case Int:
		return 'I'
	case Long:
		return 'J'
	case Float:
		return 'F'
	case Double:
		return 'D'
	case Void:
		return 'V'
	case Object, Array:
		return 'L'
	}
	return '-'
}
