//go:build !amd64 && !arm64

package abi

// Platform facts for 32-bit and otherwise unsupported targets.
const (
	Arch = "generic"

	// WordSize is the size in bytes of a heap word and a native pointer.
	WordSize = 4

	// CardShift is log2 of the number of bytes covered by one card table entry.
	CardShift = 9

	// StackAlignment is the required alignment of the native stack at a stub call.
	StackAlignment = 8
)
