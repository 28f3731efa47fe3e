package abi

// Platform facts for amd64.
const (
	Arch = "amd64"

	// WordSize is the size in bytes of a heap word and a native pointer.
	WordSize = 8

	// CardShift is log2 of the number of bytes covered by one card table entry.
	CardShift = 9

	// StackAlignment is the required alignment of the native stack at a stub call.
	StackAlignment = 16
)
