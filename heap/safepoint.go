package heap

import "sync"

// Mutator is one thread's view of the safepoint protocol. While a mutator
// is inside the VM it holds the heap gate shared, which keeps the collector
// out; a thread that blocks (on a monitor, on a managed call) leaves the VM
// first so collections can proceed.
//
// A Mutator belongs to exactly one thread and is not safe for concurrent use.
type Mutator struct {
	h     *Heap
	depth int
	mu    sync.Mutex
}

// NewMutator creates a mutator attached to h, initially outside the VM.
func (h *Heap) NewMutator() *Mutator {
	return &Mutator{h: h}
}

// Enter transitions into the VM. Calls nest.
func (m *Mutator) Enter() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.depth == 0 {
		m.h.gate.RLock()
	}
	m.depth++
}

// Leave undoes one Enter.
func (m *Mutator) Leave() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.depth == 0 {
		panic("heap: Mutator.Leave without Enter")
	}
	m.depth--
	if m.depth == 0 {
		m.h.gate.RUnlock()
	}
}

// InVM reports whether the mutator is inside the VM.
func (m *Mutator) InVM() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.depth > 0
}

// Block runs fn with the mutator temporarily outside the VM, so a pending
// collection is not held up by a thread that is waiting.
func (m *Mutator) Block(fn func()) {
	m.mu.Lock()
	depth := m.depth
	if depth > 0 {
		m.h.gate.RUnlock()
	}
	m.depth = 0
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if depth > 0 {
			m.h.gate.RLock()
		}
		m.depth = depth
		m.mu.Unlock()
	}()
	fn()
}

// Safepoint polls for a pending collection and blocks until it completes.
func (m *Mutator) Safepoint() {
	if m.InVM() {
		m.Block(func() {})
		return
	}
	m.h.gate.RLock()
	m.h.gate.RUnlock()
}

// poll is Safepoint tolerating a nil mutator (heap-internal callers).
func (m *Mutator) poll() {
	if m == nil {
		return
	}
	m.Safepoint()
}

// collect runs a collection on behalf of this mutator.
func (m *Mutator) collect(h *Heap) {
	if m == nil {
		h.Collect()
		return
	}
	m.Block(func() { h.Collect() })
}
