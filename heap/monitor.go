package heap

import (
	"fmt"
	"sync"
)

// ---------------------------------------------------------------------------
// Object monitors
// ---------------------------------------------------------------------------

// Monitor is the reentrant lock associated with an object. It is inflated
// lazily on the first MonitorEnter.
type Monitor struct {
	mu       sync.Mutex
	owner    *Mutator
	count    int
	released chan struct{}
}

// LockRecord is the frame slot compiled code passes alongside a monitor
// operation. It remembers which object the slot locked so an exit can be
// checked against its enter.
type LockRecord struct {
	Object *Object
}

func (h *Heap) monitorFor(obj *Object) *Monitor {
	h.mu.Lock()
	defer h.mu.Unlock()
	if obj.monitor == nil {
		obj.monitor = &Monitor{released: make(chan struct{})}
	}
	return obj.monitor
}

// MonitorEnter acquires obj's monitor for m, blocking while another mutator
// owns it. The wait happens outside the VM so collections can run.
func (h *Heap) MonitorEnter(m *Mutator, obj *Object, rec *LockRecord) error {
	if obj == nil {
		return fmt.Errorf("%w: enter on null", ErrIllegalMonitorState)
	}
	mon := h.monitorFor(obj)
	for {
		mon.mu.Lock()
		if mon.owner == nil || mon.owner == m {
			mon.owner = m
			mon.count++
			mon.mu.Unlock()
			if rec != nil {
				rec.Object = obj
			}
			return nil
		}
		wait := mon.released
		mon.mu.Unlock()

		if m != nil {
			m.Block(func() { <-wait })
		} else {
			<-wait
		}
	}
}

// MonitorExit releases one level of obj's monitor. Exiting a monitor the
// mutator does not own, or through a lock record that did not lock obj, is
// an ErrIllegalMonitorState.
func (h *Heap) MonitorExit(m *Mutator, obj *Object, rec *LockRecord) error {
	if obj == nil {
		return fmt.Errorf("%w: exit on null", ErrIllegalMonitorState)
	}
	if rec != nil && rec.Object != obj {
		return fmt.Errorf("%w: lock record does not hold %s", ErrIllegalMonitorState, obj)
	}
	h.mu.Lock()
	mon := obj.monitor
	h.mu.Unlock()
	if mon == nil {
		return fmt.Errorf("%w: %s was never locked", ErrIllegalMonitorState, obj)
	}

	mon.mu.Lock()
	defer mon.mu.Unlock()
	if mon.owner != m || mon.count == 0 {
		return fmt.Errorf("%w: %s not owned by caller", ErrIllegalMonitorState, obj)
	}
	mon.count--
	if rec != nil {
		rec.Object = nil
	}
	if mon.count == 0 {
		mon.owner = nil
		close(mon.released)
		mon.released = make(chan struct{})
	}
	return nil
}

// HoldsLock reports whether m owns obj's monitor.
func (h *Heap) HoldsLock(m *Mutator, obj *Object) bool {
	if obj == nil {
		return false
	}
	h.mu.Lock()
	mon := obj.monitor
	h.mu.Unlock()
	if mon == nil {
		return false
	}
	mon.mu.Lock()
	defer mon.mu.Unlock()
	return mon.owner == m && mon.count > 0
}

// LockCount returns the recursion depth of obj's monitor.
func (h *Heap) LockCount(obj *Object) int {
	h.mu.Lock()
	mon := obj.monitor
	h.mu.Unlock()
	if mon == nil {
		return 0
	}
	mon.mu.Lock()
	defer mon.mu.Unlock()
	return mon.count
}
