package gateway

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/chazu/jitbridge/heap"
)

var (
	ErrEmptyRange   = errors.New("empty code range")
	ErrOverlap      = errors.New("code ranges overlap")
	ErrHandlerRange = errors.New("handler entry outside code blob")
)

// HandlerEntry is one exception table row: exceptions of CatchClass (or any
// exception when CatchClass is nil) raised at a pc in [Start, End) continue
// at Handler.
type HandlerEntry struct {
	Start      uintptr
	End        uintptr
	Handler    uintptr
	CatchClass *heap.Class
}

// CodeBlob is the installed code of one compiled method.
type CodeBlob struct {
	Method   string
	Start    uintptr
	End      uintptr
	Handlers []HandlerEntry
}

// Contains reports whether pc lies inside the blob.
func (b *CodeBlob) Contains(pc uintptr) bool {
	return pc >= b.Start && pc < b.End
}

// HandlerFor returns the first handler covering pc that catches an
// exception of class exc, or NoHandler.
func (b *CodeBlob) HandlerFor(pc uintptr, exc *heap.Class) uintptr {
	for _, e := range b.Handlers {
		if pc < e.Start || pc >= e.End {
			continue
		}
		if e.CatchClass == nil || exc.IsSubclassOf(e.CatchClass) {
			return e.Handler
		}
	}
	return NoHandler
}

// CodeCache holds installed code blobs ordered by address.
type CodeCache struct {
	mu    sync.RWMutex
	blobs []*CodeBlob
}

// NewCodeCache creates an empty code cache.
func NewCodeCache() *CodeCache {
	return &CodeCache{}
}

// Install adds blob. Its range must be non-empty and disjoint from every
// installed blob, and its handler entries must lie inside it.
func (cc *CodeCache) Install(blob *CodeBlob) error {
	if blob.End <= blob.Start {
		return fmt.Errorf("%w: %s [%#x,%#x)", ErrEmptyRange, blob.Method, blob.Start, blob.End)
	}
	for _, e := range blob.Handlers {
		if e.Start < blob.Start || e.End > blob.End || !blob.Contains(e.Handler) {
			return fmt.Errorf("%w: %s entry [%#x,%#x) -> %#x", ErrHandlerRange, blob.Method, e.Start, e.End, e.Handler)
		}
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()
	i := sort.Search(len(cc.blobs), func(i int) bool { return cc.blobs[i].Start >= blob.Start })
	if i > 0 && cc.blobs[i-1].End > blob.Start {
		return fmt.Errorf("%w: %s and %s", ErrOverlap, cc.blobs[i-1].Method, blob.Method)
	}
	if i < len(cc.blobs) && cc.blobs[i].Start < blob.End {
		return fmt.Errorf("%w: %s and %s", ErrOverlap, blob.Method, cc.blobs[i].Method)
	}
	cc.blobs = append(cc.blobs, nil)
	copy(cc.blobs[i+1:], cc.blobs[i:])
	cc.blobs[i] = blob
	return nil
}

// Lookup returns the blob containing pc, or nil.
func (cc *CodeCache) Lookup(pc uintptr) *CodeBlob {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	i := sort.Search(len(cc.blobs), func(i int) bool { return cc.blobs[i].End > pc })
	if i < len(cc.blobs) && cc.blobs[i].Contains(pc) {
		return cc.blobs[i]
	}
	return nil
}

// Remove uninstalls the blob starting at start and reports whether one was
// found.
func (cc *CodeCache) Remove(start uintptr) bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	for i, b := range cc.blobs {
		if b.Start == start {
			cc.blobs = append(cc.blobs[:i], cc.blobs[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of installed blobs.
func (cc *CodeCache) Len() int {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return len(cc.blobs)
}
