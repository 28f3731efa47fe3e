package heap

import (
	"fmt"

	"github.com/chazu/jitbridge/abi"
)

// ---------------------------------------------------------------------------
// Write barriers
// ---------------------------------------------------------------------------
//
// Compiled code brackets every reference store that may create a
// cross-region pointer with a pre barrier (snapshot-at-the-beginning: the
// value about to be overwritten is logged while concurrent marking is
// active) and a post barrier (the card covering the updated field is
// dirtied). The heap only records; deciding which stores qualify is the
// compiler's job.

const (
	cardClean byte = 0
	cardDirty byte = 1
)

type barrierState struct {
	cards   []byte
	satb    []*Object
	marking bool
}

func (b *barrierState) init(capacityWords int) {
	bytes := capacityWords * abi.WordSize
	b.cards = make([]byte, (bytes>>abi.CardShift)+1)
}

func (b *barrierState) clearCards() {
	for i := range b.cards {
		b.cards[i] = cardClean
	}
}

// CardFor returns the card index covering obj's current address.
func (h *Heap) CardFor(obj *Object) uintptr {
	h.mu.Lock()
	defer h.mu.Unlock()
	return (obj.addr - heapBase) >> abi.CardShift
}

// StartMarking begins a concurrent-marking window during which pre
// barriers log overwritten values.
func (h *Heap) StartMarking() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.barriers.marking = true
	h.barriers.satb = h.barriers.satb[:0]
}

// FinishMarking ends the marking window and returns the logged values.
func (h *Heap) FinishMarking() []*Object {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.barriers.marking = false
	logged := h.barriers.satb
	h.barriers.satb = nil
	return logged
}

// Marking reports whether a marking window is open.
func (h *Heap) Marking() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.barriers.marking
}

// WriteBarrierPre logs obj if marking is active. Null is ignored.
func (h *Heap) WriteBarrierPre(obj *Object) {
	if obj == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.barriers.marking {
		h.barriers.satb = append(h.barriers.satb, obj)
	}
}

// WriteBarrierPost dirties card.
func (h *Heap) WriteBarrierPost(card uintptr) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if card >= uintptr(len(h.barriers.cards)) {
		return fmt.Errorf("%w: card %d, table has %d", ErrCardOutOfRange, card, len(h.barriers.cards))
	}
	h.barriers.cards[card] = cardDirty
	return nil
}

// IsCardDirty reports whether card has been dirtied since the last collection.
func (h *Heap) IsCardDirty(card uintptr) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return card < uintptr(len(h.barriers.cards)) && h.barriers.cards[card] == cardDirty
}

// DirtyCards returns the indices of all dirty cards in ascending order.
func (h *Heap) DirtyCards() []uintptr {
	h.mu.Lock()
	defer h.mu.Unlock()
	var dirty []uintptr
	for i, c := range h.barriers.cards {
		if c == cardDirty {
			dirty = append(dirty, uintptr(i))
		}
	}
	return dirty
}
