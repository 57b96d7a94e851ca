package core

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
)

// Identifier packs a slot index and the slot generation. The zero value is
// never handed out, so it can be used as "no identifier".
type Identifier uint64

const InvalidIdentifier Identifier = 0

func makeIdentifier(index, generation uint32) Identifier {
	return Identifier(uint64(generation)<<32 | uint64(index))
}

func (id Identifier) Index() uint32 {
	return uint32(id)
}

func (id Identifier) Generation() uint32 {
	return uint32(id >> 32)
}

func (id Identifier) String() string {
	return fmt.Sprintf("%d:%d", id.Index(), id.Generation())
}

type arenaSlot[T any] struct {
	owner      T
	generation uint32
	used       bool
}

// Arena hands out identifiers for owners. Released slots are reused, with a
// bumped generation so stale identifiers never resolve.
type Arena[T any] struct {
	mu    sync.Mutex
	slots []arenaSlot[T]
	free  []uint32
	count int
}

func NewArena[T any](capacity int) *Arena[T] {
	return &Arena[T]{
		slots: make([]arenaSlot[T], 0, capacity),
	}
}

func (a *Arena[T]) Acquire(owner T) Identifier {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Existing free spot. Take it.
	if n := len(a.free); n > 0 {
		index := a.free[n-1]
		a.free = a.free[:n-1]
		slot := &a.slots[index]
		slot.owner = owner
		slot.used = true
		a.count++
		return makeIdentifier(index, slot.generation)
	}

	// No free slots, push a new one. Generations start at 1 to keep the zero
	// identifier invalid.
	a.slots = append(a.slots, arenaSlot[T]{owner: owner, generation: 1, used: true})
	a.count++
	return makeIdentifier(uint32(len(a.slots)-1), 1)
}

func (a *Arena[T]) Release(id Identifier) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	slot, err := a.lookup(id)
	if err != nil {
		return err
	}
	var zero T
	slot.owner = zero
	slot.used = false
	slot.generation++
	a.free = append(a.free, id.Index())
	a.count--
	return nil
}

func (a *Arena[T]) Get(id Identifier) (T, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	slot, err := a.lookup(id)
	if err != nil {
		var zero T
		return zero, false
	}
	return slot.owner, true
}

func (a *Arena[T]) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// Drain releases every live slot and returns the owners in slot order.
func (a *Arena[T]) Drain() []T {
	a.mu.Lock()
	defer a.mu.Unlock()

	owners := make([]T, 0, a.count)
	var zero T
	for i := range a.slots {
		slot := &a.slots[i]
		if !slot.used {
			continue
		}
		owners = append(owners, slot.owner)
		slot.owner = zero
		slot.used = false
		slot.generation++
		a.free = append(a.free, uint32(i))
	}
	a.count = 0
	return owners
}

// Snapshot returns the live owners in slot order without releasing them.
func (a *Arena[T]) Snapshot() []T {
	a.mu.Lock()
	defer a.mu.Unlock()

	owners := make([]T, 0, a.count)
	for i := range a.slots {
		if a.slots[i].used {
			owners = append(owners, a.slots[i].owner)
		}
	}
	return owners
}

func (a *Arena[T]) lookup(id Identifier) (*arenaSlot[T], error) {
	index := id.Index()
	if id == InvalidIdentifier || int(index) >= len(a.slots) {
		return nil, errors.Newf("identifier %s out of range (max=%d)", id, len(a.slots))
	}
	slot := &a.slots[index]
	if !slot.used || slot.generation != id.Generation() {
		return nil, errors.Newf("identifier %s is stale", id)
	}
	return slot, nil
}
