package vulkan

import (
	"sync"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/graphics"
)

var errDescriptorPoolFull = errors.New("vulkan: descriptor pool exhausted")

const setsPerPool = 256

var poolSizes = []DescriptorPoolSize{
	{Type: vk.DescriptorTypeUniformBuffer, Count: 2 * setsPerPool},
	{Type: vk.DescriptorTypeStorageBuffer, Count: setsPerPool},
	{Type: vk.DescriptorTypeCombinedImageSampler, Count: 2 * setsPerPool},
	{Type: vk.DescriptorTypeStorageImage, Count: setsPerPool / 2},
	{Type: vk.DescriptorTypeUniformTexelBuffer, Count: setsPerPool / 2},
}

// framePools are the descriptor pools of one frame slot. used counts the
// pools handed out since the slot was last reset.
type framePools struct {
	pools []DescriptorPool
	used  int
}

// descriptorAllocator hands out transient descriptor sets. Every frame slot
// owns a list of pools that grows when a frame runs out and is reset once
// the slot's fence passed.
type descriptorAllocator struct {
	device Device

	mu     sync.Mutex
	frames []framePools
	slot   uint32
}

func newDescriptorAllocator(device Device, frames uint32) *descriptorAllocator {
	return &descriptorAllocator{device: device, frames: make([]framePools, frames)}
}

func (a *descriptorAllocator) beginFrame(slot uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.slot = slot
	frame := &a.frames[slot]
	for _, pool := range frame.pools[:frame.used] {
		if err := pool.Reset(); err != nil {
			return errors.Mark(errors.Wrap(err, "vulkan: resetting descriptor pool"), core.ErrDeviceLost)
		}
	}
	frame.used = 0
	return nil
}

// allocate takes a set from the current pool of the active slot, moving on
// to the next pool when the current one is exhausted.
func (a *descriptorAllocator) allocate(layout DescriptorSetLayout) (DescriptorSet, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	frame := &a.frames[a.slot]
	advanced := false
	for {
		if frame.used == 0 || frame.used > len(frame.pools) {
			if err := a.nextPoolLocked(frame); err != nil {
				return nil, err
			}
		}
		set, err := frame.pools[frame.used-1].Allocate(layout)
		if err == nil {
			return set, nil
		}
		if !errors.Is(err, errDescriptorPoolFull) {
			return nil, errors.Wrap(err, "vulkan: allocating descriptor set")
		}
		// Pools past the current one are empty this frame.
		if advanced {
			return nil, errors.Wrap(err, "vulkan: descriptor set does not fit an empty pool")
		}
		frame.used++
		advanced = true
	}
}

// nextPoolLocked makes pool frame.used the current one, creating it if the
// slot never needed that many.
func (a *descriptorAllocator) nextPoolLocked(frame *framePools) error {
	if frame.used == 0 {
		frame.used = 1
	}
	for len(frame.pools) < frame.used {
		pool, err := a.device.CreateDescriptorPool(setsPerPool, poolSizes)
		if err != nil {
			return graphics.NativeError(err, "creating descriptor pool")
		}
		frame.pools = append(frame.pools, pool)
		core.LogDebug("vulkan: frame slot %d grew to %d descriptor pools", a.slot, len(frame.pools))
	}
	return nil
}

// pools counts the pools of a slot, used and idle.
func (a *descriptorAllocator) pools(slot uint32) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.frames[slot].pools)
}

func (a *descriptorAllocator) destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.frames {
		for _, pool := range a.frames[i].pools {
			pool.Destroy()
		}
		a.frames[i] = framePools{}
	}
}
