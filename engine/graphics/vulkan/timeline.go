package vulkan

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/prism/engine/core"
)

type pendingFence struct {
	value uint64
	fence Fence
}

// timeline turns a pool of binary fences into a monotonic counter. Every
// queue submission takes the next value; values complete in submission
// order, so polling stops at the first unsignaled fence.
type timeline struct {
	device Device

	mu        sync.Mutex
	last      uint64
	completed uint64
	pending   []pendingFence
	free      []Fence
}

func newTimeline(device Device) *timeline {
	return &timeline{device: device}
}

// next hands out a reset fence together with the value it will signal. The
// caller has to hold the queue lock until it either pushes or drops the
// fence, which keeps values in submission order.
func (t *timeline) next() (Fence, uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var fence Fence
	if n := len(t.free); n > 0 {
		fence = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		var err error
		if fence, err = t.device.CreateFence(); err != nil {
			return nil, 0, errors.Wrap(err, "vulkan: creating submission fence")
		}
	}
	return fence, t.last + 1, nil
}

// push records a successful submission.
func (t *timeline) push(fence Fence, value uint64) {
	t.mu.Lock()
	t.pending = append(t.pending, pendingFence{value: value, fence: fence})
	t.last = value
	t.mu.Unlock()
}

// drop returns a fence whose submission failed.
func (t *timeline) drop(fence Fence) {
	t.mu.Lock()
	t.free = append(t.free, fence)
	t.mu.Unlock()
}

func (t *timeline) lastValue() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

func (t *timeline) pollLocked() error {
	for len(t.pending) > 0 {
		head := t.pending[0]
		signaled, err := head.fence.Signaled()
		if err != nil {
			return errors.Mark(errors.Wrap(err, "vulkan: querying fence"), core.ErrDeviceLost)
		}
		if !signaled {
			return nil
		}
		if err := head.fence.Reset(); err != nil {
			return errors.Mark(errors.Wrap(err, "vulkan: resetting fence"), core.ErrDeviceLost)
		}
		t.completed = head.value
		t.free = append(t.free, head.fence)
		t.pending[0] = pendingFence{}
		t.pending = t.pending[1:]
	}
	return nil
}

// completedValue is the highest value the GPU finished.
func (t *timeline) completedValue() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.pollLocked(); err != nil {
		core.LogError("%s", err)
	}
	return t.completed
}

// wait blocks until value completed or timeout expired.
func (t *timeline) wait(value uint64, timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.pollLocked(); err != nil {
		return err
	}
	if value <= t.completed {
		return nil
	}
	for _, p := range t.pending {
		if p.value < value {
			continue
		}
		done, err := p.fence.Wait(timeout)
		if err != nil {
			return errors.Mark(errors.Wrap(err, "vulkan: waiting for fence"), core.ErrDeviceLost)
		}
		if !done {
			return errors.Wrapf(core.ErrTimeout, "vulkan: fence value %d not reached within %s", value, timeout)
		}
		return t.pollLocked()
	}
	return errors.Newf("vulkan: fence value %d was never submitted", value)
}

func (t *timeline) destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.pending {
		p.fence.Destroy()
	}
	for _, f := range t.free {
		f.Destroy()
	}
	t.pending, t.free = nil, nil
}
