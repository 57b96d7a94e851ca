package graphics

import (
	"github.com/spaghettifunk/prism/engine/core"
)

// ResourceState is the GPU usage a resource is currently prepared for.
type ResourceState uint32

const (
	ResourceStateCommon                  ResourceState = 0
	ResourceStateVertexAndConstantBuffer ResourceState = 1 << 0
	ResourceStateIndexBuffer             ResourceState = 1 << 1
	ResourceStateRenderTarget            ResourceState = 1 << 2
	ResourceStateUnorderedAccess         ResourceState = 1 << 3
	ResourceStateDepthWrite              ResourceState = 1 << 4
	ResourceStateDepthRead               ResourceState = 1 << 5
	ResourceStateNonPixelShaderResource  ResourceState = 1 << 6
	ResourceStatePixelShaderResource     ResourceState = 1 << 7
	ResourceStateIndirectArgument        ResourceState = 1 << 8
	ResourceStateCopyDest                ResourceState = 1 << 9
	ResourceStateCopySource              ResourceState = 1 << 10
	ResourceStateResolveDest             ResourceState = 1 << 11
	ResourceStateResolveSource           ResourceState = 1 << 12
	ResourceStatePresent                 ResourceState = 1 << 13

	ResourceStateGenericRead = ResourceStateVertexAndConstantBuffer | ResourceStateIndexBuffer |
		ResourceStateNonPixelShaderResource | ResourceStatePixelShaderResource |
		ResourceStateIndirectArgument | ResourceStateCopySource

	// resourceStateNone marks "no transition in flight".
	resourceStateNone ResourceState = ^ResourceState(0)
)

var validQueueStates = [...]ResourceState{
	QueueTypeGraphics: ^ResourceState(0),
	QueueTypeCompute: ResourceStateVertexAndConstantBuffer | ResourceStateUnorderedAccess |
		ResourceStateNonPixelShaderResource | ResourceStateIndirectArgument |
		ResourceStateCopyDest | ResourceStateCopySource,
	QueueTypeCopy: ResourceStateCopyDest | ResourceStateCopySource,
}

// IsValidOnQueue reports whether a queue of the given type may put a
// resource in this state. Common is valid everywhere.
func (s ResourceState) IsValidOnQueue(queue QueueType) bool {
	return s&^validQueueStates[queue] == 0
}

// ResourceTracker holds the tracked state of one GPU resource.
type ResourceTracker struct {
	usageState         ResourceState
	transitioningState ResourceState
}

func newResourceTracker(initial ResourceState) ResourceTracker {
	return ResourceTracker{usageState: initial, transitioningState: resourceStateNone}
}

func (t *ResourceTracker) UsageState() ResourceState {
	return t.usageState
}

// TransitioningState returns the target of an in-flight split barrier.
func (t *ResourceTracker) TransitioningState() (ResourceState, bool) {
	return t.transitioningState, t.transitioningState != resourceStateNone
}

// Trackable resources take part in barrier tracking.
type Trackable interface {
	GpuResource
	Tracker() *ResourceTracker
}

type BarrierType uint8

const (
	BarrierTypeTransition BarrierType = iota
	BarrierTypeUAV
)

type BarrierFlags uint8

const (
	BarrierFlagNone BarrierFlags = iota
	BarrierFlagBeginOnly
	BarrierFlagEndOnly
)

type ResourceBarrier struct {
	Type        BarrierType
	Flags       BarrierFlags
	Resource    Trackable
	StateBefore ResourceState
	StateAfter  ResourceState
}

type trackerSnapshot struct {
	tracker *ResourceTracker
	state   ResourceTracker
}

// BarrierBatch buffers resource barriers for one command list and hands them
// to the backend in batches of at most MAX_BUFFERED_BARRIERS.
//
// Trackers change as soon as a transition is recorded. The batch remembers
// what every tracker looked like before the list first touched it, so a list
// that is never submitted can hand the old states back with Discard.
type BarrierBatch struct {
	queue    QueueType
	barriers [MAX_BUFFERED_BARRIERS]ResourceBarrier
	count    int
	flush    func(barriers []ResourceBarrier)

	journal []trackerSnapshot
	touched map[*ResourceTracker]struct{}
}

func NewBarrierBatch(queue QueueType, flush func(barriers []ResourceBarrier)) *BarrierBatch {
	return &BarrierBatch{queue: queue, flush: flush}
}

func (b *BarrierBatch) Pending() int {
	return b.count
}

func (b *BarrierBatch) validate(resource Trackable, states ...ResourceState) {
	for _, state := range states {
		core.Assert(state.IsValidOnQueue(b.queue),
			"resource %q state %#x is not valid on queue type %d", resource.Label(), uint32(state), b.queue)
	}
}

func (b *BarrierBatch) remember(tracker *ResourceTracker) {
	if _, seen := b.touched[tracker]; seen {
		return
	}
	if b.touched == nil {
		b.touched = make(map[*ResourceTracker]struct{})
	}
	b.touched[tracker] = struct{}{}
	b.journal = append(b.journal, trackerSnapshot{tracker: tracker, state: *tracker})
}

func (b *BarrierBatch) push(barrier ResourceBarrier) {
	core.Assert(b.count < MAX_BUFFERED_BARRIERS, "exceeded arbitrary limit on buffered barriers")
	b.barriers[b.count] = barrier
	b.count++
}

func (b *BarrierBatch) flushIfNeeded(flushImmediate bool) {
	if flushImmediate || b.count == MAX_BUFFERED_BARRIERS {
		b.FlushResourceBarriers()
	}
}

// TransitionResource records a transition from the tracked usage state to
// newState. Transitions to the current state are dropped, except for
// UnorderedAccess which needs a UAV barrier between dependent writes.
func (b *BarrierBatch) TransitionResource(resource Trackable, newState ResourceState, flushImmediate bool) {
	tracker := resource.Tracker()
	oldState := tracker.usageState
	b.validate(resource, oldState, newState)

	if oldState != newState {
		b.remember(tracker)
		barrier := ResourceBarrier{
			Type:        BarrierTypeTransition,
			Resource:    resource,
			StateBefore: oldState,
			StateAfter:  newState,
		}
		// Close a split barrier started by BeginResourceTransition.
		if newState == tracker.transitioningState {
			barrier.Flags = BarrierFlagEndOnly
			tracker.transitioningState = resourceStateNone
		}
		b.push(barrier)
		tracker.usageState = newState
	} else if newState == ResourceStateUnorderedAccess {
		b.InsertUAVBarrier(resource, false)
	}

	b.flushIfNeeded(flushImmediate)
}

// BeginResourceTransition starts a split barrier. The usage state only
// changes once the matching TransitionResource ends it.
func (b *BarrierBatch) BeginResourceTransition(resource Trackable, newState ResourceState, flushImmediate bool) {
	tracker := resource.Tracker()
	// If it's already transitioning, finish that transition first.
	if pending, ok := tracker.TransitioningState(); ok {
		b.TransitionResource(resource, pending, false)
	}

	oldState := tracker.usageState
	b.validate(resource, oldState, newState)

	if oldState != newState {
		b.remember(tracker)
		b.push(ResourceBarrier{
			Type:        BarrierTypeTransition,
			Flags:       BarrierFlagBeginOnly,
			Resource:    resource,
			StateBefore: oldState,
			StateAfter:  newState,
		})
		tracker.transitioningState = newState
	}

	b.flushIfNeeded(flushImmediate)
}

func (b *BarrierBatch) InsertUAVBarrier(resource Trackable, flushImmediate bool) {
	b.push(ResourceBarrier{
		Type:        BarrierTypeUAV,
		Resource:    resource,
		StateBefore: ResourceStateUnorderedAccess,
		StateAfter:  ResourceStateUnorderedAccess,
	})
	b.flushIfNeeded(flushImmediate)
}

func (b *BarrierBatch) FlushResourceBarriers() {
	if b.count == 0 {
		return
	}
	if b.flush != nil {
		b.flush(b.barriers[:b.count])
	}
	for i := 0; i < b.count; i++ {
		b.barriers[i] = ResourceBarrier{}
	}
	b.count = 0
}

// Settle forgets the tracker history once the recorded work was submitted.
func (b *BarrierBatch) Settle() {
	for i := range b.journal {
		b.journal[i] = trackerSnapshot{}
	}
	b.journal = b.journal[:0]
	clear(b.touched)
}

// Discard drops pending barriers without emitting them and returns every
// tracker touched since the last Settle to its earlier state. Used when a
// list is reset or destroyed without being submitted.
func (b *BarrierBatch) Discard() {
	for i := 0; i < b.count; i++ {
		b.barriers[i] = ResourceBarrier{}
	}
	b.count = 0
	for i := len(b.journal) - 1; i >= 0; i-- {
		*b.journal[i].tracker = b.journal[i].state
	}
	b.Settle()
}
