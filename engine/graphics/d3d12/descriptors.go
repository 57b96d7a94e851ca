package d3d12

import (
	"sync"

	"github.com/cockroachdb/errors"
)

var errDescriptorHeapFull = errors.New("descriptor heap is full")

// descriptorAllocator hands out single descriptors of a CPU only heap.
// Released slots are reused before the heap grows.
type descriptorAllocator struct {
	mu        sync.Mutex
	heap      DescriptorHeap
	heapType  uint32
	start     CPU_DESCRIPTOR_HANDLE
	increment uint32
	capacity  uint32
	next      uint32
	free      []uint32
}

func newDescriptorAllocator(device Device, heapType, capacity uint32) (*descriptorAllocator, error) {
	heap, err := device.CreateDescriptorHeap(heapType, capacity, false)
	if err != nil {
		return nil, err
	}
	return &descriptorAllocator{
		heap:      heap,
		heapType:  heapType,
		start:     heap.GetCPUDescriptorHandleForHeapStart(),
		increment: device.GetDescriptorHandleIncrementSize(heapType),
		capacity:  capacity,
	}, nil
}

func (a *descriptorAllocator) allocate() (CPU_DESCRIPTOR_HANDLE, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n := len(a.free); n > 0 {
		index := a.free[n-1]
		a.free = a.free[:n-1]
		return a.start.Offset(index, a.increment), nil
	}
	if a.next == a.capacity {
		return CPU_DESCRIPTOR_HANDLE{}, errors.Wrapf(errDescriptorHeapFull, "heap type %d holds %d descriptors", a.heapType, a.capacity)
	}
	index := a.next
	a.next++
	return a.start.Offset(index, a.increment), nil
}

func (a *descriptorAllocator) release(handle CPU_DESCRIPTOR_HANDLE) {
	if handle.Ptr == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.free = append(a.free, uint32((handle.Ptr-a.start.Ptr)/uintptr(a.increment)))
}

// live is the number of descriptors currently handed out.
func (a *descriptorAllocator) live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return int(a.next) - len(a.free)
}

func (a *descriptorAllocator) destroy() {
	if a.heap != nil {
		a.heap.Release()
		a.heap = nil
	}
}

// descriptorRing is the shader visible CBV/SRV/UAV heap. It is split in one
// segment per frame in flight; a segment is rewound when its frame slot is
// reused, which BeginFrame only does after the GPU finished that frame.
type descriptorRing struct {
	mu          sync.Mutex
	heap        DescriptorHeap
	cpuStart    CPU_DESCRIPTOR_HANDLE
	gpuStart    GPU_DESCRIPTOR_HANDLE
	increment   uint32
	segmentSize uint32
	segment     uint32
	used        uint32
}

func newDescriptorRing(device Device, frames, perFrame uint32) (*descriptorRing, error) {
	heap, err := device.CreateDescriptorHeap(DESCRIPTOR_HEAP_TYPE_CBV_SRV_UAV, frames*perFrame, true)
	if err != nil {
		return nil, err
	}
	return &descriptorRing{
		heap:        heap,
		cpuStart:    heap.GetCPUDescriptorHandleForHeapStart(),
		gpuStart:    heap.GetGPUDescriptorHandleForHeapStart(),
		increment:   device.GetDescriptorHandleIncrementSize(DESCRIPTOR_HEAP_TYPE_CBV_SRV_UAV),
		segmentSize: perFrame,
	}, nil
}

func (r *descriptorRing) beginFrame(slot uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.segment = slot
	r.used = 0
}

// allocate reserves count contiguous descriptors in the current segment.
func (r *descriptorRing) allocate(count uint32) (CPU_DESCRIPTOR_HANDLE, GPU_DESCRIPTOR_HANDLE, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.used+count > r.segmentSize {
		return CPU_DESCRIPTOR_HANDLE{}, GPU_DESCRIPTOR_HANDLE{},
			errors.Wrapf(errDescriptorHeapFull, "frame segment of %d descriptors exhausted", r.segmentSize)
	}
	index := r.segment*r.segmentSize + r.used
	r.used += count
	return r.cpuStart.Offset(index, r.increment), r.gpuStart.Offset(index, r.increment), nil
}

func (r *descriptorRing) destroy() {
	if r.heap != nil {
		r.heap.Release()
		r.heap = nil
	}
}
