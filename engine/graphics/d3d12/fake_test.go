package d3d12

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/prism/engine/graphics/dxgi"
)

type fakeObject struct {
	kind     string
	released int
}

func (o *fakeObject) Release() {
	o.released++
}

type fakeResource struct {
	fakeObject
	address  uint64
	heapType uint32
	state    uint32
	desc     RESOURCE_DESC
	data     []byte
}

func (r *fakeResource) GetGPUVirtualAddress() uint64 { return r.address }

func (r *fakeResource) Map(subresource uint32) ([]byte, error) {
	if r.heapType != HEAP_TYPE_UPLOAD {
		return nil, errors.New("default heap resources cannot be mapped")
	}
	return r.data, nil
}

func (r *fakeResource) Unmap(subresource uint32) {}

// fakeFence completes signals immediately unless hold is set. A held fence
// catches up when the event is waited on, unless stuck is set too.
type fakeFence struct {
	fakeObject
	completed uint64
	signaled  uint64
	hold      bool
	stuck     bool
}

func (f *fakeFence) GetCompletedValue() uint64 { return f.completed }

func (f *fakeFence) SetEventOnCompletion(value uint64, event Event) error {
	event.(*fakeEvent).fence = f
	return nil
}

func (f *fakeFence) catchUp() {
	f.completed = f.signaled
}

type fakeEvent struct {
	fakeObject
	fence *fakeFence
	waits int
}

func (e *fakeEvent) Wait(timeout time.Duration) (bool, error) {
	e.waits++
	if e.fence.stuck {
		return false, nil
	}
	e.fence.catchUp()
	return true, nil
}

type fakeAllocator struct {
	fakeObject
	resets int
}

func (a *fakeAllocator) Reset() error {
	a.resets++
	return nil
}

type fakeHeap struct {
	fakeObject
	cpu CPU_DESCRIPTOR_HANDLE
	gpu GPU_DESCRIPTOR_HANDLE
}

func (h *fakeHeap) GetCPUDescriptorHandleForHeapStart() CPU_DESCRIPTOR_HANDLE { return h.cpu }
func (h *fakeHeap) GetGPUDescriptorHandleForHeapStart() GPU_DESCRIPTOR_HANDLE { return h.gpu }

type tableCall struct {
	index uint32
	base  GPU_DESCRIPTOR_HANDLE
}

// fakeList records the calls the backend makes instead of driving a GPU.
type fakeList struct {
	fakeObject
	mu        sync.Mutex
	open      bool
	calls     []string
	barriers  []RESOURCE_BARRIER
	tables    []tableCall
	constants [][]uint32
}

func (l *fakeList) record(call string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *fakeList) count(call string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	var n int
	for _, name := range l.calls {
		if name == call {
			n++
		}
	}
	return n
}

func (l *fakeList) Close() error {
	l.record("Close")
	l.open = false
	return nil
}

func (l *fakeList) Reset(allocator CommandAllocator, initialState PipelineState) error {
	l.record("Reset")
	l.open = true
	return nil
}

func (l *fakeList) ResourceBarrier(barriers []RESOURCE_BARRIER) {
	l.record("ResourceBarrier")
	l.barriers = append(l.barriers, barriers...)
}

func (l *fakeList) SetDescriptorHeaps(heaps []DescriptorHeap)   { l.record("SetDescriptorHeaps") }
func (l *fakeList) SetPipelineState(state PipelineState)        { l.record("SetPipelineState") }
func (l *fakeList) SetGraphicsRootSignature(sig RootSignature)  { l.record("SetGraphicsRootSignature") }
func (l *fakeList) SetComputeRootSignature(sig RootSignature)   { l.record("SetComputeRootSignature") }
func (l *fakeList) IASetPrimitiveTopology(topology uint32)      { l.record("IASetPrimitiveTopology") }
func (l *fakeList) IASetIndexBuffer(view *INDEX_BUFFER_VIEW)    { l.record("IASetIndexBuffer") }
func (l *fakeList) RSSetViewports(viewports []VIEWPORT)         { l.record("RSSetViewports") }
func (l *fakeList) RSSetScissorRects(rects []RECT)              { l.record("RSSetScissorRects") }
func (l *fakeList) Dispatch(x, y, z uint32)                     { l.record("Dispatch") }

func (l *fakeList) SetGraphicsRootDescriptorTable(index uint32, base GPU_DESCRIPTOR_HANDLE) {
	l.record("SetGraphicsRootDescriptorTable")
	l.tables = append(l.tables, tableCall{index: index, base: base})
}

func (l *fakeList) SetComputeRootDescriptorTable(index uint32, base GPU_DESCRIPTOR_HANDLE) {
	l.record("SetComputeRootDescriptorTable")
	l.tables = append(l.tables, tableCall{index: index, base: base})
}

func (l *fakeList) SetGraphicsRoot32BitConstants(index uint32, data []uint32, destOffset uint32) {
	l.record("SetGraphicsRoot32BitConstants")
	l.constants = append(l.constants, append([]uint32(nil), data...))
}

func (l *fakeList) SetComputeRoot32BitConstants(index uint32, data []uint32, destOffset uint32) {
	l.record("SetComputeRoot32BitConstants")
	l.constants = append(l.constants, append([]uint32(nil), data...))
}

func (l *fakeList) IASetVertexBuffers(startSlot uint32, views []VERTEX_BUFFER_VIEW) {
	l.record("IASetVertexBuffers")
}

func (l *fakeList) OMSetRenderTargets(renderTargets []CPU_DESCRIPTOR_HANDLE, depthStencil *CPU_DESCRIPTOR_HANDLE) {
	l.record("OMSetRenderTargets")
}

func (l *fakeList) ClearRenderTargetView(view CPU_DESCRIPTOR_HANDLE, color [4]float32) {
	l.record("ClearRenderTargetView")
}

func (l *fakeList) ClearDepthStencilView(view CPU_DESCRIPTOR_HANDLE, flags uint32, depth float32, stencil uint8) {
	l.record("ClearDepthStencilView")
}

func (l *fakeList) DrawInstanced(vertexCountPerInstance, instanceCount, startVertex, startInstance uint32) {
	l.record("DrawInstanced")
}

func (l *fakeList) DrawIndexedInstanced(indexCountPerInstance, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32) {
	l.record("DrawIndexedInstanced")
}

func (l *fakeList) CopyBufferRegion(dst Resource, dstOffset uint64, src Resource, srcOffset, numBytes uint64) {
	l.record("CopyBufferRegion")
	d, s := dst.(*fakeResource), src.(*fakeResource)
	copy(d.data[dstOffset:dstOffset+numBytes], s.data[srcOffset:srcOffset+numBytes])
}

func (l *fakeList) CopyTextureRegion(dst Resource, dstSubresource uint32, src Resource, footprint *PLACED_SUBRESOURCE_FOOTPRINT) {
	l.record("CopyTextureRegion")
}

type fakeQueue struct {
	fakeObject
	executed int
}

func (q *fakeQueue) ExecuteCommandLists(lists []GraphicsCommandList) {
	for _, list := range lists {
		if list.(*fakeList).open {
			panic("executing an open command list")
		}
	}
	q.executed += len(lists)
}

func (q *fakeQueue) Signal(fence Fence, value uint64) error {
	f := fence.(*fakeFence)
	f.signaled = value
	if !f.hold {
		f.completed = value
	}
	return nil
}

const fakeDescriptorIncrement = 32

type fakeDevice struct {
	fakeObject
	queue *fakeQueue
	fence *fakeFence
	event *fakeEvent

	nextAddress    uint64
	nextHeap       uintptr
	allocators     []*fakeAllocator
	lists          []*fakeList
	resources      []*fakeResource
	rootSignatures []ROOT_SIGNATURE_DESC
	graphicsPSOs   []GRAPHICS_PIPELINE_STATE_DESC
	computePSOs    int
	cbvs           int
	copies         int
	rtvs           int
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		queue:       &fakeQueue{fakeObject: fakeObject{kind: "queue"}},
		fence:       &fakeFence{fakeObject: fakeObject{kind: "fence"}},
		event:       &fakeEvent{fakeObject: fakeObject{kind: "event"}},
		nextAddress: 0x10000,
		nextHeap:    0x100000,
	}
}

func (d *fakeDevice) AdapterName() string { return "fake adapter" }

func (d *fakeDevice) CreateCommandQueue(listType uint32) (CommandQueue, error) { return d.queue, nil }
func (d *fakeDevice) CreateFence(initialValue uint64) (Fence, error)        { return d.fence, nil }
func (d *fakeDevice) CreateEvent() (Event, error)                           { return d.event, nil }

func (d *fakeDevice) CreateCommandAllocator(listType uint32) (CommandAllocator, error) {
	allocator := &fakeAllocator{fakeObject: fakeObject{kind: "allocator"}}
	d.allocators = append(d.allocators, allocator)
	return allocator, nil
}

func (d *fakeDevice) CreateCommandList(listType uint32, allocator CommandAllocator) (GraphicsCommandList, error) {
	list := &fakeList{fakeObject: fakeObject{kind: "list"}, open: true}
	d.lists = append(d.lists, list)
	return list, nil
}

func (d *fakeDevice) CreateSwapChain(queue CommandQueue, desc *dxgi.SWAP_CHAIN_DESC) (SwapChain, error) {
	return nil, errors.New("no window in tests")
}

func (d *fakeDevice) CreateDescriptorHeap(heapType, numDescriptors uint32, shaderVisible bool) (DescriptorHeap, error) {
	heap := &fakeHeap{fakeObject: fakeObject{kind: "heap"}, cpu: CPU_DESCRIPTOR_HANDLE{Ptr: d.nextHeap}}
	if shaderVisible {
		heap.gpu = GPU_DESCRIPTOR_HANDLE{Ptr: uint64(d.nextHeap)}
	}
	d.nextHeap += uintptr(numDescriptors) * fakeDescriptorIncrement
	return heap, nil
}

func (d *fakeDevice) GetDescriptorHandleIncrementSize(heapType uint32) uint32 {
	return fakeDescriptorIncrement
}

func (d *fakeDevice) CreateConstantBufferView(desc *CONSTANT_BUFFER_VIEW_DESC, dest CPU_DESCRIPTOR_HANDLE) {
	d.cbvs++
}

func (d *fakeDevice) CreateShaderResourceView(resource Resource, desc *VIEW_DESC, dest CPU_DESCRIPTOR_HANDLE) {
}

func (d *fakeDevice) CreateUnorderedAccessView(resource Resource, desc *VIEW_DESC, dest CPU_DESCRIPTOR_HANDLE) {
}

func (d *fakeDevice) CreateRenderTargetView(resource Resource, desc *VIEW_DESC, dest CPU_DESCRIPTOR_HANDLE) {
	d.rtvs++
}

func (d *fakeDevice) CreateDepthStencilView(resource Resource, desc *VIEW_DESC, dest CPU_DESCRIPTOR_HANDLE) {
}

func (d *fakeDevice) CopyDescriptorsSimple(numDescriptors uint32, dest, src CPU_DESCRIPTOR_HANDLE, heapType uint32) {
	d.copies++
}

func (d *fakeDevice) CreateCommittedResource(heapType uint32, desc *RESOURCE_DESC, initialState uint32) (Resource, error) {
	r := &fakeResource{
		fakeObject: fakeObject{kind: "resource"},
		address:    d.nextAddress,
		heapType:   heapType,
		state:      initialState,
		desc:       *desc,
	}
	if desc.Dimension == RESOURCE_DIMENSION_BUFFER {
		r.data = make([]byte, desc.Width)
		d.nextAddress += desc.Width
	}
	d.resources = append(d.resources, r)
	return r, nil
}

func (d *fakeDevice) CreateRootSignature(desc *ROOT_SIGNATURE_DESC) (RootSignature, error) {
	d.rootSignatures = append(d.rootSignatures, *desc)
	return &fakeObject{kind: "root_signature"}, nil
}

func (d *fakeDevice) CreateGraphicsPipelineState(desc *GRAPHICS_PIPELINE_STATE_DESC) (PipelineState, error) {
	d.graphicsPSOs = append(d.graphicsPSOs, *desc)
	return &fakeObject{kind: "graphics_pso"}, nil
}

func (d *fakeDevice) CreateComputePipelineState(desc *COMPUTE_PIPELINE_STATE_DESC) (PipelineState, error) {
	d.computePSOs++
	return &fakeObject{kind: "compute_pso"}, nil
}
