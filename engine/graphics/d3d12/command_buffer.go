package d3d12

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/prism/engine/containers"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/graphics"
	"github.com/spaghettifunk/prism/engine/graphics/dxgi"
	"github.com/spaghettifunk/prism/engine/math"
)

type allocatorEntry struct {
	allocator  CommandAllocator
	fenceValue uint64
}

type commandBuffer struct {
	backend *Backend
	main    bool

	// allocators holds retired allocators in submission order together with
	// the fence value that frees them.
	allocators *containers.RingQueue[allocatorEntry]
	allocator  CommandAllocator
	list       GraphicsCommandList
	recording  bool
	err        error

	barriers       *graphics.BarrierBatch
	nativeBarriers []RESOURCE_BARRIER
	presentTargets []*graphics.Texture
	// recordedStates holds the mirrored state each resource had before this
	// list first changed it.
	recordedStates map[*uint32]uint32

	framebuffer        *framebuffer
	layout             *rootLayout
	layoutCompute      bool
	pipelineState      PipelineState
	pipelineStateDirty bool
	topology           graphics.PrimitiveTopology

	views     [graphics.MAX_VERTEX_BUFFER_BINDINGS]VERTEX_BUFFER_VIEW
	pushWords [graphics.MAX_PUSH_CONSTANT_SIZE / 4]uint32
}

func newCommandBuffer(backend *Backend, main bool) *commandBuffer {
	c := &commandBuffer{
		backend:    backend,
		main:       main,
		allocators: containers.NewRingQueue[allocatorEntry](int(max(backend.settings.FramesInFlight, 1)) + 1),

		recordedStates: make(map[*uint32]uint32),
	}
	c.barriers = graphics.NewBarrierBatch(graphics.QueueTypeGraphics, c.emitBarriers)
	c.resetTracking()
	return c
}

func (c *commandBuffer) resetTracking() {
	c.framebuffer = nil
	c.layout = nil
	c.layoutCompute = false
	c.pipelineState = nil
	c.pipelineStateDirty = true
	c.topology = graphics.PrimitiveTopologyCount
}

func (c *commandBuffer) Destroy() {
	c.discardBarriers()
	if c.list != nil {
		if c.recording {
			_ = c.list.Close()
			c.recording = false
		}
		c.list.Release()
		c.list = nil
	}
	if c.allocator != nil {
		c.allocator.Release()
		c.allocator = nil
	}
	for !c.allocators.IsEmpty() {
		entry, _ := c.allocators.Dequeue()
		entry.allocator.Release()
	}
}

func (c *commandBuffer) fail(err error) {
	core.LogError("d3d12: %s", err)
	if c.err == nil {
		c.err = err
	}
}

func (c *commandBuffer) ready() bool {
	return c.recording && c.err == nil
}

// acquireAllocator reuses the oldest retired allocator once the GPU is done
// with it. A full ring waits for the oldest submission instead of growing.
func (c *commandBuffer) acquireAllocator() (CommandAllocator, error) {
	if entry, err := c.allocators.Peek(); err == nil {
		if c.allocators.IsFull() || c.backend.fence.GetCompletedValue() >= entry.fenceValue {
			_, _ = c.allocators.Dequeue()
			if err := c.backend.waitForFence(entry.fenceValue); err != nil {
				entry.allocator.Release()
				return nil, err
			}
			if err := entry.allocator.Reset(); err != nil {
				entry.allocator.Release()
				return nil, errors.Wrap(err, "resetting command allocator")
			}
			return entry.allocator, nil
		}
	}
	allocator, err := c.backend.device.CreateCommandAllocator(COMMAND_LIST_TYPE_DIRECT)
	if err != nil {
		return nil, graphics.NativeError(err, "creating command allocator")
	}
	return allocator, nil
}

// retireAllocator queues the current allocator until fenceValue is reached.
// Zero means nothing was submitted from it.
func (c *commandBuffer) retireAllocator(fenceValue uint64) {
	if c.allocator == nil {
		return
	}
	if err := c.allocators.Enqueue(allocatorEntry{allocator: c.allocator, fenceValue: fenceValue}); err != nil {
		core.LogWarn("d3d12: allocator ring is full, releasing allocator")
		c.allocator.Release()
	}
	c.allocator = nil
}

func (c *commandBuffer) BeginImpl() {
	c.resetTracking()
	c.err = nil

	allocator, err := c.acquireAllocator()
	if err != nil {
		c.fail(err)
		return
	}
	c.allocator = allocator

	if c.list == nil {
		list, err := c.backend.device.CreateCommandList(COMMAND_LIST_TYPE_DIRECT, allocator)
		if err != nil {
			c.retireAllocator(0)
			c.fail(graphics.NativeError(err, "creating command list"))
			return
		}
		c.list = list
	} else if err := c.list.Reset(allocator, nil); err != nil {
		c.retireAllocator(0)
		c.fail(errors.Wrap(err, "resetting command list"))
		return
	}
	c.recording = true
	c.list.SetDescriptorHeaps([]DescriptorHeap{c.backend.descriptors.heap})
}

// nativeResource returns the resource a barrier applies to and its mirrored
// state. Upload heap buffers report nil.
func nativeResource(r graphics.Trackable) (Resource, *uint32) {
	switch r := r.(type) {
	case *graphics.Buffer:
		if native := nativeBuffer(r); !native.hostVisible() {
			return native.resource, &native.state
		}
	case *graphics.Texture:
		native := nativeTexture(r)
		return native.resource, &native.state
	}
	return nil, nil
}

// emitBarriers is the flush callback of the barrier batch.
func (c *commandBuffer) emitBarriers(barriers []graphics.ResourceBarrier) {
	native := c.nativeBarriers[:0]
	for i := range barriers {
		b := &barriers[i]
		resource, state := nativeResource(b.Resource)
		if resource == nil {
			continue
		}
		if b.Type == graphics.BarrierTypeUAV {
			native = append(native, RESOURCE_BARRIER{Type: RESOURCE_BARRIER_TYPE_UAV, Resource: resource})
			continue
		}

		before, after := convertResourceState(b.StateBefore), convertResourceState(b.StateAfter)
		if before == after {
			continue
		}
		native = append(native, RESOURCE_BARRIER{
			Type:        RESOURCE_BARRIER_TYPE_TRANSITION,
			Flags:       convertBarrierFlags(b.Flags),
			Resource:    resource,
			Subresource: RESOURCE_BARRIER_ALL_SUBRESOURCES,
			StateBefore: before,
			StateAfter:  after,
		})
		if b.Flags != graphics.BarrierFlagBeginOnly {
			if _, seen := c.recordedStates[state]; !seen {
				c.recordedStates[state] = *state
			}
			*state = after
		}
	}
	if len(native) > 0 {
		c.list.ResourceBarrier(native)
	}
	c.nativeBarriers = native[:0]
}

func (c *commandBuffer) transitionBuffer(buffer *graphics.Buffer, state graphics.ResourceState) {
	if nativeBuffer(buffer).hostVisible() {
		return
	}
	c.barriers.TransitionResource(buffer, state, false)
}

func (c *commandBuffer) BeginRenderPassImpl(state *graphics.RecordingState, desc *graphics.RenderPassDescriptor) {
	if !c.ready() {
		return
	}
	for i := uint32(0); i < desc.ColorAttachmentCount(); i++ {
		tex := desc.ColorAttachments[i].Texture
		c.barriers.TransitionResource(tex, graphics.ResourceStateRenderTarget, false)
		if tex.IsSwapchain() {
			c.trackPresentTarget(tex)
		}
	}
	if tex := desc.DepthStencilAttachment.Texture; tex != nil {
		c.barriers.TransitionResource(tex, graphics.ResourceStateDepthWrite, false)
	}
	c.barriers.FlushResourceBarriers()

	fb, err := c.backend.requestFramebuffer(desc)
	if err != nil {
		core.LogError("d3d12: render pass %q: %s", desc.Label, err)
		c.framebuffer = nil
		return
	}
	c.framebuffer = fb
	c.pipelineStateDirty = true

	var dsv *CPU_DESCRIPTOR_HANDLE
	if fb.hasDepth {
		dsv = &fb.dsv
	}
	c.list.OMSetRenderTargets(fb.rtvs[:fb.count], dsv)

	for i := uint32(0); i < fb.count; i++ {
		attachment := &desc.ColorAttachments[i]
		if attachment.LoadAction == graphics.LoadActionClear {
			c.list.ClearRenderTargetView(fb.rtvs[i], [4]float32(attachment.ClearColor))
		}
	}
	if ds := &desc.DepthStencilAttachment; fb.hasDepth {
		var flags uint32
		if ds.DepthLoadAction == graphics.LoadActionClear {
			flags |= CLEAR_FLAG_DEPTH
		}
		if ds.StencilLoadAction == graphics.LoadActionClear && ds.Texture.Format().HasStencil() {
			flags |= CLEAR_FLAG_STENCIL
		}
		if flags != 0 {
			c.list.ClearDepthStencilView(fb.dsv, flags, ds.ClearDepth, ds.ClearStencil)
		}
	}
}

func (c *commandBuffer) trackPresentTarget(tex *graphics.Texture) {
	for _, t := range c.presentTargets {
		if t == tex {
			return
		}
	}
	c.presentTargets = append(c.presentTargets, tex)
}

func (c *commandBuffer) EndRenderPassImpl(state *graphics.RecordingState) {
	c.framebuffer = nil
}

func (c *commandBuffer) SetIndexBufferImpl(buffer *graphics.Buffer, offset uint64, indexType graphics.IndexType) {
	if !c.ready() {
		return
	}
	native := nativeBuffer(buffer)
	c.transitionBuffer(buffer, graphics.ResourceStateIndexBuffer)
	c.barriers.FlushResourceBarriers()
	c.list.IASetIndexBuffer(&INDEX_BUFFER_VIEW{
		BufferLocation: native.gpuAddress() + offset,
		SizeInBytes:    uint32(native.size - offset),
		Format:         dxgi.IndexFormat(indexType),
	})
}

// bindRootLayout switches the root signature. A new root signature drops
// every root argument, so all tables and push constants are dirtied.
func (c *commandBuffer) bindRootLayout(state *graphics.RecordingState, layout *rootLayout, compute bool) {
	if c.layout == layout && c.layoutCompute == compute {
		return
	}
	if compute {
		c.list.SetComputeRootSignature(layout.signature)
	} else {
		c.list.SetGraphicsRootSignature(layout.signature)
	}
	c.layout, c.layoutCompute = layout, compute
	state.DirtySets |= state.Pipeline.DescriptorSetMask()
	state.Dirty.Set(graphics.DirtyPushConstants)
}

// prepareDraw flushes the dirty state into the command list. It returns
// false when the draw has to be skipped.
func (c *commandBuffer) prepareDraw(state *graphics.RecordingState, topology graphics.PrimitiveTopology) bool {
	if !c.ready() || c.framebuffer == nil {
		return false
	}

	if state.Dirty.GetAndClear(graphics.DirtyPipeline) {
		c.bindRootLayout(state, nativePipeline(state.Pipeline).layout, false)
		c.pipelineStateDirty = true
	}
	if state.Dirty.GetAndClear(graphics.DirtyStaticVertex | graphics.DirtyStaticState) {
		c.pipelineStateDirty = true
	}
	topologyType := convertTopologyType(topology)
	if topologyType != convertTopologyType(c.topology) {
		c.pipelineStateDirty = true
	}
	if c.pipelineStateDirty {
		pso, err := c.backend.requestPipelineState(state, topologyType)
		if err != nil {
			core.LogError("d3d12: %s", err)
			return false
		}
		if pso != c.pipelineState {
			c.list.SetPipelineState(pso)
			c.pipelineState = pso
		}
		c.pipelineStateDirty = false
	}
	if c.topology != topology {
		c.list.IASetPrimitiveTopology(convertTopology(topology))
		c.topology = topology
	}

	graphics.ForEachBit(state.ActiveVertexBufferMask(), func(slot uint32) {
		if vbo := state.Vbo[slot].Buffer; vbo != nil {
			c.transitionBuffer(vbo, graphics.ResourceStateVertexAndConstantBuffer)
		}
	})
	c.transitionDescriptorSets(state, false)
	c.barriers.FlushResourceBarriers()

	state.FlushVertexBuffers(func(first, count uint32) {
		c.updateVertexBuffers(state, first, count)
	})
	c.flushDynamicState(state)
	state.FlushDescriptorSets(func(set uint32) {
		c.flushDescriptorSet(state, set, false)
	})
	c.flushPushConstants(state, false)
	return true
}

// transitionDescriptorSets moves every resource the pipeline reads into the
// state its binding needs. Storage resources that stay in unordered access
// get a UAV barrier instead.
func (c *commandBuffer) transitionDescriptorSets(state *graphics.RecordingState, compute bool) {
	readState := graphics.ResourceStateNonPixelShaderResource | graphics.ResourceStatePixelShaderResource
	if compute {
		readState = graphics.ResourceStateNonPixelShaderResource
	}

	p := state.Pipeline
	graphics.ForEachBit(p.DescriptorSetMask(), func(set uint32) {
		layout := p.SetLayout(set)
		graphics.ForEachBit(layout.BindingMask(), func(binding uint32) {
			b := &state.Bindings[set][binding]
			bit := uint32(1) << binding
			switch b.Type {
			case graphics.BindingTypeBuffer:
				if layout.StorageBufferMask&bit != 0 {
					c.transitionBuffer(b.Buffer, graphics.ResourceStateUnorderedAccess)
				} else {
					c.transitionBuffer(b.Buffer, graphics.ResourceStateVertexAndConstantBuffer)
				}
			case graphics.BindingTypeImage:
				if layout.StorageTextureMask&bit != 0 {
					c.barriers.TransitionResource(b.Texture, graphics.ResourceStateUnorderedAccess, false)
				} else {
					c.barriers.TransitionResource(b.Texture, readState, false)
				}
			case graphics.BindingTypeTexelBuffer:
				c.transitionBuffer(b.Buffer, readState)
			}
		})
	})
}

func (c *commandBuffer) updateVertexBuffers(state *graphics.RecordingState, first, count uint32) {
	for i := first; i < first+count; i++ {
		vbo := &state.Vbo[i]
		native := nativeBuffer(vbo.Buffer)
		c.views[i] = VERTEX_BUFFER_VIEW{
			BufferLocation: native.gpuAddress() + vbo.Offset,
			SizeInBytes:    uint32(native.size - vbo.Offset),
			StrideInBytes:  vbo.Stride,
		}
	}
	c.list.IASetVertexBuffers(first, c.views[first:first+count])
}

func (c *commandBuffer) flushDynamicState(state *graphics.RecordingState) {
	if state.Dirty.GetAndClear(graphics.DirtyViewport) {
		v := state.Viewport
		c.list.RSSetViewports([]VIEWPORT{{
			TopLeftX: v.X, TopLeftY: v.Y,
			Width: v.Width, Height: v.Height,
			MinDepth: v.MinDepth, MaxDepth: v.MaxDepth,
		}})
	}
	if state.Dirty.GetAndClear(graphics.DirtyScissor) {
		s := state.Scissor
		c.list.RSSetScissorRects([]RECT{{
			Left: s.X, Top: s.Y,
			Right: s.X + int32(s.Width), Bottom: s.Y + int32(s.Height),
		}})
	}
}

// flushDescriptorSet writes the whole set into a fresh table of the
// descriptor ring and points the set's root parameter at it.
func (c *commandBuffer) flushDescriptorSet(state *graphics.RecordingState, set uint32, compute bool) {
	table := c.layout.tables[set]
	if table == noRootParameter {
		return
	}
	ring := c.backend.descriptors
	cpu, gpu, err := ring.allocate(graphics.MAX_BINDINGS_PER_SET)
	if err != nil {
		core.LogError("d3d12: descriptor set %d: %s", set, err)
		return
	}

	device := c.backend.device
	layout := state.Pipeline.SetLayout(set)
	graphics.ForEachBit(layout.BindingMask(), func(binding uint32) {
		dest := cpu.Offset(binding, ring.increment)
		b := &state.Bindings[set][binding]
		bit := uint32(1) << binding
		switch b.Type {
		case graphics.BindingTypeBuffer:
			native := nativeBuffer(b.Buffer)
			if layout.StorageBufferMask&bit != 0 {
				device.CopyDescriptorsSimple(1, dest, native.uav, DESCRIPTOR_HEAP_TYPE_CBV_SRV_UAV)
				return
			}
			device.CreateConstantBufferView(&CONSTANT_BUFFER_VIEW_DESC{
				BufferLocation: native.gpuAddress() + b.Offset,
				SizeInBytes:    uint32(math.Align(b.Range, CONSTANT_BUFFER_DATA_PLACEMENT_ALIGNMENT)),
			}, dest)
		case graphics.BindingTypeImage:
			native := nativeTexture(b.Texture)
			src := native.srv
			if layout.StorageTextureMask&bit != 0 {
				src = native.uav
			}
			device.CopyDescriptorsSimple(1, dest, src, DESCRIPTOR_HEAP_TYPE_CBV_SRV_UAV)
		case graphics.BindingTypeTexelBuffer:
			texelSize := uint64(max(b.Format.BytesPerPixel(), 1))
			device.CreateShaderResourceView(nativeBuffer(b.Buffer).resource, &VIEW_DESC{
				Format:        dxgi.PixelFormat(b.Format),
				ViewDimension: SRV_DIMENSION_BUFFER,
				FirstElement:  b.Offset / texelSize,
				NumElements:   uint32(b.Range / texelSize),
			}, dest)
		default:
			core.LogWarn("d3d12: binding %d of set %d is read by %q but nothing is bound", binding, set, state.Pipeline.Label())
		}
	})

	if compute {
		c.list.SetComputeRootDescriptorTable(table, gpu)
	} else {
		c.list.SetGraphicsRootDescriptorTable(table, gpu)
	}
}

// flushPushConstants writes push constants as root constants.
func (c *commandBuffer) flushPushConstants(state *graphics.RecordingState, compute bool) {
	if !state.Dirty.GetAndClear(graphics.DirtyPushConstants) || state.PushConstantBytes == 0 {
		return
	}
	if c.layout.pushConstants == noRootParameter {
		return
	}
	words := min(c.layout.pushValues, math.DivideRoundUp(state.PushConstantBytes, 4))
	for i := uint32(0); i < words; i++ {
		c.pushWords[i] = binary.LittleEndian.Uint32(state.PushConstants[i*4:])
	}
	if compute {
		c.list.SetComputeRoot32BitConstants(c.layout.pushConstants, c.pushWords[:words], 0)
	} else {
		c.list.SetGraphicsRoot32BitConstants(c.layout.pushConstants, c.pushWords[:words], 0)
	}
}

func (c *commandBuffer) DrawImpl(state *graphics.RecordingState, topology graphics.PrimitiveTopology, vertexCount, instanceCount, vertexStart, baseInstance uint32) {
	if !c.prepareDraw(state, topology) {
		return
	}
	c.list.DrawInstanced(vertexCount, instanceCount, vertexStart, baseInstance)
}

func (c *commandBuffer) DrawIndexedImpl(state *graphics.RecordingState, topology graphics.PrimitiveTopology, indexCount, instanceCount, startIndex uint32) {
	if !c.prepareDraw(state, topology) {
		return
	}
	c.list.DrawIndexedInstanced(indexCount, instanceCount, startIndex, 0, 0)
}

func (c *commandBuffer) DispatchImpl(state *graphics.RecordingState, groupCountX, groupCountY, groupCountZ uint32) {
	if !c.ready() {
		return
	}
	if state.Dirty.GetAndClear(graphics.DirtyPipeline) {
		native := nativePipeline(state.Pipeline)
		c.bindRootLayout(state, native.layout, true)
		if c.pipelineState != native.compute {
			c.list.SetPipelineState(native.compute)
			c.pipelineState = native.compute
		}
		// The next draw has to restore its graphics PSO.
		c.pipelineStateDirty = true
	}

	c.transitionDescriptorSets(state, true)
	c.barriers.FlushResourceBarriers()
	state.FlushDescriptorSets(func(set uint32) {
		c.flushDescriptorSet(state, set, true)
	})
	c.flushPushConstants(state, true)
	c.list.Dispatch(groupCountX, groupCountY, groupCountZ)
}

// CommitImpl returns swapchain images to the present state, closes the list
// and executes it on the queue.
func (c *commandBuffer) CommitImpl(waitForCompletion bool) (uint64, error) {
	if c.err != nil {
		err := c.err
		c.abandon()
		return 0, err
	}
	if !c.recording {
		return 0, errors.New("d3d12: command buffer has no open command list")
	}

	for _, tex := range c.presentTargets {
		c.barriers.TransitionResource(tex, graphics.ResourceStatePresent, false)
	}
	c.presentTargets = c.presentTargets[:0]
	c.barriers.FlushResourceBarriers()

	c.recording = false
	if err := c.list.Close(); err != nil {
		c.discardBarriers()
		c.retireAllocator(0)
		return 0, errors.Mark(errors.Wrap(err, "d3d12: closing command list"), core.ErrDeviceLost)
	}
	fenceValue, err := c.backend.submit(c.list, waitForCompletion)
	c.barriers.Settle()
	clear(c.recordedStates)
	c.retireAllocator(fenceValue)
	if err != nil {
		return 0, err
	}
	return fenceValue, nil
}

// abandon closes an open list without executing it.
func (c *commandBuffer) abandon() {
	c.discardBarriers()
	if c.recording {
		_ = c.list.Close()
		c.recording = false
	}
	c.retireAllocator(0)
}

// discardBarriers drops unsubmitted transitions and puts the mirrored native
// states back.
func (c *commandBuffer) discardBarriers() {
	c.barriers.Discard()
	for state, before := range c.recordedStates {
		*state = before
	}
	clear(c.recordedStates)
}

func (c *commandBuffer) ResetImpl() {
	c.abandon()
	c.presentTargets = c.presentTargets[:0]
	c.err = nil
	c.resetTracking()
}
