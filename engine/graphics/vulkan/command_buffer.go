package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/containers"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/graphics"
	"github.com/spaghettifunk/prism/engine/math"
)

type listEntry struct {
	list       CommandList
	fenceValue uint64
}

type commandBuffer struct {
	backend *Backend
	pool    CommandPool

	// lists holds retired lists in submission order together with the fence
	// value that frees them.
	lists     *containers.RingQueue[listEntry]
	list      CommandList
	recording bool
	err       error

	barriers       *graphics.BarrierBatch
	memoryBarriers []MemoryBarrier
	bufferBarriers []BufferBarrier
	imageBarriers  []ImageBarrier
	presentTargets []*graphics.Texture

	renderPass  *graphics.RenderPassDescriptor
	nativePass  RenderPass
	framebuffer *framebuffer
	// passOpen is false while a render pass is suspended for barriers.
	passOpen bool
	splits   uint32
	// layouts images had before this list first changed them
	recordedLayouts map[*texture]vk.ImageLayout

	layout        *pipelineLayout
	bindPoint     vk.PipelineBindPoint
	pipeline      Pipeline
	pipelineDirty bool
	topology      graphics.PrimitiveTopology

	indexBuffer *graphics.Buffer
	indexOffset uint64
	indexType   graphics.IndexType
	indexDirty  bool

	vbos    [graphics.MAX_VERTEX_BUFFER_BINDINGS]Buffer
	offsets [graphics.MAX_VERTEX_BUFFER_BINDINGS]uint64
}

func newCommandBuffer(backend *Backend, main bool) (*commandBuffer, error) {
	pool, err := backend.device.CreateCommandPool()
	if err != nil {
		return nil, graphics.NativeError(err, "creating vulkan command pool")
	}
	if main {
		core.LogDebug("vulkan: main command buffer created")
	}
	c := &commandBuffer{
		backend: backend,
		pool:    pool,
		lists:   containers.NewRingQueue[listEntry](int(max(backend.settings.FramesInFlight, 1)) + 1),

		recordedLayouts: make(map[*texture]vk.ImageLayout),
	}
	c.barriers = graphics.NewBarrierBatch(graphics.QueueTypeGraphics, c.emitBarriers)
	c.resetTracking()
	return c, nil
}

func (c *commandBuffer) resetTracking() {
	c.renderPass = nil
	c.nativePass = nil
	c.framebuffer = nil
	c.passOpen = false
	c.layout = nil
	c.pipeline = nil
	c.pipelineDirty = true
	c.topology = graphics.PrimitiveTopologyCount
	c.indexBuffer = nil
	c.indexDirty = false
}

// Destroy frees the pool and with it every list it allocated.
func (c *commandBuffer) Destroy() {
	c.discardBarriers()
	if c.recording {
		_ = c.list.End()
		c.recording = false
	}
	for !c.lists.IsEmpty() {
		_, _ = c.lists.Dequeue()
	}
	c.list = nil
	if c.pool != nil {
		c.pool.Destroy()
		c.pool = nil
	}
}

func (c *commandBuffer) fail(err error) {
	core.LogError("vulkan: %s", err)
	if c.err == nil {
		c.err = err
	}
}

func (c *commandBuffer) ready() bool {
	return c.recording && c.err == nil
}

// acquireList reuses the oldest retired list once the GPU is done with it.
// A full ring waits for the oldest submission instead of growing.
func (c *commandBuffer) acquireList() (CommandList, error) {
	if entry, err := c.lists.Peek(); err == nil {
		if c.lists.IsFull() || c.backend.timeline.completedValue() >= entry.fenceValue {
			_, _ = c.lists.Dequeue()
			if err := c.backend.timeline.wait(entry.fenceValue, c.backend.settings.FenceTimeout); err != nil {
				return nil, err
			}
			if err := entry.list.Reset(); err != nil {
				return nil, errors.Wrap(err, "resetting command list")
			}
			return entry.list, nil
		}
	}
	list, err := c.pool.Allocate()
	if err != nil {
		return nil, graphics.NativeError(err, "allocating command list")
	}
	return list, nil
}

// retireList queues the current list until fenceValue is reached. Zero
// means nothing was submitted from it.
func (c *commandBuffer) retireList(fenceValue uint64) {
	if c.list == nil {
		return
	}
	if err := c.lists.Enqueue(listEntry{list: c.list, fenceValue: fenceValue}); err != nil {
		core.LogWarn("vulkan: command list ring is full, dropping list until the pool is destroyed")
	}
	c.list = nil
}

func (c *commandBuffer) BeginImpl() {
	c.resetTracking()
	c.err = nil

	list, err := c.acquireList()
	if err != nil {
		c.fail(err)
		return
	}
	c.list = list
	if err := list.Begin(true); err != nil {
		c.retireList(0)
		c.fail(errors.Wrap(err, "beginning command list"))
		return
	}
	c.recording = true
}

// emitBarriers is the flush callback of the barrier batch. Barriers cannot
// change layouts inside a render pass, so an open pass is suspended first
// and resumed by the next draw.
func (c *commandBuffer) emitBarriers(barriers []graphics.ResourceBarrier) {
	memory, buffers, images := c.memoryBarriers[:0], c.bufferBarriers[:0], c.imageBarriers[:0]
	var src, dst vk.PipelineStageFlags

	for i := range barriers {
		b := &barriers[i]
		// Split barriers are emitted in one piece when they end.
		if b.Flags == graphics.BarrierFlagBeginOnly {
			continue
		}
		src |= srcStages(b.StateBefore)
		dst |= dstStages(b.StateAfter)
		srcAccess, dstAccess := convertAccess(b.StateBefore), convertAccess(b.StateAfter)

		switch r := b.Resource.(type) {
		case *graphics.Buffer:
			native := nativeBuffer(r)
			if native.hostVisible {
				continue
			}
			if b.Type == graphics.BarrierTypeUAV {
				memory = append(memory, MemoryBarrier{SrcAccess: srcAccess, DstAccess: dstAccess})
				continue
			}
			buffers = append(buffers, BufferBarrier{Buffer: native.handle, SrcAccess: srcAccess, DstAccess: dstAccess})
		case *graphics.Texture:
			native := nativeTexture(r)
			layout := convertImageLayout(b.StateAfter)
			images = append(images, ImageBarrier{
				Image:     native.image,
				Aspect:    native.aspect,
				OldLayout: native.layout,
				NewLayout: layout,
				SrcAccess: srcAccess,
				DstAccess: dstAccess,
			})
			if _, seen := c.recordedLayouts[native]; !seen {
				c.recordedLayouts[native] = native.layout
			}
			native.layout = layout
		}
	}

	if len(memory)+len(buffers)+len(images) > 0 {
		if src == 0 {
			src = vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
		}
		if dst == 0 {
			dst = vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit)
		}
		if c.passOpen {
			c.suspendRenderPass()
		}
		c.list.PipelineBarrier(src, dst, memory, buffers, images)
	}
	c.memoryBarriers, c.bufferBarriers, c.imageBarriers = memory[:0], buffers[:0], images[:0]
}

func (c *commandBuffer) transitionBuffer(buffer *graphics.Buffer, state graphics.ResourceState) {
	if nativeBuffer(buffer).hostVisible {
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

	pass, err := c.backend.requestRenderPass(desc, false)
	if err != nil {
		core.LogError("vulkan: render pass %q: %s", desc.Label, err)
		return
	}
	fb, err := c.backend.requestFramebuffer(desc, pass)
	if err != nil {
		core.LogError("vulkan: render pass %q: %s", desc.Label, err)
		return
	}
	c.renderPass, c.nativePass, c.framebuffer = desc, pass, fb
	c.pipelineDirty = true

	c.list.BeginRenderPass(pass, fb.handle, fb.width, fb.height, clearValues(desc))
	c.passOpen = true
}

// suspendRenderPass ends the native pass so barriers can be recorded.
func (c *commandBuffer) suspendRenderPass() {
	c.list.EndRenderPass()
	c.passOpen = false
	c.splits++
	core.LogDebug("vulkan: render pass %q split for resource transitions", c.renderPass.Label)
}

// resumeRenderPass continues a suspended pass with a variant that loads
// every attachment.
func (c *commandBuffer) resumeRenderPass() bool {
	pass, err := c.backend.requestRenderPass(c.renderPass, true)
	if err != nil {
		core.LogError("vulkan: resuming render pass %q: %s", c.renderPass.Label, err)
		return false
	}
	c.list.BeginRenderPass(pass, c.framebuffer.handle, c.framebuffer.width, c.framebuffer.height, nil)
	c.passOpen = true
	return true
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
	if c.passOpen {
		c.list.EndRenderPass()
		c.passOpen = false
	}
	c.renderPass, c.nativePass, c.framebuffer = nil, nil, nil
}

// SetIndexBufferImpl only records the binding. The transition and the bind
// happen at the next draw so no barrier lands inside a render pass early.
func (c *commandBuffer) SetIndexBufferImpl(buffer *graphics.Buffer, offset uint64, indexType graphics.IndexType) {
	if c.indexBuffer != buffer || c.indexOffset != offset || c.indexType != indexType {
		c.indexBuffer, c.indexOffset, c.indexType = buffer, offset, indexType
		c.indexDirty = true
	}
}

// bindLayout switches the pipeline layout. Sets and push constants bound
// through another layout are not guaranteed to survive, so all of them are
// dirtied.
func (c *commandBuffer) bindLayout(state *graphics.RecordingState, layout *pipelineLayout, bindPoint vk.PipelineBindPoint) {
	if c.layout == layout && c.bindPoint == bindPoint {
		return
	}
	c.layout, c.bindPoint = layout, bindPoint
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
		c.bindLayout(state, nativePipeline(state.Pipeline).layout, vk.PipelineBindPointGraphics)
		c.pipelineDirty = true
	}
	if state.Dirty.GetAndClear(graphics.DirtyStaticVertex | graphics.DirtyStaticState) {
		c.pipelineDirty = true
	}
	if topology != c.topology {
		c.pipelineDirty = true
	}

	graphics.ForEachBit(state.ActiveVertexBufferMask(), func(slot uint32) {
		if vbo := state.Vbo[slot].Buffer; vbo != nil {
			c.transitionBuffer(vbo, graphics.ResourceStateVertexAndConstantBuffer)
		}
	})
	if c.indexBuffer != nil {
		c.transitionBuffer(c.indexBuffer, graphics.ResourceStateIndexBuffer)
	}
	c.transitionDescriptorSets(state, false)
	c.barriers.FlushResourceBarriers()
	if !c.passOpen && !c.resumeRenderPass() {
		return false
	}

	if c.pipelineDirty {
		p, err := c.backend.requestGraphicsPipeline(state, topology, c.nativePass)
		if err != nil {
			core.LogError("vulkan: %s", err)
			return false
		}
		if p != c.pipeline {
			c.list.BindPipeline(vk.PipelineBindPointGraphics, p)
			c.pipeline = p
		}
		c.pipelineDirty = false
		c.topology = topology
	}

	state.FlushVertexBuffers(func(first, count uint32) {
		c.updateVertexBuffers(state, first, count)
	})
	if c.indexDirty && c.indexBuffer != nil {
		c.list.BindIndexBuffer(nativeBuffer(c.indexBuffer).handle, c.indexOffset, convertIndexType(c.indexType))
		c.indexDirty = false
	}
	c.flushDynamicState(state)
	state.FlushDescriptorSets(func(set uint32) {
		c.flushDescriptorSet(state, set)
	})
	c.flushPushConstants(state)
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
		c.vbos[i] = nativeBuffer(vbo.Buffer).handle
		c.offsets[i] = vbo.Offset
	}
	c.list.BindVertexBuffers(first, c.vbos[first:first+count], c.offsets[first:first+count])
}

func (c *commandBuffer) flushDynamicState(state *graphics.RecordingState) {
	if state.Dirty.GetAndClear(graphics.DirtyViewport) {
		c.list.SetViewport(state.Viewport)
	}
	if state.Dirty.GetAndClear(graphics.DirtyScissor) {
		c.list.SetScissor(state.Scissor)
	}
}

// flushDescriptorSet allocates a transient set from the frame's pools,
// writes every binding the pipeline reads and binds it.
func (c *commandBuffer) flushDescriptorSet(state *graphics.RecordingState, set uint32) {
	backend := c.backend
	ds, err := backend.descriptors.allocate(c.layout.sets[set])
	if err != nil {
		core.LogError("vulkan: descriptor set %d: %s", set, err)
		return
	}

	layout := state.Pipeline.SetLayout(set)
	writes := make([]DescriptorWrite, 0, graphics.MAX_BINDINGS_PER_SET)
	graphics.ForEachBit(layout.BindingMask(), func(binding uint32) {
		b := &state.Bindings[set][binding]
		write := DescriptorWrite{Set: ds, Binding: binding, Type: descriptorType(layout, binding)}
		switch b.Type {
		case graphics.BindingTypeBuffer:
			write.Buffer = nativeBuffer(b.Buffer).handle
			write.Offset, write.Range = b.Offset, b.Range
		case graphics.BindingTypeImage:
			native := nativeTexture(b.Texture)
			write.View, write.Layout = native.view, native.layout
			if write.Type == vk.DescriptorTypeCombinedImageSampler {
				write.Sampler = backend.sampler
			}
		case graphics.BindingTypeTexelBuffer:
			view, err := nativeBuffer(b.Buffer).texelView(b.Format, b.Offset, b.Range)
			if err != nil {
				core.LogError("vulkan: texel view for binding %d of set %d: %s", binding, set, err)
				return
			}
			write.TexelView = view
		default:
			core.LogWarn("vulkan: binding %d of set %d is read by %q but nothing is bound", binding, set, state.Pipeline.Label())
			return
		}
		writes = append(writes, write)
	})

	backend.device.UpdateDescriptorSets(writes)
	c.list.BindDescriptorSets(c.bindPoint, c.layout.handle, set, []DescriptorSet{ds})
}

func (c *commandBuffer) flushPushConstants(state *graphics.RecordingState) {
	if !state.Dirty.GetAndClear(graphics.DirtyPushConstants) || state.PushConstantBytes == 0 {
		return
	}
	push := c.layout.push
	if push.Size == 0 {
		return
	}
	size := min(push.Size, math.Align(state.PushConstantBytes, 4))
	c.list.PushConstants(c.layout.handle, push.Stages, 0, state.PushConstants[:size])
}

func (c *commandBuffer) DrawImpl(state *graphics.RecordingState, topology graphics.PrimitiveTopology, vertexCount, instanceCount, vertexStart, baseInstance uint32) {
	if !c.prepareDraw(state, topology) {
		return
	}
	c.list.Draw(vertexCount, instanceCount, vertexStart, baseInstance)
}

func (c *commandBuffer) DrawIndexedImpl(state *graphics.RecordingState, topology graphics.PrimitiveTopology, indexCount, instanceCount, startIndex uint32) {
	if c.indexBuffer == nil {
		core.LogError("vulkan: indexed draw without an index buffer")
		return
	}
	if !c.prepareDraw(state, topology) {
		return
	}
	c.list.DrawIndexed(indexCount, instanceCount, startIndex, 0, 0)
}

func (c *commandBuffer) DispatchImpl(state *graphics.RecordingState, groupCountX, groupCountY, groupCountZ uint32) {
	if !c.ready() {
		return
	}
	if state.Dirty.GetAndClear(graphics.DirtyPipeline) {
		native := nativePipeline(state.Pipeline)
		c.bindLayout(state, native.layout, vk.PipelineBindPointCompute)
		if c.pipeline != native.compute {
			c.list.BindPipeline(vk.PipelineBindPointCompute, native.compute)
			c.pipeline = native.compute
		}
		// The next draw has to restore its graphics pipeline.
		c.pipelineDirty = true
	}

	c.transitionDescriptorSets(state, true)
	c.barriers.FlushResourceBarriers()
	state.FlushDescriptorSets(func(set uint32) {
		c.flushDescriptorSet(state, set)
	})
	c.flushPushConstants(state)
	c.list.Dispatch(groupCountX, groupCountY, groupCountZ)
}

// CommitImpl returns swapchain images to the present layout, ends the list
// and submits it to the queue.
func (c *commandBuffer) CommitImpl(waitForCompletion bool) (uint64, error) {
	if c.err != nil {
		err := c.err
		c.abandon()
		return 0, err
	}
	if !c.recording {
		return 0, errors.New("vulkan: command buffer has no open command list")
	}

	for _, tex := range c.presentTargets {
		c.barriers.TransitionResource(tex, graphics.ResourceStatePresent, false)
	}
	c.presentTargets = c.presentTargets[:0]
	c.barriers.FlushResourceBarriers()

	c.recording = false
	if err := c.list.End(); err != nil {
		c.discardBarriers()
		c.retireList(0)
		return 0, errors.Mark(errors.Wrap(err, "vulkan: ending command list"), core.ErrDeviceLost)
	}
	fenceValue, err := c.backend.submit([]CommandList{c.list}, waitForCompletion)
	c.barriers.Settle()
	clear(c.recordedLayouts)
	c.retireList(fenceValue)
	if err != nil {
		return 0, err
	}
	return fenceValue, nil
}

// abandon ends an open list without submitting it. Image layouts go back to
// what they were before the list changed them.
func (c *commandBuffer) abandon() {
	c.discardBarriers()
	if c.recording {
		_ = c.list.End()
		c.recording = false
	}
	c.retireList(0)
}

func (c *commandBuffer) discardBarriers() {
	c.barriers.Discard()
	for tex, layout := range c.recordedLayouts {
		tex.layout = layout
	}
	clear(c.recordedLayouts)
}

func (c *commandBuffer) ResetImpl() {
	c.abandon()
	c.presentTargets = c.presentTargets[:0]
	c.err = nil
	c.resetTracking()
}
