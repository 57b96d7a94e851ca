package d3d11

import (
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/graphics"
	"github.com/spaghettifunk/prism/engine/graphics/dxgi"
	"github.com/spaghettifunk/prism/engine/math"
)

// Constant buffer slots map one to one to bindings; descriptor sets share the
// slot space. The last slot carries push constants.
const (
	PUSH_CONSTANT_SLOT      = COMMONSHADER_CONSTANT_BUFFERS - 1
	pushConstantBufferBytes = 256
)

var (
	nullRenderTargets   [SIMULTANEOUS_RENDER_TARGETS]RenderTargetView
	nullConstantBuffers [COMMONSHADER_CONSTANT_BUFFERS]Buffer
)

type commandBuffer struct {
	backend        *Backend
	ctx            DeviceContext
	immediate      bool
	needWorkaround bool

	framebuffer      *framebuffer
	topology         graphics.PrimitiveTopology
	inputLayout      inputLayoutKey
	inputLayoutDirty bool
	pushConstants    Buffer

	// Scratch arrays reused by every flush.
	vbo struct {
		buffers [graphics.MAX_VERTEX_BUFFER_BINDINGS]Buffer
		strides [graphics.MAX_VERTEX_BUFFER_BINDINGS]uint32
		offsets [graphics.MAX_VERTEX_BUFFER_BINDINGS]uint32
	}
	cbv struct {
		buffers [graphics.MAX_BINDINGS_PER_SET]Buffer
		first   [graphics.MAX_BINDINGS_PER_SET]uint32
		num     [graphics.MAX_BINDINGS_PER_SET]uint32
	}
	srv struct {
		views    [graphics.MAX_BINDINGS_PER_SET]ShaderResourceView
		samplers [graphics.MAX_BINDINGS_PER_SET]SamplerState
		uavs     [graphics.MAX_BINDINGS_PER_SET]UnorderedAccessView
	}
}

func newCommandBuffer(backend *Backend, ctx DeviceContext, immediate bool) *commandBuffer {
	c := &commandBuffer{
		backend:   backend,
		ctx:       ctx,
		immediate: immediate,
		// Only deferred contexts go through command list emulation.
		needWorkaround: !immediate && backend.needWorkaround,
	}
	c.resetTracking()
	return c
}

func (c *commandBuffer) resetTracking() {
	c.framebuffer = nil
	c.topology = graphics.PrimitiveTopologyCount
	c.inputLayout = inputLayoutKey{}
	c.inputLayoutDirty = true
}

func (c *commandBuffer) Destroy() {
	if c.pushConstants != nil {
		c.pushConstants.Release()
		c.pushConstants = nil
	}
	if !c.immediate && c.ctx != nil {
		c.ctx.Release()
		c.ctx = nil
	}
}

func (c *commandBuffer) BeginImpl() {
	c.resetTracking()
}

func (c *commandBuffer) BeginRenderPassImpl(state *graphics.RecordingState, desc *graphics.RenderPassDescriptor) {
	fb, err := c.backend.requestFramebuffer(desc)
	if err != nil {
		core.LogError("d3d11: render pass %q: %s", desc.Label, err)
		c.framebuffer = nil
		return
	}
	c.framebuffer = fb
	c.ctx.OMSetRenderTargets(fb.colors[:fb.count], fb.depth)

	for i := uint32(0); i < fb.count; i++ {
		attachment := &desc.ColorAttachments[i]
		if attachment.LoadAction == graphics.LoadActionClear {
			c.ctx.ClearRenderTargetView(fb.colors[i], [4]float32(attachment.ClearColor))
		}
	}
	if ds := &desc.DepthStencilAttachment; fb.depth != nil {
		var flags uint32
		if ds.DepthLoadAction == graphics.LoadActionClear {
			flags |= CLEAR_DEPTH
		}
		if ds.StencilLoadAction == graphics.LoadActionClear && ds.Texture.Format().HasStencil() {
			flags |= CLEAR_STENCIL
		}
		if flags != 0 {
			c.ctx.ClearDepthStencilView(fb.depth, flags, ds.ClearDepth, ds.ClearStencil)
		}
	}
}

func (c *commandBuffer) EndRenderPassImpl(state *graphics.RecordingState) {
	if c.framebuffer != nil {
		c.ctx.OMSetRenderTargets(nullRenderTargets[:c.framebuffer.count], nil)
	}
	c.framebuffer = nil
}

func (c *commandBuffer) SetIndexBufferImpl(buffer *graphics.Buffer, offset uint64, indexType graphics.IndexType) {
	c.ctx.IASetIndexBuffer(nativeBuffer(buffer).handle, dxgi.IndexFormat(indexType), uint32(offset))
}

// prepareDraw flushes the dirty state into the context. It returns false when
// the draw has to be skipped.
func (c *commandBuffer) prepareDraw(state *graphics.RecordingState, topology graphics.PrimitiveTopology) bool {
	if c.framebuffer == nil {
		return false
	}

	if state.Dirty.GetAndClear(graphics.DirtyPipeline) {
		p := nativePipeline(state.Pipeline)
		c.ctx.VSSetShader(p.vs.vs)
		if p.ps != nil {
			c.ctx.PSSetShader(p.ps.ps)
		} else {
			c.ctx.PSSetShader(nil)
		}
		c.inputLayoutDirty = true
	}
	if state.Dirty.GetAndClear(graphics.DirtyStaticVertex | graphics.DirtyStaticState) {
		c.inputLayoutDirty = true
	}

	state.FlushVertexBuffers(func(first, count uint32) {
		c.updateVertexBuffers(state, first, count)
	})

	if c.inputLayoutDirty {
		if !c.bindInputLayout(state) {
			return false
		}
		c.inputLayoutDirty = false
	}

	if c.topology != topology {
		c.ctx.IASetPrimitiveTopology(convertTopology(topology))
		c.topology = topology
	}

	c.flushDynamicState(state)
	state.FlushDescriptorSets(func(set uint32) {
		c.flushDescriptorSet(state, set)
	})
	c.flushPushConstants(state)
	return true
}

func (c *commandBuffer) updateVertexBuffers(state *graphics.RecordingState, first, count uint32) {
	for i := first; i < first+count; i++ {
		vbo := &state.Vbo[i]
		c.vbo.buffers[i] = nativeBuffer(vbo.Buffer).handle
		c.vbo.strides[i] = vbo.Stride
		c.vbo.offsets[i] = uint32(vbo.Offset)
	}
	end := first + count
	c.ctx.IASetVertexBuffers(first, c.vbo.buffers[first:end], c.vbo.strides[first:end], c.vbo.offsets[first:end])
}

// bindInputLayout looks the layout up in the device cache, keyed by vertex
// format and vertex shader. Without a bound format the layout is derived from
// the vertex shader inputs.
func (c *commandBuffer) bindInputLayout(state *graphics.RecordingState) bool {
	p := state.Pipeline
	if p.VertexAttributeMask() == 0 {
		c.ctx.IASetInputLayout(nil)
		c.inputLayout = inputLayoutKey{}
		return true
	}

	vs := p.Shader(graphics.ShaderStageVertex)
	key := inputLayoutKey{vertexShader: vs.ID()}
	var attributes []graphics.VertexAttribute
	if state.VertexFormat != nil {
		key.format = state.VertexFormat.ID()
		attributes = state.VertexFormat.Attributes()
	} else {
		attributes = graphics.ReflectedVertexAttributes(vs)
	}
	for slot := range state.Vbo {
		if state.Vbo[slot].InputRate == graphics.VertexInputRateInstance {
			key.instanceMask |= 1 << slot
		}
	}
	if key == c.inputLayout {
		return true
	}

	elements := make([]INPUT_ELEMENT_DESC, 0, len(attributes))
	for _, attr := range attributes {
		if p.VertexAttributeMask()&(1<<attr.Location) == 0 {
			continue
		}
		class, step := convertInputRate(state.Vbo[attr.BufferIndex].InputRate)
		elements = append(elements, INPUT_ELEMENT_DESC{
			SemanticName:         "TEXCOORD",
			SemanticIndex:        attr.Location,
			Format:               dxgi.VertexFormat(attr.Format),
			InputSlot:            attr.BufferIndex,
			AlignedByteOffset:    attr.Offset,
			InputSlotClass:       class,
			InstanceDataStepRate: step,
		})
	}

	layout, err := c.backend.inputLayout(key, elements, vs.Bytecode())
	if err != nil {
		core.LogError("d3d11: failed to create input layout for %q: %s", p.Label(), err)
		return false
	}
	c.ctx.IASetInputLayout(layout)
	c.inputLayout = key
	return true
}

func (c *commandBuffer) flushDynamicState(state *graphics.RecordingState) {
	if state.Dirty.GetAndClear(graphics.DirtyViewport) {
		v := state.Viewport
		c.ctx.RSSetViewports([]VIEWPORT{{
			TopLeftX: v.X, TopLeftY: v.Y,
			Width: v.Width, Height: v.Height,
			MinDepth: v.MinDepth, MaxDepth: v.MaxDepth,
		}})
	}
	if state.Dirty.GetAndClear(graphics.DirtyScissor) {
		s := state.Scissor
		c.ctx.RSSetScissorRects([]RECT{{
			Left: s.X, Top: s.Y,
			Right: s.X + int32(s.Width), Bottom: s.Y + int32(s.Height),
		}})
	}
}

// flushDescriptorSet binds the slots a set populates, one batched call per
// stage and contiguous slot range. Slots owned by other sets and the push
// constant slot are left untouched.
func (c *commandBuffer) flushDescriptorSet(state *graphics.RecordingState, set uint32) {
	var cbvMask, srvMask, uavMask uint32
	layout := state.Pipeline.SetLayout(set)
	for binding := uint32(0); binding < graphics.MAX_BINDINGS_PER_SET; binding++ {
		b := &state.Bindings[set][binding]
		bit := uint32(1) << binding
		switch b.Type {
		case graphics.BindingTypeBuffer:
			native := nativeBuffer(b.Buffer)
			if layout.StorageBufferMask&bit != 0 {
				c.srv.uavs[binding] = native.uav
				uavMask |= bit
				continue
			}
			if binding >= PUSH_CONSTANT_SLOT {
				core.LogWarn("d3d11: constant buffer binding %d of set %d exceeds the slot limit", binding, set)
				continue
			}
			c.cbv.buffers[binding] = native.handle
			c.cbv.first[binding] = uint32(b.Offset / CONSTANT_BUFFER_CONSTANT_BYTES)
			c.cbv.num[binding] = uint32(math.Align(b.Range, 256) / CONSTANT_BUFFER_CONSTANT_BYTES)
			cbvMask |= bit
		case graphics.BindingTypeImage:
			native := nativeTexture(b.Texture)
			if layout.StorageTextureMask&bit != 0 {
				c.srv.uavs[binding] = native.uav
				uavMask |= bit
				continue
			}
			c.srv.views[binding] = native.srv
			c.srv.samplers[binding] = c.backend.defaultSampler
			srvMask |= bit
		case graphics.BindingTypeTexelBuffer:
			c.srv.views[binding] = nativeBuffer(b.Buffer).srv
			c.srv.samplers[binding] = nil
			srvMask |= bit
		}
	}

	stages := layout.StageMask()
	graphics.ForEachBitRange(cbvMask, func(first, count uint32) {
		c.setConstantBuffers(stages, first, first+count)
	})
	graphics.ForEachBitRange(srvMask, func(first, count uint32) {
		views, samplers := c.srv.views[first:first+count], c.srv.samplers[first:first+count]
		if stages.Has(graphics.ShaderStageVertex) {
			c.ctx.VSSetShaderResources(first, views)
		}
		if stages.Has(graphics.ShaderStageFragment) {
			c.ctx.PSSetShaderResources(first, views)
			c.ctx.PSSetSamplers(first, samplers)
		}
		if stages.Has(graphics.ShaderStageCompute) {
			c.ctx.CSSetShaderResources(first, views)
			c.ctx.CSSetSamplers(first, samplers)
		}
	})
	if stages.Has(graphics.ShaderStageCompute) {
		graphics.ForEachBitRange(uavMask, func(first, count uint32) {
			c.ctx.CSSetUnorderedAccessViews(first, c.srv.uavs[first:first+count])
		})
	}
}

func (c *commandBuffer) setConstantBuffers(stages graphics.ShaderStageFlags, begin, end uint32) {
	buffers, first, num := c.cbv.buffers[begin:end], c.cbv.first[begin:end], c.cbv.num[begin:end]
	// Command list emulation drops the offsets of *SetConstantBuffers1
	// unless the slots are unbound first.
	nulls := nullConstantBuffers[:end-begin]
	if stages.Has(graphics.ShaderStageVertex) {
		if c.needWorkaround {
			c.ctx.VSSetConstantBuffers(begin, nulls)
		}
		c.ctx.VSSetConstantBuffers1(begin, buffers, first, num)
	}
	if stages.Has(graphics.ShaderStageFragment) {
		if c.needWorkaround {
			c.ctx.PSSetConstantBuffers(begin, nulls)
		}
		c.ctx.PSSetConstantBuffers1(begin, buffers, first, num)
	}
	if stages.Has(graphics.ShaderStageCompute) {
		if c.needWorkaround {
			c.ctx.CSSetConstantBuffers(begin, nulls)
		}
		c.ctx.CSSetConstantBuffers1(begin, buffers, first, num)
	}
}

// flushPushConstants emulates push constants with a dynamic constant buffer
// bound to PUSH_CONSTANT_SLOT.
func (c *commandBuffer) flushPushConstants(state *graphics.RecordingState) {
	if !state.Dirty.GetAndClear(graphics.DirtyPushConstants) || state.PushConstantBytes == 0 {
		return
	}
	if c.pushConstants == nil {
		buf, err := c.backend.device.CreateBuffer(&BUFFER_DESC{
			ByteWidth:      pushConstantBufferBytes,
			Usage:          USAGE_DYNAMIC,
			BindFlags:      BIND_CONSTANT_BUFFER,
			CPUAccessFlags: CPU_ACCESS_WRITE,
		}, nil)
		if err != nil {
			core.LogError("d3d11: failed to create push constant buffer: %s", err)
			return
		}
		c.pushConstants = buf
	}

	mapped, err := c.ctx.Map(c.pushConstants, 0, MAP_WRITE_DISCARD)
	if err != nil {
		core.LogError("d3d11: failed to map push constant buffer: %s", err)
		return
	}
	copy(mapped, state.PushConstants[:state.PushConstantBytes])
	c.ctx.Unmap(c.pushConstants, 0)

	buffers := []Buffer{c.pushConstants}
	first := []uint32{0}
	num := []uint32{pushConstantBufferBytes / CONSTANT_BUFFER_CONSTANT_BYTES}
	stages := state.Pipeline.PushConstantStages()
	if stages.Has(graphics.ShaderStageVertex) {
		c.ctx.VSSetConstantBuffers1(PUSH_CONSTANT_SLOT, buffers, first, num)
	}
	if stages.Has(graphics.ShaderStageFragment) {
		c.ctx.PSSetConstantBuffers1(PUSH_CONSTANT_SLOT, buffers, first, num)
	}
	if stages.Has(graphics.ShaderStageCompute) {
		c.ctx.CSSetConstantBuffers1(PUSH_CONSTANT_SLOT, buffers, first, num)
	}
}

func (c *commandBuffer) DrawImpl(state *graphics.RecordingState, topology graphics.PrimitiveTopology, vertexCount, instanceCount, vertexStart, baseInstance uint32) {
	if !c.prepareDraw(state, topology) {
		return
	}
	if instanceCount <= 1 {
		c.ctx.Draw(vertexCount, vertexStart)
	} else {
		c.ctx.DrawInstanced(vertexCount, instanceCount, vertexStart, baseInstance)
	}
}

func (c *commandBuffer) DrawIndexedImpl(state *graphics.RecordingState, topology graphics.PrimitiveTopology, indexCount, instanceCount, startIndex uint32) {
	if !c.prepareDraw(state, topology) {
		return
	}
	if instanceCount <= 1 {
		c.ctx.DrawIndexed(indexCount, startIndex, 0)
	} else {
		c.ctx.DrawIndexedInstanced(indexCount, instanceCount, startIndex, 0, 0)
	}
}

func (c *commandBuffer) DispatchImpl(state *graphics.RecordingState, groupCountX, groupCountY, groupCountZ uint32) {
	if state.Dirty.GetAndClear(graphics.DirtyPipeline) {
		c.ctx.CSSetShader(nativePipeline(state.Pipeline).cs.cs)
	}
	state.FlushDescriptorSets(func(set uint32) {
		c.flushDescriptorSet(state, set)
	})
	c.flushPushConstants(state)
	c.ctx.Dispatch(groupCountX, groupCountY, groupCountZ)
}

// CommitImpl closes a deferred context into a command list and plays it on
// the immediate context. The main command buffer records there directly.
func (c *commandBuffer) CommitImpl(waitForCompletion bool) (uint64, error) {
	if !c.immediate {
		list, err := c.ctx.FinishCommandList(false)
		if err != nil {
			return 0, graphics.NativeError(err, "finishing d3d11 command list")
		}
		c.backend.executeCommandList(list)
	}
	fenceValue := c.backend.submits.Add(1)

	if waitForCompletion {
		c.backend.contextMu.Lock()
		err := c.backend.waitQueryLocked(c.backend.idleQuery)
		c.backend.contextMu.Unlock()
		if err != nil {
			return 0, err
		}
	}
	return fenceValue, nil
}

func (c *commandBuffer) ResetImpl() {
	if !c.immediate {
		// Drop anything recorded since the last commit.
		if list, err := c.ctx.FinishCommandList(false); err == nil {
			list.Release()
		}
	}
	c.resetTracking()
}
