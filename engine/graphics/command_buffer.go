package graphics

import (
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
)

type CommandBufferState uint8

const (
	COMMAND_BUFFER_STATE_NONE CommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_COMMITTED
)

func (s CommandBufferState) String() string {
	switch s {
	case COMMAND_BUFFER_STATE_NONE:
		return "none"
	case COMMAND_BUFFER_STATE_RECORDING:
		return "recording"
	case COMMAND_BUFFER_STATE_IN_RENDER_PASS:
		return "in_render_pass"
	case COMMAND_BUFFER_STATE_COMMITTED:
		return "committed"
	}
	return "unknown"
}

// CommandBufferBackend translates recorded commands into one native API. The
// backend is chosen when the command buffer is created and never changes.
type CommandBufferBackend interface {
	NativeResource

	BeginImpl()
	BeginRenderPassImpl(state *RecordingState, desc *RenderPassDescriptor)
	EndRenderPassImpl(state *RecordingState)
	SetIndexBufferImpl(buffer *Buffer, offset uint64, indexType IndexType)
	DrawImpl(state *RecordingState, topology PrimitiveTopology, vertexCount, instanceCount, vertexStart, baseInstance uint32)
	DrawIndexedImpl(state *RecordingState, topology PrimitiveTopology, indexCount, instanceCount, startIndex uint32)
	DispatchImpl(state *RecordingState, groupCountX, groupCountY, groupCountZ uint32)
	// CommitImpl submits the recorded work and returns the fence value that
	// signals its completion.
	CommitImpl(waitForCompletion bool) (uint64, error)
	ResetImpl()
}

type BindingType uint8

const (
	BindingTypeNone BindingType = iota
	BindingTypeBuffer
	BindingTypeImage
	BindingTypeTexelBuffer
)

// ResourceBinding is one descriptor slot. Type selects which fields are live.
type ResourceBinding struct {
	Type    BindingType
	Buffer  *Buffer
	Offset  uint64
	Range   uint64
	Texture *Texture
	Format  PixelFormat
}

type VertexBinding struct {
	Buffer    *Buffer
	Offset    uint64
	Stride    uint32
	InputRate VertexInputRate
}

// RecordingState is the tracked state shared with the backend during
// PrepareDraw. Backends clear the dirty bits they flush.
type RecordingState struct {
	Dirty     DirtyFlags
	DirtyVbos uint32
	DirtySets uint32

	Vbo      [MAX_VERTEX_BUFFER_BINDINGS]VertexBinding
	Bindings [MAX_DESCRIPTOR_SETS][MAX_BINDINGS_PER_SET]ResourceBinding

	PushConstants     [MAX_PUSH_CONSTANT_SIZE]byte
	PushConstantBytes uint32

	Pipeline     *Pipeline
	VertexFormat *VertexInputFormat
	Viewport     math.Viewport
	Scissor      math.Rect
	RenderPass   *RenderPassDescriptor
}

func (s *RecordingState) reset() {
	*s = RecordingState{}
}

// ActiveVertexBufferMask is the set of vertex buffer slots the bound pipeline
// reads through the bound vertex input format. Without a format the shader
// inputs are packed into slot 0.
func (s *RecordingState) ActiveVertexBufferMask() uint32 {
	if s.Pipeline == nil {
		return 0
	}
	attributes := s.Pipeline.VertexAttributeMask()
	if attributes == 0 {
		return 0
	}
	if s.VertexFormat == nil {
		return 1
	}
	var mask uint32
	for _, attr := range s.VertexFormat.Attributes() {
		if attributes&(1<<attr.Location) != 0 {
			mask |= 1 << attr.BufferIndex
		}
	}
	return mask
}

// FlushVertexBuffers calls fn once per contiguous run of dirty slots that the
// pipeline consumes and clears them. Slots outside the mask stay dirty.
func (s *RecordingState) FlushVertexBuffers(fn func(first, count uint32)) {
	update := s.DirtyVbos & s.ActiveVertexBufferMask()
	ForEachBitRange(update, fn)
	s.DirtyVbos &^= update
}

// FlushDescriptorSets calls fn for every dirty set the pipeline reads and
// clears them.
func (s *RecordingState) FlushDescriptorSets(fn func(set uint32)) {
	if s.Pipeline == nil {
		return
	}
	update := s.DirtySets & s.Pipeline.DescriptorSetMask()
	ForEachBit(update, fn)
	s.DirtySets &^= update
}

type CommandBuffer struct {
	resourceBase
	impl              CommandBufferBackend
	state             CommandBufferState
	hasPendingEncoder bool
	secondary         bool
	lastFenceValue    uint64
	rs                RecordingState
}

func (cb *CommandBuffer) State() CommandBufferState {
	return cb.state
}

// Backend returns the native translation engine of this command buffer.
func (cb *CommandBuffer) Backend() CommandBufferBackend {
	return cb.impl
}

func (cb *CommandBuffer) IsSecondary() bool {
	return cb.secondary
}

// RecordingState exposes the tracked state, mostly for inspection in tests.
func (cb *CommandBuffer) TrackedState() *RecordingState {
	return &cb.rs
}

// LastFenceValue is the fence value returned by the last Commit.
func (cb *CommandBuffer) LastFenceValue() uint64 {
	return cb.lastFenceValue
}

func (cb *CommandBuffer) assertRecording() {
	core.Assert(cb.state == COMMAND_BUFFER_STATE_RECORDING || cb.state == COMMAND_BUFFER_STATE_IN_RENDER_PASS,
		"command buffer %q is not recording (state %s)", cb.label, cb.state)
}

func (cb *CommandBuffer) assertInRenderPass() {
	core.Assert(cb.state == COMMAND_BUFFER_STATE_IN_RENDER_PASS,
		"command buffer %q is not inside a render pass (state %s)", cb.label, cb.state)
}

func (cb *CommandBuffer) Begin() {
	core.Assert(cb.state == COMMAND_BUFFER_STATE_NONE,
		"command buffer %q must be reset before recording again (state %s)", cb.label, cb.state)
	cb.rs.reset()
	cb.impl.BeginImpl()
	cb.state = COMMAND_BUFFER_STATE_RECORDING
}

func (cb *CommandBuffer) BeginRenderPass(desc *RenderPassDescriptor) {
	if cb.state == COMMAND_BUFFER_STATE_IN_RENDER_PASS || cb.hasPendingEncoder {
		core.LogCritical("cannot begin render pass %q while another render pass is active", desc.Label)
	}
	core.Assert(cb.state == COMMAND_BUFFER_STATE_RECORDING,
		"command buffer %q must be recording to begin a render pass (state %s)", cb.label, cb.state)

	count := desc.ColorAttachmentCount()
	core.Assert(count > 0 || desc.HasDepthStencil(), "render pass %q has no attachments", desc.Label)
	for i := uint32(0); i < count; i++ {
		core.Assert(desc.ColorAttachments[i].Texture.Descriptor().Usage&TextureUsageRenderTarget != 0,
			"color attachment %d of render pass %q is not a render target", i, desc.Label)
	}

	width, height := desc.RenderArea()
	cb.rs.RenderPass = desc
	cb.rs.Viewport = math.Viewport{Width: float32(width), Height: float32(height), MinDepth: 0, MaxDepth: 1}
	cb.rs.Scissor = math.Rect{Width: width, Height: height}
	cb.rs.Dirty.Set(DirtyDynamicBits)

	cb.impl.BeginRenderPassImpl(&cb.rs, desc)
	cb.hasPendingEncoder = true
	cb.state = COMMAND_BUFFER_STATE_IN_RENDER_PASS
}

func (cb *CommandBuffer) EndRenderPass() {
	cb.assertInRenderPass()
	cb.impl.EndRenderPassImpl(&cb.rs)
	cb.rs.RenderPass = nil
	cb.hasPendingEncoder = false
	cb.state = COMMAND_BUFFER_STATE_RECORDING
}

func (cb *CommandBuffer) SetViewport(viewport math.Viewport) {
	cb.assertInRenderPass()
	if cb.rs.Viewport != viewport {
		cb.rs.Viewport = viewport
		cb.rs.Dirty.Set(DirtyViewport)
	}
}

func (cb *CommandBuffer) SetScissor(scissor math.Rect) {
	cb.assertInRenderPass()
	if cb.rs.Scissor != scissor {
		cb.rs.Scissor = scissor
		cb.rs.Dirty.Set(DirtyScissor)
	}
}

func (cb *CommandBuffer) SetPipeline(pipeline *Pipeline) {
	cb.assertRecording()
	core.Assert(pipeline != nil, "pipeline cannot be nil")
	if cb.rs.Pipeline != pipeline {
		cb.rs.Pipeline = pipeline
		cb.rs.Dirty.Set(DirtyPipeline)
	}
}

func (cb *CommandBuffer) SetVertexInputFormat(format *VertexInputFormat) {
	cb.assertRecording()
	if cb.rs.VertexFormat != format {
		cb.rs.VertexFormat = format
		cb.rs.Dirty.Set(DirtyStaticVertex)
	}
}

func (cb *CommandBuffer) SetVertexBuffer(buffer *Buffer, binding uint32, offset uint64, inputRate VertexInputRate) {
	cb.assertRecording()
	core.Assert(buffer != nil, "vertex buffer cannot be nil")
	core.Assert(binding < MAX_VERTEX_BUFFER_BINDINGS, "vertex buffer binding %d out of range", binding)
	core.Assert(buffer.Usage()&BufferUsageVertex != 0, "buffer %q lacks vertex usage", buffer.Label())

	vbo := &cb.rs.Vbo[binding]
	if vbo.Buffer != buffer || vbo.Offset != offset {
		cb.rs.DirtyVbos |= 1 << binding
	}

	stride := buffer.Stride()
	if vbo.Stride != stride || vbo.InputRate != inputRate {
		cb.rs.Dirty.Set(DirtyStaticVertex)
	}

	vbo.Buffer = buffer
	vbo.Offset = offset
	vbo.Stride = stride
	vbo.InputRate = inputRate
}

func (cb *CommandBuffer) SetIndexBuffer(buffer *Buffer, offset uint64, indexType IndexType) {
	cb.assertRecording()
	core.Assert(buffer != nil, "index buffer cannot be nil")
	core.Assert(buffer.Usage()&BufferUsageIndex != 0, "buffer %q lacks index usage", buffer.Label())
	cb.impl.SetIndexBufferImpl(buffer, offset, indexType)
}

func (cb *CommandBuffer) assertSlot(set, binding uint32) {
	core.Assert(set < MAX_DESCRIPTOR_SETS, "descriptor set %d out of range", set)
	core.Assert(binding < MAX_BINDINGS_PER_SET, "binding %d out of range", binding)
}

// SetUniformBuffer binds the whole buffer to a uniform slot.
func (cb *CommandBuffer) SetUniformBuffer(set, binding uint32, buffer *Buffer) {
	core.Assert(buffer != nil, "uniform buffer cannot be nil")
	core.Assert(buffer.Usage()&BufferUsageUniform != 0, "buffer %q lacks uniform usage", buffer.Label())
	cb.BindBuffer(set, binding, buffer, 0, buffer.Size())
}

func (cb *CommandBuffer) BindBuffer(set, binding uint32, buffer *Buffer, offset, size uint64) {
	cb.assertRecording()
	cb.assertSlot(set, binding)
	core.Assert(buffer != nil, "buffer cannot be nil")
	if size == WHOLE_SIZE {
		size = buffer.Size() - offset
	}
	core.Assert(offset+size <= buffer.Size(), "binding range exceeds buffer %q", buffer.Label())

	b := &cb.rs.Bindings[set][binding]
	if b.Type == BindingTypeBuffer && b.Buffer == buffer && b.Offset == offset && b.Range == size {
		return
	}
	*b = ResourceBinding{Type: BindingTypeBuffer, Buffer: buffer, Offset: offset, Range: size}
	cb.rs.DirtySets |= 1 << set
}

func (cb *CommandBuffer) BindTexture(set, binding uint32, texture *Texture) {
	cb.assertRecording()
	cb.assertSlot(set, binding)
	core.Assert(texture != nil, "texture cannot be nil")
	core.Assert(texture.Descriptor().Usage&(TextureUsageShaderRead|TextureUsageShaderWrite) != 0,
		"texture %q is not shader visible", texture.Label())

	b := &cb.rs.Bindings[set][binding]
	if b.Type == BindingTypeImage && b.Texture == texture {
		return
	}
	*b = ResourceBinding{Type: BindingTypeImage, Texture: texture}
	cb.rs.DirtySets |= 1 << set
}

func (cb *CommandBuffer) BindTexelBuffer(set, binding uint32, buffer *Buffer, format PixelFormat) {
	cb.assertRecording()
	cb.assertSlot(set, binding)
	core.Assert(buffer != nil, "texel buffer cannot be nil")

	b := &cb.rs.Bindings[set][binding]
	if b.Type == BindingTypeTexelBuffer && b.Buffer == buffer && b.Format == format {
		return
	}
	*b = ResourceBinding{Type: BindingTypeTexelBuffer, Buffer: buffer, Range: buffer.Size(), Format: format}
	cb.rs.DirtySets |= 1 << set
}

func (cb *CommandBuffer) PushConstants(offset uint32, data []byte) {
	cb.assertRecording()
	end := offset + uint32(len(data))
	core.Assert(end <= MAX_PUSH_CONSTANT_SIZE, "push constant range [%d, %d) exceeds %d bytes", offset, end, MAX_PUSH_CONSTANT_SIZE)
	copy(cb.rs.PushConstants[offset:end], data)
	cb.rs.PushConstantBytes = max(cb.rs.PushConstantBytes, end)
	cb.rs.Dirty.Set(DirtyPushConstants)
}

func (cb *CommandBuffer) assertGraphicsPipeline() {
	core.Assert(cb.rs.Pipeline != nil, "no pipeline bound for draw")
	core.Assert(!cb.rs.Pipeline.IsCompute(), "compute pipeline %q bound for draw", cb.rs.Pipeline.Label())
}

func (cb *CommandBuffer) Draw(topology PrimitiveTopology, vertexCount, instanceCount, vertexStart, baseInstance uint32) {
	cb.assertInRenderPass()
	cb.assertGraphicsPipeline()
	core.Assert(topology < PrimitiveTopologyCount, "invalid primitive topology %d", topology)
	if vertexCount == 0 || instanceCount == 0 {
		return
	}
	cb.impl.DrawImpl(&cb.rs, topology, vertexCount, instanceCount, vertexStart, baseInstance)
}

func (cb *CommandBuffer) DrawIndexed(topology PrimitiveTopology, indexCount, instanceCount, startIndex uint32) {
	cb.assertInRenderPass()
	cb.assertGraphicsPipeline()
	core.Assert(topology < PrimitiveTopologyCount, "invalid primitive topology %d", topology)
	if indexCount == 0 || instanceCount == 0 {
		return
	}
	cb.impl.DrawIndexedImpl(&cb.rs, topology, indexCount, instanceCount, startIndex)
}

func (cb *CommandBuffer) Dispatch(groupCountX, groupCountY, groupCountZ uint32) {
	core.Assert(cb.state == COMMAND_BUFFER_STATE_RECORDING,
		"dispatch must be recorded outside of a render pass (state %s)", cb.state)
	core.Assert(cb.rs.Pipeline != nil && cb.rs.Pipeline.IsCompute(), "no compute pipeline bound for dispatch")
	cb.impl.DispatchImpl(&cb.rs, groupCountX, groupCountY, groupCountZ)
}

func (cb *CommandBuffer) Dispatch1D(threadCountX, groupSizeX uint32) {
	cb.Dispatch(math.DivideRoundUp(threadCountX, groupSizeX), 1, 1)
}

func (cb *CommandBuffer) Dispatch2D(threadCountX, threadCountY, groupSizeX, groupSizeY uint32) {
	cb.Dispatch(
		math.DivideRoundUp(threadCountX, groupSizeX),
		math.DivideRoundUp(threadCountY, groupSizeY),
		1)
}

func (cb *CommandBuffer) Dispatch3D(threadCountX, threadCountY, threadCountZ, groupSizeX, groupSizeY, groupSizeZ uint32) {
	cb.Dispatch(
		math.DivideRoundUp(threadCountX, groupSizeX),
		math.DivideRoundUp(threadCountY, groupSizeY),
		math.DivideRoundUp(threadCountZ, groupSizeZ))
}

// Commit submits the recorded work. With waitForCompletion it blocks until
// the GPU finished it. The returned value is the fence value of the
// submission.
func (cb *CommandBuffer) Commit(waitForCompletion bool) (uint64, error) {
	if cb.hasPendingEncoder {
		core.LogCritical("cannot commit command buffer %q with a pending render pass encoder", cb.label)
	}
	core.Assert(cb.state == COMMAND_BUFFER_STATE_RECORDING,
		"command buffer %q cannot be committed from state %s", cb.label, cb.state)

	fenceValue, err := cb.impl.CommitImpl(waitForCompletion)
	cb.state = COMMAND_BUFFER_STATE_COMMITTED
	if err != nil {
		return 0, err
	}
	cb.lastFenceValue = fenceValue
	return fenceValue, nil
}

// Reset returns the command buffer to the initial state so it can record again.
func (cb *CommandBuffer) Reset() {
	cb.impl.ResetImpl()
	cb.rs.reset()
	cb.hasPendingEncoder = false
	cb.state = COMMAND_BUFFER_STATE_NONE
}
