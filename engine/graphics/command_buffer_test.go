package graphics

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireUsagePanic(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		require.NotNil(t, r, "expected a critical usage error")
		err, ok := r.(error)
		require.True(t, ok)
		assert.True(t, errors.Is(err, core.ErrUsage))
	}()
	fn()
}

func TestCommandBufferStateMachine(t *testing.T) {
	cb, native := newTestCommandBuffer(t)
	d := cb.Device()
	target := newRenderTarget(t, d, 320, 240)

	assert.Equal(t, COMMAND_BUFFER_STATE_NONE, cb.State())
	cb.Begin()
	assert.Equal(t, COMMAND_BUFFER_STATE_RECORDING, cb.State())
	assert.Equal(t, 1, native.begins)

	beginPass(t, cb, target)
	assert.Equal(t, COMMAND_BUFFER_STATE_IN_RENDER_PASS, cb.State())
	assert.Equal(t, math.Viewport{Width: 320, Height: 240, MaxDepth: 1}, cb.TrackedState().Viewport)
	assert.Equal(t, math.Rect{Width: 320, Height: 240}, cb.TrackedState().Scissor)
	assert.True(t, cb.TrackedState().Dirty.Has(DirtyDynamicBits))

	cb.EndRenderPass()
	assert.Equal(t, COMMAND_BUFFER_STATE_RECORDING, cb.State())

	fence, err := cb.Commit(false)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), fence)
	assert.Equal(t, COMMAND_BUFFER_STATE_COMMITTED, cb.State())

	requireUsagePanic(t, cb.Begin)

	cb.Reset()
	assert.Equal(t, COMMAND_BUFFER_STATE_NONE, cb.State())
	cb.Begin()
	assert.Equal(t, 2, native.begins)
}

func TestBeginRenderPassTwiceIsCritical(t *testing.T) {
	cb, native := newTestCommandBuffer(t)
	target := newRenderTarget(t, cb.Device(), 64, 64)

	cb.Begin()
	beginPass(t, cb, target)
	requireUsagePanic(t, func() { beginPass(t, cb, target) })
	assert.Equal(t, 1, native.renderPasses, "no nested pass may reach the backend")
}

func TestCommitWithPendingEncoderIsCritical(t *testing.T) {
	cb, native := newTestCommandBuffer(t)
	target := newRenderTarget(t, cb.Device(), 64, 64)

	cb.Begin()
	beginPass(t, cb, target)
	requireUsagePanic(t, func() { _, _ = cb.Commit(true) })
	assert.Zero(t, native.commits, "commit must not reach native submission")
}

func TestCommitPropagatesBackendError(t *testing.T) {
	cb, native := newTestCommandBuffer(t)
	native.commitErr = errors.New("device removed")

	cb.Begin()
	_, err := cb.Commit(true)
	assert.EqualError(t, err, "device removed")
	assert.Equal(t, COMMAND_BUFFER_STATE_COMMITTED, cb.State())
}

func TestRenderPassScopedCallsRequireRenderPass(t *testing.T) {
	cb, _ := newTestCommandBuffer(t)
	p := newGraphicsPipeline(t, cb.Device())

	cb.Begin()
	cb.SetPipeline(p)
	requireUsagePanic(t, func() { cb.Draw(PrimitiveTopologyTriangleList, 3, 1, 0, 0) })
	requireUsagePanic(t, func() { cb.SetViewport(math.Viewport{Width: 1, Height: 1}) })
	requireUsagePanic(t, cb.EndRenderPass)
}

func TestRecordingRequiresBegin(t *testing.T) {
	cb, _ := newTestCommandBuffer(t)
	vb := newVertexBuffer(t, cb.Device(), 16)
	requireUsagePanic(t, func() { cb.SetVertexBuffer(vb, 0, 0, VertexInputRateVertex) })
}

func TestSetVertexBufferDedup(t *testing.T) {
	cb, native := newTestCommandBuffer(t)
	d := cb.Device()
	vb := newVertexBuffer(t, d, 16)
	p := newGraphicsPipeline(t, d)
	rs := cb.TrackedState()

	cb.Begin()
	beginPass(t, cb, newRenderTarget(t, d, 64, 64))
	cb.SetPipeline(p)
	cb.SetVertexBuffer(vb, 0, 0, VertexInputRateVertex)
	assert.Equal(t, uint32(1), rs.DirtyVbos)
	assert.True(t, rs.Dirty.Has(DirtyStaticVertex))

	cb.Draw(PrimitiveTopologyTriangleList, 3, 1, 0, 0)
	assert.Zero(t, rs.DirtyVbos)
	assert.False(t, rs.Dirty.Has(DirtyStaticVertex))

	for i := 0; i < 4; i++ {
		cb.SetVertexBuffer(vb, 0, 0, VertexInputRateVertex)
		assert.Zero(t, rs.DirtyVbos, "unchanged (buffer, offset) must not dirty the slot")
		assert.False(t, rs.Dirty.Has(DirtyStaticVertex))
	}

	cb.SetVertexBuffer(vb, 0, 256, VertexInputRateVertex)
	assert.Equal(t, uint32(1), rs.DirtyVbos, "offset change dirties the slot")
	assert.False(t, rs.Dirty.Has(DirtyStaticVertex), "offset change keeps static vertex state")

	cb.SetVertexBuffer(vb, 0, 256, VertexInputRateInstance)
	assert.True(t, rs.Dirty.Has(DirtyStaticVertex), "input rate change dirties static vertex state")

	wide := newVertexBuffer(t, d, 32)
	cb.Draw(PrimitiveTopologyTriangleList, 3, 1, 0, 0)
	cb.SetVertexBuffer(wide, 0, 256, VertexInputRateInstance)
	assert.True(t, rs.Dirty.Has(DirtyStaticVertex), "stride change dirties static vertex state")
	assert.Len(t, native.draws, 2)
}

func TestDrawIndexedScenario(t *testing.T) {
	cb, native := newTestCommandBuffer(t)
	d := cb.Device()
	vb := newVertexBuffer(t, d, 16)
	ib, err := d.CreateBuffer(&BufferDescriptor{Usage: BufferUsageIndex, Size: 12}, nil)
	require.NoError(t, err)
	p := newGraphicsPipeline(t, d)

	cb.Begin()
	beginPass(t, cb, newRenderTarget(t, d, 64, 64))
	cb.SetPipeline(p)
	cb.SetVertexBuffer(vb, 0, 0, VertexInputRateVertex)
	cb.SetIndexBuffer(ib, 0, IndexTypeUInt16)

	cb.DrawIndexed(PrimitiveTopologyTriangleList, 6, 1, 0)
	require.Len(t, native.draws, 1)
	assert.Equal(t, fakeDraw{indexed: true, topology: PrimitiveTopologyTriangleList, count: 6, instanceCount: 1}, native.draws[0])
	assert.Equal(t, []vboRange{{0, 1}}, native.vboFlushes)
	assert.Equal(t, 1, native.pipelineBinds)

	cb.DrawIndexed(PrimitiveTopologyTriangleList, 6, 1, 0)
	assert.Len(t, native.draws, 2)
	assert.Equal(t, []vboRange{{0, 1}}, native.vboFlushes, "second identical draw must not rebind")
	assert.Equal(t, 1, native.pipelineBinds)
	assert.Equal(t, 1, native.indexBinds)
}

func TestVertexBufferRangesCoalesce(t *testing.T) {
	cb, native := newTestCommandBuffer(t)
	d := cb.Device()

	vs, err := d.CreateShader(&CompiledShader{
		Stage:    ShaderStageVertex,
		Bytecode: []byte{1},
		Inputs: []ShaderInput{
			{Location: 0, Format: VertexFormatFloat3},
			{Location: 1, Format: VertexFormatFloat3},
			{Location: 2, Format: VertexFormatFloat2},
			{Location: 3, Format: VertexFormatFloat4},
		},
	})
	require.NoError(t, err)
	p, err := d.CreatePipeline(&PipelineDescriptor{Vertex: vs})
	require.NoError(t, err)

	format := d.CreateVertexInputFormat(&VertexInputFormatDescriptor{
		Attributes: []VertexAttribute{
			{Format: VertexFormatFloat3, BufferIndex: 0, Location: 0},
			{Format: VertexFormatFloat3, BufferIndex: 1, Location: 1},
			{Format: VertexFormatFloat2, BufferIndex: 2, Location: 2},
			{Format: VertexFormatFloat4, BufferIndex: 5, Location: 3},
		},
	})
	assert.Equal(t, uint32(0b100111), format.BufferMask())

	cb.Begin()
	beginPass(t, cb, newRenderTarget(t, d, 64, 64))
	cb.SetPipeline(p)
	cb.SetVertexInputFormat(format)
	for _, slot := range []uint32{0, 1, 2, 5, 7} {
		cb.SetVertexBuffer(newVertexBuffer(t, d, 12), slot, 0, VertexInputRateVertex)
	}
	cb.Draw(PrimitiveTopologyTriangleList, 3, 1, 0, 0)

	assert.Equal(t, []vboRange{{0, 3}, {5, 1}}, native.vboFlushes)
	assert.Equal(t, uint32(1<<7), cb.TrackedState().DirtyVbos, "slots the pipeline does not read stay dirty")
}

func TestSetUniformBufferDedupAndSetMask(t *testing.T) {
	cb, native := newTestCommandBuffer(t)
	d := cb.Device()
	p := newGraphicsPipeline(t, d)
	ubo := newUniformBuffer(t, d, 256)
	other := newUniformBuffer(t, d, 256)
	rs := cb.TrackedState()

	cb.Begin()
	beginPass(t, cb, newRenderTarget(t, d, 64, 64))
	cb.SetPipeline(p)
	cb.SetUniformBuffer(0, 0, ubo)
	cb.SetUniformBuffer(1, 0, other)
	cb.SetUniformBuffer(2, 3, other)
	assert.Equal(t, uint32(0b111), rs.DirtySets)

	cb.Draw(PrimitiveTopologyTriangleList, 3, 1, 0, 0)
	assert.Equal(t, []uint32{0, 1}, native.setFlushes)
	assert.Equal(t, uint32(0b100), rs.DirtySets, "set 2 is not read by the pipeline")

	cb.SetUniformBuffer(0, 0, ubo)
	assert.Equal(t, uint32(0b100), rs.DirtySets, "rebinding the same range is deduplicated")

	cb.BindBuffer(0, 0, ubo, 0, 128)
	assert.Equal(t, uint32(0b101), rs.DirtySets, "a different range dirties the set")

	binding := rs.Bindings[0][0]
	assert.Equal(t, BindingTypeBuffer, binding.Type)
	assert.Equal(t, uint64(128), binding.Range)
}

func TestUniformBufferRequiresUniformUsage(t *testing.T) {
	cb, _ := newTestCommandBuffer(t)
	vb := newVertexBuffer(t, cb.Device(), 16)
	cb.Begin()
	requireUsagePanic(t, func() { cb.SetUniformBuffer(0, 0, vb) })
	ubo := newUniformBuffer(t, cb.Device(), 64)
	requireUsagePanic(t, func() { cb.SetUniformBuffer(MAX_DESCRIPTOR_SETS, 0, ubo) })
	requireUsagePanic(t, func() { cb.SetUniformBuffer(0, MAX_BINDINGS_PER_SET, ubo) })
}

func TestBindTextureDedup(t *testing.T) {
	cb, _ := newTestCommandBuffer(t)
	d := cb.Device()
	tex := newRenderTarget(t, d, 16, 16)
	rs := cb.TrackedState()

	cb.Begin()
	cb.BindTexture(0, 1, tex)
	assert.Equal(t, uint32(1), rs.DirtySets)
	rs.DirtySets = 0
	cb.BindTexture(0, 1, tex)
	assert.Zero(t, rs.DirtySets)
	assert.Equal(t, BindingTypeImage, rs.Bindings[0][1].Type)
}

func TestDispatchHelpers(t *testing.T) {
	cb, native := newTestCommandBuffer(t)
	d := cb.Device()
	cs, err := d.CreateShader(&CompiledShader{Stage: ShaderStageCompute, Bytecode: []byte{1}, WorkgroupSize: [3]uint32{64, 1, 1}})
	require.NoError(t, err)
	p, err := d.CreatePipeline(&PipelineDescriptor{Compute: cs})
	require.NoError(t, err)

	cb.Begin()
	cb.SetPipeline(p)
	cb.Dispatch1D(100, 64)
	cb.Dispatch2D(17, 8, 8, 8)
	cb.Dispatch3D(4, 4, 4, 2, 2, 2)
	assert.Equal(t, [][3]uint32{{2, 1, 1}, {3, 1, 1}, {2, 2, 2}}, native.dispatches)
}

func TestPushConstants(t *testing.T) {
	cb, _ := newTestCommandBuffer(t)
	cb.Begin()
	cb.PushConstants(4, []byte{1, 2, 3, 4})
	rs := cb.TrackedState()
	assert.Equal(t, uint32(8), rs.PushConstantBytes)
	assert.Equal(t, []byte{0, 0, 0, 0, 1, 2, 3, 4}, rs.PushConstants[:8])
	assert.True(t, rs.Dirty.Has(DirtyPushConstants))
	requireUsagePanic(t, func() { cb.PushConstants(MAX_PUSH_CONSTANT_SIZE-2, []byte{1, 2, 3}) })
}

func TestResetClearsBindings(t *testing.T) {
	cb, native := newTestCommandBuffer(t)
	d := cb.Device()
	cb.Begin()
	cb.SetVertexBuffer(newVertexBuffer(t, d, 16), 3, 0, VertexInputRateVertex)
	cb.Reset()

	rs := cb.TrackedState()
	assert.Zero(t, rs.DirtyVbos)
	assert.Nil(t, rs.Vbo[3].Buffer)
	assert.Equal(t, 1, native.resets)
}
