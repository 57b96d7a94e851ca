package empty

import (
	"testing"

	"github.com/spaghettifunk/prism/engine/graphics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyDeviceFrame(t *testing.T) {
	d, err := graphics.Create(graphics.BackendEmpty, false)
	require.NoError(t, err)
	require.NoError(t, d.Initialize(&graphics.DeviceSettings{Width: 320, Height: 200, FramesInFlight: 3}))
	defer d.Destroy()

	impl := d.Impl().(*Device)
	require.Len(t, impl.SwapchainImages(), 3)

	vb, err := d.CreateBuffer(&graphics.BufferDescriptor{Usage: graphics.BufferUsageVertex, Size: 48, Stride: 16}, []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, vb.Native().(*buffer).Bytes()[:3])
	require.NoError(t, vb.SetSubData(16, []byte{7}))
	assert.Equal(t, byte(7), vb.Native().(*buffer).Bytes()[16])

	vs, err := d.CreateShader(&graphics.CompiledShader{
		Stage:    graphics.ShaderStageVertex,
		Bytecode: []byte{0},
		Inputs:   []graphics.ShaderInput{{Location: 0, Format: graphics.VertexFormatFloat4}},
	})
	require.NoError(t, err)
	p, err := d.CreatePipeline(&graphics.PipelineDescriptor{Vertex: vs})
	require.NoError(t, err)

	for frame := 0; frame < 4; frame++ {
		require.NoError(t, d.BeginFrame())
		cb := d.MainCommandBuffer()
		desc := &graphics.RenderPassDescriptor{}
		desc.ColorAttachments[0].Texture = d.CurrentBackbuffer()
		cb.BeginRenderPass(desc)
		cb.SetPipeline(p)
		cb.SetVertexBuffer(vb, 0, 0, graphics.VertexInputRateVertex)
		cb.Draw(graphics.PrimitiveTopologyTriangleList, 3, 1, 0, 0)

		rs := cb.TrackedState()
		assert.Zero(t, rs.DirtyVbos)
		assert.Zero(t, rs.Dirty)
		cb.EndRenderPass()
		require.NoError(t, d.EndFrame())
	}

	assert.Equal(t, uint64(4), impl.Stats().Draws.Load())
	assert.Equal(t, uint64(4), impl.Stats().Submits.Load())
	assert.Equal(t, uint64(4), d.CompletedFrame())
	assert.Equal(t, uint64(4), d.MainCommandBuffer().LastFenceValue())
}
