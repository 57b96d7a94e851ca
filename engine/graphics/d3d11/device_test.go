package d3d11

import (
	"testing"

	"github.com/spaghettifunk/prism/engine/graphics"
	"github.com/spaghettifunk/prism/engine/graphics/dxgi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDevice(t *testing.T, native *fakeDevice) *graphics.Device {
	t.Helper()
	prev := NewNativeDevice
	NewNativeDevice = func(bool) (Device, error) { return native, nil }
	t.Cleanup(func() { NewNativeDevice = prev })

	d, err := graphics.Create(graphics.BackendD3D11, false)
	require.NoError(t, err)
	require.Equal(t, graphics.BackendD3D11, d.Backend())
	require.NoError(t, d.Initialize(&graphics.DeviceSettings{Width: 64, Height: 64}))
	t.Cleanup(d.Destroy)
	return d
}

type drawFixture struct {
	vs       *graphics.Shader
	pipeline *graphics.Pipeline
	vbo      *graphics.Buffer
	ubo      *graphics.Buffer
}

func newDrawFixture(t *testing.T, d *graphics.Device, pushConstantSize uint32) *drawFixture {
	t.Helper()
	vs, err := d.CreateShader(&graphics.CompiledShader{
		Stage:    graphics.ShaderStageVertex,
		Bytecode: []byte{0x44, 0x58, 0x42, 0x43},
		Inputs: []graphics.ShaderInput{
			{Name: "uv", Location: 1, Format: graphics.VertexFormatFloat2},
			{Name: "position", Location: 0, Format: graphics.VertexFormatFloat3},
		},
		PushConstantSize: pushConstantSize,
		Label:            "mesh.vs",
	})
	require.NoError(t, err)
	ps, err := d.CreateShader(&graphics.CompiledShader{
		Stage:     graphics.ShaderStageFragment,
		Bytecode:  []byte{0x44, 0x58, 0x42, 0x43},
		Resources: []graphics.ShaderResource{{Name: "material", Set: 0, Binding: 1, Kind: graphics.ShaderResourceUniformBuffer, Size: 64}},
		Label:     "mesh.ps",
	})
	require.NoError(t, err)
	p, err := d.CreatePipeline(&graphics.PipelineDescriptor{Vertex: vs, Fragment: ps, Label: "mesh"})
	require.NoError(t, err)

	vbo, err := d.CreateBuffer(&graphics.BufferDescriptor{Usage: graphics.BufferUsageVertex, Size: 60, Stride: 20, Label: "quad"}, nil)
	require.NoError(t, err)
	ubo, err := d.CreateBuffer(&graphics.BufferDescriptor{Usage: graphics.BufferUsageUniform, Size: 64, Label: "material"}, nil)
	require.NoError(t, err)
	return &drawFixture{vs: vs, pipeline: p, vbo: vbo, ubo: ubo}
}

func beginBackbufferPass(d *graphics.Device) *graphics.CommandBuffer {
	cb := d.MainCommandBuffer()
	desc := &graphics.RenderPassDescriptor{Label: "main"}
	desc.ColorAttachments[0] = graphics.RenderPassColorAttachment{
		Texture:    d.CurrentBackbuffer(),
		LoadAction: graphics.LoadActionClear,
	}
	cb.BeginRenderPass(desc)
	return cb
}

func TestDrawFlushesOnlyDirtyState(t *testing.T) {
	native := newFakeDevice()
	d := newTestDevice(t, native)
	fx := newDrawFixture(t, d, 0)

	require.NoError(t, d.BeginFrame())
	cb := beginBackbufferPass(d)
	cb.SetPipeline(fx.pipeline)
	cb.SetVertexBuffer(fx.vbo, 0, 0, graphics.VertexInputRateVertex)
	cb.SetUniformBuffer(0, 1, fx.ubo)
	cb.Draw(graphics.PrimitiveTopologyTriangleList, 3, 1, 0, 0)
	cb.Draw(graphics.PrimitiveTopologyTriangleList, 3, 1, 3, 0)
	cb.Draw(graphics.PrimitiveTopologyTriangleList, 3, 4, 0, 0)
	cb.EndRenderPass()
	require.NoError(t, d.EndFrame())

	ctx := native.immediate
	assert.Equal(t, 1, ctx.clears)
	assert.Equal(t, 1, ctx.count("VSSetShader"))
	assert.Equal(t, 1, ctx.count("IASetVertexBuffers"))
	assert.Equal(t, 1, ctx.count("IASetInputLayout"))
	assert.Equal(t, 1, ctx.count("RSSetViewports"))
	assert.Equal(t, 1, ctx.count("RSSetScissorRects"))
	assert.Equal(t, []uint32{PRIMITIVE_TOPOLOGY_TRIANGLELIST}, ctx.topologies)
	assert.Equal(t, 2, ctx.count("Draw"))
	assert.Equal(t, 1, ctx.count("DrawInstanced"))

	// The implicit layout follows location order, not reflection order.
	require.Equal(t, 1, native.inputLayouts)
	require.Len(t, native.lastElements, 2)
	assert.Equal(t, INPUT_ELEMENT_DESC{
		SemanticName: "TEXCOORD", SemanticIndex: 0, Format: dxgi.FORMAT_R32G32B32_FLOAT,
	}, native.lastElements[0])
	assert.Equal(t, uint32(1), native.lastElements[1].SemanticIndex)
	assert.Equal(t, uint32(12), native.lastElements[1].AlignedByteOffset)
	assert.Equal(t, uint32(dxgi.FORMAT_R32G32_FLOAT), native.lastElements[1].Format)

	// One call for the fragment stage covering only the populated slot.
	require.Len(t, ctx.cbCalls, 1)
	call := ctx.cbCalls[0]
	assert.Equal(t, "PS", call.stage)
	assert.Equal(t, uint32(1), call.startSlot)
	assert.Equal(t, 1, call.count)
	assert.Equal(t, uint32(0), call.first[0])
	assert.Equal(t, uint32(256/CONSTANT_BUFFER_CONSTANT_BYTES), call.num[0])
}

func TestFramebufferCacheAcrossFrames(t *testing.T) {
	native := newFakeDevice()
	d := newTestDevice(t, native)

	for frame := 0; frame < 3; frame++ {
		require.NoError(t, d.BeginFrame())
		cb := beginBackbufferPass(d)
		cb.EndRenderPass()
		require.NoError(t, d.EndFrame())
	}

	assert.Equal(t, 1, native.renderTargetViews)
	hits, misses, evictions := d.Impl().(*Backend).framebuffers.Stats()
	assert.Equal(t, uint64(2), hits)
	assert.Equal(t, uint64(1), misses)
	assert.Zero(t, evictions)
	assert.Equal(t, 3, native.immediate.clears)
}

func TestFrameFencing(t *testing.T) {
	native := newFakeDevice()
	d := newTestDevice(t, native)

	for frame := 0; frame < 4; frame++ {
		require.NoError(t, d.BeginFrame())
		require.NoError(t, d.EndFrame())
	}

	// Two frames in flight: frame 4 waited for frame 2.
	assert.Equal(t, uint64(2), d.CompletedFrame())
	assert.Equal(t, uint64(4), d.MainCommandBuffer().LastFenceValue())
	assert.Equal(t, 4, native.immediate.count("End"))

	require.NoError(t, d.WaitIdle())
	assert.Equal(t, uint64(4), d.CompletedFrame())
}

func TestInputLayoutFailureSkipsDraw(t *testing.T) {
	native := newFakeDevice()
	d := newTestDevice(t, native)
	fx := newDrawFixture(t, d, 0)

	require.NoError(t, d.BeginFrame())
	cb := beginBackbufferPass(d)
	cb.SetPipeline(fx.pipeline)
	cb.SetVertexBuffer(fx.vbo, 0, 0, graphics.VertexInputRateVertex)

	native.failInputLayout = true
	cb.Draw(graphics.PrimitiveTopologyTriangleList, 3, 1, 0, 0)
	assert.Zero(t, native.immediate.count("Draw"))

	native.failInputLayout = false
	cb.Draw(graphics.PrimitiveTopologyTriangleList, 3, 1, 0, 0)
	assert.Equal(t, 1, native.immediate.count("Draw"))
	assert.Equal(t, 1, native.inputLayouts)

	cb.EndRenderPass()
	require.NoError(t, d.EndFrame())
}

func TestPushConstantsUseReservedSlot(t *testing.T) {
	native := newFakeDevice()
	d := newTestDevice(t, native)
	fx := newDrawFixture(t, d, 16)

	data := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	require.NoError(t, d.BeginFrame())
	cb := beginBackbufferPass(d)
	cb.SetPipeline(fx.pipeline)
	cb.SetVertexBuffer(fx.vbo, 0, 0, graphics.VertexInputRateVertex)
	cb.PushConstants(0, data)
	cb.Draw(graphics.PrimitiveTopologyTriangleList, 3, 1, 0, 0)
	cb.EndRenderPass()
	require.NoError(t, d.EndFrame())

	var pushCalls []cbCall
	for _, call := range native.immediate.cbCalls {
		if call.startSlot == PUSH_CONSTANT_SLOT {
			pushCalls = append(pushCalls, call)
		}
	}
	require.Len(t, pushCalls, 1)
	assert.Equal(t, "VS", pushCalls[0].stage)
	assert.Equal(t, []uint32{pushConstantBufferBytes / CONSTANT_BUFFER_CONSTANT_BYTES}, pushCalls[0].num)

	require.NotEmpty(t, native.constantBufferDesc)
	desc := native.constantBufferDesc[len(native.constantBufferDesc)-1]
	assert.Equal(t, uint32(USAGE_DYNAMIC), desc.Usage)
	assert.Equal(t, uint32(pushConstantBufferBytes), desc.ByteWidth)

	pushBuffer := cb.Backend().(*commandBuffer).pushConstants.(*fakeBuffer)
	assert.Equal(t, data, pushBuffer.data[:16])
}

func TestDeferredCommandBufferSubmit(t *testing.T) {
	native := newFakeDevice()
	d := newTestDevice(t, native)

	cs, err := d.CreateShader(&graphics.CompiledShader{
		Stage:    graphics.ShaderStageCompute,
		Bytecode: []byte{0x44, 0x58, 0x42, 0x43},
		Resources: []graphics.ShaderResource{
			{Name: "particles", Set: 0, Binding: 0, Kind: graphics.ShaderResourceStorageBuffer},
			{Name: "params", Set: 0, Binding: 2, Kind: graphics.ShaderResourceUniformBuffer, Size: 16},
		},
		WorkgroupSize: [3]uint32{64, 1, 1},
		Label:         "simulate",
	})
	require.NoError(t, err)
	p, err := d.CreatePipeline(&graphics.PipelineDescriptor{Compute: cs, Label: "simulate"})
	require.NoError(t, err)
	particles, err := d.CreateBuffer(&graphics.BufferDescriptor{Usage: graphics.BufferUsageStorage, Size: 1024}, nil)
	require.NoError(t, err)
	params, err := d.CreateBuffer(&graphics.BufferDescriptor{Usage: graphics.BufferUsageUniform, Size: 16}, nil)
	require.NoError(t, err)

	cb, err := d.CreateCommandBuffer("worker")
	require.NoError(t, err)
	require.Len(t, native.deferred, 1)

	cb.Begin()
	cb.SetPipeline(p)
	cb.BindBuffer(0, 0, particles, 0, graphics.WHOLE_SIZE)
	cb.SetUniformBuffer(0, 2, params)
	cb.Dispatch1D(256, 64)
	require.NoError(t, d.Submit(cb))

	deferred := native.deferred[0]
	assert.Equal(t, 1, deferred.count("CSSetShader"))
	assert.Equal(t, 1, deferred.count("Dispatch"))
	assert.Equal(t, 1, deferred.uavCount)
	require.Len(t, deferred.cbCalls, 1)
	assert.Equal(t, "CS", deferred.cbCalls[0].stage)
	assert.Equal(t, uint32(2), deferred.cbCalls[0].startSlot)
	assert.Equal(t, 1, deferred.cbCalls[0].count)

	// Emulated command lists need the constant buffer slots cleared first.
	assert.Equal(t, 1, deferred.count("CSSetConstantBuffers"))
	assert.Zero(t, deferred.count("VSSetConstantBuffers"))
	assert.Equal(t, 1, deferred.finished)
	assert.Equal(t, 1, native.immediate.executed)
	assert.Equal(t, uint64(1), cb.LastFenceValue())
	assert.Equal(t, graphics.COMMAND_BUFFER_STATE_COMMITTED, cb.State())
}

func TestDriverCommandListsSkipWorkaround(t *testing.T) {
	native := newFakeDevice()
	native.driverCommandLists = true
	d := newTestDevice(t, native)

	cb, err := d.CreateCommandBuffer("worker")
	require.NoError(t, err)
	assert.False(t, cb.Backend().(*commandBuffer).needWorkaround)
	assert.False(t, d.MainCommandBuffer().Backend().(*commandBuffer).needWorkaround)
}

func TestDestroyingVertexShaderPurgesInputLayouts(t *testing.T) {
	native := newFakeDevice()
	d := newTestDevice(t, native)
	fx := newDrawFixture(t, d, 0)

	require.NoError(t, d.BeginFrame())
	cb := beginBackbufferPass(d)
	cb.SetPipeline(fx.pipeline)
	cb.SetVertexBuffer(fx.vbo, 0, 0, graphics.VertexInputRateVertex)
	cb.Draw(graphics.PrimitiveTopologyTriangleList, 3, 1, 0, 0)
	cb.EndRenderPass()
	require.NoError(t, d.EndFrame())

	backend := d.Impl().(*Backend)
	require.Len(t, backend.inputLayouts, 1)
	layout := native.immediate.inputLayouts[0].(*fakeObject)

	fx.vs.Destroy()
	assert.Empty(t, backend.inputLayouts)
	assert.Equal(t, 1, layout.released)
}

func TestBufferSetSubData(t *testing.T) {
	native := newFakeDevice()
	d := newTestDevice(t, native)

	dynamic, err := d.CreateBuffer(&graphics.BufferDescriptor{
		Usage: graphics.BufferUsageVertex, ResourceUsage: graphics.ResourceUsageDynamic, Size: 32,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, dynamic.SetSubData(4, []byte{9, 9}))
	assert.Equal(t, []byte{9, 9}, dynamic.Native().(*buffer).handle.(*fakeBuffer).data[4:6])
	assert.Equal(t, 1, native.immediate.count("Map"))

	static, err := d.CreateBuffer(&graphics.BufferDescriptor{Usage: graphics.BufferUsageVertex, Size: 32}, []byte{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, static.SetSubData(8, []byte{5}))
	data := static.Native().(*buffer).handle.(*fakeBuffer).data
	assert.Equal(t, []byte{1, 2, 3}, data[:3])
	assert.Equal(t, byte(5), data[8])
	assert.Equal(t, 1, native.immediate.count("UpdateSubresource"))

	ubo, err := d.CreateBuffer(&graphics.BufferDescriptor{Usage: graphics.BufferUsageUniform, Size: 40}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(256), ubo.Native().(*buffer).size)
}

func TestDescriptorSetsKeepEachOthersSlots(t *testing.T) {
	for _, deferred := range []bool{false, true} {
		name := "immediate"
		if deferred {
			name = "emulated command list"
		}
		t.Run(name, func(t *testing.T) {
			native := newFakeDevice()
			d := newTestDevice(t, native)

			vs, err := d.CreateShader(&graphics.CompiledShader{
				Stage:    graphics.ShaderStageVertex,
				Bytecode: []byte{0x44, 0x58, 0x42, 0x43},
				Inputs:   []graphics.ShaderInput{{Name: "position", Location: 0, Format: graphics.VertexFormatFloat3}},
				Resources: []graphics.ShaderResource{
					{Name: "frame", Set: 0, Binding: 0, Kind: graphics.ShaderResourceUniformBuffer, Size: 64},
					{Name: "object", Set: 1, Binding: 1, Kind: graphics.ShaderResourceUniformBuffer, Size: 64},
				},
				PushConstantSize: 16,
			})
			require.NoError(t, err)
			ps, err := d.CreateShader(&graphics.CompiledShader{
				Stage:     graphics.ShaderStageFragment,
				Bytecode:  []byte{0x44, 0x58, 0x42, 0x43},
				Resources: []graphics.ShaderResource{{Name: "object", Set: 1, Binding: 1, Kind: graphics.ShaderResourceUniformBuffer, Size: 64}},
			})
			require.NoError(t, err)
			p, err := d.CreatePipeline(&graphics.PipelineDescriptor{Vertex: vs, Fragment: ps, Label: "two-sets"})
			require.NoError(t, err)

			vbo, err := d.CreateBuffer(&graphics.BufferDescriptor{Usage: graphics.BufferUsageVertex, Size: 36, Stride: 12}, nil)
			require.NoError(t, err)
			ubos := make([]*graphics.Buffer, 3)
			for i := range ubos {
				ubos[i], err = d.CreateBuffer(&graphics.BufferDescriptor{Usage: graphics.BufferUsageUniform, Size: 64}, nil)
				require.NoError(t, err)
			}
			handle := func(b *graphics.Buffer) Buffer { return b.Native().(*buffer).handle }

			var cb *graphics.CommandBuffer
			var ctx *fakeContext
			desc := &graphics.RenderPassDescriptor{Label: "offscreen"}
			if deferred {
				target, err := d.CreateTexture(&graphics.TextureDescriptor{
					Type: graphics.TextureType2D, Format: graphics.PixelFormatRGBA8Unorm,
					Usage: graphics.TextureUsageRenderTarget, Width: 64, Height: 64,
				}, nil)
				require.NoError(t, err)
				cb, err = d.CreateCommandBuffer("worker")
				require.NoError(t, err)
				require.True(t, cb.Backend().(*commandBuffer).needWorkaround)
				ctx = native.deferred[0]
				cb.Begin()
				desc.ColorAttachments[0] = graphics.RenderPassColorAttachment{Texture: target, LoadAction: graphics.LoadActionClear}
			} else {
				require.NoError(t, d.BeginFrame())
				cb = d.MainCommandBuffer()
				ctx = native.immediate
				desc.ColorAttachments[0] = graphics.RenderPassColorAttachment{Texture: d.CurrentBackbuffer(), LoadAction: graphics.LoadActionClear}
			}

			cb.BeginRenderPass(desc)
			cb.SetPipeline(p)
			cb.SetVertexBuffer(vbo, 0, 0, graphics.VertexInputRateVertex)
			cb.SetUniformBuffer(0, 0, ubos[0])
			cb.SetUniformBuffer(1, 1, ubos[1])
			cb.PushConstants(0, make([]byte, 16))
			cb.Draw(graphics.PrimitiveTopologyTriangleList, 3, 1, 0, 0)

			push := cb.Backend().(*commandBuffer).pushConstants
			require.NotNil(t, push)
			assert.Same(t, handle(ubos[0]), ctx.boundConstantBuffer("VS", 0))
			assert.Same(t, handle(ubos[1]), ctx.boundConstantBuffer("VS", 1))
			assert.Same(t, handle(ubos[1]), ctx.boundConstantBuffer("PS", 1))
			assert.Same(t, push, ctx.boundConstantBuffer("VS", PUSH_CONSTANT_SLOT))

			// Only set 1 changes; set 0 and the push constants stay bound.
			cb.SetUniformBuffer(1, 1, ubos[2])
			cb.Draw(graphics.PrimitiveTopologyTriangleList, 3, 1, 0, 0)
			assert.Same(t, handle(ubos[0]), ctx.boundConstantBuffer("VS", 0))
			assert.Same(t, handle(ubos[2]), ctx.boundConstantBuffer("VS", 1))
			assert.Same(t, handle(ubos[2]), ctx.boundConstantBuffer("PS", 1))
			assert.Same(t, push, ctx.boundConstantBuffer("VS", PUSH_CONSTANT_SLOT))
			assert.Equal(t, 2, ctx.count("Draw"))

			cb.EndRenderPass()
			if deferred {
				require.NoError(t, d.Submit(cb))
			} else {
				require.NoError(t, d.EndFrame())
			}
		})
	}
}
