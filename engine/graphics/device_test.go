package graphics

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateResolvesBackend(t *testing.T) {
	withDrivers(t,
		&fakeDriver{backend: BackendVulkan, supported: false},
		&fakeDriver{backend: BackendD3D11, supported: true},
		&fakeDriver{backend: BackendEmpty, supported: true},
	)

	assert.Equal(t, []Backend{BackendD3D11, BackendEmpty}, AvailableBackends())

	d, err := Create(BackendDefault, false)
	require.NoError(t, err)
	assert.Equal(t, BackendD3D11, d.Backend())

	d, err = Create(BackendVulkan, true)
	require.NoError(t, err)
	assert.Equal(t, BackendD3D11, d.Backend(), "unsupported explicit backend falls back")
	assert.True(t, d.Validation())

	d, err = Create(BackendEmpty, false)
	require.NoError(t, err)
	assert.Equal(t, BackendEmpty, d.Backend())
}

func TestCreateWithoutDrivers(t *testing.T) {
	withDrivers(t)
	_, err := Create(BackendDefault, false)
	assert.True(t, errors.Is(err, core.ErrUnsupportedBackend))
}

func TestInitializeTwiceIsCritical(t *testing.T) {
	d, _ := newTestDevice(t)
	requireUsagePanic(t, func() { _ = d.Initialize(&DeviceSettings{}) })
}

func TestInitializeWrapsSwapchain(t *testing.T) {
	d, _ := newTestDevice(t)

	back := d.CurrentBackbuffer()
	require.NotNil(t, back)
	assert.True(t, back.IsSwapchain())
	assert.Equal(t, "backbuffer-0", back.Label())
	assert.Equal(t, ResourceStatePresent, back.Tracker().UsageState())

	main := d.MainCommandBuffer()
	require.NotNil(t, main)
	assert.False(t, main.IsSecondary())
	assert.Equal(t, uint32(2), d.Settings().FramesInFlight)
	assert.Equal(t, uint32(DEFAULT_FRAMEBUFFER_RING_SIZE), d.Settings().FramebufferRingSize)
}

func TestCreateBufferValidation(t *testing.T) {
	d, _ := newTestDevice(t)

	requireUsagePanic(t, func() { _, _ = d.CreateBuffer(&BufferDescriptor{Usage: BufferUsageVertex}, nil) })
	requireUsagePanic(t, func() { _, _ = d.CreateBuffer(&BufferDescriptor{Size: 16}, nil) })
	requireUsagePanic(t, func() {
		_, _ = d.CreateBuffer(&BufferDescriptor{Usage: BufferUsageIndex, ResourceUsage: ResourceUsageImmutable, Size: 16}, nil)
	})
	requireUsagePanic(t, func() { _, _ = d.CreateBuffer(&BufferDescriptor{Usage: BufferUsageIndex, Size: 2}, []byte{1, 2, 3}) })

	before := len(d.LiveResources())
	_, err := d.CreateBuffer(&BufferDescriptor{Usage: BufferUsageVertex, Size: 16, Label: "fail"}, nil)
	assert.Error(t, err)
	assert.Len(t, d.LiveResources(), before, "failed creation registers nothing")

	immutable, err := d.CreateBuffer(&BufferDescriptor{Usage: BufferUsageIndex, ResourceUsage: ResourceUsageImmutable, Size: 4}, []byte{0, 1, 2, 3})
	require.NoError(t, err)
	assert.Error(t, immutable.SetSubData(0, []byte{9}))

	dynamic := newUniformBuffer(t, d, 16)
	assert.NoError(t, dynamic.SetSubData(8, make([]byte, 8)))
	assert.Error(t, dynamic.SetSubData(12, make([]byte, 8)))
}

func TestCreateTextureValidation(t *testing.T) {
	d, _ := newTestDevice(t)

	requireUsagePanic(t, func() {
		_, _ = d.CreateTexture(&TextureDescriptor{Format: PixelFormatRGBA8Unorm, Usage: TextureUsageShaderRead, Height: 4}, nil)
	})
	requireUsagePanic(t, func() {
		_, _ = d.CreateTexture(&TextureDescriptor{Format: PixelFormatRGBA8Unorm, Width: 4, Height: 4}, nil)
	})
	requireUsagePanic(t, func() {
		_, _ = d.CreateTexture(&TextureDescriptor{Format: PixelFormatRGBA8Unorm, Usage: TextureUsage(1 << 7), Width: 4, Height: 4}, nil)
	})

	tex, err := d.CreateTexture(&TextureDescriptor{
		Type: TextureType2D, Format: PixelFormatRGBA8Unorm, Usage: TextureUsageShaderRead, Width: 8, Height: 4,
	}, nil)
	require.NoError(t, err)
	desc := tex.Descriptor()
	assert.Equal(t, uint32(1), desc.Depth)
	assert.Equal(t, uint32(1), desc.ArrayLayers)
	assert.Equal(t, uint32(1), desc.MipLevels)
	assert.Equal(t, SampleCount1, desc.SampleCount)
	assert.Equal(t, ResourceStatePixelShaderResource, tex.Tracker().UsageState())
	assert.Contains(t, tex.Label(), "texture-", "unnamed resources get a generated label")
}

func TestCreatePipelineValidation(t *testing.T) {
	d, _ := newTestDevice(t)
	fs, err := d.CreateShader(&CompiledShader{Stage: ShaderStageFragment, Bytecode: []byte{1}})
	require.NoError(t, err)

	requireUsagePanic(t, func() { _, _ = d.CreatePipeline(&PipelineDescriptor{Fragment: fs}) })
	requireUsagePanic(t, func() { _, _ = d.CreatePipeline(&PipelineDescriptor{Vertex: fs}) })
	requireUsagePanic(t, func() { _, _ = d.CreateShader(&CompiledShader{Stage: ShaderStageVertex}) })

	p := newGraphicsPipeline(t, d)
	assert.False(t, p.IsCompute())
	assert.Equal(t, uint32(0b11), p.DescriptorSetMask())
	assert.Equal(t, uint32(1), p.VertexAttributeMask())
}

func TestCreateVertexOnlyPipeline(t *testing.T) {
	d, _ := newTestDevice(t)
	vs, err := d.CreateShader(&CompiledShader{
		Stage:    ShaderStageVertex,
		Bytecode: []byte{1, 2, 3, 4},
		Inputs:   []ShaderInput{{Name: "POSITION", Location: 0, Format: VertexFormatFloat3}},
	})
	require.NoError(t, err)

	var p *Pipeline
	require.NotPanics(t, func() {
		p, err = d.CreatePipeline(&PipelineDescriptor{Vertex: vs, Label: "depth-only"})
	})
	require.NoError(t, err)
	assert.False(t, p.IsCompute())
	assert.Equal(t, uint32(1), p.VertexAttributeMask())
	assert.Zero(t, p.DescriptorSetMask())

	requireUsagePanic(t, func() { _, _ = d.CreatePipeline(&PipelineDescriptor{Vertex: vs, Fragment: vs}) })
}

func TestResourceDestroyOnce(t *testing.T) {
	d, backend := newTestDevice(t)
	buf := newVertexBuffer(t, d, 16)
	live := len(d.LiveResources())

	buf.Destroy()
	buf.Destroy()
	assert.True(t, buf.IsDestroyed())
	assert.Len(t, d.LiveResources(), live-1)
	assert.Equal(t, []string{"buffer#2"}, backend.log.names)
}

func TestDeviceDestroyOrder(t *testing.T) {
	d, backend := newTestDevice(t)

	// Natives are named in creation order; the main command buffer is #1.
	newVertexBuffer(t, d, 16)
	newRenderTarget(t, d, 32, 32)
	newGraphicsPipeline(t, d)
	_, err := d.CreateCommandBuffer("")
	require.NoError(t, err)
	early := newUniformBuffer(t, d, 16)
	early.Destroy()

	d.Destroy()

	assert.Equal(t, []string{
		"buffer#8",
		"command_buffer#1", "command_buffer#7",
		"pipeline#6",
		"shader#4", "shader#5",
		"backbuffer", "texture#3",
		"buffer#2",
	}, backend.log.names)
	assert.True(t, backend.shutdown)
	assert.Empty(t, d.LiveResources())
}

func TestFrameLoop(t *testing.T) {
	d, backend := newTestDevice(t)
	main := d.MainCommandBuffer()
	native := backend.commandBuffers[0]

	assert.Equal(t, uint64(1), d.FrameNumber())
	for i := 0; i < 3; i++ {
		require.NoError(t, d.BeginFrame())
		assert.Equal(t, COMMAND_BUFFER_STATE_RECORDING, main.State())

		main.BeginRenderPass(colorPass(d.CurrentBackbuffer(), LoadActionClear))
		main.EndRenderPass()

		require.NoError(t, d.EndFrame())
		assert.Equal(t, COMMAND_BUFFER_STATE_COMMITTED, main.State())
	}

	assert.Equal(t, uint64(4), d.FrameNumber())
	assert.Equal(t, uint64(3), d.CompletedFrame())
	assert.Equal(t, 3, native.commits)
	assert.Equal(t, 3, native.renderPasses)
	assert.Equal(t, uint64(3), main.LastFenceValue())
}

func TestSubmit(t *testing.T) {
	d, _ := newTestDevice(t)
	cb, err := d.CreateCommandBuffer("upload")
	require.NoError(t, err)
	assert.True(t, cb.IsSecondary())

	cb.Begin()
	require.NoError(t, d.Submit(cb))
	assert.Equal(t, COMMAND_BUFFER_STATE_COMMITTED, cb.State())

	main := d.MainCommandBuffer()
	requireUsagePanic(t, func() { _ = d.Submit(main) })

	failing, err := d.CreateCommandBuffer("failing")
	require.NoError(t, err)
	failing.Backend().(*fakeCommandBuffer).commitErr = errors.New("lost")
	failing.Begin()
	assert.ErrorContains(t, d.Submit(failing), "lost")
}
