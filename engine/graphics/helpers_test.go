package graphics

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// withDrivers swaps the global driver registry for the duration of a test.
func withDrivers(t *testing.T, ds ...Driver) {
	t.Helper()
	driversMu.Lock()
	saved := drivers
	drivers = make(map[Backend]Driver)
	driversMu.Unlock()
	for _, d := range ds {
		RegisterDriver(d)
	}
	t.Cleanup(func() {
		driversMu.Lock()
		drivers = saved
		driversMu.Unlock()
	})
}

// newTestDevice returns an initialized device on a fake backend.
func newTestDevice(t *testing.T) (*Device, *fakeDeviceBackend) {
	t.Helper()
	driver := &fakeDriver{backend: BackendD3D11, supported: true}
	withDrivers(t, driver)

	d, err := Create(BackendD3D11, false)
	require.NoError(t, err)
	require.NoError(t, d.Initialize(&DeviceSettings{Width: 640, Height: 480}))
	return d, driver.device
}

func newTestCommandBuffer(t *testing.T) (*CommandBuffer, *fakeCommandBuffer) {
	t.Helper()
	d, _ := newTestDevice(t)
	cb, err := d.CreateCommandBuffer("test")
	require.NoError(t, err)
	return cb, cb.Backend().(*fakeCommandBuffer)
}

func newVertexBuffer(t *testing.T, d *Device, stride uint32) *Buffer {
	t.Helper()
	b, err := d.CreateBuffer(&BufferDescriptor{Usage: BufferUsageVertex, Size: 1024, Stride: stride}, nil)
	require.NoError(t, err)
	return b
}

func newUniformBuffer(t *testing.T, d *Device, size uint64) *Buffer {
	t.Helper()
	b, err := d.CreateBuffer(&BufferDescriptor{Usage: BufferUsageUniform, ResourceUsage: ResourceUsageDynamic, Size: size}, nil)
	require.NoError(t, err)
	return b
}

func newRenderTarget(t *testing.T, d *Device, w, h uint32) *Texture {
	t.Helper()
	tex, err := d.CreateTexture(&TextureDescriptor{
		Type: TextureType2D, Format: PixelFormatRGBA8Unorm, Usage: TextureUsageRenderTarget | TextureUsageShaderRead,
		Width: w, Height: h,
	}, nil)
	require.NoError(t, err)
	return tex
}

// newGraphicsPipeline builds a pipeline with one float4 input at location 0
// and uniform buffers at (0,0) and (1,0).
func newGraphicsPipeline(t *testing.T, d *Device) *Pipeline {
	t.Helper()
	vs, err := d.CreateShader(&CompiledShader{
		Stage:    ShaderStageVertex,
		Bytecode: []byte{1, 2, 3, 4},
		Inputs:   []ShaderInput{{Name: "POSITION", Location: 0, Format: VertexFormatFloat4}},
		Resources: []ShaderResource{
			{Name: "frame", Set: 0, Binding: 0, Kind: ShaderResourceUniformBuffer, Size: 64},
			{Name: "object", Set: 1, Binding: 0, Kind: ShaderResourceUniformBuffer, Size: 64},
		},
	})
	require.NoError(t, err)
	fs, err := d.CreateShader(&CompiledShader{
		Stage:     ShaderStageFragment,
		Bytecode:  []byte{5, 6, 7, 8},
		Resources: []ShaderResource{{Name: "albedo", Set: 0, Binding: 1, Kind: ShaderResourceSampledTexture}},
	})
	require.NoError(t, err)
	p, err := d.CreatePipeline(&PipelineDescriptor{Vertex: vs, Fragment: fs, Label: "lit"})
	require.NoError(t, err)
	return p
}

func beginPass(t *testing.T, cb *CommandBuffer, target *Texture) *RenderPassDescriptor {
	t.Helper()
	desc := &RenderPassDescriptor{}
	desc.ColorAttachments[0] = RenderPassColorAttachment{Texture: target, LoadAction: LoadActionClear, StoreAction: StoreActionStore}
	cb.BeginRenderPass(desc)
	return desc
}
