package d3d12

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/prism/engine/graphics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptorAllocatorReusesReleasedSlots(t *testing.T) {
	native := newFakeDevice()
	a, err := newDescriptorAllocator(native, DESCRIPTOR_HEAP_TYPE_RTV, 2)
	require.NoError(t, err)
	defer a.destroy()

	first, err := a.allocate()
	require.NoError(t, err)
	second, err := a.allocate()
	require.NoError(t, err)
	assert.Equal(t, first.Ptr+fakeDescriptorIncrement, second.Ptr)

	_, err = a.allocate()
	assert.True(t, errors.Is(err, errDescriptorHeapFull))

	a.release(first)
	a.release(CPU_DESCRIPTOR_HANDLE{})
	assert.Equal(t, 1, a.live())

	again, err := a.allocate()
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, 2, a.live())
}

func TestDescriptorRingSegments(t *testing.T) {
	native := newFakeDevice()
	r, err := newDescriptorRing(native, 2, 32)
	require.NoError(t, err)
	defer r.destroy()

	start := r.heap.GetGPUDescriptorHandleForHeapStart()

	r.beginFrame(0)
	_, gpu, err := r.allocate(16)
	require.NoError(t, err)
	assert.Equal(t, start.Ptr, gpu.Ptr)
	_, gpu, err = r.allocate(16)
	require.NoError(t, err)
	assert.Equal(t, start.Ptr+16*fakeDescriptorIncrement, gpu.Ptr)
	_, _, err = r.allocate(1)
	assert.True(t, errors.Is(err, errDescriptorHeapFull))

	r.beginFrame(1)
	cpu, gpu, err := r.allocate(16)
	require.NoError(t, err)
	assert.Equal(t, start.Ptr+32*fakeDescriptorIncrement, gpu.Ptr)
	assert.Equal(t, uintptr(gpu.Ptr), cpu.Ptr)

	// Rewinding a slot hands out its segment from the start again.
	r.beginFrame(0)
	_, gpu, err = r.allocate(16)
	require.NoError(t, err)
	assert.Equal(t, start.Ptr, gpu.Ptr)
}

func TestRootSignatureLayout(t *testing.T) {
	native := newFakeDevice()
	d := newTestDevice(t, native)

	vs, err := d.CreateShader(&graphics.CompiledShader{
		Stage:            graphics.ShaderStageVertex,
		Bytecode:         []byte{0x44, 0x58, 0x42, 0x43},
		Resources:        []graphics.ShaderResource{{Name: "camera", Set: 0, Binding: 0, Kind: graphics.ShaderResourceUniformBuffer, Size: 64}},
		PushConstantSize: 16,
		Label:            "sprite.vs",
	})
	require.NoError(t, err)
	ps, err := d.CreateShader(&graphics.CompiledShader{
		Stage:     graphics.ShaderStageFragment,
		Bytecode:  []byte{0x44, 0x58, 0x42, 0x43},
		Resources: []graphics.ShaderResource{{Name: "atlas", Set: 2, Binding: 3, Kind: graphics.ShaderResourceSampledTexture}},
		Label:     "sprite.ps",
	})
	require.NoError(t, err)

	p, err := d.CreatePipeline(&graphics.PipelineDescriptor{Vertex: vs, Fragment: ps, Label: "sprite"})
	require.NoError(t, err)

	desc, layout := describeRootSignature(p)
	require.Len(t, desc.Parameters, 3)
	assert.Equal(t, [graphics.MAX_DESCRIPTOR_SETS]uint32{0, noRootParameter, 1, noRootParameter}, layout.tables)
	assert.Equal(t, uint32(2), layout.pushConstants)
	assert.Equal(t, uint32(4), layout.pushValues)
	assert.NotZero(t, desc.Flags&ROOT_SIGNATURE_FLAG_ALLOW_INPUT_LAYOUT)

	atlas := desc.Parameters[1].Ranges
	require.Len(t, atlas, 1)
	assert.Equal(t, uint32(DESCRIPTOR_RANGE_TYPE_SRV), atlas[0].RangeType)
	assert.Equal(t, uint32(3), atlas[0].BaseShaderRegister)
	assert.Equal(t, uint32(2), atlas[0].RegisterSpace)
	assert.Equal(t, uint32(3), atlas[0].OffsetInDescriptorsFromTableStart)
	assert.Equal(t, uint32(DESCRIPTOR_RANGE_TYPE_CBV), desc.Parameters[0].Ranges[0].RangeType)

	require.Len(t, desc.StaticSamplers, 1)
	assert.Equal(t, uint32(3), desc.StaticSamplers[0].ShaderRegister)
	assert.Equal(t, uint32(2), desc.StaticSamplers[0].RegisterSpace)
	assert.Equal(t, uint32(pushConstantSpace), desc.Parameters[2].RegisterSpace)

	// A second pipeline with the same layout shares the root signature.
	again, err := d.CreatePipeline(&graphics.PipelineDescriptor{Vertex: vs, Fragment: ps, Label: "sprite.alpha"})
	require.NoError(t, err)
	assert.Len(t, native.rootSignatures, 1)
	assert.Same(t, nativePipeline(p).layout, nativePipeline(again).layout)
}
