package d3d12

import (
	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/prism/engine/graphics"
	"github.com/spaghettifunk/prism/engine/graphics/dxgi"
	"github.com/spaghettifunk/prism/engine/math"
)

type buffer struct {
	backend  *Backend
	resource Resource
	size     uint64
	heapType uint32
	// state mirrors the native state the last flushed barrier left behind.
	state  uint32
	mapped []byte
	srv    CPU_DESCRIPTOR_HANDLE
	uav    CPU_DESCRIPTOR_HANDLE
}

// hostVisible buffers live on the upload heap. They stay in GENERIC_READ
// and never take part in barriers.
func (b *buffer) hostVisible() bool {
	return b.heapType == HEAP_TYPE_UPLOAD
}

func (b *Backend) CreateBuffer(desc *graphics.BufferDescriptor, initialData []byte) (graphics.NativeBuffer, error) {
	size := desc.Size
	if desc.Usage&graphics.BufferUsageUniform != 0 {
		size = math.Align(size, CONSTANT_BUFFER_DATA_PLACEMENT_ALIGNMENT)
	}

	buf := &buffer{backend: b, size: size, heapType: convertHeapType(desc.ResourceUsage)}
	resDesc := RESOURCE_DESC{
		Dimension:        RESOURCE_DIMENSION_BUFFER,
		Width:            size,
		Height:           1,
		DepthOrArraySize: 1,
		MipLevels:        1,
		Format:           dxgi.FORMAT_UNKNOWN,
		SampleDesc:       dxgi.SAMPLE_DESC{Count: 1},
	}
	if desc.Usage&graphics.BufferUsageStorage != 0 && !buf.hostVisible() {
		resDesc.Flags |= RESOURCE_FLAG_ALLOW_UNORDERED_ACCESS
	}
	if buf.hostVisible() {
		buf.state = RESOURCE_STATE_GENERIC_READ
	} else {
		buf.state = convertResourceState(graphics.InitialBufferState(desc))
	}

	resource, err := b.device.CreateCommittedResource(buf.heapType, &resDesc, buf.state)
	if err != nil {
		return nil, graphics.NativeError(err, "creating d3d12 buffer %q", desc.Label)
	}
	buf.resource = resource

	if buf.hostVisible() {
		if buf.mapped, err = resource.Map(0); err != nil {
			buf.Destroy()
			return nil, graphics.NativeError(err, "mapping d3d12 buffer %q", desc.Label)
		}
		copy(buf.mapped, initialData)
	} else if len(initialData) > 0 {
		if err := b.uploadBuffer(buf, 0, initialData); err != nil {
			buf.Destroy()
			return nil, errors.Wrapf(err, "uploading initial data of buffer %q", desc.Label)
		}
	}

	if desc.Usage&graphics.BufferUsageStorage != 0 && !buf.hostVisible() {
		if err := buf.createViews(); err != nil {
			buf.Destroy()
			return nil, graphics.NativeError(err, "creating views of buffer %q", desc.Label)
		}
	}
	return buf, nil
}

// createViews writes raw SRV and UAV descriptors into the staging heap.
// They are copied into the shader visible ring at bind time.
func (b *buffer) createViews() error {
	view := VIEW_DESC{
		Format:      dxgi.FORMAT_R32_TYPELESS,
		NumElements: uint32(b.size / 4),
		Flags:       BUFFER_VIEW_FLAG_RAW,
	}
	var err error
	if b.srv, err = b.backend.staging.allocate(); err != nil {
		return err
	}
	view.ViewDimension = SRV_DIMENSION_BUFFER
	b.backend.device.CreateShaderResourceView(b.resource, &view, b.srv)

	if b.uav, err = b.backend.staging.allocate(); err != nil {
		return err
	}
	view.ViewDimension = UAV_DIMENSION_BUFFER
	b.backend.device.CreateUnorderedAccessView(b.resource, &view, b.uav)
	return nil
}

func (b *buffer) gpuAddress() uint64 {
	return b.resource.GetGPUVirtualAddress()
}

func (b *buffer) Destroy() {
	b.backend.staging.release(b.srv)
	b.backend.staging.release(b.uav)
	b.srv, b.uav = CPU_DESCRIPTOR_HANDLE{}, CPU_DESCRIPTOR_HANDLE{}
	if b.resource != nil {
		if b.mapped != nil {
			b.resource.Unmap(0)
			b.mapped = nil
		}
		b.resource.Release()
		b.resource = nil
	}
}

// SetSubData writes upload heap buffers in place. Default heap buffers go
// through a synchronous copy on the queue.
func (b *buffer) SetSubData(offset uint64, data []byte) error {
	if b.hostVisible() {
		copy(b.mapped[offset:], data)
		return nil
	}
	return b.backend.uploadBuffer(b, offset, data)
}

type texture struct {
	backend   *Backend
	resource  Resource
	format    uint32
	desc      graphics.TextureDescriptor
	state     uint32
	srv       CPU_DESCRIPTOR_HANDLE
	uav       CPU_DESCRIPTOR_HANDLE
	swapchain bool
}

func (b *Backend) CreateTexture(desc *graphics.TextureDescriptor, initialData []byte) (graphics.NativeTexture, error) {
	if desc.Type != graphics.TextureType2D && desc.Type != graphics.TextureTypeCube {
		return nil, errors.Newf("d3d12: texture %q: only 2D and cube textures are supported", desc.Label)
	}
	format := dxgi.PixelFormat(desc.Format)
	if format == dxgi.FORMAT_UNKNOWN {
		return nil, errors.Newf("d3d12: texture %q: unsupported pixel format %d", desc.Label, desc.Format)
	}

	arraySize := desc.ArrayLayers
	if desc.Type == graphics.TextureTypeCube {
		arraySize *= 6
	}
	resDesc := RESOURCE_DESC{
		Dimension:        RESOURCE_DIMENSION_TEXTURE2D,
		Width:            uint64(desc.Width),
		Height:           desc.Height,
		DepthOrArraySize: arraySize,
		MipLevels:        desc.MipLevels,
		Format:           format,
		SampleDesc:       dxgi.SAMPLE_DESC{Count: uint32(desc.SampleCount)},
		Flags:            convertTextureFlags(desc.Format, desc.Usage),
	}
	tex := &texture{backend: b, format: format, desc: *desc, state: convertResourceState(graphics.InitialTextureState(desc))}

	resource, err := b.device.CreateCommittedResource(HEAP_TYPE_DEFAULT, &resDesc, tex.state)
	if err != nil {
		return nil, graphics.NativeError(err, "creating d3d12 texture %q", desc.Label)
	}
	tex.resource = resource

	if len(initialData) > 0 {
		if err := b.uploadTexture(tex, initialData); err != nil {
			tex.Destroy()
			return nil, errors.Wrapf(err, "uploading initial data of texture %q", desc.Label)
		}
	}

	if desc.Usage&graphics.TextureUsageShaderRead != 0 && !desc.Format.IsDepth() {
		view := VIEW_DESC{Format: format, MipLevels: desc.MipLevels, ArraySize: arraySize}
		switch {
		case desc.SampleCount > graphics.SampleCount1:
			view.ViewDimension = SRV_DIMENSION_TEXTURE2DMS
		case desc.Type == graphics.TextureTypeCube:
			view.ViewDimension = SRV_DIMENSION_TEXTURECUBE
		case desc.ArrayLayers > 1:
			view.ViewDimension = SRV_DIMENSION_TEXTURE2DARRAY
		default:
			view.ViewDimension = SRV_DIMENSION_TEXTURE2D
		}
		if tex.srv, err = b.staging.allocate(); err != nil {
			tex.Destroy()
			return nil, graphics.NativeError(err, "allocating shader resource view of texture %q", desc.Label)
		}
		b.device.CreateShaderResourceView(resource, &view, tex.srv)
	}
	if desc.Usage&graphics.TextureUsageShaderWrite != 0 {
		if tex.uav, err = b.staging.allocate(); err != nil {
			tex.Destroy()
			return nil, graphics.NativeError(err, "allocating unordered access view of texture %q", desc.Label)
		}
		b.device.CreateUnorderedAccessView(resource, &VIEW_DESC{Format: format, ViewDimension: UAV_DIMENSION_TEXTURE2D}, tex.uav)
	}
	return tex, nil
}

// Destroy releases the texture. Swapchain buffers are owned by the swapchain.
func (t *texture) Destroy() {
	if t.swapchain {
		return
	}
	t.release()
}

func (t *texture) release() {
	t.backend.staging.release(t.srv)
	t.backend.staging.release(t.uav)
	t.srv, t.uav = CPU_DESCRIPTOR_HANDLE{}, CPU_DESCRIPTOR_HANDLE{}
	if t.resource != nil {
		t.resource.Release()
		t.resource = nil
	}
}

// shader keeps nothing native: D3D12 consumes bytecode at pipeline state
// creation.
type shader struct{}

func (b *Backend) CreateShader(s *graphics.Shader) (graphics.NativeShader, error) {
	switch s.Stage() {
	case graphics.ShaderStageVertex, graphics.ShaderStageFragment, graphics.ShaderStageCompute:
		return shader{}, nil
	}
	return nil, errors.Newf("d3d12: %s shaders are not supported", s.Stage())
}

func (shader) Destroy() {}

// pipeline owns the compute PSO. Graphics PSOs depend on the render pass and
// vertex format and are created lazily by the command buffers.
type pipeline struct {
	owner   *graphics.Pipeline
	layout  *rootLayout
	compute PipelineState
}

func (b *Backend) CreatePipeline(p *graphics.Pipeline) (graphics.NativePipeline, error) {
	layout, err := b.rootLayout(p)
	if err != nil {
		return nil, err
	}
	native := &pipeline{owner: p, layout: layout}
	if p.IsCompute() {
		native.compute, err = b.device.CreateComputePipelineState(&COMPUTE_PIPELINE_STATE_DESC{
			RootSignature: layout.signature,
			CS:            p.Shader(graphics.ShaderStageCompute).Bytecode(),
		})
		if err != nil {
			return nil, graphics.NativeError(err, "creating compute pipeline state %q", p.Label())
		}
	}
	return native, nil
}

func (p *pipeline) Destroy() {
	if p.compute != nil {
		p.compute.Release()
		p.compute = nil
	}
}

func nativeBuffer(b *graphics.Buffer) *buffer {
	return b.Native().(*buffer)
}

func nativeTexture(t *graphics.Texture) *texture {
	return t.Native().(*texture)
}

func nativePipeline(p *graphics.Pipeline) *pipeline {
	return p.Native().(*pipeline)
}
