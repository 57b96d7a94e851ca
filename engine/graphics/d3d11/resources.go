package d3d11

import (
	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/prism/engine/graphics"
	"github.com/spaghettifunk/prism/engine/graphics/dxgi"
	"github.com/spaghettifunk/prism/engine/math"
)

type buffer struct {
	backend *Backend
	handle  Buffer
	srv     ShaderResourceView
	uav     UnorderedAccessView
	size    uint64
	dynamic bool
}

func (b *Backend) CreateBuffer(desc *graphics.BufferDescriptor, initialData []byte) (graphics.NativeBuffer, error) {
	usage, cpuAccess := convertResourceUsage(desc.ResourceUsage)
	byteWidth := desc.Size
	if desc.Usage&graphics.BufferUsageUniform != 0 {
		// Constant buffer ranges are bound in 256 byte blocks.
		byteWidth = math.Align(byteWidth, 256)
	}

	d3dDesc := BUFFER_DESC{
		ByteWidth:      uint32(byteWidth),
		Usage:          usage,
		BindFlags:      convertBufferBindFlags(desc.Usage),
		CPUAccessFlags: cpuAccess,
	}
	if desc.ResourceUsage == graphics.ResourceUsageStaging {
		d3dDesc.BindFlags = 0
	}
	if desc.Usage&graphics.BufferUsageStorage != 0 {
		d3dDesc.MiscFlags |= RESOURCE_MISC_BUFFER_ALLOW_RAW_VIEWS
	}
	if desc.Usage&graphics.BufferUsageIndirect != 0 {
		d3dDesc.MiscFlags |= RESOURCE_MISC_DRAWINDIRECT_ARGS
	}

	var data []byte
	if len(initialData) > 0 {
		// D3D11 reads ByteWidth bytes of initial data.
		data = make([]byte, byteWidth)
		copy(data, initialData)
	}
	handle, err := b.device.CreateBuffer(&d3dDesc, data)
	if err != nil {
		return nil, graphics.NativeError(err, "creating d3d11 buffer %q", desc.Label)
	}

	buf := &buffer{
		backend: b,
		handle:  handle,
		size:    byteWidth,
		dynamic: desc.ResourceUsage == graphics.ResourceUsageDynamic,
	}
	if desc.Usage&graphics.BufferUsageStorage != 0 {
		view := VIEW_DESC{Format: dxgi.FORMAT_R32_TYPELESS, NumElements: uint32(byteWidth / 4)}
		view.ViewDimension = SRV_DIMENSION_BUFFER
		if buf.srv, err = b.device.CreateShaderResourceView(handle, &view); err != nil {
			buf.Destroy()
			return nil, graphics.NativeError(err, "creating shader resource view of buffer %q", desc.Label)
		}
		view.ViewDimension = UAV_DIMENSION_BUFFER
		if buf.uav, err = b.device.CreateUnorderedAccessView(handle, &view); err != nil {
			buf.Destroy()
			return nil, graphics.NativeError(err, "creating unordered access view of buffer %q", desc.Label)
		}
	}
	return buf, nil
}

func (b *buffer) Destroy() {
	if b.uav != nil {
		b.uav.Release()
		b.uav = nil
	}
	if b.srv != nil {
		b.srv.Release()
		b.srv = nil
	}
	if b.handle != nil {
		b.handle.Release()
		b.handle = nil
	}
}

// SetSubData writes through the immediate context. Dynamic buffers are
// mapped, default buffers go through UpdateSubresource.
func (b *buffer) SetSubData(offset uint64, data []byte) error {
	b.backend.contextMu.Lock()
	defer b.backend.contextMu.Unlock()

	ctx := b.backend.context
	if b.dynamic {
		mapType := uint32(MAP_WRITE_NO_OVERWRITE)
		if offset == 0 && uint64(len(data)) == b.size {
			mapType = MAP_WRITE_DISCARD
		}
		mapped, err := ctx.Map(b.handle, 0, mapType)
		if err != nil {
			return errors.Wrap(err, "mapping d3d11 buffer")
		}
		copy(mapped[offset:], data)
		ctx.Unmap(b.handle, 0)
		return nil
	}

	box := &BOX{Left: uint32(offset), Right: uint32(offset) + uint32(len(data)), Bottom: 1, Back: 1}
	ctx.UpdateSubresource(b.handle, 0, box, data, 0, 0)
	return nil
}

type texture struct {
	handle    Texture2D
	srv       ShaderResourceView
	uav       UnorderedAccessView
	format    uint32
	desc      graphics.TextureDescriptor
	swapchain bool
}

func (b *Backend) CreateTexture(desc *graphics.TextureDescriptor, initialData []byte) (graphics.NativeTexture, error) {
	if desc.Type != graphics.TextureType2D && desc.Type != graphics.TextureTypeCube {
		return nil, errors.Newf("d3d11: texture %q: only 2D and cube textures are supported", desc.Label)
	}
	format := dxgi.PixelFormat(desc.Format)
	if format == dxgi.FORMAT_UNKNOWN {
		return nil, errors.Newf("d3d11: texture %q: unsupported pixel format %d", desc.Label, desc.Format)
	}

	d3dDesc := TEXTURE2D_DESC{
		Width:      desc.Width,
		Height:     desc.Height,
		MipLevels:  desc.MipLevels,
		ArraySize:  desc.ArrayLayers,
		Format:     format,
		SampleDesc: dxgi.SAMPLE_DESC{Count: uint32(desc.SampleCount)},
		Usage:      USAGE_DEFAULT,
		BindFlags:  convertTextureBindFlags(desc.Format, desc.Usage),
	}
	if desc.Type == graphics.TextureTypeCube {
		d3dDesc.ArraySize *= 6
		d3dDesc.MiscFlags |= RESOURCE_MISC_TEXTURECUBE
	}

	handle, err := b.device.CreateTexture2D(&d3dDesc, initialData)
	if err != nil {
		return nil, graphics.NativeError(err, "creating d3d11 texture %q", desc.Label)
	}
	tex := &texture{handle: handle, format: format, desc: *desc}

	if desc.Usage&graphics.TextureUsageShaderRead != 0 && !desc.Format.IsDepth() {
		view := VIEW_DESC{Format: format, MipLevels: desc.MipLevels, ArraySize: d3dDesc.ArraySize}
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
		if tex.srv, err = b.device.CreateShaderResourceView(handle, &view); err != nil {
			tex.Destroy()
			return nil, graphics.NativeError(err, "creating shader resource view of texture %q", desc.Label)
		}
	}
	if desc.Usage&graphics.TextureUsageShaderWrite != 0 {
		view := VIEW_DESC{Format: format, ViewDimension: UAV_DIMENSION_TEXTURE2D}
		if tex.uav, err = b.device.CreateUnorderedAccessView(handle, &view); err != nil {
			tex.Destroy()
			return nil, graphics.NativeError(err, "creating unordered access view of texture %q", desc.Label)
		}
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
	if t.uav != nil {
		t.uav.Release()
		t.uav = nil
	}
	if t.srv != nil {
		t.srv.Release()
		t.srv = nil
	}
	if t.handle != nil {
		t.handle.Release()
		t.handle = nil
	}
}

type shader struct {
	backend *Backend
	owner   *graphics.Shader
	vs      VertexShader
	ps      PixelShader
	cs      ComputeShader
}

func (b *Backend) CreateShader(s *graphics.Shader) (graphics.NativeShader, error) {
	native := &shader{backend: b, owner: s}
	var err error
	switch s.Stage() {
	case graphics.ShaderStageVertex:
		native.vs, err = b.device.CreateVertexShader(s.Bytecode())
	case graphics.ShaderStageFragment:
		native.ps, err = b.device.CreatePixelShader(s.Bytecode())
	case graphics.ShaderStageCompute:
		native.cs, err = b.device.CreateComputeShader(s.Bytecode())
	default:
		return nil, errors.Newf("d3d11: %s shaders are not supported", s.Stage())
	}
	if err != nil {
		return nil, graphics.NativeError(err, "creating d3d11 %s shader %q", s.Stage(), s.Label())
	}
	return native, nil
}

func (s *shader) Destroy() {
	if s.vs != nil {
		s.backend.purgeInputLayouts(s.owner.ID())
		s.vs.Release()
		s.vs = nil
	}
	if s.ps != nil {
		s.ps.Release()
		s.ps = nil
	}
	if s.cs != nil {
		s.cs.Release()
		s.cs = nil
	}
}

// pipeline only groups the stage shaders. D3D11 binds state objects one by
// one, so there is nothing to compile ahead of time.
type pipeline struct {
	vs *shader
	ps *shader
	cs *shader
}

func (b *Backend) CreatePipeline(p *graphics.Pipeline) (graphics.NativePipeline, error) {
	native := &pipeline{}
	if s := p.Shader(graphics.ShaderStageVertex); s != nil {
		native.vs = s.Native().(*shader)
	}
	if s := p.Shader(graphics.ShaderStageFragment); s != nil {
		native.ps = s.Native().(*shader)
	}
	if s := p.Shader(graphics.ShaderStageCompute); s != nil {
		native.cs = s.Native().(*shader)
	}
	return native, nil
}

func (p *pipeline) Destroy() {}

func nativeBuffer(b *graphics.Buffer) *buffer {
	return b.Native().(*buffer)
}

func nativeTexture(t *graphics.Texture) *texture {
	return t.Native().(*texture)
}

func nativePipeline(p *graphics.Pipeline) *pipeline {
	return p.Native().(*pipeline)
}
