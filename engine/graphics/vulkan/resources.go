package vulkan

import (
	"sync"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/graphics"
)

type texelViewKey struct {
	format vk.Format
	offset uint64
	size   uint64
}

type buffer struct {
	backend     *Backend
	handle      Buffer
	size        uint64
	hostVisible bool

	viewsMu sync.Mutex
	views   map[texelViewKey]BufferView
}

func isHostVisible(usage graphics.ResourceUsage) bool {
	return usage == graphics.ResourceUsageDynamic || usage == graphics.ResourceUsageStaging
}

func (b *Backend) CreateBuffer(desc *graphics.BufferDescriptor, initialData []byte) (graphics.NativeBuffer, error) {
	buf := &buffer{backend: b, size: desc.Size, hostVisible: isHostVisible(desc.ResourceUsage)}
	handle, err := b.device.CreateBuffer(&BufferDesc{
		Size:        desc.Size,
		Usage:       convertBufferUsage(desc.Usage),
		HostVisible: buf.hostVisible,
		Label:       desc.Label,
	})
	if err != nil {
		return nil, graphics.NativeError(err, "creating vulkan buffer %q", desc.Label)
	}
	buf.handle = handle

	if len(initialData) > 0 {
		if err := buf.SetSubData(0, initialData); err != nil {
			buf.Destroy()
			return nil, errors.Wrapf(err, "uploading initial data of buffer %q", desc.Label)
		}
	}
	return buf, nil
}

// SetSubData writes host visible buffers through their mapping. Device local
// buffers go through a synchronous staging copy.
func (b *buffer) SetSubData(offset uint64, data []byte) error {
	if b.hostVisible {
		copy(b.handle.Mapped()[offset:], data)
		return nil
	}
	return b.backend.uploadBuffer(b, offset, data)
}

// texelView returns the cached texel view of a range. Views live as long as
// the buffer.
func (b *buffer) texelView(format graphics.PixelFormat, offset, size uint64) (BufferView, error) {
	key := texelViewKey{format: convertPixelFormat(format), offset: offset, size: size}
	b.viewsMu.Lock()
	defer b.viewsMu.Unlock()
	if view, ok := b.views[key]; ok {
		return view, nil
	}
	view, err := b.backend.device.CreateBufferView(b.handle, key.format, offset, size)
	if err != nil {
		return nil, err
	}
	if b.views == nil {
		b.views = make(map[texelViewKey]BufferView)
	}
	b.views[key] = view
	return view, nil
}

func (b *buffer) Destroy() {
	b.viewsMu.Lock()
	for key, view := range b.views {
		view.Destroy()
		delete(b.views, key)
	}
	b.viewsMu.Unlock()
	if b.handle != nil {
		b.handle.Destroy()
		b.handle = nil
	}
}

type texture struct {
	backend   *Backend
	image     Image
	ownsImage bool
	// view covers every level and layer and backs shader bindings.
	view   ImageView
	format vk.Format
	aspect vk.ImageAspectFlags
	desc   graphics.TextureDescriptor
	// layout mirrors the image layout the last flushed barrier left behind.
	layout    vk.ImageLayout
	swapchain bool
}

func (b *Backend) CreateTexture(desc *graphics.TextureDescriptor, initialData []byte) (graphics.NativeTexture, error) {
	if desc.Type == graphics.TextureType1D || desc.Type == graphics.TextureType3D {
		return nil, errors.Newf("vulkan: texture %q: only 2D and cube textures are supported", desc.Label)
	}
	format := convertPixelFormat(desc.Format)
	if format == vk.FormatUndefined {
		return nil, errors.Newf("vulkan: texture %q: unsupported pixel format %d", desc.Label, desc.Format)
	}

	layers := desc.ArrayLayers
	cube := desc.Type == graphics.TextureTypeCube
	if cube {
		layers *= 6
	}
	image, err := b.device.CreateImage(&ImageDesc{
		Format:      format,
		Width:       desc.Width,
		Height:      desc.Height,
		MipLevels:   desc.MipLevels,
		ArrayLayers: layers,
		Samples:     convertSampleCount(desc.SampleCount),
		Usage:       convertTextureUsage(desc),
		Cube:        cube,
		Label:       desc.Label,
	})
	if err != nil {
		return nil, graphics.NativeError(err, "creating vulkan image %q", desc.Label)
	}
	tex := &texture{
		backend:   b,
		image:     image,
		ownsImage: true,
		format:    format,
		aspect:    convertAspect(desc.Format),
		desc:      *desc,
		layout:    vk.ImageLayoutUndefined,
	}

	if desc.Usage&(graphics.TextureUsageShaderRead|graphics.TextureUsageShaderWrite) != 0 {
		view := ImageViewDesc{
			Image:      image,
			Format:     format,
			ViewType:   vk.ImageViewType2d,
			Aspect:     tex.aspect,
			LevelCount: desc.MipLevels,
			LayerCount: layers,
		}
		// Sampling reads one aspect of depth stencil images.
		if desc.Format.IsDepth() {
			view.Aspect = vk.ImageAspectFlags(vk.ImageAspectDepthBit)
		}
		switch {
		case cube:
			view.ViewType = vk.ImageViewTypeCube
		case layers > 1:
			view.ViewType = vk.ImageViewType2dArray
		}
		if tex.view, err = b.device.CreateImageView(&view); err != nil {
			tex.Destroy()
			return nil, graphics.NativeError(err, "creating view of texture %q", desc.Label)
		}
	}

	if err := b.initializeTexture(tex, convertImageLayout(graphics.InitialTextureState(desc)), initialData); err != nil {
		tex.Destroy()
		return nil, errors.Wrapf(err, "initializing texture %q", desc.Label)
	}
	return tex, nil
}

// Destroy releases the texture. Swapchain images are owned by the backend.
func (t *texture) Destroy() {
	if t.swapchain {
		return
	}
	t.release()
}

func (t *texture) release() {
	if t.view != nil {
		t.view.Destroy()
		t.view = nil
	}
	if t.image != nil && t.ownsImage {
		t.image.Destroy()
	}
	t.image = nil
}

type shader struct {
	module ShaderModule
}

func (b *Backend) CreateShader(s *graphics.Shader) (graphics.NativeShader, error) {
	module, err := b.device.CreateShaderModule(s.Bytecode())
	if err != nil {
		return nil, graphics.NativeError(err, "creating vulkan shader module %q", s.Label())
	}
	return &shader{module: module}, nil
}

func (s *shader) Destroy() {
	if s.module != nil {
		s.module.Destroy()
		s.module = nil
	}
}

func (s *shader) stage(owner *graphics.Shader) ShaderStageDesc {
	return ShaderStageDesc{
		Stage:      shaderStageBits[owner.Stage()],
		Module:     s.module,
		EntryPoint: owner.EntryPoint(),
	}
}

// pipeline owns the compute pipeline. Graphics pipelines depend on the render
// pass and vertex input and are created lazily by the command buffers.
type pipeline struct {
	owner   *graphics.Pipeline
	layout  *pipelineLayout
	compute Pipeline
}

func (b *Backend) CreatePipeline(p *graphics.Pipeline) (graphics.NativePipeline, error) {
	layout, err := b.pipelineLayout(p)
	if err != nil {
		return nil, err
	}
	native := &pipeline{owner: p, layout: layout}
	if p.IsCompute() {
		cs := p.Shader(graphics.ShaderStageCompute)
		native.compute, err = b.device.CreateComputePipeline(layout.handle, nativeShader(cs).stage(cs))
		if err != nil {
			return nil, graphics.NativeError(err, "creating compute pipeline %q", p.Label())
		}
	}
	return native, nil
}

func (p *pipeline) Destroy() {
	if p.compute != nil {
		p.compute.Destroy()
		p.compute = nil
	}
}

func nativeBuffer(b *graphics.Buffer) *buffer {
	return b.Native().(*buffer)
}

func nativeTexture(t *graphics.Texture) *texture {
	return t.Native().(*texture)
}

func nativeShader(s *graphics.Shader) *shader {
	return s.Native().(*shader)
}

func nativePipeline(p *graphics.Pipeline) *pipeline {
	return p.Native().(*pipeline)
}
