package graphics

type TextureDescriptor struct {
	Type        TextureType
	Format      PixelFormat
	Usage       TextureUsage
	Width       uint32
	Height      uint32
	Depth       uint32
	ArrayLayers uint32
	MipLevels   uint32
	SampleCount SampleCount
	Label       string
}

type NativeTexture interface {
	NativeResource
}

type Texture struct {
	resourceBase
	desc      TextureDescriptor
	tracker   ResourceTracker
	swapchain bool
}

func (t *Texture) Descriptor() TextureDescriptor {
	return t.desc
}

func (t *Texture) Format() PixelFormat {
	return t.desc.Format
}

func (t *Texture) Width() uint32 {
	return t.desc.Width
}

func (t *Texture) Height() uint32 {
	return t.desc.Height
}

func (t *Texture) SampleCount() SampleCount {
	return t.desc.SampleCount
}

// LevelWidth returns the width of a mip level, never below one texel.
func (t *Texture) LevelWidth(level uint32) uint32 {
	return max(t.desc.Width>>level, 1)
}

func (t *Texture) LevelHeight(level uint32) uint32 {
	return max(t.desc.Height>>level, 1)
}

// IsSwapchain reports whether the texture is owned by the presentation engine.
func (t *Texture) IsSwapchain() bool {
	return t.swapchain
}

func (t *Texture) Native() NativeTexture {
	if t.native == nil {
		return nil
	}
	return t.native.(NativeTexture)
}

func (t *Texture) Tracker() *ResourceTracker {
	return &t.tracker
}

// InitialTextureState is the state a new texture is created in.
func InitialTextureState(desc *TextureDescriptor) ResourceState {
	switch {
	case desc.Format.IsDepth() && desc.Usage&TextureUsageRenderTarget != 0:
		return ResourceStateDepthWrite
	case desc.Usage&TextureUsageRenderTarget != 0:
		return ResourceStateRenderTarget
	case desc.Usage&TextureUsageShaderWrite != 0:
		return ResourceStateUnorderedAccess
	}
	return ResourceStatePixelShaderResource
}
