package d3d12

import (
	"github.com/spaghettifunk/prism/engine/graphics"
)

// framebuffer holds the RTV and DSV descriptors a render pass binds. The
// descriptors go back to their heaps when the cache evicts it.
type framebuffer struct {
	backend  *Backend
	rtvs     [graphics.MAX_COLOR_ATTACHMENTS]CPU_DESCRIPTOR_HANDLE
	count    uint32
	dsv      CPU_DESCRIPTOR_HANDLE
	hasDepth bool
}

func (fb *framebuffer) release() {
	for i := uint32(0); i < fb.count; i++ {
		fb.backend.rtvs.release(fb.rtvs[i])
		fb.rtvs[i] = CPU_DESCRIPTOR_HANDLE{}
	}
	if fb.hasDepth {
		fb.backend.dsvs.release(fb.dsv)
		fb.dsv = CPU_DESCRIPTOR_HANDLE{}
		fb.hasDepth = false
	}
}

func (b *Backend) requestFramebuffer(desc *graphics.RenderPassDescriptor) (*framebuffer, error) {
	return b.framebuffers.Request(desc.FramebufferHash(), func() (*framebuffer, error) {
		return b.createFramebuffer(desc)
	})
}

func (b *Backend) createFramebuffer(desc *graphics.RenderPassDescriptor) (*framebuffer, error) {
	fb := &framebuffer{backend: b}
	for i := uint32(0); i < desc.ColorAttachmentCount(); i++ {
		attachment := &desc.ColorAttachments[i]
		tex := nativeTexture(attachment.Texture)

		view := VIEW_DESC{Format: tex.format, MipSlice: attachment.Level, FirstArraySlice: attachment.Slice, ArraySize: 1}
		switch {
		case tex.desc.SampleCount > graphics.SampleCount1:
			view.ViewDimension = RTV_DIMENSION_TEXTURE2DMS
		case tex.desc.ArrayLayers > 1 || tex.desc.Type == graphics.TextureTypeCube:
			view.ViewDimension = RTV_DIMENSION_TEXTURE2DARRAY
		default:
			view.ViewDimension = RTV_DIMENSION_TEXTURE2D
		}

		handle, err := b.rtvs.allocate()
		if err != nil {
			fb.release()
			return nil, graphics.NativeError(err, "allocating render target view %d of %q", i, desc.Label)
		}
		b.device.CreateRenderTargetView(tex.resource, &view, handle)
		fb.rtvs[i] = handle
		fb.count++
	}

	if ds := &desc.DepthStencilAttachment; ds.Texture != nil {
		tex := nativeTexture(ds.Texture)
		view := VIEW_DESC{Format: tex.format, MipSlice: ds.Level, FirstArraySlice: ds.Slice, ArraySize: 1}
		switch {
		case tex.desc.SampleCount > graphics.SampleCount1:
			view.ViewDimension = DSV_DIMENSION_TEXTURE2DMS
		case tex.desc.ArrayLayers > 1 || tex.desc.Type == graphics.TextureTypeCube:
			view.ViewDimension = DSV_DIMENSION_TEXTURE2DARRAY
		default:
			view.ViewDimension = DSV_DIMENSION_TEXTURE2D
		}

		handle, err := b.dsvs.allocate()
		if err != nil {
			fb.release()
			return nil, graphics.NativeError(err, "allocating depth stencil view of %q", desc.Label)
		}
		b.device.CreateDepthStencilView(tex.resource, &view, handle)
		fb.dsv = handle
		fb.hasDepth = true
	}
	return fb, nil
}
