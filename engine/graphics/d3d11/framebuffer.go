package d3d11

import (
	"github.com/spaghettifunk/prism/engine/graphics"
)

// framebuffer is the set of views a render pass binds with
// OMSetRenderTargets.
type framebuffer struct {
	colors [graphics.MAX_COLOR_ATTACHMENTS]RenderTargetView
	count  uint32
	depth  DepthStencilView
}

func (fb *framebuffer) release() {
	for i := uint32(0); i < fb.count; i++ {
		if fb.colors[i] != nil {
			fb.colors[i].Release()
			fb.colors[i] = nil
		}
	}
	if fb.depth != nil {
		fb.depth.Release()
		fb.depth = nil
	}
}

func (b *Backend) requestFramebuffer(desc *graphics.RenderPassDescriptor) (*framebuffer, error) {
	return b.framebuffers.Request(desc.FramebufferHash(), func() (*framebuffer, error) {
		return b.createFramebuffer(desc)
	})
}

func (b *Backend) createFramebuffer(desc *graphics.RenderPassDescriptor) (*framebuffer, error) {
	fb := &framebuffer{count: desc.ColorAttachmentCount()}
	for i := uint32(0); i < fb.count; i++ {
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

		rtv, err := b.device.CreateRenderTargetView(tex.handle, &view)
		if err != nil {
			fb.release()
			return nil, graphics.NativeError(err, "creating render target view %d of %q", i, desc.Label)
		}
		fb.colors[i] = rtv
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

		dsv, err := b.device.CreateDepthStencilView(tex.handle, &view)
		if err != nil {
			fb.release()
			return nil, graphics.NativeError(err, "creating depth stencil view of %q", desc.Label)
		}
		fb.depth = dsv
	}
	return fb, nil
}
