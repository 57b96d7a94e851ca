package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/graphics"
)

// Attachments stay in their attachment layout across the pass. Moving them
// in and out is the job of the barrier batch, so the render pass never
// changes the layout the command buffer mirrors.
const (
	colorAttachmentLayout = vk.ImageLayoutColorAttachmentOptimal
	depthAttachmentLayout = vk.ImageLayoutDepthStencilAttachmentOptimal
)

// renderPassKey separates the resume variant, which loads every attachment
// instead of clearing it, from the pass described by desc.
func renderPassKey(desc *graphics.RenderPassDescriptor, resume bool) uint64 {
	return graphics.NewHasher().U64(desc.Hash()).Bool(resume).Sum()
}

// renderPassCompatibility hashes what decides render pass compatibility:
// attachment formats and sample counts. Pipelines built against one pass
// can be used inside every compatible one.
func renderPassCompatibility(desc *graphics.RenderPassDescriptor) uint64 {
	h := graphics.NewHasher()
	count := desc.ColorAttachmentCount()
	h.U32(count)
	for i := uint32(0); i < count; i++ {
		tex := nativeTexture(desc.ColorAttachments[i].Texture)
		h.U32(uint32(tex.format)).U32(uint32(tex.desc.SampleCount))
	}
	if ds := desc.DepthStencilAttachment.Texture; ds != nil {
		tex := nativeTexture(ds)
		h.U32(uint32(tex.format)).U32(uint32(tex.desc.SampleCount))
	} else {
		h.U32(0)
	}
	return h.Sum()
}

func describeRenderPass(desc *graphics.RenderPassDescriptor, resume bool) *RenderPassDesc {
	load := func(action graphics.LoadAction) vk.AttachmentLoadOp {
		if resume {
			return vk.AttachmentLoadOpLoad
		}
		return convertLoadAction(action)
	}

	rp := &RenderPassDesc{}
	for i := uint32(0); i < desc.ColorAttachmentCount(); i++ {
		a := &desc.ColorAttachments[i]
		tex := nativeTexture(a.Texture)
		rp.Colors = append(rp.Colors, AttachmentDesc{
			Format:         tex.format,
			Samples:        convertSampleCount(tex.desc.SampleCount),
			LoadOp:         load(a.LoadAction),
			StoreOp:        convertStoreAction(a.StoreAction),
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			Layout:         colorAttachmentLayout,
		})
	}
	if ds := &desc.DepthStencilAttachment; ds.Texture != nil {
		tex := nativeTexture(ds.Texture)
		depth := AttachmentDesc{
			Format:         tex.format,
			Samples:        convertSampleCount(tex.desc.SampleCount),
			LoadOp:         load(ds.DepthLoadAction),
			StoreOp:        convertStoreAction(ds.DepthStoreAction),
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			Layout:         depthAttachmentLayout,
		}
		if tex.desc.Format.HasStencil() {
			depth.StencilLoadOp = load(ds.StencilLoadAction)
			depth.StencilStoreOp = convertStoreAction(ds.StencilStoreAction)
		}
		rp.Depth = &depth
	}
	return rp
}

func (b *Backend) requestRenderPass(desc *graphics.RenderPassDescriptor, resume bool) (RenderPass, error) {
	return b.renderPasses.Request(renderPassKey(desc, resume), func() (RenderPass, error) {
		pass, err := b.device.CreateRenderPass(describeRenderPass(desc, resume))
		if err != nil {
			return nil, graphics.NativeError(err, "creating render pass %q", desc.Label)
		}
		return pass, nil
	})
}

// framebuffer owns the single level views of its attachments.
type framebuffer struct {
	handle Framebuffer
	views  []ImageView
	width  uint32
	height uint32
}

func (fb *framebuffer) release() {
	if fb.handle != nil {
		fb.handle.Destroy()
		fb.handle = nil
	}
	for _, view := range fb.views {
		view.Destroy()
	}
	fb.views = nil
}

func (b *Backend) requestFramebuffer(desc *graphics.RenderPassDescriptor, pass RenderPass) (*framebuffer, error) {
	return b.framebuffers.Request(desc.FramebufferHash(), func() (*framebuffer, error) {
		return b.createFramebuffer(desc, pass)
	})
}

func (b *Backend) attachmentView(tex *texture, level, slice uint32) (ImageView, error) {
	return b.device.CreateImageView(&ImageViewDesc{
		Image:      tex.image,
		Format:     tex.format,
		ViewType:   vk.ImageViewType2d,
		Aspect:     tex.aspect,
		BaseLevel:  level,
		LevelCount: 1,
		BaseLayer:  slice,
		LayerCount: 1,
	})
}

func (b *Backend) createFramebuffer(desc *graphics.RenderPassDescriptor, pass RenderPass) (*framebuffer, error) {
	fb := &framebuffer{}
	fb.width, fb.height = desc.RenderArea()
	for i := uint32(0); i < desc.ColorAttachmentCount(); i++ {
		a := &desc.ColorAttachments[i]
		view, err := b.attachmentView(nativeTexture(a.Texture), a.Level, a.Slice)
		if err != nil {
			fb.release()
			return nil, graphics.NativeError(err, "creating view of color attachment %d of %q", i, desc.Label)
		}
		fb.views = append(fb.views, view)
	}
	if ds := &desc.DepthStencilAttachment; ds.Texture != nil {
		view, err := b.attachmentView(nativeTexture(ds.Texture), ds.Level, ds.Slice)
		if err != nil {
			fb.release()
			return nil, graphics.NativeError(err, "creating view of depth attachment of %q", desc.Label)
		}
		fb.views = append(fb.views, view)
	}

	handle, err := b.device.CreateFramebuffer(pass, fb.views, fb.width, fb.height)
	if err != nil {
		fb.release()
		return nil, graphics.NativeError(err, "creating framebuffer of %q", desc.Label)
	}
	fb.handle = handle
	return fb, nil
}

// clearValues lists one clear value per attachment in framebuffer order.
func clearValues(desc *graphics.RenderPassDescriptor) []ClearValue {
	count := desc.ColorAttachmentCount()
	clears := make([]ClearValue, 0, count+1)
	for i := uint32(0); i < count; i++ {
		clears = append(clears, ClearValue{Color: [4]float32(desc.ColorAttachments[i].ClearColor)})
	}
	if ds := &desc.DepthStencilAttachment; ds.Texture != nil {
		clears = append(clears, ClearValue{DepthStencil: true, Depth: ds.ClearDepth, Stencil: uint32(ds.ClearStencil)})
	}
	return clears
}
