package graphics

import (
	"github.com/spaghettifunk/prism/engine/math"
)

type RenderPassColorAttachment struct {
	Texture     *Texture
	Level       uint32
	Slice       uint32
	LoadAction  LoadAction
	StoreAction StoreAction
	ClearColor  math.Color
}

type RenderPassDepthStencilAttachment struct {
	Texture            *Texture
	Level              uint32
	Slice              uint32
	DepthLoadAction    LoadAction
	DepthStoreAction   StoreAction
	ClearDepth         float32
	StencilLoadAction  LoadAction
	StencilStoreAction StoreAction
	ClearStencil       uint8
}

type RenderPassDescriptor struct {
	ColorAttachments       [MAX_COLOR_ATTACHMENTS]RenderPassColorAttachment
	DepthStencilAttachment RenderPassDepthStencilAttachment
	Label                  string
}

// ColorAttachmentCount counts the leading attachments with a texture.
func (d *RenderPassDescriptor) ColorAttachmentCount() uint32 {
	var count uint32
	for i := range d.ColorAttachments {
		if d.ColorAttachments[i].Texture == nil {
			break
		}
		count++
	}
	return count
}

func (d *RenderPassDescriptor) HasDepthStencil() bool {
	return d.DepthStencilAttachment.Texture != nil
}

// RenderArea is the smallest extent across all attachments.
func (d *RenderPassDescriptor) RenderArea() (width, height uint32) {
	width, height = ^uint32(0), ^uint32(0)
	count := d.ColorAttachmentCount()
	for i := uint32(0); i < count; i++ {
		a := &d.ColorAttachments[i]
		width = min(width, a.Texture.LevelWidth(a.Level))
		height = min(height, a.Texture.LevelHeight(a.Level))
	}
	if ds := &d.DepthStencilAttachment; ds.Texture != nil {
		width = min(width, ds.Texture.LevelWidth(ds.Level))
		height = min(height, ds.Texture.LevelHeight(ds.Level))
	}
	if width == ^uint32(0) {
		return 0, 0
	}
	return width, height
}

// Hash covers everything a native render pass object depends on: formats,
// sample counts, load and store actions, dimensions and attachment count.
// Two descriptors with equal hashes can share one render pass.
func (d *RenderPassDescriptor) Hash() uint64 {
	h := NewHasher()
	count := d.ColorAttachmentCount()
	width, height := d.RenderArea()
	h.U32(count).U32(width).U32(height)
	for i := uint32(0); i < count; i++ {
		a := &d.ColorAttachments[i]
		h.U32(uint32(a.Texture.Format())).
			U32(uint32(a.Texture.SampleCount())).
			U32(uint32(a.LoadAction)).
			U32(uint32(a.StoreAction))
	}
	if ds := &d.DepthStencilAttachment; ds.Texture != nil {
		h.Bool(true).
			U32(uint32(ds.Texture.Format())).
			U32(uint32(ds.Texture.SampleCount())).
			U32(uint32(ds.DepthLoadAction)).
			U32(uint32(ds.DepthStoreAction)).
			U32(uint32(ds.StencilLoadAction)).
			U32(uint32(ds.StencilStoreAction))
	} else {
		h.Bool(false)
	}
	return h.Sum()
}

// FramebufferHash extends Hash with the identity of every attached view.
func (d *RenderPassDescriptor) FramebufferHash() uint64 {
	h := NewHasher().U64(d.Hash())
	count := d.ColorAttachmentCount()
	for i := uint32(0); i < count; i++ {
		a := &d.ColorAttachments[i]
		h.U64(uint64(a.Texture.ID())).U32(a.Level).U32(a.Slice)
	}
	if ds := &d.DepthStencilAttachment; ds.Texture != nil {
		h.U64(uint64(ds.Texture.ID())).U32(ds.Level).U32(ds.Slice)
	}
	return h.Sum()
}
