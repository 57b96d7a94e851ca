package vulkan

import (
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/math"
)

// allRemaining is VK_REMAINING_MIP_LEVELS and VK_REMAINING_ARRAY_LAYERS.
const allRemaining = ^uint32(0)

type nativeCommandList struct {
	handle vk.CommandBuffer
}

func (l *nativeCommandList) Begin(oneTimeSubmit bool) error {
	info := vk.CommandBufferBeginInfo{SType: vk.StructureTypeCommandBufferBeginInfo}
	if oneTimeSubmit {
		info.Flags = vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit)
	}
	return check(vk.BeginCommandBuffer(l.handle, &info), "vkBeginCommandBuffer")
}

func (l *nativeCommandList) End() error {
	return check(vk.EndCommandBuffer(l.handle), "vkEndCommandBuffer")
}

func (l *nativeCommandList) Reset() error {
	return check(vk.ResetCommandBuffer(l.handle, 0), "vkResetCommandBuffer")
}

func (l *nativeCommandList) PipelineBarrier(srcStages, dstStages vk.PipelineStageFlags, memory []MemoryBarrier, buffers []BufferBarrier, images []ImageBarrier) {
	memoryBarriers := make([]vk.MemoryBarrier, len(memory))
	for i, m := range memory {
		memoryBarriers[i] = vk.MemoryBarrier{
			SType:         vk.StructureTypeMemoryBarrier,
			SrcAccessMask: m.SrcAccess,
			DstAccessMask: m.DstAccess,
		}
	}
	bufferBarriers := make([]vk.BufferMemoryBarrier, len(buffers))
	for i, b := range buffers {
		bufferBarriers[i] = vk.BufferMemoryBarrier{
			SType:               vk.StructureTypeBufferMemoryBarrier,
			SrcAccessMask:       b.SrcAccess,
			DstAccessMask:       b.DstAccess,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Buffer:              b.Buffer.(*vkBuffer).handle,
			Size:                vk.DeviceSize(vk.WholeSize),
		}
	}
	imageBarriers := make([]vk.ImageMemoryBarrier, len(images))
	for i, img := range images {
		imageBarriers[i] = vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       img.SrcAccess,
			DstAccessMask:       img.DstAccess,
			OldLayout:           img.OldLayout,
			NewLayout:           img.NewLayout,
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               img.Image.(*nativeImage).handle,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask: img.Aspect,
				LevelCount: allRemaining,
				LayerCount: allRemaining,
			},
		}
	}
	vk.CmdPipelineBarrier(l.handle, srcStages, dstStages, 0,
		uint32(len(memoryBarriers)), memoryBarriers,
		uint32(len(bufferBarriers)), bufferBarriers,
		uint32(len(imageBarriers)), imageBarriers)
}

func (l *nativeCommandList) BeginRenderPass(pass RenderPass, framebuffer Framebuffer, width, height uint32, clears []ClearValue) {
	native := make([]vk.ClearValue, len(clears))
	for i, c := range clears {
		if c.DepthStencil {
			native[i].SetDepthStencil(c.Depth, c.Stencil)
		} else {
			native[i].SetColor(c.Color[:])
		}
	}
	vk.CmdBeginRenderPass(l.handle, &vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  handleOf[vk.RenderPass](pass),
		Framebuffer: handleOf[vk.Framebuffer](framebuffer),
		RenderArea: vk.Rect2D{
			Extent: vk.Extent2D{Width: width, Height: height},
		},
		ClearValueCount: uint32(len(native)),
		PClearValues:    native,
	}, vk.SubpassContentsInline)
}

func (l *nativeCommandList) EndRenderPass() {
	vk.CmdEndRenderPass(l.handle)
}

func (l *nativeCommandList) BindPipeline(bindPoint vk.PipelineBindPoint, pipeline Pipeline) {
	vk.CmdBindPipeline(l.handle, bindPoint, handleOf[vk.Pipeline](pipeline))
}

func (l *nativeCommandList) BindDescriptorSets(bindPoint vk.PipelineBindPoint, layout PipelineLayout, firstSet uint32, sets []DescriptorSet) {
	native := make([]vk.DescriptorSet, len(sets))
	for i, set := range sets {
		native[i] = set.(vk.DescriptorSet)
	}
	vk.CmdBindDescriptorSets(l.handle, bindPoint, handleOf[vk.PipelineLayout](layout), firstSet,
		uint32(len(native)), native, 0, nil)
}

func (l *nativeCommandList) PushConstants(layout PipelineLayout, stages vk.ShaderStageFlags, offset uint32, data []byte) {
	if len(data) == 0 {
		return
	}
	vk.CmdPushConstants(l.handle, handleOf[vk.PipelineLayout](layout), stages, offset, uint32(len(data)), unsafe.Pointer(&data[0]))
}

func (l *nativeCommandList) BindVertexBuffers(firstBinding uint32, buffers []Buffer, offsets []uint64) {
	native := make([]vk.Buffer, len(buffers))
	nativeOffsets := make([]vk.DeviceSize, len(buffers))
	for i, b := range buffers {
		native[i] = b.(*vkBuffer).handle
		nativeOffsets[i] = vk.DeviceSize(offsets[i])
	}
	vk.CmdBindVertexBuffers(l.handle, firstBinding, uint32(len(native)), native, nativeOffsets)
}

func (l *nativeCommandList) BindIndexBuffer(buffer Buffer, offset uint64, indexType vk.IndexType) {
	vk.CmdBindIndexBuffer(l.handle, buffer.(*vkBuffer).handle, vk.DeviceSize(offset), indexType)
}

func (l *nativeCommandList) SetViewport(viewport math.Viewport) {
	vk.CmdSetViewport(l.handle, 0, 1, []vk.Viewport{{
		X:        viewport.X,
		Y:        viewport.Y,
		Width:    viewport.Width,
		Height:   viewport.Height,
		MinDepth: viewport.MinDepth,
		MaxDepth: viewport.MaxDepth,
	}})
}

func (l *nativeCommandList) SetScissor(scissor math.Rect) {
	vk.CmdSetScissor(l.handle, 0, 1, []vk.Rect2D{{
		Offset: vk.Offset2D{X: scissor.X, Y: scissor.Y},
		Extent: vk.Extent2D{Width: scissor.Width, Height: scissor.Height},
	}})
}

func (l *nativeCommandList) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	vk.CmdDraw(l.handle, vertexCount, instanceCount, firstVertex, firstInstance)
}

func (l *nativeCommandList) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	vk.CmdDrawIndexed(l.handle, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

func (l *nativeCommandList) Dispatch(groupCountX, groupCountY, groupCountZ uint32) {
	vk.CmdDispatch(l.handle, groupCountX, groupCountY, groupCountZ)
}

func (l *nativeCommandList) CopyBuffer(src, dst Buffer, srcOffset, dstOffset, size uint64) {
	vk.CmdCopyBuffer(l.handle, src.(*vkBuffer).handle, dst.(*vkBuffer).handle, 1, []vk.BufferCopy{{
		SrcOffset: vk.DeviceSize(srcOffset),
		DstOffset: vk.DeviceSize(dstOffset),
		Size:      vk.DeviceSize(size),
	}})
}

func (l *nativeCommandList) CopyBufferToImage(src Buffer, dst Image, region BufferImageCopy) {
	vk.CmdCopyBufferToImage(l.handle, src.(*vkBuffer).handle, dst.(*nativeImage).handle,
		vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{{
			BufferOffset: vk.DeviceSize(region.BufferOffset),
			ImageSubresource: vk.ImageSubresourceLayers{
				AspectMask: region.Aspect,
				LayerCount: 1,
			},
			ImageExtent: vk.Extent3D{Width: region.Width, Height: region.Height, Depth: 1},
		}})
}
