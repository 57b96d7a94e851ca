package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/graphics"
	"github.com/stretchr/testify/assert"
)

func TestConvertImageLayout(t *testing.T) {
	tests := []struct {
		state graphics.ResourceState
		want  vk.ImageLayout
	}{
		{graphics.ResourceStateCommon, vk.ImageLayoutGeneral},
		{graphics.ResourceStateRenderTarget, vk.ImageLayoutColorAttachmentOptimal},
		{graphics.ResourceStateDepthWrite, vk.ImageLayoutDepthStencilAttachmentOptimal},
		{graphics.ResourceStateDepthRead, vk.ImageLayoutDepthStencilReadOnlyOptimal},
		{graphics.ResourceStateUnorderedAccess, vk.ImageLayoutGeneral},
		{graphics.ResourceStatePixelShaderResource, vk.ImageLayoutShaderReadOnlyOptimal},
		{graphics.ResourceStateNonPixelShaderResource | graphics.ResourceStatePixelShaderResource, vk.ImageLayoutShaderReadOnlyOptimal},
		{graphics.ResourceStateCopyDest, vk.ImageLayoutTransferDstOptimal},
		{graphics.ResourceStateCopySource, vk.ImageLayoutTransferSrcOptimal},
		{graphics.ResourceStateCopySource | graphics.ResourceStatePixelShaderResource, vk.ImageLayoutGeneral},
		{graphics.ResourceStatePresent, vk.ImageLayoutPresentSrc},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, convertImageLayout(tt.state), "state %#x", uint32(tt.state))
	}
}

func TestAccessAndStageMasks(t *testing.T) {
	assert.Zero(t, convertAccess(graphics.ResourceStateCommon))
	assert.Zero(t, convertAccess(graphics.ResourceStatePresent))
	assert.Equal(t, vk.AccessFlags(vk.AccessIndexReadBit), convertAccess(graphics.ResourceStateIndexBuffer))
	assert.Equal(t, vk.AccessFlags(vk.AccessTransferReadBit|vk.AccessShaderReadBit),
		convertAccess(graphics.ResourceStateCopySource|graphics.ResourceStatePixelShaderResource))

	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit), srcStages(graphics.ResourceStateCommon))
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit), srcStages(graphics.ResourceStatePresent))
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit), dstStages(graphics.ResourceStatePresent))
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit), dstStages(graphics.ResourceStatePixelShaderResource))
}

func TestConvertFormats(t *testing.T) {
	assert.Equal(t, vk.FormatB8g8r8a8Srgb, convertPixelFormat(graphics.PixelFormatBGRA8UnormSrgb))
	assert.Equal(t, vk.FormatD24UnormS8Uint, convertPixelFormat(graphics.PixelFormatDepth24UnormStencil8))
	assert.Equal(t, vk.FormatUndefined, convertPixelFormat(graphics.PixelFormatUndefined))
	assert.Equal(t, vk.FormatR32g32b32Sfloat, convertVertexFormat(graphics.VertexFormatFloat3))
	assert.Equal(t, vk.FormatR8g8b8a8Unorm, convertVertexFormat(graphics.VertexFormatUByte4Normalized))

	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectColorBit), convertAspect(graphics.PixelFormatRGBA8Unorm))
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectDepthBit), convertAspect(graphics.PixelFormatDepth32Float))
	assert.Equal(t, vk.ImageAspectFlags(vk.ImageAspectDepthBit|vk.ImageAspectStencilBit),
		convertAspect(graphics.PixelFormatDepth32FloatStencil8))
}

func TestConvertUsage(t *testing.T) {
	usage := convertBufferUsage(graphics.BufferUsageVertex | graphics.BufferUsageIndex)
	assert.NotZero(t, usage&vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit))
	assert.NotZero(t, usage&vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit))
	assert.Zero(t, usage&vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit))

	depth := convertTextureUsage(&graphics.TextureDescriptor{
		Format: graphics.PixelFormatDepth32Float,
		Usage:  graphics.TextureUsageRenderTarget | graphics.TextureUsageShaderRead,
	})
	assert.NotZero(t, depth&vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit))
	assert.NotZero(t, depth&vk.ImageUsageFlags(vk.ImageUsageSampledBit))
	assert.Zero(t, depth&vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit))
}

func TestDescriptorTypes(t *testing.T) {
	layout := &graphics.DescriptorSetLayout{
		UniformBufferMask:  1 << 0,
		StorageBufferMask:  1 << 1,
		SampledTextureMask: 1 << 2,
		StorageTextureMask: 1 << 3,
		TexelBufferMask:    1 << 4,
	}
	assert.Equal(t, vk.DescriptorTypeUniformBuffer, descriptorType(layout, 0))
	assert.Equal(t, vk.DescriptorTypeStorageBuffer, descriptorType(layout, 1))
	assert.Equal(t, vk.DescriptorTypeCombinedImageSampler, descriptorType(layout, 2))
	assert.Equal(t, vk.DescriptorTypeStorageImage, descriptorType(layout, 3))
	assert.Equal(t, vk.DescriptorTypeUniformTexelBuffer, descriptorType(layout, 4))

	stages := convertShaderStages(graphics.ShaderStageVertex.Flag() | graphics.ShaderStageFragment.Flag())
	assert.Equal(t, vk.ShaderStageFlags(vk.ShaderStageVertexBit|vk.ShaderStageFragmentBit), stages)
}

func TestCheckMarksResults(t *testing.T) {
	assert.NoError(t, check(vk.Success, "vkTest"))
	assert.NoError(t, check(vk.Suboptimal, "vkTest"))
	assert.ErrorContains(t, check(vk.ErrorOutOfDeviceMemory, "vkAllocateMemory"), "VK_ERROR_OUT_OF_DEVICE_MEMORY")
	assert.Equal(t, "VkResult(-12345)", resultString(vk.Result(-12345)))
	assert.Equal(t, "VK_KHR_swapchain", cString([]byte{'V', 'K', '_', 'K', 'H', 'R', '_', 's', 'w', 'a', 'p', 'c', 'h', 'a', 'i', 'n', 0, 'x'}))
	assert.Equal(t, "layer\x00", safeString("layer"))
}
