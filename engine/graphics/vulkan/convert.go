package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/graphics"
)

const (
	shaderReadStates = graphics.ResourceStateNonPixelShaderResource | graphics.ResourceStatePixelShaderResource
	copyReadStates   = graphics.ResourceStateCopySource | graphics.ResourceStateResolveSource
	copyWriteStates  = graphics.ResourceStateCopyDest | graphics.ResourceStateResolveDest
)

// convertImageLayout picks the layout an image has to be in for the given
// tracked state. Mixed read states that no optimal layout covers fall back
// to GENERAL.
func convertImageLayout(state graphics.ResourceState) vk.ImageLayout {
	switch {
	case state == graphics.ResourceStateCommon:
		return vk.ImageLayoutGeneral
	case state&graphics.ResourceStateRenderTarget != 0:
		return vk.ImageLayoutColorAttachmentOptimal
	case state&graphics.ResourceStateDepthWrite != 0:
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	case state&graphics.ResourceStateUnorderedAccess != 0:
		return vk.ImageLayoutGeneral
	case state&graphics.ResourceStateDepthRead != 0:
		return vk.ImageLayoutDepthStencilReadOnlyOptimal
	case state&copyWriteStates != 0:
		return vk.ImageLayoutTransferDstOptimal
	case state&copyReadStates != 0 && state&shaderReadStates != 0:
		return vk.ImageLayoutGeneral
	case state&copyReadStates != 0:
		return vk.ImageLayoutTransferSrcOptimal
	case state&shaderReadStates != 0:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case state&graphics.ResourceStatePresent != 0:
		return vk.ImageLayoutPresentSrc
	}
	return vk.ImageLayoutGeneral
}

var accessBits = [...]struct {
	state  graphics.ResourceState
	access vk.AccessFlagBits
}{
	{graphics.ResourceStateVertexAndConstantBuffer, vk.AccessVertexAttributeReadBit | vk.AccessUniformReadBit},
	{graphics.ResourceStateIndexBuffer, vk.AccessIndexReadBit},
	{graphics.ResourceStateRenderTarget, vk.AccessColorAttachmentReadBit | vk.AccessColorAttachmentWriteBit},
	{graphics.ResourceStateUnorderedAccess, vk.AccessShaderReadBit | vk.AccessShaderWriteBit},
	{graphics.ResourceStateDepthWrite, vk.AccessDepthStencilAttachmentReadBit | vk.AccessDepthStencilAttachmentWriteBit},
	{graphics.ResourceStateDepthRead, vk.AccessDepthStencilAttachmentReadBit},
	{graphics.ResourceStateNonPixelShaderResource, vk.AccessShaderReadBit},
	{graphics.ResourceStatePixelShaderResource, vk.AccessShaderReadBit},
	{graphics.ResourceStateIndirectArgument, vk.AccessIndirectCommandReadBit},
	{graphics.ResourceStateCopyDest, vk.AccessTransferWriteBit},
	{graphics.ResourceStateCopySource, vk.AccessTransferReadBit},
	{graphics.ResourceStateResolveDest, vk.AccessTransferWriteBit},
	{graphics.ResourceStateResolveSource, vk.AccessTransferReadBit},
}

// convertAccess returns the memory accesses a state performs. Common and
// Present access nothing.
func convertAccess(state graphics.ResourceState) vk.AccessFlags {
	var access vk.AccessFlags
	for _, bit := range accessBits {
		if state&bit.state != 0 {
			access |= vk.AccessFlags(bit.access)
		}
	}
	return access
}

var stageBits = [...]struct {
	state graphics.ResourceState
	stage vk.PipelineStageFlagBits
}{
	{graphics.ResourceStateVertexAndConstantBuffer, vk.PipelineStageVertexInputBit | vk.PipelineStageVertexShaderBit |
		vk.PipelineStageFragmentShaderBit | vk.PipelineStageComputeShaderBit},
	{graphics.ResourceStateIndexBuffer, vk.PipelineStageVertexInputBit},
	{graphics.ResourceStateRenderTarget, vk.PipelineStageColorAttachmentOutputBit},
	{graphics.ResourceStateUnorderedAccess, vk.PipelineStageVertexShaderBit | vk.PipelineStageFragmentShaderBit |
		vk.PipelineStageComputeShaderBit},
	{graphics.ResourceStateDepthWrite, vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit},
	{graphics.ResourceStateDepthRead, vk.PipelineStageEarlyFragmentTestsBit | vk.PipelineStageLateFragmentTestsBit},
	{graphics.ResourceStateNonPixelShaderResource, vk.PipelineStageVertexShaderBit | vk.PipelineStageComputeShaderBit},
	{graphics.ResourceStatePixelShaderResource, vk.PipelineStageFragmentShaderBit},
	{graphics.ResourceStateIndirectArgument, vk.PipelineStageDrawIndirectBit},
	{graphics.ResourceStateCopyDest, vk.PipelineStageTransferBit},
	{graphics.ResourceStateCopySource, vk.PipelineStageTransferBit},
	{graphics.ResourceStateResolveDest, vk.PipelineStageTransferBit},
	{graphics.ResourceStateResolveSource, vk.PipelineStageTransferBit},
}

func convertStages(state graphics.ResourceState) vk.PipelineStageFlags {
	if state == graphics.ResourceStateCommon {
		return vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
	}
	var stages vk.PipelineStageFlags
	for _, bit := range stageBits {
		if state&bit.state != 0 {
			stages |= vk.PipelineStageFlags(bit.stage)
		}
	}
	return stages
}

// srcStages is the stage mask that has to finish before leaving state.
func srcStages(state graphics.ResourceState) vk.PipelineStageFlags {
	if state == graphics.ResourceStatePresent {
		return vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)
	}
	return convertStages(state)
}

// dstStages is the stage mask that waits before entering state.
func dstStages(state graphics.ResourceState) vk.PipelineStageFlags {
	if state == graphics.ResourceStatePresent {
		return vk.PipelineStageFlags(vk.PipelineStageBottomOfPipeBit)
	}
	return convertStages(state)
}

func convertPixelFormat(format graphics.PixelFormat) vk.Format {
	switch format {
	case graphics.PixelFormatR8Unorm:
		return vk.FormatR8Unorm
	case graphics.PixelFormatRG8Unorm:
		return vk.FormatR8g8Unorm
	case graphics.PixelFormatRGBA8Unorm:
		return vk.FormatR8g8b8a8Unorm
	case graphics.PixelFormatRGBA8UnormSrgb:
		return vk.FormatR8g8b8a8Srgb
	case graphics.PixelFormatBGRA8Unorm:
		return vk.FormatB8g8r8a8Unorm
	case graphics.PixelFormatBGRA8UnormSrgb:
		return vk.FormatB8g8r8a8Srgb
	case graphics.PixelFormatR16Float:
		return vk.FormatR16Sfloat
	case graphics.PixelFormatRG16Float:
		return vk.FormatR16g16Sfloat
	case graphics.PixelFormatRGBA16Float:
		return vk.FormatR16g16b16a16Sfloat
	case graphics.PixelFormatR32Uint:
		return vk.FormatR32Uint
	case graphics.PixelFormatR32Float:
		return vk.FormatR32Sfloat
	case graphics.PixelFormatRG32Float:
		return vk.FormatR32g32Sfloat
	case graphics.PixelFormatRGBA32Float:
		return vk.FormatR32g32b32a32Sfloat
	case graphics.PixelFormatDepth16Unorm:
		return vk.FormatD16Unorm
	case graphics.PixelFormatDepth32Float:
		return vk.FormatD32Sfloat
	case graphics.PixelFormatDepth24UnormStencil8:
		return vk.FormatD24UnormS8Uint
	case graphics.PixelFormatDepth32FloatStencil8:
		return vk.FormatD32SfloatS8Uint
	}
	return vk.FormatUndefined
}

func convertVertexFormat(format graphics.VertexFormat) vk.Format {
	switch format {
	case graphics.VertexFormatFloat:
		return vk.FormatR32Sfloat
	case graphics.VertexFormatFloat2:
		return vk.FormatR32g32Sfloat
	case graphics.VertexFormatFloat3:
		return vk.FormatR32g32b32Sfloat
	case graphics.VertexFormatFloat4:
		return vk.FormatR32g32b32a32Sfloat
	case graphics.VertexFormatByte4:
		return vk.FormatR8g8b8a8Sint
	case graphics.VertexFormatByte4Normalized:
		return vk.FormatR8g8b8a8Snorm
	case graphics.VertexFormatUByte4:
		return vk.FormatR8g8b8a8Uint
	case graphics.VertexFormatUByte4Normalized:
		return vk.FormatR8g8b8a8Unorm
	case graphics.VertexFormatShort2:
		return vk.FormatR16g16Sint
	case graphics.VertexFormatShort2Normalized:
		return vk.FormatR16g16Snorm
	case graphics.VertexFormatShort4:
		return vk.FormatR16g16b16a16Sint
	case graphics.VertexFormatShort4Normalized:
		return vk.FormatR16g16b16a16Snorm
	case graphics.VertexFormatHalf2:
		return vk.FormatR16g16Sfloat
	case graphics.VertexFormatHalf4:
		return vk.FormatR16g16b16a16Sfloat
	case graphics.VertexFormatUInt:
		return vk.FormatR32Uint
	case graphics.VertexFormatUInt2:
		return vk.FormatR32g32Uint
	case graphics.VertexFormatUInt4:
		return vk.FormatR32g32b32a32Uint
	case graphics.VertexFormatInt:
		return vk.FormatR32Sint
	case graphics.VertexFormatInt4:
		return vk.FormatR32g32b32a32Sint
	}
	return vk.FormatUndefined
}

func convertAspect(format graphics.PixelFormat) vk.ImageAspectFlags {
	if !format.IsDepth() {
		return vk.ImageAspectFlags(vk.ImageAspectColorBit)
	}
	aspect := vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	if format.HasStencil() {
		aspect |= vk.ImageAspectFlags(vk.ImageAspectStencilBit)
	}
	return aspect
}

func convertTopology(topology graphics.PrimitiveTopology) vk.PrimitiveTopology {
	switch topology {
	case graphics.PrimitiveTopologyPointList:
		return vk.PrimitiveTopologyPointList
	case graphics.PrimitiveTopologyLineList:
		return vk.PrimitiveTopologyLineList
	case graphics.PrimitiveTopologyLineStrip:
		return vk.PrimitiveTopologyLineStrip
	case graphics.PrimitiveTopologyTriangleStrip:
		return vk.PrimitiveTopologyTriangleStrip
	}
	return vk.PrimitiveTopologyTriangleList
}

func convertIndexType(indexType graphics.IndexType) vk.IndexType {
	if indexType == graphics.IndexTypeUInt32 {
		return vk.IndexTypeUint32
	}
	return vk.IndexTypeUint16
}

func convertInputRate(rate graphics.VertexInputRate) vk.VertexInputRate {
	if rate == graphics.VertexInputRateInstance {
		return vk.VertexInputRateInstance
	}
	return vk.VertexInputRateVertex
}

func convertSampleCount(count graphics.SampleCount) vk.SampleCountFlagBits {
	return vk.SampleCountFlagBits(max(count, graphics.SampleCount1))
}

var shaderStageBits = [graphics.ShaderStageCount]vk.ShaderStageFlagBits{
	graphics.ShaderStageVertex:         vk.ShaderStageVertexBit,
	graphics.ShaderStageTessControl:    vk.ShaderStageTessellationControlBit,
	graphics.ShaderStageTessEvaluation: vk.ShaderStageTessellationEvaluationBit,
	graphics.ShaderStageGeometry:       vk.ShaderStageGeometryBit,
	graphics.ShaderStageFragment:       vk.ShaderStageFragmentBit,
	graphics.ShaderStageCompute:        vk.ShaderStageComputeBit,
}

func convertShaderStages(flags graphics.ShaderStageFlags) vk.ShaderStageFlags {
	var stages vk.ShaderStageFlags
	for stage, bit := range shaderStageBits {
		if flags.Has(graphics.ShaderStage(stage)) {
			stages |= vk.ShaderStageFlags(bit)
		}
	}
	return stages
}

func convertLoadAction(action graphics.LoadAction) vk.AttachmentLoadOp {
	switch action {
	case graphics.LoadActionLoad:
		return vk.AttachmentLoadOpLoad
	case graphics.LoadActionClear:
		return vk.AttachmentLoadOpClear
	}
	return vk.AttachmentLoadOpDontCare
}

func convertStoreAction(action graphics.StoreAction) vk.AttachmentStoreOp {
	if action == graphics.StoreActionStore {
		return vk.AttachmentStoreOpStore
	}
	return vk.AttachmentStoreOpDontCare
}

func convertBufferUsage(usage graphics.BufferUsage) vk.BufferUsageFlags {
	flags := vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit | vk.BufferUsageTransferDstBit)
	if usage&graphics.BufferUsageVertex != 0 {
		flags |= vk.BufferUsageFlags(vk.BufferUsageVertexBufferBit)
	}
	if usage&graphics.BufferUsageIndex != 0 {
		flags |= vk.BufferUsageFlags(vk.BufferUsageIndexBufferBit)
	}
	if usage&graphics.BufferUsageUniform != 0 {
		flags |= vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit | vk.BufferUsageUniformTexelBufferBit)
	}
	if usage&graphics.BufferUsageStorage != 0 {
		flags |= vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit | vk.BufferUsageStorageTexelBufferBit |
			vk.BufferUsageUniformTexelBufferBit)
	}
	if usage&graphics.BufferUsageIndirect != 0 {
		flags |= vk.BufferUsageFlags(vk.BufferUsageIndirectBufferBit)
	}
	return flags
}

func convertTextureUsage(desc *graphics.TextureDescriptor) vk.ImageUsageFlags {
	flags := vk.ImageUsageFlags(vk.ImageUsageTransferSrcBit | vk.ImageUsageTransferDstBit)
	if desc.Usage&graphics.TextureUsageShaderRead != 0 {
		flags |= vk.ImageUsageFlags(vk.ImageUsageSampledBit)
	}
	if desc.Usage&graphics.TextureUsageShaderWrite != 0 {
		flags |= vk.ImageUsageFlags(vk.ImageUsageStorageBit)
	}
	if desc.Usage&graphics.TextureUsageRenderTarget != 0 {
		if desc.Format.IsDepth() {
			flags |= vk.ImageUsageFlags(vk.ImageUsageDepthStencilAttachmentBit)
		} else {
			flags |= vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit)
		}
	}
	return flags
}

// descriptorType returns the descriptor type of a reflected binding.
// Sampled textures are combined with the backend's default sampler.
func descriptorType(layout *graphics.DescriptorSetLayout, binding uint32) vk.DescriptorType {
	bit := uint32(1) << binding
	switch {
	case layout.StorageBufferMask&bit != 0:
		return vk.DescriptorTypeStorageBuffer
	case layout.SampledTextureMask&bit != 0:
		return vk.DescriptorTypeCombinedImageSampler
	case layout.StorageTextureMask&bit != 0:
		return vk.DescriptorTypeStorageImage
	case layout.TexelBufferMask&bit != 0:
		return vk.DescriptorTypeUniformTexelBuffer
	}
	return vk.DescriptorTypeUniformBuffer
}
