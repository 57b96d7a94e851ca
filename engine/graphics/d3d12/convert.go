package d3d12

import (
	"github.com/spaghettifunk/prism/engine/graphics"
)

var resourceStateBits = [...]struct {
	state  graphics.ResourceState
	native uint32
}{
	{graphics.ResourceStateVertexAndConstantBuffer, RESOURCE_STATE_VERTEX_AND_CONSTANT_BUFFER},
	{graphics.ResourceStateIndexBuffer, RESOURCE_STATE_INDEX_BUFFER},
	{graphics.ResourceStateRenderTarget, RESOURCE_STATE_RENDER_TARGET},
	{graphics.ResourceStateUnorderedAccess, RESOURCE_STATE_UNORDERED_ACCESS},
	{graphics.ResourceStateDepthWrite, RESOURCE_STATE_DEPTH_WRITE},
	{graphics.ResourceStateDepthRead, RESOURCE_STATE_DEPTH_READ},
	{graphics.ResourceStateNonPixelShaderResource, RESOURCE_STATE_NON_PIXEL_SHADER_RESOURCE},
	{graphics.ResourceStatePixelShaderResource, RESOURCE_STATE_PIXEL_SHADER_RESOURCE},
	{graphics.ResourceStateIndirectArgument, RESOURCE_STATE_INDIRECT_ARGUMENT},
	{graphics.ResourceStateCopyDest, RESOURCE_STATE_COPY_DEST},
	{graphics.ResourceStateCopySource, RESOURCE_STATE_COPY_SOURCE},
	{graphics.ResourceStateResolveDest, RESOURCE_STATE_RESOLVE_DEST},
	{graphics.ResourceStateResolveSource, RESOURCE_STATE_RESOLVE_SOURCE},
}

// convertResourceState maps tracked states onto D3D12 states. Common and
// Present both map to zero.
func convertResourceState(state graphics.ResourceState) uint32 {
	var native uint32
	for _, bit := range resourceStateBits {
		if state&bit.state != 0 {
			native |= bit.native
		}
	}
	return native
}

func convertBarrierFlags(flags graphics.BarrierFlags) uint32 {
	switch flags {
	case graphics.BarrierFlagBeginOnly:
		return RESOURCE_BARRIER_FLAG_BEGIN_ONLY
	case graphics.BarrierFlagEndOnly:
		return RESOURCE_BARRIER_FLAG_END_ONLY
	}
	return RESOURCE_BARRIER_FLAG_NONE
}

func convertTopology(topology graphics.PrimitiveTopology) uint32 {
	switch topology {
	case graphics.PrimitiveTopologyPointList:
		return PRIMITIVE_TOPOLOGY_POINTLIST
	case graphics.PrimitiveTopologyLineList:
		return PRIMITIVE_TOPOLOGY_LINELIST
	case graphics.PrimitiveTopologyLineStrip:
		return PRIMITIVE_TOPOLOGY_LINESTRIP
	case graphics.PrimitiveTopologyTriangleList:
		return PRIMITIVE_TOPOLOGY_TRIANGLELIST
	case graphics.PrimitiveTopologyTriangleStrip:
		return PRIMITIVE_TOPOLOGY_TRIANGLESTRIP
	}
	return PRIMITIVE_TOPOLOGY_UNDEFINED
}

// convertTopologyType is the topology class baked into a pipeline state
// object. Switching between list and strip of one class keeps the PSO.
func convertTopologyType(topology graphics.PrimitiveTopology) uint32 {
	switch topology {
	case graphics.PrimitiveTopologyPointList:
		return PRIMITIVE_TOPOLOGY_TYPE_POINT
	case graphics.PrimitiveTopologyLineList, graphics.PrimitiveTopologyLineStrip:
		return PRIMITIVE_TOPOLOGY_TYPE_LINE
	case graphics.PrimitiveTopologyTriangleList, graphics.PrimitiveTopologyTriangleStrip:
		return PRIMITIVE_TOPOLOGY_TYPE_TRIANGLE
	}
	return PRIMITIVE_TOPOLOGY_TYPE_UNDEFINED
}

func convertInputRate(rate graphics.VertexInputRate) (class, stepRate uint32) {
	if rate == graphics.VertexInputRateInstance {
		return INPUT_CLASSIFICATION_PER_INSTANCE_DATA, 1
	}
	return INPUT_CLASSIFICATION_PER_VERTEX_DATA, 0
}

// convertHeapType picks where a buffer lives. CPU written buffers stay on
// the upload heap and are never transitioned.
func convertHeapType(usage graphics.ResourceUsage) uint32 {
	switch usage {
	case graphics.ResourceUsageDynamic, graphics.ResourceUsageStaging:
		return HEAP_TYPE_UPLOAD
	}
	return HEAP_TYPE_DEFAULT
}

func convertTextureFlags(format graphics.PixelFormat, usage graphics.TextureUsage) uint32 {
	var flags uint32
	if usage&graphics.TextureUsageRenderTarget != 0 {
		if format.IsDepth() {
			flags |= RESOURCE_FLAG_ALLOW_DEPTH_STENCIL
			if usage&graphics.TextureUsageShaderRead == 0 {
				flags |= RESOURCE_FLAG_DENY_SHADER_RESOURCE
			}
		} else {
			flags |= RESOURCE_FLAG_ALLOW_RENDER_TARGET
		}
	}
	if usage&graphics.TextureUsageShaderWrite != 0 {
		flags |= RESOURCE_FLAG_ALLOW_UNORDERED_ACCESS
	}
	return flags
}

// descriptorRangeType classifies one binding of a set layout.
func descriptorRangeType(layout *graphics.DescriptorSetLayout, binding uint32) uint32 {
	bit := uint32(1) << binding
	switch {
	case layout.UniformBufferMask&bit != 0:
		return DESCRIPTOR_RANGE_TYPE_CBV
	case (layout.StorageBufferMask|layout.StorageTextureMask)&bit != 0:
		return DESCRIPTOR_RANGE_TYPE_UAV
	}
	return DESCRIPTOR_RANGE_TYPE_SRV
}
