package d3d11

import (
	"github.com/spaghettifunk/prism/engine/graphics"
)

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

func convertInputRate(rate graphics.VertexInputRate) (class, stepRate uint32) {
	if rate == graphics.VertexInputRateInstance {
		return INPUT_PER_INSTANCE_DATA, 1
	}
	return INPUT_PER_VERTEX_DATA, 0
}

func convertBufferBindFlags(usage graphics.BufferUsage) uint32 {
	var flags uint32
	if usage&graphics.BufferUsageVertex != 0 {
		flags |= BIND_VERTEX_BUFFER
	}
	if usage&graphics.BufferUsageIndex != 0 {
		flags |= BIND_INDEX_BUFFER
	}
	if usage&graphics.BufferUsageUniform != 0 {
		flags |= BIND_CONSTANT_BUFFER
	}
	if usage&graphics.BufferUsageStorage != 0 {
		flags |= BIND_UNORDERED_ACCESS | BIND_SHADER_RESOURCE
	}
	return flags
}

func convertResourceUsage(usage graphics.ResourceUsage) (d3dUsage, cpuAccess uint32) {
	switch usage {
	case graphics.ResourceUsageImmutable:
		return USAGE_IMMUTABLE, 0
	case graphics.ResourceUsageDynamic:
		return USAGE_DYNAMIC, CPU_ACCESS_WRITE
	case graphics.ResourceUsageStaging:
		return USAGE_STAGING, CPU_ACCESS_READ | CPU_ACCESS_WRITE
	}
	return USAGE_DEFAULT, 0
}

func convertTextureBindFlags(format graphics.PixelFormat, usage graphics.TextureUsage) uint32 {
	var flags uint32
	if usage&graphics.TextureUsageShaderRead != 0 {
		flags |= BIND_SHADER_RESOURCE
	}
	if usage&graphics.TextureUsageShaderWrite != 0 {
		flags |= BIND_UNORDERED_ACCESS
	}
	if usage&graphics.TextureUsageRenderTarget != 0 {
		if format.IsDepth() {
			flags |= BIND_DEPTH_STENCIL
		} else {
			flags |= BIND_RENDER_TARGET
		}
	}
	return flags
}
