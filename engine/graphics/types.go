package graphics

import (
	"strings"

	"github.com/cockroachdb/errors"
)

type Backend uint8

const (
	BackendDefault Backend = iota
	BackendEmpty
	BackendVulkan
	BackendD3D12
	BackendD3D11
)

func (b Backend) String() string {
	switch b {
	case BackendDefault:
		return "default"
	case BackendEmpty:
		return "empty"
	case BackendVulkan:
		return "vulkan"
	case BackendD3D12:
		return "d3d12"
	case BackendD3D11:
		return "d3d11"
	}
	return "unknown"
}

func ParseBackend(name string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "default":
		return BackendDefault, nil
	case "empty", "null":
		return BackendEmpty, nil
	case "vulkan", "vk":
		return BackendVulkan, nil
	case "d3d12", "direct3d12":
		return BackendD3D12, nil
	case "d3d11", "direct3d11":
		return BackendD3D11, nil
	}
	return BackendDefault, errors.Newf("unknown graphics backend %q", name)
}

type QueueType uint8

const (
	QueueTypeGraphics QueueType = iota
	QueueTypeCompute
	QueueTypeCopy
)

/** @brief Which pipeline stages a buffer can be bound to. */
type BufferUsage uint32

const (
	BufferUsageNone     BufferUsage = 0
	BufferUsageVertex   BufferUsage = 1 << 0
	BufferUsageIndex    BufferUsage = 1 << 1
	BufferUsageUniform  BufferUsage = 1 << 2
	BufferUsageStorage  BufferUsage = 1 << 3
	BufferUsageIndirect BufferUsage = 1 << 4
)

/** @brief CPU access pattern of a resource. */
type ResourceUsage uint8

const (
	ResourceUsageDefault ResourceUsage = iota
	/** @brief Contents are provided at creation and never change. */
	ResourceUsageImmutable
	/** @brief Contents are rewritten by the CPU every frame. */
	ResourceUsageDynamic
	/** @brief CPU readable and writable transfer memory. */
	ResourceUsageStaging
)

type IndexType uint8

const (
	IndexTypeUInt16 IndexType = iota
	IndexTypeUInt32
)

func (t IndexType) Size() uint32 {
	if t == IndexTypeUInt32 {
		return 4
	}
	return 2
}

type PrimitiveTopology uint8

const (
	PrimitiveTopologyPointList PrimitiveTopology = iota
	PrimitiveTopologyLineList
	PrimitiveTopologyLineStrip
	PrimitiveTopologyTriangleList
	PrimitiveTopologyTriangleStrip
	PrimitiveTopologyCount
)

type VertexInputRate uint8

const (
	VertexInputRateVertex VertexInputRate = iota
	VertexInputRateInstance
)

type LoadAction uint8

const (
	LoadActionDontCare LoadAction = iota
	LoadActionLoad
	LoadActionClear
)

type StoreAction uint8

const (
	StoreActionDontCare StoreAction = iota
	StoreActionStore
)

type TextureType uint8

const (
	TextureType1D TextureType = iota
	TextureType2D
	TextureType3D
	TextureTypeCube
)

type TextureUsage uint32

const (
	TextureUsageNone         TextureUsage = 0
	TextureUsageShaderRead   TextureUsage = 1 << 0
	TextureUsageShaderWrite  TextureUsage = 1 << 1
	TextureUsageRenderTarget TextureUsage = 1 << 2

	textureUsageAll = TextureUsageShaderRead | TextureUsageShaderWrite | TextureUsageRenderTarget
)

type SampleCount uint8

const (
	SampleCount1  SampleCount = 1
	SampleCount2  SampleCount = 2
	SampleCount4  SampleCount = 4
	SampleCount8  SampleCount = 8
	SampleCount16 SampleCount = 16
	SampleCount32 SampleCount = 32
)

type ShaderStage uint8

const (
	ShaderStageVertex ShaderStage = iota
	ShaderStageTessControl
	ShaderStageTessEvaluation
	ShaderStageGeometry
	ShaderStageFragment
	ShaderStageCompute
	ShaderStageCount
)

func (s ShaderStage) String() string {
	switch s {
	case ShaderStageVertex:
		return "vertex"
	case ShaderStageTessControl:
		return "tess_control"
	case ShaderStageTessEvaluation:
		return "tess_evaluation"
	case ShaderStageGeometry:
		return "geometry"
	case ShaderStageFragment:
		return "fragment"
	case ShaderStageCompute:
		return "compute"
	}
	return "unknown"
}

/** @brief Bitmask of shader stages, 1 << ShaderStage. */
type ShaderStageFlags uint32

func (s ShaderStage) Flag() ShaderStageFlags {
	return ShaderStageFlags(1) << s
}

func (f ShaderStageFlags) Has(s ShaderStage) bool {
	return f&s.Flag() != 0
}

/** @brief Format of a single vertex attribute. */
type VertexFormat uint8

const (
	VertexFormatInvalid VertexFormat = iota
	VertexFormatFloat
	VertexFormatFloat2
	VertexFormatFloat3
	VertexFormatFloat4
	VertexFormatByte4
	VertexFormatByte4Normalized
	VertexFormatUByte4
	VertexFormatUByte4Normalized
	VertexFormatShort2
	VertexFormatShort2Normalized
	VertexFormatShort4
	VertexFormatShort4Normalized
	VertexFormatHalf2
	VertexFormatHalf4
	VertexFormatUInt
	VertexFormatUInt2
	VertexFormatUInt4
	VertexFormatInt
	VertexFormatInt4
)

func (f VertexFormat) Size() uint32 {
	switch f {
	case VertexFormatFloat, VertexFormatUInt, VertexFormatInt:
		return 4
	case VertexFormatFloat2, VertexFormatUInt2:
		return 8
	case VertexFormatFloat3:
		return 12
	case VertexFormatFloat4, VertexFormatUInt4, VertexFormatInt4:
		return 16
	case VertexFormatByte4, VertexFormatByte4Normalized, VertexFormatUByte4, VertexFormatUByte4Normalized:
		return 4
	case VertexFormatShort2, VertexFormatShort2Normalized, VertexFormatHalf2:
		return 4
	case VertexFormatShort4, VertexFormatShort4Normalized, VertexFormatHalf4:
		return 8
	}
	return 0
}

type PixelFormat uint8

const (
	PixelFormatUndefined PixelFormat = iota
	PixelFormatR8Unorm
	PixelFormatRG8Unorm
	PixelFormatRGBA8Unorm
	PixelFormatRGBA8UnormSrgb
	PixelFormatBGRA8Unorm
	PixelFormatBGRA8UnormSrgb
	PixelFormatR16Float
	PixelFormatRG16Float
	PixelFormatRGBA16Float
	PixelFormatR32Uint
	PixelFormatR32Float
	PixelFormatRG32Float
	PixelFormatRGBA32Float
	PixelFormatDepth16Unorm
	PixelFormatDepth32Float
	PixelFormatDepth24UnormStencil8
	PixelFormatDepth32FloatStencil8
)

func (f PixelFormat) IsDepth() bool {
	switch f {
	case PixelFormatDepth16Unorm, PixelFormatDepth32Float, PixelFormatDepth24UnormStencil8, PixelFormatDepth32FloatStencil8:
		return true
	}
	return false
}

func (f PixelFormat) HasStencil() bool {
	return f == PixelFormatDepth24UnormStencil8 || f == PixelFormatDepth32FloatStencil8
}

// BytesPerPixel returns 0 for depth formats, which are never uploaded.
func (f PixelFormat) BytesPerPixel() uint32 {
	switch f {
	case PixelFormatR8Unorm:
		return 1
	case PixelFormatRG8Unorm, PixelFormatR16Float:
		return 2
	case PixelFormatRGBA8Unorm, PixelFormatRGBA8UnormSrgb, PixelFormatBGRA8Unorm, PixelFormatBGRA8UnormSrgb,
		PixelFormatRG16Float, PixelFormatR32Uint, PixelFormatR32Float:
		return 4
	case PixelFormatRGBA16Float, PixelFormatRG32Float:
		return 8
	case PixelFormatRGBA32Float:
		return 16
	}
	return 0
}
