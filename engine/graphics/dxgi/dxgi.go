// Package dxgi holds the DXGI formats and swapchain descriptions shared by
// the Direct3D backends.
package dxgi

import (
	"github.com/spaghettifunk/prism/engine/graphics"
)

const (
	FORMAT_UNKNOWN              = 0
	FORMAT_R32G32B32A32_FLOAT   = 2
	FORMAT_R32G32B32A32_UINT    = 3
	FORMAT_R32G32B32A32_SINT    = 4
	FORMAT_R32G32B32_FLOAT      = 6
	FORMAT_R16G16B16A16_FLOAT   = 10
	FORMAT_R16G16B16A16_SNORM   = 13
	FORMAT_R16G16B16A16_SINT    = 14
	FORMAT_R32G32_FLOAT         = 16
	FORMAT_R32G32_UINT          = 17
	FORMAT_D32_FLOAT_S8X24_UINT = 20
	FORMAT_R8G8B8A8_UNORM       = 28
	FORMAT_R8G8B8A8_UNORM_SRGB  = 29
	FORMAT_R8G8B8A8_UINT        = 30
	FORMAT_R8G8B8A8_SNORM       = 31
	FORMAT_R8G8B8A8_SINT        = 32
	FORMAT_R16G16_FLOAT         = 34
	FORMAT_R16G16_SNORM         = 37
	FORMAT_R16G16_SINT          = 38
	FORMAT_R32_TYPELESS         = 39
	FORMAT_D32_FLOAT            = 40
	FORMAT_R32_FLOAT            = 41
	FORMAT_R32_UINT             = 42
	FORMAT_R32_SINT             = 43
	FORMAT_D24_UNORM_S8_UINT    = 45
	FORMAT_R8G8_UNORM           = 49
	FORMAT_R16_FLOAT            = 54
	FORMAT_D16_UNORM            = 55
	FORMAT_R16_UINT             = 57
	FORMAT_R8_UNORM             = 61
	FORMAT_B8G8R8A8_UNORM       = 87
	FORMAT_B8G8R8A8_UNORM_SRGB  = 91

	SWAP_EFFECT_FLIP_DISCARD      = 4
	USAGE_RENDER_TARGET_OUTPUT    = 1 << 5
	PRESENT_ALLOW_TEARING         = 0x200
	SWAP_CHAIN_FLAG_ALLOW_TEARING = 2048
)

type SAMPLE_DESC struct {
	Count   uint32
	Quality uint32
}

type SWAP_CHAIN_DESC struct {
	Width       uint32
	Height      uint32
	Format      uint32
	BufferCount uint32
	BufferUsage uint32
	SwapEffect  uint32
	Flags       uint32
	OutputHWND  uintptr
	Windowed    bool
}

// SwapChainDesc fills the flip model description used by both backends.
// Tearing is requested when vsync is off.
func SwapChainDesc(width, height, bufferCount uint32, hwnd uintptr, vsync bool) (desc SWAP_CHAIN_DESC, syncInterval, presentFlags uint32) {
	desc = SWAP_CHAIN_DESC{
		Width:       width,
		Height:      height,
		Format:      FORMAT_B8G8R8A8_UNORM,
		BufferCount: max(bufferCount, 2),
		BufferUsage: USAGE_RENDER_TARGET_OUTPUT,
		SwapEffect:  SWAP_EFFECT_FLIP_DISCARD,
		OutputHWND:  hwnd,
		Windowed:    true,
	}
	if vsync {
		return desc, 1, 0
	}
	desc.Flags = SWAP_CHAIN_FLAG_ALLOW_TEARING
	return desc, 0, PRESENT_ALLOW_TEARING
}

func PixelFormat(format graphics.PixelFormat) uint32 {
	switch format {
	case graphics.PixelFormatR8Unorm:
		return FORMAT_R8_UNORM
	case graphics.PixelFormatRG8Unorm:
		return FORMAT_R8G8_UNORM
	case graphics.PixelFormatRGBA8Unorm:
		return FORMAT_R8G8B8A8_UNORM
	case graphics.PixelFormatRGBA8UnormSrgb:
		return FORMAT_R8G8B8A8_UNORM_SRGB
	case graphics.PixelFormatBGRA8Unorm:
		return FORMAT_B8G8R8A8_UNORM
	case graphics.PixelFormatBGRA8UnormSrgb:
		return FORMAT_B8G8R8A8_UNORM_SRGB
	case graphics.PixelFormatR16Float:
		return FORMAT_R16_FLOAT
	case graphics.PixelFormatRG16Float:
		return FORMAT_R16G16_FLOAT
	case graphics.PixelFormatRGBA16Float:
		return FORMAT_R16G16B16A16_FLOAT
	case graphics.PixelFormatR32Uint:
		return FORMAT_R32_UINT
	case graphics.PixelFormatR32Float:
		return FORMAT_R32_FLOAT
	case graphics.PixelFormatRG32Float:
		return FORMAT_R32G32_FLOAT
	case graphics.PixelFormatRGBA32Float:
		return FORMAT_R32G32B32A32_FLOAT
	case graphics.PixelFormatDepth16Unorm:
		return FORMAT_D16_UNORM
	case graphics.PixelFormatDepth32Float:
		return FORMAT_D32_FLOAT
	case graphics.PixelFormatDepth24UnormStencil8:
		return FORMAT_D24_UNORM_S8_UINT
	case graphics.PixelFormatDepth32FloatStencil8:
		return FORMAT_D32_FLOAT_S8X24_UINT
	}
	return FORMAT_UNKNOWN
}

func VertexFormat(format graphics.VertexFormat) uint32 {
	switch format {
	case graphics.VertexFormatFloat:
		return FORMAT_R32_FLOAT
	case graphics.VertexFormatFloat2:
		return FORMAT_R32G32_FLOAT
	case graphics.VertexFormatFloat3:
		return FORMAT_R32G32B32_FLOAT
	case graphics.VertexFormatFloat4:
		return FORMAT_R32G32B32A32_FLOAT
	case graphics.VertexFormatByte4:
		return FORMAT_R8G8B8A8_SINT
	case graphics.VertexFormatByte4Normalized:
		return FORMAT_R8G8B8A8_SNORM
	case graphics.VertexFormatUByte4:
		return FORMAT_R8G8B8A8_UINT
	case graphics.VertexFormatUByte4Normalized:
		return FORMAT_R8G8B8A8_UNORM
	case graphics.VertexFormatShort2:
		return FORMAT_R16G16_SINT
	case graphics.VertexFormatShort2Normalized:
		return FORMAT_R16G16_SNORM
	case graphics.VertexFormatShort4:
		return FORMAT_R16G16B16A16_SINT
	case graphics.VertexFormatShort4Normalized:
		return FORMAT_R16G16B16A16_SNORM
	case graphics.VertexFormatHalf2:
		return FORMAT_R16G16_FLOAT
	case graphics.VertexFormatHalf4:
		return FORMAT_R16G16B16A16_FLOAT
	case graphics.VertexFormatUInt:
		return FORMAT_R32_UINT
	case graphics.VertexFormatUInt2:
		return FORMAT_R32G32_UINT
	case graphics.VertexFormatUInt4:
		return FORMAT_R32G32B32A32_UINT
	case graphics.VertexFormatInt:
		return FORMAT_R32_SINT
	case graphics.VertexFormatInt4:
		return FORMAT_R32G32B32A32_SINT
	}
	return FORMAT_UNKNOWN
}

func IndexFormat(indexType graphics.IndexType) uint32 {
	if indexType == graphics.IndexTypeUInt32 {
		return FORMAT_R32_UINT
	}
	return FORMAT_R16_UINT
}
