package d3d12

import (
	"time"

	"github.com/spaghettifunk/prism/engine/graphics/dxgi"
)

// The types below mirror the subset of ID3D12Device and
// ID3D12GraphicsCommandList the backend drives. A platform binding
// implements them on top of the COM objects and installs itself through
// NewNativeDevice.

const (
	RESOURCE_STATE_COMMON                     = 0
	RESOURCE_STATE_VERTEX_AND_CONSTANT_BUFFER = 0x1
	RESOURCE_STATE_INDEX_BUFFER               = 0x2
	RESOURCE_STATE_RENDER_TARGET              = 0x4
	RESOURCE_STATE_UNORDERED_ACCESS           = 0x8
	RESOURCE_STATE_DEPTH_WRITE                = 0x10
	RESOURCE_STATE_DEPTH_READ                 = 0x20
	RESOURCE_STATE_NON_PIXEL_SHADER_RESOURCE  = 0x40
	RESOURCE_STATE_PIXEL_SHADER_RESOURCE      = 0x80
	RESOURCE_STATE_INDIRECT_ARGUMENT          = 0x200
	RESOURCE_STATE_COPY_DEST                  = 0x400
	RESOURCE_STATE_COPY_SOURCE                = 0x800
	RESOURCE_STATE_RESOLVE_DEST               = 0x1000
	RESOURCE_STATE_RESOLVE_SOURCE             = 0x2000
	RESOURCE_STATE_GENERIC_READ               = 0xac3
	RESOURCE_STATE_PRESENT                    = 0

	RESOURCE_BARRIER_TYPE_TRANSITION    = 0
	RESOURCE_BARRIER_TYPE_UAV           = 2
	RESOURCE_BARRIER_FLAG_NONE          = 0
	RESOURCE_BARRIER_FLAG_BEGIN_ONLY    = 0x1
	RESOURCE_BARRIER_FLAG_END_ONLY      = 0x2
	RESOURCE_BARRIER_ALL_SUBRESOURCES   = 0xffffffff
	COMMAND_LIST_TYPE_DIRECT            = 0
	COMMAND_LIST_TYPE_COMPUTE           = 2
	COMMAND_LIST_TYPE_COPY              = 3
	DESCRIPTOR_HEAP_TYPE_CBV_SRV_UAV    = 0
	DESCRIPTOR_HEAP_TYPE_SAMPLER        = 1
	DESCRIPTOR_HEAP_TYPE_RTV            = 2
	DESCRIPTOR_HEAP_TYPE_DSV            = 3
	HEAP_TYPE_DEFAULT                   = 1
	HEAP_TYPE_UPLOAD                    = 2
	HEAP_TYPE_READBACK                  = 3
	RESOURCE_DIMENSION_BUFFER           = 1
	RESOURCE_DIMENSION_TEXTURE2D        = 3

	RESOURCE_FLAG_NONE                   = 0
	RESOURCE_FLAG_ALLOW_RENDER_TARGET    = 0x1
	RESOURCE_FLAG_ALLOW_DEPTH_STENCIL    = 0x2
	RESOURCE_FLAG_ALLOW_UNORDERED_ACCESS = 0x4
	RESOURCE_FLAG_DENY_SHADER_RESOURCE   = 0x8

	PRIMITIVE_TOPOLOGY_TYPE_UNDEFINED = 0
	PRIMITIVE_TOPOLOGY_TYPE_POINT     = 1
	PRIMITIVE_TOPOLOGY_TYPE_LINE      = 2
	PRIMITIVE_TOPOLOGY_TYPE_TRIANGLE  = 3
	PRIMITIVE_TOPOLOGY_UNDEFINED      = 0
	PRIMITIVE_TOPOLOGY_POINTLIST      = 1
	PRIMITIVE_TOPOLOGY_LINELIST       = 2
	PRIMITIVE_TOPOLOGY_LINESTRIP      = 3
	PRIMITIVE_TOPOLOGY_TRIANGLELIST   = 4
	PRIMITIVE_TOPOLOGY_TRIANGLESTRIP  = 5

	CLEAR_FLAG_DEPTH   = 0x1
	CLEAR_FLAG_STENCIL = 0x2

	DESCRIPTOR_RANGE_TYPE_SRV              = 0
	DESCRIPTOR_RANGE_TYPE_UAV              = 1
	DESCRIPTOR_RANGE_TYPE_CBV              = 2
	ROOT_PARAMETER_TYPE_DESCRIPTOR_TABLE   = 0
	ROOT_PARAMETER_TYPE_32BIT_CONSTANTS    = 1
	SHADER_VISIBILITY_ALL                  = 0
	ROOT_SIGNATURE_FLAG_ALLOW_INPUT_LAYOUT = 0x1
	INPUT_CLASSIFICATION_PER_VERTEX_DATA   = 0
	INPUT_CLASSIFICATION_PER_INSTANCE_DATA = 1

	SRV_DIMENSION_BUFFER         = 1
	SRV_DIMENSION_TEXTURE2D      = 4
	SRV_DIMENSION_TEXTURE2DARRAY = 5
	SRV_DIMENSION_TEXTURE2DMS    = 6
	SRV_DIMENSION_TEXTURECUBE    = 9
	UAV_DIMENSION_BUFFER         = 1
	UAV_DIMENSION_TEXTURE2D      = 4
	RTV_DIMENSION_TEXTURE2D      = 4
	RTV_DIMENSION_TEXTURE2DARRAY = 5
	RTV_DIMENSION_TEXTURE2DMS    = 6
	DSV_DIMENSION_TEXTURE2D      = 3
	DSV_DIMENSION_TEXTURE2DARRAY = 4
	DSV_DIMENSION_TEXTURE2DMS    = 5
	BUFFER_VIEW_FLAG_RAW         = 0x1

	FILTER_MIN_MAG_MIP_LINEAR  = 0x15
	TEXTURE_ADDRESS_MODE_CLAMP = 3
	COMPARISON_FUNC_NEVER      = 1

	CONSTANT_BUFFER_DATA_PLACEMENT_ALIGNMENT = 256
	TEXTURE_DATA_PITCH_ALIGNMENT             = 256
	SIMULTANEOUS_RENDER_TARGET_COUNT         = 8
)

type CPU_DESCRIPTOR_HANDLE struct {
	Ptr uintptr
}

func (h CPU_DESCRIPTOR_HANDLE) Offset(index, increment uint32) CPU_DESCRIPTOR_HANDLE {
	return CPU_DESCRIPTOR_HANDLE{Ptr: h.Ptr + uintptr(index)*uintptr(increment)}
}

type GPU_DESCRIPTOR_HANDLE struct {
	Ptr uint64
}

func (h GPU_DESCRIPTOR_HANDLE) Offset(index, increment uint32) GPU_DESCRIPTOR_HANDLE {
	return GPU_DESCRIPTOR_HANDLE{Ptr: h.Ptr + uint64(index)*uint64(increment)}
}

type RESOURCE_BARRIER struct {
	Type        uint32
	Flags       uint32
	Resource    Resource
	Subresource uint32
	StateBefore uint32
	StateAfter  uint32
}

type VERTEX_BUFFER_VIEW struct {
	BufferLocation uint64
	SizeInBytes    uint32
	StrideInBytes  uint32
}

type INDEX_BUFFER_VIEW struct {
	BufferLocation uint64
	SizeInBytes    uint32
	Format         uint32
}

type VIEWPORT struct {
	TopLeftX float32
	TopLeftY float32
	Width    float32
	Height   float32
	MinDepth float32
	MaxDepth float32
}

type RECT struct {
	Left   int32
	Top    int32
	Right  int32
	Bottom int32
}

type RESOURCE_DESC struct {
	Dimension        uint32
	Width            uint64
	Height           uint32
	DepthOrArraySize uint32
	MipLevels        uint32
	Format           uint32
	SampleDesc       dxgi.SAMPLE_DESC
	Flags            uint32
}

type CONSTANT_BUFFER_VIEW_DESC struct {
	BufferLocation uint64
	SizeInBytes    uint32
}

// VIEW_DESC flattens the per-dimension unions of the SRV, UAV, RTV and DSV
// descriptions. Only the fields of ViewDimension are read.
type VIEW_DESC struct {
	Format          uint32
	ViewDimension   uint32
	MostDetailedMip uint32
	MipLevels       uint32
	MipSlice        uint32
	FirstArraySlice uint32
	ArraySize       uint32
	FirstElement    uint64
	NumElements     uint32
	Flags           uint32
}

type SAMPLER_DESC struct {
	Filter         uint32
	AddressU       uint32
	AddressV       uint32
	AddressW       uint32
	MipLODBias     float32
	MaxAnisotropy  uint32
	ComparisonFunc uint32
	MinLOD         float32
	MaxLOD         float32
}

type STATIC_SAMPLER_DESC struct {
	SAMPLER_DESC
	ShaderRegister   uint32
	RegisterSpace    uint32
	ShaderVisibility uint32
}

type INPUT_ELEMENT_DESC struct {
	SemanticName         string
	SemanticIndex        uint32
	Format               uint32
	InputSlot            uint32
	AlignedByteOffset    uint32
	InputSlotClass       uint32
	InstanceDataStepRate uint32
}

type DESCRIPTOR_RANGE struct {
	RangeType                         uint32
	NumDescriptors                    uint32
	BaseShaderRegister                uint32
	RegisterSpace                     uint32
	OffsetInDescriptorsFromTableStart uint32
}

type ROOT_PARAMETER struct {
	ParameterType    uint32
	Ranges           []DESCRIPTOR_RANGE
	ShaderRegister   uint32
	RegisterSpace    uint32
	Num32BitValues   uint32
	ShaderVisibility uint32
}

type ROOT_SIGNATURE_DESC struct {
	Parameters     []ROOT_PARAMETER
	StaticSamplers []STATIC_SAMPLER_DESC
	Flags          uint32
}

type GRAPHICS_PIPELINE_STATE_DESC struct {
	RootSignature         RootSignature
	VS                    []byte
	PS                    []byte
	InputLayout           []INPUT_ELEMENT_DESC
	PrimitiveTopologyType uint32
	NumRenderTargets      uint32
	RTVFormats            [SIMULTANEOUS_RENDER_TARGET_COUNT]uint32
	DSVFormat             uint32
	SampleDesc            dxgi.SAMPLE_DESC
}

type COMPUTE_PIPELINE_STATE_DESC struct {
	RootSignature RootSignature
	CS            []byte
}

type PLACED_SUBRESOURCE_FOOTPRINT struct {
	Offset   uint64
	Format   uint32
	Width    uint32
	Height   uint32
	Depth    uint32
	RowPitch uint32
}

type Unknown interface {
	Release()
}

type Resource interface {
	Unknown
	GetGPUVirtualAddress() uint64
	Map(subresource uint32) ([]byte, error)
	Unmap(subresource uint32)
}

// Event is a Win32 event handle; Wait mirrors WaitForSingleObject.
type Event interface {
	Unknown
	Wait(timeout time.Duration) (bool, error)
}

type Fence interface {
	Unknown
	GetCompletedValue() uint64
	SetEventOnCompletion(value uint64, event Event) error
}

type CommandAllocator interface {
	Unknown
	Reset() error
}

type DescriptorHeap interface {
	Unknown
	GetCPUDescriptorHandleForHeapStart() CPU_DESCRIPTOR_HANDLE
	GetGPUDescriptorHandleForHeapStart() GPU_DESCRIPTOR_HANDLE
}

type RootSignature interface {
	Unknown
}

type PipelineState interface {
	Unknown
}

type GraphicsCommandList interface {
	Unknown
	Close() error
	Reset(allocator CommandAllocator, initialState PipelineState) error

	ResourceBarrier(barriers []RESOURCE_BARRIER)
	SetDescriptorHeaps(heaps []DescriptorHeap)
	SetPipelineState(state PipelineState)
	SetGraphicsRootSignature(signature RootSignature)
	SetComputeRootSignature(signature RootSignature)
	SetGraphicsRootDescriptorTable(rootParameterIndex uint32, base GPU_DESCRIPTOR_HANDLE)
	SetComputeRootDescriptorTable(rootParameterIndex uint32, base GPU_DESCRIPTOR_HANDLE)
	SetGraphicsRoot32BitConstants(rootParameterIndex uint32, data []uint32, destOffset uint32)
	SetComputeRoot32BitConstants(rootParameterIndex uint32, data []uint32, destOffset uint32)

	IASetPrimitiveTopology(topology uint32)
	IASetVertexBuffers(startSlot uint32, views []VERTEX_BUFFER_VIEW)
	IASetIndexBuffer(view *INDEX_BUFFER_VIEW)
	RSSetViewports(viewports []VIEWPORT)
	RSSetScissorRects(rects []RECT)
	OMSetRenderTargets(renderTargets []CPU_DESCRIPTOR_HANDLE, depthStencil *CPU_DESCRIPTOR_HANDLE)
	ClearRenderTargetView(view CPU_DESCRIPTOR_HANDLE, color [4]float32)
	ClearDepthStencilView(view CPU_DESCRIPTOR_HANDLE, flags uint32, depth float32, stencil uint8)

	DrawInstanced(vertexCountPerInstance, instanceCount, startVertex, startInstance uint32)
	DrawIndexedInstanced(indexCountPerInstance, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32)
	Dispatch(x, y, z uint32)

	CopyBufferRegion(dst Resource, dstOffset uint64, src Resource, srcOffset, numBytes uint64)
	CopyTextureRegion(dst Resource, dstSubresource uint32, src Resource, footprint *PLACED_SUBRESOURCE_FOOTPRINT)
}

type CommandQueue interface {
	Unknown
	ExecuteCommandLists(lists []GraphicsCommandList)
	Signal(fence Fence, value uint64) error
}

type SwapChain interface {
	Unknown
	GetBuffer(index uint32) (Resource, error)
	GetCurrentBackBufferIndex() uint32
	Present(syncInterval, flags uint32) error
}

type Device interface {
	Unknown
	AdapterName() string

	CreateCommandQueue(listType uint32) (CommandQueue, error)
	CreateCommandAllocator(listType uint32) (CommandAllocator, error)
	// CreateCommandList returns a list in the recording state.
	CreateCommandList(listType uint32, allocator CommandAllocator) (GraphicsCommandList, error)
	CreateFence(initialValue uint64) (Fence, error)
	CreateEvent() (Event, error)
	CreateSwapChain(queue CommandQueue, desc *dxgi.SWAP_CHAIN_DESC) (SwapChain, error)

	CreateDescriptorHeap(heapType, numDescriptors uint32, shaderVisible bool) (DescriptorHeap, error)
	GetDescriptorHandleIncrementSize(heapType uint32) uint32
	CreateConstantBufferView(desc *CONSTANT_BUFFER_VIEW_DESC, dest CPU_DESCRIPTOR_HANDLE)
	CreateShaderResourceView(resource Resource, desc *VIEW_DESC, dest CPU_DESCRIPTOR_HANDLE)
	CreateUnorderedAccessView(resource Resource, desc *VIEW_DESC, dest CPU_DESCRIPTOR_HANDLE)
	CreateRenderTargetView(resource Resource, desc *VIEW_DESC, dest CPU_DESCRIPTOR_HANDLE)
	CreateDepthStencilView(resource Resource, desc *VIEW_DESC, dest CPU_DESCRIPTOR_HANDLE)
	CopyDescriptorsSimple(numDescriptors uint32, dest, src CPU_DESCRIPTOR_HANDLE, heapType uint32)

	CreateCommittedResource(heapType uint32, desc *RESOURCE_DESC, initialState uint32) (Resource, error)
	CreateRootSignature(desc *ROOT_SIGNATURE_DESC) (RootSignature, error)
	CreateGraphicsPipelineState(desc *GRAPHICS_PIPELINE_STATE_DESC) (PipelineState, error)
	CreateComputePipelineState(desc *COMPUTE_PIPELINE_STATE_DESC) (PipelineState, error)
}
