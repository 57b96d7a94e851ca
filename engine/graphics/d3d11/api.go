package d3d11

import "github.com/spaghettifunk/prism/engine/graphics/dxgi"

// The types below mirror the subset of ID3D11Device1 / ID3D11DeviceContext1
// the backend drives. A platform binding implements them on top of the COM
// objects and installs itself through NewNativeDevice.

const (

	BIND_VERTEX_BUFFER    = 0x1
	BIND_INDEX_BUFFER     = 0x2
	BIND_CONSTANT_BUFFER  = 0x4
	BIND_SHADER_RESOURCE  = 0x8
	BIND_RENDER_TARGET    = 0x20
	BIND_DEPTH_STENCIL    = 0x40
	BIND_UNORDERED_ACCESS = 0x80

	USAGE_DEFAULT   = 0
	USAGE_IMMUTABLE = 1
	USAGE_DYNAMIC   = 2
	USAGE_STAGING   = 3

	CPU_ACCESS_WRITE = 0x10000
	CPU_ACCESS_READ  = 0x20000

	RESOURCE_MISC_TEXTURECUBE            = 0x4
	RESOURCE_MISC_BUFFER_ALLOW_RAW_VIEWS = 0x20
	RESOURCE_MISC_DRAWINDIRECT_ARGS      = 0x10

	MAP_WRITE_DISCARD      = 4
	MAP_WRITE_NO_OVERWRITE = 5

	PRIMITIVE_TOPOLOGY_UNDEFINED     = 0
	PRIMITIVE_TOPOLOGY_POINTLIST     = 1
	PRIMITIVE_TOPOLOGY_LINELIST      = 2
	PRIMITIVE_TOPOLOGY_LINESTRIP     = 3
	PRIMITIVE_TOPOLOGY_TRIANGLELIST  = 4
	PRIMITIVE_TOPOLOGY_TRIANGLESTRIP = 5

	INPUT_PER_VERTEX_DATA   = 0
	INPUT_PER_INSTANCE_DATA = 1

	CLEAR_DEPTH   = 0x1
	CLEAR_STENCIL = 0x2

	SRV_DIMENSION_BUFFER           = 1
	SRV_DIMENSION_TEXTURE2D        = 4
	SRV_DIMENSION_TEXTURE2DARRAY   = 5
	SRV_DIMENSION_TEXTURE2DMS      = 6
	SRV_DIMENSION_TEXTURECUBE      = 9
	UAV_DIMENSION_BUFFER           = 1
	UAV_DIMENSION_TEXTURE2D        = 4
	RTV_DIMENSION_TEXTURE2D        = 4
	RTV_DIMENSION_TEXTURE2DARRAY   = 5
	RTV_DIMENSION_TEXTURE2DMS      = 6
	DSV_DIMENSION_TEXTURE2D        = 3
	DSV_DIMENSION_TEXTURE2DARRAY   = 4
	DSV_DIMENSION_TEXTURE2DMS      = 5
	FILTER_MIN_MAG_MIP_LINEAR      = 0x15
	TEXTURE_ADDRESS_CLAMP          = 3
	COMPARISON_NEVER               = 1
	QUERY_EVENT                    = 0
	FEATURE_LEVEL_11_0             = 0xb000
	FEATURE_LEVEL_11_1             = 0xb100
	REQ_CONSTANT_BUFFER_ELEMENT    = 4096
	SIMULTANEOUS_RENDER_TARGETS    = 8
	INPUT_RESOURCE_SLOT_COUNT      = 128
	COMMONSHADER_SAMPLER_SLOTS     = 16
	COMMONSHADER_CONSTANT_BUFFERS  = 14
	CONSTANT_BUFFER_CONSTANT_BYTES = 16
)

type BUFFER_DESC struct {
	ByteWidth           uint32
	Usage               uint32
	BindFlags           uint32
	CPUAccessFlags      uint32
	MiscFlags           uint32
	StructureByteStride uint32
}

type TEXTURE2D_DESC struct {
	Width          uint32
	Height         uint32
	MipLevels      uint32
	ArraySize      uint32
	Format         uint32
	SampleDesc     dxgi.SAMPLE_DESC
	Usage          uint32
	BindFlags      uint32
	CPUAccessFlags uint32
	MiscFlags      uint32
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
	FirstElement    uint32
	NumElements     uint32
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

type INPUT_ELEMENT_DESC struct {
	SemanticName         string
	SemanticIndex        uint32
	Format               uint32
	InputSlot            uint32
	AlignedByteOffset    uint32
	InputSlotClass       uint32
	InstanceDataStepRate uint32
}

type BOX struct {
	Left   uint32
	Top    uint32
	Front  uint32
	Right  uint32
	Bottom uint32
	Back   uint32
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

type Unknown interface {
	Release()
}

type Resource interface {
	Unknown
}

type Buffer interface {
	Resource
}

type Texture2D interface {
	Resource
}

type ShaderResourceView interface {
	Unknown
}

type UnorderedAccessView interface {
	Unknown
}

type RenderTargetView interface {
	Unknown
}

type DepthStencilView interface {
	Unknown
}

type SamplerState interface {
	Unknown
}

type InputLayout interface {
	Unknown
}

type VertexShader interface {
	Unknown
}

type PixelShader interface {
	Unknown
}

type ComputeShader interface {
	Unknown
}

type CommandList interface {
	Unknown
}

type Query interface {
	Unknown
}

type SwapChain interface {
	Unknown
	GetBuffer(index uint32) (Texture2D, error)
	Present(syncInterval, flags uint32) error
}

type DeviceContext interface {
	Unknown
	IsDeferred() bool

	IASetInputLayout(layout InputLayout)
	IASetVertexBuffers(startSlot uint32, buffers []Buffer, strides, offsets []uint32)
	IASetIndexBuffer(buffer Buffer, format, offset uint32)
	IASetPrimitiveTopology(topology uint32)

	VSSetShader(shader VertexShader)
	PSSetShader(shader PixelShader)
	CSSetShader(shader ComputeShader)

	VSSetConstantBuffers(startSlot uint32, buffers []Buffer)
	PSSetConstantBuffers(startSlot uint32, buffers []Buffer)
	CSSetConstantBuffers(startSlot uint32, buffers []Buffer)
	VSSetConstantBuffers1(startSlot uint32, buffers []Buffer, firstConstant, numConstants []uint32)
	PSSetConstantBuffers1(startSlot uint32, buffers []Buffer, firstConstant, numConstants []uint32)
	CSSetConstantBuffers1(startSlot uint32, buffers []Buffer, firstConstant, numConstants []uint32)
	VSSetShaderResources(startSlot uint32, views []ShaderResourceView)
	PSSetShaderResources(startSlot uint32, views []ShaderResourceView)
	CSSetShaderResources(startSlot uint32, views []ShaderResourceView)
	PSSetSamplers(startSlot uint32, samplers []SamplerState)
	CSSetSamplers(startSlot uint32, samplers []SamplerState)
	CSSetUnorderedAccessViews(startSlot uint32, views []UnorderedAccessView)

	OMSetRenderTargets(views []RenderTargetView, depthStencil DepthStencilView)
	ClearRenderTargetView(view RenderTargetView, color [4]float32)
	ClearDepthStencilView(view DepthStencilView, flags uint32, depth float32, stencil uint8)
	RSSetViewports(viewports []VIEWPORT)
	RSSetScissorRects(rects []RECT)

	Draw(vertexCount, startVertex uint32)
	DrawInstanced(vertexCountPerInstance, instanceCount, startVertex, startInstance uint32)
	DrawIndexed(indexCount, startIndex uint32, baseVertex int32)
	DrawIndexedInstanced(indexCountPerInstance, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32)
	Dispatch(x, y, z uint32)

	UpdateSubresource(resource Resource, subresource uint32, box *BOX, data []byte, rowPitch, depthPitch uint32)
	Map(resource Resource, subresource, mapType uint32) ([]byte, error)
	Unmap(resource Resource, subresource uint32)

	End(query Query)
	// GetData polls a query without blocking.
	GetData(query Query) (bool, error)

	ClearState()
	Flush()
	FinishCommandList(restoreState bool) (CommandList, error)
	ExecuteCommandList(list CommandList, restoreState bool)
}

type Device interface {
	Unknown
	FeatureLevel() uint32
	AdapterName() string
	// CheckThreadingSupport reports D3D11_FEATURE_DATA_THREADING.
	CheckThreadingSupport() (concurrentCreates, driverCommandLists bool)

	ImmediateContext() DeviceContext
	CreateDeferredContext() (DeviceContext, error)
	CreateSwapChain(desc *dxgi.SWAP_CHAIN_DESC) (SwapChain, error)

	CreateBuffer(desc *BUFFER_DESC, data []byte) (Buffer, error)
	CreateTexture2D(desc *TEXTURE2D_DESC, data []byte) (Texture2D, error)
	CreateShaderResourceView(resource Resource, desc *VIEW_DESC) (ShaderResourceView, error)
	CreateUnorderedAccessView(resource Resource, desc *VIEW_DESC) (UnorderedAccessView, error)
	CreateRenderTargetView(resource Resource, desc *VIEW_DESC) (RenderTargetView, error)
	CreateDepthStencilView(resource Resource, desc *VIEW_DESC) (DepthStencilView, error)
	CreateSamplerState(desc *SAMPLER_DESC) (SamplerState, error)
	CreateInputLayout(elements []INPUT_ELEMENT_DESC, bytecode []byte) (InputLayout, error)
	CreateVertexShader(bytecode []byte) (VertexShader, error)
	CreatePixelShader(bytecode []byte) (PixelShader, error)
	CreateComputeShader(bytecode []byte) (ComputeShader, error)
	CreateQuery(queryType uint32) (Query, error)
}
