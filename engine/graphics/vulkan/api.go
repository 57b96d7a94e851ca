package vulkan

import (
	"time"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/graphics"
	"github.com/spaghettifunk/prism/engine/math"
)

// The interfaces below wrap the handles and entry points the backend drives.
// The goki/vulkan implementation lives in the native_*.go files; enums and
// flags are passed through as vk types.

type Object interface {
	Destroy()
}

// Instance owns the loader state. The logical device is created once the
// presentation surface is known.
type Instance interface {
	Object
	CreateDevice(surface graphics.Surface, applicationName string) (Device, error)
}

type Buffer interface {
	Object
	// Mapped is the persistently mapped memory of host visible buffers and
	// nil otherwise.
	Mapped() []byte
}

type Image interface{ Object }

type ImageView interface{ Object }

type BufferView interface{ Object }

type Sampler interface{ Object }

type ShaderModule interface{ Object }

type DescriptorSetLayout interface{ Object }

type PipelineLayout interface{ Object }

type Pipeline interface{ Object }

type RenderPass interface{ Object }

type Framebuffer interface{ Object }

type Semaphore interface{ Object }

// DescriptorSet is owned by its pool and released when the pool resets.
type DescriptorSet interface{}

type DescriptorPool interface {
	Object
	// Allocate fails with errDescriptorPoolFull when the pool ran out of sets
	// or descriptors.
	Allocate(layout DescriptorSetLayout) (DescriptorSet, error)
	Reset() error
}

type Fence interface {
	Object
	Signaled() (bool, error)
	Wait(timeout time.Duration) (bool, error)
	Reset() error
}

type CommandPool interface {
	Object
	Allocate() (CommandList, error)
}

type CommandList interface {
	Begin(oneTimeSubmit bool) error
	End() error
	Reset() error

	PipelineBarrier(srcStages, dstStages vk.PipelineStageFlags, memory []MemoryBarrier, buffers []BufferBarrier, images []ImageBarrier)
	BeginRenderPass(pass RenderPass, framebuffer Framebuffer, width, height uint32, clears []ClearValue)
	EndRenderPass()

	BindPipeline(bindPoint vk.PipelineBindPoint, pipeline Pipeline)
	BindDescriptorSets(bindPoint vk.PipelineBindPoint, layout PipelineLayout, firstSet uint32, sets []DescriptorSet)
	PushConstants(layout PipelineLayout, stages vk.ShaderStageFlags, offset uint32, data []byte)
	BindVertexBuffers(firstBinding uint32, buffers []Buffer, offsets []uint64)
	BindIndexBuffer(buffer Buffer, offset uint64, indexType vk.IndexType)
	SetViewport(viewport math.Viewport)
	SetScissor(scissor math.Rect)

	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)
	Dispatch(groupCountX, groupCountY, groupCountZ uint32)

	CopyBuffer(src, dst Buffer, srcOffset, dstOffset, size uint64)
	CopyBufferToImage(src Buffer, dst Image, region BufferImageCopy)
}

type Swapchain interface {
	Object
	Images() []Image
	Format() vk.Format
	Extent() (width, height uint32)
	// AcquireNextImage marks out of date swapchains with
	// core.ErrSwapchainBooting.
	AcquireNextImage(signal Semaphore, timeout time.Duration) (uint32, error)
	Present(index uint32, wait Semaphore) error
	Recreate(width, height uint32) error
}

type Device interface {
	Object
	DeviceName() string
	MaxColorAttachments() uint32

	CreateBuffer(desc *BufferDesc) (Buffer, error)
	CreateImage(desc *ImageDesc) (Image, error)
	CreateImageView(desc *ImageViewDesc) (ImageView, error)
	CreateBufferView(buffer Buffer, format vk.Format, offset, size uint64) (BufferView, error)
	CreateSampler(desc *SamplerDesc) (Sampler, error)
	CreateShaderModule(code []byte) (ShaderModule, error)

	CreateDescriptorSetLayout(bindings []DescriptorBinding) (DescriptorSetLayout, error)
	CreatePipelineLayout(sets []DescriptorSetLayout, push PushConstantRange) (PipelineLayout, error)
	CreateDescriptorPool(maxSets uint32, sizes []DescriptorPoolSize) (DescriptorPool, error)
	UpdateDescriptorSets(writes []DescriptorWrite)

	CreateRenderPass(desc *RenderPassDesc) (RenderPass, error)
	CreateFramebuffer(pass RenderPass, attachments []ImageView, width, height uint32) (Framebuffer, error)
	CreateGraphicsPipeline(desc *GraphicsPipelineDesc) (Pipeline, error)
	CreateComputePipeline(layout PipelineLayout, stage ShaderStageDesc) (Pipeline, error)

	CreateCommandPool() (CommandPool, error)
	CreateFence() (Fence, error)
	CreateSemaphore() (Semaphore, error)
	Submit(submit *SubmitDesc, fence Fence) error
	WaitIdle() error

	CreateSwapchain(width, height uint32, vsync bool, minImages uint32) (Swapchain, error)
}

type BufferDesc struct {
	Size        uint64
	Usage       vk.BufferUsageFlags
	HostVisible bool
	Label       string
}

type ImageDesc struct {
	Format      vk.Format
	Width       uint32
	Height      uint32
	MipLevels   uint32
	ArrayLayers uint32
	Samples     vk.SampleCountFlagBits
	Usage       vk.ImageUsageFlags
	Cube        bool
	Label       string
}

type ImageViewDesc struct {
	Image      Image
	Format     vk.Format
	ViewType   vk.ImageViewType
	Aspect     vk.ImageAspectFlags
	BaseLevel  uint32
	LevelCount uint32
	BaseLayer  uint32
	LayerCount uint32
}

type SamplerDesc struct {
	Filter      vk.Filter
	MipmapMode  vk.SamplerMipmapMode
	AddressMode vk.SamplerAddressMode
	MaxLod      float32
}

type DescriptorBinding struct {
	Binding uint32
	Type    vk.DescriptorType
	Stages  vk.ShaderStageFlags
}

type PushConstantRange struct {
	Stages vk.ShaderStageFlags
	Size   uint32
}

type DescriptorPoolSize struct {
	Type  vk.DescriptorType
	Count uint32
}

// DescriptorWrite fills one binding of a set. Which of the resource fields
// is read depends on Type.
type DescriptorWrite struct {
	Set       DescriptorSet
	Binding   uint32
	Type      vk.DescriptorType
	Buffer    Buffer
	Offset    uint64
	Range     uint64
	View      ImageView
	Sampler   Sampler
	Layout    vk.ImageLayout
	TexelView BufferView
}

// AttachmentDesc is one render pass attachment. The image is expected in
// Layout when the pass begins and is left in it when the pass ends.
type AttachmentDesc struct {
	Format         vk.Format
	Samples        vk.SampleCountFlagBits
	LoadOp         vk.AttachmentLoadOp
	StoreOp        vk.AttachmentStoreOp
	StencilLoadOp  vk.AttachmentLoadOp
	StencilStoreOp vk.AttachmentStoreOp
	Layout         vk.ImageLayout
}

type RenderPassDesc struct {
	Colors []AttachmentDesc
	Depth  *AttachmentDesc
}

// ClearValue clears a color attachment unless DepthStencil is set.
type ClearValue struct {
	Color        [4]float32
	DepthStencil bool
	Depth        float32
	Stencil      uint32
}

type ShaderStageDesc struct {
	Stage      vk.ShaderStageFlagBits
	Module     ShaderModule
	EntryPoint string
}

type VertexBindingDesc struct {
	Binding   uint32
	Stride    uint32
	InputRate vk.VertexInputRate
}

type VertexAttributeDesc struct {
	Location uint32
	Binding  uint32
	Format   vk.Format
	Offset   uint32
}

// GraphicsPipelineDesc bakes everything but viewport and scissor, which are
// dynamic state.
type GraphicsPipelineDesc struct {
	Layout           PipelineLayout
	RenderPass       RenderPass
	Stages           []ShaderStageDesc
	Bindings         []VertexBindingDesc
	Attributes       []VertexAttributeDesc
	Topology         vk.PrimitiveTopology
	Samples          vk.SampleCountFlagBits
	ColorAttachments uint32
	DepthStencil     bool
	Label            string
}

type MemoryBarrier struct {
	SrcAccess vk.AccessFlags
	DstAccess vk.AccessFlags
}

type BufferBarrier struct {
	Buffer    Buffer
	SrcAccess vk.AccessFlags
	DstAccess vk.AccessFlags
}

type ImageBarrier struct {
	Image     Image
	Aspect    vk.ImageAspectFlags
	OldLayout vk.ImageLayout
	NewLayout vk.ImageLayout
	SrcAccess vk.AccessFlags
	DstAccess vk.AccessFlags
}

type BufferImageCopy struct {
	BufferOffset uint64
	Aspect       vk.ImageAspectFlags
	Width        uint32
	Height       uint32
}

type SubmitDesc struct {
	Lists      []CommandList
	Wait       []Semaphore
	WaitStages []vk.PipelineStageFlags
	Signal     []Semaphore
}
