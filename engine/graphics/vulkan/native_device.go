package vulkan

import (
	"encoding/binary"
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/core"
)

// object is any device child destroyed through a single vkDestroy* call.
type object[T comparable] struct {
	device  vk.Device
	handle  T
	destroy func(vk.Device, T, *vk.AllocationCallbacks)
}

func newObject[T comparable](device vk.Device, handle T, destroy func(vk.Device, T, *vk.AllocationCallbacks)) *object[T] {
	return &object[T]{device: device, handle: handle, destroy: destroy}
}

func (o *object[T]) Destroy() {
	var zero T
	if o.handle == zero {
		return
	}
	o.destroy(o.device, o.handle, nil)
	o.handle = zero
}

func handleOf[T comparable](v interface{}) T {
	var zero T
	if v == nil {
		return zero
	}
	return v.(*object[T]).handle
}

type nativeDevice struct {
	instance   *nativeInstance
	physical   vk.PhysicalDevice
	properties vk.PhysicalDeviceProperties
	memory     vk.PhysicalDeviceMemoryProperties

	surface    vk.Surface
	hasSurface bool

	handle         vk.Device
	graphicsFamily uint32
	presentFamily  uint32
	graphicsQueue  vk.Queue
	presentQueue   vk.Queue
}

func (d *nativeDevice) Destroy() {
	if d.handle != nil {
		vk.DeviceWaitIdle(d.handle)
		vk.DestroyDevice(d.handle, nil)
		d.handle = nil
	}
	if d.hasSurface {
		vk.DestroySurface(d.instance.handle, d.surface, nil)
		d.hasSurface = false
	}
	d.instance.Destroy()
}

func (d *nativeDevice) DeviceName() string {
	return vk.ToString(d.properties.DeviceName[:])
}

func (d *nativeDevice) MaxColorAttachments() uint32 {
	return d.properties.Limits.MaxColorAttachments
}

func (d *nativeDevice) memoryType(typeBits uint32, want vk.MemoryPropertyFlags) (uint32, error) {
	for i := uint32(0); i < d.memory.MemoryTypeCount; i++ {
		if typeBits&(1<<i) == 0 {
			continue
		}
		if d.memory.MemoryTypes[i].PropertyFlags&want == want {
			return i, nil
		}
	}
	return 0, errors.Newf("vulkan: no memory type with properties %#x in %#x", uint32(want), typeBits)
}

func (d *nativeDevice) allocate(requirements vk.MemoryRequirements, want vk.MemoryPropertyFlags) (vk.DeviceMemory, error) {
	typeIndex, err := d.memoryType(requirements.MemoryTypeBits, want)
	if err != nil {
		return nil, err
	}
	var memory vk.DeviceMemory
	err = check(vk.AllocateMemory(d.handle, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: typeIndex,
	}, nil, &memory), "vkAllocateMemory")
	return memory, err
}

type vkBuffer struct {
	device vk.Device
	handle vk.Buffer
	memory vk.DeviceMemory
	mapped []byte
}

func (b *vkBuffer) Mapped() []byte { return b.mapped }

func (b *vkBuffer) Destroy() {
	if b.handle == nil {
		return
	}
	if b.mapped != nil {
		vk.UnmapMemory(b.device, b.memory)
		b.mapped = nil
	}
	vk.DestroyBuffer(b.device, b.handle, nil)
	vk.FreeMemory(b.device, b.memory, nil)
	b.handle, b.memory = nil, nil
}

func (d *nativeDevice) CreateBuffer(desc *BufferDesc) (Buffer, error) {
	b := &vkBuffer{device: d.handle}
	if err := check(vk.CreateBuffer(d.handle, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(desc.Size),
		Usage:       desc.Usage,
		SharingMode: vk.SharingModeExclusive,
	}, nil, &b.handle), "vkCreateBuffer"); err != nil {
		return nil, errors.Wrapf(err, "buffer %q", desc.Label)
	}

	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.handle, b.handle, &requirements)
	requirements.Deref()

	want := vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	if desc.HostVisible {
		want = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	}
	memory, err := d.allocate(requirements, want)
	if err != nil {
		vk.DestroyBuffer(d.handle, b.handle, nil)
		return nil, errors.Wrapf(err, "buffer %q", desc.Label)
	}
	b.memory = memory
	if err := check(vk.BindBufferMemory(d.handle, b.handle, memory, 0), "vkBindBufferMemory"); err != nil {
		b.Destroy()
		return nil, err
	}

	if desc.HostVisible {
		var ptr unsafe.Pointer
		if err := check(vk.MapMemory(d.handle, memory, 0, vk.DeviceSize(desc.Size), 0, &ptr), "vkMapMemory"); err != nil {
			b.Destroy()
			return nil, err
		}
		b.mapped = unsafe.Slice((*byte)(ptr), desc.Size)
	}
	return b, nil
}

type nativeImage struct {
	device vk.Device
	handle vk.Image
	memory vk.DeviceMemory
}

// Destroy releases images the device created. Swapchain images carry no
// memory and are left to their swapchain.
func (i *nativeImage) Destroy() {
	if i.memory == nil {
		return
	}
	vk.DestroyImage(i.device, i.handle, nil)
	vk.FreeMemory(i.device, i.memory, nil)
	i.handle, i.memory = nil, nil
}

func (d *nativeDevice) CreateImage(desc *ImageDesc) (Image, error) {
	info := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    desc.Format,
		Extent: vk.Extent3D{
			Width:  desc.Width,
			Height: desc.Height,
			Depth:  1,
		},
		MipLevels:     max(desc.MipLevels, 1),
		ArrayLayers:   max(desc.ArrayLayers, 1),
		Samples:       desc.Samples,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         desc.Usage,
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	if desc.Cube {
		info.Flags = vk.ImageCreateFlags(vk.ImageCreateCubeCompatibleBit)
	}

	img := &nativeImage{device: d.handle}
	if err := check(vk.CreateImage(d.handle, &info, nil, &img.handle), "vkCreateImage"); err != nil {
		return nil, errors.Wrapf(err, "image %q", desc.Label)
	}
	var requirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.handle, img.handle, &requirements)
	requirements.Deref()

	memory, err := d.allocate(requirements, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		vk.DestroyImage(d.handle, img.handle, nil)
		return nil, errors.Wrapf(err, "image %q", desc.Label)
	}
	img.memory = memory
	if err := check(vk.BindImageMemory(d.handle, img.handle, memory, 0), "vkBindImageMemory"); err != nil {
		img.Destroy()
		return nil, err
	}
	return img, nil
}

func (d *nativeDevice) CreateImageView(desc *ImageViewDesc) (ImageView, error) {
	var view vk.ImageView
	err := check(vk.CreateImageView(d.handle, &vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    desc.Image.(*nativeImage).handle,
		ViewType: desc.ViewType,
		Format:   desc.Format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask:     desc.Aspect,
			BaseMipLevel:   desc.BaseLevel,
			LevelCount:     desc.LevelCount,
			BaseArrayLayer: desc.BaseLayer,
			LayerCount:     desc.LayerCount,
		},
	}, nil, &view), "vkCreateImageView")
	if err != nil {
		return nil, err
	}
	return newObject(d.handle, view, vk.DestroyImageView), nil
}

func (d *nativeDevice) CreateBufferView(buffer Buffer, format vk.Format, offset, size uint64) (BufferView, error) {
	var view vk.BufferView
	err := check(vk.CreateBufferView(d.handle, &vk.BufferViewCreateInfo{
		SType:  vk.StructureTypeBufferViewCreateInfo,
		Buffer: buffer.(*vkBuffer).handle,
		Format: format,
		Offset: vk.DeviceSize(offset),
		Range:  vk.DeviceSize(size),
	}, nil, &view), "vkCreateBufferView")
	if err != nil {
		return nil, err
	}
	return newObject(d.handle, view, vk.DestroyBufferView), nil
}

func (d *nativeDevice) CreateSampler(desc *SamplerDesc) (Sampler, error) {
	var sampler vk.Sampler
	err := check(vk.CreateSampler(d.handle, &vk.SamplerCreateInfo{
		SType:        vk.StructureTypeSamplerCreateInfo,
		MagFilter:    desc.Filter,
		MinFilter:    desc.Filter,
		MipmapMode:   desc.MipmapMode,
		AddressModeU: desc.AddressMode,
		AddressModeV: desc.AddressMode,
		AddressModeW: desc.AddressMode,
		MaxLod:       desc.MaxLod,
		BorderColor:  vk.BorderColorIntOpaqueBlack,
		CompareOp:    vk.CompareOpAlways,
	}, nil, &sampler), "vkCreateSampler")
	if err != nil {
		return nil, err
	}
	return newObject(d.handle, sampler, vk.DestroySampler), nil
}

// CreateShaderModule takes SPIR-V words in little endian byte order.
func (d *nativeDevice) CreateShaderModule(code []byte) (ShaderModule, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, errors.Newf("vulkan: spir-v size %d is not a multiple of 4", len(code))
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[4*i:])
	}
	var module vk.ShaderModule
	err := check(vk.CreateShaderModule(d.handle, &vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(code)),
		PCode:    words,
	}, nil, &module), "vkCreateShaderModule")
	if err != nil {
		return nil, err
	}
	return newObject(d.handle, module, vk.DestroyShaderModule), nil
}

func (d *nativeDevice) CreateDescriptorSetLayout(bindings []DescriptorBinding) (DescriptorSetLayout, error) {
	native := make([]vk.DescriptorSetLayoutBinding, len(bindings))
	for i, b := range bindings {
		native[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  b.Type,
			DescriptorCount: 1,
			StageFlags:      b.Stages,
		}
	}
	var layout vk.DescriptorSetLayout
	err := check(vk.CreateDescriptorSetLayout(d.handle, &vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(native)),
		PBindings:    native,
	}, nil, &layout), "vkCreateDescriptorSetLayout")
	if err != nil {
		return nil, err
	}
	return newObject(d.handle, layout, vk.DestroyDescriptorSetLayout), nil
}

func (d *nativeDevice) CreatePipelineLayout(sets []DescriptorSetLayout, push PushConstantRange) (PipelineLayout, error) {
	layouts := make([]vk.DescriptorSetLayout, len(sets))
	for i, set := range sets {
		layouts[i] = handleOf[vk.DescriptorSetLayout](set)
	}
	info := vk.PipelineLayoutCreateInfo{
		SType:          vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount: uint32(len(layouts)),
		PSetLayouts:    layouts,
	}
	if push.Size > 0 {
		info.PushConstantRangeCount = 1
		info.PPushConstantRanges = []vk.PushConstantRange{{StageFlags: push.Stages, Size: push.Size}}
	}
	var layout vk.PipelineLayout
	if err := check(vk.CreatePipelineLayout(d.handle, &info, nil, &layout), "vkCreatePipelineLayout"); err != nil {
		return nil, err
	}
	return newObject(d.handle, layout, vk.DestroyPipelineLayout), nil
}

type nativeDescriptorPool struct {
	device vk.Device
	handle vk.DescriptorPool
}

func (p *nativeDescriptorPool) Destroy() {
	if p.handle != nil {
		vk.DestroyDescriptorPool(p.device, p.handle, nil)
		p.handle = nil
	}
}

func (p *nativeDescriptorPool) Allocate(layout DescriptorSetLayout) (DescriptorSet, error) {
	var set vk.DescriptorSet
	res := vk.AllocateDescriptorSets(p.device, &vk.DescriptorSetAllocateInfo{
		SType:              vk.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     p.handle,
		DescriptorSetCount: 1,
		PSetLayouts:        []vk.DescriptorSetLayout{handleOf[vk.DescriptorSetLayout](layout)},
	}, &set)
	switch res {
	case vk.Success:
		return set, nil
	case vk.ErrorOutOfPoolMemory, vk.ErrorFragmentedPool:
		return nil, errDescriptorPoolFull
	default:
		return nil, check(res, "vkAllocateDescriptorSets")
	}
}

func (p *nativeDescriptorPool) Reset() error {
	return check(vk.ResetDescriptorPool(p.device, p.handle, 0), "vkResetDescriptorPool")
}

func (d *nativeDevice) CreateDescriptorPool(maxSets uint32, sizes []DescriptorPoolSize) (DescriptorPool, error) {
	native := make([]vk.DescriptorPoolSize, len(sizes))
	for i, s := range sizes {
		native[i] = vk.DescriptorPoolSize{Type: s.Type, DescriptorCount: s.Count}
	}
	p := &nativeDescriptorPool{device: d.handle}
	err := check(vk.CreateDescriptorPool(d.handle, &vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(native)),
		PPoolSizes:    native,
	}, nil, &p.handle), "vkCreateDescriptorPool")
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (d *nativeDevice) UpdateDescriptorSets(writes []DescriptorWrite) {
	if len(writes) == 0 {
		return
	}
	native := make([]vk.WriteDescriptorSet, len(writes))
	for i := range writes {
		w := &writes[i]
		native[i] = vk.WriteDescriptorSet{
			SType:           vk.StructureTypeWriteDescriptorSet,
			DstSet:          w.Set.(vk.DescriptorSet),
			DstBinding:      w.Binding,
			DescriptorCount: 1,
			DescriptorType:  w.Type,
		}
		switch w.Type {
		case vk.DescriptorTypeUniformBuffer, vk.DescriptorTypeStorageBuffer:
			native[i].PBufferInfo = []vk.DescriptorBufferInfo{{
				Buffer: w.Buffer.(*vkBuffer).handle,
				Offset: vk.DeviceSize(w.Offset),
				Range:  vk.DeviceSize(w.Range),
			}}
		case vk.DescriptorTypeUniformTexelBuffer, vk.DescriptorTypeStorageTexelBuffer:
			native[i].PTexelBufferView = []vk.BufferView{handleOf[vk.BufferView](w.TexelView)}
		default:
			native[i].PImageInfo = []vk.DescriptorImageInfo{{
				Sampler:     handleOf[vk.Sampler](w.Sampler),
				ImageView:   handleOf[vk.ImageView](w.View),
				ImageLayout: w.Layout,
			}}
		}
	}
	vk.UpdateDescriptorSets(d.handle, uint32(len(native)), native, 0, nil)
}

func attachmentDescription(a *AttachmentDesc) vk.AttachmentDescription {
	return vk.AttachmentDescription{
		Format:         a.Format,
		Samples:        a.Samples,
		LoadOp:         a.LoadOp,
		StoreOp:        a.StoreOp,
		StencilLoadOp:  a.StencilLoadOp,
		StencilStoreOp: a.StencilStoreOp,
		InitialLayout:  a.Layout,
		FinalLayout:    a.Layout,
	}
}

func (d *nativeDevice) CreateRenderPass(desc *RenderPassDesc) (RenderPass, error) {
	attachments := make([]vk.AttachmentDescription, 0, len(desc.Colors)+1)
	colorRefs := make([]vk.AttachmentReference, 0, len(desc.Colors))
	for i := range desc.Colors {
		attachments = append(attachments, attachmentDescription(&desc.Colors[i]))
		colorRefs = append(colorRefs, vk.AttachmentReference{
			Attachment: uint32(i),
			Layout:     desc.Colors[i].Layout,
		})
	}
	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(colorRefs)),
		PColorAttachments:    colorRefs,
	}
	if desc.Depth != nil {
		attachments = append(attachments, attachmentDescription(desc.Depth))
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: uint32(len(attachments) - 1),
			Layout:     desc.Depth.Layout,
		}
	}

	var pass vk.RenderPass
	err := check(vk.CreateRenderPass(d.handle, &vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
	}, nil, &pass), "vkCreateRenderPass")
	if err != nil {
		return nil, err
	}
	return newObject(d.handle, pass, vk.DestroyRenderPass), nil
}

func (d *nativeDevice) CreateFramebuffer(pass RenderPass, attachments []ImageView, width, height uint32) (Framebuffer, error) {
	views := make([]vk.ImageView, len(attachments))
	for i, view := range attachments {
		views[i] = handleOf[vk.ImageView](view)
	}
	var fb vk.Framebuffer
	err := check(vk.CreateFramebuffer(d.handle, &vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      handleOf[vk.RenderPass](pass),
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           width,
		Height:          height,
		Layers:          1,
	}, nil, &fb), "vkCreateFramebuffer")
	if err != nil {
		return nil, err
	}
	return newObject(d.handle, fb, vk.DestroyFramebuffer), nil
}

func shaderStages(stages []ShaderStageDesc) []vk.PipelineShaderStageCreateInfo {
	native := make([]vk.PipelineShaderStageCreateInfo, len(stages))
	for i, s := range stages {
		entry := s.EntryPoint
		if entry == "" {
			entry = "main"
		}
		native[i] = vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  s.Stage,
			Module: handleOf[vk.ShaderModule](s.Module),
			PName:  safeString(entry),
		}
	}
	return native
}

func (d *nativeDevice) CreateGraphicsPipeline(desc *GraphicsPipelineDesc) (Pipeline, error) {
	bindings := make([]vk.VertexInputBindingDescription, len(desc.Bindings))
	for i, b := range desc.Bindings {
		bindings[i] = vk.VertexInputBindingDescription{Binding: b.Binding, Stride: b.Stride, InputRate: b.InputRate}
	}
	attributes := make([]vk.VertexInputAttributeDescription, len(desc.Attributes))
	for i, a := range desc.Attributes {
		attributes[i] = vk.VertexInputAttributeDescription{Location: a.Location, Binding: a.Binding, Format: a.Format, Offset: a.Offset}
	}
	vertexInput := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(bindings)),
		PVertexBindingDescriptions:      bindings,
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}
	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:    vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology: desc.Topology,
	}
	viewport := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}
	raster := vk.PipelineRasterizationStateCreateInfo{
		SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
		PolygonMode: vk.PolygonModeFill,
		CullMode:    vk.CullModeFlags(vk.CullModeNone),
		FrontFace:   vk.FrontFaceCounterClockwise,
		LineWidth:   1.0,
	}
	multisample := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: desc.Samples,
		MinSampleShading:     1.0,
	}
	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType: vk.StructureTypePipelineDepthStencilStateCreateInfo,
	}
	if desc.DepthStencil {
		depthStencil.DepthTestEnable = vk.True
		depthStencil.DepthWriteEnable = vk.True
		depthStencil.DepthCompareOp = vk.CompareOpLessOrEqual
	}
	blendAttachments := make([]vk.PipelineColorBlendAttachmentState, desc.ColorAttachments)
	for i := range blendAttachments {
		blendAttachments[i] = vk.PipelineColorBlendAttachmentState{
			ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit | vk.ColorComponentGBit |
				vk.ColorComponentBBit | vk.ColorComponentABit),
		}
	}
	blend := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: uint32(len(blendAttachments)),
		PAttachments:    blendAttachments,
	}
	dynamicStates := []vk.DynamicState{vk.DynamicStateViewport, vk.DynamicStateScissor}
	dynamic := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	stages := shaderStages(desc.Stages)
	info := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewport,
		PRasterizationState: &raster,
		PMultisampleState:   &multisample,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &blend,
		PDynamicState:       &dynamic,
		Layout:              handleOf[vk.PipelineLayout](desc.Layout),
		RenderPass:          handleOf[vk.RenderPass](desc.RenderPass),
		BasePipelineIndex:   -1,
	}
	pipelines := make([]vk.Pipeline, 1)
	if err := check(vk.CreateGraphicsPipelines(d.handle, vk.NullPipelineCache, 1,
		[]vk.GraphicsPipelineCreateInfo{info}, nil, pipelines), "vkCreateGraphicsPipelines"); err != nil {
		return nil, errors.Wrapf(err, "pipeline %q", desc.Label)
	}
	core.LogDebug("vulkan: graphics pipeline %q created", desc.Label)
	return newObject(d.handle, pipelines[0], vk.DestroyPipeline), nil
}

func (d *nativeDevice) CreateComputePipeline(layout PipelineLayout, stage ShaderStageDesc) (Pipeline, error) {
	info := vk.ComputePipelineCreateInfo{
		SType:             vk.StructureTypeComputePipelineCreateInfo,
		Stage:             shaderStages([]ShaderStageDesc{stage})[0],
		Layout:            handleOf[vk.PipelineLayout](layout),
		BasePipelineIndex: -1,
	}
	pipelines := make([]vk.Pipeline, 1)
	if err := check(vk.CreateComputePipelines(d.handle, vk.NullPipelineCache, 1,
		[]vk.ComputePipelineCreateInfo{info}, nil, pipelines), "vkCreateComputePipelines"); err != nil {
		return nil, err
	}
	return newObject(d.handle, pipelines[0], vk.DestroyPipeline), nil
}

type nativeCommandPool struct {
	device vk.Device
	handle vk.CommandPool
}

func (p *nativeCommandPool) Destroy() {
	if p.handle != nil {
		vk.DestroyCommandPool(p.device, p.handle, nil)
		p.handle = nil
	}
}

func (p *nativeCommandPool) Allocate() (CommandList, error) {
	buffers := make([]vk.CommandBuffer, 1)
	if err := check(vk.AllocateCommandBuffers(p.device, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        p.handle,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}, buffers), "vkAllocateCommandBuffers"); err != nil {
		return nil, err
	}
	return &nativeCommandList{handle: buffers[0]}, nil
}

// CreateCommandPool creates a pool on the graphics family whose lists can
// be reset one by one.
func (d *nativeDevice) CreateCommandPool() (CommandPool, error) {
	p := &nativeCommandPool{device: d.handle}
	err := check(vk.CreateCommandPool(d.handle, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: d.graphicsFamily,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}, nil, &p.handle), "vkCreateCommandPool")
	if err != nil {
		return nil, err
	}
	return p, nil
}

type nativeFence struct {
	device vk.Device
	handle vk.Fence
}

func (f *nativeFence) Destroy() {
	if f.handle != nil {
		vk.DestroyFence(f.device, f.handle, nil)
		f.handle = nil
	}
}

func (f *nativeFence) Signaled() (bool, error) {
	switch res := vk.GetFenceStatus(f.device, f.handle); res {
	case vk.Success:
		return true, nil
	case vk.NotReady:
		return false, nil
	default:
		return false, check(res, "vkGetFenceStatus")
	}
}

func (f *nativeFence) Wait(timeout time.Duration) (bool, error) {
	res := vk.WaitForFences(f.device, 1, []vk.Fence{f.handle}, vk.True, uint64(timeout.Nanoseconds()))
	if res == vk.Timeout {
		return false, nil
	}
	if err := check(res, "vkWaitForFences"); err != nil {
		return false, err
	}
	return true, nil
}

func (f *nativeFence) Reset() error {
	return check(vk.ResetFences(f.device, 1, []vk.Fence{f.handle}), "vkResetFences")
}

func (d *nativeDevice) CreateFence() (Fence, error) {
	f := &nativeFence{device: d.handle}
	err := check(vk.CreateFence(d.handle, &vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}, nil, &f.handle), "vkCreateFence")
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (d *nativeDevice) CreateSemaphore() (Semaphore, error) {
	var semaphore vk.Semaphore
	err := check(vk.CreateSemaphore(d.handle, &vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}, nil, &semaphore), "vkCreateSemaphore")
	if err != nil {
		return nil, err
	}
	return newObject(d.handle, semaphore, vk.DestroySemaphore), nil
}

func (d *nativeDevice) Submit(submit *SubmitDesc, fence Fence) error {
	lists := make([]vk.CommandBuffer, len(submit.Lists))
	for i, list := range submit.Lists {
		lists[i] = list.(*nativeCommandList).handle
	}
	wait := make([]vk.Semaphore, len(submit.Wait))
	for i, s := range submit.Wait {
		wait[i] = handleOf[vk.Semaphore](s)
	}
	signal := make([]vk.Semaphore, len(submit.Signal))
	for i, s := range submit.Signal {
		signal[i] = handleOf[vk.Semaphore](s)
	}
	info := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		WaitSemaphoreCount:   uint32(len(wait)),
		PWaitSemaphores:      wait,
		PWaitDstStageMask:    submit.WaitStages,
		CommandBufferCount:   uint32(len(lists)),
		PCommandBuffers:      lists,
		SignalSemaphoreCount: uint32(len(signal)),
		PSignalSemaphores:    signal,
	}
	var native vk.Fence
	if fence != nil {
		native = fence.(*nativeFence).handle
	}
	return check(vk.QueueSubmit(d.graphicsQueue, 1, []vk.SubmitInfo{info}, native), "vkQueueSubmit")
}

func (d *nativeDevice) WaitIdle() error {
	return check(vk.DeviceWaitIdle(d.handle), "vkDeviceWaitIdle")
}
