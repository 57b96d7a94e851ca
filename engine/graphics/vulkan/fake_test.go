package vulkan

import (
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/graphics"
	"github.com/spaghettifunk/prism/engine/math"
)

// The fakes below stand in for the loader and driver. They record what the
// backend asks for so tests can assert on the native call stream.

type fakeObject struct {
	kind     string
	released bool
}

func (o *fakeObject) Destroy() { o.released = true }

type fakeInstance struct {
	fakeObject
	device *fakeDevice
}

func (i *fakeInstance) CreateDevice(surface graphics.Surface, applicationName string) (Device, error) {
	return i.device, nil
}

type fakeSurface struct {
	width, height uint32
}

func (s *fakeSurface) FramebufferSize() (uint32, uint32)                         { return s.width, s.height }
func (s *fakeSurface) RequiredVulkanExtensions() []string                        { return []string{"VK_KHR_surface"} }
func (s *fakeSurface) CreateVulkanSurface(instance interface{}) (uintptr, error) { return 1, nil }
func (s *fakeSurface) NativeWindowHandle() uintptr                               { return 1 }

type fakeBuffer struct {
	fakeObject
	data        []byte
	hostVisible bool
}

func (b *fakeBuffer) Mapped() []byte {
	if !b.hostVisible {
		return nil
	}
	return b.data
}

// fakeFence completes once the fake queue reached its submission.
type fakeFence struct {
	fakeObject
	device    *fakeDevice
	value     uint64
	submitted bool
	resets    int
}

func (f *fakeFence) Signaled() (bool, error) {
	return f.submitted && f.value <= f.device.completed, nil
}

func (f *fakeFence) Wait(timeout time.Duration) (bool, error) {
	f.device.waits++
	if f.device.stuck {
		return false, nil
	}
	f.device.completed = max(f.device.completed, f.value)
	return true, nil
}

func (f *fakeFence) Reset() error {
	f.submitted = false
	f.value = 0
	f.resets++
	return nil
}

type fakeDescriptorPool struct {
	fakeObject
	capacity  int
	allocated int
	resets    int
}

func (p *fakeDescriptorPool) Allocate(layout DescriptorSetLayout) (DescriptorSet, error) {
	if p.allocated >= p.capacity {
		return nil, errDescriptorPoolFull
	}
	p.allocated++
	return &fakeObject{kind: "descriptor_set"}, nil
}

func (p *fakeDescriptorPool) Reset() error {
	p.allocated = 0
	p.resets++
	return nil
}

type fakeCommandPool struct {
	fakeObject
	device *fakeDevice
}

func (p *fakeCommandPool) Allocate() (CommandList, error) {
	list := &fakeList{}
	p.device.lists = append(p.device.lists, list)
	return list, nil
}

type passBegin struct {
	pass   RenderPass
	clears []ClearValue
}

type fakeList struct {
	mu     sync.Mutex
	calls  []string
	open   bool
	resets int

	memoryBarriers []MemoryBarrier
	bufferBarriers []BufferBarrier
	imageBarriers  []ImageBarrier
	passes         []passBegin
	pipelines      []Pipeline
	pushes         [][]byte
	viewports      []math.Viewport
}

func (l *fakeList) record(call string) {
	l.mu.Lock()
	l.calls = append(l.calls, call)
	l.mu.Unlock()
}

func (l *fakeList) count(call string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (l *fakeList) Begin(oneTimeSubmit bool) error {
	if l.open {
		return errors.New("command list is already recording")
	}
	l.record("Begin")
	l.open = true
	return nil
}

func (l *fakeList) End() error {
	if !l.open {
		return errors.New("command list is not recording")
	}
	l.record("End")
	l.open = false
	return nil
}

// Reset drops everything recorded so far, like the driver does.
func (l *fakeList) Reset() error {
	l.mu.Lock()
	l.calls = nil
	l.mu.Unlock()
	l.memoryBarriers, l.bufferBarriers, l.imageBarriers = nil, nil, nil
	l.passes, l.pipelines, l.pushes, l.viewports = nil, nil, nil, nil
	l.resets++
	l.open = false
	return nil
}

func (l *fakeList) PipelineBarrier(srcStages, dstStages vk.PipelineStageFlags, memory []MemoryBarrier, buffers []BufferBarrier, images []ImageBarrier) {
	l.record("PipelineBarrier")
	l.memoryBarriers = append(l.memoryBarriers, memory...)
	l.bufferBarriers = append(l.bufferBarriers, buffers...)
	l.imageBarriers = append(l.imageBarriers, images...)
}

func (l *fakeList) BeginRenderPass(pass RenderPass, framebuffer Framebuffer, width, height uint32, clears []ClearValue) {
	l.record("BeginRenderPass")
	l.passes = append(l.passes, passBegin{pass: pass, clears: clears})
}

func (l *fakeList) EndRenderPass() { l.record("EndRenderPass") }

func (l *fakeList) BindPipeline(bindPoint vk.PipelineBindPoint, pipeline Pipeline) {
	l.record("BindPipeline")
	l.pipelines = append(l.pipelines, pipeline)
}

func (l *fakeList) BindDescriptorSets(bindPoint vk.PipelineBindPoint, layout PipelineLayout, firstSet uint32, sets []DescriptorSet) {
	l.record("BindDescriptorSets")
}

func (l *fakeList) PushConstants(layout PipelineLayout, stages vk.ShaderStageFlags, offset uint32, data []byte) {
	l.record("PushConstants")
	l.pushes = append(l.pushes, append([]byte(nil), data...))
}

func (l *fakeList) BindVertexBuffers(firstBinding uint32, buffers []Buffer, offsets []uint64) {
	l.record("BindVertexBuffers")
}

func (l *fakeList) BindIndexBuffer(buffer Buffer, offset uint64, indexType vk.IndexType) {
	l.record("BindIndexBuffer")
}

func (l *fakeList) SetViewport(viewport math.Viewport) {
	l.record("SetViewport")
	l.viewports = append(l.viewports, viewport)
}

func (l *fakeList) SetScissor(scissor math.Rect) { l.record("SetScissor") }

func (l *fakeList) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	l.record("Draw")
}

func (l *fakeList) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	l.record("DrawIndexed")
}

func (l *fakeList) Dispatch(groupCountX, groupCountY, groupCountZ uint32) { l.record("Dispatch") }

func (l *fakeList) CopyBuffer(src, dst Buffer, srcOffset, dstOffset, size uint64) {
	l.record("CopyBuffer")
	s, d := src.(*fakeBuffer), dst.(*fakeBuffer)
	copy(d.data[dstOffset:dstOffset+size], s.data[srcOffset:srcOffset+size])
}

func (l *fakeList) CopyBufferToImage(src Buffer, dst Image, region BufferImageCopy) {
	l.record("CopyBufferToImage")
}

type fakeSwapchain struct {
	fakeObject
	device    *fakeDevice
	images    []Image
	next      uint32
	outOfDate bool
	recreated int
	width     uint32
	height    uint32
	acquired  []Semaphore
	presented []Semaphore
}

func (s *fakeSwapchain) Images() []Image                { return s.images }
func (s *fakeSwapchain) Format() vk.Format              { return vk.FormatB8g8r8a8Unorm }
func (s *fakeSwapchain) Extent() (width, height uint32) { return s.width, s.height }

func (s *fakeSwapchain) AcquireNextImage(signal Semaphore, timeout time.Duration) (uint32, error) {
	if s.outOfDate {
		s.outOfDate = false
		return 0, errors.Mark(errors.New("swapchain out of date"), core.ErrSwapchainBooting)
	}
	index := s.next
	s.next = (s.next + 1) % uint32(len(s.images))
	s.acquired = append(s.acquired, signal)
	return index, nil
}

func (s *fakeSwapchain) Present(index uint32, wait Semaphore) error {
	s.presented = append(s.presented, wait)
	return nil
}

func (s *fakeSwapchain) Recreate(width, height uint32) error {
	s.recreated++
	s.width, s.height = width, height
	for i := range s.images {
		s.images[i] = &fakeObject{kind: fmt.Sprintf("swapchain_image_%d_%d", s.recreated, i)}
	}
	s.next = 0
	return nil
}

type fakeDevice struct {
	fakeObject

	// Queue progress. Without hold every submission completes at once.
	submitted uint64
	completed uint64
	hold      bool
	stuck     bool
	waits     int
	submits   []SubmitDesc

	poolCapacity int
	lists        []*fakeList
	pools        []*fakeDescriptorPool
	fences       []*fakeFence
	buffers      []*fakeBuffer
	images       []*ImageDesc
	views        []*ImageViewDesc
	bufferViews  int
	samplers     int
	modules      int
	setLayouts   [][]DescriptorBinding
	pushRanges   []PushConstantRange
	writes       []DescriptorWrite
	renderPasses []*RenderPassDesc
	framebuffers     int
	framebufferSizes [][2]uint32
	graphics     []GraphicsPipelineDesc
	compute      int
	semaphores   int
	swapchain    *fakeSwapchain
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{fakeObject: fakeObject{kind: "device"}, poolCapacity: setsPerPool}
}

// catchUp completes every held submission.
func (d *fakeDevice) catchUp() {
	d.completed = d.submitted
}

func (d *fakeDevice) DeviceName() string          { return "fake gpu" }
func (d *fakeDevice) MaxColorAttachments() uint32 { return 8 }

func (d *fakeDevice) CreateBuffer(desc *BufferDesc) (Buffer, error) {
	b := &fakeBuffer{fakeObject: fakeObject{kind: "buffer"}, data: make([]byte, desc.Size), hostVisible: desc.HostVisible}
	d.buffers = append(d.buffers, b)
	return b, nil
}

func (d *fakeDevice) CreateImage(desc *ImageDesc) (Image, error) {
	d.images = append(d.images, desc)
	return &fakeObject{kind: "image"}, nil
}

func (d *fakeDevice) CreateImageView(desc *ImageViewDesc) (ImageView, error) {
	d.views = append(d.views, desc)
	return &fakeObject{kind: "image_view"}, nil
}

func (d *fakeDevice) CreateBufferView(buffer Buffer, format vk.Format, offset, size uint64) (BufferView, error) {
	d.bufferViews++
	return &fakeObject{kind: "buffer_view"}, nil
}

func (d *fakeDevice) CreateSampler(desc *SamplerDesc) (Sampler, error) {
	d.samplers++
	return &fakeObject{kind: "sampler"}, nil
}

func (d *fakeDevice) CreateShaderModule(code []byte) (ShaderModule, error) {
	d.modules++
	return &fakeObject{kind: "shader_module"}, nil
}

func (d *fakeDevice) CreateDescriptorSetLayout(bindings []DescriptorBinding) (DescriptorSetLayout, error) {
	d.setLayouts = append(d.setLayouts, bindings)
	return &fakeObject{kind: "set_layout"}, nil
}

func (d *fakeDevice) CreatePipelineLayout(sets []DescriptorSetLayout, push PushConstantRange) (PipelineLayout, error) {
	d.pushRanges = append(d.pushRanges, push)
	return &fakeObject{kind: "pipeline_layout"}, nil
}

func (d *fakeDevice) CreateDescriptorPool(maxSets uint32, sizes []DescriptorPoolSize) (DescriptorPool, error) {
	pool := &fakeDescriptorPool{fakeObject: fakeObject{kind: "descriptor_pool"}, capacity: d.poolCapacity}
	d.pools = append(d.pools, pool)
	return pool, nil
}

func (d *fakeDevice) UpdateDescriptorSets(writes []DescriptorWrite) {
	d.writes = append(d.writes, writes...)
}

func (d *fakeDevice) CreateRenderPass(desc *RenderPassDesc) (RenderPass, error) {
	d.renderPasses = append(d.renderPasses, desc)
	return &fakeObject{kind: "render_pass"}, nil
}

func (d *fakeDevice) CreateFramebuffer(pass RenderPass, attachments []ImageView, width, height uint32) (Framebuffer, error) {
	d.framebuffers++
	d.framebufferSizes = append(d.framebufferSizes, [2]uint32{width, height})
	return &fakeObject{kind: "framebuffer"}, nil
}

func (d *fakeDevice) CreateGraphicsPipeline(desc *GraphicsPipelineDesc) (Pipeline, error) {
	d.graphics = append(d.graphics, *desc)
	return &fakeObject{kind: "graphics_pipeline"}, nil
}

func (d *fakeDevice) CreateComputePipeline(layout PipelineLayout, stage ShaderStageDesc) (Pipeline, error) {
	d.compute++
	return &fakeObject{kind: "compute_pipeline"}, nil
}

func (d *fakeDevice) CreateCommandPool() (CommandPool, error) {
	return &fakeCommandPool{fakeObject: fakeObject{kind: "command_pool"}, device: d}, nil
}

func (d *fakeDevice) CreateFence() (Fence, error) {
	f := &fakeFence{fakeObject: fakeObject{kind: "fence"}, device: d}
	d.fences = append(d.fences, f)
	return f, nil
}

func (d *fakeDevice) CreateSemaphore() (Semaphore, error) {
	d.semaphores++
	return &fakeObject{kind: fmt.Sprintf("semaphore_%d", d.semaphores)}, nil
}

func (d *fakeDevice) Submit(submit *SubmitDesc, fence Fence) error {
	for _, list := range submit.Lists {
		if list.(*fakeList).open {
			panic("submitting a command list that is still recording")
		}
	}
	d.submits = append(d.submits, *submit)
	d.submitted++
	f := fence.(*fakeFence)
	f.value, f.submitted = d.submitted, true
	if !d.hold {
		d.completed = d.submitted
	}
	return nil
}

func (d *fakeDevice) WaitIdle() error {
	d.catchUp()
	return nil
}

func (d *fakeDevice) CreateSwapchain(width, height uint32, vsync bool, minImages uint32) (Swapchain, error) {
	sc := &fakeSwapchain{fakeObject: fakeObject{kind: "swapchain"}, device: d, width: width, height: height}
	for i := 0; i < 3; i++ {
		sc.images = append(sc.images, &fakeObject{kind: fmt.Sprintf("swapchain_image_%d", i)})
	}
	d.swapchain = sc
	return sc, nil
}
