// Package vulkan is the Vulkan backend. Command buffers record into lists
// from their own command pool; submissions are ordered on one graphics queue
// and tracked by a pool of fences that behaves like a timeline.
package vulkan

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/graphics"
)

// NewNativeDevice creates the native instance. It stays nil when the loader
// was not linked in.
var NewNativeDevice func(validation bool) (Instance, error)

// loaderPresent reports whether a Vulkan loader is present on the system.
var loaderPresent = func() bool { return false }

type Driver struct{}

func init() {
	graphics.RegisterDriver(Driver{})
}

func (Driver) Backend() graphics.Backend {
	return graphics.BackendVulkan
}

func (Driver) IsSupported() bool {
	return NewNativeDevice != nil && loaderPresent()
}

func (Driver) CreateDevice(validation bool) (graphics.DeviceBackend, error) {
	if NewNativeDevice == nil {
		return nil, errors.WithStack(core.ErrUnsupportedBackend)
	}
	instance, err := NewNativeDevice(validation)
	if err != nil {
		return nil, graphics.NativeError(err, "creating vulkan instance")
	}
	return NewBackend(instance, validation), nil
}

// frameSync holds the semaphores of one frame slot.
type frameSync struct {
	imageAvailable Semaphore
	renderFinished Semaphore
}

type Backend struct {
	instance   Instance
	device     Device
	validation bool
	settings   graphics.DeviceSettings
	caps       graphics.Capabilities

	queueMu  sync.Mutex
	timeline *timeline

	swapchain    Swapchain
	backbuffers  []*texture
	imageIndex   uint32
	imagePending bool
	frameSync    []frameSync
	frameSlot    uint64

	frameFences []uint64
	lastFrame   uint64
	completed   atomic.Uint64

	layoutsMu sync.Mutex
	layouts   map[uint64]*pipelineLayout

	renderPasses *graphics.HashedCache[RenderPass]
	framebuffers *graphics.HashedCache[*framebuffer]
	pipelines    *graphics.HashedCache[Pipeline]
	descriptors  *descriptorAllocator
	sampler      Sampler

	uploadMu   sync.Mutex
	uploadPool CommandPool
	uploadList CommandList
}

// NewBackend wraps an already created instance. The logical device is
// created by Initialize once the surface is known.
func NewBackend(instance Instance, validation bool) *Backend {
	return &Backend{
		instance:   instance,
		validation: validation,
		layouts:    make(map[uint64]*pipelineLayout),
		caps: graphics.Capabilities{
			Backend:                graphics.BackendVulkan,
			MultithreadedRecording: true,
			MaxColorAttachments:    graphics.MAX_COLOR_ATTACHMENTS,
		},
	}
}

func (b *Backend) Initialize(settings *graphics.DeviceSettings) error {
	b.settings = *settings

	device, err := b.instance.CreateDevice(settings.Surface, settings.ApplicationName)
	if err != nil {
		return graphics.NativeError(err, "creating vulkan device")
	}
	b.device = device
	b.caps.DeviceName = device.DeviceName()
	b.caps.MaxColorAttachments = min(device.MaxColorAttachments(), graphics.MAX_COLOR_ATTACHMENTS)
	b.timeline = newTimeline(device)

	frames := max(settings.FramesInFlight, 1)
	b.frameFences = make([]uint64, frames)
	b.descriptors = newDescriptorAllocator(device, frames)

	b.renderPasses = graphics.NewHashedCache[RenderPass](settings.FramebufferRingSize, settings.RenderPassCacheCapacity,
		func(pass RenderPass) { pass.Destroy() })
	b.framebuffers = graphics.NewHashedCache[*framebuffer](settings.FramebufferRingSize, settings.RenderPassCacheCapacity,
		func(fb *framebuffer) { fb.release() })
	b.pipelines = graphics.NewHashedCache[Pipeline](settings.FramebufferRingSize, settings.RenderPassCacheCapacity,
		func(p Pipeline) { p.Destroy() })

	if b.sampler, err = device.CreateSampler(&SamplerDesc{
		Filter:      vk.FilterLinear,
		MipmapMode:  vk.SamplerMipmapModeLinear,
		AddressMode: vk.SamplerAddressModeRepeat,
		MaxLod:      1000,
	}); err != nil {
		return graphics.NativeError(err, "creating vulkan default sampler")
	}

	width, height := settings.Width, settings.Height
	if settings.Surface != nil {
		width, height = settings.Surface.FramebufferSize()
	}
	if err := b.createBackbuffers(width, height); err != nil {
		return err
	}

	core.LogInfo("vulkan: initialized on %s (%dx%d, %d frames in flight)", b.caps.DeviceName, width, height, frames)
	return nil
}

func backbufferDescriptor(format graphics.PixelFormat, width, height uint32) graphics.TextureDescriptor {
	return graphics.TextureDescriptor{
		Type:        graphics.TextureType2D,
		Format:      format,
		Usage:       graphics.TextureUsageRenderTarget,
		Width:       width,
		Height:      height,
		Depth:       1,
		ArrayLayers: 1,
		MipLevels:   1,
		SampleCount: graphics.SampleCount1,
	}
}

func (b *Backend) createBackbuffers(width, height uint32) error {
	// Headless devices render into one offscreen image. Its tracker starts in
	// the present state like a real swapchain image.
	if b.settings.Surface == nil {
		desc := backbufferDescriptor(graphics.PixelFormatBGRA8Unorm, width, height)
		image, err := b.device.CreateImage(&ImageDesc{
			Format:      vk.FormatB8g8r8a8Unorm,
			Width:       width,
			Height:      height,
			MipLevels:   1,
			ArrayLayers: 1,
			Samples:     vk.SampleCount1Bit,
			Usage:       convertTextureUsage(&desc),
			Label:       "offscreen backbuffer",
		})
		if err != nil {
			return graphics.NativeError(err, "creating vulkan offscreen backbuffer")
		}
		b.backbuffers = []*texture{{
			backend:   b,
			image:     image,
			ownsImage: true,
			format:    vk.FormatB8g8r8a8Unorm,
			aspect:    vk.ImageAspectFlags(vk.ImageAspectColorBit),
			desc:      desc,
			layout:    vk.ImageLayoutUndefined,
			swapchain: true,
		}}
		return nil
	}

	swapchain, err := b.device.CreateSwapchain(width, height, b.settings.VSync, b.settings.FramesInFlight)
	if err != nil {
		return graphics.NativeError(err, "creating vulkan swapchain")
	}
	b.swapchain = swapchain

	format := graphics.PixelFormatBGRA8Unorm
	if swapchain.Format() == vk.FormatB8g8r8a8Srgb {
		format = graphics.PixelFormatBGRA8UnormSrgb
	}
	w, h := swapchain.Extent()
	for _, image := range swapchain.Images() {
		b.backbuffers = append(b.backbuffers, &texture{
			backend:   b,
			image:     image,
			format:    swapchain.Format(),
			aspect:    vk.ImageAspectFlags(vk.ImageAspectColorBit),
			desc:      backbufferDescriptor(format, w, h),
			layout:    vk.ImageLayoutUndefined,
			swapchain: true,
		})
	}

	for range b.frameFences {
		var fs frameSync
		if fs.imageAvailable, err = b.device.CreateSemaphore(); err != nil {
			return graphics.NativeError(err, "creating vulkan image available semaphore")
		}
		if fs.renderFinished, err = b.device.CreateSemaphore(); err != nil {
			fs.imageAvailable.Destroy()
			return graphics.NativeError(err, "creating vulkan render finished semaphore")
		}
		b.frameSync = append(b.frameSync, fs)
	}
	return nil
}

// recreateSwapchain rebuilds an out of date swapchain at the current surface
// size. The backbuffer textures keep their identity; the native images and
// the extent behind them change.
func (b *Backend) recreateSwapchain() error {
	if err := b.device.WaitIdle(); err != nil {
		return errors.Mark(errors.Wrap(err, "vulkan: waiting before swapchain recreation"), core.ErrDeviceLost)
	}
	b.framebuffers.Clear()

	width, height := b.backbuffers[0].desc.Width, b.backbuffers[0].desc.Height
	if w, h := b.settings.Surface.FramebufferSize(); w > 0 && h > 0 {
		width, height = w, h
	}
	if err := b.swapchain.Recreate(width, height); err != nil {
		return graphics.NativeError(err, "recreating vulkan swapchain")
	}
	images := b.swapchain.Images()
	if len(images) != len(b.backbuffers) {
		return errors.Newf("vulkan: swapchain came back with %d images instead of %d", len(images), len(b.backbuffers))
	}
	width, height = b.swapchain.Extent()
	for i, image := range images {
		tex := b.backbuffers[i]
		tex.image = image
		tex.layout = vk.ImageLayoutUndefined
		tex.desc.Width, tex.desc.Height = width, height
	}
	b.imagePending = false
	core.LogInfo("vulkan: swapchain recreated at %dx%d", width, height)
	return nil
}

// Shutdown expects the queue to be idle.
func (b *Backend) Shutdown() {
	if b.device == nil {
		b.instance.Destroy()
		return
	}
	for _, cache := range []interface{ Clear() }{b.framebuffers, b.pipelines, b.renderPasses} {
		if cache != nil {
			cache.Clear()
		}
	}

	b.layoutsMu.Lock()
	for hash, layout := range b.layouts {
		layout.destroy()
		delete(b.layouts, hash)
	}
	b.layoutsMu.Unlock()

	if b.uploadPool != nil {
		b.uploadPool.Destroy()
		b.uploadPool, b.uploadList = nil, nil
	}
	if b.descriptors != nil {
		b.descriptors.destroy()
	}
	if b.sampler != nil {
		b.sampler.Destroy()
	}
	for _, tex := range b.backbuffers {
		tex.release()
	}
	b.backbuffers = nil
	for _, fs := range b.frameSync {
		fs.imageAvailable.Destroy()
		fs.renderFinished.Destroy()
	}
	b.frameSync = nil
	if b.swapchain != nil {
		b.swapchain.Destroy()
		b.swapchain = nil
	}
	if b.timeline != nil {
		b.timeline.destroy()
	}
	b.device.Destroy()
	b.instance.Destroy()
	core.LogInfo("vulkan: device released")
}

func (b *Backend) Capabilities() graphics.Capabilities {
	return b.caps
}

// submit executes lists on the queue. The first submission after an image
// acquire waits for the image to become available. A failed wait still
// returns the value the lists were submitted under.
func (b *Backend) submit(lists []CommandList, waitForCompletion bool) (uint64, error) {
	b.queueMu.Lock()
	desc := SubmitDesc{Lists: lists}
	b.waitForImageLocked(&desc)
	value, err := b.submitLocked(&desc)
	b.queueMu.Unlock()
	if err != nil {
		return 0, err
	}
	if waitForCompletion {
		if err := b.timeline.wait(value, b.settings.FenceTimeout); err != nil {
			return value, err
		}
	}
	return value, nil
}

func (b *Backend) waitForImageLocked(desc *SubmitDesc) {
	if !b.imagePending {
		return
	}
	desc.Wait = append(desc.Wait, b.frameSync[b.frameSlot].imageAvailable)
	desc.WaitStages = append(desc.WaitStages, vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit))
	b.imagePending = false
}

func (b *Backend) submitLocked(desc *SubmitDesc) (uint64, error) {
	fence, value, err := b.timeline.next()
	if err != nil {
		return 0, errors.Mark(err, core.ErrDeviceLost)
	}
	if err := b.device.Submit(desc, fence); err != nil {
		b.timeline.drop(fence)
		return 0, errors.Mark(errors.Wrap(err, "vulkan: queue submit"), core.ErrDeviceLost)
	}
	b.timeline.push(fence, value)
	return value, nil
}

func (b *Backend) WaitIdle() error {
	value, err := b.submit(nil, true)
	if err != nil {
		return err
	}
	core.LogDebug("vulkan: idle at fence value %d", value)
	b.completed.Store(b.lastFrame)
	return nil
}

// BeginFrame waits for the frame that last used this slot, recycles the
// slot's descriptor pools and acquires the next swapchain image.
func (b *Backend) BeginFrame(frame uint64) error {
	n := uint64(len(b.frameFences))
	slot := frame % n
	if value := b.frameFences[slot]; value != 0 {
		if err := b.timeline.wait(value, b.settings.FenceTimeout); err != nil {
			return err
		}
		if frame > n {
			if done := frame - n; done > b.completed.Load() {
				b.completed.Store(done)
			}
		}
	}
	if err := b.descriptors.beginFrame(uint32(slot)); err != nil {
		return err
	}
	b.renderPasses.BeginFrame(frame, b.completed.Load())
	b.framebuffers.BeginFrame(frame, b.completed.Load())
	b.pipelines.BeginFrame(frame, b.completed.Load())
	b.frameSlot = slot

	if b.swapchain == nil {
		return nil
	}
	index, err := b.swapchain.AcquireNextImage(b.frameSync[slot].imageAvailable, b.settings.FenceTimeout)
	if err != nil {
		if errors.Is(err, core.ErrSwapchainBooting) {
			if rerr := b.recreateSwapchain(); rerr != nil {
				return rerr
			}
			return err
		}
		return errors.Wrap(err, "vulkan: acquiring swapchain image")
	}
	b.imageIndex = index
	b.imagePending = true
	return nil
}

// EndFrame signals the frame fence and presents. The fence submission also
// signals the semaphore the present waits on.
func (b *Backend) EndFrame(frame uint64) error {
	b.queueMu.Lock()
	defer b.queueMu.Unlock()

	var desc SubmitDesc
	var fs frameSync
	if b.swapchain != nil {
		fs = b.frameSync[b.frameSlot]
		b.waitForImageLocked(&desc)
		desc.Signal = []Semaphore{fs.renderFinished}
	}
	value, err := b.submitLocked(&desc)
	if err != nil {
		return err
	}
	b.frameFences[frame%uint64(len(b.frameFences))] = value
	b.lastFrame = frame

	if b.swapchain != nil {
		if err := b.swapchain.Present(b.imageIndex, fs.renderFinished); err != nil {
			if errors.Is(err, core.ErrSwapchainBooting) {
				core.LogDebug("vulkan: swapchain out of date at present")
				return nil
			}
			return errors.Mark(errors.Wrap(err, "vulkan: present"), core.ErrDeviceLost)
		}
	}
	return nil
}

func (b *Backend) CompletedFrame() uint64 {
	return b.completed.Load()
}

func (b *Backend) SwapchainImages() []graphics.SwapchainImage {
	images := make([]graphics.SwapchainImage, 0, len(b.backbuffers))
	for _, tex := range b.backbuffers {
		images = append(images, graphics.SwapchainImage{Native: tex, Descriptor: tex.desc})
	}
	return images
}

func (b *Backend) CurrentSwapchainIndex() uint32 {
	return b.imageIndex
}

func (b *Backend) CreateCommandBuffer(main bool) (graphics.CommandBufferBackend, error) {
	return newCommandBuffer(b, main)
}
