// Package d3d12 is the Direct3D 12 backend. Every command buffer records
// its own direct command list; submissions are ordered by a single queue
// fence.
package d3d12

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/graphics"
	"github.com/spaghettifunk/prism/engine/graphics/dxgi"
)

const (
	descriptorsPerFrame = 4096
	stagingDescriptors  = 4096
	rtvDescriptors      = 256
	dsvDescriptors      = 64
)

// NewNativeDevice creates the native device. It stays nil on platforms
// without Direct3D 12, which keeps the backend out of default resolution.
var NewNativeDevice func(validation bool) (Device, error)

type Driver struct{}

func init() {
	graphics.RegisterDriver(Driver{})
}

func (Driver) Backend() graphics.Backend {
	return graphics.BackendD3D12
}

func (Driver) IsSupported() bool {
	return NewNativeDevice != nil
}

func (Driver) CreateDevice(validation bool) (graphics.DeviceBackend, error) {
	if NewNativeDevice == nil {
		return nil, errors.WithStack(core.ErrUnsupportedBackend)
	}
	native, err := NewNativeDevice(validation)
	if err != nil {
		return nil, graphics.NativeError(err, "creating d3d12 device")
	}
	return NewBackend(native, validation), nil
}

type Backend struct {
	device     Device
	validation bool
	settings   graphics.DeviceSettings
	caps       graphics.Capabilities

	queue      CommandQueue
	queueMu    sync.Mutex
	fenceValue uint64
	fence      Fence
	fenceEvent Event
	fenceMu    sync.Mutex

	swapchain       SwapChain
	backbuffers     []*texture
	backbufferIndex uint32
	syncInterval    uint32
	presentFlags    uint32

	frameFences []uint64
	lastFrame   uint64
	completed   atomic.Uint64

	descriptors *descriptorRing
	staging     *descriptorAllocator
	rtvs        *descriptorAllocator
	dsvs        *descriptorAllocator

	rootLayoutsMu sync.Mutex
	rootLayouts   map[uint64]*rootLayout

	pipelineStates *graphics.HashedCache[PipelineState]
	framebuffers   *graphics.HashedCache[*framebuffer]

	uploadMu        sync.Mutex
	uploadAllocator CommandAllocator
	uploadList      GraphicsCommandList
}

// NewBackend wraps an already created native device.
func NewBackend(device Device, validation bool) *Backend {
	return &Backend{
		device:      device,
		validation:  validation,
		rootLayouts: make(map[uint64]*rootLayout),
		caps: graphics.Capabilities{
			Backend:                graphics.BackendD3D12,
			DeviceName:             device.AdapterName(),
			MultithreadedRecording: true,
			MaxColorAttachments:    SIMULTANEOUS_RENDER_TARGET_COUNT,
		},
	}
}

func (b *Backend) Initialize(settings *graphics.DeviceSettings) error {
	b.settings = *settings

	var err error
	if b.queue, err = b.device.CreateCommandQueue(COMMAND_LIST_TYPE_DIRECT); err != nil {
		return graphics.NativeError(err, "creating d3d12 command queue")
	}
	if b.fence, err = b.device.CreateFence(0); err != nil {
		return graphics.NativeError(err, "creating d3d12 fence")
	}
	if b.fenceEvent, err = b.device.CreateEvent(); err != nil {
		return graphics.NativeError(err, "creating d3d12 fence event")
	}

	frames := max(settings.FramesInFlight, 1)
	if b.descriptors, err = newDescriptorRing(b.device, frames, descriptorsPerFrame); err != nil {
		return graphics.NativeError(err, "creating d3d12 shader visible descriptor heap")
	}
	if b.staging, err = newDescriptorAllocator(b.device, DESCRIPTOR_HEAP_TYPE_CBV_SRV_UAV, stagingDescriptors); err != nil {
		return graphics.NativeError(err, "creating d3d12 staging descriptor heap")
	}
	if b.rtvs, err = newDescriptorAllocator(b.device, DESCRIPTOR_HEAP_TYPE_RTV, rtvDescriptors); err != nil {
		return graphics.NativeError(err, "creating d3d12 rtv heap")
	}
	if b.dsvs, err = newDescriptorAllocator(b.device, DESCRIPTOR_HEAP_TYPE_DSV, dsvDescriptors); err != nil {
		return graphics.NativeError(err, "creating d3d12 dsv heap")
	}

	b.framebuffers = graphics.NewHashedCache[*framebuffer](settings.FramebufferRingSize, settings.RenderPassCacheCapacity,
		func(fb *framebuffer) { fb.release() })
	b.pipelineStates = graphics.NewHashedCache[PipelineState](settings.FramebufferRingSize, settings.RenderPassCacheCapacity,
		func(pso PipelineState) { pso.Release() })
	b.frameFences = make([]uint64, frames)

	width, height := settings.Width, settings.Height
	if settings.Surface != nil {
		width, height = settings.Surface.FramebufferSize()
	}
	if err := b.createBackbuffers(width, height); err != nil {
		return err
	}

	core.LogInfo("d3d12: initialized on %s (%dx%d, %d frames in flight)", b.caps.DeviceName, width, height, frames)
	return nil
}

func (b *Backend) createBackbuffers(width, height uint32) error {
	desc := graphics.TextureDescriptor{
		Type:        graphics.TextureType2D,
		Format:      graphics.PixelFormatBGRA8Unorm,
		Usage:       graphics.TextureUsageRenderTarget,
		Width:       width,
		Height:      height,
		Depth:       1,
		ArrayLayers: 1,
		MipLevels:   1,
		SampleCount: graphics.SampleCount1,
	}

	// Headless devices render into one offscreen target that starts in the
	// present state like a real swapchain buffer.
	if b.settings.Surface == nil {
		resource, err := b.device.CreateCommittedResource(HEAP_TYPE_DEFAULT, &RESOURCE_DESC{
			Dimension:        RESOURCE_DIMENSION_TEXTURE2D,
			Width:            uint64(width),
			Height:           height,
			DepthOrArraySize: 1,
			MipLevels:        1,
			Format:           dxgi.FORMAT_B8G8R8A8_UNORM,
			SampleDesc:       dxgi.SAMPLE_DESC{Count: 1},
			Flags:            RESOURCE_FLAG_ALLOW_RENDER_TARGET,
		}, RESOURCE_STATE_PRESENT)
		if err != nil {
			return graphics.NativeError(err, "creating d3d12 offscreen backbuffer")
		}
		b.backbuffers = []*texture{{
			backend:   b,
			resource:  resource,
			format:    dxgi.FORMAT_B8G8R8A8_UNORM,
			desc:      desc,
			state:     RESOURCE_STATE_PRESENT,
			swapchain: true,
		}}
		return nil
	}

	swapDesc, syncInterval, presentFlags := dxgi.SwapChainDesc(width, height, b.settings.FramesInFlight,
		b.settings.Surface.NativeWindowHandle(), b.settings.VSync)
	b.syncInterval, b.presentFlags = syncInterval, presentFlags
	swapchain, err := b.device.CreateSwapChain(b.queue, &swapDesc)
	if err != nil {
		return graphics.NativeError(err, "creating d3d12 swapchain")
	}
	b.swapchain = swapchain

	for i := uint32(0); i < swapDesc.BufferCount; i++ {
		resource, err := swapchain.GetBuffer(i)
		if err != nil {
			return graphics.NativeError(err, "getting d3d12 swapchain buffer %d", i)
		}
		b.backbuffers = append(b.backbuffers, &texture{
			backend:   b,
			resource:  resource,
			format:    dxgi.FORMAT_B8G8R8A8_UNORM,
			desc:      desc,
			state:     RESOURCE_STATE_PRESENT,
			swapchain: true,
		})
	}
	b.backbufferIndex = swapchain.GetCurrentBackBufferIndex()
	return nil
}

// Shutdown expects the queue to be idle.
func (b *Backend) Shutdown() {
	if b.framebuffers != nil {
		b.framebuffers.Clear()
	}
	if b.pipelineStates != nil {
		b.pipelineStates.Clear()
	}

	b.rootLayoutsMu.Lock()
	for hash, layout := range b.rootLayouts {
		layout.signature.Release()
		delete(b.rootLayouts, hash)
	}
	b.rootLayoutsMu.Unlock()

	if b.uploadList != nil {
		b.uploadList.Release()
		b.uploadAllocator.Release()
		b.uploadList, b.uploadAllocator = nil, nil
	}
	for _, tex := range b.backbuffers {
		tex.release()
	}
	b.backbuffers = nil
	if b.swapchain != nil {
		b.swapchain.Release()
		b.swapchain = nil
	}

	for _, heap := range []*descriptorAllocator{b.staging, b.rtvs, b.dsvs} {
		if heap != nil {
			heap.destroy()
		}
	}
	if b.descriptors != nil {
		b.descriptors.destroy()
	}
	if b.fenceEvent != nil {
		b.fenceEvent.Release()
	}
	if b.fence != nil {
		b.fence.Release()
	}
	if b.queue != nil {
		b.queue.Release()
	}
	b.device.Release()
	core.LogInfo("d3d12: device released")
}

func (b *Backend) Capabilities() graphics.Capabilities {
	return b.caps
}

// submit executes one closed command list and signals the queue fence. The
// returned fence value is reached once the list finished.
func (b *Backend) submit(list GraphicsCommandList, waitForCompletion bool) (uint64, error) {
	b.queueMu.Lock()
	b.queue.ExecuteCommandLists([]GraphicsCommandList{list})
	value, err := b.signalLocked()
	b.queueMu.Unlock()
	if err != nil {
		return 0, err
	}
	if waitForCompletion {
		if err := b.waitForFence(value); err != nil {
			return 0, err
		}
	}
	return value, nil
}

func (b *Backend) signalLocked() (uint64, error) {
	b.fenceValue++
	if err := b.queue.Signal(b.fence, b.fenceValue); err != nil {
		return 0, errors.Mark(errors.Wrap(err, "d3d12: signaling queue fence"), core.ErrDeviceLost)
	}
	return b.fenceValue, nil
}

func (b *Backend) signal() (uint64, error) {
	b.queueMu.Lock()
	defer b.queueMu.Unlock()
	return b.signalLocked()
}

// waitForFence blocks until the queue fence reached value or the fence
// timeout expired.
func (b *Backend) waitForFence(value uint64) error {
	if b.fence.GetCompletedValue() >= value {
		return nil
	}

	b.fenceMu.Lock()
	defer b.fenceMu.Unlock()
	if b.fence.GetCompletedValue() >= value {
		return nil
	}
	if err := b.fence.SetEventOnCompletion(value, b.fenceEvent); err != nil {
		return errors.Mark(errors.Wrap(err, "d3d12: arming fence event"), core.ErrDeviceLost)
	}
	done, err := b.fenceEvent.Wait(b.settings.FenceTimeout)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "d3d12: waiting for fence"), core.ErrDeviceLost)
	}
	if !done {
		return errors.Wrapf(core.ErrTimeout, "d3d12: fence value %d not reached within %s", value, b.settings.FenceTimeout)
	}
	return nil
}

func (b *Backend) WaitIdle() error {
	value, err := b.signal()
	if err != nil {
		return err
	}
	if err := b.waitForFence(value); err != nil {
		return err
	}
	b.completed.Store(b.lastFrame)
	return nil
}

// BeginFrame waits for the frame that last used this slot, then rewinds the
// slot's descriptor segment.
func (b *Backend) BeginFrame(frame uint64) error {
	n := uint64(len(b.frameFences))
	slot := frame % n
	if value := b.frameFences[slot]; value != 0 {
		if err := b.waitForFence(value); err != nil {
			return err
		}
		if frame > n {
			if done := frame - n; done > b.completed.Load() {
				b.completed.Store(done)
			}
		}
	}
	b.descriptors.beginFrame(uint32(slot))
	b.framebuffers.BeginFrame(frame, b.completed.Load())
	b.pipelineStates.BeginFrame(frame, b.completed.Load())
	if b.swapchain != nil {
		b.backbufferIndex = b.swapchain.GetCurrentBackBufferIndex()
	}
	return nil
}

func (b *Backend) EndFrame(frame uint64) error {
	b.queueMu.Lock()
	defer b.queueMu.Unlock()

	if b.swapchain != nil {
		if err := b.swapchain.Present(b.syncInterval, b.presentFlags); err != nil {
			return errors.Mark(errors.Wrap(err, "d3d12: present"), core.ErrDeviceLost)
		}
	}
	value, err := b.signalLocked()
	if err != nil {
		return err
	}
	b.frameFences[frame%uint64(len(b.frameFences))] = value
	b.lastFrame = frame
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
	return b.backbufferIndex
}

func (b *Backend) CreateCommandBuffer(main bool) (graphics.CommandBufferBackend, error) {
	return newCommandBuffer(b, main), nil
}
