// Package d3d11 is the Direct3D 11 backend. Command buffers record into
// deferred contexts, except the main one which drives the immediate context.
package d3d11

import (
	gomath "math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/graphics"
	"github.com/spaghettifunk/prism/engine/graphics/dxgi"
)

// NewNativeDevice creates the native device. It stays nil on platforms
// without Direct3D, which keeps the backend out of default resolution.
var NewNativeDevice func(validation bool) (Device, error)

type Driver struct{}

func init() {
	graphics.RegisterDriver(Driver{})
}

func (Driver) Backend() graphics.Backend {
	return graphics.BackendD3D11
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
		return nil, graphics.NativeError(err, "creating d3d11 device")
	}
	return NewBackend(native, validation), nil
}

type inputLayoutKey struct {
	format       core.Identifier
	vertexShader core.Identifier
	instanceMask uint32
}

type Backend struct {
	device     Device
	context    DeviceContext
	contextMu  sync.Mutex
	validation bool
	settings   graphics.DeviceSettings
	caps       graphics.Capabilities

	// needWorkaround is set when the runtime emulates command lists.
	needWorkaround bool

	swapchain    SwapChain
	backbuffer   *texture
	syncInterval uint32
	presentFlags uint32

	frameQueries []Query
	idleQuery    Query
	lastFrame    uint64
	completed    atomic.Uint64
	submits      atomic.Uint64

	inputLayoutsMu sync.RWMutex
	inputLayouts   map[inputLayoutKey]InputLayout

	framebuffers   *graphics.HashedCache[*framebuffer]
	defaultSampler SamplerState
}

// NewBackend wraps an already created native device.
func NewBackend(device Device, validation bool) *Backend {
	concurrentCreates, driverCommandLists := device.CheckThreadingSupport()
	b := &Backend{
		device:         device,
		context:        device.ImmediateContext(),
		validation:     validation,
		needWorkaround: !driverCommandLists,
		inputLayouts:   make(map[inputLayoutKey]InputLayout),
	}
	b.caps = graphics.Capabilities{
		Backend:                graphics.BackendD3D11,
		DeviceName:             device.AdapterName(),
		MultithreadedRecording: concurrentCreates,
		MaxColorAttachments:    SIMULTANEOUS_RENDER_TARGETS,
	}
	if b.needWorkaround {
		core.LogDebug("d3d11: driver command lists unavailable, runtime emulation in use")
	}
	return b
}

func (b *Backend) Initialize(settings *graphics.DeviceSettings) error {
	b.settings = *settings
	if b.device.FeatureLevel() < FEATURE_LEVEL_11_0 {
		return errors.Newf("d3d11: feature level %#x is below 11_0", b.device.FeatureLevel())
	}

	width, height := settings.Width, settings.Height
	if settings.Surface != nil {
		width, height = settings.Surface.FramebufferSize()
	}
	if err := b.createBackbuffer(width, height); err != nil {
		return err
	}

	sampler, err := b.device.CreateSamplerState(&SAMPLER_DESC{
		Filter:         FILTER_MIN_MAG_MIP_LINEAR,
		AddressU:       TEXTURE_ADDRESS_CLAMP,
		AddressV:       TEXTURE_ADDRESS_CLAMP,
		AddressW:       TEXTURE_ADDRESS_CLAMP,
		MaxAnisotropy:  1,
		ComparisonFunc: COMPARISON_NEVER,
		MinLOD:         -gomath.MaxFloat32,
		MaxLOD:         gomath.MaxFloat32,
	})
	if err != nil {
		return graphics.NativeError(err, "creating d3d11 default sampler")
	}
	b.defaultSampler = sampler

	for i := uint32(0); i < settings.FramesInFlight; i++ {
		q, err := b.device.CreateQuery(QUERY_EVENT)
		if err != nil {
			return graphics.NativeError(err, "creating d3d11 frame query")
		}
		b.frameQueries = append(b.frameQueries, q)
	}
	if b.idleQuery, err = b.device.CreateQuery(QUERY_EVENT); err != nil {
		return graphics.NativeError(err, "creating d3d11 idle query")
	}

	b.framebuffers = graphics.NewHashedCache[*framebuffer](settings.FramebufferRingSize, settings.RenderPassCacheCapacity,
		func(fb *framebuffer) { fb.release() })

	core.LogInfo("d3d11: initialized on %s (%dx%d)", b.caps.DeviceName, width, height)
	return nil
}

func (b *Backend) createBackbuffer(width, height uint32) error {
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
		Label:       "backbuffer",
	}

	// Headless devices render into an offscreen target.
	if b.settings.Surface == nil {
		native, err := b.CreateTexture(&desc, nil)
		if err != nil {
			return err
		}
		b.backbuffer = native.(*texture)
		b.backbuffer.swapchain = true
		return nil
	}

	swapDesc, syncInterval, presentFlags := dxgi.SwapChainDesc(width, height, b.settings.FramesInFlight,
		b.settings.Surface.NativeWindowHandle(), b.settings.VSync)
	b.syncInterval, b.presentFlags = syncInterval, presentFlags
	swapchain, err := b.device.CreateSwapChain(&swapDesc)
	if err != nil {
		return graphics.NativeError(err, "creating d3d11 swapchain")
	}
	b.swapchain = swapchain

	// With flip discard only buffer 0 is accessible; it always aliases the
	// current back buffer.
	handle, err := swapchain.GetBuffer(0)
	if err != nil {
		return graphics.NativeError(err, "getting d3d11 swapchain buffer")
	}
	b.backbuffer = &texture{handle: handle, format: dxgi.FORMAT_B8G8R8A8_UNORM, desc: desc, swapchain: true}
	return nil
}

func (b *Backend) Shutdown() {
	if b.framebuffers != nil {
		b.framebuffers.Clear()
	}

	b.inputLayoutsMu.Lock()
	for key, layout := range b.inputLayouts {
		layout.Release()
		delete(b.inputLayouts, key)
	}
	b.inputLayoutsMu.Unlock()

	for _, q := range b.frameQueries {
		q.Release()
	}
	b.frameQueries = nil
	if b.idleQuery != nil {
		b.idleQuery.Release()
		b.idleQuery = nil
	}
	if b.defaultSampler != nil {
		b.defaultSampler.Release()
		b.defaultSampler = nil
	}
	if b.backbuffer != nil {
		b.backbuffer.release()
		b.backbuffer = nil
	}
	if b.swapchain != nil {
		b.swapchain.Release()
		b.swapchain = nil
	}
	b.context.ClearState()
	b.context.Flush()
	b.context.Release()
	b.device.Release()
	core.LogInfo("d3d11: device released")
}

func (b *Backend) Capabilities() graphics.Capabilities {
	return b.caps
}

func (b *Backend) WaitIdle() error {
	b.contextMu.Lock()
	defer b.contextMu.Unlock()
	if err := b.waitQueryLocked(b.idleQuery); err != nil {
		return err
	}
	b.completed.Store(b.lastFrame)
	return nil
}

// waitQueryLocked issues q and polls it until the GPU reached it.
func (b *Backend) waitQueryLocked(q Query) error {
	b.context.End(q)
	b.context.Flush()
	return b.pollQueryLocked(q)
}

func (b *Backend) pollQueryLocked(q Query) error {
	deadline := time.Now().Add(b.settings.FenceTimeout)
	for {
		done, err := b.context.GetData(q)
		if err != nil {
			return errors.Mark(errors.Wrap(err, "d3d11: polling gpu query"), core.ErrDeviceLost)
		}
		if done {
			return nil
		}
		if b.settings.FenceTimeout > 0 && time.Now().After(deadline) {
			return errors.Wrapf(core.ErrTimeout, "d3d11: gpu did not finish within %s", b.settings.FenceTimeout)
		}
		time.Sleep(50 * time.Microsecond)
	}
}

// BeginFrame waits for the frame that last used this slot of the ring.
func (b *Backend) BeginFrame(frame uint64) error {
	n := uint64(len(b.frameQueries))
	if n > 0 && frame > n {
		b.contextMu.Lock()
		err := b.pollQueryLocked(b.frameQueries[frame%n])
		b.contextMu.Unlock()
		if err != nil {
			return err
		}
		if done := frame - n; done > b.completed.Load() {
			b.completed.Store(done)
		}
	}
	b.framebuffers.BeginFrame(frame, b.completed.Load())
	return nil
}

func (b *Backend) EndFrame(frame uint64) error {
	b.contextMu.Lock()
	defer b.contextMu.Unlock()

	if b.swapchain != nil {
		if err := b.swapchain.Present(b.syncInterval, b.presentFlags); err != nil {
			return errors.Mark(errors.Wrap(err, "d3d11: present"), core.ErrDeviceLost)
		}
	}
	if n := uint64(len(b.frameQueries)); n > 0 {
		b.context.End(b.frameQueries[frame%n])
	}
	b.context.Flush()
	b.lastFrame = frame
	return nil
}

func (b *Backend) CompletedFrame() uint64 {
	return b.completed.Load()
}

func (b *Backend) SwapchainImages() []graphics.SwapchainImage {
	if b.backbuffer == nil {
		return nil
	}
	return []graphics.SwapchainImage{{Native: b.backbuffer, Descriptor: b.backbuffer.desc}}
}

func (b *Backend) CurrentSwapchainIndex() uint32 {
	return 0
}

func (b *Backend) CreateCommandBuffer(main bool) (graphics.CommandBufferBackend, error) {
	if main {
		return newCommandBuffer(b, b.context, true), nil
	}
	ctx, err := b.device.CreateDeferredContext()
	if err != nil {
		return nil, graphics.NativeError(err, "creating d3d11 deferred context")
	}
	return newCommandBuffer(b, ctx, false), nil
}

// executeCommandList plays a finished deferred command list on the immediate
// context.
func (b *Backend) executeCommandList(list CommandList) {
	b.contextMu.Lock()
	defer b.contextMu.Unlock()
	b.context.ExecuteCommandList(list, false)
	list.Release()
}

// inputLayout returns the cached input layout for key, creating it from
// elements on a miss.
func (b *Backend) inputLayout(key inputLayoutKey, elements []INPUT_ELEMENT_DESC, bytecode []byte) (InputLayout, error) {
	b.inputLayoutsMu.RLock()
	layout, ok := b.inputLayouts[key]
	b.inputLayoutsMu.RUnlock()
	if ok {
		return layout, nil
	}

	b.inputLayoutsMu.Lock()
	defer b.inputLayoutsMu.Unlock()
	if layout, ok := b.inputLayouts[key]; ok {
		return layout, nil
	}
	layout, err := b.device.CreateInputLayout(elements, bytecode)
	if err != nil {
		return nil, err
	}
	b.inputLayouts[key] = layout
	return layout, nil
}

func (b *Backend) purgeInputLayouts(vertexShader core.Identifier) {
	b.inputLayoutsMu.Lock()
	defer b.inputLayoutsMu.Unlock()
	for key, layout := range b.inputLayouts {
		if key.vertexShader == vertexShader {
			layout.Release()
			delete(b.inputLayouts, key)
		}
	}
}
