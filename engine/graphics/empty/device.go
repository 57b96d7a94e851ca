// Package empty implements a graphics backend that accepts every command and
// renders nothing. It backs headless runs and validation-only tooling.
package empty

import (
	"sync/atomic"

	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/graphics"
)

type Driver struct{}

func init() {
	graphics.RegisterDriver(Driver{})
}

func (Driver) Backend() graphics.Backend {
	return graphics.BackendEmpty
}

func (Driver) IsSupported() bool {
	return true
}

func (Driver) CreateDevice(validation bool) (graphics.DeviceBackend, error) {
	return &Device{validation: validation}, nil
}

type Device struct {
	validation bool
	settings   graphics.DeviceSettings
	swapchain  []graphics.SwapchainImage
	imageIndex uint32
	completed  atomic.Uint64
	stats      Stats
}

// Stats counts the work the empty backend swallowed.
type Stats struct {
	Draws      atomic.Uint64
	Dispatches atomic.Uint64
	Submits    atomic.Uint64
}

func (d *Device) Stats() *Stats {
	return &d.stats
}

func (d *Device) Initialize(settings *graphics.DeviceSettings) error {
	d.settings = *settings
	width, height := settings.Width, settings.Height
	if settings.Surface != nil {
		width, height = settings.Surface.FramebufferSize()
	}
	if width == 0 || height == 0 {
		width, height = 1, 1
	}
	for i := uint32(0); i < settings.FramesInFlight; i++ {
		d.swapchain = append(d.swapchain, graphics.SwapchainImage{
			Native: &texture{},
			Descriptor: graphics.TextureDescriptor{
				Type:        graphics.TextureType2D,
				Format:      graphics.PixelFormatBGRA8Unorm,
				Usage:       graphics.TextureUsageRenderTarget,
				Width:       width,
				Height:      height,
				Depth:       1,
				ArrayLayers: 1,
				MipLevels:   1,
				SampleCount: graphics.SampleCount1,
			},
		})
	}
	core.LogInfo("empty graphics backend initialized (%dx%d)", width, height)
	return nil
}

func (d *Device) Shutdown() {
	d.swapchain = nil
}

func (d *Device) Capabilities() graphics.Capabilities {
	return graphics.Capabilities{
		Backend:                graphics.BackendEmpty,
		DeviceName:             "Empty",
		MultithreadedRecording: true,
		MaxColorAttachments:    graphics.MAX_COLOR_ATTACHMENTS,
	}
}

func (d *Device) WaitIdle() error {
	return nil
}

func (d *Device) BeginFrame(frame uint64) error {
	if n := uint32(len(d.swapchain)); n > 0 {
		d.imageIndex = uint32(frame % uint64(n))
	}
	return nil
}

func (d *Device) EndFrame(frame uint64) error {
	d.completed.Store(frame)
	return nil
}

func (d *Device) CompletedFrame() uint64 {
	return d.completed.Load()
}

func (d *Device) SwapchainImages() []graphics.SwapchainImage {
	return d.swapchain
}

func (d *Device) CurrentSwapchainIndex() uint32 {
	return d.imageIndex
}

func (d *Device) CreateBuffer(desc *graphics.BufferDescriptor, initialData []byte) (graphics.NativeBuffer, error) {
	b := &buffer{data: make([]byte, desc.Size)}
	copy(b.data, initialData)
	return b, nil
}

func (d *Device) CreateTexture(desc *graphics.TextureDescriptor, initialData []byte) (graphics.NativeTexture, error) {
	return &texture{}, nil
}

func (d *Device) CreateShader(shader *graphics.Shader) (graphics.NativeShader, error) {
	return nopResource{}, nil
}

func (d *Device) CreatePipeline(pipeline *graphics.Pipeline) (graphics.NativePipeline, error) {
	return nopResource{}, nil
}

func (d *Device) CreateCommandBuffer(main bool) (graphics.CommandBufferBackend, error) {
	return &commandBuffer{device: d}, nil
}

type nopResource struct{}

func (nopResource) Destroy() {}

type texture struct{}

func (*texture) Destroy() {}

type buffer struct {
	data []byte
}

func (b *buffer) Destroy() {
	b.data = nil
}

func (b *buffer) SetSubData(offset uint64, data []byte) error {
	copy(b.data[offset:], data)
	return nil
}

// Bytes returns the CPU copy of the buffer contents.
func (b *buffer) Bytes() []byte {
	return b.data
}
