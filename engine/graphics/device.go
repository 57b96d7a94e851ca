package graphics

import (
	"cmp"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/spaghettifunk/prism/engine/core"
	"golang.org/x/exp/slices"
)

// Surface is the presentation target supplied by the platform layer.
type Surface interface {
	FramebufferSize() (width, height uint32)
	RequiredVulkanExtensions() []string
	CreateVulkanSurface(instance interface{}) (uintptr, error)
	NativeWindowHandle() uintptr
}

type DeviceSettings struct {
	ApplicationName         string
	Surface                 Surface
	Width                   uint32
	Height                  uint32
	FramesInFlight          uint32
	VSync                   bool
	FramebufferRingSize     uint32
	RenderPassCacheCapacity int
	FenceTimeout            time.Duration
}

func SettingsFromConfig(cfg *core.Config, surface Surface) *DeviceSettings {
	return &DeviceSettings{
		ApplicationName:         cfg.Window.Title,
		Surface:                 surface,
		Width:                   cfg.Window.Width,
		Height:                  cfg.Window.Height,
		FramesInFlight:          cfg.Graphics.FramesInFlight,
		VSync:                   cfg.Graphics.VSync,
		FramebufferRingSize:     cfg.Graphics.FramebufferRingSize,
		RenderPassCacheCapacity: int(cfg.Graphics.RenderPassCacheCapacity),
		FenceTimeout:            time.Duration(cfg.Graphics.FenceTimeout),
	}
}

type Capabilities struct {
	Backend                Backend
	DeviceName             string
	MultithreadedRecording bool
	MaxColorAttachments    uint32
}

// SwapchainImage is a presentable image owned by the backend.
type SwapchainImage struct {
	Native     NativeTexture
	Descriptor TextureDescriptor
}

// DeviceBackend is the native half of a Device.
type DeviceBackend interface {
	Initialize(settings *DeviceSettings) error
	Shutdown()
	Capabilities() Capabilities
	WaitIdle() error

	// BeginFrame waits until the frame slot is free and acquires the next
	// swapchain image.
	BeginFrame(frame uint64) error
	// EndFrame presents the current swapchain image.
	EndFrame(frame uint64) error
	// CompletedFrame is the last frame number the GPU finished.
	CompletedFrame() uint64

	SwapchainImages() []SwapchainImage
	CurrentSwapchainIndex() uint32

	CreateBuffer(desc *BufferDescriptor, initialData []byte) (NativeBuffer, error)
	CreateTexture(desc *TextureDescriptor, initialData []byte) (NativeTexture, error)
	CreateShader(shader *Shader) (NativeShader, error)
	CreatePipeline(pipeline *Pipeline) (NativePipeline, error)
	CreateCommandBuffer(main bool) (CommandBufferBackend, error)
}

type Device struct {
	id          uuid.UUID
	backend     Backend
	validation  bool
	impl        DeviceBackend
	settings    DeviceSettings
	initialized bool

	resources   *core.Arena[GpuResource]
	main        *CommandBuffer
	backbuffers []*Texture
	frameNumber uint64

	clock   *core.Clock
	metrics *core.Metrics
}

// Create picks a backend and creates its device. BackendDefault resolves in
// the order Vulkan, D3D12, D3D11, Empty; an unsupported explicit choice falls
// back to that order.
func Create(backend Backend, validation bool) (*Device, error) {
	resolved, ok := resolveBackend(backend)
	if !ok {
		core.LogError("no supported graphics backend is registered")
		return nil, errors.WithStack(core.ErrUnsupportedBackend)
	}
	if backend != BackendDefault && resolved != backend {
		core.LogWarn("graphics backend %s is not supported, falling back to %s", backend, resolved)
	}

	driver, _ := lookupDriver(resolved)
	impl, err := driver.CreateDevice(validation)
	if err != nil {
		core.LogError("failed to create %s device: %s", resolved, err)
		return nil, errors.Wrapf(err, "creating %s device", resolved)
	}

	d := &Device{
		id:          uuid.New(),
		backend:     resolved,
		validation:  validation,
		impl:        impl,
		resources:   core.NewArena[GpuResource](256),
		frameNumber: 1,
		clock:       core.NewClock(),
		metrics:     core.NewMetrics(),
	}
	core.LogInfo("created %s graphics device %s (validation=%t)", resolved, d.id, validation)
	return d, nil
}

func (d *Device) ID() uuid.UUID {
	return d.id
}

func (d *Device) Backend() Backend {
	return d.backend
}

func (d *Device) Validation() bool {
	return d.validation
}

func (d *Device) Settings() DeviceSettings {
	return d.settings
}

func (d *Device) Capabilities() Capabilities {
	return d.impl.Capabilities()
}

// Impl returns the backend device.
func (d *Device) Impl() DeviceBackend {
	return d.impl
}

func (d *Device) Metrics() *core.Metrics {
	return d.metrics
}

func (d *Device) FrameNumber() uint64 {
	return d.frameNumber
}

func (d *Device) CompletedFrame() uint64 {
	return d.impl.CompletedFrame()
}

func (d *Device) Initialize(settings *DeviceSettings) error {
	if d.initialized {
		core.LogCritical("graphics device %s is already initialized", d.id)
	}
	core.Assert(settings != nil, "device settings cannot be nil")

	d.settings = *settings
	if d.settings.FramesInFlight == 0 {
		d.settings.FramesInFlight = 2
	}
	if d.settings.FramebufferRingSize == 0 {
		d.settings.FramebufferRingSize = DEFAULT_FRAMEBUFFER_RING_SIZE
	}
	if d.settings.FenceTimeout == 0 {
		d.settings.FenceTimeout = 2 * time.Second
	}

	if err := d.impl.Initialize(&d.settings); err != nil {
		core.LogError("failed to initialize %s device: %s", d.backend, err)
		return err
	}

	for i, image := range d.impl.SwapchainImages() {
		desc := image.Descriptor
		if desc.Label == "" {
			desc.Label = fmt.Sprintf("backbuffer-%d", i)
		}
		tex := &Texture{desc: desc, swapchain: true, tracker: newResourceTracker(ResourceStatePresent)}
		d.track(tex, ResourceTypeTexture, desc.Label, image.Native)
		d.backbuffers = append(d.backbuffers, tex)
	}

	main, err := d.newCommandBuffer(true, "main")
	if err != nil {
		return err
	}
	d.main = main
	d.initialized = true
	core.LogInfo("graphics device %s initialized", d.id)
	return nil
}

func (d *Device) assertInitialized() {
	core.Assert(d.initialized, "graphics device %s is not initialized", d.id)
}

// MainCommandBuffer returns the command buffer recorded between BeginFrame
// and EndFrame.
func (d *Device) MainCommandBuffer() *CommandBuffer {
	return d.main
}

// CurrentBackbuffer is the swapchain texture acquired by BeginFrame.
func (d *Device) CurrentBackbuffer() *Texture {
	if len(d.backbuffers) == 0 {
		return nil
	}
	return d.backbuffers[d.impl.CurrentSwapchainIndex()]
}

func (d *Device) BeginFrame() error {
	d.assertInitialized()
	d.clock.Start()
	if err := d.impl.BeginFrame(d.frameNumber); err != nil {
		if errors.Is(err, core.ErrSwapchainBooting) {
			d.refreshBackbuffers()
		}
		return err
	}
	d.main.Reset()
	d.main.Begin()
	return nil
}

func (d *Device) EndFrame() error {
	d.assertInitialized()
	if _, err := d.main.Commit(false); err != nil {
		core.LogError("failed to submit frame %d: %s", d.frameNumber, err)
		return err
	}
	if err := d.impl.EndFrame(d.frameNumber); err != nil {
		if errors.Is(err, core.ErrSwapchainBooting) {
			d.refreshBackbuffers()
		}
		return err
	}
	d.frameNumber++

	d.clock.Update()
	d.metrics.Update(d.clock.Elapsed())
	return nil
}

// refreshBackbuffers picks up the size and native images of a recreated
// swapchain. The backbuffer textures keep their identity and labels.
func (d *Device) refreshBackbuffers() {
	images := d.impl.SwapchainImages()
	if len(images) != len(d.backbuffers) {
		core.LogWarn("swapchain has %d images, device tracks %d", len(images), len(d.backbuffers))
		return
	}
	for i, image := range images {
		tex := d.backbuffers[i]
		label := tex.desc.Label
		tex.desc = image.Descriptor
		tex.desc.Label = label
		tex.native = image.Native
		tex.tracker = newResourceTracker(ResourceStatePresent)
	}
}

func (d *Device) WaitIdle() error {
	if !d.initialized {
		return nil
	}
	return d.impl.WaitIdle()
}

// CreateCommandBuffer returns a command buffer that can be recorded on any
// goroutine and submitted with Submit.
func (d *Device) CreateCommandBuffer(label string) (*CommandBuffer, error) {
	d.assertInitialized()
	return d.newCommandBuffer(false, label)
}

func (d *Device) newCommandBuffer(main bool, label string) (*CommandBuffer, error) {
	impl, err := d.impl.CreateCommandBuffer(main)
	if err != nil {
		core.LogError("failed to create command buffer: %s", err)
		return nil, err
	}
	cb := &CommandBuffer{impl: impl, secondary: !main}
	d.track(cb, ResourceTypeCommandBuffer, label, impl)
	return cb, nil
}

// Submit commits the given command buffers in order.
func (d *Device) Submit(buffers ...*CommandBuffer) error {
	d.assertInitialized()
	for _, cb := range buffers {
		core.Assert(cb != d.main, "the main command buffer is submitted by EndFrame")
		if _, err := cb.Commit(false); err != nil {
			return errors.Wrapf(err, "submitting command buffer %q", cb.Label())
		}
	}
	return nil
}

func (d *Device) CreateBuffer(desc *BufferDescriptor, initialData []byte) (*Buffer, error) {
	d.assertInitialized()
	core.Assert(desc != nil, "buffer descriptor cannot be nil")
	core.Assert(desc.Size > 0, "buffer %q size cannot be zero", desc.Label)
	core.Assert(desc.Usage != BufferUsageNone, "buffer %q has no usage", desc.Label)
	core.Assert(desc.ResourceUsage != ResourceUsageImmutable || initialData != nil,
		"immutable buffer %q needs initial data", desc.Label)
	core.Assert(uint64(len(initialData)) <= desc.Size, "initial data of buffer %q exceeds its size", desc.Label)

	native, err := d.impl.CreateBuffer(desc, initialData)
	if err != nil {
		core.LogError("failed to create buffer %q: %s", desc.Label, err)
		return nil, err
	}
	buffer := &Buffer{desc: *desc, tracker: newResourceTracker(InitialBufferState(desc))}
	d.track(buffer, ResourceTypeBuffer, desc.Label, native)
	return buffer, nil
}

func (d *Device) CreateTexture(desc *TextureDescriptor, initialData []byte) (*Texture, error) {
	d.assertInitialized()
	core.Assert(desc != nil, "texture descriptor cannot be nil")
	core.Assert(desc.Width > 0 && desc.Height > 0, "texture %q has zero dimensions", desc.Label)
	core.Assert(desc.Usage != TextureUsageNone && desc.Usage&^textureUsageAll == 0, "texture %q has unknown usage %#x", desc.Label, uint32(desc.Usage))
	core.Assert(desc.Format != PixelFormatUndefined, "texture %q has no format", desc.Label)

	normalized := *desc
	if normalized.Depth == 0 {
		normalized.Depth = 1
	}
	if normalized.ArrayLayers == 0 {
		normalized.ArrayLayers = 1
	}
	if normalized.MipLevels == 0 {
		normalized.MipLevels = 1
	}
	if normalized.SampleCount == 0 {
		normalized.SampleCount = SampleCount1
	}

	native, err := d.impl.CreateTexture(&normalized, initialData)
	if err != nil {
		core.LogError("failed to create texture %q: %s", desc.Label, err)
		return nil, err
	}
	texture := &Texture{desc: normalized, tracker: newResourceTracker(InitialTextureState(&normalized))}
	d.track(texture, ResourceTypeTexture, desc.Label, native)
	return texture, nil
}

func (d *Device) CreateShader(compiled *CompiledShader) (*Shader, error) {
	d.assertInitialized()
	core.Assert(compiled != nil, "compiled shader cannot be nil")
	core.Assert(len(compiled.Bytecode) > 0, "shader %q has no bytecode", compiled.Label)
	core.Assert(compiled.Stage < ShaderStageCount, "shader %q has invalid stage", compiled.Label)

	entry := compiled.EntryPoint
	if entry == "" {
		entry = "main"
	}
	shader := &Shader{
		stage:            compiled.Stage,
		entryPoint:       entry,
		bytecode:         compiled.Bytecode,
		inputs:           compiled.Inputs,
		resources:        compiled.Resources,
		pushConstantSize: compiled.PushConstantSize,
		workgroupSize:    compiled.WorkgroupSize,
	}
	shader.label = compiled.Label
	native, err := d.impl.CreateShader(shader)
	if err != nil {
		core.LogError("failed to create %s shader %q: %s", compiled.Stage, compiled.Label, err)
		return nil, err
	}
	d.track(shader, ResourceTypeShader, compiled.Label, native)
	return shader, nil
}

func (d *Device) CreatePipeline(desc *PipelineDescriptor) (*Pipeline, error) {
	d.assertInitialized()
	core.Assert(desc != nil, "pipeline descriptor cannot be nil")
	if desc.Compute != nil {
		core.Assert(desc.Vertex == nil && desc.Fragment == nil, "pipeline %q mixes compute and graphics stages", desc.Label)
		core.Assert(desc.Compute.Stage() == ShaderStageCompute, "pipeline %q compute slot holds a %s shader", desc.Label, desc.Compute.Stage())
	} else {
		core.Assert(desc.Vertex != nil, "pipeline %q needs a vertex shader", desc.Label)
		core.Assert(desc.Vertex.Stage() == ShaderStageVertex, "pipeline %q vertex slot holds a %s shader", desc.Label, desc.Vertex.Stage())
		// Vertex-only pipelines are valid.
		if desc.Fragment != nil {
			core.Assert(desc.Fragment.Stage() == ShaderStageFragment,
				"pipeline %q fragment slot holds a %s shader", desc.Label, desc.Fragment.Stage())
		}
	}

	pipeline := &Pipeline{}
	pipeline.label = desc.Label
	pipeline.stages[ShaderStageVertex] = desc.Vertex
	pipeline.stages[ShaderStageFragment] = desc.Fragment
	pipeline.stages[ShaderStageCompute] = desc.Compute
	pipeline.reflect()

	native, err := d.impl.CreatePipeline(pipeline)
	if err != nil {
		core.LogError("failed to create pipeline %q: %s", desc.Label, err)
		return nil, err
	}
	d.track(pipeline, ResourceTypePipeline, desc.Label, native)
	return pipeline, nil
}

func (d *Device) CreateVertexInputFormat(desc *VertexInputFormatDescriptor) *VertexInputFormat {
	d.assertInitialized()
	core.Assert(desc != nil && len(desc.Attributes) > 0, "vertex input format needs at least one attribute")
	core.Assert(uint32(len(desc.Attributes)) <= MAX_VERTEX_ATTRIBUTES, "too many vertex attributes (%d)", len(desc.Attributes))
	for _, attr := range desc.Attributes {
		core.Assert(attr.BufferIndex < MAX_VERTEX_BUFFER_BINDINGS, "vertex attribute buffer index %d out of range", attr.BufferIndex)
		core.Assert(attr.Location < MAX_VERTEX_ATTRIBUTES, "vertex attribute location %d out of range", attr.Location)
		core.Assert(attr.Format != VertexFormatInvalid, "vertex attribute %d has no format", attr.Location)
	}

	format := &VertexInputFormat{}
	format.resolve(desc)
	d.track(format, ResourceTypeVertexInputFormat, desc.Label, nil)
	return format
}

func (d *Device) track(r GpuResource, kind ResourceType, label string, native NativeResource) {
	b := r.base()
	b.device = d
	b.self = r
	b.kind = kind
	b.native = native
	if label == "" {
		label = fmt.Sprintf("%s-%s", kind, uuid.NewString()[:8])
	}
	b.label = label
	d.AddGpuResource(r)
}

// AddGpuResource registers a resource with the device registry.
func (d *Device) AddGpuResource(r GpuResource) {
	r.base().id = d.resources.Acquire(r)
}

func (d *Device) RemoveGpuResource(r GpuResource) {
	if err := d.resources.Release(r.ID()); err != nil {
		core.LogWarn("removing %s %q: %s", r.ResourceType(), r.Label(), err)
	}
}

// LiveResources returns the registered resources in registration slot order.
func (d *Device) LiveResources() []GpuResource {
	return d.resources.Snapshot()
}

// Destroy waits for the GPU, releases every live resource once, ordered by
// resource type, and shuts the backend down.
func (d *Device) Destroy() {
	if d.initialized {
		if err := d.impl.WaitIdle(); err != nil {
			core.LogWarn("wait idle before teardown failed: %s", err)
		}
	}

	live := d.resources.Drain()
	if len(live) > 0 {
		core.LogDebug("releasing %d live gpu resources", len(live))
	}
	slices.SortStableFunc(live, func(a, b GpuResource) int {
		return cmp.Compare(a.ResourceType(), b.ResourceType())
	})
	for _, r := range live {
		r.base().teardown()
	}

	d.main = nil
	d.backbuffers = nil
	d.impl.Shutdown()
	d.initialized = false
	core.LogInfo("graphics device %s destroyed", d.id)
}
