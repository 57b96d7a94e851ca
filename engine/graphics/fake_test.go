package graphics

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
)

// destroyLog records native destruction order across fakes.
type destroyLog struct {
	mu    sync.Mutex
	names []string
}

func (l *destroyLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.names = append(l.names, name)
}

type fakeNative struct {
	name string
	log  *destroyLog
}

func (n *fakeNative) Destroy() {
	if n.log != nil {
		n.log.add(n.name)
	}
}

func (n *fakeNative) SetSubData(offset uint64, data []byte) error {
	return nil
}

type vboRange struct {
	first, count uint32
}

type fakeDraw struct {
	indexed       bool
	topology      PrimitiveTopology
	count         uint32
	instanceCount uint32
	start         uint32
}

// fakeCommandBuffer flushes dirty state the way a real backend does and
// records what it would have emitted.
type fakeCommandBuffer struct {
	fakeNative
	begins        int
	renderPasses  int
	vboFlushes    []vboRange
	setFlushes    []uint32
	pipelineBinds int
	viewportSets  int
	indexBinds    int
	draws         []fakeDraw
	dispatches    [][3]uint32
	commits       int
	resets        int
	commitErr     error
	fenceValue    uint64
}

func (c *fakeCommandBuffer) BeginImpl() {
	c.begins++
}

func (c *fakeCommandBuffer) BeginRenderPassImpl(state *RecordingState, desc *RenderPassDescriptor) {
	c.renderPasses++
}

func (c *fakeCommandBuffer) EndRenderPassImpl(state *RecordingState) {}

func (c *fakeCommandBuffer) SetIndexBufferImpl(buffer *Buffer, offset uint64, indexType IndexType) {
	c.indexBinds++
}

func (c *fakeCommandBuffer) prepare(state *RecordingState) {
	if state.Dirty.GetAndClear(DirtyPipeline | DirtyStaticVertex) {
		c.pipelineBinds++
	}
	if state.Dirty.GetAndClear(DirtyDynamicBits) {
		c.viewportSets++
	}
	state.FlushVertexBuffers(func(first, count uint32) {
		c.vboFlushes = append(c.vboFlushes, vboRange{first, count})
	})
	state.FlushDescriptorSets(func(set uint32) {
		c.setFlushes = append(c.setFlushes, set)
	})
	state.Dirty.Clear(DirtyStaticState | DirtyPushConstants)
}

func (c *fakeCommandBuffer) DrawImpl(state *RecordingState, topology PrimitiveTopology, vertexCount, instanceCount, vertexStart, baseInstance uint32) {
	c.prepare(state)
	c.draws = append(c.draws, fakeDraw{topology: topology, count: vertexCount, instanceCount: instanceCount, start: vertexStart})
}

func (c *fakeCommandBuffer) DrawIndexedImpl(state *RecordingState, topology PrimitiveTopology, indexCount, instanceCount, startIndex uint32) {
	c.prepare(state)
	c.draws = append(c.draws, fakeDraw{indexed: true, topology: topology, count: indexCount, instanceCount: instanceCount, start: startIndex})
}

func (c *fakeCommandBuffer) DispatchImpl(state *RecordingState, x, y, z uint32) {
	c.prepare(state)
	c.dispatches = append(c.dispatches, [3]uint32{x, y, z})
}

func (c *fakeCommandBuffer) CommitImpl(waitForCompletion bool) (uint64, error) {
	c.commits++
	if c.commitErr != nil {
		return 0, c.commitErr
	}
	c.fenceValue++
	return c.fenceValue, nil
}

func (c *fakeCommandBuffer) ResetImpl() {
	c.resets++
}

type fakeDeviceBackend struct {
	log            *destroyLog
	initErr        error
	frame          uint64
	completed      uint64
	shutdown       bool
	commandBuffers []*fakeCommandBuffer
	created        int
}

func (d *fakeDeviceBackend) Initialize(settings *DeviceSettings) error {
	return d.initErr
}

func (d *fakeDeviceBackend) Shutdown() {
	d.shutdown = true
}

func (d *fakeDeviceBackend) Capabilities() Capabilities {
	return Capabilities{Backend: BackendD3D11, DeviceName: "fake"}
}

func (d *fakeDeviceBackend) WaitIdle() error {
	d.completed = d.frame
	return nil
}

func (d *fakeDeviceBackend) BeginFrame(frame uint64) error {
	d.frame = frame
	return nil
}

func (d *fakeDeviceBackend) EndFrame(frame uint64) error {
	d.completed = frame
	return nil
}

func (d *fakeDeviceBackend) CompletedFrame() uint64 {
	return d.completed
}

func (d *fakeDeviceBackend) SwapchainImages() []SwapchainImage {
	return []SwapchainImage{{
		Native: &fakeNative{name: "backbuffer", log: d.log},
		Descriptor: TextureDescriptor{
			Type: TextureType2D, Format: PixelFormatBGRA8Unorm, Usage: TextureUsageRenderTarget,
			Width: 640, Height: 480, Depth: 1, ArrayLayers: 1, MipLevels: 1, SampleCount: SampleCount1,
		},
	}}
}

func (d *fakeDeviceBackend) CurrentSwapchainIndex() uint32 {
	return 0
}

func (d *fakeDeviceBackend) next(kind string) string {
	d.created++
	return fmt.Sprintf("%s#%d", kind, d.created)
}

func (d *fakeDeviceBackend) CreateBuffer(desc *BufferDescriptor, initialData []byte) (NativeBuffer, error) {
	if desc.Label == "fail" {
		return nil, errors.New("out of memory")
	}
	return &fakeNative{name: d.next("buffer"), log: d.log}, nil
}

func (d *fakeDeviceBackend) CreateTexture(desc *TextureDescriptor, initialData []byte) (NativeTexture, error) {
	return &fakeNative{name: d.next("texture"), log: d.log}, nil
}

func (d *fakeDeviceBackend) CreateShader(shader *Shader) (NativeShader, error) {
	return &fakeNative{name: d.next("shader"), log: d.log}, nil
}

func (d *fakeDeviceBackend) CreatePipeline(pipeline *Pipeline) (NativePipeline, error) {
	return &fakeNative{name: d.next("pipeline"), log: d.log}, nil
}

func (d *fakeDeviceBackend) CreateCommandBuffer(main bool) (CommandBufferBackend, error) {
	cb := &fakeCommandBuffer{fakeNative: fakeNative{name: d.next("command_buffer"), log: d.log}}
	d.commandBuffers = append(d.commandBuffers, cb)
	return cb, nil
}

type fakeDriver struct {
	backend   Backend
	supported bool
	device    *fakeDeviceBackend
}

func (d *fakeDriver) Backend() Backend {
	return d.backend
}

func (d *fakeDriver) IsSupported() bool {
	return d.supported
}

func (d *fakeDriver) CreateDevice(validation bool) (DeviceBackend, error) {
	if d.device == nil {
		d.device = &fakeDeviceBackend{log: &destroyLog{}}
	}
	return d.device, nil
}
