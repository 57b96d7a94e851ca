package d3d11

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/prism/engine/graphics/dxgi"
)

type fakeObject struct {
	kind     string
	released int
}

func (o *fakeObject) Release() {
	o.released++
}

type fakeBuffer struct {
	fakeObject
	data []byte
}

type cbCall struct {
	stage     string
	startSlot uint32
	count     int
	first     []uint32
	num       []uint32
}

// fakeContext records the calls the backend makes instead of driving a GPU.
type fakeContext struct {
	fakeObject
	mu       sync.Mutex
	deferred bool

	calls         []string
	cbCalls       []cbCall
	cbSlots       map[string]*[COMMONSHADER_CONSTANT_BUFFERS]Buffer
	topologies    []uint32
	inputLayouts  []InputLayout
	vertexBuffers [][2]uint32
	uavCount      int
	executed      int
	finished      int
	clears        int
}

func (c *fakeContext) record(call string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
}

func (c *fakeContext) count(call string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int
	for _, name := range c.calls {
		if name == call {
			n++
		}
	}
	return n
}

func (c *fakeContext) IsDeferred() bool { return c.deferred }

func (c *fakeContext) IASetInputLayout(layout InputLayout) {
	c.record("IASetInputLayout")
	c.inputLayouts = append(c.inputLayouts, layout)
}

func (c *fakeContext) IASetVertexBuffers(startSlot uint32, buffers []Buffer, strides, offsets []uint32) {
	c.record("IASetVertexBuffers")
	c.vertexBuffers = append(c.vertexBuffers, [2]uint32{startSlot, uint32(len(buffers))})
}

func (c *fakeContext) IASetIndexBuffer(buffer Buffer, format, offset uint32) {
	c.record("IASetIndexBuffer")
}

func (c *fakeContext) IASetPrimitiveTopology(topology uint32) {
	c.record("IASetPrimitiveTopology")
	c.topologies = append(c.topologies, topology)
}

func (c *fakeContext) VSSetShader(shader VertexShader)  { c.record("VSSetShader") }
func (c *fakeContext) PSSetShader(shader PixelShader)   { c.record("PSSetShader") }
func (c *fakeContext) CSSetShader(shader ComputeShader) { c.record("CSSetShader") }

// bind mirrors the slot table of one stage so tests can check what a draw
// actually sees.
func (c *fakeContext) bind(stage string, startSlot uint32, buffers []Buffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cbSlots == nil {
		c.cbSlots = make(map[string]*[COMMONSHADER_CONSTANT_BUFFERS]Buffer)
	}
	slots, ok := c.cbSlots[stage]
	if !ok {
		slots = &[COMMONSHADER_CONSTANT_BUFFERS]Buffer{}
		c.cbSlots[stage] = slots
	}
	copy(slots[startSlot:], buffers)
}

func (c *fakeContext) boundConstantBuffer(stage string, slot uint32) Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if slots, ok := c.cbSlots[stage]; ok {
		return slots[slot]
	}
	return nil
}

func (c *fakeContext) VSSetConstantBuffers(startSlot uint32, buffers []Buffer) {
	c.record("VSSetConstantBuffers")
	c.bind("VS", startSlot, buffers)
}

func (c *fakeContext) PSSetConstantBuffers(startSlot uint32, buffers []Buffer) {
	c.record("PSSetConstantBuffers")
	c.bind("PS", startSlot, buffers)
}

func (c *fakeContext) CSSetConstantBuffers(startSlot uint32, buffers []Buffer) {
	c.record("CSSetConstantBuffers")
	c.bind("CS", startSlot, buffers)
}

func (c *fakeContext) setConstantBuffers1(stage string, startSlot uint32, buffers []Buffer, first, num []uint32) {
	c.record(stage + "SetConstantBuffers1")
	c.bind(stage, startSlot, buffers)
	c.cbCalls = append(c.cbCalls, cbCall{
		stage:     stage,
		startSlot: startSlot,
		count:     len(buffers),
		first:     append([]uint32(nil), first...),
		num:       append([]uint32(nil), num...),
	})
}

func (c *fakeContext) VSSetConstantBuffers1(startSlot uint32, buffers []Buffer, first, num []uint32) {
	c.setConstantBuffers1("VS", startSlot, buffers, first, num)
}

func (c *fakeContext) PSSetConstantBuffers1(startSlot uint32, buffers []Buffer, first, num []uint32) {
	c.setConstantBuffers1("PS", startSlot, buffers, first, num)
}

func (c *fakeContext) CSSetConstantBuffers1(startSlot uint32, buffers []Buffer, first, num []uint32) {
	c.setConstantBuffers1("CS", startSlot, buffers, first, num)
}

func (c *fakeContext) VSSetShaderResources(startSlot uint32, views []ShaderResourceView) {
	c.record("VSSetShaderResources")
}

func (c *fakeContext) PSSetShaderResources(startSlot uint32, views []ShaderResourceView) {
	c.record("PSSetShaderResources")
}

func (c *fakeContext) CSSetShaderResources(startSlot uint32, views []ShaderResourceView) {
	c.record("CSSetShaderResources")
}

func (c *fakeContext) PSSetSamplers(startSlot uint32, samplers []SamplerState) {
	c.record("PSSetSamplers")
}

func (c *fakeContext) CSSetSamplers(startSlot uint32, samplers []SamplerState) {
	c.record("CSSetSamplers")
}

func (c *fakeContext) CSSetUnorderedAccessViews(startSlot uint32, views []UnorderedAccessView) {
	c.record("CSSetUnorderedAccessViews")
	c.uavCount = len(views)
}

func (c *fakeContext) OMSetRenderTargets(views []RenderTargetView, depthStencil DepthStencilView) {
	c.record("OMSetRenderTargets")
}

func (c *fakeContext) ClearRenderTargetView(view RenderTargetView, color [4]float32) {
	c.record("ClearRenderTargetView")
	c.clears++
}

func (c *fakeContext) ClearDepthStencilView(view DepthStencilView, flags uint32, depth float32, stencil uint8) {
	c.record("ClearDepthStencilView")
}

func (c *fakeContext) RSSetViewports(viewports []VIEWPORT) { c.record("RSSetViewports") }
func (c *fakeContext) RSSetScissorRects(rects []RECT)      { c.record("RSSetScissorRects") }

func (c *fakeContext) Draw(vertexCount, startVertex uint32) { c.record("Draw") }

func (c *fakeContext) DrawInstanced(vertexCountPerInstance, instanceCount, startVertex, startInstance uint32) {
	c.record("DrawInstanced")
}

func (c *fakeContext) DrawIndexed(indexCount, startIndex uint32, baseVertex int32) {
	c.record("DrawIndexed")
}

func (c *fakeContext) DrawIndexedInstanced(indexCountPerInstance, instanceCount, startIndex uint32, baseVertex int32, startInstance uint32) {
	c.record("DrawIndexedInstanced")
}

func (c *fakeContext) Dispatch(x, y, z uint32) { c.record("Dispatch") }

func (c *fakeContext) UpdateSubresource(resource Resource, subresource uint32, box *BOX, data []byte, rowPitch, depthPitch uint32) {
	c.record("UpdateSubresource")
	if buf, ok := resource.(*fakeBuffer); ok && box != nil {
		copy(buf.data[box.Left:box.Right], data)
	}
}

func (c *fakeContext) Map(resource Resource, subresource, mapType uint32) ([]byte, error) {
	c.record("Map")
	buf, ok := resource.(*fakeBuffer)
	if !ok {
		return nil, errors.New("resource cannot be mapped")
	}
	return buf.data, nil
}

func (c *fakeContext) Unmap(resource Resource, subresource uint32) { c.record("Unmap") }

func (c *fakeContext) End(query Query) { c.record("End") }

func (c *fakeContext) GetData(query Query) (bool, error) {
	return true, nil
}

func (c *fakeContext) ClearState() { c.record("ClearState") }
func (c *fakeContext) Flush()      { c.record("Flush") }

func (c *fakeContext) FinishCommandList(restoreState bool) (CommandList, error) {
	c.record("FinishCommandList")
	c.finished++
	return &fakeObject{kind: "command_list"}, nil
}

func (c *fakeContext) ExecuteCommandList(list CommandList, restoreState bool) {
	c.record("ExecuteCommandList")
	c.executed++
}

type fakeDevice struct {
	fakeObject
	immediate          *fakeContext
	deferred           []*fakeContext
	driverCommandLists bool

	inputLayouts       int
	lastElements       []INPUT_ELEMENT_DESC
	failInputLayout    bool
	renderTargetViews  int
	constantBufferDesc []BUFFER_DESC
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{immediate: &fakeContext{fakeObject: fakeObject{kind: "immediate"}}}
}

func (d *fakeDevice) FeatureLevel() uint32 { return FEATURE_LEVEL_11_1 }
func (d *fakeDevice) AdapterName() string  { return "fake adapter" }

func (d *fakeDevice) CheckThreadingSupport() (bool, bool) {
	return true, d.driverCommandLists
}

func (d *fakeDevice) ImmediateContext() DeviceContext { return d.immediate }

func (d *fakeDevice) CreateDeferredContext() (DeviceContext, error) {
	ctx := &fakeContext{fakeObject: fakeObject{kind: "deferred"}, deferred: true}
	d.deferred = append(d.deferred, ctx)
	return ctx, nil
}

func (d *fakeDevice) CreateSwapChain(desc *dxgi.SWAP_CHAIN_DESC) (SwapChain, error) {
	return nil, errors.New("no window in tests")
}

func (d *fakeDevice) CreateBuffer(desc *BUFFER_DESC, data []byte) (Buffer, error) {
	if desc.BindFlags&BIND_CONSTANT_BUFFER != 0 {
		d.constantBufferDesc = append(d.constantBufferDesc, *desc)
	}
	buf := &fakeBuffer{fakeObject: fakeObject{kind: "buffer"}, data: make([]byte, desc.ByteWidth)}
	copy(buf.data, data)
	return buf, nil
}

func (d *fakeDevice) CreateTexture2D(desc *TEXTURE2D_DESC, data []byte) (Texture2D, error) {
	return &fakeObject{kind: "texture"}, nil
}

func (d *fakeDevice) CreateShaderResourceView(resource Resource, desc *VIEW_DESC) (ShaderResourceView, error) {
	return &fakeObject{kind: "srv"}, nil
}

func (d *fakeDevice) CreateUnorderedAccessView(resource Resource, desc *VIEW_DESC) (UnorderedAccessView, error) {
	return &fakeObject{kind: "uav"}, nil
}

func (d *fakeDevice) CreateRenderTargetView(resource Resource, desc *VIEW_DESC) (RenderTargetView, error) {
	d.renderTargetViews++
	return &fakeObject{kind: "rtv"}, nil
}

func (d *fakeDevice) CreateDepthStencilView(resource Resource, desc *VIEW_DESC) (DepthStencilView, error) {
	return &fakeObject{kind: "dsv"}, nil
}

func (d *fakeDevice) CreateSamplerState(desc *SAMPLER_DESC) (SamplerState, error) {
	return &fakeObject{kind: "sampler"}, nil
}

func (d *fakeDevice) CreateInputLayout(elements []INPUT_ELEMENT_DESC, bytecode []byte) (InputLayout, error) {
	if d.failInputLayout {
		return nil, errors.New("E_INVALIDARG")
	}
	d.inputLayouts++
	d.lastElements = append([]INPUT_ELEMENT_DESC(nil), elements...)
	return &fakeObject{kind: "input_layout"}, nil
}

func (d *fakeDevice) CreateVertexShader(bytecode []byte) (VertexShader, error) {
	return &fakeObject{kind: "vs"}, nil
}

func (d *fakeDevice) CreatePixelShader(bytecode []byte) (PixelShader, error) {
	return &fakeObject{kind: "ps"}, nil
}

func (d *fakeDevice) CreateComputeShader(bytecode []byte) (ComputeShader, error) {
	return &fakeObject{kind: "cs"}, nil
}

func (d *fakeDevice) CreateQuery(queryType uint32) (Query, error) {
	return &fakeObject{kind: "query"}, nil
}
