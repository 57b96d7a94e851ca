package empty

import "github.com/spaghettifunk/prism/engine/graphics"

type commandBuffer struct {
	device *Device
}

func (c *commandBuffer) Destroy() {}

func (c *commandBuffer) BeginImpl() {}

func (c *commandBuffer) BeginRenderPassImpl(state *graphics.RecordingState, desc *graphics.RenderPassDescriptor) {}

func (c *commandBuffer) EndRenderPassImpl(state *graphics.RecordingState) {}

func (c *commandBuffer) SetIndexBufferImpl(buffer *graphics.Buffer, offset uint64, indexType graphics.IndexType) {}

// prepareDraw consumes the dirty state so the tracking invariants hold even
// though nothing reaches a GPU.
func (c *commandBuffer) prepareDraw(state *graphics.RecordingState) {
	state.FlushVertexBuffers(func(first, count uint32) {})
	state.FlushDescriptorSets(func(set uint32) {})
	state.Dirty.Clear(graphics.DirtyAll)
}

func (c *commandBuffer) DrawImpl(state *graphics.RecordingState, topology graphics.PrimitiveTopology, vertexCount, instanceCount, vertexStart, baseInstance uint32) {
	c.prepareDraw(state)
	c.device.stats.Draws.Add(1)
}

func (c *commandBuffer) DrawIndexedImpl(state *graphics.RecordingState, topology graphics.PrimitiveTopology, indexCount, instanceCount, startIndex uint32) {
	c.prepareDraw(state)
	c.device.stats.Draws.Add(1)
}

func (c *commandBuffer) DispatchImpl(state *graphics.RecordingState, groupCountX, groupCountY, groupCountZ uint32) {
	c.prepareDraw(state)
	c.device.stats.Dispatches.Add(1)
}

func (c *commandBuffer) CommitImpl(waitForCompletion bool) (uint64, error) {
	return c.device.stats.Submits.Add(1), nil
}

func (c *commandBuffer) ResetImpl() {}
