package vulkan

import (
	"github.com/spaghettifunk/prism/engine/graphics"
)

func renderPassSampleCount(rp *graphics.RenderPassDescriptor) graphics.SampleCount {
	if rp.ColorAttachmentCount() > 0 {
		return rp.ColorAttachments[0].Texture.SampleCount()
	}
	return rp.DepthStencilAttachment.Texture.SampleCount()
}

// graphicsPipelineHash covers the state a Vulkan pipeline bakes in besides
// its shaders: the exact topology, the vertex input with its strides and
// step rates, and the render pass compatibility class. Viewport and scissor
// are dynamic.
func graphicsPipelineHash(state *graphics.RecordingState, topology graphics.PrimitiveTopology) uint64 {
	h := graphics.NewHasher().
		U64(uint64(state.Pipeline.ID())).
		U32(uint32(topology))
	if state.VertexFormat != nil {
		h.U64(uint64(state.VertexFormat.ID()))
	} else {
		h.U64(0)
	}
	active := state.ActiveVertexBufferMask()
	h.U32(active)
	graphics.ForEachBit(active, func(slot uint32) {
		vbo := &state.Vbo[slot]
		h.U32(vbo.Stride).Bool(vbo.InputRate == graphics.VertexInputRateInstance)
	})
	return h.U64(renderPassCompatibility(state.RenderPass)).Sum()
}

// vertexInput builds bindings and attributes from the bound vertex format,
// or from the vertex shader inputs packed into slot 0 when none is bound.
func vertexInput(state *graphics.RecordingState) ([]VertexBindingDesc, []VertexAttributeDesc) {
	p := state.Pipeline
	if p.VertexAttributeMask() == 0 {
		return nil, nil
	}
	var attributes []graphics.VertexAttribute
	if state.VertexFormat != nil {
		attributes = state.VertexFormat.Attributes()
	} else {
		attributes = graphics.ReflectedVertexAttributes(p.Shader(graphics.ShaderStageVertex))
	}

	var bindings []VertexBindingDesc
	graphics.ForEachBit(state.ActiveVertexBufferMask(), func(slot uint32) {
		vbo := &state.Vbo[slot]
		bindings = append(bindings, VertexBindingDesc{
			Binding:   slot,
			Stride:    vbo.Stride,
			InputRate: convertInputRate(vbo.InputRate),
		})
	})

	descs := make([]VertexAttributeDesc, 0, len(attributes))
	for _, attr := range attributes {
		if p.VertexAttributeMask()&(1<<attr.Location) == 0 {
			continue
		}
		descs = append(descs, VertexAttributeDesc{
			Location: attr.Location,
			Binding:  attr.BufferIndex,
			Format:   convertVertexFormat(attr.Format),
			Offset:   attr.Offset,
		})
	}
	return bindings, descs
}

func (b *Backend) requestGraphicsPipeline(state *graphics.RecordingState, topology graphics.PrimitiveTopology, pass RenderPass) (Pipeline, error) {
	return b.pipelines.Request(graphicsPipelineHash(state, topology), func() (Pipeline, error) {
		return b.createGraphicsPipeline(state, topology, pass)
	})
}

func (b *Backend) createGraphicsPipeline(state *graphics.RecordingState, topology graphics.PrimitiveTopology, pass RenderPass) (Pipeline, error) {
	p := state.Pipeline
	vs := p.Shader(graphics.ShaderStageVertex)
	stages := []ShaderStageDesc{nativeShader(vs).stage(vs)}
	if fs := p.Shader(graphics.ShaderStageFragment); fs != nil {
		stages = append(stages, nativeShader(fs).stage(fs))
	}
	bindings, attributes := vertexInput(state)

	rp := state.RenderPass
	handle, err := b.device.CreateGraphicsPipeline(&GraphicsPipelineDesc{
		Layout:           nativePipeline(p).layout.handle,
		RenderPass:       pass,
		Stages:           stages,
		Bindings:         bindings,
		Attributes:       attributes,
		Topology:         convertTopology(topology),
		Samples:          convertSampleCount(renderPassSampleCount(rp)),
		ColorAttachments: rp.ColorAttachmentCount(),
		DepthStencil:     rp.HasDepthStencil(),
		Label:            p.Label(),
	})
	if err != nil {
		return nil, graphics.NativeError(err, "creating graphics pipeline %q", p.Label())
	}
	return handle, nil
}
