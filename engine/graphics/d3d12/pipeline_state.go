package d3d12

import (
	"github.com/spaghettifunk/prism/engine/graphics"
	"github.com/spaghettifunk/prism/engine/graphics/dxgi"
)

func renderPassSampleCount(rp *graphics.RenderPassDescriptor) uint32 {
	if rp.ColorAttachmentCount() > 0 {
		return uint32(rp.ColorAttachments[0].Texture.SampleCount())
	}
	return uint32(rp.DepthStencilAttachment.Texture.SampleCount())
}

// pipelineStateHash covers everything a graphics PSO bakes in besides the
// shaders: input layout, topology class and the render target formats.
func pipelineStateHash(state *graphics.RecordingState, topologyType uint32) uint64 {
	h := graphics.NewHasher().
		U64(uint64(state.Pipeline.ID())).
		U32(topologyType)
	if state.VertexFormat != nil {
		h.U64(uint64(state.VertexFormat.ID()))
	} else {
		h.U64(0)
	}
	for slot := range state.Vbo {
		h.Bool(state.Vbo[slot].InputRate == graphics.VertexInputRateInstance)
	}

	rp := state.RenderPass
	count := rp.ColorAttachmentCount()
	h.U32(count)
	for i := uint32(0); i < count; i++ {
		h.U32(uint32(rp.ColorAttachments[i].Texture.Format()))
	}
	if rp.HasDepthStencil() {
		h.U32(uint32(rp.DepthStencilAttachment.Texture.Format()))
	} else {
		h.U32(0)
	}
	return h.U32(renderPassSampleCount(rp)).Sum()
}

// inputElements builds the input layout from the bound vertex format, or
// from the vertex shader inputs when no format is bound.
func inputElements(state *graphics.RecordingState) []INPUT_ELEMENT_DESC {
	p := state.Pipeline
	if p.VertexAttributeMask() == 0 {
		return nil
	}
	var attributes []graphics.VertexAttribute
	if state.VertexFormat != nil {
		attributes = state.VertexFormat.Attributes()
	} else {
		attributes = graphics.ReflectedVertexAttributes(p.Shader(graphics.ShaderStageVertex))
	}

	elements := make([]INPUT_ELEMENT_DESC, 0, len(attributes))
	for _, attr := range attributes {
		if p.VertexAttributeMask()&(1<<attr.Location) == 0 {
			continue
		}
		class, step := convertInputRate(state.Vbo[attr.BufferIndex].InputRate)
		elements = append(elements, INPUT_ELEMENT_DESC{
			SemanticName:         "TEXCOORD",
			SemanticIndex:        attr.Location,
			Format:               dxgi.VertexFormat(attr.Format),
			InputSlot:            attr.BufferIndex,
			AlignedByteOffset:    attr.Offset,
			InputSlotClass:       class,
			InstanceDataStepRate: step,
		})
	}
	return elements
}

func (b *Backend) requestPipelineState(state *graphics.RecordingState, topologyType uint32) (PipelineState, error) {
	return b.pipelineStates.Request(pipelineStateHash(state, topologyType), func() (PipelineState, error) {
		return b.createPipelineState(state, topologyType)
	})
}

func (b *Backend) createPipelineState(state *graphics.RecordingState, topologyType uint32) (PipelineState, error) {
	p := state.Pipeline
	desc := GRAPHICS_PIPELINE_STATE_DESC{
		RootSignature:         nativePipeline(p).layout.signature,
		VS:                    p.Shader(graphics.ShaderStageVertex).Bytecode(),
		InputLayout:           inputElements(state),
		PrimitiveTopologyType: topologyType,
	}
	if fs := p.Shader(graphics.ShaderStageFragment); fs != nil {
		desc.PS = fs.Bytecode()
	}

	rp := state.RenderPass
	desc.NumRenderTargets = rp.ColorAttachmentCount()
	for i := uint32(0); i < desc.NumRenderTargets; i++ {
		desc.RTVFormats[i] = nativeTexture(rp.ColorAttachments[i].Texture).format
	}
	if rp.HasDepthStencil() {
		desc.DSVFormat = nativeTexture(rp.DepthStencilAttachment.Texture).format
	}
	desc.SampleDesc = dxgi.SAMPLE_DESC{Count: renderPassSampleCount(rp)}

	pso, err := b.device.CreateGraphicsPipelineState(&desc)
	if err != nil {
		return nil, graphics.NativeError(err, "creating graphics pipeline state %q", p.Label())
	}
	return pso, nil
}
