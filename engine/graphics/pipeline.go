package graphics

import (
	"github.com/spaghettifunk/prism/engine/core"
)

type PipelineDescriptor struct {
	Vertex   *Shader
	Fragment *Shader
	Compute  *Shader
	Label    string
}

// DescriptorSetLayout is the merged reflection of one descriptor set across
// all stages of a pipeline.
type DescriptorSetLayout struct {
	UniformBufferMask  uint32
	StorageBufferMask  uint32
	SampledTextureMask uint32
	StorageTextureMask uint32
	TexelBufferMask    uint32
	Stages             [MAX_BINDINGS_PER_SET]ShaderStageFlags
}

func (l *DescriptorSetLayout) BindingMask() uint32 {
	return l.UniformBufferMask | l.StorageBufferMask | l.SampledTextureMask | l.StorageTextureMask | l.TexelBufferMask
}

func (l *DescriptorSetLayout) StageMask() ShaderStageFlags {
	var flags ShaderStageFlags
	for _, s := range l.Stages {
		flags |= s
	}
	return flags
}

type NativePipeline interface {
	NativeResource
}

// Pipeline is a linked shader program plus the layout derived from its
// reflection.
type Pipeline struct {
	resourceBase
	stages             [ShaderStageCount]*Shader
	stageMask          ShaderStageFlags
	attributeMask      uint32
	descriptorSetMask  uint32
	setLayouts         [MAX_DESCRIPTOR_SETS]DescriptorSetLayout
	pushConstantSize   uint32
	pushConstantStages ShaderStageFlags
	layoutHash         uint64
}

func (p *Pipeline) Shader(stage ShaderStage) *Shader {
	return p.stages[stage]
}

func (p *Pipeline) StageMask() ShaderStageFlags {
	return p.stageMask
}

func (p *Pipeline) IsCompute() bool {
	return p.stageMask.Has(ShaderStageCompute)
}

// VertexAttributeMask has one bit per vertex shader input location.
func (p *Pipeline) VertexAttributeMask() uint32 {
	return p.attributeMask
}

// DescriptorSetMask has one bit per descriptor set the pipeline reads.
func (p *Pipeline) DescriptorSetMask() uint32 {
	return p.descriptorSetMask
}

func (p *Pipeline) SetLayout(set uint32) *DescriptorSetLayout {
	return &p.setLayouts[set]
}

func (p *Pipeline) PushConstantSize() uint32 {
	return p.pushConstantSize
}

func (p *Pipeline) PushConstantStages() ShaderStageFlags {
	return p.pushConstantStages
}

// LayoutHash identifies pipelines with compatible binding layouts.
func (p *Pipeline) LayoutHash() uint64 {
	return p.layoutHash
}

func (p *Pipeline) Native() NativePipeline {
	if p.native == nil {
		return nil
	}
	return p.native.(NativePipeline)
}

func (p *Pipeline) reflect() {
	for stage, shader := range p.stages {
		if shader == nil {
			continue
		}
		flag := ShaderStage(stage).Flag()
		p.stageMask |= flag

		if ShaderStage(stage) == ShaderStageVertex {
			for _, input := range shader.inputs {
				core.Assert(input.Location < MAX_VERTEX_ATTRIBUTES, "vertex input location %d out of range", input.Location)
				p.attributeMask |= 1 << input.Location
			}
		}

		for _, res := range shader.resources {
			core.Assert(res.Set < MAX_DESCRIPTOR_SETS, "descriptor set %d out of range in %q", res.Set, shader.label)
			core.Assert(res.Binding < MAX_BINDINGS_PER_SET, "binding %d out of range in %q", res.Binding, shader.label)
			layout := &p.setLayouts[res.Set]
			bit := uint32(1) << res.Binding
			switch res.Kind {
			case ShaderResourceUniformBuffer:
				layout.UniformBufferMask |= bit
			case ShaderResourceStorageBuffer:
				layout.StorageBufferMask |= bit
			case ShaderResourceSampledTexture:
				layout.SampledTextureMask |= bit
			case ShaderResourceStorageTexture:
				layout.StorageTextureMask |= bit
			case ShaderResourceUniformTexelBuffer:
				layout.TexelBufferMask |= bit
			}
			layout.Stages[res.Binding] |= flag
			p.descriptorSetMask |= 1 << res.Set
		}

		if shader.pushConstantSize > 0 {
			p.pushConstantSize = max(p.pushConstantSize, shader.pushConstantSize)
			p.pushConstantStages |= flag
		}
	}

	h := NewHasher()
	for set := range p.setLayouts {
		layout := &p.setLayouts[set]
		h.U32(layout.UniformBufferMask).
			U32(layout.StorageBufferMask).
			U32(layout.SampledTextureMask).
			U32(layout.StorageTextureMask).
			U32(layout.TexelBufferMask)
		for _, stages := range layout.Stages {
			h.U32(uint32(stages))
		}
	}
	h.U32(p.pushConstantSize).U32(uint32(p.pushConstantStages))
	p.layoutHash = h.Sum()
}
