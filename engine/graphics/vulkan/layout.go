package vulkan

import (
	"github.com/spaghettifunk/prism/engine/graphics"
	"github.com/spaghettifunk/prism/engine/math"
)

// pipelineLayout is shared by every pipeline with the same reflected layout.
// All four set layouts exist, empty ones included, so set numbers line up
// with the shaders.
type pipelineLayout struct {
	sets   [graphics.MAX_DESCRIPTOR_SETS]DescriptorSetLayout
	handle PipelineLayout
	push   PushConstantRange
}

func (l *pipelineLayout) destroy() {
	if l.handle != nil {
		l.handle.Destroy()
		l.handle = nil
	}
	for i, set := range l.sets {
		if set != nil {
			set.Destroy()
			l.sets[i] = nil
		}
	}
}

func (b *Backend) pipelineLayout(p *graphics.Pipeline) (*pipelineLayout, error) {
	hash := p.LayoutHash()
	b.layoutsMu.Lock()
	defer b.layoutsMu.Unlock()
	if layout, ok := b.layouts[hash]; ok {
		return layout, nil
	}

	layout := &pipelineLayout{}
	for set := uint32(0); set < graphics.MAX_DESCRIPTOR_SETS; set++ {
		setLayout := p.SetLayout(set)
		var bindings []DescriptorBinding
		graphics.ForEachBit(setLayout.BindingMask(), func(binding uint32) {
			bindings = append(bindings, DescriptorBinding{
				Binding: binding,
				Type:    descriptorType(setLayout, binding),
				Stages:  convertShaderStages(setLayout.Stages[binding]),
			})
		})
		handle, err := b.device.CreateDescriptorSetLayout(bindings)
		if err != nil {
			layout.destroy()
			return nil, graphics.NativeError(err, "creating descriptor set layout %d of %q", set, p.Label())
		}
		layout.sets[set] = handle
	}

	if size := p.PushConstantSize(); size > 0 {
		layout.push = PushConstantRange{
			Stages: convertShaderStages(p.PushConstantStages()),
			Size:   math.Align(size, 4),
		}
	}
	handle, err := b.device.CreatePipelineLayout(layout.sets[:], layout.push)
	if err != nil {
		layout.destroy()
		return nil, graphics.NativeError(err, "creating pipeline layout of %q", p.Label())
	}
	layout.handle = handle
	b.layouts[hash] = layout
	return layout, nil
}
