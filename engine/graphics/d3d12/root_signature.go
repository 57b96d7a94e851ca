package d3d12

import (
	gomath "math"

	"github.com/spaghettifunk/prism/engine/graphics"
	"github.com/spaghettifunk/prism/engine/math"
)

const noRootParameter = ^uint32(0)

// Push constants live in their own register space, past the last
// descriptor set.
const pushConstantSpace = graphics.MAX_DESCRIPTOR_SETS

// rootLayout maps descriptor sets and push constants onto root parameters.
// Every set is one descriptor table of MAX_BINDINGS_PER_SET descriptors,
// indexed by binding.
type rootLayout struct {
	signature     RootSignature
	tables        [graphics.MAX_DESCRIPTOR_SETS]uint32
	pushConstants uint32
	pushValues    uint32
}

var linearClampSampler = SAMPLER_DESC{
	Filter:         FILTER_MIN_MAG_MIP_LINEAR,
	AddressU:       TEXTURE_ADDRESS_MODE_CLAMP,
	AddressV:       TEXTURE_ADDRESS_MODE_CLAMP,
	AddressW:       TEXTURE_ADDRESS_MODE_CLAMP,
	MaxAnisotropy:  1,
	ComparisonFunc: COMPARISON_FUNC_NEVER,
	MaxLOD:         gomath.MaxFloat32,
}

// describeRootSignature derives the root signature of a pipeline from its
// reflected layout. Sampled textures get a static linear clamp sampler in the
// same register and space.
func describeRootSignature(p *graphics.Pipeline) (ROOT_SIGNATURE_DESC, rootLayout) {
	var desc ROOT_SIGNATURE_DESC
	layout := rootLayout{pushConstants: noRootParameter}
	for i := range layout.tables {
		layout.tables[i] = noRootParameter
	}
	if !p.IsCompute() {
		desc.Flags |= ROOT_SIGNATURE_FLAG_ALLOW_INPUT_LAYOUT
	}

	graphics.ForEachBit(p.DescriptorSetMask(), func(set uint32) {
		setLayout := p.SetLayout(set)
		var ranges []DESCRIPTOR_RANGE
		graphics.ForEachBit(setLayout.BindingMask(), func(binding uint32) {
			ranges = append(ranges, DESCRIPTOR_RANGE{
				RangeType:                         descriptorRangeType(setLayout, binding),
				NumDescriptors:                    1,
				BaseShaderRegister:                binding,
				RegisterSpace:                     set,
				OffsetInDescriptorsFromTableStart: binding,
			})
		})
		graphics.ForEachBit(setLayout.SampledTextureMask, func(binding uint32) {
			desc.StaticSamplers = append(desc.StaticSamplers, STATIC_SAMPLER_DESC{
				SAMPLER_DESC:     linearClampSampler,
				ShaderRegister:   binding,
				RegisterSpace:    set,
				ShaderVisibility: SHADER_VISIBILITY_ALL,
			})
		})
		layout.tables[set] = uint32(len(desc.Parameters))
		desc.Parameters = append(desc.Parameters, ROOT_PARAMETER{
			ParameterType:    ROOT_PARAMETER_TYPE_DESCRIPTOR_TABLE,
			Ranges:           ranges,
			ShaderVisibility: SHADER_VISIBILITY_ALL,
		})
	})

	if size := p.PushConstantSize(); size > 0 {
		layout.pushConstants = uint32(len(desc.Parameters))
		layout.pushValues = math.DivideRoundUp(size, 4)
		desc.Parameters = append(desc.Parameters, ROOT_PARAMETER{
			ParameterType:    ROOT_PARAMETER_TYPE_32BIT_CONSTANTS,
			RegisterSpace:    pushConstantSpace,
			Num32BitValues:   layout.pushValues,
			ShaderVisibility: SHADER_VISIBILITY_ALL,
		})
	}
	return desc, layout
}

// rootLayout returns the shared root signature of every pipeline with the
// same layout hash.
func (b *Backend) rootLayout(p *graphics.Pipeline) (*rootLayout, error) {
	b.rootLayoutsMu.Lock()
	defer b.rootLayoutsMu.Unlock()
	if layout, ok := b.rootLayouts[p.LayoutHash()]; ok {
		return layout, nil
	}

	desc, layout := describeRootSignature(p)
	signature, err := b.device.CreateRootSignature(&desc)
	if err != nil {
		return nil, graphics.NativeError(err, "creating root signature of %q", p.Label())
	}
	layout.signature = signature
	b.rootLayouts[p.LayoutHash()] = &layout
	return &layout, nil
}
