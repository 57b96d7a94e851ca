package graphics

import (
	"cmp"

	"golang.org/x/exp/slices"
)

// VERTEX_OFFSET_APPEND places an attribute right after the previous one in
// the same buffer.
const VERTEX_OFFSET_APPEND uint32 = ^uint32(0)

type VertexAttribute struct {
	Format      VertexFormat
	Offset      uint32
	BufferIndex uint32
	Location    uint32
}

type VertexBufferLayout struct {
	Stride    uint32
	InputRate VertexInputRate
}

type VertexInputFormatDescriptor struct {
	Layouts    [MAX_VERTEX_BUFFER_BINDINGS]VertexBufferLayout
	Attributes []VertexAttribute
	Label      string
}

// VertexInputFormat describes how vertex buffers feed shader inputs. It has
// no native object; backends key their input layouts on its identifier.
type VertexInputFormat struct {
	resourceBase
	layouts    [MAX_VERTEX_BUFFER_BINDINGS]VertexBufferLayout
	attributes []VertexAttribute
	bufferMask uint32
}

func (f *VertexInputFormat) Attributes() []VertexAttribute {
	return f.attributes
}

func (f *VertexInputFormat) Layout(binding uint32) VertexBufferLayout {
	return f.layouts[binding]
}

// BufferMask has one bit per vertex buffer slot referenced by an attribute.
func (f *VertexInputFormat) BufferMask() uint32 {
	return f.bufferMask
}

func (f *VertexInputFormat) resolve(desc *VertexInputFormatDescriptor) {
	f.layouts = desc.Layouts
	f.attributes = make([]VertexAttribute, len(desc.Attributes))

	var offsets [MAX_VERTEX_BUFFER_BINDINGS]uint32
	for i, attr := range desc.Attributes {
		if attr.Offset == VERTEX_OFFSET_APPEND {
			attr.Offset = offsets[attr.BufferIndex]
		}
		offsets[attr.BufferIndex] = attr.Offset + attr.Format.Size()
		f.attributes[i] = attr
		f.bufferMask |= 1 << attr.BufferIndex
	}

	for slot := range f.layouts {
		if f.bufferMask&(1<<slot) != 0 && f.layouts[slot].Stride == 0 {
			f.layouts[slot].Stride = offsets[slot]
		}
	}
}

// vertexFormatFromInputs builds the implicit single-buffer layout used when a
// pipeline is drawn without a vertex input format. Inputs are interleaved in
// location order.
func vertexFormatFromInputs(inputs []ShaderInput) []VertexAttribute {
	sorted := slices.Clone(inputs)
	slices.SortFunc(sorted, func(a, b ShaderInput) int {
		return cmp.Compare(a.Location, b.Location)
	})

	attributes := make([]VertexAttribute, 0, len(sorted))
	var offset uint32
	for _, input := range sorted {
		attributes = append(attributes, VertexAttribute{
			Format:      input.Format,
			Offset:      offset,
			BufferIndex: 0,
			Location:    input.Location,
		})
		offset += input.Format.Size()
	}
	return attributes
}

// ReflectedVertexAttributes returns the implicit layout for a vertex shader.
func ReflectedVertexAttributes(shader *Shader) []VertexAttribute {
	if shader == nil {
		return nil
	}
	return vertexFormatFromInputs(shader.inputs)
}
