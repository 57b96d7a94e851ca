package graphics

type BufferDescriptor struct {
	Usage         BufferUsage
	ResourceUsage ResourceUsage
	Size          uint64
	// Stride is the vertex stride used when the buffer is bound as a vertex buffer.
	Stride uint32
	Label  string
}

// NativeBuffer is implemented by every backend.
type NativeBuffer interface {
	NativeResource
	SetSubData(offset uint64, data []byte) error
}

type Buffer struct {
	resourceBase
	desc    BufferDescriptor
	tracker ResourceTracker
}

func (b *Buffer) Descriptor() BufferDescriptor {
	return b.desc
}

func (b *Buffer) Size() uint64 {
	return b.desc.Size
}

func (b *Buffer) Stride() uint32 {
	return b.desc.Stride
}

func (b *Buffer) Usage() BufferUsage {
	return b.desc.Usage
}

func (b *Buffer) Native() NativeBuffer {
	if b.native == nil {
		return nil
	}
	return b.native.(NativeBuffer)
}

func (b *Buffer) Tracker() *ResourceTracker {
	return &b.tracker
}

// SetSubData uploads data at offset. Immutable buffers cannot be updated.
func (b *Buffer) SetSubData(offset uint64, data []byte) error {
	if b.desc.ResourceUsage == ResourceUsageImmutable {
		return errImmutableUpdate(b.label)
	}
	if offset+uint64(len(data)) > b.desc.Size {
		return errOutOfRange(b.label, offset, uint64(len(data)), b.desc.Size)
	}
	return b.Native().SetSubData(offset, data)
}

// InitialBufferState is the state a new buffer is created in. Backends with
// explicit barriers create the native resource in this state.
func InitialBufferState(desc *BufferDescriptor) ResourceState {
	switch {
	case desc.ResourceUsage == ResourceUsageStaging:
		return ResourceStateCopySource
	case desc.Usage&BufferUsageStorage != 0:
		return ResourceStateCommon
	case desc.Usage&(BufferUsageVertex|BufferUsageUniform) != 0:
		return ResourceStateVertexAndConstantBuffer
	case desc.Usage&BufferUsageIndex != 0:
		return ResourceStateIndexBuffer
	case desc.Usage&BufferUsageIndirect != 0:
		return ResourceStateIndirectArgument
	}
	return ResourceStateCommon
}
