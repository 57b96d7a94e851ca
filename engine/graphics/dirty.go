package graphics

import "math/bits"

// DirtyFlags marks command buffer state that differs from what was last
// flushed to the native command stream.
type DirtyFlags uint32

const (
	DirtyStaticState DirtyFlags = 1 << iota
	DirtyPipeline
	DirtyViewport
	DirtyScissor
	DirtyStaticVertex
	DirtyPushConstants

	DirtyDynamicBits = DirtyViewport | DirtyScissor
	DirtyAll         = DirtyStaticState | DirtyPipeline | DirtyDynamicBits | DirtyStaticVertex | DirtyPushConstants
)

func (f *DirtyFlags) Set(flags DirtyFlags) {
	*f |= flags
}

func (f *DirtyFlags) Clear(flags DirtyFlags) {
	*f &^= flags
}

func (f DirtyFlags) Has(flags DirtyFlags) bool {
	return f&flags != 0
}

// GetAndClear reports whether any of flags was set and clears them.
func (f *DirtyFlags) GetAndClear(flags DirtyFlags) bool {
	set := *f&flags != 0
	*f &^= flags
	return set
}

// ForEachBit calls fn with the index of every set bit, lowest first.
func ForEachBit(mask uint32, fn func(bit uint32)) {
	for mask != 0 {
		bit := uint32(bits.TrailingZeros32(mask))
		fn(bit)
		mask &^= 1 << bit
	}
}

// ForEachBitRange calls fn once per run of contiguous set bits with the first
// bit of the run and the run length.
func ForEachBitRange(mask uint32, fn func(first, count uint32)) {
	if mask == ^uint32(0) {
		fn(0, 32)
		return
	}

	var offset uint32
	for mask != 0 {
		trailingZeros := uint32(bits.TrailingZeros32(mask))
		mask >>= trailingZeros
		offset += trailingZeros

		count := uint32(bits.TrailingZeros32(^mask))
		fn(offset, count)
		offset += count
		if count == 32 {
			return
		}
		mask >>= count
	}
}
