package d3d12

import (
	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/prism/engine/graphics"
	"github.com/spaghettifunk/prism/engine/graphics/dxgi"
	"github.com/spaghettifunk/prism/engine/math"
)

func transitionNative(list GraphicsCommandList, resource Resource, before, after uint32) {
	if before == after {
		return
	}
	list.ResourceBarrier([]RESOURCE_BARRIER{{
		Type:        RESOURCE_BARRIER_TYPE_TRANSITION,
		Resource:    resource,
		Subresource: RESOURCE_BARRIER_ALL_SUBRESOURCES,
		StateBefore: before,
		StateAfter:  after,
	}})
}

// stagingCopy creates an upload heap buffer holding data.
func (b *Backend) stagingCopy(size uint64, fill func(mapped []byte)) (Resource, error) {
	staging, err := b.device.CreateCommittedResource(HEAP_TYPE_UPLOAD, &RESOURCE_DESC{
		Dimension:        RESOURCE_DIMENSION_BUFFER,
		Width:            size,
		Height:           1,
		DepthOrArraySize: 1,
		MipLevels:        1,
		SampleDesc:       dxgi.SAMPLE_DESC{Count: 1},
	}, RESOURCE_STATE_GENERIC_READ)
	if err != nil {
		return nil, graphics.NativeError(err, "creating d3d12 staging buffer")
	}
	mapped, err := staging.Map(0)
	if err != nil {
		staging.Release()
		return nil, errors.Wrap(err, "mapping d3d12 staging buffer")
	}
	fill(mapped)
	staging.Unmap(0)
	return staging, nil
}

// withUploadList records copies into the shared upload list, submits it and
// waits for the queue to reach it. Uploads are serialized.
func (b *Backend) withUploadList(record func(list GraphicsCommandList)) error {
	b.uploadMu.Lock()
	defer b.uploadMu.Unlock()

	if b.uploadList == nil {
		allocator, err := b.device.CreateCommandAllocator(COMMAND_LIST_TYPE_DIRECT)
		if err != nil {
			return graphics.NativeError(err, "creating d3d12 upload allocator")
		}
		list, err := b.device.CreateCommandList(COMMAND_LIST_TYPE_DIRECT, allocator)
		if err != nil {
			allocator.Release()
			return graphics.NativeError(err, "creating d3d12 upload list")
		}
		b.uploadAllocator, b.uploadList = allocator, list
	} else {
		// The previous upload was waited for, so the allocator is idle.
		if err := b.uploadAllocator.Reset(); err != nil {
			return errors.Wrap(err, "d3d12: resetting upload allocator")
		}
		if err := b.uploadList.Reset(b.uploadAllocator, nil); err != nil {
			return errors.Wrap(err, "d3d12: resetting upload list")
		}
	}

	record(b.uploadList)
	if err := b.uploadList.Close(); err != nil {
		return errors.Wrap(err, "d3d12: closing upload list")
	}
	_, err := b.submit(b.uploadList, true)
	return err
}

func (b *Backend) uploadBuffer(dst *buffer, offset uint64, data []byte) error {
	staging, err := b.stagingCopy(uint64(len(data)), func(mapped []byte) {
		copy(mapped, data)
	})
	if err != nil {
		return err
	}
	defer staging.Release()

	return b.withUploadList(func(list GraphicsCommandList) {
		transitionNative(list, dst.resource, dst.state, RESOURCE_STATE_COPY_DEST)
		list.CopyBufferRegion(dst.resource, offset, staging, 0, uint64(len(data)))
		transitionNative(list, dst.resource, RESOURCE_STATE_COPY_DEST, dst.state)
	})
}

// uploadTexture fills mip 0 of the first slice. Rows of the staging copy are
// padded to the pitch alignment.
func (b *Backend) uploadTexture(dst *texture, data []byte) error {
	rowSize := dst.desc.Width * dst.desc.Format.BytesPerPixel()
	footprint := PLACED_SUBRESOURCE_FOOTPRINT{
		Format:   dst.format,
		Width:    dst.desc.Width,
		Height:   dst.desc.Height,
		Depth:    1,
		RowPitch: math.Align(rowSize, uint32(TEXTURE_DATA_PITCH_ALIGNMENT)),
	}
	staging, err := b.stagingCopy(uint64(footprint.RowPitch)*uint64(footprint.Height), func(mapped []byte) {
		for row := uint32(0); row < footprint.Height; row++ {
			src := uint64(row) * uint64(rowSize)
			if src >= uint64(len(data)) {
				break
			}
			end := min(src+uint64(rowSize), uint64(len(data)))
			copy(mapped[uint64(row)*uint64(footprint.RowPitch):], data[src:end])
		}
	})
	if err != nil {
		return err
	}
	defer staging.Release()

	return b.withUploadList(func(list GraphicsCommandList) {
		transitionNative(list, dst.resource, dst.state, RESOURCE_STATE_COPY_DEST)
		list.CopyTextureRegion(dst.resource, 0, staging, &footprint)
		transitionNative(list, dst.resource, RESOURCE_STATE_COPY_DEST, dst.state)
	})
}
