package vulkan

import (
	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/graphics"
)

// stagingCopy creates a host visible buffer holding data.
func (b *Backend) stagingCopy(data []byte) (Buffer, error) {
	staging, err := b.device.CreateBuffer(&BufferDesc{
		Size:        uint64(len(data)),
		Usage:       vk.BufferUsageFlags(vk.BufferUsageTransferSrcBit),
		HostVisible: true,
		Label:       "staging",
	})
	if err != nil {
		return nil, graphics.NativeError(err, "creating vulkan staging buffer")
	}
	copy(staging.Mapped(), data)
	return staging, nil
}

// withUploadList records into the shared one time list, submits it and
// waits for the queue to reach it. Uploads are serialized.
func (b *Backend) withUploadList(record func(list CommandList)) error {
	b.uploadMu.Lock()
	defer b.uploadMu.Unlock()

	if b.uploadList == nil {
		pool, err := b.device.CreateCommandPool()
		if err != nil {
			return graphics.NativeError(err, "creating vulkan upload command pool")
		}
		list, err := pool.Allocate()
		if err != nil {
			pool.Destroy()
			return graphics.NativeError(err, "allocating vulkan upload list")
		}
		b.uploadPool, b.uploadList = pool, list
	} else if err := b.uploadList.Reset(); err != nil {
		// The previous upload was waited for, so the list is idle.
		return errors.Wrap(err, "vulkan: resetting upload list")
	}

	if err := b.uploadList.Begin(true); err != nil {
		return errors.Wrap(err, "vulkan: beginning upload list")
	}
	record(b.uploadList)
	if err := b.uploadList.End(); err != nil {
		return errors.Wrap(err, "vulkan: ending upload list")
	}
	_, err := b.submit([]CommandList{b.uploadList}, true)
	return err
}

// uploadBuffer copies data into a device local buffer. The copy is fenced
// by full memory barriers on both sides since earlier submissions may still
// read the range.
func (b *Backend) uploadBuffer(dst *buffer, offset uint64, data []byte) error {
	staging, err := b.stagingCopy(data)
	if err != nil {
		return err
	}
	defer staging.Destroy()

	allCommands := vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
	transfer := vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	return b.withUploadList(func(list CommandList) {
		list.PipelineBarrier(allCommands, transfer, []MemoryBarrier{{
			SrcAccess: vk.AccessFlags(vk.AccessMemoryWriteBit),
			DstAccess: vk.AccessFlags(vk.AccessTransferWriteBit),
		}}, nil, nil)
		list.CopyBuffer(staging, dst.handle, 0, offset, uint64(len(data)))
		list.PipelineBarrier(transfer, allCommands, []MemoryBarrier{{
			SrcAccess: vk.AccessFlags(vk.AccessTransferWriteBit),
			DstAccess: vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit),
		}}, nil, nil)
	})
}

// initializeTexture moves a new image out of the undefined layout into
// layout, filling mip 0 of the first layer with data on the way.
func (b *Backend) initializeTexture(tex *texture, layout vk.ImageLayout, data []byte) error {
	var staging Buffer
	if len(data) > 0 {
		var err error
		if staging, err = b.stagingCopy(data); err != nil {
			return err
		}
		defer staging.Destroy()
	}

	top := vk.PipelineStageFlags(vk.PipelineStageTopOfPipeBit)
	transfer := vk.PipelineStageFlags(vk.PipelineStageTransferBit)
	allCommands := vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
	err := b.withUploadList(func(list CommandList) {
		current := vk.ImageLayoutUndefined
		if staging != nil {
			list.PipelineBarrier(top, transfer, nil, nil, []ImageBarrier{{
				Image:     tex.image,
				Aspect:    tex.aspect,
				OldLayout: current,
				NewLayout: vk.ImageLayoutTransferDstOptimal,
				DstAccess: vk.AccessFlags(vk.AccessTransferWriteBit),
			}})
			list.CopyBufferToImage(staging, tex.image, BufferImageCopy{
				Aspect: tex.aspect,
				Width:  tex.desc.Width,
				Height: tex.desc.Height,
			})
			current = vk.ImageLayoutTransferDstOptimal
		}
		list.PipelineBarrier(transfer, allCommands, nil, nil, []ImageBarrier{{
			Image:     tex.image,
			Aspect:    tex.aspect,
			OldLayout: current,
			NewLayout: layout,
			SrcAccess: vk.AccessFlags(vk.AccessTransferWriteBit),
			DstAccess: vk.AccessFlags(vk.AccessMemoryReadBit | vk.AccessMemoryWriteBit),
		}})
	})
	if err != nil {
		return err
	}
	tex.layout = layout
	return nil
}
