package vulkan

import (
	"time"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/core"
)

type nativeSwapchain struct {
	device    *nativeDevice
	handle    vk.Swapchain
	format    vk.SurfaceFormat
	width     uint32
	height    uint32
	vsync     bool
	minImages uint32
	images    []Image
}

func (d *nativeDevice) CreateSwapchain(width, height uint32, vsync bool, minImages uint32) (Swapchain, error) {
	if !d.hasSurface {
		return nil, errors.WithStack(errors.Mark(errors.New("vulkan: device has no surface"), core.ErrUsage))
	}
	sc := &nativeSwapchain{device: d, vsync: vsync, minImages: minImages}
	if err := sc.build(width, height); err != nil {
		return nil, err
	}
	return sc, nil
}

func (sc *nativeSwapchain) Images() []Image               { return sc.images }
func (sc *nativeSwapchain) Format() vk.Format              { return sc.format.Format }
func (sc *nativeSwapchain) Extent() (width, height uint32) { return sc.width, sc.height }

func (sc *nativeSwapchain) surfaceFormat() (vk.SurfaceFormat, error) {
	d := sc.device
	var count uint32
	if err := check(vk.GetPhysicalDeviceSurfaceFormats(d.physical, d.surface, &count, nil), "vkGetPhysicalDeviceSurfaceFormats"); err != nil {
		return vk.SurfaceFormat{}, err
	}
	if count == 0 {
		return vk.SurfaceFormat{}, errors.New("vulkan: surface has no pixel formats")
	}
	formats := make([]vk.SurfaceFormat, count)
	if err := check(vk.GetPhysicalDeviceSurfaceFormats(d.physical, d.surface, &count, formats), "vkGetPhysicalDeviceSurfaceFormats"); err != nil {
		return vk.SurfaceFormat{}, err
	}
	for i := range formats {
		formats[i].Deref()
		if formats[i].Format == vk.FormatB8g8r8a8Unorm && formats[i].ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return formats[i], nil
		}
	}
	if formats[0].Format == vk.FormatUndefined {
		return vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear}, nil
	}
	return formats[0], nil
}

// presentMode picks FIFO with vsync. Without it mailbox is preferred over
// immediate; FIFO is the fallback every driver supports.
func (sc *nativeSwapchain) presentMode() vk.PresentMode {
	if sc.vsync {
		return vk.PresentModeFifo
	}
	d := sc.device
	var count uint32
	vk.GetPhysicalDeviceSurfacePresentModes(d.physical, d.surface, &count, nil)
	modes := make([]vk.PresentMode, count)
	vk.GetPhysicalDeviceSurfacePresentModes(d.physical, d.surface, &count, modes)
	chosen := vk.PresentModeFifo
	for _, mode := range modes {
		switch mode {
		case vk.PresentModeMailbox:
			return mode
		case vk.PresentModeImmediate:
			chosen = mode
		}
	}
	return chosen
}

func clampExtent(v, lo, hi uint32) uint32 {
	return min(max(v, lo), hi)
}

func (sc *nativeSwapchain) build(width, height uint32) error {
	d := sc.device
	var caps vk.SurfaceCapabilities
	if err := check(vk.GetPhysicalDeviceSurfaceCapabilities(d.physical, d.surface, &caps), "vkGetPhysicalDeviceSurfaceCapabilities"); err != nil {
		return err
	}
	caps.Deref()
	caps.CurrentExtent.Deref()
	caps.MinImageExtent.Deref()
	caps.MaxImageExtent.Deref()

	format, err := sc.surfaceFormat()
	if err != nil {
		return err
	}

	extent := caps.CurrentExtent
	if extent.Width == vk.MaxUint32 {
		extent.Width = clampExtent(width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width)
		extent.Height = clampExtent(height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height)
	}
	if extent.Width == 0 || extent.Height == 0 {
		// Minimized windows report a zero extent.
		return errors.Mark(errors.New("vulkan: surface has a zero extent"), core.ErrSwapchainBooting)
	}

	imageCount := max(sc.minImages, caps.MinImageCount+1)
	if caps.MaxImageCount > 0 && imageCount > caps.MaxImageCount {
		imageCount = caps.MaxImageCount
	}

	info := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          d.surface,
		MinImageCount:    imageCount,
		ImageFormat:      format.Format,
		ImageColorSpace:  format.ColorSpace,
		ImageExtent:      extent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
		ImageSharingMode: vk.SharingModeExclusive,
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      sc.presentMode(),
		Clipped:          vk.True,
		OldSwapchain:     sc.handle,
	}
	if d.graphicsFamily != d.presentFamily {
		info.ImageSharingMode = vk.SharingModeConcurrent
		info.QueueFamilyIndexCount = 2
		info.PQueueFamilyIndices = []uint32{d.graphicsFamily, d.presentFamily}
	}

	var handle vk.Swapchain
	if err := check(vk.CreateSwapchain(d.handle, &info, nil, &handle), "vkCreateSwapchain"); err != nil {
		return err
	}
	if sc.handle != vk.NullSwapchain {
		vk.DestroySwapchain(d.handle, sc.handle, nil)
	}
	sc.handle = handle
	sc.format = format
	sc.width, sc.height = extent.Width, extent.Height

	var count uint32
	if err := check(vk.GetSwapchainImages(d.handle, handle, &count, nil), "vkGetSwapchainImages"); err != nil {
		return err
	}
	handles := make([]vk.Image, count)
	if err := check(vk.GetSwapchainImages(d.handle, handle, &count, handles), "vkGetSwapchainImages"); err != nil {
		return err
	}
	sc.images = make([]Image, count)
	for i, img := range handles {
		sc.images[i] = &nativeImage{device: d.handle, handle: img}
	}
	core.LogInfo("vulkan: swapchain %dx%d with %d images", sc.width, sc.height, count)
	return nil
}

func (sc *nativeSwapchain) Recreate(width, height uint32) error {
	if err := sc.device.WaitIdle(); err != nil {
		return err
	}
	return sc.build(width, height)
}

func (sc *nativeSwapchain) AcquireNextImage(signal Semaphore, timeout time.Duration) (uint32, error) {
	var index uint32
	res := vk.AcquireNextImage(sc.device.handle, sc.handle, uint64(timeout.Nanoseconds()),
		handleOf[vk.Semaphore](signal), vk.NullFence, &index)
	if err := check(res, "vkAcquireNextImageKHR"); err != nil {
		return 0, err
	}
	return index, nil
}

func (sc *nativeSwapchain) Present(index uint32, wait Semaphore) error {
	res := vk.QueuePresent(sc.device.presentQueue, &vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: 1,
		PWaitSemaphores:    []vk.Semaphore{handleOf[vk.Semaphore](wait)},
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{sc.handle},
		PImageIndices:      []uint32{index},
	})
	return check(res, "vkQueuePresentKHR")
}

func (sc *nativeSwapchain) Destroy() {
	if sc.handle == vk.NullSwapchain {
		return
	}
	vk.DestroySwapchain(sc.device.handle, sc.handle, nil)
	sc.handle = vk.NullSwapchain
	sc.images = nil
}
