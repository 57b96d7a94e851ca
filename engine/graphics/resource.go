package graphics

import (
	"sync/atomic"

	"github.com/spaghettifunk/prism/engine/core"
)

// ResourceType orders device teardown: lower values are destroyed first, so
// command buffers go before the pools and allocators backing them.
type ResourceType uint8

const (
	ResourceTypeCommandBuffer ResourceType = iota
	ResourceTypeFramebuffer
	ResourceTypeRenderPass
	ResourceTypePipeline
	ResourceTypeShader
	ResourceTypeVertexInputFormat
	ResourceTypeSampler
	ResourceTypeTexture
	ResourceTypeBuffer
	ResourceTypeFence
	ResourceTypeCommandAllocator
)

func (t ResourceType) String() string {
	switch t {
	case ResourceTypeCommandBuffer:
		return "command_buffer"
	case ResourceTypeFramebuffer:
		return "framebuffer"
	case ResourceTypeRenderPass:
		return "render_pass"
	case ResourceTypePipeline:
		return "pipeline"
	case ResourceTypeShader:
		return "shader"
	case ResourceTypeVertexInputFormat:
		return "vertex_input_format"
	case ResourceTypeSampler:
		return "sampler"
	case ResourceTypeTexture:
		return "texture"
	case ResourceTypeBuffer:
		return "buffer"
	case ResourceTypeFence:
		return "fence"
	case ResourceTypeCommandAllocator:
		return "command_allocator"
	}
	return "unknown"
}

// GpuResource is any object whose lifetime is owned by a Device.
type GpuResource interface {
	ID() core.Identifier
	ResourceType() ResourceType
	Label() string
	Destroy()

	base() *resourceBase
}

// NativeResource is the backend half of a GpuResource.
type NativeResource interface {
	Destroy()
}

type resourceBase struct {
	device    *Device
	self      GpuResource
	id        core.Identifier
	kind      ResourceType
	label     string
	native    NativeResource
	destroyed atomic.Bool
}

func (r *resourceBase) ID() core.Identifier {
	return r.id
}

func (r *resourceBase) ResourceType() ResourceType {
	return r.kind
}

func (r *resourceBase) Label() string {
	return r.label
}

func (r *resourceBase) Device() *Device {
	return r.device
}

func (r *resourceBase) base() *resourceBase {
	return r
}

// Destroy unregisters the resource and releases its native object. Calling it
// more than once is a no-op.
func (r *resourceBase) Destroy() {
	if !r.destroyed.CompareAndSwap(false, true) {
		return
	}
	if r.device != nil && r.id != core.InvalidIdentifier {
		r.device.RemoveGpuResource(r.self)
	}
	r.releaseNative()
}

// teardown is used by the device when it already dropped the registration.
func (r *resourceBase) teardown() {
	if !r.destroyed.CompareAndSwap(false, true) {
		return
	}
	r.releaseNative()
}

func (r *resourceBase) releaseNative() {
	if r.native != nil {
		r.native.Destroy()
		r.native = nil
	}
}

func (r *resourceBase) IsDestroyed() bool {
	return r.destroyed.Load()
}
