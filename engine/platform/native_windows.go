//go:build windows

package platform

import (
	"unsafe"

	"github.com/go-gl/glfw/v3.3/glfw"
)

// nativeHandle returns the HWND the DXGI swapchain presents to.
func nativeHandle(w *glfw.Window) uintptr {
	return uintptr(unsafe.Pointer(w.GetWin32Window()))
}
