//go:build !windows

package platform

import "github.com/go-gl/glfw/v3.3/glfw"

// Only the Direct3D backends consume a native handle.
func nativeHandle(*glfw.Window) uintptr {
	return 0
}
