package platform

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/graphics"
)

func init() {
	// GLFW event handling must run on the main OS thread
	runtime.LockOSThread()
}

var _ graphics.Surface = (*Window)(nil)

// Window is a glfw window without a client API. It is the presentation
// surface handed to the graphics device.
type Window struct {
	handle  *glfw.Window
	resized atomic.Bool
	closing atomic.Bool
}

func Startup(cfg core.WindowConfig) (*Window, error) {
	if err := glfw.Init(); err != nil {
		core.LogError("failed to initialize glfw: %s", err)
		return nil, errors.Mark(errors.Wrap(err, "glfw init"), core.ErrNativeCreation)
	}

	glfw.WindowHint(glfw.Visible, glfw.False)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)

	handle, err := glfw.CreateWindow(int(cfg.Width), int(cfg.Height), cfg.Title, nil, nil)
	if err != nil {
		glfw.Terminate()
		core.LogError("failed to create window: %s", err)
		return nil, errors.Mark(errors.Wrap(err, "glfw create window"), core.ErrNativeCreation)
	}

	w := &Window{handle: handle}
	handle.SetKeyCallback(w.keyCallback)
	handle.SetFramebufferSizeCallback(w.framebufferSizeCallback)
	handle.SetCloseCallback(w.closeCallback)
	handle.SetPos(int(cfg.X), int(cfg.Y))
	handle.Show()

	core.LogInfo("window %q created (%dx%d)", cfg.Title, cfg.Width, cfg.Height)
	return w, nil
}

func (w *Window) Shutdown() {
	if w.handle != nil {
		w.handle.Destroy()
		w.handle = nil
	}
	glfw.Terminate()
}

func (w *Window) PumpMessages() {
	glfw.PollEvents()
}

// WaitMessages blocks until an event arrives or the timeout passes. Used
// while minimized.
func (w *Window) WaitMessages(timeout time.Duration) {
	glfw.WaitEventsTimeout(timeout.Seconds())
}

// RequestClose may be called from any goroutine.
func (w *Window) RequestClose() {
	w.closing.Store(true)
}

func (w *Window) ShouldClose() bool {
	return w.closing.Load() || w.handle.ShouldClose()
}

// Resized reports whether the framebuffer changed size since the last call.
func (w *Window) Resized() bool {
	return w.resized.Swap(false)
}

func (w *Window) FramebufferSize() (width, height uint32) {
	fw, fh := w.handle.GetFramebufferSize()
	return uint32(max(fw, 0)), uint32(max(fh, 0))
}

func (w *Window) RequiredVulkanExtensions() []string {
	return w.handle.GetRequiredInstanceExtensions()
}

func (w *Window) CreateVulkanSurface(instance interface{}) (uintptr, error) {
	surface, err := w.handle.CreateWindowSurface(instance, nil)
	if err != nil {
		return 0, errors.Mark(errors.Wrap(err, "glfw create window surface"), core.ErrNativeCreation)
	}
	return surface, nil
}

func (w *Window) NativeWindowHandle() uintptr {
	return nativeHandle(w.handle)
}

func (w *Window) keyCallback(_ *glfw.Window, key glfw.Key, _ int, action glfw.Action, _ glfw.ModifierKey) {
	if key == glfw.KeyEscape && action == glfw.Press {
		w.closing.Store(true)
	}
}

func (w *Window) framebufferSizeCallback(_ *glfw.Window, width, height int) {
	core.LogDebug("framebuffer resized to %dx%d", width, height)
	w.resized.Store(true)
}

func (w *Window) closeCallback(_ *glfw.Window) {
	w.closing.Store(true)
}
