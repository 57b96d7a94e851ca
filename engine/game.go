package engine

import (
	"github.com/spaghettifunk/prism/engine/assets"
	"github.com/spaghettifunk/prism/engine/graphics"
)

// Game is the set of callbacks the engine drives every frame. Only FnRender
// is required.
type Game struct {
	ApplicationConfig *ApplicationConfig
	State             interface{}
	FnInitialize      Initialize
	FnUpdate          Update
	FnRender          Render
	FnOnResize        OnResize
	FnOnShaderReload  ShaderReload
	FnShutdown        Shutdown
}

type Initialize func(e *Engine) error
type Update func(deltaTime float64) error

// Render records the frame into the main command buffer, which is already
// begun. The backbuffer is nil on backends without presentation.
type Render func(cb *graphics.CommandBuffer, backbuffer *graphics.Texture, deltaTime float64) error
type OnResize func(width uint32, height uint32) error
type ShaderReload func(event assets.ShaderEvent) error
type Shutdown func() error
