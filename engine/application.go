package engine

import (
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/graphics"
)

type ApplicationConfig struct {
	Config *core.Config
	// Backend overrides graphics.backend from the config file when it is not
	// BackendDefault.
	Backend graphics.Backend
	// Headless skips the window; Vulkan then renders to an offscreen
	// backbuffer.
	Headless bool
	// MaxFrames stops the loop after that many frames. Zero runs until the
	// window closes or Stop is called.
	MaxFrames uint64
}

func (c *ApplicationConfig) backend() (graphics.Backend, error) {
	if c.Backend != graphics.BackendDefault {
		return c.Backend, nil
	}
	return graphics.ParseBackend(c.Config.Graphics.Backend)
}
