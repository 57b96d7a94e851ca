package engine

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/prism/engine/assets"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/graphics"
	"github.com/spaghettifunk/prism/engine/platform"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
	// Engine released everything it owned
	EngineStageShutdown
)

const suspendedPoll = 100 * time.Millisecond

type Engine struct {
	currentStage Stage
	gameInstance *Game
	isRunning    atomic.Bool
	isSuspended  bool
	window       *platform.Window
	device       *graphics.Device
	shaders      *assets.ShaderLibrary
	width        uint32
	height       uint32
	clock        *core.Clock
	lastTime     time.Duration
	frames       uint64
}

func New(g *Game) (*Engine, error) {
	if g == nil || g.ApplicationConfig == nil || g.ApplicationConfig.Config == nil {
		return nil, errors.Mark(errors.New("game needs an application config"), core.ErrUsage)
	}
	if g.FnRender == nil {
		return nil, errors.Mark(errors.New("game has no render callback"), core.ErrUsage)
	}
	cfg := g.ApplicationConfig.Config
	return &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		clock:        core.NewClock(),
		width:        cfg.Window.Width,
		height:       cfg.Window.Height,
	}, nil
}

func (e *Engine) Stage() Stage {
	return e.currentStage
}

func (e *Engine) Device() *graphics.Device {
	return e.device
}

func (e *Engine) Shaders() *assets.ShaderLibrary {
	return e.shaders
}

func (e *Engine) FramebufferSize() (uint32, uint32) {
	return e.width, e.height
}

// Frames is the number of frames presented by Run.
func (e *Engine) Frames() uint64 {
	return e.frames
}

func (e *Engine) Initialize() error {
	if e.currentStage != EngineStageUninitialized {
		return errors.Mark(errors.New("engine already initialized"), core.ErrUsage)
	}
	e.currentStage = EngineStageInitializing
	app := e.gameInstance.ApplicationConfig
	cfg := app.Config

	backend, err := app.backend()
	if err != nil {
		return err
	}

	// A typed nil window must not end up in the Surface interface.
	var surface graphics.Surface
	if !app.Headless && backend != graphics.BackendEmpty {
		window, err := platform.Startup(cfg.Window)
		if err != nil {
			return err
		}
		e.window = window
		surface = window
		e.width, e.height = window.FramebufferSize()
	}

	device, err := graphics.Create(backend, cfg.Graphics.Validation)
	if err != nil {
		return err
	}
	e.device = device
	settings := graphics.SettingsFromConfig(cfg, surface)
	settings.Width, settings.Height = e.width, e.height
	if err := device.Initialize(settings); err != nil {
		return err
	}

	if e.shaders, err = assets.NewShaderLibrary(device.Backend()); err != nil {
		return err
	}
	if _, err := os.Stat(cfg.ShaderDir); err != nil {
		core.LogWarn("shader directory %s unavailable: %s", cfg.ShaderDir, err)
	} else if err := e.shaders.Initialize(cfg.ShaderDir); err != nil {
		return err
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(e); err != nil {
			return err
		}
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(e.width, e.height); err != nil {
			return err
		}
	}

	e.currentStage = EngineStageInitialized
	return nil
}

// Stop asks Run to return after the current frame. Safe from any goroutine.
func (e *Engine) Stop() {
	e.isRunning.Store(false)
	if e.window != nil {
		e.window.RequestClose()
	}
}

func (e *Engine) Run() error {
	if e.currentStage != EngineStageInitialized {
		return errors.Mark(errors.New("engine is not initialized"), core.ErrUsage)
	}
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)
	maxFrames := e.gameInstance.ApplicationConfig.MaxFrames

	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()
	var lastReport time.Duration

	for e.isRunning.Load() {
		if e.window != nil {
			e.window.PumpMessages()
			if e.window.ShouldClose() {
				break
			}
			if e.window.Resized() {
				e.onResized()
			}
			if e.isSuspended {
				e.window.WaitMessages(suspendedPoll)
				continue
			}
		}
		e.processShaderEvents()

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := (currentTime - e.lastTime).Seconds()
		e.lastTime = currentTime

		if e.gameInstance.FnUpdate != nil {
			if err := e.gameInstance.FnUpdate(delta); err != nil {
				core.LogError("game update failed, shutting down: %s", err)
				return err
			}
		}

		presented, err := e.drawFrame(delta)
		if err != nil {
			return err
		}
		if !presented {
			continue
		}
		e.frames++

		if currentTime-lastReport >= time.Second {
			fps, frameMS := e.device.Metrics().Frame()
			core.LogDebug("frame %d: %.0f fps, %.3f ms", e.device.FrameNumber(), fps, frameMS)
			lastReport = currentTime
		}
		if maxFrames > 0 && e.frames >= maxFrames {
			break
		}
	}
	e.isRunning.Store(false)
	return nil
}

// drawFrame reports false when the swapchain was being recreated and the
// frame was skipped.
func (e *Engine) drawFrame(delta float64) (bool, error) {
	if err := e.device.BeginFrame(); err != nil {
		if errors.Is(err, core.ErrSwapchainBooting) {
			core.LogDebug("swapchain booting, skipping frame: %s", err)
			return false, nil
		}
		return false, err
	}
	if err := e.gameInstance.FnRender(e.device.MainCommandBuffer(), e.device.CurrentBackbuffer(), delta); err != nil {
		core.LogError("game render failed, shutting down: %s", err)
		return false, err
	}
	if err := e.device.EndFrame(); err != nil {
		if errors.Is(err, core.ErrSwapchainBooting) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (e *Engine) processShaderEvents() {
	if e.shaders == nil {
		return
	}
	for {
		select {
		case ev, ok := <-e.shaders.Events():
			if !ok {
				return
			}
			if e.gameInstance.FnOnShaderReload == nil {
				continue
			}
			if err := e.gameInstance.FnOnShaderReload(ev); err != nil {
				core.LogError("shader %s reload rejected: %s", ev.Name, err)
			}
		case err, ok := <-e.shaders.Errors():
			if !ok {
				return
			}
			core.LogWarn("shader library: %s", err)
		default:
			return
		}
	}
}

func (e *Engine) onResized() {
	width, height := e.window.FramebufferSize()
	if width == e.width && height == e.height {
		return
	}
	e.width, e.height = width, height
	core.LogDebug("window resize: %d, %d", width, height)

	if width == 0 || height == 0 {
		core.LogInfo("window minimized, suspending application")
		e.isSuspended = true
		return
	}
	if e.isSuspended {
		core.LogInfo("window restored, resuming application")
		e.isSuspended = false
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(width, height); err != nil {
			core.LogError(err.Error())
		}
	}
}

// Shutdown waits for the GPU, lets the game release its resources and then
// tears down the device and window. It runs once.
func (e *Engine) Shutdown() error {
	if e.currentStage == EngineStageShutdown || e.currentStage == EngineStageShuttingDown {
		return nil
	}
	e.currentStage = EngineStageShuttingDown

	var errs error
	if e.device != nil {
		if err := e.device.WaitIdle(); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	if e.gameInstance.FnShutdown != nil {
		if err := e.gameInstance.FnShutdown(); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	if e.shaders != nil {
		if err := e.shaders.Shutdown(); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	if e.device != nil {
		e.device.Destroy()
	}
	if e.window != nil {
		e.window.Shutdown()
	}
	e.currentStage = EngineStageShutdown
	return errs
}
