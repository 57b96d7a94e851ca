/*
The prism player opens a window, brings up a graphics device on the
configured backend and runs the testbed scene until the window closes or
the process is signalled.
*/
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/prism/engine"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/graphics"
	"github.com/spaghettifunk/prism/testbed"

	_ "github.com/spaghettifunk/prism/engine/graphics/d3d11"
	_ "github.com/spaghettifunk/prism/engine/graphics/d3d12"
	_ "github.com/spaghettifunk/prism/engine/graphics/empty"
	_ "github.com/spaghettifunk/prism/engine/graphics/vulkan"
)

func main() {
	configPath := flag.String("config", "prism.toml", "path to the TOML configuration")
	backendName := flag.String("backend", "", "graphics backend override (vulkan, d3d12, d3d11, empty)")
	headless := flag.Bool("headless", false, "render without a window")
	frames := flag.Uint64("frames", 0, "stop after this many frames (0 runs until closed)")
	flag.Parse()

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		core.LogFatal("%s", err)
	}
	if err := core.SetLogLevel(cfg.LogLevel); err != nil {
		core.LogWarn("%s", err)
	}

	app := &engine.ApplicationConfig{
		Config:    cfg,
		Headless:  *headless,
		MaxFrames: *frames,
	}
	if *backendName != "" {
		if app.Backend, err = graphics.ParseBackend(*backendName); err != nil {
			core.LogFatal("%s", err)
		}
	}

	tb := testbed.NewTestGame(app)

	engine, err := engine.New(tb.Game)
	if err != nil {
		core.LogFatal("%s", err)
	}

	if err := engine.Initialize(); err != nil {
		core.LogError("initialization failed: %+v", err)
		_ = engine.Shutdown()
		os.Exit(1)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	// the loop has to stay on the main thread, so the signal only stops it
	go func() {
		sig := <-sigCh
		core.LogInfo("received %s, shutting down", sig)
		engine.Stop()
	}()

	runErr := engine.Run()
	if err := engine.Shutdown(); err != nil {
		core.LogError("shutdown: %s", err)
	}
	if runErr != nil {
		core.LogFatal("%+v", runErr)
	}
}
