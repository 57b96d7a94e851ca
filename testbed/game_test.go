package testbed

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spaghettifunk/prism/engine"
	"github.com/spaghettifunk/prism/engine/assets"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/graphics"
	"github.com/spaghettifunk/prism/engine/graphics/empty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeShaders(t *testing.T, dir string) {
	t.Helper()
	files := map[string]string{
		"triangle.vert.shadercfg": "stage = \"vertex\"\n[bytecode]\nvulkan = \"triangle.vert.spv\"\n" +
			"[[inputs]]\nname = \"in_position\"\nlocation = 0\nformat = \"float2\"\n" +
			"[[inputs]]\nname = \"in_color\"\nlocation = 1\nformat = \"float3\"\n",
		"triangle.frag.shadercfg": "stage = \"fragment\"\n[bytecode]\nvulkan = \"triangle.frag.spv\"\n" +
			"[[resources]]\nname = \"Tint\"\nbinding = 0\nkind = \"uniform_buffer\"\nsize = 16\n",
		"triangle.vert.spv": "\x03\x02\x23\x07",
		"triangle.frag.spv": "\x03\x02\x23\x07",
	}
	for name, data := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(data), 0o644))
	}
}

func newTestbed(t *testing.T, frames uint64, withShaders bool) (*engine.Engine, *TestGame) {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.ShaderDir = t.TempDir()
	if withShaders {
		writeShaders(t, cfg.ShaderDir)
	}

	tg := NewTestGame(&engine.ApplicationConfig{
		Config:    cfg,
		Backend:   graphics.BackendEmpty,
		MaxFrames: frames,
	})
	e, err := engine.New(tg.Game)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	t.Cleanup(func() { _ = e.Shutdown() })
	return e, tg
}

func TestTestbedDrawsTriangle(t *testing.T) {
	e, tg := newTestbed(t, 4, true)
	require.NotNil(t, tg.state().pipeline)

	require.NoError(t, e.Run())
	stats := e.Device().Impl().(*empty.Device).Stats()
	assert.Equal(t, uint64(4), stats.Draws.Load())
	assert.Equal(t, uint64(4), stats.Submits.Load())
	assert.Len(t, tg.state().tints, 2)
}

func TestTestbedClearsWithoutShaders(t *testing.T) {
	e, tg := newTestbed(t, 3, false)
	assert.Nil(t, tg.state().pipeline)

	require.NoError(t, e.Run())
	stats := e.Device().Impl().(*empty.Device).Stats()
	assert.Zero(t, stats.Draws.Load())
	assert.Equal(t, uint64(3), stats.Submits.Load())
}

func TestTestbedShaderReload(t *testing.T) {
	_, tg := newTestbed(t, 1, true)
	first := tg.state().pipeline
	require.NotNil(t, first)

	require.NoError(t, tg.OnShaderReload(assets.ShaderEvent{Name: "unrelated"}))
	assert.Same(t, first, tg.state().pipeline)

	require.NoError(t, tg.OnShaderReload(assets.ShaderEvent{Name: vertexShaderName}))
	assert.NotSame(t, first, tg.state().pipeline)
	assert.True(t, first.IsDestroyed())

	require.NoError(t, tg.OnShaderReload(assets.ShaderEvent{Name: fragmentShaderName, Removed: true}))
	assert.Nil(t, tg.state().pipeline)
}

func TestTestbedShutdownReleasesResources(t *testing.T) {
	e, tg := newTestbed(t, 1, true)
	before := len(e.Device().LiveResources())

	require.NoError(t, tg.Shutdown())
	// vertices, two tint buffers, two shaders and the pipeline
	assert.Equal(t, before-6, len(e.Device().LiveResources()))
}
