package assets

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/prism/engine/graphics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const triangleVert = `
stage = "vertex"
push_constant_size = 16

[bytecode]
vulkan = "triangle.vert.spv"
d3d12 = "triangle.vert.dxil"

[[inputs]]
name = "position"
location = 0
format = "float3"

[[inputs]]
name = "uv"
location = 1
format = "float2"

[[resources]]
name = "camera"
set = 0
binding = 1
kind = "uniform_buffer"
size = 64
`

const particlesComp = `
stage = "compute"
entry_point = "simulate"
workgroup_size = [64, 1, 1]

[bytecode]
vulkan = "particles.comp.spv"

[[resources]]
name = "particles"
binding = 0
kind = "storage_buffer"
`

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	// Rename into place so the watcher never sees a half written file.
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, data, 0o644))
	require.NoError(t, os.Rename(tmp, path))
}

func newShaderDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "triangle.vert.shadercfg"), []byte(triangleVert))
	writeFile(t, filepath.Join(dir, "triangle.vert.spv"), []byte{0x03, 0x02, 0x23, 0x07, 1, 0, 0, 0})
	writeFile(t, filepath.Join(dir, "triangle.vert.dxil"), []byte("DXIL"))
	writeFile(t, filepath.Join(dir, "compute", "particles.comp.shadercfg"), []byte(particlesComp))
	writeFile(t, filepath.Join(dir, "compute", "particles.comp.spv"), []byte{1, 2, 3, 4})
	return dir
}

func newLibrary(t *testing.T, backend graphics.Backend, dir string) *ShaderLibrary {
	t.Helper()
	lib, err := NewShaderLibrary(backend)
	require.NoError(t, err)
	require.NoError(t, lib.Initialize(dir))
	t.Cleanup(func() { _ = lib.Shutdown() })
	return lib
}

func TestShaderLoaderParsesManifest(t *testing.T) {
	dir := newShaderDir(t)
	loader := &ShaderLoader{Backend: graphics.BackendVulkan}

	shader, bytecode, err := loader.Load(filepath.Join(dir, "triangle.vert.shadercfg"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "triangle.vert.spv"), bytecode)
	assert.Equal(t, graphics.ShaderStageVertex, shader.Stage)
	assert.Equal(t, "main", shader.EntryPoint)
	assert.Equal(t, uint32(16), shader.PushConstantSize)
	assert.Len(t, shader.Bytecode, 8)
	assert.Equal(t, []graphics.ShaderInput{
		{Name: "position", Location: 0, Format: graphics.VertexFormatFloat3},
		{Name: "uv", Location: 1, Format: graphics.VertexFormatFloat2},
	}, shader.Inputs)
	assert.Equal(t, []graphics.ShaderResource{
		{Name: "camera", Set: 0, Binding: 1, Kind: graphics.ShaderResourceUniformBuffer, Size: 64},
	}, shader.Resources)

	compute, _, err := loader.Load(filepath.Join(dir, "compute", "particles.comp.shadercfg"))
	require.NoError(t, err)
	assert.Equal(t, graphics.ShaderStageCompute, compute.Stage)
	assert.Equal(t, "simulate", compute.EntryPoint)
	assert.Equal(t, [3]uint32{64, 1, 1}, compute.WorkgroupSize)
	assert.Equal(t, graphics.ShaderResourceStorageBuffer, compute.Resources[0].Kind)
}

func TestShaderLoaderPicksBackendBytecode(t *testing.T) {
	dir := newShaderDir(t)
	manifest := filepath.Join(dir, "triangle.vert.shadercfg")

	shader, _, err := (&ShaderLoader{Backend: graphics.BackendD3D12}).Load(manifest)
	require.NoError(t, err)
	assert.Equal(t, []byte("DXIL"), shader.Bytecode)

	_, _, err = (&ShaderLoader{Backend: graphics.BackendD3D11}).Load(manifest)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoBytecode))

	shader, bytecode, err := (&ShaderLoader{Backend: graphics.BackendEmpty}).Load(manifest)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "triangle.vert.spv"), bytecode)
	assert.Len(t, shader.Bytecode, 8)
}

func TestShaderLoaderRejectsBadManifests(t *testing.T) {
	dir := t.TempDir()
	loader := &ShaderLoader{Backend: graphics.BackendVulkan}
	tests := map[string]string{
		"stage":  `stage = "pixel"`,
		"format": "stage = \"vertex\"\n[[inputs]]\nname = \"p\"\nformat = \"float5\"",
		"kind":   "stage = \"vertex\"\n[[resources]]\nname = \"t\"\nkind = \"sampler\"",
		"toml":   `stage = `,
		"spirv":  "stage = \"vertex\"\n[bytecode]\nvulkan = \"odd.spv\"",
	}
	writeFile(t, filepath.Join(dir, "odd.spv"), []byte{1, 2, 3})
	for name, manifest := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name+ShaderExtension)
			writeFile(t, path, []byte(manifest))
			_, _, err := loader.Load(path)
			assert.Error(t, err)
		})
	}
}

func TestShaderName(t *testing.T) {
	assert.Equal(t, "triangle.vert", ShaderName("/shaders", "/shaders/triangle.vert.shadercfg"))
	assert.Equal(t, "compute/particles.comp", ShaderName("/shaders", "/shaders/compute/particles.comp.shadercfg"))
}

func TestShaderLibraryLoadsDirectory(t *testing.T) {
	lib := newLibrary(t, graphics.BackendVulkan, newShaderDir(t))

	assert.Equal(t, []string{"compute/particles.comp", "triangle.vert"}, lib.Names())
	shader, err := lib.Get("triangle.vert")
	require.NoError(t, err)
	assert.Equal(t, "triangle.vert", shader.Label)

	_, err = lib.Get("missing")
	assert.True(t, errors.Is(err, ErrShaderNotFound))
}

func TestShaderLibrarySkipsBrokenManifests(t *testing.T) {
	dir := newShaderDir(t)
	writeFile(t, filepath.Join(dir, "broken.frag.shadercfg"), []byte(`stage = "fragment"`))

	lib := newLibrary(t, graphics.BackendVulkan, dir)
	assert.Equal(t, 2, lib.Len())
}

func waitEvent(t *testing.T, lib *ShaderLibrary, name string) ShaderEvent {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e := <-lib.Events():
			if e.Name == name {
				return e
			}
		case <-timeout:
			require.FailNow(t, "no event for "+name)
		}
	}
}

func TestShaderLibraryReloadsChangedBytecode(t *testing.T) {
	dir := newShaderDir(t)
	lib := newLibrary(t, graphics.BackendVulkan, dir)

	writeFile(t, filepath.Join(dir, "triangle.vert.spv"), []byte{9, 9, 9, 9, 8, 8, 8, 8, 7, 7, 7, 7})
	e := waitEvent(t, lib, "triangle.vert")
	assert.False(t, e.Removed)
	assert.Len(t, e.Shader.Bytecode, 12)

	shader, err := lib.Get("triangle.vert")
	require.NoError(t, err)
	assert.Len(t, shader.Bytecode, 12)
}

func TestShaderLibraryTracksManifests(t *testing.T) {
	dir := newShaderDir(t)
	lib := newLibrary(t, graphics.BackendVulkan, dir)

	writeFile(t, filepath.Join(dir, "compute", "blur.comp.spv"), []byte{1, 1, 1, 1})
	writeFile(t, filepath.Join(dir, "compute", "blur.comp.shadercfg"),
		[]byte("stage = \"compute\"\n[bytecode]\nvulkan = \"blur.comp.spv\""))
	e := waitEvent(t, lib, "compute/blur.comp")
	assert.Equal(t, graphics.ShaderStageCompute, e.Shader.Stage)

	require.NoError(t, os.Remove(filepath.Join(dir, "triangle.vert.shadercfg")))
	e = waitEvent(t, lib, "triangle.vert")
	assert.True(t, e.Removed)
	_, err := lib.Get("triangle.vert")
	assert.True(t, errors.Is(err, ErrShaderNotFound))
}

func TestShaderLibraryShutdown(t *testing.T) {
	lib, err := NewShaderLibrary(graphics.BackendEmpty)
	require.NoError(t, err)
	require.NoError(t, lib.Initialize(t.TempDir()))

	require.NoError(t, lib.Shutdown())
	_, open := <-lib.Events()
	assert.False(t, open)
	assert.True(t, errors.Is(lib.Shutdown(), ErrLibraryClosed))
}
