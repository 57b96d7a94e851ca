package assets

import (
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/prism/engine/graphics"
)

// ShaderExtension marks a shader manifest. The manifest carries the
// reflection data of one compiled stage and points at its bytecode.
const ShaderExtension = ".shadercfg"

type shaderInputConfig struct {
	Name     string `toml:"name"`
	Location uint32 `toml:"location"`
	Format   string `toml:"format"`
}

type shaderResourceConfig struct {
	Name    string `toml:"name"`
	Set     uint32 `toml:"set"`
	Binding uint32 `toml:"binding"`
	Kind    string `toml:"kind"`
	Size    uint32 `toml:"size"`
}

type shaderConfig struct {
	Stage            string                 `toml:"stage"`
	EntryPoint       string                 `toml:"entry_point"`
	PushConstantSize uint32                 `toml:"push_constant_size"`
	WorkgroupSize    [3]uint32              `toml:"workgroup_size"`
	Bytecode         map[string]string      `toml:"bytecode"`
	Inputs           []shaderInputConfig    `toml:"inputs"`
	Resources        []shaderResourceConfig `toml:"resources"`
}

var vertexFormats = map[string]graphics.VertexFormat{
	"float":   graphics.VertexFormatFloat,
	"float2":  graphics.VertexFormatFloat2,
	"float3":  graphics.VertexFormatFloat3,
	"float4":  graphics.VertexFormatFloat4,
	"byte4":   graphics.VertexFormatByte4,
	"byte4n":  graphics.VertexFormatByte4Normalized,
	"ubyte4":  graphics.VertexFormatUByte4,
	"ubyte4n": graphics.VertexFormatUByte4Normalized,
	"short2":  graphics.VertexFormatShort2,
	"short2n": graphics.VertexFormatShort2Normalized,
	"short4":  graphics.VertexFormatShort4,
	"short4n": graphics.VertexFormatShort4Normalized,
	"half2":   graphics.VertexFormatHalf2,
	"half4":   graphics.VertexFormatHalf4,
	"uint":    graphics.VertexFormatUInt,
	"uint2":   graphics.VertexFormatUInt2,
	"uint4":   graphics.VertexFormatUInt4,
	"int":     graphics.VertexFormatInt,
	"int4":    graphics.VertexFormatInt4,
}

var resourceKinds = map[string]graphics.ShaderResourceKind{
	"uniform_buffer":       graphics.ShaderResourceUniformBuffer,
	"storage_buffer":       graphics.ShaderResourceStorageBuffer,
	"sampled_texture":      graphics.ShaderResourceSampledTexture,
	"storage_texture":      graphics.ShaderResourceStorageTexture,
	"uniform_texel_buffer": graphics.ShaderResourceUniformTexelBuffer,
}

var emptyFallback = []graphics.Backend{graphics.BackendVulkan, graphics.BackendD3D12, graphics.BackendD3D11}

func parseStage(name string) (graphics.ShaderStage, error) {
	for s := graphics.ShaderStageVertex; s < graphics.ShaderStageCount; s++ {
		if s.String() == name {
			return s, nil
		}
	}
	return graphics.ShaderStageCount, errors.Newf("unknown shader stage %q", name)
}

// ShaderLoader reads a manifest and the bytecode it names for one backend.
type ShaderLoader struct {
	Backend graphics.Backend
}

// Load returns the compiled shader and the absolute bytecode path it read.
func (sl *ShaderLoader) Load(path string) (*graphics.CompiledShader, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", errors.Wrapf(err, "reading shader manifest %s", path)
	}
	var cfg shaderConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, "", errors.Wrapf(err, "parsing shader manifest %s", path)
	}

	shader := &graphics.CompiledShader{
		EntryPoint:       cfg.EntryPoint,
		PushConstantSize: cfg.PushConstantSize,
		WorkgroupSize:    cfg.WorkgroupSize,
		Label:            ShaderName(filepath.Dir(path), path),
	}
	if shader.EntryPoint == "" {
		shader.EntryPoint = "main"
	}
	if shader.Stage, err = parseStage(cfg.Stage); err != nil {
		return nil, "", errors.Wrapf(err, "shader manifest %s", path)
	}
	for _, in := range cfg.Inputs {
		format, ok := vertexFormats[in.Format]
		if !ok {
			return nil, "", errors.Newf("shader manifest %s: input %q has unknown format %q", path, in.Name, in.Format)
		}
		shader.Inputs = append(shader.Inputs, graphics.ShaderInput{Name: in.Name, Location: in.Location, Format: format})
	}
	for _, res := range cfg.Resources {
		kind, ok := resourceKinds[res.Kind]
		if !ok {
			return nil, "", errors.Newf("shader manifest %s: resource %q has unknown kind %q", path, res.Name, res.Kind)
		}
		shader.Resources = append(shader.Resources, graphics.ShaderResource{
			Name:    res.Name,
			Set:     res.Set,
			Binding: res.Binding,
			Kind:    kind,
			Size:    res.Size,
		})
	}

	rel, ok := cfg.Bytecode[sl.Backend.String()]
	if !ok && sl.Backend == graphics.BackendEmpty {
		// The null backend only needs some bytecode to validate against.
		for _, fallback := range emptyFallback {
			if rel, ok = cfg.Bytecode[fallback.String()]; ok {
				break
			}
		}
	}
	if !ok {
		return nil, "", errors.Mark(
			errors.Newf("shader manifest %s has no bytecode for %s", path, sl.Backend),
			ErrNoBytecode)
	}
	bytecodePath := rel
	if !filepath.IsAbs(bytecodePath) {
		bytecodePath = filepath.Join(filepath.Dir(path), rel)
	}
	if shader.Bytecode, err = os.ReadFile(bytecodePath); err != nil {
		return nil, "", errors.Wrapf(err, "reading shader bytecode %s", bytecodePath)
	}
	if sl.Backend == graphics.BackendVulkan && len(shader.Bytecode)%4 != 0 {
		return nil, "", errors.Newf("shader bytecode %s is not a whole number of SPIR-V words", bytecodePath)
	}
	return shader, bytecodePath, nil
}

// ShaderName is the manifest path relative to root, slash separated and
// without the manifest extension.
func ShaderName(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	rel = filepath.ToSlash(rel)
	return rel[:len(rel)-len(filepath.Ext(rel))]
}
