package graphics

/** @brief Kind of resource a shader binding slot expects. */
type ShaderResourceKind uint8

const (
	ShaderResourceUniformBuffer ShaderResourceKind = iota
	ShaderResourceStorageBuffer
	ShaderResourceSampledTexture
	ShaderResourceStorageTexture
	ShaderResourceUniformTexelBuffer
)

/** @brief A reflected resource binding of a compiled shader. */
type ShaderResource struct {
	Name    string
	Set     uint32
	Binding uint32
	Kind    ShaderResourceKind
	Size    uint32
}

/** @brief A reflected vertex shader input. */
type ShaderInput struct {
	Name     string
	Location uint32
	Format   VertexFormat
}

/**
 * @brief The output of the external shader compiler: bytecode for one stage
 * plus the reflection data the backends need.
 */
type CompiledShader struct {
	Stage            ShaderStage
	EntryPoint       string
	Bytecode         []byte
	Inputs           []ShaderInput
	Resources        []ShaderResource
	PushConstantSize uint32
	WorkgroupSize    [3]uint32
	Label            string
}

type NativeShader interface {
	NativeResource
}

type Shader struct {
	resourceBase
	stage            ShaderStage
	entryPoint       string
	bytecode         []byte
	inputs           []ShaderInput
	resources        []ShaderResource
	pushConstantSize uint32
	workgroupSize    [3]uint32
}

func (s *Shader) Stage() ShaderStage {
	return s.stage
}

func (s *Shader) EntryPoint() string {
	return s.entryPoint
}

func (s *Shader) Bytecode() []byte {
	return s.bytecode
}

func (s *Shader) Inputs() []ShaderInput {
	return s.inputs
}

func (s *Shader) Resources() []ShaderResource {
	return s.resources
}

func (s *Shader) WorkgroupSize() [3]uint32 {
	return s.workgroupSize
}

func (s *Shader) Native() NativeShader {
	if s.native == nil {
		return nil
	}
	return s.native.(NativeShader)
}
