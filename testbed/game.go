package testbed

import (
	"encoding/binary"
	gomath "math"

	"github.com/cockroachdb/errors"
	"github.com/spaghettifunk/prism/engine"
	"github.com/spaghettifunk/prism/engine/assets"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/graphics"
	"github.com/spaghettifunk/prism/engine/math"
)

const (
	vertexShaderName   = "triangle.vert"
	fragmentShaderName = "triangle.frag"
	// float2 position + float3 color
	vertexStride = 20
	tintSize     = 16
)

var triangle = []float32{
	0.0, -0.5, 1.0, 0.2, 0.2,
	0.5, 0.5, 0.2, 1.0, 0.2,
	-0.5, 0.5, 0.2, 0.2, 1.0,
}

type TestGame struct {
	*engine.Game
}

type gameState struct {
	engine *engine.Engine
	device *graphics.Device

	width  uint32
	height uint32
	time   float64

	vertices *graphics.Buffer
	// one per frame in flight so the CPU never writes a buffer the GPU reads
	tints    []*graphics.Buffer
	vertex   *graphics.Shader
	fragment *graphics.Shader
	pipeline *graphics.Pipeline
}

func NewTestGame(app *engine.ApplicationConfig) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: app,
			State:             &gameState{},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnOnResize = tg.OnResize
	tg.FnOnShaderReload = tg.OnShaderReload
	tg.FnShutdown = tg.Shutdown

	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

func (g *TestGame) Initialize(e *engine.Engine) error {
	core.LogInfo("initializing testbed...")
	s := g.state()
	s.engine = e
	s.device = e.Device()

	data := make([]byte, 0, len(triangle)*4)
	for _, v := range triangle {
		data = binary.LittleEndian.AppendUint32(data, gomath.Float32bits(v))
	}
	vertices, err := s.device.CreateBuffer(&graphics.BufferDescriptor{
		Usage:         graphics.BufferUsageVertex,
		ResourceUsage: graphics.ResourceUsageImmutable,
		Size:          uint64(len(data)),
		Stride:        vertexStride,
		Label:         "testbed-triangle",
	}, data)
	if err != nil {
		return err
	}
	s.vertices = vertices

	for i := uint32(0); i < s.device.Settings().FramesInFlight; i++ {
		tint, err := s.device.CreateBuffer(&graphics.BufferDescriptor{
			Usage:         graphics.BufferUsageUniform,
			ResourceUsage: graphics.ResourceUsageDynamic,
			Size:          tintSize,
		}, nil)
		if err != nil {
			return err
		}
		s.tints = append(s.tints, tint)
	}

	if err := g.buildPipeline(); err != nil {
		// The testbed still clears the screen without its shaders.
		core.LogWarn("testbed pipeline unavailable: %s", err)
	}
	return nil
}

func (g *TestGame) buildPipeline() error {
	s := g.state()
	library := s.engine.Shaders()

	vertCompiled, err := library.Get(vertexShaderName)
	if err != nil {
		return err
	}
	fragCompiled, err := library.Get(fragmentShaderName)
	if err != nil {
		return err
	}
	if vertCompiled.Stage != graphics.ShaderStageVertex || fragCompiled.Stage != graphics.ShaderStageFragment {
		return errors.Newf("testbed shaders have stages %s and %s", vertCompiled.Stage, fragCompiled.Stage)
	}

	vertex, err := s.device.CreateShader(vertCompiled)
	if err != nil {
		return err
	}
	fragment, err := s.device.CreateShader(fragCompiled)
	if err != nil {
		vertex.Destroy()
		return err
	}
	pipeline, err := s.device.CreatePipeline(&graphics.PipelineDescriptor{
		Vertex:   vertex,
		Fragment: fragment,
		Label:    "testbed-triangle",
	})
	if err != nil {
		vertex.Destroy()
		fragment.Destroy()
		return err
	}

	g.releasePipeline()
	s.vertex, s.fragment, s.pipeline = vertex, fragment, pipeline
	return nil
}

func (g *TestGame) releasePipeline() {
	s := g.state()
	if s.pipeline != nil {
		s.pipeline.Destroy()
		s.vertex.Destroy()
		s.fragment.Destroy()
		s.pipeline, s.vertex, s.fragment = nil, nil, nil
	}
}

func (g *TestGame) Update(deltaTime float64) error {
	g.state().time += deltaTime
	return nil
}

func (g *TestGame) Render(cb *graphics.CommandBuffer, backbuffer *graphics.Texture, deltaTime float64) error {
	if backbuffer == nil {
		return nil
	}
	s := g.state()
	t := float32(s.time)

	desc := &graphics.RenderPassDescriptor{Label: "testbed"}
	desc.ColorAttachments[0] = graphics.RenderPassColorAttachment{
		Texture:     backbuffer,
		LoadAction:  graphics.LoadActionClear,
		StoreAction: graphics.StoreActionStore,
		ClearColor:  math.NewColor(0.1, 0.1, 0.15+0.1*sin(t*0.5), 1),
	}
	cb.BeginRenderPass(desc)
	if s.pipeline != nil {
		tint := s.tints[s.device.FrameNumber()%uint64(len(s.tints))]
		color := []float32{0.75 + 0.25*sin(t), 0.75 + 0.25*sin(t+2), 0.75 + 0.25*sin(t+4), 1}
		data := make([]byte, 0, tintSize)
		for _, v := range color {
			data = binary.LittleEndian.AppendUint32(data, gomath.Float32bits(v))
		}
		if err := tint.SetSubData(0, data); err != nil {
			return err
		}

		cb.SetPipeline(s.pipeline)
		cb.SetVertexBuffer(s.vertices, 0, 0, graphics.VertexInputRateVertex)
		cb.SetUniformBuffer(0, 0, tint)
		cb.Draw(graphics.PrimitiveTopologyTriangleList, 3, 1, 0, 0)
	}
	cb.EndRenderPass()
	return nil
}

func (g *TestGame) OnResize(width uint32, height uint32) error {
	s := g.state()
	s.width, s.height = width, height
	return nil
}

func (g *TestGame) OnShaderReload(event assets.ShaderEvent) error {
	if event.Name != vertexShaderName && event.Name != fragmentShaderName {
		return nil
	}
	s := g.state()
	if err := s.device.WaitIdle(); err != nil {
		return err
	}
	if event.Removed {
		core.LogWarn("testbed shader %s removed, drawing nothing", event.Name)
		g.releasePipeline()
		return nil
	}
	core.LogInfo("testbed shader %s changed, rebuilding pipeline", event.Name)
	return g.buildPipeline()
}

func (g *TestGame) Shutdown() error {
	core.LogInfo("shutting down testbed...")
	s := g.state()
	g.releasePipeline()
	for _, tint := range s.tints {
		tint.Destroy()
	}
	s.tints = nil
	if s.vertices != nil {
		s.vertices.Destroy()
		s.vertices = nil
	}
	return nil
}

func sin(x float32) float32 {
	return float32(gomath.Sin(float64(x)))
}
