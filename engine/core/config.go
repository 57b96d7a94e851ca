package core

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
)

type GraphicsConfig struct {
	Backend                 string   `toml:"backend"`
	Validation              bool     `toml:"validation"`
	VSync                   bool     `toml:"vsync"`
	FramesInFlight          uint32   `toml:"frames_in_flight"`
	FramebufferRingSize     uint32   `toml:"framebuffer_ring_size"`
	RenderPassCacheCapacity uint32   `toml:"render_pass_cache_capacity"`
	FenceTimeout            Duration `toml:"fence_timeout"`
}

type WindowConfig struct {
	Title  string `toml:"title"`
	X      uint32 `toml:"x"`
	Y      uint32 `toml:"y"`
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
}

type Config struct {
	LogLevel  string         `toml:"log_level"`
	ShaderDir string         `toml:"shader_dir"`
	Window    WindowConfig   `toml:"window"`
	Graphics  GraphicsConfig `toml:"graphics"`
}

// Duration reads TOML strings such as "2s" or "500ms".
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", string(text))
	}
	*d = Duration(v)
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		ShaderDir: "assets/shaders",
		Window: WindowConfig{
			Title:  "Prism",
			X:      100,
			Y:      100,
			Width:  1280,
			Height: 720,
		},
		Graphics: GraphicsConfig{
			Backend:                 "default",
			Validation:              false,
			VSync:                   true,
			FramesInFlight:          2,
			FramebufferRingSize:     8,
			RenderPassCacheCapacity: 64,
			FenceTimeout:            Duration(2 * time.Second),
		},
	}
}

// LoadConfig reads a TOML file on top of DefaultConfig. A missing file is not
// an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			LogWarn("config file %s not found, using defaults", path)
			return cfg, nil
		}
		return nil, errors.Wrapf(err, "reading config %s", path)
	}
	if err := ParseConfig(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", path)
	}
	return cfg, nil
}

func ParseConfig(data []byte, cfg *Config) error {
	if err := toml.Unmarshal(data, cfg); err != nil {
		return err
	}
	if cfg.Graphics.FramesInFlight == 0 {
		return errors.New("graphics.frames_in_flight must be at least 1")
	}
	if cfg.Graphics.FramebufferRingSize == 0 {
		return errors.New("graphics.framebuffer_ring_size must be at least 1")
	}
	return nil
}
