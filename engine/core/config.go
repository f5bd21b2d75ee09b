package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/pelletier/go-toml/v2"
)

const DefaultConfigFile = "umbra.toml"

type Config struct {
	Application ApplicationSection `toml:"application"`
	Log         LogSection         `toml:"log"`
	Renderer    RendererSection    `toml:"renderer"`
	Shadows     ShadowsSection     `toml:"shadows"`
}

type ApplicationSection struct {
	Name   string `toml:"name"`
	PosX   uint32 `toml:"pos_x"`
	PosY   uint32 `toml:"pos_y"`
	Width  uint32 `toml:"width"`
	Height uint32 `toml:"height"`
}

type LogSection struct {
	Level string `toml:"level"`
}

type RendererSection struct {
	// Enables VK_LAYER_KHRONOS_validation and the debug report callback.
	Validation    bool       `toml:"validation"`
	PreferMailbox bool       `toml:"prefer_mailbox"`
	PipelineCache string     `toml:"pipeline_cache"`
	ShaderDir     string     `toml:"shader_dir"`
	HotReload     bool       `toml:"hot_reload"`
	ClearColor    [4]float32 `toml:"clear_color"`
}

type ShadowsSection struct {
	// Blend factor between logarithmic (1) and uniform (0) cascade splits.
	CascadeLambda  float32 `toml:"cascade_lambda"`
	EnableCascades bool    `toml:"enable_cascades"`
	EnablePoint    bool    `toml:"enable_point"`
	EnableSpot     bool    `toml:"enable_spot"`
}

func DefaultConfig() *Config {
	return &Config{
		Application: ApplicationSection{
			Name:   "Umbra",
			PosX:   100,
			PosY:   100,
			Width:  1280,
			Height: 720,
		},
		Log: LogSection{Level: "info"},
		Renderer: RendererSection{
			Validation:    true,
			PreferMailbox: true,
			PipelineCache: "pipeline.cache",
			ShaderDir:     "assets/shaders",
			HotReload:     true,
			ClearColor:    [4]float32{0, 0, 0, 1},
		},
		Shadows: ShadowsSection{
			CascadeLambda:  0.92,
			EnableCascades: true,
			EnablePoint:    true,
			EnableSpot:     true,
		},
	}
}

// LoadConfig reads path on top of the defaults. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			LogInfo("config file `%s` not found, using defaults", path)
			return cfg, nil
		}
		return nil, err
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config `%s`: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Application.Width == 0 || c.Application.Height == 0 {
		return fmt.Errorf("application size must be non-zero, got %dx%d", c.Application.Width, c.Application.Height)
	}
	if c.Shadows.CascadeLambda < 0 || c.Shadows.CascadeLambda > 1 {
		return fmt.Errorf("shadows.cascade_lambda must be in [0,1], got %f", c.Shadows.CascadeLambda)
	}
	return nil
}
