package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "umbra.toml")
	data := `
[application]
name = "demo"
width = 800
height = 600

[renderer]
validation = false
pipeline_cache = "cache.bin"

[shadows]
cascade_lambda = 0.5
enable_point = false
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "demo", cfg.Application.Name)
	assert.Equal(t, uint32(800), cfg.Application.Width)
	assert.False(t, cfg.Renderer.Validation)
	assert.Equal(t, "cache.bin", cfg.Renderer.PipelineCache)
	assert.Equal(t, "assets/shaders", cfg.Renderer.ShaderDir)
	assert.InDelta(t, 0.5, cfg.Shadows.CascadeLambda, 1e-6)
	assert.False(t, cfg.Shadows.EnablePoint)
	assert.True(t, cfg.Shadows.EnableSpot)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	tests := map[string]string{
		"zero width":   "[application]\nwidth = 0\n",
		"lambda range": "[shadows]\ncascade_lambda = 1.5\n",
		"syntax":       "[application\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "umbra.toml")
			require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestEventBusOrderAndHandled(t *testing.T) {
	bus := NewEventBus()
	var calls []string
	a, b, c := new(int), new(int), new(int)

	require.True(t, bus.Register(EVENT_CODE_RESIZED, a, func(EventContext) bool { calls = append(calls, "a"); return false }))
	require.True(t, bus.Register(EVENT_CODE_RESIZED, b, func(EventContext) bool { calls = append(calls, "b"); return true }))
	require.True(t, bus.Register(EVENT_CODE_RESIZED, c, func(EventContext) bool { calls = append(calls, "c"); return false }))
	assert.False(t, bus.Register(EVENT_CODE_RESIZED, a, func(EventContext) bool { return false }))

	assert.True(t, bus.Fire(EventContext{Type: EVENT_CODE_RESIZED, Data: ResizeEvent{Width: 1, Height: 2}}))
	assert.Equal(t, []string{"a", "b"}, calls)

	assert.True(t, bus.Unregister(EVENT_CODE_RESIZED, b))
	calls = nil
	assert.False(t, bus.Fire(EventContext{Type: EVENT_CODE_RESIZED}))
	assert.Equal(t, []string{"a", "c"}, calls)
}

func TestClockElapsed(t *testing.T) {
	now := time.Unix(100, 0)
	c := &Clock{now: func() time.Time { return now }}

	c.Update()
	assert.Zero(t, c.Elapsed())

	c.Start()
	now = now.Add(1500 * time.Millisecond)
	c.Update()
	assert.InDelta(t, 1.5, c.Elapsed(), 1e-9)

	c.Stop()
	now = now.Add(time.Second)
	c.Update()
	assert.InDelta(t, 1.5, c.Elapsed(), 1e-9)
}

func TestMetricsAverage(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < int(AVG_COUNT); i++ {
		m.Update(0.016)
	}
	assert.InDelta(t, 16.0, m.FrameTime(), 1e-6)
	for i := 0; i < 70; i++ {
		m.Update(0.016)
	}
	assert.Greater(t, m.FPS(), 0.0)
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(ErrDeviceLost))
	assert.False(t, IsFatal(ErrSwapchainBooting))
	assert.False(t, IsFatal(nil))
}

func TestDebugNameIsUnique(t *testing.T) {
	a := DebugName("gbuffer_albedo", "image")
	b := DebugName("gbuffer_albedo", "image")
	assert.True(t, strings.HasPrefix(a, "gbuffer_albedo.image#"))
	assert.Len(t, a, len("gbuffer_albedo.image#")+8)
	assert.NotEqual(t, a, b)
}
