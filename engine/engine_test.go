package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
)

type fakeRenderer struct {
	frames    int
	items     []int
	resizes   [][2]uint32
	reloads   int
	reloadErr error
	drawErr   error
	destroyed bool
}

func (r *fakeRenderer) DrawFrame(fd *metadata.FrameData) error {
	r.frames++
	r.items = append(r.items, len(fd.Items))
	return r.drawErr
}
func (r *fakeRenderer) Resized(width, height uint32) {
	r.resizes = append(r.resizes, [2]uint32{width, height})
}
func (r *fakeRenderer) ReloadShaders() error {
	r.reloads++
	return r.reloadErr
}
func (r *fakeRenderer) Stats() renderer.Stats { return renderer.Stats{Submitted: uint64(r.frames)} }
func (r *fakeRenderer) Destroy()              { r.destroyed = true }

type fakeWatcher struct {
	batches [][]string
}

func (w *fakeWatcher) Changed() []string {
	if len(w.batches) == 0 {
		return nil
	}
	b := w.batches[0]
	w.batches = w.batches[1:]
	return b
}

type fixture struct {
	engine   *Engine
	renderer *fakeRenderer
	watcher  *fakeWatcher
	resized  [][2]uint32
}

func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{renderer: &fakeRenderer{}, watcher: &fakeWatcher{}}
	game := &Game{
		FnRender: func(frame *metadata.FrameData, deltaTime float64) error {
			frame.Items = append(frame.Items, metadata.Lighting{})
			return nil
		},
		FnOnResize: func(width, height uint32) error {
			f.resized = append(f.resized, [2]uint32{width, height})
			return nil
		},
	}
	e, err := New(core.DefaultConfig(), game)
	require.NoError(t, err)
	e.registerEvents()
	e.renderer = f.renderer
	e.watcher = f.watcher
	e.clock.Start()
	f.engine = e
	return f
}

func TestNewRequiresRender(t *testing.T) {
	_, err := New(nil, &Game{})
	assert.Error(t, err)
	_, err = New(nil, nil)
	assert.Error(t, err)
}

func TestTickDrawsFrameDataFromGame(t *testing.T) {
	f := setup(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, f.engine.tick())
	}
	assert.Equal(t, 3, f.renderer.frames)
	assert.Equal(t, []int{1, 1, 1}, f.renderer.items, "items are reset every tick")
}

func TestTickPropagatesFatalDrawError(t *testing.T) {
	f := setup(t)
	f.renderer.drawErr = fmt.Errorf("vkQueueSubmit: %w", core.ErrDeviceLost)
	err := f.engine.tick()
	require.Error(t, err)
	assert.True(t, core.IsFatal(err))
}

func TestGameErrorsStopTheTick(t *testing.T) {
	f := setup(t)
	f.engine.gameInstance.FnUpdate = func(float64) error { return errors.New("update") }
	assert.ErrorContains(t, f.engine.tick(), "game update failed")
	assert.Zero(t, f.renderer.frames)
}

func TestResizeForwardsAndSuspendsOnZero(t *testing.T) {
	f := setup(t)
	bus := f.engine.bus

	bus.Fire(core.EventContext{Type: core.EVENT_CODE_RESIZED, Data: &core.ResizeEvent{Width: 800, Height: 600}})
	assert.Equal(t, [][2]uint32{{800, 600}}, f.renderer.resizes)
	assert.Equal(t, [][2]uint32{{800, 600}}, f.resized)

	bus.Fire(core.EventContext{Type: core.EVENT_CODE_RESIZED, Data: &core.ResizeEvent{Width: 0, Height: 0}})
	assert.True(t, f.engine.isSuspended)
	require.NoError(t, f.engine.tick())
	assert.Zero(t, f.renderer.frames, "no frame while minimized")

	bus.Fire(core.EventContext{Type: core.EVENT_CODE_RESIZED, Data: &core.ResizeEvent{Width: 1024, Height: 768}})
	assert.False(t, f.engine.isSuspended)
	require.NoError(t, f.engine.tick())
	assert.Equal(t, 1, f.renderer.frames)
	assert.Len(t, f.resized, 2, "the game is not told about the minimized size")

	w, h := f.engine.GetFramebufferSize()
	assert.Equal(t, uint32(1024), w)
	assert.Equal(t, uint32(768), h)
}

func TestShaderChangesReloadOncePerBatch(t *testing.T) {
	f := setup(t)
	f.watcher.batches = [][]string{{"gbuffer.frag", "gbuffer.vert"}, nil, {"tonemap.frag"}}
	for i := 0; i < 3; i++ {
		require.NoError(t, f.engine.tick())
	}
	assert.Equal(t, 2, f.renderer.reloads)
}

func TestShaderReloadFailureKeepsRunning(t *testing.T) {
	f := setup(t)
	f.renderer.reloadErr = errors.New("shader `gbuffer.frag`: bad SPIR-V magic")
	f.watcher.batches = [][]string{{"gbuffer.frag"}}
	require.NoError(t, f.engine.tick())
	assert.Equal(t, 1, f.renderer.frames)
	assert.False(t, f.engine.quitRequested.Load())
}

func TestFatalShaderReloadStopsTheLoop(t *testing.T) {
	f := setup(t)
	f.renderer.reloadErr = fmt.Errorf("vkCreateGraphicsPipelines: %w", core.ErrFatalGPU)
	f.watcher.batches = [][]string{{"gbuffer.frag"}}
	err := f.engine.tick()
	assert.ErrorIs(t, err, core.ErrFatalGPU)
	assert.True(t, f.engine.quitRequested.Load())
}

func TestKeys(t *testing.T) {
	f := setup(t)
	bus := f.engine.bus

	bus.Fire(core.EventContext{Type: core.EVENT_CODE_KEY_PRESSED, Data: &core.KeyEvent{KeyCode: core.KEY_F5}})
	assert.Equal(t, 1, f.renderer.reloads)

	bus.Fire(core.EventContext{Type: core.EVENT_CODE_KEY_PRESSED, Data: &core.KeyEvent{KeyCode: core.KEY_ESCAPE}})
	assert.True(t, f.engine.quitRequested.Load())
}
