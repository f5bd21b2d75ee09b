// Package engine runs the frame loop: it pumps window events, lets the game
// build the frame data and hands it to the renderer.
package engine

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/spaghettifunk/umbra/engine/assets"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/platform"
	"github.com/spaghettifunk/umbra/engine/renderer"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

// Seconds between two frame statistics log lines.
const statsInterval = 5.0

// frameRenderer is the part of renderer.Renderer the loop drives.
type frameRenderer interface {
	DrawFrame(fd *metadata.FrameData) error
	Resized(width, height uint32)
	ReloadShaders() error
	Stats() renderer.Stats
	Destroy()
}

// shaderWatcher reports shaders rewritten on disk since the last call.
type shaderWatcher interface {
	Changed() []string
}

type Engine struct {
	cfg          *core.Config
	currentStage Stage
	gameInstance *Game
	isRunning    bool
	isSuspended  bool
	bus          *core.EventBus
	platform     *platform.Platform
	device       gpu.Device
	renderer     frameRenderer
	shaders      *assets.ShaderLibrary
	watcher      shaderWatcher
	width        uint32
	height       uint32
	clock        *core.Clock
	lastTime     float64
	lastStats    float64
	frame        metadata.FrameData

	// First tier-1 error raised outside DrawFrame, returned by the next tick.
	fatal error
	// Set from any goroutine, e.g. a signal handler.
	quitRequested atomic.Bool
}

func New(cfg *core.Config, g *Game) (*Engine, error) {
	if g == nil || g.FnRender == nil {
		return nil, errors.New("game must provide a render function")
	}
	if cfg == nil {
		cfg = core.DefaultConfig()
	}
	core.SetLogLevel(cfg.Log.Level)
	bus := core.NewEventBus()
	return &Engine{
		cfg:          cfg,
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		bus:          bus,
		platform:     platform.New(bus),
		clock:        core.NewClock(),
		width:        cfg.Application.Width,
		height:       cfg.Application.Height,
		frame:        metadata.FrameData{Camera: metadata.NewCamera()},
	}, nil
}

func (e *Engine) registerEvents() {
	e.bus.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	e.bus.Register(core.EVENT_CODE_KEY_PRESSED, e, e.onKey)
	e.bus.Register(core.EVENT_CODE_RESIZED, e, e.onResized)
	e.bus.Register(core.EVENT_CODE_SHADERS_CHANGED, e, e.onShadersChanged)
}

// Initialize opens the window and creates the GPU device, the shader library
// and the renderer, then initializes the game. Errors from the device wrap
// core.ErrNoSuitableDevice or core.ErrFatalGPU.
func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing
	e.registerEvents()

	if err := e.platform.Startup(e.cfg.Application); err != nil {
		return err
	}

	device, err := renderer.NewBackend(e.cfg, e.platform)
	if err != nil {
		return err
	}
	e.device = device

	e.shaders = assets.NewShaderLibrary(e.cfg.Renderer.ShaderDir)
	if e.cfg.Renderer.HotReload {
		if err := e.shaders.Watch(); err != nil {
			core.LogWarn("shader hot reload disabled: %s", err)
		} else {
			e.watcher = e.shaders
		}
	}

	r, err := renderer.New(e.cfg, device, e.platform, e.shaders)
	if err != nil {
		return fmt.Errorf("failed to create the renderer: %w", err)
	}
	e.renderer = r
	e.width, e.height = e.platform.FramebufferSize()

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(device, r); err != nil {
			return fmt.Errorf("game initialization failed: %w", err)
		}
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(e.width, e.height); err != nil {
			return err
		}
	}
	e.currentStage = EngineStageInitialized
	return nil
}

// Run drives the loop until the window closes or a quit event arrives. It
// returns the first tier-1 error.
func (e *Engine) Run() error {
	e.currentStage = EngineStageRunning
	e.isRunning = true
	e.clock.Start()
	e.clock.Update()
	e.lastTime = e.clock.Elapsed()

	for e.isRunning {
		if e.quitRequested.Load() || !e.platform.PumpMessages() {
			e.isRunning = false
			break
		}
		if err := e.tick(); err != nil {
			e.isRunning = false
			return err
		}
	}
	return e.fatal
}

// RequestQuit stops the loop at the start of the next iteration. Safe to call
// from any goroutine.
func (e *Engine) RequestQuit() {
	e.quitRequested.Store(true)
}

// tick runs one iteration of the loop body after events were pumped.
func (e *Engine) tick() error {
	if changed := e.pendingShaders(); len(changed) > 0 {
		e.bus.Fire(core.EventContext{Type: core.EVENT_CODE_SHADERS_CHANGED, Data: changed})
	}
	if e.fatal != nil {
		return e.fatal
	}
	if e.isSuspended {
		return nil
	}

	e.clock.Update()
	currentTime := e.clock.Elapsed()
	delta := currentTime - e.lastTime
	e.lastTime = currentTime

	if e.gameInstance.FnUpdate != nil {
		if err := e.gameInstance.FnUpdate(delta); err != nil {
			return fmt.Errorf("game update failed: %w", err)
		}
	}

	e.frame.Items = e.frame.Items[:0]
	e.frame.DeltaTime = delta
	if err := e.gameInstance.FnRender(&e.frame, delta); err != nil {
		return fmt.Errorf("game render failed: %w", err)
	}

	if err := e.renderer.DrawFrame(&e.frame); err != nil {
		return err
	}

	if currentTime-e.lastStats >= statsInterval {
		e.lastStats = currentTime
		s := e.renderer.Stats()
		core.LogDebug("frames: %d submitted, %d skipped, %.0f fps, %.2f ms", s.Submitted, s.Skipped, s.FPS, s.FrameTime)
	}
	return nil
}

func (e *Engine) pendingShaders() []string {
	if e.watcher == nil {
		return nil
	}
	return e.watcher.Changed()
}

// Shutdown releases the renderer, the device and the window, in that order.
func (e *Engine) Shutdown() error {
	started := e.currentStage != EngineStageUninitialized
	e.currentStage = EngineStageShuttingDown
	e.isRunning = false

	var errs []error
	if e.gameInstance.FnShutdown != nil {
		if err := e.gameInstance.FnShutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	if e.renderer != nil {
		e.renderer.Destroy()
		e.renderer = nil
	}
	if e.shaders != nil {
		if err := e.shaders.Close(); err != nil {
			errs = append(errs, err)
		}
		e.shaders = nil
	}
	if e.device != nil {
		e.device.Destroy()
		e.device = nil
	}
	if started {
		e.platform.Shutdown()
	}
	e.bus.Unregister(core.EVENT_CODE_APPLICATION_QUIT, e)
	e.bus.Unregister(core.EVENT_CODE_KEY_PRESSED, e)
	e.bus.Unregister(core.EVENT_CODE_RESIZED, e)
	e.bus.Unregister(core.EVENT_CODE_SHADERS_CHANGED, e)
	return errors.Join(errs...)
}

// GetFramebufferSize returns the width and height (in this order)
// of the application framebuffer.
func (e *Engine) GetFramebufferSize() (uint32, uint32) {
	return e.width, e.height
}
