package engine

import (
	"github.com/spaghettifunk/umbra/engine/renderer"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
)

// Game is the scene collaborator driven by the engine loop. Only FnRender is
// required.
type Game struct {
	State        interface{}
	FnInitialize Initialize
	FnUpdate     Update
	FnRender     Render
	FnOnResize   OnResize
	FnShutdown   Shutdown
}

// Initialize runs once the renderer exists; the device is used to upload meshes.
type Initialize func(device gpu.Device, r *renderer.Renderer) error
type Update func(deltaTime float64) error

// Render fills frame for the current tick. frame is reused across ticks and its
// Items slice is emptied before the call.
type Render func(frame *metadata.FrameData, deltaTime float64) error
type OnResize func(width uint32, height uint32) error
type Shutdown func() error
