// Package renderer wires the render context and the pass graph into the
// renderer used by the engine loop.
package renderer

import (
	"fmt"

	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/passes"
	"github.com/spaghettifunk/umbra/engine/renderer/passes/deferred"
	"github.com/spaghettifunk/umbra/engine/renderer/passes/postprocess"
	"github.com/spaghettifunk/umbra/engine/renderer/passes/shadow"
	"github.com/spaghettifunk/umbra/engine/renderer/passes/ui"
	"github.com/spaghettifunk/umbra/engine/renderer/rhi"
)

// Stats counts ticks since creation.
type Stats struct {
	Submitted uint64
	// Ticks that recreated the swapchain or waited on a minimized window.
	Skipped uint64
	FPS     float64
	// Rolling average frame time in milliseconds.
	FrameTime float64
}

type Renderer struct {
	device       gpu.Device
	context      *rhi.Context
	graph        *passes.Graph
	placeholders *passes.Placeholders

	cascades *shadow.Cascaded
	points   *shadow.Point
	spots    *shadow.Spot
	main     *deferred.Pass
	post     *postprocess.Pass
	ui       *ui.Pass

	metrics *core.Metrics
	stats   Stats
}

// New creates the swapchain, every pass and their GPU objects. The device is
// owned by the caller and must outlive the renderer.
func New(cfg *core.Config, device gpu.Device, window rhi.Window, shaders passes.ShaderSource) (*Renderer, error) {
	ctx, err := rhi.NewContext(device, window)
	if err != nil {
		return nil, err
	}
	r := &Renderer{
		device:  device,
		context: ctx,
		metrics: core.NewMetrics(),
	}
	if r.placeholders, err = passes.NewPlaceholders(device); err != nil {
		ctx.Destroy()
		return nil, fmt.Errorf("failed to create placeholder images: %w", err)
	}

	r.cascades = shadow.NewCascaded(device, shaders, cfg.Shadows)
	r.points = shadow.NewPoint(device, shaders, cfg.Shadows)
	r.spots = shadow.NewSpot(device, shaders, cfg.Shadows)
	r.main = deferred.New(device, shaders, r.placeholders, deferred.Shadows{
		Cascades: r.cascades,
		Points:   r.points,
		Spots:    r.spots,
	}, cfg.Renderer.ClearColor)
	r.post = postprocess.New(device, shaders, r.placeholders, r.main)
	r.ui = ui.New(device, shaders, r.placeholders, ctx, r.post)

	r.graph = passes.NewGraph(device, r.ui, r.post, r.main, r.cascades, r.points, r.spots)
	ext := ctx.Extent()
	if err := r.graph.Init(ext.Width, ext.Height); err != nil {
		r.placeholders.Destroy()
		ctx.Destroy()
		return nil, err
	}
	ctx.RegisterResizer(r.graph)

	names := make([]string, 0, len(r.graph.Passes()))
	for _, p := range r.graph.Passes() {
		names = append(names, p.Name())
	}
	core.LogInfo("renderer initialized with passes %v", names)
	return r, nil
}

// DrawFrame renders one tick of fd. A tick spent recreating the swapchain
// submits nothing and is not an error.
func (r *Renderer) DrawFrame(fd *metadata.FrameData) error {
	r.graph.SetFrameData(fd)
	submitted, err := r.context.RenderFrame(r.graph)
	if err != nil {
		return err
	}
	if !submitted {
		r.stats.Skipped++
		return nil
	}
	r.stats.Submitted++
	if fd != nil {
		r.metrics.Update(fd.DeltaTime)
	}
	return nil
}

// Resized forwards a framebuffer size change; the next DrawFrame recreates the swapchain.
func (r *Renderer) Resized(width, height uint32) {
	r.context.Resized(width, height)
}

// ReloadShaders rebuilds every pipeline from the current shader binaries.
func (r *Renderer) ReloadShaders() error {
	if err := r.graph.ReloadPipelines(); err != nil {
		return fmt.Errorf("failed to reload pipelines: %w", err)
	}
	core.LogInfo("pipelines reloaded")
	return nil
}

func (r *Renderer) AddOverlay(o ui.Overlay) error {
	return r.ui.AddOverlay(o)
}

// FinalImage is the tone mapped frame, sampled by UI overlays such as editor viewports.
func (r *Renderer) FinalImage() gpu.ImageView {
	return r.post.OutputView()
}

func (r *Renderer) Graph() *passes.Graph {
	return r.graph
}

func (r *Renderer) Context() *rhi.Context {
	return r.context
}

func (r *Renderer) Stats() Stats {
	s := r.stats
	s.FPS = r.metrics.FPS()
	s.FrameTime = r.metrics.FrameTime()
	return s
}

// Destroy waits for the GPU and releases everything but the device.
func (r *Renderer) Destroy() {
	if r.graph == nil {
		return
	}
	if err := r.device.WaitIdle(); err != nil {
		core.LogError("wait idle before renderer shutdown: %s", err)
	}
	r.graph.Destroy()
	r.placeholders.Destroy()
	r.context.Destroy()
	r.graph = nil
}
