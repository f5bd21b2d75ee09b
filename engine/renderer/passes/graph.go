package passes

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/rhi"
)

type node struct {
	pass  Pass
	state State
	// Set when the last pipeline reload failed; the pass stays disabled until
	// a reload succeeds.
	broken bool
}

// Graph runs its passes in stage order: shadow producers, main, postprocess, UI.
// It is the frame recorder and the resize hook of the render context.
type Graph struct {
	device gpu.Device
	nodes  []*node
	data   *metadata.FrameData
	frame  Frame
	// Used for frames that bring no camera of their own.
	camera *metadata.Camera
}

func NewGraph(device gpu.Device, passes ...Pass) *Graph {
	g := &Graph{device: device, camera: metadata.NewCamera()}
	for _, p := range passes {
		g.nodes = append(g.nodes, &node{pass: p})
	}
	sort.SliceStable(g.nodes, func(i, j int) bool {
		return g.nodes[i].pass.Stage() < g.nodes[j].pass.Stage()
	})
	return g
}

// Init creates every pass. On failure the passes already created are destroyed.
func (g *Graph) Init(width, height uint32) error {
	for _, n := range g.nodes {
		if err := Init(n.pass, width, height); err != nil {
			g.Destroy()
			return fmt.Errorf("failed to initialize pass `%s`: %w", n.pass.Name(), err)
		}
		if err := n.state.Transition(StateInitialized); err != nil {
			return err
		}
		core.LogDebug("pass `%s` initialized (%s)", n.pass.Name(), n.pass.Stage())
	}
	return nil
}

// Passes returns the passes in execution order.
func (g *Graph) Passes() []Pass {
	out := make([]Pass, len(g.nodes))
	for i, n := range g.nodes {
		out[i] = n.pass
	}
	return out
}

// State returns the state of the named pass.
func (g *Graph) State(name string) (State, bool) {
	for _, n := range g.nodes {
		if n.pass.Name() == name {
			return n.state, true
		}
	}
	return StateUninitialized, false
}

// SetFrameData hands the scene's draw list for the next RenderFrame.
func (g *Graph) SetFrameData(data *metadata.FrameData) {
	g.data = data
}

func (g *Graph) Prepare(info rhi.FrameInfo) error {
	data := g.data
	if data == nil {
		data = &metadata.FrameData{}
	}
	if data.Camera == nil {
		// The caller's frame data is left as handed in.
		withCamera := *data
		withCamera.Camera = g.camera
		data = &withCamera
	}
	g.frame = Frame{FrameInfo: info, Data: data}

	for _, n := range g.nodes {
		next := StateDisabled
		if !n.broken && n.pass.Enabled(&g.frame) {
			next = StateActive
		}
		if err := n.state.Transition(next); err != nil {
			return fmt.Errorf("pass `%s`: %w", n.pass.Name(), err)
		}
		if next != StateActive {
			continue
		}
		if err := n.pass.Prepare(&g.frame); err != nil {
			return fmt.Errorf("pass `%s` prepare: %w", n.pass.Name(), err)
		}
	}
	return nil
}

func (g *Graph) Record(cmd gpu.CommandBuffer, info rhi.FrameInfo) error {
	g.frame.FrameInfo = info
	for _, n := range g.nodes {
		if n.state != StateActive {
			continue
		}
		if err := n.pass.Record(cmd, &g.frame); err != nil {
			return fmt.Errorf("pass `%s` record: %w", n.pass.Name(), err)
		}
	}
	return nil
}

// OnResize rebuilds the resizable objects of every pass in execution order.
func (g *Graph) OnResize(width, height uint32) error {
	for _, n := range g.nodes {
		if err := n.pass.OnResize(width, height); err != nil {
			return fmt.Errorf("pass `%s` resize: %w", n.pass.Name(), err)
		}
	}
	return nil
}

// ReloadPipelines drains the GPU, then rebuilds every pipeline from the current
// shader binaries. A pass whose pipelines fail to build is disabled until the
// next successful reload; the other passes are still reloaded.
func (g *Graph) ReloadPipelines() error {
	if err := g.device.WaitIdle(); err != nil {
		return err
	}
	var errs []error
	for _, n := range g.nodes {
		n.pass.DestroyPipelines()
		if err := n.pass.CreatePipelines(); err != nil {
			n.broken = true
			errs = append(errs, fmt.Errorf("pass `%s` pipeline reload: %w", n.pass.Name(), err))
			continue
		}
		n.broken = false
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	core.LogInfo("reloaded pipelines of %d passes", len(g.nodes))
	return nil
}

// Destroy releases the passes in reverse execution order.
func (g *Graph) Destroy() {
	for i := len(g.nodes) - 1; i >= 0; i-- {
		n := g.nodes[i]
		if n.state == StateDestroyed {
			continue
		}
		n.pass.Destroy()
		n.state = StateDestroyed
	}
}
