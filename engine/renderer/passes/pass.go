// Package passes defines the contract every render pass implements and the graph
// that runs them in a fixed order once per frame.
package passes

import (
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/rhi"
)

// Stage decides where a pass runs in the graph. Passes of the same stage keep their registration order.
type Stage int

const (
	StageShadow Stage = iota
	StageMain
	StagePostProcess
	StageUI
)

func (s Stage) String() string {
	switch s {
	case StageShadow:
		return "shadow"
	case StageMain:
		return "main"
	case StagePostProcess:
		return "postprocess"
	case StageUI:
		return "ui"
	default:
		return "unknown"
	}
}

// Frame is what every pass sees while preparing and recording.
type Frame struct {
	rhi.FrameInfo
	Data *metadata.FrameData
}

// Aspect returns the width over height ratio of the frame extent.
func (f *Frame) Aspect() float32 {
	if f.Extent.Height == 0 {
		return 1
	}
	return float32(f.Extent.Width) / float32(f.Extent.Height)
}

// Pass is one unit of GPU work in the graph.
//
// Non-resizable objects (render pass, set layouts, pipeline layouts, pipelines) are created once by Init.
// Resizable objects (attachments, framebuffers) are rebuilt by OnResize; DestroyResizableObjects must
// be safe to call repeatedly and is always followed by CreateResizableObjects.
type Pass interface {
	Name() string
	Stage() Stage

	CreateRenderPass() error
	CreateDescriptorSetLayouts() error
	CreatePipelineLayouts() error
	CreatePipelines() error
	DestroyPipelines()
	CreateFramebuffer() error
	CreateResizableObjects(width, height uint32) error
	DestroyResizableObjects()
	OnResize(width, height uint32) error

	// Enabled is evaluated once per frame before Prepare. A disabled pass records nothing.
	Enabled(frame *Frame) bool
	// Prepare writes the per-slot host buffers. The slot's fence has already been waited on.
	Prepare(frame *Frame) error
	Record(cmd gpu.CommandBuffer, frame *Frame) error
	Destroy()
}

// Init runs the creation hooks of p in their fixed order.
func Init(p Pass, width, height uint32) error {
	steps := []func() error{
		p.CreateRenderPass,
		p.CreateDescriptorSetLayouts,
		p.CreatePipelineLayouts,
		p.CreatePipelines,
		func() error { return p.CreateResizableObjects(width, height) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

// Resize rebuilds the resizable objects of p for the new extent.
func Resize(p Pass, width, height uint32) error {
	p.DestroyResizableObjects()
	return p.CreateResizableObjects(width, height)
}
