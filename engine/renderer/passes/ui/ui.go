// Package ui renders the final image into the swapchain: the tone mapped frame
// first, then every registered overlay on top.
package ui

import (
	"fmt"

	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/passes"
)

// SwapchainSource returns the current swapchain, which changes on every recreation.
type SwapchainSource interface {
	Swapchain() gpu.Swapchain
}

// ImageSource provides the image blitted under the overlays.
type ImageSource interface {
	OutputView() gpu.ImageView
}

// Overlay is a UI collaborator drawing on top of the frame, e.g. an editor or a debug HUD.
type Overlay interface {
	Name() string
	// CreatePipelines is called again whenever the UI render pass is recreated.
	CreatePipelines(rp gpu.RenderPass) error
	DestroyPipelines()
	Record(cmd gpu.CommandBuffer, frame *passes.Frame) error
}

type Pass struct {
	device       gpu.Device
	shaders      passes.ShaderSource
	placeholders *passes.Placeholders
	swapchain    SwapchainSource
	source       ImageSource

	format       gpu.Format
	renderPass   gpu.RenderPass
	setLayout    gpu.DescriptorSetLayout
	layout       gpu.PipelineLayout
	pipeline     gpu.Pipeline
	framebuffers []gpu.Framebuffer
	extent       gpu.Extent2D

	overlays []Overlay
}

func New(device gpu.Device, shaders passes.ShaderSource, placeholders *passes.Placeholders, swapchain SwapchainSource, source ImageSource) *Pass {
	return &Pass{
		device:       device,
		shaders:      shaders,
		placeholders: placeholders,
		swapchain:    swapchain,
		source:       source,
	}
}

func (p *Pass) Name() string        { return "ui" }
func (p *Pass) Stage() passes.Stage { return passes.StageUI }

func (p *Pass) CreateRenderPass() (err error) {
	p.format = p.swapchain.Swapchain().Format()
	p.renderPass, err = p.device.NewRenderPass(gpu.RenderPassDesc{
		Name: p.Name(),
		Attachments: []gpu.AttachmentDesc{{
			Format:        p.format,
			LoadOp:        gpu.LoadOpDontCare,
			StoreOp:       gpu.StoreOpStore,
			InitialLayout: gpu.ImageLayoutUndefined,
			FinalLayout:   gpu.ImageLayoutPresentSrc,
		}},
		Subpasses: []gpu.SubpassDesc{{
			Colors: []gpu.AttachmentRef{{Attachment: 0, Layout: gpu.ImageLayoutColorAttachmentOptimal}},
		}},
		// The swapchain image is only available once the acquire semaphore, waited at
		// color output, has been signaled.
		Dependencies: []gpu.SubpassDependency{{
			SrcSubpass: gpu.SubpassExternal,
			DstSubpass: 0,
			SrcStage:   gpu.PipelineStageColorAttachmentOutput,
			DstStage:   gpu.PipelineStageColorAttachmentOutput,
			SrcAccess:  gpu.AccessNone,
			DstAccess:  gpu.AccessColorAttachmentWrite,
		}},
	})
	return err
}

func (p *Pass) CreateDescriptorSetLayouts() (err error) {
	p.setLayout, err = p.device.NewDescriptorSetLayout(gpu.DescriptorSetLayoutDesc{
		Push: true,
		Bindings: []gpu.DescriptorBinding{
			{Binding: 0, Type: gpu.DescriptorTypeCombinedImageSampler, Count: 1, Stages: gpu.ShaderStageFragment},
		},
	})
	return err
}

func (p *Pass) CreatePipelineLayouts() (err error) {
	p.layout, err = p.device.NewPipelineLayout(gpu.PipelineLayoutDesc{
		SetLayouts: []gpu.DescriptorSetLayout{p.setLayout},
	})
	return err
}

func (p *Pass) CreatePipelines() (err error) {
	p.pipeline, err = passes.BuildPipeline(p.device, p.shaders, gpu.GraphicsPipelineDesc{
		Name:       "blit",
		Layout:     p.layout,
		RenderPass: p.renderPass,
		Topology:   gpu.PrimitiveTopologyTriangleList,
		CullMode:   gpu.CullModeNone,
		Blend:      []gpu.BlendState{{}},
	}, passes.Vertex("fullscreen.vert"), passes.Fragment("blit.frag"))
	if err != nil {
		return err
	}
	for _, o := range p.overlays {
		if err := o.CreatePipelines(p.renderPass); err != nil {
			return fmt.Errorf("overlay `%s`: %w", o.Name(), err)
		}
	}
	return nil
}

func (p *Pass) DestroyPipelines() {
	for _, o := range p.overlays {
		o.DestroyPipelines()
	}
	passes.Destroy(p.pipeline)
	p.pipeline = nil
}

// CreateFramebuffer creates one framebuffer per swapchain image.
func (p *Pass) CreateFramebuffer() error {
	sc := p.swapchain.Swapchain()
	p.extent = sc.Extent()
	for i := 0; i < sc.ImageCount(); i++ {
		fb, err := p.device.NewFramebuffer(gpu.FramebufferDesc{
			RenderPass:  p.renderPass,
			Attachments: []gpu.ImageView{sc.View(i)},
			Width:       p.extent.Width,
			Height:      p.extent.Height,
			Layers:      1,
		})
		if err != nil {
			return err
		}
		p.framebuffers = append(p.framebuffers, fb)
	}
	return nil
}

// CreateResizableObjects follows the swapchain extent, which may differ from the requested size.
func (p *Pass) CreateResizableObjects(width, height uint32) error {
	return p.CreateFramebuffer()
}

func (p *Pass) DestroyResizableObjects() {
	for _, fb := range p.framebuffers {
		fb.Destroy()
	}
	p.framebuffers = nil
}

// OnResize rebuilds the framebuffers, and the render pass too if the swapchain format changed.
func (p *Pass) OnResize(width, height uint32) error {
	p.DestroyResizableObjects()
	if f := p.swapchain.Swapchain().Format(); f != p.format {
		core.LogInfo("swapchain format changed (%d -> %d), recreating ui render pass", p.format, f)
		p.DestroyPipelines()
		passes.Destroy(p.renderPass)
		if err := p.CreateRenderPass(); err != nil {
			return err
		}
		if err := p.CreatePipelines(); err != nil {
			return err
		}
	}
	return p.CreateResizableObjects(width, height)
}

func (p *Pass) Enabled(frame *passes.Frame) bool {
	return true
}

func (p *Pass) Prepare(frame *passes.Frame) error {
	return nil
}

func (p *Pass) Record(cmd gpu.CommandBuffer, frame *passes.Frame) error {
	if int(frame.ImageIndex) >= len(p.framebuffers) {
		return fmt.Errorf("swapchain image %d has no framebuffer (%d)", frame.ImageIndex, len(p.framebuffers))
	}
	cmd.BeginRenderPass(p.renderPass, p.framebuffers[frame.ImageIndex], []gpu.ClearValue{{}})
	passes.SetFullViewport(cmd, p.extent)
	cmd.BindPipeline(p.pipeline)
	err := cmd.PushDescriptors(p.layout, 0, []gpu.DescriptorWrite{{
		Binding: 0,
		Type:    gpu.DescriptorTypeCombinedImageSampler,
		Images:  []gpu.ImageBinding{passes.Sampled(p.source.OutputView(), p.placeholders.White2D, p.placeholders.Clamped)},
	}})
	if err == nil {
		cmd.Draw(3, 1, 0, 0)
		for _, o := range p.overlays {
			if err = o.Record(cmd, frame); err != nil {
				err = fmt.Errorf("overlay `%s`: %w", o.Name(), err)
				break
			}
		}
	}
	cmd.EndRenderPass()
	return err
}

// AddOverlay registers o. Its pipelines are created immediately when the pass is initialized.
func (p *Pass) AddOverlay(o Overlay) error {
	p.overlays = append(p.overlays, o)
	if p.renderPass != nil {
		return o.CreatePipelines(p.renderPass)
	}
	return nil
}

func (p *Pass) RenderPass() gpu.RenderPass {
	return p.renderPass
}

func (p *Pass) Destroy() {
	p.DestroyPipelines()
	p.DestroyResizableObjects()
	passes.Destroy(p.layout, p.setLayout, p.renderPass)
	p.layout, p.setLayout, p.renderPass = nil, nil, nil
}
