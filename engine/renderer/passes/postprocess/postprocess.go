// Package postprocess tone maps the HDR output of the main pass into an LDR image.
package postprocess

import (
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/passes"
)

const OutputFormat = gpu.FormatR8G8B8A8Unorm

// Source provides the HDR image to tone map. It is queried at record time so
// a resized source is picked up without rewiring.
type Source interface {
	OutputView() gpu.ImageView
}

type push struct {
	Exposure float32
	Gamma    float32
	_        [2]float32
}

const pushStages = gpu.ShaderStageFragment

type Pass struct {
	device       gpu.Device
	shaders      passes.ShaderSource
	placeholders *passes.Placeholders
	source       Source

	renderPass  gpu.RenderPass
	setLayout   gpu.DescriptorSetLayout
	layout      gpu.PipelineLayout
	pipeline    gpu.Pipeline
	output      gpu.Image
	framebuffer gpu.Framebuffer
	extent      gpu.Extent2D

	settings metadata.PostProcess
}

func New(device gpu.Device, shaders passes.ShaderSource, placeholders *passes.Placeholders, source Source) *Pass {
	return &Pass{
		device:       device,
		shaders:      shaders,
		placeholders: placeholders,
		source:       source,
		settings:     metadata.DefaultPostProcess(),
	}
}

func (p *Pass) Name() string        { return "postprocess" }
func (p *Pass) Stage() passes.Stage { return passes.StagePostProcess }

func (p *Pass) CreateRenderPass() (err error) {
	p.renderPass, err = p.device.NewRenderPass(gpu.RenderPassDesc{
		Name: p.Name(),
		Attachments: []gpu.AttachmentDesc{{
			Format:        OutputFormat,
			LoadOp:        gpu.LoadOpDontCare,
			StoreOp:       gpu.StoreOpStore,
			InitialLayout: gpu.ImageLayoutUndefined,
			FinalLayout:   gpu.ImageLayoutShaderReadOnlyOptimal,
		}},
		Subpasses: []gpu.SubpassDesc{{
			Colors: []gpu.AttachmentRef{{Attachment: 0, Layout: gpu.ImageLayoutColorAttachmentOptimal}},
		}},
		Dependencies: []gpu.SubpassDependency{
			{
				SrcSubpass: gpu.SubpassExternal,
				DstSubpass: 0,
				SrcStage:   gpu.PipelineStageFragmentShader,
				DstStage:   gpu.PipelineStageColorAttachmentOutput,
				SrcAccess:  gpu.AccessShaderRead,
				DstAccess:  gpu.AccessColorAttachmentWrite,
			},
			{
				SrcSubpass: 0,
				DstSubpass: gpu.SubpassExternal,
				SrcStage:   gpu.PipelineStageColorAttachmentOutput,
				DstStage:   gpu.PipelineStageFragmentShader,
				SrcAccess:  gpu.AccessColorAttachmentWrite,
				DstAccess:  gpu.AccessShaderRead,
			},
		},
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
		SetLayouts:    []gpu.DescriptorSetLayout{p.setLayout},
		PushConstants: []gpu.PushConstantRange{{Stages: pushStages, Size: uint32(len(gpu.Bytes(&push{})))}},
	})
	return err
}

func (p *Pass) CreatePipelines() (err error) {
	p.pipeline, err = passes.BuildPipeline(p.device, p.shaders, gpu.GraphicsPipelineDesc{
		Name:       "tonemap",
		Layout:     p.layout,
		RenderPass: p.renderPass,
		Topology:   gpu.PrimitiveTopologyTriangleList,
		CullMode:   gpu.CullModeNone,
		Blend:      []gpu.BlendState{{}},
	}, passes.Vertex("fullscreen.vert"), passes.Fragment("tonemap.frag"))
	return err
}

func (p *Pass) DestroyPipelines() {
	passes.Destroy(p.pipeline)
	p.pipeline = nil
}

func (p *Pass) CreateFramebuffer() (err error) {
	p.framebuffer, err = p.device.NewFramebuffer(gpu.FramebufferDesc{
		RenderPass:  p.renderPass,
		Attachments: []gpu.ImageView{p.output.AttachmentView()},
		Width:       p.extent.Width,
		Height:      p.extent.Height,
		Layers:      1,
	})
	return err
}

func (p *Pass) CreateResizableObjects(width, height uint32) (err error) {
	p.extent = gpu.Extent2D{Width: width, Height: height}
	p.output, err = p.device.NewImage(gpu.ImageDesc{
		Name:     core.DebugName("postprocess", "ldr"),
		Format:   OutputFormat,
		Width:    width,
		Height:   height,
		Layers:   1,
		Usage:    gpu.ImageUsageColorAttachment | gpu.ImageUsageSampled,
		ViewType: gpu.ImageViewType2D,
	})
	if err != nil {
		return err
	}
	return p.CreateFramebuffer()
}

func (p *Pass) DestroyResizableObjects() {
	passes.Destroy(p.framebuffer, p.output)
	p.framebuffer, p.output = nil, nil
}

func (p *Pass) OnResize(width, height uint32) error {
	return passes.Resize(p, width, height)
}

func (p *Pass) Enabled(frame *passes.Frame) bool {
	return true
}

// Prepare picks the exposure and gamma of the frame, or the defaults.
func (p *Pass) Prepare(frame *passes.Frame) error {
	p.settings = metadata.DefaultPostProcess()
	if pp, ok := metadata.First[metadata.PostProcess](frame.Data.Items); ok {
		p.settings = pp
	}
	return nil
}

func (p *Pass) Record(cmd gpu.CommandBuffer, frame *passes.Frame) error {
	cmd.BeginRenderPass(p.renderPass, p.framebuffer, []gpu.ClearValue{{}})
	passes.SetFullViewport(cmd, p.extent)
	cmd.BindPipeline(p.pipeline)
	err := cmd.PushDescriptors(p.layout, 0, []gpu.DescriptorWrite{{
		Binding: 0,
		Type:    gpu.DescriptorTypeCombinedImageSampler,
		Images:  []gpu.ImageBinding{passes.Sampled(p.source.OutputView(), p.placeholders.White2D, p.placeholders.Clamped)},
	}})
	if err != nil {
		cmd.EndRenderPass()
		return err
	}
	pc := push{Exposure: p.settings.Exposure, Gamma: p.settings.Gamma}
	cmd.PushConstants(p.layout, pushStages, 0, gpu.Bytes(&pc))
	cmd.Draw(3, 1, 0, 0)
	cmd.EndRenderPass()
	return nil
}

// OutputView is the tone mapped image handed to the UI pass.
func (p *Pass) OutputView() gpu.ImageView {
	return p.output.SampledView()
}

func (p *Pass) Destroy() {
	p.DestroyPipelines()
	p.DestroyResizableObjects()
	passes.Destroy(p.layout, p.setLayout, p.renderPass)
	p.layout, p.setLayout, p.renderPass = nil, nil, nil
}
