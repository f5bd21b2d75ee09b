// Package deferred implements the main render pass: a gbuffer fill, a full-screen
// lighting composition reading the gbuffer as input attachments, and a forward
// subpass for everything that needs blending, all inside one render pass.
package deferred

import (
	"fmt"

	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/passes"
	"github.com/spaghettifunk/umbra/engine/renderer/rhi"
)

// Attachment indices of the main render pass.
const (
	AttachmentHDR = iota
	AttachmentNormal
	AttachmentBaseColor
	AttachmentEmissive
	AttachmentMRO
	AttachmentDepth
	attachmentCount
)

// Subpass indices.
const (
	SubpassGbuffer uint32 = iota
	SubpassComposition
	SubpassForward
)

var gbufferFormats = [4]gpu.Format{
	gpu.FormatR16G16B16A16Sfloat,
	gpu.FormatR8G8B8A8Unorm,
	gpu.FormatR16G16B16A16Sfloat,
	gpu.FormatR8G8B8A8Unorm,
}

var gbufferNames = [4]string{"normal", "base_color", "emissive", "mro"}

// Subpass records one subpass of the main render pass.
type Subpass interface {
	Name() string
	CreatePipelines() error
	DestroyPipelines()
	// A disabled subpass records nothing but the render pass still advances past it.
	Enabled(frame *passes.Frame) bool
	Record(cmd gpu.CommandBuffer, frame *passes.Frame) error
}

type Pass struct {
	device       gpu.Device
	shaders      passes.ShaderSource
	placeholders *passes.Placeholders
	shadows      Shadows
	clearColor   [4]float32

	renderPass        gpu.RenderPass
	meshSet           gpu.DescriptorSetLayout
	compositionSet    gpu.DescriptorSetLayout
	forwardSet        gpu.DescriptorSetLayout
	meshLayout        gpu.PipelineLayout
	compositionLayout gpu.PipelineLayout
	forwardLayout     gpu.PipelineLayout
	uniforms          gpu.Buffer

	hdr         gpu.Image
	gbuffer     [4]gpu.Image
	depth       gpu.Image
	framebuffer gpu.Framebuffer
	extent      gpu.Extent2D

	subpasses []Subpass
}

func New(device gpu.Device, shaders passes.ShaderSource, placeholders *passes.Placeholders, shadows Shadows, clearColor [4]float32) *Pass {
	p := &Pass{
		device:       device,
		shaders:      shaders,
		placeholders: placeholders,
		shadows:      shadows,
		clearColor:   clearColor,
	}
	p.subpasses = []Subpass{
		&gbufferSubpass{pass: p},
		&compositionSubpass{pass: p},
		&forwardSubpass{pass: p},
	}
	return p
}

func (p *Pass) Name() string        { return "main" }
func (p *Pass) Stage() passes.Stage { return passes.StageMain }

// Subpasses returns the subpasses in execution order.
func (p *Pass) Subpasses() []Subpass {
	return p.subpasses
}

func (p *Pass) CreateRenderPass() (err error) {
	p.renderPass, err = p.device.NewRenderPass(renderPassDesc(p.device.DepthFormat()))
	return err
}

func renderPassDesc(depthFormat gpu.Format) gpu.RenderPassDesc {
	attachments := make([]gpu.AttachmentDesc, attachmentCount)
	attachments[AttachmentHDR] = gpu.AttachmentDesc{
		Format:        gpu.FormatR16G16B16A16Sfloat,
		LoadOp:        gpu.LoadOpClear,
		StoreOp:       gpu.StoreOpStore,
		InitialLayout: gpu.ImageLayoutUndefined,
		FinalLayout:   gpu.ImageLayoutShaderReadOnlyOptimal,
	}
	for i, f := range gbufferFormats {
		attachments[AttachmentNormal+i] = gpu.AttachmentDesc{
			Format:        f,
			LoadOp:        gpu.LoadOpClear,
			StoreOp:       gpu.StoreOpDontCare,
			InitialLayout: gpu.ImageLayoutUndefined,
			FinalLayout:   gpu.ImageLayoutShaderReadOnlyOptimal,
		}
	}
	attachments[AttachmentDepth] = gpu.AttachmentDesc{
		Format:        depthFormat,
		LoadOp:        gpu.LoadOpClear,
		StoreOp:       gpu.StoreOpDontCare,
		InitialLayout: gpu.ImageLayoutUndefined,
		FinalLayout:   gpu.ImageLayoutDepthStencilReadOnlyOptimal,
	}

	var gbufferColors, inputs []gpu.AttachmentRef
	for i := AttachmentNormal; i <= AttachmentMRO; i++ {
		gbufferColors = append(gbufferColors, gpu.AttachmentRef{Attachment: uint32(i), Layout: gpu.ImageLayoutColorAttachmentOptimal})
		inputs = append(inputs, gpu.AttachmentRef{Attachment: uint32(i), Layout: gpu.ImageLayoutShaderReadOnlyOptimal})
	}
	inputs = append(inputs, gpu.AttachmentRef{Attachment: AttachmentDepth, Layout: gpu.ImageLayoutDepthStencilReadOnlyOptimal})
	hdr := []gpu.AttachmentRef{{Attachment: AttachmentHDR, Layout: gpu.ImageLayoutColorAttachmentOptimal}}

	return gpu.RenderPassDesc{
		Name:        "main",
		Attachments: attachments,
		Subpasses: []gpu.SubpassDesc{
			{
				Colors: gbufferColors,
				Depth:  &gpu.AttachmentRef{Attachment: AttachmentDepth, Layout: gpu.ImageLayoutDepthStencilAttachmentOptimal},
			},
			{
				Colors: hdr,
				Inputs: inputs,
			},
			{
				Colors: hdr,
				Depth:  &gpu.AttachmentRef{Attachment: AttachmentDepth, Layout: gpu.ImageLayoutDepthStencilReadOnlyOptimal},
			},
		},
		Dependencies: Dependencies(),
	}
}

// Dependencies returns the ordering constraints between the subpasses and the passes around them.
func Dependencies() []gpu.SubpassDependency {
	attachmentWrites := gpu.PipelineStageColorAttachmentOutput | gpu.PipelineStageLateFragmentTests
	return []gpu.SubpassDependency{
		// The previous frame's postprocess must be done sampling the HDR target.
		{
			SrcSubpass: gpu.SubpassExternal,
			DstSubpass: SubpassGbuffer,
			SrcStage:   gpu.PipelineStageFragmentShader | gpu.PipelineStageLateFragmentTests,
			DstStage:   gpu.PipelineStageColorAttachmentOutput | gpu.PipelineStageEarlyFragmentTests,
			SrcAccess:  gpu.AccessShaderRead | gpu.AccessDepthStencilAttachmentWrite,
			DstAccess:  gpu.AccessColorAttachmentWrite | gpu.AccessDepthStencilAttachmentWrite,
		},
		{
			SrcSubpass: SubpassGbuffer,
			DstSubpass: SubpassComposition,
			SrcStage:   attachmentWrites,
			DstStage:   gpu.PipelineStageFragmentShader,
			SrcAccess:  gpu.AccessColorAttachmentWrite | gpu.AccessDepthStencilAttachmentWrite,
			DstAccess:  gpu.AccessInputAttachmentRead,
			Flags:      gpu.DependencyByRegion,
		},
		{
			SrcSubpass: SubpassGbuffer,
			DstSubpass: SubpassForward,
			SrcStage:   gpu.PipelineStageLateFragmentTests,
			DstStage:   gpu.PipelineStageEarlyFragmentTests,
			SrcAccess:  gpu.AccessDepthStencilAttachmentWrite,
			DstAccess:  gpu.AccessDepthStencilAttachmentRead,
			Flags:      gpu.DependencyByRegion,
		},
		{
			SrcSubpass: SubpassComposition,
			DstSubpass: SubpassForward,
			SrcStage:   gpu.PipelineStageColorAttachmentOutput,
			DstStage:   gpu.PipelineStageColorAttachmentOutput,
			SrcAccess:  gpu.AccessColorAttachmentWrite,
			DstAccess:  gpu.AccessColorAttachmentRead | gpu.AccessColorAttachmentWrite,
			Flags:      gpu.DependencyByRegion,
		},
		{
			SrcSubpass: SubpassForward,
			DstSubpass: gpu.SubpassExternal,
			SrcStage:   gpu.PipelineStageColorAttachmentOutput,
			DstStage:   gpu.PipelineStageFragmentShader,
			SrcAccess:  gpu.AccessColorAttachmentWrite,
			DstAccess:  gpu.AccessShaderRead,
		},
	}
}

// CreateDescriptorSetLayouts also creates the per-slot uniform buffer the layouts point at.
func (p *Pass) CreateDescriptorSetLayouts() error {
	var err error
	vf := gpu.ShaderStageVertex | gpu.ShaderStageFragment
	p.meshSet, err = p.device.NewDescriptorSetLayout(gpu.DescriptorSetLayoutDesc{
		Push: true,
		Bindings: []gpu.DescriptorBinding{
			{Binding: 0, Type: gpu.DescriptorTypeUniformBuffer, Count: 1, Stages: vf},
			{Binding: 1, Type: gpu.DescriptorTypeCombinedImageSampler, Count: 1, Stages: gpu.ShaderStageFragment},
			{Binding: 2, Type: gpu.DescriptorTypeCombinedImageSampler, Count: 1, Stages: gpu.ShaderStageFragment},
			{Binding: 3, Type: gpu.DescriptorTypeCombinedImageSampler, Count: 1, Stages: gpu.ShaderStageFragment},
			{Binding: 4, Type: gpu.DescriptorTypeCombinedImageSampler, Count: 1, Stages: gpu.ShaderStageFragment},
			{Binding: 5, Type: gpu.DescriptorTypeCombinedImageSampler, Count: 1, Stages: gpu.ShaderStageFragment},
			{Binding: 6, Type: gpu.DescriptorTypeStorageBuffer, Count: 1, Stages: gpu.ShaderStageVertex},
		},
	})
	if err != nil {
		return err
	}

	composition := []gpu.DescriptorBinding{{Binding: 0, Type: gpu.DescriptorTypeUniformBuffer, Count: 1, Stages: gpu.ShaderStageFragment}}
	for i := uint32(1); i <= 5; i++ {
		composition = append(composition, gpu.DescriptorBinding{Binding: i, Type: gpu.DescriptorTypeInputAttachment, Count: 1, Stages: gpu.ShaderStageFragment})
	}
	composition = append(composition,
		gpu.DescriptorBinding{Binding: 6, Type: gpu.DescriptorTypeCombinedImageSampler, Count: 1, Stages: gpu.ShaderStageFragment},
		gpu.DescriptorBinding{Binding: 7, Type: gpu.DescriptorTypeCombinedImageSampler, Count: shadowPointCount, Stages: gpu.ShaderStageFragment},
		gpu.DescriptorBinding{Binding: 8, Type: gpu.DescriptorTypeCombinedImageSampler, Count: shadowSpotCount, Stages: gpu.ShaderStageFragment},
		gpu.DescriptorBinding{Binding: 9, Type: gpu.DescriptorTypeCombinedImageSampler, Count: 1, Stages: gpu.ShaderStageFragment},
		gpu.DescriptorBinding{Binding: 10, Type: gpu.DescriptorTypeCombinedImageSampler, Count: 1, Stages: gpu.ShaderStageFragment},
		gpu.DescriptorBinding{Binding: 11, Type: gpu.DescriptorTypeCombinedImageSampler, Count: 1, Stages: gpu.ShaderStageFragment},
	)
	p.compositionSet, err = p.device.NewDescriptorSetLayout(gpu.DescriptorSetLayoutDesc{Push: true, Bindings: composition})
	if err != nil {
		return err
	}

	p.forwardSet, err = p.device.NewDescriptorSetLayout(gpu.DescriptorSetLayoutDesc{
		Push: true,
		Bindings: []gpu.DescriptorBinding{
			{Binding: 0, Type: gpu.DescriptorTypeUniformBuffer, Count: 1, Stages: vf},
			{Binding: 1, Type: gpu.DescriptorTypeCombinedImageSampler, Count: 1, Stages: gpu.ShaderStageFragment},
		},
	})
	if err != nil {
		return err
	}

	p.uniforms, err = p.device.NewBuffer(gpu.BufferDesc{
		Name:        "frame_uniforms",
		Size:        uniformStride * rhi.MaxFramesInFlight,
		Usage:       gpu.BufferUsageUniform,
		HostVisible: true,
	})
	return err
}

func (p *Pass) CreatePipelineLayouts() error {
	var err error
	vf := gpu.ShaderStageVertex | gpu.ShaderStageFragment
	p.meshLayout, err = p.device.NewPipelineLayout(gpu.PipelineLayoutDesc{
		SetLayouts:    []gpu.DescriptorSetLayout{p.meshSet},
		PushConstants: []gpu.PushConstantRange{{Stages: vf, Size: uint32(len(gpu.Bytes(&meshPush{})))}},
	})
	if err != nil {
		return err
	}
	p.compositionLayout, err = p.device.NewPipelineLayout(gpu.PipelineLayoutDesc{
		SetLayouts: []gpu.DescriptorSetLayout{p.compositionSet},
	})
	if err != nil {
		return err
	}
	p.forwardLayout, err = p.device.NewPipelineLayout(gpu.PipelineLayoutDesc{
		SetLayouts:    []gpu.DescriptorSetLayout{p.forwardSet},
		PushConstants: []gpu.PushConstantRange{{Stages: vf, Size: forwardPushSize}},
	})
	return err
}

func (p *Pass) CreatePipelines() error {
	for _, sp := range p.subpasses {
		if err := sp.CreatePipelines(); err != nil {
			p.DestroyPipelines()
			return fmt.Errorf("subpass `%s`: %w", sp.Name(), err)
		}
	}
	return nil
}

func (p *Pass) DestroyPipelines() {
	for _, sp := range p.subpasses {
		sp.DestroyPipelines()
	}
}

func (p *Pass) CreateFramebuffer() (err error) {
	views := make([]gpu.ImageView, attachmentCount)
	views[AttachmentHDR] = p.hdr.AttachmentView()
	for i, img := range p.gbuffer {
		views[AttachmentNormal+i] = img.AttachmentView()
	}
	views[AttachmentDepth] = p.depth.AttachmentView()
	p.framebuffer, err = p.device.NewFramebuffer(gpu.FramebufferDesc{
		RenderPass:  p.renderPass,
		Attachments: views,
		Width:       p.extent.Width,
		Height:      p.extent.Height,
		Layers:      1,
	})
	return err
}

func (p *Pass) CreateResizableObjects(width, height uint32) error {
	p.extent = gpu.Extent2D{Width: width, Height: height}
	var err error
	p.hdr, err = p.device.NewImage(gpu.ImageDesc{
		Name:     core.DebugName("main", "hdr"),
		Format:   gpu.FormatR16G16B16A16Sfloat,
		Width:    width,
		Height:   height,
		Layers:   1,
		Usage:    gpu.ImageUsageColorAttachment | gpu.ImageUsageSampled,
		ViewType: gpu.ImageViewType2D,
	})
	if err != nil {
		return err
	}
	for i, f := range gbufferFormats {
		p.gbuffer[i], err = p.device.NewImage(gpu.ImageDesc{
			Name:     core.DebugName("main", gbufferNames[i]),
			Format:   f,
			Width:    width,
			Height:   height,
			Layers:   1,
			Usage:    gpu.ImageUsageColorAttachment | gpu.ImageUsageInputAttachment | gpu.ImageUsageTransientAttachment,
			ViewType: gpu.ImageViewType2D,
		})
		if err != nil {
			return err
		}
	}
	p.depth, err = p.device.NewImage(gpu.ImageDesc{
		Name:     core.DebugName("main", "depth"),
		Format:   p.device.DepthFormat(),
		Width:    width,
		Height:   height,
		Layers:   1,
		Usage:    gpu.ImageUsageDepthStencilAttachment | gpu.ImageUsageInputAttachment | gpu.ImageUsageTransientAttachment,
		ViewType: gpu.ImageViewType2D,
	})
	if err != nil {
		return err
	}
	return p.CreateFramebuffer()
}

func (p *Pass) DestroyResizableObjects() {
	passes.Destroy(p.framebuffer, p.depth, p.gbuffer[0], p.gbuffer[1], p.gbuffer[2], p.gbuffer[3], p.hdr)
	p.framebuffer, p.depth, p.hdr = nil, nil, nil
	p.gbuffer = [4]gpu.Image{}
}

func (p *Pass) OnResize(width, height uint32) error {
	return passes.Resize(p, width, height)
}

// Enabled is always true: the composition writes the target every later pass reads.
func (p *Pass) Enabled(frame *passes.Frame) bool {
	return true
}

func (p *Pass) Prepare(frame *passes.Frame) error {
	u := BuildUniforms(frame, p.shadows)
	if err := p.uniforms.Write(uint64(frame.Slot)*uniformStride, gpu.Bytes(&u)); err != nil {
		return fmt.Errorf("failed to upload frame uniforms: %w", err)
	}
	return nil
}

func (p *Pass) Record(cmd gpu.CommandBuffer, frame *passes.Frame) error {
	clears := make([]gpu.ClearValue, attachmentCount)
	clears[AttachmentHDR] = gpu.ClearValue{Color: p.clearColor}
	clears[AttachmentDepth] = gpu.ClearDepth(1)

	cmd.BeginRenderPass(p.renderPass, p.framebuffer, clears)
	passes.SetFullViewport(cmd, p.extent)
	for i, sp := range p.subpasses {
		if i > 0 {
			cmd.NextSubpass()
		}
		if !sp.Enabled(frame) {
			continue
		}
		if err := sp.Record(cmd, frame); err != nil {
			cmd.EndRenderPass()
			return fmt.Errorf("subpass `%s`: %w", sp.Name(), err)
		}
	}
	cmd.EndRenderPass()
	return nil
}

// uniformBinding is the slot's window into the frame uniform buffer.
func (p *Pass) uniformBinding(slot int) gpu.DescriptorWrite {
	return gpu.DescriptorWrite{
		Binding: 0,
		Type:    gpu.DescriptorTypeUniformBuffer,
		Buffers: []gpu.BufferBinding{{Buffer: p.uniforms, Offset: uint64(slot) * uniformStride, Range: uniformStride}},
	}
}

// OutputView is the lit HDR image, in SHADER_READ_ONLY once the pass has run.
func (p *Pass) OutputView() gpu.ImageView {
	return p.hdr.SampledView()
}

func (p *Pass) Extent() gpu.Extent2D {
	return p.extent
}

func (p *Pass) Destroy() {
	p.DestroyPipelines()
	p.DestroyResizableObjects()
	passes.Destroy(p.meshLayout, p.compositionLayout, p.forwardLayout,
		p.meshSet, p.compositionSet, p.forwardSet, p.uniforms, p.renderPass)
	p.meshLayout, p.compositionLayout, p.forwardLayout = nil, nil, nil
	p.meshSet, p.compositionSet, p.forwardSet = nil, nil, nil
	p.uniforms, p.renderPass = nil, nil
}
