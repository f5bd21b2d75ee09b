package deferred

import (
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/passes"
	"github.com/spaghettifunk/umbra/engine/renderer/passes/shadow"
)

const (
	shadowPointCount = shadow.MaxPointLightShadows
	shadowSpotCount  = shadow.MaxSpotLightShadows
)

// compositionSubpass lights the gbuffer with one full-screen triangle.
type compositionSubpass struct {
	pass     *Pass
	pipeline gpu.Pipeline
}

func (c *compositionSubpass) Name() string { return "composition" }

func (c *compositionSubpass) CreatePipelines() (err error) {
	p := c.pass
	c.pipeline, err = passes.BuildPipeline(p.device, p.shaders, gpu.GraphicsPipelineDesc{
		Name:       "composition",
		Layout:     p.compositionLayout,
		RenderPass: p.renderPass,
		Subpass:    SubpassComposition,
		Topology:   gpu.PrimitiveTopologyTriangleList,
		CullMode:   gpu.CullModeNone,
		Blend:      []gpu.BlendState{{}},
	}, passes.Vertex("fullscreen.vert"), passes.Fragment("composition.frag"))
	return err
}

func (c *compositionSubpass) DestroyPipelines() {
	passes.Destroy(c.pipeline)
	c.pipeline = nil
}

func (c *compositionSubpass) Enabled(frame *passes.Frame) bool {
	return true
}

func (c *compositionSubpass) Record(cmd gpu.CommandBuffer, frame *passes.Frame) error {
	cmd.BindPipeline(c.pipeline)
	if err := cmd.PushDescriptors(c.pass.compositionLayout, 0, c.pass.compositionWrites(frame)); err != nil {
		return err
	}
	cmd.Draw(3, 1, 0, 0)
	return nil
}

func sampledArray(views []gpu.ImageView, count int, fallback gpu.Image, sampler gpu.Sampler) []gpu.ImageBinding {
	out := make([]gpu.ImageBinding, count)
	for i := range out {
		var view gpu.ImageView
		if i < len(views) {
			view = views[i]
		}
		out[i] = passes.Sampled(view, fallback, sampler)
	}
	return out
}

// compositionWrites binds the gbuffer inputs, the shadow maps and the environment maps.
// Producers that are missing or disabled this frame are replaced by placeholders.
func (p *Pass) compositionWrites(frame *passes.Frame) []gpu.DescriptorWrite {
	ph := p.placeholders
	writes := []gpu.DescriptorWrite{p.uniformBinding(frame.Slot)}

	for i, img := range p.gbuffer {
		writes = append(writes, gpu.DescriptorWrite{
			Binding: uint32(AttachmentNormal + i),
			Type:    gpu.DescriptorTypeInputAttachment,
			Images:  []gpu.ImageBinding{{View: img.AttachmentView(), Layout: gpu.ImageLayoutShaderReadOnlyOptimal}},
		})
	}
	writes = append(writes, gpu.DescriptorWrite{
		Binding: AttachmentDepth,
		Type:    gpu.DescriptorTypeInputAttachment,
		Images:  []gpu.ImageBinding{{View: p.depth.SampledView(), Layout: gpu.ImageLayoutDepthStencilReadOnlyOptimal}},
	})

	var cascades gpu.ImageView
	if s := p.shadows.Cascades; s != nil && s.Enabled(frame) {
		cascades = s.View()
	}
	var points, spots []gpu.ImageView
	if s := p.shadows.Points; s != nil && s.Enabled(frame) {
		points = s.Views()
	}
	if s := p.shadows.Spots; s != nil && s.Enabled(frame) {
		spots = s.Views()
	}
	combined := gpu.DescriptorTypeCombinedImageSampler
	writes = append(writes,
		gpu.DescriptorWrite{Binding: 6, Type: combined, Images: []gpu.ImageBinding{passes.Sampled(cascades, ph.FarDepthArray, ph.Shadow)}},
		gpu.DescriptorWrite{Binding: 7, Type: combined, Images: sampledArray(points, shadowPointCount, ph.FarCube, ph.Clamped)},
		gpu.DescriptorWrite{Binding: 8, Type: combined, Images: sampledArray(spots, shadowSpotCount, ph.FarDepth, ph.Shadow)},
	)

	var irradiance, prefiltered, brdf gpu.ImageView
	if lighting, ok := lightingOf(frame); ok && lighting.IBL != nil {
		irradiance, prefiltered, brdf = lighting.IBL.Irradiance, lighting.IBL.Prefiltered, lighting.IBL.BRDFLUT
	}
	writes = append(writes,
		gpu.DescriptorWrite{Binding: 9, Type: combined, Images: []gpu.ImageBinding{passes.Sampled(irradiance, ph.BlackCube, ph.Clamped)}},
		gpu.DescriptorWrite{Binding: 10, Type: combined, Images: []gpu.ImageBinding{passes.Sampled(prefiltered, ph.BlackCube, ph.Clamped)}},
		gpu.DescriptorWrite{Binding: 11, Type: combined, Images: []gpu.ImageBinding{passes.Sampled(brdf, ph.White2D, ph.Clamped)}},
	)
	return writes
}
