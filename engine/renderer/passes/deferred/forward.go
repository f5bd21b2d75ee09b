package deferred

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/passes"
)

const forwardPushSize = 64

type billboardPush struct {
	// xyz world position, w unused.
	Position mgl32.Vec4
	// xy world size.
	Size  mgl32.Vec4
	Color mgl32.Vec4
}

// forwardSubpass blends skyboxes, translucent meshes, billboards and debug lines
// over the lit image in submission order, testing against the gbuffer depth.
type forwardSubpass struct {
	pass      *Pass
	skybox    gpu.Pipeline
	mesh      gpu.Pipeline
	billboard gpu.Pipeline
	lines     gpu.Pipeline
}

func (f *forwardSubpass) Name() string { return "forward" }

func (f *forwardSubpass) CreatePipelines() error {
	p := f.pass
	base := gpu.GraphicsPipelineDesc{
		Layout:       p.forwardLayout,
		RenderPass:   p.renderPass,
		Subpass:      SubpassForward,
		Topology:     gpu.PrimitiveTopologyTriangleList,
		CullMode:     gpu.CullModeNone,
		DepthTest:    true,
		DepthWrite:   false,
		DepthCompare: gpu.CompareOpLessOrEqual,
		Blend:        []gpu.BlendState{{Enable: true}},
	}
	var err error

	sky := base
	sky.Name = "skybox"
	sky.Blend = []gpu.BlendState{{}}
	if f.skybox, err = passes.BuildPipeline(p.device, p.shaders, sky, passes.Vertex("skybox.vert"), passes.Fragment("skybox.frag")); err != nil {
		return err
	}

	mesh := base
	mesh.Name = "forward_mesh"
	mesh.Layout = p.meshLayout
	mesh.CullMode = gpu.CullModeBack
	mesh.DepthCompare = gpu.CompareOpLess
	mesh.VertexBindings, mesh.VertexAttributes = metadata.StaticVertexLayout()
	if f.mesh, err = passes.BuildPipeline(p.device, p.shaders, mesh, passes.Vertex("gbuffer.vert"), passes.Fragment("forward_mesh.frag")); err != nil {
		return err
	}

	bb := base
	bb.Name = "billboard"
	if f.billboard, err = passes.BuildPipeline(p.device, p.shaders, bb, passes.Vertex("billboard.vert"), passes.Fragment("billboard.frag")); err != nil {
		return err
	}

	lines := base
	lines.Name = "debug_lines"
	lines.Topology = gpu.PrimitiveTopologyLineList
	lines.VertexBindings, lines.VertexAttributes = metadata.DebugVertexLayout()
	f.lines, err = passes.BuildPipeline(p.device, p.shaders, lines, passes.Vertex("debug_lines.vert"), passes.Fragment("debug_lines.frag"))
	return err
}

func (f *forwardSubpass) DestroyPipelines() {
	passes.Destroy(f.skybox, f.mesh, f.billboard, f.lines)
	f.skybox, f.mesh, f.billboard, f.lines = nil, nil, nil, nil
}

func isForward(it metadata.RenderData) bool {
	switch m := it.(type) {
	case metadata.Skybox, metadata.Billboard, metadata.DebugLines:
		return true
	case metadata.StaticMesh:
		return m.Material.Translucent
	}
	return false
}

// Enabled reports whether the frame has anything to blend.
func (f *forwardSubpass) Enabled(frame *passes.Frame) bool {
	for _, it := range frame.Data.Items {
		if isForward(it) {
			return true
		}
	}
	return false
}

func (f *forwardSubpass) Record(cmd gpu.CommandBuffer, frame *passes.Frame) error {
	p := f.pass
	ph := p.placeholders
	vf := gpu.ShaderStageVertex | gpu.ShaderStageFragment
	var bound gpu.Pipeline
	bind := func(pipeline gpu.Pipeline) {
		if bound != pipeline {
			cmd.BindPipeline(pipeline)
			bound = pipeline
		}
	}
	texture := func(view gpu.ImageView, fallback gpu.Image, sampler gpu.Sampler) gpu.DescriptorWrite {
		if sampler == nil {
			sampler = ph.Clamped
		}
		return gpu.DescriptorWrite{
			Binding: 1,
			Type:    gpu.DescriptorTypeCombinedImageSampler,
			Images:  []gpu.ImageBinding{passes.Sampled(view, fallback, sampler)},
		}
	}

	for _, it := range frame.Data.Items {
		switch m := it.(type) {
		case metadata.Skybox:
			bind(f.skybox)
			writes := []gpu.DescriptorWrite{p.uniformBinding(frame.Slot), texture(m.Cubemap, ph.BlackCube, m.Sampler)}
			if err := cmd.PushDescriptors(p.forwardLayout, 0, writes); err != nil {
				return err
			}
			intensity := mgl32.Vec4{m.Intensity, 0, 0, 0}
			cmd.PushConstants(p.forwardLayout, vf, 0, gpu.Bytes(&intensity))
			cmd.Draw(3, 1, 0, 0)

		case metadata.StaticMesh:
			if !m.Material.Translucent {
				continue
			}
			if err := p.drawMaterialMesh(cmd, &bound, f.mesh, frame.Slot, m.Mesh, m.Material, m.Transform, nil); err != nil {
				return err
			}

		case metadata.Billboard:
			bind(f.billboard)
			writes := []gpu.DescriptorWrite{p.uniformBinding(frame.Slot), texture(m.Texture, ph.White2D, ph.Linear)}
			if err := cmd.PushDescriptors(p.forwardLayout, 0, writes); err != nil {
				return err
			}
			push := billboardPush{Position: m.Position.Vec4(1), Size: m.Size.Vec4(0, 0), Color: m.Color}
			cmd.PushConstants(p.forwardLayout, vf, 0, gpu.Bytes(&push))
			cmd.Draw(6, 1, 0, 0)

		case metadata.DebugLines:
			bind(f.lines)
			if err := cmd.PushDescriptors(p.forwardLayout, 0, []gpu.DescriptorWrite{p.uniformBinding(frame.Slot)}); err != nil {
				return err
			}
			push := passes.ModelPush{Model: m.Transform}
			cmd.PushConstants(p.forwardLayout, vf, 0, gpu.Bytes(&push))
			passes.DrawMesh(cmd, metadata.Mesh{Vertices: m.Vertices, VertexCount: m.VertexCount})
		}
	}
	return nil
}

func lightingOf(frame *passes.Frame) (metadata.Lighting, bool) {
	return metadata.First[metadata.Lighting](frame.Data.Items)
}
