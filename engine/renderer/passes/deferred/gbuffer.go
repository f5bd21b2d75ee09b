package deferred

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/passes"
)

type meshPush struct {
	Model    mgl32.Mat4
	Material metadata.MaterialConstants
}

const meshPushStages = gpu.ShaderStageVertex | gpu.ShaderStageFragment

// materialWrites binds the frame uniforms and the material textures, with placeholders for missing ones.
func (p *Pass) materialWrites(slot int, mat metadata.Material, joints gpu.Buffer) []gpu.DescriptorWrite {
	ph := p.placeholders
	image := func(binding uint32, view gpu.ImageView, fallback gpu.Image) gpu.DescriptorWrite {
		return gpu.DescriptorWrite{
			Binding: binding,
			Type:    gpu.DescriptorTypeCombinedImageSampler,
			Images:  []gpu.ImageBinding{passes.Sampled(view, fallback, ph.Linear)},
		}
	}
	writes := []gpu.DescriptorWrite{
		p.uniformBinding(slot),
		image(1, mat.BaseColor, ph.White2D),
		image(2, mat.Normal, ph.FlatNormal),
		image(3, mat.MetallicRoughness, ph.White2D),
		image(4, mat.Emissive, ph.White2D),
		image(5, mat.Occlusion, ph.White2D),
	}
	if joints != nil {
		writes = append(writes, gpu.DescriptorWrite{
			Binding: 6,
			Type:    gpu.DescriptorTypeStorageBuffer,
			Buffers: []gpu.BufferBinding{{Buffer: joints, Range: joints.Size()}},
		})
	}
	return writes
}

// drawMaterialMesh binds pipeline unless it is already bound and draws one mesh with its material.
func (p *Pass) drawMaterialMesh(cmd gpu.CommandBuffer, bound *gpu.Pipeline, pipeline gpu.Pipeline, slot int, mesh metadata.Mesh, mat metadata.Material, model mgl32.Mat4, joints gpu.Buffer) error {
	if *bound != pipeline {
		cmd.BindPipeline(pipeline)
		*bound = pipeline
	}
	if err := cmd.PushDescriptors(p.meshLayout, 0, p.materialWrites(slot, mat, joints)); err != nil {
		return err
	}
	push := meshPush{Model: model, Material: mat.Constants}
	cmd.PushConstants(p.meshLayout, meshPushStages, 0, gpu.Bytes(&push))
	passes.DrawMesh(cmd, mesh)
	return nil
}

// gbufferSubpass writes the surface attributes of every opaque mesh, in submission order.
type gbufferSubpass struct {
	pass    *Pass
	static  gpu.Pipeline
	skinned gpu.Pipeline
}

func (g *gbufferSubpass) Name() string { return "gbuffer" }

func (g *gbufferSubpass) CreatePipelines() error {
	p := g.pass
	desc := gpu.GraphicsPipelineDesc{
		Name:         "gbuffer_static",
		Layout:       p.meshLayout,
		RenderPass:   p.renderPass,
		Subpass:      SubpassGbuffer,
		Topology:     gpu.PrimitiveTopologyTriangleList,
		CullMode:     gpu.CullModeBack,
		DepthTest:    true,
		DepthWrite:   true,
		DepthCompare: gpu.CompareOpLess,
		Blend:        make([]gpu.BlendState, len(gbufferFormats)),
	}
	desc.VertexBindings, desc.VertexAttributes = metadata.StaticVertexLayout()
	var err error
	if g.static, err = passes.BuildPipeline(p.device, p.shaders, desc, passes.Vertex("gbuffer.vert"), passes.Fragment("gbuffer.frag")); err != nil {
		return err
	}
	desc.Name = "gbuffer_skinned"
	desc.VertexBindings, desc.VertexAttributes = metadata.SkinnedVertexLayout()
	g.skinned, err = passes.BuildPipeline(p.device, p.shaders, desc, passes.Vertex("gbuffer_skinned.vert"), passes.Fragment("gbuffer.frag"))
	return err
}

func (g *gbufferSubpass) DestroyPipelines() {
	passes.Destroy(g.static, g.skinned)
	g.static, g.skinned = nil, nil
}

// Enabled is always true so the gbuffer is cleared even when nothing is visible.
func (g *gbufferSubpass) Enabled(frame *passes.Frame) bool {
	return true
}

func (g *gbufferSubpass) Record(cmd gpu.CommandBuffer, frame *passes.Frame) error {
	var bound gpu.Pipeline
	for _, it := range frame.Data.Items {
		var err error
		switch m := it.(type) {
		case metadata.StaticMesh:
			if m.Material.Translucent {
				continue
			}
			err = g.pass.drawMaterialMesh(cmd, &bound, g.static, frame.Slot, m.Mesh, m.Material, m.Transform, nil)
		case metadata.SkeletalMesh:
			err = g.pass.drawMaterialMesh(cmd, &bound, g.skinned, frame.Slot, m.Mesh, m.Material, m.Transform, m.Joints)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
