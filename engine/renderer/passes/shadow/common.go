// Package shadow renders the depth maps sampled by the lighting composition:
// cascaded maps for the directional light, distance cubes for point lights and
// perspective maps for spot lights.
package shadow

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/passes"
)

const (
	uniformBinding = 0
	jointsBinding  = 1
)

// depthRemap maps OpenGL clip depth [-1,1] to [0,1] without flipping Y.
var depthRemap = mgl32.Mat4{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 0.5, 0,
	0, 0, 0.5, 1,
}

// producerDependencies order the previous frame's sampling before the writes of
// this pass, and this pass's writes before the composition reads them.
func producerDependencies(hasColor bool) []gpu.SubpassDependency {
	srcStage := gpu.PipelineStageLateFragmentTests
	srcAccess := gpu.AccessDepthStencilAttachmentWrite
	dstStage := gpu.PipelineStageEarlyFragmentTests
	dstAccess := gpu.AccessDepthStencilAttachmentRead | gpu.AccessDepthStencilAttachmentWrite
	if hasColor {
		srcStage |= gpu.PipelineStageColorAttachmentOutput
		srcAccess |= gpu.AccessColorAttachmentWrite
		dstStage |= gpu.PipelineStageColorAttachmentOutput
		dstAccess |= gpu.AccessColorAttachmentWrite
	}
	return []gpu.SubpassDependency{
		{
			SrcSubpass: gpu.SubpassExternal,
			DstSubpass: 0,
			SrcStage:   gpu.PipelineStageFragmentShader,
			DstStage:   dstStage,
			SrcAccess:  gpu.AccessShaderRead,
			DstAccess:  dstAccess,
		},
		{
			SrcSubpass: 0,
			DstSubpass: gpu.SubpassExternal,
			SrcStage:   srcStage,
			DstStage:   gpu.PipelineStageFragmentShader,
			SrcAccess:  srcAccess,
			DstAccess:  gpu.AccessShaderRead,
		},
	}
}

// depthOnlyRenderPass has a single depth attachment left in SHADER_READ_ONLY for sampling.
func depthOnlyRenderPass(device gpu.Device, name string) (gpu.RenderPass, error) {
	return device.NewRenderPass(gpu.RenderPassDesc{
		Name: name,
		Attachments: []gpu.AttachmentDesc{{
			Format:        device.DepthFormat(),
			LoadOp:        gpu.LoadOpClear,
			StoreOp:       gpu.StoreOpStore,
			InitialLayout: gpu.ImageLayoutUndefined,
			FinalLayout:   gpu.ImageLayoutShaderReadOnlyOptimal,
		}},
		Subpasses: []gpu.SubpassDesc{{
			Depth: &gpu.AttachmentRef{Attachment: 0, Layout: gpu.ImageLayoutDepthStencilAttachmentOptimal},
		}},
		Dependencies: producerDependencies(false),
	})
}

// newClearedImage creates an image and clears it so it is sampleable before the first render.
func newClearedImage(device gpu.Device, desc gpu.ImageDesc, clear gpu.ClearValue) (gpu.Image, error) {
	desc.Name = core.DebugName(desc.Name, "shadow")
	img, err := device.NewImage(desc)
	if err != nil {
		return nil, err
	}
	err = device.Immediate(func(cmd gpu.CommandBuffer) error {
		cmd.ClearImage(img, clear)
		return nil
	})
	if err != nil {
		img.Destroy()
		return nil, err
	}
	return img, nil
}

// casterPipelines holds the static and skinned variants of a shadow pipeline.
type casterPipelines struct {
	static  gpu.Pipeline
	skinned gpu.Pipeline
}

func (c *casterPipelines) build(device gpu.Device, src passes.ShaderSource, desc gpu.GraphicsPipelineDesc, prefix string, rest ...passes.ShaderFile) error {
	var err error
	desc.Name = prefix + "_static"
	desc.VertexBindings, desc.VertexAttributes = metadata.PositionOnlyLayout(metadata.StaticVertexStride)
	files := append([]passes.ShaderFile{passes.Vertex(prefix + ".vert")}, rest...)
	if c.static, err = passes.BuildPipeline(device, src, desc, files...); err != nil {
		return err
	}
	desc.Name = prefix + "_skinned"
	desc.VertexBindings, desc.VertexAttributes = metadata.SkinnedPositionLayout()
	files[0] = passes.Vertex(prefix + "_skinned.vert")
	if c.skinned, err = passes.BuildPipeline(device, src, desc, files...); err != nil {
		c.destroy()
		return err
	}
	return nil
}

func (c *casterPipelines) destroy() {
	passes.Destroy(c.static, c.skinned)
	c.static, c.skinned = nil, nil
}

// draw records every caster, switching pipelines by mesh kind. uniform may be nil.
func (c *casterPipelines) draw(cmd gpu.CommandBuffer, layout gpu.PipelineLayout, stages gpu.ShaderStage, casters []passes.Caster, uniform *gpu.BufferBinding, push func(passes.Caster) []byte) error {
	var bound gpu.Pipeline
	for _, caster := range casters {
		pipeline := c.static
		if caster.Joints != nil {
			pipeline = c.skinned
		}
		if pipeline != bound {
			cmd.BindPipeline(pipeline)
			bound = pipeline
		}
		var writes []gpu.DescriptorWrite
		if uniform != nil {
			writes = append(writes, gpu.DescriptorWrite{Binding: uniformBinding, Type: gpu.DescriptorTypeUniformBuffer, Buffers: []gpu.BufferBinding{*uniform}})
		}
		if caster.Joints != nil {
			writes = append(writes, gpu.DescriptorWrite{
				Binding: jointsBinding,
				Type:    gpu.DescriptorTypeStorageBuffer,
				Buffers: []gpu.BufferBinding{{Buffer: caster.Joints, Range: caster.Joints.Size()}},
			})
		}
		if len(writes) > 0 {
			if err := cmd.PushDescriptors(layout, 0, writes); err != nil {
				return err
			}
		}
		cmd.PushConstants(layout, stages, 0, push(caster))
		passes.DrawMesh(cmd, caster.Mesh)
	}
	return nil
}

// casterSetLayout binds an optional uniform buffer and the joint palette of skinned casters.
func casterSetLayout(device gpu.Device, uniformStages gpu.ShaderStage) (gpu.DescriptorSetLayout, error) {
	bindings := []gpu.DescriptorBinding{
		{Binding: jointsBinding, Type: gpu.DescriptorTypeStorageBuffer, Count: 1, Stages: gpu.ShaderStageVertex},
	}
	if uniformStages != 0 {
		bindings = append([]gpu.DescriptorBinding{
			{Binding: uniformBinding, Type: gpu.DescriptorTypeUniformBuffer, Count: 1, Stages: uniformStages},
		}, bindings...)
	}
	return device.NewDescriptorSetLayout(gpu.DescriptorSetLayoutDesc{Bindings: bindings, Push: true})
}

func lightingOf(frame *passes.Frame) (metadata.Lighting, bool) {
	return metadata.First[metadata.Lighting](frame.Data.Items)
}
