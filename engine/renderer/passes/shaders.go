package passes

import (
	"fmt"

	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

// ShaderSource returns SPIR-V for a shader name such as "gbuffer.frag".
type ShaderSource interface {
	Load(name string) ([]byte, error)
}

type ShaderFile struct {
	Stage gpu.ShaderStage
	Name  string
}

func Vertex(name string) ShaderFile   { return ShaderFile{Stage: gpu.ShaderStageVertex, Name: name} }
func Geometry(name string) ShaderFile { return ShaderFile{Stage: gpu.ShaderStageGeometry, Name: name} }
func Fragment(name string) ShaderFile { return ShaderFile{Stage: gpu.ShaderStageFragment, Name: name} }

// BuildPipeline loads the shader stages, creates the pipeline and releases the modules.
func BuildPipeline(device gpu.Device, src ShaderSource, desc gpu.GraphicsPipelineDesc, files ...ShaderFile) (gpu.Pipeline, error) {
	modules := make([]gpu.ShaderModule, 0, len(files))
	defer func() {
		for _, m := range modules {
			m.Destroy()
		}
	}()

	desc.Stages = desc.Stages[:0]
	for _, f := range files {
		code, err := src.Load(f.Name)
		if err != nil {
			return nil, fmt.Errorf("pipeline `%s`: %w", desc.Name, err)
		}
		m, err := device.NewShaderModule(f.Name, code)
		if err != nil {
			return nil, fmt.Errorf("pipeline `%s`: %w", desc.Name, err)
		}
		modules = append(modules, m)
		desc.Stages = append(desc.Stages, gpu.ShaderStageDesc{Stage: f.Stage, Module: m})
	}
	return device.NewGraphicsPipeline(desc)
}

// Destroy releases every non-nil object and is used by Destroy implementations.
func Destroy(objs ...gpu.Destroyer) {
	for _, o := range objs {
		if o != nil {
			o.Destroy()
		}
	}
}
