package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

// Rasterizer depth bias applied by pipelines with DepthBias set. Tuned for
// 32 bit float shadow maps.
const (
	depthBiasConstant = 1.25
	depthBiasSlope    = 1.75
)

type DescriptorSetLayout struct {
	dev       *Device
	desc      gpu.DescriptorSetLayoutDesc
	handle    vk.DescriptorSetLayout
	destroyed bool
}

// NewDescriptorSetLayout creates a regular set layout for push layouts too: their
// sets are allocated per draw from the command buffer pools.
func (d *Device) NewDescriptorSetLayout(desc gpu.DescriptorSetLayoutDesc) (gpu.DescriptorSetLayout, error) {
	bindings := make([]vk.DescriptorSetLayoutBinding, len(desc.Bindings))
	for i, b := range desc.Bindings {
		count := b.Count
		if count == 0 {
			count = 1
		}
		bindings[i] = vk.DescriptorSetLayoutBinding{
			Binding:         b.Binding,
			DescriptorType:  vk.DescriptorType(b.Type),
			DescriptorCount: count,
			StageFlags:      vk.ShaderStageFlags(b.Stages),
		}
	}
	info := vk.DescriptorSetLayoutCreateInfo{
		SType:        vk.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(bindings)),
		PBindings:    bindings,
	}
	l := &DescriptorSetLayout{dev: d, desc: desc}
	if err := ResultError("vkCreateDescriptorSetLayout", vk.CreateDescriptorSetLayout(d.handle, &info, nil, &l.handle)); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *DescriptorSetLayout) Desc() gpu.DescriptorSetLayoutDesc {
	return l.desc
}

func (l *DescriptorSetLayout) Destroy() {
	if l.destroyed {
		return
	}
	l.destroyed = true
	vk.DestroyDescriptorSetLayout(l.dev.handle, l.handle, nil)
}

type PipelineLayout struct {
	dev        *Device
	desc       gpu.PipelineLayoutDesc
	handle     vk.PipelineLayout
	setLayouts []*DescriptorSetLayout
	destroyed  bool
}

// pushConstantRanges validates ranges against the device limit and converts them.
func pushConstantRanges(ranges []gpu.PushConstantRange, limit uint32) ([]vk.PushConstantRange, error) {
	out := make([]vk.PushConstantRange, len(ranges))
	for i, r := range ranges {
		if r.Size == 0 || r.Size%4 != 0 || r.Offset%4 != 0 {
			return nil, fmt.Errorf("push constant range %d (offset %d, size %d) is not 4 byte aligned", i, r.Offset, r.Size)
		}
		if r.Offset+r.Size > limit {
			return nil, fmt.Errorf("push constant range %d ends at %d, device limit is %d", i, r.Offset+r.Size, limit)
		}
		out[i] = vk.PushConstantRange{
			StageFlags: vk.ShaderStageFlags(r.Stages),
			Offset:     r.Offset,
			Size:       r.Size,
		}
	}
	return out, nil
}

func (d *Device) NewPipelineLayout(desc gpu.PipelineLayoutDesc) (gpu.PipelineLayout, error) {
	ranges, err := pushConstantRanges(desc.PushConstants, d.limits.MaxPushConstantsSize)
	if err != nil {
		return nil, err
	}
	pl := &PipelineLayout{dev: d, desc: desc}
	handles := make([]vk.DescriptorSetLayout, len(desc.SetLayouts))
	for i, sl := range desc.SetLayouts {
		l, ok := sl.(*DescriptorSetLayout)
		if !ok {
			return nil, fmt.Errorf("pipeline layout: set %d is %T", i, sl)
		}
		pl.setLayouts = append(pl.setLayouts, l)
		handles[i] = l.handle
	}
	info := vk.PipelineLayoutCreateInfo{
		SType:                  vk.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         uint32(len(handles)),
		PSetLayouts:            handles,
		PushConstantRangeCount: uint32(len(ranges)),
		PPushConstantRanges:    ranges,
	}
	if err := ResultError("vkCreatePipelineLayout", vk.CreatePipelineLayout(d.handle, &info, nil, &pl.handle)); err != nil {
		return nil, err
	}
	return pl, nil
}

func (l *PipelineLayout) Desc() gpu.PipelineLayoutDesc {
	return l.desc
}

func (l *PipelineLayout) Destroy() {
	if l.destroyed {
		return
	}
	l.destroyed = true
	vk.DestroyPipelineLayout(l.dev.handle, l.handle, nil)
}

type ShaderModule struct {
	dev    *Device
	name   string
	handle vk.ShaderModule
}

func (d *Device) NewShaderModule(name string, code []byte) (gpu.ShaderModule, error) {
	words, err := spirvWords(code)
	if err != nil {
		return nil, fmt.Errorf("shader `%s`: %w", name, err)
	}
	info := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code)),
		PCode:    words,
	}
	m := &ShaderModule{dev: d, name: name}
	if err := ResultError("vkCreateShaderModule", vk.CreateShaderModule(d.handle, &info, nil, &m.handle)); err != nil {
		return nil, fmt.Errorf("shader `%s`: %w", name, err)
	}
	return m, nil
}

func (m *ShaderModule) Name() string {
	return m.name
}

func (m *ShaderModule) Destroy() {
	if m.handle == vk.NullShaderModule {
		return
	}
	vk.DestroyShaderModule(m.dev.handle, m.handle, nil)
	m.handle = vk.NullShaderModule
}

type Pipeline struct {
	dev    *Device
	desc   gpu.GraphicsPipelineDesc
	handle vk.Pipeline
}

func blendAttachment(b gpu.BlendState) vk.PipelineColorBlendAttachmentState {
	state := vk.PipelineColorBlendAttachmentState{
		BlendEnable:  vk.False,
		ColorBlendOp: vk.BlendOpAdd,
		AlphaBlendOp: vk.BlendOpAdd,
		ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit | vk.ColorComponentGBit |
			vk.ColorComponentBBit | vk.ColorComponentABit),
	}
	if !b.Enable {
		return state
	}
	state.BlendEnable = vk.True
	if b.Additive {
		state.SrcColorBlendFactor = vk.BlendFactorOne
		state.DstColorBlendFactor = vk.BlendFactorOne
		state.SrcAlphaBlendFactor = vk.BlendFactorOne
		state.DstAlphaBlendFactor = vk.BlendFactorOne
		return state
	}
	state.SrcColorBlendFactor = vk.BlendFactorSrcAlpha
	state.DstColorBlendFactor = vk.BlendFactorOneMinusSrcAlpha
	state.SrcAlphaBlendFactor = vk.BlendFactorOne
	state.DstAlphaBlendFactor = vk.BlendFactorOneMinusSrcAlpha
	return state
}

func (d *Device) NewGraphicsPipeline(desc gpu.GraphicsPipelineDesc) (gpu.Pipeline, error) {
	layout, ok := desc.Layout.(*PipelineLayout)
	if !ok {
		return nil, fmt.Errorf("pipeline `%s`: layout is %T", desc.Name, desc.Layout)
	}
	rp, ok := desc.RenderPass.(*RenderPass)
	if !ok {
		return nil, fmt.Errorf("pipeline `%s`: render pass is %T", desc.Name, desc.RenderPass)
	}
	if len(desc.Stages) == 0 {
		return nil, fmt.Errorf("pipeline `%s` has no shader stage", desc.Name)
	}

	stages := make([]vk.PipelineShaderStageCreateInfo, len(desc.Stages))
	for i, s := range desc.Stages {
		m, ok := s.Module.(*ShaderModule)
		if !ok {
			return nil, fmt.Errorf("pipeline `%s`: stage %d module is %T", desc.Name, i, s.Module)
		}
		stages[i] = vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  vk.ShaderStageFlagBits(s.Stage),
			Module: m.handle,
			PName:  "main\x00",
		}
	}

	bindings := make([]vk.VertexInputBindingDescription, len(desc.VertexBindings))
	for i, b := range desc.VertexBindings {
		bindings[i] = vk.VertexInputBindingDescription{
			Binding:   b.Binding,
			Stride:    b.Stride,
			InputRate: vk.VertexInputRateVertex,
		}
	}
	attributes := make([]vk.VertexInputAttributeDescription, len(desc.VertexAttributes))
	for i, a := range desc.VertexAttributes {
		attributes[i] = vk.VertexInputAttributeDescription{
			Location: a.Location,
			Binding:  a.Binding,
			Format:   vk.Format(a.Format),
			Offset:   a.Offset,
		}
	}
	vertexInput := vk.PipelineVertexInputStateCreateInfo{
		SType:                           vk.StructureTypePipelineVertexInputStateCreateInfo,
		VertexBindingDescriptionCount:   uint32(len(bindings)),
		PVertexBindingDescriptions:      bindings,
		VertexAttributeDescriptionCount: uint32(len(attributes)),
		PVertexAttributeDescriptions:    attributes,
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopology(desc.Topology),
		PrimitiveRestartEnable: vk.False,
	}

	// Viewport and scissor are dynamic, the counts still have to be declared.
	viewport := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}

	rasterizer := vk.PipelineRasterizationStateCreateInfo{
		SType:                   vk.StructureTypePipelineRasterizationStateCreateInfo,
		DepthClampEnable:        vk.False,
		RasterizerDiscardEnable: vk.False,
		PolygonMode:             vk.PolygonModeFill,
		LineWidth:               1.0,
		CullMode:                vk.CullModeFlags(desc.CullMode),
		FrontFace:               vk.FrontFaceCounterClockwise,
		DepthBiasEnable:         vk.False,
	}
	if desc.DepthBias {
		rasterizer.DepthBiasEnable = vk.True
		rasterizer.DepthBiasConstantFactor = depthBiasConstant
		rasterizer.DepthBiasSlopeFactor = depthBiasSlope
	}

	multisample := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: vk.SampleCount1Bit,
		MinSampleShading:     1.0,
	}

	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType:             vk.StructureTypePipelineDepthStencilStateCreateInfo,
		DepthTestEnable:   vk.False,
		DepthWriteEnable:  vk.False,
		DepthCompareOp:    vk.CompareOpAlways,
		StencilTestEnable: vk.False,
		MaxDepthBounds:    1.0,
	}
	if desc.DepthTest {
		depthStencil.DepthTestEnable = vk.True
		depthStencil.DepthCompareOp = vk.CompareOp(desc.DepthCompare)
	}
	if desc.DepthWrite {
		depthStencil.DepthWriteEnable = vk.True
	}

	blends := make([]vk.PipelineColorBlendAttachmentState, len(desc.Blend))
	for i, b := range desc.Blend {
		blends[i] = blendAttachment(b)
	}
	colorBlend := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: uint32(len(blends)),
		PAttachments:    blends,
	}

	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamic := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	info := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stages)),
		PStages:             stages,
		PVertexInputState:   &vertexInput,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewport,
		PRasterizationState: &rasterizer,
		PMultisampleState:   &multisample,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlend,
		PDynamicState:       &dynamic,
		Layout:              layout.handle,
		RenderPass:          rp.handle,
		Subpass:             desc.Subpass,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}

	cache := vk.NullPipelineCache
	if d.cache != nil {
		cache = d.cache.handle
	}
	pipelines := make([]vk.Pipeline, 1)
	if err := ResultError("vkCreateGraphicsPipelines", vk.CreateGraphicsPipelines(d.handle, cache, 1, []vk.GraphicsPipelineCreateInfo{info}, nil, pipelines)); err != nil {
		return nil, fmt.Errorf("pipeline `%s`: %w", desc.Name, err)
	}
	core.LogDebug("graphics pipeline `%s` created", desc.Name)
	return &Pipeline{dev: d, desc: desc, handle: pipelines[0]}, nil
}

func (p *Pipeline) Desc() gpu.GraphicsPipelineDesc {
	return p.desc
}

func (p *Pipeline) Destroy() {
	if p.handle == vk.NullPipeline {
		return
	}
	vk.DestroyPipeline(p.dev.handle, p.handle, nil)
	p.handle = vk.NullPipeline
}
