package shadow

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/passes"
	"github.com/spaghettifunk/umbra/engine/renderer/rhi"
)

const (
	MaxPointLightShadows  = 4
	PointShadowResolution = 1024

	pointNear float32 = 0.05
)

// PointData holds the six face view projections of every shadowed point light.
type PointData struct {
	FaceViewProj [MaxPointLightShadows][6]mgl32.Mat4
}

var pointStride = gpu.AlignUp(uint64(len(gpu.Bytes(&PointData{}))), gpu.UniformAlignment)

type pointPush struct {
	Model mgl32.Mat4
	// xyz light position, w far plane.
	LightPositionFar mgl32.Vec4
	Index            [4]uint32
}

const pointPushStages = gpu.ShaderStageVertex | gpu.ShaderStageGeometry | gpu.ShaderStageFragment

// cubeFaces are the look directions and up vectors of the +X, -X, +Y, -Y, +Z, -Z layers.
var cubeFaces = [6][2]mgl32.Vec3{
	{{1, 0, 0}, {0, -1, 0}},
	{{-1, 0, 0}, {0, -1, 0}},
	{{0, 1, 0}, {0, 0, 1}},
	{{0, -1, 0}, {0, 0, -1}},
	{{0, 0, 1}, {0, -1, 0}},
	{{0, 0, -1}, {0, -1, 0}},
}

// CubeFaceViewProjections returns the 90 degree projections of the six cube layers around position.
func CubeFaceViewProjections(position mgl32.Vec3, far float32) [6]mgl32.Mat4 {
	proj := depthRemap.Mul4(mgl32.Perspective(mgl32.DegToRad(90), 1, pointNear, far))
	var out [6]mgl32.Mat4
	for i, face := range cubeFaces {
		view := mgl32.LookAtV(position, position.Add(face[0]), face[1])
		out[i] = proj.Mul4(view)
	}
	return out
}

type pointTarget struct {
	distance    gpu.Image
	depth       gpu.Image
	framebuffer gpu.Framebuffer
}

// Point renders linear light distance into one cube map per shadowed point light.
type Point struct {
	device   gpu.Device
	shaders  passes.ShaderSource
	settings core.ShadowsSection

	renderPass gpu.RenderPass
	setLayout  gpu.DescriptorSetLayout
	layout     gpu.PipelineLayout
	pipelines  casterPipelines
	uniforms   gpu.Buffer
	targets    pool[*pointTarget]

	data        PointData
	assignments []int32
	shadowed    []metadata.PointLight
	casters     []passes.Caster
}

func NewPoint(device gpu.Device, shaders passes.ShaderSource, settings core.ShadowsSection) *Point {
	p := &Point{device: device, shaders: shaders, settings: settings}
	p.targets = pool[*pointTarget]{
		capacity: MaxPointLightShadows,
		create:   p.newTarget,
		destroy: func(t *pointTarget) {
			passes.Destroy(t.framebuffer, t.depth, t.distance)
		},
	}
	return p
}

func (p *Point) Name() string        { return "shadow_point" }
func (p *Point) Stage() passes.Stage { return passes.StageShadow }

func (p *Point) CreateRenderPass() (err error) {
	p.renderPass, err = p.device.NewRenderPass(gpu.RenderPassDesc{
		Name: p.Name(),
		Attachments: []gpu.AttachmentDesc{
			{
				Format:        gpu.FormatR32Sfloat,
				LoadOp:        gpu.LoadOpClear,
				StoreOp:       gpu.StoreOpStore,
				InitialLayout: gpu.ImageLayoutUndefined,
				FinalLayout:   gpu.ImageLayoutShaderReadOnlyOptimal,
			},
			{
				Format:        p.device.DepthFormat(),
				LoadOp:        gpu.LoadOpClear,
				StoreOp:       gpu.StoreOpDontCare,
				InitialLayout: gpu.ImageLayoutUndefined,
				FinalLayout:   gpu.ImageLayoutDepthStencilAttachmentOptimal,
			},
		},
		Subpasses: []gpu.SubpassDesc{{
			Colors: []gpu.AttachmentRef{{Attachment: 0, Layout: gpu.ImageLayoutColorAttachmentOptimal}},
			Depth:  &gpu.AttachmentRef{Attachment: 1, Layout: gpu.ImageLayoutDepthStencilAttachmentOptimal},
		}},
		Dependencies: producerDependencies(true),
	})
	return err
}

func (p *Point) CreateDescriptorSetLayouts() (err error) {
	p.setLayout, err = casterSetLayout(p.device, gpu.ShaderStageGeometry)
	return err
}

func (p *Point) CreatePipelineLayouts() (err error) {
	p.layout, err = p.device.NewPipelineLayout(gpu.PipelineLayoutDesc{
		SetLayouts:    []gpu.DescriptorSetLayout{p.setLayout},
		PushConstants: []gpu.PushConstantRange{{Stages: pointPushStages, Size: uint32(len(gpu.Bytes(&pointPush{})))}},
	})
	return err
}

func (p *Point) CreatePipelines() error {
	return p.pipelines.build(p.device, p.shaders, gpu.GraphicsPipelineDesc{
		Layout:       p.layout,
		RenderPass:   p.renderPass,
		Topology:     gpu.PrimitiveTopologyTriangleList,
		CullMode:     gpu.CullModeBack,
		DepthTest:    true,
		DepthWrite:   true,
		DepthCompare: gpu.CompareOpLessOrEqual,
		Blend:        []gpu.BlendState{{}},
	}, "shadow_point", passes.Geometry("shadow_point.geom"), passes.Fragment("shadow_point.frag"))
}

func (p *Point) DestroyPipelines() {
	p.pipelines.destroy()
}

func (p *Point) newTarget(index int) (*pointTarget, error) {
	t := &pointTarget{}
	var err error
	base := gpu.ImageDesc{
		Width:  PointShadowResolution,
		Height: PointShadowResolution,
		Layers: 6,
	}
	distance := base
	distance.Name = fmt.Sprintf("point_distance_%d", index)
	distance.Format = gpu.FormatR32Sfloat
	distance.Usage = gpu.ImageUsageColorAttachment | gpu.ImageUsageSampled | gpu.ImageUsageTransferDst
	distance.ViewType = gpu.ImageViewTypeCube
	if t.distance, err = newClearedImage(p.device, distance, gpu.ClearColor(1, 1, 1, 1)); err != nil {
		return nil, err
	}
	depth := base
	depth.Name = fmt.Sprintf("point_depth_%d", index)
	depth.Format = p.device.DepthFormat()
	depth.Usage = gpu.ImageUsageDepthStencilAttachment
	depth.ViewType = gpu.ImageViewType2DArray
	if t.depth, err = p.device.NewImage(depth); err != nil {
		t.distance.Destroy()
		return nil, err
	}
	t.framebuffer, err = p.device.NewFramebuffer(gpu.FramebufferDesc{
		RenderPass:  p.renderPass,
		Attachments: []gpu.ImageView{t.distance.AttachmentView(), t.depth.AttachmentView()},
		Width:       PointShadowResolution,
		Height:      PointShadowResolution,
		Layers:      6,
	})
	if err != nil {
		passes.Destroy(t.depth, t.distance)
		return nil, err
	}
	core.LogDebug("point shadow pool grew to %d", index+1)
	return t, nil
}

// CreateFramebuffer is a no-op; each pooled target owns its framebuffer.
func (p *Point) CreateFramebuffer() error {
	return nil
}

func (p *Point) CreateResizableObjects(width, height uint32) (err error) {
	p.uniforms, err = p.device.NewBuffer(gpu.BufferDesc{
		Name:        "point_shadow_uniforms",
		Size:        pointStride * rhi.MaxFramesInFlight,
		Usage:       gpu.BufferUsageUniform,
		HostVisible: true,
	})
	if err != nil {
		return err
	}
	return p.CreateFramebuffer()
}

func (p *Point) DestroyResizableObjects() {
	p.targets.release()
	passes.Destroy(p.uniforms)
	p.uniforms = nil
}

// OnResize is a no-op, the cube resolution is fixed.
func (p *Point) OnResize(width, height uint32) error {
	return nil
}

func (p *Point) Enabled(frame *passes.Frame) bool {
	if !p.settings.EnablePoint {
		return false
	}
	lighting, ok := lightingOf(frame)
	if !ok {
		return false
	}
	for i, l := range lighting.Points {
		if i >= metadata.MaxPointLights {
			break
		}
		if l.CastShadows {
			return true
		}
	}
	return false
}

// UpdateLights assigns shadow targets to the casting lights in order and grows the pool as needed.
// The returned slice maps each light to its target index, or -1.
func (p *Point) UpdateLights(lights []metadata.PointLight) ([]int32, error) {
	if len(lights) > metadata.MaxPointLights {
		lights = lights[:metadata.MaxPointLights]
	}
	casts := make([]bool, len(lights))
	for i, l := range lights {
		casts[i] = l.CastShadows
	}
	assignments, needed := assignShadows(casts, MaxPointLightShadows)
	if _, err := p.targets.ensure(needed); err != nil {
		return nil, fmt.Errorf("failed to grow point shadow pool: %w", err)
	}

	p.shadowed = p.shadowed[:0]
	p.data = PointData{}
	for i, idx := range assignments {
		if idx < 0 {
			continue
		}
		l := lights[i]
		p.data.FaceViewProj[idx] = CubeFaceViewProjections(l.Position, l.Range)
		p.shadowed = append(p.shadowed, l)
	}
	p.assignments = assignments
	return assignments, nil
}

func (p *Point) Prepare(frame *passes.Frame) error {
	lighting, _ := lightingOf(frame)
	if _, err := p.UpdateLights(lighting.Points); err != nil {
		return err
	}
	p.casters = passes.ShadowCasters(frame.Data.Items)
	return p.uniforms.Write(uint64(frame.Slot)*pointStride, gpu.Bytes(&p.data))
}

func (p *Point) Record(cmd gpu.CommandBuffer, frame *passes.Frame) error {
	uniform := &gpu.BufferBinding{Buffer: p.uniforms, Offset: uint64(frame.Slot) * pointStride, Range: pointStride}
	clears := []gpu.ClearValue{gpu.ClearColor(1, 1, 1, 1), gpu.ClearDepth(1)}
	for i, light := range p.shadowed {
		t := p.targets.items[i]
		cmd.BeginRenderPass(p.renderPass, t.framebuffer, clears)
		passes.SetFullViewport(cmd, gpu.Extent2D{Width: PointShadowResolution, Height: PointShadowResolution})
		index := uint32(i)
		err := p.pipelines.draw(cmd, p.layout, pointPushStages, p.casters, uniform, func(caster passes.Caster) []byte {
			push := pointPush{
				Model:            caster.Transform,
				LightPositionFar: light.Position.Vec4(light.Range),
				Index:            [4]uint32{index},
			}
			return gpu.Bytes(&push)
		})
		cmd.EndRenderPass()
		if err != nil {
			return err
		}
	}
	return nil
}

// Assignments maps each light of the last prepared frame to its cube index, or -1.
func (p *Point) Assignments() []int32 {
	return p.assignments
}

// Views returns the cube views of the pool, in target order.
func (p *Point) Views() []gpu.ImageView {
	views := make([]gpu.ImageView, 0, p.targets.len())
	for _, t := range p.targets.items {
		views = append(views, t.distance.SampledView())
	}
	return views
}

func (p *Point) Destroy() {
	p.DestroyPipelines()
	p.DestroyResizableObjects()
	passes.Destroy(p.layout, p.setLayout, p.renderPass)
	p.layout, p.setLayout, p.renderPass = nil, nil, nil
}
