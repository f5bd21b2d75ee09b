package shadow

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/passes"
)

const (
	MaxSpotLightShadows  = 4
	SpotShadowResolution = 1024

	spotNear float32 = 0.05
)

type spotPush struct {
	Model    mgl32.Mat4
	ViewProj mgl32.Mat4
}

const spotPushStages = gpu.ShaderStageVertex

// SpotViewProjection looks down the spot axis with a field of view of twice the outer cone.
func SpotViewProjection(light metadata.SpotLight) mgl32.Mat4 {
	dir := light.Direction.Normalize()
	up := mgl32.Vec3{0, 1, 0}
	if math32.Abs(dir.Y()) > 0.99 {
		up = mgl32.Vec3{0, 0, 1}
	}
	fov := mgl32.Clamp(2*light.OuterCone, mgl32.DegToRad(1), mgl32.DegToRad(179))
	far := math32.Max(light.Range, spotNear*2)
	view := mgl32.LookAtV(light.Position, light.Position.Add(dir), up)
	proj := mgl32.Perspective(fov, 1, spotNear, far)
	return metadata.VulkanClip.Mul4(proj).Mul4(view)
}

type spotTarget struct {
	depth       gpu.Image
	framebuffer gpu.Framebuffer
}

// Spot renders one perspective depth map per shadowed spot light.
type Spot struct {
	device   gpu.Device
	shaders  passes.ShaderSource
	settings core.ShadowsSection

	renderPass gpu.RenderPass
	setLayout  gpu.DescriptorSetLayout
	layout     gpu.PipelineLayout
	pipelines  casterPipelines
	targets    pool[*spotTarget]

	assignments []int32
	viewProj    []mgl32.Mat4
	casters     []passes.Caster
}

func NewSpot(device gpu.Device, shaders passes.ShaderSource, settings core.ShadowsSection) *Spot {
	s := &Spot{device: device, shaders: shaders, settings: settings}
	s.targets = pool[*spotTarget]{
		capacity: MaxSpotLightShadows,
		create:   s.newTarget,
		destroy: func(t *spotTarget) {
			passes.Destroy(t.framebuffer, t.depth)
		},
	}
	return s
}

func (s *Spot) Name() string        { return "shadow_spot" }
func (s *Spot) Stage() passes.Stage { return passes.StageShadow }

func (s *Spot) CreateRenderPass() (err error) {
	s.renderPass, err = depthOnlyRenderPass(s.device, s.Name())
	return err
}

func (s *Spot) CreateDescriptorSetLayouts() (err error) {
	s.setLayout, err = casterSetLayout(s.device, 0)
	return err
}

func (s *Spot) CreatePipelineLayouts() (err error) {
	s.layout, err = s.device.NewPipelineLayout(gpu.PipelineLayoutDesc{
		SetLayouts:    []gpu.DescriptorSetLayout{s.setLayout},
		PushConstants: []gpu.PushConstantRange{{Stages: spotPushStages, Size: uint32(len(gpu.Bytes(&spotPush{})))}},
	})
	return err
}

func (s *Spot) CreatePipelines() error {
	return s.pipelines.build(s.device, s.shaders, gpu.GraphicsPipelineDesc{
		Layout:       s.layout,
		RenderPass:   s.renderPass,
		Topology:     gpu.PrimitiveTopologyTriangleList,
		CullMode:     gpu.CullModeNone,
		DepthTest:    true,
		DepthWrite:   true,
		DepthCompare: gpu.CompareOpLessOrEqual,
		DepthBias:    true,
	}, "shadow_spot")
}

func (s *Spot) DestroyPipelines() {
	s.pipelines.destroy()
}

func (s *Spot) newTarget(index int) (*spotTarget, error) {
	t := &spotTarget{}
	var err error
	t.depth, err = newClearedImage(s.device, gpu.ImageDesc{
		Name:     fmt.Sprintf("spot_depth_%d", index),
		Format:   s.device.DepthFormat(),
		Width:    SpotShadowResolution,
		Height:   SpotShadowResolution,
		Layers:   1,
		Usage:    gpu.ImageUsageDepthStencilAttachment | gpu.ImageUsageSampled | gpu.ImageUsageTransferDst,
		ViewType: gpu.ImageViewType2D,
	}, gpu.ClearDepth(1))
	if err != nil {
		return nil, err
	}
	t.framebuffer, err = s.device.NewFramebuffer(gpu.FramebufferDesc{
		RenderPass:  s.renderPass,
		Attachments: []gpu.ImageView{t.depth.AttachmentView()},
		Width:       SpotShadowResolution,
		Height:      SpotShadowResolution,
		Layers:      1,
	})
	if err != nil {
		t.depth.Destroy()
		return nil, err
	}
	core.LogDebug("spot shadow pool grew to %d", index+1)
	return t, nil
}

// CreateFramebuffer is a no-op; each pooled target owns its framebuffer.
func (s *Spot) CreateFramebuffer() error {
	return nil
}

// CreateResizableObjects creates nothing up front, targets are allocated on demand.
func (s *Spot) CreateResizableObjects(width, height uint32) error {
	return s.CreateFramebuffer()
}

func (s *Spot) DestroyResizableObjects() {
	s.targets.release()
}

func (s *Spot) OnResize(width, height uint32) error {
	return nil
}

func (s *Spot) Enabled(frame *passes.Frame) bool {
	if !s.settings.EnableSpot {
		return false
	}
	lighting, ok := lightingOf(frame)
	if !ok {
		return false
	}
	for i, l := range lighting.Spots {
		if i >= metadata.MaxSpotLights {
			break
		}
		if l.CastShadows {
			return true
		}
	}
	return false
}

// UpdateLights assigns a depth map to the first casting spot lights and grows the pool as needed.
func (s *Spot) UpdateLights(lights []metadata.SpotLight) ([]int32, error) {
	if len(lights) > metadata.MaxSpotLights {
		lights = lights[:metadata.MaxSpotLights]
	}
	casts := make([]bool, len(lights))
	for i, l := range lights {
		casts[i] = l.CastShadows
	}
	assignments, needed := assignShadows(casts, MaxSpotLightShadows)
	if _, err := s.targets.ensure(needed); err != nil {
		return nil, fmt.Errorf("failed to grow spot shadow pool: %w", err)
	}
	s.viewProj = s.viewProj[:0]
	for i, idx := range assignments {
		if idx >= 0 {
			s.viewProj = append(s.viewProj, SpotViewProjection(lights[i]))
		}
	}
	s.assignments = assignments
	return assignments, nil
}

func (s *Spot) Prepare(frame *passes.Frame) error {
	lighting, _ := lightingOf(frame)
	if _, err := s.UpdateLights(lighting.Spots); err != nil {
		return err
	}
	s.casters = passes.ShadowCasters(frame.Data.Items)
	return nil
}

func (s *Spot) Record(cmd gpu.CommandBuffer, frame *passes.Frame) error {
	for i, vp := range s.viewProj {
		t := s.targets.items[i]
		cmd.BeginRenderPass(s.renderPass, t.framebuffer, []gpu.ClearValue{gpu.ClearDepth(1)})
		passes.SetFullViewport(cmd, gpu.Extent2D{Width: SpotShadowResolution, Height: SpotShadowResolution})
		viewProj := vp
		err := s.pipelines.draw(cmd, s.layout, spotPushStages, s.casters, nil, func(caster passes.Caster) []byte {
			push := spotPush{Model: caster.Transform, ViewProj: viewProj}
			return gpu.Bytes(&push)
		})
		cmd.EndRenderPass()
		if err != nil {
			return err
		}
	}
	return nil
}

// Assignments maps each spot light of the last prepared frame to its map index, or -1.
func (s *Spot) Assignments() []int32 {
	return s.assignments
}

// ViewProjections returns the light matrix of each assigned map, in map order.
func (s *Spot) ViewProjections() []mgl32.Mat4 {
	return s.viewProj
}

func (s *Spot) Views() []gpu.ImageView {
	views := make([]gpu.ImageView, 0, s.targets.len())
	for _, t := range s.targets.items {
		views = append(views, t.depth.SampledView())
	}
	return views
}

func (s *Spot) Destroy() {
	s.DestroyPipelines()
	s.DestroyResizableObjects()
	passes.Destroy(s.layout, s.setLayout, s.renderPass)
	s.layout, s.setLayout, s.renderPass = nil, nil, nil
}
