package shadow

import (
	"fmt"
	"math"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/passes"
	"github.com/spaghettifunk/umbra/engine/renderer/rhi"
)

const (
	CascadeCount      = 4
	CascadeResolution = 2048

	// How far behind a cascade's slice casters are still captured.
	casterMargin float32 = 50
	minNear      float32 = 1e-3
)

// CascadeData is uploaded once per frame and read by the cascade geometry stage and the composition.
type CascadeData struct {
	ViewProj [CascadeCount]mgl32.Mat4
	// View space far distance of each cascade.
	Splits [CascadeCount]float32
}

var cascadeStride = gpu.AlignUp(uint64(len(gpu.Bytes(&CascadeData{}))), gpu.UniformAlignment)

// SplitDistances returns the far distance of each of count cascades, blending a
// logarithmic (lambda = 1) and a uniform (lambda = 0) partition of [near, far].
// The result is strictly increasing and its last element is far.
func SplitDistances(near, far, lambda float32, count int) []float32 {
	near = splitStart(near, far)
	splits := make([]float32, count)
	for i := 1; i <= count; i++ {
		p := float32(i) / float32(count)
		log := near * math32.Pow(far/near, p)
		uniform := near + (far-near)*p
		splits[i-1] = lambda*log + (1-lambda)*uniform
	}
	splits[count-1] = far
	return splits
}

// splitStart is the near distance the partition starts from. A non-positive near
// is moved inside (0, far) so the logarithmic term stays defined.
func splitStart(near, far float32) float32 {
	if near > 0 {
		return near
	}
	return math32.Min(minNear, far*0.5)
}

// FitCascade returns a light space orthographic view projection tightly bounding corners,
// snapped to whole shadow map texels so the fit does not shimmer when the camera moves.
func FitCascade(corners [8]mgl32.Vec3, direction mgl32.Vec3, resolution float32) mgl32.Mat4 {
	var center mgl32.Vec3
	for _, c := range corners {
		center = center.Add(c)
	}
	center = center.Mul(1.0 / 8)

	dir := direction.Normalize()
	up := mgl32.Vec3{0, 1, 0}
	if math32.Abs(dir.Y()) > 0.99 {
		up = mgl32.Vec3{0, 0, 1}
	}
	eye := center.Sub(dir)
	view := mgl32.LookAtV(eye, center, up)

	minV := mgl32.Vec3{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32}
	maxV := mgl32.Vec3{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32}
	for _, c := range corners {
		p := view.Mul4x1(c.Vec4(1)).Vec3()
		for k := 0; k < 3; k++ {
			minV[k] = math32.Min(minV[k], p[k])
			maxV[k] = math32.Max(maxV[k], p[k])
		}
	}

	unitsX := (maxV.X() - minV.X()) / resolution
	unitsY := (maxV.Y() - minV.Y()) / resolution
	if unitsX > 0 {
		minV[0] = math32.Floor(minV.X()/unitsX) * unitsX
		maxV[0] = math32.Ceil(maxV.X()/unitsX) * unitsX
	}
	if unitsY > 0 {
		minV[1] = math32.Floor(minV.Y()/unitsY) * unitsY
		maxV[1] = math32.Ceil(maxV.Y()/unitsY) * unitsY
	}

	// The light looks down -Z, so the nearest point has the largest z.
	near := -maxV.Z() - casterMargin
	far := -minV.Z()
	proj := mgl32.Ortho(minV.X(), maxV.X(), minV.Y(), maxV.Y(), near, far)
	return metadata.VulkanClip.Mul4(proj).Mul4(view)
}

// UpdateCascades fits every cascade of the camera frustum for a directional light.
func UpdateCascades(camera *metadata.Camera, direction mgl32.Vec3, aspect, lambda float32) CascadeData {
	var data CascadeData
	splits := SplitDistances(camera.Near, camera.Far, lambda, CascadeCount)
	prev := splitStart(camera.Near, camera.Far)
	for i, split := range splits {
		corners := camera.FrustumCorners(aspect, prev, split)
		data.ViewProj[i] = FitCascade(corners, direction, CascadeResolution)
		data.Splits[i] = split
		prev = split
	}
	return data
}

// Cascaded renders the directional light into a layered depth array, one layer per cascade.
// Every caster is drawn once and fanned out to the layers by the geometry stage.
type Cascaded struct {
	device   gpu.Device
	shaders  passes.ShaderSource
	settings core.ShadowsSection

	renderPass  gpu.RenderPass
	setLayout   gpu.DescriptorSetLayout
	layout      gpu.PipelineLayout
	pipelines   casterPipelines
	image       gpu.Image
	framebuffer gpu.Framebuffer
	uniforms    gpu.Buffer

	data    CascadeData
	casters []passes.Caster
}

const cascadePushStages = gpu.ShaderStageVertex

func NewCascaded(device gpu.Device, shaders passes.ShaderSource, settings core.ShadowsSection) *Cascaded {
	return &Cascaded{device: device, shaders: shaders, settings: settings}
}

func (c *Cascaded) Name() string        { return "shadow_cascades" }
func (c *Cascaded) Stage() passes.Stage { return passes.StageShadow }

func (c *Cascaded) CreateRenderPass() (err error) {
	c.renderPass, err = depthOnlyRenderPass(c.device, c.Name())
	return err
}

func (c *Cascaded) CreateDescriptorSetLayouts() (err error) {
	c.setLayout, err = casterSetLayout(c.device, gpu.ShaderStageGeometry)
	return err
}

func (c *Cascaded) CreatePipelineLayouts() (err error) {
	c.layout, err = c.device.NewPipelineLayout(gpu.PipelineLayoutDesc{
		SetLayouts:    []gpu.DescriptorSetLayout{c.setLayout},
		PushConstants: []gpu.PushConstantRange{{Stages: cascadePushStages, Size: uint32(len(gpu.Bytes(&passes.ModelPush{})))}},
	})
	return err
}

func (c *Cascaded) CreatePipelines() error {
	return c.pipelines.build(c.device, c.shaders, gpu.GraphicsPipelineDesc{
		Layout:       c.layout,
		RenderPass:   c.renderPass,
		Topology:     gpu.PrimitiveTopologyTriangleList,
		CullMode:     gpu.CullModeNone,
		DepthTest:    true,
		DepthWrite:   true,
		DepthCompare: gpu.CompareOpLessOrEqual,
		DepthBias:    true,
	}, "shadow_cascade", passes.Geometry("shadow_cascade.geom"))
}

func (c *Cascaded) DestroyPipelines() {
	c.pipelines.destroy()
}

func (c *Cascaded) CreateFramebuffer() (err error) {
	c.framebuffer, err = c.device.NewFramebuffer(gpu.FramebufferDesc{
		RenderPass:  c.renderPass,
		Attachments: []gpu.ImageView{c.image.AttachmentView()},
		Width:       CascadeResolution,
		Height:      CascadeResolution,
		Layers:      CascadeCount,
	})
	return err
}

// CreateResizableObjects ignores the window extent: the cascade resolution is fixed.
func (c *Cascaded) CreateResizableObjects(width, height uint32) error {
	var err error
	c.image, err = newClearedImage(c.device, gpu.ImageDesc{
		Name:     c.Name(),
		Format:   c.device.DepthFormat(),
		Width:    CascadeResolution,
		Height:   CascadeResolution,
		Layers:   CascadeCount,
		Usage:    gpu.ImageUsageDepthStencilAttachment | gpu.ImageUsageSampled | gpu.ImageUsageTransferDst,
		ViewType: gpu.ImageViewType2DArray,
	}, gpu.ClearDepth(1))
	if err != nil {
		return err
	}
	c.uniforms, err = c.device.NewBuffer(gpu.BufferDesc{
		Name:        "cascade_uniforms",
		Size:        cascadeStride * rhi.MaxFramesInFlight,
		Usage:       gpu.BufferUsageUniform,
		HostVisible: true,
	})
	if err != nil {
		return err
	}
	return c.CreateFramebuffer()
}

func (c *Cascaded) DestroyResizableObjects() {
	passes.Destroy(c.framebuffer, c.image, c.uniforms)
	c.framebuffer, c.image, c.uniforms = nil, nil, nil
}

// OnResize is a no-op, the cascades do not depend on the window extent.
func (c *Cascaded) OnResize(width, height uint32) error {
	return nil
}

// Enabled reports whether the frame has a directional light casting shadows.
func (c *Cascaded) Enabled(frame *passes.Frame) bool {
	if !c.settings.EnableCascades {
		return false
	}
	lighting, ok := lightingOf(frame)
	return ok && lighting.Directional != nil && lighting.Directional.CastShadows
}

func (c *Cascaded) Prepare(frame *passes.Frame) error {
	lighting, _ := lightingOf(frame)
	c.data = UpdateCascades(frame.Data.Camera, lighting.Directional.Direction, frame.Aspect(), c.settings.CascadeLambda)
	c.casters = passes.ShadowCasters(frame.Data.Items)
	if err := c.uniforms.Write(uint64(frame.Slot)*cascadeStride, gpu.Bytes(&c.data)); err != nil {
		return fmt.Errorf("failed to upload cascades: %w", err)
	}
	return nil
}

func (c *Cascaded) Record(cmd gpu.CommandBuffer, frame *passes.Frame) error {
	cmd.BeginRenderPass(c.renderPass, c.framebuffer, []gpu.ClearValue{gpu.ClearDepth(1)})
	passes.SetFullViewport(cmd, gpu.Extent2D{Width: CascadeResolution, Height: CascadeResolution})
	uniform := &gpu.BufferBinding{Buffer: c.uniforms, Offset: uint64(frame.Slot) * cascadeStride, Range: cascadeStride}
	err := c.pipelines.draw(cmd, c.layout, cascadePushStages, c.casters, uniform, func(caster passes.Caster) []byte {
		push := passes.ModelPush{Model: caster.Transform}
		return gpu.Bytes(&push)
	})
	cmd.EndRenderPass()
	return err
}

// Data returns the cascades of the last prepared frame.
func (c *Cascaded) Data() CascadeData {
	return c.data
}

// View is the 2D array view sampled by the composition.
func (c *Cascaded) View() gpu.ImageView {
	return c.image.SampledView()
}

func (c *Cascaded) Destroy() {
	c.DestroyPipelines()
	c.DestroyResizableObjects()
	passes.Destroy(c.layout, c.setLayout, c.renderPass)
	c.layout, c.setLayout, c.renderPass = nil, nil, nil
}
