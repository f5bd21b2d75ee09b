package deferred

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu/gputest"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/passes"
	"github.com/spaghettifunk/umbra/engine/renderer/passes/shadow"
	"github.com/spaghettifunk/umbra/engine/renderer/rhi"
)

type fixture struct {
	dev          *gputest.Device
	placeholders *passes.Placeholders
	shadows      Shadows
	main         *Pass
}

func newFixture(t *testing.T, withShadows bool) *fixture {
	t.Helper()
	return newFixtureOn(t, gputest.NewDevice(), withShadows)
}

func newFixtureOn(t *testing.T, dev *gputest.Device, withShadows bool) *fixture {
	t.Helper()
	ph, err := passes.NewPlaceholders(dev)
	require.NoError(t, err)
	f := &fixture{dev: dev, placeholders: ph}
	if withShadows {
		cfg := core.DefaultConfig().Shadows
		f.shadows = Shadows{
			Cascades: shadow.NewCascaded(dev, &gputest.Shaders{}, cfg),
			Points:   shadow.NewPoint(dev, &gputest.Shaders{}, cfg),
			Spots:    shadow.NewSpot(dev, &gputest.Shaders{}, cfg),
		}
		for _, p := range []passes.Pass{f.shadows.Cascades, f.shadows.Points, f.shadows.Spots} {
			require.NoError(t, passes.Init(p, 800, 600))
		}
	}
	f.main = New(dev, &gputest.Shaders{}, ph, f.shadows, [4]float32{0.1, 0.2, 0.3, 1})
	require.NoError(t, passes.Init(f.main, 800, 600))
	return f
}

func newFrame(slot int, items ...metadata.RenderData) *passes.Frame {
	cam := metadata.NewCamera()
	cam.LookAt(mgl32.Vec3{0, 2, 8}, mgl32.Vec3{0, 0, 0})
	return &passes.Frame{
		FrameInfo: rhi.FrameInfo{Slot: slot, Extent: gpu.Extent2D{Width: 800, Height: 600}},
		Data:      &metadata.FrameData{Camera: cam, Items: items},
	}
}

func mesh(t *testing.T, dev *gputest.Device) metadata.Mesh {
	t.Helper()
	vb, err := dev.NewBuffer(gpu.BufferDesc{Name: "vb", Size: 1024, Usage: gpu.BufferUsageVertex})
	require.NoError(t, err)
	ib, err := dev.NewBuffer(gpu.BufferDesc{Name: "ib", Size: 1024, Usage: gpu.BufferUsageIndex})
	require.NoError(t, err)
	return metadata.Mesh{Vertices: vb, Indices: ib, IndexType: gpu.IndexTypeUint32, IndexCount: 36}
}

func commands(t *testing.T, dev *gputest.Device) *gputest.CommandBuffer {
	t.Helper()
	cmd, err := dev.NewCommandBuffer("test")
	require.NoError(t, err)
	return cmd.(*gputest.CommandBuffer)
}

func TestRenderPassLayout(t *testing.T) {
	f := newFixture(t, false)
	desc := f.main.renderPass.Desc()

	require.Len(t, desc.Attachments, 6)
	assert.Equal(t, gpu.FormatR16G16B16A16Sfloat, desc.Attachments[AttachmentHDR].Format)
	assert.Equal(t, gpu.StoreOpStore, desc.Attachments[AttachmentHDR].StoreOp)
	assert.Equal(t, gpu.ImageLayoutShaderReadOnlyOptimal, desc.Attachments[AttachmentHDR].FinalLayout)
	for i := AttachmentNormal; i <= AttachmentDepth; i++ {
		assert.Equal(t, gpu.LoadOpClear, desc.Attachments[i].LoadOp, "attachment %d", i)
		assert.Equal(t, gpu.StoreOpDontCare, desc.Attachments[i].StoreOp, "attachment %d", i)
	}
	assert.Equal(t, f.dev.DepthFormat(), desc.Attachments[AttachmentDepth].Format)

	require.Len(t, desc.Subpasses, 3)
	assert.Len(t, desc.Subpasses[SubpassGbuffer].Colors, 4)
	assert.NotNil(t, desc.Subpasses[SubpassGbuffer].Depth)
	assert.Len(t, desc.Subpasses[SubpassComposition].Inputs, 5)
	assert.Nil(t, desc.Subpasses[SubpassComposition].Depth)
	assert.Equal(t, uint32(AttachmentHDR), desc.Subpasses[SubpassForward].Colors[0].Attachment)
	assert.Equal(t, gpu.ImageLayoutDepthStencilReadOnlyOptimal, desc.Subpasses[SubpassForward].Depth.Layout)
}

func TestDependencies(t *testing.T) {
	deps := Dependencies()
	type edge struct{ src, dst uint32 }
	byEdge := map[edge]gpu.SubpassDependency{}
	for _, d := range deps {
		byEdge[edge{d.SrcSubpass, d.DstSubpass}] = d
	}
	require.Len(t, byEdge, 5)

	ext := byEdge[edge{gpu.SubpassExternal, SubpassGbuffer}]
	assert.NotZero(t, ext.SrcAccess&gpu.AccessShaderRead)

	gToC, ok := byEdge[edge{SubpassGbuffer, SubpassComposition}]
	require.True(t, ok)
	assert.Equal(t, gpu.AccessInputAttachmentRead, gToC.DstAccess)
	assert.Equal(t, gpu.DependencyByRegion, gToC.Flags)

	gToF, ok := byEdge[edge{SubpassGbuffer, SubpassForward}]
	require.True(t, ok)
	assert.Equal(t, gpu.AccessDepthStencilAttachmentWrite, gToF.SrcAccess)
	assert.Equal(t, gpu.AccessDepthStencilAttachmentRead, gToF.DstAccess)

	cToF, ok := byEdge[edge{SubpassComposition, SubpassForward}]
	require.True(t, ok)
	assert.Equal(t, gpu.AccessColorAttachmentRead|gpu.AccessColorAttachmentWrite, cToF.DstAccess)
	assert.Equal(t, gpu.DependencyByRegion, cToF.Flags)

	out, ok := byEdge[edge{SubpassForward, gpu.SubpassExternal}]
	require.True(t, ok)
	assert.Equal(t, gpu.PipelineStageFragmentShader, out.DstStage)
	assert.Equal(t, gpu.AccessShaderRead, out.DstAccess)
}

func TestNoVisibleMeshesStillRunsEverySubpass(t *testing.T) {
	f := newFixture(t, false)
	frame := newFrame(0)
	require.NoError(t, f.main.Prepare(frame))

	cmd := commands(t, f.dev)
	require.NoError(t, f.main.Record(cmd, frame))

	require.Len(t, cmd.RenderPasses, 1)
	rp := cmd.RenderPasses[0]
	assert.Equal(t, 3, rp.Subpasses)
	assert.Equal(t, []string{"draw 3 composition"}, cmd.Draws())

	require.Len(t, rp.Clears, 6)
	assert.Equal(t, [4]float32{0.1, 0.2, 0.3, 1}, rp.Clears[AttachmentHDR].Color)
	for i := AttachmentNormal; i <= AttachmentMRO; i++ {
		assert.Equal(t, [4]float32{}, rp.Clears[i].Color)
	}
	assert.Equal(t, float32(1), rp.Clears[AttachmentDepth].Depth)

	// The composition only reads the cleared gbuffer attachments of this framebuffer.
	require.Len(t, cmd.Pushes, 1)
	fbViews := rp.Framebuffer.Desc().Attachments
	for _, w := range cmd.Pushes[0].Writes {
		if w.Type == gpu.DescriptorTypeInputAttachment {
			assert.Equal(t, fbViews[w.Binding], w.Images[0].View)
		}
	}
}

func TestMeshesDispatchBySubpassAndKind(t *testing.T) {
	f := newFixture(t, false)
	joints, err := f.dev.NewBuffer(gpu.BufferDesc{Name: "joints", Size: 256, Usage: gpu.BufferUsageStorage})
	require.NoError(t, err)
	lines, err := f.dev.NewBuffer(gpu.BufferDesc{Name: "lines", Size: 280, Usage: gpu.BufferUsageVertex})
	require.NoError(t, err)

	frame := newFrame(1,
		metadata.StaticMesh{Mesh: mesh(t, f.dev), Transform: mgl32.Ident4()},
		metadata.StaticMesh{Mesh: mesh(t, f.dev), Transform: mgl32.Ident4(), Material: metadata.Material{Translucent: true}},
		metadata.SkeletalMesh{Mesh: mesh(t, f.dev), Transform: mgl32.Ident4(), Joints: joints},
		metadata.Billboard{Position: mgl32.Vec3{0, 1, 0}, Size: mgl32.Vec2{1, 1}, Color: mgl32.Vec4{1, 1, 1, 1}},
		metadata.Skybox{Intensity: 1},
		metadata.DebugLines{Vertices: lines, VertexCount: 10, Transform: mgl32.Ident4()},
	)
	require.NoError(t, f.main.Prepare(frame))
	cmd := commands(t, f.dev)
	require.NoError(t, f.main.Record(cmd, frame))

	assert.Equal(t, []string{
		"drawIndexed 36 gbuffer_static",
		"drawIndexed 36 gbuffer_skinned",
		"draw 3 composition",
		"drawIndexed 36 forward_mesh",
		"draw 6 billboard",
		"draw 3 skybox",
		"draw 10 debug_lines",
	}, cmd.Draws())

	// Skinned draws also bind the joint palette.
	assert.Len(t, cmd.Pushes[0].Writes, 6)
	assert.Len(t, cmd.Pushes[1].Writes, 7)
	for _, push := range cmd.Pushes {
		assert.Equal(t, uniformStride, push.Writes[0].Buffers[0].Offset)
	}
}

func TestForwardSubpassDisabledStillAdvances(t *testing.T) {
	f := newFixture(t, false)
	frame := newFrame(0, metadata.StaticMesh{Mesh: mesh(t, f.dev), Transform: mgl32.Ident4()})
	forward := f.main.Subpasses()[SubpassForward]
	assert.False(t, forward.Enabled(frame))

	cmd := commands(t, f.dev)
	require.NoError(t, f.main.Record(cmd, frame))
	assert.Equal(t, 2, countOf(cmd.Commands, "nextSubpass"))
	assert.Equal(t, "endRenderPass", cmd.Commands[len(cmd.Commands)-1])
}

func countOf(cmds []string, s string) int {
	n := 0
	for _, c := range cmds {
		if c == s {
			n++
		}
	}
	return n
}

func TestResizeIsIdempotent(t *testing.T) {
	f := newFixture(t, false)
	images := f.dev.Live("image")

	for _, size := range [][2]uint32{{1024, 768}, {1024, 768}, {640, 360}} {
		f.main.DestroyResizableObjects()
		f.main.DestroyResizableObjects()
		require.NoError(t, f.main.CreateResizableObjects(size[0], size[1]))

		fb := f.main.framebuffer.Desc()
		assert.Equal(t, size[0], fb.Width)
		assert.Equal(t, size[1], fb.Height)
		for _, v := range fb.Attachments {
			assert.Equal(t, gpu.Extent2D{Width: size[0], Height: size[1]}, v.Extent())
		}
		assert.Equal(t, images, f.dev.Live("image"))
		assert.Equal(t, 1, f.dev.Live("framebuffer"))
	}

	require.NoError(t, f.main.OnResize(300, 200))
	assert.Equal(t, gpu.Extent2D{Width: 300, Height: 200}, f.main.Extent())
	assert.Equal(t, gpu.Extent2D{Width: 300, Height: 200}, f.main.OutputView().Extent())
}

func TestCompositionUsesPlaceholdersWithoutShadows(t *testing.T) {
	f := newFixture(t, false)
	writes := f.main.compositionWrites(newFrame(0))
	require.Len(t, writes, 12)

	byBinding := map[uint32]gpu.DescriptorWrite{}
	for _, w := range writes {
		byBinding[w.Binding] = w
	}
	ph := f.placeholders
	assert.Equal(t, ph.FarDepthArray.SampledView(), byBinding[6].Images[0].View)
	require.Len(t, byBinding[7].Images, shadow.MaxPointLightShadows)
	for _, img := range byBinding[7].Images {
		assert.Equal(t, ph.FarCube.SampledView(), img.View)
	}
	require.Len(t, byBinding[8].Images, shadow.MaxSpotLightShadows)
	assert.Equal(t, ph.FarDepth.SampledView(), byBinding[8].Images[0].View)
	assert.Equal(t, ph.BlackCube.SampledView(), byBinding[9].Images[0].View)
	assert.Equal(t, ph.White2D.SampledView(), byBinding[11].Images[0].View)
}

func TestTransientAttachmentsAreNotTransferTargets(t *testing.T) {
	f := newFixture(t, true)
	require.NoError(t, passes.Resize(f.main, 1024, 768))

	for _, img := range f.dev.Images {
		usage := img.Desc().Usage
		if usage&gpu.ImageUsageTransientAttachment != 0 {
			assert.Zero(t, usage&gpu.ImageUsageTransferDst, "image %s", img.Name)
		}
	}
	assert.Empty(t, f.dev.Violations)
}

func TestDepthInputUsesDepthOnlyViewWithStencilFormat(t *testing.T) {
	for _, format := range []gpu.Format{gpu.FormatD32Sfloat, gpu.FormatD24UnormS8Uint, gpu.FormatD32SfloatS8Uint} {
		dev := gputest.NewDevice()
		dev.DepthFmt = format
		f := newFixtureOn(t, dev, true)

		var depth gpu.ImageView
		for _, w := range f.main.compositionWrites(newFrame(0)) {
			if w.Binding == AttachmentDepth {
				depth = w.Images[0].View
			}
		}
		require.NotNil(t, depth, "format %d", format)
		assert.Same(t, f.main.depth.SampledView(), depth, "format %d", format)
		assert.False(t, depth.(*gputest.View).Stencil, "format %d", format)
		assert.Equal(t, format, f.placeholders.FarDepth.Desc().Format)
		assert.Equal(t, format, f.placeholders.FarDepthArray.Desc().Format)
		assert.Empty(t, dev.Violations)
	}
}

func TestShadowsFlowIntoComposition(t *testing.T) {
	f := newFixture(t, true)
	lighting := metadata.Lighting{
		Directional: &metadata.DirectionalLight{Direction: mgl32.Vec3{-1, -2, -1}, Color: mgl32.Vec3{1, 1, 1}, Intensity: 3, CastShadows: true},
		Points: []metadata.PointLight{
			{Position: mgl32.Vec3{1, 1, 1}, Range: 5, Intensity: 1},
			{Position: mgl32.Vec3{2, 1, 1}, Range: 5, Intensity: 1, CastShadows: true},
		},
		Spots: []metadata.SpotLight{
			{Position: mgl32.Vec3{0, 4, 0}, Direction: mgl32.Vec3{0, -1, 0}, Range: 10, OuterCone: 0.4, InnerCone: 0.3, CastShadows: true},
		},
	}
	frame := newFrame(1, lighting, metadata.StaticMesh{Mesh: mesh(t, f.dev), Transform: mgl32.Ident4(), CastShadows: true})

	// Producers prepare before the main pass, as in the graph.
	for _, p := range []passes.Pass{f.shadows.Cascades, f.shadows.Points, f.shadows.Spots} {
		require.True(t, p.Enabled(frame))
		require.NoError(t, p.Prepare(frame))
	}
	require.NoError(t, f.main.Prepare(frame))
	u := BuildUniforms(frame, f.shadows)

	assert.Equal(t, float32(1), u.LightColor.W())
	assert.Equal(t, f.shadows.Cascades.Data().ViewProj, u.CascadeViewProj)
	assert.Equal(t, uint32(2), u.Counts[0])
	assert.Equal(t, int32(-1), u.Points[0].Shadow[0])
	assert.Equal(t, int32(0), u.Points[1].Shadow[0])
	assert.Equal(t, uint32(1), u.Counts[1])
	assert.Equal(t, int32(0), u.Spots[0].Shadow[0])
	assert.Equal(t, shadow.SpotViewProjection(lighting.Spots[0]), u.Spots[0].ViewProj)

	uploaded := f.main.uniforms.(*gputest.Buffer).Data[uniformStride : uniformStride+uint64(len(gpu.Bytes(&u)))]
	assert.Equal(t, gpu.Bytes(&u), uploaded)

	writes := f.main.compositionWrites(frame)
	byBinding := map[uint32]gpu.DescriptorWrite{}
	for _, w := range writes {
		byBinding[w.Binding] = w
	}
	assert.Equal(t, f.shadows.Cascades.View(), byBinding[6].Images[0].View)
	assert.Equal(t, f.shadows.Points.Views()[0], byBinding[7].Images[0].View)
	assert.Equal(t, f.placeholders.FarCube.SampledView(), byBinding[7].Images[1].View)
	assert.Equal(t, f.shadows.Spots.Views()[0], byBinding[8].Images[0].View)
}

func TestBuildUniformsCapsLights(t *testing.T) {
	points := make([]metadata.PointLight, MaxPointLights+5)
	spots := make([]metadata.SpotLight, MaxSpotLights+2)
	for i := range spots {
		spots[i].Direction = mgl32.Vec3{0, -1, 0}
	}
	frame := newFrame(0, metadata.Lighting{Points: points, Spots: spots, Ambient: mgl32.Vec3{0.1, 0.1, 0.1}})
	u := BuildUniforms(frame, Shadows{})
	assert.Equal(t, uint32(MaxPointLights), u.Counts[0])
	assert.Equal(t, uint32(MaxSpotLights), u.Counts[1])
	assert.Equal(t, float32(0), u.Ambient.W())
	assert.Equal(t, float32(0), u.LightColor.W())
	assert.Equal(t, float32(800), u.Viewport.X())
	assert.Zero(t, uniformStride%gpu.UniformAlignment)
}

func TestDestroyReleasesEverything(t *testing.T) {
	f := newFixture(t, false)
	f.main.Destroy()
	f.main.Destroy()
	f.placeholders.Destroy()
	for _, kind := range []string{"image", "framebuffer", "renderpass", "pipeline", "pipelinelayout", "setlayout"} {
		assert.Equal(t, 0, f.dev.Live(kind), kind)
	}
}
