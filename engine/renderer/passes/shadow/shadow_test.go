package shadow

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
	"github.com/spaghettifunk/umbra/engine/renderer/rhi"
)

func settings() core.ShadowsSection {
	return core.DefaultConfig().Shadows
}

func newFrame(slot int, items ...metadata.RenderData) *passes.Frame {
	cam := metadata.NewCamera()
	cam.LookAt(mgl32.Vec3{0, 5, 10}, mgl32.Vec3{0, 0, 0})
	return &passes.Frame{
		FrameInfo: rhi.FrameInfo{Slot: slot, Extent: gpu.Extent2D{Width: 1600, Height: 900}},
		Data:      &metadata.FrameData{Camera: cam, Items: items},
	}
}

func newMesh(t *testing.T, dev *gputest.Device) metadata.Mesh {
	t.Helper()
	vb, err := dev.NewBuffer(gpu.BufferDesc{Name: "vb", Size: 3 * metadata.StaticVertexStride, Usage: gpu.BufferUsageVertex})
	require.NoError(t, err)
	return metadata.Mesh{Vertices: vb, VertexCount: 3}
}

func newCommands(t *testing.T, dev *gputest.Device) *gputest.CommandBuffer {
	t.Helper()
	cmd, err := dev.NewCommandBuffer("test")
	require.NoError(t, err)
	return cmd.(*gputest.CommandBuffer)
}

func TestSplitDistances(t *testing.T) {
	for _, lambda := range []float32{0, 0.5, 0.92, 1} {
		splits := SplitDistances(0.1, 200, lambda, CascadeCount)
		require.Len(t, splits, CascadeCount)
		assert.Equal(t, float32(200), splits[CascadeCount-1], "lambda %f", lambda)
		prev := float32(0.1)
		for i, s := range splits {
			assert.Greater(t, s, prev, "lambda %f split %d", lambda, i)
			prev = s
		}
	}

	uniform := SplitDistances(0, 100, 0, 4)
	assert.InDeltaSlice(t, []float32{25, 50, 75, 100}, uniform, 0.01)

	logarithmic := SplitDistances(1, 1000, 1, 3)
	assert.InDeltaSlice(t, []float32{10, 100, 1000}, logarithmic, 0.01)
}

func TestSplitDistancesIncreaseForAnyRange(t *testing.T) {
	nears := []float32{1e-5, 1e-4, 2e-4, 0.1, 1, 1000}
	ratios := []float32{1.001, 1.5, 5, 10, 1e4}
	lambdas := []float32{0, 0.25, 0.5, 0.92, 1}
	for _, near := range nears {
		for _, ratio := range ratios {
			far := near * ratio
			for _, lambda := range lambdas {
				splits := SplitDistances(near, far, lambda, CascadeCount)
				require.Len(t, splits, CascadeCount)
				assert.Equal(t, far, splits[CascadeCount-1], "near %g far %g lambda %g", near, far, lambda)
				assert.Greater(t, splits[0], near, "near %g far %g lambda %g", near, far, lambda)
				for i := 1; i < CascadeCount; i++ {
					assert.Greater(t, splits[i], splits[i-1], "near %g far %g lambda %g split %d", near, far, lambda, i)
				}
			}
		}
	}

	// A zero near plane still yields an increasing partition below the default start.
	for _, far := range []float32{5e-4, 1e-3, 1} {
		splits := SplitDistances(0, far, 0.5, CascadeCount)
		assert.Equal(t, far, splits[CascadeCount-1])
		for i := 1; i < CascadeCount; i++ {
			assert.Greater(t, splits[i], splits[i-1], "far %g split %d", far, i)
		}
	}
}

func TestFitCascadeContainsSlice(t *testing.T) {
	cam := metadata.NewCamera()
	cam.LookAt(mgl32.Vec3{3, 4, 12}, mgl32.Vec3{0, 0, 0})
	directions := []mgl32.Vec3{{-0.3, -1, -0.2}, {0, -1, 0}, {1, -0.2, 0}}
	for _, dir := range directions {
		data := UpdateCascades(cam, dir, 16.0/9.0, 0.8)
		prev := cam.Near
		for i := 0; i < CascadeCount; i++ {
			corners := cam.FrustumCorners(16.0/9.0, prev, data.Splits[i])
			for _, c := range corners {
				p := data.ViewProj[i].Mul4x1(c.Vec4(1))
				ndc := p.Vec3().Mul(1 / p.W())
				assert.InDelta(t, 0, ndc.X(), 1.0001, "cascade %d x", i)
				assert.InDelta(t, 0, ndc.Y(), 1.0001, "cascade %d y", i)
				assert.GreaterOrEqual(t, ndc.Z(), float32(-1e-4), "cascade %d z", i)
				assert.LessOrEqual(t, ndc.Z(), float32(1+1e-4), "cascade %d z", i)
			}
			prev = data.Splits[i]
		}
	}
}

func TestCubeFacesLookAlongAxes(t *testing.T) {
	pos := mgl32.Vec3{1, 2, 3}
	faces := CubeFaceViewProjections(pos, 20)
	for i, face := range cubeFaces {
		p := faces[i].Mul4x1(pos.Add(face[0].Mul(5)).Vec4(1))
		ndc := p.Vec3().Mul(1 / p.W())
		assert.InDelta(t, 0, ndc.X(), 1e-4, "face %d", i)
		assert.InDelta(t, 0, ndc.Y(), 1e-4, "face %d", i)
		assert.True(t, ndc.Z() > 0 && ndc.Z() < 1, "face %d depth %f", i, ndc.Z())
	}
}

func TestSpotViewProjectionCentersAxis(t *testing.T) {
	light := metadata.SpotLight{
		Position:  mgl32.Vec3{0, 4, 0},
		Direction: mgl32.Vec3{0, -1, 0.2},
		Range:     30,
		OuterCone: mgl32.DegToRad(30),
	}
	vp := SpotViewProjection(light)
	p := vp.Mul4x1(light.Position.Add(light.Direction.Normalize().Mul(10)).Vec4(1))
	ndc := p.Vec3().Mul(1 / p.W())
	assert.InDelta(t, 0, ndc.X(), 1e-4)
	assert.InDelta(t, 0, ndc.Y(), 1e-4)
	assert.True(t, ndc.Z() > 0 && ndc.Z() < 1)
}

func TestCascadedRendersEveryCasterOnce(t *testing.T) {
	dev := gputest.NewDevice()
	c := NewCascaded(dev, &gputest.Shaders{}, settings())
	require.NoError(t, passes.Init(c, 1600, 900))
	defer c.Destroy()

	img := c.image.(*gputest.Image)
	assert.Equal(t, gpu.ImageLayoutShaderReadOnlyOptimal, img.Layout)
	assert.Equal(t, uint32(CascadeCount), img.Desc().Layers)

	joints, err := dev.NewBuffer(gpu.BufferDesc{Name: "joints", Size: 128, Usage: gpu.BufferUsageStorage})
	require.NoError(t, err)
	frame := newFrame(1,
		metadata.Lighting{Directional: &metadata.DirectionalLight{Direction: mgl32.Vec3{-1, -1, 0}, CastShadows: true}},
		metadata.StaticMesh{Mesh: newMesh(t, dev), Transform: mgl32.Ident4(), CastShadows: true},
		metadata.StaticMesh{Mesh: newMesh(t, dev), Transform: mgl32.Ident4()},
		metadata.SkeletalMesh{Mesh: newMesh(t, dev), Transform: mgl32.Ident4(), Joints: joints, CastShadows: true},
	)
	require.True(t, c.Enabled(frame))
	require.NoError(t, c.Prepare(frame))

	uniforms := c.uniforms.(*gputest.Buffer)
	assert.Equal(t, gpu.Bytes(&c.data), uniforms.Data[cascadeStride:cascadeStride+uint64(len(gpu.Bytes(&c.data)))])
	assert.Equal(t, float32(200), c.Data().Splits[CascadeCount-1])

	cmd := newCommands(t, dev)
	require.NoError(t, c.Record(cmd, frame))
	require.Len(t, cmd.RenderPasses, 1)
	assert.Equal(t, uint32(CascadeCount), cmd.RenderPasses[0].Framebuffer.Desc().Layers)
	assert.Equal(t, []string{"draw 3 shadow_cascade_static", "draw 3 shadow_cascade_skinned"}, cmd.Draws())
	require.Len(t, cmd.Pushes, 2)
	assert.Len(t, cmd.Pushes[0].Writes, 1)
	assert.Len(t, cmd.Pushes[1].Writes, 2)
	assert.Equal(t, cascadeStride, cmd.Pushes[0].Writes[0].Buffers[0].Offset)
}

func TestCascadedEnabled(t *testing.T) {
	dev := gputest.NewDevice()
	c := NewCascaded(dev, &gputest.Shaders{}, settings())
	assert.False(t, c.Enabled(newFrame(0)))
	assert.False(t, c.Enabled(newFrame(0, metadata.Lighting{Directional: &metadata.DirectionalLight{}})))
	assert.True(t, c.Enabled(newFrame(0, metadata.Lighting{Directional: &metadata.DirectionalLight{CastShadows: true}})))

	off := settings()
	off.EnableCascades = false
	c = NewCascaded(dev, &gputest.Shaders{}, off)
	assert.False(t, c.Enabled(newFrame(0, metadata.Lighting{Directional: &metadata.DirectionalLight{CastShadows: true}})))
}

func TestProducersIgnoreResize(t *testing.T) {
	dev := gputest.NewDevice()
	producers := []passes.Pass{
		NewCascaded(dev, &gputest.Shaders{}, settings()),
		NewPoint(dev, &gputest.Shaders{}, settings()),
		NewSpot(dev, &gputest.Shaders{}, settings()),
	}
	for _, p := range producers {
		require.NoError(t, passes.Init(p, 800, 600))
	}
	dev.ClearLog()
	for _, p := range producers {
		require.NoError(t, p.OnResize(1024, 768))
	}
	assert.Empty(t, dev.Log())
	for _, p := range producers {
		p.Destroy()
	}
	assert.Equal(t, 0, dev.Live("image"))
	assert.Equal(t, 0, dev.Live("framebuffer"))
	assert.Equal(t, 0, dev.Live("pipeline"))
	assert.Equal(t, 0, dev.Live("renderpass"))
}

func TestProducerDependencies(t *testing.T) {
	dev := gputest.NewDevice()
	c := NewCascaded(dev, &gputest.Shaders{}, settings())
	require.NoError(t, c.CreateRenderPass())
	deps := c.renderPass.Desc().Dependencies
	require.Len(t, deps, 2)
	assert.Equal(t, gpu.SubpassExternal, deps[0].SrcSubpass)
	assert.Equal(t, uint32(0), deps[0].DstSubpass)
	assert.Equal(t, gpu.AccessShaderRead, deps[0].SrcAccess)
	assert.Equal(t, uint32(0), deps[1].SrcSubpass)
	assert.Equal(t, gpu.SubpassExternal, deps[1].DstSubpass)
	assert.Equal(t, gpu.AccessShaderRead, deps[1].DstAccess)
	assert.Equal(t, gpu.ImageLayoutShaderReadOnlyOptimal, c.renderPass.Desc().Attachments[0].FinalLayout)
}

func pointLights(casting ...bool) []metadata.PointLight {
	out := make([]metadata.PointLight, len(casting))
	for i, c := range casting {
		out[i] = metadata.PointLight{Position: mgl32.Vec3{float32(i), 1, 0}, Range: 10, CastShadows: c}
	}
	return out
}

func TestPointPoolGrowsWithoutTouchingExistingTargets(t *testing.T) {
	dev := gputest.NewDevice()
	p := NewPoint(dev, &gputest.Shaders{}, settings())
	require.NoError(t, passes.Init(p, 800, 600))
	defer p.Destroy()
	assert.Empty(t, p.Views())

	assignments, err := p.UpdateLights(pointLights(true))
	require.NoError(t, err)
	assert.Equal(t, []int32{0}, assignments)
	require.Len(t, p.Views(), 1)
	first := p.targets.items[0]
	firstView := p.Views()[0]
	assert.Equal(t, gpu.ImageLayoutShaderReadOnlyOptimal, first.distance.(*gputest.Image).Layout)

	dev.ClearLog()
	assignments, err = p.UpdateLights(pointLights(false, true, true))
	require.NoError(t, err)
	assert.Equal(t, []int32{-1, 0, 1}, assignments)
	require.Len(t, p.Views(), 2)
	assert.Same(t, first, p.targets.items[0])
	assert.Equal(t, firstView, p.Views()[0])
	assert.Zero(t, dev.Count("destroy"))
	assert.Equal(t, 1, dev.Count("create framebuffer"))

	// Fewer lights never shrink the pool.
	assignments, err = p.UpdateLights(nil)
	require.NoError(t, err)
	assert.Empty(t, assignments)
	assert.Len(t, p.Views(), 2)

	// Growth is capped at the compile-time capacity.
	assignments, err = p.UpdateLights(pointLights(true, true, true, true, true, true))
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 1, 2, 3, -1, -1}, assignments)
	assert.Len(t, p.Views(), MaxPointLightShadows)
}

func TestPointRecordsOneCubePerShadowedLight(t *testing.T) {
	dev := gputest.NewDevice()
	p := NewPoint(dev, &gputest.Shaders{}, settings())
	require.NoError(t, passes.Init(p, 800, 600))
	defer p.Destroy()

	frame := newFrame(0,
		metadata.Lighting{Points: pointLights(true, false, true)},
		metadata.StaticMesh{Mesh: newMesh(t, dev), Transform: mgl32.Ident4(), CastShadows: true},
	)
	require.True(t, p.Enabled(frame))
	require.NoError(t, p.Prepare(frame))
	cmd := newCommands(t, dev)
	require.NoError(t, p.Record(cmd, frame))

	require.Len(t, cmd.RenderPasses, 2)
	for _, rp := range cmd.RenderPasses {
		assert.Equal(t, uint32(6), rp.Framebuffer.Desc().Layers)
		assert.Equal(t, float32(1), rp.Clears[0].Color[0])
	}
	assert.Len(t, cmd.Draws(), 2)
	assert.Equal(t, pointLights(true)[0].Position, p.shadowed[0].Position)

	assert.False(t, p.Enabled(newFrame(0, metadata.Lighting{Points: pointLights(false)})))
}

func TestSpotPoolAndRecord(t *testing.T) {
	dev := gputest.NewDevice()
	s := NewSpot(dev, &gputest.Shaders{}, settings())
	require.NoError(t, passes.Init(s, 800, 600))
	defer s.Destroy()

	spots := []metadata.SpotLight{
		{Position: mgl32.Vec3{0, 3, 0}, Direction: mgl32.Vec3{0, -1, 0}, Range: 10, OuterCone: 0.5, CastShadows: true},
		{Position: mgl32.Vec3{2, 3, 0}, Direction: mgl32.Vec3{0, -1, 0}, Range: 10, OuterCone: 0.5},
	}
	frame := newFrame(0,
		metadata.Lighting{Spots: spots},
		metadata.StaticMesh{Mesh: newMesh(t, dev), Transform: mgl32.Ident4(), CastShadows: true},
	)
	require.True(t, s.Enabled(frame))
	require.NoError(t, s.Prepare(frame))
	assert.Equal(t, []int32{0, -1}, s.Assignments())
	require.Len(t, s.ViewProjections(), 1)
	assert.Equal(t, SpotViewProjection(spots[0]), s.ViewProjections()[0])
	require.Len(t, s.Views(), 1)

	cmd := newCommands(t, dev)
	require.NoError(t, s.Record(cmd, frame))
	require.Len(t, cmd.RenderPasses, 1)
	assert.Equal(t, []string{"draw 3 shadow_spot_static"}, cmd.Draws())
	assert.Empty(t, cmd.Pushes)
}
