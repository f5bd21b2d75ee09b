package renderer

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

type fixture struct {
	dev      *gputest.Device
	win      *gputest.Window
	renderer *Renderer
	scene    *metadata.FrameData
}

func setup(t *testing.T) *fixture {
	t.Helper()
	dev := gputest.NewDevice()
	win := gputest.NewWindow(1280, 720)
	r, err := New(core.DefaultConfig(), dev, win, &gputest.Shaders{})
	require.NoError(t, err)

	vb, err := dev.NewBuffer(gpu.BufferDesc{Name: "cube", Size: 36 * metadata.StaticVertexStride, Usage: gpu.BufferUsageVertex})
	require.NoError(t, err)
	cube := metadata.StaticMesh{
		Mesh:        metadata.Mesh{Vertices: vb, VertexCount: 36},
		Material:    metadata.Material{Constants: metadata.DefaultMaterialConstants()},
		Transform:   mgl32.Ident4(),
		CastShadows: true,
	}
	camera := metadata.NewCamera()
	camera.SetPosition(mgl32.Vec3{0, 2, 6})
	scene := &metadata.FrameData{
		Camera:    camera,
		DeltaTime: 1.0 / 60,
		Items: []metadata.RenderData{
			cube,
			metadata.Lighting{
				Directional: &metadata.DirectionalLight{Direction: mgl32.Vec3{-0.3, -1, -0.2}, Color: mgl32.Vec3{1, 1, 1}, Intensity: 1, CastShadows: true},
				Points:      []metadata.PointLight{{Position: mgl32.Vec3{0, 3, 0}, Color: mgl32.Vec3{1, 0.5, 0.2}, Intensity: 4, Range: 10, CastShadows: true}},
				Spots: []metadata.SpotLight{{
					Position: mgl32.Vec3{2, 4, 2}, Direction: mgl32.Vec3{0, -1, 0}, Color: mgl32.Vec3{1, 1, 1},
					Intensity: 8, Range: 15, InnerCone: 0.3, OuterCone: 0.5, CastShadows: true,
				}},
			},
		},
	}
	t.Cleanup(r.Destroy)
	return &fixture{dev: dev, win: win, renderer: r, scene: scene}
}

func renderPassNames(cmd gpu.CommandBuffer) []string {
	var names []string
	for _, rp := range cmd.(*gputest.CommandBuffer).RenderPasses {
		names = append(names, rp.RenderPass.Desc().Name)
	}
	return names
}

func TestGraphOrder(t *testing.T) {
	f := setup(t)
	var names []string
	for _, p := range f.renderer.Graph().Passes() {
		names = append(names, p.Name())
	}
	assert.Equal(t, []string{"shadow_cascades", "shadow_point", "shadow_spot", "main", "postprocess", "ui"}, names)
}

func TestHundredFramesRecordEveryPassInOrder(t *testing.T) {
	f := setup(t)
	sc := f.renderer.Context().Swapchain().(*gputest.Swapchain)

	for i := 0; i < 100; i++ {
		slot := f.renderer.Context().CurrentSlot()
		require.NoError(t, f.renderer.DrawFrame(f.scene))
		cmd := f.renderer.Context().Frame(slot).Commands
		require.Equal(t,
			[]string{"shadow_cascades", "shadow_point", "shadow_spot", "main", "postprocess", "ui"},
			renderPassNames(cmd), "frame %d", i)
	}

	stats := f.renderer.Stats()
	assert.Equal(t, uint64(100), stats.Submitted)
	assert.Zero(t, stats.Skipped)
	require.Len(t, sc.Presented, 100)
	for _, idx := range sc.Presented {
		assert.Less(t, int(idx), sc.ImageCount())
	}
	signals := 0
	for slot := 0; slot < rhi.MaxFramesInFlight; slot++ {
		signals += f.renderer.Context().Frame(slot).RenderFinished.(*gputest.Semaphore).Signals
	}
	assert.Equal(t, 100, signals)
}

func TestEmptyFrameStillPresents(t *testing.T) {
	f := setup(t)
	slot := f.renderer.Context().CurrentSlot()
	require.NoError(t, f.renderer.DrawFrame(nil))
	cmd := f.renderer.Context().Frame(slot).Commands
	assert.Equal(t, []string{"main", "postprocess", "ui"}, renderPassNames(cmd))

	state, ok := f.renderer.Graph().State("shadow_point")
	require.True(t, ok)
	assert.Equal(t, passes.StateDisabled, state)
}

func TestResizeRebuildsScreenSizedTargets(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.renderer.DrawFrame(f.scene))

	f.win.Size = gpu.Extent2D{Width: 1920, Height: 1080}
	f.renderer.Resized(1920, 1080)
	require.NoError(t, f.renderer.DrawFrame(f.scene))
	assert.Equal(t, uint64(1), f.renderer.Stats().Skipped)

	assert.Equal(t, gpu.Extent2D{Width: 1920, Height: 1080}, f.renderer.FinalImage().Extent())
	slot := f.renderer.Context().CurrentSlot()
	require.NoError(t, f.renderer.DrawFrame(f.scene))
	for _, rp := range f.renderer.Context().Frame(slot).Commands.(*gputest.CommandBuffer).RenderPasses {
		fb := rp.Framebuffer.Desc()
		switch rp.RenderPass.Desc().Name {
		case "main", "postprocess", "ui":
			assert.Equal(t, uint32(1920), fb.Width, rp.RenderPass.Desc().Name)
			assert.Equal(t, uint32(1080), fb.Height, rp.RenderPass.Desc().Name)
		default:
			assert.NotEqual(t, uint32(1920), fb.Width, "shadow maps are not screen sized")
		}
	}
}

func TestMinimizedWindowSkipsUntilRestored(t *testing.T) {
	f := setup(t)
	f.renderer.Resized(0, 0)
	for i := 0; i < 3; i++ {
		require.NoError(t, f.renderer.DrawFrame(f.scene))
	}
	assert.Zero(t, f.renderer.Stats().Submitted)
	assert.Equal(t, 1, len(f.dev.Swapchains))

	f.renderer.Resized(1280, 720)
	require.NoError(t, f.renderer.DrawFrame(f.scene))
	require.NoError(t, f.renderer.DrawFrame(f.scene))
	assert.Equal(t, 2, len(f.dev.Swapchains))
	assert.Equal(t, uint64(1), f.renderer.Stats().Submitted)
}

func TestReloadShadersRecreatesPipelines(t *testing.T) {
	f := setup(t)
	before := f.dev.Live("pipeline")
	created := len(f.dev.Pipelines)
	require.NoError(t, f.renderer.ReloadShaders())
	assert.Equal(t, before, f.dev.Live("pipeline"))
	assert.Equal(t, created+before, len(f.dev.Pipelines))
	require.NoError(t, f.renderer.DrawFrame(f.scene))
}

func TestDestroyReleasesEverything(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.renderer.DrawFrame(f.scene))
	f.renderer.Destroy()
	f.scene.Items[0].(metadata.StaticMesh).Mesh.Vertices.Destroy()
	for _, kind := range []string{"pipeline", "renderpass", "framebuffer", "image", "buffer", "swapchain", "fence", "semaphore", "setlayout", "pipelinelayout", "sampler"} {
		assert.Zero(t, f.dev.Live(kind), kind)
	}
	// Second call from t.Cleanup is a no-op.
	f.renderer.Destroy()
}
