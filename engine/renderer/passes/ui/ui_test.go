package ui

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu/gputest"
	"github.com/spaghettifunk/umbra/engine/renderer/metadata"
	"github.com/spaghettifunk/umbra/engine/renderer/passes"
	"github.com/spaghettifunk/umbra/engine/renderer/rhi"
)

type swapchainHolder struct {
	sc gpu.Swapchain
}

func (s *swapchainHolder) Swapchain() gpu.Swapchain { return s.sc }

type imageSource struct {
	img gpu.Image
}

func (s *imageSource) OutputView() gpu.ImageView { return s.img.SampledView() }

type overlay struct {
	created   int
	destroyed int
	recorded  []uint32
	fail      error
}

func (o *overlay) Name() string { return "hud" }

func (o *overlay) CreatePipelines(rp gpu.RenderPass) error {
	o.created++
	return nil
}

func (o *overlay) DestroyPipelines() { o.destroyed++ }

func (o *overlay) Record(cmd gpu.CommandBuffer, frame *passes.Frame) error {
	o.recorded = append(o.recorded, frame.ImageIndex)
	cmd.Draw(4, 1, 0, 0)
	return o.fail
}

type fixture struct {
	dev    *gputest.Device
	holder *swapchainHolder
	source *imageSource
	pass   *Pass
	cmd    *gputest.CommandBuffer
}

func setup(t *testing.T) *fixture {
	t.Helper()
	dev := gputest.NewDevice()
	sc, err := dev.NewSwapchain(800, 600)
	require.NoError(t, err)
	ph, err := passes.NewPlaceholders(dev)
	require.NoError(t, err)
	ldr, err := dev.NewImage(gpu.ImageDesc{Name: "ldr", Format: gpu.FormatR8G8B8A8Unorm, Width: 800, Height: 600})
	require.NoError(t, err)

	f := &fixture{dev: dev, holder: &swapchainHolder{sc: sc}, source: &imageSource{img: ldr}}
	f.pass = New(dev, &gputest.Shaders{}, ph, f.holder, f.source)
	require.NoError(t, passes.Init(f.pass, 800, 600))
	cmd, err := dev.NewCommandBuffer("test")
	require.NoError(t, err)
	f.cmd = cmd.(*gputest.CommandBuffer)
	return f
}

func frameFor(image uint32) *passes.Frame {
	return &passes.Frame{
		FrameInfo: rhi.FrameInfo{ImageIndex: image, Extent: gpu.Extent2D{Width: 800, Height: 600}},
		Data:      &metadata.FrameData{Camera: metadata.NewCamera()},
	}
}

func TestRenderPassTargetsPresentation(t *testing.T) {
	f := setup(t)
	desc := f.pass.RenderPass().Desc()
	require.Len(t, desc.Attachments, 1)
	assert.Equal(t, gpu.FormatB8G8R8A8Unorm, desc.Attachments[0].Format)
	assert.Equal(t, gpu.ImageLayoutPresentSrc, desc.Attachments[0].FinalLayout)
	require.Len(t, desc.Dependencies, 1)
	assert.Equal(t, gpu.SubpassExternal, desc.Dependencies[0].SrcSubpass)
	assert.Equal(t, gpu.PipelineStageColorAttachmentOutput, desc.Dependencies[0].SrcStage)
	assert.Equal(t, 3, f.dev.Live("framebuffer"))
}

func TestRecordUsesFramebufferOfAcquiredImage(t *testing.T) {
	f := setup(t)
	for _, idx := range []uint32{2, 0, 1} {
		require.NoError(t, f.cmd.Reset())
		require.NoError(t, f.pass.Record(f.cmd, frameFor(idx)))
		require.Len(t, f.cmd.RenderPasses, 1)
		fb := f.cmd.RenderPasses[0].Framebuffer.Desc()
		assert.Equal(t, f.holder.sc.View(int(idx)), fb.Attachments[0])
		assert.Equal(t, []string{"draw 3 blit"}, f.cmd.Draws())
		assert.Equal(t, f.source.OutputView(), f.cmd.Pushes[0].Writes[0].Images[0].View)
	}

	err := f.pass.Record(f.cmd, frameFor(7))
	assert.Error(t, err)
}

func TestOverlaysDrawAfterBlit(t *testing.T) {
	f := setup(t)
	o := &overlay{}
	require.NoError(t, f.pass.AddOverlay(o))
	assert.Equal(t, 1, o.created)

	require.NoError(t, f.pass.Record(f.cmd, frameFor(1)))
	assert.Equal(t, []string{"draw 3 blit", "draw 4 blit"}, f.cmd.Draws())
	assert.Equal(t, []uint32{1}, o.recorded)
	assert.Equal(t, "endRenderPass", f.cmd.Commands[len(f.cmd.Commands)-1])

	o.fail = errors.New("broken")
	require.NoError(t, f.cmd.Reset())
	err := f.pass.Record(f.cmd, frameFor(0))
	assert.ErrorContains(t, err, "overlay `hud`")
	assert.Equal(t, "endRenderPass", f.cmd.Commands[len(f.cmd.Commands)-1])
}

func TestResizeFollowsSwapchain(t *testing.T) {
	f := setup(t)
	o := &overlay{}
	require.NoError(t, f.pass.AddOverlay(o))
	rp := f.pass.RenderPass()

	// Same format: only the framebuffers are rebuilt.
	f.holder.sc.Destroy()
	sc, err := f.dev.NewSwapchain(1024, 768)
	require.NoError(t, err)
	f.holder.sc = sc
	require.NoError(t, f.pass.OnResize(1024, 768))
	assert.Same(t, rp, f.pass.RenderPass())
	assert.Equal(t, 3, f.dev.Live("framebuffer"))
	assert.Equal(t, 1, o.created)

	// A new surface format recreates the render pass and every pipeline against it.
	f.dev.SwapchainFmt = gpu.FormatR8G8B8A8Unorm
	f.holder.sc.Destroy()
	sc, err = f.dev.NewSwapchain(1024, 768)
	require.NoError(t, err)
	f.holder.sc = sc
	require.NoError(t, f.pass.OnResize(1024, 768))
	assert.NotSame(t, rp, f.pass.RenderPass())
	assert.Equal(t, gpu.FormatR8G8B8A8Unorm, f.pass.RenderPass().Desc().Attachments[0].Format)
	assert.Equal(t, 2, o.created)
	assert.Equal(t, 1, o.destroyed)
	assert.Equal(t, 1, f.dev.Live("renderpass"))
	assert.Equal(t, 1, f.dev.Live("pipeline"))

	f.pass.Destroy()
	assert.Equal(t, 0, f.dev.Live("framebuffer"))
	assert.Equal(t, 0, f.dev.Live("renderpass"))
	assert.Equal(t, 0, f.dev.Live("pipeline"))
}
