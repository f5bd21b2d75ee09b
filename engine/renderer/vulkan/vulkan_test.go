package vulkan

import (
	"encoding/binary"
	"math"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ gpu.Device              = (*Device)(nil)
	_ gpu.Swapchain           = (*Swapchain)(nil)
	_ gpu.CommandBuffer       = (*CommandBuffer)(nil)
	_ gpu.Fence               = (*Fence)(nil)
	_ gpu.Semaphore           = (*Semaphore)(nil)
	_ gpu.Image               = (*Image)(nil)
	_ gpu.ImageView           = (*imageView)(nil)
	_ gpu.Sampler             = (*Sampler)(nil)
	_ gpu.Buffer              = (*Buffer)(nil)
	_ gpu.RenderPass          = (*RenderPass)(nil)
	_ gpu.Framebuffer         = (*Framebuffer)(nil)
	_ gpu.DescriptorSetLayout = (*DescriptorSetLayout)(nil)
	_ gpu.PipelineLayout      = (*PipelineLayout)(nil)
	_ gpu.ShaderModule        = (*ShaderModule)(nil)
	_ gpu.Pipeline            = (*Pipeline)(nil)
)

func TestResultError(t *testing.T) {
	assert.NoError(t, ResultError("op", vk.Success))
	assert.NoError(t, ResultError("op", vk.Incomplete))

	err := ResultError("vkQueuePresentKHR", vk.ErrorOutOfDate)
	assert.ErrorIs(t, err, gpu.ErrOutOfDate)
	assert.Contains(t, err.Error(), "vkQueuePresentKHR")
	assert.ErrorIs(t, ResultError("op", vk.Suboptimal), gpu.ErrOutOfDate)

	err = ResultError("vkQueueSubmit", vk.ErrorDeviceLost)
	assert.ErrorIs(t, err, core.ErrDeviceLost)
	assert.True(t, core.IsFatal(err))

	err = ResultError("vkAllocateMemory", vk.ErrorOutOfDeviceMemory)
	assert.ErrorIs(t, err, core.ErrFatalGPU)
	assert.Contains(t, err.Error(), "VK_ERROR_OUT_OF_DEVICE_MEMORY")
}

func TestSwapchainStatus(t *testing.T) {
	cases := []struct {
		result vk.Result
		status gpu.SwapchainStatus
	}{
		{vk.Success, gpu.SwapchainOK},
		{vk.Suboptimal, gpu.SwapchainSuboptimal},
		{vk.ErrorOutOfDate, gpu.SwapchainOutOfDate},
	}
	for _, c := range cases {
		status, err := swapchainStatus("present", c.result)
		require.NoError(t, err)
		assert.Equal(t, c.status, status, resultString(c.result))
	}

	_, err := swapchainStatus("present", vk.ErrorSurfaceLost)
	assert.ErrorIs(t, err, core.ErrFatalGPU)
}

func TestResultStringUnknown(t *testing.T) {
	assert.Equal(t, "VkResult(-12345)", resultString(vk.Result(-12345)))
}

func TestChooseSurfaceFormat(t *testing.T) {
	unorm := vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear}
	srgb := vk.SurfaceFormat{Format: vk.FormatB8g8r8a8Srgb, ColorSpace: vk.ColorSpaceSrgbNonlinear}
	other := vk.SurfaceFormat{Format: vk.FormatR8g8b8a8Unorm, ColorSpace: vk.ColorSpaceSrgbNonlinear}

	assert.Equal(t, unorm, chooseSurfaceFormat([]vk.SurfaceFormat{other, srgb, unorm}))
	assert.Equal(t, srgb, chooseSurfaceFormat([]vk.SurfaceFormat{other, srgb}))
	assert.Equal(t, other, chooseSurfaceFormat([]vk.SurfaceFormat{other}))
}

func TestChoosePresentMode(t *testing.T) {
	modes := []vk.PresentMode{vk.PresentModeImmediate, vk.PresentModeMailbox, vk.PresentModeFifo}
	assert.Equal(t, vk.PresentModeMailbox, choosePresentMode(modes, true))
	assert.Equal(t, vk.PresentModeFifo, choosePresentMode(modes, false))
	assert.Equal(t, vk.PresentModeFifo, choosePresentMode([]vk.PresentMode{vk.PresentModeFifo}, true))
}

func TestChooseExtent(t *testing.T) {
	var caps vk.SurfaceCapabilities
	caps.CurrentExtent = vk.Extent2D{Width: 800, Height: 600}
	assert.Equal(t, gpu.Extent2D{Width: 800, Height: 600}, chooseExtent(caps, 1920, 1080))

	caps.CurrentExtent = vk.Extent2D{Width: math.MaxUint32, Height: math.MaxUint32}
	caps.MinImageExtent = vk.Extent2D{Width: 64, Height: 64}
	caps.MaxImageExtent = vk.Extent2D{Width: 1024, Height: 1024}
	assert.Equal(t, gpu.Extent2D{Width: 1024, Height: 64}, chooseExtent(caps, 4096, 10))
	assert.Equal(t, gpu.Extent2D{Width: 500, Height: 400}, chooseExtent(caps, 500, 400))
}

func TestChooseImageCount(t *testing.T) {
	var caps vk.SurfaceCapabilities
	caps.MinImageCount = 2
	assert.Equal(t, uint32(3), chooseImageCount(caps))

	caps.MaxImageCount = 2
	assert.Equal(t, uint32(2), chooseImageCount(caps))
}

func TestPickQueueFamilies(t *testing.T) {
	families, ok := pickQueueFamilies([]queueFamily{
		{Transfer: true},
		{Graphics: true},
		{Graphics: true, Present: true},
	})
	require.True(t, ok)
	assert.Equal(t, queueFamilies{Graphics: 2, Present: 2}, families)

	families, ok = pickQueueFamilies([]queueFamily{{Present: true}, {Graphics: true}})
	require.True(t, ok)
	assert.Equal(t, queueFamilies{Graphics: 1, Present: 0}, families)

	_, ok = pickQueueFamilies([]queueFamily{{Graphics: true}, {Transfer: true}})
	assert.False(t, ok)
}

func suitableDevice() physicalDeviceInfo {
	return physicalDeviceInfo{
		Name:            "test gpu",
		Discrete:        true,
		Families:        []queueFamily{{Graphics: true, Present: true}},
		Extensions:      []string{"VK_KHR_swapchain"},
		Anisotropy:      true,
		GeometryShader:  true,
		SurfaceFormats:  1,
		PresentModes:    1,
		DepthFormat:     gpu.FormatD32Sfloat,
		RequireDiscrete: true,
	}
}

func TestEvaluateDevice(t *testing.T) {
	_, reason := suitableDevice().evaluate()
	assert.Empty(t, reason)

	cases := []struct {
		reason string
		mutate func(*physicalDeviceInfo)
	}{
		{"not a discrete GPU", func(i *physicalDeviceInfo) { i.Discrete = false }},
		{"missing graphics or present queue", func(i *physicalDeviceInfo) { i.Families = []queueFamily{{Transfer: true}} }},
		{"missing extension `VK_KHR_swapchain`", func(i *physicalDeviceInfo) { i.Extensions = nil }},
		{"no sampler anisotropy", func(i *physicalDeviceInfo) { i.Anisotropy = false }},
		{"no geometry shader", func(i *physicalDeviceInfo) { i.GeometryShader = false }},
		{"no surface format or present mode", func(i *physicalDeviceInfo) { i.PresentModes = 0 }},
		{"no depth attachment format", func(i *physicalDeviceInfo) { i.DepthFormat = gpu.FormatUndefined }},
	}
	for _, c := range cases {
		info := suitableDevice()
		c.mutate(&info)
		_, reason := info.evaluate()
		assert.Equal(t, c.reason, reason)
	}

	integrated := suitableDevice()
	integrated.Discrete = false
	integrated.RequireDiscrete = false
	_, reason = integrated.evaluate()
	assert.Empty(t, reason)
}

func TestInstanceExtensions(t *testing.T) {
	got := instanceExtensions([]string{"VK_KHR_surface", "VK_KHR_xcb_surface"}, true, "linux")
	assert.Equal(t, []string{"VK_KHR_surface", "VK_KHR_xcb_surface", "VK_EXT_debug_report"}, got)

	got = instanceExtensions([]string{"VK_EXT_metal_surface"}, false, "darwin")
	assert.Equal(t, []string{
		"VK_KHR_surface",
		"VK_EXT_metal_surface",
		"VK_KHR_portability_enumeration",
		"VK_KHR_get_physical_device_properties2",
	}, got)
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "main\x00", safeString("main"))
	assert.Equal(t, "main\x00", safeString("main\x00"))

	in := []string{"a", "b\x00"}
	out := safeStrings(in)
	assert.Equal(t, []string{"a\x00", "b\x00"}, out)
	assert.Equal(t, "a", in[0])

	assert.Equal(t, "NVIDIA", cString([]byte{'N', 'V', 'I', 'D', 'I', 'A', 0, 0, 'x'}))
	assert.Equal(t, "abc", cString([]byte("abc")))
}

func TestSpirvWords(t *testing.T) {
	code := make([]byte, 8)
	binary.LittleEndian.PutUint32(code, 0x07230203)
	binary.LittleEndian.PutUint32(code[4:], 0x00010000)
	words, err := spirvWords(code)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0x07230203, 0x00010000}, words)

	_, err = spirvWords(nil)
	assert.Error(t, err)
	_, err = spirvWords(code[:6])
	assert.Error(t, err)
	_, err = spirvWords([]byte{1, 2, 3, 4})
	assert.ErrorContains(t, err, "magic")
}

func TestAspectMask(t *testing.T) {
	color := vk.ImageAspectFlags(vk.ImageAspectColorBit)
	depth := vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	depthStencil := vk.ImageAspectFlags(vk.ImageAspectDepthBit | vk.ImageAspectStencilBit)

	assert.Equal(t, color, aspectMask(gpu.FormatR16G16B16A16Sfloat, false))
	assert.Equal(t, depth, aspectMask(gpu.FormatD32Sfloat, false))
	assert.Equal(t, depthStencil, aspectMask(gpu.FormatD24UnormS8Uint, false))
	assert.Equal(t, depth, aspectMask(gpu.FormatD24UnormS8Uint, true))
}

func TestImageCreateInfoKeepsUsage(t *testing.T) {
	transient := imageCreateInfo(gpu.ImageDesc{
		Format: gpu.FormatD32Sfloat, Width: 8, Height: 8, Layers: 1,
		Usage: gpu.ImageUsageDepthStencilAttachment | gpu.ImageUsageInputAttachment | gpu.ImageUsageTransientAttachment,
	})
	assert.Zero(t, transient.Usage&vk.ImageUsageFlags(vk.ImageUsageTransferDstBit))
	assert.NotZero(t, transient.Usage&vk.ImageUsageFlags(vk.ImageUsageTransientAttachmentBit))

	cube := imageCreateInfo(gpu.ImageDesc{
		Format: gpu.FormatR32Sfloat, Width: 8, Height: 8, Layers: 6, ViewType: gpu.ImageViewTypeCube,
		Usage: gpu.ImageUsageSampled | gpu.ImageUsageTransferDst,
	})
	assert.NotZero(t, cube.Usage&vk.ImageUsageFlags(vk.ImageUsageTransferDstBit))
	assert.Equal(t, vk.ImageCreateFlags(vk.ImageCreateCubeCompatibleBit), cube.Flags)
	assert.Equal(t, uint32(6), cube.ArrayLayers)
}

func TestAttachmentViewType(t *testing.T) {
	assert.Equal(t, gpu.ImageViewType2D, attachmentViewType(1))
	assert.Equal(t, gpu.ImageViewType2DArray, attachmentViewType(4))
	assert.Equal(t, gpu.ImageViewType2DArray, attachmentViewType(6))
}

func TestFindMemoryIndex(t *testing.T) {
	var props vk.PhysicalDeviceMemoryProperties
	props.MemoryTypeCount = 3
	props.MemoryTypes[0].PropertyFlags = vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	props.MemoryTypes[1].PropertyFlags = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit)
	props.MemoryTypes[2].PropertyFlags = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)

	hostCoherent := vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	index, ok := findMemoryIndex(props, 0b111, hostCoherent)
	require.True(t, ok)
	assert.Equal(t, uint32(2), index)

	index, ok = findMemoryIndex(props, 0b111, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	require.True(t, ok)
	assert.Equal(t, uint32(0), index)

	_, ok = findMemoryIndex(props, 0b011, hostCoherent)
	assert.False(t, ok, "type 2 is filtered out")
}

func TestLayoutSync(t *testing.T) {
	access, stage := layoutSync(gpu.ImageLayoutUndefined)
	assert.Equal(t, gpu.AccessNone, access)
	assert.Equal(t, gpu.PipelineStageTopOfPipe, stage)

	access, stage = layoutSync(gpu.ImageLayoutTransferDstOptimal)
	assert.Equal(t, gpu.AccessTransferWrite, access)
	assert.Equal(t, gpu.PipelineStageTransfer, stage)

	access, stage = layoutSync(gpu.ImageLayoutShaderReadOnlyOptimal)
	assert.Equal(t, gpu.AccessShaderRead, access)
	assert.Equal(t, gpu.PipelineStageFragmentShader, stage)

	access, stage = layoutSync(gpu.ImageLayoutDepthStencilAttachmentOptimal)
	assert.NotZero(t, access&gpu.AccessDepthStencilAttachmentWrite)
	assert.NotZero(t, stage&gpu.PipelineStageLateFragmentTests)

	_, stage = layoutSync(gpu.ImageLayoutGeneral)
	assert.Equal(t, gpu.PipelineStageAllCommands, stage)
}

func TestPushConstantRanges(t *testing.T) {
	ranges, err := pushConstantRanges([]gpu.PushConstantRange{
		{Stages: gpu.ShaderStageVertex, Offset: 0, Size: 64},
		{Stages: gpu.ShaderStageFragment, Offset: 64, Size: 16},
	}, 128)
	require.NoError(t, err)
	require.Len(t, ranges, 2)
	assert.Equal(t, uint32(64), ranges[1].Offset)
	assert.Equal(t, vk.ShaderStageFlags(gpu.ShaderStageFragment), ranges[1].StageFlags)

	_, err = pushConstantRanges([]gpu.PushConstantRange{{Offset: 64, Size: 128}}, 128)
	assert.ErrorContains(t, err, "device limit")

	_, err = pushConstantRanges([]gpu.PushConstantRange{{Offset: 0, Size: 6}}, 128)
	assert.ErrorContains(t, err, "aligned")
}

func TestBlendAttachment(t *testing.T) {
	off := blendAttachment(gpu.BlendState{})
	assert.Equal(t, vk.Bool32(vk.False), off.BlendEnable)

	alpha := blendAttachment(gpu.BlendState{Enable: true})
	assert.Equal(t, vk.BlendFactorSrcAlpha, alpha.SrcColorBlendFactor)
	assert.Equal(t, vk.BlendFactorOneMinusSrcAlpha, alpha.DstColorBlendFactor)

	add := blendAttachment(gpu.BlendState{Enable: true, Additive: true})
	assert.Equal(t, vk.BlendFactorOne, add.SrcColorBlendFactor)
	assert.Equal(t, vk.BlendFactorOne, add.DstColorBlendFactor)
}

func TestClearValuesPadsToAttachments(t *testing.T) {
	attachments := []gpu.AttachmentDesc{
		{Format: gpu.FormatR16G16B16A16Sfloat},
		{Format: gpu.FormatD32Sfloat},
		{Format: gpu.FormatR8G8B8A8Unorm},
	}
	values := clearValues(attachments, []gpu.ClearValue{gpu.ClearColor(1, 0, 0, 1)})
	assert.Len(t, values, len(attachments))
}
