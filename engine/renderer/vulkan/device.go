package vulkan

import (
	"fmt"
	"runtime"
	"sync"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

// Device owns the instance, surface, logical device, queues, command pool and pipeline cache.
type Device struct {
	cfg      core.RendererSection
	instance *instance
	surface  vk.Surface

	physical    vk.PhysicalDevice
	handle      vk.Device
	families    queueFamilies
	graphics    vk.Queue
	present     vk.Queue
	commandPool vk.CommandPool
	properties  vk.PhysicalDeviceProperties
	memory      vk.PhysicalDeviceMemoryProperties
	depthFormat vk.Format
	limits      gpu.Limits
	anisotropy  float32

	cache *pipelineCache

	// Serializes queue access; Immediate may run while a frame is being presented.
	queueMu sync.Mutex
}

type queueFamily struct {
	Graphics bool
	Present  bool
	Transfer bool
}

type queueFamilies struct {
	Graphics uint32
	Present  uint32
}

// physicalDeviceInfo is what device selection needs to know about a candidate.
type physicalDeviceInfo struct {
	Name            string
	Discrete        bool
	Families        []queueFamily
	Extensions      []string
	Anisotropy      bool
	GeometryShader  bool
	SurfaceFormats  int
	PresentModes    int
	DepthFormat     gpu.Format
	RequireDiscrete bool
}

var requiredDeviceExtensions = []string{"VK_KHR_swapchain"}

// pickQueueFamilies prefers a single family that can both draw and present.
func pickQueueFamilies(families []queueFamily) (queueFamilies, bool) {
	graphics, present := -1, -1
	for i, f := range families {
		if f.Graphics && f.Present {
			return queueFamilies{Graphics: uint32(i), Present: uint32(i)}, true
		}
		if f.Graphics && graphics < 0 {
			graphics = i
		}
		if f.Present && present < 0 {
			present = i
		}
	}
	if graphics < 0 || present < 0 {
		return queueFamilies{}, false
	}
	return queueFamilies{Graphics: uint32(graphics), Present: uint32(present)}, true
}

// evaluate returns the queue families to use or the reason the device is rejected.
func (info physicalDeviceInfo) evaluate() (queueFamilies, string) {
	if info.RequireDiscrete && !info.Discrete {
		return queueFamilies{}, "not a discrete GPU"
	}
	families, ok := pickQueueFamilies(info.Families)
	if !ok {
		return queueFamilies{}, "missing graphics or present queue"
	}
	for _, required := range requiredDeviceExtensions {
		found := false
		for _, e := range info.Extensions {
			if e == required {
				found = true
				break
			}
		}
		if !found {
			return queueFamilies{}, fmt.Sprintf("missing extension `%s`", required)
		}
	}
	if !info.Anisotropy {
		return queueFamilies{}, "no sampler anisotropy"
	}
	if !info.GeometryShader {
		return queueFamilies{}, "no geometry shader"
	}
	if info.SurfaceFormats == 0 || info.PresentModes == 0 {
		return queueFamilies{}, "no surface format or present mode"
	}
	if info.DepthFormat == gpu.FormatUndefined {
		return queueFamilies{}, "no depth attachment format"
	}
	return families, ""
}

// NewDevice creates the instance, surface and logical device for window.
// It fails with core.ErrNoSuitableDevice when no GPU meets the renderer requirements.
func NewDevice(cfg *core.Config, window Window) (*Device, error) {
	inst, err := createInstance(cfg.Application.Name, cfg.Renderer.Validation, window)
	if err != nil {
		return nil, err
	}
	d := &Device{cfg: cfg.Renderer, instance: inst}

	d.surface, err = window.CreateSurface(inst.handle)
	if err != nil {
		inst.destroy()
		return nil, fmt.Errorf("surface creation failed: %s: %w", err, core.ErrFatalGPU)
	}
	core.LogDebug("Vulkan surface created")

	if err := d.selectPhysicalDevice(); err != nil {
		d.Destroy()
		return nil, err
	}
	if err := d.createLogicalDevice(); err != nil {
		d.Destroy()
		return nil, err
	}
	d.cache = loadPipelineCache(d.handle, cfg.Renderer.PipelineCache)
	return d, nil
}

func (d *Device) selectPhysicalDevice() error {
	var count uint32
	if err := ResultError("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(d.instance.handle, &count, nil)); err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("no devices which support Vulkan were found: %w", core.ErrNoSuitableDevice)
	}
	devices := make([]vk.PhysicalDevice, count)
	if err := ResultError("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(d.instance.handle, &count, devices)); err != nil {
		return err
	}

	for _, pd := range devices {
		info, props, err := d.describe(pd)
		if err != nil {
			return err
		}
		families, reason := info.evaluate()
		if reason != "" {
			core.LogInfo("skipping device `%s`: %s", info.Name, reason)
			continue
		}

		d.physical = pd
		d.families = families
		d.properties = props
		d.depthFormat = vk.Format(info.DepthFormat)
		vk.GetPhysicalDeviceMemoryProperties(pd, &d.memory)
		d.memory.Deref()

		limits := props.Limits
		limits.Deref()
		d.limits = gpu.Limits{
			MaxPushConstantsSize:            limits.MaxPushConstantsSize,
			MinUniformBufferOffsetAlignment: uint64(limits.MinUniformBufferOffsetAlignment),
			MaxImageDimension2D:             limits.MaxImageDimension2D,
		}
		d.anisotropy = limits.MaxSamplerAnisotropy

		core.LogInfo("selected device `%s`", info.Name)
		core.LogInfo("GPU driver version: %d.%d.%d",
			vk.Version(props.DriverVersion).Major(),
			vk.Version(props.DriverVersion).Minor(),
			vk.Version(props.DriverVersion).Patch())
		core.LogInfo("Vulkan API version: %d.%d.%d",
			vk.Version(props.ApiVersion).Major(),
			vk.Version(props.ApiVersion).Minor(),
			vk.Version(props.ApiVersion).Patch())
		for j := uint32(0); j < d.memory.MemoryHeapCount; j++ {
			heap := d.memory.MemoryHeaps[j]
			heap.Deref()
			gib := float64(heap.Size) / 1024 / 1024 / 1024
			if vk.MemoryHeapFlagBits(heap.Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
				core.LogInfo("local GPU memory: %.2f GiB", gib)
			} else {
				core.LogInfo("shared system memory: %.2f GiB", gib)
			}
		}
		return nil
	}
	return fmt.Errorf("no physical device meets the requirements: %w", core.ErrNoSuitableDevice)
}

func (d *Device) describe(pd vk.PhysicalDevice) (physicalDeviceInfo, vk.PhysicalDeviceProperties, error) {
	var props vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(pd, &props)
	props.Deref()
	var features vk.PhysicalDeviceFeatures
	vk.GetPhysicalDeviceFeatures(pd, &features)
	features.Deref()

	info := physicalDeviceInfo{
		Name:            cString(props.DeviceName[:]),
		Discrete:        props.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu,
		Anisotropy:      features.SamplerAnisotropy == vk.True,
		GeometryShader:  features.GeometryShader == vk.True,
		RequireDiscrete: runtime.GOOS != "darwin",
		DepthFormat:     detectDepthFormat(pd),
	}

	var familyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &familyCount, nil)
	families := make([]vk.QueueFamilyProperties, familyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(pd, &familyCount, families)
	for i := range families {
		families[i].Deref()
		var present vk.Bool32
		if err := ResultError("vkGetPhysicalDeviceSurfaceSupport", vk.GetPhysicalDeviceSurfaceSupport(pd, uint32(i), d.surface, &present)); err != nil {
			return info, props, err
		}
		flags := vk.QueueFlagBits(families[i].QueueFlags)
		info.Families = append(info.Families, queueFamily{
			Graphics: flags&vk.QueueGraphicsBit != 0,
			Transfer: flags&vk.QueueTransferBit != 0,
			Present:  present == vk.True,
		})
	}

	var extCount uint32
	if err := ResultError("vkEnumerateDeviceExtensionProperties", vk.EnumerateDeviceExtensionProperties(pd, "", &extCount, nil)); err != nil {
		return info, props, err
	}
	exts := make([]vk.ExtensionProperties, extCount)
	if err := ResultError("vkEnumerateDeviceExtensionProperties", vk.EnumerateDeviceExtensionProperties(pd, "", &extCount, exts)); err != nil {
		return info, props, err
	}
	for i := range exts {
		exts[i].Deref()
		info.Extensions = append(info.Extensions, cString(exts[i].ExtensionName[:]))
	}

	support, err := querySurfaceSupport(pd, d.surface)
	if err != nil {
		return info, props, err
	}
	info.SurfaceFormats = len(support.formats)
	info.PresentModes = len(support.presentModes)
	return info, props, nil
}

func detectDepthFormat(pd vk.PhysicalDevice) gpu.Format {
	candidates := []gpu.Format{gpu.FormatD32Sfloat, gpu.FormatD32SfloatS8Uint, gpu.FormatD24UnormS8Uint}
	required := vk.FormatFeatureFlags(vk.FormatFeatureDepthStencilAttachmentBit | vk.FormatFeatureSampledImageBit)
	for _, f := range candidates {
		var props vk.FormatProperties
		vk.GetPhysicalDeviceFormatProperties(pd, vk.Format(f), &props)
		props.Deref()
		if props.OptimalTilingFeatures&required == required {
			return f
		}
	}
	return gpu.FormatUndefined
}

func (d *Device) createLogicalDevice() error {
	core.LogInfo("creating logical device...")
	indices := []uint32{d.families.Graphics}
	if d.families.Present != d.families.Graphics {
		indices = append(indices, d.families.Present)
	}
	queueInfos := make([]vk.DeviceQueueCreateInfo, len(indices))
	for i, idx := range indices {
		queueInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: idx,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	extensions := append([]string(nil), requiredDeviceExtensions...)
	if d.hasExtension("VK_KHR_portability_subset") {
		core.LogInfo("adding required extension `VK_KHR_portability_subset`")
		extensions = append(extensions, "VK_KHR_portability_subset")
	}

	features := vk.PhysicalDeviceFeatures{
		SamplerAnisotropy: vk.True,
		GeometryShader:    vk.True,
	}
	createInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{features},
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: safeStrings(extensions),
	}
	var device vk.Device
	if err := ResultError("vkCreateDevice", vk.CreateDevice(d.physical, &createInfo, nil, &device)); err != nil {
		return err
	}
	d.handle = device
	core.LogInfo("logical device created")

	var q vk.Queue
	vk.GetDeviceQueue(d.handle, d.families.Graphics, 0, &q)
	d.graphics = q
	vk.GetDeviceQueue(d.handle, d.families.Present, 0, &q)
	d.present = q

	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: d.families.Graphics,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if err := ResultError("vkCreateCommandPool", vk.CreateCommandPool(d.handle, &poolInfo, nil, &pool)); err != nil {
		return err
	}
	d.commandPool = pool
	core.LogDebug("graphics command pool created")
	return nil
}

func (d *Device) hasExtension(name string) bool {
	var count uint32
	if vk.EnumerateDeviceExtensionProperties(d.physical, "", &count, nil) != vk.Success {
		return false
	}
	exts := make([]vk.ExtensionProperties, count)
	if vk.EnumerateDeviceExtensionProperties(d.physical, "", &count, exts) != vk.Success {
		return false
	}
	for i := range exts {
		exts[i].Deref()
		if cString(exts[i].ExtensionName[:]) == name {
			return true
		}
	}
	return false
}

func (d *Device) DepthFormat() gpu.Format {
	return gpu.Format(d.depthFormat)
}

func (d *Device) Limits() gpu.Limits {
	return d.limits
}

func (d *Device) WaitIdle() error {
	if d.handle == nil {
		return nil
	}
	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	return ResultError("vkDeviceWaitIdle", vk.DeviceWaitIdle(d.handle))
}

func (d *Device) Submit(info gpu.SubmitInfo) error {
	cb, ok := info.CommandBuffer.(*CommandBuffer)
	if !ok {
		return fmt.Errorf("submit: foreign command buffer %T", info.CommandBuffer)
	}
	submit := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cb.handle},
	}
	if s, ok := info.Wait.(*Semaphore); ok && s != nil {
		stage := info.WaitStage
		if stage == 0 {
			stage = gpu.PipelineStageColorAttachmentOutput
		}
		submit.WaitSemaphoreCount = 1
		submit.PWaitSemaphores = []vk.Semaphore{s.handle}
		submit.PWaitDstStageMask = []vk.PipelineStageFlags{vk.PipelineStageFlags(stage)}
	}
	if s, ok := info.Signal.(*Semaphore); ok && s != nil {
		submit.SignalSemaphoreCount = 1
		submit.PSignalSemaphores = []vk.Semaphore{s.handle}
	}
	fence := vk.NullFence
	if f, ok := info.Fence.(*Fence); ok && f != nil {
		fence = f.handle
		f.signaled = false
	}

	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	return ResultError("vkQueueSubmit", vk.QueueSubmit(d.graphics, 1, []vk.SubmitInfo{submit}, fence))
}

// Immediate records fn into a single use command buffer, submits it and waits for the queue to drain.
func (d *Device) Immediate(fn func(cmd gpu.CommandBuffer) error) error {
	cb, err := d.newCommandBuffer("immediate")
	if err != nil {
		return err
	}
	defer cb.Destroy()

	if err := cb.begin(vk.CommandBufferUsageOneTimeSubmitBit); err != nil {
		return err
	}
	if err := fn(cb); err != nil {
		vk.EndCommandBuffer(cb.handle)
		return err
	}
	if err := cb.End(); err != nil {
		return err
	}

	submit := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vk.CommandBuffer{cb.handle},
	}
	d.queueMu.Lock()
	defer d.queueMu.Unlock()
	if err := ResultError("vkQueueSubmit", vk.QueueSubmit(d.graphics, 1, []vk.SubmitInfo{submit}, vk.NullFence)); err != nil {
		return err
	}
	return ResultError("vkQueueWaitIdle", vk.QueueWaitIdle(d.graphics))
}

// Destroy releases the device in the reverse order of creation and persists the pipeline cache.
func (d *Device) Destroy() {
	if d.handle != nil {
		vk.DeviceWaitIdle(d.handle)
		if d.cache != nil {
			d.cache.save(d.handle)
			d.cache.destroy(d.handle)
			d.cache = nil
		}
		core.LogDebug("destroying command pool...")
		vk.DestroyCommandPool(d.handle, d.commandPool, nil)
		core.LogDebug("destroying logical device...")
		vk.DestroyDevice(d.handle, nil)
		d.handle = nil
	}
	if d.instance != nil {
		if d.surface != vk.NullSurface {
			core.LogDebug("destroying Vulkan surface...")
			vk.DestroySurface(d.instance.handle, d.surface, nil)
			d.surface = vk.NullSurface
		}
		core.LogDebug("destroying Vulkan instance...")
		d.instance.destroy()
		d.instance = nil
	}
}
