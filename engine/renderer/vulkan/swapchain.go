package vulkan

import (
	"fmt"
	"math"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"golang.org/x/exp/constraints"
)

type Swapchain struct {
	dev    *Device
	handle vk.Swapchain
	format vk.SurfaceFormat
	extent gpu.Extent2D
	images []vk.Image
	views  []*imageView
}

type surfaceSupport struct {
	capabilities vk.SurfaceCapabilities
	formats      []vk.SurfaceFormat
	presentModes []vk.PresentMode
}

func querySurfaceSupport(pd vk.PhysicalDevice, surface vk.Surface) (surfaceSupport, error) {
	var s surfaceSupport
	if err := ResultError("vkGetPhysicalDeviceSurfaceCapabilities", vk.GetPhysicalDeviceSurfaceCapabilities(pd, surface, &s.capabilities)); err != nil {
		return s, err
	}
	s.capabilities.Deref()
	s.capabilities.CurrentExtent.Deref()
	s.capabilities.MinImageExtent.Deref()
	s.capabilities.MaxImageExtent.Deref()

	var count uint32
	if err := ResultError("vkGetPhysicalDeviceSurfaceFormats", vk.GetPhysicalDeviceSurfaceFormats(pd, surface, &count, nil)); err != nil {
		return s, err
	}
	if count > 0 {
		s.formats = make([]vk.SurfaceFormat, count)
		if err := ResultError("vkGetPhysicalDeviceSurfaceFormats", vk.GetPhysicalDeviceSurfaceFormats(pd, surface, &count, s.formats)); err != nil {
			return s, err
		}
		for i := range s.formats {
			s.formats[i].Deref()
		}
	}

	count = 0
	if err := ResultError("vkGetPhysicalDeviceSurfacePresentModes", vk.GetPhysicalDeviceSurfacePresentModes(pd, surface, &count, nil)); err != nil {
		return s, err
	}
	if count > 0 {
		s.presentModes = make([]vk.PresentMode, count)
		if err := ResultError("vkGetPhysicalDeviceSurfacePresentModes", vk.GetPhysicalDeviceSurfacePresentModes(pd, surface, &count, s.presentModes)); err != nil {
			return s, err
		}
	}
	return s, nil
}

// chooseSurfaceFormat prefers 8-bit BGRA in the sRGB non-linear color space.
func chooseSurfaceFormat(available []vk.SurfaceFormat) vk.SurfaceFormat {
	for _, f := range available {
		if f.Format == vk.FormatB8g8r8a8Unorm && f.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return f
		}
	}
	for _, f := range available {
		if f.Format == vk.FormatB8g8r8a8Srgb && f.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			return f
		}
	}
	return available[0]
}

// choosePresentMode uses mailbox when preferred and available. FIFO is always supported.
func choosePresentMode(available []vk.PresentMode, preferMailbox bool) vk.PresentMode {
	if preferMailbox {
		for _, m := range available {
			if m == vk.PresentModeMailbox {
				return m
			}
		}
	}
	return vk.PresentModeFifo
}

func clamp[T constraints.Ordered](v, low, high T) T {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}

// chooseExtent uses the surface's current extent when it is fixed, otherwise the
// requested size clamped to what the surface allows.
func chooseExtent(caps vk.SurfaceCapabilities, width, height uint32) gpu.Extent2D {
	if caps.CurrentExtent.Width != math.MaxUint32 {
		return gpu.Extent2D{Width: caps.CurrentExtent.Width, Height: caps.CurrentExtent.Height}
	}
	return gpu.Extent2D{
		Width:  clamp(width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width),
		Height: clamp(height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height),
	}
}

// chooseImageCount asks for one image more than the minimum. A maximum of zero means unbounded.
func chooseImageCount(caps vk.SurfaceCapabilities) uint32 {
	count := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && count > caps.MaxImageCount {
		count = caps.MaxImageCount
	}
	return count
}

func (d *Device) NewSwapchain(width, height uint32) (gpu.Swapchain, error) {
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("swapchain extent must be non-zero, got %dx%d", width, height)
	}
	support, err := querySurfaceSupport(d.physical, d.surface)
	if err != nil {
		return nil, err
	}
	if len(support.formats) == 0 || len(support.presentModes) == 0 {
		return nil, fmt.Errorf("surface has no formats or present modes: %w", core.ErrFatalGPU)
	}

	sc := &Swapchain{
		dev:    d,
		format: chooseSurfaceFormat(support.formats),
		extent: chooseExtent(support.capabilities, width, height),
	}
	if sc.extent.IsZero() {
		return nil, fmt.Errorf("surface extent is %dx%d", sc.extent.Width, sc.extent.Height)
	}
	presentMode := choosePresentMode(support.presentModes, d.cfg.PreferMailbox)

	createInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          d.surface,
		MinImageCount:    chooseImageCount(support.capabilities),
		ImageFormat:      sc.format.Format,
		ImageColorSpace:  sc.format.ColorSpace,
		ImageExtent:      vk.Extent2D{Width: sc.extent.Width, Height: sc.extent.Height},
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
		PreTransform:     support.capabilities.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      presentMode,
		Clipped:          vk.True,
	}
	if d.families.Graphics != d.families.Present {
		createInfo.ImageSharingMode = vk.SharingModeConcurrent
		createInfo.QueueFamilyIndexCount = 2
		createInfo.PQueueFamilyIndices = []uint32{d.families.Graphics, d.families.Present}
	} else {
		createInfo.ImageSharingMode = vk.SharingModeExclusive
	}

	var handle vk.Swapchain
	if err := ResultError("vkCreateSwapchain", vk.CreateSwapchain(d.handle, &createInfo, nil, &handle)); err != nil {
		return nil, err
	}
	sc.handle = handle

	var count uint32
	if err := ResultError("vkGetSwapchainImages", vk.GetSwapchainImages(d.handle, handle, &count, nil)); err != nil {
		sc.Destroy()
		return nil, err
	}
	sc.images = make([]vk.Image, count)
	if err := ResultError("vkGetSwapchainImages", vk.GetSwapchainImages(d.handle, handle, &count, sc.images)); err != nil {
		sc.Destroy()
		return nil, err
	}
	for _, img := range sc.images {
		view, err := d.createView(img, gpu.Format(sc.format.Format), sc.extent, gpu.ImageViewType2D, 1, false)
		if err != nil {
			sc.Destroy()
			return nil, err
		}
		sc.views = append(sc.views, view)
	}

	core.LogInfo("swapchain created: %dx%d, %d images, format %d, present mode %d",
		sc.extent.Width, sc.extent.Height, len(sc.images), sc.format.Format, presentMode)
	return sc, nil
}

func (s *Swapchain) Format() gpu.Format {
	return gpu.Format(s.format.Format)
}

func (s *Swapchain) Extent() gpu.Extent2D {
	return s.extent
}

func (s *Swapchain) ImageCount() int {
	return len(s.images)
}

func (s *Swapchain) View(index int) gpu.ImageView {
	return s.views[index]
}

func (s *Swapchain) AcquireNextImage(signal gpu.Semaphore) (uint32, gpu.SwapchainStatus, error) {
	if s.handle == vk.NullSwapchain {
		return 0, gpu.SwapchainOK, gpu.ErrDestroyed
	}
	sem, ok := signal.(*Semaphore)
	if !ok {
		return 0, gpu.SwapchainOK, fmt.Errorf("acquire: foreign semaphore %T", signal)
	}
	var index uint32
	res := vk.AcquireNextImage(s.dev.handle, s.handle, vk.MaxUint64, sem.handle, vk.NullFence, &index)
	status, err := swapchainStatus("vkAcquireNextImage", res)
	return index, status, err
}

func (s *Swapchain) Present(imageIndex uint32, wait gpu.Semaphore) (gpu.SwapchainStatus, error) {
	if s.handle == vk.NullSwapchain {
		return gpu.SwapchainOK, gpu.ErrDestroyed
	}
	info := vk.PresentInfo{
		SType:          vk.StructureTypePresentInfo,
		SwapchainCount: 1,
		PSwapchains:    []vk.Swapchain{s.handle},
		PImageIndices:  []uint32{imageIndex},
	}
	if sem, ok := wait.(*Semaphore); ok && sem != nil {
		info.WaitSemaphoreCount = 1
		info.PWaitSemaphores = []vk.Semaphore{sem.handle}
	}
	s.dev.queueMu.Lock()
	res := vk.QueuePresent(s.dev.present, &info)
	s.dev.queueMu.Unlock()
	return swapchainStatus("vkQueuePresent", res)
}

// Destroy releases the views and the swapchain. Images are owned by the swapchain.
func (s *Swapchain) Destroy() {
	for _, v := range s.views {
		v.destroy(s.dev.handle)
	}
	s.views = nil
	s.images = nil
	if s.handle != vk.NullSwapchain {
		vk.DestroySwapchain(s.dev.handle, s.handle, nil)
		s.handle = vk.NullSwapchain
	}
}
