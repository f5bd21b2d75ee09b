package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

type imageView struct {
	handle vk.ImageView
	format gpu.Format
	extent gpu.Extent2D
}

func (v *imageView) Format() gpu.Format {
	return v.format
}

func (v *imageView) Extent() gpu.Extent2D {
	return v.extent
}

func (v *imageView) destroy(device vk.Device) {
	if v.handle == vk.NullImageView {
		return
	}
	vk.DestroyImageView(device, v.handle, nil)
	v.handle = vk.NullImageView
}

// aspectMask picks the aspects touched by a view or barrier. Sampled depth views
// read only the depth aspect.
func aspectMask(f gpu.Format, sampled bool) vk.ImageAspectFlags {
	switch {
	case !f.IsDepth():
		return vk.ImageAspectFlags(vk.ImageAspectColorBit)
	case f.HasStencil() && !sampled:
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit | vk.ImageAspectStencilBit)
	default:
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
}

func (d *Device) createView(img vk.Image, format gpu.Format, extent gpu.Extent2D, viewType gpu.ImageViewType, layers uint32, sampled bool) (*imageView, error) {
	info := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    img,
		ViewType: vk.ImageViewType(viewType),
		Format:   vk.Format(format),
		Components: vk.ComponentMapping{
			R: vk.ComponentSwizzleIdentity,
			G: vk.ComponentSwizzleIdentity,
			B: vk.ComponentSwizzleIdentity,
			A: vk.ComponentSwizzleIdentity,
		},
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: aspectMask(format, sampled),
			LevelCount: 1,
			LayerCount: layers,
		},
	}
	var handle vk.ImageView
	if err := ResultError("vkCreateImageView", vk.CreateImageView(d.handle, &info, nil, &handle)); err != nil {
		return nil, err
	}
	return &imageView{handle: handle, format: format, extent: extent}, nil
}

type Image struct {
	dev        *Device
	desc       gpu.ImageDesc
	handle     vk.Image
	memory     vk.DeviceMemory
	attachment *imageView
	sampled    *imageView
}

// attachmentViewType covers every layer so layered rendering can address them from a geometry shader.
func attachmentViewType(layers uint32) gpu.ImageViewType {
	if layers > 1 {
		return gpu.ImageViewType2DArray
	}
	return gpu.ImageViewType2D
}

// imageCreateInfo describes desc as an optimally tiled 2D image. Usage is taken
// as given; ClearImage needs ImageUsageTransferDst in desc.Usage.
func imageCreateInfo(desc gpu.ImageDesc) vk.ImageCreateInfo {
	info := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    vk.Format(desc.Format),
		Extent: vk.Extent3D{
			Width:  desc.Width,
			Height: desc.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   desc.Layers,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(desc.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	if desc.ViewType == gpu.ImageViewTypeCube {
		info.Flags = vk.ImageCreateFlags(vk.ImageCreateCubeCompatibleBit)
	}
	return info
}

func (d *Device) NewImage(desc gpu.ImageDesc) (gpu.Image, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return nil, fmt.Errorf("image `%s` has zero extent", desc.Name)
	}
	if desc.Layers == 0 {
		desc.Layers = 1
	}
	if desc.ViewType == 0 {
		desc.ViewType = gpu.ImageViewType2D
	}
	if desc.ViewType == gpu.ImageViewTypeCube && desc.Layers != 6 {
		return nil, fmt.Errorf("cube image `%s` needs 6 layers, got %d", desc.Name, desc.Layers)
	}

	info := imageCreateInfo(desc)

	img := &Image{dev: d, desc: desc}
	if err := ResultError("vkCreateImage", vk.CreateImage(d.handle, &info, nil, &img.handle)); err != nil {
		return nil, fmt.Errorf("image `%s`: %w", desc.Name, err)
	}

	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.handle, img.handle, &reqs)
	reqs.Deref()
	mem, err := d.allocate(reqs, vk.MemoryPropertyDeviceLocalBit)
	if err != nil {
		img.Destroy()
		return nil, fmt.Errorf("image `%s`: %w", desc.Name, err)
	}
	img.memory = mem
	if err := ResultError("vkBindImageMemory", vk.BindImageMemory(d.handle, img.handle, mem, 0)); err != nil {
		img.Destroy()
		return nil, err
	}

	extent := gpu.Extent2D{Width: desc.Width, Height: desc.Height}
	attachType := attachmentViewType(desc.Layers)
	img.attachment, err = d.createView(img.handle, desc.Format, extent, attachType, desc.Layers, false)
	if err != nil {
		img.Destroy()
		return nil, err
	}
	if desc.ViewType == attachType && !desc.Format.HasStencil() {
		img.sampled = img.attachment
	} else {
		img.sampled, err = d.createView(img.handle, desc.Format, extent, desc.ViewType, desc.Layers, true)
		if err != nil {
			img.Destroy()
			return nil, err
		}
	}
	core.LogDebug("image `%s` created: %dx%d, %d layers", desc.Name, desc.Width, desc.Height, desc.Layers)
	return img, nil
}

func (i *Image) Desc() gpu.ImageDesc {
	return i.desc
}

func (i *Image) AttachmentView() gpu.ImageView {
	return i.attachment
}

func (i *Image) SampledView() gpu.ImageView {
	return i.sampled
}

func (i *Image) Destroy() {
	if i.handle == vk.NullImage {
		return
	}
	if i.sampled != nil && i.sampled != i.attachment {
		i.sampled.destroy(i.dev.handle)
	}
	if i.attachment != nil {
		i.attachment.destroy(i.dev.handle)
	}
	i.sampled, i.attachment = nil, nil
	vk.DestroyImage(i.dev.handle, i.handle, nil)
	i.handle = vk.NullImage
	if i.memory != vk.NullDeviceMemory {
		vk.FreeMemory(i.dev.handle, i.memory, nil)
		i.memory = vk.NullDeviceMemory
	}
	core.LogDebug("image `%s` destroyed", i.desc.Name)
}

type Sampler struct {
	dev       *Device
	handle    vk.Sampler
	destroyed bool
}

func (d *Device) NewSampler(desc gpu.SamplerDesc) (gpu.Sampler, error) {
	info := vk.SamplerCreateInfo{
		SType:         vk.StructureTypeSamplerCreateInfo,
		MagFilter:     vk.Filter(desc.MagFilter),
		MinFilter:     vk.Filter(desc.MinFilter),
		MipmapMode:    vk.SamplerMipmapModeLinear,
		AddressModeU:  vk.SamplerAddressMode(desc.AddressMode),
		AddressModeV:  vk.SamplerAddressMode(desc.AddressMode),
		AddressModeW:  vk.SamplerAddressMode(desc.AddressMode),
		BorderColor:   vk.BorderColor(desc.BorderColor),
		CompareOp:     vk.CompareOpAlways,
		MaxLod:        1,
		CompareEnable: vk.False,
	}
	if desc.MaxAnisotropy > 1 {
		info.AnisotropyEnable = vk.True
		info.MaxAnisotropy = min(desc.MaxAnisotropy, d.anisotropy)
	}
	if desc.Compare {
		info.CompareEnable = vk.True
		info.CompareOp = vk.CompareOp(desc.CompareOp)
	}
	s := &Sampler{dev: d}
	if err := ResultError("vkCreateSampler", vk.CreateSampler(d.handle, &info, nil, &s.handle)); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sampler) Destroy() {
	if s.destroyed {
		return
	}
	s.destroyed = true
	vk.DestroySampler(s.dev.handle, s.handle, nil)
}
