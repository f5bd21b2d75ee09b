package passes

import (
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

// Placeholders are bound wherever a descriptor has no real resource, so that
// every sampled image is in a defined layout with neutral contents.
type Placeholders struct {
	// White2D is RGBA8 opaque white.
	White2D gpu.Image
	// Flat normal map (0.5, 0.5, 1).
	FlatNormal gpu.Image
	// BlackCube is an RGBA16F cube cleared to zero, used for missing IBL maps.
	BlackCube gpu.Image
	// Distance cube cleared to 1, meaning fully lit.
	FarCube gpu.Image
	// Depth map cleared to 1, meaning fully lit.
	FarDepth gpu.Image
	// Single layer depth array cleared to 1, standing in for the cascade array.
	FarDepthArray gpu.Image

	Linear  gpu.Sampler
	Clamped gpu.Sampler
	// Shadow is a comparison sampler for hardware PCF.
	Shadow gpu.Sampler
}

func NewPlaceholders(device gpu.Device) (*Placeholders, error) {
	p := &Placeholders{}
	var err error
	depth := device.DepthFormat()
	images := []struct {
		dst   *gpu.Image
		desc  gpu.ImageDesc
		clear gpu.ClearValue
	}{
		{&p.White2D, gpu.ImageDesc{Name: "placeholder_white", Format: gpu.FormatR8G8B8A8Unorm, ViewType: gpu.ImageViewType2D}, gpu.ClearColor(1, 1, 1, 1)},
		{&p.FlatNormal, gpu.ImageDesc{Name: "placeholder_normal", Format: gpu.FormatR8G8B8A8Unorm, ViewType: gpu.ImageViewType2D}, gpu.ClearColor(0.5, 0.5, 1, 1)},
		{&p.BlackCube, gpu.ImageDesc{Name: "placeholder_cube", Format: gpu.FormatR16G16B16A16Sfloat, Layers: 6, ViewType: gpu.ImageViewTypeCube}, gpu.ClearColor(0, 0, 0, 0)},
		{&p.FarCube, gpu.ImageDesc{Name: "placeholder_distance_cube", Format: gpu.FormatR32Sfloat, Layers: 6, ViewType: gpu.ImageViewTypeCube}, gpu.ClearColor(1, 1, 1, 1)},
		{&p.FarDepth, gpu.ImageDesc{Name: "placeholder_depth", Format: depth, ViewType: gpu.ImageViewType2D}, gpu.ClearDepth(1)},
		{&p.FarDepthArray, gpu.ImageDesc{Name: "placeholder_depth_array", Format: depth, ViewType: gpu.ImageViewType2DArray}, gpu.ClearDepth(1)},
	}
	for _, img := range images {
		desc := img.desc
		desc.Width, desc.Height = 1, 1
		if desc.Layers == 0 {
			desc.Layers = 1
		}
		desc.Usage = gpu.ImageUsageSampled | gpu.ImageUsageTransferDst
		if *img.dst, err = device.NewImage(desc); err != nil {
			p.Destroy()
			return nil, err
		}
	}
	err = device.Immediate(func(cmd gpu.CommandBuffer) error {
		for _, img := range images {
			cmd.ClearImage(*img.dst, img.clear)
		}
		return nil
	})
	if err != nil {
		p.Destroy()
		return nil, err
	}

	if p.Linear, err = device.NewSampler(gpu.SamplerDesc{MinFilter: gpu.FilterLinear, MagFilter: gpu.FilterLinear, AddressMode: gpu.AddressModeRepeat, MaxAnisotropy: 16}); err != nil {
		p.Destroy()
		return nil, err
	}
	if p.Clamped, err = device.NewSampler(gpu.SamplerDesc{MinFilter: gpu.FilterLinear, MagFilter: gpu.FilterLinear, AddressMode: gpu.AddressModeClampToEdge}); err != nil {
		p.Destroy()
		return nil, err
	}
	p.Shadow, err = device.NewSampler(gpu.SamplerDesc{
		MinFilter:   gpu.FilterLinear,
		MagFilter:   gpu.FilterLinear,
		AddressMode: gpu.AddressModeClampToBorder,
		BorderColor: gpu.BorderColorFloatOpaqueWhite,
		Compare:     true,
		CompareOp:   gpu.CompareOpLessOrEqual,
	})
	if err != nil {
		p.Destroy()
		return nil, err
	}
	core.LogDebug("placeholder images and samplers created")
	return p, nil
}

// Sampled returns a binding of view, or of fallback's sampled view when view is nil.
func Sampled(view gpu.ImageView, fallback gpu.Image, sampler gpu.Sampler) gpu.ImageBinding {
	if view == nil {
		view = fallback.SampledView()
	}
	return gpu.ImageBinding{View: view, Sampler: sampler, Layout: gpu.ImageLayoutShaderReadOnlyOptimal}
}

func (p *Placeholders) Destroy() {
	Destroy(p.White2D, p.FlatNormal, p.BlackCube, p.FarCube, p.FarDepth, p.FarDepthArray, p.Linear, p.Clamped, p.Shadow)
	*p = Placeholders{}
}
