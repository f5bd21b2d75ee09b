package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

type RenderPass struct {
	dev       *Device
	desc      gpu.RenderPassDesc
	handle    vk.RenderPass
	destroyed bool
}

func attachmentRefs(refs []gpu.AttachmentRef) []vk.AttachmentReference {
	if len(refs) == 0 {
		return nil
	}
	out := make([]vk.AttachmentReference, len(refs))
	for i, r := range refs {
		out[i] = vk.AttachmentReference{Attachment: r.Attachment, Layout: vk.ImageLayout(r.Layout)}
	}
	return out
}

func (d *Device) NewRenderPass(desc gpu.RenderPassDesc) (gpu.RenderPass, error) {
	if len(desc.Subpasses) == 0 {
		return nil, fmt.Errorf("render pass `%s` has no subpass", desc.Name)
	}
	attachments := make([]vk.AttachmentDescription, len(desc.Attachments))
	for i, a := range desc.Attachments {
		attachments[i] = vk.AttachmentDescription{
			Format:         vk.Format(a.Format),
			Samples:        vk.SampleCount1Bit,
			LoadOp:         vk.AttachmentLoadOp(a.LoadOp),
			StoreOp:        vk.AttachmentStoreOp(a.StoreOp),
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayout(a.InitialLayout),
			FinalLayout:    vk.ImageLayout(a.FinalLayout),
		}
	}

	subpasses := make([]vk.SubpassDescription, len(desc.Subpasses))
	for i, s := range desc.Subpasses {
		subpasses[i] = vk.SubpassDescription{
			PipelineBindPoint:    vk.PipelineBindPointGraphics,
			ColorAttachmentCount: uint32(len(s.Colors)),
			PColorAttachments:    attachmentRefs(s.Colors),
			InputAttachmentCount: uint32(len(s.Inputs)),
			PInputAttachments:    attachmentRefs(s.Inputs),
		}
		if s.Depth != nil {
			subpasses[i].PDepthStencilAttachment = &vk.AttachmentReference{
				Attachment: s.Depth.Attachment,
				Layout:     vk.ImageLayout(s.Depth.Layout),
			}
		}
	}

	deps := make([]vk.SubpassDependency, len(desc.Dependencies))
	for i, dep := range desc.Dependencies {
		deps[i] = vk.SubpassDependency{
			SrcSubpass:      dep.SrcSubpass,
			DstSubpass:      dep.DstSubpass,
			SrcStageMask:    vk.PipelineStageFlags(dep.SrcStage),
			DstStageMask:    vk.PipelineStageFlags(dep.DstStage),
			SrcAccessMask:   vk.AccessFlags(dep.SrcAccess),
			DstAccessMask:   vk.AccessFlags(dep.DstAccess),
			DependencyFlags: vk.DependencyFlags(dep.Flags),
		}
	}

	info := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    uint32(len(subpasses)),
		PSubpasses:      subpasses,
		DependencyCount: uint32(len(deps)),
		PDependencies:   deps,
	}
	rp := &RenderPass{dev: d, desc: desc}
	if err := ResultError("vkCreateRenderPass", vk.CreateRenderPass(d.handle, &info, nil, &rp.handle)); err != nil {
		return nil, fmt.Errorf("render pass `%s`: %w", desc.Name, err)
	}
	return rp, nil
}

func (r *RenderPass) Desc() gpu.RenderPassDesc {
	return r.desc
}

func (r *RenderPass) Destroy() {
	if r.destroyed {
		return
	}
	r.destroyed = true
	vk.DestroyRenderPass(r.dev.handle, r.handle, nil)
}

type Framebuffer struct {
	dev       *Device
	desc      gpu.FramebufferDesc
	handle    vk.Framebuffer
	destroyed bool
}

func (d *Device) NewFramebuffer(desc gpu.FramebufferDesc) (gpu.Framebuffer, error) {
	rp, ok := desc.RenderPass.(*RenderPass)
	if !ok {
		return nil, fmt.Errorf("framebuffer: foreign render pass %T", desc.RenderPass)
	}
	if desc.Layers == 0 {
		desc.Layers = 1
	}
	views := make([]vk.ImageView, len(desc.Attachments))
	for i, a := range desc.Attachments {
		v, ok := a.(*imageView)
		if !ok {
			return nil, fmt.Errorf("framebuffer for `%s`: attachment %d is %T", rp.desc.Name, i, a)
		}
		views[i] = v.handle
	}
	info := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      rp.handle,
		AttachmentCount: uint32(len(views)),
		PAttachments:    views,
		Width:           desc.Width,
		Height:          desc.Height,
		Layers:          desc.Layers,
	}
	fb := &Framebuffer{dev: d, desc: desc}
	if err := ResultError("vkCreateFramebuffer", vk.CreateFramebuffer(d.handle, &info, nil, &fb.handle)); err != nil {
		return nil, fmt.Errorf("framebuffer for `%s`: %w", rp.desc.Name, err)
	}
	return fb, nil
}

func (f *Framebuffer) Desc() gpu.FramebufferDesc {
	return f.desc
}

func (f *Framebuffer) Destroy() {
	if f.destroyed {
		return
	}
	f.destroyed = true
	vk.DestroyFramebuffer(f.dev.handle, f.handle, nil)
}
