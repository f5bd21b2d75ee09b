package gputest

import (
	"fmt"

	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

type View struct {
	Owner string
	Image *Image
	// Stencil is set when the view covers the stencil aspect as well as depth.
	Stencil bool
	format  gpu.Format
	extent  gpu.Extent2D
}

func (v *View) Format() gpu.Format   { return v.format }
func (v *View) Extent() gpu.Extent2D { return v.extent }
func (v *View) String() string       { return v.Owner }

type Swapchain struct {
	Object
	extent    gpu.Extent2D
	format    gpu.Format
	views     []*View
	next      uint32
	Acquired  []uint32
	Presented []uint32
}

func (s *Swapchain) Format() gpu.Format           { return s.format }
func (s *Swapchain) Extent() gpu.Extent2D         { return s.extent }
func (s *Swapchain) ImageCount() int              { return len(s.views) }
func (s *Swapchain) View(index int) gpu.ImageView { return s.views[index] }

func popStatus(script *[]gpu.SwapchainStatus) gpu.SwapchainStatus {
	if len(*script) == 0 {
		return gpu.SwapchainOK
	}
	st := (*script)[0]
	*script = (*script)[1:]
	return st
}

func (s *Swapchain) AcquireNextImage(signal gpu.Semaphore) (uint32, gpu.SwapchainStatus, error) {
	if s.Destroyed {
		return 0, gpu.SwapchainOK, gpu.ErrDestroyed
	}
	st := popStatus(&s.dev.AcquireScript)
	s.dev.logf("acquire %s %s", s.Name, st)
	if st == gpu.SwapchainOutOfDate {
		return 0, st, nil
	}
	idx := s.next
	s.next = (s.next + 1) % uint32(len(s.views))
	signal.(*Semaphore).Signals++
	s.Acquired = append(s.Acquired, idx)
	return idx, st, nil
}

func (s *Swapchain) Present(imageIndex uint32, wait gpu.Semaphore) (gpu.SwapchainStatus, error) {
	if s.Destroyed {
		return gpu.SwapchainOK, gpu.ErrDestroyed
	}
	if int(imageIndex) >= len(s.views) {
		return gpu.SwapchainOK, fmt.Errorf("present of image %d out of %d", imageIndex, len(s.views))
	}
	wait.(*Semaphore).Waits++
	st := popStatus(&s.dev.PresentScript)
	s.Presented = append(s.Presented, imageIndex)
	s.dev.logf("present %s image=%d %s", s.Name, imageIndex, st)
	return st, nil
}

type Fence struct {
	Object
	Signaled bool
}

func (f *Fence) Wait(timeoutNs uint64) error {
	f.dev.logf("wait %s", f.Name)
	if !f.Signaled {
		return fmt.Errorf("%s: %w", f.Name, ErrDeadlock)
	}
	return nil
}

func (f *Fence) Reset() error {
	f.dev.logf("reset %s", f.Name)
	f.Signaled = false
	return nil
}

type Semaphore struct {
	Object
	Signals int
	Waits   int
}

type Image struct {
	Object
	desc       gpu.ImageDesc
	attachment *View
	sampled    *View
	Layout     gpu.ImageLayout
	Cleared    *gpu.ClearValue
}

func (i *Image) Desc() gpu.ImageDesc           { return i.desc }
func (i *Image) AttachmentView() gpu.ImageView { return i.attachment }
func (i *Image) SampledView() gpu.ImageView    { return i.sampled }

type Sampler struct {
	Object
	Desc gpu.SamplerDesc
}

type Buffer struct {
	Object
	desc gpu.BufferDesc
	Data []byte
}

func (b *Buffer) Size() uint64 { return b.desc.Size }

func (b *Buffer) Write(offset uint64, data []byte) error {
	if !b.desc.HostVisible {
		return fmt.Errorf("%s is not host visible", b.Name)
	}
	if offset+uint64(len(data)) > b.desc.Size {
		return fmt.Errorf("%s: write of %d bytes at %d overflows %d", b.Name, len(data), offset, b.desc.Size)
	}
	copy(b.Data[offset:], data)
	return nil
}

type RenderPass struct {
	Object
	desc gpu.RenderPassDesc
}

func (r *RenderPass) Desc() gpu.RenderPassDesc { return r.desc }

type Framebuffer struct {
	Object
	desc gpu.FramebufferDesc
}

func (f *Framebuffer) Desc() gpu.FramebufferDesc { return f.desc }

type DescriptorSetLayout struct {
	Object
	desc gpu.DescriptorSetLayoutDesc
}

func (l *DescriptorSetLayout) Desc() gpu.DescriptorSetLayoutDesc { return l.desc }

type PipelineLayout struct {
	Object
	desc gpu.PipelineLayoutDesc
}

func (l *PipelineLayout) Desc() gpu.PipelineLayoutDesc { return l.desc }

type ShaderModule struct {
	Object
	name string
}

func (m *ShaderModule) Name() string { return m.name }

type Pipeline struct {
	Object
	desc gpu.GraphicsPipelineDesc
}

func (p *Pipeline) Desc() gpu.GraphicsPipelineDesc { return p.desc }
