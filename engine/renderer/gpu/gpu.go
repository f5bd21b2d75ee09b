// Package gpu defines the graphics device protocol the renderer is written against.
//
// Every object created by a Device must be released exactly once with Destroy;
// calling Destroy again is a no-op.
package gpu

import "errors"

var (
	// ErrDestroyed is returned by operations on a destroyed object.
	ErrDestroyed = errors.New("gpu object already destroyed")
	// ErrOutOfDate marks a swapchain result that requires recreation. Swapchain
	// implementations translate it into a SwapchainStatus before returning.
	ErrOutOfDate = errors.New("swapchain out of date")
)

type Destroyer interface {
	Destroy()
}

type Device interface {
	Destroyer

	NewSwapchain(width, height uint32) (Swapchain, error)
	NewCommandBuffer(name string) (CommandBuffer, error)
	NewFence(signaled bool) (Fence, error)
	NewSemaphore() (Semaphore, error)

	NewImage(desc ImageDesc) (Image, error)
	NewSampler(desc SamplerDesc) (Sampler, error)
	NewBuffer(desc BufferDesc) (Buffer, error)
	NewRenderPass(desc RenderPassDesc) (RenderPass, error)
	NewFramebuffer(desc FramebufferDesc) (Framebuffer, error)
	NewDescriptorSetLayout(desc DescriptorSetLayoutDesc) (DescriptorSetLayout, error)
	NewPipelineLayout(desc PipelineLayoutDesc) (PipelineLayout, error)
	NewShaderModule(name string, code []byte) (ShaderModule, error)
	NewGraphicsPipeline(desc GraphicsPipelineDesc) (Pipeline, error)

	// Submit queues a recorded command buffer on the graphics queue.
	Submit(info SubmitInfo) error
	// Immediate records fn into a one-shot command buffer and waits for it to complete.
	Immediate(fn func(cmd CommandBuffer) error) error
	WaitIdle() error

	DepthFormat() Format
	Limits() Limits
}

type Swapchain interface {
	Destroyer
	Format() Format
	Extent() Extent2D
	ImageCount() int
	View(index int) ImageView
	// AcquireNextImage signals the semaphore once the returned image is ready to be rendered to.
	AcquireNextImage(signal Semaphore) (uint32, SwapchainStatus, error)
	Present(imageIndex uint32, wait Semaphore) (SwapchainStatus, error)
}

type Fence interface {
	Destroyer
	Wait(timeoutNs uint64) error
	Reset() error
}

type Semaphore interface {
	Destroyer
}

type ImageView interface {
	Format() Format
	Extent() Extent2D
}

type Image interface {
	Destroyer
	Desc() ImageDesc
	// AttachmentView is a 2D or 2D array view over every layer, suitable for a framebuffer.
	AttachmentView() ImageView
	// SampledView uses the view type of the description.
	SampledView() ImageView
}

type Sampler interface {
	Destroyer
}

type Buffer interface {
	Destroyer
	Size() uint64
	// Write copies data at offset into a host visible buffer.
	Write(offset uint64, data []byte) error
}

type RenderPass interface {
	Destroyer
	Desc() RenderPassDesc
}

type Framebuffer interface {
	Destroyer
	Desc() FramebufferDesc
}

type DescriptorSetLayout interface {
	Destroyer
	Desc() DescriptorSetLayoutDesc
}

type PipelineLayout interface {
	Destroyer
	Desc() PipelineLayoutDesc
}

type ShaderModule interface {
	Destroyer
	Name() string
}

type Pipeline interface {
	Destroyer
	Desc() GraphicsPipelineDesc
}

type CommandBuffer interface {
	Reset() error
	Begin() error
	End() error

	BeginRenderPass(rp RenderPass, fb Framebuffer, clears []ClearValue)
	NextSubpass()
	EndRenderPass()

	SetViewport(x, y, width, height float32)
	SetScissor(x, y int32, width, height uint32)
	BindPipeline(p Pipeline)
	PushConstants(layout PipelineLayout, stages ShaderStage, offset uint32, data []byte)
	// PushDescriptors writes set for the next draws without allocating a persistent descriptor set.
	PushDescriptors(layout PipelineLayout, set uint32, writes []DescriptorWrite) error
	BindVertexBuffers(first uint32, buffers []Buffer, offsets []uint64)
	BindIndexBuffer(b Buffer, offset uint64, indexType IndexType)
	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
	DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32)

	TransitionImage(img Image, from, to ImageLayout)
	// ClearImage clears every layer of img and leaves it in ImageLayoutShaderReadOnlyOptimal.
	ClearImage(img Image, value ClearValue)
}
