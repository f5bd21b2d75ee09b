// Package gputest provides an in-memory gpu.Device that records every call,
// so frame orchestration can be tested without a GPU.
package gputest

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

// ErrDeadlock is returned when waiting on a fence that no submission will ever signal.
var ErrDeadlock = errors.New("fence wait would block forever")

type Object struct {
	Kind      string
	Name      string
	Destroyed bool
	dev       *Device
}

func (o *Object) Destroy() {
	if o.Destroyed {
		return
	}
	o.Destroyed = true
	o.dev.logf("destroy %s", o.Name)
}

type Device struct {
	mu      sync.Mutex
	log     []string
	ids     map[string]int
	objects []*Object

	// Statuses returned by successive acquires and presents. Once exhausted, SwapchainOK is returned.
	AcquireScript []gpu.SwapchainStatus
	PresentScript []gpu.SwapchainStatus
	// ImageCount of every swapchain created. Defaults to 3.
	ImageCount    int
	SwapchainFmt  gpu.Format
	Swapchains    []*Swapchain
	Submits       []gpu.SubmitInfo
	CommandBuffer []*CommandBuffer
	Pipelines     []*Pipeline
	Images        []*Image

	// FailPipelines makes NewGraphicsPipeline fail with this error when set.
	FailPipelines error
	// DepthFmt is reported by DepthFormat. Defaults to D32Sfloat.
	DepthFmt gpu.Format
	// Violations lists commands a real driver would reject, such as clearing
	// an image created without ImageUsageTransferDst.
	Violations []string
}

// attachmentUsages are the only usages allowed next to ImageUsageTransientAttachment.
const attachmentUsages = gpu.ImageUsageColorAttachment | gpu.ImageUsageDepthStencilAttachment |
	gpu.ImageUsageInputAttachment | gpu.ImageUsageTransientAttachment

func (d *Device) violate(format string, args ...interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Violations = append(d.Violations, fmt.Sprintf(format, args...))
}

func NewDevice() *Device {
	return &Device{
		ids:          make(map[string]int),
		ImageCount:   3,
		SwapchainFmt: gpu.FormatB8G8R8A8Unorm,
		DepthFmt:     gpu.FormatD32Sfloat,
	}
}

func (d *Device) logf(format string, args ...interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log = append(d.log, fmt.Sprintf(format, args...))
}

func (d *Device) newObject(kind, label string) Object {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.ids[kind]
	d.ids[kind] = id + 1
	name := fmt.Sprintf("%s#%d", kind, id)
	if label != "" {
		name = fmt.Sprintf("%s#%d(%s)", kind, id, label)
	}
	return Object{Kind: kind, Name: name, dev: d}
}

func (d *Device) track(o *Object) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.objects = append(d.objects, o)
}

// Log returns a copy of the call log.
func (d *Device) Log() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.log...)
}

func (d *Device) ClearLog() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log = nil
}

// Count returns how many log entries start with prefix.
func (d *Device) Count(prefix string) int {
	n := 0
	for _, l := range d.Log() {
		if strings.HasPrefix(l, prefix) {
			n++
		}
	}
	return n
}

// Index returns the position of the first log entry equal to entry at or after from, or -1.
func (d *Device) Index(entry string, from int) int {
	log := d.Log()
	for i := from; i < len(log); i++ {
		if log[i] == entry {
			return i
		}
	}
	return -1
}

// Live counts the objects of kind that have not been destroyed.
func (d *Device) Live(kind string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, o := range d.objects {
		if o.Kind == kind && !o.Destroyed {
			n++
		}
	}
	return n
}

func (d *Device) Destroy() {
	d.logf("destroy device")
}

func (d *Device) DepthFormat() gpu.Format {
	return d.DepthFmt
}

func (d *Device) Limits() gpu.Limits {
	return gpu.Limits{
		MaxPushConstantsSize:            128,
		MinUniformBufferOffsetAlignment: 256,
		MaxImageDimension2D:             16384,
	}
}

func (d *Device) WaitIdle() error {
	d.logf("waitIdle")
	return nil
}

func (d *Device) NewSwapchain(width, height uint32) (gpu.Swapchain, error) {
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("swapchain extent must be non-zero, got %dx%d", width, height)
	}
	sc := &Swapchain{Object: d.newObject("swapchain", ""), extent: gpu.Extent2D{Width: width, Height: height}, format: d.SwapchainFmt}
	for i := 0; i < d.ImageCount; i++ {
		sc.views = append(sc.views, &View{Owner: fmt.Sprintf("%s/%d", sc.Name, i), format: sc.format, extent: sc.extent})
	}
	d.track(&sc.Object)
	d.mu.Lock()
	d.Swapchains = append(d.Swapchains, sc)
	d.mu.Unlock()
	d.logf("create %s %dx%d", sc.Name, width, height)
	return sc, nil
}

func (d *Device) NewCommandBuffer(name string) (gpu.CommandBuffer, error) {
	cb := &CommandBuffer{Object: d.newObject("cmd", name)}
	d.track(&cb.Object)
	d.mu.Lock()
	d.CommandBuffer = append(d.CommandBuffer, cb)
	d.mu.Unlock()
	return cb, nil
}

func (d *Device) NewFence(signaled bool) (gpu.Fence, error) {
	f := &Fence{Object: d.newObject("fence", ""), Signaled: signaled}
	d.track(&f.Object)
	return f, nil
}

func (d *Device) NewSemaphore() (gpu.Semaphore, error) {
	s := &Semaphore{Object: d.newObject("semaphore", "")}
	d.track(&s.Object)
	return s, nil
}

func (d *Device) NewImage(desc gpu.ImageDesc) (gpu.Image, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return nil, fmt.Errorf("image `%s` has zero extent", desc.Name)
	}
	if desc.Usage&gpu.ImageUsageTransientAttachment != 0 && desc.Usage&^attachmentUsages != 0 {
		return nil, fmt.Errorf("image `%s`: transient images only allow attachment usages, got %#x", desc.Name, uint32(desc.Usage))
	}
	if desc.Layers == 0 {
		desc.Layers = 1
	}
	img := &Image{Object: d.newObject("image", desc.Name), desc: desc, Layout: gpu.ImageLayoutUndefined}
	ext := gpu.Extent2D{Width: desc.Width, Height: desc.Height}
	img.attachment = &View{Owner: img.Name + "/attachment", format: desc.Format, extent: ext, Image: img, Stencil: desc.Format.HasStencil()}
	img.sampled = &View{Owner: img.Name + "/sampled", format: desc.Format, extent: ext, Image: img}
	d.track(&img.Object)
	d.mu.Lock()
	d.Images = append(d.Images, img)
	d.mu.Unlock()
	d.logf("create %s", img.Name)
	return img, nil
}

func (d *Device) NewSampler(desc gpu.SamplerDesc) (gpu.Sampler, error) {
	s := &Sampler{Object: d.newObject("sampler", ""), Desc: desc}
	d.track(&s.Object)
	return s, nil
}

func (d *Device) NewBuffer(desc gpu.BufferDesc) (gpu.Buffer, error) {
	b := &Buffer{Object: d.newObject("buffer", desc.Name), desc: desc, Data: make([]byte, desc.Size)}
	d.track(&b.Object)
	return b, nil
}

func (d *Device) NewRenderPass(desc gpu.RenderPassDesc) (gpu.RenderPass, error) {
	rp := &RenderPass{Object: d.newObject("renderpass", desc.Name), desc: desc}
	d.track(&rp.Object)
	d.logf("create %s", rp.Name)
	return rp, nil
}

func (d *Device) NewFramebuffer(desc gpu.FramebufferDesc) (gpu.Framebuffer, error) {
	if desc.Layers == 0 {
		desc.Layers = 1
	}
	fb := &Framebuffer{Object: d.newObject("framebuffer", ""), desc: desc}
	d.track(&fb.Object)
	d.logf("create %s %dx%dx%d", fb.Name, desc.Width, desc.Height, desc.Layers)
	return fb, nil
}

func (d *Device) NewDescriptorSetLayout(desc gpu.DescriptorSetLayoutDesc) (gpu.DescriptorSetLayout, error) {
	l := &DescriptorSetLayout{Object: d.newObject("setlayout", ""), desc: desc}
	d.track(&l.Object)
	return l, nil
}

func (d *Device) NewPipelineLayout(desc gpu.PipelineLayoutDesc) (gpu.PipelineLayout, error) {
	var total uint32
	for _, r := range desc.PushConstants {
		if end := r.Offset + r.Size; end > total {
			total = end
		}
	}
	if total > d.Limits().MaxPushConstantsSize {
		return nil, fmt.Errorf("push constants use %d bytes, limit is %d", total, d.Limits().MaxPushConstantsSize)
	}
	l := &PipelineLayout{Object: d.newObject("pipelinelayout", ""), desc: desc}
	d.track(&l.Object)
	return l, nil
}

func (d *Device) NewShaderModule(name string, code []byte) (gpu.ShaderModule, error) {
	if len(code) == 0 {
		return nil, fmt.Errorf("shader `%s` is empty", name)
	}
	m := &ShaderModule{Object: d.newObject("shader", name), name: name}
	d.track(&m.Object)
	return m, nil
}

func (d *Device) NewGraphicsPipeline(desc gpu.GraphicsPipelineDesc) (gpu.Pipeline, error) {
	if d.FailPipelines != nil {
		return nil, d.FailPipelines
	}
	if desc.Layout == nil || desc.RenderPass == nil {
		return nil, fmt.Errorf("pipeline `%s` needs a layout and a render pass", desc.Name)
	}
	if int(desc.Subpass) >= len(desc.RenderPass.Desc().Subpasses) {
		return nil, fmt.Errorf("pipeline `%s` targets subpass %d of %d", desc.Name, desc.Subpass, len(desc.RenderPass.Desc().Subpasses))
	}
	if colors := len(desc.RenderPass.Desc().Subpasses[desc.Subpass].Colors); colors != len(desc.Blend) {
		return nil, fmt.Errorf("pipeline `%s` has %d blend states for %d color attachments", desc.Name, len(desc.Blend), colors)
	}
	p := &Pipeline{Object: d.newObject("pipeline", desc.Name), desc: desc}
	d.track(&p.Object)
	d.mu.Lock()
	d.Pipelines = append(d.Pipelines, p)
	d.mu.Unlock()
	d.logf("create %s", p.Name)
	return p, nil
}

func (d *Device) Submit(info gpu.SubmitInfo) error {
	cb := info.CommandBuffer.(*CommandBuffer)
	if cb.state != cbEnded {
		return fmt.Errorf("%s submitted while not ended", cb.Name)
	}
	if info.Wait != nil {
		info.Wait.(*Semaphore).Waits++
	}
	if info.Signal != nil {
		info.Signal.(*Semaphore).Signals++
	}
	if info.Fence != nil {
		f := info.Fence.(*Fence)
		if f.Signaled {
			return fmt.Errorf("%s submitted while still signaled", f.Name)
		}
		f.Signaled = true
	}
	cb.Submissions++
	d.mu.Lock()
	d.Submits = append(d.Submits, info)
	d.mu.Unlock()
	d.logf("submit %s", cb.Name)
	return nil
}

func (d *Device) Immediate(fn func(cmd gpu.CommandBuffer) error) error {
	cb := &CommandBuffer{Object: d.newObject("cmd", "immediate")}
	cb.state = cbRecording
	if err := fn(cb); err != nil {
		return err
	}
	d.logf("immediate %s", strings.Join(cb.Commands, "; "))
	return nil
}
