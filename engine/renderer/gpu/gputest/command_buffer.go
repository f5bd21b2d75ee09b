package gputest

import (
	"fmt"

	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

type cbState int

const (
	cbReady cbState = iota
	cbRecording
	cbEnded
)

// RenderPassBegin records one BeginRenderPass call.
type RenderPassBegin struct {
	RenderPass  *RenderPass
	Framebuffer *Framebuffer
	Clears      []gpu.ClearValue
	// Subpass index reached before EndRenderPass.
	Subpasses int
}

type PushDescriptorCall struct {
	Layout *PipelineLayout
	Set    uint32
	Writes []gpu.DescriptorWrite
}

type CommandBuffer struct {
	Object
	state        cbState
	Commands     []string
	RenderPasses []*RenderPassBegin
	Pushes       []PushDescriptorCall
	Submissions  int

	current *RenderPassBegin
	bound   *Pipeline
}

func (c *CommandBuffer) record(format string, args ...interface{}) {
	c.Commands = append(c.Commands, fmt.Sprintf(format, args...))
}

func (c *CommandBuffer) Reset() error {
	c.dev.logf("reset %s", c.Name)
	c.state = cbReady
	c.Commands = nil
	c.RenderPasses = nil
	c.Pushes = nil
	c.current = nil
	c.bound = nil
	return nil
}

func (c *CommandBuffer) Begin() error {
	if c.state != cbReady {
		return fmt.Errorf("%s begun without reset", c.Name)
	}
	c.dev.logf("begin %s", c.Name)
	c.state = cbRecording
	return nil
}

func (c *CommandBuffer) End() error {
	if c.state != cbRecording {
		return fmt.Errorf("%s ended while not recording", c.Name)
	}
	if c.current != nil {
		return fmt.Errorf("%s ended inside a render pass", c.Name)
	}
	c.dev.logf("end %s", c.Name)
	c.state = cbEnded
	return nil
}

func (c *CommandBuffer) BeginRenderPass(rp gpu.RenderPass, fb gpu.Framebuffer, clears []gpu.ClearValue) {
	r := rp.(*RenderPass)
	begin := &RenderPassBegin{RenderPass: r, Framebuffer: fb.(*Framebuffer), Clears: clears, Subpasses: 1}
	c.RenderPasses = append(c.RenderPasses, begin)
	c.current = begin
	c.record("beginRenderPass %s", r.desc.Name)
}

func (c *CommandBuffer) NextSubpass() {
	if c.current != nil {
		c.current.Subpasses++
	}
	c.record("nextSubpass")
}

func (c *CommandBuffer) EndRenderPass() {
	c.current = nil
	c.record("endRenderPass")
}

func (c *CommandBuffer) SetViewport(x, y, width, height float32) {
	c.record("setViewport %g %g %g %g", x, y, width, height)
}

func (c *CommandBuffer) SetScissor(x, y int32, width, height uint32) {
	c.record("setScissor %d %d %d %d", x, y, width, height)
}

func (c *CommandBuffer) BindPipeline(p gpu.Pipeline) {
	c.bound = p.(*Pipeline)
	c.record("bindPipeline %s", c.bound.desc.Name)
}

func (c *CommandBuffer) PushConstants(layout gpu.PipelineLayout, stages gpu.ShaderStage, offset uint32, data []byte) {
	c.record("pushConstants %d+%d", offset, len(data))
}

func (c *CommandBuffer) PushDescriptors(layout gpu.PipelineLayout, set uint32, writes []gpu.DescriptorWrite) error {
	for _, w := range writes {
		for _, img := range w.Images {
			if img.View == nil {
				return fmt.Errorf("push descriptor binding %d has a nil image view", w.Binding)
			}
		}
		for _, buf := range w.Buffers {
			if buf.Buffer == nil {
				return fmt.Errorf("push descriptor binding %d has a nil buffer", w.Binding)
			}
		}
	}
	c.Pushes = append(c.Pushes, PushDescriptorCall{Layout: layout.(*PipelineLayout), Set: set, Writes: writes})
	c.record("pushDescriptors set=%d writes=%d", set, len(writes))
	return nil
}

func (c *CommandBuffer) BindVertexBuffers(first uint32, buffers []gpu.Buffer, offsets []uint64) {
	c.record("bindVertexBuffers %d", len(buffers))
}

func (c *CommandBuffer) BindIndexBuffer(b gpu.Buffer, offset uint64, indexType gpu.IndexType) {
	c.record("bindIndexBuffer")
}

func (c *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	c.record("draw %d %s", vertexCount, c.boundName())
}

func (c *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	c.record("drawIndexed %d %s", indexCount, c.boundName())
}

func (c *CommandBuffer) boundName() string {
	if c.bound == nil {
		return "<none>"
	}
	return c.bound.desc.Name
}

func (c *CommandBuffer) TransitionImage(img gpu.Image, from, to gpu.ImageLayout) {
	i := img.(*Image)
	i.Layout = to
	c.record("transition %s %d->%d", i.Name, from, to)
}

func (c *CommandBuffer) ClearImage(img gpu.Image, value gpu.ClearValue) {
	i := img.(*Image)
	if i.desc.Usage&gpu.ImageUsageTransferDst == 0 {
		c.dev.violate("clear of %s without transfer dst usage", i.Name)
	}
	i.Layout = gpu.ImageLayoutShaderReadOnlyOptimal
	v := value
	i.Cleared = &v
	c.record("clear %s", i.Name)
}

// Draws returns the draw commands recorded since the last reset.
func (c *CommandBuffer) Draws() []string {
	var out []string
	for _, cmd := range c.Commands {
		if len(cmd) >= 4 && cmd[:4] == "draw" {
			out = append(out, cmd)
		}
	}
	return out
}
