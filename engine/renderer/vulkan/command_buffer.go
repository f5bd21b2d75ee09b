package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

type commandBufferState int

const (
	commandBufferReady commandBufferState = iota
	commandBufferRecording
	commandBufferInRenderPass
	commandBufferRecordingEnded
	commandBufferNotAllocated
)

func (s commandBufferState) String() string {
	switch s {
	case commandBufferReady:
		return "ready"
	case commandBufferRecording:
		return "recording"
	case commandBufferInRenderPass:
		return "in-render-pass"
	case commandBufferRecordingEnded:
		return "recording-ended"
	default:
		return "not-allocated"
	}
}

// Sizing of the transient pools backing PushDescriptors. A full pool is not an
// error, the command buffer chains a new one.
const (
	descriptorPoolMaxSets     = 256
	descriptorPoolPerTypeSize = 512
)

var pushDescriptorTypes = []gpu.DescriptorType{
	gpu.DescriptorTypeSampler,
	gpu.DescriptorTypeCombinedImageSampler,
	gpu.DescriptorTypeSampledImage,
	gpu.DescriptorTypeUniformBuffer,
	gpu.DescriptorTypeStorageBuffer,
	gpu.DescriptorTypeInputAttachment,
}

// CommandBuffer records into a primary Vulkan command buffer. Descriptor sets
// written with PushDescriptors live in pools owned by the command buffer and
// are recycled on Reset, once the frame fence guarantees the GPU is done with them.
type CommandBuffer struct {
	dev    *Device
	name   string
	handle vk.CommandBuffer
	state  commandBufferState

	pools   []vk.DescriptorPool
	current int
}

func (d *Device) newCommandBuffer(name string) (*CommandBuffer, error) {
	info := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        d.commandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	handles := make([]vk.CommandBuffer, 1)
	if err := ResultError("vkAllocateCommandBuffers", vk.AllocateCommandBuffers(d.handle, &info, handles)); err != nil {
		return nil, fmt.Errorf("command buffer `%s`: %w", name, err)
	}
	return &CommandBuffer{dev: d, name: name, handle: handles[0], state: commandBufferReady}, nil
}

func (d *Device) NewCommandBuffer(name string) (gpu.CommandBuffer, error) {
	cb, err := d.newCommandBuffer(name)
	if err != nil {
		return nil, err
	}
	return cb, nil
}

func (c *CommandBuffer) Reset() error {
	if c.state == commandBufferNotAllocated {
		return gpu.ErrDestroyed
	}
	if err := ResultError("vkResetCommandBuffer", vk.ResetCommandBuffer(c.handle, 0)); err != nil {
		return fmt.Errorf("command buffer `%s`: %w", c.name, err)
	}
	for _, pool := range c.pools {
		if err := ResultError("vkResetDescriptorPool", vk.ResetDescriptorPool(c.dev.handle, pool, 0)); err != nil {
			return fmt.Errorf("command buffer `%s`: %w", c.name, err)
		}
	}
	c.current = 0
	c.state = commandBufferReady
	return nil
}

func (c *CommandBuffer) Begin() error {
	return c.begin(0)
}

func (c *CommandBuffer) begin(flags vk.CommandBufferUsageFlagBits) error {
	if c.state != commandBufferReady {
		return fmt.Errorf("command buffer `%s`: begin while %s", c.name, c.state)
	}
	info := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(flags),
	}
	if err := ResultError("vkBeginCommandBuffer", vk.BeginCommandBuffer(c.handle, &info)); err != nil {
		return fmt.Errorf("command buffer `%s`: %w", c.name, err)
	}
	c.state = commandBufferRecording
	return nil
}

func (c *CommandBuffer) End() error {
	if c.state != commandBufferRecording {
		return fmt.Errorf("command buffer `%s`: end while %s", c.name, c.state)
	}
	if err := ResultError("vkEndCommandBuffer", vk.EndCommandBuffer(c.handle)); err != nil {
		return fmt.Errorf("command buffer `%s`: %w", c.name, err)
	}
	c.state = commandBufferRecordingEnded
	return nil
}

func (c *CommandBuffer) Destroy() {
	if c.state == commandBufferNotAllocated {
		return
	}
	for _, pool := range c.pools {
		vk.DestroyDescriptorPool(c.dev.handle, pool, nil)
	}
	c.pools = nil
	vk.FreeCommandBuffers(c.dev.handle, c.dev.commandPool, 1, []vk.CommandBuffer{c.handle})
	c.handle = nil
	c.state = commandBufferNotAllocated
}

// clearValues converts clears to the attachment order of rp. Missing entries are zero.
func clearValues(attachments []gpu.AttachmentDesc, clears []gpu.ClearValue) []vk.ClearValue {
	out := make([]vk.ClearValue, len(attachments))
	for i, a := range attachments {
		var cv gpu.ClearValue
		if i < len(clears) {
			cv = clears[i]
		}
		if a.Format.IsDepth() {
			out[i] = vk.NewClearDepthStencil(cv.Depth, cv.Stencil)
		} else {
			out[i] = vk.NewClearValue(cv.Color[:])
		}
	}
	return out
}

func (c *CommandBuffer) BeginRenderPass(rp gpu.RenderPass, fb gpu.Framebuffer, clears []gpu.ClearValue) {
	pass := rp.(*RenderPass)
	frame := fb.(*Framebuffer)
	values := clearValues(pass.desc.Attachments, clears)
	info := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  pass.handle,
		Framebuffer: frame.handle,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: vk.Extent2D{Width: frame.desc.Width, Height: frame.desc.Height},
		},
		ClearValueCount: uint32(len(values)),
		PClearValues:    values,
	}
	vk.CmdBeginRenderPass(c.handle, &info, vk.SubpassContentsInline)
	c.state = commandBufferInRenderPass
}

func (c *CommandBuffer) NextSubpass() {
	vk.CmdNextSubpass(c.handle, vk.SubpassContentsInline)
}

func (c *CommandBuffer) EndRenderPass() {
	vk.CmdEndRenderPass(c.handle)
	c.state = commandBufferRecording
}

func (c *CommandBuffer) SetViewport(x, y, width, height float32) {
	vk.CmdSetViewport(c.handle, 0, 1, []vk.Viewport{{
		X:        x,
		Y:        y,
		Width:    width,
		Height:   height,
		MinDepth: 0,
		MaxDepth: 1,
	}})
}

func (c *CommandBuffer) SetScissor(x, y int32, width, height uint32) {
	vk.CmdSetScissor(c.handle, 0, 1, []vk.Rect2D{{
		Offset: vk.Offset2D{X: x, Y: y},
		Extent: vk.Extent2D{Width: width, Height: height},
	}})
}

func (c *CommandBuffer) BindPipeline(p gpu.Pipeline) {
	vk.CmdBindPipeline(c.handle, vk.PipelineBindPointGraphics, p.(*Pipeline).handle)
}

func (c *CommandBuffer) PushConstants(layout gpu.PipelineLayout, stages gpu.ShaderStage, offset uint32, data []byte) {
	if len(data) == 0 {
		return
	}
	vk.CmdPushConstants(c.handle, layout.(*PipelineLayout).handle, vk.ShaderStageFlags(stages), offset, uint32(len(data)), unsafe.Pointer(&data[0]))
}

func (c *CommandBuffer) newDescriptorPool() (vk.DescriptorPool, error) {
	sizes := make([]vk.DescriptorPoolSize, len(pushDescriptorTypes))
	for i, t := range pushDescriptorTypes {
		sizes[i] = vk.DescriptorPoolSize{
			Type:            vk.DescriptorType(t),
			DescriptorCount: descriptorPoolPerTypeSize,
		}
	}
	info := vk.DescriptorPoolCreateInfo{
		SType:         vk.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       descriptorPoolMaxSets,
		PoolSizeCount: uint32(len(sizes)),
		PPoolSizes:    sizes,
	}
	var pool vk.DescriptorPool
	if err := ResultError("vkCreateDescriptorPool", vk.CreateDescriptorPool(c.dev.handle, &info, nil, &pool)); err != nil {
		return vk.NullDescriptorPool, err
	}
	core.LogDebug("command buffer `%s`: descriptor pool %d created", c.name, len(c.pools))
	return pool, nil
}

// allocateSet takes a set from the current pool, moving on to the next pool
// (creating it when needed) once the current one is exhausted.
func (c *CommandBuffer) allocateSet(layout vk.DescriptorSetLayout) (vk.DescriptorSet, error) {
	for {
		if c.current == len(c.pools) {
			pool, err := c.newDescriptorPool()
			if err != nil {
				return nil, err
			}
			c.pools = append(c.pools, pool)
		}
		info := vk.DescriptorSetAllocateInfo{
			SType:              vk.StructureTypeDescriptorSetAllocateInfo,
			DescriptorPool:     c.pools[c.current],
			DescriptorSetCount: 1,
			PSetLayouts:        []vk.DescriptorSetLayout{layout},
		}
		var set vk.DescriptorSet
		res := vk.AllocateDescriptorSets(c.dev.handle, &info, &set)
		switch res {
		case vk.Success:
			return set, nil
		case vk.ErrorOutOfPoolMemory, vk.ErrorFragmentedPool:
			c.current++
		default:
			return nil, ResultError("vkAllocateDescriptorSets", res)
		}
	}
}

func descriptorWrites(set vk.DescriptorSet, writes []gpu.DescriptorWrite) []vk.WriteDescriptorSet {
	out := make([]vk.WriteDescriptorSet, 0, len(writes))
	for _, w := range writes {
		vw := vk.WriteDescriptorSet{
			SType:          vk.StructureTypeWriteDescriptorSet,
			DstSet:         set,
			DstBinding:     w.Binding,
			DescriptorType: vk.DescriptorType(w.Type),
		}
		if len(w.Images) > 0 {
			infos := make([]vk.DescriptorImageInfo, len(w.Images))
			for i, img := range w.Images {
				infos[i].ImageLayout = vk.ImageLayout(img.Layout)
				if v, ok := img.View.(*imageView); ok {
					infos[i].ImageView = v.handle
				}
				if s, ok := img.Sampler.(*Sampler); ok {
					infos[i].Sampler = s.handle
				}
			}
			vw.DescriptorCount = uint32(len(infos))
			vw.PImageInfo = infos
		} else {
			infos := make([]vk.DescriptorBufferInfo, len(w.Buffers))
			for i, b := range w.Buffers {
				size := vk.DeviceSize(b.Range)
				if b.Range == 0 {
					size = vk.DeviceSize(vk.WholeSize)
				}
				infos[i] = vk.DescriptorBufferInfo{
					Buffer: b.Buffer.(*Buffer).handle,
					Offset: vk.DeviceSize(b.Offset),
					Range:  size,
				}
			}
			vw.DescriptorCount = uint32(len(infos))
			vw.PBufferInfo = infos
		}
		out = append(out, vw)
	}
	return out
}

func (c *CommandBuffer) PushDescriptors(layout gpu.PipelineLayout, set uint32, writes []gpu.DescriptorWrite) error {
	pl := layout.(*PipelineLayout)
	if int(set) >= len(pl.setLayouts) {
		return fmt.Errorf("command buffer `%s`: set %d out of range, layout has %d", c.name, set, len(pl.setLayouts))
	}
	ds, err := c.allocateSet(pl.setLayouts[set].handle)
	if err != nil {
		return fmt.Errorf("command buffer `%s`: %w", c.name, err)
	}
	vw := descriptorWrites(ds, writes)
	vk.UpdateDescriptorSets(c.dev.handle, uint32(len(vw)), vw, 0, nil)
	vk.CmdBindDescriptorSets(c.handle, vk.PipelineBindPointGraphics, pl.handle, set, 1, []vk.DescriptorSet{ds}, 0, nil)
	return nil
}

func (c *CommandBuffer) BindVertexBuffers(first uint32, buffers []gpu.Buffer, offsets []uint64) {
	handles := make([]vk.Buffer, len(buffers))
	offs := make([]vk.DeviceSize, len(buffers))
	for i, b := range buffers {
		handles[i] = b.(*Buffer).handle
		if i < len(offsets) {
			offs[i] = vk.DeviceSize(offsets[i])
		}
	}
	vk.CmdBindVertexBuffers(c.handle, first, uint32(len(handles)), handles, offs)
}

func (c *CommandBuffer) BindIndexBuffer(b gpu.Buffer, offset uint64, indexType gpu.IndexType) {
	vk.CmdBindIndexBuffer(c.handle, b.(*Buffer).handle, vk.DeviceSize(offset), vk.IndexType(indexType))
}

func (c *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	vk.CmdDraw(c.handle, vertexCount, instanceCount, firstVertex, firstInstance)
}

func (c *CommandBuffer) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	vk.CmdDrawIndexed(c.handle, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

// layoutSync returns the accesses and stages that touch an image while it sits in layout.
func layoutSync(layout gpu.ImageLayout) (gpu.Access, gpu.PipelineStage) {
	switch layout {
	case gpu.ImageLayoutUndefined:
		return gpu.AccessNone, gpu.PipelineStageTopOfPipe
	case gpu.ImageLayoutColorAttachmentOptimal:
		return gpu.AccessColorAttachmentRead | gpu.AccessColorAttachmentWrite, gpu.PipelineStageColorAttachmentOutput
	case gpu.ImageLayoutDepthStencilAttachmentOptimal:
		return gpu.AccessDepthStencilAttachmentRead | gpu.AccessDepthStencilAttachmentWrite,
			gpu.PipelineStageEarlyFragmentTests | gpu.PipelineStageLateFragmentTests
	case gpu.ImageLayoutDepthStencilReadOnlyOptimal:
		return gpu.AccessDepthStencilAttachmentRead | gpu.AccessShaderRead,
			gpu.PipelineStageEarlyFragmentTests | gpu.PipelineStageFragmentShader
	case gpu.ImageLayoutShaderReadOnlyOptimal:
		return gpu.AccessShaderRead, gpu.PipelineStageFragmentShader
	case gpu.ImageLayoutTransferSrcOptimal:
		return gpu.AccessTransferRead, gpu.PipelineStageTransfer
	case gpu.ImageLayoutTransferDstOptimal:
		return gpu.AccessTransferWrite, gpu.PipelineStageTransfer
	case gpu.ImageLayoutPresentSrc:
		return gpu.AccessNone, gpu.PipelineStageBottomOfPipe
	default:
		return gpu.AccessMemoryRead | gpu.AccessMemoryWrite, gpu.PipelineStageAllCommands
	}
}

func (c *CommandBuffer) barrier(img *Image, from, to gpu.ImageLayout) {
	srcAccess, srcStage := layoutSync(from)
	dstAccess, dstStage := layoutSync(to)
	b := vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       vk.AccessFlags(srcAccess),
		DstAccessMask:       vk.AccessFlags(dstAccess),
		OldLayout:           vk.ImageLayout(from),
		NewLayout:           vk.ImageLayout(to),
		SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
		DstQueueFamilyIndex: vk.QueueFamilyIgnored,
		Image:               img.handle,
		SubresourceRange:    img.fullRange(),
	}
	vk.CmdPipelineBarrier(c.handle, vk.PipelineStageFlags(srcStage), vk.PipelineStageFlags(dstStage), 0, 0, nil, 0, nil, 1, []vk.ImageMemoryBarrier{b})
}

func (i *Image) fullRange() vk.ImageSubresourceRange {
	return vk.ImageSubresourceRange{
		AspectMask: aspectMask(i.desc.Format, false),
		LevelCount: 1,
		LayerCount: i.desc.Layers,
	}
}

func (c *CommandBuffer) TransitionImage(img gpu.Image, from, to gpu.ImageLayout) {
	c.barrier(img.(*Image), from, to)
}

func (c *CommandBuffer) ClearImage(img gpu.Image, value gpu.ClearValue) {
	i := img.(*Image)
	c.barrier(i, gpu.ImageLayoutUndefined, gpu.ImageLayoutTransferDstOptimal)
	ranges := []vk.ImageSubresourceRange{i.fullRange()}
	if i.desc.Format.IsDepth() {
		ds := vk.ClearDepthStencilValue{Depth: value.Depth, Stencil: value.Stencil}
		vk.CmdClearDepthStencilImage(c.handle, i.handle, vk.ImageLayoutTransferDstOptimal, &ds, 1, ranges)
	} else {
		var cc vk.ClearColorValue
		*(*[4]float32)(unsafe.Pointer(&cc)) = value.Color
		vk.CmdClearColorImage(c.handle, i.handle, vk.ImageLayoutTransferDstOptimal, &cc, 1, ranges)
	}
	c.barrier(i, gpu.ImageLayoutTransferDstOptimal, gpu.ImageLayoutShaderReadOnlyOptimal)
}
