package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

type Buffer struct {
	dev    *Device
	desc   gpu.BufferDesc
	handle vk.Buffer
	memory vk.DeviceMemory
	// Host visible buffers stay mapped for their whole life.
	mapped unsafe.Pointer
}

func (d *Device) NewBuffer(desc gpu.BufferDesc) (gpu.Buffer, error) {
	if desc.Size == 0 {
		return nil, fmt.Errorf("buffer `%s` has zero size", desc.Name)
	}
	usage := desc.Usage
	if !desc.HostVisible {
		// Device local buffers are filled through a staging copy.
		usage |= gpu.BufferUsageTransferDst
	}
	b, err := d.createBuffer(desc, usage)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (d *Device) createBuffer(desc gpu.BufferDesc, usage gpu.BufferUsage) (*Buffer, error) {
	info := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(desc.Size),
		Usage:       vk.BufferUsageFlags(usage),
		SharingMode: vk.SharingModeExclusive,
	}
	b := &Buffer{dev: d, desc: desc}
	if err := ResultError("vkCreateBuffer", vk.CreateBuffer(d.handle, &info, nil, &b.handle)); err != nil {
		return nil, fmt.Errorf("buffer `%s`: %w", desc.Name, err)
	}

	var reqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.handle, b.handle, &reqs)
	reqs.Deref()
	flags := vk.MemoryPropertyDeviceLocalBit
	if desc.HostVisible {
		flags = vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit
	}
	mem, err := d.allocate(reqs, flags)
	if err != nil {
		b.Destroy()
		return nil, fmt.Errorf("buffer `%s`: %w", desc.Name, err)
	}
	b.memory = mem
	if err := ResultError("vkBindBufferMemory", vk.BindBufferMemory(d.handle, b.handle, mem, 0)); err != nil {
		b.Destroy()
		return nil, err
	}
	if desc.HostVisible {
		if err := ResultError("vkMapMemory", vk.MapMemory(d.handle, mem, 0, vk.DeviceSize(desc.Size), 0, &b.mapped)); err != nil {
			b.Destroy()
			return nil, err
		}
	}
	return b, nil
}

func (b *Buffer) Size() uint64 {
	return b.desc.Size
}

// Write copies into mapped memory, or through a staging buffer and a one-shot
// copy for device local buffers.
func (b *Buffer) Write(offset uint64, data []byte) error {
	if b.handle == vk.NullBuffer {
		return gpu.ErrDestroyed
	}
	if offset+uint64(len(data)) > b.desc.Size {
		return fmt.Errorf("buffer `%s`: write of %d bytes at %d overflows size %d", b.desc.Name, len(data), offset, b.desc.Size)
	}
	if len(data) == 0 {
		return nil
	}
	if b.mapped != nil {
		vk.Memcopy(unsafe.Add(b.mapped, offset), data)
		return nil
	}

	staging, err := b.dev.createBuffer(gpu.BufferDesc{
		Name:        b.desc.Name + "/staging",
		Size:        uint64(len(data)),
		HostVisible: true,
	}, gpu.BufferUsageTransferSrc)
	if err != nil {
		return err
	}
	defer staging.Destroy()
	vk.Memcopy(staging.mapped, data)

	return b.dev.Immediate(func(cmd gpu.CommandBuffer) error {
		region := vk.BufferCopy{
			SrcOffset: 0,
			DstOffset: vk.DeviceSize(offset),
			Size:      vk.DeviceSize(len(data)),
		}
		vk.CmdCopyBuffer(cmd.(*CommandBuffer).handle, staging.handle, b.handle, 1, []vk.BufferCopy{region})
		return nil
	})
}

func (b *Buffer) Destroy() {
	if b.handle == vk.NullBuffer {
		return
	}
	if b.mapped != nil {
		vk.UnmapMemory(b.dev.handle, b.memory)
		b.mapped = nil
	}
	vk.DestroyBuffer(b.dev.handle, b.handle, nil)
	b.handle = vk.NullBuffer
	if b.memory != vk.NullDeviceMemory {
		vk.FreeMemory(b.dev.handle, b.memory, nil)
		b.memory = vk.NullDeviceMemory
	}
}
