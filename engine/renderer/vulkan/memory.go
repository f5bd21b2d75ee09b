package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/umbra/engine/core"
)

// findMemoryIndex returns the first memory type allowed by typeFilter that has every flag in required.
func findMemoryIndex(props vk.PhysicalDeviceMemoryProperties, typeFilter uint32, required vk.MemoryPropertyFlags) (uint32, bool) {
	for i := uint32(0); i < props.MemoryTypeCount; i++ {
		t := props.MemoryTypes[i]
		t.Deref()
		if typeFilter&(1<<i) != 0 && t.PropertyFlags&required == required {
			return i, true
		}
	}
	return 0, false
}

func (d *Device) allocate(reqs vk.MemoryRequirements, flags vk.MemoryPropertyFlagBits) (vk.DeviceMemory, error) {
	index, ok := findMemoryIndex(d.memory, reqs.MemoryTypeBits, vk.MemoryPropertyFlags(flags))
	if !ok {
		core.LogWarn("unable to find a memory type with flags 0x%x", flags)
		return vk.NullDeviceMemory, fmt.Errorf("no memory type for flags 0x%x: %w", flags, core.ErrFatalGPU)
	}
	info := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: index,
	}
	var mem vk.DeviceMemory
	if err := ResultError("vkAllocateMemory", vk.AllocateMemory(d.handle, &info, nil, &mem)); err != nil {
		return vk.NullDeviceMemory, err
	}
	return mem, nil
}
