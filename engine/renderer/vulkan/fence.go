package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

type Fence struct {
	dev    *Device
	handle vk.Fence
	// Known-signaled fences skip the driver round trip on Wait.
	signaled bool
}

func (d *Device) NewFence(signaled bool) (gpu.Fence, error) {
	info := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if signaled {
		info.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var handle vk.Fence
	if err := ResultError("vkCreateFence", vk.CreateFence(d.handle, &info, nil, &handle)); err != nil {
		return nil, err
	}
	return &Fence{dev: d, handle: handle, signaled: signaled}, nil
}

func (f *Fence) Wait(timeoutNs uint64) error {
	if f.handle == vk.NullFence {
		return gpu.ErrDestroyed
	}
	if f.signaled {
		return nil
	}
	res := vk.WaitForFences(f.dev.handle, 1, []vk.Fence{f.handle}, vk.True, timeoutNs)
	if res == vk.Timeout {
		core.LogWarn("fence wait timed out after %dns", timeoutNs)
	}
	if err := ResultError("vkWaitForFences", res); err != nil {
		return err
	}
	f.signaled = true
	return nil
}

func (f *Fence) Reset() error {
	if f.handle == vk.NullFence {
		return gpu.ErrDestroyed
	}
	if err := ResultError("vkResetFences", vk.ResetFences(f.dev.handle, 1, []vk.Fence{f.handle})); err != nil {
		return err
	}
	f.signaled = false
	return nil
}

func (f *Fence) Destroy() {
	if f.handle == vk.NullFence {
		return
	}
	vk.DestroyFence(f.dev.handle, f.handle, nil)
	f.handle = vk.NullFence
	f.signaled = false
}

type Semaphore struct {
	dev    *Device
	handle vk.Semaphore
}

func (d *Device) NewSemaphore() (gpu.Semaphore, error) {
	info := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	var handle vk.Semaphore
	if err := ResultError("vkCreateSemaphore", vk.CreateSemaphore(d.handle, &info, nil, &handle)); err != nil {
		return nil, err
	}
	return &Semaphore{dev: d, handle: handle}, nil
}

func (s *Semaphore) Destroy() {
	if s.handle == vk.NullSemaphore {
		return
	}
	vk.DestroySemaphore(s.dev.handle, s.handle, nil)
	s.handle = vk.NullSemaphore
}
