package vulkan

import (
	"errors"
	"io/fs"
	"os"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/umbra/engine/core"
)

// pipelineCache persists driver pipeline binaries between runs. A missing or
// rejected file only costs a slower first frame, so every failure is a warning.
type pipelineCache struct {
	handle vk.PipelineCache
	path   string
}

func loadPipelineCache(device vk.Device, path string) *pipelineCache {
	var initial []byte
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			initial = data
			core.LogDebug("loaded %d bytes of pipeline cache from %s", len(data), path)
		case errors.Is(err, fs.ErrNotExist):
		default:
			core.LogWarn("unable to read pipeline cache %s: %s", path, err)
		}
	}

	info := vk.PipelineCacheCreateInfo{
		SType: vk.StructureTypePipelineCacheCreateInfo,
	}
	if len(initial) > 0 {
		info.InitialDataSize = uint(len(initial))
		info.PInitialData = unsafe.Pointer(&initial[0])
	}
	var handle vk.PipelineCache
	res := vk.CreatePipelineCache(device, &info, nil, &handle)
	if res != vk.Success && len(initial) > 0 {
		// Data from another driver or GPU is rejected; start empty.
		core.LogWarn("pipeline cache %s rejected (%s), starting empty", path, resultString(res))
		info.InitialDataSize = 0
		info.PInitialData = nil
		res = vk.CreatePipelineCache(device, &info, nil, &handle)
	}
	if err := ResultError("vkCreatePipelineCache", res); err != nil {
		core.LogWarn("pipelines will be built without a cache: %s", err)
		return nil
	}
	return &pipelineCache{handle: handle, path: path}
}

func (c *pipelineCache) save(device vk.Device) {
	if c.path == "" {
		return
	}
	var size uint
	if err := ResultError("vkGetPipelineCacheData", vk.GetPipelineCacheData(device, c.handle, &size, nil)); err != nil || size == 0 {
		return
	}
	data := make([]byte, size)
	if err := ResultError("vkGetPipelineCacheData", vk.GetPipelineCacheData(device, c.handle, &size, unsafe.Pointer(&data[0]))); err != nil {
		core.LogWarn("unable to read back pipeline cache: %s", err)
		return
	}
	if err := os.WriteFile(c.path, data[:size], 0o644); err != nil {
		core.LogWarn("unable to write pipeline cache %s: %s", c.path, err)
		return
	}
	core.LogDebug("saved %d bytes of pipeline cache to %s", size, c.path)
}

func (c *pipelineCache) destroy(device vk.Device) {
	vk.DestroyPipelineCache(device, c.handle, nil)
}
