package renderer

import (
	"fmt"

	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
	"github.com/spaghettifunk/umbra/engine/renderer/rhi"
	"github.com/spaghettifunk/umbra/engine/renderer/vulkan"
)

// Window is the platform window the backend creates its surface for and the
// render context sizes its swapchain from.
type Window interface {
	rhi.Window
	vulkan.Window
}

// NewBackend creates the GPU device for window. Vulkan is the only backend.
func NewBackend(cfg *core.Config, window Window) (gpu.Device, error) {
	device, err := vulkan.NewDevice(cfg, window)
	if err != nil {
		return nil, fmt.Errorf("failed to create the vulkan backend: %w", err)
	}
	core.LogInfo("Vulkan backend initialized")
	return device, nil
}
