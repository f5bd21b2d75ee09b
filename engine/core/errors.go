package core

import (
	"errors"
)

var (
	// ErrNoSuitableDevice is returned when no GPU satisfies the renderer requirements.
	ErrNoSuitableDevice = errors.New("no suitable GPU found")
	// ErrFatalGPU wraps every GPU result outside the success and swapchain-transient sets.
	ErrFatalGPU = errors.New("unrecoverable GPU error")
	// ErrDeviceLost is a fatal GPU error reported as VK_ERROR_DEVICE_LOST.
	ErrDeviceLost       = errors.New("GPU device lost")
	ErrSwapchainBooting = errors.New("swapchain resized or recreated, booting")
	ErrUnknown          = errors.New("unknown")
)

// IsFatal reports whether err must stop the frame loop.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatalGPU) || errors.Is(err, ErrDeviceLost) || errors.Is(err, ErrNoSuitableDevice)
}
