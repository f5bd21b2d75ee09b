package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/umbra/engine/core"
	"github.com/spaghettifunk/umbra/engine/renderer/gpu"
)

// ResultError classifies a Vulkan result.
// Success codes return nil; out-of-date and suboptimal swapchain results wrap
// gpu.ErrOutOfDate; device loss wraps core.ErrDeviceLost; anything else wraps
// core.ErrFatalGPU.
func ResultError(op string, result vk.Result) error {
	switch result {
	case vk.Success, vk.Incomplete:
		return nil
	case vk.Suboptimal, vk.ErrorOutOfDate:
		return fmt.Errorf("%s: %s: %w", op, resultString(result), gpu.ErrOutOfDate)
	case vk.ErrorDeviceLost:
		return fmt.Errorf("%s: %s: %w", op, resultString(result), core.ErrDeviceLost)
	default:
		return fmt.Errorf("%s: %s: %w", op, resultString(result), core.ErrFatalGPU)
	}
}

// swapchainStatus maps acquire and present results to a status. Only results
// outside the transient set produce an error.
func swapchainStatus(op string, result vk.Result) (gpu.SwapchainStatus, error) {
	switch result {
	case vk.Success:
		return gpu.SwapchainOK, nil
	case vk.Suboptimal:
		return gpu.SwapchainSuboptimal, nil
	case vk.ErrorOutOfDate:
		return gpu.SwapchainOutOfDate, nil
	default:
		return gpu.SwapchainOK, ResultError(op, result)
	}
}

func resultString(result vk.Result) string {
	switch result {
	case vk.Success:
		return "VK_SUCCESS"
	case vk.NotReady:
		return "VK_NOT_READY"
	case vk.Timeout:
		return "VK_TIMEOUT"
	case vk.EventSet:
		return "VK_EVENT_SET"
	case vk.EventReset:
		return "VK_EVENT_RESET"
	case vk.Incomplete:
		return "VK_INCOMPLETE"
	case vk.Suboptimal:
		return "VK_SUBOPTIMAL_KHR"
	case vk.ErrorOutOfHostMemory:
		return "VK_ERROR_OUT_OF_HOST_MEMORY"
	case vk.ErrorOutOfDeviceMemory:
		return "VK_ERROR_OUT_OF_DEVICE_MEMORY"
	case vk.ErrorInitializationFailed:
		return "VK_ERROR_INITIALIZATION_FAILED"
	case vk.ErrorDeviceLost:
		return "VK_ERROR_DEVICE_LOST"
	case vk.ErrorMemoryMapFailed:
		return "VK_ERROR_MEMORY_MAP_FAILED"
	case vk.ErrorLayerNotPresent:
		return "VK_ERROR_LAYER_NOT_PRESENT"
	case vk.ErrorExtensionNotPresent:
		return "VK_ERROR_EXTENSION_NOT_PRESENT"
	case vk.ErrorFeatureNotPresent:
		return "VK_ERROR_FEATURE_NOT_PRESENT"
	case vk.ErrorIncompatibleDriver:
		return "VK_ERROR_INCOMPATIBLE_DRIVER"
	case vk.ErrorTooManyObjects:
		return "VK_ERROR_TOO_MANY_OBJECTS"
	case vk.ErrorFormatNotSupported:
		return "VK_ERROR_FORMAT_NOT_SUPPORTED"
	case vk.ErrorFragmentedPool:
		return "VK_ERROR_FRAGMENTED_POOL"
	case vk.ErrorSurfaceLost:
		return "VK_ERROR_SURFACE_LOST_KHR"
	case vk.ErrorNativeWindowInUse:
		return "VK_ERROR_NATIVE_WINDOW_IN_USE_KHR"
	case vk.ErrorOutOfDate:
		return "VK_ERROR_OUT_OF_DATE_KHR"
	case vk.ErrorIncompatibleDisplay:
		return "VK_ERROR_INCOMPATIBLE_DISPLAY_KHR"
	case vk.ErrorOutOfPoolMemory:
		return "VK_ERROR_OUT_OF_POOL_MEMORY"
	case vk.ErrorInvalidExternalHandle:
		return "VK_ERROR_INVALID_EXTERNAL_HANDLE"
	case vk.ErrorFragmentation:
		return "VK_ERROR_FRAGMENTATION"
	default:
		return fmt.Sprintf("VkResult(%d)", int32(result))
	}
}

func safeString(s string) string {
	if len(s) == 0 || s[len(s)-1] != 0 {
		return s + "\x00"
	}
	return s
}

func safeStrings(list []string) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = safeString(list[i])
	}
	return out
}

// cString trims a fixed size, NUL padded name returned by the driver.
func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// spirvWords validates a SPIR-V blob and repacks it as 32-bit words.
func spirvWords(code []byte) ([]uint32, error) {
	const magic = 0x07230203
	if len(code) < 4 || len(code)%4 != 0 {
		return nil, fmt.Errorf("SPIR-V size %d is not a positive multiple of 4", len(code))
	}
	words := make([]uint32, len(code)/4)
	copy(unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), len(code)), code)
	if words[0] != magic {
		return nil, fmt.Errorf("bad SPIR-V magic 0x%08x", words[0])
	}
	return words, nil
}
