// Package vulkan implements the gpu protocol on top of github.com/goki/vulkan.
package vulkan

import (
	"fmt"
	"runtime"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/umbra/engine/core"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

// Window is the platform side of instance and surface creation.
type Window interface {
	InstanceProcAddr() unsafe.Pointer
	RequiredInstanceExtensions() []string
	CreateSurface(instance vk.Instance) (vk.Surface, error)
}

type instance struct {
	handle     vk.Instance
	debug      vk.DebugReportCallback
	validation bool
}

// instanceExtensions returns the extensions requested from the loader, deduplicated and in order.
func instanceExtensions(platform []string, validation bool, goos string) []string {
	required := append([]string{"VK_KHR_surface"}, platform...)
	if goos == "darwin" {
		required = append(required,
			"VK_KHR_portability_enumeration",
			"VK_KHR_get_physical_device_properties2",
		)
	}
	if validation {
		required = append(required, "VK_EXT_debug_report")
	}
	seen := make(map[string]bool, len(required))
	out := required[:0]
	for _, e := range required {
		if seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

func createInstance(appName string, validation bool, window Window) (*instance, error) {
	procAddr := window.InstanceProcAddr()
	if procAddr == nil {
		return nil, fmt.Errorf("GetInstanceProcAddress is nil: %w", core.ErrFatalGPU)
	}
	vk.SetGetInstanceProcAddr(procAddr)
	if err := vk.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize vk: %s: %w", err, core.ErrFatalGPU)
	}

	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   safeString(appName),
		PEngineName:        safeString("Umbra"),
	}

	extensions := instanceExtensions(window.RequiredInstanceExtensions(), validation, runtime.GOOS)
	for _, e := range extensions {
		core.LogDebug("required instance extension: %s", e)
	}

	var layers []string
	if validation {
		ok, err := layerAvailable(validationLayer)
		if err != nil {
			return nil, err
		}
		if ok {
			layers = append(layers, validationLayer)
			core.LogInfo("validation layers enabled")
		} else {
			core.LogWarn("validation requested but `%s` is missing, continuing without it", validationLayer)
			validation = false
			extensions = instanceExtensions(window.RequiredInstanceExtensions(), false, runtime.GOOS)
		}
	}

	createInfo := vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        appInfo,
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: safeStrings(extensions),
		EnabledLayerCount:       uint32(len(layers)),
		PpEnabledLayerNames:     safeStrings(layers),
	}
	if runtime.GOOS == "darwin" {
		// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
		createInfo.Flags |= 1
	}

	inst := &instance{validation: validation}
	if err := ResultError("vkCreateInstance", vk.CreateInstance(&createInfo, nil, &inst.handle)); err != nil {
		return nil, err
	}
	if err := vk.InitInstance(inst.handle); err != nil {
		vk.DestroyInstance(inst.handle, nil)
		return nil, fmt.Errorf("failed to load instance functions: %s: %w", err, core.ErrFatalGPU)
	}
	core.LogInfo("Vulkan instance created")

	if validation {
		debugCreateInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: dbgCallbackFunc,
		}
		if err := ResultError("vkCreateDebugReportCallback", vk.CreateDebugReportCallback(inst.handle, &debugCreateInfo, nil, &inst.debug)); err != nil {
			core.LogWarn("debug report callback unavailable: %s", err)
		} else {
			core.LogDebug("Vulkan debugger created")
		}
	}
	return inst, nil
}

func layerAvailable(name string) (bool, error) {
	var count uint32
	if err := ResultError("vkEnumerateInstanceLayerProperties", vk.EnumerateInstanceLayerProperties(&count, nil)); err != nil {
		return false, err
	}
	layers := make([]vk.LayerProperties, count)
	if err := ResultError("vkEnumerateInstanceLayerProperties", vk.EnumerateInstanceLayerProperties(&count, layers)); err != nil {
		return false, err
	}
	for i := range layers {
		layers[i].Deref()
		if cString(layers[i].LayerName[:]) == name {
			return true, nil
		}
	}
	return false, nil
}

func (i *instance) destroy() {
	if i.handle == nil {
		return
	}
	if i.debug != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(i.handle, i.debug, nil)
		i.debug = vk.NullDebugReportCallback
	}
	vk.DestroyInstance(i.handle, nil)
	i.handle = nil
}

func dbgCallbackFunc(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("[%s] code %d: %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		core.LogWarn("[%s] code %d: %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("performance: [%s] code %d: %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("[%s] code %d: %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}
