// SPDX-License-Identifier: Unlicense OR MIT

// Package vulkan implements the Vulkan rendering backend of the
// compositor: device bootstrap, per-thread rendering context, GPU
// resource wrappers, the swapchain and the trait-keyed pipeline
// cache. All GPU work happens on the compositor's render thread;
// GPU parallelism is expressed with semaphores and fences only.
package vulkan

import (
	"log"
	"os"
	"sync"
	"unsafe"

	gunsafe "github.com/Sonic-DE/sonic-win/internal/unsafe"
	vk "github.com/goki/vulkan"
)

// Device extension names the backend probes for.
const (
	extSwapchain              = "VK_KHR_swapchain"
	extExternalFenceFd        = "VK_KHR_external_fence_fd"
	extExternalFenceCaps      = "VK_KHR_external_fence_capabilities"
	extExternalMemory         = "VK_KHR_external_memory"
	extExternalMemoryFd       = "VK_KHR_external_memory_fd"
	extExternalMemoryDmaBuf   = "VK_EXT_external_memory_dma_buf"
	extImageDrmFormatModifier = "VK_EXT_image_drm_format_modifier"
)

var vkInitOnce sync.Once
var vkInitErr error

func initLoader() error {
	vkInitOnce.Do(func() {
		if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
			vkInitErr = err
			return
		}
		vkInitErr = vk.Init()
	})
	return vkInitErr
}

// Backend owns the process-wide Vulkan objects: instance, physical
// device, logical device and the graphics queue. Exactly one graphics
// queue family is selected; its index and queue handle are stable for
// the backend's lifetime.
//
// Bootstrap failure is sticky: once SetFailed has been called,
// IsFailed reports true. The Backend's own methods do not check the
// flag.
type Backend struct {
	instance       vk.Instance
	physicalDevice vk.PhysicalDevice
	device         vk.Device
	graphicsQueue  vk.Queue
	queueFamily    uint32

	debugCallback vk.DebugReportCallback
	debugEnabled  bool

	deviceExts map[string]bool

	limits deviceLimits

	supportsExternalFenceFd bool
	supportsDmaBufImport    bool

	failed bool
}

type deviceLimits struct {
	minUniformBufferOffsetAlignment uint64
	nonCoherentAtomSize             uint64
	maxSamplerAnisotropy            float32
}

// NewBackend returns an uninitialized backend. Call CreateInstance,
// SelectPhysicalDevice and CreateDevice before creating a Context.
func NewBackend() *Backend {
	return &Backend{
		deviceExts: make(map[string]bool),
	}
}

// SetFailed marks the backend as failed. The reason is logged; the
// compositor is expected to fall back to another render backend.
func (b *Backend) SetFailed(reason string) {
	log.Printf("vulkan: creating backend failed: %s", reason)
	b.failed = true
}

// IsFailed reports whether backend bring-up failed.
func (b *Backend) IsFailed() bool {
	return b.failed
}

// Instance returns the Vulkan instance handle.
func (b *Backend) Instance() vk.Instance { return b.instance }

// PhysicalDevice returns the selected physical device.
func (b *Backend) PhysicalDevice() vk.PhysicalDevice { return b.physicalDevice }

// Device returns the logical device.
func (b *Backend) Device() vk.Device { return b.device }

// GraphicsQueue returns the graphics queue handle.
func (b *Backend) GraphicsQueue() vk.Queue { return b.graphicsQueue }

// GraphicsQueueFamily returns the selected queue family index.
func (b *Backend) GraphicsQueueFamily() uint32 { return b.queueFamily }

// SupportsExternalFenceFd reports whether exportable sync-fd fences
// were enabled on the device.
func (b *Backend) SupportsExternalFenceFd() bool { return b.supportsExternalFenceFd }

// SupportsDmaBufImport reports whether external DMA-BUF memory import
// was enabled on the device.
func (b *Backend) SupportsDmaBufImport() bool { return b.supportsDmaBufImport }

// UniformOffsetAlignment returns the device's minimum uniform buffer
// offset alignment, at least 16.
func (b *Backend) UniformOffsetAlignment() uint64 {
	if b.limits.minUniformBufferOffsetAlignment < 16 {
		return 16
	}
	return b.limits.minUniformBufferOffsetAlignment
}

// HasDeviceExtension reports whether the named device extension was
// enabled at device creation.
func (b *Backend) HasDeviceExtension(name string) bool {
	return b.deviceExts[name]
}

// CreateInstance creates the Vulkan instance with the given surface
// extensions. When SONIC_VULKAN_DEBUG=1, the validation layer and a
// debug-report callback are enabled; validation messages are
// forwarded to the compositor log and do not stop rendering.
func (b *Backend) CreateInstance(requiredExts ...string) error {
	if err := initLoader(); err != nil {
		b.SetFailed("loading libvulkan: " + err.Error())
		return err
	}

	b.debugEnabled = os.Getenv("SONIC_VULKAN_DEBUG") == "1"

	exts := make([]string, 0, len(requiredExts)+1)
	for _, e := range requiredExts {
		exts = append(exts, e+"\x00")
	}

	appInfo := vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		PApplicationName:   "sonic\x00",
		ApplicationVersion: vk.MakeVersion(1, 0, 0),
		PEngineName:        "sonic\x00",
		EngineVersion:      vk.MakeVersion(1, 0, 0),
		ApiVersion:         vk.ApiVersion11,
	}

	createInfo := vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        &appInfo,
		EnabledExtensionCount:   uint32(len(exts)),
		PpEnabledExtensionNames: exts,
	}

	var layers []string
	if b.debugEnabled {
		layers = []string{"VK_LAYER_KHRONOS_validation\x00"}
		exts = append(exts, "VK_EXT_debug_report\x00")
		createInfo.EnabledExtensionCount = uint32(len(exts))
		createInfo.PpEnabledExtensionNames = exts
		createInfo.EnabledLayerCount = uint32(len(layers))
		createInfo.PpEnabledLayerNames = layers
	}

	var instance vk.Instance
	if err := vkErr("vkCreateInstance", vk.CreateInstance(&createInfo, nil, &instance)); err != nil {
		b.SetFailed(err.Error())
		return err
	}
	b.instance = instance
	vk.InitInstance(instance)

	if b.debugEnabled {
		dbgInfo := vk.DebugReportCallbackCreateInfo{
			SType: vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags: vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit),
			PfnCallback: func(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType,
				object uint64, location uint64, messageCode int32, pLayerPrefix string,
				pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
				log.Printf("vulkan: validation: %s: %s", pLayerPrefix, pMessage)
				return vk.False
			},
		}
		if res := vk.CreateDebugReportCallback(instance, &dbgInfo, nil, &b.debugCallback); res != vk.Success {
			log.Printf("vulkan: debug callback unavailable: %v", vk.Error(res))
		}
	}

	return nil
}

// SelectPhysicalDevice picks the first device exposing a queue family
// with graphics support.
func (b *Backend) SelectPhysicalDevice() error {
	var count uint32
	if err := vkErr("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(b.instance, &count, nil)); err != nil {
		b.SetFailed(err.Error())
		return err
	}
	if count == 0 {
		b.SetFailed("no GPUs with Vulkan support")
		return vkErr("vkEnumeratePhysicalDevices", vk.ErrorInitializationFailed)
	}
	devices := make([]vk.PhysicalDevice, count)
	if err := vkErr("vkEnumeratePhysicalDevices", vk.EnumeratePhysicalDevices(b.instance, &count, devices)); err != nil {
		b.SetFailed(err.Error())
		return err
	}

	for _, dev := range devices {
		var familyCount uint32
		vk.GetPhysicalDeviceQueueFamilyProperties(dev, &familyCount, nil)
		families := make([]vk.QueueFamilyProperties, familyCount)
		vk.GetPhysicalDeviceQueueFamilyProperties(dev, &familyCount, families)
		for i := range families {
			families[i].Deref()
			if families[i].QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0 {
				b.physicalDevice = dev
				b.queueFamily = uint32(i)

				var props vk.PhysicalDeviceProperties
				vk.GetPhysicalDeviceProperties(dev, &props)
				props.Deref()
				props.Limits.Deref()
				b.limits = deviceLimits{
					minUniformBufferOffsetAlignment: uint64(props.Limits.MinUniformBufferOffsetAlignment),
					nonCoherentAtomSize:             uint64(props.Limits.NonCoherentAtomSize),
					maxSamplerAnisotropy:            props.Limits.MaxSamplerAnisotropy,
				}
				log.Printf("vulkan: selected device %q, queue family %d",
					gunsafe.GoString(props.DeviceName[:]), i)
				return nil
			}
		}
	}

	b.SetFailed("no suitable GPU")
	return vkErr("vkGetPhysicalDeviceQueueFamilyProperties", vk.ErrorInitializationFailed)
}

// CreateDevice creates the logical device. The swapchain extension is
// required; external fence and external memory extensions are enabled
// when the device advertises them and set the matching capability
// flags.
func (b *Backend) CreateDevice() error {
	supported, err := b.enumerateDeviceExtensions()
	if err != nil {
		b.SetFailed(err.Error())
		return err
	}
	if !supported[extSwapchain] {
		b.SetFailed("device does not support " + extSwapchain)
		return vkErr("vkCreateDevice", vk.ErrorExtensionNotPresent)
	}

	want := []string{
		extSwapchain,
		extExternalFenceFd,
		extExternalFenceCaps,
		extExternalMemory,
		extExternalMemoryFd,
		extExternalMemoryDmaBuf,
	}
	var exts []string
	for _, name := range want {
		if supported[name] {
			exts = append(exts, name+"\x00")
			b.deviceExts[name] = true
		}
	}
	b.supportsExternalFenceFd = b.deviceExts[extExternalFenceFd]
	b.supportsDmaBufImport = b.deviceExts[extExternalMemoryDmaBuf] && b.deviceExts[extExternalMemoryFd]

	queueInfo := vk.DeviceQueueCreateInfo{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: b.queueFamily,
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}

	createInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    1,
		PQueueCreateInfos:       []vk.DeviceQueueCreateInfo{queueInfo},
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{{}},
		EnabledExtensionCount:   uint32(len(exts)),
		PpEnabledExtensionNames: exts,
	}

	var device vk.Device
	if err := vkErr("vkCreateDevice", vk.CreateDevice(b.physicalDevice, &createInfo, nil, &device)); err != nil {
		b.SetFailed(err.Error())
		return err
	}
	b.device = device

	var queue vk.Queue
	vk.GetDeviceQueue(b.device, b.queueFamily, 0, &queue)
	b.graphicsQueue = queue

	log.Printf("vulkan: logical device created, external fence fd: %v, dmabuf import: %v",
		b.supportsExternalFenceFd, b.supportsDmaBufImport)
	return nil
}

func (b *Backend) enumerateDeviceExtensions() (map[string]bool, error) {
	var count uint32
	if err := vkErr("vkEnumerateDeviceExtensionProperties",
		vk.EnumerateDeviceExtensionProperties(b.physicalDevice, "", &count, nil)); err != nil {
		return nil, err
	}
	props := make([]vk.ExtensionProperties, count)
	if err := vkErr("vkEnumerateDeviceExtensionProperties",
		vk.EnumerateDeviceExtensionProperties(b.physicalDevice, "", &count, props)); err != nil {
		return nil, err
	}
	supported := make(map[string]bool, count)
	for i := range props {
		props[i].Deref()
		supported[gunsafe.GoString(props[i].ExtensionName[:])] = true
	}
	return supported, nil
}

// CheckGraphicsReset reports whether the device has been lost. The
// compositor treats a lost device as fatal to this backend.
func (b *Backend) CheckGraphicsReset() bool {
	if b.device == vk.Device(vk.NullHandle) {
		return false
	}
	return vk.DeviceWaitIdle(b.device) == vk.ErrorDeviceLost
}

// Cleanup walks the device to idle and destroys the device and the
// instance. Contexts and textures must be released first.
func (b *Backend) Cleanup() {
	if b.device != vk.Device(vk.NullHandle) {
		vk.DeviceWaitIdle(b.device)
		vk.DestroyDevice(b.device, nil)
		b.device = vk.Device(vk.NullHandle)
	}
	if b.debugCallback != vk.NullDebugReportCallback {
		vk.DestroyDebugReportCallback(b.instance, b.debugCallback, nil)
		b.debugCallback = vk.NullDebugReportCallback
	}
	if b.instance != vk.Instance(vk.NullHandle) {
		vk.DestroyInstance(b.instance, nil)
		b.instance = vk.Instance(vk.NullHandle)
	}
}
