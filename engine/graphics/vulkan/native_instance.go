package vulkan

import (
	"runtime"
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/engine/graphics"
)

const (
	validationLayer      = "VK_LAYER_KHRONOS_validation"
	surfaceExtension     = "VK_KHR_surface"
	swapchainExtension   = "VK_KHR_swapchain"
	portabilitySubset    = "VK_KHR_portability_subset"
	portabilityEnumerate = "VK_KHR_portability_enumeration"
	physicalProperties2  = "VK_KHR_get_physical_device_properties2"

	// VK_INSTANCE_CREATE_ENUMERATE_PORTABILITY_BIT_KHR
	enumeratePortability = 0x00000001
	engineName           = "Prism"
)

var (
	loaderOnce sync.Once
	loaderErr  error
)

func init() {
	NewNativeDevice = newNativeInstance
	loaderPresent = func() bool { return loadLoader() == nil }
}

// loadLoader resolves vkGetInstanceProcAddr from the system loader and the
// global entry points with it. It runs once per process.
func loadLoader() error {
	loaderOnce.Do(func() {
		if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
			loaderErr = errors.Wrap(err, "vulkan: loading the vulkan loader")
			return
		}
		if err := vk.Init(); err != nil {
			loaderErr = errors.Wrap(err, "vulkan: initializing global entry points")
		}
	})
	return loaderErr
}

// nativeInstance defers vkCreateInstance to CreateDevice: the instance
// extensions depend on the surface, which is not known before Initialize.
type nativeInstance struct {
	validation bool
	handle     vk.Instance
	debug      vk.DebugReportCallback
	hasDebug   bool
}

func newNativeInstance(validation bool) (Instance, error) {
	if err := loadLoader(); err != nil {
		return nil, errors.Mark(err, core.ErrUnsupportedBackend)
	}
	return &nativeInstance{validation: validation}, nil
}

func (i *nativeInstance) Destroy() {
	if i.handle == nil {
		return
	}
	if i.hasDebug {
		vk.DestroyDebugReportCallback(i.handle, i.debug, nil)
		i.hasDebug = false
	}
	vk.DestroyInstance(i.handle, nil)
	i.handle = nil
}

func (i *nativeInstance) create(surface graphics.Surface, applicationName string) error {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         uint32(vk.MakeVersion(1, 1, 0)),
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   safeString(applicationName),
		PEngineName:        safeString(engineName),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: appInfo,
	}

	var extensions []string
	if surface != nil {
		extensions = append(extensions, surfaceExtension)
		extensions = append(extensions, surface.RequiredVulkanExtensions()...)
	}
	if runtime.GOOS == "darwin" {
		extensions = append(extensions, portabilityEnumerate, physicalProperties2)
		createInfo.Flags |= enumeratePortability
	}

	var layers []string
	if i.validation {
		if layerAvailable(validationLayer) {
			layers = append(layers, validationLayer)
			extensions = append(extensions, vk.ExtDebugReportExtensionName)
		} else {
			core.LogWarn("vulkan: validation requested but %s is not installed", validationLayer)
		}
	}
	for _, ext := range extensions {
		core.LogDebug("vulkan: instance extension %s", ext)
	}

	createInfo.EnabledExtensionCount = uint32(len(extensions))
	createInfo.PpEnabledExtensionNames = safeStrings(extensions)
	createInfo.EnabledLayerCount = uint32(len(layers))
	createInfo.PpEnabledLayerNames = safeStrings(layers)

	var instance vk.Instance
	if err := check(vk.CreateInstance(&createInfo, nil, &instance), "vkCreateInstance"); err != nil {
		return err
	}
	if err := vk.InitInstance(instance); err != nil {
		vk.DestroyInstance(instance, nil)
		return errors.Wrap(err, "vulkan: loading instance entry points")
	}
	i.handle = instance

	if len(layers) > 0 {
		debugInfo := vk.DebugReportCallbackCreateInfo{
			SType:       vk.StructureTypeDebugReportCallbackCreateInfo,
			Flags:       vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit | vk.DebugReportPerformanceWarningBit),
			PfnCallback: debugReport,
		}
		if err := check(vk.CreateDebugReportCallback(instance, &debugInfo, nil, &i.debug), "vkCreateDebugReportCallback"); err != nil {
			core.LogWarn("vulkan: no debug report callback: %v", err)
		} else {
			i.hasDebug = true
		}
	}
	core.LogInfo("vulkan: instance created")
	return nil
}

func layerAvailable(name string) bool {
	var count uint32
	if vk.EnumerateInstanceLayerProperties(&count, nil) != vk.Success || count == 0 {
		return false
	}
	available := make([]vk.LayerProperties, count)
	if vk.EnumerateInstanceLayerProperties(&count, available) != vk.Success {
		return false
	}
	for j := range available {
		available[j].Deref()
		if cString(available[j].LayerName[:]) == name {
			return true
		}
	}
	return false
}

func debugReport(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		core.LogError("vulkan: [%s] code %d: %s", pLayerPrefix, messageCode, pMessage)
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit|vk.DebugReportPerformanceWarningBit) != 0:
		core.LogWarn("vulkan: [%s] code %d: %s", pLayerPrefix, messageCode, pMessage)
	default:
		core.LogDebug("vulkan: [%s] code %d: %s", pLayerPrefix, messageCode, pMessage)
	}
	return vk.Bool32(vk.False)
}

// queueFamilies are the family indices of the device queues, -1 when the
// device has none.
type queueFamilies struct {
	graphics int32
	present  int32
}

func (q queueFamilies) complete(needPresent bool) bool {
	return q.graphics >= 0 && (!needPresent || q.present >= 0)
}

func findQueueFamilies(device vk.PhysicalDevice, surface vk.Surface, hasSurface bool) (queueFamilies, error) {
	found := queueFamilies{graphics: -1, present: -1}

	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &count, nil)
	families := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &count, families)

	for i := range families {
		families[i].Deref()
		index := uint32(i)
		graphicsBit := families[i].QueueFlags&vk.QueueFlags(vk.QueueGraphicsBit) != 0
		if graphicsBit && found.graphics < 0 {
			found.graphics = int32(index)
		}
		if !hasSurface {
			continue
		}
		var supported vk.Bool32
		if err := check(vk.GetPhysicalDeviceSurfaceSupport(device, index, surface, &supported), "vkGetPhysicalDeviceSurfaceSupport"); err != nil {
			return found, err
		}
		if supported == vk.True {
			// A family doing both saves the concurrent sharing mode.
			if graphicsBit && found.graphics == int32(index) {
				found.present = int32(index)
			} else if found.present < 0 {
				found.present = int32(index)
			}
		}
	}
	return found, nil
}

func deviceExtensions(device vk.PhysicalDevice) (map[string]bool, error) {
	var count uint32
	if err := check(vk.EnumerateDeviceExtensionProperties(device, "", &count, nil), "vkEnumerateDeviceExtensionProperties"); err != nil {
		return nil, err
	}
	available := make([]vk.ExtensionProperties, count)
	if count > 0 {
		if err := check(vk.EnumerateDeviceExtensionProperties(device, "", &count, available), "vkEnumerateDeviceExtensionProperties"); err != nil {
			return nil, err
		}
	}
	names := make(map[string]bool, count)
	for i := range available {
		available[i].Deref()
		names[cString(available[i].ExtensionName[:])] = true
	}
	return names, nil
}

type physicalCandidate struct {
	device     vk.PhysicalDevice
	properties vk.PhysicalDeviceProperties
	queues     queueFamilies
	extensions map[string]bool
}

func deviceTypeName(t vk.PhysicalDeviceType) string {
	switch t {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return "integrated"
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return "discrete"
	case vk.PhysicalDeviceTypeVirtualGpu:
		return "virtual"
	case vk.PhysicalDeviceTypeCpu:
		return "cpu"
	default:
		return "unknown"
	}
}

// selectPhysicalDevice picks the first discrete GPU with the queues and
// extensions we need, falling back to any other suitable device.
func (i *nativeInstance) selectPhysicalDevice(surface vk.Surface, hasSurface bool) (*physicalCandidate, error) {
	var count uint32
	if err := check(vk.EnumeratePhysicalDevices(i.handle, &count, nil), "vkEnumeratePhysicalDevices"); err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, errors.Mark(errors.New("vulkan: no device supports vulkan"), core.ErrUnsupportedBackend)
	}
	devices := make([]vk.PhysicalDevice, count)
	if err := check(vk.EnumeratePhysicalDevices(i.handle, &count, devices), "vkEnumeratePhysicalDevices"); err != nil {
		return nil, err
	}

	var best *physicalCandidate
	for _, device := range devices {
		c := &physicalCandidate{device: device}
		vk.GetPhysicalDeviceProperties(device, &c.properties)
		c.properties.Deref()
		c.properties.Limits.Deref()
		name := vk.ToString(c.properties.DeviceName[:])

		queues, err := findQueueFamilies(device, surface, hasSurface)
		if err != nil {
			return nil, err
		}
		if !queues.complete(hasSurface) {
			core.LogDebug("vulkan: skipping %s, missing queue families", name)
			continue
		}
		c.queues = queues
		if c.extensions, err = deviceExtensions(device); err != nil {
			return nil, err
		}
		if hasSurface && !c.extensions[swapchainExtension] {
			core.LogDebug("vulkan: skipping %s, no %s", name, swapchainExtension)
			continue
		}

		if best == nil || (c.properties.DeviceType == vk.PhysicalDeviceTypeDiscreteGpu &&
			best.properties.DeviceType != vk.PhysicalDeviceTypeDiscreteGpu) {
			best = c
		}
	}
	if best == nil {
		return nil, errors.Mark(errors.New("vulkan: no device meets the requirements"), core.ErrUnsupportedBackend)
	}

	p := &best.properties
	core.LogInfo("vulkan: selected %s (%s gpu), driver %d.%d.%d, api %d.%d.%d",
		vk.ToString(p.DeviceName[:]), deviceTypeName(p.DeviceType),
		vk.Version(p.DriverVersion).Major(), vk.Version(p.DriverVersion).Minor(), vk.Version(p.DriverVersion).Patch(),
		vk.Version(p.ApiVersion).Major(), vk.Version(p.ApiVersion).Minor(), vk.Version(p.ApiVersion).Patch())
	return best, nil
}

// CreateDevice creates the instance, the presentation surface and the
// logical device with one graphics queue.
func (i *nativeInstance) CreateDevice(surface graphics.Surface, applicationName string) (Device, error) {
	if i.handle == nil {
		if err := i.create(surface, applicationName); err != nil {
			return nil, err
		}
	}

	d := &nativeDevice{instance: i}
	if surface != nil {
		ptr, err := surface.CreateVulkanSurface(i.handle)
		if err != nil {
			return nil, errors.Wrap(err, "vulkan: creating window surface")
		}
		d.surface = vk.SurfaceFromPointer(ptr)
		d.hasSurface = true
	}

	candidate, err := i.selectPhysicalDevice(d.surface, d.hasSurface)
	if err != nil {
		d.Destroy()
		return nil, err
	}
	d.physical = candidate.device
	d.properties = candidate.properties
	d.graphicsFamily = uint32(candidate.queues.graphics)
	d.presentFamily = d.graphicsFamily
	if d.hasSurface {
		d.presentFamily = uint32(candidate.queues.present)
	}
	vk.GetPhysicalDeviceMemoryProperties(d.physical, &d.memory)
	d.memory.Deref()
	for t := uint32(0); t < d.memory.MemoryTypeCount; t++ {
		d.memory.MemoryTypes[t].Deref()
	}

	families := []uint32{d.graphicsFamily}
	if d.presentFamily != d.graphicsFamily {
		families = append(families, d.presentFamily)
	}
	queueInfos := make([]vk.DeviceQueueCreateInfo, len(families))
	for q, family := range families {
		queueInfos[q] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: family,
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
	}

	var extensions []string
	if d.hasSurface {
		extensions = append(extensions, swapchainExtension)
	}
	if candidate.extensions[portabilitySubset] {
		core.LogInfo("vulkan: enabling %s", portabilitySubset)
		extensions = append(extensions, portabilitySubset)
	}

	var supported vk.PhysicalDeviceFeatures
	vk.GetPhysicalDeviceFeatures(d.physical, &supported)
	supported.Deref()
	features := vk.PhysicalDeviceFeatures{SamplerAnisotropy: supported.SamplerAnisotropy}

	createInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueInfos)),
		PQueueCreateInfos:       queueInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{features},
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: safeStrings(extensions),
	}
	if err := check(vk.CreateDevice(d.physical, &createInfo, nil, &d.handle), "vkCreateDevice"); err != nil {
		d.Destroy()
		return nil, err
	}
	vk.GetDeviceQueue(d.handle, d.graphicsFamily, 0, &d.graphicsQueue)
	vk.GetDeviceQueue(d.handle, d.presentFamily, 0, &d.presentQueue)

	core.LogInfo("vulkan: logical device created (graphics family %d, present family %d)", d.graphicsFamily, d.presentFamily)
	return d, nil
}
