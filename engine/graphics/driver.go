package graphics

import (
	"sync"
)

// Driver creates devices for one backend. Backend packages register their
// driver from init, so applications pick backends with blank imports.
type Driver interface {
	Backend() Backend
	IsSupported() bool
	CreateDevice(validation bool) (DeviceBackend, error)
}

var (
	driversMu sync.RWMutex
	drivers   = make(map[Backend]Driver)
)

// backendPriority is the resolution order of BackendDefault.
var backendPriority = []Backend{BackendVulkan, BackendD3D12, BackendD3D11, BackendEmpty}

func RegisterDriver(driver Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[driver.Backend()] = driver
}

func lookupDriver(backend Backend) (Driver, bool) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	d, ok := drivers[backend]
	return d, ok
}

// AvailableBackends lists the registered and supported backends in default
// resolution order.
func AvailableBackends() []Backend {
	var backends []Backend
	for _, backend := range backendPriority {
		if d, ok := lookupDriver(backend); ok && d.IsSupported() {
			backends = append(backends, backend)
		}
	}
	return backends
}

func resolveBackend(requested Backend) (Backend, bool) {
	if requested != BackendDefault {
		if d, ok := lookupDriver(requested); ok && d.IsSupported() {
			return requested, true
		}
	}
	available := AvailableBackends()
	if len(available) == 0 {
		return BackendDefault, false
	}
	return available[0], true
}
