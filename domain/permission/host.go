package permission

import (
	"log/slog"
	"sync"
)

// StaticHost keeps grants in memory. Requests are recorded and left for the
// embedding application to resolve via Grant/Deny followed by
// Gate.HandleResult. The zero value grants nothing.
type StaticHost struct {
	mu       sync.Mutex
	grants   map[string]bool
	requests []string
	fail     error
}

// NewStaticHost returns a host with the given permissions already granted.
func NewStaticHost(granted ...string) *StaticHost {
	h := &StaticHost{grants: map[string]bool{}}
	for _, p := range granted {
		h.grants[p] = true
	}
	return h
}

func (h *StaticHost) Granted(permission string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.grants[permission]
}

func (h *StaticHost) Request(requestID string, _ []string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail != nil {
		return h.fail
	}
	h.requests = append(h.requests, requestID)
	return nil
}

// Grant marks permissions as granted.
func (h *StaticHost) Grant(permissions ...string) { h.set(true, permissions) }

// Deny revokes permissions.
func (h *StaticHost) Deny(permissions ...string) { h.set(false, permissions) }

// FailRequests makes every subsequent Request return err (nil restores).
func (h *StaticHost) FailRequests(err error) {
	h.mu.Lock()
	h.fail = err
	h.mu.Unlock()
}

// Requests returns the ids of every request issued so far.
func (h *StaticHost) Requests() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.requests...)
}

func (h *StaticHost) set(v bool, permissions []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.grants == nil {
		h.grants = map[string]bool{}
	}
	for _, p := range permissions {
		h.grants[p] = v
	}
}

// DeviceHost backs permissions with filesystem access: a permission is
// granted when its mapped path is readable and writable by this process.
// Unmapped permissions are treated as granted. There is no interactive
// prompt; Request logs what is missing and reports the result through
// Deliver on a separate goroutine so the caller never re-enters the gate.
type DeviceHost struct {
	paths  map[string]string
	logger *slog.Logger

	mu      sync.Mutex
	deliver func(requestID string)
}

// NewDeviceHost maps permission names to device or directory paths.
func NewDeviceHost(paths map[string]string, logger *slog.Logger) *DeviceHost {
	cp := make(map[string]string, len(paths))
	for k, v := range paths {
		cp[k] = v
	}
	return &DeviceHost{paths: cp, logger: logger}
}

// SetDeliver installs the function that reports request completion,
// normally the scanner's OnPermissionResult.
func (h *DeviceHost) SetDeliver(fn func(requestID string)) {
	h.mu.Lock()
	h.deliver = fn
	h.mu.Unlock()
}

func (h *DeviceHost) Granted(permission string) bool {
	path, ok := h.paths[permission]
	if !ok || path == "" {
		return true
	}
	return accessible(path)
}

func (h *DeviceHost) Request(requestID string, permissions []string) error {
	for _, p := range permissions {
		if !h.Granted(p) && h.logger != nil {
			h.logger.Warn("permission.missing", "permission", p, "path", h.paths[p])
		}
	}
	h.mu.Lock()
	deliver := h.deliver
	h.mu.Unlock()
	if deliver != nil {
		go deliver(requestID)
	}
	return nil
}
