// Package permission gates camera access behind host-granted capabilities.
package permission

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Host is the platform capability the gate negotiates with. Granted reports
// the current grant status of a single permission; Request asks the host to
// prompt for the given set. The host later reports completion by having the
// application call Gate.HandleResult with the same request id.
type Host interface {
	Granted(permission string) bool
	Request(requestID string, permissions []string) error
}

// request is the outstanding (permission-set, callbacks) record.
type request struct {
	id          string
	permissions []string
	onGranted   func()
	onDenied    func()
}

// Gate resumes callers once a set of permissions is granted. At most one
// request is outstanding; a second EnsureGranted replaces the pending
// callbacks. Absence of permission is a normal outcome, not an error.
type Gate struct {
	host   Host
	logger *slog.Logger

	mu      sync.Mutex
	pending *request
}

// NewGate returns a gate bound to host.
func NewGate(host Host, logger *slog.Logger) *Gate {
	return &Gate{host: host, logger: logger}
}

// EnsureGranted invokes onGranted synchronously when every permission is
// already granted and returns "". Otherwise it issues a host request and
// returns its id; exactly one of onGranted/onDenied fires when the result is
// delivered through HandleResult. A host that refuses to issue the request
// resolves it as denied immediately.
func (g *Gate) EnsureGranted(permissions []string, onGranted, onDenied func()) string {
	if g.allGranted(permissions) {
		if onGranted != nil {
			onGranted()
		}
		return ""
	}

	req := &request{
		id:          uuid.NewString(),
		permissions: append([]string(nil), permissions...),
		onGranted:   onGranted,
		onDenied:    onDenied,
	}
	g.mu.Lock()
	if g.pending != nil && g.logger != nil {
		g.logger.Debug("permission.request_replaced", "previous", g.pending.id, "next", req.id)
	}
	g.pending = req
	g.mu.Unlock()

	if g.logger != nil {
		g.logger.Info("permission.request", "id", req.id, "permissions", req.permissions)
	}
	if err := g.host.Request(req.id, req.permissions); err != nil {
		if g.logger != nil {
			g.logger.Error("permission.request_failed", "id", req.id, "error", err)
		}
		if g.take(req.id) != nil && onDenied != nil {
			onDenied()
		}
	}
	return req.id
}

// HandleResult is called when the host reports the outcome of request id.
// It re-checks the grant status and fires exactly one callback. Unknown or
// already-handled ids are ignored and report false.
func (g *Gate) HandleResult(requestID string) bool {
	req := g.take(requestID)
	if req == nil {
		if g.logger != nil {
			g.logger.Debug("permission.result_ignored", "id", requestID)
		}
		return false
	}
	granted := g.allGranted(req.permissions)
	if g.logger != nil {
		g.logger.Info("permission.result", "id", requestID, "granted", granted)
	}
	if granted {
		if req.onGranted != nil {
			req.onGranted()
		}
	} else if req.onDenied != nil {
		req.onDenied()
	}
	return true
}

// Pending returns the id of the outstanding request, if any.
func (g *Gate) Pending() (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil {
		return "", false
	}
	return g.pending.id, true
}

// take removes and returns the pending request when its id matches.
func (g *Gate) take(requestID string) *request {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending == nil || g.pending.id != requestID {
		return nil
	}
	req := g.pending
	g.pending = nil
	return req
}

func (g *Gate) allGranted(permissions []string) bool {
	for _, p := range permissions {
		if !g.host.Granted(p) {
			return false
		}
	}
	return true
}
