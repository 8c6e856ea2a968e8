// Package host drives controllers the way a browser drives a service worker:
// it installs and activates a version, claims it, and routes requests to it.
package host

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/sitecache"
)

// Registration holds the active controller of one scope.
type Registration struct {
	active atomic.Pointer[sitecache.Controller]
	mu     sync.Mutex // serializes Register
	log    sitecache.Logger
}

func NewRegistration(log sitecache.Logger) *Registration {
	if log == nil {
		log = sitecache.NopLogger{}
	}
	return &Registration{log: log}
}

// Active returns the controller serving requests, or nil.
func (r *Registration) Active() sitecache.Controller {
	p := r.active.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Register installs ctl and activates it immediately, then makes it the
// active controller. On any failure the previous controller keeps serving.
func (r *Registration) Register(ctx context.Context, ctl sitecache.Controller) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ver := ctl.Version()
	if err := ctl.OnInstall(ctx); err != nil {
		return fmt.Errorf("host: install %q: %w", ver, err)
	}
	if err := ctl.OnActivate(ctx); err != nil {
		return fmt.Errorf("host: activate %q: %w", ver, err)
	}

	old := r.Active()
	r.active.Store(&ctl)
	var prev string
	if old != nil {
		prev = old.Version()
		old.Retire()
	}
	r.log.Info("controller claimed", sitecache.Fields{"version": ver, "previous": prev})
	return nil
}
