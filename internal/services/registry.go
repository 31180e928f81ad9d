package services

import (
	"github.com/fixpointlabs/healerd/internal/orchestrator"
	"github.com/fixpointlabs/healerd/internal/progress"
	"github.com/fixpointlabs/healerd/internal/session"
)

// Registry provides access to the healerd services the daemon surfaces use.
// Use accessor methods to retrieve individual services.
type Registry interface {
	Orchestrator() *orchestrator.Service
	Sessions() session.Store
	Progress() *progress.Bus
}

// Options configures the registry with service instances.
type Options struct {
	Orchestrator *orchestrator.Service
	Sessions     session.Store
	Progress     *progress.Bus
}

// registry is the concrete implementation of Registry.
type registry struct {
	orchestrator *orchestrator.Service
	sessions     session.Store
	progress     *progress.Bus
}

// NewRegistry creates a new service registry.
func NewRegistry(opts Options) Registry {
	return &registry{
		orchestrator: opts.Orchestrator,
		sessions:     opts.Sessions,
		progress:     opts.Progress,
	}
}

func (r *registry) Orchestrator() *orchestrator.Service { return r.orchestrator }
func (r *registry) Sessions() session.Store             { return r.sessions }
func (r *registry) Progress() *progress.Bus             { return r.progress }
