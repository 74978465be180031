// Package agh contains the common service lifecycle interface shared by
// linkd's long-running components (the link registry, the status-file
// sink).
package agh

import "context"

// Service is the common lifecycle interface for a long-running component.
type Service interface {
	// Start starts the service.  It does not block.
	Start() (err error)

	// Shutdown gracefully stops the service.  ctx is used to determine a
	// timeout before trying to stop the service less gracefully.
	Shutdown(ctx context.Context) (err error)
}

// type check
var _ Service = EmptyService{}

// EmptyService is a Service that does nothing; useful as a default when a
// component is disabled by configuration.
type EmptyService struct{}

// Start implements the Service interface for EmptyService.
func (EmptyService) Start() (err error) { return nil }

// Shutdown implements the Service interface for EmptyService.
func (EmptyService) Shutdown(_ context.Context) (err error) { return nil }
