package adapter

import (
	"context"
)

// Adapter exposes the filesystem driver to the host through one protocol
// (FUSE today). The server owns its lifecycle.
//
// Lifecycle:
//  1. Creation: the adapter is created with its protocol configuration and
//     the shared driver
//  2. Startup: Serve mounts or listens and blocks until shutdown
//  3. Shutdown: Stop unmounts or closes, bounded by its context
//
// Thread safety:
// Stop may be called concurrently with Serve, and more than once.
type Adapter interface {
	// Serve starts serving and blocks until ctx is cancelled or an
	// unrecoverable error occurs. Returning before ctx is cancelled is
	// treated as fatal by the server and stops every other component.
	//
	// Returns nil on graceful shutdown.
	Serve(ctx context.Context) error

	// Stop initiates graceful shutdown. Idempotent.
	Stop(ctx context.Context) error

	// Protocol returns the protocol name for logging and metrics
	// ("FUSE").
	Protocol() string

	// Endpoint describes where the adapter is reachable: a mountpoint or a
	// listen address.
	Endpoint() string
}
