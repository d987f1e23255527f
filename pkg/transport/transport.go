// Package transport provides the addressed send/receive abstraction the
// user state machine is built against, per §6. Concrete transports (memory,
// tcp, quic) implement this interface; the core only ever depends on it.
package transport

import (
	"context"

	"github.com/chainmesh/streams/pkg/address"
	"github.com/chainmesh/streams/pkg/streamerr"
)

// Transport is the async send/receive abstraction consumed by pkg/user.
// The memory transport fails SendMessage with streamerr.AddressConflict if
// addr already holds a message, and RecvMessage with streamerr.UnknownLink
// if it does not. The tcp and quic peers do neither: their SendMessage never
// reports a conflict, and their RecvMessage waits until a frame for addr
// arrives, ctx is cancelled or the connection closes.
type Transport interface {
	SendMessage(ctx context.Context, addr address.Address, data []byte) error
	RecvMessage(ctx context.Context, addr address.Address) ([]byte, error)

	// Name identifies the transport implementation (e.g. "memory", "tcp", "quic").
	Name() string
}

// ErrAddressOccupied is a convenience constructor for the address-conflict
// error the memory transport's SendMessage returns.
func ErrAddressOccupied(addr address.Address) error {
	return streamerr.New(streamerr.AddressConflict, "address already occupied: "+addr.String())
}

// ErrAddressUnknown is a convenience constructor for the unknown-address
// error the memory transport's RecvMessage returns.
func ErrAddressUnknown(addr address.Address) error {
	return streamerr.New(streamerr.UnknownLink, "no message at address: "+addr.String())
}

// Registry manages named transport instances, mirroring the pack's
// registry-of-named-implementations convention used for other pluggable
// backends.
type Registry struct {
	transports map[string]Transport
}

// NewRegistry returns an empty transport registry.
func NewRegistry() *Registry {
	return &Registry{transports: make(map[string]Transport)}
}

// Register adds a transport under name.
func (r *Registry) Register(name string, t Transport) {
	r.transports[name] = t
}

// Get looks up a transport by name.
func (r *Registry) Get(name string) (Transport, bool) {
	t, ok := r.transports[name]
	return t, ok
}

// List returns all registered transport names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.transports))
	for name := range r.transports {
		names = append(names, name)
	}
	return names
}
