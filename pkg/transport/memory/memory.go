// Package memory implements an in-process transport.Transport, the
// reference implementation used by tests and the CLI demo.
package memory

import (
	"context"
	"sync"

	"github.com/chainmesh/streams/pkg/address"
	"github.com/chainmesh/streams/pkg/transport"
)

// Transport is a shared in-memory message store. Multiple Users can share
// one Transport to simulate a stream over a real network.
type Transport struct {
	mu       sync.RWMutex
	messages map[address.Address][]byte
}

// New returns an empty in-memory transport.
func New() *Transport {
	return &Transport{messages: make(map[address.Address][]byte)}
}

func (t *Transport) Name() string { return "memory" }

// SendMessage stores data at addr, failing if addr is already occupied.
func (t *Transport) SendMessage(_ context.Context, addr address.Address, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.messages[addr]; exists {
		return transport.ErrAddressOccupied(addr)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	t.messages[addr] = cp
	return nil
}

// RecvMessage returns the bytes stored at addr, failing if none exist.
func (t *Transport) RecvMessage(_ context.Context, addr address.Address) ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	data, exists := t.messages[addr]
	if !exists {
		return nil, transport.ErrAddressUnknown(addr)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

var _ transport.Transport = (*Transport)(nil)
