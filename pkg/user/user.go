// Package user implements the per-participant state machine of §4.5/4.6: a
// User owns at most one stream, tracks per-publisher cursors, the spongos
// snapshot store, exchange keys and pre-shared keys, and exposes the
// create/subscribe/send/receive/backup operations described by spec's
// external interface.
//
// Grounded on the teacher's pkg/agent/agent.go lifecycle shape: a
// mutex-guarded struct built through a small option set, driven entirely by
// explicit method calls rather than an internal goroutine loop, matching
// §5's single-threaded-cooperative scheduling model (no run() loop here).
package user

import (
	"fmt"
	"sort"
	"sync"

	"github.com/chainmesh/streams/internal/replay"
	"github.com/chainmesh/streams/pkg/address"
	"github.com/chainmesh/streams/pkg/identity"
	"github.com/chainmesh/streams/pkg/spongos"
	"github.com/chainmesh/streams/pkg/streamerr"
	"github.com/chainmesh/streams/pkg/transport"
)

// replayWindowSize bounds how far out of order a publisher's messages may
// arrive before they are rejected as stale, independent of cursor_store's
// monotonic bookkeeping.
const replayWindowSize = 256

// cursorEntry pairs a tracked publisher's Identifier with its cursor, so
// the map can be iterated in canonical (sorted-by-key-bytes) order for
// backup without losing the original Identifier value.
type cursorEntry struct {
	id  identity.Identifier
	seq uint64
}

// exchangeEntry pairs a tracked participant's Identifier with their known
// X25519 key-exchange public key.
type exchangeEntry struct {
	id identity.Identifier
	ke []byte
}

// pskEntry pairs a PSK id with its raw key material.
type pskEntry struct {
	id  []byte
	psk []byte
}

// User is the per-participant state machine of §3's "User State".
type User struct {
	mu sync.Mutex

	identity  *identity.Identity
	transport transport.Transport

	streamIdx        uint64
	streamAddress    *address.Address
	authorIdentifier *identity.Identifier

	cursorStore   map[string]*cursorEntry
	exchangeKeys  map[string]*exchangeEntry
	pskStore      map[string]*pskEntry
	spongosStore  map[address.MsgId]*spongos.Spongos
	replayWindows map[string]*replay.Window

	subscribers map[string]identity.Permissioned[identity.Identifier]

	// unsubscribeKeys records the unsubscribe key this user generated (if
	// it is a subscriber) or learned from a subscriber (if it is the
	// author), keyed by the subscriber's identifier bytes.
	unsubscribeKeys map[string][]byte
}

// Option configures a User at construction time, mirroring the pack's
// functional-options builder convention.
type Option func(*User)

// WithIdentity sets the User's own signing/key-exchange identity.
func WithIdentity(id *identity.Identity) Option {
	return func(u *User) { u.identity = id }
}

// WithTransport sets the transport the User sends and receives through.
func WithTransport(t transport.Transport) Option {
	return func(u *User) { u.transport = t }
}

// WithPSK preloads a pre-shared key into psk_store at construction time.
func WithPSK(psk []byte) Option {
	return func(u *User) {
		id := identity.DerivePskID(psk)
		u.pskStore[string(id)] = &pskEntry{id: id, psk: append([]byte{}, psk...)}
	}
}

// New constructs a User per the builder lifecycle of §3.
func New(opts ...Option) *User {
	u := &User{
		cursorStore:     make(map[string]*cursorEntry),
		exchangeKeys:    make(map[string]*exchangeEntry),
		pskStore:        make(map[string]*pskEntry),
		spongosStore:    make(map[address.MsgId]*spongos.Spongos),
		replayWindows:   make(map[string]*replay.Window),
		subscribers:     make(map[string]identity.Permissioned[identity.Identifier]),
		unsubscribeKeys: make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

func idKey(id identity.Identifier) string { return string(id.Bytes()) }

// Identifier returns this User's own public identity handle.
func (u *User) Identifier() (identity.Identifier, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.identity == nil {
		return identity.Identifier{}, streamerr.New(streamerr.NoIdentity, "user has no identity")
	}
	return u.identity.ToIdentifier(), nil
}

// Identity returns this User's private identity.
func (u *User) Identity() *identity.Identity {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.identity
}

// StreamAddress returns the stream this User has created or joined, if any.
func (u *User) StreamAddress() (address.Address, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.streamAddress == nil {
		return address.Address{}, false
	}
	return *u.streamAddress, true
}

// Subscribers returns the currently tracked subscriber permissions.
func (u *User) Subscribers() []identity.Permissioned[identity.Identifier] {
	u.mu.Lock()
	defer u.mu.Unlock()
	keys := make([]string, 0, len(u.subscribers))
	for k := range u.subscribers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]identity.Permissioned[identity.Identifier], 0, len(keys))
	for _, k := range keys {
		out = append(out, u.subscribers[k])
	}
	return out
}

// AddSubscriber records perm without a corresponding wire exchange,
// intended for administrative/offline setup.
func (u *User) AddSubscriber(perm identity.Permissioned[identity.Identifier]) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.subscribers[idKey(perm.Identifier())] = perm
}

// RemoveSubscriber drops id from subscribers, cursor_store and
// exchange_keys.
func (u *User) RemoveSubscriber(id identity.Identifier) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.removeSubscriberLocked(id)
}

func (u *User) removeSubscriberLocked(id identity.Identifier) {
	k := idKey(id)
	delete(u.subscribers, k)
	delete(u.cursorStore, k)
	delete(u.exchangeKeys, k)
	delete(u.unsubscribeKeys, k)
	delete(u.replayWindows, k)
}

// AddPSK records a pre-shared key under its derived identifier.
func (u *User) AddPSK(psk []byte) identity.Identifier {
	u.mu.Lock()
	defer u.mu.Unlock()
	id := identity.DerivePskID(psk)
	u.pskStore[string(id)] = &pskEntry{id: id, psk: append([]byte{}, psk...)}
	return identity.NewPskIdentifier(id)
}

// RemovePSK forgets a pre-shared key by its derived identifier.
func (u *User) RemovePSK(pskID []byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.pskStore, string(pskID))
}

func (u *User) cursorOf(id identity.Identifier) uint64 {
	if e, ok := u.cursorStore[idKey(id)]; ok {
		return e.seq
	}
	return 0
}

func (u *User) setCursorLocked(id identity.Identifier, seq uint64) {
	if e, ok := u.cursorStore[idKey(id)]; ok && e.seq > seq {
		return
	}
	u.cursorStore[idKey(id)] = &cursorEntry{id: id, seq: seq}
}

func (u *User) setExchangeKeyLocked(id identity.Identifier, ke []byte) {
	u.exchangeKeys[idKey(id)] = &exchangeEntry{id: id, ke: append([]byte{}, ke...)}
}

func (u *User) exchangeKeyOf(id identity.Identifier) ([]byte, bool) {
	e, ok := u.exchangeKeys[idKey(id)]
	if !ok {
		return nil, false
	}
	return e.ke, true
}

// shouldStorePermissionCursor implements the shared rule from spec's Open
// Question resolution 3: skip seeding a cursor for a subscriber already
// tracked, and skip entirely for Read-only subscribers. Called identically
// from both SendKeyload and handleKeyload so sender and receiver views
// never diverge.
func (u *User) shouldStorePermissionCursor(perm identity.Permissioned[identity.Identifier]) bool {
	if perm.IsReadOnly() {
		return false
	}
	if _, tracked := u.cursorStore[idKey(perm.Identifier())]; tracked {
		return false
	}
	return true
}

func (u *User) requireIdentity() (*identity.Identity, error) {
	if u.identity == nil {
		return nil, streamerr.New(streamerr.NoIdentity, "operation requires an identity")
	}
	return u.identity, nil
}

func (u *User) requireStream() (address.Address, error) {
	if u.streamAddress == nil {
		return address.Address{}, streamerr.New(streamerr.NoStream, "no stream joined")
	}
	return *u.streamAddress, nil
}

func (u *User) requireSpongos(msg address.MsgId) (*spongos.Spongos, error) {
	sp, ok := u.spongosStore[msg]
	if !ok {
		return nil, streamerr.New(streamerr.UnknownLink, "no spongos for linked message")
	}
	return sp, nil
}

func (u *User) requireAnnouncementSpongos() (*spongos.Spongos, error) {
	stream, err := u.requireStream()
	if err != nil {
		return nil, err
	}
	return u.requireSpongos(stream.Relative())
}

func (u *User) storeSpongos(msg address.MsgId, sp *spongos.Spongos) {
	u.spongosStore[msg] = sp
}

// acceptSequence reports whether seq from publisher is fresh: neither a
// duplicate nor far enough behind the publisher's highest seen sequence to
// be considered stale. This is independent of, and checked ahead of,
// cursor_store's own monotonic bookkeeping.
func (u *User) acceptSequence(publisher identity.Identifier, seq uint64) bool {
	k := idKey(publisher)
	w, ok := u.replayWindows[k]
	if !ok {
		w = replay.NewWindow(replayWindowSize)
		u.replayWindows[k] = w
	}
	return w.Accept(seq)
}

func (u *User) String() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.identity == nil {
		return "user(no-identity)"
	}
	return fmt.Sprintf("user(%s)", u.identity.ToIdentifier())
}
