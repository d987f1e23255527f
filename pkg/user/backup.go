package user

import (
	"bytes"
	"sort"

	"github.com/chainmesh/streams/pkg/address"
	"github.com/chainmesh/streams/pkg/identity"
	"github.com/chainmesh/streams/pkg/spongos"
	"github.com/chainmesh/streams/pkg/transport"
)

// State is the exported, canonically-ordered view of a User's serializable
// fields, per §3's User State data model. subscribers, unsubscribeKeys and
// the replay-detection windows are deliberately absent: none of them appear
// in the state fields the backup format enumerates, so none survive a
// restore — a subscriber list is rebuilt from whatever Keyload/Subscription
// traffic the restored user re-syncs.
type State struct {
	UserIdentity     *identity.Identity
	StreamAddress    *address.Address
	AuthorIdentifier *identity.Identifier
	Spongos          []SpongosState
	Cursors          []CursorState
	ExchangeKeys     []ExchangeKeyState
	PSKs             []PSKState
}

// SpongosState pairs a stored message address with its full sponge state.
type SpongosState struct {
	MsgID []byte
	State []byte
}

// CursorState pairs a tracked publisher with its cursor.
type CursorState struct {
	ID  identity.Identifier
	Seq uint64
}

// ExchangeKeyState pairs a tracked participant with their X25519 public key.
type ExchangeKeyState struct {
	ID identity.Identifier
	KE []byte
}

// PSKState pairs a pre-shared-key id with its raw key material.
type PSKState struct {
	ID  []byte
	PSK []byte
}

// Snapshot exports the current state in the deterministic, sorted-by-key
// order backup's sponge-threaded serialization requires (spec.md §4.6: "the
// implementation MUST iterate the map entries in a deterministic order").
func (u *User) Snapshot() (*State, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	s := &State{
		UserIdentity:     u.identity,
		StreamAddress:    u.streamAddress,
		AuthorIdentifier: u.authorIdentifier,
	}

	msgIDs := make([]address.MsgId, 0, len(u.spongosStore))
	for id := range u.spongosStore {
		msgIDs = append(msgIDs, id)
	}
	sort.Slice(msgIDs, func(i, j int) bool { return bytes.Compare(msgIDs[i][:], msgIDs[j][:]) < 0 })
	for _, id := range msgIDs {
		raw, err := u.spongosStore[id].MarshalBinary()
		if err != nil {
			return nil, err
		}
		idCopy := id
		s.Spongos = append(s.Spongos, SpongosState{MsgID: idCopy[:], State: raw})
	}

	for _, k := range sortedStringKeys(u.cursorStore) {
		e := u.cursorStore[k]
		s.Cursors = append(s.Cursors, CursorState{ID: e.id, Seq: e.seq})
	}

	for _, k := range sortedStringKeys(u.exchangeKeys) {
		e := u.exchangeKeys[k]
		s.ExchangeKeys = append(s.ExchangeKeys, ExchangeKeyState{ID: e.id, KE: e.ke})
	}

	for _, k := range sortedStringKeys(u.pskStore) {
		e := u.pskStore[k]
		s.PSKs = append(s.PSKs, PSKState{ID: e.id, PSK: e.psk})
	}

	return s, nil
}

func sortedStringKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Restore rebuilds a User from a previously exported State and the
// transport it should send/receive through.
func Restore(s *State, t transport.Transport) (*User, error) {
	u := New(WithTransport(t))
	u.identity = s.UserIdentity
	u.streamAddress = s.StreamAddress
	u.authorIdentifier = s.AuthorIdentifier

	for _, sp := range s.Spongos {
		restored, err := spongos.UnmarshalSpongos(sp.State)
		if err != nil {
			return nil, err
		}
		var msgID address.MsgId
		copy(msgID[:], sp.MsgID)
		u.spongosStore[msgID] = restored
	}
	for _, c := range s.Cursors {
		u.cursorStore[idKey(c.ID)] = &cursorEntry{id: c.ID, seq: c.Seq}
	}
	for _, e := range s.ExchangeKeys {
		u.exchangeKeys[idKey(e.ID)] = &exchangeEntry{id: e.ID, ke: e.KE}
	}
	for _, p := range s.PSKs {
		u.pskStore[string(p.ID)] = &pskEntry{id: p.ID, psk: p.PSK}
	}
	return u, nil
}
