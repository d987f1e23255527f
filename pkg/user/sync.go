package user

import (
	"context"

	"github.com/chainmesh/streams/pkg/address"
	"github.com/chainmesh/streams/pkg/identity"
)

type identifierAndSeq struct {
	ID  identity.Identifier
	Seq uint64
}

// FetchNextMessages polls the transport for the next unseen message from
// every publisher this user currently tracks a cursor for, applying each one
// found via HandleMessage. It returns every Message successfully handled,
// in no particular cross-publisher order; a publisher with no new message
// at its next expected sequence is simply skipped this round.
func (u *User) FetchNextMessages(ctx context.Context) ([]*Message, error) {
	stream, err := func() (address.Address, error) {
		u.mu.Lock()
		defer u.mu.Unlock()
		return u.requireStream()
	}()
	if err != nil {
		return nil, err
	}

	u.mu.Lock()
	candidates := make([]identifierAndSeq, 0, len(u.cursorStore))
	for _, e := range u.cursorStore {
		candidates = append(candidates, identifierAndSeq{ID: e.id, Seq: e.seq + 1})
	}
	u.mu.Unlock()

	var out []*Message
	for _, cand := range candidates {
		addr := address.NewAddress(stream.App, cand.ID, cand.Seq)
		raw, err := u.transport.RecvMessage(ctx, addr)
		if err != nil {
			continue
		}
		msg, err := u.HandleMessage(ctx, addr, raw)
		if err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// Sync repeatedly calls FetchNextMessages until a round finds nothing new,
// returning the total number of messages applied.
func (u *User) Sync(ctx context.Context) (int, error) {
	total := 0
	for {
		msgs, err := u.FetchNextMessages(ctx)
		if err != nil {
			return total, err
		}
		if len(msgs) == 0 {
			return total, nil
		}
		total += len(msgs)
	}
}
