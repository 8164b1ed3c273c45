package aemclient

import (
	"context"

	"github.com/indrasishbanerjee/aemaacs-mcp-server-sub004/internal/singleflight"
)

// readCoalescer merges identical concurrent cacheable reads into a single
// transport call. Keys are the same fingerprints the cache uses, so two
// callers asking for the same page within one round trip share the result.
type readCoalescer struct {
	group *singleflight.Group
}

func newReadCoalescer() *readCoalescer {
	return &readCoalescer{group: singleflight.New()}
}

// do runs fn once per key across concurrent callers. Waiters receive a copy
// of the owner's envelope marked Coalesced; the owner's envelope is returned
// unchanged. A waiter whose context expires gets a TIMEOUT failure envelope
// instead of blocking on the owner.
func (rc *readCoalescer) do(ctx context.Context, key string, fn func() *Response) (*Response, bool) {
	v, err, shared := rc.group.Do(ctx, key, func() (interface{}, error) {
		return fn(), nil
	})
	if err != nil {
		// Only waiter context expiry produces an error here.
		return nil, true
	}

	resp := v.(*Response)
	if !shared {
		return resp, false
	}

	cp := *resp
	cp.Error = resp.Error.clone()
	cp.Meta.Coalesced = true
	return &cp, true
}
