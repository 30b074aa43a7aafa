package ldap

import (
	"sync"

	"github.com/tgerk/node-ldapjs/wire"
)

// pendingKind tags a pendingRequest with how its terminal response
// should be delivered, a tagged variant in place of closures-stored-
// as-callbacks.
type pendingKind int

const (
	pendingTerminal pendingKind = iota
	pendingStreaming
	pendingAbandonSentinel
	pendingUnbindSentinel
)

// pendingRequest is the tracker's record of one in-flight request.
type pendingRequest struct {
	kind      pendingKind
	expect    []ResultCode
	onMessage func(*wire.Message)        // pendingTerminal / pendingStreaming: called for every response with this id
	stream    *SearchResultStream        // set when kind == pendingStreaming
	done      func(*wire.Message, error) // called once with the terminal outcome (nil message on pure error)

	// continuation marks a pendingStreaming request as a later page of
	// an already-started paged search, so a local send failure reaches
	// the stream as a page error rather than a whole-stream error.
	continuation bool

	once sync.Once
}

// complete invokes done exactly once, however the request finishes —
// a terminal response, a timeout, or a connection purge. Without this
// guard a request that times out right as its response arrives could
// deliver twice.
func (req *pendingRequest) complete(msg *wire.Message, err error) {
	req.once.Do(func() {
		if req.done != nil {
			req.done(msg, err)
		}
	})
}

// messageTracker maps LDAP message IDs to pendingRequests. It is not
// itself safe for concurrent use: all mutation happens under the
// owning Client's mu, so the tracker needs no lock of its own.
type messageTracker struct {
	pending   map[int32]*pendingRequest
	nextID    int32
	abandoned map[int32]struct{}
}

func newMessageTracker() *messageTracker {
	return &messageTracker{
		pending:   make(map[int32]*pendingRequest),
		nextID:    wire.MinMessageID,
		abandoned: make(map[int32]struct{}),
	}
}

// track assigns the next free message ID, skipping ids that are
// currently pending or abandoned, wrapping from MaxMessageID back to
// MinMessageID, and stores req under that id.
func (t *messageTracker) track(req *pendingRequest) int32 {
	id := t.nextID
	for {
		if _, inUse := t.pending[id]; !inUse {
			if _, wasAbandoned := t.abandoned[id]; !wasAbandoned {
				break
			}
		}
		if id == wire.MaxMessageID {
			id = wire.MinMessageID
		} else {
			id++
		}
	}
	if id == wire.MaxMessageID {
		t.nextID = wire.MinMessageID
	} else {
		t.nextID = id + 1
	}
	t.pending[id] = req
	return id
}

// fetch returns the handler registered for id without removing it, so
// a streaming search can observe multiple responses for the same id.
func (t *messageTracker) fetch(id int32) (*pendingRequest, bool) {
	req, ok := t.pending[id]
	return req, ok
}

// remove drops the pending entry for id, used once a terminal response
// has been delivered.
func (t *messageTracker) remove(id int32) {
	delete(t.pending, id)
}

// abandon records id as abandoned and drops its pending entry; any
// response that later arrives for id is silently discarded by the
// caller re-checking fetch.
func (t *messageTracker) abandon(id int32) {
	t.abandoned[id] = struct{}{}
	delete(t.pending, id)
}

// purge invokes fn for every still-pending request (so the caller can
// synthesize a final error or result) and then empties the map. It is
// idempotent: calling purge on an already-empty tracker is a no-op.
func (t *messageTracker) purge(fn func(id int32, req *pendingRequest)) {
	for id, req := range t.pending {
		fn(id, req)
	}
	t.pending = make(map[int32]*pendingRequest)
}

// count returns the number of requests currently awaiting a terminal
// response.
func (t *messageTracker) count() int { return len(t.pending) }
