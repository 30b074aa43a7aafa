package ldap

import (
	"testing"

	"github.com/tgerk/node-ldapjs/wire"
)

func TestMessageTrackerTrackAssignsIncreasingIDs(t *testing.T) {
	tr := newMessageTracker()
	first := tr.track(&pendingRequest{})
	second := tr.track(&pendingRequest{})
	if second <= first {
		t.Fatalf("expected increasing ids, got %d then %d", first, second)
	}
}

func TestMessageTrackerFetchAndRemove(t *testing.T) {
	tr := newMessageTracker()
	req := &pendingRequest{}
	id := tr.track(req)

	got, ok := tr.fetch(id)
	if !ok || got != req {
		t.Fatalf("fetch(%d) = %v, %v; want %v, true", id, got, ok, req)
	}

	tr.remove(id)
	if _, ok := tr.fetch(id); ok {
		t.Fatalf("fetch(%d) after remove should miss", id)
	}
}

func TestMessageTrackerAbandonSkipsID(t *testing.T) {
	tr := newMessageTracker()
	id := tr.track(&pendingRequest{})
	tr.abandon(id)

	if _, ok := tr.fetch(id); ok {
		t.Fatalf("abandoned id %d should not be fetchable", id)
	}

	// the tracker must never reassign an abandoned id, even once nextID
	// wraps all the way back around to it.
	tr.nextID = id
	reassigned := tr.track(&pendingRequest{})
	if reassigned == id {
		t.Fatalf("abandoned id %d was reassigned", id)
	}
}

func TestMessageTrackerWrapsAtMaxMessageID(t *testing.T) {
	tr := newMessageTracker()
	tr.nextID = wire.MaxMessageID
	first := tr.track(&pendingRequest{})
	if first != wire.MaxMessageID {
		t.Fatalf("first id = %d, want %d", first, wire.MaxMessageID)
	}
	second := tr.track(&pendingRequest{})
	if second != wire.MinMessageID {
		t.Fatalf("second id = %d, want wraparound to %d", second, wire.MinMessageID)
	}
}

func TestMessageTrackerPurgeEmptiesAndInvokesEveryEntry(t *testing.T) {
	tr := newMessageTracker()
	ids := []int32{tr.track(&pendingRequest{}), tr.track(&pendingRequest{}), tr.track(&pendingRequest{})}

	seen := make(map[int32]bool)
	tr.purge(func(id int32, req *pendingRequest) { seen[id] = true })

	for _, id := range ids {
		if !seen[id] {
			t.Errorf("purge did not visit id %d", id)
		}
	}
	if tr.count() != 0 {
		t.Fatalf("count() after purge = %d, want 0", tr.count())
	}
}

func TestPendingRequestCompleteOnlyFiresOnce(t *testing.T) {
	calls := 0
	req := &pendingRequest{done: func(*wire.Message, error) { calls++ }}

	req.complete(nil, nil)
	req.complete(nil, ErrDestroyed)

	if calls != 1 {
		t.Fatalf("done invoked %d times, want 1", calls)
	}
}
