package ldap

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tgerk/node-ldapjs/internal/testserver"
	"github.com/tgerk/node-ldapjs/wire"
)

func TestClientCompareReturnsMatchedTrueAndFalse(t *testing.T) {
	handler := func(req *wire.Message) []*wire.Message {
		cmp, ok := req.Op.(wire.CompareRequest)
		if !ok {
			t.Fatalf("unexpected op %T", req.Op)
		}
		code := int(ResultCompareFalse)
		if string(cmp.Value) == "Alice" {
			code = int(ResultCompareTrue)
		}
		return []*wire.Message{{ID: req.ID, Op: wire.CompareResponse{LDAPResult: wire.LDAPResult{ResultCode: code}}}}
	}
	srv, err := testserver.New(handler)
	if err != nil {
		t.Fatalf("testserver.New: %v", err)
	}
	defer srv.Close()

	c, err := New(Options{URLs: []string{srv.Addr()}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Destroy(ctx, false)

	matched, _, err := c.Compare(ctx, "uid=alice,dc=example,dc=com", "cn", "Alice")
	if err != nil || !matched {
		t.Fatalf("Compare(Alice) = matched=%v err=%v, want true, nil", matched, err)
	}

	matched, _, err = c.Compare(ctx, "uid=alice,dc=example,dc=com", "cn", "Bob")
	if err != nil || matched {
		t.Fatalf("Compare(Bob) = matched=%v err=%v, want false, nil", matched, err)
	}
}

func TestClientDeleteRemovesEntry(t *testing.T) {
	handler := func(req *wire.Message) []*wire.Message {
		if _, ok := req.Op.(wire.DelRequest); !ok {
			t.Fatalf("unexpected op %T", req.Op)
		}
		return []*wire.Message{{ID: req.ID, Op: wire.DelResponse{LDAPResult: wire.LDAPResult{ResultCode: 0}}}}
	}
	srv, err := testserver.New(handler)
	if err != nil {
		t.Fatalf("testserver.New: %v", err)
	}
	defer srv.Close()

	c, err := New(Options{URLs: []string{srv.Addr()}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Destroy(ctx, false)

	if res, err := c.Delete(ctx, "uid=alice,dc=example,dc=com"); err != nil || res.ResultCode != ResultSuccess {
		t.Fatalf("Delete = %+v, %v", res, err)
	}
}

func TestClientModifyDNAlwaysDeletesOldRDN(t *testing.T) {
	var seen wire.ModifyDNRequest
	handler := func(req *wire.Message) []*wire.Message {
		op, ok := req.Op.(wire.ModifyDNRequest)
		if !ok {
			t.Fatalf("unexpected op %T", req.Op)
		}
		seen = op
		return []*wire.Message{{ID: req.ID, Op: wire.ModifyDNResponse{LDAPResult: wire.LDAPResult{ResultCode: 0}}}}
	}
	srv, err := testserver.New(handler)
	if err != nil {
		t.Fatalf("testserver.New: %v", err)
	}
	defer srv.Close()

	c, err := New(Options{URLs: []string{srv.Addr()}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Destroy(ctx, false)

	if _, err := c.ModifyDN(ctx, "uid=alice,dc=example,dc=com", "uid=alicia,dc=example,dc=com"); err != nil {
		t.Fatalf("ModifyDN: %v", err)
	}
	if seen.NewRDN != "uid=alicia" || seen.NewSuperior != "dc=example,dc=com" {
		t.Fatalf("unexpected ModifyDNRequest: %+v", seen)
	}
	if !seen.DeleteOldRDN {
		t.Fatalf("DeleteOldRDN = false, want true always")
	}
}

func TestClientExtendedOperationReturnsValue(t *testing.T) {
	handler := func(req *wire.Message) []*wire.Message {
		ext, ok := req.Op.(wire.ExtendedRequest)
		if !ok {
			t.Fatalf("unexpected op %T", req.Op)
		}
		if ext.Name != "1.2.3.4" {
			t.Fatalf("unexpected extended OID %q", ext.Name)
		}
		return []*wire.Message{{ID: req.ID, Op: wire.ExtendedResponse{
			LDAPResult: wire.LDAPResult{ResultCode: 0},
			Value:      []byte("pong"),
		}}}
	}
	srv, err := testserver.New(handler)
	if err != nil {
		t.Fatalf("testserver.New: %v", err)
	}
	defer srv.Close()

	c, err := New(Options{URLs: []string{srv.Addr()}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Destroy(ctx, false)

	value, res, err := c.ExtendedOperation(ctx, "1.2.3.4", []byte("ping"))
	if err != nil || res.ResultCode != ResultSuccess || string(value) != "pong" {
		t.Fatalf("ExtendedOperation = value=%q res=%+v err=%v", value, res, err)
	}
}

// TestClientAbandonNotifiesServer drives scenario 6's other half: a
// direct Abandon call must reach the server as an AbandonRequest PDU
// naming the abandoned messageID, not just mark it locally.
func TestClientAbandonNotifiesServer(t *testing.T) {
	var mu sync.Mutex
	var abandonedIDs []int32
	searchID := make(chan int32, 1)

	handler := func(req *wire.Message) []*wire.Message {
		switch op := req.Op.(type) {
		case wire.SearchRequest:
			searchID <- req.ID
			return nil // never respond, so the search stays outstanding
		case wire.AbandonRequest:
			mu.Lock()
			abandonedIDs = append(abandonedIDs, op.MessageID)
			mu.Unlock()
			return nil
		default:
			return nil
		}
	}
	srv, err := testserver.New(handler)
	if err != nil {
		t.Fatalf("testserver.New: %v", err)
	}
	defer srv.Close()

	c, err := New(Options{URLs: []string{srv.Addr()}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Destroy(ctx, false)

	if _, err := c.Search(ctx, SearchRequest{BaseDN: "dc=example,dc=com", Scope: ScopeWholeSubtree}, nil); err != nil {
		t.Fatalf("Search: %v", err)
	}

	var id int32
	select {
	case id = <-searchID:
	case <-time.After(2 * time.Second):
		t.Fatal("server never observed the SearchRequest")
	}

	if err := c.Abandon(ctx, id); err != nil {
		t.Fatalf("Abandon: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		got := append([]int32(nil), abandonedIDs...)
		mu.Unlock()
		if len(got) == 1 && got[0] == id {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("server saw AbandonRequest ids %v, want [%d]", got, id)
		}
		time.Sleep(time.Millisecond)
	}
}

// TestClientRequestTimeoutSendsAbandon covers scenario 6: a per-request
// timeout must synthesize a local TimeoutError *and* tell the server to
// stop working on the timed-out request via an AbandonRequest.
func TestClientRequestTimeoutSendsAbandon(t *testing.T) {
	var mu sync.Mutex
	var abandonedIDs []int32
	addID := make(chan int32, 1)

	handler := func(req *wire.Message) []*wire.Message {
		switch op := req.Op.(type) {
		case wire.AddRequest:
			addID <- req.ID
			return nil // simulate a server that never replies
		case wire.AbandonRequest:
			mu.Lock()
			abandonedIDs = append(abandonedIDs, op.MessageID)
			mu.Unlock()
			return nil
		default:
			return nil
		}
	}
	srv, err := testserver.New(handler)
	if err != nil {
		t.Fatalf("testserver.New: %v", err)
	}
	defer srv.Close()

	c, err := New(Options{URLs: []string{srv.Addr()}, Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Destroy(ctx, false)

	_, err = c.Add(ctx, "uid=alice,dc=example,dc=com", []Attribute{{Type: "cn", Values: []string{"Alice"}}})
	if !IsKind(err, KindTimeout) {
		t.Fatalf("Add past its timeout = %v, want a TimeoutError", err)
	}

	var id int32
	select {
	case id = <-addID:
	case <-time.After(2 * time.Second):
		t.Fatal("server never observed the AddRequest")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		got := append([]int32(nil), abandonedIDs...)
		mu.Unlock()
		if len(got) == 1 && got[0] == id {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("server saw AbandonRequest ids %v after request timeout, want [%d]", got, id)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestClientUnbindClosesGracefully(t *testing.T) {
	srv, err := testserver.New(func(req *wire.Message) []*wire.Message { return nil })
	if err != nil {
		t.Fatalf("testserver.New: %v", err)
	}
	defer srv.Close()

	c, err := New(Options{URLs: []string{srv.Addr()}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	res, err := c.Unbind(ctx)
	if err != nil || res.ResultCode != ResultSuccess {
		t.Fatalf("Unbind = %+v, %v", res, err)
	}

	// Unbind is idempotent once already disconnected.
	res, err = c.Unbind(ctx)
	if err != nil || res.ResultCode != ResultSuccess {
		t.Fatalf("second Unbind = %+v, %v", res, err)
	}
}
