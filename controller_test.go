package ldap

import (
	"context"
	"testing"
	"time"

	"github.com/tgerk/node-ldapjs/internal/testserver"
	"github.com/tgerk/node-ldapjs/wire"
)

func echoHandler(t *testing.T) testserver.Handler {
	return func(req *wire.Message) []*wire.Message {
		switch op := req.Op.(type) {
		case wire.BindRequest:
			return []*wire.Message{{ID: req.ID, Op: wire.BindResponse{LDAPResult: wire.LDAPResult{ResultCode: 0}}}}
		case wire.AddRequest:
			return []*wire.Message{{ID: req.ID, Op: wire.AddResponse{LDAPResult: wire.LDAPResult{ResultCode: 0}}}}
		case wire.SearchRequest:
			return testserver.SearchEntries(req.ID, []wire.Entry{
				{DN: "uid=alice,dc=example,dc=com", Attributes: []wire.Attribute{{Type: "cn", Values: [][]byte{[]byte("Alice")}}}},
				{DN: "uid=bob,dc=example,dc=com", Attributes: []wire.Attribute{{Type: "cn", Values: [][]byte{[]byte("Bob")}}}},
			})
		default:
			t.Logf("echoHandler: unhandled op %T", op)
			return nil
		}
	}
}

func TestClientConnectBindSearch(t *testing.T) {
	srv, err := testserver.New(echoHandler(t))
	if err != nil {
		t.Fatalf("testserver.New: %v", err)
	}
	defer srv.Close()

	c, err := New(Options{URLs: []string{srv.Addr()}, ConnectTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Destroy(ctx, true)

	if _, err := c.Bind(ctx, "cn=admin,dc=example,dc=com", "secret"); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	if _, err := c.Add(ctx, "uid=carol,dc=example,dc=com", []Attribute{{Type: "cn", Values: []string{"Carol"}}}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	stream, err := c.Search(ctx, SearchRequest{BaseDN: "dc=example,dc=com", Scope: ScopeWholeSubtree}, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	entries, err := stream.ToArray(ctx)
	if err != nil {
		t.Fatalf("ToArray: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].DN != "uid=alice,dc=example,dc=com" || entries[0].Attributes["cn"][0] != "Alice" {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
}

func TestClientQueuesRequestsWhileDisconnectedAndFlushesOnConnect(t *testing.T) {
	srv, err := testserver.New(echoHandler(t))
	if err != nil {
		t.Fatalf("testserver.New: %v", err)
	}
	defer srv.Close()

	// Reconnect is left unset: with it, send would start connecting on
	// its own, and only the explicit Connect below must dial here.
	c, err := New(Options{
		URLs: []string{srv.Addr()},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	defer c.Destroy(ctx, false)

	result := make(chan error, 1)
	go func() {
		_, err := c.Add(ctx, "uid=dana,dc=example,dc=com", []Attribute{{Type: "cn", Values: []string{"Dana"}}})
		result <- err
	}()

	select {
	case err := <-result:
		t.Fatalf("Add resolved before a connection was ever established: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("queued Add failed once connected: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queued Add never resolved after connect")
	}
}

func TestClientDestroyRejectsFurtherOperations(t *testing.T) {
	srv, err := testserver.New(echoHandler(t))
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
	c.Destroy(ctx, true)

	if _, err := c.Bind(ctx, "cn=admin,dc=example,dc=com", "secret"); err != ErrDestroyed {
		t.Fatalf("Bind after Destroy = %v, want ErrDestroyed", err)
	}

	// Destroy must be idempotent.
	c.Destroy(ctx, true)
}
