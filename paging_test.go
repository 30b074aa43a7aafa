package ldap

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/tgerk/node-ldapjs/internal/testserver"
	"github.com/tgerk/node-ldapjs/wire"
)

// pagedSearchServer serves a fixed entry set pageSize at a time, driven
// entirely by the paged results control cookie: an empty cookie starts
// at offset 0, and the cookie it echoes back encodes the next offset as
// decimal digits. requests is incremented once per SearchRequest seen,
// letting tests assert exactly how many round trips paging took.
type pagedSearchServer struct {
	entries  []wire.Entry
	pageSize int

	mu       sync.Mutex
	requests int
}

func (s *pagedSearchServer) handle(req *wire.Message) []*wire.Message {
	sr, ok := req.Op.(wire.SearchRequest)
	if !ok {
		return nil
	}
	s.mu.Lock()
	s.requests++
	s.mu.Unlock()

	offset := 0
	for _, ctrl := range req.Controls {
		if ctrl.Type != wire.OIDPagedResults {
			continue
		}
		prc, err := wire.DecodePagedResultsControl(ctrl.Value)
		if err == nil && len(prc.Cookie) > 0 {
			offset, _ = strconv.Atoi(string(prc.Cookie))
		}
	}

	end := offset + s.pageSize
	if end > len(s.entries) {
		end = len(s.entries)
	}
	page := s.entries[offset:end]

	msgs := make([]*wire.Message, 0, len(page)+1)
	for _, e := range page {
		msgs = append(msgs, &wire.Message{ID: req.ID, Op: wire.SearchResultEntry{Entry: e}})
	}

	var cookie []byte
	if end < len(s.entries) {
		cookie = []byte(strconv.Itoa(end))
	}
	done := &wire.Message{
		ID: req.ID,
		Op: wire.SearchResultDone{LDAPResult: wire.LDAPResult{ResultCode: 0}},
	}
	if len(cookie) > 0 {
		done.Controls = []wire.Control{wire.EncodePagedResultsControl(wire.PagedResultsControl{Cookie: cookie})}
	}
	return append(msgs, done)
}

func fiveTestEntries() []wire.Entry {
	names := []string{"alice", "bob", "carol", "dana", "erin"}
	entries := make([]wire.Entry, len(names))
	for i, n := range names {
		entries[i] = wire.Entry{DN: "uid=" + n + ",dc=example,dc=com"}
	}
	return entries
}

func TestClientSearchPagedControlDrivesMultiplePages(t *testing.T) {
	srv := &pagedSearchServer{entries: fiveTestEntries(), pageSize: 2}
	ts, err := testserver.New(srv.handle)
	if err != nil {
		t.Fatalf("testserver.New: %v", err)
	}
	defer ts.Close()

	c, err := New(Options{URLs: []string{ts.Addr()}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Destroy(ctx, false)

	stream, err := c.Search(ctx, SearchRequest{BaseDN: "dc=example,dc=com", Scope: ScopeWholeSubtree}, &PagedControl{PageSize: 2})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	entries, err := stream.ToArray(ctx)
	if err != nil {
		t.Fatalf("ToArray: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("got %d entries, want 5", len(entries))
	}

	srv.mu.Lock()
	requests := srv.requests
	srv.mu.Unlock()
	if requests != 3 {
		t.Fatalf("server saw %d SearchRequests, want 3 (2+2+1 page split)", requests)
	}
}

func TestClientSearchPagedControlPagePauseWaitsForResume(t *testing.T) {
	srv := &pagedSearchServer{entries: fiveTestEntries(), pageSize: 2}
	ts, err := testserver.New(srv.handle)
	if err != nil {
		t.Fatalf("testserver.New: %v", err)
	}
	defer ts.Close()

	c, err := New(Options{URLs: []string{ts.Addr()}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Destroy(ctx, false)

	stream, err := c.Search(ctx, SearchRequest{BaseDN: "dc=example,dc=com", Scope: ScopeWholeSubtree}, &PagedControl{PageSize: 2, PagePause: true})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	var pages int
	var entries []string
	done := make(chan struct{})
	stream.Subscribe(SearchResultHandler{
		OnEntry: func(e *SearchEntry) { entries = append(entries, e.DN) },
		OnPage: func(_ *SearchResult, resume Resume) {
			pages++
			resume(false)
		},
		OnEnd: func(*SearchResult) { close(done) },
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("paged search with PagePause never reached OnEnd")
	}

	if pages != 2 {
		t.Fatalf("saw %d OnPage callbacks, want 2 (one per completed page before the final terminal page)", pages)
	}
	if len(entries) != 5 {
		t.Fatalf("got %d entries, want 5", len(entries))
	}
}

// TestClientSearchNextTransparentlyAdvancesPagedResults is the
// regression test for Next/ToArray over a PagePause search: without
// auto-resuming page boundaries, an iterator-style consumer has no way
// to invoke the Resume callback and the stream would hang forever.
func TestClientSearchNextTransparentlyAdvancesPagedResults(t *testing.T) {
	srv := &pagedSearchServer{entries: fiveTestEntries(), pageSize: 2}
	ts, err := testserver.New(srv.handle)
	if err != nil {
		t.Fatalf("testserver.New: %v", err)
	}
	defer ts.Close()

	c, err := New(Options{URLs: []string{ts.Addr()}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Destroy(context.Background(), false)

	stream, err := c.Search(ctx, SearchRequest{BaseDN: "dc=example,dc=com", Scope: ScopeWholeSubtree}, &PagedControl{PageSize: 2, PagePause: true})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	entries, err := stream.ToArray(ctx)
	if err != nil {
		t.Fatalf("ToArray: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("got %d entries, want 5", len(entries))
	}
}
