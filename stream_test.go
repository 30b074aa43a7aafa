package ldap

import (
	"context"
	"testing"
	"time"
)

func TestSearchResultStreamBuffersBeforeConsumerAttaches(t *testing.T) {
	s := newSearchResultStream()
	s.emitEntry(&SearchEntry{DN: "uid=alice,dc=example,dc=com"})
	s.emitEntry(&SearchEntry{DN: "uid=bob,dc=example,dc=com"})
	s.emitEnd(&SearchResult{ResultCode: ResultSuccess})

	ctx := context.Background()
	entries, err := s.ToArray(ctx)
	if err != nil {
		t.Fatalf("ToArray returned error: %v", err)
	}
	if len(entries) != 2 || entries[0].DN != "uid=alice,dc=example,dc=com" || entries[1].DN != "uid=bob,dc=example,dc=com" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestSearchResultStreamNextReturnsErrorOnEvError(t *testing.T) {
	s := newSearchResultStream()
	s.emitEntry(&SearchEntry{DN: "uid=alice,dc=example,dc=com"})
	s.emitError(newConnectionError("reset", nil))

	ctx := context.Background()
	entry, more, err := s.Next(ctx)
	if err != nil || !more || entry.DN != "uid=alice,dc=example,dc=com" {
		t.Fatalf("first Next() = %v, %v, %v", entry, more, err)
	}

	_, more, err = s.Next(ctx)
	if err == nil || more {
		t.Fatalf("second Next() = more=%v err=%v, want an error and more=false", more, err)
	}
}

func TestSearchResultStreamSubscribeDeliversInOrder(t *testing.T) {
	s := newSearchResultStream()
	s.emitEntry(&SearchEntry{DN: "a"})
	s.emitEntry(&SearchEntry{DN: "b"})
	s.emitEnd(&SearchResult{ResultCode: ResultSuccess})

	var got []string
	done := make(chan struct{})
	s.Subscribe(SearchResultHandler{
		OnEntry: func(e *SearchEntry) { got = append(got, e.DN) },
		OnEnd:   func(*SearchResult) { close(done) },
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Subscribe never reached OnEnd")
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("got = %v, want [a b]", got)
	}
}

func TestSearchResultStreamPageResumeAdvancesToNextPage(t *testing.T) {
	s := newSearchResultStream()
	resumed := false
	s.emitPage(&SearchResult{ResultCode: ResultSuccess}, func(stop bool) { resumed = !stop })
	s.emitEnd(&SearchResult{ResultCode: ResultSuccess})

	var sawPage bool
	done := make(chan struct{})
	s.Subscribe(SearchResultHandler{
		OnPage: func(_ *SearchResult, resume Resume) { sawPage = true; resume(false) },
		OnEnd:  func(*SearchResult) { close(done) },
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Subscribe never reached OnEnd")
	}
	if !sawPage || !resumed {
		t.Fatalf("sawPage=%v resumed=%v, want both true", sawPage, resumed)
	}
}

func TestSearchResultStreamNextRespectsContextCancellation(t *testing.T) {
	s := newSearchResultStream()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, more, err := s.Next(ctx)
	if more {
		t.Fatal("Next() on an already-cancelled context should not report more entries")
	}
	if err == nil {
		t.Fatal("Next() on an already-cancelled context should return an error")
	}
}
