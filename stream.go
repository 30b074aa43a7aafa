package ldap

import (
	"context"
	"sync"
)

// SearchEntry is one entry returned by a search, attributes already
// decoded from the wire representation.
type SearchEntry struct {
	DN         string
	Attributes map[string][]string
}

// SearchReference is a continuation URI returned in place of an entry.
type SearchReference struct {
	URIs []string
}

// SearchResult is the terminal outcome of a search (or one page of a
// paged search): the LDAP result code plus the server's diagnostic
// message.
type SearchResult struct {
	ResultCode ResultCode
	Message    string
}

// Resume, when non-nil on a Page event, must be called by the consumer
// to let a pagePause=true paged search proceed. Passing stop=true ends
// the search instead of requesting the next page.
type Resume func(stop bool)

// streamEventKind distinguishes the events a SearchResultStream emits.
type streamEventKind int

const (
	evSearchRequest streamEventKind = iota
	evEntry
	evReference
	evPage
	evPageError
	evEnd
	evError
)

type streamEvent struct {
	kind      streamEventKind
	entry     *SearchEntry
	reference *SearchReference
	result    *SearchResult
	resume    Resume
	err       error
}

// SearchResultHandler receives a push-style callback per event; see
// Subscribe.
type SearchResultHandler struct {
	OnSearchRequest func()
	OnEntry         func(*SearchEntry)
	OnReference     func(*SearchReference)
	OnPage          func(result *SearchResult, resume Resume)
	OnPageError     func(error)
	OnEnd           func(*SearchResult)
	OnError         func(error)
}

// SearchResultStream is a corked emitter. Every event produced by the
// paged search driver is appended to an internal unbounded queue;
// nothing is dropped whether or not a consumer has attached yet
// ("corked"). The first call to Next (directly or through ToArray) or
// Subscribe begins draining
// that queue in order ("uncork") — the queue itself is both the cork
// buffer and the steady state transport, so there is no separate
// buffered/flowing mode to switch between; there is simply a queue
// and whether anyone is reading it yet.
type SearchResultStream struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []streamEvent
	ended   bool
	lastErr error
	lastRes *SearchResult

	attached bool // true once Next() or Subscribe() has been called
}

func newSearchResultStream() *SearchResultStream {
	s := &SearchResultStream{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *SearchResultStream) push(ev streamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.queue = append(s.queue, ev)
	if ev.kind == evEnd || ev.kind == evError {
		s.ended = true
	}
	s.cond.Broadcast()
}

func (s *SearchResultStream) emitSearchRequest() { s.push(streamEvent{kind: evSearchRequest}) }
func (s *SearchResultStream) emitEntry(e *SearchEntry) {
	s.push(streamEvent{kind: evEntry, entry: e})
}
func (s *SearchResultStream) emitReference(r *SearchReference) {
	s.push(streamEvent{kind: evReference, reference: r})
}
func (s *SearchResultStream) emitPage(res *SearchResult, resume Resume) {
	s.push(streamEvent{kind: evPage, result: res, resume: resume})
}
func (s *SearchResultStream) emitPageError(err error) { s.push(streamEvent{kind: evPageError, err: err}) }
func (s *SearchResultStream) emitEnd(res *SearchResult) {
	s.push(streamEvent{kind: evEnd, result: res})
}
func (s *SearchResultStream) emitError(err error) { s.push(streamEvent{kind: evError, err: err}) }

// Subscribe attaches a push-style handler and drains every buffered
// and future event to it, in order, on its own goroutine. It is an
// error to call Subscribe more than once, or together with Next, on
// the same stream.
func (s *SearchResultStream) Subscribe(h SearchResultHandler) {
	s.mu.Lock()
	s.attached = true
	s.mu.Unlock()

	go func() {
		for {
			ev, ok := s.next(context.Background())
			if !ok {
				return
			}
			switch ev.kind {
			case evSearchRequest:
				if h.OnSearchRequest != nil {
					h.OnSearchRequest()
				}
			case evEntry:
				if h.OnEntry != nil {
					h.OnEntry(ev.entry)
				}
			case evReference:
				if h.OnReference != nil {
					h.OnReference(ev.reference)
				}
			case evPage:
				if h.OnPage != nil {
					h.OnPage(ev.result, ev.resume)
				}
			case evPageError:
				if h.OnPageError != nil {
					h.OnPageError(ev.err)
				}
			case evEnd:
				if h.OnEnd != nil {
					h.OnEnd(ev.result)
				}
				return
			case evError:
				if h.OnError != nil {
					h.OnError(ev.err)
				}
				return
			}
		}
	}()
}

// next pops the oldest unread event, blocking until one is available or
// ctx is done. ok is false only when ctx expired.
func (s *SearchResultStream) next(ctx context.Context) (streamEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.queue) == 0 {
		if ctx.Err() != nil {
			return streamEvent{}, false
		}
		// sync.Cond has no context-aware wait; a done channel watcher
		// broadcasts to unstick Wait when the context is cancelled.
		done := make(chan struct{})
		stop := context.AfterFunc(ctx, func() {
			s.cond.Broadcast()
			close(done)
		})
		s.cond.Wait()
		stop()
		select {
		case <-done:
		default:
		}
	}
	ev := s.queue[0]
	s.queue = s.queue[1:]
	return ev, true
}

// Next implements the pull/iterator side of consumption: it returns
// the next SearchEntry, skipping references, until the stream ends or
// errors. A pagePause=true search has no push-style consumer to hand
// its Resume callback to here, so Next resumes each page itself as it
// passes through — paging stays entirely transparent to an
// iterator-style caller, who just sees one continuous run of entries.
func (s *SearchResultStream) Next(ctx context.Context) (*SearchEntry, bool, error) {
	s.mu.Lock()
	s.attached = true
	s.mu.Unlock()

	for {
		ev, ok := s.next(ctx)
		if !ok {
			return nil, false, ctx.Err()
		}
		switch ev.kind {
		case evEntry:
			return ev.entry, true, nil
		case evPage:
			if ev.resume != nil {
				ev.resume(false)
			}
			continue
		case evEnd:
			return nil, false, nil
		case evError:
			return nil, false, ev.err
		case evPageError:
			return nil, false, ev.err
		default:
			continue // searchRequest/reference: iterator only surfaces entries and terminal states
		}
	}
}

// ToArray drains the stream into a slice, a toArray() convenience for
// callers that don't need streaming delivery.
func (s *SearchResultStream) ToArray(ctx context.Context) ([]*SearchEntry, error) {
	var out []*SearchEntry
	for {
		entry, more, err := s.Next(ctx)
		if err != nil {
			return out, err
		}
		if !more {
			return out, nil
		}
		out = append(out, entry)
	}
}
