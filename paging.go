package ldap

import (
	"context"
	"sync"

	"github.com/tgerk/node-ldapjs/wire"
)

// Scope mirrors wire.Scope at the public API boundary.
type Scope int

const (
	ScopeBaseObject   Scope = Scope(wire.ScopeBaseObject)
	ScopeSingleLevel  Scope = Scope(wire.ScopeSingleLevel)
	ScopeWholeSubtree Scope = Scope(wire.ScopeWholeSubtree)
)

// DerefAliases mirrors wire.DerefAliases at the public API boundary.
type DerefAliases int

const (
	NeverDerefAliases   DerefAliases = DerefAliases(wire.NeverDerefAliases)
	DerefInSearching    DerefAliases = DerefAliases(wire.DerefInSearching)
	DerefFindingBaseObj DerefAliases = DerefAliases(wire.DerefFindingBaseObj)
	DerefAlways         DerefAliases = DerefAliases(wire.DerefAlways)
)

// SearchRequest describes one search. Filter is a pre-encoded BER
// filter expression; building an RFC 4515 filter string into BER is
// out of scope for this package.
type SearchRequest struct {
	BaseDN       string
	Scope        Scope
	DerefAliases DerefAliases
	SizeLimit    int
	TimeLimit    int
	TypesOnly    bool
	Filter       []byte
	Attributes   []string
}

// PagedControl requests the server-side simple paged results control
// (RFC 2696) for a Search call. PagePause, when true, makes the
// stream surface a Page event after every page that the server marks
// as having a successor (a non-empty cookie) and wait for Resume
// before requesting the next one; the last page emits no Page event,
// only End. When false, pages are requested back to back with no
// consumer involvement and no Page events.
type PagedControl struct {
	PageSize  int
	PagePause bool
}

func entryFromWire(e wire.Entry) *SearchEntry {
	attrs := make(map[string][]string, len(e.Attributes))
	for _, a := range e.Attributes {
		vals := make([]string, 0, len(a.Values))
		for _, v := range a.Values {
			vals = append(vals, string(v))
		}
		attrs[a.Type] = vals
	}
	return &SearchEntry{DN: e.DN, Attributes: attrs}
}

func pagedRequestControl(pageSize int, cookie []byte) Control {
	wc := wire.EncodePagedResultsControl(wire.PagedResultsControl{Size: pageSize, Cookie: cookie})
	return Control{Type: wc.Type, Criticality: wc.Criticality, Value: wc.Value}
}

// cookieFrom scans a SearchResultDone's controls for the paged results
// control and returns its cookie, or nil if absent or empty.
func cookieFrom(controls []wire.Control) []byte {
	for _, ctrl := range controls {
		if ctrl.Type != wire.OIDPagedResults {
			continue
		}
		prc, err := wire.DecodePagedResultsControl(ctrl.Value)
		if err != nil {
			return nil
		}
		return prc.Cookie
	}
	return nil
}

// Search issues a SearchRequest and returns a SearchResultStream that
// the caller drains either by pushing a SearchResultHandler to
// Subscribe or by pulling with Next/ToArray. When paged is non-nil,
// the paged search driver takes over page continuation automatically.
func (c *Client) Search(ctx context.Context, req SearchRequest, paged *PagedControl, controls ...Control) (*SearchResultStream, error) {
	if err := c.validateDN(req.BaseDN); err != nil {
		return nil, err
	}

	stream := newSearchResultStream()

	var mu sync.Mutex
	var currentID int32
	var haveID bool

	doneCh := make(chan struct{})
	var finishOnce sync.Once
	finish := func() { finishOnce.Do(func() { close(doneCh) }) }

	var send func(cookie []byte, continuation bool)
	send = func(cookie []byte, continuation bool) {
		ctrls := append([]Control{}, controls...)
		if paged != nil {
			ctrls = append(ctrls, pagedRequestControl(paged.PageSize, cookie))
		}

		pending := &pendingRequest{kind: pendingStreaming, stream: stream, continuation: continuation}
		pending.onMessage = func(msg *wire.Message) {
			c.handleSearchMessage(msg, stream, paged, send, finish)
		}

		op := wire.SearchRequest{
			BaseDN:       req.BaseDN,
			Scope:        wire.Scope(req.Scope),
			DerefAliases: wire.DerefAliases(req.DerefAliases),
			SizeLimit:    req.SizeLimit,
			TimeLimit:    req.TimeLimit,
			TypesOnly:    req.TypesOnly,
			Filter:       req.Filter,
			Attributes:   req.Attributes,
		}

		c.send(func(id int32) (*wire.Message, error) {
			mu.Lock()
			currentID, haveID = id, true
			mu.Unlock()
			return &wire.Message{ID: id, Op: op, Controls: asControls(ctrls)}, nil
		}, pending)
	}

	go func() {
		select {
		case <-ctx.Done():
			mu.Lock()
			id, ok := currentID, haveID
			mu.Unlock()
			if ok {
				c.abandonServerSide(id)
			}
			stream.emitError(ctx.Err())
			finish()
		case <-doneCh:
		}
	}()

	send(nil, false)
	return stream, nil
}

// handleSearchMessage is the onMessage callback shared by every
// request a paged or unpaged search sends. Non-terminal responses
// feed the stream directly; a terminal SearchResultDone either ends
// the stream or, for a paged search with a non-empty echoed cookie,
// drives the next page per PagedControl.PagePause. finish is called
// exactly once, whenever the stream reaches a terminal state, so the
// context-cancellation watcher in Search can stop waiting.
func (c *Client) handleSearchMessage(msg *wire.Message, stream *SearchResultStream, paged *PagedControl, resend func(cookie []byte, continuation bool), finish func()) {
	switch op := msg.Op.(type) {
	case wire.SearchResultEntry:
		stream.emitEntry(entryFromWire(op.Entry))
	case wire.SearchResultReference:
		stream.emitReference(&SearchReference{URIs: op.URIs})
	case wire.SearchResultDone:
		result := &SearchResult{ResultCode: ResultCode(op.ResultCode), Message: op.DiagnosticMessage}
		cookie := cookieFrom(msg.Controls)

		if paged != nil && result.ResultCode == ResultSuccess && len(cookie) > 0 {
			if paged.PagePause {
				stream.emitPage(result, func(stop bool) {
					if stop {
						stream.emitEnd(result)
						finish()
						return
					}
					resend(cookie, true)
				})
				return
			}
			resend(cookie, true)
			return
		}

		if result.ResultCode != ResultSuccess {
			stream.emitError(newResultError(result.ResultCode, ""))
			finish()
			return
		}
		stream.emitEnd(result)
		finish()
	}
}
