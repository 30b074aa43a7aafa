package ldap

import (
	"context"
	"time"

	"github.com/tgerk/node-ldapjs/dn"
	"github.com/tgerk/node-ldapjs/wire"
)

// Result is the outcome of a simple (non-search) LDAP operation.
type Result struct {
	ResultCode        ResultCode
	MatchedDN         string
	DiagnosticMessage string
}

func resultFrom(r wire.LDAPResult) *Result {
	return &Result{
		ResultCode:        ResultCode(r.ResultCode),
		MatchedDN:         r.MatchedDN,
		DiagnosticMessage: r.DiagnosticMessage,
	}
}

func (c *Client) validateDN(value string) error {
	if !c.opts.StrictDN {
		return nil
	}
	return dn.Validate(value)
}

// failRequest resolves req with err. A streaming request has no done
// callback to invoke; its failure is routed to the stream instead, as
// a page error if req is a later page of an already-started paged
// search, or a whole-stream error otherwise.
func failRequest(req *pendingRequest, err error) {
	if req.stream != nil {
		if req.continuation {
			req.stream.emitPageError(err)
		} else {
			req.stream.emitError(err)
		}
		return
	}
	req.complete(nil, err)
}

// send is the common routing step for every operation: if the client
// is destroyed, fail immediately; if a socket is available (connected, or
// connecting with the setup-phase socket already installed), send now;
// otherwise try to enqueue, triggering connect() when reconnect is
// configured. encode builds the wire bytes once a message ID has been
// assigned.
func (c *Client) send(encode func(id int32) (*wire.Message, error), req *pendingRequest) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		failRequest(req, ErrDestroyed)
		return
	}

	if c.conn != nil && c.tracker != nil {
		id := c.tracker.track(req)
		conn := c.conn
		c.mu.Unlock()
		c.writeNow(conn, id, encode, req)
		return
	}

	entry := queueEntry{req: req, encode: func(id int32) ([]byte, error) {
		msg, err := encode(id)
		if err != nil {
			return nil, err
		}
		packet, err := wire.EncodeMessage(id, msg.Op, msg.Controls)
		if err != nil {
			return nil, err
		}
		return packet.Bytes(), nil
	}}
	ok := c.queue.enqueue(entry)
	reconnectConfigured := c.opts.Reconnect != nil
	c.mu.Unlock()

	if !ok {
		failRequest(req, ErrQueueUnavailable)
		return
	}
	if reconnectConfigured {
		go func() { _ = c.Connect(context.Background()) }()
	}
}

func (c *Client) writeNow(conn netWriter, id int32, encode func(id int32) (*wire.Message, error), req *pendingRequest) {
	msg, err := encode(id)
	if err != nil {
		c.mu.Lock()
		if c.tracker != nil {
			c.tracker.remove(id)
		}
		c.mu.Unlock()
		failRequest(req, newProtocolError("failed to build request", err))
		return
	}
	packet, err := wire.EncodeMessage(id, msg.Op, msg.Controls)
	if err != nil {
		c.mu.Lock()
		if c.tracker != nil {
			c.tracker.remove(id)
		}
		c.mu.Unlock()
		failRequest(req, newProtocolError("failed to encode request", err))
		return
	}
	if _, err := conn.Write(packet.Bytes()); err != nil {
		go c.handleClose(err)
		return
	}
	if req.kind == pendingStreaming && req.stream != nil {
		req.stream.emitSearchRequest()
	}
}

// netWriter is the minimal surface writeNow needs; satisfied by
// net.Conn. Kept narrow so tests can fake it without a real socket.
type netWriter interface {
	Write([]byte) (int, error)
}

// sendQueued actually transmits a request that was buffered while
// disconnected, now that the connection is ready. Used by flushQueue.
func (c *Client) sendQueued(entry queueEntry) {
	c.mu.Lock()
	if c.conn == nil || c.tracker == nil {
		c.mu.Unlock()
		failRequest(entry.req, newConnectionError("connection not ready", nil))
		return
	}
	id := c.tracker.track(entry.req)
	conn := c.conn
	c.mu.Unlock()

	data, err := entry.encode(id)
	if err != nil {
		c.mu.Lock()
		if c.tracker != nil {
			c.tracker.remove(id)
		}
		c.mu.Unlock()
		failRequest(entry.req, newProtocolError("failed to encode queued request", err))
		return
	}
	if _, err := conn.Write(data); err != nil {
		go c.handleClose(err)
		return
	}
	if entry.req.kind == pendingStreaming && entry.req.stream != nil {
		entry.req.stream.emitSearchRequest()
	}
}

// dispatchSync sends op and blocks until its terminal response (or a
// connection error, timeout, or context cancellation) arrives. It
// implements the "expect" checking shared by every simple operation.
func (c *Client) dispatchSync(ctx context.Context, op wire.ProtocolOp, controls []wire.Control, expect []ResultCode) (*Result, error) {
	type outcome struct {
		msg *wire.Message
		err error
	}
	ch := make(chan outcome, 1)

	req := &pendingRequest{kind: pendingTerminal, expect: expect}
	req.done = func(msg *wire.Message, err error) { ch <- outcome{msg, err} }

	c.send(func(id int32) (*wire.Message, error) { return &wire.Message{ID: id, Op: op, Controls: controls}, nil }, req)

	var timeoutCh <-chan time.Time
	if c.opts.Timeout > 0 {
		timer := time.NewTimer(c.opts.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case out := <-ch:
		if out.err != nil {
			return nil, out.err
		}
		lr, ok := extractLDAPResult(out.msg.Op)
		if !ok {
			return nil, newProtocolError("unexpected response PDU", nil)
		}
		res := resultFrom(lr)
		if !resultAllowed(res.ResultCode, expect) {
			return res, newResultError(res.ResultCode, "")
		}
		return res, nil
	case <-timeoutCh:
		c.timeoutRequest(req)
		return nil, newTimeoutError("request timed out")
	case <-ctx.Done():
		c.timeoutRequest(req)
		return nil, ctx.Err()
	}
}

// timeoutRequest synthesizes a local TimeoutError for req and, if it
// was already assigned a server-side message ID, abandons that id.
func (c *Client) timeoutRequest(req *pendingRequest) {
	req.complete(nil, newTimeoutError("request timed out"))
	c.mu.Lock()
	id, ok := int32(0), false
	if c.tracker != nil {
		for candidate, pending := range c.tracker.pending {
			if pending == req {
				id, ok = candidate, true
				break
			}
		}
	}
	c.mu.Unlock()
	if ok {
		c.abandonServerSide(id)
	}
}

func extractLDAPResult(op wire.ProtocolOp) (wire.LDAPResult, bool) {
	switch v := op.(type) {
	case wire.BindResponse:
		return v.LDAPResult, true
	case wire.AddResponse:
		return v.LDAPResult, true
	case wire.DelResponse:
		return v.LDAPResult, true
	case wire.ModifyResponse:
		return v.LDAPResult, true
	case wire.ModifyDNResponse:
		return v.LDAPResult, true
	case wire.CompareResponse:
		return v.LDAPResult, true
	case wire.ExtendedResponse:
		return v.LDAPResult, true
	case wire.SearchResultDone:
		return v.LDAPResult, true
	default:
		return wire.LDAPResult{}, false
	}
}

func resultAllowed(code ResultCode, expect []ResultCode) bool {
	if len(expect) == 0 {
		return code.success()
	}
	for _, e := range expect {
		if e == code {
			return true
		}
	}
	return false
}

func asControls(in []Control) []wire.Control {
	out := make([]wire.Control, 0, len(in))
	for _, c := range in {
		out = append(out, wire.Control{Type: c.Type, Criticality: c.Criticality, Value: c.Value})
	}
	return out
}

// Control mirrors wire.Control at the public API boundary so callers
// never need to import the wire package.
type Control struct {
	Type        string
	Criticality bool
	Value       []byte
}

// --- Public operations ---

// Bind performs a simple bind.
func (c *Client) Bind(ctx context.Context, bindDN, password string, controls ...Control) (*Result, error) {
	if err := c.validateDN(bindDN); err != nil {
		return nil, err
	}
	op := wire.BindRequest{Version: 3, Name: bindDN, Password: []byte(password)}
	return c.dispatchSync(ctx, op, asControls(controls), []ResultCode{ResultSuccess})
}

// Attribute is a name plus its values, for Add and Modify.
type Attribute struct {
	Type   string
	Values []string
}

func toWireAttributes(attrs []Attribute) []wire.Attribute {
	out := make([]wire.Attribute, 0, len(attrs))
	for _, a := range attrs {
		vals := make([][]byte, 0, len(a.Values))
		for _, v := range a.Values {
			vals = append(vals, []byte(v))
		}
		out = append(out, wire.Attribute{Type: a.Type, Values: vals})
	}
	return out
}

// Add creates a new entry.
func (c *Client) Add(ctx context.Context, entryDN string, attrs []Attribute, controls ...Control) (*Result, error) {
	if err := c.validateDN(entryDN); err != nil {
		return nil, err
	}
	op := wire.AddRequest{DN: entryDN, Attributes: toWireAttributes(attrs)}
	return c.dispatchSync(ctx, op, asControls(controls), []ResultCode{ResultSuccess})
}

// Compare checks whether attr has the given value on entryDN.
// Compared values may legitimately be "false"; only a genuine error or
// any result code other than compareTrue/compareFalse is returned as
// err.
func (c *Client) Compare(ctx context.Context, entryDN, attr, value string, controls ...Control) (matched bool, res *Result, err error) {
	if err := c.validateDN(entryDN); err != nil {
		return false, nil, err
	}
	op := wire.CompareRequest{DN: entryDN, Type: attr, Value: []byte(value)}
	res, err = c.dispatchSync(ctx, op, asControls(controls), []ResultCode{ResultCompareTrue, ResultCompareFalse})
	if err != nil {
		return false, res, err
	}
	return res.ResultCode == ResultCompareTrue, res, nil
}

// Delete removes an entry.
func (c *Client) Delete(ctx context.Context, entryDN string, controls ...Control) (*Result, error) {
	if err := c.validateDN(entryDN); err != nil {
		return nil, err
	}
	op := wire.DelRequest{DN: entryDN}
	return c.dispatchSync(ctx, op, asControls(controls), []ResultCode{ResultSuccess})
}

// Modify applies a set of changes to an entry.
func (c *Client) Modify(ctx context.Context, entryDN string, changes []Change, controls ...Control) (*Result, error) {
	if err := c.validateDN(entryDN); err != nil {
		return nil, err
	}
	wireChanges := make([]wire.Change, 0, len(changes))
	for _, ch := range changes {
		vals := make([][]byte, 0, len(ch.Attribute.Values))
		for _, v := range ch.Attribute.Values {
			vals = append(vals, []byte(v))
		}
		wireChanges = append(wireChanges, wire.Change{
			Operation: wire.ModifyOp(ch.Operation),
			Attribute: wire.Attribute{Type: ch.Attribute.Type, Values: vals},
		})
	}
	op := wire.ModifyRequest{DN: entryDN, Changes: wireChanges}
	return c.dispatchSync(ctx, op, asControls(controls), []ResultCode{ResultSuccess})
}

// ModifyOperation mirrors wire.ModifyOp at the public boundary.
type ModifyOperation int

const (
	ModifyAdd     ModifyOperation = ModifyOperation(wire.ModifyAdd)
	ModifyDelete  ModifyOperation = ModifyOperation(wire.ModifyDelete)
	ModifyReplace ModifyOperation = ModifyOperation(wire.ModifyReplace)
)

// Change is one item of a Modify request.
type Change struct {
	Operation ModifyOperation
	Attribute Attribute
}

// ModifyDN renames or moves an entry. deleteOldRDN is always true
// (see DESIGN.md); "keep old RDN" is not supported.
func (c *Client) ModifyDN(ctx context.Context, entryDN, newDN string, controls ...Control) (*Result, error) {
	if err := c.validateDN(entryDN); err != nil {
		return nil, err
	}
	newRDN, newSuperior := dn.SplitRDN(newDN)
	op := wire.ModifyDNRequest{DN: entryDN, NewRDN: newRDN, DeleteOldRDN: true, NewSuperior: newSuperior}
	return c.dispatchSync(ctx, op, asControls(controls), []ResultCode{ResultSuccess})
}

// ExtendedOperation sends an extended request and returns the
// server's response value (empty if none).
func (c *Client) ExtendedOperation(ctx context.Context, oid string, value []byte, controls ...Control) (responseValue []byte, res *Result, err error) {
	op := wire.ExtendedRequest{Name: oid, Value: value}
	type outcome struct {
		msg *wire.Message
		err error
	}
	ch := make(chan outcome, 1)
	req := &pendingRequest{kind: pendingTerminal, expect: []ResultCode{ResultSuccess}}
	req.done = func(msg *wire.Message, err error) { ch <- outcome{msg, err} }
	c.send(func(id int32) (*wire.Message, error) {
		return &wire.Message{ID: id, Op: op, Controls: asControls(controls)}, nil
	}, req)

	var timeoutCh <-chan time.Time
	if c.opts.Timeout > 0 {
		timer := time.NewTimer(c.opts.Timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	select {
	case out := <-ch:
		if out.err != nil {
			return nil, nil, out.err
		}
		ext, ok := out.msg.Op.(wire.ExtendedResponse)
		if !ok {
			return nil, nil, newProtocolError("unexpected response to extended operation", nil)
		}
		res = resultFrom(ext.LDAPResult)
		if res.ResultCode != ResultSuccess {
			return nil, res, newResultError(res.ResultCode, "")
		}
		return ext.Value, res, nil
	case <-timeoutCh:
		c.timeoutRequest(req)
		return nil, nil, newTimeoutError("request timed out")
	case <-ctx.Done():
		c.timeoutRequest(req)
		return nil, nil, ctx.Err()
	}
}

// Abandon tells the server (and this client) to stop tracking
// messageID: the id is marked abandoned locally so a late response is
// silently discarded, and an AbandonRequest PDU is sent on its own,
// fresh message id (RFC 4511 Section 4.11 defines no response to
// wait for).
func (c *Client) Abandon(ctx context.Context, messageID int32, controls ...Control) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	c.mu.Unlock()
	return c.sendAbandonRequest(messageID, asControls(controls))
}

// sendAbandonRequest marks messageID abandoned in the tracker, so a late
// response is silently discarded, and writes an AbandonRequest PDU for it
// on its own fresh message id. Both Abandon and the internal
// timeout/context-cancellation paths (timeoutRequest, Search's
// cancellation watcher) go through this so the server always actually
// learns about an abandoned request, not just the local tracker.
func (c *Client) sendAbandonRequest(messageID int32, controls []wire.Control) error {
	c.mu.Lock()
	if c.tracker != nil {
		c.tracker.abandon(messageID)
	}
	if c.conn == nil || c.tracker == nil {
		c.mu.Unlock()
		return newConnectionError("not connected", nil)
	}
	id := c.tracker.track(&pendingRequest{kind: pendingAbandonSentinel})
	c.tracker.remove(id)
	conn := c.conn
	c.mu.Unlock()

	packet, err := wire.EncodeMessage(id, wire.AbandonRequest{MessageID: messageID}, controls)
	if err != nil {
		return newProtocolError("failed to encode abandon", err)
	}
	if _, err := conn.Write(packet.Bytes()); err != nil {
		return newConnectionError("failed to send abandon", err)
	}
	return nil
}

// abandonServerSide is the best-effort internal counterpart to Abandon,
// used when a request is given up on locally (per-request timeout, or a
// search's context being cancelled) and the server still needs telling.
// Errors are not actionable here: the caller has already moved on.
func (c *Client) abandonServerSide(id int32) {
	_ = c.sendAbandonRequest(id, nil)
}

// Unbind gracefully closes the connection. If already disconnected it
// resolves immediately without touching the queue.
func (c *Client) Unbind(ctx context.Context, controls ...Control) (*Result, error) {
	c.mu.Lock()
	if !c.connected || c.conn == nil || c.tracker == nil {
		c.mu.Unlock()
		return &Result{ResultCode: ResultSuccess}, nil
	}
	conn := c.conn
	tracker := c.tracker
	c.mu.Unlock()

	req := &pendingRequest{kind: pendingUnbindSentinel}
	done := make(chan error, 1)
	req.done = func(_ *wire.Message, err error) { done <- err }

	c.mu.Lock()
	id := tracker.track(req)
	c.unbindMsgID = id
	c.mu.Unlock()

	packet, err := wire.EncodeMessage(id, wire.UnbindRequest{}, asControls(controls))
	if err != nil {
		return nil, newProtocolError("failed to encode unbind", err)
	}
	if _, err := conn.Write(packet.Bytes()); err != nil {
		return nil, newConnectionError("failed to send unbind", err)
	}
	if tcp, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = tcp.CloseWrite()
	} else {
		_ = conn.Close()
	}

	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
		return &Result{ResultCode: ResultSuccess}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
