package ldap

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/tgerk/node-ldapjs/wire"
	"golang.org/x/sync/errgroup"
)

// Connect opens a socket to the next URL in round-robin order and
// drives it through the connect -> setup -> ready lifecycle. It is a
// no-op if the client is already connected, already connecting, or
// destroyed.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	if c.connected || c.connecting {
		c.mu.Unlock()
		return nil
	}
	c.connecting = true
	c.mu.Unlock()

	return c.connectLoop(ctx)
}

// connectLoop implements the exponential-backoff retry across
// Options.URLs. The retry budget is urls.count x failAfter, tracked as
// a single total counter reset on a successful ready transition (see
// DESIGN.md for the rationale).
func (c *Client) connectLoop(ctx context.Context) error {
	policy := c.opts.Reconnect
	budget := -1
	if policy != nil && policy.FailAfter > 0 {
		budget = len(c.endpoints) * policy.FailAfter
		if budget == 0 {
			budget = policy.FailAfter
		}
	}

	delay := policy.initialDelay()
	var lastErr error
	var lastKind EventKind = EventError

	for attempt := 0; budget < 0 || attempt < budget; attempt++ {
		c.mu.Lock()
		if c.destroyed {
			c.mu.Unlock()
			return ErrDestroyed
		}
		c.mu.Unlock()

		err, kind := c.dialAndSetup(ctx)
		if err == nil {
			c.mu.Lock()
			c.attemptsTotal = 0
			c.mu.Unlock()
			return nil
		}
		lastErr, lastKind = err, kind
		c.logger.Warn("ldap: connect attempt failed", "attempt", attempt, "err", err)

		if policy == nil {
			break // reconnect disabled: one attempt only
		}

		select {
		case <-ctx.Done():
			c.mu.Lock()
			c.connecting = false
			c.mu.Unlock()
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = delay * 2
		if max := policy.maxDelay(); delay > max {
			delay = max
		}
	}

	c.mu.Lock()
	c.connecting = false
	c.mu.Unlock()
	c.emit(lastKind, lastErr)
	return lastErr
}

// dialAndSetup performs exactly one connect+setup attempt against the
// next round-robin URL.
func (c *Client) dialAndSetup(ctx context.Context) (error, EventKind) {
	c.mu.Lock()
	ep := c.nextEndpointLocked()
	connectTimeout := c.opts.ConnectTimeout
	c.mu.Unlock()

	dialCtx := ctx
	var cancel context.CancelFunc
	if connectTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, connectTimeout)
		defer cancel()
	}

	network := "tcp"
	addr := ep.hostPort()
	if c.opts.SocketPath != "" {
		network, addr = "unix", c.opts.SocketPath
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, network, addr)
	if err != nil {
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			return newConnectionTimeoutError(fmt.Sprintf("connect timeout dialing %s", addr)), EventConnectTimeout
		}
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			return newConnectionError("connect refused", err), EventConnectRefused
		}
		return newConnectionError("dial failed", err), EventError
	}

	if ep.Secure {
		tlsConn := tls.Client(conn, c.opts.TLSConfig)
		if err := tlsConn.HandshakeContext(dialCtx); err != nil {
			conn.Close()
			return newConnectionError("tls handshake failed", err), EventError
		}
		conn = tlsConn
	}

	if err := c.setup(ctx, conn); err != nil {
		conn.Close()
		c.emit(EventSetupError, err)
		return err, EventSetupError
	}

	c.mu.Lock()
	current := c.conn
	c.mu.Unlock()
	c.ready(current)
	return nil, 0
}

func (c *Client) nextEndpointLocked() Endpoint {
	if len(c.endpoints) == 0 {
		return Endpoint{}
	}
	ep := c.endpoints[c.nextIndex]
	c.nextIndex = (c.nextIndex + 1) % len(c.endpoints)
	return ep
}

// setup installs the tracker on the new socket and runs the
// registered setup hooks sequentially (implicit StartTLS, then
// implicit simple bind). Any failure here aborts the connection
// attempt; the caller closes conn.
func (c *Client) setup(ctx context.Context, conn net.Conn) error {
	c.mu.Lock()
	c.conn = conn
	c.tracker = newMessageTracker()
	c.epoch++
	c.mu.Unlock()

	// Start the read loop now: the hooks below (implicit StartTLS,
	// implicit bind) are ordinary requests that need their responses
	// routed back through handleMessage, same as after the connection
	// is marked ready.
	c.startReadLoop(conn)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if c.opts.TLSConfig != nil {
			c.mu.Lock()
			ep := Endpoint{}
			if len(c.endpoints) > 0 {
				ep = c.endpoints[(c.nextIndex-1+len(c.endpoints))%len(c.endpoints)]
			}
			c.mu.Unlock()
			if !ep.Secure {
				if err := c.startTLSLocked(gctx); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if c.opts.BindDN != "" {
		if _, err := c.Bind(ctx, c.opts.BindDN, c.opts.BindCredentials); err != nil {
			return err
		}
	}
	return nil
}

// ready marks the connection established, flushes the queue, and resets
// backoff state. The read loop is already running by this point (setup
// starts it so the setup hooks can see their own
// responses); conn becomes the client's current socket.
func (c *Client) ready(conn net.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.connecting = false
	c.connected = true
	c.attemptsTotal = 0
	c.mu.Unlock()

	c.flushQueue()
	c.emit(EventConnect, nil)
	c.armIdleTimer()
}

// startReadLoop launches the Parser Adapter goroutine for conn: read
// one LDAPMessage at a time and route it to the tracker.
func (c *Client) startReadLoop(conn net.Conn) {
	c.mu.Lock()
	c.stopRead = make(chan struct{})
	stop := c.stopRead
	c.mu.Unlock()

	idleTimeout := c.opts.IdleTimeout
	if idleTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(idleTimeout))
	}

	c.readWG.Add(1)
	go func() {
		defer c.readWG.Done()
		br := bufio.NewReader(conn)
		for {
			msg, err := wire.ReadMessage(br)
			if err != nil {
				select {
				case <-stop:
					return // StartTLS or shutdown intentionally tore this reader down
				default:
				}
				c.handleClose(err)
				return
			}
			if idleTimeout > 0 {
				conn.SetReadDeadline(time.Now().Add(idleTimeout))
			}
			c.handleMessage(msg)
		}
	}()
}

// classifyClose maps a read-loop error onto the distinct close-cause
// events a runtime connection listens for: a clean EOF or a nil cause
// is a graceful end, a timed-out read is a socket timeout, anything
// else is an error.
func classifyClose(cause error) EventKind {
	if cause == nil || errors.Is(cause, io.EOF) {
		return EventEnd
	}
	var netErr net.Error
	if errors.As(cause, &netErr) && netErr.Timeout() {
		return EventSocketTimeout
	}
	return EventError
}

// handleMessage routes one parsed message to its pending request using
// the tracker's fetch/remove semantics.
func (c *Client) handleMessage(msg *wire.Message) {
	c.mu.Lock()
	if c.tracker == nil {
		c.mu.Unlock()
		return
	}
	req, ok := c.tracker.fetch(msg.ID)
	if !ok {
		c.mu.Unlock()
		return // already abandoned, or an unsolicited/unbind-ack message
	}
	terminal := isTerminal(msg.Op)
	if terminal {
		c.tracker.remove(msg.ID)
	}
	c.mu.Unlock()

	if req.onMessage != nil {
		req.onMessage(msg)
	}
	if terminal && req.done != nil {
		req.complete(msg, nil)
	}
	if terminal {
		c.onRequestCompleted()
	}
}

// isTerminal reports whether op is a *Response PDU that ends a request
// (as opposed to an intermediate SearchResultEntry/Reference).
func isTerminal(op wire.ProtocolOp) bool {
	switch op.(type) {
	case wire.SearchResultEntry, wire.SearchResultReference:
		return false
	default:
		return true
	}
}

func (c *Client) onRequestCompleted() {
	c.mu.Lock()
	idle := c.tracker != nil && c.tracker.count() == 0
	timeout := c.opts.IdleTimeout
	c.mu.Unlock()
	if idle && timeout > 0 {
		c.armIdleTimer()
	}
}

func (c *Client) armIdleTimer() {
	if c.opts.IdleTimeout <= 0 {
		return
	}
	c.mu.Lock()
	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	c.idleTimer = time.AfterFunc(c.opts.IdleTimeout, func() {
		c.mu.Lock()
		idle := c.tracker != nil && c.tracker.count() == 0
		c.mu.Unlock()
		if idle {
			c.emit(EventIdle, nil)
		}
	})
	c.mu.Unlock()
}

// handleClose runs the close path: purge the tracker (synthesizing a
// ConnectionError for everyone except an in-flight unbind, which gets
// a synthetic success), emit the cause-specific event (end, socket
// timeout, or error) followed by close, then either re-enter the
// connect loop or stop.
func (c *Client) handleClose(cause error) {
	c.mu.Lock()
	conn := c.conn
	tracker := c.tracker
	unbindID := c.unbindMsgID
	destroyed := c.destroyed
	reconnect := c.opts.Reconnect != nil
	c.conn = nil
	c.tracker = nil
	c.connected = false
	c.connecting = false
	c.unbindMsgID = 0
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if tracker != nil {
		tracker.purge(func(id int32, req *pendingRequest) {
			if id == unbindID && req.kind == pendingUnbindSentinel {
				if req.done != nil {
					req.complete(nil, nil)
				}
				return
			}
			err := newConnectionError("connection closed", cause)
			if req.stream != nil {
				req.stream.emitError(err)
			}
			if req.done != nil {
				req.complete(nil, err)
			}
		})
	}

	switch classifyClose(cause) {
	case EventEnd:
		c.emit(EventEnd, nil)
	case EventSocketTimeout:
		c.emit(EventSocketTimeout, cause)
	default:
		c.emit(EventError, cause)
	}
	c.emit(EventClose, cause)

	wasUnbind := unbindID != 0
	if destroyed || wasUnbind || !reconnect {
		return
	}

	c.mu.Lock()
	c.connecting = true
	c.mu.Unlock()
	go func() { _ = c.connectLoop(context.Background()) }()
}

// flushQueue re-dispatches every buffered request strictly FIFO,
// preserving submission order across the disconnect.
func (c *Client) flushQueue() {
	c.mu.Lock()
	q := c.queue
	c.mu.Unlock()
	q.flush(func(entry queueEntry) {
		c.sendQueued(entry)
	})
}

// Destroy freezes the queue, purges all pending requests with
// ConnectionError, optionally sends a courtesy unbind, closes the
// socket, and disables reconnect. It is idempotent.
func (c *Client) Destroy(ctx context.Context, courtesyUnbind bool) {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	conn := c.conn
	connected := c.connected
	c.queue.freeze()
	c.mu.Unlock()

	if courtesyUnbind && connected {
		_, _ = c.Unbind(ctx)
	}

	c.queue.purge(func(entry queueEntry, err error) {
		if entry.req != nil {
			failRequest(entry.req, err)
		}
	})

	if conn != nil {
		if c.stopRead != nil {
			close(c.stopRead)
		}
		conn.Close()
	}
	c.readWG.Wait()

	c.mu.Lock()
	tracker := c.tracker
	c.tracker = nil
	c.conn = nil
	c.connected = false
	c.mu.Unlock()
	if tracker != nil {
		err := newConnectionError("client destroyed", nil)
		tracker.purge(func(_ int32, req *pendingRequest) {
			if req.stream != nil {
				req.stream.emitError(err)
			}
			if req.done != nil {
				req.complete(nil, err)
			}
		})
	}
	c.emit(EventDestroy, nil)
}
