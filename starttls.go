package ldap

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/tgerk/node-ldapjs/wire"
)

// StartTLS upgrades an already-open plaintext connection in place,
// driving the same negotiate-then-swap-the-socket sequence setup()
// runs implicitly when Options.TLSConfig is set on a non-ldaps URL.
// Unlike the implicit form, this can be called at any point after
// Connect, letting a caller decide at runtime whether to upgrade an
// ldap:// connection instead of dialing ldaps:// up front. cfg, if
// non-nil, replaces Options.TLSConfig for this and any future
// handshake on the connection.
func (c *Client) StartTLS(ctx context.Context, cfg *tls.Config) error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return ErrDestroyed
	}
	if !c.connected || c.conn == nil {
		c.mu.Unlock()
		return newConnectionError("not connected", nil)
	}
	if _, ok := c.conn.(*tls.Conn); ok {
		c.mu.Unlock()
		return newProtocolError("connection is already using TLS", nil)
	}
	if c.starttls != starttlsNone {
		c.mu.Unlock()
		return newProtocolError("starttls already in progress", nil)
	}
	if cfg != nil {
		c.opts.TLSConfig = cfg
	}
	c.mu.Unlock()

	return c.startTLSLocked(ctx)
}

// startTLSLocked drives the live-socket TLS upgrade: send the
// StartTLS extended request, wait for success, tear down the
// plaintext read loop, perform the TLS handshake over the same
// underlying net.Conn, then bring a read loop back up over the
// encrypted socket. It is called from setup() and StartTLS, with the read loop
// already running on the plaintext socket so the StartTLS response
// itself can be delivered.
func (c *Client) startTLSLocked(ctx context.Context) error {
	c.mu.Lock()
	c.starttls = starttlsStarting
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.starttls = starttlsNone
		c.mu.Unlock()
	}()

	if _, err := c.dispatchSync(ctx, wire.ExtendedRequest{Name: wire.OIDStartTLS}, nil, []ResultCode{ResultSuccess}); err != nil {
		return newConnectionError("starttls request failed", err)
	}

	c.mu.Lock()
	conn := c.conn
	stop := c.stopRead
	c.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	// Wake the read loop out of its blocked Read so it observes stop.
	_ = conn.SetReadDeadline(time.Now())
	c.readWG.Wait()
	_ = conn.SetReadDeadline(time.Time{})

	tlsConn := tls.Client(conn, c.opts.TLSConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return newConnectionError("starttls handshake failed", err)
	}

	c.mu.Lock()
	c.conn = tlsConn
	c.mu.Unlock()

	c.startReadLoop(tlsConn)
	return nil
}
