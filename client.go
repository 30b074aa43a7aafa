package ldap

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Endpoint is one parsed, immutable server URL a Client may connect to.
type Endpoint struct {
	Scheme string // "ldap" or "ldaps"
	Host   string
	Port   string
	Secure bool
}

func (e Endpoint) hostPort() string { return e.Host + ":" + e.Port }

// ReconnectPolicy controls the connection controller's exponential
// backoff. A nil *ReconnectPolicy on Options disables reconnect
// entirely (equivalent to reconnect:false).
type ReconnectPolicy struct {
	InitialDelay time.Duration // default 100ms
	MaxDelay     time.Duration // default 10s
	FailAfter    int           // attempts per URL before giving up (total budget len(URLs) x FailAfter; FailAfter alone with SocketPath); <=0 means unlimited
}

func (p *ReconnectPolicy) initialDelay() time.Duration {
	if p == nil || p.InitialDelay <= 0 {
		return 100 * time.Millisecond
	}
	return p.InitialDelay
}

func (p *ReconnectPolicy) maxDelay() time.Duration {
	if p == nil || p.MaxDelay <= 0 {
		return 10 * time.Second
	}
	return p.MaxDelay
}

// Options configures a Client. Unlike the application-level config in
// cmd/ldap-sync, this is a plain struct that callers fill in
// directly, not something loaded from YAML — config
// file parsing is an application concern.
type Options struct {
	URLs       []string
	SocketPath string

	TLSConfig *tls.Config // triggers implicit StartTLS during setup when set on a non-ldaps URL

	Timeout        time.Duration // per-request timeout; 0 = none
	ConnectTimeout time.Duration // socket connect timeout; 0 = none
	IdleTimeout    time.Duration // 0 = none

	Reconnect *ReconnectPolicy // nil = reconnect disabled

	StrictDNSet bool // true when StrictDN was set explicitly; when false, New uses StrictDN = true
	StrictDN    bool // default true; parse/validate DNs passed to operations

	QueueSize    int // 0 = unbounded
	QueueDisable bool

	BindDN          string
	BindCredentials string

	Logger *slog.Logger // nil = discard (see discardHandler)
}

// EventKind enumerates the client lifecycle events a Client can emit.
type EventKind int

const (
	EventConnect EventKind = iota
	EventConnectError
	EventConnectTimeout
	EventConnectRefused
	EventSetupError
	EventError
	EventResultError
	EventTimeout
	EventSocketTimeout
	EventIdle
	EventEnd
	EventClose
	EventDestroy
)

func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventConnectError:
		return "connectError"
	case EventConnectTimeout:
		return "connectTimeout"
	case EventConnectRefused:
		return "connectRefused"
	case EventSetupError:
		return "setupError"
	case EventError:
		return "error"
	case EventResultError:
		return "resultError"
	case EventTimeout:
		return "timeout"
	case EventSocketTimeout:
		return "socketTimeout"
	case EventIdle:
		return "idle"
	case EventEnd:
		return "end"
	case EventClose:
		return "close"
	case EventDestroy:
		return "destroy"
	default:
		return "unknown"
	}
}

// Event is delivered to an EventHandler registered with OnEvent.
type Event struct {
	Kind EventKind
	Err  error
}

// EventHandler substitutes for an EventEmitter-style subscription
// surface; Go has no built-in equivalent.
type EventHandler func(Event)

// Client is the LDAPv3 connection and request lifecycle engine
// described by this module: one socket (or queue, while disconnected),
// one message tracker per connection epoch, exponential-backoff
// reconnect and round-robin failover across Options.URLs.
type Client struct {
	mu sync.Mutex

	opts      Options
	endpoints []Endpoint
	nextIndex int

	conn    net.Conn
	tracker *messageTracker
	queue   *requestQueue

	connecting    bool
	connected     bool
	destroyed     bool
	starttls      starttlsPhase
	unbindMsgID   int32 // 0 = none outstanding
	epoch         uint64
	idleTimer     *time.Timer
	backoffDelay  time.Duration
	attemptsTotal int

	stopRead chan struct{}
	readWG   sync.WaitGroup

	eventHandler EventHandler
	logger       *slog.Logger
}

type starttlsPhase int

const (
	starttlsNone starttlsPhase = iota
	starttlsStarting
)

// New constructs a Client from opts and applies defaults.
// It does not connect; call Connect (or issue any operation, which
// triggers connect when Reconnect is configured) to establish the
// socket.
func New(opts Options) (*Client, error) {
	if opts.SocketPath == "" && len(opts.URLs) == 0 {
		return nil, fmt.Errorf("ldap: New: either URLs or SocketPath is required")
	}
	if !opts.StrictDNSet {
		opts.StrictDN = true
	}

	endpoints := make([]Endpoint, 0, len(opts.URLs))
	for _, raw := range opts.URLs {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("ldap: New: invalid URL %q: %w", raw, err)
		}
		secure := u.Scheme == "ldaps"
		if u.Scheme != "ldap" && u.Scheme != "ldaps" {
			return nil, fmt.Errorf("ldap: New: unsupported scheme %q in %q", u.Scheme, raw)
		}
		port := u.Port()
		if port == "" {
			if secure {
				port = "636"
			} else {
				port = "389"
			}
		}
		endpoints = append(endpoints, Endpoint{Scheme: u.Scheme, Host: u.Hostname(), Port: port, Secure: secure})
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(discardHandler{})
	}

	c := &Client{
		opts:      opts,
		endpoints: endpoints,
		queue:     newRequestQueue(opts.QueueSize),
		logger:    logger,
	}
	if opts.QueueDisable {
		c.queue.freeze()
	}
	return c, nil
}

// OnEvent registers the single event sink for this client. It is not
// safe to call concurrently with Client operations.
func (c *Client) OnEvent(h EventHandler) { c.eventHandler = h }

func (c *Client) emit(kind EventKind, err error) {
	if c.eventHandler != nil {
		c.eventHandler(Event{Kind: kind, Err: err})
	}
}

// operationSpanID returns a fresh correlation id for one operation's
// log lines.
func operationSpanID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// discardHandler is a slog.Handler that drops everything; used when
// Options.Logger is nil so the core never forces a caller to configure
// logging.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs(_ []slog.Attr) slog.Handler    { return d }
func (d discardHandler) WithGroup(_ string) slog.Handler         { return d }
