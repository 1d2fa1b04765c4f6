// Package relay wraps the Nostr relay pool: key handling, best-effort
// queries across relays, and at-most-once publishing.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"

	"github.com/Hitchwiki/nostrhitch/pkg/logx"
)

// Conn is the subset of *nostr.Relay the client needs. Tests substitute
// fakes through the Dial hook.
type Conn interface {
	Publish(ctx context.Context, ev nostr.Event) error
	QuerySync(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error)
	Close() error
}

// DialFunc opens a connection to one relay.
type DialFunc func(ctx context.Context, url string) (Conn, error)

func dialNostr(ctx context.Context, url string) (Conn, error) {
	return nostr.RelayConnect(ctx, url)
}

type conn struct {
	url string
	c   Conn
}

// Client talks to a fixed set of relays with a single identity.
type Client struct {
	sk   string // hex private key
	pk   string // hex public key
	urls []string
	dial DialFunc
	log  logx.Logger

	mu    sync.Mutex
	conns []conn

	closeOnce sync.Once

	// opTimeout bounds each per-relay query or publish.
	opTimeout time.Duration
}

type Option func(*Client)

// WithDial overrides how relay connections are opened.
func WithDial(d DialFunc) Option { return func(c *Client) { c.dial = d } }

// WithOpTimeout bounds each per-relay operation.
func WithOpTimeout(d time.Duration) Option { return func(c *Client) { c.opTimeout = d } }

// New derives the keypair from an nsec and prepares a client for urls.
// No connections are opened until Connect.
func New(nsec string, urls []string, log logx.Logger, opts ...Option) (*Client, error) {
	prefix, value, err := nip19.Decode(nsec)
	if err != nil {
		return nil, fmt.Errorf("decode nsec: %w", err)
	}
	if prefix != "nsec" {
		return nil, fmt.Errorf("decode nsec: got %q key, want nsec", prefix)
	}
	sk, ok := value.(string)
	if !ok {
		return nil, errors.New("decode nsec: unexpected payload type")
	}
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nil, fmt.Errorf("derive pubkey: %w", err)
	}

	c := &Client{
		sk:        sk,
		pk:        pk,
		urls:      append([]string(nil), urls...),
		dial:      dialNostr,
		log:       log,
		opTimeout: 15 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// PublicKey returns the hex public key derived from the configured nsec.
func (c *Client) PublicKey() string { return c.pk }

// Connect dials every configured relay. Individual failures are logged and
// skipped; an error is returned only when no relay could be reached.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, url := range c.urls {
		rc, err := c.dial(ctx, url)
		if err != nil {
			c.log.Warn("relay connect failed", logx.String("relay", url), logx.Err(err))
			continue
		}
		c.conns = append(c.conns, conn{url: url, c: rc})
		c.log.Debug("relay connected", logx.String("relay", url))
	}
	if len(c.conns) == 0 {
		return fmt.Errorf("no relays reachable (tried %d)", len(c.urls))
	}
	c.log.Info("relay pool ready",
		logx.Int("connected", len(c.conns)),
		logx.Int("configured", len(c.urls)),
	)
	return nil
}

func (c *Client) snapshot() []conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]conn(nil), c.conns...)
}

// Query runs the filter on every connected relay and merges the results.
// Relay errors are logged, not returned; partial data beats no data here.
func (c *Client) Query(ctx context.Context, filter nostr.Filter) []*nostr.Event {
	var all []*nostr.Event
	for _, cn := range c.snapshot() {
		qctx, cancel := context.WithTimeout(ctx, c.opTimeout)
		events, err := cn.c.QuerySync(qctx, filter)
		cancel()
		if err != nil {
			c.log.Warn("relay query failed", logx.String("relay", cn.url), logx.Err(err))
			continue
		}
		c.log.Debug("relay query done",
			logx.String("relay", cn.url),
			logx.Int("events", len(events)),
		)
		all = append(all, events...)
	}
	return all
}

// Publish signs ev and sends it to every connected relay. It succeeds as
// soon as one relay accepts; the note is on the network at that point.
func (c *Client) Publish(ctx context.Context, ev *nostr.Event) error {
	if err := ev.Sign(c.sk); err != nil {
		return fmt.Errorf("sign event: %w", err)
	}

	conns := c.snapshot()
	if len(conns) == 0 {
		return errors.New("no connected relays")
	}

	acks := 0
	var lastErr error
	for _, cn := range conns {
		pctx, cancel := context.WithTimeout(ctx, c.opTimeout)
		err := cn.c.Publish(pctx, *ev)
		cancel()
		if err != nil {
			lastErr = err
			c.log.Warn("relay publish failed", logx.String("relay", cn.url), logx.Err(err))
			continue
		}
		acks++
	}
	if acks == 0 {
		return fmt.Errorf("publish rejected by all %d relays: %w", len(conns), lastErr)
	}
	c.log.Debug("event published",
		logx.String("id", ev.ID),
		logx.Int("acks", acks),
		logx.Int("relays", len(conns)),
	)
	return nil
}

// CloseAll disconnects from every relay. Safe to call more than once.
func (c *Client) CloseAll() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		conns := c.conns
		c.conns = nil
		c.mu.Unlock()
		for _, cn := range conns {
			if err := cn.c.Close(); err != nil {
				c.log.Debug("relay close", logx.String("relay", cn.url), logx.Err(err))
			}
		}
		c.log.Debug("relay pool closed", logx.Int("count", len(conns)))
	})
}
