package host

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ctxhub/chre-runtime/internal/chre/event"
	"github.com/ctxhub/chre-runtime/internal/chre/nanoapp"
	"github.com/ctxhub/chre-runtime/internal/logging"
)

// ReconnectPolicy is the client-side reconnect backoff (spec §6): initial
// delay, doubled on each failure, capped, with a hard attempt ceiling.
// Grounded on host/common/socket_client.cc's reconnect().
type ReconnectPolicy struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultReconnectPolicy is spec §6's concrete policy: 500ms initial,
// doubling, capped at 5 minutes, at most 40 attempts (~2.5h wall-clock).
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{Initial: 500 * time.Millisecond, Max: 5 * time.Minute, MaxAttempts: 40}
}

// outboundMessage is a NanoappMessage queued for transmission to the host,
// along with the free callback to run once it is actually sent (spec §9
// "invokeMessageFreeFunction").
type outboundMessage struct {
	appID   nanoapp.AppID
	env     Envelope
	free    event.FreeCallback
	evtType event.Type
	payload any
}

// FreeInvoker runs a sent message's free callback with current_app set to
// the sending nanoapp. loop.EventLoop.InvokeMessageFreeFunction satisfies
// this without host needing to import loop.
type FreeInvoker func(appID nanoapp.AppID, cb event.FreeCallback, t event.Type, payload any)

// Client is the runtime's outbound connection to the host daemon: a
// reconnecting socket client, not a server, matching socket_client.cc's
// role on the real platform.
type Client struct {
	socketPath   string
	policy       ReconnectPolicy
	log          *logging.Logger
	limiter      *rate.Limiter
	onEnvelope   func(Envelope)
	invoker      FreeInvoker
	onConnChange func(bool)
	onSent       func(MessageTag)

	mu      sync.Mutex
	conn    net.Conn
	pending map[nanoapp.AppID][]outboundMessage
	stopCh  chan struct{}
	once    sync.Once
}

// Config configures a Client.
type Config struct {
	SocketPath string
	Policy     ReconnectPolicy
	Logger     *logging.Logger
	// RateLimit bounds accepted inbound frame throughput, for frames of
	// every tag; nil disables limiting.
	RateLimit *rate.Limiter
	// OnEnvelope is invoked for every received frame.
	OnEnvelope func(Envelope)
	// Invoker runs a sent outbound message's free callback; wired to
	// loop.EventLoop.InvokeMessageFreeFunction by cmd/chred.
	Invoker FreeInvoker
	// OnConnectionChange, if set, is invoked with true on every successful
	// dial and false once that connection's service loop ends, so a
	// caller can drive a connected/disconnected gauge without this
	// package depending on internal/infrastructure/monitoring.
	OnConnectionChange func(connected bool)
	// OnSent, if set, is invoked after a frame is successfully written to
	// the socket, whether via Send or FlushPending.
	OnSent func(tag MessageTag)
}

// New constructs a disconnected Client.
func New(cfg Config) *Client {
	log := cfg.Logger
	if log == nil {
		log = logging.NewDefault()
	}
	policy := cfg.Policy
	if policy.MaxAttempts == 0 {
		policy = DefaultReconnectPolicy()
	}
	return &Client{
		socketPath:   cfg.SocketPath,
		policy:       policy,
		log:          log,
		limiter:      cfg.RateLimit,
		onEnvelope:   cfg.OnEnvelope,
		invoker:      cfg.Invoker,
		onConnChange: cfg.OnConnectionChange,
		onSent:       cfg.OnSent,
		pending:      make(map[nanoapp.AppID][]outboundMessage),
		stopCh:       make(chan struct{}),
	}
}

// Run dials the host socket and services it until ctx is cancelled or
// Disconnect is called, reconnecting with the configured backoff across
// transient failures. Returns when the connection is permanently given up
// on (attempts exhausted) or a graceful disconnect is requested.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.policy.Initial
	for attempt := 0; attempt < c.policy.MaxAttempts; attempt++ {
		conn, err := net.Dial("unix", c.socketPath)
		if err != nil {
			c.log.Warn("host: dial failed", zap.Int("attempt", attempt+1), zap.Error(err))
			if !c.wait(ctx, backoff) {
				return nil // graceful disconnect observed mid-wait
			}
			backoff *= 2
			if backoff > c.policy.Max {
				backoff = c.policy.Max
			}
			continue
		}

		backoff = c.policy.Initial
		c.setConn(conn)
		c.log.Info("host: connected", zap.String("socket", c.socketPath))
		if c.onConnChange != nil {
			c.onConnChange(true)
		}
		c.serviceConnection(ctx, conn)
		c.setConn(nil)
		if c.onConnChange != nil {
			c.onConnChange(false)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-c.stopCh:
			return nil
		default:
		}
	}
	c.log.Error("host: reconnect attempts exhausted", zap.Int("max_attempts", c.policy.MaxAttempts))
	return context.DeadlineExceeded
}

// wait sleeps for d, returning false immediately (without completing the
// sleep) if a graceful disconnect is observed mid-wait, matching the
// supplemented detail in SPEC_FULL.md §C.4.
func (c *Client) wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-c.stopCh:
		return false
	}
}

func (c *Client) serviceConnection(ctx context.Context, conn net.Conn) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		r := bufio.NewReader(conn)
		for {
			env, err := ReadFrame(r)
			if err != nil {
				return
			}
			if c.limiter != nil && !c.limiter.Allow() {
				c.log.Warn("host: inbound message rate-limited, dropping", zap.Uint32("tag", uint32(env.Tag)))
				continue
			}
			if c.onEnvelope != nil {
				c.onEnvelope(env)
			}
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		_ = conn.Close()
		<-done
	case <-c.stopCh:
		_ = conn.Close()
		<-done
	}
}

func (c *Client) setConn(conn net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
}

// Disconnect requests a graceful shutdown: aborts any in-progress backoff
// wait immediately and closes the active connection. Idempotent.
func (c *Client) Disconnect() {
	c.once.Do(func() { close(c.stopCh) })
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// ErrNotConnected is returned by Send when no host connection is active.
var ErrNotConnected = errors.New("host: not connected")

// Send transmits env immediately if connected. Without an active
// connection it returns ErrNotConnected and env is not queued; app-scoped
// messages that must wait for a connection go through EnqueueOutbound.
func (c *Client) Send(env Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if err := WriteFrame(conn, env); err != nil {
		return err
	}
	if c.onSent != nil {
		c.onSent(env.Tag)
	}
	return nil
}

// EnqueueOutbound queues a NanoappMessage the given nanoapp sent to the
// host, to be transmitted and then freed via FlushPending (spec §4.4
// unload phase 1). Nothing else transmits queued messages.
func (c *Client) EnqueueOutbound(appID nanoapp.AppID, env Envelope, free event.FreeCallback, t event.Type, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[appID] = append(c.pending[appID], outboundMessage{appID: appID, env: env, free: free, evtType: t, payload: payload})
}

// FlushPending transmits (best-effort) and frees every outbound message
// queued for appID. Implements loop.HostFlusher.
func (c *Client) FlushPending(appID nanoapp.AppID) error {
	c.mu.Lock()
	msgs := c.pending[appID]
	delete(c.pending, appID)
	conn := c.conn
	c.mu.Unlock()

	for _, m := range msgs {
		if conn != nil {
			if err := WriteFrame(conn, m.env); err == nil && c.onSent != nil {
				c.onSent(m.env.Tag)
			}
		}
		if c.invoker != nil {
			c.invoker(appID, m.free, m.evtType, m.payload)
		} else if m.free != nil {
			m.free(m.evtType, m.payload)
		}
	}
	return nil
}
