package stomp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/dench47/messenger-client-sub000/internal/core/domain"
	"github.com/dench47/messenger-client-sub000/internal/core/ports"
	"github.com/dench47/messenger-client-sub000/internal/infrastructure/monitoring"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	chatSendDestination = "/app/chat"
	callSendDestination = "/app/call"
	chatQueuePattern    = "/user/%s/queue/messages"
	callQueuePattern    = "/user/%s/queue/call"
)

// Config holds transport settings for the channel.
type Config struct {
	URL           string
	HandshakeWait time.Duration // stand-in ack wait before SUBSCRIBE
	WriteTimeout  time.Duration
	SendRate      float64 // outbound frames per second, 0 = unlimited
	SendBurst     int
}

// Channel is the process-wide STOMP-over-websocket connection. Exactly one
// transport is live at a time; Connect tears down the previous one first.
type Channel struct {
	cfg     Config
	metrics *monitoring.Collector
	logger  *zap.SugaredLogger

	mu        sync.Mutex
	conn      *websocket.Conn
	chatSubID string
	callSubID string
	username  domain.Username
	limiter   *rate.Limiter

	// writeMu serializes transport writes: gorilla allows at most one
	// concurrent writer, and senders call in from arbitrary goroutines.
	writeMu sync.Mutex

	msgListener    ports.MessageListener
	sigListener    ports.SignalListener
	closedListener func(err error)
}

func NewChannel(cfg Config, metrics *monitoring.Collector, logger *zap.SugaredLogger) *Channel {
	if cfg.HandshakeWait <= 0 {
		cfg.HandshakeWait = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	c := &Channel{cfg: cfg, metrics: metrics, logger: logger}
	if cfg.SendRate > 0 {
		burst := cfg.SendBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.SendRate), burst)
	}
	return c
}

func (c *Channel) SetMessageListener(l ports.MessageListener) {
	c.mu.Lock()
	c.msgListener = l
	c.mu.Unlock()
}

func (c *Channel) SetSignalListener(l ports.SignalListener) {
	c.mu.Lock()
	c.sigListener = l
	c.mu.Unlock()
}

// SetClosedListener registers a callback fired when the read loop exits.
// Reconnection is the caller's responsibility, driven by network signals.
func (c *Channel) SetClosedListener(l func(err error)) {
	c.mu.Lock()
	c.closedListener = l
	c.mu.Unlock()
}

func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connect dials the server and runs the three-step handshake: open transport,
// CONNECT, then SUBSCRIBE to the per-user chat and call queues. Any prior
// transport is torn down before the new one opens.
func (c *Channel) Connect(ctx context.Context, token string, username domain.Username) error {
	c.mu.Lock()
	if c.conn != nil {
		c.teardownLocked()
	}
	c.mu.Unlock()

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("dial signal channel: %w", err)
	}

	connect := NewFrame(CommandConnect,
		Header{"accept-version", "1.1"},
		Header{"heart-beat", "0,0"},
	)
	if err := c.write(conn, connect); err != nil {
		conn.Close()
		return fmt.Errorf("send CONNECT: %w", err)
	}

	// Wait briefly for the CONNECTED ack; proceed on timeout so servers that
	// ack lazily do not stall the subscribe step.
	conn.SetReadDeadline(time.Now().Add(c.cfg.HandshakeWait))
	if _, data, err := conn.ReadMessage(); err == nil {
		if f, perr := Parse(data); perr == nil && f.Command == CommandConnected {
			c.logger.Debugw("channel handshake acknowledged", "username", username)
		}
	}
	conn.SetReadDeadline(time.Time{})

	chatSubID := uuid.NewString()
	callSubID := uuid.NewString()
	subs := []*Frame{
		NewFrame(CommandSubscribe,
			Header{"id", chatSubID},
			Header{"destination", fmt.Sprintf(chatQueuePattern, username)},
		),
		NewFrame(CommandSubscribe,
			Header{"id", callSubID},
			Header{"destination", fmt.Sprintf(callQueuePattern, username)},
		),
	}
	for _, sub := range subs {
		if err := c.write(conn, sub); err != nil {
			conn.Close()
			return fmt.Errorf("send SUBSCRIBE: %w", err)
		}
	}

	c.mu.Lock()
	c.conn = conn
	c.chatSubID = chatSubID
	c.callSubID = callSubID
	c.username = username
	c.mu.Unlock()

	c.metrics.ChannelConnected(true)
	c.logger.Infow("signal channel connected", "username", username, "url", c.cfg.URL)

	go c.readLoop(conn)
	return nil
}

// Disconnect sends DISCONNECT best-effort, closes the transport and clears
// listeners. Idempotent.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	c.teardownLocked()
	c.msgListener = nil
	c.sigListener = nil
}

func (c *Channel) teardownLocked() {
	conn := c.conn
	c.conn = nil
	c.chatSubID = ""
	c.callSubID = ""
	if conn != nil {
		if err := c.write(conn, NewFrame(CommandDisconnect)); err != nil {
			c.logger.Debugw("DISCONNECT frame not delivered", "error", err)
		}
		conn.Close()
		c.metrics.ChannelConnected(false)
		c.logger.Infow("signal channel disconnected", "username", c.username)
	}
}

// SendChat delivers one chat message to the server send destination. Returns
// false when no transport is open or the send rate is exceeded.
func (c *Channel) SendChat(msg domain.WireMessage) bool {
	body, err := json.Marshal(msg)
	if err != nil {
		c.logger.Errorw("encode chat message", "error", err)
		return false
	}
	return c.sendBody(chatSendDestination, body, "chat")
}

// SendSignal delivers one call-control signal on the call destination, kept
// logically distinct from chat so the two streams never cross-deliver.
func (c *Channel) SendSignal(sig domain.CallSignal) bool {
	body, err := json.Marshal(sig)
	if err != nil {
		c.logger.Errorw("encode call signal", "error", err)
		return false
	}
	return c.sendBody(callSendDestination, body, "signal")
}

func (c *Channel) sendBody(destination string, body []byte, kind string) bool {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		c.logger.Warnw("send on closed channel", "kind", kind, "destination", destination)
		return false
	}
	if c.limiter != nil && !c.limiter.Allow() {
		c.logger.Warnw("outbound frame rate limit exceeded", "kind", kind)
		c.metrics.FrameDropped("rate_limited")
		return false
	}

	frame := NewFrame(CommandSend,
		Header{"destination", destination},
		Header{"content-type", "application/json"},
	)
	frame.Body = body
	if err := c.write(conn, frame); err != nil {
		c.logger.Warnw("frame send failed", "kind", kind, "error", err)
		return false
	}
	c.metrics.FrameSent(kind)
	return true
}

func (c *Channel) write(conn *websocket.Conn, f *Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, f.Marshal())
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	var loopErr error
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warnw("channel read failed", "error", err)
			}
			loopErr = err
			break
		}

		frame, err := Parse(data)
		if err != nil {
			// Protocol errors drop the offending frame only.
			c.logger.Warnw("malformed frame dropped", "error", err)
			c.metrics.FrameDropped("malformed")
			continue
		}
		c.handleFrame(frame)
	}

	c.mu.Lock()
	stale := c.conn != conn // replaced by a reconnect, not a failure
	if !stale {
		c.conn = nil
		c.metrics.ChannelConnected(false)
	}
	closed := c.closedListener
	c.mu.Unlock()

	if !stale && closed != nil {
		closed(loopErr)
	}
}

func (c *Channel) handleFrame(f *Frame) {
	switch f.Command {
	case CommandConnected:
		c.logger.Debugw("server CONNECTED frame", "version", f.Header("version"))
	case CommandError:
		c.logger.Warnw("server ERROR frame", "message", f.Header("message"), "body", string(f.Body))
	case CommandMessage:
		c.metrics.FrameReceived("message")
		c.dispatchMessage(f)
	default:
		c.logger.Debugw("ignoring frame", "command", f.Command)
	}
}

func (c *Channel) dispatchMessage(f *Frame) {
	c.mu.Lock()
	callSubID := c.callSubID
	msgListener := c.msgListener
	sigListener := c.sigListener
	c.mu.Unlock()

	sub := f.Header("subscription")
	if sub == callSubID && callSubID != "" {
		sig, err := domain.DecodeCallSignal(f.Body)
		if err != nil {
			c.logger.Warnw("undecodable call signal dropped", "error", err)
			c.metrics.SignalDropped("decode")
			return
		}
		if sigListener != nil {
			sigListener(sig)
		}
		return
	}

	var wire domain.WireMessage
	if err := json.Unmarshal(f.Body, &wire); err != nil {
		c.logger.Warnw("undecodable chat payload dropped", "error", err)
		c.metrics.FrameDropped("decode")
		return
	}
	if msgListener != nil {
		msgListener(wire.ToChatMessage(domain.OriginPush))
	}
}
