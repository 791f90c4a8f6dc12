package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"
	"callmesh/pkg/config"
	"callmesh/pkg/retry"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// WebSocketChannel is the signaling transport used to exchange call-control
// and negotiation messages with remote peers. Delivery is best effort and at
// most once per send; the channel reconnects with backoff when the read side
// drops.
type WebSocketChannel struct {
	url       string
	userID    domain.UserID
	jwtSecret []byte
	tokenTTL  time.Duration

	conn    *websocket.Conn
	connMu  sync.Mutex
	limiter *rate.Limiter

	events   ports.SignalEvents
	eventsMu sync.RWMutex

	// Optional hook observing the latency of each outbound write.
	observeSend func(time.Duration)

	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration
	retryCfg     retry.Config

	done      chan struct{}
	closeOnce sync.Once

	logger *zap.SugaredLogger
}

func NewWebSocketChannel(cfg *config.Config, logger *zap.SugaredLogger) (*WebSocketChannel, error) {
	c := &WebSocketChannel{
		url:          cfg.Signaling.URL,
		userID:       domain.UserID(cfg.Signaling.UserID),
		jwtSecret:    []byte(cfg.Signaling.JWTSecret),
		tokenTTL:     cfg.Signaling.TokenTTL,
		limiter:      rate.NewLimiter(rate.Limit(cfg.Signaling.SendsPerSecond), cfg.Signaling.SendBurst),
		pingInterval: cfg.Signaling.PingInterval,
		pongTimeout:  cfg.Signaling.PongTimeout,
		writeTimeout: cfg.Signaling.WriteTimeout,
		retryCfg: retry.Config{
			Enabled:      true,
			MaxAttempts:  cfg.Signaling.Reconnect.MaxAttempts,
			InitialDelay: cfg.Signaling.Reconnect.InitialDelay,
			MaxDelay:     cfg.Signaling.Reconnect.MaxDelay,
			Multiplier:   2.0,
			Jitter:       true,
		},
		done:   make(chan struct{}),
		logger: logger,
	}

	if err := c.dial(); err != nil {
		return nil, err
	}

	go c.readPump()
	go c.pingLoop()
	return c, nil
}

// SetEventListeners registers the inbound signal listener.
func (c *WebSocketChannel) SetEventListeners(events ports.SignalEvents) {
	c.eventsMu.Lock()
	c.events = events
	c.eventsMu.Unlock()
}

// SetSendObserver registers a hook timing each outbound write. Must be called
// before the channel is shared across goroutines.
func (c *WebSocketChannel) SetSendObserver(fn func(time.Duration)) {
	c.observeSend = fn
}

func (c *WebSocketChannel) listener() ports.SignalEvents {
	c.eventsMu.RLock()
	defer c.eventsMu.RUnlock()
	return c.events
}

// dial connects and authenticates with a short-lived signed token.
func (c *WebSocketChannel) dial() error {
	token, err := c.mintToken()
	if err != nil {
		return fmt.Errorf("failed to mint signaling token: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, _, err := websocket.DefaultDialer.Dial(c.url, header)
	if err != nil {
		return fmt.Errorf("failed to dial signaling server: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
		return nil
	})

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.logger.Infow("connected to signaling server", "url", c.url, "user_id", c.userID)
	return nil
}

func (c *WebSocketChannel) mintToken() (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": string(c.userID),
		"iat": now.Unix(),
		"exp": now.Add(c.tokenTTL).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.jwtSecret)
}

// Close shuts the channel down. Safe to call twice.
func (c *WebSocketChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.connMu.Lock()
		if c.conn != nil {
			err = c.conn.Close()
			c.conn = nil
		}
		c.connMu.Unlock()
	})
	return err
}

func (c *WebSocketChannel) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *WebSocketChannel) send(ctx context.Context, msg domain.SignalMessage) error {
	if c.closed() {
		return domain.ErrSignalingClosed
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("signaling send throttled: %w", err)
	}

	msg.From = c.userID

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return domain.ErrSignalingClosed
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))

	start := time.Now()
	err := c.conn.WriteJSON(msg)
	if c.observeSend != nil {
		c.observeSend(time.Since(start))
	}
	return err
}

func (c *WebSocketChannel) sendPayload(ctx context.Context, msgType domain.SignalType, to domain.UserID, group domain.GroupID, callID domain.CallID, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", msgType, err)
	}
	return c.send(ctx, domain.SignalMessage{
		Type:    msgType,
		To:      to,
		Group:   group,
		CallID:  callID,
		Payload: raw,
	})
}

func (c *WebSocketChannel) SendCallRequest(ctx context.Context, to domain.UserID, p domain.CallRequestPayload) error {
	return c.sendPayload(ctx, domain.SignalCallRequest, to, "", p.CallID, p)
}

func (c *WebSocketChannel) SendCallAccept(ctx context.Context, to domain.UserID, p domain.CallAcceptPayload) error {
	return c.sendPayload(ctx, domain.SignalCallAccept, to, "", p.CallID, p)
}

func (c *WebSocketChannel) SendCallReject(ctx context.Context, to domain.UserID, p domain.CallRejectPayload) error {
	return c.sendPayload(ctx, domain.SignalCallReject, to, "", p.CallID, p)
}

func (c *WebSocketChannel) SendCallEnd(ctx context.Context, to domain.UserID, p domain.CallEndPayload) error {
	return c.sendPayload(ctx, domain.SignalCallEnd, to, "", p.CallID, p)
}

func (c *WebSocketChannel) SendGroupRequest(ctx context.Context, group domain.GroupID, to domain.UserID, p domain.GroupInvitePayload) error {
	return c.sendPayload(ctx, domain.SignalGroupRequest, to, group, p.CallID, p)
}

func (c *WebSocketChannel) SendGroupJoin(ctx context.Context, group domain.GroupID, p domain.GroupJoinPayload) error {
	return c.sendPayload(ctx, domain.SignalGroupJoin, "", group, p.CallID, p)
}

func (c *WebSocketChannel) SendGroupLeave(ctx context.Context, group domain.GroupID, p domain.CallEndPayload) error {
	return c.sendPayload(ctx, domain.SignalGroupLeave, "", group, p.CallID, p)
}

func (c *WebSocketChannel) SendConferenceControl(ctx context.Context, group domain.GroupID, p domain.ConfControlPayload) error {
	return c.sendPayload(ctx, domain.SignalConfControl, "", group, p.CallID, p)
}

func (c *WebSocketChannel) SendOffer(ctx context.Context, to domain.UserID, callID domain.CallID, desc domain.SessionDescription) error {
	return c.sendPayload(ctx, domain.SignalOffer, to, "", callID, desc)
}

func (c *WebSocketChannel) SendAnswer(ctx context.Context, to domain.UserID, callID domain.CallID, desc domain.SessionDescription) error {
	return c.sendPayload(ctx, domain.SignalAnswer, to, "", callID, desc)
}

func (c *WebSocketChannel) SendICECandidate(ctx context.Context, to domain.UserID, callID domain.CallID, cand domain.ICECandidate) error {
	return c.sendPayload(ctx, domain.SignalICECandidate, to, "", callID, cand)
}

// readPump reads inbound messages and dispatches them until the channel is
// closed, reconnecting with backoff on read failures.
func (c *WebSocketChannel) readPump() {
	for {
		if c.closed() {
			return
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn == nil {
			return
		}

		var msg domain.SignalMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if c.closed() {
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warnw("signaling read error", "error", err)
			}
			if !c.reconnect() {
				return
			}
			continue
		}
		conn.SetReadDeadline(time.Now().Add(c.pongTimeout))

		if err := c.dispatch(msg); err != nil {
			c.logger.Warnw("failed to handle signaling message",
				"type", msg.Type,
				"from", msg.From,
				"error", err,
			)
		}
	}
}

func (c *WebSocketChannel) reconnect() bool {
	c.logger.Infow("reconnecting to signaling server", "url", c.url)
	err := retry.Retry(context.Background(), c.retryCfg, func() error {
		if c.closed() {
			return nil
		}
		return c.dial()
	})
	if err != nil {
		c.logger.Errorw("signaling reconnect exhausted", "error", err)
		c.Close()
		return false
	}
	return !c.closed()
}

func (c *WebSocketChannel) pingLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			conn := c.conn
			if conn != nil {
				conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					c.logger.Debugw("signaling ping failed", "error", err)
				}
			}
			c.connMu.Unlock()
		}
	}
}

// dispatch decodes the envelope payload and hands it to the listener.
func (c *WebSocketChannel) dispatch(msg domain.SignalMessage) error {
	l := c.listener()
	if l == nil {
		return nil
	}
	if msg.Type == "" {
		return fmt.Errorf("message type is required")
	}

	switch msg.Type {
	case domain.SignalCallRequest:
		var p domain.CallRequestPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("invalid call_request payload: %w", err)
		}
		l.OnCallRequest(msg.From, p)

	case domain.SignalCallAccept:
		var p domain.CallAcceptPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("invalid call_accept payload: %w", err)
		}
		l.OnCallAccept(msg.From, p)

	case domain.SignalCallReject:
		var p domain.CallRejectPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("invalid call_reject payload: %w", err)
		}
		l.OnCallReject(msg.From, p)

	case domain.SignalCallEnd:
		var p domain.CallEndPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("invalid call_end payload: %w", err)
		}
		l.OnCallEnd(msg.From, p)

	case domain.SignalGroupRequest:
		var p domain.GroupInvitePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("invalid group_call_request payload: %w", err)
		}
		l.OnGroupCallRequest(msg.From, msg.Group, p)

	case domain.SignalGroupJoin:
		var p domain.GroupJoinPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("invalid group_call_join payload: %w", err)
		}
		l.OnGroupCallJoin(msg.From, msg.Group, p)

	case domain.SignalGroupLeave:
		var p domain.CallEndPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("invalid group_call_leave payload: %w", err)
		}
		l.OnGroupCallLeave(msg.From, msg.Group, p)

	case domain.SignalOffer:
		var desc domain.SessionDescription
		if err := json.Unmarshal(msg.Payload, &desc); err != nil {
			return fmt.Errorf("invalid offer payload: %w", err)
		}
		l.OnOffer(msg.From, msg.CallID, desc)

	case domain.SignalAnswer:
		var desc domain.SessionDescription
		if err := json.Unmarshal(msg.Payload, &desc); err != nil {
			return fmt.Errorf("invalid answer payload: %w", err)
		}
		l.OnAnswer(msg.From, msg.CallID, desc)

	case domain.SignalICECandidate:
		var cand domain.ICECandidate
		if err := json.Unmarshal(msg.Payload, &cand); err != nil {
			return fmt.Errorf("invalid ice_candidate payload: %w", err)
		}
		l.OnICECandidate(msg.From, msg.CallID, cand)

	case domain.SignalConfControl:
		var p domain.ConfControlPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return fmt.Errorf("invalid conference_control payload: %w", err)
		}
		l.OnConferenceControl(msg.From, p)

	default:
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}
	return nil
}
