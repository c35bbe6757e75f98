package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/casasegura/backend/internal/domain"
	"github.com/casasegura/backend/internal/services"
)

const (
	maxFrameBytes = 64 << 10
	eventTimeout  = 10 * time.Second
)

// protoError is a malformed or out-of-order client event.
type protoError string

func (e protoError) Error() string { return string(e) }

// ConnOptions tunes one connection.
type ConnOptions struct {
	SendBuffer   int
	PingInterval time.Duration
	WriteTimeout time.Duration
	Logger       *zerolog.Logger
}

func (o ConnOptions) withDefaults() ConnOptions {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = &log.Logger
	}
	return o
}

// Conn is one authenticated websocket. Reads happen on the serving
// goroutine; a single writer goroutine drains the send buffer.
type Conn struct {
	hub    *Hub
	ws     *websocket.Conn
	userID string
	role   domain.Role
	opts   ConnOptions
	log    zerolog.Logger

	send chan []byte
	done chan struct{}
	once sync.Once

	// rooms is guarded by hub.mu.
	rooms map[string]struct{}
}

func newConn(h *Hub, ws *websocket.Conn, userID string, role domain.Role, opts ConnOptions) *Conn {
	opts = opts.withDefaults()
	return &Conn{
		hub:    h,
		ws:     ws,
		userID: userID,
		role:   role,
		opts:   opts,
		log:    opts.Logger.With().Str("user_id", userID).Logger(),
		send:   make(chan []byte, opts.SendBuffer),
		done:   make(chan struct{}),
		rooms:  make(map[string]struct{}),
	}
}

// UserID returns the authenticated user of the connection.
func (c *Conn) UserID() string { return c.userID }

func (c *Conn) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Conn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// serve runs the connection until the peer goes away or ctx ends.
func (c *Conn) serve(ctx context.Context) {
	c.hub.register(c)
	defer func() {
		c.hub.unregister(c)
		c.close()
	}()

	go c.writeLoop()
	c.hub.pushUnread(ctx, c.userID)

	c.ws.SetReadLimit(maxFrameBytes)
	pongWait := 2 * c.opts.PingInterval
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug().Err(err).Msg("chat connection closed")
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil || f.Event == "" {
			c.ack(Frame{Event: "unknown"}, nil, protoError("malformed frame"))
			continue
		}
		ectx, cancel := context.WithTimeout(ctx, eventTimeout)
		data, err := c.handle(ectx, f)
		cancel()
		c.ack(f, data, err)
	}
}

func (c *Conn) writeLoop() {
	ping := time.NewTicker(c.opts.PingInterval)
	defer ping.Stop()
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.close()
				return
			}
		case <-ping.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *Conn) handle(ctx context.Context, f Frame) (any, error) {
	switch f.Event {
	case EventJoin:
		var p ConversationRef
		if err := decode(f.Data, &p); err != nil {
			return nil, err
		}
		if err := c.hub.Join(ctx, c, p.ConversationID); err != nil {
			return nil, err
		}
		return p, nil

	case EventLeave:
		var p ConversationRef
		if err := decode(f.Data, &p); err != nil {
			return nil, err
		}
		c.hub.Leave(c, p.ConversationID)
		return p, nil

	case EventSendMessage:
		var p SendMessage
		if err := decode(f.Data, &p); err != nil {
			return nil, err
		}
		return c.hub.SendMessage(ctx, c.userID, p)

	case EventTypingStart, EventTypingStop:
		var p ConversationRef
		if err := decode(f.Data, &p); err != nil {
			return nil, err
		}
		return nil, c.hub.Typing(ctx, c, p.ConversationID, f.Event == EventTypingStart)

	case EventMarkRead:
		var p ConversationRef
		if err := decode(f.Data, &p); err != nil {
			return nil, err
		}
		n, err := c.hub.MarkRead(ctx, c.userID, p.ConversationID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"conversationId": p.ConversationID, "count": n}, nil
	}
	return nil, protoError("unknown event " + f.Event)
}

// ack answers the sender only. Failures are logged here and never reach the
// rest of the room.
func (c *Conn) ack(f Frame, data any, err error) {
	a := Ack{OK: err == nil}
	if err != nil {
		a.Code, a.Error = ackError(err)
		lvl := c.log.Debug()
		if a.Code == services.KindInternal.String() {
			lvl = c.log.Error()
		}
		lvl.Err(err).Str("event", f.Event).Msg("chat event failed")
	} else if data != nil {
		raw, mErr := json.Marshal(data)
		if mErr == nil {
			a.Payload = raw
		}
	}
	result := "ok"
	if !a.OK {
		result = a.Code
	}
	wsEvents.WithLabelValues(f.Event, result).Inc()

	frame, mErr := encodeFrame(EventAck, f.ID, a)
	if mErr != nil {
		return
	}
	if !c.enqueue(frame) {
		wsDropped.Inc()
		c.close()
	}
}

func ackError(err error) (code, msg string) {
	var pe protoError
	if errors.As(err, &pe) {
		return services.KindBadRequest.String(), pe.Error()
	}
	k := services.KindOf(err)
	if k == services.KindInternal {
		return k.String(), "internal error"
	}
	return k.String(), err.Error()
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return protoError("missing data")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return protoError("invalid data: " + err.Error())
	}
	return nil
}
