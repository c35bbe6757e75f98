package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/casasegura/backend/internal/domain"
)

// State is the lifecycle of a Client.
type State int32

const (
	StateConnecting State = iota
	StateConnected
	StateReconnecting
	// StateDisconnected means reconnection gave up; the Client is unusable.
	StateDisconnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	case StateClosed:
		return "closed"
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

var (
	ErrDisconnected = errors.New("realtime: not connected")
	ErrClientClosed = errors.New("realtime: client closed")
	ErrAckTimeout   = errors.New("realtime: ack timeout")
	ErrUnauthorized = errors.New("realtime: unauthorized")
)

// AckError is a negative acknowledgement from the server.
type AckError struct {
	Code    string
	Message string
}

func (e *AckError) Error() string { return e.Code + ": " + e.Message }

// ClientOptions tunes a Client. Zero values take the defaults noted.
type ClientOptions struct {
	MaxAttempts int           // reconnect attempts before giving up; 5
	Backoff     time.Duration // pause before each attempt; 1s
	AckTimeout  time.Duration // 10s
	Dialer      *websocket.Dialer
}

const stateEvent = "$state"

// Client is a chat connection that reconnects on its own and re-joins the
// conversations it had joined. Server pushes are consumed through Subscribe.
type Client struct {
	url   string
	token string
	opts  ClientOptions

	writeMu sync.Mutex

	mu      sync.Mutex
	ws      *websocket.Conn
	state   State
	closed  bool
	joined  map[string]struct{}
	pending map[string]chan Ack
	subs    map[string]map[uint64]func(json.RawMessage)
	seq     uint64
	done    chan struct{}
}

// NewClient prepares a client for a /chat endpoint (ws:// or wss://). Register
// subscriptions before Connect to see the pushes sent on connect.
func NewClient(url, token string, opts ClientOptions) *Client {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = 10 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Client{
		url:     url,
		token:   token,
		opts:    opts,
		state:   StateConnecting,
		joined:  make(map[string]struct{}),
		pending: make(map[string]chan Ack),
		subs:    make(map[string]map[uint64]func(json.RawMessage)),
		done:    make(chan struct{}),
	}
}

// Dial is NewClient followed by Connect.
func Dial(ctx context.Context, url, token string, opts ClientOptions) (*Client, error) {
	c := NewClient(url, token, opts)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Connect opens the first connection. Later drops are handled internally.
func (c *Client) Connect(ctx context.Context) error {
	ws, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ws.Close()
		return ErrClientClosed
	}
	c.ws = ws
	c.mu.Unlock()
	go c.readLoop(ws)
	c.setState(StateConnected)
	return nil
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// StateChanges subscribes to state transitions.
func (c *Client) StateChanges(buffer int) *Subscription[State] {
	return Subscribe[State](c, stateEvent, buffer)
}

// Join enters a conversation room. Joined rooms are re-joined after a
// reconnect.
func (c *Client) Join(ctx context.Context, conversationID string) error {
	if err := c.request(ctx, EventJoin, ConversationRef{ConversationID: conversationID}, nil); err != nil {
		return err
	}
	c.mu.Lock()
	c.joined[conversationID] = struct{}{}
	c.mu.Unlock()
	return nil
}

// Leave exits a conversation room.
func (c *Client) Leave(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	delete(c.joined, conversationID)
	c.mu.Unlock()
	return c.request(ctx, EventLeave, ConversationRef{ConversationID: conversationID}, nil)
}

// Send posts a text message and returns it as stored.
func (c *Client) Send(ctx context.Context, conversationID, content string) (*domain.Message, error) {
	return c.SendMessage(ctx, SendMessage{ConversationID: conversationID, Content: content, Type: domain.MessageText})
}

// SendMessage posts a message of any type.
func (c *Client) SendMessage(ctx context.Context, in SendMessage) (*domain.Message, error) {
	var m domain.Message
	if err := c.request(ctx, EventSendMessage, in, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Typing starts or stops the typing indicator in a joined conversation.
func (c *Client) Typing(ctx context.Context, conversationID string, typing bool) error {
	event := EventTypingStop
	if typing {
		event = EventTypingStart
	}
	return c.request(ctx, event, ConversationRef{ConversationID: conversationID}, nil)
}

// MarkRead marks the conversation read and returns how many messages changed.
func (c *Client) MarkRead(ctx context.Context, conversationID string) (int64, error) {
	var out struct {
		Count int64 `json:"count"`
	}
	if err := c.request(ctx, EventMarkRead, ConversationRef{ConversationID: conversationID}, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// Close ends the connection for good.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	var err error
	if ws != nil {
		c.writeMu.Lock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = ws.Close()
	}
	c.setState(StateClosed)
	return err
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.token)
	ws, resp, err := c.opts.Dialer.DialContext(ctx, c.url, h)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return nil, err
	}
	return ws, nil
}

func (c *Client) readLoop(ws *websocket.Conn) {
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			break
		}
		var f Frame
		if json.Unmarshal(raw, &f) != nil {
			continue
		}
		if f.Event == EventAck {
			var a Ack
			if json.Unmarshal(f.Data, &a) == nil {
				c.resolve(f.ID, a)
			}
			continue
		}
		c.dispatch(f.Event, f.Data)
	}
	_ = ws.Close()

	c.mu.Lock()
	current := c.ws == ws
	if current {
		c.ws = nil
	}
	closed := c.closed
	if current || closed {
		for id, ch := range c.pending {
			delete(c.pending, id)
			close(ch)
		}
	}
	c.mu.Unlock()

	if current && !closed {
		c.reconnect()
	}
}

func (c *Client) reconnect() {
	c.setState(StateReconnecting)
	for attempt := 0; attempt < c.opts.MaxAttempts; attempt++ {
		select {
		case <-c.done:
			return
		case <-time.After(c.opts.Backoff):
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.opts.AckTimeout)
		ws, err := c.dial(ctx)
		cancel()
		if errors.Is(err, ErrUnauthorized) {
			break
		}
		if err != nil {
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = ws.Close()
			return
		}
		c.ws = ws
		rooms := make([]string, 0, len(c.joined))
		for id := range c.joined {
			rooms = append(rooms, id)
		}
		c.mu.Unlock()

		go c.readLoop(ws)
		c.rejoin(rooms)

		c.mu.Lock()
		still := c.ws == ws
		c.mu.Unlock()
		if still {
			c.setState(StateConnected)
		}
		return
	}
	c.setState(StateDisconnected)
}

func (c *Client) rejoin(rooms []string) {
	for _, id := range rooms {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.AckTimeout)
		err := c.request(ctx, EventJoin, ConversationRef{ConversationID: id}, nil)
		cancel()
		var ae *AckError
		if errors.As(err, &ae) {
			c.mu.Lock()
			delete(c.joined, id)
			c.mu.Unlock()
		}
	}
}

func (c *Client) request(ctx context.Context, event string, data, out any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	ws := c.ws
	if ws == nil {
		c.mu.Unlock()
		return ErrDisconnected
	}
	c.seq++
	id := strconv.FormatUint(c.seq, 10)
	ch := make(chan Ack, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	frame, err := json.Marshal(Frame{Event: event, ID: id, Data: raw})
	if err != nil {
		c.forget(id)
		return err
	}
	c.writeMu.Lock()
	_ = ws.SetWriteDeadline(time.Now().Add(c.opts.AckTimeout))
	err = ws.WriteMessage(websocket.TextMessage, frame)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}

	timer := time.NewTimer(c.opts.AckTimeout)
	defer timer.Stop()
	select {
	case a, ok := <-ch:
		if !ok {
			return ErrDisconnected
		}
		if !a.OK {
			return &AckError{Code: a.Code, Message: a.Error}
		}
		if out != nil && len(a.Payload) > 0 {
			return json.Unmarshal(a.Payload, out)
		}
		return nil
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	case <-timer.C:
		c.forget(id)
		return ErrAckTimeout
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) resolve(id string, a Ack) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if ok {
		ch <- a
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	raw, _ := json.Marshal(s)
	c.dispatch(stateEvent, raw)
}

func (c *Client) dispatch(event string, data json.RawMessage) {
	c.mu.Lock()
	handlers := make([]func(json.RawMessage), 0, len(c.subs[event]))
	for _, h := range c.subs[event] {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()
	for _, h := range handlers {
		h(data)
	}
}

// Subscription delivers decoded events of one name on C until Unsubscribe.
// Events that find C full are dropped.
type Subscription[T any] struct {
	C <-chan T

	ch     chan T
	mu     sync.Mutex
	closed bool
	detach func()
}

// Unsubscribe stops delivery and closes C.
func (s *Subscription[T]) Unsubscribe() {
	s.detach()
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	s.mu.Unlock()
}

func (s *Subscription[T]) offer(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- v:
	default:
	}
}

// Subscribe registers for a server event, decoding its data into T.
func Subscribe[T any](c *Client, event string, buffer int) *Subscription[T] {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan T, buffer)
	s := &Subscription[T]{C: ch, ch: ch}

	c.mu.Lock()
	c.seq++
	key := c.seq
	set := c.subs[event]
	if set == nil {
		set = make(map[uint64]func(json.RawMessage))
		c.subs[event] = set
	}
	set[key] = func(raw json.RawMessage) {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			s.offer(v)
		}
	}
	c.mu.Unlock()

	s.detach = func() {
		c.mu.Lock()
		delete(c.subs[event], key)
		c.mu.Unlock()
	}
	return s
}
