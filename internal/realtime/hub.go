package realtime

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/casasegura/backend/internal/domain"
)

// ChatStore is the persistence the hub relies on. *services.ChatService
// implements it.
type ChatStore interface {
	Conversation(ctx context.Context, userID, conversationID string) (*domain.Conversation, error)
	Send(ctx context.Context, userID, conversationID string, typ domain.MessageType, content, fileURL string) (*domain.Message, error)
	MarkRead(ctx context.Context, userID, conversationID string) (int64, time.Time, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
}

var errNotJoined = protoError("join the conversation first")

const sendStripes = 64

// Hub tracks the open connections of this process and the rooms they joined.
// Outbound frames go through the Broker so that every instance delivers them.
type Hub struct {
	store  ChatStore
	broker Broker

	mu    sync.RWMutex
	users map[string]map[*Conn]struct{}
	rooms map[string]map[*Conn]struct{}

	// send holds one lock per stripe of conversations; persisting a message
	// and publishing it happen under it so every room sees seq order.
	send [sendStripes]sync.Mutex
}

// NewHub builds a hub over store and broker. Call Start before serving.
func NewHub(store ChatStore, broker Broker) *Hub {
	if broker == nil {
		broker = NewMemoryBroker()
	}
	return &Hub{
		store:  store,
		broker: broker,
		users:  make(map[string]map[*Conn]struct{}),
		rooms:  make(map[string]map[*Conn]struct{}),
	}
}

// Start attaches the hub to its broker.
func (h *Hub) Start(ctx context.Context) error {
	return h.broker.Start(ctx, h.deliver)
}

// Close drops every connection and closes the broker.
func (h *Hub) Close() error {
	h.mu.Lock()
	var all []*Conn
	for _, set := range h.users {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.Unlock()
	for _, c := range all {
		c.close()
	}
	return h.broker.Close()
}

func (h *Hub) register(c *Conn) {
	h.mu.Lock()
	set := h.users[c.userID]
	if set == nil {
		set = make(map[*Conn]struct{})
		h.users[c.userID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
	wsConnections.Inc()
}

func (h *Hub) unregister(c *Conn) {
	h.mu.Lock()
	if set, ok := h.users[c.userID]; ok {
		if _, present := set[c]; present {
			delete(set, c)
			wsConnections.Dec()
		}
		if len(set) == 0 {
			delete(h.users, c.userID)
		}
	}
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	h.mu.Unlock()
}

// Online reports how many connections userID holds on this instance.
func (h *Hub) Online(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// Join adds c to the room of a conversation it participates in.
func (h *Hub) Join(ctx context.Context, c *Conn, conversationID string) error {
	if conversationID == "" {
		return protoError("conversationId is required")
	}
	if _, err := h.store.Conversation(ctx, c.userID, conversationID); err != nil {
		return err
	}
	h.mu.Lock()
	room := h.rooms[conversationID]
	if room == nil {
		room = make(map[*Conn]struct{})
		h.rooms[conversationID] = room
	}
	room[c] = struct{}{}
	c.rooms[conversationID] = struct{}{}
	h.mu.Unlock()
	return nil
}

// Leave removes c from a room. Leaving a room not joined is a no-op.
func (h *Hub) Leave(c *Conn, conversationID string) {
	h.mu.Lock()
	h.leaveLocked(c, conversationID)
	h.mu.Unlock()
}

func (h *Hub) leaveLocked(c *Conn, conversationID string) {
	delete(c.rooms, conversationID)
	if room, ok := h.rooms[conversationID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, conversationID)
		}
	}
}

func (h *Hub) joined(c *Conn, conversationID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := c.rooms[conversationID]
	return ok
}

// SendMessage persists a message from userID and broadcasts it to the room,
// then refreshes the recipient's unread count.
func (h *Hub) SendMessage(ctx context.Context, userID string, in SendMessage) (*domain.Message, error) {
	conv, err := h.store.Conversation(ctx, userID, in.ConversationID)
	if err != nil {
		return nil, err
	}

	mu := h.stripe(in.ConversationID)
	mu.Lock()
	msg, err := h.store.Send(ctx, userID, in.ConversationID, in.Type, in.Content, in.FileURL)
	if err == nil {
		err = h.publishRoom(ctx, in.ConversationID, "", EventNewMessage, msg)
	}
	mu.Unlock()
	if msg == nil {
		return nil, err
	}
	if err != nil {
		log.Warn().Err(err).Str("conversation_id", in.ConversationID).Msg("new_message fan-out failed")
	}

	h.pushUnread(ctx, conv.Other(userID))
	return msg, nil
}

// Typing relays a typing indicator to the room, skipping the typist.
func (h *Hub) Typing(ctx context.Context, c *Conn, conversationID string, typing bool) error {
	if !h.joined(c, conversationID) {
		return errNotJoined
	}
	return h.publishRoom(ctx, conversationID, c.userID, EventUserTyping, UserTyping{
		ConversationID: conversationID,
		UserID:         c.userID,
		IsTyping:       typing,
	})
}

// MarkRead marks the other participant's messages read, tells that
// participant, and refreshes the reader's unread count.
func (h *Hub) MarkRead(ctx context.Context, userID, conversationID string) (int64, error) {
	conv, err := h.store.Conversation(ctx, userID, conversationID)
	if err != nil {
		return 0, err
	}
	n, at, err := h.store.MarkRead(ctx, userID, conversationID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		if err := h.PublishToUser(ctx, conv.Other(userID), EventMessagesRead, MessagesRead{
			ConversationID: conversationID,
			ReaderID:       userID,
			ReadAt:         at,
			Count:          n,
		}); err != nil {
			log.Warn().Err(err).Str("conversation_id", conversationID).Msg("messages_read fan-out failed")
		}
	}
	h.pushUnread(ctx, userID)
	return n, nil
}

// PublishToUser sends an event to every connection of userID on any instance.
func (h *Hub) PublishToUser(ctx context.Context, userID, event string, data any) error {
	frame, err := encodeFrame(event, "", data)
	if err != nil {
		return err
	}
	return h.broker.Publish(ctx, Envelope{User: userID, Frame: frame})
}

func (h *Hub) publishRoom(ctx context.Context, room, except, event string, data any) error {
	frame, err := encodeFrame(event, "", data)
	if err != nil {
		return err
	}
	return h.broker.Publish(ctx, Envelope{Room: room, ExceptUser: except, Frame: frame})
}

func (h *Hub) pushUnread(ctx context.Context, userID string) {
	if userID == "" {
		return
	}
	n, err := h.store.UnreadCount(ctx, userID)
	if err == nil {
		err = h.PublishToUser(ctx, userID, EventUnreadCount, UnreadCount{Count: n})
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Str("user_id", userID).Msg("unread_count push failed")
	}
}

// deliver hands an envelope to the matching local connections. Full send
// buffers get their connection closed instead of blocking the hub.
func (h *Hub) deliver(env Envelope) {
	h.mu.RLock()
	var targets []*Conn
	switch {
	case env.Room != "":
		for c := range h.rooms[env.Room] {
			if env.User != "" && c.userID != env.User {
				continue
			}
			if env.ExceptUser != "" && c.userID == env.ExceptUser {
				continue
			}
			targets = append(targets, c)
		}
	case env.User != "":
		for c := range h.users[env.User] {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.enqueue(env.Frame) {
			wsDropped.Inc()
			log.Warn().Str("user_id", c.userID).Msg("closing slow chat consumer")
			c.close()
		}
	}
}

func (h *Hub) stripe(conversationID string) *sync.Mutex {
	f := fnv.New32a()
	_, _ = f.Write([]byte(conversationID))
	return &h.send[f.Sum32()%sendStripes]
}
