package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/casasegura/backend/internal/domain"
	"github.com/casasegura/backend/internal/repo"
	"github.com/casasegura/backend/internal/storage"
	"github.com/casasegura/backend/internal/utils"
)

// ConversationView is a conversation with the caller's unread count.
type ConversationView struct {
	domain.Conversation
	Unread int64 `json:"unread"`
}

// UploadSigner signs attachment uploads. *storage.Attachments implements it.
type UploadSigner interface {
	UploadURL(ctx context.Context, conversationID, contentType string, size int64) (*storage.Upload, error)
}

// ChatService persists conversations and messages. Live delivery is the
// realtime hub's job; this service only decides what is stored.
type ChatService struct {
	DB *gorm.DB
	// MaxContentRunes caps message length; 0 means 4000.
	MaxContentRunes int
	// Uploads is nil when attachment storage is not configured.
	Uploads UploadSigner
	Now     func() time.Time
}

func (s *ChatService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Conversations lists the user's conversations, most recent activity first.
func (s *ChatService) Conversations(ctx context.Context, userID string) ([]ConversationView, error) {
	ctx, span := otel.Tracer("services/ChatService").Start(ctx, "Conversations",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	convs, err := repo.ListConversations(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	out := make([]ConversationView, 0, len(convs))
	for _, c := range convs {
		n, err := repo.CountUnreadInConversation(ctx, s.DB, c.ID, userID)
		if err != nil {
			return nil, err
		}
		out = append(out, ConversationView{Conversation: c, Unread: n})
	}
	return out, nil
}

// ConversationIDs lists the ids of the user's conversations.
func (s *ChatService) ConversationIDs(ctx context.Context, userID string) ([]string, error) {
	return repo.ListConversationIDs(ctx, s.DB, userID)
}

// OpenForJob returns the job's conversation, creating it on first use. Only
// the job's client and professional may open it.
func (s *ChatService) OpenForJob(ctx context.Context, userID, jobID string) (*domain.Conversation, error) {
	ctx, span := otel.Tracer("services/ChatService").Start(ctx, "OpenForJob",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("job.id", jobID),
		),
	)
	defer span.End()

	job, err := repo.GetJob(ctx, s.DB, jobID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	if !job.IsParticipant(userID) {
		return nil, ErrNotParticipant
	}
	if job.ProfessionalID == nil {
		return nil, ErrNoProfessional
	}

	c, err := repo.GetConversationByJob(ctx, s.DB, jobID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	c, err = repo.CreateConversation(ctx, s.DB, jobID, job.ClientID, *job.ProfessionalID)
	if repo.IsDuplicate(err) {
		return repo.GetConversationByJob(ctx, s.DB, jobID)
	}
	return c, err
}

// Conversation returns a conversation the user takes part in.
func (s *ChatService) Conversation(ctx context.Context, userID, conversationID string) (*domain.Conversation, error) {
	return participantConversation(ctx, s.DB, userID, conversationID)
}

// Send stores a message with the next seq of its conversation. The
// conversation row is touched first, which serializes concurrent senders so
// seq values are gap-free and follow commit order.
func (s *ChatService) Send(ctx context.Context, userID, conversationID string, typ domain.MessageType, content, fileURL string) (*domain.Message, error) {
	ctx, span := otel.Tracer("services/ChatService").Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if typ == "" {
		typ = domain.MessageText
	}
	if !typ.Valid() {
		return nil, ErrInvalidMessageType
	}
	content = strings.TrimSpace(content)
	fileURL = strings.TrimSpace(fileURL)
	if typ == domain.MessageText && content == "" {
		return nil, ErrEmptyMessage
	}
	if typ != domain.MessageText && fileURL == "" {
		return nil, badRequest("%s messages need a file_url", typ)
	}
	maxRunes := s.MaxContentRunes
	if maxRunes <= 0 {
		maxRunes = 4000
	}
	if utf8.RuneCountInString(content) > maxRunes {
		return nil, ErrTooLong
	}

	var msg *domain.Message
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := participantConversation(ctx, tx, userID, conversationID); err != nil {
			return err
		}
		at := s.now()
		if err := repo.TouchConversation(ctx, tx, conversationID, at); err != nil {
			return err
		}
		seq, err := repo.NextMessageSeq(ctx, tx, conversationID)
		if err != nil {
			return err
		}
		msg, err = repo.CreateMessage(ctx, tx, conversationID, seq, userID, typ, content, fileURL, at)
		return err
	})
	if err != nil {
		return nil, err
	}
	chatMessages.WithLabelValues(string(typ)).Inc()
	return msg, nil
}

// Messages pages through a conversation in delivery order.
func (s *ChatService) Messages(ctx context.Context, userID, conversationID string, page, pageSize int) ([]domain.Message, utils.PageMeta, error) {
	ctx, span := otel.Tracer("services/ChatService").Start(ctx, "Messages",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if _, err := participantConversation(ctx, s.DB, userID, conversationID); err != nil {
		return nil, utils.PageMeta{}, err
	}
	_, pageSize = utils.Window(0, pageSize, 50, 200)
	offset := utils.Offset(page, pageSize)
	total, err := repo.CountMessages(ctx, s.DB, conversationID)
	if err != nil {
		return nil, utils.PageMeta{}, err
	}
	meta := utils.NewPageMeta(total, offset, pageSize)
	if total == 0 {
		return []domain.Message{}, meta, nil
	}
	items, err := repo.ListMessagesPage(ctx, s.DB, conversationID, offset, pageSize)
	return items, meta, err
}

// MessagesETag fingerprints a conversation's message list. It changes when
// a message is added or read.
func (s *ChatService) MessagesETag(ctx context.Context, conversationID string, page, pageSize int) (string, error) {
	n, last, read, err := repo.MessagesStats(ctx, s.DB, conversationID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`W/"m-%s-%d-%d-%d-p%d-s%d"`, conversationID, n, last, read, page, pageSize), nil
}

// MarkRead flips every unread message sent to the user in the conversation
// to read. read_at is only ever set, never cleared.
func (s *ChatService) MarkRead(ctx context.Context, userID, conversationID string) (int64, time.Time, error) {
	ctx, span := otel.Tracer("services/ChatService").Start(ctx, "MarkRead",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if _, err := participantConversation(ctx, s.DB, userID, conversationID); err != nil {
		return 0, time.Time{}, err
	}
	at := s.now()
	n, err := repo.MarkMessagesRead(ctx, s.DB, conversationID, userID, at)
	return n, at, err
}

// AttachmentUpload signs an upload for a file to be sent in a conversation
// the user takes part in.
func (s *ChatService) AttachmentUpload(ctx context.Context, userID, conversationID, contentType string, size int64) (*storage.Upload, error) {
	if s.Uploads == nil {
		return nil, ErrAttachmentsDisabled
	}
	if _, err := participantConversation(ctx, s.DB, userID, conversationID); err != nil {
		return nil, err
	}
	up, err := s.Uploads.UploadURL(ctx, conversationID, contentType, size)
	if errors.Is(err, storage.ErrInvalidUpload) {
		return nil, badRequest("unsupported attachment type or size")
	}
	return up, err
}

// UnreadCount is the number of unread messages addressed to the user.
func (s *ChatService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return repo.CountUnreadForUser(ctx, s.DB, userID)
}

func participantConversation(ctx context.Context, db *gorm.DB, userID, conversationID string) (*domain.Conversation, error) {
	c, err := repo.GetConversation(ctx, db, conversationID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	if !c.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return c, nil
}
