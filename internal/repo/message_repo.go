package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/casasegura/backend/internal/domain"
)

// NextMessageSeq returns the seq the next message of a conversation gets.
func NextMessageSeq(ctx context.Context, db *gorm.DB, conversationID string) (int64, error) {
	var last int64
	err := db.WithContext(ctx).
		Model(&domain.Message{}).
		Select("COALESCE(MAX(seq), 0)").
		Where("conversation_id = ?", conversationID).
		Scan(&last).Error
	return last + 1, err
}

// CreateMessage inserts a message with the given seq.
func CreateMessage(ctx context.Context, db *gorm.DB, conversationID string, seq int64, senderID string, typ domain.MessageType, content, fileURL string, at time.Time) (*domain.Message, error) {
	m := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Seq:            seq,
		SenderID:       senderID,
		Type:           typ,
		Content:        content,
		FileURL:        fileURL,
		CreatedAt:      at,
	}
	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

// CountMessages returns the number of messages in a conversation.
func CountMessages(ctx context.Context, db *gorm.DB, conversationID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.Message{}).Where("conversation_id = ?", conversationID).Count(&total).Error
	return total, err
}

// ListMessagesPage returns a page of messages in delivery order (seq ASC).
func ListMessagesPage(ctx context.Context, db *gorm.DB, conversationID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("seq ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// MarkMessagesRead sets read_at on every unread message of the conversation
// that readerID did not send. read_at is never cleared or overwritten.
func MarkMessagesRead(ctx context.Context, db *gorm.DB, conversationID, readerID string, at time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND read_at IS NULL", conversationID, readerID).
		Update("read_at", at)
	return res.RowsAffected, res.Error
}

// CountUnreadForUser counts messages addressed to userID that are unread,
// across every conversation the user takes part in.
func CountUnreadForUser(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Message{}).
		Joins("JOIN conversations ON conversations.id = messages.conversation_id").
		Where("(conversations.client_id = ? OR conversations.professional_id = ?)", userID, userID).
		Where("messages.sender_id <> ? AND messages.read_at IS NULL", userID).
		Count(&n).Error
	return n, err
}

// CountUnreadInConversation counts unread messages addressed to userID in one
// conversation.
func CountUnreadInConversation(ctx context.Context, db *gorm.DB, conversationID, userID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND read_at IS NULL", conversationID, userID).
		Count(&n).Error
	return n, err
}
