package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/casasegura/backend/internal/domain"
)

// CreateConversation inserts the conversation of a job. A second conversation
// for the same job violates ux_conversations_job.
func CreateConversation(ctx context.Context, db *gorm.DB, jobID, clientID, professionalID string) (*domain.Conversation, error) {
	now := time.Now().UTC()
	c := &domain.Conversation{
		ID:             uuid.NewString(),
		JobID:          jobID,
		ClientID:       clientID,
		ProfessionalID: professionalID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// GetConversation fetches a conversation by id.
func GetConversation(ctx context.Context, db *gorm.DB, id string) (*domain.Conversation, error) {
	var c domain.Conversation
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetConversationByJob fetches the conversation bound to jobID.
func GetConversationByJob(ctx context.Context, db *gorm.DB, jobID string) (*domain.Conversation, error) {
	var c domain.Conversation
	if err := db.WithContext(ctx).Where("job_id = ?", jobID).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListConversations returns the conversations userID takes part in, most
// recently active first.
func ListConversations(ctx context.Context, db *gorm.DB, userID string) ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := db.WithContext(ctx).
		Where("client_id = ? OR professional_id = ?", userID, userID).
		Order("COALESCE(last_message_at, created_at) DESC, id DESC").
		Find(&out).Error
	return out, err
}

// ListConversationIDs returns only the ids of userID's conversations.
func ListConversationIDs(ctx context.Context, db *gorm.DB, userID string) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("client_id = ? OR professional_id = ?", userID, userID).
		Pluck("id", &ids).Error
	return ids, err
}

// SetConversationProfessional rebinds a job's conversation to a new
// professional after reassignment.
func SetConversationProfessional(ctx context.Context, db *gorm.DB, jobID, professionalID string) error {
	return db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("job_id = ?", jobID).
		Updates(map[string]any{"professional_id": professionalID, "updated_at": time.Now().UTC()}).Error
}

// TouchConversation stamps last_message_at. Issued first inside the send
// transaction, it locks the conversation row so seq allocation is serialized.
func TouchConversation(ctx context.Context, db *gorm.DB, id string, at time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]any{"last_message_at": at, "updated_at": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
