package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/casasegura/backend/internal/domain"
)

// CreateNotification inserts an inbox entry for userID.
func CreateNotification(ctx context.Context, db *gorm.DB, userID, typ, title, body string, jobID *string) (*domain.Notification, error) {
	n := &domain.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      typ,
		Title:     title,
		Body:      body,
		JobID:     jobID,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(n).Error; err != nil {
		return nil, err
	}
	return n, nil
}

// CountNotifications returns the number of notifications of userID; with
// unreadOnly it counts only unread ones.
func CountNotifications(ctx context.Context, db *gorm.DB, userID string, unreadOnly bool) (int64, error) {
	q := db.WithContext(ctx).Model(&domain.Notification{}).Where("user_id = ?", userID)
	if unreadOnly {
		q = q.Where("read_at IS NULL")
	}
	var n int64
	err := q.Count(&n).Error
	return n, err
}

// ListNotificationsPage returns notifications of userID, newest first.
func ListNotificationsPage(ctx context.Context, db *gorm.DB, userID string, unreadOnly bool, offset, limit int) ([]domain.Notification, error) {
	q := db.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		q = q.Where("read_at IS NULL")
	}
	var out []domain.Notification
	err := q.Order("created_at DESC, id DESC").Offset(offset).Limit(limit).Find(&out).Error
	return out, err
}

// MarkNotificationRead sets read_at on a notification owned by userID. An
// already-read notification is left untouched; a missing or foreign one
// yields ErrNotFound.
func MarkNotificationRead(ctx context.Context, db *gorm.DB, id, userID string, at time.Time) (*domain.Notification, error) {
	var n domain.Notification
	if err := db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&n).Error; err != nil {
		return nil, err
	}
	if n.ReadAt != nil {
		return &n, nil
	}
	if err := db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("id = ? AND read_at IS NULL", id).
		Update("read_at", at).Error; err != nil {
		return nil, err
	}
	n.ReadAt = &at
	return &n, nil
}
