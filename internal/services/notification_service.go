package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/casasegura/backend/internal/domain"
	"github.com/casasegura/backend/internal/repo"
	"github.com/casasegura/backend/internal/utils"
)

// Publisher pushes a server event to every live connection of a user.
// The realtime hub implements it.
type Publisher interface {
	PublishToUser(ctx context.Context, userID, event string, data any) error
}

// Notifier records a notification for a user. Delivery failures are logged,
// never returned, so callers can notify after committing their own work.
type Notifier interface {
	Notify(ctx context.Context, userID, typ, title, body string, jobID *string)
}

// NotificationService stores inbox entries and pushes them live.
type NotificationService struct {
	DB        *gorm.DB
	Publisher Publisher
}

// Notify stores the notification and emits new_notification to the user.
func (s *NotificationService) Notify(ctx context.Context, userID, typ, title, body string, jobID *string) {
	ctx, span := otel.Tracer("services/NotificationService").Start(ctx, "Notify",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("notification.type", typ),
		),
	)
	defer span.End()

	n, err := repo.CreateNotification(ctx, s.DB, userID, typ, title, body, jobID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Str("type", typ).Msg("notification insert failed")
		return
	}
	if s.Publisher == nil {
		return
	}
	if err := s.Publisher.PublishToUser(ctx, userID, "new_notification", n); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("notification publish failed")
	}
}

// List pages through the user's notifications, newest first.
func (s *NotificationService) List(ctx context.Context, userID string, unreadOnly bool, page, pageSize int) ([]domain.Notification, utils.PageMeta, error) {
	ctx, span := otel.Tracer("services/NotificationService").Start(ctx, "List",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Bool("unread_only", unreadOnly),
			attribute.Int("page", page),
		),
	)
	defer span.End()

	_, pageSize = utils.Window(0, pageSize, 20, 100)
	offset := utils.Offset(page, pageSize)
	total, err := repo.CountNotifications(ctx, s.DB, userID, unreadOnly)
	if err != nil {
		return nil, utils.PageMeta{}, err
	}
	meta := utils.NewPageMeta(total, offset, pageSize)
	if total == 0 {
		return []domain.Notification{}, meta, nil
	}
	items, err := repo.ListNotificationsPage(ctx, s.DB, userID, unreadOnly, offset, pageSize)
	return items, meta, err
}

// MarkRead flags one of the user's notifications as read.
func (s *NotificationService) MarkRead(ctx context.Context, userID, id string) (*domain.Notification, error) {
	ctx, span := otel.Tracer("services/NotificationService").Start(ctx, "MarkRead",
		trace.WithAttributes(attribute.String("notification.id", id)))
	defer span.End()

	n, err := repo.MarkNotificationRead(ctx, s.DB, id, userID, time.Now().UTC())
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNotificationNotFound
	}
	return n, err
}
