package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/casasegura/backend/internal/auth"
	"github.com/casasegura/backend/internal/domain"
	"github.com/casasegura/backend/internal/http/middleware"
	"github.com/casasegura/backend/internal/realtime"
	"github.com/casasegura/backend/internal/services"
	"github.com/casasegura/backend/internal/storage"
	"github.com/casasegura/backend/internal/utils"
)

// AuthService is the subset of *services.AuthService used by the handlers.
type AuthService interface {
	Register(ctx context.Context, in services.RegisterInput) (*services.Session, error)
	Login(ctx context.Context, email, password string) (*services.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*services.Session, error)
	Me(ctx context.Context, userID string) (*domain.User, error)
}

// AddressService manages a user's addresses.
type AddressService interface {
	List(ctx context.Context, userID string) ([]domain.Address, error)
	Get(ctx context.Context, userID, id string) (*domain.Address, error)
	Create(ctx context.Context, userID string, in services.AddressInput) (*domain.Address, error)
	Update(ctx context.Context, userID, id string, p services.AddressPatch) (*domain.Address, error)
	SetDefault(ctx context.Context, userID, id string) (*domain.Address, error)
	Delete(ctx context.Context, userID, id string) error
}

// JobService drives the job lifecycle.
type JobService interface {
	Create(ctx context.Context, actor services.Actor, in services.JobInput) (*domain.Job, error)
	Get(ctx context.Context, actor services.Actor, id string) (*domain.Job, error)
	List(ctx context.Context, actor services.Actor, status domain.JobStatus, page, pageSize int) ([]domain.Job, utils.PageMeta, error)
	History(ctx context.Context, actor services.Actor, id string) ([]domain.JobStatusEvent, error)
	Quotes(ctx context.Context, actor services.Actor, id string) ([]domain.Quote, error)
	Transition(ctx context.Context, actor services.Actor, jobID string, to domain.JobStatus, opts services.TransitionOptions) (*domain.Job, error)
	SubmitQuote(ctx context.Context, actor services.Actor, jobID string, amount int64, description string) (*domain.Quote, error)
	Assign(ctx context.Context, actor services.Actor, jobID, professionalID string) (*domain.Job, error)
}

// ReviewService creates and reads reviews.
type ReviewService interface {
	Create(ctx context.Context, jobID, reviewerID, reviewedID string, r domain.Ratings, comment string) (*domain.Review, error)
	ByJob(ctx context.Context, jobID string) (*domain.Review, error)
	ByUser(ctx context.Context, userID, direction string) ([]domain.Review, error)
	ByProfessional(ctx context.Context, userID string, skip, take int) ([]domain.Review, utils.PageMeta, error)
}

// CreditService reads and spends the credits ledger.
type CreditService interface {
	Balance(ctx context.Context, userID string) (*domain.CreditBalance, error)
	ApplyToJob(ctx context.Context, userID, jobID string, jobAmount int64) (services.ApplyResult, error)
	Grant(ctx context.Context, userID string, typ domain.CreditType, amount int64, reference string) (*domain.CreditTransaction, error)
	Transactions(ctx context.Context, userID string, page, pageSize int) ([]domain.CreditTransaction, utils.PageMeta, error)
}

// ReferralService exposes referral codes.
type ReferralService interface {
	Info(ctx context.Context, userID string) (services.ReferralInfo, error)
	Redeem(ctx context.Context, userID, code string) (*domain.Referral, error)
}

// ChatService is the stored side of chat.
type ChatService interface {
	Conversations(ctx context.Context, userID string) ([]services.ConversationView, error)
	OpenForJob(ctx context.Context, userID, jobID string) (*domain.Conversation, error)
	Conversation(ctx context.Context, userID, conversationID string) (*domain.Conversation, error)
	Messages(ctx context.Context, userID, conversationID string, page, pageSize int) ([]domain.Message, utils.PageMeta, error)
	MessagesETag(ctx context.Context, conversationID string, page, pageSize int) (string, error)
	AttachmentUpload(ctx context.Context, userID, conversationID, contentType string, size int64) (*storage.Upload, error)
	UnreadCount(ctx context.Context, userID string) (int64, error)
}

// LiveChat is the live side of chat; *realtime.Hub implements it. Writes
// made over REST go through it so connected peers see them.
type LiveChat interface {
	SendMessage(ctx context.Context, userID string, in realtime.SendMessage) (*domain.Message, error)
	MarkRead(ctx context.Context, userID, conversationID string) (int64, error)
	Serve(ctx context.Context, ws *websocket.Conn, id auth.Identity, opts realtime.ConnOptions)
}

// NotificationService is the user's inbox.
type NotificationService interface {
	List(ctx context.Context, userID string, unreadOnly bool, page, pageSize int) ([]domain.Notification, utils.PageMeta, error)
	MarkRead(ctx context.Context, userID, id string) (*domain.Notification, error)
}

// Deps lists what the handlers need.
type Deps struct {
	Auth          AuthService
	Addresses     AddressService
	Jobs          JobService
	Reviews       ReviewService
	Credits       CreditService
	Referrals     ReferralService
	Chat          ChatService
	Live          LiveChat
	Notifications NotificationService

	// Websocket handshake
	Tokens   middleware.TokenVerifier
	Upgrader *websocket.Upgrader
	Conn     realtime.ConnOptions
	// Shutdown ends every websocket served by these handlers when done.
	Shutdown context.Context
}

// Handlers bundles service dependencies used by HTTP handlers.
type Handlers struct {
	auth          AuthService
	addresses     AddressService
	jobs          JobService
	reviews       ReviewService
	credits       CreditService
	referrals     ReferralService
	chat          ChatService
	live          LiveChat
	notifications NotificationService

	tokens   middleware.TokenVerifier
	upgrader *websocket.Upgrader
	connOpts realtime.ConnOptions
	shutdown context.Context
}

// New constructs a Handlers instance.
func New(d Deps) *Handlers {
	up := d.Upgrader
	if up == nil {
		up = realtime.NewUpgrader(nil)
	}
	shutdown := d.Shutdown
	if shutdown == nil {
		shutdown = context.Background()
	}
	return &Handlers{
		auth:          d.Auth,
		addresses:     d.Addresses,
		jobs:          d.Jobs,
		reviews:       d.Reviews,
		credits:       d.Credits,
		referrals:     d.Referrals,
		chat:          d.Chat,
		live:          d.Live,
		notifications: d.Notifications,
		tokens:        d.Tokens,
		upgrader:      up,
		connOpts:      d.Conn,
		shutdown:      shutdown,
	}
}

//
// DTOs
//

// ListResponse is the envelope of every paginated listing.
type ListResponse[T any] struct {
	Data []T            `json:"data"`
	Meta utils.PageMeta `json:"meta"`
}

func list[T any](items []T, meta utils.PageMeta) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Data: items, Meta: meta}
}

//
// Helpers
//

func userID(c *gin.Context) string { return middleware.UserID(c) }

func actor(c *gin.Context) services.Actor {
	return services.Actor{ID: middleware.UserID(c), Role: middleware.Role(c)}
}

// pathUUID reads a path parameter that must be a UUID. It answers 400 and
// returns false otherwise.
func pathUUID(c *gin.Context, name string) (string, bool) {
	v := strings.TrimSpace(c.Param(name))
	if _, err := uuid.Parse(v); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, name+" must be a UUID")
		return "", false
	}
	return v, true
}

// pagination parses page/page_size with defaults and caps.
func pagination(c *gin.Context, def, max int) (page, pageSize int) {
	page = utils.AtoiDefault(c.Query("page"), 1)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), def)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > max {
		pageSize = max
	}
	return page, pageSize
}
