// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, authentication, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/casasegura/backend/docs"
	"github.com/casasegura/backend/internal/auth"
	"github.com/casasegura/backend/internal/config"
	"github.com/casasegura/backend/internal/domain"
	"github.com/casasegura/backend/internal/http/handlers"
	"github.com/casasegura/backend/internal/http/middleware"
	"github.com/casasegura/backend/internal/realtime"
	"github.com/casasegura/backend/internal/services"
)

// ChatSocketPath is where the websocket channel lives, outside the API base
// path.
const ChatSocketPath = "/chat"

// Request allowance of the register, login and refresh endpoints per client IP.
const (
	credentialRPS   = 0.5
	credentialBurst = 10
)

// Services is the application graph mounted by RegisterRoutes.
type Services struct {
	Tokens        *auth.Manager
	Auth          *services.AuthService
	Addresses     *services.AddressService
	Jobs          *services.JobService
	Reviews       *services.ReviewService
	Credits       *services.CreditService
	Referrals     *services.ReferralService
	Chat          *services.ChatService
	Notifications *services.NotificationService
	Idempotency   *services.IdempotencyService
	Hub           *realtime.Hub
}

// NewServices builds every service over db. A nil broker keeps chat fan-out
// in process; a nil uploads disables attachments. The hub is returned
// unstarted.
func NewServices(db *gorm.DB, cfg config.Config, broker realtime.Broker, uploads services.UploadSigner) *Services {
	tokens := auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL)
	referrals := &services.ReferralService{
		DB:           db,
		BonusCents:   cfg.Referral.BonusCents,
		WelcomeCents: cfg.Referral.WelcomeCents,
	}
	chat := &services.ChatService{DB: db, Uploads: uploads}
	hub := realtime.NewHub(chat, broker)
	notifications := &services.NotificationService{DB: db, Publisher: hub}

	return &Services{
		Tokens:    tokens,
		Auth:      &services.AuthService{DB: db, Tokens: tokens, Referrals: referrals},
		Addresses: &services.AddressService{DB: db},
		Jobs: &services.JobService{
			DB:              db,
			Referrals:       referrals,
			Notifier:        notifications,
			CodePrefix:      cfg.Jobs.CodePrefix,
			GuaranteeWindow: cfg.Jobs.GuaranteeWindow,
		},
		Reviews:       &services.ReviewService{DB: db, Notifier: notifications},
		Credits:       &services.CreditService{DB: db},
		Referrals:     referrals,
		Chat:          chat,
		Notifications: notifications,
		Idempotency:   &services.IdempotencyService{DB: db, TTL: cfg.IdempotencyTTL},
		Hub:           hub,
	}
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. shutdown ends live websocket sessions when it is cancelled.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. gzip (the websocket path excluded)
//  8. CORS and Security headers
//
// and, inside the API group:
//  9. Authenticate: bearer token to caller, when present
//  10. Idempotency validator (before rate limiter to allow bypass on replay)
//  11. Rate limiter (per user/IP, bypass on replay), plus a per-IP one on
//     the credential endpoints
func RegisterRoutes(shutdown context.Context, r *gin.Engine, svc *Services, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders:   []string{"Authorization", "Cookie"},
		MaskParams:    []string{"code"},
		SlowThreshold: cfg.SlowRequest,
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Response compression; a hijacked socket must not be wrapped
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{ChatSocketPath, "/metrics"})))

	// 8) CORS posture and security headers
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins))
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(handlers.Deps{
		Auth:          svc.Auth,
		Addresses:     svc.Addresses,
		Jobs:          svc.Jobs,
		Reviews:       svc.Reviews,
		Credits:       svc.Credits,
		Referrals:     svc.Referrals,
		Chat:          svc.Chat,
		Live:          svc.Hub,
		Notifications: svc.Notifications,
		Tokens:        svc.Tokens,
		Upgrader:      realtime.NewUpgrader(cfg.CORS.AllowedOrigins),
		Conn: realtime.ConnOptions{
			SendBuffer:   cfg.Chat.SendBuffer,
			PingInterval: cfg.Chat.PingInterval,
			WriteTimeout: cfg.Chat.WriteTimeout,
		},
		Shutdown: shutdown,
	})

	// Realtime channel
	r.GET(ChatSocketPath, h.ChatSocket)

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(middleware.Authenticate(svc.Tokens))
	api.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, svc.Idempotency))
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	api.Use(rl.Handler())

	// Anonymous; credentials get their own per-IP limit on top
	credentials := middleware.NewRateLimiter(credentialRPS, credentialBurst, middleware.KeyByIP()).Named("credentials")
	{
		api.POST("/auth/register", credentials.Handler(), h.Register)
		api.POST("/auth/login", credentials.Handler(), h.Login)
		api.POST("/auth/refresh", credentials.Handler(), h.Refresh)
		api.GET("/reviews/professional/:userId", h.ProfessionalReviews)
	}

	authed := api.Group("", middleware.RequireAuth(), middleware.Idempotent(svc.Idempotency))
	{
		authed.GET("/auth/me", h.Me)

		// Addresses
		authed.GET("/addresses", h.ListAddresses)
		authed.POST("/addresses", h.CreateAddress)
		authed.GET("/addresses/:id", h.GetAddress)
		authed.PATCH("/addresses/:id", h.UpdateAddress)
		authed.DELETE("/addresses/:id", h.DeleteAddress)
		authed.PATCH("/addresses/:id/default", h.SetDefaultAddress)

		// Jobs
		authed.POST("/jobs", h.CreateJob)
		authed.GET("/jobs", h.ListJobs)
		authed.GET("/jobs/:id", h.GetJob)
		authed.GET("/jobs/:id/history", h.JobHistory)
		authed.GET("/jobs/:id/quotes", h.ListQuotes)
		authed.POST("/jobs/:id/quotes", h.SubmitQuote)
		authed.PATCH("/jobs/:id/status", h.TransitionJob)

		// Reviews
		authed.POST("/reviews", h.CreateReview)
		authed.GET("/reviews/job/:jobId", h.ReviewByJob)
		authed.GET("/reviews/my", h.MyReviews)

		// Referrals and credits
		authed.GET("/referrals/code", h.ReferralCode)
		authed.POST("/referrals/redeem", h.RedeemReferral)
		authed.GET("/referrals/credits/balance", h.CreditBalance)
		authed.GET("/referrals/credits/transactions", h.CreditTransactions)
		authed.POST("/referrals/credits/apply-to-job", h.ApplyCredits)

		// Chat
		authed.GET("/chat/conversations", h.ListConversations)
		authed.POST("/chat/conversations", h.OpenConversation)
		authed.GET("/chat/conversations/:id", h.GetConversation)
		authed.GET("/chat/conversations/:id/messages", h.ListMessages)
		authed.POST("/chat/conversations/:id/messages", h.SendMessage)
		authed.POST("/chat/conversations/:id/read", h.MarkConversationRead)
		authed.POST("/chat/conversations/:id/attachments", h.CreateAttachment)
		authed.GET("/chat/unread-count", h.UnreadCount)

		// Notifications
		authed.GET("/notifications", h.ListNotifications)
		authed.PATCH("/notifications/:id/read", h.MarkNotificationRead)
	}

	admin := authed.Group("", middleware.RequireRole(domain.RoleAdmin))
	{
		admin.POST("/jobs/:id/assign", h.AssignJob)
		admin.POST("/referrals/credits/grant", h.GrantCredits)
	}
}

// corsMiddleware allows every origin when none is configured (credentials
// off), otherwise only the allowlist.
func corsMiddleware(origins []string) gin.HandlerFunc {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match", middleware.HeaderIdempotencyKey},
		ExposeHeaders: []string{"X-Request-ID", "ETag", "Content-Length", middleware.HeaderIdempotentReplayed},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
		c.AllowCredentials = true
	}
	return cors.New(c)
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
