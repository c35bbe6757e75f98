package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/casasegura/backend/internal/auth"
	"github.com/casasegura/backend/internal/domain"
	"github.com/casasegura/backend/internal/repo"
	"github.com/casasegura/backend/internal/services"
)

type harness struct {
	db     *gorm.DB
	chat   *services.ChatService
	hub    *Hub
	tokens *auth.Manager
	srv    *httptest.Server
	url    string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dsn := fmt.Sprintf("file:rt_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, repo.AutoMigrate(db))

	h := &harness{
		db:     db,
		chat:   &services.ChatService{DB: db},
		tokens: auth.NewManager("realtime-test-secret", "casasegura", time.Hour, time.Hour),
	}
	h.hub = NewHub(h.chat, NewMemoryBroker())
	require.NoError(t, h.hub.Start(context.Background()))

	up := NewUpgrader(nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/chat", func(w http.ResponseWriter, r *http.Request) {
		id, err := h.tokens.VerifyAccess(BearerToken(r))
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.hub.Serve(context.Background(), ws, id, ConnOptions{PingInterval: time.Second})
	})
	h.srv = httptest.NewServer(mux)
	t.Cleanup(h.srv.Close)
	t.Cleanup(func() { _ = h.hub.Close() })
	h.url = "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/chat"
	return h
}

func (h *harness) user(t *testing.T, role domain.Role) (*domain.User, string) {
	t.Helper()
	id := uuid.NewString()
	u := &domain.User{
		ID:           id,
		Name:         "User " + id[:4],
		Email:        id + "@example.com",
		PasswordHash: "x",
		Role:         role,
		ReferralCode: strings.ToUpper(id[:8]),
	}
	require.NoError(t, repo.CreateUser(context.Background(), h.db, u))
	pair, err := h.tokens.Issue(auth.Identity{UserID: id, Role: role})
	require.NoError(t, err)
	return u, pair.AccessToken
}

// conversation creates a client, a professional, a job between them and its
// conversation.
func (h *harness) conversation(t *testing.T) (conv *domain.Conversation, clientTok, proTok string) {
	t.Helper()
	cl, clientTok := h.user(t, domain.RoleClient)
	pro, proTok := h.user(t, domain.RoleProfessional)
	now := time.Now().UTC()
	job := &domain.Job{
		ID:             uuid.NewString(),
		Code:           "CS-" + uuid.NewString()[:13],
		Title:          "Paint wall",
		Status:         domain.StatusAssigned,
		ClientID:       cl.ID,
		ProfessionalID: &pro.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, repo.CreateJob(context.Background(), h.db, job))
	conv, err := repo.CreateConversation(context.Background(), h.db, job.ID, cl.ID, pro.ID)
	require.NoError(t, err)
	return conv, clientTok, proTok
}

func (h *harness) dial(t *testing.T, token string, opts ClientOptions) *Client {
	t.Helper()
	c, err := Dial(context.Background(), h.url, token, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// dropAll closes every server-side connection, as a restart would.
func (h *harness) dropAll() {
	h.hub.mu.RLock()
	var all []*Conn
	for _, set := range h.hub.users {
		for c := range set {
			all = append(all, c)
		}
	}
	h.hub.mu.RUnlock()
	for _, c := range all {
		c.close()
	}
}

func recv[T any](t *testing.T, s *Subscription[T]) T {
	t.Helper()
	select {
	case v, ok := <-s.C:
		require.True(t, ok, "subscription closed")
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	var zero T
	return zero
}

func requireEmpty[T any](t *testing.T, s *Subscription[T]) {
	t.Helper()
	select {
	case v := <-s.C:
		t.Fatalf("unexpected event: %+v", v)
	default:
	}
}

// waitCount skips unread_count pushes until one carries want. The push made
// on connect may or may not arrive after a test subscribes.
func waitCount(t *testing.T, s *Subscription[UnreadCount], want int64) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case v := <-s.C:
			if v.Count == want {
				return
			}
		case <-deadline:
			t.Fatalf("unread_count never reached %d", want)
		}
	}
}
