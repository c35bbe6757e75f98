package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/casasegura/backend/internal/auth"
	"github.com/casasegura/backend/internal/config"
	"github.com/casasegura/backend/internal/domain"
	"github.com/casasegura/backend/internal/http/middleware"
	"github.com/casasegura/backend/internal/repo"
	"github.com/casasegura/backend/internal/services"
)

// --- test DB helper (pure-Go sqlite, no CGO) ---
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:router_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath:    "/api/v1",
		RateRPS:        1000,
		RateBurst:      1000,
		IdempotencyTTL: time.Hour,
		Auth: config.AuthConfig{
			JWTSecret:  "router-test-secret-router-test-secret",
			Issuer:     "casasegura-test",
			AccessTTL:  time.Hour,
			RefreshTTL: 24 * time.Hour,
		},
		Jobs:     config.JobsConfig{CodePrefix: "CS", GuaranteeWindow: 90 * 24 * time.Hour},
		Referral: config.ReferralConfig{BonusCents: 2000, WelcomeCents: 1000},
		Chat:     config.ChatConfig{SendBuffer: 16, PingInterval: time.Minute, WriteTimeout: 5 * time.Second},
		OTEL:     config.OTELConfig{ServiceName: "test-svc"},
	}
}

type testAPI struct {
	t   *testing.T
	db  *gorm.DB
	svc *Services
	r   *gin.Engine
}

func newTestAPI(t *testing.T, cfg config.Config) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)
	svc := NewServices(db, cfg, nil, nil)
	svc.Auth.BcryptCost = bcrypt.MinCost

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, svc.Hub.Start(ctx))
	t.Cleanup(func() {
		cancel()
		_ = svc.Hub.Close()
	})

	r := gin.New()
	RegisterRoutes(ctx, r, svc, cfg)
	return &testAPI{t: t, db: db, svc: svc, r: r}
}

func (a *testAPI) do(method, path, token string, body any, headers ...string) *httptest.ResponseRecorder {
	a.t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(a.t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	a.r.ServeHTTP(w, req)
	return w
}

// register signs up through the API and returns the access token and user id.
func (a *testAPI) register(name, role string) (string, string) {
	a.t.Helper()
	w := a.do(http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"name":     name,
		"email":    strings.ToLower(name) + "-" + uuid.NewString()[:6] + "@example.com",
		"password": "s3cret-pass",
		"role":     role,
	})
	require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())
	var s services.Session
	require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), &s))
	require.NotEmpty(a.t, s.Tokens.AccessToken)
	return s.Tokens.AccessToken, s.User.ID
}

// admin inserts an admin directly; registration never hands out that role.
func (a *testAPI) admin() string {
	a.t.Helper()
	ctx := context.Background()
	id := uuid.NewString()
	u := &domain.User{
		ID: id, Name: "Admin", Email: id + "@example.com", PasswordHash: "x",
		Role: domain.RoleAdmin, ReferralCode: strings.ToUpper(id[:8]),
	}
	require.NoError(a.t, repo.CreateUser(ctx, a.db, u))
	require.NoError(a.t, repo.EnsureCreditBalance(ctx, a.db, id))
	pair, err := a.svc.Tokens.Issue(auth.Identity{UserID: id, Role: domain.RoleAdmin})
	require.NoError(a.t, err)
	return pair.AccessToken
}

func TestRegisterRoutes_CORSAllowAll_Health_Metrics_Fallbacks(t *testing.T) {
	api := newTestAPI(t, testConfig())

	w := api.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	require.NotEmpty(t, w.Header().Get("X-Request-ID"))
	require.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	w = api.do(http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "casasegura_http_requests_total")

	w = api.do(http.MethodGet, "/nope", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Contains(t, w.Body.String(), `"code":"not_found"`)

	w = api.do(http.MethodPost, "/health", "", nil)
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestRegisterRoutes_CORSWithOrigins_HeaderEcho(t *testing.T) {
	cfg := testConfig()
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://app.example.com"}}
	api := newTestAPI(t, cfg)

	w := api.do(http.MethodGet, "/health", "", nil, "Origin", "http://app.example.com")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "http://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	w = api.do(http.MethodGet, "/health", "", nil, "Origin", "http://evil.example.com")
	require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func Test_limitBody_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")))
	require.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	groupWithPrefix(r, "").GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, w.Code, path)
		require.Equal(t, want, w.Body.String(), path)
	}
}

func TestAuthFlow(t *testing.T) {
	api := newTestAPI(t, testConfig())

	token, uid := api.register("Maria", "client")

	w := api.do(http.MethodGet, "/api/v1/auth/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var me domain.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &me))
	require.Equal(t, uid, me.ID)
	require.Equal(t, domain.RoleClient, me.Role)

	require.Equal(t, http.StatusUnauthorized, api.do(http.MethodGet, "/api/v1/auth/me", "", nil).Code)
	require.Equal(t, http.StatusUnauthorized, api.do(http.MethodGet, "/api/v1/auth/me", "garbage", nil).Code)

	// anonymous routes stay open
	w = api.do(http.MethodGet, "/api/v1/reviews/professional/"+uuid.NewString(), "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// admins only
	w = api.do(http.MethodPost, "/api/v1/referrals/credits/grant", token, map[string]any{"userId": uid, "amount": 100})
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestAddresses_SingleDefault(t *testing.T) {
	api := newTestAPI(t, testConfig())
	token, _ := api.register("Joao", "client")

	create := func(street string, isDefault bool) domain.Address {
		w := api.do(http.MethodPost, "/api/v1/addresses", token, map[string]any{
			"street": street, "number": "10", "neighborhood": "Centro",
			"city": "Curitiba", "state": "PR", "zip_code": "80010-000", "is_default": isDefault,
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		var a domain.Address
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &a))
		return a
	}

	first := create("Rua A", false)
	require.True(t, first.IsDefault, "first address becomes the default")
	second := create("Rua B", false)
	require.False(t, second.IsDefault)

	w := api.do(http.MethodPatch, "/api/v1/addresses/"+second.ID+"/default", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = api.do(http.MethodGet, "/api/v1/addresses", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var all []domain.Address
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	require.Len(t, all, 2)
	defaults := 0
	for _, a := range all {
		if a.IsDefault {
			defaults++
			require.Equal(t, second.ID, a.ID)
		}
	}
	require.Equal(t, 1, defaults)

	// someone else's address is invisible
	other, _ := api.register("Ana", "client")
	w = api.do(http.MethodGet, "/api/v1/addresses/"+second.ID, other, nil)
	require.Contains(t, []int{http.StatusNotFound, http.StatusForbidden}, w.Code)
}

func TestIdempotentWrite_Replays(t *testing.T) {
	api := newTestAPI(t, testConfig())
	token, _ := api.register("Paula", "client")

	body := map[string]any{"title": "Trocar chuveiro", "description": "queimado"}
	w1 := api.do(http.MethodPost, "/api/v1/jobs", token, body, middleware.HeaderIdempotencyKey, "job-create-1")
	require.Equal(t, http.StatusCreated, w1.Code, w1.Body.String())
	require.Empty(t, w1.Header().Get(middleware.HeaderIdempotentReplayed))

	w2 := api.do(http.MethodPost, "/api/v1/jobs", token, body, middleware.HeaderIdempotencyKey, "job-create-1")
	require.Equal(t, http.StatusCreated, w2.Code)
	require.Equal(t, "true", w2.Header().Get(middleware.HeaderIdempotentReplayed))
	require.JSONEq(t, w1.Body.String(), w2.Body.String())

	var count int64
	require.NoError(t, api.db.Model(&domain.Job{}).Count(&count).Error)
	require.EqualValues(t, 1, count)

	w := api.do(http.MethodPost, "/api/v1/jobs", token, body, middleware.HeaderIdempotencyKey, "bad key!")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminGrant_CreditsBalance(t *testing.T) {
	api := newTestAPI(t, testConfig())
	token, uid := api.register("Rita", "client")
	admin := api.admin()

	w := api.do(http.MethodPost, "/api/v1/referrals/credits/grant", admin, map[string]any{
		"userId": uid, "amount": 1500, "reference": "ticket 1",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = api.do(http.MethodGet, "/api/v1/referrals/credits/balance", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var bal domain.CreditBalance
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &bal))
	require.EqualValues(t, 1500, bal.Balance)

	w = api.do(http.MethodGet, "/api/v1/referrals/credits/transactions", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"type":"ADJUSTMENT"`)
}

func TestChatSocket_Handshake(t *testing.T) {
	api := newTestAPI(t, testConfig())
	token, _ := api.register("Lucas", "professional")

	srv := httptest.NewServer(api.r)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + ChatSocketPath

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	ws, resp, err := websocket.DefaultDialer.Dial(url+"?token="+token, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	require.NoError(t, ws.Close())
}
