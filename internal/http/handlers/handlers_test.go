package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/casasegura/backend/internal/auth"
	"github.com/casasegura/backend/internal/domain"
	"github.com/casasegura/backend/internal/realtime"
	"github.com/casasegura/backend/internal/services"
	"github.com/casasegura/backend/internal/utils"
)

// ---------- stubs ----------

// Each stub embeds its interface so only the methods a test sets are live.

type stubJobs struct {
	JobService
	transition func(actor services.Actor, jobID string, to domain.JobStatus, opts services.TransitionOptions) (*domain.Job, error)
	list       func(actor services.Actor, status domain.JobStatus, page, pageSize int) ([]domain.Job, utils.PageMeta, error)
}

func (s stubJobs) Transition(_ context.Context, a services.Actor, jobID string, to domain.JobStatus, opts services.TransitionOptions) (*domain.Job, error) {
	return s.transition(a, jobID, to, opts)
}

func (s stubJobs) List(_ context.Context, a services.Actor, status domain.JobStatus, page, pageSize int) ([]domain.Job, utils.PageMeta, error) {
	return s.list(a, status, page, pageSize)
}

type stubAddresses struct {
	AddressService
	del func(userID, id string) error
}

func (s stubAddresses) Delete(_ context.Context, userID, id string) error { return s.del(userID, id) }

type stubCredits struct {
	CreditService
	grant func(userID string, typ domain.CreditType, amount int64, reference string) (*domain.CreditTransaction, error)
}

func (s stubCredits) Grant(_ context.Context, userID string, typ domain.CreditType, amount int64, reference string) (*domain.CreditTransaction, error) {
	return s.grant(userID, typ, amount, reference)
}

type stubChat struct {
	ChatService
	etag     string
	messages int
}

func (s *stubChat) Conversation(_ context.Context, userID, id string) (*domain.Conversation, error) {
	if userID != "u1" {
		return nil, services.ErrNotParticipant
	}
	return &domain.Conversation{ID: id}, nil
}

func (s *stubChat) MessagesETag(context.Context, string, int, int) (string, error) {
	return s.etag, nil
}

func (s *stubChat) Messages(_ context.Context, _, id string, page, pageSize int) ([]domain.Message, utils.PageMeta, error) {
	s.messages++
	return []domain.Message{{ID: "m1", ConversationID: id, Seq: 1, Type: domain.MessageText, Content: "oi"}},
		utils.NewPageMeta(1, utils.Offset(page, pageSize), pageSize), nil
}

type stubNotifications struct {
	NotificationService
	gotUnread bool
}

func (s *stubNotifications) List(_ context.Context, _ string, unread bool, page, pageSize int) ([]domain.Notification, utils.PageMeta, error) {
	s.gotUnread = unread
	return nil, utils.NewPageMeta(0, utils.Offset(page, pageSize), pageSize), nil
}

type stubVerifier struct{}

func (stubVerifier) VerifyAccess(token string) (auth.Identity, error) {
	if token == "good" {
		return auth.Identity{UserID: "u1", Role: domain.RoleClient}, nil
	}
	return auth.Identity{}, errors.New("bad token")
}

type stubLive struct {
	LiveChat
	served chan auth.Identity
}

func (s stubLive) Serve(_ context.Context, ws *websocket.Conn, id auth.Identity, _ realtime.ConnOptions) {
	s.served <- id
	_ = ws.Close()
}

// asUser fakes what Authenticate puts in the context.
func asUser(id string, role domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("userID", id)
		c.Set("role", role)
		c.Next()
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("json: %v (%s)", err, w.Body.String())
	}
	return v
}

// ---------- helpers ----------

func TestPagination_Clamps(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		query          string
		page, pageSize int
	}{
		{"", 1, 20},
		{"?page=-3&page_size=9999", 1, 100},
		{"?page=2&page_size=0", 2, 1},
		{"?page=abc&page_size=15", 1, 15},
	}
	for _, tc := range cases {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/"+tc.query, nil)
		p, ps := pagination(c, 20, 100)
		if p != tc.page || ps != tc.pageSize {
			t.Fatalf("%q: got %d,%d want %d,%d", tc.query, p, ps, tc.page, tc.pageSize)
		}
	}
}

func TestList_NilBecomesEmptyArray(t *testing.T) {
	b, err := json.Marshal(list[domain.Job](nil, utils.NewPageMeta(0, 1, 20)))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(b, []byte(`"data":[]`)) {
		t.Fatalf("want empty data array, got %s", b)
	}
}

// ---------- jobs ----------

func TestTransitionJob(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var gotTo domain.JobStatus
	var gotActor services.Actor
	h := New(Deps{Jobs: stubJobs{
		transition: func(a services.Actor, jobID string, to domain.JobStatus, _ services.TransitionOptions) (*domain.Job, error) {
			gotTo, gotActor = to, a
			if to == domain.StatusPaid {
				return nil, &services.TransitionError{From: domain.StatusCreated, To: to, Role: a.Role}
			}
			return &domain.Job{ID: jobID, Status: to}, nil
		},
	}})
	r := gin.New()
	r.Use(asUser("u1", domain.RoleClient))
	r.PATCH("/jobs/:id/status", h.TransitionJob)

	id := uuid.NewString()
	send := func(path, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPatch, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		return w
	}

	// lower case status is accepted
	w := send("/jobs/"+id+"/status", `{"status":" pending_quote "}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if gotTo != domain.StatusPendingQuote || gotActor.ID != "u1" || gotActor.Role != domain.RoleClient {
		t.Fatalf("service got to=%s actor=%+v", gotTo, gotActor)
	}

	// illegal transition
	w = send("/jobs/"+id+"/status", `{"status":"PAID"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("illegal: status=%d", w.Code)
	}
	if er := decode[ErrorResponse](t, w); er.Code != ErrCodeBadRequest {
		t.Fatalf("illegal: code=%s", er.Code)
	}

	// bad id and missing status
	if w := send("/jobs/nope/status", `{"status":"PAID"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("bad uuid: status=%d", w.Code)
	}
	if w := send("/jobs/"+id+"/status", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing status: status=%d", w.Code)
	}
}

func TestListJobs_StatusFilterAndEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var gotStatus domain.JobStatus
	h := New(Deps{Jobs: stubJobs{
		list: func(_ services.Actor, status domain.JobStatus, page, pageSize int) ([]domain.Job, utils.PageMeta, error) {
			gotStatus = status
			return []domain.Job{{ID: "j1", Status: status}}, utils.NewPageMeta(1, utils.Offset(page, pageSize), pageSize), nil
		},
	}})
	r := gin.New()
	r.Use(asUser("u1", domain.RoleClient))
	r.GET("/jobs", h.ListJobs)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/jobs?status=in_progress&page=1&page_size=5", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if gotStatus != domain.StatusInProgress {
		t.Fatalf("status filter=%q", gotStatus)
	}
	body := decode[ListResponse[domain.Job]](t, w)
	if len(body.Data) != 1 || body.Meta.Limit != 5 || body.Meta.Total != 1 {
		t.Fatalf("body=%+v", body)
	}
}

// ---------- addresses ----------

func TestDeleteAddress(t *testing.T) {
	gin.SetMode(gin.TestMode)
	owned := uuid.NewString()
	h := New(Deps{Addresses: stubAddresses{
		del: func(_, id string) error {
			if id == owned {
				return nil
			}
			return services.ErrAddressNotFound
		},
	}})
	r := gin.New()
	r.Use(asUser("u1", domain.RoleClient))
	r.DELETE("/addresses/:id", h.DeleteAddress)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/addresses/"+owned, nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("status=%d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/addresses/"+uuid.NewString(), nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
}

// ---------- credits ----------

func TestGrantCredits_DefaultsReference(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var gotRef string
	var gotType domain.CreditType
	h := New(Deps{Credits: stubCredits{
		grant: func(userID string, typ domain.CreditType, amount int64, reference string) (*domain.CreditTransaction, error) {
			gotRef, gotType = reference, typ
			if amount == 0 {
				return nil, services.ErrInvalidAmount
			}
			return &domain.CreditTransaction{ID: "t1", UserID: userID, Type: typ, Amount: amount, Reference: reference}, nil
		},
	}})
	r := gin.New()
	r.Use(asUser("admin-1", domain.RoleAdmin))
	r.POST("/grant", h.GrantCredits)

	post := func(body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/grant", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		return w
	}

	w := post(`{"userId":"u2","amount":1500}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if gotRef != "admin:admin-1" || gotType != domain.CreditAdjustment {
		t.Fatalf("ref=%q type=%q", gotRef, gotType)
	}

	if w := post(`{"userId":"u2","amount":0}`); w.Code != http.StatusBadRequest {
		t.Fatalf("zero amount: status=%d", w.Code)
	}
	if w := post(`{"amount":5}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing user: status=%d", w.Code)
	}
}

// ---------- chat ----------

func TestListMessages_ETag(t *testing.T) {
	gin.SetMode(gin.TestMode)
	chat := &stubChat{etag: `W/"abc"`}
	h := New(Deps{Chat: chat})
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if u := c.GetHeader("X-User"); u != "" {
			c.Set("userID", u)
		}
		c.Next()
	})
	r.GET("/conversations/:id/messages", h.ListMessages)

	path := "/conversations/" + uuid.NewString() + "/messages"
	get := func(user, inm string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("X-User", user)
		if inm != "" {
			req.Header.Set("If-None-Match", inm)
		}
		r.ServeHTTP(w, req)
		return w
	}

	w := get("u1", "")
	if w.Code != http.StatusOK || w.Header().Get("ETag") != `W/"abc"` {
		t.Fatalf("first: status=%d etag=%q", w.Code, w.Header().Get("ETag"))
	}
	body := decode[ListResponse[domain.Message]](t, w)
	if len(body.Data) != 1 || body.Data[0].Seq != 1 {
		t.Fatalf("body=%+v", body)
	}

	w = get("u1", `W/"abc"`)
	if w.Code != http.StatusNotModified || w.Body.Len() != 0 {
		t.Fatalf("conditional: status=%d len=%d", w.Code, w.Body.Len())
	}
	if chat.messages != 1 {
		t.Fatalf("messages loaded %d times, want 1", chat.messages)
	}

	// outsiders are refused before any ETag is revealed
	w = get("u9", `W/"abc"`)
	if w.Code != http.StatusForbidden || w.Header().Get("ETag") != "" {
		t.Fatalf("outsider: status=%d etag=%q", w.Code, w.Header().Get("ETag"))
	}
}

// ---------- notifications ----------

func TestListNotifications_UnreadFlag(t *testing.T) {
	gin.SetMode(gin.TestMode)
	notes := &stubNotifications{}
	h := New(Deps{Notifications: notes})
	r := gin.New()
	r.Use(asUser("u1", domain.RoleClient))
	r.GET("/notifications", h.ListNotifications)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/notifications?unread=true", nil))
	if w.Code != http.StatusOK || !notes.gotUnread {
		t.Fatalf("status=%d unread=%v", w.Code, notes.gotUnread)
	}
	if body := decode[ListResponse[domain.Notification]](t, w); body.Data == nil {
		t.Fatalf("data should be an empty array")
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/notifications", nil))
	if notes.gotUnread {
		t.Fatalf("unread should default to false")
	}
}

// ---------- websocket ----------

func TestChatSocket_Handshake(t *testing.T) {
	gin.SetMode(gin.TestMode)
	live := stubLive{served: make(chan auth.Identity, 1)}
	h := New(Deps{Live: live, Tokens: stubVerifier{}})
	r := gin.New()
	r.GET("/chat", h.ChatSocket)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + srv.URL[len("http"):] + "/chat"

	// missing and bad tokens are refused before upgrading
	for _, q := range []string{"", "?token=bad"} {
		_, resp, err := websocket.DefaultDialer.Dial(url+q, nil)
		if err == nil {
			t.Fatalf("%q: dial should fail", q)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%q: want 401, got %+v", q, resp)
		}
	}

	ws, _, err := websocket.DefaultDialer.Dial(url+"?token=good", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	if id := <-live.served; id.UserID != "u1" {
		t.Fatalf("served identity=%+v", id)
	}
}
