package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/casasegura/backend/internal/auth"
	"github.com/casasegura/backend/internal/domain"
)

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := auth.NewManager("mw-secret", "casasegura", time.Hour, time.Hour)
	client, err := m.Issue(auth.Identity{UserID: "c1", Role: domain.RoleClient})
	require.NoError(t, err)
	admin, err := m.Issue(auth.Identity{UserID: "a1", Role: domain.RoleAdmin})
	require.NoError(t, err)

	r := gin.New()
	r.Use(Authenticate(m))
	r.GET("/public", func(c *gin.Context) { c.String(http.StatusOK, "anon:"+UserID(c)) })
	r.GET("/me", RequireAuth(), func(c *gin.Context) { c.String(http.StatusOK, UserID(c)+"/"+string(Role(c))) })
	r.GET("/admin", RequireRole(domain.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	cases := []struct {
		name   string
		path   string
		header string
		status int
		body   string
	}{
		{"public anonymous", "/public", "", http.StatusOK, "anon:"},
		{"public with token", "/public", "Bearer " + client.AccessToken, http.StatusOK, "anon:c1"},
		{"malformed header", "/public", "Token abc", http.StatusUnauthorized, ""},
		{"refresh token is not access", "/me", "Bearer " + client.RefreshToken, http.StatusUnauthorized, ""},
		{"me anonymous", "/me", "", http.StatusUnauthorized, ""},
		{"me", "/me", "bearer " + client.AccessToken, http.StatusOK, "c1/client"},
		{"admin as client", "/admin", "Bearer " + client.AccessToken, http.StatusForbidden, ""},
		{"admin anonymous", "/admin", "", http.StatusUnauthorized, ""},
		{"admin", "/admin", "Bearer " + admin.AccessToken, http.StatusNoContent, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			r.ServeHTTP(w, req)
			require.Equal(t, tc.status, w.Code, w.Body.String())
			if tc.body != "" {
				require.Equal(t, tc.body, w.Body.String())
			}
		})
	}
}
