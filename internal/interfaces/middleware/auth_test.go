package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/nexusflow/backend/pkg/auth"
	"github.com/nexusflow/backend/pkg/constants"
	"github.com/nexusflow/backend/pkg/versioning"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthRouter(a *auth.Authenticator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Cors())
	r.GET("/me", RequireAuth(a), func(c *gin.Context) {
		user := c.MustGet(constants.ContextKeyUser).(auth.UserSession)
		c.JSON(http.StatusOK, gin.H{"org": user.OrganizationID})
	})
	return r
}

func TestRequireAuth(t *testing.T) {
	a := auth.NewAuthenticator("secret")
	token, err := a.GenerateToken(auth.UserSession{ID: "u-1", OrganizationID: "org-1"})
	require.NoError(t, err)
	router := newAuthRouter(a)

	tests := []struct {
		name   string
		header string
		query  string
		status int
	}{
		{name: "valid header", header: "Bearer " + token, status: http.StatusOK},
		{name: "query token", query: "?" + QueryParamToken + "=" + token, status: http.StatusOK},
		{name: "missing", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic " + token, status: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer nope", status: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set(constants.HeaderAuthorization, tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			if tt.status == http.StatusOK {
				assert.Equal(t, "org-1", body["org"])
			} else {
				assert.Equal(t, "UNAUTHORIZED", body["code"])
			}
		})
	}
}

func TestCorsPreflight(t *testing.T) {
	router := newAuthRouter(auth.NewAuthenticator("secret"))

	req := httptest.NewRequest(http.MethodOptions, "/me", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestAPIVersion(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(APIVersion())
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, c.MustGet(constants.ContextKeyAPIVersion).(versioning.APIVersion).String())
	})

	tests := []struct {
		header string
		status int
		body   string
	}{
		{header: "", status: http.StatusOK, body: "v1.0"},
		{header: "v1", status: http.StatusOK, body: "v1.0"},
		{header: "v2.0", status: http.StatusBadRequest},
		{header: "v1.9", status: http.StatusBadRequest},
		{header: "banana", status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ping", nil)
			if tt.header != "" {
				req.Header.Set(versioning.HeaderAPIVersion, tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "v1.0", w.Header().Get(versioning.HeaderAPIVersion))
			if tt.status == http.StatusOK {
				assert.Equal(t, tt.body, w.Body.String())
			} else {
				assert.Contains(t, w.Body.String(), "UNSUPPORTED_API_VERSION")
			}
		})
	}
}
