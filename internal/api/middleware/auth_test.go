package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newAuthEngine(keys []string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(APIKeyAuth(func() []string { return keys }))
	engine.GET("/v1/models", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return engine
}

func TestAPIKeyAuth(t *testing.T) {
	tests := []struct {
		name   string
		keys   []string
		header map[string]string
		query  string
		want   int
	}{
		{name: "no keys configured", keys: nil, want: http.StatusOK},
		{name: "blank keys ignored", keys: []string{"  "}, want: http.StatusOK},
		{name: "missing credential", keys: []string{"secret"}, want: http.StatusUnauthorized},
		{name: "bearer token", keys: []string{"secret"}, header: map[string]string{"Authorization": "Bearer secret"}, want: http.StatusOK},
		{name: "lowercase bearer", keys: []string{"secret"}, header: map[string]string{"Authorization": "bearer secret"}, want: http.StatusOK},
		{name: "x-api-key", keys: []string{"other", "secret"}, header: map[string]string{"X-Api-Key": "secret"}, want: http.StatusOK},
		{name: "query key", keys: []string{"secret"}, query: "?key=secret", want: http.StatusOK},
		{name: "wrong key", keys: []string{"secret"}, header: map[string]string{"Authorization": "Bearer nope"}, want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newAuthEngine(tt.keys)
			req := httptest.NewRequest(http.MethodGet, "/v1/models"+tt.query, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			engine.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestAPIKeyAuthReadsKeysPerRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	keys := []string{"first"}
	engine := gin.New()
	engine.Use(APIKeyAuth(func() []string { return keys }))
	engine.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	do := func(key string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+key)
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)
		return rec.Code
	}
	if code := do("first"); code != http.StatusNoContent {
		t.Fatalf("first key status = %d", code)
	}
	keys = []string{"second"}
	if code := do("first"); code != http.StatusUnauthorized {
		t.Fatalf("rotated key still accepted: %d", code)
	}
	if code := do("second"); code != http.StatusNoContent {
		t.Fatalf("second key status = %d", code)
	}
}
