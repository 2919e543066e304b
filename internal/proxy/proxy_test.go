package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aman-churiwal/inventory-gateway/internal/middleware"
	"github.com/aman-churiwal/inventory-gateway/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestNew_RejectsBadTargets(t *testing.T) {
	for _, target := range []string{"", "localhost:3001", "://bad"} {
		if _, err := New(target); err == nil {
			t.Errorf("New(%q) expected error", target)
		}
	}
}

func TestProxy_ForwardsWithIdentity(t *testing.T) {
	var got *http.Request
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.WriteHeader(http.StatusTeapot)
	}))
	defer upstream.Close()

	p, err := New(upstream.URL)
	if err != nil {
		t.Fatal(err)
	}

	key := &models.APIKey{ID: uuid.New()}
	engine := gin.New()
	engine.Use(middleware.RequestID(), func(c *gin.Context) {
		c.Set(middleware.ContextAPIKey, key)
		c.Next()
	})
	engine.Any("/api/v1/*path", p.Handle)

	req := httptest.NewRequest("GET", "/api/v1/products?api_key=gw_secret&page=2", nil)
	req.Header.Set(middleware.APIKeyHeader, "gw_secret")
	req.Header.Set(userIDHeader, "spoofed")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	if w.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want upstream status", w.Code)
	}
	if w.Header().Get("X-Backend-Server") == "" {
		t.Error("Expected X-Backend-Server header")
	}
	if got == nil {
		t.Fatal("Upstream was not called")
	}
	if got.URL.Path != "/api/v1/products" || got.URL.Query().Get("page") != "2" {
		t.Errorf("Unexpected upstream URL %s", got.URL)
	}
	if got.URL.Query().Has("api_key") || got.Header.Get(middleware.APIKeyHeader) != "" {
		t.Error("API key must not reach the upstream")
	}
	if got.Header.Get(keyIDHeader) != key.ID.String() {
		t.Errorf("key id header = %q", got.Header.Get(keyIDHeader))
	}
	if got.Header.Get(userIDHeader) != "" {
		t.Error("Inbound identity headers must be discarded")
	}
	if got.Header.Get(middleware.RequestIDHeader) == "" {
		t.Error("Expected request id to be forwarded")
	}
}

func TestProxy_UpstreamDownIsBadGateway(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	addr := upstream.URL
	upstream.Close()

	p, err := New(addr)
	if err != nil {
		t.Fatal(err)
	}

	engine := gin.New()
	engine.GET("/api/v1/*path", p.Handle)

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/products", nil))

	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
}
