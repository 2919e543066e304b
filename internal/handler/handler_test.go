package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aman-churiwal/inventory-gateway/internal/config"
	"github.com/aman-churiwal/inventory-gateway/internal/middleware"
	"github.com/aman-churiwal/inventory-gateway/internal/models"
	"github.com/aman-churiwal/inventory-gateway/internal/security"
	"github.com/aman-churiwal/inventory-gateway/internal/service"
	"github.com/aman-churiwal/inventory-gateway/internal/testutil"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// Stands in for Authenticate on admin routes
func asOperator(c *gin.Context) {
	c.Set(middleware.ContextEmail, "ops@x.com")
	c.Next()
}

func send(engine *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}

	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "10.1.1.1:5000"
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "handler-test")

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("invalid JSON body %q: %v", w.Body.String(), err)
	}
}

func TestAPIKeyHandler_Lifecycle(t *testing.T) {
	store := testutil.NewAPIKeyStore()
	h := NewAPIKeyHandler(service.NewAPIKeyService(store, nil, &testutil.InlineDispatcher{}))

	engine := gin.New()
	keys := engine.Group("/admin/keys", asOperator)
	keys.POST("", h.Create)
	keys.GET("", h.List)
	keys.GET("/:id", h.Get)
	keys.PATCH("/:id", h.Update)
	keys.POST("/:id/toggle", h.Toggle)
	keys.POST("/:id/rotate", h.Rotate)
	keys.DELETE("/:id", h.Delete)

	w := send(engine, "POST", "/admin/keys", gin.H{"name": "warehouse", "scopes": []string{"read", "write"}, "rate_limit": 50})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body %s", w.Code, w.Body.String())
	}
	var created struct {
		Key    string        `json:"key"`
		APIKey models.APIKey `json:"api_key"`
	}
	decode(t, w, &created)
	if !strings.HasPrefix(created.Key, "gw_") {
		t.Errorf("Expected plaintext key, got %q", created.Key)
	}
	if created.APIKey.CreatedBy != "ops@x.com" || created.APIKey.RateLimit != 50 {
		t.Errorf("Unexpected key: %+v", created.APIKey)
	}
	if strings.Contains(w.Body.String(), service.HashKey(created.Key)) {
		t.Error("Key hash must not be serialized")
	}

	path := "/admin/keys/" + created.APIKey.ID.String()

	if w := send(engine, "PATCH", path, gin.H{"rate_limit": 10}); w.Code != http.StatusOK {
		t.Fatalf("update: status = %d", w.Code)
	}
	if stored, _ := store.Get(created.APIKey.ID); stored.RateLimit != 10 {
		t.Errorf("Expected rate limit 10, got %d", stored.RateLimit)
	}

	w = send(engine, "POST", path+"/rotate", nil)
	var rotated struct {
		Key string `json:"key"`
	}
	decode(t, w, &rotated)
	if w.Code != http.StatusOK || rotated.Key == created.Key || rotated.Key == "" {
		t.Errorf("rotate: status = %d, key changed = %v", w.Code, rotated.Key != created.Key)
	}

	w = send(engine, "POST", path+"/toggle", nil)
	var toggled models.APIKey
	decode(t, w, &toggled)
	if toggled.IsActive {
		t.Error("Expected toggle to deactivate the key")
	}

	if w := send(engine, "DELETE", path, nil); w.Code != http.StatusOK {
		t.Fatalf("delete: status = %d", w.Code)
	}
	if w := send(engine, "GET", path, nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete: status = %d, want 404", w.Code)
	}
}

func TestAPIKeyHandler_RejectsBadInput(t *testing.T) {
	h := NewAPIKeyHandler(service.NewAPIKeyService(testutil.NewAPIKeyStore(), nil, &testutil.InlineDispatcher{}))

	engine := gin.New()
	engine.POST("/admin/keys", h.Create)
	engine.GET("/admin/keys/:id", h.Get)
	engine.PATCH("/admin/keys/:id", h.Update)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"missing name", "POST", "/admin/keys", gin.H{"scopes": []string{"read"}}, 400},
		{"unknown scope", "POST", "/admin/keys", gin.H{"name": "x", "scopes": []string{"root"}}, 400},
		{"negative limit", "POST", "/admin/keys", gin.H{"name": "x", "rate_limit": -1}, 400},
		{"malformed id", "GET", "/admin/keys/not-a-uuid", nil, 400},
		{"unknown id", "GET", "/admin/keys/7f1d1c8e-0a7e-4f43-9a53-3e4f1f0d6b11", nil, 404},
		{"empty update", "PATCH", "/admin/keys/7f1d1c8e-0a7e-4f43-9a53-3e4f1f0d6b11", gin.H{}, 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := send(engine, tt.method, tt.path, tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func newLoginEngine(t *testing.T, attempts *testutil.AttemptStore, events *testutil.EventStore, users ...models.User) *gin.Engine {
	t.Helper()

	recorder := security.NewRecorder(events, &testutil.InlineDispatcher{})
	detector := security.NewDetector(attempts, recorder, security.ThresholdsFromConfig(config.Default().Security))
	auth, err := service.NewAuthService(testutil.NewUserStore(users...), security.NewTracker(attempts, detector), "test-secret", 1)
	if err != nil {
		t.Fatal(err)
	}

	h := NewAuthHandler(auth)
	engine := gin.New()
	engine.POST("/api/v1/auth/login", h.Login)
	return engine
}

func user(t *testing.T, email, password, status string) models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return models.User{Email: email, PasswordHash: string(hash), Name: "User", Role: models.RoleStaff, Status: status}
}

// Five wrong passwords then the right one: the sixth call succeeds and
// exactly one medium email event is raised
func TestAuthHandler_LoginAfterFailures(t *testing.T) {
	attempts := testutil.NewAttemptStore(nil)
	events := &testutil.EventStore{}
	engine := newLoginEngine(t, attempts, events, user(t, "clerk@x.com", "correct-horse", models.UserStatusActive))

	for i := 0; i < 5; i++ {
		w := send(engine, "POST", "/api/v1/auth/login", gin.H{"email": "clerk@x.com", "password": "wrong"})
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d, want 401", i+1, w.Code)
		}
	}

	w := send(engine, "POST", "/api/v1/auth/login", gin.H{"email": "clerk@x.com", "password": "correct-horse"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	var body struct {
		Token string `json:"token"`
	}
	decode(t, w, &body)
	if body.Token == "" {
		t.Error("Expected a token")
	}

	if got := len(events.Matching(models.EventSuspiciousActivity, models.SeverityMedium)); got != 1 {
		t.Errorf("Expected one medium event, got %d", got)
	}
	if got := len(attempts.All()); got != 6 {
		t.Errorf("Expected 6 recorded attempts, got %d", got)
	}
	if ip := attempts.All()[0].IPAddress; ip != "10.1.1.1" {
		t.Errorf("Expected client address to be recorded, got %q", ip)
	}
}

func TestAuthHandler_LoginStatuses(t *testing.T) {
	engine := newLoginEngine(t, testutil.NewAttemptStore(nil), &testutil.EventStore{},
		user(t, "locked@x.com", "secret-pass", models.UserStatusLocked),
		user(t, "gone@x.com", "secret-pass", models.UserStatusDisabled),
	)

	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{"malformed", gin.H{"email": "not-an-email", "password": "x"}, 400},
		{"unknown email", gin.H{"email": "nobody@x.com", "password": "x"}, 401},
		{"locked", gin.H{"email": "locked@x.com", "password": "secret-pass"}, 403},
		{"disabled", gin.H{"email": "gone@x.com", "password": "secret-pass"}, 403},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := send(engine, "POST", "/api/v1/auth/login", tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestSecurityHandler_BlockAndResolve(t *testing.T) {
	attempts := testutil.NewAttemptStore(nil)
	events := &testutil.EventStore{}
	recorder := security.NewRecorder(events, &testutil.InlineDispatcher{})
	blocklist := security.NewBlocklist(attempts, recorder)
	h := NewSecurityHandler(security.NewService(events, attempts, blocklist))

	engine := gin.New()
	admin := engine.Group("/admin/security", asOperator)
	admin.GET("/events", h.Events)
	admin.POST("/events/:id/resolve", h.Resolve)
	admin.GET("/attempts", h.Attempts)
	admin.GET("/blocked", h.Blocked)
	admin.POST("/block", h.Block)
	admin.POST("/unblock", h.Unblock)

	if w := send(engine, "POST", "/admin/security/block", gin.H{"ip": "nonsense"}); w.Code != http.StatusBadRequest {
		t.Errorf("invalid ip: status = %d, want 400", w.Code)
	}
	if w := send(engine, "POST", "/admin/security/block", gin.H{"ip": "203.0.113.9", "reason": "scraping"}); w.Code != http.StatusOK {
		t.Fatalf("block: status = %d", w.Code)
	}

	w := send(engine, "GET", "/admin/security/blocked", nil)
	var blocked struct {
		Blocked []string `json:"blocked"`
	}
	decode(t, w, &blocked)
	if len(blocked.Blocked) != 1 || blocked.Blocked[0] != "203.0.113.9" {
		t.Errorf("Unexpected blocked list: %v", blocked.Blocked)
	}

	w = send(engine, "GET", "/admin/security/events?severity=high&resolved=false", nil)
	var listed struct {
		Events []models.SecurityEvent `json:"events"`
	}
	decode(t, w, &listed)
	if len(listed.Events) != 1 {
		t.Fatalf("Expected one high event, got %d", len(listed.Events))
	}

	resolvePath := "/admin/security/events/" + listed.Events[0].ID.String() + "/resolve"
	if w := send(engine, "POST", resolvePath, nil); w.Code != http.StatusOK {
		t.Fatalf("resolve: status = %d", w.Code)
	}
	if w := send(engine, "POST", resolvePath, nil); w.Code != http.StatusNotFound {
		t.Errorf("second resolve: status = %d, want 404", w.Code)
	}
	if resolved := events.All()[0]; resolved.ResolvedBy != "ops@x.com" {
		t.Errorf("Expected resolver to be the operator, got %q", resolved.ResolvedBy)
	}

	if w := send(engine, "POST", "/admin/security/unblock", gin.H{"ip": "203.0.113.9"}); w.Code != http.StatusOK {
		t.Fatalf("unblock: status = %d", w.Code)
	}
	if w := send(engine, "POST", "/admin/security/unblock", gin.H{"ip": "203.0.113.9"}); w.Code != http.StatusNotFound {
		t.Errorf("second unblock: status = %d, want 404", w.Code)
	}

	if w := send(engine, "GET", "/admin/security/events?resolved=maybe", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad filter: status = %d, want 400", w.Code)
	}
}
