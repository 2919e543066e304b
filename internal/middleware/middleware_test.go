package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aman-churiwal/inventory-gateway/internal/audit"
	"github.com/aman-churiwal/inventory-gateway/internal/config"
	"github.com/aman-churiwal/inventory-gateway/internal/models"
	"github.com/aman-churiwal/inventory-gateway/internal/ratelimit"
	"github.com/aman-churiwal/inventory-gateway/internal/security"
	"github.com/aman-churiwal/inventory-gateway/internal/service"
	"github.com/aman-churiwal/inventory-gateway/internal/testutil"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type recordingSink struct {
	mu      sync.Mutex
	entries []models.RequestLog
}

func (s *recordingSink) Log(entry models.RequestLog) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return true
}

func (s *recordingSink) last(t *testing.T) models.RequestLog {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		t.Fatal("Expected an audit entry")
	}
	return s.entries[len(s.entries)-1]
}

type harness struct {
	engine    *gin.Engine
	keys      *service.APIKeyService
	keyStore  *testutil.APIKeyStore
	auth      *service.AuthService
	attempts  *testutil.AttemptStore
	events    *testutil.EventStore
	blocklist *security.Blocklist
	sink      AuditSink
}

func newHarness(t *testing.T, sink AuditSink) *harness {
	t.Helper()

	h := &harness{
		keyStore: testutil.NewAPIKeyStore(),
		attempts: testutil.NewAttemptStore(nil),
		events:   &testutil.EventStore{},
		sink:     sink,
	}

	dispatcher := &testutil.InlineDispatcher{}
	recorder := security.NewRecorder(h.events, dispatcher)
	h.blocklist = security.NewBlocklist(h.attempts, recorder)
	h.keys = service.NewAPIKeyService(h.keyStore, nil, dispatcher)

	auth, err := service.NewAuthService(testutil.NewUserStore(), nil, "test-secret", 1)
	if err != nil {
		t.Fatal(err)
	}
	h.auth = auth

	cfg := config.Default()
	router := ratelimit.NewRouter(cfg.RateLimit.Tiers, cfg.RateLimit.Routes, cfg.RateLimit.DefaultTier)
	store := ratelimit.NewMemoryStore(time.Minute)

	engine := gin.New()
	engine.Use(RequestID(), AuditLog(sink), Recovery(), BlockGate(h.blocklist))

	engine.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	engine.GET("/panic", func(c *gin.Context) { panic("boom") })

	api := engine.Group("/api/v1", Authenticate(h.keys, h.auth), RateLimit(store, router, recorder), RequireMethodScopes(nil))
	api.GET("/products", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"items": []string{"widget"}})
	})
	api.POST("/products", func(c *gin.Context) {
		c.JSON(http.StatusCreated, gin.H{"id": 1})
	})

	engine.GET("/admin/keys", Authenticate(h.keys, h.auth, models.ScopeAdmin), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"actor": Actor(c)})
	})

	h.engine = engine
	return h
}

func (h *harness) createKey(t *testing.T, in service.CreateKeyInput) (*models.APIKey, string) {
	t.Helper()
	if in.Name == "" {
		in.Name = "test"
	}
	key, plaintext, err := h.keys.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return key, plaintext
}

func (h *harness) do(method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "10.0.0.1:40000"
	req.Header.Set("User-Agent", "middleware-test")
	for k, v := range header {
		req.Header[http.CanonicalHeaderKey(k)] = v
	}

	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)
	return w
}

func withKey(key string) http.Header {
	return http.Header{APIKeyHeader: []string{key}}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body %q: %v", w.Body.String(), err)
	}
	return body
}

func TestAuthenticate_Rejections(t *testing.T) {
	sink := &recordingSink{}
	h := newHarness(t, sink)

	past := time.Now().Add(-time.Minute)
	_, valid := h.createKey(t, service.CreateKeyInput{Scopes: []string{"read"}})
	_, expired := h.createKey(t, service.CreateKeyInput{ExpiresAt: &past})
	inactiveKey, inactive := h.createKey(t, service.CreateKeyInput{})
	if _, err := h.keys.Toggle(context.Background(), inactiveKey.ID.String()); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		method     string
		path       string
		header     http.Header
		wantStatus int
		wantCode   models.ErrorCode
	}{
		{"missing", "GET", "/api/v1/products", nil, 401, models.CodeMissingAPIKey},
		{"unknown", "GET", "/api/v1/products", withKey("gw_nope"), 401, models.CodeInvalidAPIKey},
		{"inactive", "GET", "/api/v1/products", withKey(inactive), 401, models.CodeInactiveAPIKey},
		{"expired", "GET", "/api/v1/products", withKey(expired), 401, models.CodeExpiredAPIKey},
		{"write without scope", "POST", "/api/v1/products", withKey(valid), 403, models.CodeInsufficientPermissions},
		{"admin without scope", "GET", "/admin/keys", withKey(valid), 403, models.CodeInsufficientPermissions},
		{"malformed bearer", "GET", "/api/v1/products", http.Header{"Authorization": []string{"Token abc"}}, 401, models.CodeInvalidToken},
		{"bad bearer", "GET", "/api/v1/products", http.Header{"Authorization": []string{"Bearer abc"}}, 401, models.CodeInvalidToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := h.do(tt.method, tt.path, tt.header)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if got := decode(t, w)["code"]; got != string(tt.wantCode) {
				t.Errorf("code = %v, want %s", got, tt.wantCode)
			}

			entry := sink.last(t)
			if entry.ErrorCode != tt.wantCode || entry.StatusCode != tt.wantStatus {
				t.Errorf("audit entry = %s/%d, want %s/%d", entry.ErrorCode, entry.StatusCode, tt.wantCode, tt.wantStatus)
			}
		})
	}
}

func TestAuthenticate_AcceptsQueryParameterAndTracksUsage(t *testing.T) {
	sink := &recordingSink{}
	h := newHarness(t, sink)
	key, plaintext := h.createKey(t, service.CreateKeyInput{Scopes: []string{"read"}})

	w := h.do("GET", "/api/v1/products?api_key="+plaintext, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	entry := sink.last(t)
	if entry.ErrorCode != models.CodeSuccess || entry.APIKeyID == nil || *entry.APIKeyID != key.ID {
		t.Errorf("Unexpected audit entry: %+v", entry)
	}

	stored, _ := h.keyStore.Get(key.ID)
	if stored.UsageCount != 1 || len(stored.RecentUsage) != 1 {
		t.Fatalf("Expected one recorded use, got count=%d recent=%d", stored.UsageCount, len(stored.RecentUsage))
	}
	if use := stored.RecentUsage[0]; use.Endpoint != "/api/v1/products" || use.IPAddress != "10.0.0.1" {
		t.Errorf("Unexpected usage entry: %+v", use)
	}
}

func TestAuthenticate_StoreFailureIsSystemError(t *testing.T) {
	sink := &recordingSink{}
	h := newHarness(t, sink)
	h.keyStore.LookupErr = testutil.ErrStoreUnavailable

	w := h.do("GET", "/api/v1/products", withKey("gw_anything"))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if got := decode(t, w)["code"]; got != string(models.CodeSystemError) {
		t.Errorf("code = %v, want SYSTEM_ERROR", got)
	}
}

func TestAuthenticate_BearerTokenScopesFollowRole(t *testing.T) {
	h := newHarness(t, &recordingSink{})

	viewer := &models.User{ID: uuid.New(), Email: "viewer@x.com", Role: models.RoleViewer}
	token, err := h.auth.IssueToken(viewer)
	if err != nil {
		t.Fatal(err)
	}
	bearer := http.Header{"Authorization": []string{"Bearer " + token}}

	if w := h.do("GET", "/api/v1/products", bearer); w.Code != http.StatusOK {
		t.Errorf("viewer read: status = %d, want 200", w.Code)
	}
	if w := h.do("POST", "/api/v1/products", bearer); w.Code != http.StatusForbidden {
		t.Errorf("viewer write: status = %d, want 403", w.Code)
	}

	admin := &models.User{ID: uuid.New(), Email: "admin@x.com", Role: models.RoleAdmin}
	token, _ = h.auth.IssueToken(admin)
	w := h.do("GET", "/admin/keys", http.Header{"Authorization": []string{"Bearer " + token}})
	if w.Code != http.StatusOK {
		t.Fatalf("admin: status = %d, want 200", w.Code)
	}
	if got := decode(t, w)["actor"]; got != "admin@x.com" {
		t.Errorf("actor = %v, want admin@x.com", got)
	}
}

// A key with a ceiling of 3 per hour called 4 times in one minute
func TestRateLimit_KeyCeiling(t *testing.T) {
	sink := &recordingSink{}
	h := newHarness(t, sink)
	_, plaintext := h.createKey(t, service.CreateKeyInput{Scopes: []string{"read"}, RateLimit: 3})

	start := time.Now()
	for i := 1; i <= 3; i++ {
		w := h.do("GET", "/api/v1/products", withKey(plaintext))
		if w.Code != http.StatusOK {
			t.Fatalf("call %d: status = %d, want 200", i, w.Code)
		}
		if got := w.Header().Get("X-RateLimit-Remaining"); got != strconv.Itoa(3-i) {
			t.Errorf("call %d: remaining = %s, want %d", i, got, 3-i)
		}
	}

	w := h.do("GET", "/api/v1/products", withKey(plaintext))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("call 4: status = %d, want 429", w.Code)
	}

	body := decode(t, w)
	if body["code"] != string(models.CodeRateLimited) || body["tier"] != ratelimit.APIKeyTier || body["limit"] != float64(3) {
		t.Errorf("Unexpected 429 body: %v", body)
	}

	resetAt, err := time.Parse(time.RFC3339, body["reset_at"].(string))
	if err != nil {
		t.Fatalf("reset_at is not RFC3339: %v", err)
	}
	if !resetAt.After(start.Add(-time.Second)) || resetAt.After(start.Add(time.Hour+time.Second)) {
		t.Errorf("reset_at %v not within the next hour", resetAt)
	}
	if w.Header().Get("Retry-After") == "" || w.Header().Get("X-RateLimit-Tier") != ratelimit.APIKeyTier {
		t.Error("Expected Retry-After and X-RateLimit-Tier headers")
	}

	if entry := sink.last(t); entry.ErrorCode != models.CodeRateLimited {
		t.Errorf("audit code = %s, want RATE_LIMITED", entry.ErrorCode)
	}
	if events := h.events.Matching(models.EventRateLimitExceeded, models.SeverityLow); len(events) != 1 {
		t.Errorf("Expected one rate_limit_exceeded event, got %d", len(events))
	}
}

func TestRateLimit_SensitiveTierCountsOnlyWrites(t *testing.T) {
	cfg := config.Default()
	router := ratelimit.NewRouter(cfg.RateLimit.Tiers, cfg.RateLimit.Routes, cfg.RateLimit.DefaultTier)
	events := &testutil.EventStore{}
	recorder := security.NewRecorder(events, &testutil.InlineDispatcher{})

	engine := gin.New()
	keys := engine.Group("/admin/keys", RateLimit(ratelimit.NewMemoryStore(time.Minute), router, recorder))
	keys.GET("", func(c *gin.Context) { c.Status(http.StatusOK) })
	keys.GET("/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	keys.POST("", func(c *gin.Context) { c.Status(http.StatusCreated) })

	call := func(method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		req.RemoteAddr = "10.0.0.9:40000"
		req.Header.Set("User-Agent", "admin-console")
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 10; i++ {
		w := call("GET", "/admin/keys")
		if w.Code != http.StatusOK {
			t.Fatalf("GET %d: status = %d, want 200", i+1, w.Code)
		}
		if tier := w.Header().Get("X-RateLimit-Tier"); tier != "api" {
			t.Fatalf("GET %d: tier = %s, want api", i+1, tier)
		}
	}
	if w := call("GET", "/admin/keys/"+uuid.NewString()); w.Code != http.StatusOK {
		t.Fatalf("GET by id: status = %d, want 200", w.Code)
	}

	for i := 1; i <= 3; i++ {
		w := call("POST", "/admin/keys")
		if w.Code != http.StatusCreated {
			t.Fatalf("POST %d: status = %d, want 201", i, w.Code)
		}
		if tier := w.Header().Get("X-RateLimit-Tier"); tier != "sensitive" {
			t.Errorf("POST %d: tier = %s, want sensitive", i, tier)
		}
	}

	if w := call("POST", "/admin/keys"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("POST 4: status = %d, want 429", w.Code)
	}
	if w := call("GET", "/admin/keys"); w.Code != http.StatusOK {
		t.Errorf("GET after write budget exhausted: status = %d, want 200", w.Code)
	}
}

func TestBlockGate_RejectsBlockedOriginWithValidKey(t *testing.T) {
	sink := &recordingSink{}
	h := newHarness(t, sink)
	_, plaintext := h.createKey(t, service.CreateKeyInput{Scopes: []string{"read"}})

	for i := 0; i < 50; i++ {
		reason := models.FailureInvalidPassword
		h.attempts.Create(context.Background(), &models.LoginAttempt{Email: "user@x.com", IPAddress: "10.0.0.1", FailureReason: &reason})
	}
	recorder := security.NewRecorder(h.events, &testutil.InlineDispatcher{})
	sweeper := security.NewSweeper(h.attempts, recorder, nil, config.Default().Security)
	if blocked, err := sweeper.SweepOnce(context.Background()); err != nil || blocked != 1 {
		t.Fatalf("SweepOnce() = %d, %v", blocked, err)
	}

	w := h.do("GET", "/api/v1/products", withKey(plaintext))
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	body := decode(t, w)
	if body["code"] != string(models.CodeIPBlocked) || body["error"] != "Access denied" {
		t.Errorf("Unexpected body: %v", body)
	}
	if events := h.events.Matching(models.EventUnauthorizedAccess, models.SeverityHigh); len(events) != 1 {
		t.Errorf("Expected one unauthorized_access event, got %d", len(events))
	}
	if entry := sink.last(t); entry.ErrorCode != models.CodeIPBlocked {
		t.Errorf("audit code = %s, want IP_BLOCKED", entry.ErrorCode)
	}
}

func TestBlockGate_FailsOpenOnLookupError(t *testing.T) {
	h := newHarness(t, &recordingSink{})
	_, plaintext := h.createKey(t, service.CreateKeyInput{Scopes: []string{"read"}})
	h.attempts.LookupErr = testutil.ErrStoreUnavailable

	if w := h.do("GET", "/api/v1/products", withKey(plaintext)); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestAuditLog_StoreOutageLeavesResponseIntact(t *testing.T) {
	logger := audit.NewRequestLogger(&testutil.RequestLogStore{Err: testutil.ErrStoreUnavailable}, audit.Config{BatchSize: 1})
	logger.Start()
	defer logger.Close(context.Background())

	h := newHarness(t, logger)
	_, plaintext := h.createKey(t, service.CreateKeyInput{Scopes: []string{"read"}})

	for i := 0; i < 3; i++ {
		w := h.do("GET", "/api/v1/products", withKey(plaintext))
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		if w.Body.String() != `{"items":["widget"]}` {
			t.Errorf("Unexpected body %s", w.Body.String())
		}
	}
}

func TestAuditLog_SkipsHealthAndRecordsPanics(t *testing.T) {
	sink := &recordingSink{}
	h := newHarness(t, sink)

	h.do("GET", "/health", nil)
	if len(sink.entries) != 0 {
		t.Fatalf("Expected /health not to be audited, got %d entries", len(sink.entries))
	}

	w := h.do("GET", "/panic", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	entry := sink.last(t)
	if entry.ErrorCode != models.CodeSystemError || entry.RequestID == "" {
		t.Errorf("Unexpected audit entry: %+v", entry)
	}
	if w.Header().Get(RequestIDHeader) != entry.RequestID {
		t.Error("Expected the response request id to match the audit entry")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		status int
		want   models.ErrorCode
	}{
		{200, models.CodeSuccess},
		{302, models.CodeSuccess},
		{404, models.CodeClientError},
		{502, models.CodeServerError},
	}
	for _, tt := range tests {
		if got := classify(tt.status); got != tt.want {
			t.Errorf("classify(%d) = %s, want %s", tt.status, got, tt.want)
		}
	}
}
