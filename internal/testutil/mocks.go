// Package testutil holds in-memory stand-ins for the gateway's stores and
// background dispatcher, shared by package tests.
package testutil

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/aman-churiwal/inventory-gateway/internal/dispatch"
	"github.com/aman-churiwal/inventory-gateway/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/datatypes"
)

// Returned by stores configured to fail
var ErrStoreUnavailable = errors.New("store unavailable")

// Clock is a manually advanced time source
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// InlineDispatcher runs submitted tasks immediately on the caller's goroutine
type InlineDispatcher struct {
	mu     sync.Mutex
	kinds  []string
	errs   []error
	Reject bool // drop every task, as a full queue would
}

var _ dispatch.Submitter = (*InlineDispatcher)(nil)

func (d *InlineDispatcher) Submit(kind string, fn dispatch.Task) bool {
	if d.Reject {
		return false
	}

	err := fn(context.Background())

	d.mu.Lock()
	d.kinds = append(d.kinds, kind)
	if err != nil {
		d.errs = append(d.errs, err)
	}
	d.mu.Unlock()
	return true
}

func (d *InlineDispatcher) Kinds() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.kinds...)
}

func (d *InlineDispatcher) Errors() []error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]error(nil), d.errs...)
}

// AttemptStore is an in-memory login attempt table
type AttemptStore struct {
	mu       sync.Mutex
	attempts []models.LoginAttempt
	now      func() time.Time

	CreateErr error
	LookupErr error // returned by IsBlocked
}

func NewAttemptStore(now func() time.Time) *AttemptStore {
	if now == nil {
		now = time.Now
	}
	return &AttemptStore{now: now}
}

func (s *AttemptStore) Create(ctx context.Context, attempt *models.LoginAttempt) error {
	if s.CreateErr != nil {
		return s.CreateErr
	}

	if attempt.ID == uuid.Nil {
		attempt.ID = uuid.New()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = s.now()
	}

	s.mu.Lock()
	s.attempts = append(s.attempts, *attempt)
	s.mu.Unlock()
	return nil
}

func isFailure(a models.LoginAttempt) bool {
	return !a.Success && a.FailureReason != nil
}

func (s *AttemptStore) CountFailuresByIP(ctx context.Context, ip string, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, a := range s.attempts {
		if a.IPAddress == ip && isFailure(a) && !a.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *AttemptStore) CountFailuresByEmail(ctx context.Context, email string, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, a := range s.attempts {
		if a.Email == email && isFailure(a) && !a.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *AttemptStore) FailuresByOrigin(ctx context.Context, since time.Time, min int) ([]models.OriginFailures, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int64)
	for _, a := range s.attempts {
		if isFailure(a) && !a.Blocked && !a.CreatedAt.Before(since) {
			counts[a.IPAddress]++
		}
	}

	var out []models.OriginFailures
	for ip, n := range counts {
		if n >= int64(min) {
			out = append(out, models.OriginFailures{IPAddress: ip, Failures: n})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Failures > out[j].Failures })
	return out, nil
}

func (s *AttemptStore) setBlocked(ip string, blocked bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for i := range s.attempts {
		if s.attempts[i].IPAddress == ip && s.attempts[i].Blocked != blocked {
			s.attempts[i].Blocked = blocked
			n++
		}
	}
	return n
}

func (s *AttemptStore) BlockIP(ctx context.Context, ip string) (int64, error) {
	return s.setBlocked(ip, true), nil
}

func (s *AttemptStore) UnblockIP(ctx context.Context, ip string) (int64, error) {
	return s.setBlocked(ip, false), nil
}

func (s *AttemptStore) IsBlocked(ctx context.Context, ip string) (bool, error) {
	if s.LookupErr != nil {
		return false, s.LookupErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attempts {
		if a.IPAddress == ip && a.Blocked {
			return true, nil
		}
	}
	return false, nil
}

func (s *AttemptStore) ListBlockedIPs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	var ips []string
	for _, a := range s.attempts {
		if a.Blocked && !seen[a.IPAddress] {
			seen[a.IPAddress] = true
			ips = append(ips, a.IPAddress)
		}
	}
	return ips, nil
}

func (s *AttemptStore) List(ctx context.Context, f models.AttemptFilter) ([]models.LoginAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.LoginAttempt
	for _, a := range s.attempts {
		switch {
		case f.IPAddress != "" && a.IPAddress != f.IPAddress:
		case f.Email != "" && a.Email != f.Email:
		case f.Success != nil && a.Success != *f.Success:
		case !f.From.IsZero() && a.CreatedAt.Before(f.From):
		case !f.To.IsZero() && a.CreatedAt.After(f.To):
		default:
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *AttemptStore) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.attempts[:0]
	var n int64
	for _, a := range s.attempts {
		if a.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, a)
	}
	s.attempts = kept
	return n, nil
}

// Returns a copy of every stored attempt
func (s *AttemptStore) All() []models.LoginAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.LoginAttempt(nil), s.attempts...)
}

// EventStore is an in-memory security event table
type EventStore struct {
	mu     sync.Mutex
	events []models.SecurityEvent

	CreateErr error
}

func (s *EventStore) Create(ctx context.Context, event *models.SecurityEvent) error {
	if s.CreateErr != nil {
		return s.CreateErr
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	s.mu.Lock()
	s.events = append(s.events, *event)
	s.mu.Unlock()
	return nil
}

func (s *EventStore) List(ctx context.Context, f models.EventFilter) ([]models.SecurityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.SecurityEvent
	for _, e := range s.events {
		switch {
		case f.Type != "" && e.Type != f.Type:
		case f.Severity != "" && e.Severity != f.Severity:
		case f.Resolved != nil && e.Resolved != *f.Resolved:
		case !f.From.IsZero() && e.CreatedAt.Before(f.From):
		case !f.To.IsZero() && e.CreatedAt.After(f.To):
		default:
			out = append(out, e)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *EventStore) Resolve(ctx context.Context, id, resolvedBy string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.events {
		if s.events[i].ID.String() == id && !s.events[i].Resolved {
			s.events[i].Resolved = true
			s.events[i].ResolvedBy = resolvedBy
			s.events[i].ResolvedAt = &at
			return true, nil
		}
	}
	return false, nil
}

func (s *EventStore) DeleteResolvedBefore(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]
	var n int64
	for _, e := range s.events {
		if e.Resolved && e.ResolvedAt != nil && e.ResolvedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.events = kept
	return n, nil
}

// Returns a copy of every stored event
func (s *EventStore) All() []models.SecurityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.SecurityEvent(nil), s.events...)
}

// Returns stored events of one type and severity
func (s *EventStore) Matching(t models.EventType, severity models.Severity) []models.SecurityEvent {
	var out []models.SecurityEvent
	for _, e := range s.All() {
		if e.Type == t && e.Severity == severity {
			out = append(out, e)
		}
	}
	return out
}

// APIKeyStore is an in-memory API key table
type APIKeyStore struct {
	mu   sync.Mutex
	keys map[uuid.UUID]models.APIKey

	LookupErr error // returned by FindByHash
	usage     map[uuid.UUID]int
}

func NewAPIKeyStore() *APIKeyStore {
	return &APIKeyStore{
		keys:  make(map[uuid.UUID]models.APIKey),
		usage: make(map[uuid.UUID]int),
	}
}

func cloneKey(k models.APIKey) *models.APIKey {
	k.Scopes = append(pq.StringArray(nil), k.Scopes...)
	k.RecentUsage = append(datatypes.JSONSlice[models.UsageEntry](nil), k.RecentUsage...)
	return &k
}

func (s *APIKeyStore) Create(ctx context.Context, key *models.APIKey) error {
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.KeyHash == key.KeyHash {
			return errors.New("duplicate key hash")
		}
	}
	s.keys[key.ID] = *cloneKey(*key)
	return nil
}

func (s *APIKeyStore) FindByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	if s.LookupErr != nil {
		return nil, s.LookupErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.KeyHash == hash {
			return cloneKey(k), nil
		}
	}
	return nil, nil
}

func (s *APIKeyStore) FindByID(ctx context.Context, id string) (*models.APIKey, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[parsed]
	if !ok {
		return nil, nil
	}
	return cloneKey(k), nil
}

func (s *APIKeyStore) List(ctx context.Context) ([]models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.APIKey, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, *cloneKey(k))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *APIKeyStore) Update(ctx context.Context, id string, updates map[string]interface{}) error {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[parsed]
	if !ok {
		return nil
	}

	for field, value := range updates {
		switch field {
		case "name":
			k.Name = value.(string)
		case "scopes":
			k.Scopes = append(pq.StringArray(nil), value.(pq.StringArray)...)
		case "rate_limit":
			k.RateLimit = value.(int)
		case "is_active":
			k.IsActive = value.(bool)
		case "expires_at":
			k.ExpiresAt = value.(*time.Time)
		case "key_hash":
			k.KeyHash = value.(string)
		case "prefix":
			k.Prefix = value.(string)
		case "usage_count":
			k.UsageCount = int64(value.(int))
		case "recent_usage":
			k.RecentUsage = append(datatypes.JSONSlice[models.UsageEntry](nil), value.(datatypes.JSONSlice[models.UsageEntry])...)
		case "last_used_at":
			k.LastUsedAt = value.(*time.Time)
		}
	}
	k.UpdatedAt = time.Now()
	s.keys[parsed] = k
	return nil
}

func (s *APIKeyStore) RecordUsage(ctx context.Context, id uuid.UUID, keyHash string, recent []models.UsageEntry, usedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[id]
	if !ok || k.KeyHash != keyHash {
		return false, nil
	}
	k.UsageCount++
	k.RecentUsage = append(datatypes.JSONSlice[models.UsageEntry](nil), recent...)
	k.LastUsedAt = &usedAt
	s.keys[id] = k
	s.usage[id]++
	return true, nil
}

func (s *APIKeyStore) Delete(ctx context.Context, id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.keys, parsed)
	s.mu.Unlock()
	return nil
}

// Returns the stored key, bypassing any caching layer
func (s *APIKeyStore) Get(id uuid.UUID) (models.APIKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[id]
	return k, ok
}

// UserStore is an in-memory user table
type UserStore struct {
	mu    sync.Mutex
	users map[uuid.UUID]models.User

	FindErr error // returned by FindByEmail when set
}

func NewUserStore(users ...models.User) *UserStore {
	s := &UserStore{users: make(map[uuid.UUID]models.User)}
	for _, u := range users {
		if u.ID == uuid.Nil {
			u.ID = uuid.New()
		}
		s.users[u.ID] = u
	}
	return s
}

func (s *UserStore) Create(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == user.Email {
			return errors.New("duplicate email")
		}
	}
	s.users[user.ID] = *user
	return nil
}

func (s *UserStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if s.FindErr != nil {
		return nil, s.FindErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, nil
}

func (s *UserStore) FindByID(ctx context.Context, id string) (*models.User, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[parsed]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// RequestLogStore collects request logs written in batches
type RequestLogStore struct {
	mu      sync.Mutex
	logs    []models.RequestLog
	batches int

	Err error
}

func (s *RequestLogStore) CreateBatch(ctx context.Context, logs []models.RequestLog) error {
	if s.Err != nil {
		return s.Err
	}

	s.mu.Lock()
	s.logs = append(s.logs, logs...)
	s.batches++
	s.mu.Unlock()
	return nil
}

func (s *RequestLogStore) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.logs[:0]
	var n int64
	for _, l := range s.logs {
		if l.Timestamp.Before(before) {
			n++
			continue
		}
		kept = append(kept, l)
	}
	s.logs = kept
	return n, nil
}

func (s *RequestLogStore) Logs() []models.RequestLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.RequestLog(nil), s.logs...)
}

func (s *RequestLogStore) Batches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches
}
