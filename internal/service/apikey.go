package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/aman-churiwal/inventory-gateway/internal/dispatch"
	"github.com/aman-churiwal/inventory-gateway/internal/models"
	"github.com/aman-churiwal/inventory-gateway/internal/usage"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/datatypes"
)

const (
	keyPrefix        = "gw_"
	displayPrefixLen = 8
	defaultRateLimit = 1000
)

type APIKeyStore interface {
	Create(ctx context.Context, apiKey *models.APIKey) error
	FindByHash(ctx context.Context, hash string) (*models.APIKey, error)
	FindByID(ctx context.Context, id string) (*models.APIKey, error)
	List(ctx context.Context) ([]models.APIKey, error)
	Update(ctx context.Context, id string, updates map[string]interface{}) error
	Delete(ctx context.Context, id string) error
	usage.Store
}

type APIKeyService struct {
	store      APIKeyStore
	cache      KeyCache
	tracker    *usage.Tracker
	dispatcher dispatch.Submitter
	now        func() time.Time
}

// cache may be nil when redis is not configured
func NewAPIKeyService(store APIKeyStore, cache KeyCache, dispatcher dispatch.Submitter) *APIKeyService {
	return &APIKeyService{
		store:      store,
		cache:      cache,
		tracker:    usage.NewTracker(store, models.RecentUsageCapacity),
		dispatcher: dispatcher,
		now:        time.Now,
	}
}

type CreateKeyInput struct {
	Name      string
	CreatedBy string
	Scopes    []string
	RateLimit int
	ExpiresAt *time.Time
}

type UpdateKeyInput struct {
	Name        *string
	Scopes      []string
	RateLimit   *int
	ExpiresAt   *time.Time
	ClearExpiry bool
}

// Returns the hex encoded SHA-256 of a plaintext key
func HashKey(plaintext string) string {
	hash := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(hash[:])
}

// Generates a new plaintext key with its hash and display prefix
func generateKey() (plaintext, hash, prefix string, err error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random key: %w", err)
	}

	plaintext = keyPrefix + base64.RawURLEncoding.EncodeToString(keyBytes)
	return plaintext, HashKey(plaintext), plaintext[:displayPrefixLen], nil
}

func normalizeScopes(scopes []string) (pq.StringArray, error) {
	if len(scopes) == 0 {
		return pq.StringArray{string(models.ScopeRead)}, nil
	}

	seen := make(map[string]bool, len(scopes))
	out := make(pq.StringArray, 0, len(scopes))
	for _, s := range scopes {
		if !models.Scope(s).Valid() {
			return nil, fmt.Errorf("%w: %s", ErrInvalidScope, s)
		}
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out, nil
}

// Creates a key and returns it with its plaintext. The plaintext is not
// stored and cannot be recovered later.
func (s *APIKeyService) Create(ctx context.Context, in CreateKeyInput) (*models.APIKey, string, error) {
	scopes, err := normalizeScopes(in.Scopes)
	if err != nil {
		return nil, "", err
	}

	rateLimit := in.RateLimit
	if rateLimit == 0 {
		rateLimit = defaultRateLimit
	}
	if rateLimit < 0 {
		return nil, "", ErrInvalidLimit
	}

	plaintext, hash, prefix, err := generateKey()
	if err != nil {
		return nil, "", err
	}

	apiKey := &models.APIKey{
		KeyHash:   hash,
		Prefix:    prefix,
		Name:      in.Name,
		CreatedBy: in.CreatedBy,
		Scopes:    scopes,
		IsActive:  true,
		ExpiresAt: in.ExpiresAt,
		RateLimit: rateLimit,
	}

	if err := s.store.Create(ctx, apiKey); err != nil {
		return nil, "", fmt.Errorf("failed to create API key: %w", err)
	}

	return apiKey, plaintext, nil
}

// Resolves a presented key. Unknown keys return ErrAPIKeyNotFound, inactive
// and expired keys return ErrAPIKeyInactive and ErrAPIKeyExpired. Any other
// error means the credential store could not be reached.
func (s *APIKeyService) Validate(ctx context.Context, plaintext string) (*models.APIKey, error) {
	hash := HashKey(plaintext)

	apiKey, cached := s.cached(ctx, hash)
	if !cached {
		found, err := s.store.FindByHash(ctx, hash)
		if err != nil {
			return nil, fmt.Errorf("failed to look up API key: %w", err)
		}
		if found == nil {
			return nil, ErrAPIKeyNotFound
		}
		apiKey = found

		if s.cache != nil {
			s.cache.Set(ctx, hash, apiKey)
		}
	}

	now := s.now()
	if !apiKey.IsActive {
		return apiKey, ErrAPIKeyInactive
	}
	if apiKey.IsExpired(now) {
		return apiKey, ErrAPIKeyExpired
	}

	return apiKey, nil
}

func (s *APIKeyService) cached(ctx context.Context, hash string) (*models.APIKey, bool) {
	if s.cache == nil {
		return nil, false
	}
	return s.cache.Get(ctx, hash)
}

func (s *APIKeyService) Get(ctx context.Context, id string) (*models.APIKey, error) {
	apiKey, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if apiKey == nil {
		return nil, ErrAPIKeyNotFound
	}
	return apiKey, nil
}

func (s *APIKeyService) List(ctx context.Context) ([]models.APIKey, error) {
	return s.store.List(ctx)
}

func (s *APIKeyService) Update(ctx context.Context, id string, in UpdateKeyInput) (*models.APIKey, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := make(map[string]interface{})
	if in.Name != nil {
		updates["name"] = *in.Name
	}
	if in.Scopes != nil {
		scopes, err := normalizeScopes(in.Scopes)
		if err != nil {
			return nil, err
		}
		updates["scopes"] = scopes
	}
	if in.RateLimit != nil {
		if *in.RateLimit <= 0 {
			return nil, ErrInvalidLimit
		}
		updates["rate_limit"] = *in.RateLimit
	}
	if in.ClearExpiry {
		updates["expires_at"] = (*time.Time)(nil)
	} else if in.ExpiresAt != nil {
		updates["expires_at"] = in.ExpiresAt
	}

	if len(updates) == 0 {
		return existing, nil
	}

	if err := s.store.Update(ctx, id, updates); err != nil {
		return nil, fmt.Errorf("failed to update API key: %w", err)
	}
	s.invalidate(ctx, existing.KeyHash)

	return s.Get(ctx, id)
}

// Flips the active flag and returns the updated key
func (s *APIKeyService) Toggle(ctx context.Context, id string) (*models.APIKey, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.store.Update(ctx, id, map[string]interface{}{"is_active": !existing.IsActive}); err != nil {
		return nil, fmt.Errorf("failed to toggle API key: %w", err)
	}
	s.invalidate(ctx, existing.KeyHash)

	return s.Get(ctx, id)
}

// Replaces the key's secret and clears its usage history. The old plaintext
// stops working immediately; the new one is returned once.
func (s *APIKeyService) Rotate(ctx context.Context, id string) (*models.APIKey, string, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}

	plaintext, hash, prefix, err := generateKey()
	if err != nil {
		return nil, "", err
	}

	s.tracker.Forget(existing.ID, existing.KeyHash)

	updates := map[string]interface{}{
		"key_hash":     hash,
		"prefix":       prefix,
		"usage_count":  0,
		"recent_usage": datatypes.NewJSONSlice([]models.UsageEntry{}),
		"last_used_at": (*time.Time)(nil),
	}
	if err := s.store.Update(ctx, id, updates); err != nil {
		return nil, "", fmt.Errorf("failed to rotate API key: %w", err)
	}
	s.invalidate(ctx, existing.KeyHash)

	rotated, err := s.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	return rotated, plaintext, nil
}

// Deletes the key. Request logs that reference it are kept.
func (s *APIKeyService) Delete(ctx context.Context, id string) error {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	s.tracker.Forget(existing.ID, existing.KeyHash)

	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete API key: %w", err)
	}
	s.invalidate(ctx, existing.KeyHash)
	return nil
}

// Queues a usage update for the key without blocking the request
func (s *APIKeyService) RecordUsage(key *models.APIKey, entry models.UsageEntry) bool {
	return s.dispatcher.Submit("api_key_usage", func(ctx context.Context) error {
		return s.tracker.Record(ctx, key, entry)
	})
}

// Returns this process's view of the key's recent usage
func (s *APIKeyService) RecentUsage(id uuid.UUID) []models.UsageEntry {
	return s.tracker.Recent(id)
}

func (s *APIKeyService) invalidate(ctx context.Context, hash string) {
	if s.cache != nil && hash != "" {
		s.cache.Invalidate(ctx, hash)
	}
}
