package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/civicfix/civicfix-api/internal/models"
	appErrors "github.com/civicfix/civicfix-api/pkg/errors"
)

// DraftRepository keeps in-progress submissions in Redis under a TTL, so
// drafts a citizen walks away from disappear without a sweeper.
type DraftRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDraftRepository constructs a draft repository with the given lifetime.
func NewDraftRepository(client *redis.Client, ttl time.Duration) *DraftRepository {
	return &DraftRepository{client: client, ttl: ttl}
}

// A claim outlives any single classification call but expires on its own
// if the process dies while holding it.
const analysisClaimTTL = 2 * time.Minute

func draftKey(id string) string {
	return "drafts:" + id
}

func analysisClaimKey(id string) string {
	return draftKey(id) + ":analyzing"
}

// TTL returns the configured draft lifetime.
func (r *DraftRepository) TTL() time.Duration {
	return r.ttl
}

// Get loads a draft by identifier.
func (r *DraftRepository) Get(ctx context.Context, id string) (*models.Draft, error) {
	raw, err := r.client.Get(ctx, draftKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, appErrors.ErrNotFound
		}
		return nil, fmt.Errorf("redis get draft %s: %w", id, err)
	}
	var draft models.Draft
	if err := json.Unmarshal(raw, &draft); err != nil {
		return nil, fmt.Errorf("unmarshal draft %s: %w", id, err)
	}
	return &draft, nil
}

// Save stores the draft and resets its TTL. Every state change touches the
// draft, so activity keeps it alive.
func (r *DraftRepository) Save(ctx context.Context, draft *models.Draft) error {
	draft.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("marshal draft %s: %w", draft.ID, err)
	}
	if err := r.client.Set(ctx, draftKey(draft.ID), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set draft %s: %w", draft.ID, err)
	}
	return nil
}

// ClaimAnalysis atomically reserves the draft's single analysis slot via
// SETNX. It returns false when another request already holds the claim,
// so two racing analyze calls cannot both reach the classifier.
func (r *DraftRepository) ClaimAnalysis(ctx context.Context, id string) (bool, error) {
	ok, err := r.client.SetNX(ctx, analysisClaimKey(id), 1, analysisClaimTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis claim analysis %s: %w", id, err)
	}
	return ok, nil
}

// ReleaseAnalysis frees the analysis slot.
func (r *DraftRepository) ReleaseAnalysis(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, analysisClaimKey(id)).Err(); err != nil {
		return fmt.Errorf("redis release analysis %s: %w", id, err)
	}
	return nil
}

// Delete removes a draft.
func (r *DraftRepository) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, draftKey(id)).Err(); err != nil {
		return fmt.Errorf("redis delete draft %s: %w", id, err)
	}
	return nil
}
