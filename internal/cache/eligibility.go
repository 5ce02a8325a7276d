package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"mosaic-sync/internal/domain"
	"mosaic-sync/internal/observability"
)

// SummarySource provides the per-unit ownership breakdown the eligibility
// computation runs over. Satisfied by the inventory stores.
type SummarySource interface {
	UserUnitSummaries(ctx context.Context, user string) ([]domain.UnitEligibility, error)
}

// EligibilityService computes whether a user can mint and caches the
// result. A user can mint when they hold at least one complete unit whose
// mint state is still None.
type EligibilityService struct {
	source SummarySource
	cache  DerivedCache
}

// NewEligibilityService creates an eligibility service.
func NewEligibilityService(source SummarySource, cache DerivedCache) *EligibilityService {
	return &EligibilityService{source: source, cache: cache}
}

// EligibilityKey is the cache key for a user's eligibility entry.
func EligibilityKey(user string) string {
	return "mint:" + user
}

// MintEligibility returns the cached eligibility for user, computing and
// caching it on a miss. A cache write failure is logged, not returned: the
// computed result is still valid.
func (s *EligibilityService) MintEligibility(ctx context.Context, user string) (*domain.MintEligibility, error) {
	key := EligibilityKey(user)

	if raw, ok, err := s.cache.Get(ctx, key); err != nil {
		log.Printf("[eligibility] Cache read failed for %s: %v", user, err)
	} else if ok {
		var cached domain.MintEligibility
		if err := json.Unmarshal(raw, &cached); err == nil {
			observability.RecordCacheHit()
			return &cached, nil
		}
		log.Printf("[eligibility] Dropping undecodable cache entry for %s", user)
		_ = s.cache.Delete(ctx, key)
	}
	observability.RecordCacheMiss()

	result, err := s.compute(ctx, user)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal eligibility for %s: %w", user, err)
	}
	if err := s.cache.Set(ctx, key, raw); err != nil {
		log.Printf("[eligibility] Cache write failed for %s: %v", user, err)
	}
	return result, nil
}

// Evict removes the user's cached entry so the next read recomputes.
func (s *EligibilityService) Evict(ctx context.Context, user string) error {
	if err := s.cache.Delete(ctx, EligibilityKey(user)); err != nil {
		return err
	}
	observability.RecordCacheEviction()
	return nil
}

func (s *EligibilityService) compute(ctx context.Context, user string) (*domain.MintEligibility, error) {
	units, err := s.source.UserUnitSummaries(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("unit summaries for %s: %w", user, err)
	}

	result := &domain.MintEligibility{User: user, Units: units}
	for _, u := range units {
		if u.Complete && u.MintState == domain.MintStateNone {
			result.CanMint = true
			break
		}
	}
	return result, nil
}
