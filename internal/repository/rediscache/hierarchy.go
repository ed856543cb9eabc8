// Package rediscache decorates hierarchy lookups with a Redis read-through cache.
package rediscache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/and161185/timeslots/internal/model"
	"github.com/and161185/timeslots/internal/repository"
)

const (
	orgKeyPrefix      = "hier:org:"
	serviceKeyPrefix  = "hier:svc:"
	providerKeyPrefix = "hier:sp:"

	present = "1"
	absent  = "0"
)

// DefaultTTL bounds how long a revoked organisation or service can keep authorising requests.
const DefaultTTL = 30 * time.Second

// Hierarchy caches HierarchyReader answers, including negative ones.
// Redis failures are logged and the lookup falls through to next.
type Hierarchy struct {
	next repository.HierarchyReader
	rdb  redis.Cmdable
	ttl  time.Duration
	log  *zap.Logger
}

// NewHierarchy wraps next. A non-positive ttl selects DefaultTTL.
func NewHierarchy(next repository.HierarchyReader, rdb redis.Cmdable, ttl time.Duration, log *zap.Logger) *Hierarchy {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hierarchy{next: next, rdb: rdb, ttl: ttl, log: log}
}

// ExistingOrganisationIDs implements repository.HierarchyReader.
func (h *Hierarchy) ExistingOrganisationIDs(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	return h.existing(ctx, orgKeyPrefix, ids, h.next.ExistingOrganisationIDs)
}

// ExistingServiceIDs implements repository.HierarchyReader.
func (h *Hierarchy) ExistingServiceIDs(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	return h.existing(ctx, serviceKeyPrefix, ids, h.next.ExistingServiceIDs)
}

// ServiceProvidersByIDs implements repository.HierarchyReader.
func (h *Hierarchy) ServiceProvidersByIDs(ctx context.Context, ids []uuid.UUID) ([]model.ServiceProvider, error) {
	ids = unique(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	found := make(map[uuid.UUID]model.ServiceProvider, len(ids))
	misses := ids
	if vals, ok := h.mget(ctx, providerKeyPrefix, ids); ok {
		misses = nil
		for i, v := range vals {
			s, isStr := v.(string)
			switch {
			case !isStr:
				misses = append(misses, ids[i])
			case s == absent:
			default:
				var sp model.ServiceProvider
				if err := json.Unmarshal([]byte(s), &sp); err != nil {
					misses = append(misses, ids[i])
					continue
				}
				found[ids[i]] = sp
			}
		}
	}

	if len(misses) > 0 {
		loaded, err := h.next.ServiceProvidersByIDs(ctx, misses)
		if err != nil {
			return nil, err
		}
		values := make(map[string]string, len(misses))
		for _, id := range misses {
			values[providerKeyPrefix+id.String()] = absent
		}
		for _, sp := range loaded {
			found[sp.ID] = sp
			raw, err := json.Marshal(sp)
			if err != nil {
				continue
			}
			values[providerKeyPrefix+sp.ID.String()] = string(raw)
		}
		h.store(ctx, values)
	}

	var out []model.ServiceProvider
	for _, id := range ids {
		if sp, ok := found[id]; ok {
			out = append(out, sp)
		}
	}
	return out, nil
}

type loader func(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)

func (h *Hierarchy) existing(ctx context.Context, prefix string, ids []uuid.UUID, load loader) ([]uuid.UUID, error) {
	ids = unique(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	exists := make(map[uuid.UUID]bool, len(ids))
	misses := ids
	if vals, ok := h.mget(ctx, prefix, ids); ok {
		misses = nil
		for i, v := range vals {
			switch v {
			case present:
				exists[ids[i]] = true
			case absent:
			default:
				misses = append(misses, ids[i])
			}
		}
	}

	if len(misses) > 0 {
		loaded, err := load(ctx, misses)
		if err != nil {
			return nil, err
		}
		values := make(map[string]string, len(misses))
		for _, id := range misses {
			values[prefix+id.String()] = absent
		}
		for _, id := range loaded {
			exists[id] = true
			values[prefix+id.String()] = present
		}
		h.store(ctx, values)
	}

	var out []uuid.UUID
	for _, id := range ids {
		if exists[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (h *Hierarchy) mget(ctx context.Context, prefix string, ids []uuid.UUID) ([]any, bool) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = prefix + id.String()
	}
	vals, err := h.rdb.MGet(ctx, keys...).Result()
	if err != nil || len(vals) != len(keys) {
		h.log.Warn("hierarchy cache read failed", zap.String("prefix", prefix), zap.Error(err))
		return nil, false
	}
	return vals, true
}

func (h *Hierarchy) store(ctx context.Context, values map[string]string) {
	_, err := h.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for k, v := range values {
			p.Set(ctx, k, v, h.ttl)
		}
		return nil
	})
	if err != nil {
		h.log.Warn("hierarchy cache write failed", zap.Int("keys", len(values)), zap.Error(err))
	}
}

// Invalidate drops cached entries for the given organisations, services and providers.
func (h *Hierarchy) Invalidate(ctx context.Context, orgIDs, serviceIDs, providerIDs []uuid.UUID) error {
	var keys []string
	for _, id := range orgIDs {
		keys = append(keys, orgKeyPrefix+id.String())
	}
	for _, id := range serviceIDs {
		keys = append(keys, serviceKeyPrefix+id.String())
	}
	for _, id := range providerIDs {
		keys = append(keys, providerKeyPrefix+id.String())
	}
	if len(keys) == 0 {
		return nil
	}
	return h.rdb.Del(ctx, keys...).Err()
}

func unique(ids []uuid.UUID) []uuid.UUID {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
