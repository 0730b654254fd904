package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"relay/internal/config"
	"relay/internal/constants"
	"relay/internal/logger"
	"relay/pkg/hashing"
	"relay/pkg/metrics"
	"relay/pkg/models"
	"relay/pkg/tracing"
)

// Service decides whether a message's content has been seen inside the
// configured TTL window. It satisfies the duplicate-checker surface handed
// to business logic.
type Service struct {
	repo      Repository
	hasher    *hashing.Hasher
	cfg       config.DeduplicationConfig
	log       logger.Logger
	keyFields []string
	fieldsMu  sync.RWMutex
	cancel    context.CancelFunc
}

func NewService(repo Repository, cfg config.DeduplicationConfig, log logger.Logger) *Service {
	if log == nil {
		log = logger.NopLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		repo:      repo,
		hasher:    hashing.NewHasher(),
		cfg:       cfg,
		log:       log,
		keyFields: append([]string(nil), cfg.KeyFields...),
		cancel:    cancel,
	}

	go s.updateCacheSizeMetric(ctx)

	return s
}

// IsDuplicate claims the message's content hash. The first claim within the
// TTL window reports false; every later claim reports true. On a Redis
// failure the configured fallback decides: allow treats the message as fresh,
// deny surfaces the error.
func (s *Service) IsDuplicate(ctx context.Context, msg *models.Message) (bool, error) {
	ctx, span := tracing.GetTracer("dedup-service").Start(ctx, "dedup.check")
	defer span.End()

	if err := ctx.Err(); err != nil {
		return false, err
	}

	hash, err := s.hasher.ComputeHash(s.contentOf(msg), s.KeyFields(), s.cfg.IgnoreFields)
	if err != nil {
		return false, fmt.Errorf("failed to compute hash for message %s: %w", msg.ID, err)
	}

	// tenant-scoped key: identical content from two tenants never collides
	key := constants.CacheKeyPrefixDedup + msg.Entity.TenantID + ":" + hash
	ttl := time.Duration(s.cfg.TTLSeconds) * time.Second

	start := time.Now()
	claimed, err := s.repo.SetNX(ctx, key, time.Now().Unix(), ttl)
	duration := time.Since(start)

	if err != nil {
		return s.handleCacheError(ctx, err, duration, msg.ID)
	}

	status := "duplicate"
	if claimed {
		status = "unique"
	}
	metrics.DedupMessagesTotal.WithLabelValues(status).Inc()
	metrics.ObserveDedupDuration(duration, status)

	return !claimed, nil
}

// contentOf projects the fields that define a message's identity. The
// framework-assigned message id is deliberately excluded: a redelivered
// message carries a fresh id but identical content.
func (s *Service) contentOf(msg *models.Message) map[string]interface{} {
	data := make(map[string]interface{}, len(msg.Payload)+4)
	data["type"] = msg.Type
	data["external_id"] = msg.Entity.ExternalID
	data["canonical_type"] = msg.Entity.CanonicalType
	data["source"] = msg.Entity.Source
	for key, value := range msg.Payload {
		data[key] = value
	}
	return data
}

func (s *Service) handleCacheError(ctx context.Context, err error, duration time.Duration, msgID string) (bool, error) {
	metrics.DedupMessagesTotal.WithLabelValues("error").Inc()
	metrics.ObserveDedupDuration(duration, "error")

	if s.cfg.OnRedisError == constants.FallbackAllow {
		metrics.FallbackUsageTotal.WithLabelValues("dedup", "allow_on_error", "redis_error").Inc()
		s.log.WarnwCtx(ctx, "redis error during duplicate check, allowing message",
			"message_id", msgID, "error", err)
		return false, nil
	}

	metrics.FallbackUsageTotal.WithLabelValues("dedup", "deny_on_error", "redis_error").Inc()
	return false, fmt.Errorf("redis error during duplicate check for message %s: %w", msgID, err)
}

// UpdateKeyFields replaces the projection used for hashing. An empty list
// restores whole-content hashing.
func (s *Service) UpdateKeyFields(fields []string) {
	fieldsCopy := append([]string(nil), fields...)

	s.fieldsMu.Lock()
	s.keyFields = fieldsCopy
	s.fieldsMu.Unlock()

	s.log.Infow("updated dedup key fields", "fields", fieldsCopy)
}

func (s *Service) KeyFields() []string {
	s.fieldsMu.RLock()
	defer s.fieldsMu.RUnlock()
	return append([]string(nil), s.keyFields...)
}

func (s *Service) updateCacheSizeMetric(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			size, err := s.repo.CacheSize(ctx, constants.CacheKeyPrefixDedup)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.log.Debugw("failed to get dedup cache size", "error", err)
				continue
			}
			metrics.SetDedupCacheSize(size)
		case <-ctx.Done():
			return
		}
	}
}

// Close stops the background cache size updater.
func (s *Service) Close() {
	s.cancel()
}
