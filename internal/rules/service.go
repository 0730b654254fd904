package rules

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"relay/internal/config"
	"relay/internal/logger"
	"relay/pkg/metrics"
	"relay/pkg/retry"
	"relay/pkg/routing"
	"relay/pkg/tracing"
)

// Service serves the current routing snapshot and keeps it fresh by polling
// the repository. Snapshots swap atomically under the mutex; the router only
// ever sees whole tables.
type Service struct {
	repo Repository
	cfg  config.RoutingConfig
	log  logger.Logger

	snapshot routing.Config
	mu       sync.RWMutex
}

func NewService(repo Repository, cfg config.RoutingConfig, log logger.Logger) *Service {
	if log == nil {
		log = logger.NopLogger()
	}
	return &Service{
		repo: repo,
		cfg:  cfg,
		log:  log,
		snapshot: routing.Config{
			DefaultDestination: cfg.DefaultDestination,
			QueueConfig:        cfg.QueueConfig,
		},
	}
}

// RoutingConfig returns the current snapshot.
func (s *Service) RoutingConfig() routing.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Reload fetches the active rules and swaps the snapshot. A snapshot that
// fails validation is discarded; the previous table stays live.
func (s *Service) Reload(ctx context.Context, skipJitter ...bool) error {
	shouldSkipJitter := len(skipJitter) > 0 && skipJitter[0]

	if err := s.applyJitter(ctx, shouldSkipJitter); err != nil {
		return err
	}

	ctx, span := tracing.GetTracer("rules-service").Start(ctx, "rules.reload")
	defer span.End()

	// transient database errors should not cost a whole reload cycle
	var stored []RoutingRule
	err := retry.Retry(ctx, retry.Policy{
		MaxAttempts:     3,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Multiplier:      2.0,
	}, func() error {
		var fetchErr error
		stored, fetchErr = s.repo.GetActiveRules(ctx)
		return fetchErr
	})
	if err != nil {
		return err
	}

	next := routing.Config{
		Rules:              make([]routing.Rule, 0, len(stored)),
		DefaultDestination: s.cfg.DefaultDestination,
		QueueConfig:        s.cfg.QueueConfig,
	}
	for _, rule := range stored {
		next.Rules = append(next.Rules, rule.ToRule())
	}
	if err := next.Validate(); err != nil {
		s.log.ErrorwCtx(ctx, "discarding invalid rules snapshot", "error", err)
		return err
	}

	s.mu.Lock()
	s.snapshot = next
	s.mu.Unlock()

	metrics.SetRoutingActiveRules(len(next.Rules))
	s.log.InfowCtx(ctx, "routing rules reloaded", "rules_count", len(next.Rules))
	return nil
}

// applyJitter staggers reloads so replicas do not hit the database in step.
func (s *Service) applyJitter(ctx context.Context, skipJitter bool) error {
	if skipJitter || s.cfg.Reload.JitterMaxMilliseconds == 0 {
		return nil
	}

	jitter := time.Duration(rand.Intn(s.cfg.Reload.JitterMaxMilliseconds)) * time.Millisecond
	select {
	case <-time.After(jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartReloader blocks, reloading on the configured interval until the
// context is cancelled.
func (s *Service) StartReloader(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(s.cfg.Reload.IntervalSeconds) * time.Second)
	defer ticker.Stop()

	if err := s.Reload(ctx); err != nil {
		s.log.ErrorwCtx(ctx, "failed to reload routing rules", "error", err)
	}

	for {
		select {
		case <-ticker.C:
			if err := s.Reload(ctx); err != nil {
				s.log.ErrorwCtx(ctx, "failed to reload routing rules", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
