package escalation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"collabhub/internal/apperr"
	"collabhub/internal/model"
	"collabhub/pkg/metrics"
	"collabhub/pkg/trace"
)

// RuleSource lists rules in (priority, id) order.
type RuleSource interface {
	List(ctx context.Context, status *model.RuleStatus) ([]model.EscalationRule, error)
}

// EntitySource lists the not-yet-completed entities a trigger type can match.
type EntitySource interface {
	ListEligible(ctx context.Context, trigger model.TriggerType) ([]model.Entity, error)
}

// LogStore is the escalation log. TryBegin must be an atomic
// check-then-insert on the occurrence key: it returns false when a pending or
// executed row for the key already exists.
type LogStore interface {
	TryBegin(ctx context.Context, log *model.EscalationLog) (bool, error)
	Finish(ctx context.Context, id int64, status model.LogStatus, detail, errMsg string) error
	FailStalePending(ctx context.Context, olderThan time.Time, reason string) (int64, error)
}

// StateStore remembers per-pair evaluation state across ticks.
type StateStore interface {
	States(ctx context.Context, ruleID int64) ([]model.RuleState, error)
	SaveState(ctx context.Context, state model.RuleState) error
}

// Guard is an optional cross-instance lease around a tick.
type Guard interface {
	AcquireOnce(ctx context.Context, scope, key string) (release func(context.Context), ok bool)
}

type Config struct {
	// DispatchTimeout bounds a single action dispatch.
	DispatchTimeout time.Duration
	// Concurrency caps in-flight dispatches within one rule.
	Concurrency int
	// StalePendingAfter is how long a pending row may live before the sweep
	// marks it failed.
	StalePendingAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = 10 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.StalePendingAfter <= 0 {
		c.StalePendingAfter = 15 * time.Minute
	}
	return c
}

// TickResult summarizes one tick.
type TickResult struct {
	Rules     int           `json:"rules"`
	Evaluated int           `json:"evaluated"`
	Matched   int           `json:"matched"`
	Skipped   int           `json:"skipped"`
	Executed  int           `json:"executed"`
	Failed    int           `json:"failed"`
	Contended bool          `json:"contended"`
	Duration  time.Duration `json:"duration"`
}

// Scheduler runs the periodic escalation pass.
type Scheduler struct {
	rules      RuleSource
	entities   EntitySource
	logs       LogStore
	states     StateStore
	dispatcher *Dispatcher
	guard      Guard
	cfg        Config
	now        func() time.Time
	flight     singleflight.Group
	logger     *zap.Logger
}

func NewScheduler(
	rules RuleSource,
	entities EntitySource,
	logs LogStore,
	states StateStore,
	dispatcher *Dispatcher,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		rules:      rules,
		entities:   entities,
		logs:       logs,
		states:     states,
		dispatcher: dispatcher,
		cfg:        cfg.withDefaults(),
		now:        time.Now,
		logger:     logger,
	}
}

// WithGuard installs a cross-instance tick lease.
func (s *Scheduler) WithGuard(g Guard) *Scheduler {
	s.guard = g
	return s
}

// WithClock replaces the wall clock.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Tick evaluates every active rule against its eligible entities and
// dispatches each new occurrence at most once. Concurrent calls in this
// process share one run. A PersistenceError aborts the tick; dispatch errors
// are recorded on the log row and never escape.
func (s *Scheduler) Tick(ctx context.Context) (*TickResult, error) {
	v, err, _ := s.flight.Do("tick", func() (interface{}, error) {
		return s.run(ctx)
	})
	if v == nil {
		return nil, err
	}
	return v.(*TickResult), err
}

func (s *Scheduler) run(ctx context.Context) (*TickResult, error) {
	ctx = trace.Ensure(ctx)
	log := s.logger.With(zap.String("trace_id", trace.FromContext(ctx)))
	start := time.Now()
	now := s.now()

	result := &TickResult{}
	defer func() {
		result.Duration = time.Since(start)
		metrics.RecordTick(result.Duration)
	}()

	if s.guard != nil {
		release, ok := s.guard.AcquireOnce(ctx, "escalation", "tick")
		if !ok {
			log.Info("Escalation tick held by another instance, skipping")
			result.Contended = true
			return result, nil
		}
		defer release(context.WithoutCancel(ctx))
	}

	active := model.RuleActive
	rules, err := s.rules.List(ctx, &active)
	if err != nil {
		return result, apperr.Persistence("list rules", err)
	}
	result.Rules = len(rules)

	eligible := make(map[model.TriggerType][]model.Entity)
	for _, rule := range rules {
		entities, ok := eligible[rule.TriggerType]
		if !ok {
			entities, err = s.entities.ListEligible(ctx, rule.TriggerType)
			if err != nil {
				return result, apperr.Persistence("list eligible entities", err)
			}
			eligible[rule.TriggerType] = entities
		}

		if err := s.runRule(ctx, log, rule, entities, now, result); err != nil {
			log.Error("Escalation tick aborted",
				zap.Int64("rule_id", rule.ID),
				zap.Error(err),
			)
			return result, err
		}
	}

	log.Info("Escalation tick completed",
		zap.Int("rules", result.Rules),
		zap.Int("evaluated", result.Evaluated),
		zap.Int("matched", result.Matched),
		zap.Int("executed", result.Executed),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
		zap.Duration("took", time.Since(start)),
	)
	return result, nil
}

// runRule evaluates one rule and dispatches its matches concurrently. Rules
// run one after another so lower priority values are applied first.
func (s *Scheduler) runRule(ctx context.Context, log *zap.Logger, rule model.EscalationRule, entities []model.Entity, now time.Time, result *TickResult) error {
	var prev map[stateKey]model.RuleState
	if rule.TriggerType == model.TriggerProgressBelow {
		states, err := s.states.States(ctx, rule.ID)
		if err != nil {
			return apperr.Persistence("load rule state", err)
		}
		prev = make(map[stateKey]model.RuleState, len(states))
		for _, st := range states {
			prev[stateKey{st.EntityKind, st.EntityID}] = st
		}
	}

	type match struct {
		entity model.Entity
		key    string
	}
	var matches []match

	for _, entity := range entities {
		result.Evaluated++

		var p *model.RuleState
		if st, ok := prev[stateKey{entity.Kind, entity.ID}]; ok {
			p = &st
		}

		eval := Evaluate(rule, entity, p, now)
		if eval.StateChanged && eval.State != nil {
			if err := s.states.SaveState(ctx, *eval.State); err != nil {
				return apperr.Persistence("save rule state", err)
			}
		}
		if eval.Matched {
			matches = append(matches, match{entity: entity, key: eval.OccurrenceKey})
		}
	}
	result.Matched += len(matches)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, m := range matches {
		g.Go(func() error {
			outcome, err := s.processPair(gctx, log, rule, m.entity, m.key)
			if err != nil {
				return err
			}
			mu.Lock()
			switch outcome {
			case model.LogExecuted:
				result.Executed++
			case model.LogFailed:
				result.Failed++
			default:
				result.Skipped++
			}
			mu.Unlock()
			metrics.IncrementPair(string(rule.TriggerType), outcomeLabel(outcome))
			return nil
		})
	}
	return g.Wait()
}

type stateKey struct {
	kind model.EntityKind
	id   int64
}

// processPair claims the occurrence and dispatches it. The returned status is
// empty when another run already owns the occurrence.
func (s *Scheduler) processPair(ctx context.Context, log *zap.Logger, rule model.EscalationRule, entity model.Entity, key string) (model.LogStatus, error) {
	entry := model.NewPendingLog(rule, entity, key)
	inserted, err := s.logs.TryBegin(ctx, entry)
	if err != nil {
		return "", apperr.Persistence("begin escalation log", err)
	}
	if !inserted {
		log.Debug("Occurrence already handled", zap.String("occurrence_key", key))
		return "", nil
	}

	dctx, cancel := context.WithTimeout(ctx, s.cfg.DispatchTimeout)
	detail, derr := s.dispatcher.Dispatch(dctx, rule, entity)
	cancel()

	status, errMsg := model.LogExecuted, ""
	if derr != nil {
		status = model.LogFailed
		errMsg = derr.Error()
		if errors.Is(derr, context.DeadlineExceeded) || dctx.Err() == context.DeadlineExceeded {
			errMsg = fmt.Sprintf("dispatch timed out after %s: %v", s.cfg.DispatchTimeout, derr)
		}
		log.Warn("Escalation dispatch failed",
			zap.Int64("rule_id", rule.ID),
			zap.String("occurrence_key", key),
			zap.Error(derr),
		)
	} else {
		log.Info("Escalation dispatched",
			zap.Int64("rule_id", rule.ID),
			zap.String("action", string(rule.Action)),
			zap.String("occurrence_key", key),
		)
	}

	// 即使 tick 被取消也要写回终态
	if err := s.logs.Finish(context.WithoutCancel(ctx), entry.ID, status, detail, errMsg); err != nil {
		return "", apperr.Persistence("finish escalation log", err)
	}
	return status, nil
}

// ReapStalePending marks pending rows older than StalePendingAfter as failed,
// freeing their occurrence keys for a later tick.
func (s *Scheduler) ReapStalePending(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.cfg.StalePendingAfter)
	n, err := s.logs.FailStalePending(ctx, cutoff, "dispatch abandoned")
	if err != nil {
		return 0, apperr.Persistence("reap stale pending", err)
	}
	if n > 0 {
		s.logger.Warn("Marked stale pending escalations as failed", zap.Int64("count", n))
	}
	return n, nil
}

func outcomeLabel(status model.LogStatus) string {
	if status == "" {
		return "skipped"
	}
	return string(status)
}
