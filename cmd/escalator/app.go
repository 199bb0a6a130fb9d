package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"collabhub/internal/config"
	"collabhub/internal/handler"
	"collabhub/internal/httpserver"
	"collabhub/internal/notify"
	"collabhub/internal/repository"
	"collabhub/internal/repository/memstore"
	"collabhub/internal/service/escalation"
	"collabhub/internal/service/report"
	"collabhub/internal/service/rule"
	"collabhub/pkg/circuitbreaker"
	"collabhub/pkg/db"
	"collabhub/pkg/mq"
	"collabhub/pkg/outbox"
	"collabhub/pkg/redis"
	"collabhub/pkg/util"
)

// app is the wired object graph shared by every subcommand.
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	pool      *pgxpool.Pool
	mem       *memstore.DB
	publisher *mq.Publisher

	rules     *rule.Service
	scheduler *escalation.Scheduler
	reports   *report.Service
	logs      handler.LogLister

	outboxDispatcher *outbox.Dispatcher
	replay           *outbox.ReplayService

	closers []func()
}

// buildApp wires stores, transports and services for cfg.Store. Optional
// infrastructure (Redis, RabbitMQ) degrades with a warning instead of failing.
func buildApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: log}

	var (
		ruleStore   rule.Store
		ruleSource  escalation.RuleSource
		entities    *entitySources
		logStore    escalation.LogStore
		stateStore  escalation.StateStore
		reportStore report.Store
		directory   directorySource
		sender      notifySender
	)

	switch cfg.Store {
	case config.StoreMemory:
		log.Warn("Using in-memory store, state is lost on restart")
		a.mem = memstore.New()
		rules := a.mem.Rules()
		ruleStore, ruleSource = rules, rules
		e := a.mem.Entities()
		entities = &entitySources{eligible: e, tasks: e}
		logs := a.mem.Logs()
		logStore, a.logs = logs, logs
		stateStore = a.mem.States()
		reportStore = a.mem.Reports()
		directory = a.mem.Directory()
		sender = notify.NewLogSender(log)

	case config.StorePostgres:
		pool, err := db.NewConnection(ctx, cfg.DB, log)
		if err != nil {
			return nil, fmt.Errorf("init db: %w", err)
		}
		a.pool = pool
		a.closers = append(a.closers, pool.Close)

		outboxRepo := outbox.NewRepository(pool)
		rules := repository.NewRuleRepository(pool, log)
		ruleStore, ruleSource = rules, rules
		e := repository.NewEntityRepository(pool, log)
		entities = &entitySources{eligible: e, tasks: e}
		logs := repository.NewEscalationLogRepository(pool, log)
		logStore, a.logs = logs, logs
		stateStore = repository.NewRuleStateRepository(pool, log)
		reportStore = repository.NewReportRepository(pool, outboxRepo, log)
		directory = repository.NewDirectoryRepository(pool, log)
		sender = notify.NewOutboxSender(outboxRepo, log)
		a.replay = outbox.NewReplayService(outboxRepo, log)

		if cfg.MQ.Enabled {
			publisher, err := mq.NewPublisher(cfg.MQ)
			if err != nil {
				a.close()
				return nil, fmt.Errorf("init mq publisher: %w", err)
			}
			a.publisher = publisher
			a.closers = append(a.closers, publisher.Close)
			a.outboxDispatcher = outbox.NewDispatcher(outboxRepo, publisher, log).
				WithInterval(cfg.Outbox.Interval).
				WithBatchSize(cfg.Outbox.BatchSize).
				WithMaxRetries(cfg.Outbox.MaxRetries).
				WithBreaker(circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig()))
		} else {
			log.Warn("MQ disabled, outbox events will accumulate until a dispatcher runs")
		}

	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	a.rules = rule.NewService(ruleStore, log)

	dispatcher := escalation.NewDispatcher(directory, sender, log)
	a.scheduler = escalation.NewScheduler(ruleSource, entities.eligible, logStore, stateStore, dispatcher, escalation.Config{
		DispatchTimeout:   cfg.Escalation.DispatchTimeout,
		Concurrency:       cfg.Escalation.Concurrency,
		StalePendingAfter: cfg.Escalation.StalePendingAfter,
	}, log)

	if cfg.Redis.Enabled {
		rdb, err := redis.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			// 没有 Redis 时退化为仅依赖数据库唯一约束
			log.Warn("Redis unavailable, tick lease disabled", zap.Error(err))
		} else {
			a.closers = append(a.closers, func() { _ = rdb.Close() })
			a.scheduler.WithGuard(util.NewDeduper(rdb, cfg.Escalation.LockTTL, log))
		}
	}

	a.reports = report.NewService(reportStore, entities.tasks, directory, sender, report.Config{
		TokenTTL:            cfg.Report.TokenTTL,
		FrontendBase:        cfg.Report.FrontendBase,
		PurgeGrace:          cfg.Report.PurgeGrace,
		AllowReviewRevision: cfg.Report.AllowReviewRevision,
	}, log)

	return a, nil
}

type directorySource interface {
	escalation.Directory
	report.Directory
}

type notifySender interface {
	escalation.Sender
	report.Sender
}

type entitySources struct {
	eligible escalation.EntitySource
	tasks    report.Tasks
}

func (a *app) router() *httpserver.Router {
	h := httpserver.Handlers{
		Rules:       handler.NewRuleHandler(a.rules, a.logger),
		Escalations: handler.NewEscalationHandler(a.scheduler, a.logs, a.logger).WithTickTimeout(a.cfg.Escalation.TickInterval),
		Reports:     handler.NewReportHandler(a.reports, a.logger),
	}
	if a.replay != nil {
		h.Admin = handler.NewAdminHandler(a.replay, a.logger)
	}

	ready := map[string]httpserver.Pinger{}
	if a.pool != nil {
		ready["db"] = a.pool
	}
	if a.publisher != nil {
		publisher := a.publisher
		ready["mq"] = httpserver.PingerFunc(func(context.Context) error {
			if !publisher.IsConnected() {
				return errors.New("rabbitmq connection closed")
			}
			return nil
		})
	}
	return httpserver.NewRouter(h, a.cfg.JWT.Secret, ready, a.logger)
}

// sweep runs the periodic cleanup: expired report purge and stale pending
// escalation reaping.
func (a *app) sweep(ctx context.Context) {
	if n, err := a.reports.PurgeExpired(ctx); err != nil {
		a.logger.Error("Report purge failed", zap.Error(err))
	} else if n > 0 {
		a.logger.Info("Purged expired progress reports", zap.Int64("count", n))
	}
	if _, err := a.scheduler.ReapStalePending(ctx); err != nil {
		a.logger.Error("Stale pending reap failed", zap.Error(err))
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
