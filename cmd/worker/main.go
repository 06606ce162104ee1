package main

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm/logger"

	"styleaiapi/config"
	"styleaiapi/dbhelper"
	"styleaiapi/logging"
	"styleaiapi/services"
	"styleaiapi/tasks"
	"styleaiapi/telegram"
)

func runScheduler(redisOpt asynq.RedisClientOpt, cfg config.TaskConfig) {
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		LogLevel: asynq.InfoLevel,
	})

	entries := []struct {
		cron string
		task *asynq.Task
		opts []asynq.Option
		desc string
	}{
		{
			cron: cfg.PurgeCron,
			task: tasks.NewPurgeAnalysesTask(),
			opts: []asynq.Option{asynq.Queue(tasks.QueueMaintenance), asynq.MaxRetry(1)},
			desc: "Purge expired analyses",
		},
	}

	for _, t := range entries {
		entryID, err := scheduler.Register(t.cron, t.task, t.opts...)
		if err != nil {
			log.Fatal().Err(err).Str("task", t.desc).Msg("failed to register task")
		}
		log.Info().Str("task", t.desc).Str("entry_id", entryID).Str("cron", t.cron).Msg("registered task")
	}

	log.Info().Msg("starting scheduler")
	if err := scheduler.Run(); err != nil {
		log.Fatal().Err(err).Msg("scheduler failed")
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	logging.Setup(cfg.LogLevel, cfg.LogPretty)

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: cfg.Env,
		Release:     "styleaiapi-worker@1.0.0",
	}); err != nil {
		log.Fatal().Err(err).Msg("sentry.Init")
	}
	defer sentry.Flush(2 * time.Second)

	redisOpt := asynq.RedisClientOpt{Addr: cfg.Broker.Address}
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Tasks.Concurrency,
		Queues: map[string]int{
			tasks.QueueNotifications: 6,
			tasks.QueueMaintenance:   1,
		},
	})

	// a nil sender makes notification tasks log and succeed
	var sender tasks.MessageSender
	if cfg.Telegram.Token != "" {
		notifier, err := telegram.NewNotifier(cfg.Telegram.Token, cfg.Telegram.AdminChatID)
		if err != nil {
			log.Error().Err(err).Msg("telegram notifier disabled")
		} else {
			sender = notifier
		}
	}

	var analyses services.AnalysisStore
	if cfg.DB.UsageStore == "postgres" {
		db, err := dbhelper.SetupDB(cfg.DB, logger.Warn)
		if err != nil {
			log.Fatal().Err(err).Msg("database")
		}
		analyses = &services.GormAnalysisStore{DB: db}
	}

	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeBillingNotify, func(ctx context.Context, t *asynq.Task) error {
		return tasks.HandleBillingNotifyTask(ctx, t, sender)
	})
	if analyses != nil {
		mux.HandleFunc(tasks.TypePurgeAnalyses, func(ctx context.Context, t *asynq.Task) error {
			return tasks.HandlePurgeAnalysesTask(ctx, t, analyses, cfg.Tasks.AnalysisRetention, nil)
		})
		go runScheduler(redisOpt, cfg.Tasks)
	} else {
		log.Warn().Str("store", cfg.DB.UsageStore).Msg("analyses are not persisted, purge is not scheduled")
	}

	if err := srv.Run(mux); err != nil {
		log.Fatal().Err(err).Msg("worker")
	}
}
