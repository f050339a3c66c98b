package cli

import (
	"fmt"

	"carebell-backend/cache"
	"carebell-backend/config"
	"carebell-backend/integrations"
	"carebell-backend/repository"
	"carebell-backend/services"
	"carebell-backend/utils"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// app is the wired process: config, logger, database and reminder service.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	db      *gorm.DB
	service *services.ReminderService
	closers []func() error
}

func bootstrap() (*app, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}

	db, err := config.ConnectDB(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.closers = append(a.closers, func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	if err := config.Migrate(db); err != nil {
		a.close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	var channel services.Channel
	switch cfg.Channel.Provider {
	case config.ChannelTelegram:
		channel = integrations.NewTelegramChannel(cfg.Telegram.BotToken, cfg.Telegram.BaseURL, logger.Named("telegram"))
	default:
		channel = integrations.NewTwilioChannel(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken,
			cfg.Twilio.PhoneNumber, cfg.Twilio.WhatsAppNumber, logger.Named("twilio"))
	}

	var generator services.TextGenerator
	if cfg.TextGen.Provider == config.TextGenDeepSeek {
		gen, err := integrations.NewDeepSeekGenerator(cfg.DeepSeek.APIKey, cfg.DeepSeek.Model,
			cfg.DeepSeek.MaxTokens, cfg.DeepSeek.Temperature)
		if err != nil {
			a.close()
			return nil, err
		}
		generator = gen
	}

	var locker services.Locker
	if cfg.Redis.Addr != "" {
		l, err := cache.NewRedisLocker(cfg.Redis.Addr, cfg.Redis.Password, logger.Named("redis"))
		if err != nil {
			// slot uniqueness still protects the data; run without the lock
			logger.Warn("Redis unavailable, cycles run without a lock", zap.Error(err))
		} else {
			locker = l
			a.closers = append(a.closers, l.Close)
		}
	}

	a.service = services.NewReminderService(services.Deps{
		Reminders:   repository.NewReminderRepo(db),
		Occurrences: repository.NewOccurrenceRepo(db),
		Logs:        repository.NewNotificationLogRepo(db),
		Subjects:    repository.NewSubjectRepo(db),
		Channel:     channel,
		Generator:   generator,
		Locker:      locker,
		Clock:       utils.SystemClock{},
		Logger:      logger,
	}, services.Settings{
		Concurrency:       cfg.Scheduler.Concurrency,
		ChannelTimeout:    cfg.Dispatch.ChannelTimeout,
		GenerationTimeout: cfg.Dispatch.GenerationTimeout,
		MaxRetries:        cfg.Dispatch.MaxRetries,
		RetryBackoff:      cfg.Dispatch.RetryBackoff,
		FollowUpBatch:     cfg.Dispatch.FollowUpBatch,
		LockTTL:           cfg.Dispatch.LockTTL,
		Location:          cfg.Location(),
		RequirePhone:      cfg.Channel.Provider != config.ChannelTelegram,
	})
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Close failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
