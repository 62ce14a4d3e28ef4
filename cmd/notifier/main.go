package main

import (
	"context"
	"errors"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/example/gym-checkout/internal/config"
	"github.com/example/gym-checkout/internal/email"
	"github.com/example/gym-checkout/internal/infrastructure/kafka"
	"github.com/example/gym-checkout/internal/notification"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	var logger *zap.Logger
	if cfg.LogDev {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	logger = logger.Named("notifier")
	defer logger.Sync()

	if err := cfg.Validate(false); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	if !cfg.KafkaEnabled() {
		logger.Fatal("KAFKA_BROKERS is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting notifier",
		zap.Strings("kafka_brokers", cfg.KafkaBrokers),
		zap.String("events_topic", cfg.KafkaEventsTopic),
		zap.String("reminder_topic", cfg.KafkaReminderTopic),
		zap.String("group", cfg.KafkaGroupID),
		zap.String("smtp_host", cfg.SMTPHost),
	)

	mailer := email.NewService(cfg.SMTPHost, strconv.Itoa(cfg.SMTPPort), cfg.SMTPFrom, logger)
	orders := notification.NewHandler(mailer, logger)
	scheduler := notification.NewScheduler(mailer, logger)

	eventConsumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaEventsTopic, cfg.KafkaGroupID+"-orders", logger)
	defer eventConsumer.Close()
	reminderConsumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaReminderTopic, cfg.KafkaGroupID+"-reminders", logger)
	defer reminderConsumer.Close()

	var wg sync.WaitGroup
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("worker stopped", zap.String("worker", name), zap.Error(err))
				stop()
			}
		}()
	}

	start("order_confirmations", func(ctx context.Context) error {
		return eventConsumer.Consume(ctx, orders.HandleEvent)
	})
	start("reminder_intake", func(ctx context.Context) error {
		return reminderConsumer.Consume(ctx, scheduler.Handle)
	})
	start("reminder_scheduler", scheduler.Run)

	<-ctx.Done()
	logger.Info("shutting down", zap.Int("pending_reminders", scheduler.Pending()))
	wg.Wait()
}
