package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/example/gym-checkout/internal/api"
	"github.com/example/gym-checkout/internal/auth"
	"github.com/example/gym-checkout/internal/checkout"
	"github.com/example/gym-checkout/internal/config"
	"github.com/example/gym-checkout/internal/domain/cart"
	"github.com/example/gym-checkout/internal/domain/catalog"
	"github.com/example/gym-checkout/internal/domain/inventory"
	"github.com/example/gym-checkout/internal/domain/membership"
	"github.com/example/gym-checkout/internal/domain/order"
	"github.com/example/gym-checkout/internal/infrastructure/cache"
	"github.com/example/gym-checkout/internal/infrastructure/db"
	"github.com/example/gym-checkout/internal/infrastructure/kafka"
	"github.com/example/gym-checkout/internal/infrastructure/store"
	"github.com/example/gym-checkout/internal/notification"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := newLogger(cfg.LogDev)
	defer logger.Sync()

	if err := cfg.Validate(true); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	if err := run(cfg, logger); err != nil {
		logger.Fatal("api stopped", zap.Error(err))
	}
}

func newLogger(dev bool) *zap.Logger {
	var logger *zap.Logger
	var err error
	if dev {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return logger.Named("api")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting gym checkout api",
		zap.String("store", cfg.StoreType),
		zap.Strings("kafka_brokers", cfg.KafkaBrokers),
		zap.Bool("redis", cfg.RedisAddr != ""),
	)

	// Event stream. Without brokers events stay in the store only.
	var events store.Publisher
	var reminders checkout.ReminderPublisher
	if cfg.KafkaEnabled() {
		eventProducer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaEventsTopic, logger)
		defer eventProducer.Close()
		reminderProducer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaReminderTopic, logger)
		defer reminderProducer.Close()
		events = eventProducer
		reminders = notification.NewPublisher(reminderProducer)
	}

	eventStore, ledger, cleanup, err := openStores(ctx, cfg, events, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	seed, err := catalog.LoadSeedFile(cfg.CatalogFile)
	if err != nil {
		return err
	}
	cat, err := seed.Catalog()
	if err != nil {
		return err
	}
	// Postgres keeps stock across restarts; the in-memory ledgers start from the seed.
	if cfg.StoreType != config.StorePostgres {
		if err := seed.ApplyStock(ctx, ledger); err != nil {
			return err
		}
	}
	logger.Info("catalog loaded", zap.String("file", cfg.CatalogFile))

	var cartCache cart.Cache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		cartCache = cache.NewRedisCartCache(rdb, cfg.CartCacheTTL)
	}

	policy := membership.NewPolicy(cfg.RenewalThresholdDays)
	carts := cart.NewService(eventStore, cartCache, logger)
	memberships := membership.NewService(eventStore, logger)
	orders := order.NewService(eventStore)

	orchestrator := checkout.NewOrchestrator(checkout.Deps{
		Catalog:     cat,
		Ledger:      ledger,
		Memberships: memberships,
		Orders:      orders,
		Carts:       carts,
		Reminders:   reminders,
	}, checkout.Config{
		Policy:          policy,
		RollbackTimeout: cfg.CheckoutRollbackTimeout,
	}, logger)

	handlers := api.NewHandlers(api.Deps{
		Carts:        carts,
		Orchestrator: orchestrator,
		Memberships:  memberships,
		Orders:       orders,
		Catalog:      cat,
		Ledger:       ledger,
		Policy:       policy,
	}, logger)
	jwtService := auth.NewJWTService(cfg.JWTSecret, cfg.JWTAccessExpiry,
		auth.WithIssuer(cfg.JWTIssuer),
		auth.WithLeeway(30*time.Second),
	)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(handlers, jwtService, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server started", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// openStores builds the event store and stock ledger for cfg.StoreType.
// Stock lives in Postgres for the postgres store and in memory otherwise.
func openStores(ctx context.Context, cfg *config.Config, events store.Publisher, logger *zap.Logger) (store.EventStoreInterface, inventory.Ledger, func(), error) {
	switch cfg.StoreType {
	case config.StorePostgres:
		if cfg.RunMigrations {
			if err := db.RunMigrations(cfg.DatabaseURL, logger); err != nil {
				return nil, nil, nil, err
			}
		}
		sqlDB, err := db.ConnectPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			sqlDB.Close()
			return nil, nil, nil, err
		}
		logger.Info("connected to postgres")
		cleanup := func() {
			pool.Close()
			sqlDB.Close()
		}
		return store.NewPostgresEventStore(sqlDB, events, logger), inventory.NewPostgresLedger(pool), cleanup, nil

	case config.StoreDynamoDB:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return nil, nil, nil, err
		}
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.DynamoEndpoint != "" {
				o.BaseEndpoint = aws.String(cfg.DynamoEndpoint)
			}
		})
		logger.Info("using dynamodb",
			zap.String("events_table", cfg.DynamoEventsTable),
			zap.String("region", cfg.AWSRegion),
		)
		es := store.NewDynamoEventStore(client, cfg.DynamoEventsTable, cfg.DynamoSnapshotsTable, events, logger)
		return es, inventory.NewMemoryLedger(), func() {}, nil

	default:
		return store.NewEventStore(events, logger), inventory.NewMemoryLedger(), func() {}, nil
	}
}
