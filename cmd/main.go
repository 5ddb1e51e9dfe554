package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjod/go_cart/basket-service/internal/cache"
	"github.com/fjod/go_cart/basket-service/internal/catalog"
	"github.com/fjod/go_cart/basket-service/internal/config"
	"github.com/fjod/go_cart/basket-service/internal/consumer"
	h "github.com/fjod/go_cart/basket-service/internal/http"
	"github.com/fjod/go_cart/basket-service/internal/identity"
	"github.com/fjod/go_cart/basket-service/internal/keylock"
	"github.com/fjod/go_cart/basket-service/internal/logger"
	"github.com/fjod/go_cart/basket-service/internal/payment"
	"github.com/fjod/go_cart/basket-service/internal/poller"
	"github.com/fjod/go_cart/basket-service/internal/publisher"
	"github.com/fjod/go_cart/basket-service/internal/repository"
	"github.com/fjod/go_cart/basket-service/internal/service"
	"github.com/fjod/go_cart/basket-service/internal/sessionstore"
	"github.com/fjod/go_cart/basket-service/internal/writebehind"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	log := logger.New("basket-service", cfg.LogLevel)

	// Accept upstream traceparent headers so request logs carry the caller's trace id.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// MongoDB: carts and likes
	mongoDB, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to MongoDB")
	}
	defer func() {
		if err := mongoDB.Client().Disconnect(context.Background()); err != nil {
			log.Error().Err(err).Msg("failed to disconnect from MongoDB")
		}
	}()
	cartRepo := repository.NewMongoCartRepository(mongoDB)
	likesRepo := repository.NewMongoLikesRepository(mongoDB)
	if err := cartRepo.CreateIndexes(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to create cart indexes")
	}
	if err := likesRepo.CreateIndexes(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to create likes indexes")
	}
	log.Info().Str("uri", cfg.MongoURI).Msg("connected to MongoDB")

	// Redis: cart cache
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("redis connection failed")
	}
	cartCache := cache.NewRedisCache(redisClient, cfg.CartCacheTTL)

	// SQLite: product catalog
	sqliteReader, err := catalog.NewSQLiteReader(cfg.CatalogDBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open catalog")
	}
	defer sqliteReader.Close()
	if err := sqliteReader.RunMigrations(); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate catalog")
	}
	cachedCatalog := catalog.NewCachedReader(sqliteReader, cfg.CatalogCacheSize, cfg.CatalogCacheTTL)

	// Postgres: sessions, orders, reconciliation, outbox
	sessions, err := sessionstore.NewRepository(&sessionstore.Credentials{
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		DBName:   cfg.Postgres.DBName,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer sessions.Close()
	if err := sessions.RunMigrations(); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate session store")
	}

	var processor payment.Processor
	if cfg.ProcessorURL != "" {
		processor = payment.NewHTTPProcessor(cfg.ProcessorURL, cfg.ProcessorAPIKey, cfg.ProcessorTimeout, log)
	} else {
		log.Warn().Msg("PROCESSOR_URL not set, using in-process payment simulator")
		processor = payment.NewSimulator(cfg.DefaultSessionTTL)
	}

	verifier, err := identity.NewJWTVerifier(cfg.JWTSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("JWT_SECRET must be set")
	}

	flusher := writebehind.New(cartRepo, log, writebehind.Options{
		Workers:    cfg.FlushWorkers,
		MaxElapsed: cfg.FlushMaxElapsed,
	})
	carts := service.NewCarts(cartRepo, cartCache, flusher, keylock.New(keylock.DefaultStripes), log)

	cartService := service.NewCartService(carts, cachedCatalog, log)
	likesService := service.NewLikesService(likesRepo, cachedCatalog, log)
	checkoutService := service.NewCheckoutService(carts, sessions, cachedCatalog.Uncached(), processor, service.CheckoutConfig{
		Currency:          cfg.Currency,
		ProcessorTimeout:  cfg.ProcessorTimeout,
		DefaultSessionTTL: cfg.DefaultSessionTTL,
	}, log)

	outbox := publisher.NewOutboxPoller(
		sessions,
		publisher.NewKafkaWriter(cfg.CheckoutCompleteTopic, cfg.KafkaBrokers...),
		cfg.OutboxPollInterval,
		log,
	)
	defer outbox.Close()

	confirmations := consumer.NewConfirmationConsumer(
		consumer.NewKafkaReader(cfg.ConfirmationTopic, cfg.ConfirmationGroupID, cfg.KafkaBrokers...),
		checkoutService,
		log,
	)
	defer confirmations.Close()

	sweeper := poller.NewExpirySweeper(checkoutService, cfg.SweepInterval, log)

	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: h.NewRouter(h.RouterConfig{
			Carts:              cartService,
			Checkout:           checkoutService,
			Likes:              likesService,
			Confirm:            checkoutService,
			Verifier:           verifier,
			Log:                log,
			WebhookSecret:      cfg.WebhookSecret,
			RequestTimeout:     cfg.RequestTimeout,
			MaxRequestBodySize: cfg.MaxRequestBodySize,
			CORSAllowOrigins:   cfg.CORSAllowOrigins,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		flusher.Run(gctx)
		return nil
	})
	g.Go(func() error {
		outbox.Run(gctx)
		return nil
	})
	g.Go(func() error {
		confirmations.Run(gctx)
		return nil
	})
	g.Go(func() error {
		sweeper.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info().Str("port", cfg.HTTPPort).Msg("basket service starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if err != nil {
		log.Error().Err(err).Msg("basket service stopped with error")
	}

	// Workers have stopped: push every staged cart to MongoDB before exit.
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	flusher.Drain(drainCtx)
	cancel()

	log.Info().Msg("server exited")
	return err
}
