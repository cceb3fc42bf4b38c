package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tealshop/storefront/internal/apiclient"
	"github.com/tealshop/storefront/internal/cart"
	"github.com/tealshop/storefront/internal/checkout"
	domain "github.com/tealshop/storefront/internal/domain"
	"github.com/tealshop/storefront/internal/platform/config"
	pfirestore "github.com/tealshop/storefront/internal/platform/firestore"
	"github.com/tealshop/storefront/internal/platform/observability"
	"github.com/tealshop/storefront/internal/platform/securecookie"
	"github.com/tealshop/storefront/internal/web"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger("storefront-web")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("web")

	cfg, err := config.Load(ctx,
		config.ForComponent(config.ComponentWeb),
		config.WithRequiredSecrets("Web.CookieSecret"),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	codec, err := securecookie.New([]byte(cfg.Web.CookieSecret),
		securecookie.WithSecure(cfg.Web.CookieSecure),
		securecookie.WithMaxAge(cfg.Web.CartTTL),
		securecookie.WithEncryptionKey([]byte(cfg.Web.CookieBlockKey)),
	)
	if err != nil {
		logger.Fatal("failed to initialise cookie codec", zap.Error(err))
	}

	carts, closeCarts, err := newCartBackend(ctx, cfg, codec)
	if err != nil {
		logger.Fatal("failed to initialise cart backend", zap.String("backend", cfg.Web.CartBackend), zap.Error(err))
	}
	defer func() {
		if err := closeCarts(); err != nil {
			logger.Warn("cart backend close error", zap.Error(err))
		}
	}()
	logger.Info("cart backend ready", zap.String("backend", cfg.Web.CartBackend))

	api, err := apiclient.New(cfg.Web.APIBaseURL, apiclient.Options{
		Timeout:          cfg.Client.Timeout,
		FailureThreshold: uint32(cfg.Client.BreakerThreshold),
		OpenTimeout:      cfg.Client.BreakerOpenTimeout,
		Logger:           observability.EventLogger(logger.Named("apiclient")),
	})
	if err != nil {
		logger.Fatal("failed to initialise api client", zap.Error(err))
	}

	placer, err := checkout.NewPlacer(checkout.PlacerDeps{
		Orders:   api,
		Products: api,
		Pricing: domain.PricingPolicy{
			FreeShippingThreshold: cfg.Pricing.FreeShippingThreshold,
			FlatShippingFee:       cfg.Pricing.FlatShippingFee,
			TaxRate:               cfg.Pricing.TaxRate,
		},
		Logger: observability.EventLogger(logger.Named("checkout")),
	})
	if err != nil {
		logger.Fatal("failed to initialise checkout", zap.Error(err))
	}

	money, err := web.NewMoneyFormatter(cfg.Web.Locale, cfg.Web.Currency)
	if err != nil {
		logger.Fatal("failed to initialise money formatter", zap.Error(err))
	}
	sessions, err := web.NewSessionManager(codec, time.Now)
	if err != nil {
		logger.Fatal("failed to initialise session manager", zap.Error(err))
	}

	server, err := web.NewServer(web.ServerDeps{
		API:       api,
		Placer:    placer,
		Carts:     carts,
		Sessions:  sessions,
		Money:     money,
		LoginPath: cfg.Web.LoginPath,
		PublicURL: cfg.Web.PublicURL,
		Logger:    observability.EventLogger(logger.Named("storefront")),
	})
	if err != nil {
		logger.Fatal("failed to initialise web server", zap.Error(err))
	}

	router := web.NewRouter(server,
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware("storefront-web", cfg.Firebase.ProjectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	)
	httpServer := &http.Server{
		Addr:         ":" + cfg.Web.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", httpServer.Addr))
	go func() {
		serverLogger.Info("storefront web listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// newCartBackend selects where session carts live. The returned func releases backend clients.
func newCartBackend(ctx context.Context, cfg config.Config, codec *securecookie.Codec) (cart.Backend, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Web.CartBackend {
	case config.CartBackendMemory:
		return cart.NewMemoryBackend(), noop, nil
	case config.CartBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		backend, err := cart.NewRedisBackend(client, cfg.Web.CartTTL)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return backend, client.Close, nil
	case config.CartBackendMongo:
		db, err := cart.ConnectMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, nil, err
		}
		disconnect := func() error {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return db.Client().Disconnect(closeCtx)
		}
		backend, err := cart.NewMongoBackend(db)
		if err != nil {
			_ = disconnect()
			return nil, nil, err
		}
		return backend, disconnect, nil
	case config.CartBackendFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore)
		backend, err := cart.NewFirestoreBackend(provider, cfg.Web.CartTTL)
		if err != nil {
			_ = provider.Close()
			return nil, nil, err
		}
		return backend, provider.Close, nil
	default:
		backend, err := cart.NewCookieBackend(codec)
		if err != nil {
			return nil, nil, err
		}
		return backend, noop, nil
	}
}
