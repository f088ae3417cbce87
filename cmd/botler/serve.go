package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/botlerhq/botler/internal/ai"
	"github.com/botlerhq/botler/internal/capability"
	"github.com/botlerhq/botler/internal/config"
	"github.com/botlerhq/botler/internal/conversation"
	"github.com/botlerhq/botler/internal/db"
	"github.com/botlerhq/botler/internal/dispatch"
	"github.com/botlerhq/botler/internal/event"
	"github.com/botlerhq/botler/internal/handlers"
	"github.com/botlerhq/botler/internal/idempotency"
	"github.com/botlerhq/botler/internal/logger"
	"github.com/botlerhq/botler/internal/maintenance"
	"github.com/botlerhq/botler/internal/outbound"
	"github.com/botlerhq/botler/internal/processor"
	"github.com/botlerhq/botler/internal/ratelimit"
	"github.com/botlerhq/botler/internal/server"
	"github.com/botlerhq/botler/internal/tenant"
)

// replyWindow is the free-form customer service window WhatsApp enforces
// after each inbound message.
const replyWindow = 24 * time.Hour

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook ingestion server",
		Run: func(cmd *cobra.Command, _ []string) {
			runServe(configPath(cmd))
		},
	}
}

func runServe(path string) {
	fx.New(
		fx.Provide(
			func() (config.Config, error) { return config.Load(path) },
			provideLogger,
			provideDBPool,
			provideTenantStore,
			event.DefaultRegistry,
			provideRedisClient,
			provideIdempotencyStore,
			provideLimiters,
			provideMachine,
			provideEngine,
			provideCapabilityStore,
			provideDispatchRegistry,
			provideDispatcher,
			provideRunner,
			provideMessenger,
			provideProcessor,
			handlers.NewPingHandler,
			provideWebhookHandler,
			provideMaintenance,
			provideServer,
		),
		fx.Invoke(
			registerHealthChecks,
			startMaintenance,
			startServer,
		),
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	pool, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { pool.Close(); return nil }})
	return pool, nil
}

// provideTenantStore picks the registry backing. Static platform secrets in
// the config select the single-tenant in-process registry; otherwise tenants
// are resolved from the database.
func provideTenantStore(cfg config.Config, pool *pgxpool.Pool) tenant.Store {
	if cfg.Shopify.WebhookSecret != "" || cfg.WooCommerce.WebhookSecret != "" || cfg.WhatsApp.AppSecret != "" {
		return tenant.FromConfig(&cfg)
	}
	return tenant.NewPgStore(pool)
}

// provideRedisClient returns nil when redis is disabled; dependents treat a
// nil client as "not configured".
func provideRedisClient(lc fx.Lifecycle, cfg config.Config) *redis.Client {
	if !cfg.Redis.Enabled {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return client.Close() }})
	return client
}

func provideIdempotencyStore(cfg config.Config, log *slog.Logger, client *redis.Client) idempotency.Store {
	policy := idempotency.Policy{
		Retention:         cfg.Idempotency.Retention(),
		ProcessingTimeout: cfg.Idempotency.ProcessingTimeout(),
	}
	if client == nil {
		return idempotency.NewMemoryStore(policy)
	}
	return idempotency.NewRedisStore(log, client, policy)
}

// limiterSet carries the two admission limiters; fx cannot tell two values
// of the same type apart.
type limiterSet struct {
	messages *ratelimit.Limiter
	orders   *ratelimit.Limiter
}

func provideLimiters(cfg config.Config) *limiterSet {
	return &limiterSet{
		messages: ratelimit.NewLimiter(ratelimit.Limit{
			Capacity:   float64(cfg.RateLimit.MessageCapacity),
			RefillRate: cfg.RateLimit.MessageRefillPer,
		}),
		orders: ratelimit.NewLimiter(ratelimit.Limit{
			Capacity:   float64(cfg.RateLimit.OrderCapacity),
			RefillRate: cfg.RateLimit.OrderRefillPer,
		}),
	}
}

func provideMachine(log *slog.Logger, cfg config.Config, pool *pgxpool.Pool) *conversation.Machine {
	return conversation.NewMachine(log, conversation.NewPgStore(pool), conversation.NewKeyedLock(),
		conversation.MachineConfig{
			Window:       replyWindow,
			HistoryLimit: cfg.Conversation.HistoryLimit,
		})
}

func provideEngine(log *slog.Logger, cfg config.Config) ai.Engine {
	return ai.NewClient(log, cfg.Engine)
}

func provideCapabilityStore(pool *pgxpool.Pool) capability.Store {
	return capability.NewPgStore(pool)
}

func provideDispatchRegistry(log *slog.Logger, store capability.Store) *dispatch.Registry {
	registry := dispatch.NewRegistry()
	capability.NewHandlers(log, store).RegisterAll(registry)
	return registry
}

func provideDispatcher(log *slog.Logger, cfg config.Config, registry *dispatch.Registry) *dispatch.Dispatcher {
	return dispatch.NewDispatcher(log, registry, cfg.Dispatch.CallTimeout())
}

func provideRunner(log *slog.Logger, cfg config.Config, engine ai.Engine, dispatcher *dispatch.Dispatcher, registry *dispatch.Registry) *dispatch.Runner {
	return dispatch.NewRunner(log, engine, dispatcher, registry, cfg.Dispatch.MaxToolRounds)
}

func provideMessenger(log *slog.Logger, cfg config.Config, idem idempotency.Store, tenants tenant.Store) *outbound.Messenger {
	return outbound.NewMessenger(log, idem, outbound.MessengerConfig{
		RetryMax:     cfg.Outbound.RetryMax,
		RetryBackoff: time.Duration(cfg.Outbound.RetryBackoffMs) * time.Millisecond,
		SendRate:     cfg.Outbound.SendRatePerSec,
		SendBurst:    cfg.Outbound.SendBurst,
	},
		outbound.NewWhatsAppSender(log, tenants, cfg.WhatsApp.GraphBaseURL, cfg.Outbound.RequestTimeout()),
		outbound.NewLogSender(log, event.PlatformShopify),
		outbound.NewLogSender(log, event.PlatformWooCommerce),
	)
}

func provideProcessor(log *slog.Logger, tenants tenant.Store, events *event.Registry, idem idempotency.Store, limiters *limiterSet, machine *conversation.Machine, runner *dispatch.Runner, store capability.Store, messenger *outbound.Messenger) *processor.Processor {
	return processor.New(log, tenants, events, idem, limiters.messages, limiters.orders, machine, runner, store, messenger)
}

func provideWebhookHandler(log *slog.Logger, proc *processor.Processor, tenants tenant.Store) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, proc, tenants)
}

func provideMaintenance(log *slog.Logger, cfg config.Config, idem idempotency.Store, machine *conversation.Machine, limiters *limiterSet) *maintenance.Service {
	return maintenance.NewService(log, idem, machine, maintenance.Config{
		IdleAfter: time.Duration(cfg.Conversation.IdleCloseDays) * 24 * time.Hour,
	}, limiters.messages, limiters.orders)
}

func provideServer(log *slog.Logger, cfg config.Config, pingHandler *handlers.PingHandler, webhookHandler *handlers.WebhookHandler) *server.Server {
	return server.NewServer(log, cfg.Server.Addr, pingHandler, webhookHandler)
}

func registerHealthChecks(ping *handlers.PingHandler, pool *pgxpool.Pool, client *redis.Client) {
	ping.AddCheck("postgres", pool.Ping)
	if client != nil {
		ping.AddCheck("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	}
}

func startMaintenance(lc fx.Lifecycle, svc *maintenance.Service) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return svc.Start() },
		OnStop:  func(context.Context) error { svc.Stop(); return nil },
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
