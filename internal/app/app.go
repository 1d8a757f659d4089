// Package app wires configuration into a running auction server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	bidding "auction-engine/internal/biddingService"
	"auction-engine/internal/broadcaster"
	"auction-engine/internal/clock"
	"auction-engine/internal/config"
	"auction-engine/internal/notify"
	"auction-engine/internal/repository"
	"auction-engine/internal/scheduler"
	"auction-engine/internal/server"
	"auction-engine/internal/telemetry"
	"auction-engine/utils"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// App owns the engine, its background scheduler and the HTTP server
type App struct {
	cfg       *config.Config
	Engine    *bidding.BiddingService
	scheduler *scheduler.ExpiryScheduler
	server    *http.Server

	// stopStreams ends long-lived SSE and WebSocket requests on shutdown
	stopStreams context.CancelFunc
	closers     []func()
}

// New opens the configured store and builds every component. Call Close
// when the App is no longer needed.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := utils.SetLevel(cfg.LogLevel); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg}
	store, rdb, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	tel, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("app: telemetry: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			utils.Warn("Telemetry shutdown failed", map[string]any{"error": err.Error()})
		}
	})
	if cfg.Telemetry.Enabled() {
		utils.Info("Exporting traces and metrics", map[string]any{
			"endpoint": cfg.Telemetry.OTLPEndpoint,
			"service":  cfg.Telemetry.ServiceName,
		})
	}

	clk := clock.Real{}
	opts := []bidding.Option{
		bidding.WithTracerProvider(tel.TracerProvider),
		bidding.WithMeterProvider(tel.MeterProvider),
		bidding.WithClock(clk),
		bidding.WithPolicy(bidding.Policy{
			MinIncrementPercent: decimal.NewFromFloat(cfg.Bidding.MinIncrementPercent),
			AllowOwnerBids:      cfg.Bidding.AllowOwnerBids,
		}),
		bidding.WithMaxBidAttempts(cfg.Bidding.MaxBidAttempts),
		bidding.WithBroadcaster(broadcaster.New(clk, cfg.Bidding.SubscriberBuffer)),
	}

	notifier, err := buildNotifier(cfg.Notify, rdb)
	if err != nil {
		a.Close()
		return nil, err
	}
	if notifier != nil {
		opts = append(opts, bidding.WithNotifier(notifier))
	}

	a.Engine = bidding.NewBiddingService(store, opts...)
	a.scheduler = scheduler.NewExpiryScheduler(a.Engine, clk, cfg.Expiry.Interval)
	base, stopStreams := context.WithCancel(context.Background())
	a.stopStreams = stopStreams
	a.server = &http.Server{
		Addr:        cfg.Server.Addr(),
		BaseContext: func(net.Listener) context.Context { return base },
		Handler: server.SetupRouter(a.Engine, server.RouterOptions{
			CORSOrigins: cfg.Server.CORSOrigins,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context) (repository.AuctionStore, *redis.Client, error) {
	switch a.cfg.Store.Driver {
	case config.DriverRedis:
		rc := a.cfg.Store.Redis
		rdb, err := repository.OpenRedis(ctx, repository.RedisOptions{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
			PoolSize: rc.PoolSize,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("app: open redis store: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		utils.Info("Using Redis auction store", map[string]any{"addr": rc.Addr, "db": rc.DB})
		return repository.NewRedisRepo(rdb), rdb, nil

	case config.DriverPostgres:
		pc := a.cfg.Store.Postgres
		pool, err := repository.OpenPostgres(ctx, pc.DSN, pc.MaxConns)
		if err != nil {
			return nil, nil, fmt.Errorf("app: open postgres store: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		repo := repository.NewPostgresRepo(pool)
		if pc.Migrate {
			if err := repo.Migrate(ctx); err != nil {
				return nil, nil, fmt.Errorf("app: migrate postgres store: %w", err)
			}
		}
		utils.Info("Using Postgres auction store", map[string]any{"max_conns": pc.MaxConns})
		return repo, nil, nil

	default:
		utils.Warn("Using in-memory auction store; state is lost on restart", nil)
		return repository.NewMemoryRepo(), nil, nil
	}
}

// buildNotifier returns nil when no close-out sender is configured
func buildNotifier(cfg config.NotifyConfig, rdb *redis.Client) (*notify.Notifier, error) {
	var senders []notify.Sender
	if rdb != nil && cfg.PublishToRedis {
		senders = append(senders, notify.NewRedisPublisher(rdb, cfg.RedisChannel))
	}
	if cfg.DiscordWebhookURL != "" {
		d, err := notify.NewDiscordSender(cfg.DiscordWebhookURL)
		if err != nil {
			return nil, fmt.Errorf("app: discord notifier: %w", err)
		}
		senders = append(senders, d)
	}
	if cfg.Email.Enabled() {
		e, err := notify.NewEmailSender(notify.EmailOptions{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.SMTPUser,
			Password: cfg.Email.SMTPPassword,
			From:     cfg.Email.From,
			To:       cfg.Email.To,
		})
		if err != nil {
			return nil, fmt.Errorf("app: email notifier: %w", err)
		}
		senders = append(senders, e)
	}
	if len(senders) == 0 {
		return nil, nil
	}

	n := notify.NewNotifier(senders...)
	utils.Info("Close-out notifications enabled", map[string]any{"senders": n.Senders()})
	return n, nil
}

// Handler exposes the HTTP handler, mainly for tests
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// Run serves HTTP and runs the expiry scheduler until ctx is cancelled or
// either of them fails, then shuts the server down gracefully.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		utils.Info("Starting auction server", map[string]any{"addr": a.server.Addr})
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.scheduler.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()

		utils.Info("Shutting down auction server", nil)
		a.stopStreams()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("app: http shutdown: %w", err)
		}
		return nil
	})

	err := g.Wait()
	// close-outs dispatched by the last ticks and bids still get delivered
	a.Engine.Wait()
	return err
}

// Close flushes telemetry and releases store connections
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	if a.stopStreams != nil {
		a.stopStreams()
	}
}
