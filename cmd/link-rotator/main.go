package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/httplog/v2"
	"golang.org/x/sync/errgroup"

	"github.com/porkli/link-rotator/internal/auth"
	"github.com/porkli/link-rotator/internal/config"
	"github.com/porkli/link-rotator/internal/database/postgres"
	"github.com/porkli/link-rotator/internal/database/redis"
	"github.com/porkli/link-rotator/internal/service"
	pkgpostgres "github.com/porkli/link-rotator/pkg/postgres"

	myhttp "github.com/porkli/link-rotator/internal/api/http"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		panic(err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Env)

	if err := pkgpostgres.RunMigrations(cfg.Postgres.MigrationsPath, cfg.Postgres.DSN()); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	db, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	g.Go(func() error {
		<-ctx.Done()
		return db.Close()
	})

	rdb, err := redis.New(ctx, cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return err
	}
	g.Go(func() error {
		<-ctx.Done()
		return rdb.Close()
	})

	linkRepo := postgres.NewLinkRepository(db)
	clickRepo := postgres.NewClickRepository(db)
	grants := redis.NewGrantStore(rdb, cfg.Link.GrantTTL)
	limiter := redis.NewRateLimiter(rdb, cfg.RateLimit.Limit, cfg.RateLimit.Window)

	sitemap := service.NewSitemapGenerator(linkRepo, cfg.BaseURL, cfg.Sitemap.Path, logger.Logger)
	gate := service.NewAccessGate(linkRepo, grants)
	resolver := service.NewResolver(linkRepo, gate, clickRepo, logger.Logger)
	linkSvc := service.NewLinkService(linkRepo, clickRepo, sitemap, logger.Logger, cfg.Link)
	reaper := service.NewReaper(linkRepo, sitemap, logger.Logger)

	g.Go(func() error {
		return reaper.Run(ctx, cfg.Reaper.Interval)
	})

	r := myhttp.NewRouter(logger, myhttp.RouterConfig{
		BaseURL:  cfg.BaseURL,
		Resolver: resolver,
		Gate:     gate,
		Links:    linkSvc,
		Reaper:   reaper,
		Tokens:   auth.NewTokenManager(cfg.Auth.Secret, cfg.Auth.TokenTTL),
		Limiter:  limiter,
		Captcha:  myhttp.CaptchaFunc(func(string) bool { return true }),
	})

	server := &http.Server{
		Addr:           cfg.HTTPServer.Addr(),
		Handler:        r,
		ReadTimeout:    cfg.HTTPServer.ReadTimeout,
		WriteTimeout:   cfg.HTTPServer.WriteTimeout,
		IdleTimeout:    cfg.HTTPServer.IdleTimeout,
		MaxHeaderBytes: cfg.HTTPServer.MaxHeaderBytes,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	g.Go(func() error {
		var err error
		if cfg.HTTPServer.CertFile != "" && cfg.HTTPServer.KeyFile != "" {
			err = server.ListenAndServeTLS(cfg.HTTPServer.CertFile, cfg.HTTPServer.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		return server.Shutdown(context.Background())
	})

	logger.Info("server started", slog.String("addr", server.Addr), slog.String("env", cfg.Env))

	return g.Wait()
}

func newLogger(env string) *httplog.Logger {
	opts := httplog.Options{
		LogLevel:       slog.LevelDebug,
		Concise:        true,
		RequestHeaders: true,
	}

	if env == config.EnvProd {
		opts = httplog.Options{
			JSON:           true,
			LogLevel:       slog.LevelInfo,
			RequestHeaders: true,
		}
	}

	return httplog.NewLogger("link-rotator", opts)
}
