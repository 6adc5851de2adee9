package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ErlanBelekov/prospect-portal/config"
	"github.com/ErlanBelekov/prospect-portal/internal/email"
	"github.com/ErlanBelekov/prospect-portal/internal/health"
	"github.com/ErlanBelekov/prospect-portal/internal/infrastructure/records"
	"github.com/ErlanBelekov/prospect-portal/internal/infrastructure/recordstore"
	ctxlog "github.com/ErlanBelekov/prospect-portal/internal/log"
	"github.com/ErlanBelekov/prospect-portal/internal/magiclink"
	"github.com/ErlanBelekov/prospect-portal/internal/metrics"
	"github.com/ErlanBelekov/prospect-portal/internal/scheduler"
	"github.com/ErlanBelekov/prospect-portal/internal/session"
	"github.com/ErlanBelekov/prospect-portal/internal/sso"
	httptransport "github.com/ErlanBelekov/prospect-portal/internal/transport/http"
	"github.com/ErlanBelekov/prospect-portal/internal/transport/http/handler"
	"github.com/ErlanBelekov/prospect-portal/internal/transport/http/middleware"
	"github.com/ErlanBelekov/prospect-portal/internal/usecase"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	store, closeStore, err := recordstore.Open(ctx, cfg)
	if err != nil {
		stop()
		log.Fatalf("record store: %v", err)
	}
	defer closeStore()

	// Magic links
	userRepo := records.NewUserRepository(store, cfg.AirtableUsersTable, logger)
	tokens := magiclink.NewMemoryStore(time.Now)
	links := usecase.NewMagicLinkUsecase(
		userRepo,
		tokens,
		email.NewSender(cfg.Env, cfg.ResendAPIKey, cfg.ResendFrom, logger),
		usecase.NewLinkResolver(cfg.ProductionURL, cfg.AuthBaseURL, cfg.FallbackOrigin),
		logger,
		usecase.WithTTL(cfg.MagicLinkTTL()),
		usecase.WithCallTimeout(cfg.ExternalCallTimeout),
	)

	sweeper, err := scheduler.NewSweeper(tokens, logger, cfg.TokenSweepSchedule)
	if err != nil {
		stop()
		log.Fatalf("sweeper: %v", err)
	}
	go sweeper.Start(ctx)

	// Sessions and login methods
	sessions := session.NewIssuer([]byte(cfg.JWTSecret), cfg.SessionTTL())
	var authUsecase *usecase.AuthUsecase
	if cfg.SSOEnabled() {
		provider := sso.NewProvider(sso.Config{
			ClientID:     cfg.OAuthClientID,
			ClientSecret: cfg.OAuthClientSecret,
			RedirectURL:  cfg.OAuthRedirectURL,
			AuthURL:      cfg.OAuthAuthURL,
			TokenURL:     cfg.OAuthTokenURL,
			UserInfoURL:  cfg.OAuthUserInfoURL,
		})
		authUsecase = usecase.NewAuthUsecase(links, userRepo, sessions, provider, logger)
	} else {
		authUsecase = usecase.NewAuthUsecase(links, userRepo, sessions, nil, logger)
	}
	authHandler := handler.NewAuthHandler(authUsecase, cfg.Env != "local", logger)

	// Forms
	formsUsecase := usecase.NewFormsUsecase(store, cfg.FormTables, cfg.ExternalCallTimeout, logger)
	portalHandler := handler.NewPortalHandler(formsUsecase, logger)

	limiters := httptransport.Limiters{
		MagicLink: middleware.NewRateLimiter(middleware.PerMinute(cfg.MagicLinkRatePerMin, cfg.MagicLinkBurst), logger),
		Login:     middleware.NewRateLimiter(middleware.PerMinute(cfg.LoginRatePerMin, cfg.LoginBurst), logger),
	}
	defer limiters.MagicLink.Stop()
	defer limiters.Login.Stop()

	metrics.Register()
	checker := health.NewChecker(logger, prometheus.DefaultRegisterer, health.PingCheck(cfg.StoreBackend, store))

	router, err := httptransport.NewRouter(logger, authHandler, portalHandler, sessions, limiters, cfg.TrustedProxies)
	if err != nil {
		stop()
		log.Fatalf("router: %v", err)
	}
	srv := http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)

	go func() {
		logger.Info("server started", "port", cfg.Port, "store", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
