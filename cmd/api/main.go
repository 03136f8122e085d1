package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"callconfirm/internal/asana"
	"callconfirm/internal/audit"
	"callconfirm/internal/auth"
	"callconfirm/internal/calls"
	"callconfirm/internal/config"
	"callconfirm/internal/confirm"
	"callconfirm/internal/reporting"
	"callconfirm/internal/requests"
	"callconfirm/internal/telephony"
	"callconfirm/pkg/logger"
	"callconfirm/pkg/utils"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)
	rootCtx = logger.With(rootCtx, log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(rootCtx, stop, cfg, log); err != nil {
		log.Error("startup failed", logger.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, stop context.CancelFunc, cfg config.Config, log *slog.Logger) error {
	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return fmt.Errorf("auth init: %w", err)
	}

	var db *sql.DB
	if cfg.DB.Enabled() {
		db, err = utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			return fmt.Errorf("postgres init: %w", err)
		}
		defer db.Close()
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb, err = utils.OpenRedis(ctx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err != nil {
			return fmt.Errorf("redis init: %w", err)
		}
		defer rdb.Close()
	}

	store, err := openStore(ctx, cfg, db, rdb)
	if err != nil {
		return err
	}

	auditSvc, err := openAudit(ctx, db)
	if err != nil {
		return err
	}

	provider, err := openProvider(cfg)
	if err != nil {
		return err
	}

	scripts := telephony.DefaultScripts()
	if cfg.Confirm.ScriptsFile != "" {
		scripts, err = telephony.LoadScripts(cfg.Confirm.ScriptsFile)
		if err != nil {
			return fmt.Errorf("voice scripts: %w", err)
		}
	}

	var limiter confirm.Limiter
	if cfg.Confirm.MaxConcurrentCalls > 0 {
		// The counter TTL bounds leaked slots; stale-call expiry releases them well before it.
		limiter = confirm.NewRedisLimiter(rdb, "", cfg.Confirm.MaxConcurrentCalls, 2*cfg.Confirm.StaleCallTimeout)
	}

	policy := calls.RetryPolicy{MaxAttempts: cfg.Confirm.MaxAttempts, RetryDelay: cfg.Confirm.RetryDelay}
	dispatcher := &confirm.Dispatcher{
		Store:       store,
		Provider:    provider,
		Scripts:     scripts,
		Policy:      policy,
		Limiter:     limiter,
		Audit:       auditSvc,
		BaseURL:     cfg.App.BaseURL,
		RecordCalls: cfg.Twilio.RecordCalls,
	}
	events := &confirm.EventHandler{Store: store, Policy: policy, Limiter: limiter, Audit: auditSvc}
	scheduler := &confirm.Scheduler{
		Store:       store,
		Dispatcher:  dispatcher,
		Events:      events,
		Interval:    cfg.Confirm.ScanInterval,
		BatchSize:   cfg.Confirm.BatchSize,
		Parallelism: cfg.Confirm.Parallelism,
		StaleAfter:  cfg.Confirm.StaleCallTimeout,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		cfg:       cfg,
		authMW:    auth.RequireAccessToken(authManager),
		refresh:   auth.RefreshHandler(authManager),
		store:     store,
		provider:  provider,
		scripts:   scripts,
		events:    events,
		scheduler: scheduler,
		reports:   reporting.NewService(store),
		audit:     auditSvc,
		limiter:   limiter,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "store", cfg.Store.Backend, "provider", provider.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		_ = scheduler.Run(ctx)
	}()

	<-ctx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
	select {
	case <-schedDone:
	case <-shutdownCtx.Done():
		log.Warn("scheduler did not stop in time")
	}
	return nil
}

func openStore(ctx context.Context, cfg config.Config, db *sql.DB, rdb *redis.Client) (requests.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		s := requests.NewPgStore(db)
		if err := s.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		return s, nil
	case config.BackendAsana:
		fields := asana.FieldMap{
			Phone:        cfg.Asana.PhoneFieldID,
			Mode:         cfg.Asana.ModeFieldID,
			RetryCount:   cfg.Asana.RetryCountFieldID,
			LastCallTime: cfg.Asana.LastCallTimeFieldID,
			Outcome:      cfg.Asana.OutcomeFieldID,
			Status:       cfg.Asana.StatusFieldID,
			StatusOptions: map[calls.Status]string{
				calls.StatusPending:     cfg.Asana.StatusPendingID,
				calls.StatusConfirmed:   cfg.Asana.StatusConfirmedID,
				calls.StatusUnavailable: cfg.Asana.StatusUnavailableID,
			},
		}
		if err := fields.Validate(); err != nil {
			return nil, err
		}
		client := asana.NewClient(cfg.Asana.BaseURL, cfg.Asana.AccessToken, nil)
		return asana.NewStore(client, asana.NewRedisLedger(rdb), cfg.Asana.ProjectID, fields), nil
	default:
		return requests.NewMemoryStore(), nil
	}
}

// openAudit keeps the trail in Postgres when a database is configured, in memory otherwise.
func openAudit(ctx context.Context, db *sql.DB) (*audit.Service, error) {
	if db == nil {
		return audit.NewService(audit.NewMemoryRepo()), nil
	}
	gdb, err := utils.OpenGorm(db)
	if err != nil {
		return nil, fmt.Errorf("gorm init: %w", err)
	}
	repo, err := audit.NewGormRepo(ctx, gdb)
	if err != nil {
		return nil, fmt.Errorf("audit migrate: %w", err)
	}
	return audit.NewService(repo), nil
}

func openProvider(cfg config.Config) (telephony.Provider, error) {
	if !cfg.Twilio.Enabled() {
		slog.Warn("twilio not configured; using loopback provider")
		return telephony.NewLoopbackProvider(), nil
	}
	return telephony.NewTwilioProvider(telephony.TwilioConfig{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
		FromNumber: cfg.Twilio.FromNumber,
	})
}
