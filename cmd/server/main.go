package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/smeportal/onboarding-server/internal/auth"
	"github.com/smeportal/onboarding-server/internal/clock"
	"github.com/smeportal/onboarding-server/internal/config"
	"github.com/smeportal/onboarding-server/internal/database"
	"github.com/smeportal/onboarding-server/internal/handler"
	"github.com/smeportal/onboarding-server/internal/jobs"
	"github.com/smeportal/onboarding-server/internal/middleware"
	"github.com/smeportal/onboarding-server/internal/redis"
	"github.com/smeportal/onboarding-server/internal/repository"
	"github.com/smeportal/onboarding-server/internal/service"
	"github.com/smeportal/onboarding-server/internal/sse"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := cfg.IsProduction()
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	var (
		db    *database.DB
		users repository.UserRepository
	)
	switch cfg.StoreDriver {
	case config.StorePostgres:
		db, err = database.Connect(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
		if err := db.Ping(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to ping database")
		}
		if err := database.EnsureSchema(ctx, db); err != nil {
			log.Fatal().Err(err).Msg("failed to prepare schema")
		}
		cancel()
		log.Info().Msg("database connected")

		users = repository.NewPostgresUserRepository(db)
	default:
		users = repository.NewMemoryUserRepository()
		log.Warn().Msg("using in-memory user store")
	}

	if cfg.DemoMode {
		if err := repository.SeedDemoUsers(context.Background(), users, cfg.BcryptCost); err != nil {
			log.Fatal().Err(err).Msg("failed to seed demo users")
		}
		log.Info().Msg("demo users ready")
	}

	var (
		redisClient   *redis.Client
		limiter       service.Limiter
		memoryLimiter *service.MemoryRateLimiter
	)
	realClock := clock.New()
	if cfg.RedisURL != "" {
		redisClient, err = redis.NewClient(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		limiter = service.NewRateLimiter(redisClient.Client, realClock)
		log.Info().Msg("redis connected")
	} else {
		memoryLimiter = service.NewMemoryRateLimiter(realClock)
		limiter = memoryLimiter
		log.Warn().Msg("REDIS_URL not set: login throttle and session events are local to this instance")
	}

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	policy := cfg.AuthPolicy()
	sessionService := service.NewSessionService(service.SessionConfig{
		Secret:      cfg.SessionSecret,
		InstanceTTL: cfg.InstanceTTL,
		Policy:      policy,
		Users:       users,
		Deliverer:   auth.LogDeliverer{},
		Clock:       realClock,
		Failures:    service.NewLoginFailures(limiter, cfg.MaxLoginAttempts, cfg.LockoutWindow),
	}, broker)
	productService := service.NewProductService()
	assessmentService := service.NewAssessmentService(realClock, cfg.AssessmentLatency)
	applicationService := service.NewApplicationService(
		repository.NewMemoryApplicationRepository(), productService, assessmentService, realClock,
	)
	adminService := service.NewAdminService(users, applicationService, productService, sessionService, cfg.BcryptCost)

	clientSessionMiddleware := middleware.NewClientSessionMiddleware(sessionService, isProduction)
	loginThrottle := middleware.NewIPRateLimitMiddleware(
		limiter, realClock, cfg.LoginRateLimitPerMin, config.LoginRateLimitWindow, "login",
	)
	apiRateLimitMiddleware := middleware.NewUserRateLimitMiddleware(limiter, realClock, cfg.APIRateLimitPerMin)
	csrfMiddleware := middleware.NewCSRFMiddleware(isProduction)
	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	authHandler := handler.NewAuthHandler(policy.SessionTTL, isProduction)
	eventsHandler := handler.NewEventsHandler(broker, sessionService)
	productHandler := handler.NewProductHandler(productService)
	applicationHandler := handler.NewApplicationHandler(applicationService)
	adminHandler := handler.NewAdminHandler(adminService)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	if cfg.TrustProxyHeaders {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(securityHeadersMiddleware.Handler)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", middleware.CSRFHeaderName},
			AllowCredentials: true,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), config.DBPingTimeout)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				status, code = "degraded", http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":    status,
			"sessions":  sessionService.Count(),
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(csrfMiddleware.Handler)
		r.Use(clientSessionMiddleware.Handler)

		// event streams outlive the request timeout
		r.Handle("/events", eventsHandler)

		r.Group(func(r chi.Router) {
			r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
			r.Use(bodyLimitMiddleware.Handler)

			r.Mount("/auth", authHandler.Routes(loginThrottle.Handler))

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireSession)
				r.Use(apiRateLimitMiddleware.Handler)

				r.With(middleware.RequirePermission(auth.ActionViewProducts)).Mount("/products", productHandler.Routes())
				r.Mount("/applications", applicationHandler.Routes())
				r.With(middleware.RequirePermission(auth.ActionManageUsers)).Mount("/admin", adminHandler.Routes())
			})
		})
	})

	if cfg.StaticDir != "" {
		r.Handle("/*", handler.NewSPAHandler(cfg.StaticDir))
	}

	cleanupJob := jobs.NewCleanupJob(realClock, config.CleanupJobInterval).Add("authenticators", sessionService)
	if memoryLimiter != nil {
		cleanupJob.Add("rate limit keys", memoryLimiter)
	}
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Str("store", cfg.StoreDriver).Bool("demoMode", cfg.DemoMode).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
