package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"teamchat-backend/internal/database"
	"teamchat-backend/internal/domain"
	adminHandler "teamchat-backend/internal/handler/http/admin"
	authHandler "teamchat-backend/internal/handler/http/auth"
	callHandler "teamchat-backend/internal/handler/http/call"
	groupCallHandler "teamchat-backend/internal/handler/http/groupcall"
	"teamchat-backend/internal/handler/http/health"
	presenceHandler "teamchat-backend/internal/handler/http/presence"
	pushHandler "teamchat-backend/internal/handler/http/push"
	storageHandler "teamchat-backend/internal/handler/http/storage"
	wsHandler "teamchat-backend/internal/handler/ws"
	"teamchat-backend/internal/middleware"
	"teamchat-backend/internal/presence"
	"teamchat-backend/internal/realtime"
	"teamchat-backend/internal/repository/mongodb"
	redisRepo "teamchat-backend/internal/repository/redis"
	"teamchat-backend/internal/scheduler"
	"teamchat-backend/internal/service/admin"
	"teamchat-backend/internal/service/auth"
	"teamchat-backend/internal/service/call"
	"teamchat-backend/internal/service/groupcall"
	"teamchat-backend/internal/service/notification"
	"teamchat-backend/internal/service/storage"
	"teamchat-backend/internal/service/user"
	"teamchat-backend/pkg/audit"
	"teamchat-backend/pkg/blob"
	"teamchat-backend/pkg/config"
	"teamchat-backend/pkg/constants"
	"teamchat-backend/pkg/jwt"
	"teamchat-backend/pkg/lockout"
	"teamchat-backend/pkg/logger"
	"teamchat-backend/pkg/metrics"
	"teamchat-backend/pkg/push"
	"teamchat-backend/pkg/resilience"
)

const (
	mongoConnectAttempts = 5
	mongoRetryBaseDelay  = time.Second
	mongoRetryMaxDelay   = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		logger.Error("Service exited with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration and logging
	cfg, err := config.Load()
	if err != nil {
		logger.InitDefault("teamchat-realtime")
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(&logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		FilePath: cfg.Log.FilePath,
		Service:  cfg.Server.ServiceName,
	}); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer logger.Sync()

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(cfg.Server.ServiceName, reg)

	// 2. Connect to MongoDB
	mongoDB, err := connectMongo(ctx, cfg.Mongo)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mongoDB.Close(closeCtx); err != nil {
			logger.Warn("Failed to close MongoDB", zap.Error(err))
		}
	}()

	if err := mongoDB.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("failed to ensure indexes: %w", err)
	}

	// 3. Connect to Redis with degraded mode support
	redisDB := database.NewRedisDB(cfg.Redis, reg)
	defer redisDB.Close()
	if err := redisDB.HealthCheck(ctx); err != nil {
		logger.Warn("Redis unavailable at startup, running degraded", zap.Error(err))
	}
	redisDB.StartHealthCheck(ctx, constants.RedisHealthCheckInterval)

	// 4. Repositories
	userRepo := mongodb.NewUserRepository(mongoDB.DB)
	groupRepo := mongodb.NewGroupRepository(mongoDB.DB)
	callRepo := mongodb.NewCallRepository(mongoDB.DB)
	groupCallRepo := mongodb.NewGroupCallRepository(mongoDB.DB)
	fileRepo := mongodb.NewFileRepository(mongoDB.DB)
	presenceRepo := redisRepo.NewPresenceRepository(redisDB)
	if err := presenceRepo.ResetOnline(ctx); err != nil {
		logger.Warn("Failed to reset mirrored presence", zap.Error(err))
	}
	pushTokenRepo := redisRepo.NewPushTokenRepository(redisDB.Client)

	// 5. Push notifications and object storage
	pushProvider, err := push.NewProvider(ctx, cfg.Push)
	if err != nil {
		return fmt.Errorf("failed to init push provider: %w", err)
	}
	pushService := push.NewService(pushProvider, pushTokenRepo)

	store, err := blob.NewStore(ctx, cfg.Blob)
	if err != nil {
		return fmt.Errorf("failed to init blob store: %w", err)
	}
	fileStore := blob.NewResilientStore(store, resilience.NewCircuitBreaker("blob", reg))

	// 6. Realtime core and services
	hub := realtime.NewHub()
	registry := presence.NewRegistry()
	notifier := notification.NewService(hub, pushService, m)

	callService := call.NewService(callRepo, userRepo, registry, notifier, m)
	groupCallService := groupcall.NewService(groupCallRepo, groupRepo, userRepo, registry, notifier, m, groupcall.Config{
		MaxParticipants: cfg.Calls.GroupMaxParticipants,
		ICEScope:        cfg.Calls.GroupICEScope,
	})

	auditLogger := audit.NewAuditLogger(redisDB.Client)
	authService := auth.NewService(userRepo, jwt.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)).
		WithLoginLimiter(lockout.NewLockoutManager(redisDB.Client, constants.LoginMaxAttempts, constants.LoginLockDuration))

	userDirectory := user.NewService(userRepo, registry)
	stopCacheCleanup := userDirectory.StartCleanup(constants.UserCacheTTL)
	defer stopCacheCleanup()

	fileService := storage.NewService(fileStore, fileRepo)

	gateway := wsHandler.NewGateway(wsHandler.Deps{
		Auth:       authService,
		Users:      userDirectory,
		Mirror:     presenceRepo,
		Calls:      callService,
		GroupCalls: groupCallService,
		Registry:   registry,
		Hub:        hub,
		Metrics:    m,
	}, wsHandler.Config{
		MaxConnections:  cfg.WS.MaxConnections,
		AllowedOrigins:  cfg.WS.AllowedOrigins,
		DisconnectGrace: cfg.Calls.DisconnectGrace,
	})

	adminService := admin.NewService(userRepo, auditLogger, gateway, userDirectory)

	// 7. Background jobs
	jobs := scheduler.New()
	accountJob := scheduler.NewAccountScheduleJob(userRepo)
	accountJob.OnDisabled = func(userID uuid.UUID) {
		adminService.AccountDisabled(context.Background(), userID)
	}
	if err := jobs.Add(constants.ScheduleSpec, "missed-calls", scheduler.NewMissedCallJob(callRepo, callService, cfg.Calls.RingTimeout)); err != nil {
		return err
	}
	if err := jobs.Add(constants.ScheduleSpec, "account-schedules", accountJob); err != nil {
		return err
	}
	if err := jobs.Add(constants.ScheduleSpec, "presence-refresh", scheduler.NewPresenceRefreshJob(registry, presenceRepo)); err != nil {
		return err
	}
	jobs.Start()

	// 8. HTTP routes
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(cfg.WS.AllowedOrigins))
	router.Use(middleware.NewPrometheusMiddleware(m).Handler())

	healthHandler := health.NewHandler(cfg.Server.ServiceName, map[string]health.Check{
		"mongodb": mongoDB.Ping,
		"redis":   redisDB.HealthCheck,
	})
	router.GET("/health", healthHandler.Health)
	router.GET("/metrics", middleware.MetricsHandler(reg))
	router.GET("/v1/ws", gateway.ServeWS)

	loginLimiter := middleware.NewRateLimiter(redisDB.Client, "login", constants.LoginRateLimit, constants.LoginRateWindow)
	authH := authHandler.NewHandler(authService, auditLogger)
	router.POST("/v1/auth/login", loginLimiter.Middleware(), authH.Login)

	v1 := router.Group("/v1")
	v1.Use(middleware.Auth(authService))
	{
		v1.GET("/presence/online", presenceHandler.NewHandler(userDirectory).GetOnlineUsers)

		calls := v1.Group("/calls")
		callH := callHandler.NewHandler(callService)
		{
			calls.POST("", callH.InitiateCall)
			calls.GET("/history", callH.GetHistory)
			calls.GET("/:id", callH.GetCall)
			calls.POST("/:id/answer", callH.AnswerCall)
			calls.POST("/:id/decline", callH.DeclineCall)
			calls.POST("/:id/end", callH.EndCall)
		}

		groupCalls := v1.Group("/group-calls")
		groupCallH := groupCallHandler.NewHandler(groupCallService)
		{
			groupCalls.POST("", groupCallH.InitiateGroupCall)
			groupCalls.GET("/:id", groupCallH.GetGroupCall)
			groupCalls.POST("/:id/join", groupCallH.JoinGroupCall)
			groupCalls.POST("/:id/leave", groupCallH.LeaveGroupCall)
			groupCalls.POST("/:id/end", groupCallH.EndGroupCall)
			groupCalls.PATCH("/:id/participants/:userId", groupCallH.UpdateParticipant)
		}

		pushH := pushHandler.NewHandler(pushService)
		v1.POST("/push/tokens", pushH.RegisterToken)
		v1.DELETE("/push/tokens/:id", pushH.UnregisterToken)

		files := v1.Group("/files")
		fileH := storageHandler.NewHandler(fileService, auditLogger)
		{
			files.POST("", fileH.UploadFile)
			files.GET("/:id", fileH.GetFile)
			files.GET("/:id/content", fileH.GetFileContent)
		}

		adminGroup := v1.Group("/admin")
		adminGroup.Use(middleware.RequireRole(domain.RoleAdmin))
		adminH := adminHandler.NewHandler(adminService)
		{
			adminGroup.GET("/audit", adminH.GetAuditLogs)
			adminGroup.PUT("/users/:id/schedule", adminH.SetSchedule)
			adminGroup.POST("/users/:id/disable", adminH.DisableUser)
			adminGroup.POST("/users/:id/enable", adminH.EnableUser)
		}
	}

	// 9. Serve until signalled
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Realtime service listening",
			zap.Int("port", cfg.Server.Port),
			zap.String("environment", cfg.Server.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down realtime service")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", zap.Error(err))
	}
	gateway.Shutdown()
	hub.Close()
	jobs.Stop(shutdownCtx)

	logger.Info("Realtime service stopped")
	return nil
}

// connectMongo retries the initial connection with exponential backoff so the
// service survives starting before the database
func connectMongo(ctx context.Context, cfg config.MongoConfig) (*database.MongoDB, error) {
	var lastErr error
	for attempt := 1; attempt <= mongoConnectAttempts; attempt++ {
		db, err := database.NewMongoDB(ctx, cfg)
		if err == nil {
			logger.Info("Connected to MongoDB", zap.String("database", cfg.Database), zap.Int("attempt", attempt))
			return db, nil
		}
		lastErr = err
		if attempt == mongoConnectAttempts {
			break
		}

		delay := time.Duration(float64(mongoRetryBaseDelay) * math.Pow(2, float64(attempt-1)))
		if delay > mongoRetryMaxDelay {
			delay = mongoRetryMaxDelay
		}
		logger.Warn("MongoDB connection failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("failed to connect to mongodb after %d attempts: %w", mongoConnectAttempts, lastErr)
}
