package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	database "github.com/Armour007/portal-backend/internal"
	"github.com/Armour007/portal-backend/internal/api"
	"github.com/Armour007/portal-backend/internal/config"
	"github.com/Armour007/portal-backend/internal/health"
	"github.com/Armour007/portal-backend/internal/mesh"
	"github.com/Armour007/portal-backend/internal/nginx"
	"github.com/Armour007/portal-backend/internal/registry"
	"github.com/Armour007/portal-backend/internal/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	cfg.ConfigureLogging()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.DB.DSN())
	if err != nil {
		log.WithError(err).Fatal("database unavailable")
	}
	defer database.Close()

	ts, err := utils.NewTokenService(cfg.JWTSecret)
	if err != nil {
		log.WithError(err).Fatal("token service")
	}
	api.SetTokens(ts)
	api.Configure(cfg)

	// Redis is optional: it backs the status cache and the login limiter when set.
	var rdb *redis.Client
	var statusCache health.Cache = health.NewStatusCache(cfg.StatusTTL)
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		statusCache = health.NewRedisStatusCache(rdb, cfg.StatusTTL)
		log.WithField("addr", cfg.RedisAddr).Info("using redis status cache")
	}

	// Invalidation events fan out across replicas over NATS when configured.
	var bus mesh.Bus = mesh.NewLocalBus()
	if cfg.NATSURL != "" {
		nb, err := mesh.NewNatsBus(cfg.NATSURL)
		if err != nil {
			log.WithError(err).Warn("nats unavailable, falling back to in-process bus")
		} else {
			bus = nb
		}
	}
	defer bus.Close()
	api.SetBus(bus)
	unsubs, err := api.SubscribeInvalidation(bus)
	if err != nil {
		log.WithError(err).Fatal("subscribe invalidation events")
	}
	defer func() {
		for _, u := range unsubs {
			u()
		}
	}()

	ctl, closeCtl, err := nginx.NewController(cfg.Nginx.Controller, cfg.Nginx.Container, cfg.Nginx.TestCmd, cfg.Nginx.ReloadCmd)
	if err != nil {
		log.WithError(err).Fatal("nginx controller")
	}
	defer closeCtl()
	if _, ok := ctl.(nginx.NopController); ok {
		log.Warn("nginx controller disabled, fragments are written without validation")
	}
	api.SetSynthesizer(nginx.NewSynthesizer(cfg.Nginx.ServicesDir, ctl, nginx.Renderer{}))

	checker := health.NewChecker(health.NewProber(), statusCache, registry.New(db))
	checker.OnProbe = api.RecordProbe
	api.SetChecker(checker)
	api.SetGrantCache(api.NewGrantCache(30*time.Second, 5*time.Second))

	sched, err := api.StartScheduler(cfg.HealthCron)
	if err != nil {
		log.WithError(err).Fatal("scheduler")
	}
	defer sched.Stop()

	router := gin.Default()
	if shutdown, ok := api.SetupOTel(cfg.OTel); ok {
		defer shutdown(context.Background())
		router.Use(otelgin.Middleware("portal-backend"))
	}
	router.Use(api.MetricsMiddleware())
	router.Use(api.RequestIDMiddleware())

	corsCfg := cors.Config{
		AllowAllOrigins:  true,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.CORSOrigins) > 0 {
		corsCfg.AllowAllOrigins = false
		corsCfg.AllowOrigins = cfg.CORSOrigins
	}
	router.Use(cors.New(corsCfg))
	if len(cfg.TrustedProxies) > 0 {
		if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
			log.WithError(err).Warn("failed to set trusted proxies")
		}
	}

	registerRoutes(router, rdb, cfg.LoginRPM)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.WithField("port", cfg.Port).Info("starting portal backend")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info("signal received, shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("graceful shutdown failed")
	}
}

func registerRoutes(router *gin.Engine, rdb *redis.Client, loginRPM int) {
	router.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 300*time.Millisecond)
		defer cancel()
		if err := database.DB.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": "redis ping failed"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// nginx auth_request subrequest target.
	router.GET("/auth", api.AuthCheck)

	limiter := api.RateLimitMiddleware(loginRPM)
	if rdb != nil {
		limiter = api.RedisRateLimitMiddleware(rdb, loginRPM)
	}
	router.POST("/register", limiter, api.RegisterUser)
	router.POST("/login", limiter, api.LoginUser)
	router.POST("/logout", api.LogoutUser)
	router.GET("/sso/:provider/login", api.SSOLogin)
	router.GET("/sso/:provider/callback", api.SSOCallback)

	authed := router.Group("/")
	authed.Use(api.AuthMiddleware())
	{
		authed.GET("/verify-token", api.VerifyToken)
		authed.GET("/me", api.GetMe)

		authed.GET("/services", api.ListServices)
		authed.GET("/services/available", api.ListAvailableServices)
		authed.GET("/services/:id", api.GetService)
		authed.GET("/services/:id/status", api.GetServiceStatus)
		authed.GET("/services/:id/status/history", api.GetServiceStatusHistory)
		authed.POST("/services/:id/removal", api.RequestAccessRemoval)

		authed.POST("/requests", api.CreateAccessRequest)
		authed.GET("/requests/mine", api.ListMyRequests)
		authed.GET("/requests/pending/count", api.PendingRequestCount)
		authed.DELETE("/requests/:requestId", api.CancelAccessRequest)

		authed.POST("/monitoring/access/start", api.StartAccess)
		authed.POST("/monitoring/access/heartbeat", api.AccessHeartbeat)
		authed.POST("/monitoring/access/end", api.EndAccess)
	}

	admin := authed.Group("/")
	admin.Use(api.RequireAdmin())
	{
		admin.POST("/services", api.CreateService)
		admin.PUT("/services/:id", api.UpdateService)
		admin.DELETE("/services/:id", api.DeleteService)
		admin.GET("/services/:id/config", api.GetServiceConfig)
		admin.GET("/services/:id/users", api.ListServiceUsers)
		admin.POST("/services/:id/users", api.AddServiceUsers)
		admin.PUT("/services/:id/users/:userId", api.SetServiceUserVisibility)
		admin.DELETE("/services/:id/users/:userId", api.RemoveServiceUser)

		admin.GET("/requests", api.ListAccessRequests)
		admin.POST("/requests/:requestId/approve", api.ApproveAccessRequest)
		admin.POST("/requests/:requestId/reject", api.RejectAccessRequest)

		admin.GET("/monitoring/services/stats", api.ServiceStatsHandler)

		admin.GET("/admin/users", api.ListUsers)
		admin.GET("/admin/users/pending", api.ListPendingUsers)
		admin.PUT("/admin/users/:userId/status", api.SetUserStatus)
		admin.POST("/admin/users/bulk", api.BulkCreateUsers)
		admin.DELETE("/admin/users/:userId", api.DeleteUser)
		admin.POST("/admin/proxy/sync", api.SyncProxy)
	}
}
