package routes

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cppla/countdownstack/config"
	"github.com/cppla/countdownstack/controllers"
	"github.com/cppla/countdownstack/jobs"
	"github.com/cppla/countdownstack/middleware"
	"github.com/cppla/countdownstack/store"
	"github.com/cppla/countdownstack/utils"
)

// Deps are the collaborators the HTTP layer is built from.
type Deps struct {
	Config    config.AppConfig
	Store     store.Store
	Jobs      *jobs.Suite
	Gatherer  prometheus.Gatherer
	AccessLog *zap.Logger
	Now       func() time.Time
}

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(deps Deps) *gin.Engine {
	cfg := deps.Config
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if deps.AccessLog != nil {
		r.Use(utils.Ginzap(deps.AccessLog))
		r.Use(utils.RecoveryWithZap(deps.AccessLog))
	} else {
		r.Use(gin.Recovery())
	}

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Admin-Token"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 || (len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	r.GET("/health", func(ctx *gin.Context) {
		c, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
		defer cancel()
		if err := deps.Store.Ping(c); err != nil {
			utils.Error(ctx, http.StatusServiceUnavailable, 50300, "store unavailable")
			return
		}
		utils.Success(ctx, gin.H{"status": "ok"})
	})
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	dashboardController := controllers.NewDashboardController(deps.Store, deps.Jobs.Recorder, controllers.DashboardOptions{
		JWTSecret:       cfg.JWTSecret,
		TokenTTL:        time.Duration(cfg.DashboardTokenHours) * time.Hour,
		CaptchaRequired: cfg.CreateCaptchaEnabled,
		ListCacheTTL:    time.Duration(cfg.ListCacheSeconds) * time.Second,
		Now:             deps.Now,
	})
	eventController := controllers.NewEventController(deps.Store, deps.Now)
	captchaController := controllers.NewCaptchaController(cfg.CreateCaptchaEnabled)
	jobsController := controllers.NewJobsController(deps.Jobs.Scheduler)

	optionalAuth := middleware.DashboardAuth(cfg.JWTSecret, false)
	requiredAuth := middleware.DashboardAuth(cfg.JWTSecret, true)
	limited := middleware.RateLimit(cfg.RateLimitPerMinute)

	api := r.Group("/api/v1")
	api.GET("/captcha", captchaController.Captcha)

	dashboards := api.Group("/dashboards")
	dashboards.GET("", dashboardController.ListDashboards)
	dashboards.POST("", limited, dashboardController.CreateDashboard)
	dashboards.GET("/:slug", optionalAuth, dashboardController.GetDashboard)
	dashboards.POST("/:slug/unlock", limited, dashboardController.Unlock)
	dashboards.POST("/:slug/views", limited, optionalAuth, middleware.ViewerIdentity(), dashboardController.RecordView)

	owner := dashboards.Group("/:slug", requiredAuth)
	owner.POST("/lock", dashboardController.Lock)
	owner.PATCH("", dashboardController.UpdateDashboard)
	owner.PUT("/password", dashboardController.ChangePassword)
	owner.DELETE("", dashboardController.DeleteDashboard)
	owner.POST("/events", eventController.CreateEvent)
	owner.PUT("/events/:eventId", eventController.UpdateEvent)
	owner.DELETE("/events/:eventId", eventController.DeleteEvent)

	admin := api.Group("/admin", middleware.AdminRequired(cfg.AdminToken))
	admin.GET("/jobs", jobsController.ListJobs)
	admin.POST("/jobs/:name/run", jobsController.RunJob)

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, 40400, "api route not found")
	})

	return r
}
