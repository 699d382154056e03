package router

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/civicfix/civicfix-api/internal/handler"
	"github.com/civicfix/civicfix-api/internal/middleware"
	"github.com/civicfix/civicfix-api/internal/models"
	"github.com/civicfix/civicfix-api/internal/repository"
	"github.com/civicfix/civicfix-api/internal/service"
	"github.com/civicfix/civicfix-api/pkg/config"
	"github.com/civicfix/civicfix-api/pkg/logger"
	corsmiddleware "github.com/civicfix/civicfix-api/pkg/middleware/cors"
	reqidmiddleware "github.com/civicfix/civicfix-api/pkg/middleware/requestid"
)

// Dependencies carries everything the route table needs.
type Dependencies struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *service.MetricsService

	AuthService *service.AuthService
	UserRepo    *repository.UserRepository

	Auth        *handler.AuthHandler
	Users       *handler.UserHandler
	Submissions *handler.SubmissionHandler
	Reports     *handler.ReportHandler
	Dashboard   *handler.DashboardHandler
	Exports     *handler.ExportHandler
	Stream      *handler.StreamHandler
	Health      *handler.HealthHandler
	MetricsH    *handler.MetricsHandler
}

// New builds the gin engine with the full route table.
func New(deps Dependencies) *gin.Engine {
	cfg := deps.Config

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(deps.Logger))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.Metrics))

	r.GET("/health", deps.Health.Health)
	r.GET("/ready", deps.Health.Ready)
	r.GET("/metrics", deps.MetricsH.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	if cfg.Uploads.StorageDir != "" {
		r.Static("/uploads", cfg.Uploads.StorageDir)
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/register", deps.Auth.Register)
	auth.POST("/login", deps.Auth.Login)
	auth.POST("/refresh", deps.Auth.Refresh)
	auth.POST("/logout", middleware.JWT(deps.AuthService), deps.Auth.Logout)
	auth.GET("/me", middleware.JWT(deps.AuthService), deps.Auth.Me)

	// Signed token downloads carry their own authorization.
	api.GET("/export/:token", deps.Exports.Download)

	secured := api.Group("")
	secured.Use(middleware.JWT(deps.AuthService))

	secured.GET("/users/me", deps.Users.Me)
	secured.PATCH("/users/me", deps.Users.UpdateMe)
	secured.GET("/users/me/stats", deps.Users.MyStats)

	drafts := secured.Group("/reports/drafts")
	drafts.POST("", deps.Submissions.CreateDraft)
	drafts.GET("/:id", deps.Submissions.GetDraft)
	drafts.POST("/:id/location", deps.Submissions.AttachLocation)
	drafts.POST("/:id/location/failure", deps.Submissions.MarkLocationFailed)
	drafts.POST("/:id/analyze", deps.Submissions.Analyze)
	drafts.POST("/:id/retry", deps.Submissions.Retry)
	drafts.POST("/:id/save", deps.Submissions.Save)

	secured.GET("/reports/mine", deps.Reports.ListMine)

	admin := secured.Group("/admin")
	admin.Use(middleware.RequireRoles(models.RoleAdmin))

	admin.GET("/reports", deps.Reports.List)
	admin.GET("/reports/stream", deps.Stream.Reports)
	admin.GET("/reports/:id", deps.Reports.Get)
	admin.PATCH("/reports/:id/status", deps.Reports.UpdateStatus)
	admin.DELETE("/reports/:id", deps.Reports.Delete)

	admin.GET("/stats", deps.Dashboard.Stats)
	admin.GET("/users", middleware.Audit(deps.UserRepo, "USER_LIST", "users"), deps.Users.List)

	admin.POST("/exports", deps.Exports.Create)
	admin.GET("/exports/:id", deps.Exports.Status)

	return r
}
