package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/iut-admissions-api/internal/handler"
	"github.com/noah-isme/iut-admissions-api/internal/middleware"
	"github.com/noah-isme/iut-admissions-api/internal/models"
	"github.com/noah-isme/iut-admissions-api/pkg/config"
	"github.com/noah-isme/iut-admissions-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/iut-admissions-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/iut-admissions-api/pkg/middleware/requestid"
)

func newRouter(cfg *config.Config, logr *zap.Logger, app *container) *gin.Engine {
	r := gin.New()
	r.MaxMultipartMemory = 8 << 20
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(app.metrics))

	metricsHandler := handler.NewMetricsHandler(app.metrics.Handler())
	authHandler := handler.NewAuthHandler(app.auth, app.accounts)
	programHandler := handler.NewProgramHandler(app.programs)
	enrollmentHandler := handler.NewEnrollmentHandler(app.enrollments, app.validation, app.exports, app.programs)
	documentHandler := handler.NewDocumentHandler(app.documents)
	notificationHandler := handler.NewNotificationHandler(app.notifications)
	adminHandler := handler.NewAdminHandler(app.validation, app.imports, app.accounts)

	r.GET("/health", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/register", authHandler.Register)
	api.POST("/auth/login", authHandler.Login)
	api.GET("/programs/active", programHandler.ListActive)
	api.GET("/documents/download", documentHandler.Download)

	secured := api.Group("")
	secured.Use(middleware.JWT(app.auth))
	secured.GET("/auth/me", authHandler.Me)

	student := secured.Group("")
	student.Use(middleware.RequireRoles(models.RoleStudent))
	{
		student.POST("/enrollments", enrollmentHandler.Submit)
		student.GET("/enrollments/me", enrollmentHandler.Me)
		student.PUT("/enrollments/me", enrollmentHandler.UpdateMe)
		student.POST("/enrollments/me/resubmit", enrollmentHandler.ResubmitMe)
		student.GET("/enrollments/me/overview", enrollmentHandler.OverviewMe)
		student.GET("/enrollments/me/sheet.pdf", enrollmentHandler.SheetMe)
		student.GET("/enrollments/me/form-options", enrollmentHandler.FormOptions)

		student.POST("/documents", documentHandler.Upload)
		student.GET("/documents", documentHandler.ListOwn)
		student.DELETE("/documents/:id", documentHandler.Delete)
	}

	// Staff may also fetch links for documents they review.
	secured.GET("/documents/:id/link", middleware.RequireRoles(models.RoleStudent, models.RoleAdmin), documentHandler.Link)

	notifications := secured.Group("/notifications")
	{
		notifications.GET("", notificationHandler.List)
		notifications.PATCH("/:id/read", notificationHandler.MarkRead)
		notifications.DELETE("/:id", notificationHandler.Delete)
		notifications.POST("/read-all", notificationHandler.MarkAllRead)
		notifications.GET("/preferences", notificationHandler.GetPreferences)
		notifications.PUT("/preferences", notificationHandler.UpdatePreferences)
	}

	admin := secured.Group("/admin")
	admin.Use(middleware.RequireRoles(models.RoleAdmin))
	{
		admin.GET("/programs", programHandler.List)
		admin.POST("/programs", programHandler.Create)
		admin.GET("/programs/:id", programHandler.Get)
		admin.PUT("/programs/:id", programHandler.Update)
		admin.DELETE("/programs/:id", programHandler.Delete)

		admin.GET("/enrollments", enrollmentHandler.List)
		admin.GET("/enrollments/export", enrollmentHandler.Export)
		admin.GET("/enrollments/:id", enrollmentHandler.Get)
		admin.POST("/enrollments/:id/validate", enrollmentHandler.Validate)
		admin.POST("/enrollments/:id/reject", enrollmentHandler.Reject)
		admin.POST("/enrollments/:id/reopen", enrollmentHandler.Reopen)
		admin.POST("/enrollments/:id/completeness-check", enrollmentHandler.CompletenessCheck)
		admin.PATCH("/enrollments/:id/registration-status", enrollmentHandler.RegistrationStatus)
		admin.GET("/enrollments/:id/documents", documentHandler.AdminList)
		admin.POST("/enrollments/:id/documents", documentHandler.AdminUpload)

		admin.GET("/documents/pending", documentHandler.Pending)
		admin.PATCH("/documents/:id/validation", documentHandler.SetValidation)

		admin.GET("/dashboard", adminHandler.Dashboard)
		admin.POST("/imports", adminHandler.CreateImport)
		admin.GET("/imports", adminHandler.ListImports)
		admin.GET("/imports/:id", adminHandler.GetImport)
		admin.DELETE("/accounts/:id", adminHandler.DeleteAccount)
	}

	return r
}
