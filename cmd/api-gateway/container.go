package main

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/iut-admissions-api/internal/repository"
	"github.com/noah-isme/iut-admissions-api/internal/service"
	"github.com/noah-isme/iut-admissions-api/pkg/config"
	"github.com/noah-isme/iut-admissions-api/pkg/database"
	"github.com/noah-isme/iut-admissions-api/pkg/export"
	"github.com/noah-isme/iut-admissions-api/pkg/jobs"
	"github.com/noah-isme/iut-admissions-api/pkg/mailer"
	"github.com/noah-isme/iut-admissions-api/pkg/storage"
)

// container holds the long-lived collaborators of the HTTP server.
type container struct {
	db    *sqlx.DB
	redis *redis.Client
	queue *jobs.Queue

	metrics       *service.MetricsService
	auth          *service.AuthService
	accounts      *service.AccountService
	programs      *service.ProgramService
	enrollments   *service.EnrollmentService
	documents     *service.DocumentService
	validation    *service.ValidationService
	notifications *service.NotificationService
	imports       *service.ImportService
	exports       *service.ExportService
}

func newContainer(ctx context.Context, cfg *config.Config, logr *zap.Logger) (*container, error) {
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	rdb, err := database.NewRedis(ctx, cfg.Redis)
	if err != nil {
		// Reminder dedup falls back to memory.
		logr.Warn("redis unavailable", zap.Error(err))
		rdb = nil
	}

	files, err := storage.NewLocalStorage(cfg.Documents.StorageDir)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init document storage: %w", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Documents.SignedURLSecret, cfg.Documents.SignedURLTTL)

	var transport mailer.Mailer = mailer.NewLogMailer(logr)
	if cfg.Notifications.SendGridAPIKey != "" {
		transport = mailer.NewSendGridMailer(cfg.Notifications.SendGridAPIKey, cfg.Notifications.FromName, cfg.Notifications.FromEmail)
	}

	validate := service.NewValidator()
	metrics := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	programRepo := repository.NewProgramRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	documentRepo := repository.NewDocumentRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	batchRepo := repository.NewImportBatchRepository(db)
	ledger := repository.NewReminderLedger(rdb, logr)

	notifications := service.NewNotificationService(notificationRepo, userRepo, transport, metrics, logr, service.NotificationConfig{
		EmailEnabled: cfg.Notifications.EmailEnabled,
	})
	queue := jobs.NewQueue("notifications", notifications.DeliverEmail, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		BufferSize: cfg.Notifications.QueueSize,
		MaxRetries: cfg.Notifications.Retries,
		Logger:     logr,
		OnGiveUp:   notifications.EmailGaveUp,
	})
	notifications.UseQueue(queue)

	accounts := service.NewAccountService(userRepo, files, validate, logr)
	auth := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	programs := service.NewProgramService(programRepo, enrollmentRepo, validate, logr)
	issuer := service.NewRegistrationNumberIssuer(service.IssuerConfig{
		Prefix:      cfg.Enrollment.RegistrationPrefix,
		MaxAttempts: cfg.Enrollment.MaxIssueAttempts,
	}, metrics, logr)
	enrollments := service.NewEnrollmentService(service.EnrollmentDeps{
		Repo:      enrollmentRepo,
		Programs:  programRepo,
		Accounts:  userRepo,
		Documents: documentRepo,
		Issuer:    issuer,
		Notifier:  notifications,
		Metrics:   metrics,
		Validator: validate,
		Logger:    logr,
	}, service.EnrollmentConfig{EnforceCapacity: cfg.Enrollment.EnforceCapacity})
	documents := service.NewDocumentService(documentRepo, enrollmentRepo, files, signer, notifications, metrics, logr, service.DocumentConfig{
		MaxFileSize:       cfg.Documents.MaxFileSizeBytes,
		AllowedExtensions: cfg.Documents.AllowedExtensions,
		AllowedMIMEs:      cfg.Documents.AllowedMIMEs,
		APIPrefix:         cfg.APIPrefix,
	})
	validation := service.NewValidationService(service.ValidationServiceParams{
		Enrollments: enrollmentRepo,
		Documents:   documentRepo,
		Programs:    programRepo,
		Ledger:      ledger,
		Notifier:    notifications,
		Metrics:     metrics,
		Logger:      logr,
		Config: service.ValidationConfig{
			PendingThreshold: cfg.Reminders.PendingDocumentsThreshold,
			DedupTTL:         cfg.Reminders.DedupTTL,
		},
	})
	imports := service.NewImportService(service.ImportServiceParams{
		Batches:     batchRepo,
		Accounts:    accounts,
		Programs:    programRepo,
		Enrollments: enrollments,
		Files:       files,
		Notifier:    notifications,
		Metrics:     metrics,
		Logger:      logr,
		Config: service.ImportConfig{
			MaxFileSize:       cfg.Imports.MaxFileSizeBytes,
			AllowedExtensions: cfg.Imports.AllowedExtensions,
			TemporaryPassword: cfg.Imports.TemporaryPassword,
		},
	})
	exports := service.NewExportService(enrollmentRepo, programRepo, documentRepo, export.NewCSVExporter(), export.NewPDFExporter("IUT"), logr)

	return &container{
		db:            db,
		redis:         rdb,
		queue:         queue,
		metrics:       metrics,
		auth:          auth,
		accounts:      accounts,
		programs:      programs,
		enrollments:   enrollments,
		documents:     documents,
		validation:    validation,
		notifications: notifications,
		imports:       imports,
		exports:       exports,
	}, nil
}

// Close releases database connections.
func (c *container) Close() {
	if c.redis != nil {
		_ = c.redis.Close()
	}
	_ = c.db.Close()
}
