package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/iut-admissions-api/internal/models"
	"github.com/noah-isme/iut-admissions-api/internal/repository"
	"github.com/noah-isme/iut-admissions-api/internal/service"
	"github.com/noah-isme/iut-admissions-api/pkg/mailer"
	"github.com/noah-isme/iut-admissions-api/pkg/storage"
)

func newImportCmd(rt *runtime) *cobra.Command {
	var (
		path       string
		operatorID string
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Bulk import students from an .xlsx or .csv file",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			ctx := c.Context()
			file, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open %s: %w", path, err)
			}
			defer file.Close()
			info, err := file.Stat()
			if err != nil {
				return fmt.Errorf("stat %s: %w", path, err)
			}

			db, err := rt.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			files, err := storage.NewLocalStorage(rt.cfg.Documents.StorageDir)
			if err != nil {
				return fmt.Errorf("init storage: %w", err)
			}
			metrics := service.NewMetricsService()
			users := repository.NewUserRepository(db)
			if _, err := users.FindByID(ctx, operatorID); err != nil {
				return fmt.Errorf("operator %s: %w", operatorID, err)
			}

			validate := service.NewValidator()
			programs := repository.NewProgramRepository(db)
			enrollmentRepo := repository.NewEnrollmentRepository(db)
			// Emails are only logged here; the server delivers queued mail.
			notifications := service.NewNotificationService(repository.NewNotificationRepository(db), users, mailer.NewLogMailer(rt.logger), metrics, rt.logger, service.NotificationConfig{})
			accounts := service.NewAccountService(users, files, validate, rt.logger)
			issuer := service.NewRegistrationNumberIssuer(service.IssuerConfig{
				Prefix:      rt.cfg.Enrollment.RegistrationPrefix,
				MaxAttempts: rt.cfg.Enrollment.MaxIssueAttempts,
			}, metrics, rt.logger)
			enrollments := service.NewEnrollmentService(service.EnrollmentDeps{
				Repo:      enrollmentRepo,
				Programs:  programs,
				Accounts:  users,
				Documents: repository.NewDocumentRepository(db),
				Issuer:    issuer,
				Notifier:  notifications,
				Metrics:   metrics,
				Validator: validate,
				Logger:    rt.logger,
			}, service.EnrollmentConfig{EnforceCapacity: rt.cfg.Enrollment.EnforceCapacity})
			importer := service.NewImportService(service.ImportServiceParams{
				Batches:     repository.NewImportBatchRepository(db),
				Accounts:    accounts,
				Programs:    programs,
				Enrollments: enrollments,
				Files:       files,
				Notifier:    notifications,
				Metrics:     metrics,
				Logger:      rt.logger,
				Config: service.ImportConfig{
					MaxFileSize:       rt.cfg.Imports.MaxFileSizeBytes,
					AllowedExtensions: rt.cfg.Imports.AllowedExtensions,
					TemporaryPassword: rt.cfg.Imports.TemporaryPassword,
				},
			})

			batch, err := importer.ImportBatch(ctx, service.ImportUpload{
				Filename: filepath.Base(path),
				Size:     info.Size(),
				Content:  file,
			}, operatorID)
			if batch != nil {
				printBatch(c, batch)
			}
			if err != nil {
				return err
			}
			rt.logger.Info("import finished", zap.String("batch_id", batch.ID))
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "file", "", "spreadsheet to import")
	cmd.Flags().StringVar(&operatorID, "operator", "", "account id recorded as the batch operator")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("operator")
	return cmd
}

func printBatch(c *cobra.Command, batch *models.ImportBatch) {
	out := c.OutOrStdout()
	fmt.Fprintf(out, "batch %s: %d rows, %d imported, %d failed\n", batch.ID, batch.TotalRows, batch.SuccessCount, batch.ErrorCount)
	for _, rowErr := range batch.Errors {
		fmt.Fprintf(out, "  line %d: %s\n", rowErr.Line, rowErr.Message)
	}
	if batch.AbortReason != nil {
		fmt.Fprintf(out, "aborted: %s\n", *batch.AbortReason)
	}
}
