package main

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/iut-admissions-api/pkg/config"
	"github.com/noah-isme/iut-admissions-api/pkg/database"
	"github.com/noah-isme/iut-admissions-api/pkg/logger"
)

// runtime carries what every subcommand needs.
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	rt := &runtime{}
	root := &cobra.Command{
		Use:           "admissionsctl",
		Short:         "Operator tooling for the IUT admissions backend",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logr, err := logger.New(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			rt.cfg, rt.logger = cfg, logr
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if rt.logger != nil {
				_ = rt.logger.Sync()
			}
		},
	}
	root.AddCommand(newMigrateCmd(rt), newImportCmd(rt))
	return root
}

func (rt *runtime) openDB(ctx context.Context) (*sqlx.DB, error) {
	db, err := database.NewPostgres(ctx, rt.cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return db, nil
}
