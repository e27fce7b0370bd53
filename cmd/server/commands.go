package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tillbook/backend/internal/config"
	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/httpapi"
	"tillbook/backend/internal/logger"
	"tillbook/backend/internal/service"
	pgstore "tillbook/backend/internal/store/postgres"
)

func newRootCmd(open appOpener) *cobra.Command {
	root := &cobra.Command{
		Use:   "tillbook",
		Short: "Point-of-sale settlement and daily closing backend",
		Long: `tillbook prices and settles sales, previews X reports and closes Z reports.

Running it without a subcommand starts the HTTP server.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), config.Load(), open)
		},
	}

	root.AddCommand(
		newServeCmd(open),
		newMigrateCmd(),
		newReportCmd(open),
	)
	return root
}

func newServeCmd(open appOpener) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), config.Load(), open)
		},
	}
}

func runServe(ctx context.Context, cfg config.Config, open appOpener) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}

	a, err := open(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	svc, err := a.service()
	if err != nil {
		return err
	}
	gin.SetMode(gin.ReleaseMode)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), cfg.ManagerPIN, a.repo)
	api := httpapi.New(svc, auth, a.metrics, a.logger, cfg.AllowedOrigins)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("tillbook listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-sigCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("shutdown error", zap.Error(err))
	}
	a.logger.Info("server stopped")
	return nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the PostgreSQL schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL must be set to migrate")
			}
			log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			pg, err := pgstore.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer func() { _ = pg.Close() }()

			if err := pg.Migrate(ctx); err != nil {
				return err
			}
			log.Info("schema applied")
			return nil
		},
	}
}

func newReportCmd(open appOpener) *cobra.Command {
	var (
		date     string
		terminal string
		closedBy string
		limit    int
	)

	withService := func(cmd *cobra.Command, fn func(ctx context.Context, svc *service.Service) (any, error)) error {
		a, err := open(cmd.Context(), config.Load())
		if err != nil {
			return err
		}
		defer a.close()

		svc, err := a.service()
		if err != nil {
			return err
		}
		result, err := fn(cmd.Context(), svc)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), result)
	}

	report := &cobra.Command{
		Use:   "report",
		Short: "Preview, close and list daily reports",
	}
	report.PersistentFlags().StringVar(&date, "date", "", "business date (YYYY-MM-DD)")
	report.PersistentFlags().StringVar(&terminal, "terminal", "", "terminal id; empty means every terminal")

	preview := &cobra.Command{
		Use:   "preview",
		Short: "Print the X report for open sales without closing them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, func(ctx context.Context, svc *service.Service) (any, error) {
				return svc.PreviewReport(ctx, date, terminal)
			})
		},
	}

	closeCmd := &cobra.Command{
		Use:   "close",
		Short: "Close the day into a Z report",
		Example: `  tillbook report close --date 2026-10-16
  tillbook report close --date 2026-10-16 --terminal T1 --closed-by manager`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if date == "" {
				return errors.New("--date is required")
			}
			return withService(cmd, func(ctx context.Context, svc *service.Service) (any, error) {
				ctx = service.WithActor(ctx, domain.Actor{Username: closedBy, Role: domain.RoleManager})
				return svc.CloseReport(ctx, date, terminal)
			})
		},
	}
	closeCmd.Flags().StringVar(&closedBy, "closed-by", "cli", "name recorded on the Z report")

	list := &cobra.Command{
		Use:   "list",
		Short: "List closed Z reports, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(cmd, func(ctx context.Context, svc *service.Service) (any, error) {
				reports, err := svc.ListReports(ctx, date, terminal, limit)
				if err != nil {
					return nil, err
				}
				return domain.ReportListResponse{Reports: reports}, nil
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "maximum number of reports")

	report.AddCommand(preview, closeCmd, list)
	return report
}

func writeJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
