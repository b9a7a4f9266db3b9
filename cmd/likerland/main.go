package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/likerland/api/internal/auth"
	"github.com/likerland/api/internal/backup"
	billingstripe "github.com/likerland/api/internal/billing/stripe"
	"github.com/likerland/api/internal/config"
	"github.com/likerland/api/internal/database"
	"github.com/likerland/api/internal/likeco"
	"github.com/likerland/api/internal/logging"
	"github.com/likerland/api/internal/metrics"
	"github.com/likerland/api/internal/secret"
	"github.com/likerland/api/internal/server"
	"github.com/likerland/api/internal/telemetry"
)

const serviceName = "likerland"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "likerland",
		Short:         "liker.land API server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
		},
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newMigrateCommand())
	cmd.AddCommand(newBackupCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cfg, err := config.Load(ctx)
			if err != nil {
				return err
			}
			return serve(ctx, cfg)
		},
	}
}

func newMigrateCommand() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				dbPath = os.Getenv("DB_PATH")
			}
			if dbPath == "" {
				dbPath = "likerland.db"
			}
			db, err := database.Open(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			v, err := database.Version(db)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is at schema version %d\n", dbPath, v)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (defaults to DB_PATH)")
	return cmd
}

func backupConfig(cfg *config.Config) backup.Config {
	b := cfg.Backup
	return backup.Config{
		Endpoint:   b.Endpoint,
		Bucket:     b.Bucket,
		Region:     b.Region,
		AccessKey:  b.AccessKey,
		SecretKey:  b.SecretKey,
		Prefix:     b.Prefix,
		Passphrase: b.Passphrase,
		Retention:  b.Retention,
	}
}

func newBackupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Database snapshot operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newBackupRunCommand())
	cmd.AddCommand(newBackupDecryptCommand())
	return cmd
}

func newBackupRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Upload an encrypted snapshot now and prune expired ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cfg, err := config.Load(ctx)
			if err != nil {
				return err
			}
			logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

			db, err := database.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			u, err := backup.NewUploader(backupConfig(cfg), db, logger.With("component", "backup"))
			if err != nil {
				return err
			}
			key, err := u.Run(ctx)
			if err != nil {
				return err
			}
			if _, err := u.Prune(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}

func newBackupDecryptCommand() *cobra.Command {
	var in, out string

	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Decrypt a downloaded snapshot with BACKUP_PASSPHRASE",
		RunE: func(cmd *cobra.Command, args []string) error {
			passphrase := os.Getenv("BACKUP_PASSPHRASE")
			if passphrase == "" {
				return errors.New("BACKUP_PASSPHRASE is not set")
			}
			data, err := os.ReadFile(in)
			if err != nil {
				return err
			}
			plain, err := backup.Decrypt(data, passphrase)
			if err != nil {
				return err
			}
			return os.WriteFile(out, plain, 0600)
		},
	}

	cmd.Flags().StringVar(&in, "in", "", "Encrypted snapshot file")
	cmd.Flags().StringVar(&out, "out", "", "Destination SQLite file")
	_ = cmd.MarkFlagRequired("in")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	shutdownTracing, err := telemetry.Init(ctx, serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Error("telemetry shutdown", "error", err)
		}
	}()

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	sealer, err := secret.NewSealer(cfg.CookieSecret)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	client := likeco.NewClient(likeco.Config{
		APIBaseURL:   cfg.APIBaseURL(),
		SiteBaseURL:  cfg.SiteBaseURL(),
		ClientID:     cfg.LikeCoClientID,
		ClientSecret: cfg.LikeCoClientSecret,
		RedirectURL:  cfg.OAuthRedirectURL(),
		Timeout:      cfg.UpstreamTimeout,
		Transport:    telemetry.Transport(nil),
	}, m)

	var processor server.PaymentProcessor
	if cfg.BillingEnabled() {
		processor = billingstripe.NewClient(billingstripe.Config{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			HTTPClient: &http.Client{
				Timeout:   cfg.UpstreamTimeout,
				Transport: telemetry.Transport(nil),
			},
		}, logger.With("component", "stripe"))
	} else {
		logger.Warn("STRIPE_PRIVATE_KEY not set, payment routes disabled")
	}

	srv := server.New(server.Config{
		ServiceName:    serviceName,
		Cookies:        auth.Cookies{Secure: cfg.CookieSecure, TTL: cfg.SessionTTL},
		AllowedOrigins: cfg.AllowedOrigins,
		RateLimit:      cfg.RateLimit,
		HSTS:           cfg.CookieSecure,
		PlanID:         cfg.StripePlanID,
	}, db, sealer, client, processor, reg, m, logger)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Upstream calls may take up to UpstreamTimeout, twice on a refresh.
		WriteTimeout: 2*cfg.UpstreamTimeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Background cleanup goroutine
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := srv.SessionStore().DeleteExpired(); err != nil {
					slog.Error("cleanup expired sessions", "error", err)
				} else if n > 0 {
					slog.Info("cleaned up expired sessions", "count", n)
				}
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	if cfg.Backup.Interval > 0 {
		u, err := backup.NewUploader(backupConfig(cfg), db, logger.With("component", "backup"))
		if err != nil {
			return fmt.Errorf("scheduled backups: %w", err)
		}
		go u.Schedule(cleanupCtx, cfg.Backup.Interval)
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting",
			"addr", cfg.Addr,
			"network", cfg.Network,
			"billing", cfg.BillingEnabled(),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	slog.Info("shutting down")
	cleanupCancel()
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
