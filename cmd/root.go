package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/mohfw-pdf-crawler/internal/app"
	"github.com/JakeFAU/mohfw-pdf-crawler/internal/crawler"
	"github.com/JakeFAU/mohfw-pdf-crawler/internal/id/uuid"
	"github.com/JakeFAU/mohfw-pdf-crawler/internal/logging"
	"github.com/JakeFAU/mohfw-pdf-crawler/pkg/config"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Run(ctx context.Context, progressOut io.Writer) (crawler.StatsSnapshot, error)
	Logger() *zap.Logger
	Close()
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, v *viper.Viper, logger *zap.Logger, runID string) (App, error) {
	return app.NewApp(ctx, v, logger, runID)
}

// newRootCmd creates and configures the root command. Running it without a
// subcommand starts a crawl.
func newRootCmd() *cobra.Command {
	var (
		cfgFile     string
		closeLogger func()
	)
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "mohfw-crawler",
		Short: "Archives PDF documents published on the MoHFW website.",
		Long: `mohfw-crawler walks the Ministry of Health and Family Welfare website
breadth-first, downloads every PDF it links to, and writes each document with
a JSON metadata sidecar into the archive directory.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Loads configuration, builds the logger and the application services
		// before any command body runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			used, err := config.InitConfig(v, cfgFile)
			if err != nil {
				return err
			}

			logger, cleanup, err := logging.New(logging.Config{
				Level:       v.GetString("logging.level"),
				File:        v.GetString("logging.file"),
				Development: v.GetBool("logging.development"),
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			closeLogger = cleanup

			runID, err := uuid.New().NewID()
			if err != nil {
				return fmt.Errorf("generate run id: %w", err)
			}
			logger = logger.With(zap.String("run_id", runID))
			if used != "" {
				logger.Info("Using config file", zap.String("path", used))
			} else {
				logger.Info("Config file not found; using defaults and environment variables.")
			}

			appInstance, err := newApp(cmd.Context(), v, logger, runID)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}

			// Store the app instance in the context for subcommands to use.
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		// Flushes the logger once the command body has closed the app.
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if closeLogger != nil {
				closeLogger()
			}
		},

		RunE: runCrawlCommand,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	cmd.AddCommand(newCrawlCmd())
	return cmd
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the crawl; the
// statistics gathered so far are still reported.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
