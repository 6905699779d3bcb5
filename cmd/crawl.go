// Package cmd defines and implements the CLI commands for the mohfw-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newCrawlCmd creates the explicit 'crawl' subcommand. It behaves exactly like
// running the root command without arguments.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Starts the crawl",
		Long: `Crawls the configured domain breadth-first from the seed URL and
archives every PDF of at least archive.min_pdf_bytes into archive.dir.`,
		Args: cobra.NoArgs,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer appInstance.Close()

	snapshot, err := appInstance.Run(cmd.Context(), cmd.ErrOrStderr())
	interrupted := errors.Is(err, context.Canceled)
	if err != nil && !interrupted {
		return fmt.Errorf("run crawler: %w", err)
	}

	status := "Crawl finished."
	if interrupted {
		status = "Crawl interrupted."
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s Pages visited: %d, PDFs downloaded: %d, total size: %s\n",
		status,
		snapshot.PagesVisited,
		snapshot.PDFsDownloaded,
		humanize.IBytes(uint64(max(snapshot.TotalBytes, 0))),
	)
	appInstance.Logger().Info("Crawl command finished.", zap.Bool("interrupted", interrupted))
	return nil
}
