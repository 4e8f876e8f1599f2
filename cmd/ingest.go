package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/abitbot/abitbot/internal/app"
	"github.com/abitbot/abitbot/internal/index"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Crawl the admissions site and rebuild the vector index",
	Long: `ingest crawls the configured site, splits each page into chunks and
embeds the chunks into the vector index. Unchanged chunks are skipped, so
re-running after small site edits only embeds what changed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIngest(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(ctx context.Context) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Crawler.StartURL == "" {
		return fmt.Errorf("crawler.start_url is not configured")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	res, err := a.Reindex(ctx)
	if err != nil {
		if errors.Is(err, index.ErrIndexLocked) {
			return fmt.Errorf("another indexing run is in progress: %w", err)
		}
		return fmt.Errorf("indexing: %w", err)
	}

	fmt.Printf("Indexed %d documents in %s\n", res.Documents, res.Duration.Round(time.Millisecond))
	fmt.Printf("  embedded:  %d chunks\n", res.ChunksEmbedded)
	fmt.Printf("  unchanged: %d chunks\n", res.ChunksUnchanged)
	fmt.Printf("  removed:   %d chunks\n", res.ChunksRemoved)
	if res.DocumentsRemoved > 0 {
		fmt.Printf("  pruned:    %d documents no longer on the site\n", res.DocumentsRemoved)
	}
	if res.DocumentsFailed > 0 {
		fmt.Printf("  failed:    %d documents (see log)\n", res.DocumentsFailed)
	}

	return nil
}
