package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/abitbot/abitbot/db"
	"github.com/abitbot/abitbot/internal/database"
	"github.com/abitbot/abitbot/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect stored conversations",
}

var sessionsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show conversation storage statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSessionsStats(cmd.Context())
	},
}

var sessionsFeedbackCmd = &cobra.Command{
	Use:   "feedback <turn-id>",
	Short: "Show feedback counts for one answer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSessionsFeedback(cmd.Context(), args[0])
	},
}

func init() {
	sessionsCmd.AddCommand(sessionsStatsCmd)
	sessionsCmd.AddCommand(sessionsFeedbackCmd)
	rootCmd.AddCommand(sessionsCmd)
}

// openSessions connects to the database without constructing providers, so
// these commands work without any API keys.
func openSessions(ctx context.Context) (*session.Store, func(), error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	pool, err := database.Open(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}

	store, err := session.NewStore(pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool.Close, nil
}

func runSessionsStats(ctx context.Context) error {
	store, cleanup, err := openSessions(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	st, err := store.Stat(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Conversations: %d\n", st.Conversations)
	fmt.Printf("Turns:         %d\n", st.Turns)
	if !st.LastActivity.IsZero() {
		fmt.Printf("Last activity: %s\n", st.LastActivity.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runSessionsFeedback(ctx context.Context, turnID string) error {
	store, cleanup, err := openSessions(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	useful, notUseful, err := store.FeedbackSummary(ctx, turnID)
	if err != nil {
		return err
	}

	fmt.Printf("Useful:     %d\n", useful)
	fmt.Printf("Not useful: %d\n", notUseful)
	return nil
}
