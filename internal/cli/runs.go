package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/tgnlab/whatif/internal/evaluation"
	"github.com/tgnlab/whatif/internal/logger"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List stored evaluation sessions",
	Long:  `List the evaluation sessions recorded in the run store, newest first.`,
	RunE:  runRuns,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show the explanations of one session",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

func init() {
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}

func openStore() (*evaluation.SQLiteStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	initLogging(cfg)

	store, err := evaluation.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}
	return store, nil
}

func runRuns(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close run store")
		}
	}()

	sessions, err := store.ListSessions()
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Println("No stored sessions.")
		return nil
	}

	fmt.Printf("%-38s %-8s %-14s %12s %6s\n", "SESSION", "STRATEGY", "CREATED", "EXPLANATIONS", "FLIPS")
	for _, s := range sessions {
		fmt.Printf("%-38s %-8s %-14s %12d %6d\n",
			s.SessionID, s.Strategy, humanize.Time(s.CreatedAt), s.Explanations, s.Flips)
	}
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close run store")
		}
	}()

	records, err := store.SessionRecords(args[0])
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Printf("No explanations recorded for session %s.\n", args[0])
		return nil
	}

	for _, rec := range records {
		status := "no flip"
		if rec.Achieved {
			status = "flip"
		}
		fmt.Printf("event %d: %s (%.4f -> %.4f), excluded %v, %d oracle calls, %s\n",
			rec.ExplainedEventID, status,
			rec.OriginalPrediction, rec.CounterfactualPrediction,
			rec.EventIDs, rec.OracleCalls, rec.Duration)
	}
	return nil
}
