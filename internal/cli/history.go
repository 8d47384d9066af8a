package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pacelink/pacelink-app/internal/archive"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List archived workouts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyRun()
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum rows to show (0 for all)")
	rootCmd.AddCommand(historyCmd)
}

func historyRun() error {
	logger := cfg.NewLogger(verbose)

	store, err := archive.NewStore(logger, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	records, err := store.ListCompleted(context.Background(), historyLimit)
	if err != nil {
		return err
	}
	renderHistory(records)
	return nil
}

func renderHistory(records []archive.Record) {
	if len(records) == 0 {
		ui.Info("no archived workouts")
		return
	}

	table := ui.Table([]string{"WHEN", "MODE", "DURATION", "DISTANCE", "PACE", "HR", "KCAL", "STEPS"})
	for _, r := range records {
		table.Append([]string{
			r.CompletedAt.Local().Format("2006-01-02 15:04"),
			r.Mode,
			fmtElapsed(r.ElapsedSeconds),
			fmt.Sprintf("%.0f m", r.Distance),
			fmt.Sprintf("%.0f s/km", r.Pace),
			fmt.Sprintf("%.0f", r.HeartRate),
			fmt.Sprintf("%.0f", r.Calories),
			fmt.Sprintf("%.0f", r.StepCount),
		})
	}
	_ = table.Render()
}
