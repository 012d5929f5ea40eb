package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/sketchround/internal/classify"
	"github.com/Iron-Ham/sketchround/internal/config"
	"github.com/Iron-Ham/sketchround/internal/store"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past rounds and overall results",
	Long: `Display recorded rounds, newest first, followed by a summary of all
finished rounds.

Shows:
- Target, outcome, attempts and time for each round
- The winning label, its confidence and rank
- Win rate and averages across all sessions`,
	RunE: runHistory,
}

var (
	historyLimit   int
	historySession string
	historyJSON    bool
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of rounds to show")
	historyCmd.Flags().StringVar(&historySession, "session", "", "Only show rounds from this session ID")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output history as JSON")
	rootCmd.AddCommand(historyCmd)
}

type historyReport struct {
	Rounds  []store.RoundRecord `json:"rounds"`
	Summary *store.Summary      `json:"summary"`
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	path := cfg.Store.ResolveStorePath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintln(cmd.OutOrStdout(), "No rounds recorded yet")
		return nil
	}

	db, err := store.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	repo := store.NewRoundRepository(db)
	rounds, err := repo.ListRounds(cmd.Context(), historySession, historyLimit)
	if err != nil {
		return err
	}
	summary, err := repo.Summarize(cmd.Context())
	if err != nil {
		return err
	}

	if historyJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(historyReport{Rounds: rounds, Summary: summary})
	}
	printHistory(cmd.OutOrStdout(), rounds, summary)
	return nil
}

func printHistory(out io.Writer, rounds []store.RoundRecord, summary *store.Summary) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "ROUNDS")
	fmt.Fprintln(out, strings.Repeat("─", 72))
	if len(rounds) == 0 {
		fmt.Fprintln(out, "No rounds recorded yet")
	}
	for _, r := range rounds {
		result := r.Outcome
		if r.Outcome == store.OutcomeWon {
			result = fmt.Sprintf("won as %s %s (rank %d)",
				r.FinalLabel, classify.FormatPercent(r.FinalConfidence), r.WinningRank)
		}
		fmt.Fprintf(out, "%s  %-8s  %-14s  %2d attempts  %6.1fs  %s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			shortSession(r.SessionID), r.Target, r.Attempts, r.Elapsed.Seconds(), result)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "SUMMARY")
	fmt.Fprintln(out, strings.Repeat("─", 72))
	fmt.Fprintf(out, "Rounds:  %d finished (%d won, %d reset)\n", summary.Rounds, summary.Wins, summary.Resets)
	if summary.Wins > 0 {
		fmt.Fprintf(out, "Wins:    %.1f attempts, %s on average\n",
			summary.AvgAttemptsWin, summary.AvgElapsedWin.Round(100*time.Millisecond))
		fmt.Fprintf(out, "Top-1:   %.0f%% of wins had the target ranked first\n", summary.TopRankWinShare*100)
	}
}

func shortSession(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
