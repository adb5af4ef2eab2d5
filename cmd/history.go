package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/samogod/ggufprep/pkg/report"
)

var (
	historyStatus string
	historyLimit  int
)

var historyCmd = &cobra.Command{
	Use:   "history [model]",
	Short: "List previous pipeline runs",
	Long: `List previous pipeline runs, newest first. Runs are read from the history
database when it is enabled, otherwise from the local run ledger.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyStatus, "status", "", "filter by status (succeeded, failed)")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum number of runs to show (0 for all)")
}

type historyRow struct {
	Started  time.Time
	Model    string
	Scheme   string
	Status   string
	Stage    string
	Duration time.Duration
	Output   string
}

func runHistory(cmd *cobra.Command, args []string) {
	orch := newOrchestrator()
	defer orch.Close()

	var model string
	if len(args) > 0 {
		model = args[0]
	}

	var rows []historyRow

	if db := orch.GetDB(); db != nil && db.IsEnabled() {
		records, err := db.QueryRuns(model, historyStatus, historyLimit)
		if err != nil {
			color.Red("Failed to query database: %v", err)
			orch.Close()
			os.Exit(1)
		}
		for _, r := range records {
			rows = append(rows, historyRow{
				Started:  r.StartedAt,
				Model:    r.ModelID,
				Scheme:   r.Scheme,
				Status:   r.Status,
				Stage:    r.FailedStage,
				Duration: time.Duration(r.DurationMS) * time.Millisecond,
				Output:   r.OutputPath,
			})
		}
	} else {
		runs, err := report.Read(orch.LedgerPath())
		if err != nil {
			color.Red("Failed to read run ledger: %v", err)
			orch.Close()
			os.Exit(1)
		}
		for _, r := range report.Filter(runs, model, historyStatus, historyLimit) {
			rows = append(rows, historyRow{
				Started:  r.StartedAt,
				Model:    r.ModelID,
				Scheme:   r.Scheme,
				Status:   r.Status,
				Stage:    r.FailedStage,
				Duration: time.Duration(r.DurationMillis) * time.Millisecond,
				Output:   r.OutputPath,
			})
		}
	}

	if len(rows) == 0 {
		color.Yellow("[INF] No runs recorded.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, color.CyanString("STARTED\tMODEL\tSCHEME\tSTATUS\tFAILED_STAGE\tDURATION\tOUTPUT"))
	fmt.Fprintln(w, strings.Repeat("-", 110))

	for _, r := range rows {
		statusColor := color.GreenString
		if r.Status == report.StatusFailed {
			statusColor = color.RedString
		}

		stage := r.Stage
		if stage == "" {
			stage = "-"
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Started.Local().Format("2006-01-02 15:04:05"),
			r.Model,
			r.Scheme,
			statusColor(r.Status),
			stage,
			r.Duration.Round(time.Millisecond),
			r.Output,
		)
	}
	w.Flush()

	color.Green("\nTotal runs: %d", len(rows))
}
