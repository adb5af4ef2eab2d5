package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/samogod/ggufprep/pkg/orchestrator"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the llama.cpp toolchain without downloading anything",
	Long: `Check that the llama.cpp checkout, the llama-quantize binary, the converter
script and the python interpreter are in place. Nothing is downloaded or run.`,
	Run: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) {
	orch := newOrchestrator()
	code := printCheck(cmd.OutOrStdout(), orch)
	orch.Close()

	if code != 0 {
		os.Exit(code)
	}
}

// printCheck writes the toolchain report to w and returns 1 if any check failed.
func printCheck(w io.Writer, orch *orchestrator.Orchestrator) int {
	l := orch.GetLayout()
	fmt.Fprintf(w, "  %s  %s\n", color.HiBlackString("model"), l.ModelID)
	fmt.Fprintf(w, "  %s   %s\n", color.HiBlackString("root"), l.ToolchainRoot)
	fmt.Fprintln(w)

	results, err := orch.Check()
	for _, r := range results {
		if r.OK {
			fmt.Fprintf(w, "  %s  %-10s %s\n", color.GreenString("[ok]"), r.Name, r.Detail)
		} else {
			fmt.Fprintf(w, "  %s   %-10s %s\n", color.RedString("[x]"), r.Name, r.Detail)
		}
	}
	fmt.Fprintln(w)

	if err != nil {
		return 1
	}
	return 0
}
