package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/samogod/ggufprep/pkg/config"
	"github.com/samogod/ggufprep/pkg/orchestrator"
	"github.com/samogod/ggufprep/pkg/pipeline"
)

var (
	configFile  string
	modelID     string
	revision    string
	rootDir     string
	assetsDir   string
	scheme      string
	outType     string
	python      string
	hubToken    string
	noOverwrite bool
	silent      bool
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "ggufprep",
	Short: "download, convert and quantize a hugging face model for on-device use",
	Long: `ggufprep downloads a Hugging Face model snapshot, converts it to GGUF (f16)
with llama.cpp's convert_hf_to_gguf.py, quantizes it with llama-quantize and
copies the result into the application's asset folder.`,
	Example: `  ggufprep
  ggufprep -m Qwen/Qwen2.5-1.5B-Instruct -r ./llama.cpp
  ggufprep -m unsloth/Llama-3.2-1B-Instruct --scheme Q5_K_M --no-overwrite`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run:           runPipeline,
}

func Execute() {
	if !hasFlag("--silent") && !hasFlag("-silent") {
		printBanner()
	}

	if err := rootCmd.Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (default: ./ggufprep.yaml, ./config/ggufprep.yaml or "+config.GetDefaultConfigPath()+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVar(&silent, "silent", false, "silent mode - no banner, warnings and errors only")

	rootCmd.PersistentFlags().StringVarP(&modelID, "model", "m", "", "hugging face model id (default: "+config.DefaultModelID+")")
	rootCmd.PersistentFlags().StringVar(&revision, "revision", "", "model revision, branch or commit (default: main)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "root", "r", "", "llama.cpp checkout (default: ./"+config.DefaultToolchainRoot+")")
	rootCmd.PersistentFlags().StringVar(&assetsDir, "assets", "", "directory receiving the quantized model, relative to the llama.cpp checkout")
	rootCmd.PersistentFlags().StringVar(&scheme, "scheme", "", "llama-quantize type (default: Q4_K_M)")
	rootCmd.PersistentFlags().StringVar(&outType, "outtype", "", "converter output type (default: f16)")
	rootCmd.PersistentFlags().StringVar(&python, "python", "", "python interpreter running the converter (default: python3)")

	rootCmd.Flags().StringVar(&hubToken, "token", "", "hugging face access token for gated or private models")
	rootCmd.Flags().BoolVar(&noOverwrite, "no-overwrite", false, "fail instead of replacing an existing quantized model")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(historyCmd)
}

func overrides() config.Overrides {
	return config.Overrides{
		ModelID:     modelID,
		Revision:    revision,
		Root:        rootDir,
		AssetsDir:   assetsDir,
		Scheme:      scheme,
		OutType:     outType,
		Python:      python,
		Token:       hubToken,
		NoOverwrite: noOverwrite,
	}
}

func newOrchestrator() *orchestrator.Orchestrator {
	orch, err := orchestrator.NewOrchestrator(configFile, overrides(), orchestrator.Options{
		Verbose: verbose,
		Silent:  silent,
		Version: Version,
	})
	if err != nil {
		color.Red("Failed to initialize: %v", err)
		os.Exit(1)
	}
	return orch
}

func runPipeline(cmd *cobra.Command, args []string) {
	orch := newOrchestrator()
	code := executeRun(context.Background(), orch, cmd.OutOrStdout())
	orch.Close()

	if code != 0 {
		os.Exit(code)
	}
}

// executeRun runs the pipeline once, reports the outcome on out and returns
// the process exit status.
func executeRun(ctx context.Context, orch *orchestrator.Orchestrator, out io.Writer) int {
	run, err := orch.RunPipeline(ctx)
	if err != nil {
		fmt.Fprintln(out, color.RedString("Pipeline failed at %s: %v", run.FailedStage, unwrapStage(err)))
		return pipeline.ExitCode(err)
	}

	if !silent {
		fmt.Fprintln(out, color.GreenString("\nQuantized model written to %s in %dms", run.OutputPath, run.DurationMillis))
	}
	fmt.Fprintln(out, run.OutputPath)
	return 0
}

func unwrapStage(err error) error {
	var stageErr *pipeline.StageError
	if errors.As(err, &stageErr) {
		return stageErr.Err
	}
	return err
}

func hasFlag(name string) bool {
	for _, arg := range os.Args[1:] {
		if arg == name {
			return true
		}
	}
	return false
}

func printBanner() {
	banner := color.CyanString(`
┌─┐┌─┐┬ ┬┌─┐┌─┐┬─┐┌─┐┌─┐
│ ┬│ ┬│ │├┤ ├─┘├┬┘├┤ ├─┘
└─┘└─┘└─┘└  ┴  ┴└─└─┘┴  `)
	info := color.HiBlackString("hugging face -> gguf f16 -> quantized model for your app")
	fmt.Fprintln(os.Stderr, banner)
	fmt.Fprintln(os.Stderr, info)
	fmt.Fprintln(os.Stderr)
}
