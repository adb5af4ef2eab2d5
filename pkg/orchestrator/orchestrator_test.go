package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samogod/ggufprep/pkg/config"
	"github.com/samogod/ggufprep/pkg/pipeline"
	"github.com/samogod/ggufprep/pkg/report"
	"github.com/samogod/ggufprep/pkg/runner"
)

type stubFetcher struct{}

func (stubFetcher) SnapshotDownload(_ context.Context, _ string, localDir string) error {
	return os.WriteFile(filepath.Join(localDir, "config.json"), []byte("{}"), 0644)
}

// stubRunner writes the last path argument the tool would produce.
type stubRunner struct {
	code int
}

func (r stubRunner) Run(_ context.Context, _ string, argv ...string) error {
	if r.code != 0 {
		return &runner.ExitError{Argv: argv, Code: r.code}
	}
	out := argv[2]
	for i, a := range argv {
		if a == "--outfile" {
			out = argv[i+1]
		}
	}
	return os.WriteFile(out, []byte("gguf"), 0644)
}

type fixture struct {
	root   string
	ledger string
	config string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		root:   filepath.Join(dir, "llama.cpp"),
		ledger: filepath.Join(dir, "cache", "runs.jsonl"),
		config: filepath.Join(dir, "ggufprep.yaml"),
	}

	require.NoError(t, os.MkdirAll(filepath.Join(f.root, "build", "bin"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(f.root, config.DefaultQuantizer), []byte("#!/bin/sh\n"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(f.root, config.DefaultConverterScript), []byte("# converter\n"), 0644))

	content := fmt.Sprintf("toolchain:\n  root: %q\n  python: sh\nledger: %q\n", f.root, f.ledger)
	require.NoError(t, os.WriteFile(f.config, []byte(content), 0644))

	return f
}

func newTestOrchestrator(t *testing.T, f fixture, overrides config.Overrides) *Orchestrator {
	t.Helper()
	orch, err := NewOrchestrator(f.config, overrides, Options{Silent: true, Version: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { orch.Close() })

	orch.SetFetcher(stubFetcher{})
	return orch
}

func TestRunPipelineRecordsSuccess(t *testing.T) {
	f := newFixture(t)
	orch := newTestOrchestrator(t, f, config.Overrides{})
	orch.SetRunner(stubRunner{})

	run, err := orch.RunPipeline(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, run.RunID)
	assert.Equal(t, report.StatusSucceeded, run.Status)
	assert.Equal(t, 0, run.ExitCode)
	assert.Equal(t, []string{"start", "preflight_ok", "downloaded", "converted", "quantized", "done"}, run.Transitions)
	assert.FileExists(t, run.OutputPath)
	assert.Equal(t, "Qwen2.5-1.5B-Instruct_Q4_K_M.gguf", filepath.Base(run.OutputPath))

	runs, err := report.Read(f.ledger)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.RunID, runs[0].RunID)
	assert.Equal(t, orch.LedgerPath(), f.ledger)
}

func TestRunPipelineRecordsFailure(t *testing.T) {
	f := newFixture(t)
	orch := newTestOrchestrator(t, f, config.Overrides{ModelID: "unsloth/Llama-3.2-1B-Instruct"})
	orch.SetRunner(stubRunner{code: 5})

	run, err := orch.RunPipeline(context.Background())
	require.Error(t, err)

	assert.Equal(t, 5, pipeline.ExitCode(err))
	assert.Equal(t, report.StatusFailed, run.Status)
	assert.Equal(t, pipeline.StageConversion, run.FailedStage)
	assert.Equal(t, 5, run.ExitCode)
	assert.Equal(t, "unsloth/Llama-3.2-1B-Instruct", run.ModelID)

	runs, err := report.Read(f.ledger)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, report.StatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "exited with status 5")
}

func TestRunPipelinePreflightFailureDoesNotFetch(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.Remove(filepath.Join(f.root, config.DefaultQuantizer)))

	orch := newTestOrchestrator(t, f, config.Overrides{})
	orch.SetFetcher(failingFetcher{t: t})
	orch.SetRunner(stubRunner{})

	run, err := orch.RunPipeline(context.Background())
	require.Error(t, err)
	assert.True(t, pipeline.IsConfigError(err))
	assert.Equal(t, pipeline.StagePreflight, run.FailedStage)
	assert.Equal(t, 1, run.ExitCode)
}

type memoryRecorder struct {
	runs []*report.Run
}

func (m *memoryRecorder) IsEnabled() bool { return true }

func (m *memoryRecorder) RecordRun(run *report.Run) error {
	m.runs = append(m.runs, run)
	return nil
}

func TestRunPipelineRecordsToDatabaseWhenLedgerFails(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(f.ledger, 0755))

	orch := newTestOrchestrator(t, f, config.Overrides{})
	orch.SetRunner(stubRunner{})
	rec := &memoryRecorder{}
	orch.SetRecorder(rec)
	hook := test.NewLocal(orch.Logger())

	run, err := orch.RunPipeline(context.Background())
	require.NoError(t, err)

	require.Len(t, rec.runs, 1)
	assert.Equal(t, run.RunID, rec.runs[0].RunID)

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && strings.Contains(e.Message, "Failed to append run to ledger") {
			warned = true
		}
	}
	assert.True(t, warned, "ledger failure must be logged")
}

type failingFetcher struct{ t *testing.T }

func (f failingFetcher) SnapshotDownload(context.Context, string, string) error {
	f.t.Error("fetch must not start after a failed preflight")
	return nil
}

func TestCheck(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh as the interpreter")
	}
	f := newFixture(t)
	orch := newTestOrchestrator(t, f, config.Overrides{})

	results, err := orch.Check()
	require.NoError(t, err)

	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, r.Name)
		assert.True(t, r.OK, r.Name)
	}
	assert.Equal(t, []string{"toolchain", "converter", "python", "output"}, names)
}

func TestCheckReportsMissingConverter(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.Remove(filepath.Join(f.root, config.DefaultConverterScript)))
	orch := newTestOrchestrator(t, f, config.Overrides{})

	results, err := orch.Check()
	require.Error(t, err)
	assert.True(t, pipeline.IsConfigError(err))
	assert.True(t, results[0].OK)
	assert.False(t, results[1].OK)
}

func TestNewOrchestratorRejectsInvalidConfig(t *testing.T) {
	f := newFixture(t)

	_, err := NewOrchestrator(f.config, config.Overrides{Scheme: "Q9_K"}, Options{Silent: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}

func TestNewLoggerLevels(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, NewLogger(true, false).GetLevel())
	assert.Equal(t, logrus.WarnLevel, NewLogger(false, true).GetLevel())
	assert.Equal(t, logrus.InfoLevel, NewLogger(false, false).GetLevel())
}

func TestCustomFormatter(t *testing.T) {
	f := &customFormatter{}

	out, err := f.Format(&logrus.Entry{Level: logrus.WarnLevel, Message: "Overwriting existing file x"})
	require.NoError(t, err)
	assert.Equal(t, "[WARN] Overwriting existing file x\n", string(out))

	out, err = f.Format(&logrus.Entry{Level: logrus.InfoLevel, Message: "[RUN] llama-quantize a b Q4_K_M"})
	require.NoError(t, err)
	assert.Equal(t, "[INF] [RUN] llama-quantize a b Q4_K_M\n", string(out))
}
