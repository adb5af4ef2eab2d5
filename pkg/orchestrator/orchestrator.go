package orchestrator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/samogod/ggufprep/pkg/config"
	"github.com/samogod/ggufprep/pkg/database"
	"github.com/samogod/ggufprep/pkg/elastic"
	"github.com/samogod/ggufprep/pkg/hub"
	"github.com/samogod/ggufprep/pkg/layout"
	"github.com/samogod/ggufprep/pkg/pipeline"
	"github.com/samogod/ggufprep/pkg/report"
	"github.com/samogod/ggufprep/pkg/runner"
)

type Options struct {
	Verbose bool
	Silent  bool
	Version string
}

type Orchestrator struct {
	config        *config.Config
	configManager *config.Manager
	logger        *logrus.Logger
	layout        *layout.Layout
	fetcher       pipeline.Fetcher
	runner        runner.Runner
	db            *database.DB
	recorder      RunRecorder
	es            *elastic.Client
	ledger        string
}

// RunRecorder stores finished runs outside the local ledger.
type RunRecorder interface {
	IsEnabled() bool
	RecordRun(run *report.Run) error
}

// CheckResult is one line of the toolchain readiness report.
type CheckResult struct {
	Name   string
	OK     bool
	Detail string
}

type customFormatter struct{}

func (f *customFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var levelText string
	switch entry.Level {
	case logrus.InfoLevel:
		levelText = "[INF]"
	case logrus.WarnLevel:
		levelText = "[WARN]"
	case logrus.ErrorLevel:
		levelText = "[ERR]"
	case logrus.DebugLevel:
		levelText = "[DBG]"
	default:
		levelText = "[???]"
	}
	return []byte(fmt.Sprintf("%s %s\n", levelText, entry.Message)), nil
}

// NewLogger builds the single-line console logger every component receives.
func NewLogger(verbose, silent bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&customFormatter{})

	switch {
	case verbose:
		logger.SetLevel(logrus.DebugLevel)
	case silent:
		logger.SetLevel(logrus.WarnLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	return logger
}

func NewOrchestrator(configPath string, overrides config.Overrides, opts Options) (*Orchestrator, error) {
	logger := NewLogger(opts.Verbose, opts.Silent)

	configManager := config.NewManager(configPath, overrides, logger)
	if err := configManager.LoadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	cfg := configManager.GetConfig()

	l, err := layout.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve paths: %w", err)
	}

	logger.Debugf("ggufprep %s", opts.Version)

	fetcher := hub.New(hub.Config{
		Endpoint: cfg.Hub.Endpoint,
		Token:    cfg.Hub.Token,
		Revision: cfg.Model.Revision,
		Workers:  cfg.Hub.Workers,
		CacheDir: cfg.Hub.CacheDir,
	}, logger)

	ledger := cfg.Ledger
	if ledger == "" {
		ledger = config.GetDefaultLedgerPath()
	}

	o := &Orchestrator{
		config:        cfg,
		configManager: configManager,
		logger:        logger,
		layout:        l,
		fetcher:       fetcher,
		runner:        runner.NewExec(logger),
		ledger:        ledger,
	}

	db, err := database.New(&cfg.Database, logger)
	if err != nil {
		logger.Warnf("Database initialization failed: %v", err)
	}
	o.db = db
	o.recorder = db

	if cfg.Elastic.Enabled {
		es, err := elastic.New(elastic.Config{
			URL:      cfg.Elastic.URL,
			Username: cfg.Elastic.Username,
			Password: cfg.Elastic.Password,
			Index:    cfg.Elastic.Index,
		})
		if err != nil {
			logger.Warnf("Elasticsearch initialization failed: %v", err)
		}
		o.es = es
	}

	return o, nil
}

func (o *Orchestrator) GetConfig() *config.Config {
	return o.config
}

func (o *Orchestrator) GetDB() *database.DB {
	return o.db
}

func (o *Orchestrator) GetLayout() *layout.Layout {
	return o.layout
}

func (o *Orchestrator) Logger() *logrus.Logger {
	return o.logger
}

func (o *Orchestrator) LedgerPath() string {
	return o.ledger
}

// SetFetcher replaces the hub client.
func (o *Orchestrator) SetFetcher(f pipeline.Fetcher) {
	o.fetcher = f
}

// SetRecorder replaces the run history database.
func (o *Orchestrator) SetRecorder(r RunRecorder) {
	o.recorder = r
}

// SetRunner replaces the process runner.
func (o *Orchestrator) SetRunner(r runner.Runner) {
	o.runner = r
}

func (o *Orchestrator) Close() error {
	if o.db != nil {
		return o.db.Close()
	}
	return nil
}

// RunPipeline executes one full run and records it. The returned report is
// never nil; the error is the pipeline's own. Failures of the history sinks
// are logged and do not change the outcome.
func (o *Orchestrator) RunPipeline(ctx context.Context) (*report.Run, error) {
	startTime := time.Now()
	runID := uuid.NewString()

	o.logger.Debugf("run %s: %s@%s -> %s", runID, o.layout.ModelID, o.layout.Revision, o.layout.OutputPath)

	p := pipeline.New(o.layout, o.fetcher, o.runner, o.logger, o.config.Output.Overwrite)
	result, runErr := p.Run(ctx)

	endTime := time.Now()
	run := &report.Run{
		RunID:            runID,
		ModelID:          o.layout.ModelID,
		Revision:         o.layout.Revision,
		Scheme:           o.layout.Scheme,
		OutType:          o.layout.OutType,
		Status:           report.StatusSucceeded,
		IntermediatePath: result.IntermediatePath,
		OutputPath:       result.OutputPath,
		StageMillis:      make(map[string]int64, len(result.Durations)),
		StartedAt:        startTime.UTC(),
		FinishedAt:       endTime.UTC(),
		DurationMillis:   endTime.Sub(startTime).Milliseconds(),
	}

	for _, s := range result.Transitions {
		run.Transitions = append(run.Transitions, s.String())
	}
	for stage, d := range result.Durations {
		run.StageMillis[stage] = d.Milliseconds()
	}

	if runErr != nil {
		run.Status = report.StatusFailed
		run.FailedStage = result.FailedStage
		run.Error = runErr.Error()
		run.ExitCode = pipeline.ExitCode(runErr)
	}

	o.record(ctx, run)

	return run, runErr
}

// record writes run to every history sink. Elasticsearch indexes the ledger
// file, so it is skipped when the append failed.
func (o *Orchestrator) record(ctx context.Context, run *report.Run) {
	appendErr := report.Append(o.ledger, run)
	if appendErr != nil {
		o.logger.Warnf("Failed to append run to ledger: %v", appendErr)
	}

	if o.recorder != nil && o.recorder.IsEnabled() {
		if err := o.recorder.RecordRun(run); err != nil {
			o.logger.Warnf("Failed to track run in database: %v", err)
		}
	}

	if o.es != nil && appendErr == nil {
		failed, err := o.es.IndexJSONLinesFile(ctx, o.ledger)
		if err != nil {
			o.logger.Warnf("Failed to index runs in elasticsearch: %v", err)
		} else if failed > 0 {
			o.logger.Warnf("%d run documents were rejected by elasticsearch", failed)
		}
	}
}

// Check inspects the toolchain without downloading or running anything.
func (o *Orchestrator) Check() ([]CheckResult, error) {
	l := o.layout
	var results []CheckResult
	var firstErr error

	add := func(name string, err error, okDetail string) {
		r := CheckResult{Name: name, OK: err == nil, Detail: okDetail}
		if err != nil {
			r.Detail = err.Error()
			if firstErr == nil {
				firstErr = err
			}
		}
		results = append(results, r)
	}

	add("toolchain", pipeline.Preflight(l.ToolchainRoot, l.QuantizerBin), l.QuantizerBin)

	var scriptErr error
	if st, err := os.Stat(l.ConverterScript); err != nil || st.IsDir() {
		scriptErr = &pipeline.ConfigError{Resource: "convert script", Path: l.ConverterScript}
	}
	add("converter", scriptErr, l.ConverterScript)

	python, err := exec.LookPath(l.Python)
	if err != nil {
		add("python", fmt.Errorf("interpreter %q not found: %w", l.Python, err), "")
	} else {
		add("python", nil, python)
	}

	add("output", nil, l.OutputPath)

	return results, firstErr
}
