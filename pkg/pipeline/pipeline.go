// Package pipeline runs the model preparation stages in order:
// preflight, snapshot acquisition, GGUF conversion and quantization.
//
// The stages share nothing but the paths computed by package layout. Each
// stage runs to completion before the next starts and the first failure
// ends the run.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/samogod/ggufprep/pkg/gguf"
	"github.com/samogod/ggufprep/pkg/layout"
	"github.com/samogod/ggufprep/pkg/runner"
)

type State int

const (
	StateStart State = iota
	StatePreflightOK
	StateDownloaded
	StateConverted
	StateQuantized
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StatePreflightOK:
		return "preflight_ok"
	case StateDownloaded:
		return "downloaded"
	case StateConverted:
		return "converted"
	case StateQuantized:
		return "quantized"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Stage names, as reported in StageError and Result.Durations.
const (
	StagePreflight    = "preflight"
	StageAcquisition  = "acquisition"
	StageConversion   = "conversion"
	StageQuantization = "quantization"
)

type Pipeline struct {
	layout    *layout.Layout
	fetcher   Fetcher
	runner    runner.Runner
	logger    logrus.FieldLogger
	overwrite bool
	state     State
}

type Result struct {
	Transitions      []State
	Durations        map[string]time.Duration
	FailedStage      string
	IntermediatePath string
	OutputPath       string
}

func New(l *layout.Layout, fetcher Fetcher, r runner.Runner, logger logrus.FieldLogger, overwrite bool) *Pipeline {
	return &Pipeline{
		layout:    l,
		fetcher:   fetcher,
		runner:    r,
		logger:    logger,
		overwrite: overwrite,
		state:     StateStart,
	}
}

// State returns the state reached by the last Run.
func (p *Pipeline) State() State {
	return p.state
}

// Run executes every stage. The returned Result is never nil; on failure the
// error is a *StageError and the final transition is StateFailed.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	p.state = StateStart

	result := &Result{
		Transitions:      []State{StateStart},
		Durations:        make(map[string]time.Duration),
		IntermediatePath: p.layout.IntermediatePath,
		OutputPath:       p.layout.OutputPath,
	}

	steps := []struct {
		name string
		next State
		fn   func(context.Context) error
	}{
		{StagePreflight, StatePreflightOK, p.preflight},
		{StageAcquisition, StateDownloaded, p.acquire},
		{StageConversion, StateConverted, p.convert},
		{StageQuantization, StateQuantized, p.quantize},
	}

	for _, step := range steps {
		start := time.Now()
		err := step.fn(ctx)
		result.Durations[step.name] = time.Since(start)

		if err != nil {
			p.transition(result, StateFailed)
			result.FailedStage = step.name
			return result, &StageError{Stage: step.name, Err: err}
		}

		p.transition(result, step.next)
	}

	p.transition(result, StateDone)

	p.logger.Infof("Done. Outputs:")
	p.logger.Infof(" - %s GGUF: %s", p.layout.OutType, p.layout.IntermediatePath)
	p.logger.Infof(" - %s GGUF: %s", p.layout.Scheme, p.layout.OutputPath)

	return result, nil
}

func (p *Pipeline) transition(result *Result, next State) {
	p.logger.Debugf("state %s -> %s", p.state, next)
	p.state = next
	result.Transitions = append(result.Transitions, next)
}

func (p *Pipeline) preflight(_ context.Context) error {
	if err := Preflight(p.layout.ToolchainRoot, p.layout.QuantizerBin); err != nil {
		return err
	}

	if !gguf.IsScheme(p.layout.Scheme) {
		return &ConfigError{
			Resource: fmt.Sprintf("unknown quantization scheme %q", p.layout.Scheme),
			Hint:     "Use one of " + strings.Join(gguf.Schemes, ", "),
		}
	}
	if !gguf.IsOutType(p.layout.OutType) {
		return &ConfigError{
			Resource: fmt.Sprintf("unknown converter output type %q", p.layout.OutType),
			Hint:     "Use one of " + strings.Join(gguf.OutTypes, ", "),
		}
	}

	if !p.overwrite {
		if _, err := os.Stat(p.layout.OutputPath); err == nil {
			return &ConfigError{
				Resource: "output " + p.layout.OutputPath + " already exists",
				Hint:     "Remove it or enable overwrite",
			}
		}
	}

	return nil
}

func (p *Pipeline) acquire(ctx context.Context) error {
	return Acquire(ctx, p.fetcher, p.logger, p.layout.ModelID, p.layout.SnapshotDir)
}

func (p *Pipeline) convert(ctx context.Context) error {
	if err := os.MkdirAll(p.layout.ArtifactsDir, 0755); err != nil {
		return errors.Wrap(err, "failed to create artifacts directory")
	}

	return Convert(ctx, p.runner, p.logger, ConvertRequest{
		Python:      p.layout.Python,
		Script:      p.layout.ConverterScript,
		SnapshotDir: p.layout.SnapshotDir,
		OutFile:     p.layout.IntermediatePath,
		OutType:     p.layout.OutType,
	})
}

func (p *Pipeline) quantize(ctx context.Context) error {
	if err := os.MkdirAll(p.layout.AssetsDir, 0755); err != nil {
		return errors.Wrap(err, "failed to create assets directory")
	}

	return Quantize(ctx, p.runner, p.logger, QuantizeRequest{
		Binary: p.layout.QuantizerBin,
		Input:  p.layout.IntermediatePath,
		Output: p.layout.OutputPath,
		Scheme: p.layout.Scheme,
	})
}
