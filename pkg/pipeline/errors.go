package pipeline

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/samogod/ggufprep/pkg/runner"
)

// ConfigError is a missing or unusable local resource detected before any
// external call is made for the stage that needs it.
type ConfigError struct {
	Resource string
	Path     string
	Hint     string
}

func (e *ConfigError) Error() string {
	msg := e.Resource
	if e.Path != "" {
		msg = fmt.Sprintf("%s not found at %s", e.Resource, e.Path)
	}
	if e.Hint != "" {
		msg += ". " + e.Hint
	}
	return msg
}

// FetchError wraps any failure of the snapshot download.
type FetchError struct {
	ModelID string
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to download %s: %v", e.ModelID, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// StageError names the stage that aborted the run.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// ExitCode maps a run error to a process exit status: 0 for nil, the exit
// status of a failed external command when there is one, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *runner.ExitError
	if errors.As(err, &exitErr) && exitErr.Code > 0 {
		return exitErr.Code
	}

	return 1
}

// IsConfigError reports whether err stems from a missing local resource.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}
