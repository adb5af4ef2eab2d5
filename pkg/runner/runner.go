// Package runner executes external toolchain processes to completion.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

// Runner runs argv[0] with the remaining arguments in dir (the current
// directory when empty) and returns once the process has exited.
type Runner interface {
	Run(ctx context.Context, dir string, argv ...string) error
}

// ExitError reports a process that could not be started (Code -1) or exited
// with a non-zero status.
type ExitError struct {
	Argv []string
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Code < 0 {
		return fmt.Sprintf("failed to start %s: %v", CommandLine(e.Argv), e.Err)
	}
	return fmt.Sprintf("command %s exited with status %d", CommandLine(e.Argv), e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Exec runs processes with os/exec, streaming their output.
type Exec struct {
	logger logrus.FieldLogger
	stdout io.Writer
	stderr io.Writer
}

func NewExec(logger logrus.FieldLogger) *Exec {
	return &Exec{
		logger: logger,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

// SetOutput redirects the child's stdout and stderr.
func (e *Exec) SetOutput(stdout, stderr io.Writer) {
	e.stdout = stdout
	e.stderr = stderr
}

func (e *Exec) Run(ctx context.Context, dir string, argv ...string) error {
	if len(argv) == 0 {
		return &ExitError{Code: -1, Err: errors.New("empty command")}
	}

	e.logger.Infof("[RUN] %s", CommandLine(argv))

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = e.stdout
	cmd.Stderr = e.stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
			return &ExitError{Argv: argv, Code: exitErr.ExitCode(), Err: err}
		}
		if errors.As(err, &exitErr) {
			// killed by a signal
			return &ExitError{Argv: argv, Code: 1, Err: err}
		}
		return &ExitError{Argv: argv, Code: -1, Err: err}
	}

	return nil
}

// CommandLine renders argv the way it is logged.
func CommandLine(argv []string) string {
	return strings.Join(argv, " ")
}
