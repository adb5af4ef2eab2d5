package pipeline

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/samogod/ggufprep/pkg/gguf"
	"github.com/samogod/ggufprep/pkg/runner"
)

// Fetcher downloads a complete model snapshot into a local directory.
type Fetcher interface {
	SnapshotDownload(ctx context.Context, repoID, localDir string) error
}

// BuildHint is the command that produces llama-quantize in a llama.cpp
// checkout.
func BuildHint(toolchainRoot string) string {
	return "Build llama.cpp (`cd " + toolchainRoot + " && cmake -B build && cmake --build build --config Release`)"
}

// Preflight checks that the toolchain root is a directory and the quantizer
// binary exists. It only reads filesystem metadata.
func Preflight(toolchainRoot, quantizerBin string) error {
	if toolchainRoot == "" {
		return &ConfigError{Resource: "toolchain root is not set"}
	}
	if quantizerBin == "" {
		return &ConfigError{Resource: "quantizer binary is not set"}
	}

	st, err := os.Stat(toolchainRoot)
	if err != nil || !st.IsDir() {
		return &ConfigError{Resource: "llama.cpp", Path: toolchainRoot}
	}

	st, err = os.Stat(quantizerBin)
	if err != nil || st.IsDir() {
		return &ConfigError{
			Resource: "llama-quantize binary",
			Path:     quantizerBin,
			Hint:     BuildHint(toolchainRoot),
		}
	}

	return nil
}

// Acquire downloads modelID into dir, creating dir if absent.
func Acquire(ctx context.Context, fetcher Fetcher, logger logrus.FieldLogger, modelID, dir string) error {
	logger.Infof("Downloading model from Hugging Face: %s", modelID)

	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "failed to create snapshot directory")
	}

	if err := fetcher.SnapshotDownload(ctx, modelID, dir); err != nil {
		return &FetchError{ModelID: modelID, Err: err}
	}

	logger.Infof("Downloaded to: %s", dir)
	return nil
}

type ConvertRequest struct {
	Python      string
	Script      string
	SnapshotDir string
	OutFile     string
	OutType     string
}

// Convert turns a snapshot into a GGUF file with convert_hf_to_gguf.py.
func Convert(ctx context.Context, r runner.Runner, logger logrus.FieldLogger, req ConvertRequest) error {
	if st, err := os.Stat(req.Script); err != nil || st.IsDir() {
		return &ConfigError{
			Resource: "convert script",
			Path:     req.Script,
			Hint:     "Clone llama.cpp and ensure script is present",
		}
	}

	outType := req.OutType
	if outType == "" {
		outType = gguf.DefaultOutType
	}

	warnIfReplacing(logger, req.OutFile)
	logger.Infof("Converting to GGUF (%s) -> %s", outType, req.OutFile)

	err := r.Run(ctx, "",
		req.Python,
		req.Script,
		req.SnapshotDir,
		"--outfile", req.OutFile,
		"--outtype", outType,
	)
	if err != nil {
		return err
	}

	return expectFile(req.OutFile, "converter")
}

type QuantizeRequest struct {
	Binary string
	Input  string
	Output string
	Scheme string
}

// Quantize runs llama-quantize on Input, writing Output. Input is only read.
func Quantize(ctx context.Context, r runner.Runner, logger logrus.FieldLogger, req QuantizeRequest) error {
	scheme := req.Scheme
	if scheme == "" {
		scheme = gguf.DefaultScheme
	}

	warnIfReplacing(logger, req.Output)
	logger.Infof("Quantizing to %s -> %s", scheme, req.Output)

	if err := r.Run(ctx, "", req.Binary, req.Input, req.Output, scheme); err != nil {
		return err
	}

	return expectFile(req.Output, "quantizer")
}

func warnIfReplacing(logger logrus.FieldLogger, path string) {
	if _, err := os.Stat(path); err == nil {
		logger.Warnf("Overwriting existing file %s", path)
	}
}

func expectFile(path, tool string) error {
	if _, err := os.Stat(path); err != nil {
		return errors.Errorf("%s exited successfully but %s was not written", tool, path)
	}
	return nil
}
