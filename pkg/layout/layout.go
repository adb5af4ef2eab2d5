// Package layout derives every filesystem path a pipeline run touches from the
// model id and the toolchain directory layout. Paths are computed once, up
// front, and never rediscovered by the stages.
package layout

import (
	"path/filepath"
	"runtime"

	"github.com/samogod/ggufprep/pkg/config"
	"github.com/samogod/ggufprep/pkg/gguf"
)

type Layout struct {
	ModelID   string
	ModelName string
	Revision  string
	Scheme    string
	OutType   string

	ToolchainRoot   string
	ConverterScript string
	QuantizerBin    string
	Python          string

	ArtifactsDir string
	SnapshotDir  string
	AssetsDir    string

	// IntermediatePath holds the converter's f16 output. It shares its base
	// name with OutputPath.
	IntermediatePath string
	OutputPath       string
}

// New resolves cfg into absolute paths.
func New(cfg *config.Config) (*Layout, error) {
	root, err := filepath.Abs(cfg.Toolchain.Root)
	if err != nil {
		return nil, err
	}

	artifacts := under(root, cfg.Output.ArtifactsDir)
	assets := under(root, cfg.Output.AssetsDir)
	name := gguf.ModelName(cfg.Model.ID)
	fileName := gguf.FileName(name, cfg.Output.Scheme)

	quantizer := under(root, cfg.Toolchain.Quantizer)
	if runtime.GOOS == "windows" && filepath.Ext(quantizer) == "" {
		quantizer += ".exe"
	}

	return &Layout{
		ModelID:          cfg.Model.ID,
		ModelName:        name,
		Revision:         cfg.Model.Revision,
		Scheme:           cfg.Output.Scheme,
		OutType:          cfg.Output.OutType,
		ToolchainRoot:    root,
		ConverterScript:  under(root, cfg.Toolchain.ConverterScript),
		QuantizerBin:     quantizer,
		Python:           cfg.Toolchain.Python,
		ArtifactsDir:     artifacts,
		SnapshotDir:      under(artifacts, cfg.Output.SnapshotDir),
		AssetsDir:        assets,
		IntermediatePath: filepath.Join(artifacts, fileName),
		OutputPath:       filepath.Join(assets, fileName),
	}, nil
}

func under(base, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(base, p)
}
