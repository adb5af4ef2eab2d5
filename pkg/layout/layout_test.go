package layout

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samogod/ggufprep/pkg/config"
)

func TestNewDefaultLayout(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default()
	cfg.Toolchain.Root = root

	l, err := New(cfg)
	require.NoError(t, err)

	assert.Equal(t, "Qwen2.5-1.5B-Instruct", l.ModelName)
	assert.Equal(t, root, l.ToolchainRoot)
	assert.Equal(t, filepath.Join(root, "convert_hf_to_gguf.py"), l.ConverterScript)
	assert.Equal(t, filepath.Join(root, "artifacts"), l.ArtifactsDir)
	assert.Equal(t, filepath.Join(root, "artifacts", "hf_model"), l.SnapshotDir)
	assert.Equal(t, filepath.Join(root, "examples", "llama.android", "app", "src", "main", "assets", "models"), l.AssetsDir)
	assert.Equal(t, filepath.Join(root, "artifacts", "Qwen2.5-1.5B-Instruct_Q4_K_M.gguf"), l.IntermediatePath)
	assert.Equal(t, filepath.Join(l.AssetsDir, "Qwen2.5-1.5B-Instruct_Q4_K_M.gguf"), l.OutputPath)

	if runtime.GOOS != "windows" {
		assert.Equal(t, filepath.Join(root, "build", "bin", "llama-quantize"), l.QuantizerBin)
	}
}

func TestNewAbsolutePathsAreKept(t *testing.T) {
	root := t.TempDir()
	assets := filepath.Join(t.TempDir(), "assets")
	snapshot := filepath.Join(t.TempDir(), "snap")

	cfg := config.Default()
	cfg.Toolchain.Root = root
	cfg.Output.AssetsDir = assets
	cfg.Output.SnapshotDir = snapshot
	cfg.Output.Scheme = "Q8_0"

	l, err := New(cfg)
	require.NoError(t, err)

	assert.Equal(t, assets, l.AssetsDir)
	assert.Equal(t, snapshot, l.SnapshotDir)
	assert.Equal(t, filepath.Join(assets, "Qwen2.5-1.5B-Instruct_Q8_0.gguf"), l.OutputPath)
}

func TestNewRelativeRootIsMadeAbsolute(t *testing.T) {
	cfg := config.Default()

	l, err := New(cfg)
	require.NoError(t, err)

	assert.True(t, filepath.IsAbs(l.ToolchainRoot))
	assert.Equal(t, "llama.cpp", filepath.Base(l.ToolchainRoot))
}

func TestIntermediateAndOutputShareName(t *testing.T) {
	cfg := config.Default()
	cfg.Toolchain.Root = t.TempDir()

	l, err := New(cfg)
	require.NoError(t, err)

	assert.Equal(t, filepath.Base(l.IntermediatePath), filepath.Base(l.OutputPath))
	assert.NotEqual(t, l.IntermediatePath, l.OutputPath)
}
