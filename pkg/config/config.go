package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/samogod/ggufprep/pkg/gguf"
)

const (
	DefaultModelID         = "Qwen/Qwen2.5-1.5B-Instruct"
	DefaultToolchainRoot   = "llama.cpp"
	DefaultConverterScript = "convert_hf_to_gguf.py"
	DefaultQuantizer       = "build/bin/llama-quantize"
	DefaultArtifactsDir    = "artifacts"
	DefaultSnapshotDir     = "hf_model"
	DefaultAssetsDir       = "examples/llama.android/app/src/main/assets/models"
	DefaultHubEndpoint     = "https://huggingface.co"
	DefaultElasticIndex    = "ggufprep_runs"
)

var modelIDRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*/[A-Za-z0-9][A-Za-z0-9_.-]*$`)

type Config struct {
	Model     Model     `yaml:"model"`
	Toolchain Toolchain `yaml:"toolchain"`
	Output    Output    `yaml:"output"`
	Hub       Hub       `yaml:"hub"`
	Ledger    string    `yaml:"ledger"`
	Database  Database  `yaml:"database"`
	Elastic   Elastic   `yaml:"elastic"`
}

// Model selects the hub repository to fetch.
type Model struct {
	ID       string `yaml:"id" validate:"required,modelid"`
	Revision string `yaml:"revision" validate:"required"`
}

// Toolchain points at a llama.cpp checkout. ConverterScript and Quantizer are
// resolved against Root unless absolute.
type Toolchain struct {
	Root            string `yaml:"root" validate:"required"`
	Python          string `yaml:"python" validate:"required"`
	ConverterScript string `yaml:"converter_script" validate:"required"`
	Quantizer       string `yaml:"quantizer" validate:"required"`
}

// Output controls where artifacts land. ArtifactsDir and AssetsDir are
// resolved against the toolchain root, SnapshotDir against ArtifactsDir.
type Output struct {
	ArtifactsDir string `yaml:"artifacts_dir" validate:"required"`
	SnapshotDir  string `yaml:"snapshot_dir" validate:"required"`
	AssetsDir    string `yaml:"assets_dir" validate:"required"`
	OutType      string `yaml:"outtype" validate:"required,outtype"`
	Scheme       string `yaml:"scheme" validate:"required,scheme"`
	Overwrite    bool   `yaml:"overwrite"`
}

type Hub struct {
	Endpoint string `yaml:"endpoint" validate:"required,url"`
	Token    string `yaml:"token"`
	Workers  int    `yaml:"workers" validate:"gte=1,lte=32"`
	// CacheDir holds downloaded blobs; empty shares the huggingface_hub cache.
	CacheDir string `yaml:"cache_dir"`
}

type Database struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host" validate:"required_if=Enabled true"`
	Port     int    `yaml:"port" validate:"required_if=Enabled true"`
	User     string `yaml:"user" validate:"required_if=Enabled true"`
	Password string `yaml:"password"`
}

type Elastic struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url" validate:"required_if=Enabled true"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Index    string `yaml:"index"`
}

// Default returns the configuration the tool runs with when no file is found.
func Default() *Config {
	return &Config{
		Model: Model{
			ID:       DefaultModelID,
			Revision: "main",
		},
		Toolchain: Toolchain{
			Root:            DefaultToolchainRoot,
			Python:          "python3",
			ConverterScript: DefaultConverterScript,
			Quantizer:       DefaultQuantizer,
		},
		Output: Output{
			ArtifactsDir: DefaultArtifactsDir,
			SnapshotDir:  DefaultSnapshotDir,
			AssetsDir:    DefaultAssetsDir,
			OutType:      gguf.DefaultOutType,
			Scheme:       gguf.DefaultScheme,
			Overwrite:    true,
		},
		Hub: Hub{
			Endpoint: DefaultHubEndpoint,
			Workers:  4,
		},
		Database: Database{
			Port: 5432,
		},
		Elastic: Elastic{
			Index: DefaultElasticIndex,
		},
	}
}

// Overrides carries command line values; empty fields leave the loaded
// configuration untouched.
type Overrides struct {
	ModelID     string
	Revision    string
	Root        string
	AssetsDir   string
	Scheme      string
	OutType     string
	Python      string
	Token       string
	NoOverwrite bool
}

func (o Overrides) Apply(cfg *Config) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Model.ID, o.ModelID)
	set(&cfg.Model.Revision, o.Revision)
	set(&cfg.Toolchain.Root, o.Root)
	set(&cfg.Output.AssetsDir, o.AssetsDir)
	set(&cfg.Output.Scheme, o.Scheme)
	set(&cfg.Output.OutType, o.OutType)
	set(&cfg.Toolchain.Python, o.Python)
	set(&cfg.Hub.Token, o.Token)
	if o.NoOverwrite {
		cfg.Output.Overwrite = false
	}
}

type Manager struct {
	config     *Config
	configPath string
	overrides  Overrides
	logger     logrus.FieldLogger
}

func NewManager(configPath string, overrides Overrides, logger logrus.FieldLogger) *Manager {
	return &Manager{
		configPath: configPath,
		overrides:  overrides,
		logger:     logger,
	}
}

func (m *Manager) LoadConfig() error {
	config := Default()

	explicit := m.configPath != ""
	if !explicit {
		m.configPath = m.findConfigFile()
	}

	if m.configPath == "" {
		m.logger.Debugf("no config file found, using defaults")
	} else {
		m.logger.Debugf("loading config from %s", m.configPath)

		data, err := os.ReadFile(m.configPath)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("config file not found at %s", m.configPath)
			}
			return fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	m.overrides.Apply(config)

	if err := m.validateConfig(config); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	m.config = config
	return nil
}

func (m *Manager) GetConfig() *Config {
	return m.config
}

// ConfigPath is the file the configuration was read from, empty when the
// defaults were used.
func (m *Manager) ConfigPath() string {
	return m.configPath
}

func (m *Manager) findConfigFile() string {
	candidates := []string{
		appName + ".yaml",
		filepath.Join("config", appName+".yaml"),
		GetDefaultConfigPath(),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

func (m *Manager) validateConfig(config *Config) error {
	return Validate(config)
}

// Validate checks struct constraints and the domain rules for model ids,
// schemes and converter output types.
func Validate(config *Config) error {
	v := validator.New(validator.WithRequiredStructEnabled())

	_ = v.RegisterValidation("modelid", func(fl validator.FieldLevel) bool {
		id := fl.Field().String()
		return modelIDRe.MatchString(id) && !strings.Contains(id, "..")
	})
	_ = v.RegisterValidation("scheme", func(fl validator.FieldLevel) bool {
		return gguf.IsScheme(fl.Field().String())
	})
	_ = v.RegisterValidation("outtype", func(fl validator.FieldLevel) bool {
		return gguf.IsOutType(fl.Field().String())
	})

	if err := v.Struct(config); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return describe(verrs[0])
		}
		return err
	}

	return nil
}

func describe(fe validator.FieldError) error {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "modelid":
		return fmt.Errorf("%s %q must look like <owner>/<name>", field, fe.Value())
	case "scheme":
		return fmt.Errorf("%s %q is not a llama-quantize type (e.g. %s)", field, fe.Value(), gguf.DefaultScheme)
	case "outtype":
		return fmt.Errorf("%s %q must be one of %s", field, fe.Value(), strings.Join(gguf.OutTypes, ", "))
	case "required", "required_if":
		return fmt.Errorf("%s is required", field)
	default:
		return fmt.Errorf("%s failed %q check (value %v)", field, fe.Tag(), fe.Value())
	}
}
