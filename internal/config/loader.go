package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Overlay keys. Flags and environment variables are bound to these.
const (
	KeyTargetAddress  = "target.address"
	KeyTargetMaxRPS   = "target.maxRPS"
	KeyDatasetFile    = "dataset.file"
	KeyDatasetSelect  = "dataset.select"
	KeyStages         = "scenario.stages"
	KeyStartVUs       = "scenario.startVUs"
	KeyLogLevel       = "log.level"
	KeyLogFormat      = "log.format"
	KeyMetricsAddress = "metrics.address"
)

// flagKeys maps command-line flag names to overlay keys.
var flagKeys = map[string]string{
	"target":       KeyTargetAddress,
	"max-rps":      KeyTargetMaxRPS,
	"dataset":      KeyDatasetFile,
	"select":       KeyDatasetSelect,
	"stages":       KeyStages,
	"start-vus":    KeyStartVUs,
	"log-level":    KeyLogLevel,
	"log-format":   KeyLogFormat,
	"metrics-addr": KeyMetricsAddress,
}

// envKeys maps overlay keys to environment variables, first match wins.
var envKeys = map[string][]string{
	KeyTargetAddress:  {"STAMPEDE_TARGET", "TARGET_URL"},
	KeyDatasetFile:    {"STAMPEDE_DATASET"},
	KeyLogLevel:       {"STAMPEDE_LOG_LEVEL"},
	KeyLogFormat:      {"STAMPEDE_LOG_FORMAT"},
	KeyMetricsAddress: {"STAMPEDE_METRICS_ADDR"},
}

// Loader reads a config file and overlays environment variables and
// command-line flags on top of it. Flags win over env, env wins over the file.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader with the environment bindings in place.
func NewLoader() *Loader {
	v := viper.New()
	for key, names := range envKeys {
		_ = v.BindEnv(append([]string{key}, names...)...)
	}
	return &Loader{v: v}
}

// BindFlags binds every known overlay flag present in fs. Flags that were
// not set on the command line do not override the file.
func (l *Loader) BindFlags(fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := l.v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// Load reads path (if non-empty), applies the overlay and then defaults.
// The result is not validated.
func (l *Loader) Load(path string) (*TestConfig, error) {
	cfg := &TestConfig{}
	if path != "" {
		loaded, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if err := l.applyOverlay(cfg); err != nil {
		return nil, err
	}

	ApplyDefaults(cfg)
	return cfg, nil
}

func (l *Loader) applyOverlay(cfg *TestConfig) error {
	v := l.v
	if v.IsSet(KeyTargetAddress) {
		cfg.Target.Address = strings.TrimSpace(v.GetString(KeyTargetAddress))
	}
	if v.IsSet(KeyTargetMaxRPS) {
		cfg.Target.MaxRPS = v.GetFloat64(KeyTargetMaxRPS)
	}
	if v.IsSet(KeyDatasetFile) {
		cfg.Dataset.File = v.GetString(KeyDatasetFile)
	}
	if v.IsSet(KeyDatasetSelect) {
		cfg.Dataset.Select = v.GetString(KeyDatasetSelect)
	}
	if v.IsSet(KeyStages) {
		stages, err := ParseStages(v.GetString(KeyStages))
		if err != nil {
			return fmt.Errorf("--stages: %w", err)
		}
		cfg.Scenario.Stages = stages
	}
	if v.IsSet(KeyStartVUs) {
		cfg.Scenario.StartVUs = v.GetInt(KeyStartVUs)
	}
	if v.IsSet(KeyLogLevel) {
		cfg.Log.Level = v.GetString(KeyLogLevel)
	}
	if v.IsSet(KeyLogFormat) {
		cfg.Log.Format = v.GetString(KeyLogFormat)
	}
	if v.IsSet(KeyMetricsAddress) {
		cfg.Metrics.Address = v.GetString(KeyMetricsAddress)
	}
	return nil
}

// LoadConfig loads a test configuration from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data, path)
}

// ParseConfig parses configuration data. Unknown fields are rejected so
// typos surface at startup.
//
// The format is determined by the file extension in path, or defaults to YAML
// if the path is empty or has an unknown extension.
func ParseConfig(data []byte, path string) (*TestConfig, error) {
	var config TestConfig

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	return &config, nil
}

// ParseStages parses the compact "duration:target" list used on the
// command line, e.g. "30s:10,1m:10,10s:0".
func ParseStages(s string) ([]StageConfig, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	stages := make([]StageConfig, 0, len(parts))
	for i, part := range parts {
		durStr, targetStr, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("stage %d: expected duration:target, got %q", i, part)
		}
		dur, err := ParseDuration(durStr)
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", i, err)
		}
		target, err := strconv.Atoi(strings.TrimSpace(targetStr))
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid target %q", i, targetStr)
		}
		stages = append(stages, StageConfig{Duration: Duration(dur), Target: StageTarget(target)})
	}
	return stages, nil
}
