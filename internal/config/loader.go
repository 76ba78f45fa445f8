package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds pipeline parameters.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	// Status server listen address; empty disables the HTTP surface.
	Addr string `json:"addr" yaml:"addr" toml:"addr"`
	// Visible accelerator device index, exported as CUDA_VISIBLE_DEVICES.
	Device int `json:"device" yaml:"device" toml:"device"`

	Input    string `json:"input" yaml:"input" toml:"input"`
	Output   string `json:"output" yaml:"output" toml:"output"`
	ModelDir string `json:"model" yaml:"model" toml:"model"`

	GPUMemUtil  float64 `json:"gpu_mem_util" yaml:"gpu_mem_util" toml:"gpu_mem_util"`
	Temperature float64 `json:"temperature" yaml:"temperature" toml:"temperature"`
	TopP        float64 `json:"top_p" yaml:"top_p" toml:"top_p"`
	K           int     `json:"k" yaml:"k" toml:"k"`

	BatchSize   int  `json:"batch_size" yaml:"batch_size" toml:"batch_size"`
	MaxTokens   int  `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	MaxModelLen int  `json:"max_model_len" yaml:"max_model_len" toml:"max_model_len"`
	KeepRaw     bool `json:"keep_raw" yaml:"keep_raw" toml:"keep_raw"`

	// Engine selection: EngineURL attaches to a running OpenAI-compatible
	// server; otherwise EngineBin is spawned per run.
	EngineBin       string `json:"engine_bin" yaml:"engine_bin" toml:"engine_bin"`
	EngineURL       string `json:"engine_url" yaml:"engine_url" toml:"engine_url"`
	EngineHost      string `json:"engine_host" yaml:"engine_host" toml:"engine_host"`
	EnginePortStart int    `json:"engine_port_start" yaml:"engine_port_start" toml:"engine_port_start"`
	EnginePortEnd   int    `json:"engine_port_end" yaml:"engine_port_end" toml:"engine_port_end"`

	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
