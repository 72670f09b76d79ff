// Package config resolves settings from defaults, an optional YAML file and
// CLASSIFIER_* environment variables, in that order. Command-line flags are
// applied on top by the CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Brownie44l1/car-classifier/internal/domain"
	"github.com/Brownie44l1/car-classifier/internal/logging"
)

const envPrefix = "CLASSIFIER_"

const (
	BackendBorn = "born"
	BackendONNX = "onnx"
)

type Config struct {
	Dataset string         `yaml:"dataset"`
	Model   ModelConfig    `yaml:"model"`
	Train   TrainConfig    `yaml:"train"`
	Server  ServerConfig   `yaml:"server"`
	Log     logging.Config `yaml:"log"`
}

type ModelConfig struct {
	Weights string `yaml:"weights"`
	Classes string `yaml:"classes"`
	// URL is fetched into Weights when the file is missing.
	URL        string `yaml:"url"`
	ClassesURL string `yaml:"classes_url"`
	Backbone   string `yaml:"backbone"`
	Backend    string `yaml:"backend"`
	ONNXModel  string `yaml:"onnx_model"`
	ONNXLib    string `yaml:"onnx_library"`
}

type TrainConfig struct {
	BatchSize      int     `yaml:"batch_size"`
	Epochs         int     `yaml:"epochs"`
	LearningRate   float64 `yaml:"learning_rate"`
	Seed           uint64  `yaml:"seed"`
	Workers        int     `yaml:"workers"`
	ExportBackbone string  `yaml:"export_backbone"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	CacheSize       int           `yaml:"cache_size"`
	MaxUploadMB     int           `yaml:"max_upload_mb"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

func Default() Config {
	return Config{
		Dataset: "dataset",
		Model: ModelConfig{
			Weights:   "model.born",
			Classes:   "classes.txt",
			Backend:   BackendBorn,
			ONNXModel: "model.onnx",
		},
		Train: TrainConfig{
			BatchSize:    16,
			Epochs:       5,
			LearningRate: 1e-4,
		},
		Server: ServerConfig{
			Port:            "8080",
			CacheSize:       128,
			MaxUploadMB:     10,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: logging.Config{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  50,
			MaxBackups: 3,
		},
	}
}

// Load reads defaults, then path (when non-empty), then the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, domain.WrapError(domain.ErrConfiguration, "read config", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, domain.WrapError(domain.ErrConfiguration, "parse config "+path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Dataset = mustEnv("DATASET", c.Dataset)

	c.Model.Weights = mustEnv("MODEL_PATH", c.Model.Weights)
	c.Model.Classes = mustEnv("CLASSES_PATH", c.Model.Classes)
	c.Model.URL = mustEnv("MODEL_URL", c.Model.URL)
	c.Model.ClassesURL = mustEnv("CLASSES_URL", c.Model.ClassesURL)
	c.Model.Backbone = mustEnv("BACKBONE_PATH", c.Model.Backbone)
	c.Model.Backend = mustEnv("BACKEND", c.Model.Backend)
	c.Model.ONNXModel = mustEnv("ONNX_MODEL", c.Model.ONNXModel)
	c.Model.ONNXLib = mustEnv("ONNX_LIBRARY", c.Model.ONNXLib)

	c.Train.BatchSize = mustEnvInt("BATCH_SIZE", c.Train.BatchSize)
	c.Train.Epochs = mustEnvInt("EPOCHS", c.Train.Epochs)
	c.Train.LearningRate = mustEnvFloat("LEARNING_RATE", c.Train.LearningRate)
	c.Train.Seed = uint64(mustEnvInt("SEED", int(c.Train.Seed)))
	c.Train.Workers = mustEnvInt("WORKERS", c.Train.Workers)

	// PORT is honored unprefixed for container platforms.
	if port := os.Getenv("PORT"); port != "" {
		c.Server.Port = port
	}
	c.Server.Port = mustEnv("PORT", c.Server.Port)
	c.Server.CacheSize = mustEnvInt("CACHE_SIZE", c.Server.CacheSize)
	c.Server.MaxUploadMB = mustEnvInt("MAX_UPLOAD_MB", c.Server.MaxUploadMB)

	c.Log.Level = mustEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = mustEnv("LOG_FORMAT", c.Log.Format)
	c.Log.File = mustEnv("LOG_FILE", c.Log.File)
}

// Validate reports the first invalid setting as a configuration error.
func (c Config) Validate() error {
	var problems []string
	if c.Train.BatchSize <= 0 {
		problems = append(problems, fmt.Sprintf("batch size must be positive, got %d", c.Train.BatchSize))
	}
	if c.Train.Epochs <= 0 {
		problems = append(problems, fmt.Sprintf("epochs must be positive, got %d", c.Train.Epochs))
	}
	if c.Train.LearningRate <= 0 {
		problems = append(problems, fmt.Sprintf("learning rate must be positive, got %g", c.Train.LearningRate))
	}
	if c.Model.Weights == "" || c.Model.Classes == "" {
		problems = append(problems, "model weights and classes paths are required")
	}
	switch c.Model.Backend {
	case BackendBorn, BackendONNX:
	default:
		problems = append(problems, fmt.Sprintf("unknown backend %q", c.Model.Backend))
	}
	if c.Server.CacheSize < 0 {
		problems = append(problems, fmt.Sprintf("cache size must not be negative, got %d", c.Server.CacheSize))
	}
	if c.Server.MaxUploadMB <= 0 {
		problems = append(problems, fmt.Sprintf("max upload must be positive, got %d MB", c.Server.MaxUploadMB))
	}
	if len(problems) > 0 {
		return domain.WrapError(domain.ErrConfiguration, "validate config", errors.New(strings.Join(problems, "; ")))
	}
	return nil
}

func mustEnv(key, fallback string) string {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return fallback
	}
	return v
}

func mustEnvInt(key string, fallback int) int {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func mustEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(envPrefix + key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
