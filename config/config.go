// Package config reads the service settings from the environment.
package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
)

const (
	DefaultAddr              = "127.0.0.1:8080"
	DefaultInputSize         = 640
	DefaultConfThreshold     = 0.35
	DefaultIouThreshold      = 0.45
	DefaultPoolSize          = 4
	DefaultPersistenceWindow = 2 * time.Second
	DefaultIdleTimeout       = 5 * time.Minute
)

type Config struct {
	Addr              string
	ModelPath         string
	LabelsPath        string
	OnnxLibPath       string
	InputSize         int
	ConfThreshold     float64
	IouThreshold      float64
	PoolSize          int
	PersistenceWindow time.Duration
	IdleTimeout       time.Duration
	RegistryPath      string
	AllowedOrigins    []string
	Debug             bool
}

func Default() Config {
	return Config{
		Addr:              DefaultAddr,
		InputSize:         DefaultInputSize,
		ConfThreshold:     DefaultConfThreshold,
		IouThreshold:      DefaultIouThreshold,
		PoolSize:          DefaultPoolSize,
		PersistenceWindow: DefaultPersistenceWindow,
		IdleTimeout:       DefaultIdleTimeout,
		AllowedOrigins:    []string{"*"},
	}
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from lookup, starting from Default. Unset and
// empty variables keep their defaults.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("ADDR"); ok {
		cfg.Addr = v
	}
	if v, ok := get("MODEL_PATH"); ok {
		cfg.ModelPath = v
	}
	if v, ok := get("LABELS_PATH"); ok {
		cfg.LabelsPath = v
	}
	if v, ok := get("ONNXRUNTIME_LIB"); ok {
		cfg.OnnxLibPath = v
	}
	if v, ok := get("REGISTRY_PATH"); ok {
		cfg.RegistryPath = v
	}
	if v, ok := get("ALLOWED_ORIGINS"); ok {
		cfg.AllowedOrigins = splitList(v)
	}

	var err error
	if v, ok := get("MODEL_INPUT_SIZE"); ok {
		if cfg.InputSize, err = cast.ToIntE(v); err != nil {
			return Config{}, fmt.Errorf("MODEL_INPUT_SIZE: %w", err)
		}
	}
	if v, ok := get("CONF_THRESHOLD"); ok {
		if cfg.ConfThreshold, err = cast.ToFloat64E(v); err != nil {
			return Config{}, fmt.Errorf("CONF_THRESHOLD: %w", err)
		}
	}
	if v, ok := get("IOU_THRESHOLD"); ok {
		if cfg.IouThreshold, err = cast.ToFloat64E(v); err != nil {
			return Config{}, fmt.Errorf("IOU_THRESHOLD: %w", err)
		}
	}
	if v, ok := get("POOL_SIZE"); ok {
		if cfg.PoolSize, err = cast.ToIntE(v); err != nil {
			return Config{}, fmt.Errorf("POOL_SIZE: %w", err)
		}
	}
	if v, ok := get("PERSISTENCE_WINDOW"); ok {
		if cfg.PersistenceWindow, err = cast.ToDurationE(v); err != nil {
			return Config{}, fmt.Errorf("PERSISTENCE_WINDOW: %w", err)
		}
	}
	if v, ok := get("SESSION_IDLE_TIMEOUT"); ok {
		if cfg.IdleTimeout, err = cast.ToDurationE(v); err != nil {
			return Config{}, fmt.Errorf("SESSION_IDLE_TIMEOUT: %w", err)
		}
	}
	if v, ok := get("DEBUG"); ok {
		if cfg.Debug, err = cast.ToBoolE(v); err != nil {
			return Config{}, fmt.Errorf("DEBUG: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("listen address is empty")
	}
	if math.IsNaN(c.ConfThreshold) || c.ConfThreshold < 0 || c.ConfThreshold > 1 {
		return fmt.Errorf("conf_threshold must be between 0 and 1, got %f", c.ConfThreshold)
	}
	if math.IsNaN(c.IouThreshold) || c.IouThreshold <= 0 || c.IouThreshold > 1 {
		return fmt.Errorf("iou_threshold must be in (0,1], got %f", c.IouThreshold)
	}
	if c.InputSize <= 0 || c.InputSize%32 != 0 {
		return fmt.Errorf("model_input_size must be a positive multiple of 32, got %d", c.InputSize)
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be positive, got %d", c.PoolSize)
	}
	if c.PersistenceWindow <= 0 {
		return fmt.Errorf("persistence_window must be positive, got %s", c.PersistenceWindow)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("session_idle_timeout must be positive, got %s", c.IdleTimeout)
	}
	return nil
}

// ModelEnabled reports whether image endpoints can run.
func (c Config) ModelEnabled() bool {
	return c.ModelPath != ""
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
