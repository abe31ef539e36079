package subcache

import (
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the serializable part of Options.
//
//	initial_delay: 100ms
//	multiplier: 1.5
//	max_delay: 30s
//	auto_refetch: true
type Config struct {
	InitialDelay time.Duration `yaml:"initial_delay"`
	Multiplier   float64       `yaml:"multiplier"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	AutoRefetch  bool          `yaml:"auto_refetch"`
}

// LoadConfig decodes YAML. An empty document yields the zero Config (all defaults).
func LoadConfig(r io.Reader) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("subcache: decode config: %w", err)
	}
	return cfg, nil
}

// Options returns Options carrying cfg. Logger, Hooks and Tracer are left for the caller.
func (cfg Config) Options() Options {
	return Options{
		InitialDelay: cfg.InitialDelay,
		Multiplier:   cfg.Multiplier,
		MaxDelay:     cfg.MaxDelay,
		AutoRefetch:  cfg.AutoRefetch,
	}
}
