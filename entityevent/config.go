package entityevent

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// AsynchronousEnabled lets Publish defer events with a priority below IMMEDIATE to the worker pool.
	AsynchronousEnabled bool `yaml:"asynchronousEnabled"`
	// DisabledProcessors are processor names that are skipped unless they are not disableable.
	DisabledProcessors []string      `yaml:"disabledProcessors"`
	Workers            int           `yaml:"workers"`
	BatchSize          int           `yaml:"batchSize"`
	PollInterval       time.Duration `yaml:"pollInterval"`
	Retry              RetryPolicy   `yaml:"retry"`
}

func DefaultConfig() Config {
	return Config{
		AsynchronousEnabled: false,
		DisabledProcessors:  []string{},
		Workers:             4,
		BatchSize:           100,
		PollInterval:        10 * time.Second,
		Retry:               DefaultRetryPolicy(),
	}
}

// ConfigFromYAML reads a configuration document on top of DefaultConfig: absent keys keep their
// default. Durations are written like "30s".
func ConfigFromYAML(r io.Reader) (Config, error) {
	config := DefaultConfig()
	err := yaml.NewDecoder(r).Decode(&config)
	if err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("error decoding event configuration: %w", err)
	}
	if config.DisabledProcessors == nil {
		config.DisabledProcessors = []string{}
	}
	return config, nil
}

// ConfigFromFile is ConfigFromYAML for the file at path.
func ConfigFromFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("error opening event configuration %s: %w", path, err)
	}
	defer f.Close()

	return ConfigFromYAML(f)
}

// ConfigFromEnvironment starts from DefaultConfig and overrides what is set in the environment.
func ConfigFromEnvironment() Config {
	return DefaultConfig().WithEnvironment()
}

// WithEnvironment overrides what is set in the environment. Values that cannot be parsed are ignored.
func (config Config) WithEnvironment() Config {
	config.DisabledProcessors = append([]string{}, config.DisabledProcessors...)

	if value := os.Getenv("EVENT_ASYNCHRONOUS_ENABLED"); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err == nil {
			config.AsynchronousEnabled = enabled
		}
	}
	if value := os.Getenv("EVENT_DISABLED_PROCESSORS"); value != "" {
		for _, name := range strings.Split(value, ",") {
			name = strings.TrimSpace(name)
			if name != "" {
				config.DisabledProcessors = append(config.DisabledProcessors, name)
			}
		}
	}
	if value, ok := positiveIntFromEnvironment("EVENT_WORKERS"); ok {
		config.Workers = value
	}
	if value, ok := positiveIntFromEnvironment("EVENT_BATCH_SIZE"); ok {
		config.BatchSize = value
	}
	if value := os.Getenv("EVENT_POLL_INTERVAL"); value != "" {
		interval, err := time.ParseDuration(value)
		if err == nil && interval > 0 {
			config.PollInterval = interval
		}
	}
	if value, ok := positiveIntFromEnvironment("EVENT_RETRY_MAX_ATTEMPTS"); ok {
		config.Retry.MaxAttempts = value
	}

	return config
}

func positiveIntFromEnvironment(name string) (int, bool) {
	value, err := strconv.Atoi(os.Getenv(name))
	if err != nil || value <= 0 {
		return 0, false
	}
	return value, true
}
