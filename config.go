//////////////////////////////////////////////////////////////////////////////
//
// Config contains configuration data for Plugin
//
// Copyright 2019 Lanikai Labs. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package memorymap

import (
	"os"
	"strings"
	"time"

	errors "golang.org/x/xerrors"
	"gopkg.in/yaml.v3"
)

// Names of the queue and segments are derived from this.
const DefaultNamespace = "org.risky-safety.frei0r.memorymap"

type Config struct {
	// Prefix shared by the notification queue and every segment name.
	Namespace string `yaml:"namespace"`

	// Number of descriptors the notification queue holds before sends fail.
	QueueCapacity int `yaml:"queue_capacity"`

	// How long to wait for the processor to pick up a frame.
	AckTimeout time.Duration `yaml:"ack_timeout"`

	// How long to wait, after the pick-up, for the transformed frame.
	ResponseTimeout time.Duration `yaml:"response_timeout"`

	// Receives a report of every exchange. Optional.
	Observer Observer `yaml:"-"`
}

func DefaultConfig() Config {
	return Config{
		Namespace:       DefaultNamespace,
		QueueCapacity:   10,
		AckTimeout:      1 * time.Second,
		ResponseTimeout: 3 * time.Second,
	}
}

// QueueName is the well-known name of the notification queue.
func (c Config) QueueName() string {
	return "/" + c.Namespace + ".mq"
}

func (c Config) Validate() error {
	switch {
	case c.Namespace == "" || strings.ContainsAny(c.Namespace, "/\x00"):
		return errors.Errorf("invalid namespace %q", c.Namespace)
	case c.QueueCapacity < 1:
		return errors.Errorf("queue capacity must be positive, got %d", c.QueueCapacity)
	case c.AckTimeout <= 0 || c.ResponseTimeout <= 0:
		return errors.Errorf("timeouts must be positive, got ack %v, response %v", c.AckTimeout, c.ResponseTimeout)
	}
	return nil
}

// LoadConfig reads a YAML file over the defaults. Durations are written as
// Go duration strings, e.g. "1500ms".
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}
