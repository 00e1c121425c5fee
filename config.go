package autotrace

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"github.com/zoobzio/clockz"
)

// Config holds runtime configuration. It can be decoded from TOML:
//
//	output = "trace.bin"
//	buffer_capacity = 16384
//	pool_size = 8
type Config struct {
	Output         string `toml:"output"`          // sink path
	BufferCapacity int    `toml:"buffer_capacity"` // default per-thread capacity
	PoolSize       int    `toml:"pool_size"`       // idle buffers kept for reuse
}

// DefaultConfig returns the configuration used for zero fields.
func DefaultConfig() Config {
	return Config{
		Output:         "trace.bin",
		BufferCapacity: DefaultBufferCapacity,
		PoolSize:       8,
	}
}

// LoadConfig reads a TOML file over DefaultConfig. Unknown keys are an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, fmt.Errorf("load config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BufferCapacity <= 0 {
		c.BufferCapacity = d.BufferCapacity
	}
	if c.PoolSize <= 0 {
		c.PoolSize = d.PoolSize
	}
	return c
}

// Option customizes a Runtime at Init.
type Option func(*options)

type options struct {
	clock  clockz.Clock
	logger zerolog.Logger
}

func newOptions(opts []Option) options {
	o := options{
		clock:  clockz.RealClock,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock sets the clock used for timestamps.
// Enables clock injection for deterministic testing.
func WithClock(clock clockz.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithLogger sets the logger for lifecycle and failure messages.
// The capture path never logs.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
