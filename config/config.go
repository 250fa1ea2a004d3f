// Package config loads the decoder preferences from a TOML file.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/mdzio/go-logging"

	"github.com/mdzio/go-rbus/msgpack"
	"github.com/mdzio/go-rbus/rtmsg"
)

var log = logging.Get("rbus-config")

// ErrInvalid is wrapped by all validation errors.
var ErrInvalid = errors.New("Invalid configuration")

// Config holds the decoder preferences.
type Config struct {
	// TCPPort is the port of the RBus router.
	TCPPort int `toml:"tcp_port"`
	// SocketPath is the Unix socket of the RBus router.
	SocketPath  string `toml:"socket_path"`
	DepthLimit  int    `toml:"depth_limit"`
	ObjectLimit int    `toml:"object_limit"`
	// Heuristic enables the heuristic dissector for unknown ports.
	Heuristic bool `toml:"heuristic"`
	// Workers is the number of concurrent dissectors; 0 selects the number
	// of CPUs.
	Workers  int    `toml:"workers"`
	LogLevel string `toml:"log_level"`
}

// Default returns the default preferences.
func Default() *Config {
	return &Config{
		TCPPort:     rtmsg.DefaultTCPPort,
		SocketPath:  rtmsg.DefaultSocketPath,
		DepthLimit:  msgpack.DefaultMaxDepth,
		ObjectLimit: msgpack.DefaultMaxObjects,
		Heuristic:   true,
		LogLevel:    "info",
	}
}

// Load reads the preferences from a file. Keys missing in the file keep their
// default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("Reading configuration %s failed: %w", path, err)
	}
	return Parse(string(data))
}

// Parse reads the preferences from TOML text.
func Parse(text string) (*Config, error) {
	cfg := Default()
	md, err := toml.Decode(text, cfg)
	if err != nil {
		return nil, fmt.Errorf("Parsing configuration failed: %w", err)
	}
	for _, k := range md.Undecoded() {
		log.Warningf("Unknown configuration key: %s", k)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the value ranges.
func (c *Config) Validate() error {
	switch {
	case c.TCPPort < 1 || c.TCPPort > 65535:
		return fmt.Errorf("%w: tcp_port %d out of range", ErrInvalid, c.TCPPort)
	case c.DepthLimit < 1:
		return fmt.Errorf("%w: depth_limit must be positive", ErrInvalid)
	case c.ObjectLimit < 1:
		return fmt.Errorf("%w: object_limit must be positive", ErrInvalid)
	case c.Workers < 0:
		return fmt.Errorf("%w: workers must not be negative", ErrInvalid)
	}
	var l logging.LogLevel
	if err := l.Set(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level %q", ErrInvalid, c.LogLevel)
	}
	return nil
}

// Limits returns the MessagePack decoding limits.
func (c *Config) Limits() msgpack.Limits {
	return msgpack.Limits{MaxDepth: c.DepthLimit, MaxObjects: c.ObjectLimit}
}

// Level returns the configured log level. Validate must have succeeded.
func (c *Config) Level() logging.LogLevel {
	var l logging.LogLevel
	_ = l.Set(c.LogLevel)
	return l
}

// Write stores the preferences as TOML.
func (c *Config) Write(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("Creating configuration %s failed: %w", path, err)
	}
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		f.Close()
		return fmt.Errorf("Writing configuration %s failed: %w", path, err)
	}
	return f.Close()
}
