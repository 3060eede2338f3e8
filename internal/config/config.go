package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.courier/config.toml plus per-session
// pipeline settings. Zero values are filled in by applyDefaults on Load.
type Config struct {
	DefaultSession string `toml:"default_session"`

	Identity Identity `toml:"identity"`
	Codec    Codec    `toml:"codec"`
	Chunking Chunking `toml:"chunking"`
	Queue    Queue    `toml:"queue"`
	Poll     Poll     `toml:"poll"`
	Rate     Rate     `toml:"rate"`
}

// Identity names the local user. The pipeline carries no ambient identity;
// everything that needs to know "who am I" receives it from here.
type Identity struct {
	UserID string `toml:"user_id"`
}

// Codec selects the content transform applied to payloads at rest.
type Codec struct {
	// Scheme is one of "identity", "secretbox", "box".
	Scheme string `toml:"scheme"`
	// Key is the hex-encoded 32-byte shared key (secretbox) or private key (box).
	Key string `toml:"key"`
	// Peers maps peer user ids to hex-encoded 32-byte public keys (box only).
	Peers map[string]string `toml:"peers"`
}

// Chunking controls splitting of oversized text payloads.
type Chunking struct {
	// Threshold is the content length above which a payload is fragmented.
	Threshold int `toml:"threshold"`
	// ChunkSize is the maximum fragment length.
	ChunkSize int `toml:"chunk_size"`
	// MaxContentLength is the hard cap; content beyond it is rejected outright.
	MaxContentLength int `toml:"max_content_length"`
}

// Queue controls the offline send queue.
type Queue struct {
	// MaxRetries is the per-entry attempt ceiling before the entry is dropped.
	MaxRetries int `toml:"max_retries"`
}

// Poll controls the conversation refresh scheduler.
type Poll struct {
	IntervalMS int `toml:"interval_ms"`
	JitterMS   int `toml:"jitter_ms"`
	// Watch lists peer user ids whose conversations the daemon keeps
	// refreshed on the poll schedule.
	Watch []string `toml:"watch"`
}

// Rate controls the outgoing send limiter.
type Rate struct {
	MessagesPerSecond float64 `toml:"messages_per_second"`
	Burst             int     `toml:"burst"`
}

// Default values applied when the corresponding field is unset.
const (
	DefaultChunkThreshold   = 1000
	DefaultChunkSize        = 800
	DefaultMaxContentLength = 65536
	DefaultMaxRetries       = 3
	DefaultPollInterval     = 3 * time.Second
	DefaultPollJitter       = 500 * time.Millisecond
	DefaultRatePerSecond    = 5.0
	DefaultRateBurst        = 10
)

// Load reads config from the given path and applies defaults.
// Returns zero config and error if the file is missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Default returns a config with all defaults applied and no identity.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Codec.Scheme == "" {
		c.Codec.Scheme = "identity"
	}
	if c.Chunking.Threshold <= 0 {
		c.Chunking.Threshold = DefaultChunkThreshold
	}
	if c.Chunking.ChunkSize <= 0 {
		c.Chunking.ChunkSize = DefaultChunkSize
	}
	if c.Chunking.MaxContentLength <= 0 {
		c.Chunking.MaxContentLength = DefaultMaxContentLength
	}
	if c.Queue.MaxRetries <= 0 {
		c.Queue.MaxRetries = DefaultMaxRetries
	}
	if c.Poll.IntervalMS <= 0 {
		c.Poll.IntervalMS = int(DefaultPollInterval / time.Millisecond)
	}
	if c.Poll.JitterMS <= 0 {
		c.Poll.JitterMS = int(DefaultPollJitter / time.Millisecond)
	}
	if c.Rate.MessagesPerSecond <= 0 {
		c.Rate.MessagesPerSecond = DefaultRatePerSecond
	}
	if c.Rate.Burst <= 0 {
		c.Rate.Burst = DefaultRateBurst
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.Codec.Scheme {
	case "identity", "secretbox", "box":
	default:
		return fmt.Errorf("unknown codec scheme %q", c.Codec.Scheme)
	}
	if c.Chunking.MaxContentLength < c.Chunking.Threshold {
		return fmt.Errorf("max_content_length %d below chunk threshold %d", c.Chunking.MaxContentLength, c.Chunking.Threshold)
	}
	return nil
}

// PollInterval returns the poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.IntervalMS) * time.Millisecond
}

// PollJitter returns the poll jitter as a duration.
func (c *Config) PollJitter() time.Duration {
	return time.Duration(c.Poll.JitterMS) * time.Millisecond
}
