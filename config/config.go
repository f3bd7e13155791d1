package config

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/trace-engine/errors"
)

// Engine modes.
const (
	ModeSQLite = "sqlite" // in-process SQLite processor
	ModeWasm   = "wasm"   // WebAssembly engine inside wazero
	ModeRemote = "remote" // backend over a websocket
)

// Config is the tpq configuration file.
type Config struct {
	Engine  Engine  `yaml:"engine"`
	Backend Backend `yaml:"backend"`
	Server  Server  `yaml:"server"`
	Log     Log     `yaml:"log"`
}

// Engine selects and tunes the engine's backend.
type Engine struct {
	// Mode is one of sqlite, wasm and remote.
	Mode string `yaml:"mode"`

	// Wasm is the path of the engine module in wasm mode.
	Wasm string `yaml:"wasm"`

	// CacheDir keeps compiled wasm between runs. Empty disables it.
	CacheDir string `yaml:"cache_dir"`

	// RemoteURL is the websocket address in remote mode.
	RemoteURL string `yaml:"remote_url"`

	BufferSize       uint32 `yaml:"buffer_size"`
	MemoryLimitPages uint32 `yaml:"memory_limit_pages"`
	LogLines         int    `yaml:"log_lines"`
	MaxMessageSize   int    `yaml:"max_message_size"`

	// LoadChunkSize is the size of the chunks a trace is sent in.
	LoadChunkSize int `yaml:"load_chunk_size"`
}

// Backend tunes the SQLite processor.
type Backend struct {
	BatchCells int `yaml:"batch_cells"`

	// Database is the SQLite file. Empty keeps it in memory.
	Database string `yaml:"database"`
}

// Server configures tpq serve.
type Server struct {
	Listen         string   `yaml:"listen"`
	Path           string   `yaml:"path"`
	OriginPatterns []string `yaml:"origin_patterns"`
}

// Log configures the zap logger.
type Log struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Engine: Engine{
			Mode:          ModeSQLite,
			BufferSize:    32 << 20,
			LogLines:      512,
			LoadChunkSize: 1 << 20,
		},
		Backend: Backend{BatchCells: 50000},
		Server:  Server{Listen: "127.0.0.1:9001", Path: "/rpc"},
		Log:     Log{Level: "info"},
	}
}

// Load reads the file at path over the defaults. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Load("read "+path, err)
	}
	if err := Parse(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg and validates the result. Keys missing from
// data keep their current value.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.Load("parse config", err)
	}
	return cfg.Validate()
}

// Validate checks that the settings fit together.
func (c *Config) Validate() error {
	c.Engine.Mode = strings.ToLower(c.Engine.Mode)
	switch c.Engine.Mode {
	case ModeSQLite:
	case ModeWasm:
		if c.Engine.Wasm == "" {
			return errors.Load("engine.wasm is required in wasm mode", nil)
		}
	case ModeRemote:
		if c.Engine.RemoteURL == "" {
			return errors.Load("engine.remote_url is required in remote mode", nil)
		}
	default:
		return errors.Load("unknown engine.mode "+c.Engine.Mode, nil)
	}
	if _, err := zap.ParseAtomicLevel(c.Log.Level); err != nil {
		return errors.Load("log.level", err)
	}
	return nil
}

// Build creates the logger described by l.
func (l Log) Build() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if l.Development {
		cfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(l.Level)
	if err != nil {
		return nil, errors.Load("log.level", err)
	}
	cfg.Level = level
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}
