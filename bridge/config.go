package bridge

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/zap"
)

const (
	// DefaultBufferSize is the size of the shared request buffer.
	DefaultBufferSize = 32 << 20

	// DefaultLogLines is how many lines of guest output are kept for
	// diagnostics.
	DefaultLogLines = 512
)

// Config holds configuration for bridge creation
type Config struct {
	// Logger receives guest stdout/stderr at debug level. Defaults to the
	// package logger.
	Logger *zap.Logger

	// CacheDir enables the wazero compilation cache in the given directory.
	// Empty means no cache.
	CacheDir string

	// BufferSize is the capacity of the shared buffer the guest allocates.
	// Outbound messages are submitted in chunks of at most this size.
	BufferSize uint32

	// MemoryLimitPages sets the maximum guest memory in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	MemoryLimitPages uint32

	// LogLines is the number of guest output lines attached to errors.
	LogLines int

	// EnableThreads enables the WebAssembly threads proposal (experimental),
	// needed by engines built with shared memory.
	EnableThreads bool
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = Logger()
	}
	if c.BufferSize == 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.LogLines <= 0 {
		c.LogLines = DefaultLogLines
	}
	return c
}

// newRuntime creates the wazero runtime the guest runs in.
func newRuntime(ctx context.Context, cfg Config) (wazero.Runtime, error) {
	runtimeCfg := wazero.NewRuntimeConfig()

	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	if cfg.EnableThreads {
		runtimeCfg = runtimeCfg.WithCoreFeatures(api.CoreFeaturesV2 | experimental.CoreFeaturesThreads)
	}
	if cfg.CacheDir != "" {
		cache, err := wazero.NewCompilationCacheWithDir(cfg.CacheDir)
		if err != nil {
			return nil, err
		}
		runtimeCfg = runtimeCfg.WithCompilationCache(cache)
	}

	return wazero.NewRuntimeWithConfig(ctx, runtimeCfg), nil
}
