package main

import (
	"context"
	"os"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/trace-engine/backend"
	"github.com/wippyai/trace-engine/backend/sqlite"
	"github.com/wippyai/trace-engine/bridge"
	"github.com/wippyai/trace-engine/config"
	"github.com/wippyai/trace-engine/engine"
	"github.com/wippyai/trace-engine/errors"
	"github.com/wippyai/trace-engine/framing"
	"github.com/wippyai/trace-engine/remote"
	"github.com/wippyai/trace-engine/transport"
)

// session is an engine together with what its transport depends on.
type session struct {
	eng     *engine.Engine
	log     *zap.Logger
	cfg     *config.Config
	closers []func() error
}

// openSession builds the engine the config asks for.
func openSession(ctx context.Context, cfg *config.Config, log *zap.Logger) (*session, error) {
	s := &session{log: log, cfg: cfg}
	t, mode, err := s.transport(ctx)
	if err != nil {
		s.release()
		return nil, err
	}

	eng, err := engine.New(ctx, t, engine.Options{
		Logger:         log,
		Mode:           mode,
		MaxMessageSize: cfg.Engine.MaxMessageSize,
		OnFailure: func(err error) {
			log.Error("engine failed", zap.Error(err))
		},
	})
	if err != nil {
		_ = t.Close(ctx)
		s.release()
		return nil, err
	}
	s.eng = eng
	log.Debug("engine ready", zap.String("mode", cfg.Engine.Mode), zap.String("id", eng.Identity().ID))
	return s, nil
}

func (s *session) transport(ctx context.Context) (transport.Transport, engine.Mode, error) {
	cfg := s.cfg
	switch cfg.Engine.Mode {
	case config.ModeSQLite:
		proc, err := sqlite.Open(ctx, sqlite.Options{Logger: s.log, Path: cfg.Backend.Database})
		if err != nil {
			return nil, "", err
		}
		s.closers = append(s.closers, proc.Close)
		lb := backend.NewLoopback(proc, backend.Options{
			Logger:         s.log,
			BatchCells:     cfg.Backend.BatchCells,
			MaxMessageSize: cfg.Engine.MaxMessageSize,
		})
		return lb, engine.ModeEmbedded, nil

	case config.ModeWasm:
		data, err := os.ReadFile(cfg.Engine.Wasm)
		if err != nil {
			return nil, "", errors.Load("read "+cfg.Engine.Wasm, err)
		}
		b, err := bridge.New(ctx, data, bridge.Config{
			Logger:           s.log,
			CacheDir:         cfg.Engine.CacheDir,
			BufferSize:       cfg.Engine.BufferSize,
			MemoryLimitPages: cfg.Engine.MemoryLimitPages,
			LogLines:         cfg.Engine.LogLines,
		})
		if err != nil {
			return nil, "", err
		}
		return b, engine.ModeEmbedded, nil

	case config.ModeRemote:
		opts := remote.Options{Logger: s.log}
		if cfg.Engine.MaxMessageSize > 0 {
			opts.ReadLimit = int64(cfg.Engine.MaxMessageSize) + framing.MaxHeaderSize
		}
		c, err := remote.Dial(ctx, cfg.Engine.RemoteURL, opts)
		if err != nil {
			return nil, "", err
		}
		return c, engine.ModeRemote, nil
	}
	return nil, "", errors.InvalidInput(errors.PhaseConfig, "unknown engine mode "+cfg.Engine.Mode)
}

// loadTrace streams the file at path into the engine.
func (s *session) loadTrace(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Load("open "+path, err)
	}
	defer f.Close()

	n, err := s.eng.LoadTrace(ctx, f, s.cfg.Engine.LoadChunkSize)
	if err != nil {
		return err
	}
	s.log.Info("trace loaded", zap.String("path", path), zap.Int64("bytes", n))
	return nil
}

func (s *session) release() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
	s.closers = nil
}

// Close shuts the engine and then what it depended on.
func (s *session) Close(ctx context.Context) error {
	err := s.eng.Close(ctx)
	for i := len(s.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, s.closers[i]())
	}
	s.closers = nil
	return err
}
