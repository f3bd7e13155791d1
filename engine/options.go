package engine

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/trace-engine/framing"
	"github.com/wippyai/trace-engine/wire"
)

// Mode says where the backend runs.
type Mode string

const (
	ModeEmbedded Mode = "embedded"
	ModeRemote   Mode = "remote"
)

// Identity describes an engine instance.
type Identity struct {
	Failed error // permanent failure, nil while healthy
	Mode   Mode
	ID     string
}

// Options configures an Engine.
type Options struct {
	// Logger defaults to the package logger.
	Logger *zap.Logger

	// OnChange is called after every response is processed and after a
	// permanent failure. It runs on the engine's receive goroutine and must
	// not block.
	OnChange func()

	// OnFailure is called once when the engine fails permanently.
	OnFailure func(err error)

	// ID identifies the instance in logs. A random UUID is used if empty.
	ID string

	Mode Mode

	// MaxMessageSize bounds inbound messages. 0 means
	// framing.DefaultMaxMessageSize.
	MaxMessageSize int
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = Logger()
	}
	if o.Mode == "" {
		o.Mode = ModeEmbedded
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = framing.DefaultMaxMessageSize
	}
	return o
}

// ResetConfig holds the options a backend is recreated with.
type ResetConfig = wire.ResetArgs

// SQLPackage is a named set of SQL modules made available to INCLUDE.
type SQLPackage = wire.RegisterSQLPackageArgs

// Status describes the backend an engine talks to.
type Status = wire.StatusResult
