// Package logging builds the healerd zap logger.
//
// Logs go to stdout (JSON or console encoding), or to stderr in MCP stdio
// mode where the protocol owns stdout. When an OpenTelemetry log provider is
// available and enabled, the same entries are bridged to OTLP through otelzap
// so log records correlate with traces.
package logging

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fixpointlabs/healerd/internal/config"
)

// New creates a logger from config. otelProvider can be nil to disable the
// OTLP bridge regardless of cfg.OTEL.
func New(cfg config.LoggingConfig, otelProvider log.LoggerProvider) (*zap.Logger, error) {
	return newLogger(cfg, zapcore.AddSync(os.Stdout), otelProvider)
}

// NewStderr is New with entries written to stderr. The MCP stdio transport
// owns stdout, so the daemon logs to stderr in --mcp mode.
func NewStderr(cfg config.LoggingConfig, otelProvider log.LoggerProvider) (*zap.Logger, error) {
	return newLogger(cfg, zapcore.AddSync(os.Stderr), otelProvider)
}

func newLogger(cfg config.LoggingConfig, sink zapcore.WriteSyncer, otelProvider log.LoggerProvider) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	cores := make([]zapcore.Core, 0, 2)
	cores = append(cores, zapcore.NewCore(newEncoder(cfg.Format), sink, level))

	if cfg.OTEL && otelProvider != nil {
		cores = append(cores, otelzap.NewCore("healerd",
			otelzap.WithLoggerProvider(otelProvider),
		))
	}

	core := cores[0]
	if len(cores) > 1 {
		core = zapcore.NewTee(cores...)
	}

	return zap.New(core, zap.AddCaller()), nil
}

// newEncoder creates a JSON or console encoder.
func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if format == "console" {
		return zapcore.NewConsoleEncoder(encoderCfg)
	}
	return zapcore.NewJSONEncoder(encoderCfg)
}

// Sync flushes buffered entries. Sync errors on stdout/stderr (EINVAL or
// ENOTTY on Linux) are harmless and ignored.
func Sync(l *zap.Logger) error {
	err := l.Sync()
	if err != nil && isStdoutSyncError(err) {
		return nil
	}
	return err
}

func isStdoutSyncError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EINVAL || errno == syscall.ENOTTY
	}
	return false
}
