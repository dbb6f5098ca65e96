package pkg

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Fields is a map of fields to add to log entries
type Fields map[string]any

type ctxKey string

// RequestIDKey carries the request identifier of an inbound or outbound RPC.
const RequestIDKey ctxKey = "request_id"

// zerolog's time format and caller depth are package globals, set once.
var (
	timeFormatOnce sync.Once
	callerSkipOnce sync.Once
)

// Logger wraps zerolog with additional functionality
type Logger struct {
	*zerolog.Logger
	config  *Config
	fields  Fields
	closers []io.Closer
	mu      sync.RWMutex
}

// Config holds logger configuration.
type Config struct {
	Level           string // trace, debug, info, warn, error
	Format          string // console or json
	TimestampFormat string

	Console ConsoleConfig
	File    FileConfig

	// Output replaces the console target, tests log into a buffer
	Output io.Writer

	// Fields are attached to every entry
	Fields Fields

	EnableCaller         bool
	CallerSkipFrameCount int

	// AsyncWrite puts a diode in front of the writers so a slow disk never
	// stalls the stabilization loop. BufferSize is in messages.
	AsyncWrite bool
	BufferSize int
}

// ConsoleConfig selects the terminal output.
type ConsoleConfig struct {
	Enable     bool
	NoColor    bool
	TimeFormat string
	Output     string // stdout or stderr
}

// FileConfig describes the rotated log file.
type FileConfig struct {
	Enable     bool
	Path       string
	MaxSize    int // megabytes
	MaxAge     int // days
	MaxBackups int
	LocalTime  bool
	Compress   bool
}

// DefaultConfig logs info and above to stderr in console format.
func DefaultConfig() *Config {
	return &Config{
		Level:           "info",
		Format:          "console",
		TimestampFormat: time.RFC3339Nano,
		Console: ConsoleConfig{
			Enable:     true,
			TimeFormat: "15:04:05.000",
			Output:     "stderr",
		},
		File: FileConfig{
			Path:       "chordfs.log",
			MaxSize:    100,
			MaxAge:     30,
			MaxBackups: 10,
			LocalTime:  true,
			Compress:   true,
		},
		Fields:               make(Fields),
		CallerSkipFrameCount: 2,
		BufferSize:           10000,
	}
}

func consoleWriter(cfg *Config) io.Writer {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
		if cfg.Console.Output == "stdout" {
			out = os.Stdout
		}
	}
	if cfg.Format != "console" {
		return out
	}
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: cfg.Console.TimeFormat,
		NoColor:    cfg.Console.NoColor || cfg.Output != nil,
	}
}

func fileWriter(cfg FileConfig) (*lumberjack.Logger, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("log file path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxAge,
		MaxBackups: cfg.MaxBackups,
		LocalTime:  cfg.LocalTime,
		Compress:   cfg.Compress,
	}, nil
}

// New builds a logger from config; a nil config means DefaultConfig.
func New(config *Config) (*Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	level, err := zerolog.ParseLevel(config.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", config.Level, err)
	}

	var (
		writers []io.Writer
		closers []io.Closer
	)
	if config.Console.Enable || config.Output != nil {
		writers = append(writers, consoleWriter(config))
	}
	if config.File.Enable {
		fw, err := fileWriter(config.File)
		if err != nil {
			return nil, err
		}
		writers = append(writers, fw)
		closers = append(closers, fw)
	}

	var w io.Writer = io.Discard
	if len(writers) == 1 {
		w = writers[0]
	} else if len(writers) > 1 {
		w = zerolog.MultiLevelWriter(writers...)
	}

	if config.AsyncWrite {
		dw := diode.NewWriter(w, config.BufferSize, 10*time.Millisecond, func(missed int) {
			fmt.Fprintf(os.Stderr, "Logger dropped %d messages\n", missed)
		})
		w = dw
		// flush the diode before closing the file underneath it
		closers = append([]io.Closer{dw}, closers...)
	}

	if config.EnableCaller {
		callerSkipOnce.Do(func() { zerolog.CallerSkipFrameCount = config.CallerSkipFrameCount })
	}
	if config.TimestampFormat != "" {
		timeFormatOnce.Do(func() { zerolog.TimeFieldFormat = config.TimestampFormat })
	}

	zctx := zerolog.New(w).Level(level).With().Timestamp()
	if config.EnableCaller {
		zctx = zctx.Caller()
	}
	fields := make(Fields, len(config.Fields))
	for k, v := range config.Fields {
		zctx = zctx.Interface(k, v)
		fields[k] = v
	}

	zl := zctx.Logger()
	return &Logger{Logger: &zl, config: config, fields: fields, closers: closers}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	zl := zerolog.Nop()
	return &Logger{
		Logger: &zl,
		config: DefaultConfig(),
		fields: make(Fields),
	}
}

// WithFields creates a new logger with additional fields
func (l *Logger) WithFields(fields Fields) *Logger {
	l.mu.RLock()
	merged := make(Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	base := l.Logger
	l.mu.RUnlock()

	zctx := base.With()
	for k, v := range fields {
		merged[k] = v
		zctx = zctx.Interface(k, v)
	}

	zl := zctx.Logger()
	return &Logger{
		Logger: &zl,
		config: l.config,
		fields: merged,
	}
}

// WithContext creates a logger carrying the request ID found in ctx, if any
func (l *Logger) WithContext(ctx context.Context) *Logger {
	reqID, ok := ctx.Value(RequestIDKey).(string)
	if !ok || reqID == "" {
		return l
	}
	return l.WithFields(Fields{string(RequestIDKey): reqID})
}

// UpdateLevel updates the log level dynamically
func (l *Logger) UpdateLevel(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	newLogger := l.Logger.Level(lvl)
	l.Logger = &newLogger
	return nil
}

// Close flushes the async writer and closes the rotating file, if any
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	for _, c := range l.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.closers = nil
	return firstErr
}

// ContextWithRequestID attaches a request ID for WithContext to pick up.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// RequestIDFromContext returns the request ID attached to ctx.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(RequestIDKey).(string)
	return id, ok && id != ""
}
