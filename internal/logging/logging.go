package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config describes logger runtime configuration.
type Config struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	TimeFormat string `mapstructure:"time_format"`
	Caller     bool   `mapstructure:"caller"`
	// PrettyPrint forces the console writer even when Format is json.
	PrettyPrint bool `mapstructure:"pretty"`
	// Output is stdout, stderr (default) or a file path opened in append mode.
	Output string `mapstructure:"output"`
}

// NewLogger constructs a zerolog logger from config. When the output file cannot be
// opened the logger falls back to stderr and says so.
func NewLogger(cfg Config) zerolog.Logger {
	out, openErr := openOutput(cfg.Output)
	logger := newLogger(cfg, out)
	if openErr != nil {
		logger.Warn().Err(openErr).Str("output", cfg.Output).Msg("log file unavailable, using stderr")
	}
	return logger
}

func newLogger(cfg Config, out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	ctx := zerolog.New(writerFor(cfg, out)).Level(level).With().Timestamp()
	if cfg.Caller {
		ctx = ctx.Caller()
	}
	return ctx.Logger()
}

// Reports go to stdout, so logs default to stderr and never interleave with them.
func openOutput(name string) (io.Writer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "stdout":
		return os.Stdout, nil
	case "", "stderr":
		return os.Stderr, nil
	}

	if dir := filepath.Dir(name); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return os.Stderr, err
		}
	}
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return os.Stderr, err
	}
	return f, nil
}

func writerFor(cfg Config, out io.Writer) io.Writer {
	if !cfg.PrettyPrint && !strings.EqualFold(cfg.Format, "console") {
		return out
	}
	_, isFile := out.(*os.File)
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: zerolog.TimeFieldFormat,
		NoColor:    isFile && out != os.Stdout && out != os.Stderr,
	}
}
