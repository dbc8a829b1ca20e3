// Package logging provides the default e84.Logger implementation, backed by
// zerolog for structured JSON output and lumberjack for size/time rotation.
// This is the only package in the module that imports a concrete logging
// library — every other package depends on the e84.Logger interface, never
// on this one.
package logging

import (
	"errors"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	e84 "github.com/semiline/e84bridge"
)

// FileConfig controls the rotating file sink. Defaults mirror SPEC_FULL.md
// §6: 10 MB rotation, one week retention, compressed.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxAgeDays int
	Compress   bool
}

// DefaultFileConfig returns the documented default rotation policy writing
// to e84-controller.log in the working directory.
func DefaultFileConfig() FileConfig {
	return FileConfig{
		Path:       "e84-controller.log",
		MaxSizeMB:  10,
		MaxAgeDays: 7,
		Compress:   true,
	}
}

// Sink is the zerolog-backed e84.Logger implementation. It writes
// colorized, human-readable lines to stderr and structured JSON lines to a
// rotating file, the same dual-destination policy as the system this
// controller was distilled from.
type Sink struct {
	logger zerolog.Logger
}

// New builds a Sink at the given level ("DEBUG", "INFO", "WARNING", "ERROR",
// "CRITICAL" per spec §6's --log-level flag) writing to both stderr and the
// rotating file described by fc. Pass a zero FileConfig to disable the file
// sink (stderr only), which is useful for tests.
func New(level string, fc FileConfig) (*Sink, error) {
	zlvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05.000"}

	var w io.Writer = console
	if fc.Path != "" {
		file := &lumberjack.Logger{
			Filename: fc.Path,
			MaxSize:  fc.MaxSizeMB,
			MaxAge:   fc.MaxAgeDays,
			Compress: fc.Compress,
		}
		w = zerolog.MultiLevelWriter(console, file)
	}

	logger := zerolog.New(w).Level(zlvl).With().Timestamp().Logger()
	return &Sink{logger: logger}, nil
}

func parseLevel(level string) (zerolog.Level, error) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zerolog.DebugLevel, nil
	case "INFO", "":
		return zerolog.InfoLevel, nil
	case "WARNING", "WARN":
		return zerolog.WarnLevel, nil
	case "ERROR":
		return zerolog.ErrorLevel, nil
	case "CRITICAL", "FATAL":
		return zerolog.FatalLevel, nil
	default:
		return zerolog.InfoLevel, errors.New("logging: unknown log level " + level)
	}
}

func (s *Sink) Debug(msg string, fields ...e84.Field) { s.log(s.logger.Debug(), msg, fields) }
func (s *Sink) Info(msg string, fields ...e84.Field)  { s.log(s.logger.Info(), msg, fields) }
func (s *Sink) Warn(msg string, fields ...e84.Field)  { s.log(s.logger.Warn(), msg, fields) }
func (s *Sink) Error(msg string, fields ...e84.Field) { s.log(s.logger.Error(), msg, fields) }

func (s *Sink) log(ev *zerolog.Event, msg string, fields []e84.Field) {
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			ev = ev.Str(f.Key, v)
		case bool:
			ev = ev.Bool(f.Key, v)
		case int:
			ev = ev.Int(f.Key, v)
		case error:
			ev = ev.AnErr(f.Key, v)
		default:
			ev = ev.Interface(f.Key, v)
		}
	}
	ev.Msg(msg)
}
