package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/gryagbot/gryag/pkg/config"
)

// newLogger builds the process-wide zerolog.Logger from cfg.Log, mirroring
// the teacher's InitLogger (console writer + level parsing) but generalized
// to the config package's EnableConsole/EnableFile toggles and a
// lumberjack-backed rotating file writer instead of a single append-mode
// file handle, since LogSettings carries MaxBytes/BackupCount/RetentionDays
// that a plain os.OpenFile has no way to honor.
func newLogger(cfg config.LogSettings) zerolog.Logger {
	zerolog.TimeFieldFormat = "2006-01-02T15:04:05.000Z07:00"

	var writers []io.Writer
	if cfg.EnableConsole || (!cfg.EnableConsole && !cfg.EnableFile) {
		if strings.EqualFold(cfg.Format, "json") {
			writers = append(writers, os.Stderr)
		} else {
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
		}
	}
	if cfg.EnableFile && cfg.Dir != "" {
		_ = os.MkdirAll(cfg.Dir, 0o755)
		writers = append(writers, &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, "gryag.log"),
			MaxSize:    maxSizeMB(cfg.MaxBytes),
			MaxBackups: cfg.BackupCount,
			MaxAge:     cfg.RetentionDays,
			Compress:   true,
		})
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = os.Stderr
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}

	logger := zerolog.New(out).With().Timestamp().Logger()

	level := strings.ToLower(strings.TrimSpace(cfg.Level))
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return logger.Level(lvl)
}

// maxSizeMB converts LogSettings.MaxBytes to the megabyte units
// lumberjack.Logger.MaxSize expects, with a floor of 1MB so a zero/small
// config value doesn't disable rotation entirely.
func maxSizeMB(maxBytes int64) int {
	const mb = 1 << 20
	size := int(maxBytes / mb)
	if size < 1 {
		size = 1
	}
	return size
}
