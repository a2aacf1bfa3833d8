// Package logging configures the process-wide logrus logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/natefinch/lumberjack"
	log "github.com/sirupsen/logrus"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/conf"
)

// Setup applies level, format and output from cfg to the standard logger.
func Setup(cfg conf.Log) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if strings.EqualFold(cfg.Format, "text") {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&log.JSONFormatter{})
	}

	log.SetOutput(Writer(cfg))
	if err != nil {
		log.Warnf("unknown LOG_LEVEL %q, using info", cfg.Level)
	}
}

// Writer returns stdout, or stdout plus a rotating file when cfg.File is set.
func Writer(cfg conf.Log) io.Writer {
	if cfg.File == "" {
		return os.Stdout
	}
	return io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     28,
		Compress:   true,
	})
}

// Redact shortens a credential-bearing value such as an upload session URL.
func Redact(s string) string {
	const keep = 32
	if len(s) <= keep {
		return s
	}
	return s[:keep] + "..."
}
