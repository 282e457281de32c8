package log

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var logger *logrus.Logger

func init() {
	logger = logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	SetLevel(os.Getenv("LOG_LEVEL"))
}

// GetLogger returns the shared logger instance
func GetLogger() *logrus.Logger {
	return logger
}

// SetLevel applies a textual level ("debug", "info", "warn", "error").
// Unknown or empty values fall back to info.
func SetLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}
}
