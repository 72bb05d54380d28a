// Package logging configures the process-wide logrus logger.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Setup applies the log level and formatter. The BLOCKANDFOCUS_LOG_LEVEL
// environment variable wins over the configured level; an unparseable level
// falls back to info.
func Setup(level string) {
	if env := os.Getenv("BLOCKANDFOCUS_LOG_LEVEL"); env != "" {
		level = env
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logrus.SetLevel(parsed)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}
