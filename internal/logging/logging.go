// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Options configure New. Empty fields take defaults: info level, text format, stderr.
type Options struct {
	Level  string
	Format string
	Out    io.Writer
}

// New returns a logrus logger for opts.
func New(opts Options) (*logrus.Logger, error) {
	logger := logrus.New()
	if opts.Out != nil {
		logger.SetOutput(opts.Out)
	} else {
		logger.SetOutput(os.Stderr)
	}

	level := logrus.InfoLevel
	if s := strings.TrimSpace(opts.Level); s != "" {
		parsed, err := logrus.ParseLevel(s)
		if err != nil {
			return nil, fmt.Errorf("logging: %w", err)
		}
		level = parsed
	}
	logger.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("logging: unknown format %q", opts.Format)
	}
	return logger, nil
}
