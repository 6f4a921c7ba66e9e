// File: internal/logger/logger.go
// Author: momentics <momentics@gmail.com>
//
// Tagged logrus logger shared by every package.

package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var base = logrus.New()

func init() {
	base.SetLevel(logrus.InfoLevel)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	base.AddHook(new(TaggedHook))
}

// New returns an entry whose messages are prefixed with "[tag]: ".
func New(tag string) *logrus.Entry {
	return logrus.NewEntry(base).WithField("tag", tag)
}

// Base exposes the underlying logger, mostly for tests that capture output.
func Base() *logrus.Logger {
	return base
}

// Configure applies level, format (text|json) and output (stdout|stderr|path).
// The returned closer releases a log file, if one was opened.
func Configure(level, format, output string) (io.Closer, error) {
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	base.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "", "text":
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("log format %q: unsupported", format)
	}

	switch output {
	case "", "stdout":
		base.SetOutput(os.Stdout)
		return nopCloser{}, nil
	case "stderr":
		base.SetOutput(os.Stderr)
		return nopCloser{}, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		base.SetOutput(f)
		return f, nil
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// TaggedHook moves the "tag" field into the message prefix.
type TaggedHook struct{}

func (h *TaggedHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *TaggedHook) Fire(entry *logrus.Entry) error {
	if tagObj, loaded := entry.Data["tag"]; loaded {
		tag, _ := tagObj.(string)
		delete(entry.Data, "tag")
		entry.Message = "[" + tag + "]: " + strings.TrimPrefix(entry.Message, tag+": ")
	}
	return nil
}
