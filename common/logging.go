// Package common provides the shared logging infrastructure for the
// plastron daemon and its engines.
//
// Logging is built on logrus with an output splitter that routes
// error-level lines to stderr and everything else to stdout, so that
// containerized deployments can treat the two streams differently.
package common

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// OutputSplitter routes formatted log lines to stdout or stderr based on
// their level marker. Error lines carry "level=error" in logrus's text
// format and `"level":"error"` in its JSON format.
type OutputSplitter struct{}

// Write implements io.Writer, sending error-level lines to stderr and all
// other lines to stdout.
func (splitter *OutputSplitter) Write(p []byte) (n int, err error) {
	if bytes.Contains(p, []byte("level=error")) || bytes.Contains(p, []byte(`"level":"error"`)) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// Logger is the process-wide logger. Packages derive component entries from
// it with WithField("component", ...).
var Logger = newLogger()

func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(&OutputSplitter{})
	logger.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: time.RFC3339,
		FullTimestamp:   true,
	})
	return logger
}

// ConfigureLogger applies the level and format from the daemon
// configuration to the global logger. Format is "text" or "json".
func ConfigureLogger(level, format string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	Logger.SetLevel(lvl)

	switch format {
	case "", "text":
		Logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	case "json":
		Logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	default:
		return fmt.Errorf("invalid log format %q (want text or json)", format)
	}
	return nil
}

// ComponentLogger returns an entry carrying the component field, the
// convention used by every long-lived worker in the daemon.
func ComponentLogger(component string) *logrus.Entry {
	return Logger.WithField("component", component)
}
