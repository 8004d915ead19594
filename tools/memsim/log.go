//go:build linux && amd64

package main

import (
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

func newLogger(debug bool, format string) *logrus.Logger {
	logger := logrus.New()
	logger.Out = os.Stderr
	logger.Level = logrus.InfoLevel
	if debug {
		logger.Level = logrus.DebugLevel
	}

	if format == "json" {
		logger.Formatter = &logrus.JSONFormatter{}
	} else {
		logger.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	}

	return logger
}

// kernelLogSink receives kfmt output and forwards each completed line to
// logrus. The lines are also retained so that they can be included in
// reports.
type kernelLogSink struct {
	entry *logrus.Entry

	mu    sync.Mutex
	line  []byte
	lines []string
}

func newKernelLogSink(entry *logrus.Entry) *kernelLogSink {
	return &kernelLogSink{entry: entry}
}

// Write implements io.Writer.
func (s *kernelLogSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range p {
		if b != '\n' {
			s.line = append(s.line, b)
			continue
		}
		s.flushLine()
	}

	return len(p), nil
}

func (s *kernelLogSink) flushLine() {
	line := strings.TrimRight(string(s.line), " ")
	s.line = s.line[:0]
	if line == "" {
		return
	}

	s.lines = append(s.lines, line)
	s.entry.Info(line)
}

// Lines returns the kernel log lines received so far. A partial trailing line
// is flushed first.
func (s *kernelLogSink) Lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.line) != 0 {
		s.flushLine()
	}

	return append([]string(nil), s.lines...)
}
