package main

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tripsync/tripsync/internal/config"
)

var (
	// logOutput receives component logs: the log file when configured, plus
	// stderr for long-running commands or --verbose.
	logOutput io.Writer = io.Discard
	logFile   *lumberjack.Logger
	logStderr bool
)

func setupLogging(c *config.Config, toStderr bool) error {
	closeLogging()
	logStderr = toStderr

	var writers []io.Writer
	if toStderr {
		writers = append(writers, os.Stderr)
	}
	if c.Log.File != "" {
		logFile = &lumberjack.Logger{
			Filename:   c.Log.File,
			MaxSize:    c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			Compress:   true,
		}
		writers = append(writers, logFile)
	}
	switch len(writers) {
	case 0:
		logOutput = io.Discard
	case 1:
		logOutput = writers[0]
	default:
		logOutput = io.MultiWriter(writers...)
	}
	return nil
}

// logToStderr makes component logs visible for long-running commands.
func logToStderr() {
	if logStderr {
		return
	}
	logStderr = true
	if logFile != nil {
		logOutput = io.MultiWriter(os.Stderr, logFile)
	} else {
		logOutput = os.Stderr
	}
}

func closeLogging() {
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
	logOutput = io.Discard
	logStderr = false
}

func newLogger(prefix string) *log.Logger {
	return log.New(logOutput, prefix, log.LstdFlags)
}
