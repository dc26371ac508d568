// +build !windows

// Package logx provides structured logging for the location daemon (Unix/Linux version)
package logx

import (
	"log/syslog"
)

// initSyslog initializes syslog for Unix systems
func (l *Logger) initSyslog() {
	if syslogger, err := syslog.New(syslog.LOG_DAEMON|syslog.LOG_INFO, "locationd"); err == nil {
		l.syslogger = syslogger
	}
}

// logToSyslog sends log entry to syslog on Unix systems
func (l *Logger) logToSyslog(level LogLevel, message string) {
	w, ok := l.syslogger.(*syslog.Writer)
	if !ok {
		return
	}

	switch level {
	case DebugLevel:
		w.Debug(message)
	case InfoLevel:
		w.Info(message)
	case WarnLevel:
		w.Warning(message)
	case ErrorLevel:
		w.Err(message)
	}
}
