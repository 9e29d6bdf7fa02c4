// Copyright 2025 Consentry Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger provides leveled, structured logging with text and JSON
// output. The process-wide logger writes to stderr because stdout is
// reserved for the scan worker wire protocol.
package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// LogLevel is the severity of a log message.
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	}
	return "UNKNOWN"
}

// color returns the ANSI escape for the level tag in text output.
func (l LogLevel) color() string {
	switch l {
	case DebugLevel:
		return "\033[36m"
	case InfoLevel:
		return "\033[32m"
	case WarnLevel:
		return "\033[33m"
	case ErrorLevel:
		return "\033[31m"
	case FatalLevel:
		return "\033[35m"
	}
	return ""
}

const resetColor = "\033[0m"

// ParseLevel maps a level name from configuration or the environment to
// a LogLevel.
func ParseLevel(name string) (LogLevel, bool) {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return DebugLevel, true
	case "INFO":
		return InfoLevel, true
	case "WARN":
		return WarnLevel, true
	case "ERROR":
		return ErrorLevel, true
	case "FATAL":
		return FatalLevel, true
	}
	return InfoLevel, false
}

// Fields carries structured key/value pairs attached to log messages.
type Fields map[string]any

// Logger is the logging interface the rest of the codebase depends on.
type Logger interface {
	Debug(msg string, fields ...Fields)
	Info(msg string, fields ...Fields)
	Warn(msg string, fields ...Fields)
	Error(msg string, fields ...Fields)
	Fatal(msg string, fields ...Fields)

	WithField(key string, value any) Logger
	WithFields(fields Fields) Logger
	WithContext(ctx context.Context) Logger
	WithError(err error) Logger

	SetLevel(level LogLevel)
	SetOutput(w io.Writer)
}

// StandardLogger is the default Logger implementation.
type StandardLogger struct {
	mu         sync.RWMutex
	level      LogLevel
	output     io.Writer
	fields     Fields
	colored    bool
	jsonFormat bool
	showCaller bool
	timeFormat string
}

const defaultTimeFormat = "2006-01-02 15:04:05.000"

var (
	globalLogger *StandardLogger
	once         sync.Once
)

func newStandardLogger() *StandardLogger {
	return &StandardLogger{
		level:      InfoLevel,
		output:     os.Stderr,
		fields:     make(Fields),
		colored:    true,
		showCaller: true,
		timeFormat: defaultTimeFormat,
	}
}

// Init builds the process-wide logger, applying any CONSENTRY_LOG_*
// environment overrides. Calling it more than once is a no-op.
func Init() {
	once.Do(func() {
		l := newStandardLogger()
		l.configureFromEnv()
		globalLogger = l
	})
}

// configureFromEnv applies the CONSENTRY_LOG_LEVEL, _FORMAT, _COLORED,
// _CALLER and _FILE environment variables.
func (l *StandardLogger) configureFromEnv() {
	if level, ok := ParseLevel(os.Getenv("CONSENTRY_LOG_LEVEL")); ok {
		l.level = level
	}
	if os.Getenv("CONSENTRY_LOG_FORMAT") == "json" {
		l.jsonFormat = true
		l.colored = false
	}
	if os.Getenv("CONSENTRY_LOG_COLORED") == "false" {
		l.colored = false
	}
	if os.Getenv("CONSENTRY_LOG_CALLER") == "false" {
		l.showCaller = false
	}
	if logFile := os.Getenv("CONSENTRY_LOG_FILE"); logFile != "" {
		writer, err := NewRotatingFileWriter(logFile, 100, 5, 14)
		if err == nil {
			l.output = writer
			l.colored = false
		}
	}
}

// GetLogger returns the process-wide logger, initializing it on first use.
func GetLogger() Logger {
	if globalLogger == nil {
		Init()
	}
	return globalLogger
}

// New creates an independent logger with default settings.
func New() Logger {
	return newStandardLogger()
}

func (l *StandardLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *StandardLogger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
}

// clone copies the logger with room for extra fields. Callers must hold
// at least a read lock.
func (l *StandardLogger) clone(extra int) *StandardLogger {
	fields := make(Fields, len(l.fields)+extra)
	for k, v := range l.fields {
		fields[k] = v
	}
	return &StandardLogger{
		level:      l.level,
		output:     l.output,
		fields:     fields,
		colored:    l.colored,
		jsonFormat: l.jsonFormat,
		showCaller: l.showCaller,
		timeFormat: l.timeFormat,
	}
}

// WithField returns a logger that attaches the key/value pair to every
// message.
func (l *StandardLogger) WithField(key string, value any) Logger {
	return l.WithFields(Fields{key: value})
}

// WithFields returns a logger that attaches all given pairs to every
// message.
func (l *StandardLogger) WithFields(fields Fields) Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	next := l.clone(len(fields))
	for k, v := range fields {
		next.fields[k] = v
	}
	return next
}

type contextKey string

const (
	scanIDKey  contextKey = "scan_id"
	batchIDKey contextKey = "batch_id"
)

// ContextWithScanID stamps the context so WithContext-derived loggers
// carry the scan id.
func ContextWithScanID(ctx context.Context, scanID string) context.Context {
	return context.WithValue(ctx, scanIDKey, scanID)
}

// ContextWithBatchID stamps the context so WithContext-derived loggers
// carry the batch id.
func ContextWithBatchID(ctx context.Context, batchID string) context.Context {
	return context.WithValue(ctx, batchIDKey, batchID)
}

// WithContext returns a logger carrying the scan and batch identifiers
// stamped on the context, if any.
func (l *StandardLogger) WithContext(ctx context.Context) Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()

	next := l.clone(2)
	if ctx != nil {
		if v := ctx.Value(scanIDKey); v != nil {
			next.fields["scan_id"] = v
		}
		if v := ctx.Value(batchIDKey); v != nil {
			next.fields["batch_id"] = v
		}
	}
	return next
}

// WithError returns a logger carrying the error message, or the
// receiver unchanged for a nil error.
func (l *StandardLogger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

func (l *StandardLogger) Debug(msg string, fields ...Fields) {
	l.log(DebugLevel, msg, fields...)
}

func (l *StandardLogger) Info(msg string, fields ...Fields) {
	l.log(InfoLevel, msg, fields...)
}

func (l *StandardLogger) Warn(msg string, fields ...Fields) {
	l.log(WarnLevel, msg, fields...)
}

func (l *StandardLogger) Error(msg string, fields ...Fields) {
	l.log(ErrorLevel, msg, fields...)
}

// Fatal logs the message and exits the process.
func (l *StandardLogger) Fatal(msg string, fields ...Fields) {
	l.log(FatalLevel, msg, fields...)
	os.Exit(1)
}

// log assembles one entry and writes it. The caller offset assumes the
// exported level method sits between user code and this function.
func (l *StandardLogger) log(level LogLevel, msg string, extraFields ...Fields) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if level < l.level {
		return
	}

	entry := make(Fields, len(l.fields)+len(extraFields)+5)
	for k, v := range l.fields {
		entry[k] = v
	}
	for _, f := range extraFields {
		for k, v := range f {
			entry[k] = v
		}
	}
	entry["time"] = time.Now().Format(l.timeFormat)
	entry["level"] = level.String()
	entry["msg"] = msg
	if l.showCaller {
		if pc, file, line, ok := runtime.Caller(2); ok {
			entry["caller"] = fmt.Sprintf("%s:%d", filepath.Base(file), line)
			entry["func"] = filepath.Base(runtime.FuncForPC(pc).Name())
		}
	}

	if l.jsonFormat {
		fmt.Fprint(l.output, l.formatJSON(entry))
		return
	}
	fmt.Fprint(l.output, l.formatText(level, msg, entry))
}

func (l *StandardLogger) formatJSON(entry Fields) string {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Sprintf("{\"error\":\"failed to marshal log: %v\"}\n", err)
	}
	return string(data) + "\n"
}

func (l *StandardLogger) formatText(level LogLevel, msg string, entry Fields) string {
	var b strings.Builder

	if t, ok := entry["time"].(string); ok {
		b.WriteString(t)
		b.WriteByte(' ')
	}

	tag := fmt.Sprintf("[%-5s]", level.String())
	if l.colored {
		b.WriteString(level.color())
		b.WriteString(tag)
		b.WriteString(resetColor)
	} else {
		b.WriteString(tag)
	}
	b.WriteByte(' ')

	if caller, ok := entry["caller"].(string); ok {
		b.WriteByte('[')
		b.WriteString(caller)
		b.WriteString("] ")
	}

	b.WriteString(msg)

	// The remaining fields print as key=value, sorted so repeated runs
	// line up.
	for _, k := range []string{"time", "level", "msg", "caller", "func"} {
		delete(entry, k)
	}
	if len(entry) > 0 {
		keys := make([]string, 0, len(entry))
		for k := range entry {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" | ")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, entry[k])
		}
	}

	b.WriteByte('\n')
	return b.String()
}

// Package-level helpers that delegate to the process-wide logger.

func Debug(msg string, fields ...Fields) {
	GetLogger().Debug(msg, fields...)
}

func Info(msg string, fields ...Fields) {
	GetLogger().Info(msg, fields...)
}

func Warn(msg string, fields ...Fields) {
	GetLogger().Warn(msg, fields...)
}

func Error(msg string, fields ...Fields) {
	GetLogger().Error(msg, fields...)
}

func Fatal(msg string, fields ...Fields) {
	GetLogger().Fatal(msg, fields...)
}

func WithField(key string, value any) Logger {
	return GetLogger().WithField(key, value)
}

func WithFields(fields Fields) Logger {
	return GetLogger().WithFields(fields)
}

func WithContext(ctx context.Context) Logger {
	return GetLogger().WithContext(ctx)
}

func WithError(err error) Logger {
	return GetLogger().WithError(err)
}
