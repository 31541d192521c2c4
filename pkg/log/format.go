package log

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	stdlog "log"
)

// JSONFormatter renders entries as single-line JSON objects.
type JSONFormatter struct {
	// TimestampFormat overrides time.RFC3339Nano when set.
	TimestampFormat string
}

// Format implements Formatter.
func (f *JSONFormatter) Format(entry *Entry) ([]byte, error) {
	tsFormat := f.TimestampFormat
	if tsFormat == "" {
		tsFormat = time.RFC3339Nano
	}
	doc := make(map[string]interface{}, len(entry.Fields)+3)
	for k, v := range entry.Fields {
		doc[k] = v
	}
	doc["ts"] = entry.Timestamp.Format(tsFormat)
	doc["level"] = entry.Level.String()
	doc["msg"] = entry.Message
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal log entry: %w", err)
	}
	return append(data, '\n'), nil
}

// TextFormatter renders entries as human-readable lines for development.
type TextFormatter struct {
	TimestampFormat string
}

// Format implements Formatter.
func (f *TextFormatter) Format(entry *Entry) ([]byte, error) {
	tsFormat := f.TimestampFormat
	if tsFormat == "" {
		tsFormat = "2006-01-02T15:04:05.000"
	}
	var buf bytes.Buffer
	buf.WriteString(entry.Timestamp.Format(tsFormat))
	buf.WriteByte(' ')
	buf.WriteString(entry.Level.String())
	buf.WriteByte(' ')
	buf.WriteString(entry.Message)

	if len(entry.Fields) > 0 {
		keys := make([]string, 0, len(entry.Fields))
		for k := range entry.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v := entry.Fields[k]
			buf.WriteByte(' ')
			buf.WriteString(k)
			buf.WriteByte('=')
			switch val := v.(type) {
			case string:
				if strings.ContainsAny(val, " \t\"") {
					fmt.Fprintf(&buf, "%q", val)
				} else {
					buf.WriteString(val)
				}
			default:
				fmt.Fprintf(&buf, "%v", val)
			}
		}
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// ConsoleOutput writes formatted entries to stdout, or stderr for errors.
type ConsoleOutput struct {
	mu sync.Mutex
}

// NewConsoleOutput creates a console output.
func NewConsoleOutput() *ConsoleOutput { return &ConsoleOutput{} }

// Write implements Output.
func (o *ConsoleOutput) Write(entry *Entry, formatted []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	w := os.Stdout
	if entry.Level >= ErrorLevel {
		w = os.Stderr
	}
	_, err := w.Write(formatted)
	return err
}

// Close implements Output.
func (o *ConsoleOutput) Close() error { return nil }

// stdLogWriter adapts a Logger to io.Writer for the standard log package.
type stdLogWriter struct {
	logger Logger
}

func (w *stdLogWriter) Write(p []byte) (int, error) {
	w.logger.Info(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// RedirectStdLog routes the standard library's log package through logger.
// Pebble and other dependencies that log via stdlib end up structured.
func RedirectStdLog(logger Logger) {
	stdlog.SetFlags(0)
	stdlog.SetOutput(&stdLogWriter{logger: logger.WithComponent("stdlog")})
}
