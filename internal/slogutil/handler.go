// Package slogutil provides the gateway log handler and logger constructors.
package slogutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// Redacted replaces the value of attributes that carry credentials.
const Redacted = "********"

// secretKeys are attribute keys whose values are never written
var secretKeys = map[string]bool{
	"token":          true,
	"authorization":  true,
	"password":       true,
	"admintokenhash": true,
}

// Handler writes one line per record:
//
//	2026-01-02T15:04:05.000Z [info] Message | key=value key="with spaces"
type Handler struct {
	w      io.Writer
	level  slog.Leveler
	prefix string // pre-rendered attributes from WithAttrs
	groups []string
	mu     *sync.Mutex
}

// NewHandler creates a line handler writing to w.
func NewHandler(w io.Writer, opts *slog.HandlerOptions) *Handler {
	var level slog.Leveler = slog.LevelInfo
	if opts != nil && opts.Level != nil {
		level = opts.Level
	}
	return &Handler{w: w, level: level, mu: &sync.Mutex{}}
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer

	if !r.Time.IsZero() {
		buf.WriteString(r.Time.UTC().Format(timeFormat))
		buf.WriteByte(' ')
	}
	buf.WriteByte('[')
	buf.WriteString(levelString(r.Level))
	buf.WriteString("] ")
	buf.WriteString(r.Message)

	var attrs bytes.Buffer
	attrs.WriteString(h.prefix)
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&attrs, h.groups, a)
		return true
	})
	if attrs.Len() > 0 {
		buf.WriteString(" |")
		buf.Write(attrs.Bytes())
	}
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	var buf bytes.Buffer
	buf.WriteString(h.prefix)
	for _, a := range attrs {
		appendAttr(&buf, h.groups, a)
	}
	h2 := *h
	h2.prefix = buf.String()
	return &h2
}

// WithGroup implements slog.Handler. Group names prefix keys as "group.key".
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.groups = append(append([]string(nil), h.groups...), name)
	return &h2
}

func appendAttr(buf *bytes.Buffer, groups []string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	if a.Value.Kind() == slog.KindGroup {
		members := a.Value.Group()
		if a.Key != "" {
			groups = append(append([]string(nil), groups...), a.Key)
		}
		for _, m := range members {
			appendAttr(buf, groups, m)
		}
		return
	}

	key := a.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}

	value := formatValue(a.Value)
	if secretKeys[strings.ToLower(a.Key)] && value != "" {
		value = Redacted
	}

	buf.WriteByte(' ')
	buf.WriteString(key)
	buf.WriteByte('=')
	buf.WriteString(quoteIfNeeded(value))
}

func levelString(level slog.Level) string {
	switch {
	case level < slog.LevelInfo:
		return "debug"
	case level < slog.LevelWarn:
		return "info"
	case level < slog.LevelError:
		return "warn"
	default:
		return "error"
	}
}

func formatValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindTime:
		return v.Time().UTC().Format(timeFormat)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	default:
		return v.String()
	}
}

// quoteIfNeeded quotes values that would otherwise break key=value parsing
func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\n\r\"=|") {
		return strconv.Quote(s)
	}
	return s
}
