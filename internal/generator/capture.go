package generator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// logCapture records formatted lines for the caller while forwarding
// every record to the next handler.
type logCapture struct {
	next  slog.Handler
	attrs []slog.Attr
	sink  *lineSink
}

type lineSink struct {
	mu    sync.Mutex
	lines []string
}

func newLogCapture(next slog.Handler) *logCapture {
	return &logCapture{next: next, sink: &lineSink{}}
}

// Enabled captures everything from Info up regardless of the next
// handler's level.
func (c *logCapture) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= slog.LevelInfo || c.next.Enabled(ctx, level)
}

func (c *logCapture) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelInfo {
		c.sink.add(c.format(r))
	}
	if c.next.Enabled(ctx, r.Level) {
		return c.next.Handle(ctx, r.Clone())
	}
	return nil
}

func (c *logCapture) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(c.attrs)+len(attrs))
	merged = append(merged, c.attrs...)
	merged = append(merged, attrs...)
	return &logCapture{next: c.next.WithAttrs(attrs), attrs: merged, sink: c.sink}
}

func (c *logCapture) WithGroup(name string) slog.Handler {
	return &logCapture{next: c.next.WithGroup(name), attrs: c.attrs, sink: c.sink}
}

// Lines returns the captured lines in order.
func (c *logCapture) Lines() []string {
	c.sink.mu.Lock()
	defer c.sink.mu.Unlock()
	out := make([]string, len(c.sink.lines))
	copy(out, c.sink.lines)
	return out
}

// format renders "time LEVEL message key=value ..." skipping handler
// level attributes such as job_id.
func (c *logCapture) format(r slog.Record) string {
	var b strings.Builder
	b.WriteString(r.Time.UTC().Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(r.Level.String())
	b.WriteByte(' ')
	b.WriteString(r.Message)
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Resolve())
		return true
	})
	return b.String()
}

func (s *lineSink) add(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
}
