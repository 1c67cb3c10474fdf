// Package hexdump renders relayed chunks as hex and ASCII and emits them as
// log records.
package hexdump

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// TimeLayout is the record timestamp, millisecond precision.
const TimeLayout = "2006-01-02T15:04:05.000"

const hexDigits = "0123456789abcdef"

// Record is one observed chunk. Client identifies the originating
// connection and is left out of the text layout.
type Record struct {
	Time      time.Time
	Direction string
	Client    string
	Len       int
	Hex       string
	ASCII     string
}

func NewRecord(direction string, b []byte) Record {
	h, a := Format(b)
	return Record{
		Time:      time.Now(),
		Direction: direction,
		Len:       len(b),
		Hex:       h,
		ASCII:     a,
	}
}

// Format returns the space separated lowercase hex of b and its printable
// ASCII rendering. Bytes outside 32..126 render as '.'.
func Format(b []byte) (string, string) {
	if len(b) == 0 {
		return "", ""
	}
	var hb strings.Builder
	hb.Grow(len(b)*3 - 1)
	ab := make([]byte, len(b))
	for i, c := range b {
		if i > 0 {
			hb.WriteByte(' ')
		}
		hb.WriteByte(hexDigits[c>>4])
		hb.WriteByte(hexDigits[c&0x0f])
		if c >= 32 && c <= 126 {
			ab[i] = c
		} else {
			ab[i] = '.'
		}
	}
	return hb.String(), string(ab)
}

// Sink receives records from every relay worker concurrently.
type Sink interface {
	Emit(r Record) error
}

// TextSink writes records in the plain three line layout:
//
//	[2024-01-01T12:00:00.000] -> client->127.0.0.1:6379 (14 bytes)
//	HEX: 2a 31 0d 0a 24 34 0d 0a 50 49 4e 47 0d 0a
//	ASCII: *1..$4..PING..
type TextSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewTextSink(w io.Writer) *TextSink {
	return &TextSink{w: w}
}

func (s *TextSink) Emit(r Record) error {
	text := fmt.Sprintf("[%s] -> %s (%d bytes)\nHEX: %s\nASCII: %s\n\n",
		r.Time.Format(TimeLayout), r.Direction, r.Len, r.Hex, r.ASCII)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.w, text)
	return err
}

// LogSink emits each record as a single structured log entry. Records go
// straight to the handler, so the configured log level never filters them.
type LogSink struct {
	h     slog.Handler
	level slog.Level
}

func NewLogSink(l *slog.Logger) *LogSink {
	return &LogSink{h: l.Handler(), level: slog.LevelInfo}
}

func (s *LogSink) Emit(r Record) error {
	rec := slog.NewRecord(r.Time, s.level, "chunk", 0)
	rec.AddAttrs(
		slog.String("direction", r.Direction),
		slog.Int("bytes", r.Len),
		slog.String("hex", r.Hex),
		slog.String("ascii", r.ASCII),
	)
	if r.Client != "" {
		rec.AddAttrs(slog.String("client", r.Client))
	}
	return s.h.Handle(context.Background(), rec)
}

// Discard drops every record.
var Discard Sink = discard{}

type discard struct{}

func (discard) Emit(Record) error { return nil }
