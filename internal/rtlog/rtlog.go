// Package rtlog provides logging that is safe to call from the realtime
// audio path. RT code pushes fixed-size records into a single-producer
// single-consumer ring; a drain goroutine formats them off the audio thread.
package rtlog

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"
)

// Level of a log record.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	}
	return "?"
}

// Record is a fixed-size log entry. Msg is a static string; RT callers must
// not format into it. Up to two numeric arguments travel alongside.
type Record struct {
	Level Level
	Msg   string
	A, B  int64
}

// Ring is a single-producer single-consumer ring of Records. Push never
// blocks and never allocates; on overflow the record is dropped and counted.
type Ring struct {
	buf     []Record
	mask    uint64
	head    atomic.Uint64 // next write position, producer only
	tail    atomic.Uint64 // next read position, consumer only
	dropped atomic.Uint64
}

// NewRing creates a ring with capacity rounded up to a power of two.
func NewRing(capacity int) *Ring {
	n := 1
	for n < capacity {
		n <<= 1
	}
	return &Ring{buf: make([]Record, n), mask: uint64(n - 1)}
}

// Push appends a record. RT-safe: no locks, no allocation.
func (r *Ring) Push(rec Record) {
	head := r.head.Load()
	tail := r.tail.Load()
	if head-tail >= uint64(len(r.buf)) {
		r.dropped.Add(1)
		return
	}
	r.buf[head&r.mask] = rec
	r.head.Store(head + 1)
}

// Pop removes the oldest record, if any.
func (r *Ring) Pop() (Record, bool) {
	tail := r.tail.Load()
	if tail == r.head.Load() {
		return Record{}, false
	}
	rec := r.buf[tail&r.mask]
	r.tail.Store(tail + 1)
	return rec, true
}

// Dropped reports how many records were lost to overflow.
func (r *Ring) Dropped() uint64 {
	return r.dropped.Load()
}

// Logger is the non-RT side: a leveled logger plus the ring drain.
type Logger struct {
	ring *Ring
	out  *log.Logger
	min  Level
}

// New wraps a stdlib logger. Pass nil to use the default logger.
func New(out *log.Logger, min Level) *Logger {
	if out == nil {
		out = log.Default()
	}
	return &Logger{ring: NewRing(1024), out: out, min: min}
}

// Ring returns the RT-side ring for this logger.
func (l *Logger) Ring() *Ring { return l.ring }

// Drain consumes ring records until ctx is cancelled.
func (l *Logger) Drain(ctx context.Context) {
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			l.flush()
			return
		case <-tick.C:
			l.flush()
		}
	}
}

func (l *Logger) flush() {
	for {
		rec, ok := l.ring.Pop()
		if !ok {
			return
		}
		if rec.Level < l.min {
			continue
		}
		l.out.Printf("%s %s a=%d b=%d", rec.Level, rec.Msg, rec.A, rec.B)
	}
}

func (l *Logger) logf(lv Level, format string, args ...any) {
	if lv < l.min {
		return
	}
	l.out.Printf("%s %s", lv, fmt.Sprintf(format, args...))
}

// Debugf logs at debug level. Not RT-safe.
func (l *Logger) Debugf(format string, args ...any) { l.logf(LevelDebug, format, args...) }

// Infof logs at info level. Not RT-safe.
func (l *Logger) Infof(format string, args ...any) { l.logf(LevelInfo, format, args...) }

// Warnf logs at warn level. Not RT-safe.
func (l *Logger) Warnf(format string, args ...any) { l.logf(LevelWarn, format, args...) }

// Errorf logs at error level. Not RT-safe.
func (l *Logger) Errorf(format string, args ...any) { l.logf(LevelError, format, args...) }
