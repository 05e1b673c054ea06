package tcp

import (
	"context"
	"log/slog"

	"github.com/polarwind/tcpcore/internal"
)

// logger is embedded in the control block and wraps an optional *slog.Logger,
// matching the teacher's density: trace for segment-level detail, debug for
// state transitions, error for rejected segments.
type logger struct {
	log *slog.Logger
}

func (l *logger) SetLogger(log *slog.Logger) { l.log = log }

func (l *logger) logenabled(lvl slog.Level) bool {
	return l.log != nil && l.log.Enabled(context.Background(), lvl)
}

func (l *logger) debug(msg string, args ...any) {
	if l.log != nil {
		l.log.Debug(msg, args...)
	}
}

func (l *logger) trace(msg string, args ...any) {
	if l.logenabled(internal.LevelTrace) {
		l.log.Log(context.Background(), internal.LevelTrace, msg, args...)
	}
}

func (l *logger) logerr(msg string, args ...any) {
	if l.log != nil {
		l.log.Error(msg, args...)
	}
}

func (l *logger) traceSeg(msg string, seg Segment) {
	if l.logenabled(internal.LevelTrace) {
		l.trace(msg,
			slog.Uint64("seg.seq", uint64(seg.SEQ)),
			slog.Uint64("seg.ack", uint64(seg.ACK)),
			slog.Uint64("seg.wnd", uint64(seg.WND)),
			slog.String("seg.flags", seg.Flags.String()),
			slog.Uint64("seg.data", uint64(seg.DATALEN)),
		)
	}
}
