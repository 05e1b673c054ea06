package internal

import "log/slog"

// LevelTrace is a logging level below [slog.LevelDebug] for segment-by-segment
// FSM tracing, matching the verbosity tier the rest of the corpus reserves
// for packet-level detail.
const LevelTrace slog.Level = slog.LevelDebug - 2
