package playerhost

import (
	"log/slog"
	"math/rand"

	"github.com/avalon-stream/hlsplay/internal/host"
)

// AlwaysSupportedProbe answers every codec support query affirmatively.
// A headless player has no real decode pipeline to interrogate; treating
// every variant as playable keeps variant selection driven purely by
// bandwidth, matching how this player is actually used (piping segments
// to an external decoder that will itself fail loudly on a bad codec).
type AlwaysSupportedProbe struct{}

func (AlwaysSupportedProbe) IsTypeSupported(host.MediaType, string) host.CodecSupport {
	return host.CodecSupportTrue
}

// MathRandSource implements host.RandomSource over math/rand; retry
// jitter has no need for cryptographic randomness.
type MathRandSource struct{}

func (MathRandSource) Float64() float64 { return rand.Float64() }

// LogReporter implements host.ErrorReporter by logging through slog:
// fatal conditions end the session, non-fatal ones are surfaced for
// operators to notice without interrupting playback.
type LogReporter struct {
	Logger *slog.Logger
}

func NewLogReporter(logger *slog.Logger) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{Logger: logger}
}

func (r *LogReporter) ReportFatal(err error) {
	r.Logger.Error("fatal playback error", slog.String("error", err.Error()))
}

func (r *LogReporter) ReportNonFatal(err error) {
	r.Logger.Warn("non-fatal playback error", slog.String("error", err.Error()))
}
