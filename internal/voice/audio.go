package voice

import "time"

// SilenceTracker decides when a recording should stop: after a window
// of sustained silence, but never before the minimum duration and
// never past the maximum. Silence is relative to the ambient noise
// floor measured at startup rather than an absolute level, so a noisy
// kitchen and a quiet bedroom both work.
type SilenceTracker struct {
	threshold float64
	window    time.Duration
	minRecord time.Duration
	maxRecord time.Duration

	start       time.Time
	silentSince time.Time
	silent      bool
}

// NewSilenceTracker creates a tracker for one recording. The stop
// threshold is noiseFloor scaled by multiplier.
func NewSilenceTracker(noiseFloor, multiplier float64, window, minRecord, maxRecord time.Duration) *SilenceTracker {
	if multiplier <= 0 {
		multiplier = 0.5
	}
	if window <= 0 {
		window = 2 * time.Second
	}
	if minRecord <= 0 {
		minRecord = 2 * time.Second
	}
	if maxRecord <= 0 {
		maxRecord = 30 * time.Second
	}
	return &SilenceTracker{
		threshold: noiseFloor * multiplier,
		window:    window,
		minRecord: minRecord,
		maxRecord: maxRecord,
	}
}

// Threshold returns the computed silence level.
func (t *SilenceTracker) Threshold() float64 { return t.threshold }

// Feed reports the audio level at the given instant and returns true
// when the recording should stop.
func (t *SilenceTracker) Feed(level float64, now time.Time) bool {
	if t.start.IsZero() {
		t.start = now
	}

	if now.Sub(t.start) >= t.maxRecord {
		return true
	}

	if level > t.threshold {
		t.silent = false
		return false
	}

	if !t.silent {
		t.silent = true
		t.silentSince = now
	}

	if now.Sub(t.start) < t.minRecord {
		return false
	}
	return now.Sub(t.silentSince) >= t.window
}
