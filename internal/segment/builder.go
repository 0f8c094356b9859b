// Package segment assembles rally periods into padded, merged clip ranges
// suitable for cutting a highlight reel from the source video.
package segment

import (
	"math"
	"sort"
	"sync"

	"github.com/banshee-data/rallycut/internal/config"
	"github.com/banshee-data/rallycut/internal/rally"
)

// TimeRange is a half-open [Start, End) span in video seconds.
type TimeRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns the span length in seconds.
func (r TimeRange) Duration() float64 {
	return r.End - r.Start
}

// Config holds padding, merge and filter parameters for segment assembly.
type Config struct {
	StartPadding float64 // seconds of pre-roll before each rally
	EndPadding   float64 // seconds of post-roll after each rally

	MinSegmentDuration float64 // seconds; shorter segments are dropped
	MaxSegmentGap      float64 // seconds; closer segments are merged

	// Short rallies get reduced pre-roll so the clip is not mostly
	// dead time before the serve.
	ShortSegmentThreshold float64
	MaxPrerollForShort    float64

	QualityFloor float64 // rally periods scoring below this are not cut
}

// DefaultConfig returns the compiled default assembler configuration.
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyTuningConfig())
}

// ConfigFromTuning builds an assembler Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		StartPadding:          cfg.GetRallyStartPadding(),
		EndPadding:            cfg.GetRallyEndPadding(),
		MinSegmentDuration:    cfg.GetMinSegmentDuration(),
		MaxSegmentGap:         cfg.GetMaxSegmentGap(),
		ShortSegmentThreshold: cfg.GetShortSegmentThreshold(),
		MaxPrerollForShort:    cfg.GetMaxPrerollForShort(),
		QualityFloor:          cfg.GetSegmentQualityFloor(),
	}
}

// Stats summarizes a finalized segment list.
type Stats struct {
	Count         int
	TotalDuration float64
	Coverage      float64 // fraction of the video inside segments
}

// Assembler accumulates rally activity and produces the final clip list.
// Observe feeds it live state transitions; AppendPeriod and FromPeriods
// accept already-decided rally periods.
type Assembler struct {
	cfg Config

	raw       []TimeRange
	openStart float64
	open      bool

	mu sync.Mutex
}

// NewAssembler creates an empty segment assembler.
func NewAssembler(cfg Config) *Assembler {
	return &Assembler{cfg: cfg}
}

// Observe tracks rally state transitions frame by frame. A segment opens
// when the rally becomes active and closes as soon as it stops being
// active. A fast Ending→Active recovery reopens a new segment; the gap
// merge in Finalize rejoins the pieces when the dip was brief.
func (a *Assembler) Observe(state rally.State, timestamp float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	active := state == rally.StateActive
	switch {
	case active && !a.open:
		a.openStart = timestamp
		a.open = true
	case !active && a.open:
		a.closeSegment(timestamp)
	}
}

// AppendRaw records a raw activity span, applying padding and the
// short-segment pre-roll cap.
func (a *Assembler) AppendRaw(r TimeRange) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.padAndAppend(r.Start, r.End)
}

// AppendPadded records an already-padded time range as-is.
func (a *Assembler) AppendPadded(r TimeRange) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if r.End > r.Start {
		a.raw = append(a.raw, r)
	}
}

// AppendPeriod records a completed rally with padding applied. Rallies
// scoring below the quality floor are skipped.
func (a *Assembler) AppendPeriod(p rally.Period) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if p.Quality < a.cfg.QualityFloor {
		return
	}
	a.padAndAppend(p.Start, p.End)
}

// FromPeriods builds a finalized segment list from completed rally periods
// without touching the assembler's accumulated state.
func FromPeriods(cfg Config, periods []rally.Period, videoDuration float64) []TimeRange {
	a := NewAssembler(cfg)
	for _, p := range periods {
		a.AppendPeriod(p)
	}
	return a.Finalize(videoDuration)
}

// closeSegment pads and records the currently open segment. Pre-roll is
// capped for short segments. Caller holds the mutex.
func (a *Assembler) closeSegment(end float64) {
	a.padAndAppend(a.openStart, end)
	a.open = false
}

func (a *Assembler) padAndAppend(start, end float64) {
	if end <= start {
		return
	}

	preroll := a.cfg.StartPadding
	if end-start < a.cfg.ShortSegmentThreshold {
		preroll = math.Min(preroll, a.cfg.MaxPrerollForShort)
	}

	a.raw = append(a.raw, TimeRange{
		Start: start - preroll,
		End:   end + a.cfg.EndPadding,
	})
}

// Finalize closes any open segment at videoDuration, then clamps, sorts,
// merges and filters the accumulated ranges. The accumulated state is left
// intact so repeated calls return the same result.
func (a *Assembler) Finalize(videoDuration float64) []TimeRange {
	a.mu.Lock()
	defer a.mu.Unlock()

	ranges := make([]TimeRange, 0, len(a.raw)+1)
	ranges = append(ranges, a.raw...)
	if a.open {
		preroll := a.cfg.StartPadding
		if videoDuration-a.openStart < a.cfg.ShortSegmentThreshold {
			preroll = math.Min(preroll, a.cfg.MaxPrerollForShort)
		}
		ranges = append(ranges, TimeRange{Start: a.openStart - preroll, End: videoDuration + a.cfg.EndPadding})
	}

	// Clamp to the video bounds and drop anything degenerate.
	clamped := ranges[:0]
	for _, r := range ranges {
		r.Start = math.Max(0, r.Start)
		if videoDuration > 0 {
			r.End = math.Min(videoDuration, r.End)
		}
		if r.End > r.Start {
			clamped = append(clamped, r)
		}
	}

	sort.Slice(clamped, func(i, j int) bool {
		return clamped[i].Start < clamped[j].Start
	})

	merged := mergeRanges(clamped, a.cfg.MaxSegmentGap)

	out := merged[:0]
	for _, r := range merged {
		if r.Duration() >= a.cfg.MinSegmentDuration {
			out = append(out, r)
		}
	}
	return out
}

// mergeRanges merges sorted ranges whose gap is at most maxGap.
func mergeRanges(sorted []TimeRange, maxGap float64) []TimeRange {
	if len(sorted) == 0 {
		return nil
	}
	merged := []TimeRange{sorted[0]}
	for _, r := range sorted[1:] {
		last := &merged[len(merged)-1]
		if r.Start-last.End <= maxGap {
			if r.End > last.End {
				last.End = r.End
			}
		} else {
			merged = append(merged, r)
		}
	}
	return merged
}

// MergeOverlapping merges ranges that overlap or touch, with no gap
// tolerance. The input is not modified.
func MergeOverlapping(ranges []TimeRange) []TimeRange {
	if len(ranges) == 0 {
		return nil
	}
	sorted := make([]TimeRange, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})
	return mergeRanges(sorted, 0)
}

// ComputeStats summarizes a finalized segment list against the video length.
func ComputeStats(segments []TimeRange, videoDuration float64) Stats {
	s := Stats{Count: len(segments)}
	for _, r := range segments {
		s.TotalDuration += r.Duration()
	}
	if videoDuration > 0 {
		s.Coverage = s.TotalDuration / videoDuration
	}
	return s
}

// Reset discards all accumulated segments and any open segment.
func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.raw = nil
	a.open = false
	a.openStart = 0
}
