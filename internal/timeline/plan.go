package timeline

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// ErrInvalidDuration is returned when the target track length is not positive.
var ErrInvalidDuration = errors.New("timeline duration must be positive")

// Clip is a synthesized utterance ready to be placed.
type Clip struct {
	Index int
	Path  string
	Start float64
	// Length is the clip duration in seconds; zero means unknown, in which
	// case the placement is bounded only by the next clip and the track end.
	Length float64
}

// Placement is a clip, or one stretch of a clip, positioned on the output
// track.
type Placement struct {
	Index  int
	Path   string
	Offset float64
	// Skip is how far into the clip playback starts. It is non-zero for the
	// part of a clip that resumes after a later clip overlaid it.
	Skip float64
	// Duration is the maximum portion of the clip that is played.
	Duration float64
	// Trimmed is set when a later clip or the track end cut this one short.
	Trimmed bool
}

// End returns the track time at which the placement stops.
func (p Placement) End() float64 {
	return p.Offset + p.Duration
}

// Plan is a silent base track of Duration seconds with clips overlaid.
type Plan struct {
	Duration   float64
	Placements []Placement
	// Dropped lists clips that start at or after the end of the track.
	Dropped []int
}

// Build places clips in ascending start order. When two clips overlap the
// later start wins over the overlapped region: the earlier clip is silenced
// while the later one plays and resumes where the later one ends. A clip of
// unknown length is bounded by the next clip's start.
func Build(duration float64, clips []Clip) (Plan, error) {
	if duration <= 0 || math.IsNaN(duration) {
		return Plan{}, fmt.Errorf("%w: %v", ErrInvalidDuration, duration)
	}
	ordered := slices.Clone(clips)
	slices.SortStableFunc(ordered, func(a, b Clip) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		default:
			return a.Index - b.Index
		}
	})

	plan := Plan{Duration: duration}
	var placements []Placement
	for i, clip := range ordered {
		if clip.Start < 0 {
			return Plan{}, fmt.Errorf("clip %d starts before the track: %v", clip.Index, clip.Start)
		}
		if clip.Start >= duration {
			plan.Dropped = append(plan.Dropped, clip.Index)
			continue
		}
		end := duration
		if clip.Length > 0 {
			end = math.Min(clip.Start+clip.Length, duration)
		} else if i+1 < len(ordered) {
			end = math.Min(ordered[i+1].Start, duration)
		}
		placements = overlay(placements, clip.Start, end)
		placements = append(placements, Placement{
			Index:    clip.Index,
			Path:     clip.Path,
			Offset:   clip.Start,
			Duration: end - clip.Start,
			Trimmed:  clip.Length > 0 && clip.Start+clip.Length > duration,
		})
	}

	placed := make(map[int]struct{}, len(placements))
	for _, p := range placements {
		if p.Duration > 0 {
			plan.Placements = append(plan.Placements, p)
			placed[p.Index] = struct{}{}
		}
	}
	for _, clip := range ordered {
		if _, ok := placed[clip.Index]; !ok && clip.Start < duration {
			// Fully covered by later clips.
			plan.Dropped = append(plan.Dropped, clip.Index)
		}
	}
	slices.SortStableFunc(plan.Placements, func(a, b Placement) int {
		switch {
		case a.Offset < b.Offset:
			return -1
		case a.Offset > b.Offset:
			return 1
		default:
			return 0
		}
	})
	return plan, nil
}

// overlay silences every placement over [start, end), splitting a placement
// that spans the interval into the parts before and after it.
func overlay(placements []Placement, start, end float64) []Placement {
	out := placements[:0:0]
	for _, p := range placements {
		if p.End() <= start || p.Offset >= end {
			out = append(out, p)
			continue
		}
		if p.Offset < start {
			head := p
			head.Duration = start - p.Offset
			head.Trimmed = true
			out = append(out, head)
		}
		if p.End() > end {
			tail := p
			tail.Skip = p.Skip + (end - p.Offset)
			tail.Offset = end
			tail.Duration = p.End() - end
			tail.Trimmed = true
			out = append(out, tail)
		}
	}
	return out
}

// At returns the placement audible at track time t, if any.
func (p Plan) At(t float64) (Placement, bool) {
	for _, placement := range p.Placements {
		if t >= placement.Offset && t < placement.End() {
			return placement, true
		}
	}
	return Placement{}, false
}

// Silent reports whether nothing plays at track time t.
func (p Plan) Silent(t float64) bool {
	_, ok := p.At(t)
	return !ok
}
