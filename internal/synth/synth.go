// Package synth talks to the audio-generation collaborator that mixes a
// day's voice contributions into one anthem track. The remote service is an
// opaque dependency; a deterministic local engine stands in when none is
// configured.
package synth

import (
	"context"
	"fmt"

	"anthem-pipeline/internal/models"
)

// CountryGroup is one country's contributions, in discovery order. Groups are
// a slice, not a map, because the order fixes segment sequencing.
type CountryGroup struct {
	CountryCode   string                `json:"country_code"`
	Contributions []models.Contribution `json:"contributions"`
}

// Segment is the per-country timing the generator reports for its output.
type Segment struct {
	CountryCode string `json:"country_code"`
	CountryName string `json:"country_name"`
	StartTimeMs int64  `json:"start_time_ms"`
	EndTimeMs   int64  `json:"end_time_ms"`
	DurationMs  int64  `json:"duration_ms"`
	VoiceCount  int    `json:"voice_count"`
}

// Result is a generated anthem: the audio buffer plus timing metadata.
// Segment durations sum to DurationMs and appear in playback order.
type Result struct {
	Audio      []byte    `json:"audio"`
	DurationMs int64     `json:"duration_ms"`
	Model      string    `json:"model"`
	Segments   []Segment `json:"segments"`
}

// Generator produces an anthem from grouped contributions.
type Generator interface {
	Generate(ctx context.Context, groups []CountryGroup) (*Result, error)
}

// Validate checks the timing invariants a generator must uphold.
func (r *Result) Validate() error {
	if len(r.Audio) == 0 {
		return fmt.Errorf("synth result: empty audio buffer")
	}
	var sum int64
	for i, seg := range r.Segments {
		if seg.DurationMs != seg.EndTimeMs-seg.StartTimeMs {
			return fmt.Errorf("synth result: segment %d timing mismatch", i)
		}
		sum += seg.DurationMs
	}
	if sum != r.DurationMs {
		return fmt.Errorf("synth result: segment durations sum to %d, total is %d", sum, r.DurationMs)
	}
	return nil
}

// GroupByCountry partitions contributions by country code, preserving the
// order in which countries first appear.
func GroupByCountry(contributions []models.Contribution) []CountryGroup {
	index := make(map[string]int)
	groups := make([]CountryGroup, 0)
	for _, c := range contributions {
		i, ok := index[c.CountryCode]
		if !ok {
			i = len(groups)
			index[c.CountryCode] = i
			groups = append(groups, CountryGroup{CountryCode: c.CountryCode})
		}
		groups[i].Contributions = append(groups[i].Contributions, c)
	}
	return groups
}
