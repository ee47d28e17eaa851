package synth

import (
	"context"
)

const localModel = "layered-mix-local"

// Engine is the built-in generator used when no remote synth endpoint is
// configured. It allots each country a fixed slice of the track and emits a
// placeholder buffer, which is enough to exercise the whole pipeline end to
// end in development.
type Engine struct {
	segmentMs int64
}

// NewEngine builds a local engine. segmentMs is the per-country slice length;
// zero selects the 5s default.
func NewEngine(segmentMs int64) *Engine {
	if segmentMs <= 0 {
		segmentMs = 5000
	}
	return &Engine{segmentMs: segmentMs}
}

// Generate lays the country groups out back to back, one slice per country.
// Timings are contiguous and deterministic for a given group order.
func (e *Engine) Generate(_ context.Context, groups []CountryGroup) (*Result, error) {
	segments := make([]Segment, 0, len(groups))
	var cursor int64
	for _, g := range groups {
		segments = append(segments, Segment{
			CountryCode: g.CountryCode,
			CountryName: CountryName(g.CountryCode),
			StartTimeMs: cursor,
			EndTimeMs:   cursor + e.segmentMs,
			DurationMs:  e.segmentMs,
			VoiceCount:  len(g.Contributions),
		})
		cursor += e.segmentMs
	}

	// One placeholder byte per millisecond keeps the buffer size proportional
	// to the track length.
	audio := make([]byte, cursor)
	for i := range audio {
		audio[i] = byte(i)
	}

	return &Result{
		Audio:      audio,
		DurationMs: cursor,
		Model:      localModel,
		Segments:   segments,
	}, nil
}

var countryNames = map[string]string{
	"US": "United States",
	"GB": "United Kingdom",
	"DE": "Germany",
	"FR": "France",
	"JP": "Japan",
	"CN": "China",
	"IN": "India",
	"BR": "Brazil",
	"TH": "Thailand",
	"AU": "Australia",
}

// CountryName resolves an ISO code to a display name, falling back to the
// code itself for countries outside the table.
func CountryName(code string) string {
	if name, ok := countryNames[code]; ok {
		return name
	}
	return code
}
