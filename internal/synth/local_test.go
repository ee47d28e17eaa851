package synth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"anthem-pipeline/internal/models"
)

func contributions() []models.Contribution {
	return []models.Contribution{
		{ContributionID: "c1", CountryCode: "TH", DurationMs: 4000},
		{ContributionID: "c2", CountryCode: "US", DurationMs: 3000},
		{ContributionID: "c3", CountryCode: "TH", DurationMs: 5000},
	}
}

func TestGroupByCountryPreservesDiscoveryOrder(t *testing.T) {
	groups := GroupByCountry(contributions())

	require.Len(t, groups, 2)
	require.Equal(t, "TH", groups[0].CountryCode)
	require.Equal(t, "US", groups[1].CountryCode)
	require.Len(t, groups[0].Contributions, 2)
	require.Len(t, groups[1].Contributions, 1)
}

func TestEngineProducesContiguousSegments(t *testing.T) {
	engine := NewEngine(5000)
	result, err := engine.Generate(context.Background(), GroupByCountry(contributions()))
	require.NoError(t, err)
	require.NoError(t, result.Validate())

	require.Len(t, result.Segments, 2)
	require.Equal(t, int64(10000), result.DurationMs)
	require.NotEmpty(t, result.Audio)

	var cursor int64
	for _, seg := range result.Segments {
		require.Equal(t, cursor, seg.StartTimeMs, "segments must be contiguous")
		cursor = seg.EndTimeMs
	}
	require.Equal(t, result.DurationMs, cursor)

	require.Equal(t, "Thailand", result.Segments[0].CountryName)
	require.Equal(t, 2, result.Segments[0].VoiceCount)
	require.Equal(t, "United States", result.Segments[1].CountryName)
	require.Equal(t, 1, result.Segments[1].VoiceCount)
}

func TestValidateCatchesBrokenTimings(t *testing.T) {
	r := &Result{
		Audio:      []byte{1},
		DurationMs: 10,
		Segments: []Segment{
			{StartTimeMs: 0, EndTimeMs: 5, DurationMs: 5},
			{StartTimeMs: 5, EndTimeMs: 9, DurationMs: 4},
		},
	}
	require.Error(t, r.Validate())

	r.Segments[1].EndTimeMs = 10
	r.Segments[1].DurationMs = 5
	require.NoError(t, r.Validate())
}

func TestCountryNameFallsBackToCode(t *testing.T) {
	require.Equal(t, "Germany", CountryName("DE"))
	require.Equal(t, "ZZ", CountryName("ZZ"))
}
