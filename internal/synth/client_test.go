package synth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"anthem-pipeline/internal/models"
)

func TestClientGenerate(t *testing.T) {
	var gotGroups []CountryGroup
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/generate", r.URL.Path)
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotGroups = req.Groups

		_ = json.NewEncoder(w).Encode(Result{
			Audio:      []byte("mp3-bytes"),
			DurationMs: 8000,
			Model:      "remote-mix-v2",
			Segments: []Segment{
				{CountryCode: "TH", CountryName: "Thailand", StartTimeMs: 0, EndTimeMs: 5000, DurationMs: 5000, VoiceCount: 2},
				{CountryCode: "US", CountryName: "United States", StartTimeMs: 5000, EndTimeMs: 8000, DurationMs: 3000, VoiceCount: 1},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 2*time.Second)
	groups := GroupByCountry([]models.Contribution{
		{ContributionID: "c1", CountryCode: "TH"},
		{ContributionID: "c2", CountryCode: "US"},
		{ContributionID: "c3", CountryCode: "TH"},
	})

	result, err := client.Generate(context.Background(), groups)
	require.NoError(t, err)
	require.Equal(t, "remote-mix-v2", result.Model)
	require.Equal(t, int64(8000), result.DurationMs)
	require.Len(t, gotGroups, 2)
}

func TestClientGenerateRejectsInconsistentTimings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(Result{
			Audio:      []byte("x"),
			DurationMs: 9000,
			Segments: []Segment{
				{CountryCode: "TH", StartTimeMs: 0, EndTimeMs: 5000, DurationMs: 5000},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 2*time.Second)
	_, err := client.Generate(context.Background(), nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "segment durations")
}

func TestClientGenerateSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, 2*time.Second)
	_, err := client.Generate(context.Background(), nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 502")
}
