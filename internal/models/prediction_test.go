package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseTrend(t *testing.T) {
	tests := []struct {
		in   string
		want Trend
	}{
		{"IMPROVING", TrendImproving},
		{"AMÉLIORATION", TrendImproving},
		{"amélioration", TrendImproving},
		{" AMÃ‰LIORATION ", TrendImproving},
		{"DECLINING", TrendDeclining},
		{"DÉCLIN", TrendDeclining},
		{"STABLE", TrendStable},
		{"", TrendUnknown},
		{"SIDEWAYS", TrendUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			require.Equal(t, tt.want, ParseTrend(tt.in))
		})
	}
}

func TestBilingualVocabulariesClassifyAlike(t *testing.T) {
	require.Equal(t, ParseTrend("IMPROVING").IsImproving(), ParseTrend("AMÉLIORATION").IsImproving())
	require.True(t, ParseTrend("AMÉLIORATION").IsImproving())

	require.Equal(t, ParsePriceAction("MAINTAIN").NeedsAction(), ParsePriceAction("MAINTENIR").NeedsAction())
	require.False(t, ParsePriceAction("MAINTENIR").NeedsAction())
	require.True(t, ParsePriceAction("AUGMENTER").NeedsAction())
	require.True(t, ParsePriceAction("DIMINUER").NeedsAction())
	require.True(t, ParsePriceAction("???").NeedsAction())
}

func TestParsePotentialLevel(t *testing.T) {
	require.Equal(t, PotentialVeryHigh, ParsePotentialLevel("TRÈS ÉLEVÉ"))
	require.Equal(t, PotentialVeryHigh, ParsePotentialLevel("very_high"))
	require.Equal(t, PotentialHigh, ParsePotentialLevel("ÉLEVÉ"))
	require.Equal(t, PotentialModerate, ParsePotentialLevel("MODÉRÉ"))
	require.Equal(t, PotentialLow, ParsePotentialLevel("FAIBLE"))
	require.Equal(t, PotentialVeryLow, ParsePotentialLevel("TRÈS FAIBLE"))
	require.Equal(t, PotentialUnknown, ParsePotentialLevel("MEGA"))
}

func TestLatestPredictions_DecodeNormalizesEnums(t *testing.T) {
	payload := `{
		"bestsellerPredictions": [{"productId":"P1","productName":"Widget","bestsellerProbability":0.82,
			"isPotentialBestseller":true,"potentialLevel":"ÉLEVÉ","predictedAt":"2025-01-10T09:30:00"}],
		"rankingPredictions": [{"productId":"P1","currentRank":12,"predictedRank":7,"predictedTrend":"AMÉLIORATION"}],
		"priceIntelligence": [{"productId":"P2","priceAction":"MAINTENIR","currentPrice":10,"recommendedPrice":10}],
		"totalCount": 2,
		"lastRefreshedAt": "2025-01-10T09:31:00",
		"isRefreshing": false,
		"fromCache": true
	}`

	var latest LatestPredictions
	require.NoError(t, json.Unmarshal([]byte(payload), &latest))

	require.Len(t, latest.BestsellerPredictions, 1)
	require.Equal(t, PotentialHigh, latest.BestsellerPredictions[0].PotentialLevel)
	require.Equal(t, TrendImproving, latest.RankingPredictions[0].PredictedTrend)
	require.Equal(t, PriceActionMaintain, latest.PriceIntelligence[0].PriceAction)
	require.True(t, latest.FromCache)
	require.Equal(t, 2, latest.TotalCount)
}

func TestRankingTrendPrediction_SnakeCase(t *testing.T) {
	payload := `{"product_id":"P9","product_name":"Lamp","current_rank":40,"predicted_rank":22,
		"predicted_trend":"DÉCLIN","estimated_change":-18,"confidence_score":0.7,"predicted_at":"2025-02-01T00:00:00"}`

	var r RankingTrendPrediction
	require.NoError(t, json.Unmarshal([]byte(payload), &r))

	require.Equal(t, "P9", r.ProductID)
	require.Equal(t, "Lamp", r.ProductName)
	require.Equal(t, 40, r.CurrentRank)
	require.Equal(t, 22, r.PredictedRank)
	require.Equal(t, TrendDeclining, r.PredictedTrend)
	require.Equal(t, -18, r.EstimatedChange)
	require.InDelta(t, 0.7, r.ConfidenceScore, 1e-9)
	require.Equal(t, "2025-02-01T00:00:00", r.PredictedAt)
}

func TestRankingTrendPrediction_CamelCaseWins(t *testing.T) {
	payload := `{"productId":"A","product_id":"B","predictedTrend":"STABLE"}`

	var r RankingTrendPrediction
	require.NoError(t, json.Unmarshal([]byte(payload), &r))
	require.Equal(t, "A", r.ProductID)
	require.Equal(t, TrendStable, r.PredictedTrend)
}

func TestRankingTrendPrediction_MissingTrend(t *testing.T) {
	var r RankingTrendPrediction
	require.NoError(t, json.Unmarshal([]byte(`{"productId":"A"}`), &r))
	require.Equal(t, TrendUnknown, r.PredictedTrend)
}

func TestParseTimestamp(t *testing.T) {
	got, ok := ParseTimestamp("2025-01-10T09:30:00")
	require.True(t, ok)
	require.Equal(t, time.Date(2025, 1, 10, 9, 30, 0, 0, time.UTC), got.UTC())

	got, ok = ParseTimestamp("2025-01-10T09:30:00Z")
	require.True(t, ok)
	require.Equal(t, 2025, got.Year())

	_, ok = ParseTimestamp("")
	require.False(t, ok)

	_, ok = ParseTimestamp("not a date")
	require.False(t, ok)
}
