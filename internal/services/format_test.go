package services

import (
	"testing"

	"prediction-dashboard/internal/models"
)

func TestFormatHelpers(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"probability", FormatProbability(0.823), "82.3%"},
		{"positive percentage", FormatPercentage(12.54), "+12.5%"},
		{"zero percentage", FormatPercentage(0), "+0.0%"},
		{"negative percentage", FormatPercentage(-3.2), "-3.2%"},
		{"small price", FormatPrice(9.5), "$9.50"},
		{"thousands", FormatPrice(1234567.891), "$1,234,567.89"},
		{"negative price", FormatPrice(-1000), "-$1,000.00"},
		{"timestamp", FormatTimestamp("2025-01-10T09:30:00"), "10 Jan 2025 09:30"},
		{"bad timestamp", FormatTimestamp("soon"), "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestNeedsAttention(t *testing.T) {
	tests := []struct {
		name string
		p    models.CombinedPrediction
		want bool
	}{
		{"empty", models.CombinedPrediction{}, false},
		{"potential bestseller", models.CombinedPrediction{Bestseller: &models.BestsellerPrediction{IsPotentialBestseller: true}}, true},
		{"large price move", models.CombinedPrediction{Price: &models.PriceIntelligence{PriceChangePercentage: -16}}, true},
		{"small price move", models.CombinedPrediction{Price: &models.PriceIntelligence{PriceChangePercentage: 15}}, false},
		{"declining", models.CombinedPrediction{Ranking: &models.RankingTrendPrediction{PredictedTrend: models.ParseTrend("DÉCLIN")}}, true},
		{"stable", models.CombinedPrediction{Ranking: &models.RankingTrendPrediction{PredictedTrend: models.TrendStable}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NeedsAttention(tt.p); got != tt.want {
				t.Errorf("NeedsAttention() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSummary(t *testing.T) {
	p := models.CombinedPrediction{
		Bestseller: &models.BestsellerPrediction{IsPotentialBestseller: true, BestsellerProbability: 0.9},
		Price:      &models.PriceIntelligence{PriceAction: models.PriceActionIncrease, PriceChangePercentage: 7.3},
		Ranking:    &models.RankingTrendPrediction{PredictedTrend: models.TrendImproving, EstimatedChange: 5},
	}

	want := "Potential bestseller (90.0%) • Price increase recommended (7.3%) • Ranking expected to improve (+5 places)"
	if got := Summary(p); got != want {
		t.Errorf("Summary() = %q, want %q", got, want)
	}

	if got := Summary(models.CombinedPrediction{}); got != "No action recommended" {
		t.Errorf("Summary() of empty prediction = %q", got)
	}

	unknown := models.CombinedPrediction{Price: &models.PriceIntelligence{PriceAction: models.PriceActionUnknown, PriceChangePercentage: -20}}
	if got := Summary(unknown); got != "Price change recommended (20.0%)" {
		t.Errorf("Summary() with unknown action = %q", got)
	}

	decrease := models.CombinedPrediction{Price: &models.PriceIntelligence{PriceAction: models.PriceActionDecrease, PriceChangePercentage: -15.4}}
	if got := Summary(decrease); got != "Price decrease recommended (15.4%)" {
		t.Errorf("Summary() with DECREASE = %q", got)
	}

	maintain := models.CombinedPrediction{Price: &models.PriceIntelligence{PriceAction: models.PriceActionMaintain}}
	if got := Summary(maintain); got != "No action recommended" {
		t.Errorf("Summary() with MAINTAIN = %q", got)
	}
}

func TestAverageConfidence(t *testing.T) {
	p := models.CombinedPrediction{
		Bestseller: &models.BestsellerPrediction{Confidence: 0.9},
		Ranking:    &models.RankingTrendPrediction{ConfidenceScore: 0.6},
	}
	if got := AverageConfidence(p); got < 0.7499 || got > 0.7501 {
		t.Errorf("AverageConfidence() = %v, want 0.75", got)
	}
	if got := AverageConfidence(models.CombinedPrediction{}); got != 0 {
		t.Errorf("AverageConfidence() of empty = %v, want 0", got)
	}
}
