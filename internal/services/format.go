package services

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"prediction-dashboard/internal/models"
)

const attentionPriceChange = 15.0

// FormatProbability renders a 0..1 probability as a percentage.
func FormatProbability(p float64) string {
	return fmt.Sprintf("%.1f%%", p*100)
}

// FormatPercentage renders a signed percentage, e.g. "+12.5%".
func FormatPercentage(v float64) string {
	sign := ""
	if v >= 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.1f%%", sign, v)
}

// FormatPrice renders a USD amount with thousands separators.
func FormatPrice(price float64) string {
	neg := price < 0
	cents := int64(math.Round(math.Abs(price) * 100))
	whole := strconv.FormatInt(cents/100, 10)

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	b.WriteByte('$')
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	fmt.Fprintf(&b, ".%02d", cents%100)
	return b.String()
}

// FormatTimestamp renders backend timestamps as "02 Jan 2006 15:04".
// Unparseable input is returned unchanged.
func FormatTimestamp(raw string) string {
	t, ok := models.ParseTimestamp(raw)
	if !ok {
		return raw
	}
	return t.Format("02 Jan 2006 15:04")
}

// NeedsAttention flags products an analyst should look at first.
func NeedsAttention(p models.CombinedPrediction) bool {
	if p.Bestseller != nil && p.Bestseller.IsPotentialBestseller {
		return true
	}
	if p.Price != nil && math.Abs(p.Price.PriceChangePercentage) > attentionPriceChange {
		return true
	}
	return p.Ranking != nil && p.Ranking.PredictedTrend == models.TrendDeclining
}

// Summary lists the recommended actions for a product on one line.
func Summary(p models.CombinedPrediction) string {
	var parts []string

	if p.Bestseller != nil && p.Bestseller.IsPotentialBestseller {
		parts = append(parts, fmt.Sprintf("Potential bestseller (%s)", FormatProbability(p.Bestseller.BestsellerProbability)))
	}

	if p.Price != nil && p.Price.PriceAction.NeedsAction() {
		action := "change"
		switch p.Price.PriceAction {
		case models.PriceActionIncrease:
			action = "increase"
		case models.PriceActionDecrease:
			action = "decrease"
		}
		parts = append(parts, fmt.Sprintf("Price %s recommended (%.1f%%)", action, math.Abs(p.Price.PriceChangePercentage)))
	}

	if p.Ranking != nil {
		switch p.Ranking.PredictedTrend {
		case models.TrendImproving:
			parts = append(parts, fmt.Sprintf("Ranking expected to improve (+%d places)", absInt(p.Ranking.EstimatedChange)))
		case models.TrendDeclining:
			parts = append(parts, fmt.Sprintf("Ranking expected to decline (-%d places)", absInt(p.Ranking.EstimatedChange)))
		}
	}

	if len(parts) == 0 {
		return "No action recommended"
	}
	return strings.Join(parts, " • ")
}

// AverageConfidence is the mean confidence of the sub-predictions present.
func AverageConfidence(p models.CombinedPrediction) float64 {
	var sum float64
	var n int
	if p.Bestseller != nil {
		sum += p.Bestseller.Confidence
		n++
	}
	if p.Ranking != nil {
		sum += p.Ranking.ConfidenceScore
		n++
	}
	if p.Price != nil {
		sum += p.Price.Confidence
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
