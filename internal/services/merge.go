package services

import (
	"prediction-dashboard/internal/models"
)

const unknownProductName = "Unknown"

// MergePredictions joins the three prediction arrays by product id.
//
// Arrays are visited in a fixed order (bestseller, ranking, price) and a
// later record only fills an empty slot, so the bestseller record is the
// canonical source of the product name. The result keeps the order in which
// product ids were first introduced.
func MergePredictions(latest *models.LatestPredictions) []models.CombinedPrediction {
	if latest == nil {
		return []models.CombinedPrediction{}
	}

	index := make(map[string]int)
	merged := make([]models.CombinedPrediction, 0, len(latest.BestsellerPredictions))

	upsert := func(productID, productName string) *models.CombinedPrediction {
		if i, ok := index[productID]; ok {
			return &merged[i]
		}
		if productName == "" {
			productName = unknownProductName
		}
		merged = append(merged, models.CombinedPrediction{
			ProductID:   productID,
			ProductName: productName,
		})
		index[productID] = len(merged) - 1
		return &merged[len(merged)-1]
	}

	for i := range latest.BestsellerPredictions {
		b := latest.BestsellerPredictions[i]
		cp := upsert(b.ProductID, b.ProductName)
		if cp.Bestseller == nil {
			cp.Bestseller = &b
		}
	}

	for i := range latest.RankingPredictions {
		r := latest.RankingPredictions[i]
		cp := upsert(r.ProductID, r.ProductName)
		if cp.Ranking == nil {
			cp.Ranking = &r
		}
	}

	for i := range latest.PriceIntelligence {
		p := latest.PriceIntelligence[i]
		cp := upsert(p.ProductID, p.ProductName)
		if cp.Price == nil {
			cp.Price = &p
		}
	}

	for i := range merged {
		merged[i].LastUpdated = lastUpdated(&merged[i])
	}

	return merged
}

// lastUpdated picks the most recent parseable source timestamp. When none
// parses, the raw timestamp of the first present source is kept.
func lastUpdated(cp *models.CombinedPrediction) string {
	var candidates []string
	if cp.Bestseller != nil {
		candidates = append(candidates, cp.Bestseller.PredictedAt)
	}
	if cp.Ranking != nil {
		candidates = append(candidates, cp.Ranking.PredictedAt)
	}
	if cp.Price != nil {
		candidates = append(candidates, cp.Price.AnalyzedAt)
	}

	best := ""
	var bestParsed bool
	for _, raw := range candidates {
		t, ok := models.ParseTimestamp(raw)
		if !ok {
			continue
		}
		if !bestParsed {
			best, bestParsed = raw, true
			continue
		}
		if cur, _ := models.ParseTimestamp(best); t.After(cur) {
			best = raw
		}
	}
	if bestParsed {
		return best
	}
	for _, raw := range candidates {
		if raw != "" {
			return raw
		}
	}
	return ""
}

// ComputeStats derives the dashboard counters in one pass over the merged
// predictions. The average probability is expressed as a percentage.
func ComputeStats(predictions []models.CombinedPrediction) models.PredictionStats {
	stats := models.PredictionStats{TotalProducts: len(predictions)}

	var probabilitySum float64
	var bestsellerCount int
	for _, p := range predictions {
		if p.Bestseller != nil {
			bestsellerCount++
			probabilitySum += p.Bestseller.BestsellerProbability
			if p.Bestseller.IsPotentialBestseller {
				stats.PotentialBestsellers++
			}
		}
		if p.Ranking != nil && p.Ranking.PredictedTrend.IsImproving() {
			stats.ImprovingRankings++
		}
		if p.Price != nil && p.Price.PriceAction.NeedsAction() {
			stats.PriceRecommendations++
		}
	}

	if bestsellerCount > 0 {
		stats.AvgBestsellerProbability = probabilitySum / float64(bestsellerCount) * 100
	}

	return stats
}
