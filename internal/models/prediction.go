package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

type BestsellerPrediction struct {
	ProductID             string         `json:"productId"`
	ProductName           string         `json:"productName"`
	BestsellerProbability float64        `json:"bestsellerProbability"`
	IsPotentialBestseller bool           `json:"isPotentialBestseller"`
	PotentialLevel        PotentialLevel `json:"potentialLevel"`
	Recommendation        string         `json:"recommendation"`
	Confidence            float64        `json:"confidence,omitempty"`
	PredictedAt           string         `json:"predictedAt"`
}

type RankingTrendPrediction struct {
	ProductID       string  `json:"productId"`
	ProductName     string  `json:"productName"`
	CurrentRank     int     `json:"currentRank"`
	PredictedRank   int     `json:"predictedRank"`
	PredictedTrend  Trend   `json:"predictedTrend"`
	EstimatedChange int     `json:"estimatedChange"`
	ConfidenceScore float64 `json:"confidenceScore"`
	PredictedAt     string  `json:"predictedAt"`
}

// rankingWire covers both spellings the backend has used for ranking
// records: camelCase from the cache endpoint and snake_case from the DTO.
type rankingWire struct {
	ProductID       *string  `json:"productId"`
	ProductName     *string  `json:"productName"`
	CurrentRank     *int     `json:"currentRank"`
	PredictedRank   *int     `json:"predictedRank"`
	PredictedTrend  *Trend   `json:"predictedTrend"`
	EstimatedChange *int     `json:"estimatedChange"`
	ConfidenceScore *float64 `json:"confidenceScore"`
	PredictedAt     *string  `json:"predictedAt"`

	SnakeProductID       *string  `json:"product_id"`
	SnakeProductName     *string  `json:"product_name"`
	SnakeCurrentRank     *int     `json:"current_rank"`
	SnakePredictedRank   *int     `json:"predicted_rank"`
	SnakePredictedTrend  *Trend   `json:"predicted_trend"`
	SnakeEstimatedChange *int     `json:"estimated_change"`
	SnakeConfidenceScore *float64 `json:"confidence_score"`
	SnakePredictedAt     *string  `json:"predicted_at"`
}

func (r *RankingTrendPrediction) UnmarshalJSON(data []byte) error {
	var w rankingWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = RankingTrendPrediction{
		ProductID:       first(w.ProductID, w.SnakeProductID),
		ProductName:     first(w.ProductName, w.SnakeProductName),
		CurrentRank:     first(w.CurrentRank, w.SnakeCurrentRank),
		PredictedRank:   first(w.PredictedRank, w.SnakePredictedRank),
		PredictedTrend:  first(w.PredictedTrend, w.SnakePredictedTrend),
		EstimatedChange: first(w.EstimatedChange, w.SnakeEstimatedChange),
		ConfidenceScore: first(w.ConfidenceScore, w.SnakeConfidenceScore),
		PredictedAt:     first(w.PredictedAt, w.SnakePredictedAt),
	}
	if r.PredictedTrend == "" {
		r.PredictedTrend = TrendUnknown
	}
	return nil
}

func first[T any](candidates ...*T) T {
	for _, c := range candidates {
		if c != nil {
			return *c
		}
	}
	var zero T
	return zero
}

type PriceIntelligence struct {
	ProductID             string      `json:"productId"`
	ProductName           string      `json:"productName"`
	CurrentPrice          float64     `json:"currentPrice"`
	RecommendedPrice      float64     `json:"recommendedPrice"`
	PriceChangePercentage float64     `json:"priceChangePercentage"`
	PriceAction           PriceAction `json:"priceAction"`
	Confidence            float64     `json:"confidence,omitempty"`
	AnalyzedAt            string      `json:"analyzedAt"`
}

// LatestPredictions is the envelope of GET /predictions/latest.
type LatestPredictions struct {
	BestsellerPredictions []BestsellerPrediction   `json:"bestsellerPredictions"`
	RankingPredictions    []RankingTrendPrediction `json:"rankingPredictions"`
	PriceIntelligence     []PriceIntelligence      `json:"priceIntelligence"`
	TotalCount            int                      `json:"totalCount"`
	LastRefreshedAt       string                   `json:"lastRefreshedAt"`
	IsRefreshing          bool                     `json:"isRefreshing"`
	FromCache             bool                     `json:"fromCache"`
}

// RefreshAck is returned when a background refresh job was accepted.
type RefreshAck struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

type RefreshStatus struct {
	IsRefreshing         bool   `json:"isRefreshing"`
	Status               string `json:"status"`
	LastRefreshStarted   string `json:"lastRefreshStarted,omitempty"`
	LastRefreshCompleted string `json:"lastRefreshCompleted,omitempty"`
	LastSuccessCount     int    `json:"lastSuccessCount,omitempty"`
	LastErrorCount       int    `json:"lastErrorCount,omitempty"`
}

type BackendHealth struct {
	SpringBootService  string `json:"springBootService"`
	MLServiceAvailable bool   `json:"mlServiceAvailable"`
}

// CombinedPrediction joins the three prediction kinds for one product.
// Any of the three may be nil.
type CombinedPrediction struct {
	ProductID   string                  `json:"productId"`
	ProductName string                  `json:"productName"`
	Bestseller  *BestsellerPrediction   `json:"bestseller"`
	Ranking     *RankingTrendPrediction `json:"ranking"`
	Price       *PriceIntelligence      `json:"price"`
	LastUpdated string                  `json:"lastUpdated"`
}

type PredictionStats struct {
	TotalProducts            int     `json:"totalProducts"`
	PotentialBestsellers     int     `json:"potentialBestsellers"`
	ImprovingRankings        int     `json:"improvingRankings"`
	PriceRecommendations     int     `json:"priceRecommendations"`
	AvgBestsellerProbability float64 `json:"avgBestsellerProbability"`
}

// ParseTimestamp understands the zone-less LocalDateTime strings the
// backend emits as well as RFC 3339 and most other common layouts.
// Zone-less values are read as UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	t, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
