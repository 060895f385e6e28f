package models

import (
	"encoding/json"
	"strings"
)

// The backend answers in either an English or a French vocabulary for the
// same values. Everything is normalized to the English constants on decode.

type Trend string

const (
	TrendImproving Trend = "IMPROVING"
	TrendDeclining Trend = "DECLINING"
	TrendStable    Trend = "STABLE"
	TrendUnknown   Trend = "UNKNOWN"
)

var trendLiterals = map[string]Trend{
	"IMPROVING":     TrendImproving,
	"AMÉLIORATION":  TrendImproving,
	"AMÃ‰LIORATION": TrendImproving, // mojibake seen in older payloads
	"DECLINING":     TrendDeclining,
	"DÉCLIN":        TrendDeclining,
	"STABLE":        TrendStable,
}

func ParseTrend(s string) Trend {
	if t, ok := trendLiterals[normalizeLiteral(s)]; ok {
		return t
	}
	return TrendUnknown
}

func (t Trend) IsImproving() bool { return t == TrendImproving }

func (t *Trend) UnmarshalJSON(data []byte) error {
	s, err := decodeLiteral(data)
	if err != nil {
		return err
	}
	*t = ParseTrend(s)
	return nil
}

type PriceAction string

const (
	PriceActionIncrease PriceAction = "INCREASE"
	PriceActionDecrease PriceAction = "DECREASE"
	PriceActionMaintain PriceAction = "MAINTAIN"
	PriceActionUnknown  PriceAction = "UNKNOWN"
)

var priceActionLiterals = map[string]PriceAction{
	"INCREASE":  PriceActionIncrease,
	"AUGMENTER": PriceActionIncrease,
	"DECREASE":  PriceActionDecrease,
	"DIMINUER":  PriceActionDecrease,
	"MAINTAIN":  PriceActionMaintain,
	"MAINTENIR": PriceActionMaintain,
}

func ParsePriceAction(s string) PriceAction {
	if a, ok := priceActionLiterals[normalizeLiteral(s)]; ok {
		return a
	}
	return PriceActionUnknown
}

// NeedsAction reports whether the recommendation is anything but "keep the
// current price". Unrecognised actions count as needing attention.
func (a PriceAction) NeedsAction() bool { return a != PriceActionMaintain }

func (a *PriceAction) UnmarshalJSON(data []byte) error {
	s, err := decodeLiteral(data)
	if err != nil {
		return err
	}
	*a = ParsePriceAction(s)
	return nil
}

type PotentialLevel string

const (
	PotentialVeryHigh PotentialLevel = "VERY_HIGH"
	PotentialHigh     PotentialLevel = "HIGH"
	PotentialModerate PotentialLevel = "MODERATE"
	PotentialLow      PotentialLevel = "LOW"
	PotentialVeryLow  PotentialLevel = "VERY_LOW"
	PotentialUnknown  PotentialLevel = "UNKNOWN"
)

var potentialLiterals = map[string]PotentialLevel{
	"VERY_HIGH":   PotentialVeryHigh,
	"VERY HIGH":   PotentialVeryHigh,
	"TRÈS ÉLEVÉ":  PotentialVeryHigh,
	"HIGH":        PotentialHigh,
	"ÉLEVÉ":       PotentialHigh,
	"MODERATE":    PotentialModerate,
	"MODÉRÉ":      PotentialModerate,
	"LOW":         PotentialLow,
	"FAIBLE":      PotentialLow,
	"VERY_LOW":    PotentialVeryLow,
	"VERY LOW":    PotentialVeryLow,
	"TRÈS FAIBLE": PotentialVeryLow,
}

func ParsePotentialLevel(s string) PotentialLevel {
	if l, ok := potentialLiterals[normalizeLiteral(s)]; ok {
		return l
	}
	return PotentialUnknown
}

func (l *PotentialLevel) UnmarshalJSON(data []byte) error {
	s, err := decodeLiteral(data)
	if err != nil {
		return err
	}
	*l = ParsePotentialLevel(s)
	return nil
}

func normalizeLiteral(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// decodeLiteral accepts a JSON string or null.
func decodeLiteral(data []byte) (string, error) {
	if string(data) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return "", err
	}
	return s, nil
}
