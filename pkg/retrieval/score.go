package retrieval

import (
	"strings"
	"time"
)

const (
	recencyWindowDays = 7.0
	accessScoreCap    = 10
)

// keywordScore is the fraction of keywords present in the memory text.
func keywordScore(memoryText string, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}

	lower := strings.ToLower(memoryText)
	matches := 0
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			matches++
		}
	}
	return float64(matches) / float64(len(keywords))
}

// recencyScore decays linearly from 1.0 at createdAt to 0.0 at the window
// boundary. Unparseable (zero) timestamps score 0.5.
func recencyScore(createdAt, now time.Time) float64 {
	if createdAt.IsZero() {
		return 0.5
	}

	ageDays := now.Sub(createdAt).Hours() / 24
	switch {
	case ageDays <= 0:
		return 1.0
	case ageDays >= recencyWindowDays:
		return 0.0
	default:
		return 1.0 - ageDays/recencyWindowDays
	}
}

// accessScore normalizes the access count against a cap of 10.
func accessScore(accessCount int) float64 {
	score := float64(accessCount) / accessScoreCap
	if score > 1.0 {
		return 1.0
	}
	return score
}

// Weights are the relative contributions of the three ranking factors.
// They are normalized to sum to 1.0 when a retriever is built.
type Weights struct {
	Keyword float64
	Recency float64
	Access  float64
}

// DefaultWeights match the documented 0.5/0.3/0.2 split.
func DefaultWeights() Weights {
	return Weights{Keyword: 0.5, Recency: 0.3, Access: 0.2}
}

func (w Weights) normalized() Weights {
	total := w.Keyword + w.Recency + w.Access
	if total <= 0 {
		return DefaultWeights()
	}
	if total >= 0.99 && total <= 1.01 {
		return w
	}
	return Weights{
		Keyword: w.Keyword / total,
		Recency: w.Recency / total,
		Access:  w.Access / total,
	}
}

// composite blends the three factor scores by weight.
func (w Weights) composite(keyword, recency, access float64) float64 {
	return w.Keyword*keyword + w.Recency*recency + w.Access*access
}
