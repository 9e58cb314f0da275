package sources

import (
	"context"
	"fmt"
	"math"
	"time"

	"consensus-trader/internal/models"
)

// SentimentSource aggregates headline sentiment into a directional call.
// Recent, relevant headlines weigh more than stale ones.
type SentimentSource struct {
	BaseSource
	news     NewsProvider
	maxItems int
	halfLife time.Duration
}

// NewSentimentSource creates the news-sentiment source.
func NewSentimentSource(name string, news NewsProvider, marketTTL, offTTL time.Duration) *SentimentSource {
	return &SentimentSource{
		BaseSource: NewBaseSource(name, models.CapabilitySentiment, marketTTL, offTTL),
		news:       news,
		maxItems:   20,
		halfLife:   6 * time.Hour,
	}
}

// Fetch produces an opinion for the symbol from recent headlines.
func (s *SentimentSource) Fetch(ctx context.Context, symbol string) (models.SourceOpinion, error) {
	started := time.Now()

	headlines, err := s.news.Headlines(ctx, symbol, s.maxItems)
	if err != nil {
		return models.SourceOpinion{}, err
	}
	if len(headlines) == 0 {
		return models.SourceOpinion{}, fmt.Errorf("no headlines for %s", symbol)
	}

	var weightedSum, totalWeight float64
	for _, h := range headlines {
		age := time.Since(h.PublishedAt)
		if age < 0 {
			age = 0
		}
		decay := math.Exp2(-age.Hours() / s.halfLife.Hours())
		relevance := h.Relevance
		if relevance <= 0 {
			relevance = 0.5
		}
		w := decay * relevance
		weightedSum += w * h.Sentiment
		totalWeight += w
	}

	score := 0.0
	if totalWeight > 0 {
		score = weightedSum / totalWeight // [-1, 1]
	}

	direction := models.DirectionNeutral
	if score > 0.15 {
		direction = models.DirectionBuy
	} else if score < -0.15 {
		direction = models.DirectionSell
	}
	confidence := math.Abs(score) * 100

	payload := fmt.Sprintf(`{"headlines":%d,"score":%.4f}`, len(headlines), score)

	return s.Opinion(symbol, direction, confidence, payload, started), nil
}
