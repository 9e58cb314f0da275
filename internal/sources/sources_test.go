package sources

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consensus-trader/internal/models"
)

// fixedQuotes serves canned quotes and history.
type fixedQuotes struct {
	quote   Quote
	history []float64
	err     error
}

func (f fixedQuotes) Quote(ctx context.Context, symbol string) (Quote, error) {
	return f.quote, f.err
}

func (f fixedQuotes) History(ctx context.Context, symbol string, n int) ([]float64, error) {
	return f.history, f.err
}

type fixedNews struct {
	headlines []Headline
	err       error
}

func (f fixedNews) Headlines(ctx context.Context, symbol string, limit int) ([]Headline, error) {
	return f.headlines, f.err
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	src := NewMarketDataSource("market_data", fixedQuotes{}, time.Second, time.Minute)

	require.NoError(t, r.Register(src))
	assert.Error(t, r.Register(src))
	assert.Equal(t, []string{"market_data"}, r.Names())
}

func TestMarketDataDirections(t *testing.T) {
	cases := []struct {
		name  string
		quote Quote
		want  models.Direction
	}{
		{
			name:  "gap up near the high",
			quote: Quote{Price: 102, PrevClose: 100, High: 102.5, Low: 100.5},
			want:  models.DirectionBuy,
		},
		{
			name:  "gap down near the low",
			quote: Quote{Price: 98, PrevClose: 100, High: 99.8, Low: 97.9},
			want:  models.DirectionSell,
		},
		{
			name:  "flat day",
			quote: Quote{Price: 100.05, PrevClose: 100, High: 100.5, Low: 99.6},
			want:  models.DirectionNeutral,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := NewMarketDataSource("market_data", fixedQuotes{quote: tc.quote}, time.Second, time.Minute)
			op, err := src.Fetch(context.Background(), "AAPL")
			require.NoError(t, err)
			assert.Equal(t, tc.want, op.Direction)
			assert.Equal(t, "market_data", op.SourceID)
			assert.GreaterOrEqual(t, op.Confidence, 0.0)
			assert.LessOrEqual(t, op.Confidence, 100.0)
		})
	}
}

func TestMarketDataErrors(t *testing.T) {
	src := NewMarketDataSource("market_data", fixedQuotes{err: errors.New("feed down")}, time.Second, time.Minute)
	_, err := src.Fetch(context.Background(), "AAPL")
	assert.Error(t, err)

	src = NewMarketDataSource("market_data", fixedQuotes{quote: Quote{Price: 0}}, time.Second, time.Minute)
	_, err = src.Fetch(context.Background(), "AAPL")
	assert.Error(t, err, "zero price is not a usable quote")
}

func TestTechnicalTrendDirections(t *testing.T) {
	uptrend := make([]float64, 20)
	downtrend := make([]float64, 20)
	for i := range uptrend {
		uptrend[i] = 100 + float64(i)
		downtrend[i] = 120 - float64(i)
	}

	src := NewTechnicalSource("technical", fixedQuotes{history: uptrend}, time.Second, time.Minute)
	op, err := src.Fetch(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, models.DirectionBuy, op.Direction)
	assert.Greater(t, op.Confidence, 50.0)

	src = NewTechnicalSource("technical", fixedQuotes{history: downtrend}, time.Second, time.Minute)
	op, err = src.Fetch(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, models.DirectionSell, op.Direction)
	assert.Greater(t, op.Confidence, 50.0)
}

func TestTechnicalFlatIsNeutral(t *testing.T) {
	flat := make([]float64, 20)
	for i := range flat {
		flat[i] = 100
	}
	src := NewTechnicalSource("technical", fixedQuotes{history: flat}, time.Second, time.Minute)

	op, err := src.Fetch(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, models.DirectionNeutral, op.Direction)
}

func TestTechnicalInsufficientHistory(t *testing.T) {
	src := NewTechnicalSource("technical", fixedQuotes{history: []float64{100, 101}}, time.Second, time.Minute)
	_, err := src.Fetch(context.Background(), "AAPL")
	assert.Error(t, err)
}

func TestSentimentWeightsRecencyAndRelevance(t *testing.T) {
	now := time.Now()
	headlines := []Headline{
		{Title: "strong earnings", Sentiment: 0.8, Relevance: 1, PublishedAt: now},
		{Title: "old lawsuit", Sentiment: -0.9, Relevance: 1, PublishedAt: now.Add(-48 * time.Hour)},
	}
	src := NewSentimentSource("sentiment", fixedNews{headlines: headlines}, time.Second, time.Minute)

	op, err := src.Fetch(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, models.DirectionBuy, op.Direction, "fresh positive news outweighs stale negative news")
}

func TestSentimentNegativeAndNeutral(t *testing.T) {
	now := time.Now()

	src := NewSentimentSource("sentiment", fixedNews{headlines: []Headline{
		{Title: "guidance cut", Sentiment: -0.7, Relevance: 1, PublishedAt: now},
	}}, time.Second, time.Minute)
	op, err := src.Fetch(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, models.DirectionSell, op.Direction)
	assert.InDelta(t, 70, op.Confidence, 1)

	src = NewSentimentSource("sentiment", fixedNews{headlines: []Headline{
		{Title: "mixed coverage", Sentiment: 0.05, Relevance: 1, PublishedAt: now},
	}}, time.Second, time.Minute)
	op, err = src.Fetch(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, models.DirectionNeutral, op.Direction)
}

func TestSentimentNoHeadlines(t *testing.T) {
	src := NewSentimentSource("sentiment", fixedNews{}, time.Second, time.Minute)
	_, err := src.Fetch(context.Background(), "AAPL")
	assert.Error(t, err)
}

func TestSimFeedQuoteAndHistory(t *testing.T) {
	feed := NewSimFeed(42)
	feed.SetPrice("AAPL", 100)
	ctx := context.Background()

	q, err := feed.Quote(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", q.Symbol)
	assert.Greater(t, q.Price, 0.0)
	assert.GreaterOrEqual(t, q.High, q.Low)

	closes, err := feed.History(ctx, "AAPL", 20)
	require.NoError(t, err)
	assert.Len(t, closes, 20)
	for _, c := range closes {
		assert.Greater(t, c, 0.0)
	}

	headlines, err := feed.Headlines(ctx, "AAPL", 5)
	require.NoError(t, err)
	require.NotEmpty(t, headlines)
	for _, h := range headlines {
		assert.GreaterOrEqual(t, h.Sentiment, -1.0)
		assert.LessOrEqual(t, h.Sentiment, 1.0)
	}
}
