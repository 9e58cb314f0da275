package sources

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// SimFeed is a deterministic random-walk market feed for paper trading
// and tests. It implements QuoteProvider and NewsProvider.
type SimFeed struct {
	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]float64
	hist   map[string][]float64

	basePrice float64
	drift     float64
	vol       float64
}

// NewSimFeed creates a feed seeded for reproducible walks.
func NewSimFeed(seed int64) *SimFeed {
	return &SimFeed{
		rng:       rand.New(rand.NewSource(seed)),
		prices:    make(map[string]float64),
		hist:      make(map[string][]float64),
		basePrice: 100,
		drift:     0.0001,
		vol:       0.01,
	}
}

// SetPrice pins the current price for a symbol.
func (f *SimFeed) SetPrice(symbol string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[symbol] = price
	f.hist[symbol] = append(f.hist[symbol], price)
}

// Quote advances the symbol's walk one step and returns the snapshot.
func (f *SimFeed) Quote(ctx context.Context, symbol string) (Quote, error) {
	if err := ctx.Err(); err != nil {
		return Quote{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	price := f.step(symbol)
	history := f.hist[symbol]
	prev := price
	if len(history) > 1 {
		prev = history[len(history)-2]
	}

	high, low := price, price
	n := len(history)
	for i := max(0, n-20); i < n; i++ {
		if history[i] > high {
			high = history[i]
		}
		if history[i] < low {
			low = history[i]
		}
	}

	return Quote{
		Symbol:    symbol,
		Price:     price,
		Open:      prev,
		High:      high,
		Low:       low,
		PrevClose: prev,
		Volume:    int64(1000 + f.rng.Intn(100000)),
		Timestamp: time.Now(),
	}, nil
}

// History returns up to n recent closes, oldest first.
func (f *SimFeed) History(ctx context.Context, symbol string, n int) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	for len(f.hist[symbol]) < n {
		f.step(symbol)
	}
	history := f.hist[symbol]
	if len(history) > n {
		history = history[len(history)-n:]
	}
	out := make([]float64, len(history))
	copy(out, history)
	return out, nil
}

// Headlines returns synthetic headlines whose sentiment follows the
// symbol's recent drift.
func (f *SimFeed) Headlines(ctx context.Context, symbol string, limit int) ([]Headline, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	history := f.hist[symbol]
	trend := 0.0
	if len(history) >= 2 {
		trend = math.Tanh((history[len(history)-1] - history[0]) / history[0] * 10)
	}

	if limit <= 0 {
		limit = 5
	}
	headlines := make([]Headline, 0, limit)
	for i := 0; i < limit; i++ {
		headlines = append(headlines, Headline{
			Title:       symbol + " market update",
			Sentiment:   clampSentiment(trend + f.rng.NormFloat64()*0.2),
			Relevance:   0.5 + f.rng.Float64()*0.5,
			PublishedAt: time.Now().Add(-time.Duration(i) * time.Hour),
		})
	}
	return headlines, nil
}

// step advances the walk; callers hold the lock.
func (f *SimFeed) step(symbol string) float64 {
	price, ok := f.prices[symbol]
	if !ok {
		price = f.basePrice * (0.5 + f.rng.Float64())
	}
	price *= math.Exp(f.drift + f.vol*f.rng.NormFloat64())
	f.prices[symbol] = price
	f.hist[symbol] = append(f.hist[symbol], price)
	if len(f.hist[symbol]) > 512 {
		f.hist[symbol] = f.hist[symbol][len(f.hist[symbol])-512:]
	}
	return price
}

func clampSentiment(s float64) float64 {
	if s < -1 {
		return -1
	}
	if s > 1 {
		return 1
	}
	return s
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
