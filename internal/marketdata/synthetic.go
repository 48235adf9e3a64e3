package marketdata

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/eddiefleurent/scranton_condor/internal/models"
)

// WalkConfig parameterizes a synthetic geometric random walk.
type WalkConfig struct {
	Start      time.Time
	Symbol     string
	StartPrice float64
	DailyVol   float64 // standard deviation of daily log returns
	IV         float64 // fixed implied vol; zero uses the seasonal estimate
	VIX        float64
	Days       int // trading days to generate
	Seed       int64
}

// seedOrRandom returns seed, or a crypto-random seed when zero.
func seedOrRandom(seed int64) int64 {
	if seed != 0 {
		return seed
	}
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return time.Now().UnixNano()
	}
	return int64(binary.LittleEndian.Uint64(b[:]) >> 1)
}

// GenerateWalk builds a historical source of weekday bars. The same
// non-zero seed always yields the same bars. DailyVol of zero gives a flat
// path.
func GenerateWalk(cfg WalkConfig) *MemorySource {
	if cfg.StartPrice <= 0 {
		cfg.StartPrice = 450
	}
	if cfg.Symbol == "" {
		cfg.Symbol = "SPY"
	}
	rng := rand.New(rand.NewSource(seedOrRandom(cfg.Seed))) // #nosec G404 -- reproducible simulation, not security

	day := time.Date(cfg.Start.Year(), cfg.Start.Month(), cfg.Start.Day(), 0, 0, 0, 0, time.UTC)
	price := cfg.StartPrice
	snaps := make([]models.MarketSnapshot, 0, cfg.Days)
	for len(snaps) < cfg.Days {
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			day = day.AddDate(0, 0, 1)
			continue
		}
		open := price
		if cfg.DailyVol > 0 {
			price *= math.Exp(rng.NormFloat64()*cfg.DailyVol - cfg.DailyVol*cfg.DailyVol/2)
		}
		swing := math.Abs(rng.NormFloat64()) * cfg.DailyVol / 2 * price
		iv := cfg.IV
		if iv <= 0 && cfg.VIX <= 0 {
			iv = SeasonalVolatility(day)
		}
		snaps = append(snaps, models.MarketSnapshot{
			Symbol: cfg.Symbol,
			Date:   day,
			Time:   time.Date(day.Year(), day.Month(), day.Day(), marketCloseHour, 0, 0, 0, time.UTC),
			Price:  price,
			High:   math.Max(open, price) + swing,
			Low:    math.Min(open, price) - swing,
			IV:     iv,
			VIX:    cfg.VIX,
		})
		day = day.AddDate(0, 0, 1)
	}
	return NewMemorySource(snaps, nil)
}

// Ticker is a live Source that nudges the price a little on every call.
// It stands in for a market-data feed in paper mode.
type Ticker struct {
	rng    *rand.Rand
	symbol string
	price  float64
	iv     float64
	mu     sync.Mutex
}

// NewTicker starts a ticker at price. Seed 0 picks a random seed.
func NewTicker(symbol string, price, iv float64, seed int64) *Ticker {
	return &Ticker{
		rng:    rand.New(rand.NewSource(seedOrRandom(seed))), // #nosec G404 -- simulated prices
		symbol: symbol,
		price:  price,
		iv:     iv,
	}
}

// Snapshot returns the next simulated print stamped at at.
func (t *Ticker) Snapshot(ctx context.Context, at time.Time) (models.MarketSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return models.MarketSnapshot{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.price += (t.rng.Float64() - 0.5) * 2
	if t.price < 1 {
		t.price = 1
	}
	iv := t.iv
	if iv <= 0 {
		iv = SeasonalVolatility(at)
	}
	return models.MarketSnapshot{Symbol: t.symbol, Time: at, Price: t.price, IV: iv}, nil
}
