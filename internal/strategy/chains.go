package strategy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/eddiefleurent/scranton_condor/internal/broker"
	"github.com/eddiefleurent/scranton_condor/internal/models"
	"github.com/eddiefleurent/scranton_condor/internal/pricing"
)

// ChainProvider lists the listed expirations and strikes the engine may
// choose from. Prices always come from the pricing model, never the chain.
type ChainProvider interface {
	Expirations(ctx context.Context, underlying string, asOf time.Time) ([]time.Time, error)
	Strikes(ctx context.Context, underlying string, expiration time.Time, spot float64) ([]float64, error)
}

// GatewayChains reads expirations and strikes from a broker gateway.
type GatewayChains struct {
	Gateway broker.Gateway
}

// Expirations returns the gateway's listed expirations
func (g GatewayChains) Expirations(ctx context.Context, underlying string, _ time.Time) ([]time.Time, error) {
	exps, err := g.Gateway.GetExpirations(ctx, underlying)
	if err != nil {
		return nil, fmt.Errorf("getting %s expirations: %w", underlying, err)
	}
	return exps, nil
}

// Strikes returns the distinct strikes of the chain, ascending
func (g GatewayChains) Strikes(ctx context.Context, underlying string, expiration time.Time, _ float64) ([]float64, error) {
	chain, err := g.Gateway.GetOptionChain(ctx, underlying, expiration)
	if err != nil {
		return nil, fmt.Errorf("getting %s chain for %s: %w", underlying, expiration.Format("2006-01-02"), err)
	}
	seen := make(map[float64]bool, len(chain)/2)
	strikes := make([]float64, 0, len(chain)/2)
	for _, q := range chain {
		if !seen[q.Strike] {
			seen[q.Strike] = true
			strikes = append(strikes, q.Strike)
		}
	}
	sort.Float64s(strikes)
	return strikes, nil
}

// errNoExpiration means no listed expiration falls in the DTE window.
var errNoExpiration = errors.New("no expiration in target DTE window")

// nearestExpiration picks the eligible expiration with the fewest days left.
func nearestExpiration(exps []time.Time, asOf time.Time, minDTE, maxDTE int) (time.Time, int, error) {
	best, bestDTE := time.Time{}, math.MaxInt
	for _, exp := range exps {
		dte := models.CalendarDays(asOf, exp)
		if dte < minDTE || dte > maxDTE {
			continue
		}
		if dte < bestDTE {
			best, bestDTE = exp, dte
		}
	}
	if best.IsZero() {
		return time.Time{}, 0, fmt.Errorf("%w [%d, %d]", errNoExpiration, minDTE, maxDTE)
	}
	return best, bestDTE, nil
}

// strikeChoice is the result of a delta search.
type strikeChoice struct {
	Strike float64
	Delta  float64
}

// SelectStrike returns the strike whose model delta is closest to target.
// Ties go to the strike nearer at-the-money, then to the lower strike.
func SelectStrike(model pricing.Model, t models.OptionType, spot, vol float64, asOf, expiration time.Time,
	strikes []float64, target float64) (float64, float64, error) {
	if len(strikes) == 0 {
		return 0, 0, errors.New("empty strike grid")
	}
	var best strikeChoice
	bestErr := math.Inf(1)
	for _, k := range strikes {
		q, err := model.Option(t, spot, k, vol, asOf, expiration)
		if err != nil {
			return 0, 0, fmt.Errorf("delta for %s %.2f: %w", t, k, err)
		}
		e := math.Abs(q.Delta - target)
		switch {
		case e < bestErr:
		case e == bestErr && closerToMoney(k, best.Strike, spot):
		default:
			continue
		}
		best, bestErr = strikeChoice{Strike: k, Delta: q.Delta}, e
	}
	return best.Strike, best.Delta, nil
}

func closerToMoney(k, incumbent, spot float64) bool {
	dk, di := math.Abs(k-spot), math.Abs(incumbent-spot)
	if dk != di {
		return dk < di
	}
	return k < incumbent
}
