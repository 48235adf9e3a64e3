package orders

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/eddiefleurent/scranton_condor/internal/broker"
	"github.com/eddiefleurent/scranton_condor/internal/models"
)

// Discrepancy is an option line whose broker quantity differs from what the
// known positions imply.
type Discrepancy struct {
	Symbol   string
	Expected int
	Held     int
}

func (d Discrepancy) String() string {
	return fmt.Sprintf("%s expected %d held %d", d.Symbol, d.Expected, d.Held)
}

// ExpectedHoldings returns the signed contract count per OCC symbol implied
// by positions that still hold legs (OPEN or CLOSING).
func ExpectedHoldings(positions []*models.Position) map[string]int {
	out := make(map[string]int)
	for _, p := range positions {
		if p == nil {
			continue
		}
		switch p.GetCurrentState() {
		case models.StateOpen, models.StateClosing:
		default:
			continue
		}
		for _, leg := range p.Legs {
			q := leg.Quantity
			if leg.Side == models.SideShort {
				q = -q
			}
			out[leg.OCCSymbol(p.Symbol)] += q
		}
	}
	return out
}

// Reconcile compares broker holdings for underlying with the expected
// holdings and returns every mismatch, sorted by symbol. Lines on other
// underlyings are ignored.
func Reconcile(underlying string, held []broker.PositionItem, positions []*models.Position) []Discrepancy {
	expected := ExpectedHoldings(positions)
	actual := make(map[string]int)
	for _, item := range held {
		sym := item.Symbol
		u := item.Underlying
		if u == "" {
			parsed, err := ParseOCCSymbol(sym)
			if err != nil {
				continue
			}
			u = parsed.Underlying
		}
		if u != underlying {
			continue
		}
		actual[sym] += item.Quantity
	}

	var out []Discrepancy
	for sym, want := range expected {
		if actual[sym] != want {
			out = append(out, Discrepancy{Symbol: sym, Expected: want, Held: actual[sym]})
		}
	}
	for sym, have := range actual {
		if _, ok := expected[sym]; !ok && have != 0 {
			out = append(out, Discrepancy{Symbol: sym, Held: have})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// OCCSymbol is a parsed option symbol.
type OCCSymbol struct {
	Expiration time.Time
	Underlying string
	Type       models.OptionType
	Strike     float64
}

// ParseOCCSymbol parses TICKER + YYMMDD + C/P + strike×1000 padded to 8 digits,
// e.g. SPY250404P00428000.
func ParseOCCSymbol(symbol string) (OCCSymbol, error) {
	if len(symbol) < 16 {
		return OCCSymbol{}, fmt.Errorf("option symbol too short: %s", symbol)
	}
	strikePart := symbol[len(symbol)-8:]
	cp := symbol[len(symbol)-9]
	datePart := symbol[len(symbol)-15 : len(symbol)-9]
	root := symbol[:len(symbol)-15]

	var out OCCSymbol
	switch cp {
	case 'P':
		out.Type = models.OptionPut
	case 'C':
		out.Type = models.OptionCall
	default:
		return OCCSymbol{}, fmt.Errorf("no option type (C/P) found in symbol: %s", symbol)
	}
	exp, err := time.Parse("060102", datePart)
	if err != nil {
		return OCCSymbol{}, fmt.Errorf("invalid expiration in symbol %s: %w", symbol, err)
	}
	strikeInt, err := strconv.ParseInt(strikePart, 10, 64)
	if err != nil {
		return OCCSymbol{}, fmt.Errorf("invalid strike format in symbol %s: %w", symbol, err)
	}
	out.Underlying = root
	out.Expiration = exp
	out.Strike = float64(strikeInt) / 1000.0
	return out, nil
}
