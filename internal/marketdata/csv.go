package marketdata

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/eddiefleurent/scranton_condor/internal/models"
)

// marketClose stamps daily bars so the snapshot time sits at the close.
const marketCloseHour = 16

// LoadCSV reads daily bars with a header row. Recognized columns:
//
//	date,open,high,low,close,volume[,vix][,iv]
//
// date is YYYY-MM-DD. A row whose close is empty or unparsable stays on the
// calendar but reports ErrDataUnavailable. When neither vix nor iv is present
// the seasonal estimate is used.
func LoadCSV(path, symbol string, loc *time.Location) (*MemorySource, error) {
	f, err := os.Open(path) // #nosec G304 -- path is the configured backtest data file
	if err != nil {
		return nil, fmt.Errorf("opening market data: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ReadCSV(f, symbol, loc)
}

// ReadCSV is LoadCSV over an io.Reader.
func ReadCSV(r io.Reader, symbol string, loc *time.Location) (*MemorySource, error) {
	if loc == nil {
		loc = time.UTC
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := cols["date"]; !ok {
		return nil, fmt.Errorf("market data header missing date column")
	}
	if _, ok := cols["close"]; !ok {
		return nil, fmt.Errorf("market data header missing close column")
	}

	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	num := func(row []string, name string) float64 {
		v, err := strconv.ParseFloat(field(row, name), 64)
		if err != nil {
			return 0
		}
		return v
	}

	var (
		snaps    []models.MarketSnapshot
		calendar []time.Time
		line     = 1
	)
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ds := field(row, "date")
		if ds == "" {
			continue
		}
		day, err := time.ParseInLocation("2006-01-02", ds, loc)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad date %q: %w", line, ds, err)
		}
		calendar = append(calendar, day)

		closePx := num(row, "close")
		if closePx <= 0 {
			continue
		}
		snap := models.MarketSnapshot{
			Symbol: symbol,
			Date:   day,
			Time:   time.Date(day.Year(), day.Month(), day.Day(), marketCloseHour, 0, 0, 0, loc),
			Price:  closePx,
			High:   num(row, "high"),
			Low:    num(row, "low"),
			VIX:    num(row, "vix"),
			IV:     num(row, "iv"),
		}
		if snap.IV <= 0 && snap.VIX <= 0 {
			snap.IV = SeasonalVolatility(day)
		}
		snaps = append(snaps, snap)
	}

	if len(calendar) == 0 {
		return nil, fmt.Errorf("market data contains no rows")
	}
	return NewMemorySource(snaps, calendar), nil
}
