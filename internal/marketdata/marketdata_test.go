package marketdata

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = `date,open,high,low,close,volume,vix
2025-03-03,450,452,448,451.5,1000,18.2
2025-03-04,451,453,447,,900,19.0
2025-03-05,449,455,446,454.25,1200,17.5
`

func TestReadCSV(t *testing.T) {
	src, err := ReadCSV(strings.NewReader(sampleCSV), "SPY", time.UTC)
	require.NoError(t, err)

	cal := src.Calendar()
	require.Len(t, cal, 3, "days without a close stay on the calendar")

	ctx := context.Background()
	s, err := src.Snapshot(ctx, cal[0])
	require.NoError(t, err)
	assert.Equal(t, 451.5, s.Price)
	assert.Equal(t, 18.2, s.VIX)
	assert.Equal(t, 452.0, s.High)
	assert.Equal(t, 448.0, s.Low)
	assert.True(t, s.IsDaily())
	assert.InDelta(t, 0.182, s.Volatility(), 1e-12)

	_, err = src.Snapshot(ctx, cal[1])
	assert.True(t, errors.Is(err, ErrDataUnavailable))

	_, err = src.Snapshot(ctx, cal[0].AddDate(0, 0, 30))
	assert.True(t, errors.Is(err, ErrDataUnavailable))
}

func TestReadCSV_SeasonalFallback(t *testing.T) {
	src, err := ReadCSV(strings.NewReader("Date,Close\n2025-10-01,570\n"), "SPY", nil)
	require.NoError(t, err)
	s, err := src.Snapshot(context.Background(), src.Calendar()[0])
	require.NoError(t, err)
	assert.InDelta(t, 0.18*1.2, s.IV, 1e-12)
}

func TestReadCSV_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"no date column", "close\n450\n"},
		{"no close column", "date\n2025-01-02\n"},
		{"bad date", "date,close\n01/02/2025,450\n"},
		{"header only", "date,close\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.data), "SPY", time.UTC)
			assert.Error(t, err)
		})
	}
}

func TestLoadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spy.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o600))
	src, err := LoadCSV(path, "SPY", time.UTC)
	require.NoError(t, err)
	assert.Len(t, src.Calendar(), 3)

	_, err = LoadCSV(filepath.Join(t.TempDir(), "missing.csv"), "SPY", time.UTC)
	assert.Error(t, err)
}

func TestMemorySource_Range(t *testing.T) {
	src, err := ReadCSV(strings.NewReader(sampleCSV), "SPY", time.UTC)
	require.NoError(t, err)
	r := src.Range(time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC), time.Time{})
	require.Len(t, r.Calendar(), 2)
	assert.Equal(t, 4, r.Calendar()[0].Day())
}

func TestSnapshotHonorsContext(t *testing.T) {
	src := GenerateWalk(WalkConfig{Start: time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC), Days: 3, Seed: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := src.Snapshot(ctx, src.Calendar()[0])
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWeeklyExpirations(t *testing.T) {
	wed := time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC)
	exps := WeeklyExpirations(wed, 3)
	require.Len(t, exps, 3)
	assert.Equal(t, time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC), exps[0])
	assert.Equal(t, time.Date(2025, 3, 21, 0, 0, 0, 0, time.UTC), exps[2])

	fri := time.Date(2025, 3, 7, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, 7, WeeklyExpirations(fri, 1)[0].Day(), "a Friday lists itself")
}

func TestStrikeGrid(t *testing.T) {
	g := StrikeGrid(450.4, 50, 1)
	require.Len(t, g, 101)
	assert.Equal(t, 400.0, g[0])
	assert.Equal(t, 500.0, g[100])
	assert.Contains(t, g, 450.0)

	g = StrikeGrid(20, 50, 5)
	assert.Equal(t, 5.0, g[0], "non-positive strikes are dropped")
}

func TestSyntheticChains(t *testing.T) {
	ctx := context.Background()
	exps, err := SyntheticChains{}.Expirations(ctx, "SPY", time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, exps, DefaultSyntheticChains.Weeks)
	strikes, err := DefaultSyntheticChains.Strikes(ctx, "SPY", exps[0], 450)
	require.NoError(t, err)
	assert.Len(t, strikes, 101)
}

func TestSeasonalVolatility(t *testing.T) {
	assert.InDelta(t, 0.18, SeasonalVolatility(time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)), 1e-12)
	assert.InDelta(t, 0.153, SeasonalVolatility(time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)), 1e-12)
}

func TestGenerateWalk(t *testing.T) {
	cfg := WalkConfig{Start: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), Days: 20, DailyVol: 0.01, Seed: 7}
	a, b := GenerateWalk(cfg), GenerateWalk(cfg)
	require.Len(t, a.Calendar(), 20)
	assert.Equal(t, a.Calendar(), b.Calendar())

	ctx := context.Background()
	for _, d := range a.Calendar() {
		assert.NotEqual(t, time.Saturday, d.Weekday())
		assert.NotEqual(t, time.Sunday, d.Weekday())
		sa, err := a.Snapshot(ctx, d)
		require.NoError(t, err)
		sb, err := b.Snapshot(ctx, d)
		require.NoError(t, err)
		assert.Equal(t, sa, sb)
		assert.LessOrEqual(t, sa.Low, sa.Price)
		assert.GreaterOrEqual(t, sa.High, sa.Price)
	}
}

func TestGenerateWalk_Flat(t *testing.T) {
	src := GenerateWalk(WalkConfig{Start: time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC), Days: 10, IV: 0.15, Seed: 3})
	for _, d := range src.Calendar() {
		s, err := src.Snapshot(context.Background(), d)
		require.NoError(t, err)
		assert.Equal(t, 450.0, s.Price)
		assert.Equal(t, 450.0, s.High)
		assert.Equal(t, 450.0, s.Low)
		assert.Equal(t, 0.15, s.IV)
	}
}

func TestTicker(t *testing.T) {
	tk := NewTicker("SPY", 450, 0.2, 11)
	at := time.Date(2025, 3, 3, 15, 0, 0, 0, time.UTC)
	s, err := tk.Snapshot(context.Background(), at)
	require.NoError(t, err)
	assert.Equal(t, at, s.Time)
	assert.InDelta(t, 450, s.Price, 1.0)
	assert.Equal(t, 0.2, s.IV)
	assert.NoError(t, s.Validate())
}
