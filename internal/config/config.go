// Package config provides configuration management for the condor bot.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // schedule timezones in minimal containers

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"

	"github.com/eddiefleurent/scranton_condor/internal/backtest"
	"github.com/eddiefleurent/scranton_condor/internal/broker"
	"github.com/eddiefleurent/scranton_condor/internal/dashboard"
	"github.com/eddiefleurent/scranton_condor/internal/logging"
	"github.com/eddiefleurent/scranton_condor/internal/retry"
	"github.com/eddiefleurent/scranton_condor/internal/risk"
	"github.com/eddiefleurent/scranton_condor/internal/storage"
	"github.com/eddiefleurent/scranton_condor/internal/strategy"
)

const dateLayout = "2006-01-02"

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Risk        RiskConfig        `yaml:"risk"`
	Backtest    BacktestConfig    `yaml:"backtest"`
	Storage     StorageConfig     `yaml:"storage"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
	Notify      NotifyConfig      `yaml:"notify"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode      string `yaml:"mode"`       // paper | live
	LogLevel  string `yaml:"log_level"`  // debug | info | warn | error
	LogFormat string `yaml:"log_format"` // text | json
}

// BrokerConfig defines how the gateway is reached.
type BrokerConfig struct {
	Host           string               `yaml:"host"`
	Timeout        string               `yaml:"timeout"` // per-tick budget for gateway calls
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Port           int                  `yaml:"port"`
	ClientID       int                  `yaml:"client_id"`
}

// RetryConfig bounds connection attempts.
type RetryConfig struct {
	InitialBackoff string `yaml:"initial_backoff"`
	MaxBackoff     string `yaml:"max_backoff"`
	MaxAttempts    int    `yaml:"max_attempts"`
}

// CircuitBreakerConfig mirrors broker.CircuitBreakerSettings.
type CircuitBreakerConfig struct {
	Interval     string  `yaml:"interval"`
	Timeout      string  `yaml:"timeout"`
	FailureRatio float64 `yaml:"failure_ratio"`
	MaxRequests  uint32  `yaml:"max_requests"`
	MinRequests  uint32  `yaml:"min_requests"`
}

// StrategyConfig defines the condor parameters.
type StrategyConfig struct {
	Symbol            string  `yaml:"symbol"`
	ShortPutDelta     float64 `yaml:"short_put_delta"`
	ShortCallDelta    float64 `yaml:"short_call_delta"`
	WingWidth         float64 `yaml:"wing_width"`
	MinCredit         float64 `yaml:"min_credit"`
	ProfitTargetPct   float64 `yaml:"profit_target_pct"`
	StopLossPct       float64 `yaml:"stop_loss_pct"`
	RiskFreeRate      float64 `yaml:"risk_free_rate"`
	TickSize          float64 `yaml:"tick_size"`
	TargetDTEMin      int     `yaml:"target_dte_min"`
	TargetDTEMax      int     `yaml:"target_dte_max"`
	DTEExit           int     `yaml:"dte_exit"`
	MaxPositions      int     `yaml:"max_positions"`
	ContractsPerTrade int     `yaml:"contracts_per_trade"`
}

// RiskConfig defines account-level limits.
type RiskConfig struct {
	MaxDailyLoss         float64 `yaml:"max_daily_loss"`
	MaxWeeklyLoss        float64 `yaml:"max_weekly_loss"`
	MaxDrawdownPct       float64 `yaml:"max_drawdown_pct"`
	VIXMinEntry          float64 `yaml:"vix_min_entry"`
	VIXMaxEntry          float64 `yaml:"vix_max_entry"`
	MaxPortfolioRiskPct  float64 `yaml:"max_portfolio_risk_pct"`
	MaxDailyTrades       int     `yaml:"max_daily_trades"`
	MaxWeeklyTrades      int     `yaml:"max_weekly_trades"`
	ConsecutiveLossLimit int     `yaml:"consecutive_loss_limit"`
}

// BacktestConfig defines the replay and the synthetic fill model. The fill
// model and initial capital also seed the paper account.
type BacktestConfig struct {
	DataPath              string  `yaml:"data_path"`
	StartDate             string  `yaml:"start_date"` // YYYY-MM-DD, empty for the first bar
	EndDate               string  `yaml:"end_date"`
	JournalDir            string  `yaml:"journal_dir"`
	SlippagePct           float64 `yaml:"slippage_pct"`
	CommissionPerContract float64 `yaml:"commission_per_contract"`
	InitialCapital        float64 `yaml:"initial_capital"`
	CloseAtEnd            bool    `yaml:"close_at_end"`
}

// ScheduleConfig defines the tick cadence and the entry window.
type ScheduleConfig struct {
	TickInterval   string   `yaml:"tick_interval"`
	Timezone       string   `yaml:"timezone"` // e.g., "America/New_York"
	EntryTimeStart string   `yaml:"entry_time_start"`
	EntryTimeEnd   string   `yaml:"entry_time_end"`
	EntryDays      []string `yaml:"entry_days"` // mon..sun
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver string `yaml:"driver"` // json | sqlite | postgres
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// DashboardConfig controls the read-only HTTP API.
type DashboardConfig struct {
	AuthToken string `yaml:"auth_token"`
	Port      int    `yaml:"port"`
	Enabled   bool   `yaml:"enabled"`
}

// NotifyConfig holds alert credentials. Empty disables Discord.
type NotifyConfig struct {
	DiscordToken     string `yaml:"discord_token"`
	DiscordChannelID string `yaml:"discord_channel_id"`
}

// Default returns the configuration used for every field the file omits.
func Default() *Config {
	s := strategy.DefaultConfig()
	return &Config{
		Environment: EnvironmentConfig{Mode: "paper", LogLevel: "info", LogFormat: "text"},
		Broker: BrokerConfig{
			Host:     "127.0.0.1",
			Port:     7497,
			ClientID: 1,
			Timeout:  "30s",
			Retry: RetryConfig{
				MaxAttempts:    retry.DefaultConfig.MaxAttempts,
				InitialBackoff: retry.DefaultConfig.InitialBackoff.String(),
				MaxBackoff:     retry.DefaultConfig.MaxBackoff.String(),
			},
			CircuitBreaker: CircuitBreakerConfig{
				MaxRequests:  broker.DefaultCircuitBreakerSettings.MaxRequests,
				Interval:     broker.DefaultCircuitBreakerSettings.Interval.String(),
				Timeout:      broker.DefaultCircuitBreakerSettings.Timeout.String(),
				MinRequests:  broker.DefaultCircuitBreakerSettings.MinRequests,
				FailureRatio: broker.DefaultCircuitBreakerSettings.FailureRatio,
			},
		},
		Schedule: ScheduleConfig{
			TickInterval:   "1m",
			Timezone:       "America/New_York",
			EntryDays:      []string{"mon", "tue", "wed", "thu", "fri"},
			EntryTimeStart: s.EntryStart,
			EntryTimeEnd:   s.EntryEnd,
		},
		Strategy: StrategyConfig{
			Symbol:            s.Symbol,
			ShortPutDelta:     s.ShortPutDelta,
			ShortCallDelta:    s.ShortCallDelta,
			WingWidth:         s.WingWidth,
			MinCredit:         s.MinCredit,
			ProfitTargetPct:   s.ProfitTargetPct,
			StopLossPct:       s.StopLossPct,
			RiskFreeRate:      0.05,
			TickSize:          s.TickSize,
			TargetDTEMin:      s.TargetDTEMin,
			TargetDTEMax:      s.TargetDTEMax,
			DTEExit:           s.DTEExit,
			MaxPositions:      s.MaxPositions,
			ContractsPerTrade: s.Contracts,
		},
		Risk: RiskConfig{
			MaxDailyLoss:         500,
			MaxWeeklyLoss:        1500,
			MaxDrawdownPct:       15,
			VIXMinEntry:          12,
			VIXMaxEntry:          35,
			MaxPortfolioRiskPct:  5,
			MaxDailyTrades:       1,
			MaxWeeklyTrades:      3,
			ConsecutiveLossLimit: 3,
		},
		Backtest: BacktestConfig{
			JournalDir:            "backtest_results",
			CommissionPerContract: 0.65,
			InitialCapital:        s.InitialEquity,
			CloseAtEnd:            true,
		},
		Storage:   StorageConfig{Driver: "json", Path: "data/positions.json"},
		Dashboard: DashboardConfig{Port: 8080},
	}
}

// Load reads a .env file when envPath exists, then parses the YAML file at
// configPath over Default(). ${VAR} references are expanded from the
// environment before parsing.
func Load(configPath, envPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}
	if envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err != nil {
				return nil, fmt.Errorf("loading %s: %w", envPath, err)
			}
		}
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML content. Unknown keys are errors.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	config := Default()
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...interface{}) { errs = append(errs, fmt.Errorf(format, args...)) }

	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		add("environment.mode must be 'paper' or 'live'")
	}
	if err := logging.ValidateLevel(c.Environment.LogLevel); err != nil {
		add("environment.log_level: %w", err)
	}
	if c.Environment.LogFormat != "text" && c.Environment.LogFormat != "json" {
		add("environment.log_format must be 'text' or 'json'")
	}

	if c.Broker.Host == "" {
		add("broker.host is required")
	}
	if c.Broker.Port <= 0 || c.Broker.Port > 65535 {
		add("broker.port must be in 1..65535")
	}
	if c.Broker.ClientID < 0 {
		add("broker.client_id must be >= 0")
	}
	for name, v := range map[string]string{
		"broker.timeout":                  c.Broker.Timeout,
		"broker.retry.initial_backoff":    c.Broker.Retry.InitialBackoff,
		"broker.retry.max_backoff":        c.Broker.Retry.MaxBackoff,
		"broker.circuit_breaker.interval": c.Broker.CircuitBreaker.Interval,
		"broker.circuit_breaker.timeout":  c.Broker.CircuitBreaker.Timeout,
		"schedule.tick_interval":          c.Schedule.TickInterval,
	} {
		if d, err := time.ParseDuration(v); err != nil || d < 0 {
			add("%s invalid: %q", name, v)
		}
	}
	if d, err := time.ParseDuration(c.Schedule.TickInterval); err == nil && d <= 0 {
		add("schedule.tick_interval must be > 0")
	}
	if c.Broker.Retry.MaxAttempts <= 0 {
		add("broker.retry.max_attempts must be > 0")
	}
	if r := c.Broker.CircuitBreaker.FailureRatio; r <= 0 || r > 1 {
		add("broker.circuit_breaker.failure_ratio must be in (0,1]")
	}

	if _, err := c.StrategyConfig(); err != nil {
		errs = append(errs, err)
	}
	if c.Strategy.RiskFreeRate < 0 || c.Strategy.RiskFreeRate > 0.25 {
		add("strategy.risk_free_rate must be in [0,0.25]")
	}

	if c.Risk.MaxDailyLoss <= 0 {
		add("risk.max_daily_loss must be > 0")
	}
	if c.Risk.MaxWeeklyLoss < 0 {
		add("risk.max_weekly_loss must be >= 0")
	}
	if c.Risk.MaxDrawdownPct <= 0 || c.Risk.MaxDrawdownPct > 100 {
		add("risk.max_drawdown_pct must be in (0,100]")
	}
	if c.Risk.ConsecutiveLossLimit <= 0 {
		add("risk.consecutive_loss_limit must be > 0")
	}
	if c.Risk.MaxDailyTrades < 0 || c.Risk.MaxWeeklyTrades < 0 {
		add("risk trade caps must be >= 0")
	}
	if c.Risk.VIXMinEntry < 0 || (c.Risk.VIXMaxEntry > 0 && c.Risk.VIXMinEntry > c.Risk.VIXMaxEntry) {
		add("risk.vix_min_entry (%.2f) must be within [0, vix_max_entry (%.2f)]", c.Risk.VIXMinEntry, c.Risk.VIXMaxEntry)
	}
	if c.Risk.MaxPortfolioRiskPct < 0 || c.Risk.MaxPortfolioRiskPct > 100 {
		add("risk.max_portfolio_risk_pct must be in [0,100]")
	}

	if c.Backtest.SlippagePct < 0 || c.Backtest.SlippagePct >= 100 {
		add("backtest.slippage_pct must be in [0,100)")
	}
	if c.Backtest.CommissionPerContract < 0 {
		add("backtest.commission_per_contract must be >= 0")
	}
	if c.Backtest.InitialCapital <= 0 {
		add("backtest.initial_capital must be > 0")
	}
	start, err1 := parseDate(c.Backtest.StartDate)
	end, err2 := parseDate(c.Backtest.EndDate)
	if err1 != nil {
		add("backtest.start_date: %w", err1)
	}
	if err2 != nil {
		add("backtest.end_date: %w", err2)
	}
	if err1 == nil && err2 == nil && !start.IsZero() && !end.IsZero() && end.Before(start) {
		add("backtest.end_date must not be before start_date")
	}

	switch c.Storage.Driver {
	case "json", "sqlite":
		if c.Storage.Path == "" {
			add("storage.path is required for the %s driver", c.Storage.Driver)
		}
	case "postgres":
		if c.Storage.DSN == "" {
			add("storage.dsn is required for the postgres driver")
		}
	default:
		add("storage.driver must be json, sqlite or postgres")
	}

	if c.Dashboard.Enabled && (c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535) {
		add("dashboard.port must be in 1..65535")
	}
	if (c.Notify.DiscordToken == "") != (c.Notify.DiscordChannelID == "") {
		add("notify.discord_token and notify.discord_channel_id must be set together")
	}

	return errors.Join(errs...)
}

// IsPaperTrading returns true if the bot is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// Location loads the schedule timezone.
func (c *Config) Location() (*time.Location, error) {
	tz := c.Schedule.Timezone
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("schedule.timezone %q: %w", tz, err)
	}
	return loc, nil
}

// TickInterval returns the live tick cadence.
func (c *Config) TickInterval() time.Duration {
	return durationOr(c.Schedule.TickInterval, time.Minute)
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// ParseWeekday accepts three-letter or full English day names.
func ParseWeekday(s string) (time.Weekday, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if len(key) > 3 {
		key = key[:3]
	}
	if d, ok := weekdays[key]; ok {
		return d, nil
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

// StrategyConfig converts the file settings into the engine's config.
func (c *Config) StrategyConfig() (strategy.Config, error) {
	loc, err := c.Location()
	if err != nil {
		return strategy.Config{}, err
	}
	days := make([]time.Weekday, 0, len(c.Schedule.EntryDays))
	for _, name := range c.Schedule.EntryDays {
		d, err := ParseWeekday(name)
		if err != nil {
			return strategy.Config{}, fmt.Errorf("schedule.entry_days: %w", err)
		}
		days = append(days, d)
	}
	sc := strategy.Config{
		Location:        loc,
		Symbol:          c.Strategy.Symbol,
		EntryStart:      c.Schedule.EntryTimeStart,
		EntryEnd:        c.Schedule.EntryTimeEnd,
		EntryDays:       days,
		ShortPutDelta:   c.Strategy.ShortPutDelta,
		ShortCallDelta:  c.Strategy.ShortCallDelta,
		WingWidth:       c.Strategy.WingWidth,
		MinCredit:       c.Strategy.MinCredit,
		ProfitTargetPct: c.Strategy.ProfitTargetPct,
		StopLossPct:     c.Strategy.StopLossPct,
		TickSize:        c.Strategy.TickSize,
		InitialEquity:   c.Backtest.InitialCapital,
		TickTimeout:     durationOr(c.Broker.Timeout, 30*time.Second),
		TargetDTEMin:    c.Strategy.TargetDTEMin,
		TargetDTEMax:    c.Strategy.TargetDTEMax,
		DTEExit:         c.Strategy.DTEExit,
		MaxPositions:    c.Strategy.MaxPositions,
		Contracts:       c.Strategy.ContractsPerTrade,
	}
	if err := sc.Validate(); err != nil {
		return strategy.Config{}, fmt.Errorf("strategy: %w", err)
	}
	return sc, nil
}

// RiskLimits converts the risk section
func (c *Config) RiskLimits() risk.Limits {
	return risk.Limits{
		MaxDailyLoss:         c.Risk.MaxDailyLoss,
		MaxWeeklyLoss:        c.Risk.MaxWeeklyLoss,
		MaxDailyTrades:       c.Risk.MaxDailyTrades,
		MaxWeeklyTrades:      c.Risk.MaxWeeklyTrades,
		MaxDrawdownPct:       c.Risk.MaxDrawdownPct,
		ConsecutiveLossLimit: c.Risk.ConsecutiveLossLimit,
		VIXMin:               c.Risk.VIXMinEntry,
		VIXMax:               c.Risk.VIXMaxEntry,
		MaxPortfolioRiskPct:  c.Risk.MaxPortfolioRiskPct,
	}
}

// FillModel returns the synthetic fill model shared by paper and backtest.
func (c *Config) FillModel() broker.FillModel {
	return broker.FillModel{
		SlippagePct:           c.Backtest.SlippagePct,
		CommissionPerContract: c.Backtest.CommissionPerContract,
	}
}

// RetryConfig returns the connection retry bounds.
func (c *Config) RetryConfig() retry.Config {
	return retry.Config{
		MaxAttempts:    c.Broker.Retry.MaxAttempts,
		InitialBackoff: durationOr(c.Broker.Retry.InitialBackoff, retry.DefaultConfig.InitialBackoff),
		MaxBackoff:     durationOr(c.Broker.Retry.MaxBackoff, retry.DefaultConfig.MaxBackoff),
		Timeout:        retry.DefaultConfig.Timeout,
	}
}

// CircuitBreakerSettings returns the gateway breaker settings.
func (c *Config) CircuitBreakerSettings() broker.CircuitBreakerSettings {
	cb := c.Broker.CircuitBreaker
	def := broker.DefaultCircuitBreakerSettings
	return broker.CircuitBreakerSettings{
		MaxRequests:  cb.MaxRequests,
		Interval:     durationOr(cb.Interval, def.Interval),
		Timeout:      durationOr(cb.Timeout, def.Timeout),
		MinRequests:  cb.MinRequests,
		FailureRatio: cb.FailureRatio,
	}
}

// StorageOptions returns the backend selection
func (c *Config) StorageOptions() storage.Options {
	return storage.Options{Driver: c.Storage.Driver, Path: c.Storage.Path, DSN: c.Storage.DSN}
}

// DashboardConfig returns the listener settings
func (c *Config) DashboardConfig() dashboard.Config {
	return dashboard.Config{Port: c.Dashboard.Port, AuthToken: c.Dashboard.AuthToken}
}

// BacktestConfig assembles a simulator configuration.
func (c *Config) BacktestConfig() (backtest.Config, error) {
	sc, err := c.StrategyConfig()
	if err != nil {
		return backtest.Config{}, err
	}
	start, err := parseDate(c.Backtest.StartDate)
	if err != nil {
		return backtest.Config{}, fmt.Errorf("backtest.start_date: %w", err)
	}
	end, err := parseDate(c.Backtest.EndDate)
	if err != nil {
		return backtest.Config{}, fmt.Errorf("backtest.end_date: %w", err)
	}
	return backtest.Config{
		Start:        start,
		End:          end,
		Strategy:     sc,
		Limits:       c.RiskLimits(),
		Fill:         c.FillModel(),
		RiskFreeRate: c.Strategy.RiskFreeRate,
		CloseAtEnd:   c.Backtest.CloseAtEnd,
	}, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateLayout, s)
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
