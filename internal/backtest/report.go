package backtest

import (
	"fmt"
	"io"
	"text/template"
)

var reportFuncs = template.FuncMap{
	"money": func(x float64) string { return fmt.Sprintf("$%.2f", x) },
	"pct":   func(x float64) string { return fmt.Sprintf("%.2f%%", x) },
	"ratio": func(x float64) string { return fmt.Sprintf("%.2f", x) },
}

const reportTemplate = `==================================================
BACKTEST {{.RunID}}
==================================================
Period:           {{.Start.Format "2006-01-02"}} to {{.End.Format "2006-01-02"}} ({{len .Curve}} days, {{.SkippedDays}} skipped)
Initial capital:  {{money .InitialCapital}}
Final equity:     {{money .Metrics.FinalEquity}}

Trades:           {{.Metrics.TotalTrades}} ({{.Metrics.WinningTrades}} won, {{.Metrics.LosingTrades}} lost)
Win rate:         {{pct .Metrics.WinRate}}
Profit factor:    {{ratio .Metrics.ProfitFactor}}
Total P&L:        {{money .Metrics.TotalPnL}}
Average P&L:      {{money .Metrics.AvgPnL}}
Average win:      {{money .Metrics.AvgWin}}
Average loss:     {{money .Metrics.AvgLoss}}
Largest win:      {{money .Metrics.LargestWin}}
Largest loss:     {{money .Metrics.LargestLoss}}
Commissions:      {{money .Metrics.TotalCommissions}}

Total return:     {{pct .Metrics.TotalReturnPct}}
Annual return:    {{pct .Metrics.AnnualReturnPct}}
Max drawdown:     {{pct .Metrics.MaxDrawdownPct}}
Sharpe:           {{ratio .Metrics.Sharpe}}
Sortino:          {{ratio .Metrics.Sortino}}
Calmar:           {{ratio .Metrics.Calmar}}
{{if .Metrics.ExitReasons}}
Exit reasons:
{{range $reason, $n := .Metrics.ExitReasons}}  {{printf "%-16s" $reason}} {{$n}}
{{end}}{{end}}{{if .Metrics.Monthly}}
Monthly P&L:
{{range .Metrics.Monthly}}  {{.Month}}          {{money .PnL}}
{{end}}{{end}}`

var report = template.Must(template.New("report").Funcs(reportFuncs).Parse(reportTemplate))

// WriteReport renders the human-readable summary.
func (r *Result) WriteReport(w io.Writer) error {
	return report.Execute(w, r)
}
