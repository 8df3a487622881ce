package journal

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"text/template"
	"time"
)

// BacktestRun mirrors the backtest_runs table.
type BacktestRun struct {
	RunID     string
	Created   time.Time
	Status    string
	Timeframe string
	Dataset   string
	Assets    []string
	Config    []byte // YAML of the run's configuration

	Start time.Time
	End   time.Time

	Trades int
	Wins   int
	Losses int

	StartBalance float64
	EndBalance   float64

	NetPnL       float64
	ReturnPct    float64
	WinRate      float64 // 0..1
	ProfitFactor float64 // -1 when there were no losing trades
	MaxDDPct     float64
	Sharpe       float64
	Sortino      float64

	Notes []string
}

var backtestOrgFuncs = template.FuncMap{
	"mul100": func(x float64) float64 { return x * 100.0 },
	"pf": func(x float64) string {
		switch {
		case x < 0:
			return "no losses"
		case x == 0:
			return "n/a"
		}
		return fmt.Sprintf("%.2f", x)
	},
}

var backtestOrg = template.Must(template.New("backtest").Funcs(backtestOrgFuncs).Parse(BacktestOrgTemplate))

// WriteOrg renders the run as an Org-mode report.
func (v BacktestRun) WriteOrg(w io.Writer) error {
	return backtestOrg.Execute(w, v)
}

// WriteOrgFile writes the Org report to path.
func (v BacktestRun) WriteOrgFile(path string) error {
	var buf bytes.Buffer
	if err := v.WriteOrg(&buf); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

const BacktestOrgTemplate = `* BACKTEST: {{range $i, $a := .Assets}}{{if $i}}, {{end}}{{$a}}{{end}} {{if .Timeframe}}{{.Timeframe}}{{else}}(timeframe?){{end}}
:PROPERTIES:
:RUN_ID:      {{if .RunID}}{{.RunID}}{{else}}(run-id?){{end}}
:STATUS:      {{.Status}}
:TIMEFRAME:   {{if .Timeframe}}{{.Timeframe}}{{else}}(timeframe?){{end}}
:DATASET:     {{if .Dataset}}{{.Dataset}}{{else}}(dataset?){{end}}
:START_DATE:  {{.Start.Format "2006-01-02"}}
:END_DATE:    {{.End.Format "2006-01-02"}}
:START_BAL:   {{printf "%.2f" .StartBalance}}
:END_BAL:     {{printf "%.2f" .EndBalance}}
:NET_PNL:     {{printf "%.2f" .NetPnL}}
:RETURN_PCT:  {{printf "%.2f" .ReturnPct}}
:MAX_DD_PCT:  {{printf "%.2f" .MaxDDPct}}
:TRADES:      {{.Trades}}
:WINS:        {{.Wins}}
:LOSSES:      {{.Losses}}
:WIN_RATE:    {{printf "%.2f" (mul100 .WinRate)}}
:PROFIT_FAC:  {{pf .ProfitFactor}}
:CREATED:     [{{.Created.Format "2006-01-02 Mon 15:04"}}]
:END:

** Performance Summary
- Net P/L:          *{{printf "%.2f" .NetPnL}}*
- Return:           *{{printf "%.2f" .ReturnPct}}%*
- Max Drawdown:     *{{printf "%.2f" .MaxDDPct}}%*
- Win Rate:         *{{printf "%.2f" (mul100 .WinRate)}}%*
- Profit Factor:    *{{pf .ProfitFactor}}*
- Sharpe:           *{{printf "%.2f" .Sharpe}}*
- Sortino:          *{{printf "%.2f" .Sortino}}*

** Trade Distribution
| Outcome | Count |
|---------+-------|
| Wins    | {{.Wins}} |
| Losses  | {{.Losses}} |
| Total   | {{.Trades}} |
{{- if .Config }}

** Configuration
#+begin_src yaml
{{printf "%s" .Config}}
#+end_src
{{- end }}
{{- if .Notes }}

** Observations
{{- range .Notes }}
- {{.}}
{{- end }}
{{- end }}
`
