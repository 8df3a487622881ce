package live

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rustyeddy/intraday/botstate"
	"github.com/rustyeddy/intraday/ledger"
)

// StatusView is the JSON body of GET /status.
type StatusView struct {
	Running     bool           `json:"running"`
	LastCommand string         `json:"last_command,omitempty"`
	CommandAt   *time.Time     `json:"command_at,omitempty"`
	Heartbeat   *time.Time     `json:"heartbeat,omitempty"`
	Cycles      int64          `json:"cycles"`
	Balance     float64        `json:"balance"`
	Available   float64        `json:"available"`
	MarginUsed  float64        `json:"margin_used"`
	Equity      float64        `json:"equity"`
	Positions   []PositionView `json:"positions"`
}

type PositionView struct {
	ID         string    `json:"id"`
	Asset      string    `json:"asset"`
	Direction  string    `json:"direction"`
	Size       float64   `json:"size"`
	Entry      float64   `json:"entry"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	Margin     float64   `json:"margin"`
	OpenTime   time.Time `json:"open_time"`
}

// ControlHandler serves the run/pause switch:
//
//	GET  /status  state, account and open positions
//	POST /start   resume trading at the next cycle
//	POST /pause   stop opening at the next cycle
func ControlHandler(state *botstate.State, led *ledger.Ledger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "GET only", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, statusView(state, led))
	})
	mux.HandleFunc("/start", command(state, led, state.Start))
	mux.HandleFunc("/pause", command(state, led, state.Pause))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func command(state *botstate.State, led *ledger.Ledger, do func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		do()
		writeJSON(w, statusView(state, led))
	}
}

func statusView(state *botstate.State, led *ledger.Ledger) StatusView {
	st := state.Status()
	snap := led.Snapshot()
	v := StatusView{
		Running:     st.Running,
		LastCommand: st.LastCommand,
		Cycles:      st.Cycles,
		Balance:     snap.Account.Balance,
		Available:   snap.Account.Available,
		MarginUsed:  snap.Account.MarginUsed,
		Equity:      snap.Equity,
		Positions:   make([]PositionView, 0, len(snap.Positions)),
	}
	if !st.CommandAt.IsZero() {
		v.CommandAt = &st.CommandAt
	}
	if !st.Heartbeat.IsZero() {
		v.Heartbeat = &st.Heartbeat
	}
	for _, p := range snap.Positions {
		v.Positions = append(v.Positions, PositionView{
			ID:         p.ID,
			Asset:      p.Asset,
			Direction:  p.Direction.String(),
			Size:       p.Size,
			Entry:      p.Entry,
			StopLoss:   p.StopLoss,
			TakeProfit: p.TakeProfit,
			Margin:     p.Margin,
			OpenTime:   p.OpenTime,
		})
	}
	return v
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
