package market

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// named broker-style granularities
var namedTimeframes = map[string]time.Duration{
	"MINUTE":    time.Minute,
	"MINUTE_5":  5 * time.Minute,
	"MINUTE_15": 15 * time.Minute,
	"MINUTE_30": 30 * time.Minute,
	"HOUR":      time.Hour,
	"HOUR_4":    4 * time.Hour,
	"DAY":       24 * time.Hour,
	"WEEK":      7 * 24 * time.Hour,
}

// ParseTimeframe parses "15m", "1h", "4h", "1d", "1w" or a named granularity
// such as "MINUTE_15" or "HOUR".
func ParseTimeframe(s string) (time.Duration, error) {
	raw := strings.TrimSpace(s)
	if d, ok := namedTimeframes[strings.ToUpper(raw)]; ok {
		return d, nil
	}
	tf := strings.ToLower(raw)
	if len(tf) < 2 {
		return 0, fmt.Errorf("invalid timeframe %q", s)
	}
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", s)
	}
	switch tf[len(tf)-1] {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("invalid timeframe %q", s)
}

// FormatTimeframe renders d in the short form accepted by ParseTimeframe.
func FormatTimeframe(d time.Duration) string {
	switch {
	case d <= 0:
		return "0m"
	case d%(7*24*time.Hour) == 0:
		return fmt.Sprintf("%dw", d/(7*24*time.Hour))
	case d%(24*time.Hour) == 0:
		return fmt.Sprintf("%dd", d/(24*time.Hour))
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	default:
		return fmt.Sprintf("%dm", d/time.Minute)
	}
}

// Resample aggregates a fast series into buckets of length to. Buckets are
// aligned to multiples of to since the Unix epoch. A trailing bucket that has
// not fully elapsed is dropped so the result never contains a bar whose close
// is still in the future relative to the input.
func Resample(s Series, to time.Duration) (Series, error) {
	if s.Timeframe <= 0 {
		return Series{}, fmt.Errorf("resample %s: source timeframe not set", s.Asset)
	}
	if to < s.Timeframe || to%s.Timeframe != 0 {
		return Series{}, fmt.Errorf("resample %s: %s is not a multiple of %s",
			s.Asset, FormatTimeframe(to), FormatTimeframe(s.Timeframe))
	}

	out := Series{Asset: s.Asset, Timeframe: to}
	var (
		cur      Bar
		curStart time.Time
		lastSeen time.Time
		open     bool
	)
	flush := func() {
		if open {
			out.Bars = append(out.Bars, cur)
		}
	}

	for _, b := range s.Bars {
		start := bucketStart(b.Time, to)
		if !open || !start.Equal(curStart) {
			flush()
			cur = Bar{Time: start, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume}
			curStart = start
			open = true
		} else {
			cur.High = maxNaN(cur.High, b.High)
			cur.Low = minNaN(cur.Low, b.Low)
			cur.Close = b.Close
			cur.Volume += b.Volume
		}
		lastSeen = b.Time
	}
	if open && lastSeen.Add(s.Timeframe).Before(curStart.Add(to)) {
		open = false
	}
	flush()
	return out, nil
}

func bucketStart(t time.Time, d time.Duration) time.Time {
	u := t.UTC()
	sec := int64(d / time.Second)
	if sec <= 0 {
		return u
	}
	unix := u.Unix()
	return time.Unix(unix-mod(unix, sec), 0).UTC()
}

func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

func maxNaN(a, b float64) float64 {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.NaN()
	}
	return math.Max(a, b)
}

func minNaN(a, b float64) float64 {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.NaN()
	}
	return math.Min(a, b)
}
