// Package feed supplies historical bars to backtests and to the paper
// trading loop.
package feed

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/intraday/market"
)

// ErrNoData is returned when no bars exist for an asset and timeframe.
var ErrNoData = errors.New("no bar data")

// LoadCSV reads OHLCV rows from path:
//
//	time,open,high,low,close[,volume]
//
// where time is RFC3339, RFC3339Nano or unix seconds. A header row whose
// first field is "time" is allowed. Empty and short rows are skipped. Bars
// are returned in time order; duplicate timestamps are an error.
func LoadCSV(path, asset string, timeframe time.Duration) (market.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return market.Series{}, err
	}
	defer f.Close()

	s, err := ReadCSV(f, asset, timeframe)
	if err != nil {
		return market.Series{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func ReadCSV(r io.Reader, asset string, timeframe time.Duration) (market.Series, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	s := market.Series{Asset: asset, Timeframe: timeframe}
	line := 0
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return market.Series{}, err
		}
		line++

		// Allow a single header row
		if line == 1 && len(row) > 0 && strings.EqualFold(strings.TrimSpace(row[0]), "time") {
			continue
		}

		b, ok, err := parseBarRow(row)
		if err != nil {
			return market.Series{}, fmt.Errorf("line %d: %w", line, err)
		}
		if !ok {
			continue
		}
		s.Bars = append(s.Bars, b)
	}

	sort.SliceStable(s.Bars, func(i, j int) bool { return s.Bars[i].Time.Before(s.Bars[j].Time) })
	for i := 1; i < len(s.Bars); i++ {
		if s.Bars[i].Time.Equal(s.Bars[i-1].Time) {
			return market.Series{}, fmt.Errorf("duplicate bar at %s", s.Bars[i].Time.Format(time.RFC3339))
		}
	}
	return s, nil
}

func parseBarRow(row []string) (market.Bar, bool, error) {
	// Need at least: time,open,high,low,close
	if len(row) < 5 {
		return market.Bar{}, false, nil
	}
	ts := strings.TrimSpace(row[0])
	if ts == "" {
		return market.Bar{}, false, nil
	}
	t, err := parseTime(ts)
	if err != nil {
		return market.Bar{}, false, err
	}

	var v [5]float64
	names := [...]string{"open", "high", "low", "close", "volume"}
	for i := 0; i < 5 && i+1 < len(row); i++ {
		field := strings.TrimSpace(row[i+1])
		if i == 4 && field == "" {
			break
		}
		v[i], err = strconv.ParseFloat(field, 64)
		if err != nil {
			return market.Bar{}, false, fmt.Errorf("bad %s %q: %w", names[i], row[i+1], err)
		}
	}

	b := market.Bar{Time: t, Open: v[0], High: v[1], Low: v[2], Close: v[3], Volume: v[4]}
	if !b.Valid() {
		return market.Bar{}, false, fmt.Errorf("invalid prices at %s", ts)
	}
	if b.High < b.Low {
		return market.Bar{}, false, fmt.Errorf("high %v below low %v at %s", b.High, b.Low, ts)
	}
	return b, true, nil
}

// parseTime accepts RFC3339, RFC3339Nano or unix seconds, returned in UTC.
func parseTime(s string) (time.Time, error) {
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t2, err2 := time.Parse(time.RFC3339Nano, s)
		if err2 != nil {
			return time.Time{}, fmt.Errorf("bad time %q: %w", s, err)
		}
		t = t2
	}
	return t.UTC(), nil
}

// WriteCSV writes s with a header in the format LoadCSV reads.
func WriteCSV(w io.Writer, s market.Series) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "open", "high", "low", "close", "volume"}); err != nil {
		return err
	}
	f := func(x float64) string { return strconv.FormatFloat(x, 'f', -1, 64) }
	for _, b := range s.Bars {
		if err := cw.Write([]string{
			b.Time.UTC().Format(time.RFC3339), f(b.Open), f(b.High), f(b.Low), f(b.Close), f(b.Volume),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// FileName is the name CSVProvider looks up for an asset and timeframe.
func FileName(asset string, timeframe time.Duration) string {
	return fmt.Sprintf("%s_%s.csv", asset, market.FormatTimeframe(timeframe))
}
