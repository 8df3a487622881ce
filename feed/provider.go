package feed

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rustyeddy/intraday/market"
)

// CSVProvider serves bars from a directory of <ASSET>_<TF>.csv files, for
// example GOLD_1h.csv. When no file exists for the requested timeframe the
// finest file that divides it is resampled. Loaded series are cached.
type CSVProvider struct {
	Dir string
	// Now limits results to bars closed at Now(). Nil serves everything.
	Now func() time.Time
	// MaxAge reloads a cached file once it is older than MaxAge. Zero keeps
	// files cached for the life of the provider.
	MaxAge time.Duration

	mu    sync.Mutex
	cache map[string]cached
}

type cached struct {
	series market.Series
	loaded time.Time
}

func NewCSVProvider(dir string) *CSVProvider {
	return &CSVProvider{Dir: dir, cache: map[string]cached{}}
}

// Bars returns the last n closed bars; n <= 0 returns all of them.
func (p *CSVProvider) Bars(ctx context.Context, asset string, timeframe time.Duration, n int) (market.Series, error) {
	if err := ctx.Err(); err != nil {
		return market.Series{}, err
	}
	s, err := p.Load(asset, timeframe)
	if err != nil {
		return market.Series{}, err
	}
	if p.Now != nil {
		s = s.ClosedBy(p.Now())
	}
	if n > 0 {
		s = s.Window(n)
	}
	s.Bars = append([]market.Bar(nil), s.Bars...)
	return s, nil
}

// Load returns the full series for asset at timeframe.
func (p *CSVProvider) Load(asset string, timeframe time.Duration) (market.Series, error) {
	key := FileName(asset, timeframe)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cache == nil {
		p.cache = map[string]cached{}
	}
	if c, ok := p.cache[key]; ok && (p.MaxAge <= 0 || time.Since(c.loaded) < p.MaxAge) {
		return c.series, nil
	}

	s, err := LoadCSV(filepath.Join(p.Dir, key), asset, timeframe)
	if errors.Is(err, fs.ErrNotExist) {
		s, err = p.resampled(asset, timeframe)
	}
	if err != nil {
		return market.Series{}, err
	}
	p.cache[key] = cached{series: s, loaded: time.Now()}
	return s, nil
}

func (p *CSVProvider) resampled(asset string, timeframe time.Duration) (market.Series, error) {
	tfs, err := p.Timeframes(asset)
	if err != nil {
		return market.Series{}, err
	}
	for _, tf := range tfs {
		if tf >= timeframe || timeframe%tf != 0 {
			continue
		}
		src, err := LoadCSV(filepath.Join(p.Dir, FileName(asset, tf)), asset, tf)
		if err != nil {
			return market.Series{}, err
		}
		return market.Resample(src, timeframe)
	}
	return market.Series{}, fmt.Errorf("%w for %s %s in %s", ErrNoData, asset,
		market.FormatTimeframe(timeframe), p.Dir)
}

// Timeframes lists the timeframes on disk for asset, finest first.
func (p *CSVProvider) Timeframes(asset string) ([]time.Duration, error) {
	matches, err := filepath.Glob(filepath.Join(p.Dir, asset+"_*.csv"))
	if err != nil {
		return nil, err
	}
	var out []time.Duration
	for _, m := range matches {
		name := strings.TrimSuffix(filepath.Base(m), ".csv")
		tf, err := market.ParseTimeframe(strings.TrimPrefix(name, asset+"_"))
		if err != nil {
			continue
		}
		out = append(out, tf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Assets lists the assets that have at least one file in Dir.
func (p *CSVProvider) Assets() ([]string, error) {
	entries, err := os.ReadDir(p.Dir)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".csv") {
			continue
		}
		i := strings.LastIndex(name, "_")
		if i <= 0 {
			continue
		}
		if _, err := market.ParseTimeframe(strings.TrimSuffix(name[i+1:], ".csv")); err != nil {
			continue
		}
		if a := name[:i]; !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Memory is an in-process BarProvider. Tests and the paper loop append
// bars to it as they arrive.
type Memory struct {
	mu     sync.RWMutex
	series map[string]market.Series
}

func NewMemory(series ...market.Series) *Memory {
	m := &Memory{series: map[string]market.Series{}}
	for _, s := range series {
		m.Set(s)
	}
	return m
}

func memKey(asset string, tf time.Duration) string { return FileName(asset, tf) }

// Set replaces the series stored for s.Asset at s.Timeframe.
func (m *Memory) Set(s market.Series) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.Bars = append([]market.Bar(nil), s.Bars...)
	m.series[memKey(s.Asset, s.Timeframe)] = s
}

// Append adds a bar, replacing the last one when it has the same time.
func (m *Memory) Append(asset string, tf time.Duration, b market.Bar) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := memKey(asset, tf)
	s, ok := m.series[k]
	if !ok {
		s = market.Series{Asset: asset, Timeframe: tf}
	}
	if last, ok := s.Last(); ok {
		switch {
		case b.Time.Equal(last.Time):
			s.Bars[len(s.Bars)-1] = b
			m.series[k] = s
			return nil
		case b.Time.Before(last.Time):
			return fmt.Errorf("bar at %s is older than the last bar %s",
				b.Time.Format(time.RFC3339), last.Time.Format(time.RFC3339))
		}
	}
	s.Bars = append(s.Bars, b)
	m.series[k] = s
	return nil
}

func (m *Memory) Bars(ctx context.Context, asset string, timeframe time.Duration, n int) (market.Series, error) {
	if err := ctx.Err(); err != nil {
		return market.Series{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.series[memKey(asset, timeframe)]
	if !ok {
		return market.Series{}, fmt.Errorf("%w for %s %s", ErrNoData, asset, market.FormatTimeframe(timeframe))
	}
	if n > 0 {
		s = s.Window(n)
	}
	s.Bars = append([]market.Bar(nil), s.Bars...)
	return s, nil
}
