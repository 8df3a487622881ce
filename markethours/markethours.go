package markethours

import (
	"fmt"
	"strconv"
	"slices"
	"strings"
	"time"
)

// Clock is a time of day in minutes after midnight.
type Clock int

func NewClock(hour, minute int) Clock { return Clock(hour*60 + minute) }

// ParseClock accepts "HH:MM" or "HH".
func ParseClock(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	hs, ms, found := strings.Cut(s, ":")
	h, err := strconv.Atoi(hs)
	if err != nil {
		return 0, fmt.Errorf("bad clock %q", s)
	}
	m := 0
	if found {
		if m, err = strconv.Atoi(ms); err != nil {
			return 0, fmt.Errorf("bad clock %q", s)
		}
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("clock %q out of range", s)
	}
	return NewClock(h, m), nil
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60) }

func (c Clock) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Clock) UnmarshalText(b []byte) error {
	v, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

func clockOf(t time.Time) Clock { return NewClock(t.Hour(), t.Minute()) }

// Window is the trading-hours policy: [Start, End) on the listed weekdays,
// evaluated in Location.
type Window struct {
	Start    Clock
	End      Clock
	Days     []time.Weekday
	Location *time.Location
	// Holidays are session dates ("2006-01-02" in Location) that stay shut
	// even on a trading weekday.
	Holidays []string
	// Disabled opens the window at every instant.
	Disabled bool
}

const dateLayout = "2006-01-02"

var weekdays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

// Default trades 09:00-22:00 UTC, Monday to Friday.
func Default() Window {
	return Window{
		Start:    NewClock(9, 0),
		End:      NewClock(22, 0),
		Days:     append([]time.Weekday(nil), weekdays...),
		Location: time.UTC,
	}
}

// Always is a window that never closes.
func Always() Window { return Window{Disabled: true} }

func (w Window) Validate() error {
	if w.Disabled {
		return nil
	}
	if w.Start == w.End {
		return fmt.Errorf("trading window %s-%s is empty", w.Start, w.End)
	}
	if len(w.Days) == 0 {
		return fmt.Errorf("trading window has no days")
	}
	for _, h := range w.Holidays {
		if _, err := time.Parse(dateLayout, h); err != nil {
			return fmt.Errorf("holiday %q: want YYYY-MM-DD", h)
		}
	}
	return nil
}

// IsOpen reports whether t falls inside the window. A window whose End is
// before its Start spans midnight; the day check applies to the day the
// session started.
func (w Window) IsOpen(t time.Time) bool {
	if w.Disabled {
		return true
	}
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	c := clockOf(lt)

	if w.Start < w.End {
		return c >= w.Start && c < w.End && w.trades(lt)
	}
	if c >= w.Start {
		return w.trades(lt)
	}
	if c < w.End {
		return w.trades(lt.AddDate(0, 0, -1))
	}
	return false
}

// trades reports whether a session starting on day's date runs.
func (w Window) trades(day time.Time) bool {
	if slices.Contains(w.Holidays, day.Format(dateLayout)) {
		return false
	}
	return slices.Contains(w.Days, day.Weekday())
}

func (w Window) String() string {
	if w.Disabled {
		return "always"
	}
	days := make([]string, len(w.Days))
	for i, d := range w.Days {
		days[i] = d.String()[:3]
	}
	loc := "UTC"
	if w.Location != nil {
		loc = w.Location.String()
	}
	return fmt.Sprintf("%s-%s %s %s", w.Start, w.End, strings.Join(days, ","), loc)
}

// ParseWeekday accepts English day names or three-letter abbreviations.
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if s == name || s == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}
