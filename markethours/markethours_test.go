package markethours

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(day, hour, minute int) time.Time {
	// March 2024: the 4th is a Monday.
	return time.Date(2024, 3, day, hour, minute, 0, 0, time.UTC)
}

func TestDefaultWindow(t *testing.T) {
	t.Parallel()

	w := Default()
	require.NoError(t, w.Validate())

	tests := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"monday open", at(4, 9, 0), true},
		{"monday before open", at(4, 8, 59), false},
		{"friday last minute", at(8, 21, 59), true},
		{"friday close", at(8, 22, 0), false},
		{"saturday", at(9, 12, 0), false},
		{"sunday", at(10, 12, 0), false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, w.IsOpen(tt.t))
		})
	}
}

func TestWindowLocation(t *testing.T) {
	t.Parallel()

	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	w := Window{Start: NewClock(9, 30), End: NewClock(16, 0), Days: weekdays, Location: ny}
	// 14:30 UTC on a March weekday after DST start is 10:30 in New York.
	assert.True(t, w.IsOpen(time.Date(2024, 3, 12, 14, 30, 0, 0, time.UTC)))
	assert.False(t, w.IsOpen(time.Date(2024, 3, 12, 13, 0, 0, 0, time.UTC)))
}

func TestOvernightWindow(t *testing.T) {
	t.Parallel()

	w := Window{Start: NewClock(22, 0), End: NewClock(2, 0), Days: []time.Weekday{time.Monday}}
	assert.True(t, w.IsOpen(at(4, 23, 0)))
	assert.True(t, w.IsOpen(at(5, 1, 0)), "tuesday early hours belong to monday's session")
	assert.False(t, w.IsOpen(at(5, 23, 0)))
	assert.False(t, w.IsOpen(at(4, 12, 0)))
}

func TestHolidays(t *testing.T) {
	t.Parallel()

	w := Default()
	w.Holidays = []string{"2024-03-05"}
	require.NoError(t, w.Validate())
	assert.True(t, w.IsOpen(at(4, 12, 0)))
	assert.False(t, w.IsOpen(at(5, 12, 0)), "tuesday is a holiday")
	assert.True(t, w.IsOpen(at(6, 12, 0)))

	night := Window{Start: NewClock(22, 0), End: NewClock(2, 0), Days: weekdays, Holidays: []string{"2024-03-04"}}
	assert.False(t, night.IsOpen(at(5, 1, 0)), "session started on the holiday")
	assert.True(t, night.IsOpen(at(6, 1, 0)))

	w.Holidays = []string{"5 March"}
	assert.Error(t, w.Validate())
}

func TestAlways(t *testing.T) {
	t.Parallel()

	assert.True(t, Always().IsOpen(at(10, 3, 0)))
	assert.Equal(t, "always", Always().String())
}

func TestValidate(t *testing.T) {
	t.Parallel()

	assert.Error(t, Window{Start: 600, End: 600, Days: weekdays}.Validate())
	assert.Error(t, Window{Start: 600, End: 700}.Validate())
}

func TestParseClock(t *testing.T) {
	t.Parallel()

	c, err := ParseClock("09:30")
	require.NoError(t, err)
	assert.Equal(t, NewClock(9, 30), c)
	assert.Equal(t, "09:30", c.String())

	c, err = ParseClock("22")
	require.NoError(t, err)
	assert.Equal(t, NewClock(22, 0), c)

	for _, bad := range []string{"25:00", "9:75", "x", "24:30"} {
		_, err := ParseClock(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseWeekday(t *testing.T) {
	t.Parallel()

	d, err := ParseWeekday("Mon")
	require.NoError(t, err)
	assert.Equal(t, time.Monday, d)
	d, err = ParseWeekday("friday")
	require.NoError(t, err)
	assert.Equal(t, time.Friday, d)
	_, err = ParseWeekday("funday")
	assert.Error(t, err)
}

func TestSessionOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Morning, SessionOf(at(4, 9, 0), nil))
	assert.Equal(t, Morning, SessionOf(at(4, 12, 59), nil))
	assert.Equal(t, Afternoon, SessionOf(at(4, 13, 0), nil))
	assert.Equal(t, Evening, SessionOf(at(4, 18, 0), nil))
	assert.Equal(t, Evening, SessionOf(at(4, 3, 0), nil))
}
