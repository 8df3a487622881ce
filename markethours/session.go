package markethours

import "time"

// Session buckets the time of day for performance segmentation.
type Session string

const (
	Morning   Session = "morning"
	Afternoon Session = "afternoon"
	Evening   Session = "evening"
)

// Sessions lists the buckets in report order.
var Sessions = []Session{Morning, Afternoon, Evening}

// SessionOf classifies t in loc: morning [09,13), afternoon [13,18),
// evening otherwise.
func SessionOf(t time.Time, loc *time.Location) Session {
	if loc == nil {
		loc = time.UTC
	}
	h := t.In(loc).Hour()
	switch {
	case h >= 9 && h < 13:
		return Morning
	case h >= 13 && h < 18:
		return Afternoon
	}
	return Evening
}
