package timerange

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

const (
	MinutesPerDay = 24 * 60
	DateLayout    = "2006-01-02"
)

var (
	ErrInvalidTime  = errors.New("time must be HH:MM (00:00-24:00)")
	ErrInvalidRange = errors.New("start time must be before end time")
	ErrInvalidDate  = errors.New("date must be YYYY-MM-DD")
)

// ToMinutes converts a zero-padded 24h "HH:MM" string to minutes after midnight.
func ToMinutes(t string) (int, error) {
	if len(t) != 5 || t[2] != ':' {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, t)
	}
	h, err := strconv.Atoi(t[:2])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, t)
	}
	m, err := strconv.Atoi(t[3:])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, t)
	}
	if h == 24 && m == 0 {
		return MinutesPerDay, nil
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTime, t)
	}
	return h*60 + m, nil
}

// ToTimeString renders minutes after midnight as "HH:MM". 1440 renders as
// "24:00" so a block may end at midnight.
func ToTimeString(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// Overlaps reports whether [startA,endA) and [startB,endB) intersect.
// Touching boundaries do not overlap.
func Overlaps(startA, endA, startB, endB int) bool {
	return startA < endB && endA > startB
}

// OverlapsHHMM is Overlaps over "HH:MM" strings. Unparseable input never overlaps.
func OverlapsHHMM(startA, endA, startB, endB string) bool {
	a1, err1 := ToMinutes(startA)
	a2, err2 := ToMinutes(endA)
	b1, err3 := ToMinutes(startB)
	b2, err4 := ToMinutes(endB)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
		return false
	}
	return Overlaps(a1, a2, b1, b2)
}

// Range is a half-open interval of the day in minutes.
type Range struct {
	Start int
	End   int
}

// ParseRange parses and validates a start/end pair.
func ParseRange(start, end string) (Range, error) {
	s, err := ToMinutes(start)
	if err != nil {
		return Range{}, err
	}
	e, err := ToMinutes(end)
	if err != nil {
		return Range{}, err
	}
	r := Range{Start: s, End: e}
	return r, r.Validate()
}

func (r Range) Validate() error {
	if r.Start >= r.End {
		return ErrInvalidRange
	}
	return nil
}

func (r Range) Minutes() int { return r.End - r.Start }

func (r Range) Overlaps(o Range) bool {
	return Overlaps(r.Start, r.End, o.Start, o.End)
}

func (r Range) StartString() string { return ToTimeString(r.Start) }
func (r Range) EndString() string   { return ToTimeString(r.End) }

// ParseDate parses a calendar day. The result is midnight UTC so it can be
// compared and stored without a zone shifting the day.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return d, nil
}

// DateOf returns the calendar day of t as seen in loc, normalized like ParseDate.
func DateOf(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NormalizeDate drops any time-of-day and zone from a calendar day value.
func NormalizeDate(d time.Time) time.Time {
	y, m, day := d.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
}

func FormatDate(d time.Time) string { return d.Format(DateLayout) }

// Weekday returns 0=Sunday..6=Saturday for a calendar day.
func Weekday(d time.Time) int { return int(NormalizeDate(d).Weekday()) }

// MinutesOfDay returns the minutes after midnight of t in loc.
func MinutesOfDay(t time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	return lt.Hour()*60 + lt.Minute()
}
