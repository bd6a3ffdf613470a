package calendar

import (
	"fmt"
	"time"
)

// Rule kinds supported by DateRules.
type RuleKind int

const (
	EveryDay RuleKind = iota
	WeekStart
	WeekEnd
	MonthStart
	MonthEnd
)

// Time-of-day anchors supported by TimeRules.
type TimeKind int

const (
	MarketOpen TimeKind = iota
	MarketClose
)

// Standard US session times. Early-close days end at the early-close time.
const (
	marketOpenHour    = 9
	marketOpenMinute  = 0
	marketCloseHour   = 16
	marketCloseMinute = 0
	earlyCloseHour    = 13
	earlyCloseMinute  = 0
)

// maxHolidayRetries bounds how far holiday resolution may walk forward
// looking for an open session.
const maxHolidayRetries = 10

// Simplified month lengths. February is treated as 28 days in all years; the
// engine deliberately ignores leap years when counting from month boundaries.
var monthLengths = [13]int{0, 31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

// TimeRules selects the time of day at which a scheduled callback fires,
// anchored to the market open or close with an offset.
type TimeRules struct {
	kind    TimeKind
	hours   int
	minutes int
}

// NewMarketOpen returns a rule firing after the market open by the given
// offset. Hours must be in [0,3] and minutes in [0,59].
func NewMarketOpen(hours, minutes int) (TimeRules, error) {
	if err := validateOffsets(hours, minutes); err != nil {
		return TimeRules{}, err
	}
	return TimeRules{kind: MarketOpen, hours: hours, minutes: minutes}, nil
}

// NewMarketClose returns a rule firing before the market close (or early
// close) by the given offset. Hours must be in [0,3] and minutes in [0,59].
func NewMarketClose(hours, minutes int) (TimeRules, error) {
	if err := validateOffsets(hours, minutes); err != nil {
		return TimeRules{}, err
	}
	return TimeRules{kind: MarketClose, hours: hours, minutes: minutes}, nil
}

func validateOffsets(hours, minutes int) error {
	if hours < 0 || hours > 3 {
		return fmt.Errorf("calendar: hours offset %d out of range [0,3]", hours)
	}
	if minutes < 0 || minutes > 59 {
		return fmt.Errorf("calendar: minutes offset %d out of range [0,59]", minutes)
	}
	return nil
}

// DateRules selects the dates on which a scheduled callback fires. A base
// DateRules carries the scheduling range and holiday table; the rule
// constructors derive concrete recurrence rules from it.
type DateRules struct {
	start    time.Time
	end      time.Time
	holidays Holidays
	kind     RuleKind
	offset   int
}

// NewDateRules builds the base rules for a scheduling range. End is
// exclusive. All concrete rules derive from this value so they share the
// range and holiday table.
func NewDateRules(start, end time.Time, holidays Holidays) DateRules {
	return DateRules{start: dateOnly(start), end: dateOnly(end), holidays: holidays}
}

// EveryDay fires on every weekday in the range.
func (d DateRules) EveryDay() DateRules {
	d.kind = EveryDay
	d.offset = 0
	return d
}

// WeekStart fires on the Nth weekday counted from Monday of each week.
func (d DateRules) WeekStart(daysOffset int) DateRules {
	d.kind = WeekStart
	d.offset = daysOffset
	return d
}

// WeekEnd fires on the Nth weekday counted back from Friday of each week.
func (d DateRules) WeekEnd(daysOffset int) DateRules {
	d.kind = WeekEnd
	d.offset = daysOffset
	return d
}

// MonthStart fires on the Nth calendar day counted from the first of each
// month.
func (d DateRules) MonthStart(daysOffset int) DateRules {
	d.kind = MonthStart
	d.offset = daysOffset
	return d
}

// MonthEnd fires on the Nth calendar day counted back from the last day of
// each month (February always counted as 28 days).
func (d DateRules) MonthEnd(daysOffset int) DateRules {
	d.kind = MonthEnd
	d.offset = daysOffset
	return d
}

// GetDateTimes returns every valid scheduling timestamp in [start, end)
// matching the rule, in ascending order. Dates that cannot be resolved to an
// open session within their scheduling period are dropped.
func (d DateRules) GetDateTimes(tr TimeRules) []time.Time {
	var out []time.Time
	for _, candidate := range d.candidates() {
		if candidate.Before(d.start) || !candidate.Before(d.end) {
			continue
		}
		if ts, ok := d.Resolve(candidate, tr); ok {
			out = append(out, ts)
		}
	}
	return out
}

// Resolve maps a candidate date to its concrete firing time, walking forward
// past full holidays while staying within the candidate's scheduling period.
// It reports false when the date must be dropped: the market never opens
// within the period, or the retry bound is exhausted.
func (d DateRules) Resolve(date time.Time, tr TimeRules) (time.Time, bool) {
	resolved := date
	early := false
	tries := 0
	for {
		status, isHoliday := d.holidays.Status(resolved)
		if !isHoliday {
			break
		}
		if status == EarlyClose {
			early = true
			break
		}
		tries++
		if tries >= maxHolidayRetries {
			return time.Time{}, false
		}
		resolved = nextWeekday(resolved)
	}
	if !d.samePeriod(date, resolved) {
		return time.Time{}, false
	}

	hour, minute := sessionTime(tr, early)
	return time.Date(resolved.Year(), resolved.Month(), resolved.Day(),
		hour, minute, 0, 0, time.UTC), true
}

// sessionTime derives the firing clock time from the rule's anchor. Open
// offsets are added to the open, close offsets subtracted from the (possibly
// early) close; minute carry keeps results inside the day.
func sessionTime(tr TimeRules, early bool) (hour, minute int) {
	if tr.kind == MarketOpen {
		hour = marketOpenHour
		minute = marketOpenMinute + tr.minutes
		if minute >= 60 {
			hour++
			minute -= 60
		}
		return hour, minute
	}
	hour = marketCloseHour
	minute = marketCloseMinute
	if early {
		hour = earlyCloseHour
		minute = earlyCloseMinute
	}
	minute -= tr.minutes
	if minute < 0 {
		hour--
		minute += 60
	}
	return hour, minute
}

// samePeriod reports whether advancing from the original candidate to the
// resolved date stayed within the rule's scheduling period.
func (d DateRules) samePeriod(original, resolved time.Time) bool {
	switch d.kind {
	case EveryDay:
		return original.Equal(resolved)
	case WeekStart, WeekEnd:
		oy, ow := original.ISOWeek()
		ry, rw := resolved.ISOWeek()
		return oy == ry && ow == rw
	case MonthStart, MonthEnd:
		return original.Year() == resolved.Year() && original.Month() == resolved.Month()
	default:
		return original.Equal(resolved)
	}
}

// candidates enumerates the raw recurrence dates before holiday resolution.
func (d DateRules) candidates() []time.Time {
	var out []time.Time
	switch d.kind {
	case EveryDay:
		for day := d.start; day.Before(d.end); day = day.AddDate(0, 0, 1) {
			if isWeekday(day) {
				out = append(out, day)
			}
		}
	case WeekStart, WeekEnd:
		offset := d.offset
		if offset < 0 {
			offset = 0
		} else if offset > 4 {
			offset = 4
		}
		for monday := mondayOf(d.start); monday.Before(d.end); monday = monday.AddDate(0, 0, 7) {
			candidate := monday.AddDate(0, 0, offset)
			if d.kind == WeekEnd {
				candidate = monday.AddDate(0, 0, 4-offset)
			}
			out = append(out, candidate)
		}
	case MonthStart, MonthEnd:
		first := time.Date(d.start.Year(), d.start.Month(), 1, 0, 0, 0, 0, time.UTC)
		for month := first; month.Before(d.end); month = month.AddDate(0, 1, 0) {
			if candidate, ok := d.monthCandidate(month); ok {
				out = append(out, candidate)
			}
		}
	}
	return out
}

// monthCandidate picks the rule's day within one month, shifting off weekends
// toward the interior of the month. It reports false when the shift would
// leave the month.
func (d DateRules) monthCandidate(first time.Time) (time.Time, bool) {
	length := monthLengths[int(first.Month())]
	offset := d.offset
	if offset < 0 {
		offset = 0
	} else if offset > length-1 {
		offset = length - 1
	}

	day := offset + 1
	if d.kind == MonthEnd {
		day = length - offset
	}
	candidate := time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, time.UTC)

	step := 1
	if d.kind == MonthEnd {
		step = -1
	}
	for !isWeekday(candidate) {
		candidate = candidate.AddDate(0, 0, step)
		if candidate.Month() != first.Month() {
			return time.Time{}, false
		}
	}
	return candidate, true
}

func isWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// nextWeekday advances one calendar day, then skips over any weekend.
func nextWeekday(t time.Time) time.Time {
	t = t.AddDate(0, 0, 1)
	for !isWeekday(t) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

// mondayOf returns the Monday of t's ISO week.
func mondayOf(t time.Time) time.Time {
	wd := int(t.Weekday())
	if wd == 0 {
		wd = 7
	}
	return dateOnly(t.AddDate(0, 0, 1-wd))
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FormatDate renders a date as fixed-width zero-padded YYYYMMDD.
func FormatDate(t time.Time) string {
	return t.Format("20060102")
}
