// Package calendar provides trading-calendar arithmetic for scheduling
// recurring strategy callbacks: date rules, time rules, and the market
// holiday table they resolve against.
package calendar

import "time"

// HolidayStatus describes how the market behaves on a holiday.
type HolidayStatus int

const (
	// Closed means no trading session at all.
	Closed HolidayStatus = iota
	// EarlyClose means the session ends at the early-close time.
	EarlyClose
)

// Holidays is a read-only table of market holidays keyed by year, month, and
// day of month. It is loaded once at startup and injected into the rules that
// consult it.
type Holidays map[int]map[time.Month]map[int]HolidayStatus

// Status reports the holiday status of a date, if any.
func (h Holidays) Status(t time.Time) (HolidayStatus, bool) {
	months, ok := h[t.Year()]
	if !ok {
		return 0, false
	}
	days, ok := months[t.Month()]
	if !ok {
		return 0, false
	}
	s, ok := days[t.Day()]
	return s, ok
}

// USHolidays returns the built-in NYSE holiday table covering 2010 through
// 2020.
func USHolidays() Holidays {
	return Holidays{
		2020: {
			time.January:   {1: Closed, 20: Closed},
			time.February:  {17: Closed},
			time.April:     {10: Closed},
			time.May:       {25: Closed},
			time.July:      {3: Closed},
			time.September: {7: Closed},
			time.November:  {26: Closed, 27: EarlyClose},
			time.December:  {24: EarlyClose, 25: Closed},
		},
		2019: {
			time.January:   {1: Closed, 21: Closed},
			time.February:  {18: Closed},
			time.April:     {19: Closed},
			time.May:       {27: Closed},
			time.July:      {3: EarlyClose, 4: Closed},
			time.September: {2: Closed},
			time.November:  {28: Closed, 29: EarlyClose},
			time.December:  {24: EarlyClose, 25: Closed},
		},
		2018: {
			time.January:   {1: Closed, 15: Closed},
			time.February:  {19: Closed},
			time.March:     {30: Closed},
			time.May:       {28: Closed},
			time.July:      {3: EarlyClose, 4: Closed},
			time.September: {3: Closed},
			time.November:  {22: Closed, 23: EarlyClose},
			time.December:  {24: EarlyClose, 25: Closed},
		},
		2017: {
			time.January:   {2: Closed, 16: Closed},
			time.February:  {20: Closed},
			time.April:     {14: Closed},
			time.May:       {29: Closed},
			time.July:      {3: EarlyClose, 4: Closed},
			time.September: {4: Closed},
			time.November:  {23: Closed, 24: EarlyClose},
			time.December:  {25: Closed},
		},
		2016: {
			time.January:   {1: Closed, 18: Closed},
			time.February:  {15: Closed},
			time.March:     {25: Closed},
			time.May:       {30: Closed},
			time.July:      {4: Closed},
			time.September: {5: Closed},
			time.November:  {24: Closed, 25: EarlyClose},
			time.December:  {26: Closed},
		},
		2015: {
			time.January:   {1: Closed, 19: Closed},
			time.February:  {16: Closed},
			time.April:     {3: Closed},
			time.May:       {25: Closed},
			time.July:      {3: Closed, 4: Closed},
			time.September: {7: Closed},
			time.November:  {26: Closed, 27: EarlyClose},
			time.December:  {24: EarlyClose, 25: Closed},
		},
		2014: {
			time.January:   {1: Closed, 20: Closed},
			time.February:  {17: Closed},
			time.April:     {18: Closed},
			time.May:       {26: Closed},
			time.July:      {3: EarlyClose, 4: Closed},
			time.September: {1: Closed},
			time.November:  {27: Closed, 28: EarlyClose},
			time.December:  {24: EarlyClose, 25: Closed},
		},
		2013: {
			time.January:   {1: Closed, 21: Closed},
			time.February:  {18: Closed},
			time.March:     {29: Closed},
			time.May:       {27: Closed},
			time.July:      {3: EarlyClose, 4: Closed},
			time.September: {2: Closed},
			time.November:  {28: Closed, 29: EarlyClose},
			time.December:  {24: EarlyClose, 25: Closed},
		},
		2012: {
			time.January:   {2: Closed, 16: Closed},
			time.February:  {20: Closed},
			time.April:     {6: Closed},
			time.May:       {28: Closed},
			time.July:      {3: EarlyClose, 4: Closed},
			time.September: {3: Closed},
			time.November:  {22: Closed, 23: EarlyClose},
			time.December:  {24: EarlyClose, 25: Closed},
		},
		2011: {
			time.January:   {17: Closed},
			time.February:  {21: Closed},
			time.April:     {22: Closed},
			time.May:       {30: Closed},
			time.July:      {3: EarlyClose, 4: Closed},
			time.September: {5: Closed},
			time.November:  {24: Closed, 25: EarlyClose},
			time.December:  {25: EarlyClose, 26: Closed},
		},
		2010: {
			time.January:   {1: Closed, 18: Closed},
			time.February:  {15: Closed},
			time.April:     {2: Closed},
			time.May:       {31: Closed},
			time.July:      {4: EarlyClose, 5: Closed},
			time.September: {6: Closed},
			time.November:  {25: Closed, 26: EarlyClose},
			time.December:  {24: Closed},
		},
	}
}
