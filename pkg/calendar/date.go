// Package calendar holds the date type used for license expiries. Dates are
// civil (no time of day, no zone) and persist as YYYY-MM-DD text.
package calendar

import (
	"database/sql/driver"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

type Date struct {
	civil.Date
}

func New(year int, month time.Month, day int) Date {
	return Date{civil.Date{Year: year, Month: month, Day: day}}
}

// Today returns the date of now in now's location.
func Today(now time.Time) Date {
	return Date{civil.DateOf(now)}
}

// TodayIn returns the date of now in loc; a nil loc keeps now's location.
func TodayIn(now time.Time, loc *time.Location) Date {
	if loc != nil {
		now = now.In(loc)
	}
	return Today(now)
}

func Parse(s string) (Date, error) {
	d, err := civil.ParseDate(s)
	if err != nil {
		return Date{}, err
	}
	return Date{d}, nil
}

func MustParse(s string) Date {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Date) IsSet() bool {
	return d.Date != civil.Date{}
}

func (d Date) AddDays(n int) Date {
	return Date{d.Date.AddDays(n)}
}

// AddMonths moves d by n calendar months, clamping the day to the last day
// of the target month: 2024-01-31 + 1 month is 2024-02-29.
func (d Date) AddMonths(n int) Date {
	first := time.Date(d.Year, d.Month+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(first.Year(), first.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
	day := d.Day
	if day > last {
		day = last
	}
	return New(first.Year(), first.Month(), day)
}

// DaysUntil is the number of days from d to other (negative when other is
// earlier).
func (d Date) DaysUntil(other Date) int {
	return other.Date.DaysSince(d.Date)
}

func (d Date) Before(other Date) bool {
	return d.Date.Before(other.Date)
}

func (d Date) After(other Date) bool {
	return d.Date.After(other.Date)
}

func Max(a, b Date) Date {
	if a.Before(b) {
		return b
	}
	return a
}

// Format renders d with a time layout, e.g. "02/01/2006".
func (d Date) Format(layout string) string {
	return d.Date.In(time.UTC).Format(layout)
}

func (d Date) Value() (driver.Value, error) {
	return d.Date.String(), nil
}

func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
		return nil
	case time.Time:
		*d = Date{civil.DateOf(v)}
		return nil
	case []byte:
		return d.scanString(string(v))
	case string:
		return d.scanString(v)
	default:
		return fmt.Errorf("calendar: cannot scan %T into Date", src)
	}
}

func (d *Date) scanString(s string) error {
	if len(s) > 10 {
		s = s[:10]
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (Date) GormDataType() string {
	return "varchar(10)"
}
