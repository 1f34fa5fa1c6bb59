package param

import (
	"fmt"
	"strings"
	"time"
)

// DatePrecision is the precision a partial date was written with.
type DatePrecision int

const (
	PrecisionYear DatePrecision = iota
	PrecisionMonth
	PrecisionDay
	PrecisionMinute
	PrecisionSecond
	PrecisionFull // fractional seconds
)

var dateLayouts = []struct {
	layout    string
	precision DatePrecision
}{
	{"2006", PrecisionYear},
	{"2006-01", PrecisionMonth},
	{"2006-01-02", PrecisionDay},
	{"2006-01-02T15:04Z07:00", PrecisionMinute},
	{"2006-01-02T15:04", PrecisionMinute},
	{"2006-01-02T15:04:05Z07:00", PrecisionSecond},
	{"2006-01-02T15:04:05", PrecisionSecond},
}

// DateValue is a possibly partial FHIR date or dateTime. A partial value
// denotes the whole range it covers: "2020" is every instant of 2020.
type DateValue struct {
	Start     time.Time
	Precision DatePrecision
	raw       string
}

// ParseDate parses a FHIR date/dateTime search value. Values without a
// timezone are taken as UTC.
func ParseDate(value string) (DateValue, error) {
	for _, l := range dateLayouts {
		t, err := time.ParseInLocation(l.layout, value, time.UTC)
		if err != nil {
			continue
		}
		precision := l.precision
		// time.Parse accepts fractional seconds even when the layout omits them.
		if precision == PrecisionSecond && strings.Contains(value, ".") {
			precision = PrecisionFull
		}
		return DateValue{Start: t.UTC(), Precision: precision, raw: value}, nil
	}
	return DateValue{}, fmt.Errorf("unable to parse date: %s", value)
}

// MustParseDate is like ParseDate but panics on error. Intended for tests
// and static tables.
func MustParseDate(value string) DateValue {
	d, err := ParseDate(value)
	if err != nil {
		panic(err)
	}
	return d
}

// LowerBound returns the first instant covered by the value.
func (d DateValue) LowerBound() time.Time {
	return d.Start
}

// UpperBound returns the last instant covered by the value (inclusive).
func (d DateValue) UpperBound() time.Time {
	var end time.Time
	switch d.Precision {
	case PrecisionYear:
		end = d.Start.AddDate(1, 0, 0)
	case PrecisionMonth:
		end = d.Start.AddDate(0, 1, 0)
	case PrecisionDay:
		end = d.Start.AddDate(0, 0, 1)
	case PrecisionMinute:
		end = d.Start.Add(time.Minute)
	case PrecisionSecond:
		end = d.Start.Add(time.Second)
	default:
		return d.Start
	}
	return end.Add(-time.Nanosecond)
}

func (d DateValue) String() string {
	if d.raw != "" {
		return d.raw
	}
	switch d.Precision {
	case PrecisionYear:
		return d.Start.Format("2006")
	case PrecisionMonth:
		return d.Start.Format("2006-01")
	case PrecisionDay:
		return d.Start.Format("2006-01-02")
	case PrecisionMinute:
		return d.Start.Format("2006-01-02T15:04Z07:00")
	case PrecisionSecond:
		return d.Start.Format(time.RFC3339)
	default:
		return d.Start.Format(time.RFC3339Nano)
	}
}
