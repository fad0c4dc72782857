// Package expiry classifies contract expiry lifecycle states. Indices are
// statically partitioned into quarterly and monthly expiry sets; everything
// is computed from the third-Friday rule, no market calendar lookups.
package expiry

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Status is the lifecycle state of a contract relative to its expiry date.
type Status string

const (
	StatusPending        Status = "Pending"
	StatusInExpiryWindow Status = "In expiry window"
	StatusExpired        Status = "Expired"
)

var quarterly = map[string]struct{}{
	"SX5E": {}, "SX5E CC": {}, "FTSE": {}, "DAX": {},
	"SMI": {}, "MIB": {}, "SX7E": {}, "SX7E CC": {},
}

var monthly = map[string]struct{}{
	"CAC": {}, "IBEX": {}, "AEX": {}, "OMX": {},
}

// Classification is the result of classifying one index on one date.
// ExpiryDate is nil when the index has no expiry in the current month.
type Classification struct {
	Index      string     `json:"index"`
	Status     Status     `json:"status"`
	ExpiryDate *time.Time `json:"expiry_date"`
}

// ThirdFriday returns the third Friday of the given month: the first Friday
// on or after the 1st, plus 14 days.
func ThirdFriday(year int, month time.Month) time.Time {
	d := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	for d.Weekday() != time.Friday {
		d = d.AddDate(0, 0, 1)
	}
	return d.AddDate(0, 0, 14)
}

// Classify returns the expiry state of index on the given date. Quarterly
// indices only expire in March, June, September and December; outside those
// months they are Pending with no expiry date. Unknown indices are always
// Pending.
func Classify(index string, today time.Time) Classification {
	c := Classification{Index: index, Status: StatusPending}

	if _, ok := quarterly[index]; ok {
		switch today.Month() {
		case time.March, time.June, time.September, time.December:
		default:
			return c
		}
	} else if _, ok := monthly[index]; !ok {
		return c
	}

	ed := ThirdFriday(today.Year(), today.Month())
	c.ExpiryDate = &ed

	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	switch {
	case day.After(ed):
		c.Status = StatusExpired
	case day.Equal(ed):
		c.Status = StatusInExpiryWindow
	}
	return c
}

var months = map[string]time.Month{
	"JAN": time.January, "FEB": time.February, "MAR": time.March,
	"APR": time.April, "MAY": time.May, "JUN": time.June,
	"JUL": time.July, "AUG": time.August, "SEP": time.September,
	"OCT": time.October, "NOV": time.November, "DEC": time.December,
}

// ParseLabel resolves a desk expiry label such as "DEC25" or "Dec25" to the
// contract's expiry date, the third Friday of that month.
func ParseLabel(label string) (time.Time, error) {
	s := strings.ToUpper(strings.TrimSpace(label))
	if len(s) != 5 {
		return time.Time{}, fmt.Errorf("bad expiry label %q", label)
	}
	m, ok := months[s[:3]]
	if !ok {
		return time.Time{}, fmt.Errorf("bad expiry month in %q", label)
	}
	yy, err := strconv.Atoi(s[3:])
	if err != nil {
		return time.Time{}, fmt.Errorf("bad expiry year in %q", label)
	}
	return ThirdFriday(2000+yy, m), nil
}
