package session

import (
	"fmt"
	"time"
)

const (
	day   = 24 * time.Hour
	month = 30 * day
	year  = time.Duration(365.25 * float64(day))
)

// FormatElapsed renders d as YY:MM:DD:HH:MM:SS:mmm, with 30-day months and
// 365.25-day years.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	years := d / year
	d %= year
	months := d / month
	d %= month
	days := d / day
	d %= day
	hours := d / time.Hour
	d %= time.Hour
	minutes := d / time.Minute
	d %= time.Minute
	seconds := d / time.Second
	d %= time.Second
	millis := d / time.Millisecond

	return fmt.Sprintf("%02d:%02d:%02d:%02d:%02d:%02d:%03d",
		years, months, days, hours, minutes, seconds, millis)
}
