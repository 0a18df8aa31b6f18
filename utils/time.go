package utils

import (
	"time"
	_ "time/tzdata"
)

// ToShopTime converts t to the shop's timezone, falling back to UTC when the
// zone is unknown.
func ToShopTime(t time.Time, tz string) time.Time {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return t.UTC()
	}
	return t.In(loc)
}

// FormatAppointmentTime renders a start time the way reminder emails show it.
func FormatAppointmentTime(t time.Time, tz string) string {
	return ToShopTime(t, tz).Format("Monday, January 2 at 3:04 PM MST")
}
