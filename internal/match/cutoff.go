package match

import "time"

// NextSendTime returns the next daily delivery cutoff strictly after the
// detection instant: same day if detected before the cutoff hour,
// otherwise the following day.
func NextSendTime(detected time.Time, hour, minute int, loc *time.Location) time.Time {
	local := detected.In(loc)
	cutoff := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !cutoff.After(local) {
		cutoff = cutoff.AddDate(0, 0, 1)
	}
	return cutoff
}
