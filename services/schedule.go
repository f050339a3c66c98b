package services

import (
	"time"

	"carebell-backend/models"
	"carebell-backend/utils"
)

// NextDue returns the next instant rem should fire given its latest
// occurrence, and false when nothing is due at now.
//
// A reminder with no occurrence yet is due at its start. A recurring one is
// due one period after the latest occurrence, so a service that was down
// catches up one slot per call instead of flooding the recipient. The end
// date is inclusive through the end of that day in now's location.
func NextDue(rem models.Reminder, latest *models.ReminderOccurrence, now time.Time) (time.Time, bool) {
	if !rem.IsActive {
		return time.Time{}, false
	}

	start := utils.NormalizeTimestamp(rem.StartAt)
	if start.After(now) {
		return time.Time{}, false
	}

	if rem.EndDate != nil {
		y, m, d := rem.EndDate.Date()
		last := utils.EndOfDay(time.Date(y, m, d, 0, 0, 0, 0, now.Location()))
		if last.Before(now) {
			return time.Time{}, false
		}
	}

	period := rem.Period()
	if latest == nil {
		return start, true
	}
	if period == 0 {
		// one-shot reminders fire once
		return time.Time{}, false
	}

	next := utils.NormalizeTimestamp(latest.ScheduledAt).Add(period)
	if next.After(now) {
		return time.Time{}, false
	}
	return next, true
}
