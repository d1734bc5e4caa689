package payouts

import (
	"time"

	"github.com/mercato/mercato-backend/pkg/enums"
	pkgerrors "github.com/mercato/mercato-backend/pkg/errors"
)

// NextRun returns the first run boundary strictly after `after`, at 00:00 UTC.
func NextRun(frequency enums.PayoutFrequency, weekday, dayOfMonth *int, after time.Time) time.Time {
	after = after.UTC()
	midnight := time.Date(after.Year(), after.Month(), after.Day(), 0, 0, 0, 0, time.UTC)
	switch frequency {
	case enums.PayoutFrequencyWeekly:
		target := time.Monday
		if weekday != nil {
			target = time.Weekday(*weekday)
		}
		days := (int(target) - int(midnight.Weekday()) + 7) % 7
		if days == 0 {
			days = 7
		}
		return midnight.AddDate(0, 0, days)
	case enums.PayoutFrequencyMonthly:
		day := 1
		if dayOfMonth != nil {
			day = *dayOfMonth
		}
		candidate := time.Date(after.Year(), after.Month(), day, 0, 0, 0, 0, time.UTC)
		if !candidate.After(after) {
			candidate = time.Date(after.Year(), after.Month()+1, day, 0, 0, 0, 0, time.UTC)
		}
		return candidate
	default:
		return midnight.AddDate(0, 0, 1)
	}
}

// ScheduleInput configures a store's payout cadence.
type ScheduleInput struct {
	Frequency    enums.PayoutFrequency
	Weekday      *int
	DayOfMonth   *int
	MinimumCents int64
	Active       *bool
}

func (in ScheduleInput) validate() error {
	if !in.Frequency.IsValid() {
		return pkgerrors.Newf(pkgerrors.CodeValidation, "unknown payout frequency %q", in.Frequency)
	}
	if in.MinimumCents < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "minimum must not be negative")
	}
	switch in.Frequency {
	case enums.PayoutFrequencyWeekly:
		if in.Weekday == nil || *in.Weekday < 0 || *in.Weekday > 6 {
			return pkgerrors.New(pkgerrors.CodeValidation, "weekly schedules need a weekday between 0 and 6")
		}
	case enums.PayoutFrequencyMonthly:
		// capped at 28 so every month has the day
		if in.DayOfMonth == nil || *in.DayOfMonth < 1 || *in.DayOfMonth > 28 {
			return pkgerrors.New(pkgerrors.CodeValidation, "monthly schedules need a day of month between 1 and 28")
		}
	}
	return nil
}
