package calendar

// GraceDays is the longest gap, in whole days, between the last active day and today that
// still keeps a streak alive. Break detection and live-streak anchoring both derive from it.
const GraceDays = 1

// WithinGrace reports whether a streak whose last active day is last is still alive on today.
func WithinGrace(last, today Date) bool {
	gap := today.DaysSince(last)
	return gap >= 0 && gap <= GraceDays
}

// Breaks reports whether logging on today ends the streak that finished on last.
func Breaks(last, today Date) bool {
	return today.DaysSince(last) > GraceDays
}

// AnchorCandidates lists the days, most recent first, that may anchor a live streak on today.
func AnchorCandidates(today Date) []Date {
	out := make([]Date, 0, GraceDays+1)
	for i := 0; i <= GraceDays; i++ {
		out = append(out, today.AddDays(-i))
	}
	return out
}

// RunEndingAt walks backward from end while has reports activity on the preceding day.
// end itself is counted unconditionally; callers pass a day known to be active.
func RunEndingAt(has func(Date) (bool, error), end Date) (Date, int, error) {
	start, length := end, 1
	for {
		prev := start.AddDays(-1)
		ok, err := has(prev)
		if err != nil {
			return Date{}, 0, err
		}
		if !ok {
			return start, length, nil
		}
		start = prev
		length++
	}
}
