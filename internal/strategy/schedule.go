package strategy

import (
	"github.com/eddiefleurent/scranton_condor/internal/models"
)

// InEntryWindow reports whether new entries are allowed at the snapshot.
// Daily bars are checked against the weekday only; intraday snapshots must
// also fall inside [EntryStart, EntryEnd] in the configured location.
func (c Config) InEntryWindow(s models.MarketSnapshot) bool {
	t := s.Time.In(c.location())
	day := t.Weekday()
	if s.IsDaily() {
		day = s.Date.Weekday()
	}
	if len(c.EntryDays) > 0 {
		allowed := false
		for _, d := range c.EntryDays {
			if d == day {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	if s.IsDaily() {
		return true
	}

	// zero-padded HH:MM strings order the same as the times they name
	hhmm := t.Format("15:04")
	if c.EntryStart != "" && hhmm < c.EntryStart {
		return false
	}
	if c.EntryEnd != "" && hhmm > c.EntryEnd {
		return false
	}
	return true
}
