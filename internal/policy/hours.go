package policy

import (
	"time"
	_ "time/tzdata"

	"github.com/callcatcherops/autonomy/internal/config"
	"github.com/callcatcherops/autonomy/internal/hygiene"
)

// InBusinessHours reports whether now falls inside the lead's local working
// hours. The zone comes from the lead's state, else h.DefaultTimezone, else
// UTC.
func InBusinessHours(now time.Time, state string, h config.BusinessHours) bool {
	if h.StartHour == 0 && h.EndHour == 0 {
		return true
	}
	local := now.In(leadLocation(state, h.DefaultTimezone))
	if !h.AllowWeekends {
		if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
			return false
		}
	}
	hour := local.Hour()
	return hour >= h.StartHour && hour < h.EndHour
}

func leadLocation(state, fallback string) *time.Location {
	for _, name := range []string{hygiene.StateTimezone(state), fallback} {
		if name == "" {
			continue
		}
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	return time.UTC
}
