package refresh

import "time"

// State summarises whether any cached week needs refreshing.
type State int

const (
	// DontNeedToRefresh means no cached week is stale.
	DontNeedToRefresh State = iota
	// HaveWeeksThatNeedRefreshButAllCachedRecently means every stale week
	// was loaded within RecentlyCachedInterval.
	HaveWeeksThatNeedRefreshButAllCachedRecently
	// HaveWeeksThatNeedRefreshNow means at least one stale week is older.
	HaveWeeksThatNeedRefreshNow
)

func (s State) String() string {
	switch s {
	case HaveWeeksThatNeedRefreshButAllCachedRecently:
		return "all-cached-recently"
	case HaveWeeksThatNeedRefreshNow:
		return "need-refresh-now"
	default:
		return "up-to-date"
	}
}

// StateOf classifies the weeks that need refreshing.
func StateOf(weeks []CachedWeek) State {
	if len(weeks) == 0 {
		return DontNeedToRefresh
	}
	for _, w := range weeks {
		if !w.CachedRecently {
			return HaveWeeksThatNeedRefreshNow
		}
	}
	return HaveWeeksThatNeedRefreshButAllCachedRecently
}

// NextTransition returns when the state of weeks will next change without a
// write: the earliest instant after now at which a cached-recently week
// stops being recent. ok is false when no such instant exists.
func NextTransition(weeks []CachedWeek, now time.Time) (at time.Time, ok bool) {
	for _, w := range weeks {
		if !w.CachedRecently {
			continue
		}
		t := w.LoadTime.Add(RecentlyCachedInterval)
		if !t.After(now) {
			continue
		}
		if !ok || t.Before(at) {
			at, ok = t, true
		}
	}
	return at, ok
}

// ExcludeCachedRecently returns the weeks not loaded within
// RecentlyCachedInterval.
func ExcludeCachedRecently(weeks []CachedWeek) []CachedWeek {
	var out []CachedWeek
	for _, w := range weeks {
		if !w.CachedRecently {
			out = append(out, w)
		}
	}
	return out
}
