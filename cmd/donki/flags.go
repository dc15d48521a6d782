package main

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abelbrown/spaceweather/internal/donki"
	"github.com/abelbrown/spaceweather/internal/week"
)

// listFlags are the filters shared by the listing commands.
type listFlags struct {
	week  string
	types []string
	from  string
	to    string
	pages int
}

func (f *listFlags) register(cmd *cobra.Command, typesHelp string) {
	cmd.Flags().StringVar(&f.week, "week", "", "list only the week containing this day (YYYY-MM-DD)")
	cmd.Flags().StringSliceVar(&f.types, "types", nil, typesHelp)
	cmd.Flags().StringVar(&f.from, "from", "", "first day of the date range (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.to, "to", "", "last day of the date range (YYYY-MM-DD)")
	cmd.Flags().IntVar(&f.pages, "pages", 1, "number of weeks to list, newest first")
}

// dateRange returns the --from/--to range, nil when neither is set.
func (f *listFlags) dateRange() (*week.DateRange, error) {
	if f.from == "" && f.to == "" {
		return nil, nil
	}
	if f.from == "" || f.to == "" {
		return nil, errors.New("--from and --to must be used together")
	}
	r, err := week.ParseDays(f.from, f.to)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// singleWeek returns the --week week, if set.
func (f *listFlags) singleWeek() (week.Week, bool, error) {
	if f.week == "" {
		return week.Week{}, false, nil
	}
	w, err := week.Parse(f.week)
	return w, err == nil, err
}

func (f *listFlags) eventTypes(defaults []donki.EventType) ([]donki.EventType, error) {
	if len(f.types) == 0 {
		return defaults, nil
	}
	out := make([]donki.EventType, 0, len(f.types))
	for _, s := range f.types {
		t, err := donki.ParseEventType(strings.ToUpper(strings.TrimSpace(s)))
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (f *listFlags) notificationTypes() ([]donki.NotificationType, error) {
	if len(f.types) == 0 {
		return donki.NotificationTypes(), nil
	}
	out := make([]donki.NotificationType, 0, len(f.types))
next:
	for _, s := range f.types {
		s = strings.TrimSpace(s)
		for _, t := range donki.NotificationTypes() {
			if strings.EqualFold(string(t), s) {
				out = append(out, t)
				continue next
			}
		}
		_, err := donki.ParseNotificationType(s)
		return nil, err
	}
	return out, nil
}
