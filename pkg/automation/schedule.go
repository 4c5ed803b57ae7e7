package automation

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule determines when a schedule-triggered automation fires next.
type Schedule interface {
	Next(from time.Time) time.Time
	String() string
}

// ParseSchedule parses a schedule expression into a Schedule. Supported
// forms:
//
//	every 5m            fixed interval (any time.ParseDuration string)
//	hourly :15          every hour at the given minute
//	daily 02:00         every day at the given time
//	weekly mon 09:00    every week on the given day and time
func ParseSchedule(expr string) (Schedule, error) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(expr)))
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidSchedule)
	}

	switch fields[0] {
	case "every":
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: %q wants the form \"every <duration>\"", ErrInvalidSchedule, expr)
		}
		d, err := time.ParseDuration(fields[1])
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("%w: bad interval in %q", ErrInvalidSchedule, expr)
		}
		return Every(d), nil

	case "hourly":
		if len(fields) != 2 || !strings.HasPrefix(fields[1], ":") {
			return nil, fmt.Errorf("%w: %q wants the form \"hourly :MM\"", ErrInvalidSchedule, expr)
		}
		minute, err := strconv.Atoi(strings.TrimPrefix(fields[1], ":"))
		if err != nil || minute < 0 || minute > 59 {
			return nil, fmt.Errorf("%w: bad minute in %q", ErrInvalidSchedule, expr)
		}
		return HourlyAt(minute), nil

	case "daily":
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: %q wants the form \"daily HH:MM\"", ErrInvalidSchedule, expr)
		}
		hour, minute, err := parseClock(fields[1])
		if err != nil {
			return nil, fmt.Errorf("%w: bad time in %q", ErrInvalidSchedule, expr)
		}
		return DailyAt(hour, minute), nil

	case "weekly":
		if len(fields) != 3 {
			return nil, fmt.Errorf("%w: %q wants the form \"weekly <day> HH:MM\"", ErrInvalidSchedule, expr)
		}
		weekday, ok := weekdays[fields[1]]
		if !ok {
			return nil, fmt.Errorf("%w: bad weekday in %q", ErrInvalidSchedule, expr)
		}
		hour, minute, err := parseClock(fields[2])
		if err != nil {
			return nil, fmt.Errorf("%w: bad time in %q", ErrInvalidSchedule, expr)
		}
		return WeeklyOn(weekday, hour, minute), nil
	}

	return nil, fmt.Errorf("%w: unknown form %q", ErrInvalidSchedule, expr)
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

func parseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}

// Every creates a schedule firing at a fixed interval
func Every(d time.Duration) Schedule {
	return intervalSchedule{every: d}
}

// HourlyAt creates a schedule firing every hour at the given minute
func HourlyAt(minute int) Schedule {
	return hourlySchedule{minute: minute}
}

// DailyAt creates a schedule firing daily at the given time
func DailyAt(hour, minute int) Schedule {
	return dailySchedule{hour: hour, minute: minute}
}

// WeeklyOn creates a schedule firing weekly on the given day and time
func WeeklyOn(weekday time.Weekday, hour, minute int) Schedule {
	return weeklySchedule{weekday: weekday, hour: hour, minute: minute}
}

type intervalSchedule struct {
	every time.Duration
}

func (s intervalSchedule) Next(from time.Time) time.Time {
	return from.Add(s.every)
}

func (s intervalSchedule) String() string {
	return fmt.Sprintf("every %v", s.every)
}

type hourlySchedule struct {
	minute int
}

func (s hourlySchedule) Next(from time.Time) time.Time {
	next := time.Date(
		from.Year(), from.Month(), from.Day(),
		from.Hour(), s.minute, 0, 0, from.Location(),
	)
	if !next.After(from) {
		next = next.Add(time.Hour)
	}
	return next
}

func (s hourlySchedule) String() string {
	return fmt.Sprintf("hourly at :%02d", s.minute)
}

type dailySchedule struct {
	hour   int
	minute int
}

func (s dailySchedule) Next(from time.Time) time.Time {
	next := time.Date(
		from.Year(), from.Month(), from.Day(),
		s.hour, s.minute, 0, 0, from.Location(),
	)
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s dailySchedule) String() string {
	return fmt.Sprintf("daily at %02d:%02d", s.hour, s.minute)
}

type weeklySchedule struct {
	weekday time.Weekday
	hour    int
	minute  int
}

func (s weeklySchedule) Next(from time.Time) time.Time {
	// Days until the target weekday, with modulo handling week wraparound
	daysUntil := (int(s.weekday) - int(from.Weekday()) + 7) % 7

	next := from.AddDate(0, 0, daysUntil)
	next = time.Date(
		next.Year(), next.Month(), next.Day(),
		s.hour, s.minute, 0, 0, next.Location(),
	)

	if !next.After(from) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}

func (s weeklySchedule) String() string {
	return fmt.Sprintf("weekly on %s at %02d:%02d", s.weekday, s.hour, s.minute)
}
