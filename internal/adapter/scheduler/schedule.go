package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ClockTime представляет время суток (часы и минуты) без даты и часового пояса.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClock разбирает время в формате "HH:MM" (24 часа).
func ParseClock(s string) (ClockTime, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return ClockTime{}, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return ClockTime{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || len(mm) != 2 || m < 0 || m > 59 {
		return ClockTime{}, fmt.Errorf("invalid minute in %q", s)
	}
	return ClockTime{Hour: h, Minute: m}, nil
}

// ParseClocks разбирает список времён суток.
func ParseClocks(values []string) ([]ClockTime, error) {
	out := make([]ClockTime, 0, len(values))
	for _, v := range values {
		c, err := ParseClock(v)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// String возвращает время в формате "HH:MM".
func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Label возвращает время в 12-часовом формате, например "6:30 PM".
func (c ClockTime) Label() string {
	return time.Date(2000, 1, 1, c.Hour, c.Minute, 0, 0, time.UTC).Format("3:04 PM")
}

// cronParser разбирает стандартные 5-польные выражения.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// DailySchedule - фиксированный список времён суток в каноническом часовом поясе.
// Для каждого времени строится cron-расписание "M H * * *"; ближайший запуск -
// минимум по всем расписаниям.
type DailySchedule struct {
	loc   *time.Location
	times []ClockTime
	specs []cron.Schedule
}

// NewDailySchedule создает расписание. Список времён не может быть пустым.
func NewDailySchedule(loc *time.Location, times []ClockTime) (*DailySchedule, error) {
	if loc == nil {
		return nil, errors.New("schedule location is required")
	}
	if len(times) == 0 {
		return nil, errors.New("at least one run time is required")
	}

	specs := make([]cron.Schedule, 0, len(times))
	for _, t := range times {
		spec, err := cronParser.Parse(fmt.Sprintf("%d %d * * *", t.Minute, t.Hour))
		if err != nil {
			return nil, fmt.Errorf("run time %s: %w", t, err)
		}
		specs = append(specs, spec)
	}

	return &DailySchedule{
		loc:   loc,
		times: append([]ClockTime(nil), times...),
		specs: specs,
	}, nil
}

// Next возвращает ближайший момент запуска строго после now.
// Вычисление выполняется в каноническом поясе; результат в поясе now.
func (d *DailySchedule) Next(now time.Time) time.Time {
	local := now.In(d.loc)
	var next time.Time
	for _, spec := range d.specs {
		// расписание без CRON_TZ считает в поясе переданного времени
		candidate := spec.Next(local)
		if candidate.IsZero() {
			continue
		}
		if next.IsZero() || candidate.Before(next) {
			next = candidate
		}
	}
	return next.In(now.Location())
}

// Until возвращает ожидание до ближайшего запуска, не меньше нуля.
func (d *DailySchedule) Until(now time.Time) time.Duration {
	wait := d.Next(now).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// Location возвращает канонический часовой пояс.
func (d *DailySchedule) Location() *time.Location {
	return d.loc
}

// Times возвращает копию настроенных времён.
func (d *DailySchedule) Times() []ClockTime {
	return append([]ClockTime(nil), d.times...)
}

// Labels возвращает времена в человекочитаемом виде, упорядоченные по времени суток.
func (d *DailySchedule) Labels() []string {
	sorted := d.Times()
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].minutes() < sorted[j].minutes() })
	out := make([]string, 0, len(sorted))
	for _, t := range sorted {
		out = append(out, t.Label())
	}
	return out
}

func (c ClockTime) minutes() int {
	return c.Hour*60 + c.Minute
}
