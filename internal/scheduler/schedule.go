package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var everyPattern = regexp.MustCompile(`^every\s+(\d+\s*)?(second|minute|hour|day)s?$`)

var everyUnits = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
}

// ParseSchedule accepts "every N seconds|minutes|hours|days", a five-field
// cron expression, or a descriptor such as @hourly or @every 90s.
func ParseSchedule(spec string) (cron.Schedule, error) {
	s := strings.ToLower(strings.Join(strings.Fields(spec), " "))
	if s == "" {
		return nil, fmt.Errorf("%w: empty schedule", ErrBadTaskConfiguration)
	}

	if m := everyPattern.FindStringSubmatch(s); m != nil {
		n := 1
		if v := strings.TrimSpace(m[1]); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil || parsed <= 0 {
				return nil, fmt.Errorf("%w: bad interval in %q", ErrBadTaskConfiguration, spec)
			}
			n = parsed
		}
		return cron.Every(time.Duration(n) * everyUnits[m[2]]), nil
	}

	if strings.HasPrefix(s, "@") || len(strings.Fields(s)) == 5 {
		sched, err := cron.ParseStandard(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrBadTaskConfiguration, spec, err)
		}
		return sched, nil
	}
	return nil, fmt.Errorf("%w: unrecognized schedule %q", ErrBadTaskConfiguration, spec)
}
