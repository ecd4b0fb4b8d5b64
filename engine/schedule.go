package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var scheduleParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow,
)

// parseScheduleUTC parses a five-field cron expression for the optional
// aligned-schedule mode. Expressions are evaluated in UTC; timezone
// prefixes are rejected.
func parseScheduleUTC(expr string) (cron.Schedule, error) {
	clean := strings.TrimSpace(expr)
	if clean == "" {
		return nil, fmt.Errorf("schedule expression is required")
	}

	upper := strings.ToUpper(clean)
	if strings.Contains(upper, "CRON_TZ=") || strings.Contains(upper, "TZ=") {
		return nil, fmt.Errorf("schedule expression must be UTC-only (timezone prefixes are not allowed)")
	}

	schedule, err := scheduleParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule expression: %w", err)
	}
	return schedule, nil
}

func nextAlignedRunUTC(schedule cron.Schedule, now time.Time) time.Time {
	return schedule.Next(now.UTC())
}
