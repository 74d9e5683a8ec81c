package icron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

type TriggerInfo struct {
	Next       time.Time
	Last       time.Time
	Expression string

	TimeSinceLast time.Duration
	TimeUntilNext time.Duration
}

var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour |
	cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Every renders an interval as an "@every" descriptor.
func Every(d time.Duration) string {
	return "@every " + d.String()
}

// Parse validates cronExpr, accepting both 6-field expressions and descriptors.
func Parse(cronExpr string) (cron.Schedule, error) {
	schedule, err := parser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

func GetTriggerInfo(cronExpr string, refTime time.Time) (*TriggerInfo, error) {
	schedule, err := Parse(cronExpr)
	if err != nil {
		return nil, err
	}

	info := &TriggerInfo{
		Expression: cronExpr,
		Next:       schedule.Next(refTime),
	}

	// Constant-delay schedules have no wall-clock anchor, so there is no previous fire time to find.
	if _, ok := schedule.(cron.ConstantDelaySchedule); !ok {
		info.Last = previous(schedule, refTime)
	}

	if !info.Last.IsZero() {
		info.TimeSinceLast = refTime.Sub(info.Last)
	}
	info.TimeUntilNext = info.Next.Sub(refTime)

	return info, nil
}

// FromEntry builds trigger info from a scheduled cron entry, which knows its real previous run.
func FromEntry(cronExpr string, entry cron.Entry, refTime time.Time) *TriggerInfo {
	info := &TriggerInfo{
		Expression: cronExpr,
		Next:       entry.Next,
		Last:       entry.Prev,
	}
	if !info.Last.IsZero() {
		info.TimeSinceLast = refTime.Sub(info.Last)
	}
	if !info.Next.IsZero() {
		info.TimeUntilNext = info.Next.Sub(refTime)
	}
	return info
}

func previous(schedule cron.Schedule, refTime time.Time) time.Time {
	searchStart := refTime.Add(-time.Minute)

	for i := range 366 * 24 {
		checkTime := searchStart.Add(-time.Duration(i) * time.Hour)
		candidateNext := schedule.Next(checkTime)

		if candidateNext.Before(refTime) ||
			candidateNext.Equal(refTime) {
			return candidateNext
		}
	}
	return time.Time{}
}
