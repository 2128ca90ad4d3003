package cron

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"strings"
	"time"

	rcron "github.com/robfig/cron/v3"
)

var parser = rcron.NewParser(
	rcron.SecondOptional | rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor,
)

// Parse accepts a plain duration ("1h"), a descriptor ("@every 30m",
// "@hourly") or a cron expression with an optional seconds field.
func Parse(spec string) (rcron.Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("empty schedule")
	}
	if d, err := time.ParseDuration(spec); err == nil {
		if d < time.Second {
			return nil, fmt.Errorf("schedule %q: interval must be at least 1s", spec)
		}
		return rcron.Every(d), nil
	}
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("schedule %q: %w", spec, err)
	}
	return sched, nil
}

// Loop runs cycle, waits until the schedule's next activation measured from
// the end of the cycle, and repeats. Cancelling ctx stops the loop at the top
// of the next iteration or during the wait; a running cycle is never
// interrupted, it gets a context that is detached from ctx's cancellation.
func Loop(ctx context.Context, name string, sched rcron.Schedule, cycle func(ctx context.Context)) {
	LoopWithClock(ctx, name, sched, cycle, time.Now)
}

// LoopWithClock is Loop with an injectable clock.
func LoopWithClock(ctx context.Context, name string, sched rcron.Schedule, cycle func(ctx context.Context), now func() time.Time) {
	log.Printf("[cron] %s loop started", name)
	defer log.Printf("[cron] %s loop stopped", name)

	cycleCtx := context.WithoutCancel(ctx)
	for {
		if ctx.Err() != nil {
			return
		}
		runCycle(cycleCtx, name, cycle)

		wait := sched.Next(now()).Sub(now())
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

func runCycle(ctx context.Context, name string, cycle func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[cron] %s cycle panicked: %v\n%s", name, r, debug.Stack())
		}
	}()
	cycle(ctx)
}
